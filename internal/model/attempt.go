package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states. IN_PROGRESS is the only non-terminal one.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
	AttemptStatusExpired    AttemptStatus = "EXPIRED"
	AttemptStatusAbandoned  AttemptStatus = "ABANDONED"
)

// IsTerminal reports whether no further transition is allowed.
func (s AttemptStatus) IsTerminal() bool {
	return s != AttemptStatusInProgress
}

// FinalizeTrigger names what caused an attempt to be finalized.
type FinalizeTrigger string

const (
	TriggerStudentSubmit  FinalizeTrigger = "STUDENT_SUBMIT"
	TriggerDeadlineExpiry FinalizeTrigger = "DEADLINE_EXPIRY"
	TriggerAdminAbandon   FinalizeTrigger = "ADMIN_ABANDON"
)

// TargetStatus maps a trigger to the terminal status it produces.
func (t FinalizeTrigger) TargetStatus() AttemptStatus {
	switch t {
	case TriggerDeadlineExpiry:
		return AttemptStatusExpired
	case TriggerAdminAbandon:
		return AttemptStatusAbandoned
	default:
		return AttemptStatusSubmitted
	}
}

// AnswerRecord is the latest answer a student gave to one question.
type AnswerRecord struct {
	SelectedOptionIDs []string  `json:"selected_option_ids,omitempty"`
	WrittenText       *string   `json:"written_text,omitempty"`
	AnsweredAt        time.Time `json:"answered_at"`
	TimeSpentSeconds  int       `json:"time_spent_seconds"`
}

// IsAnswered reports whether the record carries a usable answer.
func (a AnswerRecord) IsAnswered() bool {
	return len(a.SelectedOptionIDs) > 0 || (a.WrittenText != nil && *a.WrittenText != "")
}

// Attempt is one student's sitting of one exam.
type Attempt struct {
	ID                    uuid.UUID                  `json:"id"`
	ExamID                uuid.UUID                  `json:"exam_id"`
	StudentID             int                        `json:"student_id"`
	AttemptNumber         int                        `json:"attempt_number"`
	Status                AttemptStatus              `json:"status"`
	StartedAt             time.Time                  `json:"started_at"`
	DeadlineAt            *time.Time                 `json:"deadline_at,omitempty"`
	SubmittedAt           *time.Time                 `json:"submitted_at,omitempty"`
	Score                 *float64                   `json:"score,omitempty"`
	MaxScore              float64                    `json:"max_score"`
	Percentage            *float64                   `json:"percentage,omitempty"`
	Passed                *bool                      `json:"passed,omitempty"`
	RequiresManualGrading bool                       `json:"requires_manual_grading"`
	QuestionOrder         []uuid.UUID                `json:"question_order"`
	OptionOrder           map[uuid.UUID][]string     `json:"option_order,omitempty"`
	Answers               map[uuid.UUID]AnswerRecord `json:"answers,omitempty"`
}

// IsScored reports whether a score has been stored.
func (a *Attempt) IsScored() bool {
	return a.Score != nil
}

// RemainingSeconds recomputes the time left from server time, clamped to [0, duration].
// Returns nil for untimed attempts.
func (a *Attempt) RemainingSeconds(now time.Time, duration time.Duration) *int {
	if a.DeadlineAt == nil {
		return nil
	}
	remaining := a.DeadlineAt.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	if duration > 0 && remaining > duration {
		remaining = duration
	}
	secs := int(remaining / time.Second)
	return &secs
}

// IsPastDeadline reports whether now is at or after the deadline.
func (a *Attempt) IsPastDeadline(now time.Time) bool {
	return a.DeadlineAt != nil && !now.Before(*a.DeadlineAt)
}

// AnswerPayload is a single answer submission.
type AnswerPayload struct {
	SelectedOptionIDs []string `json:"selected_option_ids"`
	WrittenText       *string  `json:"written_text"`
	TimeSpentSeconds  int      `json:"time_spent_seconds"`
}

// DeadlineEntry is a pending deadline handed to the scheduler on recovery.
type DeadlineEntry struct {
	AttemptID  uuid.UUID
	DeadlineAt time.Time
}

// QuestionScore is the per-question scoring breakdown.
type QuestionScore struct {
	QuestionID            uuid.UUID `json:"question_id"`
	Earned                float64   `json:"earned"`
	Possible              float64   `json:"possible"`
	Correct               *bool     `json:"correct,omitempty"`
	RequiresManualGrading bool      `json:"requires_manual_grading"`
}

// ScoreResult is the output of the scoring engine.
type ScoreResult struct {
	Score                 float64         `json:"score"`
	MaxScore              float64         `json:"max_score"`
	Percentage            float64         `json:"percentage"`
	Passed                bool            `json:"passed"`
	RequiresManualGrading bool            `json:"requires_manual_grading"`
	Breakdown             []QuestionScore `json:"breakdown"`
}

// AttemptView is what a student receives on start or resume.
type AttemptView struct {
	AttemptID        uuid.UUID                  `json:"attempt_id"`
	ExamID           uuid.UUID                  `json:"exam_id"`
	Title            string                     `json:"title"`
	AttemptNumber    int                        `json:"attempt_number"`
	Status           AttemptStatus              `json:"status"`
	StartedAt        time.Time                  `json:"started_at"`
	DeadlineAt       *time.Time                 `json:"deadline_at,omitempty"`
	RemainingSeconds *int                       `json:"remaining_seconds"`
	Questions        []QuestionForStudent       `json:"questions"`
	Answers          map[uuid.UUID]AnswerRecord `json:"answers"`
	Resumed          bool                       `json:"resumed"`
	// Result is set when the resumed attempt had to be expired.
	Result *ScoredAttempt `json:"result,omitempty"`
}

// ScoredAttempt is the stored result of a finalized attempt.
type ScoredAttempt struct {
	AttemptID             uuid.UUID     `json:"attempt_id"`
	Status                AttemptStatus `json:"status"`
	Score                 float64       `json:"score"`
	MaxScore              float64       `json:"max_score"`
	Percentage            float64       `json:"percentage"`
	Passed                bool          `json:"passed"`
	RequiresManualGrading bool          `json:"requires_manual_grading"`
	SubmittedAt           *time.Time    `json:"submitted_at,omitempty"`
}

// AttemptStatusView answers "how much time do I have left".
type AttemptStatusView struct {
	AttemptID        uuid.UUID      `json:"attempt_id"`
	ExamID           uuid.UUID      `json:"exam_id"`
	StudentID        int            `json:"-"`
	Status           AttemptStatus  `json:"status"`
	RemainingSeconds *int           `json:"remaining_seconds"`
	DeadlineAt       *time.Time     `json:"deadline_at,omitempty"`
	AnsweredCount    int            `json:"answered_count"`
	QuestionCount    int            `json:"question_count"`
	Result           *ScoredAttempt `json:"result,omitempty"`
}

// SubmitAnswerRequest is the HTTP payload for saving one answer.
type SubmitAnswerRequest struct {
	QuestionID        string   `json:"question_id" binding:"required,uuid"`
	SelectedOptionIDs []string `json:"selected_option_ids" binding:"omitempty,max=32,unique,dive,required,option_id"`
	WrittenText       *string  `json:"written_text" binding:"omitempty,max=20000"`
	TimeSpentSeconds  int      `json:"time_spent_seconds" binding:"min=0"`
}

// Payload converts the request into the lifecycle manager's answer payload.
func (r SubmitAnswerRequest) Payload() AnswerPayload {
	return AnswerPayload{
		SelectedOptionIDs: r.SelectedOptionIDs,
		WrittenText:       r.WrittenText,
		TimeSpentSeconds:  r.TimeSpentSeconds,
	}
}

// AttemptURI binds the :attempt_id path parameter.
type AttemptURI struct {
	AttemptID string `uri:"attempt_id" binding:"required,uuid"`
}

// ExamURI binds the :exam_id path parameter.
type ExamURI struct {
	ExamID string `uri:"exam_id" binding:"required,uuid"`
}
