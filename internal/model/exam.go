package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// ExamDefinition is the read-only view of an exam consumed by the attempt engine.
type ExamDefinition struct {
	ID                   uuid.UUID     `json:"id"`
	Title                string        `json:"title"`
	Status               ExamStatus    `json:"status"`
	AvailableFrom        *time.Time    `json:"available_from,omitempty"`
	AvailableUntil       *time.Time    `json:"available_until,omitempty"`
	DurationSeconds      int           `json:"duration_seconds"` // 0 = unlimited
	PassingScorePercent  float64       `json:"passing_score_percent"`
	MaxAttempts          int           `json:"max_attempts"` // 0 = unlimited
	ShuffleQuestions     bool          `json:"shuffle_questions"`
	ShuffleAnswerOptions bool          `json:"shuffle_answer_options"`
	AllowRetake          bool          `json:"allow_retake"`
	RequireAllAnswered   bool          `json:"require_all_answered"`
	Questions            []QuestionRef `json:"questions"`
}

// QuestionRef places a bank question inside an exam.
type QuestionRef struct {
	QuestionID uuid.UUID `json:"question_id"`
	Points     int       `json:"points"`
	Order      int       `json:"order"`
}

// IsAvailableAt reports whether students may start the exam at t.
func (e *ExamDefinition) IsAvailableAt(t time.Time) bool {
	if e.Status != ExamStatusPublished {
		return false
	}
	if e.AvailableFrom != nil && t.Before(*e.AvailableFrom) {
		return false
	}
	if e.AvailableUntil != nil && !t.Before(*e.AvailableUntil) {
		return false
	}
	return true
}

// EffectiveMaxAttempts folds AllowRetake into the attempt limit. 0 means unlimited.
func (e *ExamDefinition) EffectiveMaxAttempts() int {
	if !e.AllowRetake {
		return 1
	}
	return e.MaxAttempts
}

// Duration returns the time limit, or 0 when the exam is untimed.
func (e *ExamDefinition) Duration() time.Duration {
	return time.Duration(e.DurationSeconds) * time.Second
}

// Ref returns the exam's reference to questionID.
func (e *ExamDefinition) Ref(questionID uuid.UUID) (QuestionRef, bool) {
	for _, r := range e.Questions {
		if r.QuestionID == questionID {
			return r, true
		}
	}
	return QuestionRef{}, false
}

// QuestionIDs returns question ids in authored order.
func (e *ExamDefinition) QuestionIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(e.Questions))
	for i, r := range e.Questions {
		ids[i] = r.QuestionID
	}
	return ids
}
