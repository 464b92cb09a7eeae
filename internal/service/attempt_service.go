package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/events"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/repository"
	"github.com/stemsi/exstem-attempts/internal/scoring"
)

// DeadlineRegistry is the part of the deadline scheduler the lifecycle manager drives.
type DeadlineRegistry interface {
	Register(attemptID uuid.UUID, deadlineAt time.Time)
	Deregister(attemptID uuid.UUID)
}

// EventSink receives lifecycle events. Publishing failures never fail the operation.
type EventSink interface {
	AttemptStarted(ctx context.Context, ev events.AttemptStarted) error
	AttemptFinalized(ctx context.Context, ev events.AttemptFinalized) error
}

// AttemptService owns the attempt lifecycle: start or resume, answer recording and
// exactly-once finalization.
type AttemptService struct {
	attempts  repository.AttemptRepository
	exams     repository.ExamStore
	deadlines DeadlineRegistry
	events    EventSink
	log       zerolog.Logger
	now       func() time.Time
	shuffle   func(n int, swap func(i, j int))
}

// Option customizes an AttemptService.
type Option func(*AttemptService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *AttemptService) { s.now = now }
}

// WithShuffle overrides the permutation used for question and option shuffling.
func WithShuffle(shuffle func(n int, swap func(i, j int))) Option {
	return func(s *AttemptService) { s.shuffle = shuffle }
}

// NewAttemptService creates a new AttemptService. sink may be nil.
func NewAttemptService(
	attempts repository.AttemptRepository,
	exams repository.ExamStore,
	deadlines DeadlineRegistry,
	sink EventSink,
	log zerolog.Logger,
	opts ...Option,
) *AttemptService {
	s := &AttemptService{
		attempts:  attempts,
		exams:     exams,
		deadlines: deadlines,
		events:    sink,
		log:       log.With().Str("component", "attempt_service").Logger(),
		now:       time.Now,
		shuffle:   rand.Shuffle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─── Start / Resume ────────────────────────────────────────────────────

// StartOrResume returns the student's active attempt for the exam, creating one if none exists.
// An active attempt whose deadline already passed is expired and returned with its result.
func (s *AttemptService) StartOrResume(ctx context.Context, examID uuid.UUID, studentID int) (*model.AttemptView, error) {
	exam, questions, err := s.loadExam(ctx, examID)
	if err != nil {
		return nil, err
	}

	existing, err := s.attempts.GetActive(ctx, examID, studentID)
	switch {
	case err == nil:
		now := s.now()
		if !existing.IsPastDeadline(now) {
			return s.buildView(existing, exam, questions, now, true), nil
		}
		return s.expireOnResume(ctx, existing, exam, questions, now)
	case errors.Is(err, repository.ErrAttemptNotFound):
	default:
		return nil, fmt.Errorf("get active attempt: %w", err)
	}

	now := s.now()
	if !exam.IsAvailableAt(now) {
		return nil, ErrAttemptNotAllowed
	}

	count, err := s.attempts.CountAttempts(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	if limit := exam.EffectiveMaxAttempts(); limit > 0 && count >= limit {
		return nil, ErrAttemptLimitReached
	}

	a := &model.Attempt{
		ID:        uuid.New(),
		ExamID:    examID,
		StudentID: studentID,
		StartedAt: now,
	}
	if d := exam.Duration(); d > 0 {
		deadline := now.Add(d)
		a.DeadlineAt = &deadline
	}
	a.QuestionOrder, a.OptionOrder = s.arrange(exam, questions)

	stored, created, err := s.attempts.CreateIfNoActive(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	if created {
		if stored.DeadlineAt != nil {
			s.deadlines.Register(stored.ID, *stored.DeadlineAt)
		}
		s.log.Info().
			Str("attempt_id", stored.ID.String()).
			Str("exam_id", examID.String()).
			Int("student_id", studentID).
			Int("attempt_number", stored.AttemptNumber).
			Msg("Attempt started")
		s.publishStarted(ctx, stored)
	}

	return s.buildView(stored, exam, questions, s.now(), !created), nil
}

// expireOnResume finalizes an attempt found past its deadline and returns it with its
// result. A new attempt is only created by a later start.
func (s *AttemptService) expireOnResume(ctx context.Context, a *model.Attempt, exam *model.ExamDefinition, questions map[uuid.UUID]model.QuestionDefinition, now time.Time) (*model.AttemptView, error) {
	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Int("student_id", a.StudentID).
		Msg("Active attempt overdue on resume, expiring")

	result, err := s.Finalize(ctx, a.ID, model.TriggerDeadlineExpiry)
	if err != nil {
		return nil, fmt.Errorf("expire overdue attempt: %w", err)
	}
	expired, err := s.attempts.GetByID(ctx, a.ID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	view := s.buildView(expired, exam, questions, now, true)
	view.Result = result
	return view, nil
}

// arrange fixes the question and option order for a new attempt.
func (s *AttemptService) arrange(exam *model.ExamDefinition, questions map[uuid.UUID]model.QuestionDefinition) ([]uuid.UUID, map[uuid.UUID][]string) {
	refs := append([]model.QuestionRef(nil), exam.Questions...)
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Order < refs[j].Order })

	order := make([]uuid.UUID, len(refs))
	for i, r := range refs {
		order[i] = r.QuestionID
	}
	if exam.ShuffleQuestions {
		s.shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	options := make(map[uuid.UUID][]string, len(order))
	for _, id := range order {
		q, ok := questions[id]
		if !ok || len(q.Options) == 0 {
			continue
		}
		ids := make([]string, len(q.Options))
		for i, o := range q.Options {
			ids[i] = o.ID
		}
		if exam.ShuffleAnswerOptions && q.Type != model.QuestionTypeTrueFalse {
			s.shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		}
		options[id] = ids
	}
	return order, options
}

func (s *AttemptService) buildView(a *model.Attempt, exam *model.ExamDefinition, questions map[uuid.UUID]model.QuestionDefinition, now time.Time, resumed bool) *model.AttemptView {
	view := &model.AttemptView{
		AttemptID:        a.ID,
		ExamID:           a.ExamID,
		Title:            exam.Title,
		AttemptNumber:    a.AttemptNumber,
		Status:           a.Status,
		StartedAt:        a.StartedAt,
		DeadlineAt:       a.DeadlineAt,
		RemainingSeconds: remainingSeconds(a, now),
		Questions:        make([]model.QuestionForStudent, 0, len(a.QuestionOrder)),
		Answers:          a.Answers,
		Resumed:          resumed,
	}
	if view.Answers == nil {
		view.Answers = map[uuid.UUID]model.AnswerRecord{}
	}

	for i, id := range a.QuestionOrder {
		q, ok := questions[id]
		if !ok {
			continue
		}
		points := q.Points
		if ref, ok := exam.Ref(id); ok && ref.Points > 0 {
			points = ref.Points
		}
		view.Questions = append(view.Questions, model.QuestionForStudent{
			ID:       q.ID,
			Type:     q.Type,
			Text:     q.Text,
			Options:  studentOptions(q, a.OptionOrder[id]),
			Points:   points,
			OrderNum: i + 1,
		})
	}
	return view
}

// studentOptions strips the answer key and applies the attempt's option order.
func studentOptions(q model.QuestionDefinition, order []string) []model.OptionForStudent {
	if len(q.Options) == 0 {
		return nil
	}
	byID := make(map[string]model.Option, len(q.Options))
	for _, o := range q.Options {
		byID[o.ID] = o
	}

	out := make([]model.OptionForStudent, 0, len(q.Options))
	seen := make(map[string]bool, len(q.Options))
	for _, id := range order {
		if o, ok := byID[id]; ok && !seen[id] {
			out = append(out, model.OptionForStudent{ID: o.ID, Text: o.Text})
			seen[id] = true
		}
	}
	// Options added to the bank after the attempt started go last.
	for _, o := range q.Options {
		if !seen[o.ID] {
			out = append(out, model.OptionForStudent{ID: o.ID, Text: o.Text})
		}
	}
	return out
}

// ─── Answers ───────────────────────────────────────────────────────────

// RecordAnswer stores the student's latest answer to one question.
func (s *AttemptService) RecordAnswer(ctx context.Context, attemptID, questionID uuid.UUID, payload model.AnswerPayload) error {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("get attempt: %w", err)
	}

	now := s.now()
	if a.Status != model.AttemptStatusInProgress || a.IsPastDeadline(now) {
		return ErrAttemptNotActive
	}
	if !containsQuestion(a.QuestionOrder, questionID) {
		return ErrInvalidQuestion
	}

	questions, err := s.exams.GetQuestionDefinitions(ctx, a.ExamID)
	if err != nil {
		return fmt.Errorf("get questions: %w", err)
	}
	q, ok := questions[questionID]
	if !ok {
		return ErrInvalidQuestion
	}

	rec, err := normalizeAnswer(q, payload)
	if err != nil {
		return err
	}
	rec.AnsweredAt = now

	if err := s.attempts.UpsertAnswer(ctx, attemptID, questionID, rec); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}

	s.log.Debug().
		Str("attempt_id", attemptID.String()).
		Str("question_id", questionID.String()).
		Msg("Answer recorded")
	return nil
}

// normalizeAnswer checks the payload against the question type and dedupes the selection.
func normalizeAnswer(q model.QuestionDefinition, p model.AnswerPayload) (model.AnswerRecord, error) {
	rec := model.AnswerRecord{TimeSpentSeconds: p.TimeSpentSeconds}
	if rec.TimeSpentSeconds < 0 {
		rec.TimeSpentSeconds = 0
	}

	if !q.Type.IsAutoScored() {
		if len(p.SelectedOptionIDs) > 0 {
			return rec, ErrInvalidAnswer
		}
		rec.WrittenText = p.WrittenText
		return rec, nil
	}

	if p.WrittenText != nil && *p.WrittenText != "" {
		return rec, ErrInvalidAnswer
	}
	seen := make(map[string]bool, len(p.SelectedOptionIDs))
	for _, id := range p.SelectedOptionIDs {
		if !q.HasOption(id) {
			return rec, ErrInvalidAnswer
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		rec.SelectedOptionIDs = append(rec.SelectedOptionIDs, id)
	}
	return rec, nil
}

// ─── Finalization ──────────────────────────────────────────────────────

// Finalize moves the attempt to its terminal status and scores it. Exactly one caller wins
// the transition; every caller, winner or not, receives the same stored result.
// A student submit arriving after the deadline is treated as an expiry.
func (s *AttemptService) Finalize(ctx context.Context, attemptID uuid.UUID, trigger model.FinalizeTrigger) (*model.ScoredAttempt, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	now := s.now()
	if a.Status == model.AttemptStatusInProgress {
		if trigger == model.TriggerStudentSubmit && a.IsPastDeadline(now) {
			trigger = model.TriggerDeadlineExpiry
		}
		if trigger == model.TriggerStudentSubmit {
			if err := s.checkComplete(ctx, a); err != nil {
				return nil, err
			}
		}
	}

	won := false
	if a.Status == model.AttemptStatusInProgress {
		won, err = s.attempts.ClaimTerminal(ctx, attemptID, trigger.TargetStatus(), now)
		if err != nil {
			return nil, fmt.Errorf("claim attempt: %w", err)
		}
	}
	s.deadlines.Deregister(attemptID)

	result, err := s.ensureScored(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	if won {
		s.log.Info().
			Str("attempt_id", attemptID.String()).
			Str("trigger", string(trigger)).
			Str("status", string(result.Status)).
			Float64("score", result.Score).
			Float64("max_score", result.MaxScore).
			Bool("passed", result.Passed).
			Msg("Attempt finalized")
		s.publishFinalized(ctx, a, result, trigger)
	}
	return result, nil
}

// Expire finalizes an attempt whose deadline fired. Used by the deadline scheduler.
func (s *AttemptService) Expire(ctx context.Context, attemptID uuid.UUID) error {
	_, err := s.Finalize(ctx, attemptID, model.TriggerDeadlineExpiry)
	return err
}

// Abandon finalizes an attempt on an administrator's request.
func (s *AttemptService) Abandon(ctx context.Context, attemptID uuid.UUID) (*model.ScoredAttempt, error) {
	return s.Finalize(ctx, attemptID, model.TriggerAdminAbandon)
}

func (s *AttemptService) checkComplete(ctx context.Context, a *model.Attempt) error {
	exam, questions, err := s.loadExam(ctx, a.ExamID)
	if err != nil {
		return err
	}
	if !exam.RequireAllAnswered {
		return nil
	}
	for _, id := range a.QuestionOrder {
		q, ok := questions[id]
		if !ok || !q.Type.IsAutoScored() {
			continue
		}
		if !a.Answers[id].IsAnswered() {
			return ErrIncompleteSubmission
		}
	}
	return nil
}

// ensureScored returns the stored result, computing and storing it first if the
// attempt was claimed but not yet scored.
func (s *AttemptService) ensureScored(ctx context.Context, attemptID uuid.UUID) (*model.ScoredAttempt, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if !a.Status.IsTerminal() {
		return nil, ErrAttemptNotActive
	}
	if a.IsScored() {
		return scoredView(a), nil
	}

	exam, questions, err := s.loadExam(ctx, a.ExamID)
	if err != nil {
		return nil, err
	}
	if err := s.attempts.SaveScore(ctx, attemptID, scoring.Score(a, exam, questions)); err != nil {
		return nil, fmt.Errorf("save score: %w", err)
	}

	a, err = s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return scoredView(a), nil
}

// RecoverUnscored scores attempts that were claimed but left unscored, for example by a
// crash between the claim and the score write. Returns how many were repaired.
func (s *AttemptService) RecoverUnscored(ctx context.Context) (int, error) {
	ids, err := s.attempts.ListUnscored(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unscored: %w", err)
	}

	repaired := 0
	for _, id := range ids {
		result, err := s.ensureScored(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("attempt_id", id.String()).Msg("Rescore failed")
			continue
		}
		if a, err := s.attempts.GetByID(ctx, id); err == nil {
			s.publishFinalized(ctx, a, result, triggerFor(result.Status))
		}
		repaired++
	}
	if repaired > 0 {
		s.log.Info().Int("count", repaired).Msg("Unscored attempts repaired")
	}
	return repaired, nil
}

// ─── Queries ───────────────────────────────────────────────────────────

// GetStatus reports the attempt's status and server-computed remaining time.
func (s *AttemptService) GetStatus(ctx context.Context, attemptID uuid.UUID) (*model.AttemptStatusView, error) {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	view := &model.AttemptStatusView{
		AttemptID:     a.ID,
		ExamID:        a.ExamID,
		StudentID:     a.StudentID,
		Status:        a.Status,
		DeadlineAt:    a.DeadlineAt,
		QuestionCount: len(a.QuestionOrder),
	}
	for _, rec := range a.Answers {
		if rec.IsAnswered() {
			view.AnsweredCount++
		}
	}
	if a.Status.IsTerminal() {
		zero := 0
		view.RemainingSeconds = &zero
		if a.IsScored() {
			view.Result = scoredView(a)
		}
	} else {
		view.RemainingSeconds = remainingSeconds(a, s.now())
	}
	return view, nil
}

// AuthorizeAttempt checks that the attempt exists and belongs to studentID.
func (s *AttemptService) AuthorizeAttempt(ctx context.Context, attemptID uuid.UUID, studentID int) error {
	a, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("get attempt: %w", err)
	}
	if a.StudentID != studentID {
		return ErrNotAttemptOwner
	}
	return nil
}

// ─── Helpers ───────────────────────────────────────────────────────────

func (s *AttemptService) loadExam(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, map[uuid.UUID]model.QuestionDefinition, error) {
	exam, err := s.exams.GetExamDefinition(ctx, examID)
	if err != nil {
		return nil, nil, fmt.Errorf("get exam: %w", err)
	}
	questions, err := s.exams.GetQuestionDefinitions(ctx, examID)
	if err != nil {
		return nil, nil, fmt.Errorf("get questions: %w", err)
	}
	return exam, questions, nil
}

func (s *AttemptService) publishStarted(ctx context.Context, a *model.Attempt) {
	if s.events == nil {
		return
	}
	err := s.events.AttemptStarted(ctx, events.AttemptStarted{
		AttemptID:     a.ID,
		ExamID:        a.ExamID,
		StudentID:     a.StudentID,
		AttemptNumber: a.AttemptNumber,
		StartedAt:     a.StartedAt,
		DeadlineAt:    a.DeadlineAt,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Publish attempt started failed")
	}
}

func (s *AttemptService) publishFinalized(ctx context.Context, a *model.Attempt, r *model.ScoredAttempt, trigger model.FinalizeTrigger) {
	if s.events == nil {
		return
	}
	ev := events.AttemptFinalized{
		AttemptID:             a.ID,
		ExamID:                a.ExamID,
		StudentID:             a.StudentID,
		Status:                r.Status,
		Trigger:               trigger,
		Score:                 r.Score,
		MaxScore:              r.MaxScore,
		Percentage:            r.Percentage,
		Passed:                r.Passed,
		RequiresManualGrading: r.RequiresManualGrading,
	}
	if r.SubmittedAt != nil {
		ev.SubmittedAt = *r.SubmittedAt
	}
	if err := s.events.AttemptFinalized(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", a.ID.String()).Msg("Publish attempt finalized failed")
	}
}

func scoredView(a *model.Attempt) *model.ScoredAttempt {
	r := &model.ScoredAttempt{
		AttemptID:             a.ID,
		Status:                a.Status,
		MaxScore:              a.MaxScore,
		RequiresManualGrading: a.RequiresManualGrading,
		SubmittedAt:           a.SubmittedAt,
	}
	if a.Score != nil {
		r.Score = *a.Score
	}
	if a.Percentage != nil {
		r.Percentage = *a.Percentage
	}
	if a.Passed != nil {
		r.Passed = *a.Passed
	}
	return r
}

// remainingSeconds caps at the attempt's own time limit so later exam edits don't move it.
func remainingSeconds(a *model.Attempt, now time.Time) *int {
	if a.DeadlineAt == nil {
		return nil
	}
	return a.RemainingSeconds(now, a.DeadlineAt.Sub(a.StartedAt))
}

func triggerFor(status model.AttemptStatus) model.FinalizeTrigger {
	switch status {
	case model.AttemptStatusExpired:
		return model.TriggerDeadlineExpiry
	case model.AttemptStatusAbandoned:
		return model.TriggerAdminAbandon
	default:
		return model.TriggerStudentSubmit
	}
}

func containsQuestion(order []uuid.UUID, id uuid.UUID) bool {
	for _, q := range order {
		if q == id {
			return true
		}
	}
	return false
}
