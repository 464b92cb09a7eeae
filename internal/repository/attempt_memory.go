package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

type activeKey struct {
	examID    uuid.UUID
	studentID int
}

type memoryAttempt struct {
	mu sync.Mutex
	a  model.Attempt
}

// MemoryAttemptRepository is an in-process AttemptRepository. The index lock is held
// only for lookups and creation; mutations lock a single attempt.
type MemoryAttemptRepository struct {
	mu       sync.RWMutex
	attempts map[uuid.UUID]*memoryAttempt
	active   map[activeKey]uuid.UUID
	counts   map[activeKey]int
}

// NewMemoryAttemptRepository creates an empty MemoryAttemptRepository.
func NewMemoryAttemptRepository() *MemoryAttemptRepository {
	return &MemoryAttemptRepository{
		attempts: make(map[uuid.UUID]*memoryAttempt),
		active:   make(map[activeKey]uuid.UUID),
		counts:   make(map[activeKey]int),
	}
}

func (r *MemoryAttemptRepository) CreateIfNoActive(_ context.Context, a *model.Attempt) (*model.Attempt, bool, error) {
	key := activeKey{examID: a.ExamID, studentID: a.StudentID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.active[key]; ok {
		existing := r.attempts[id]
		existing.mu.Lock()
		live := existing.a.Status == model.AttemptStatusInProgress
		var c *model.Attempt
		if live {
			c = cloneAttempt(&existing.a)
		}
		existing.mu.Unlock()
		if live {
			return c, false, nil
		}
		delete(r.active, key)
	}

	stored := cloneAttempt(a)
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	stored.Status = model.AttemptStatusInProgress
	stored.AttemptNumber = r.counts[key] + 1
	if stored.Answers == nil {
		stored.Answers = make(map[uuid.UUID]model.AnswerRecord)
	}

	r.attempts[stored.ID] = &memoryAttempt{a: *stored}
	r.active[key] = stored.ID
	r.counts[key]++

	return cloneAttempt(stored), true, nil
}

func (r *MemoryAttemptRepository) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	m, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAttempt(&m.a), nil
}

func (r *MemoryAttemptRepository) GetActive(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	r.mu.RLock()
	id, ok := r.active[activeKey{examID: examID, studentID: studentID}]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrAttemptNotFound
	}
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptNotFound
	}
	return a, nil
}

func (r *MemoryAttemptRepository) CountAttempts(_ context.Context, examID uuid.UUID, studentID int) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts[activeKey{examID: examID, studentID: studentID}], nil
}

func (r *MemoryAttemptRepository) UpsertAnswer(_ context.Context, attemptID, questionID uuid.UUID, rec model.AnswerRecord) error {
	m, err := r.lookup(attemptID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.a.Status != model.AttemptStatusInProgress {
		return ErrAttemptNotActive
	}
	m.a.Answers[questionID] = cloneAnswer(rec)
	return nil
}

func (r *MemoryAttemptRepository) ClaimTerminal(_ context.Context, attemptID uuid.UUID, status model.AttemptStatus, at time.Time) (bool, error) {
	m, err := r.lookup(attemptID)
	if err != nil {
		return false, err
	}

	// Index before attempt, as in CreateIfNoActive, so the status flip and the
	// index removal are seen together.
	r.mu.Lock()
	defer r.mu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.a.Status != model.AttemptStatusInProgress {
		return false, nil
	}
	m.a.Status = status
	m.a.SubmittedAt = &at
	key := activeKey{examID: m.a.ExamID, studentID: m.a.StudentID}
	if r.active[key] == attemptID {
		delete(r.active, key)
	}
	return true, nil
}

func (r *MemoryAttemptRepository) SaveScore(_ context.Context, attemptID uuid.UUID, res model.ScoreResult) error {
	m, err := r.lookup(attemptID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.a.Status.IsTerminal() {
		return ErrAttemptNotActive
	}
	if m.a.Score != nil {
		return nil
	}
	score, pct, passed := res.Score, res.Percentage, res.Passed
	m.a.Score = &score
	m.a.MaxScore = res.MaxScore
	m.a.Percentage = &pct
	m.a.Passed = &passed
	m.a.RequiresManualGrading = res.RequiresManualGrading
	return nil
}

func (r *MemoryAttemptRepository) ListPendingDeadlines(_ context.Context) ([]model.DeadlineEntry, error) {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.active))
	for _, id := range r.active {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var out []model.DeadlineEntry
	for _, id := range ids {
		m, err := r.lookup(id)
		if err != nil {
			continue
		}
		m.mu.Lock()
		if m.a.Status == model.AttemptStatusInProgress && m.a.DeadlineAt != nil {
			out = append(out, model.DeadlineEntry{AttemptID: id, DeadlineAt: *m.a.DeadlineAt})
		}
		m.mu.Unlock()
	}
	return out, nil
}

func (r *MemoryAttemptRepository) ListUnscored(_ context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	all := make([]*memoryAttempt, 0, len(r.attempts))
	for _, m := range r.attempts {
		all = append(all, m)
	}
	r.mu.RUnlock()

	var out []uuid.UUID
	for _, m := range all {
		m.mu.Lock()
		if m.a.Status.IsTerminal() && m.a.Score == nil {
			out = append(out, m.a.ID)
		}
		m.mu.Unlock()
	}
	return out, nil
}

func (r *MemoryAttemptRepository) lookup(id uuid.UUID) (*memoryAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return m, nil
}

func cloneAttempt(a *model.Attempt) *model.Attempt {
	c := *a
	c.QuestionOrder = append([]uuid.UUID(nil), a.QuestionOrder...)
	if a.OptionOrder != nil {
		c.OptionOrder = make(map[uuid.UUID][]string, len(a.OptionOrder))
		for k, v := range a.OptionOrder {
			c.OptionOrder[k] = append([]string(nil), v...)
		}
	}
	c.Answers = make(map[uuid.UUID]model.AnswerRecord, len(a.Answers))
	for k, v := range a.Answers {
		c.Answers[k] = cloneAnswer(v)
	}
	return &c
}

func cloneAnswer(rec model.AnswerRecord) model.AnswerRecord {
	c := rec
	c.SelectedOptionIDs = append([]string(nil), rec.SelectedOptionIDs...)
	if rec.WrittenText != nil {
		text := *rec.WrittenText
		c.WrittenText = &text
	}
	return c
}
