package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// MemoryExamStore holds exam definitions in process. Used by STORAGE_DRIVER=memory and tests.
type MemoryExamStore struct {
	mu        sync.RWMutex
	exams     map[uuid.UUID]model.ExamDefinition
	questions map[uuid.UUID]model.QuestionDefinition
}

// NewMemoryExamStore creates an empty MemoryExamStore.
func NewMemoryExamStore() *MemoryExamStore {
	return &MemoryExamStore{
		exams:     make(map[uuid.UUID]model.ExamDefinition),
		questions: make(map[uuid.UUID]model.QuestionDefinition),
	}
}

// Put stores an exam and the questions it references, replacing any previous version.
func (s *MemoryExamStore) Put(exam model.ExamDefinition, questions ...model.QuestionDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam.Questions = append([]model.QuestionRef(nil), exam.Questions...)
	s.exams[exam.ID] = exam
	for _, q := range questions {
		q.Options = append([]model.Option(nil), q.Options...)
		s.questions[q.ID] = q
	}
}

func (s *MemoryExamStore) GetExamDefinition(_ context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.exams[examID]
	if !ok {
		return nil, ErrExamNotFound
	}
	e.Questions = append([]model.QuestionRef(nil), e.Questions...)
	return &e, nil
}

func (s *MemoryExamStore) GetQuestionDefinitions(_ context.Context, examID uuid.UUID) (map[uuid.UUID]model.QuestionDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.exams[examID]
	if !ok {
		return nil, ErrExamNotFound
	}
	out := make(map[uuid.UUID]model.QuestionDefinition, len(e.Questions))
	for _, ref := range e.Questions {
		if q, ok := s.questions[ref.QuestionID]; ok {
			q.Options = append([]model.Option(nil), q.Options...)
			out[q.ID] = q
		}
	}
	return out, nil
}

// ListPublished returns the ids of every published exam.
func (s *MemoryExamStore) ListPublished(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for id, e := range s.exams {
		if e.Status == model.ExamStatusPublished {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
