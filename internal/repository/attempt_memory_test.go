package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

func TestMemoryAttemptRepositoryContract(t *testing.T) {
	runAttemptRepositoryContract(t, NewMemoryAttemptRepository(), func(*testing.T) uuid.UUID {
		return uuid.New()
	})
}

func TestMemoryAttemptRepositoryReturnsCopies(t *testing.T) {
	repo := NewMemoryAttemptRepository()
	ctx := context.Background()

	a, _, err := repo.CreateIfNoActive(ctx, &model.Attempt{
		ExamID:        uuid.New(),
		StudentID:     1,
		StartedAt:     time.Now(),
		QuestionOrder: []uuid.UUID{uuid.New()},
	})
	if err != nil {
		t.Fatal(err)
	}
	q := a.QuestionOrder[0]
	if err := repo.UpsertAnswer(ctx, a.ID, q, model.AnswerRecord{SelectedOptionIDs: []string{"a"}}); err != nil {
		t.Fatal(err)
	}

	got, _ := repo.GetByID(ctx, a.ID)
	got.Answers[q].SelectedOptionIDs[0] = "tampered"
	got.QuestionOrder[0] = uuid.Nil

	again, _ := repo.GetByID(ctx, a.ID)
	if again.Answers[q].SelectedOptionIDs[0] != "a" {
		t.Error("caller mutation leaked into stored answers")
	}
	if again.QuestionOrder[0] != q {
		t.Error("caller mutation leaked into stored question order")
	}
}

// A terminal attempt still present in the active index (the state between the status
// flip and the index cleanup) must not be resumed.
func TestMemoryAttemptRepositoryIgnoresStaleActiveEntry(t *testing.T) {
	repo := NewMemoryAttemptRepository()
	ctx := context.Background()
	examID := uuid.New()

	old, _, err := repo.CreateIfNoActive(ctx, &model.Attempt{ExamID: examID, StudentID: 1, StartedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	m := repo.attempts[old.ID]
	m.mu.Lock()
	m.a.Status = model.AttemptStatusSubmitted
	m.mu.Unlock()

	if got, err := repo.GetActive(ctx, examID, 1); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("GetActive = %+v, %v; want ErrAttemptNotFound", got, err)
	}

	fresh, created, err := repo.CreateIfNoActive(ctx, &model.Attempt{ExamID: examID, StudentID: 1, StartedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if !created || fresh.ID == old.ID || fresh.Status != model.AttemptStatusInProgress {
		t.Fatalf("CreateIfNoActive = %s %s created=%v, want a new in-progress attempt", fresh.ID, fresh.Status, created)
	}
	if fresh.AttemptNumber != 2 {
		t.Errorf("attempt number = %d, want 2", fresh.AttemptNumber)
	}
}
