package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// Storage errors shared by every implementation.
var (
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrAttemptNotActive = errors.New("attempt is not in progress")
	ErrExamNotFound     = errors.New("exam not found")
	ErrTransientStorage = errors.New("transient storage error")
)

// AttemptRepository is the durable store for attempts and their answers.
// Every mutating method is atomic with respect to concurrent callers on the same attempt.
type AttemptRepository interface {
	// CreateIfNoActive inserts a. When an IN_PROGRESS attempt already exists for the same
	// (exam, student) it is returned instead with created=false. a.AttemptNumber is
	// assigned by the store.
	CreateIfNoActive(ctx context.Context, a *model.Attempt) (stored *model.Attempt, created bool, err error)

	// GetByID returns the attempt with its answers.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)

	// GetActive returns the IN_PROGRESS attempt for (exam, student) or ErrAttemptNotFound.
	GetActive(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error)

	// CountAttempts counts every attempt, in any status, for (exam, student).
	CountAttempts(ctx context.Context, examID uuid.UUID, studentID int) (int, error)

	// UpsertAnswer writes the answer for one question if and only if the attempt is
	// still IN_PROGRESS, else ErrAttemptNotActive.
	UpsertAnswer(ctx context.Context, attemptID, questionID uuid.UUID, rec model.AnswerRecord) error

	// ClaimTerminal moves the attempt from IN_PROGRESS to status. It reports whether
	// this caller performed the transition.
	ClaimTerminal(ctx context.Context, attemptID uuid.UUID, status model.AttemptStatus, at time.Time) (bool, error)

	// SaveScore stores res on a terminal attempt unless a score is already present.
	SaveScore(ctx context.Context, attemptID uuid.UUID, res model.ScoreResult) error

	// ListPendingDeadlines returns every IN_PROGRESS attempt that has a deadline.
	ListPendingDeadlines(ctx context.Context) ([]model.DeadlineEntry, error)

	// ListUnscored returns terminal attempts that were claimed but never scored.
	ListUnscored(ctx context.Context) ([]uuid.UUID, error)
}

// ExamStore is the read-only source of exam and question definitions.
type ExamStore interface {
	GetExamDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error)
	// GetQuestionDefinitions returns the exam's questions keyed by id.
	GetQuestionDefinitions(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]model.QuestionDefinition, error)
}
