package service

import (
	"errors"

	"github.com/stemsi/exstem-attempts/internal/repository"
)

// Attempt lifecycle errors. Storage outcomes alias the repository sentinels so a single
// errors.Is check works at every layer.
var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrNotAttemptOwner      = errors.New("attempt belongs to another student")
	ErrAttemptNotAllowed    = errors.New("exam is not available for new attempts")
	ErrAttemptLimitReached  = errors.New("attempt limit reached")
	ErrInvalidQuestion      = errors.New("question does not belong to this attempt")
	ErrInvalidAnswer        = errors.New("answer does not match the question")
	ErrIncompleteSubmission = errors.New("all questions must be answered before submitting")

	ErrAttemptNotFound  = repository.ErrAttemptNotFound
	ErrAttemptNotActive = repository.ErrAttemptNotActive
	ErrExamNotFound     = repository.ErrExamNotFound
	ErrTransientStorage = repository.ErrTransientStorage
)
