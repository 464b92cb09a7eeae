package worker

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/repository"
	"k8s.io/client-go/util/workqueue"
)

const (
	// DeadlineRetryBaseDelay is the first backoff after a failed expiry when none is configured.
	DeadlineRetryBaseDelay = 500 * time.Millisecond
	// DeadlineRetryMaxDelay caps the per-attempt exponential backoff.
	DeadlineRetryMaxDelay = 60 * time.Second
	// DeadlineFireTimeout bounds a single expiry call.
	DeadlineFireTimeout = 30 * time.Second
)

// FinalizeFunc expires one attempt. It must be idempotent.
type FinalizeFunc func(ctx context.Context, attemptID uuid.UUID) error

// PendingSource lists the deadlines to re-arm after a restart.
type PendingSource interface {
	ListPendingDeadlines(ctx context.Context) ([]model.DeadlineEntry, error)
}

// DeadlineScheduler fires exactly one expiry per registered attempt deadline.
// A single goroutine sleeps until the earliest deadline; each firing runs in its own
// goroutine so a slow store never delays other deadlines.
type DeadlineScheduler struct {
	mu      sync.Mutex
	queue   deadlineQueue
	entries map[uuid.UUID]*deadlineItem
	wake    chan struct{}

	limiter     workqueue.RateLimiter
	source      PendingSource
	fireTimeout time.Duration
	log         zerolog.Logger
	wg          sync.WaitGroup
}

// NewDeadlineScheduler creates a scheduler that retries failed firings with
// exponential backoff between base and max.
func NewDeadlineScheduler(source PendingSource, base, max time.Duration, log zerolog.Logger) *DeadlineScheduler {
	if base <= 0 {
		base = DeadlineRetryBaseDelay
	}
	if max < base {
		max = DeadlineRetryMaxDelay
	}
	return &DeadlineScheduler{
		entries:     make(map[uuid.UUID]*deadlineItem),
		wake:        make(chan struct{}, 1),
		limiter:     workqueue.NewItemExponentialFailureRateLimiter(base, max),
		source:      source,
		fireTimeout: DeadlineFireTimeout,
		log:         log.With().Str("component", "deadline_scheduler").Logger(),
	}
}

// Register schedules (or reschedules) the expiry of attemptID at deadlineAt.
func (s *DeadlineScheduler) Register(attemptID uuid.UUID, deadlineAt time.Time) {
	s.mu.Lock()
	if item, ok := s.entries[attemptID]; ok {
		item.at = deadlineAt
		heap.Fix(&s.queue, item.index)
	} else {
		item := &deadlineItem{attemptID: attemptID, at: deadlineAt}
		heap.Push(&s.queue, item)
		s.entries[attemptID] = item
	}
	s.mu.Unlock()
	s.signal()
}

// Deregister cancels a pending expiry. Unknown or already fired ids are ignored.
func (s *DeadlineScheduler) Deregister(attemptID uuid.UUID) {
	s.mu.Lock()
	item, ok := s.entries[attemptID]
	if ok {
		heap.Remove(&s.queue, item.index)
		delete(s.entries, attemptID)
	}
	s.mu.Unlock()
	if ok {
		s.limiter.Forget(attemptID)
		s.signal()
	}
}

// Pending returns the number of scheduled deadlines.
func (s *DeadlineScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Recover re-arms every in-progress deadline held by the store. Overdue ones fire as
// soon as the loop runs.
func (s *DeadlineScheduler) Recover(ctx context.Context) (int, error) {
	pending, err := s.source.ListPendingDeadlines(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range pending {
		s.Register(p.AttemptID, p.DeadlineAt)
	}
	s.log.Info().Int("count", len(pending)).Msg("Deadlines recovered")
	return len(pending), nil
}

// Start runs the timer loop until ctx is cancelled, then waits for in-flight firings.
func (s *DeadlineScheduler) Start(ctx context.Context, finalize FinalizeFunc) {
	s.log.Info().Msg("DeadlineScheduler started")

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		due, wait := s.popDue(time.Now())
		for _, id := range due {
			s.fire(ctx, id, finalize)
		}

		var timerC <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			s.log.Info().Msg("Shutdown requested. Waiting for in-flight expiries...")
			s.wg.Wait()
			s.log.Info().Int("pending", s.Pending()).Msg("DeadlineScheduler stopped")
			return
		case <-s.wake:
		case <-timerC:
		}
		timer.Stop()
	}
}

// popDue removes every entry due at now. wait is the delay to the next entry, or -1
// when the queue is empty.
func (s *DeadlineScheduler) popDue(now time.Time) ([]uuid.UUID, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []uuid.UUID
	for s.queue.Len() > 0 && !s.queue[0].at.After(now) {
		item := heap.Pop(&s.queue).(*deadlineItem)
		delete(s.entries, item.attemptID)
		due = append(due, item.attemptID)
	}
	if s.queue.Len() == 0 {
		return due, -1
	}
	return due, s.queue[0].at.Sub(now)
}

func (s *DeadlineScheduler) fire(ctx context.Context, attemptID uuid.UUID, finalize FinalizeFunc) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		fctx, cancel := context.WithTimeout(ctx, s.fireTimeout)
		defer cancel()

		err := finalize(fctx, attemptID)
		switch {
		case err == nil:
			s.limiter.Forget(attemptID)
			s.log.Debug().Str("attempt_id", attemptID.String()).Msg("Deadline fired")
		case errors.Is(err, repository.ErrAttemptNotFound):
			s.limiter.Forget(attemptID)
			s.log.Warn().Str("attempt_id", attemptID.String()).Msg("Deadline for unknown attempt dropped")
		case ctx.Err() != nil:
			// Recovery on the next start re-arms it.
			s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Expiry interrupted by shutdown")
		default:
			delay := s.limiter.When(attemptID)
			s.log.Error().
				Err(err).
				Str("attempt_id", attemptID.String()).
				Int("retries", s.limiter.NumRequeues(attemptID)).
				Dur("retry_in", delay).
				Msg("Expiry failed, retrying")
			s.Register(attemptID, time.Now().Add(delay))
		}
	}()
}

func (s *DeadlineScheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
