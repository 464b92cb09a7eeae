package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// runAttemptRepositoryContract exercises the behaviour every AttemptRepository must share.
// newExam returns an exam id the repository will accept.
func runAttemptRepositoryContract(t *testing.T, repo AttemptRepository, newExam func(t *testing.T) uuid.UUID) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	newAttempt := func(examID uuid.UUID, studentID int) *model.Attempt {
		deadline := base.Add(10 * time.Minute)
		return &model.Attempt{
			ExamID:        examID,
			StudentID:     studentID,
			StartedAt:     base,
			DeadlineAt:    &deadline,
			QuestionOrder: []uuid.UUID{uuid.New(), uuid.New()},
			OptionOrder:   map[uuid.UUID][]string{},
		}
	}

	t.Run("create then resume returns the same attempt", func(t *testing.T) {
		examID := newExam(t)
		first, created, err := repo.CreateIfNoActive(ctx, newAttempt(examID, 1))
		if err != nil || !created {
			t.Fatalf("first create: created=%v err=%v", created, err)
		}
		if first.AttemptNumber != 1 || first.Status != model.AttemptStatusInProgress {
			t.Fatalf("first attempt = %+v", first)
		}

		second, created, err := repo.CreateIfNoActive(ctx, newAttempt(examID, 1))
		if err != nil {
			t.Fatalf("second create: %v", err)
		}
		if created || second.ID != first.ID {
			t.Fatalf("second create made a new attempt %s (first %s)", second.ID, first.ID)
		}
		if len(second.QuestionOrder) != 2 || second.QuestionOrder[0] != first.QuestionOrder[0] {
			t.Errorf("question order not preserved: %v vs %v", second.QuestionOrder, first.QuestionOrder)
		}
	})

	t.Run("concurrent creates converge on one attempt", func(t *testing.T) {
		examID := newExam(t)
		const n = 16
		ids := make([]uuid.UUID, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				a, _, err := repo.CreateIfNoActive(ctx, newAttempt(examID, 2))
				errs[i] = err
				if a != nil {
					ids[i] = a.ID
				}
			}(i)
		}
		wg.Wait()
		for i := 0; i < n; i++ {
			if errs[i] != nil {
				t.Fatalf("create %d: %v", i, errs[i])
			}
			if ids[i] != ids[0] {
				t.Fatalf("create %d returned %s, want %s", i, ids[i], ids[0])
			}
		}
		if c, _ := repo.CountAttempts(ctx, examID, 2); c != 1 {
			t.Errorf("count = %d, want 1", c)
		}
	})

	t.Run("answers upsert until claimed", func(t *testing.T) {
		examID := newExam(t)
		a, _, err := repo.CreateIfNoActive(ctx, newAttempt(examID, 3))
		if err != nil {
			t.Fatal(err)
		}
		q := a.QuestionOrder[0]

		if err := repo.UpsertAnswer(ctx, a.ID, q, model.AnswerRecord{SelectedOptionIDs: []string{"a"}, AnsweredAt: base}); err != nil {
			t.Fatalf("first upsert: %v", err)
		}
		if err := repo.UpsertAnswer(ctx, a.ID, q, model.AnswerRecord{SelectedOptionIDs: []string{"b"}, AnsweredAt: base.Add(time.Second)}); err != nil {
			t.Fatalf("second upsert: %v", err)
		}
		got, err := repo.GetByID(ctx, a.ID)
		if err != nil {
			t.Fatal(err)
		}
		if sel := got.Answers[q].SelectedOptionIDs; len(sel) != 1 || sel[0] != "b" {
			t.Errorf("last write did not win: %v", sel)
		}

		won, err := repo.ClaimTerminal(ctx, a.ID, model.AttemptStatusSubmitted, base.Add(time.Minute))
		if err != nil || !won {
			t.Fatalf("claim: won=%v err=%v", won, err)
		}
		err = repo.UpsertAnswer(ctx, a.ID, q, model.AnswerRecord{SelectedOptionIDs: []string{"c"}, AnsweredAt: base})
		if !errors.Is(err, ErrAttemptNotActive) {
			t.Fatalf("upsert after claim: %v, want ErrAttemptNotActive", err)
		}
	})

	t.Run("claim is exactly once under contention", func(t *testing.T) {
		examID := newExam(t)
		a, _, err := repo.CreateIfNoActive(ctx, newAttempt(examID, 4))
		if err != nil {
			t.Fatal(err)
		}

		const n = 12
		wins := make(chan model.AttemptStatus, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			status := model.AttemptStatusSubmitted
			if i%2 == 1 {
				status = model.AttemptStatusExpired
			}
			wg.Add(1)
			go func(s model.AttemptStatus) {
				defer wg.Done()
				won, err := repo.ClaimTerminal(ctx, a.ID, s, base)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if won {
					wins <- s
				}
			}(status)
		}
		wg.Wait()
		close(wins)

		var winners []model.AttemptStatus
		for s := range wins {
			winners = append(winners, s)
		}
		if len(winners) != 1 {
			t.Fatalf("%d winners, want 1", len(winners))
		}
		got, _ := repo.GetByID(ctx, a.ID)
		if got.Status != winners[0] {
			t.Errorf("stored status %s, winner claimed %s", got.Status, winners[0])
		}
	})

	t.Run("score is written once", func(t *testing.T) {
		examID := newExam(t)
		a, _, err := repo.CreateIfNoActive(ctx, newAttempt(examID, 5))
		if err != nil {
			t.Fatal(err)
		}
		if err := repo.SaveScore(ctx, a.ID, model.ScoreResult{Score: 1}); !errors.Is(err, ErrAttemptNotActive) {
			t.Fatalf("score on active attempt: %v", err)
		}
		if _, err := repo.ClaimTerminal(ctx, a.ID, model.AttemptStatusExpired, base); err != nil {
			t.Fatal(err)
		}

		unscored, err := repo.ListUnscored(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !containsID(unscored, a.ID) {
			t.Errorf("claimed attempt missing from unscored list")
		}

		if err := repo.SaveScore(ctx, a.ID, model.ScoreResult{Score: 7, MaxScore: 10, Percentage: 70, Passed: true}); err != nil {
			t.Fatal(err)
		}
		if err := repo.SaveScore(ctx, a.ID, model.ScoreResult{Score: 1, MaxScore: 10, Percentage: 10}); err != nil {
			t.Fatal(err)
		}
		got, _ := repo.GetByID(ctx, a.ID)
		if got.Score == nil || *got.Score != 7 || got.Passed == nil || !*got.Passed {
			t.Errorf("score overwritten: %+v", got)
		}
	})

	t.Run("attempt numbers grow after finalization", func(t *testing.T) {
		examID := newExam(t)
		first, _, err := repo.CreateIfNoActive(ctx, newAttempt(examID, 6))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := repo.ClaimTerminal(ctx, first.ID, model.AttemptStatusSubmitted, base); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.GetActive(ctx, examID, 6); !errors.Is(err, ErrAttemptNotFound) {
			t.Fatalf("GetActive after claim: %v", err)
		}
		second, created, err := repo.CreateIfNoActive(ctx, newAttempt(examID, 6))
		if err != nil || !created {
			t.Fatalf("second create: created=%v err=%v", created, err)
		}
		if second.AttemptNumber != 2 {
			t.Errorf("attempt number = %d, want 2", second.AttemptNumber)
		}
	})

	t.Run("claimed attempt is never reported active", func(t *testing.T) {
		for round := 0; round < 20; round++ {
			examID := newExam(t)
			studentID := 100 + round
			a, _, err := repo.CreateIfNoActive(ctx, newAttempt(examID, studentID))
			if err != nil {
				t.Fatal(err)
			}

			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				stale []model.AttemptStatus
			)
			check := func(got *model.Attempt) {
				if got != nil && got.Status != model.AttemptStatusInProgress {
					mu.Lock()
					stale = append(stale, got.Status)
					mu.Unlock()
				}
			}
			wg.Add(3)
			go func() {
				defer wg.Done()
				if _, err := repo.ClaimTerminal(ctx, a.ID, model.AttemptStatusSubmitted, base); err != nil {
					t.Error(err)
				}
			}()
			go func() {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					got, err := repo.GetActive(ctx, examID, studentID)
					if err == nil {
						check(got)
					}
				}
			}()
			go func() {
				defer wg.Done()
				got, _, err := repo.CreateIfNoActive(ctx, newAttempt(examID, studentID))
				if err == nil {
					check(got)
				}
			}()
			wg.Wait()

			if len(stale) > 0 {
				t.Fatalf("round %d: terminal attempt returned as active: %v", round, stale)
			}
		}
	})

	t.Run("pending deadlines list only active attempts", func(t *testing.T) {
		examID := newExam(t)
		active, _, _ := repo.CreateIfNoActive(ctx, newAttempt(examID, 7))
		done, _, _ := repo.CreateIfNoActive(ctx, newAttempt(examID, 8))
		if _, err := repo.ClaimTerminal(ctx, done.ID, model.AttemptStatusSubmitted, base); err != nil {
			t.Fatal(err)
		}

		pending, err := repo.ListPendingDeadlines(ctx)
		if err != nil {
			t.Fatal(err)
		}
		var ids []uuid.UUID
		for _, p := range pending {
			ids = append(ids, p.AttemptID)
		}
		if !containsID(ids, active.ID) {
			t.Error("active attempt missing from pending deadlines")
		}
		if containsID(ids, done.ID) {
			t.Error("submitted attempt listed as pending")
		}
	})

	t.Run("unknown attempt", func(t *testing.T) {
		if _, err := repo.GetByID(ctx, uuid.New()); !errors.Is(err, ErrAttemptNotFound) {
			t.Errorf("GetByID: %v", err)
		}
		if err := repo.UpsertAnswer(ctx, uuid.New(), uuid.New(), model.AnswerRecord{AnsweredAt: base}); !errors.Is(err, ErrAttemptNotFound) {
			t.Errorf("UpsertAnswer: %v", err)
		}
		if _, err := repo.ClaimTerminal(ctx, uuid.New(), model.AttemptStatusSubmitted, base); !errors.Is(err, ErrAttemptNotFound) {
			t.Errorf("ClaimTerminal: %v", err)
		}
	})
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
