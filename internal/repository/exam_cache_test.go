package repository

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// countingStore wraps a MemoryExamStore and counts backing reads.
type countingStore struct {
	*MemoryExamStore
	defReads int32
	qReads   int32
}

func (c *countingStore) GetExamDefinition(ctx context.Context, id uuid.UUID) (*model.ExamDefinition, error) {
	atomic.AddInt32(&c.defReads, 1)
	return c.MemoryExamStore.GetExamDefinition(ctx, id)
}

func (c *countingStore) GetQuestionDefinitions(ctx context.Context, id uuid.UUID) (map[uuid.UUID]model.QuestionDefinition, error) {
	atomic.AddInt32(&c.qReads, 1)
	return c.MemoryExamStore.GetQuestionDefinitions(ctx, id)
}

func seedExam(store *MemoryExamStore) (model.ExamDefinition, model.QuestionDefinition) {
	q := model.QuestionDefinition{
		ID:     uuid.New(),
		Type:   model.QuestionTypeSingleChoice,
		Text:   "2 + 2 = ?",
		Points: 1,
		Options: []model.Option{
			{ID: "a", Text: "3"},
			{ID: "b", Text: "4", IsCorrect: true},
		},
	}
	e := model.ExamDefinition{
		ID:              uuid.New(),
		Title:           "Arithmetic",
		Status:          model.ExamStatusPublished,
		DurationSeconds: 600,
		Questions:       []model.QuestionRef{{QuestionID: q.ID, Points: 1, Order: 1}},
	}
	store.Put(e, q)
	return e, q
}

func newTestCache(t *testing.T) (*CachedExamStore, *countingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	backing := &countingStore{MemoryExamStore: NewMemoryExamStore()}
	return NewCachedExamStore(backing, rdb, time.Hour, zerolog.New(io.Discard)), backing, mr
}

func TestCachedExamStoreReadThrough(t *testing.T) {
	cache, backing, mr := newTestCache(t)
	ctx := context.Background()
	exam, q := seedExam(backing.MemoryExamStore)

	first, err := cache.GetExamDefinition(ctx, exam.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.Title != exam.Title {
		t.Errorf("title = %q", first.Title)
	}
	if !mr.Exists(config.CacheKey.ExamDefinitionKey(exam.ID.String())) {
		t.Fatal("definition was not cached")
	}

	before := atomic.LoadInt32(&backing.defReads)
	for i := 0; i < 5; i++ {
		if _, err := cache.GetExamDefinition(ctx, exam.ID); err != nil {
			t.Fatal(err)
		}
	}
	if after := atomic.LoadInt32(&backing.defReads); after != before {
		t.Errorf("cached reads hit the store %d times", after-before)
	}

	defs, err := cache.GetQuestionDefinitions(ctx, exam.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ids := defs[q.ID].CorrectOptionIDs(); len(ids) != 1 || ids[0] != "b" {
		t.Errorf("cached answer key = %v", ids)
	}
	if ttl := mr.TTL(config.CacheKey.ExamQuestionsKey(exam.ID.String())); ttl != time.Hour {
		t.Errorf("questions ttl = %v, want 1h", ttl)
	}
}

func TestCachedExamStoreMissingExam(t *testing.T) {
	cache, _, _ := newTestCache(t)
	_, err := cache.GetExamDefinition(context.Background(), uuid.New())
	if !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("err = %v, want ErrExamNotFound", err)
	}
}

func TestCachedExamStoreFallsBackWhenRedisDown(t *testing.T) {
	cache, backing, mr := newTestCache(t)
	exam, _ := seedExam(backing.MemoryExamStore)
	mr.Close()

	got, err := cache.GetExamDefinition(context.Background(), exam.ID)
	if err != nil {
		t.Fatalf("redis outage failed the read: %v", err)
	}
	if got.ID != exam.ID {
		t.Errorf("id = %s", got.ID)
	}
	if _, err := cache.GetQuestionDefinitions(context.Background(), exam.ID); err != nil {
		t.Fatalf("questions during outage: %v", err)
	}
}

func TestCachedExamStorePrewarmAndInvalidate(t *testing.T) {
	cache, backing, mr := newTestCache(t)
	ctx := context.Background()
	published, _ := seedExam(backing.MemoryExamStore)
	draft, _ := seedExam(backing.MemoryExamStore)
	draft.Status = model.ExamStatusDraft
	backing.Put(draft)

	if err := cache.Prewarm(ctx, backing.MemoryExamStore); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists(config.CacheKey.ExamDefinitionKey(published.ID.String())) {
		t.Error("published exam not prewarmed")
	}
	if mr.Exists(config.CacheKey.ExamDefinitionKey(draft.ID.String())) {
		t.Error("draft exam prewarmed")
	}

	if err := cache.Invalidate(ctx, published.ID); err != nil {
		t.Fatal(err)
	}
	if mr.Exists(config.CacheKey.ExamDefinitionKey(published.ID.String())) {
		t.Error("definition still cached after invalidate")
	}
}
