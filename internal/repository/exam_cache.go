package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/model"
)

// PublishedLister is implemented by stores that can enumerate published exams.
type PublishedLister interface {
	ListPublished(ctx context.Context) ([]uuid.UUID, error)
}

// CachedExamStore is a read-through Redis cache in front of an ExamStore.
// Redis failures degrade to the backing store; they never fail a request.
type CachedExamStore struct {
	next ExamStore
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

// NewCachedExamStore creates a new CachedExamStore.
func NewCachedExamStore(next ExamStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedExamStore {
	return &CachedExamStore{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  log.With().Str("component", "exam_cache").Logger(),
	}
}

func (s *CachedExamStore) GetExamDefinition(ctx context.Context, examID uuid.UUID) (*model.ExamDefinition, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamDefinitionKey(examID.String())).Bytes()
	if err == nil {
		var e model.ExamDefinition
		if err := json.Unmarshal(data, &e); err == nil {
			return &e, nil
		}
		s.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt cached definition, reloading")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Redis read failed, using store")
		return s.next.GetExamDefinition(ctx, examID)
	}

	if err := s.Warm(ctx, examID); err != nil {
		if errors.Is(err, ErrExamNotFound) {
			return nil, err
		}
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Cache warm failed")
	}
	return s.next.GetExamDefinition(ctx, examID)
}

func (s *CachedExamStore) GetQuestionDefinitions(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]model.QuestionDefinition, error) {
	fields, err := s.rdb.HGetAll(ctx, config.CacheKey.ExamQuestionsKey(examID.String())).Result()
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Redis read failed, using store")
		return s.next.GetQuestionDefinitions(ctx, examID)
	}
	if len(fields) > 0 {
		if out, err := decodeQuestions(fields); err == nil {
			return out, nil
		}
		s.log.Warn().Str("exam_id", examID.String()).Msg("Corrupt cached questions, reloading")
	}

	if err := s.Warm(ctx, examID); err != nil {
		if errors.Is(err, ErrExamNotFound) {
			return nil, err
		}
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Cache warm failed")
	}
	return s.next.GetQuestionDefinitions(ctx, examID)
}

// Warm loads an exam's definition and questions from the backing store into Redis.
func (s *CachedExamStore) Warm(ctx context.Context, examID uuid.UUID) error {
	exam, err := s.next.GetExamDefinition(ctx, examID)
	if err != nil {
		return err
	}
	questions, err := s.next.GetQuestionDefinitions(ctx, examID)
	if err != nil {
		return err
	}

	examJSON, err := json.Marshal(exam)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	fields := make(map[string]interface{}, len(questions))
	for id, q := range questions {
		raw, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question %s: %w", id, err)
		}
		fields[id.String()] = raw
	}

	defKey := config.CacheKey.ExamDefinitionKey(examID.String())
	qKey := config.CacheKey.ExamQuestionsKey(examID.String())

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, defKey, examJSON, s.ttl)
	pipe.Del(ctx, qKey)
	if len(fields) > 0 {
		pipe.HSet(ctx, qKey, fields)
		pipe.Expire(ctx, qKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", examID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

// Invalidate drops an exam from the cache.
func (s *CachedExamStore) Invalidate(ctx context.Context, examID uuid.UUID) error {
	return s.rdb.Del(ctx,
		config.CacheKey.ExamDefinitionKey(examID.String()),
		config.CacheKey.ExamQuestionsKey(examID.String()),
	).Err()
}

// Prewarm loads every published exam into Redis before traffic is accepted.
func (s *CachedExamStore) Prewarm(ctx context.Context, lister PublishedLister) error {
	ids, err := lister.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}
	if len(ids) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for _, id := range ids {
		if err := s.Warm(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("exam_id", id.String()).Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(ids)).
		Msg("Prewarming complete")
	return nil
}

func decodeQuestions(fields map[string]string) (map[uuid.UUID]model.QuestionDefinition, error) {
	out := make(map[uuid.UUID]model.QuestionDefinition, len(fields))
	for k, v := range fields {
		id, err := uuid.Parse(k)
		if err != nil {
			return nil, err
		}
		var q model.QuestionDefinition
		if err := json.Unmarshal([]byte(v), &q); err != nil {
			return nil, err
		}
		out[id] = q
	}
	return out, nil
}
