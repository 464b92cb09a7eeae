package main

import (
	"context"
	"flag"
	"time"

	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/database"
	"github.com/stemsi/exstem-attempts/internal/logger"
	"github.com/stemsi/exstem-attempts/internal/repository"
	"github.com/stemsi/exstem-attempts/internal/seed"
)

func main() {
	var file string
	flag.StringVar(&file, "file", "", "JSON exam bundle to load (default: built-in demo exam)")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	bundle := seed.Demo()
	if file != "" {
		var err error
		if bundle, err = seed.LoadFile(file); err != nil {
			log.Fatal().Err(err).Msg("Failed to load seed file")
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	questions := repository.NewQuestionRepository(pool)
	exams := repository.NewExamRepository(pool)

	for i := range bundle.Questions {
		if err := questions.Save(ctx, &bundle.Questions[i]); err != nil {
			log.Fatal().Err(err).Str("question_id", bundle.Questions[i].ID.String()).Msg("Failed to save question")
		}
	}
	if err := exams.Save(ctx, &bundle.Exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to save exam")
	}

	// Drop any stale cached copy so the next read sees the new definition.
	if rdb, err := database.NewRedisClient(ctx, cfg, log); err == nil {
		cache := repository.NewCachedExamStore(exams, rdb, cfg.ExamCacheTTL, log)
		if err := cache.Invalidate(ctx, bundle.Exam.ID); err != nil {
			log.Warn().Err(err).Msg("Cache invalidation failed")
		}
		rdb.Close()
	}

	log.Info().
		Str("exam_id", bundle.Exam.ID.String()).
		Str("title", bundle.Exam.Title).
		Int("questions", len(bundle.Questions)).
		Msg("Exam seeded")
}
