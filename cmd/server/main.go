package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/database"
	"github.com/stemsi/exstem-attempts/internal/events"
	"github.com/stemsi/exstem-attempts/internal/handler"
	"github.com/stemsi/exstem-attempts/internal/logger"
	"github.com/stemsi/exstem-attempts/internal/middleware"
	"github.com/stemsi/exstem-attempts/internal/repository"
	"github.com/stemsi/exstem-attempts/internal/router"
	"github.com/stemsi/exstem-attempts/internal/seed"
	"github.com/stemsi/exstem-attempts/internal/service"
	"github.com/stemsi/exstem-attempts/internal/validator"
	"github.com/stemsi/exstem-attempts/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("storage", cfg.StorageDriver).
		Str("events", cfg.EventsDriver).
		Msg("Starting ExStem attempt engine")

	// ─── Initialize Validator ──────────────────────────────────────────
	if err := validator.Setup(); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up validator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Storage ───────────────────────────────────────────────────────
	var (
		attempts  repository.AttemptRepository
		examStore repository.ExamStore
		lister    repository.PublishedLister
		checks    []handler.HealthCheck
	)

	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()

		examRepo := repository.NewExamRepository(pool)
		attempts = repository.NewAttemptPostgres(pool)
		examStore, lister = examRepo, examRepo
		checks = append(checks, handler.HealthCheck{Name: "postgres", Check: pool.Ping})

	case config.StorageDriverMemory:
		bundle := seed.Demo()
		if cfg.ExamSeedFile != "" {
			var err error
			if bundle, err = seed.LoadFile(cfg.ExamSeedFile); err != nil {
				log.Fatal().Err(err).Msg("Failed to load exam seed file")
			}
		}
		mem := repository.NewMemoryExamStore()
		mem.Put(bundle.Exam, bundle.Questions...)

		attempts = repository.NewMemoryAttemptRepository()
		examStore, lister = mem, mem
		log.Warn().
			Str("exam_id", bundle.Exam.ID.String()).
			Msg("In-memory storage: attempts are lost on restart")

	default:
		log.Fatal().Str("driver", cfg.StorageDriver).Msg("Unknown storage driver")
	}

	// ─── Connect to Redis (exam definition cache) ──────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	switch {
	case errors.Is(err, database.ErrRedisDisabled):
		log.Info().Msg("Exam cache disabled")
	case err != nil:
		log.Warn().Err(err).Msg("Redis unavailable, exam cache disabled")
	default:
		defer rdb.Close()
		cache := repository.NewCachedExamStore(examStore, rdb, cfg.ExamCacheTTL, log)

		// Load all published exams into Redis BEFORE accepting traffic.
		if err := cache.Prewarm(ctx, lister); err != nil {
			log.Warn().Err(err).Msg("Cache prewarm failed")
		}
		examStore = cache
		checks = append(checks, handler.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	// ─── Event Bus ─────────────────────────────────────────────────────
	bus, err := events.NewBus(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create event bus")
	}
	publisher := events.NewPublisher(bus, log)
	defer publisher.Close()

	// ─── Lifecycle Manager + Deadline Scheduler ────────────────────────
	scheduler := worker.NewDeadlineScheduler(attempts, cfg.SchedulerRetryBase, cfg.SchedulerRetryMax, log)
	attemptService := service.NewAttemptService(attempts, examStore, scheduler, publisher, log)

	// Repair attempts a previous process claimed but never scored, then re-arm every
	// pending deadline. Overdue ones fire as soon as the scheduler starts.
	if n, err := attemptService.RecoverUnscored(ctx); err != nil {
		log.Error().Err(err).Msg("Unscored attempt recovery failed")
	} else if n > 0 {
		log.Info().Int("count", n).Msg("Rescored attempts")
	}
	if _, err := scheduler.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to recover pending deadlines")
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Start(workerCtx, attemptService.Expire)
		close(schedulerDone)
	}()

	// ─── Initialize Handlers ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	limiter := middleware.NewRateLimiter(workerCtx, cfg.RateLimitPerMinute, time.Minute)

	handlers := &router.Handlers{
		Attempt:      handler.NewAttemptHandler(attemptService),
		AdminAttempt: handler.NewAdminAttemptHandler(attemptService, log),
		WS:           handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins, cfg.WSStatusInterval),
		System:       handler.NewSystemHandler(scheduler, log, checks...),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiter, cfg, log)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the scheduler and wait for in-flight expiries. Unfired deadlines are
	// re-armed from storage on the next start.
	workerCancel()
	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Scheduler did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
