package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/config"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/database"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/draft"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/handler"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/logger"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/repository"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/router"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/service"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/validator"
	"github.com/putrasoegamaland/lms-sekolah-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting LMS Sekolah Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	assessmentRepo := repository.NewAssessmentRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	drafts := draft.NewRedisCache(rdb)
	finalizeQueue := draft.NewRedisFinalizeQueue(rdb)

	authService := service.NewAuthService(cfg)
	assessmentService := service.NewAssessmentService(assessmentRepo, questionRepo, rdb, log)
	attemptService := service.NewAttemptService(attemptRepo, assessmentService, drafts, rdb, log)
	monitorService := service.NewMonitorService(monitorRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Student: handler.NewStudentHandler(attemptService, assessmentService),
		WS: handler.NewWSHandler(
			assessmentService,
			attemptService,
			drafts,
			finalizeQueue,
			log,
			cfg.AllowedOrigins,
			cfg.AttemptTick,
		),
		Monitor: handler.NewMonitorHandler(rdb, assessmentService, monitorService, log),
		System:  handler.NewSystemHandler(rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	answerSyncWorker := worker.NewAnswerSyncWorker(pool, rdb, log)
	violationWorker := worker.NewViolationWorker(pool, rdb, log)
	finalizeWorker := worker.NewFinalizeWorker(pool, rdb, log)
	questionOrderWorker := worker.NewQuestionOrderWorker(pool, rdb, log)

	go answerSyncWorker.Start(workerCtx)
	go violationWorker.Start(workerCtx)
	go finalizeWorker.Start(workerCtx)
	go questionOrderWorker.Start(workerCtx)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load all published assessments into Redis BEFORE accepting traffic.
	// This avoids race conditions from lazy loading under thundering herd.
	if err := assessmentService.PrewarmAllCaches(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
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

	// 2. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
