package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/auth"
	"github.com/stemsi/exstem-client/internal/client"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/database"
	"github.com/stemsi/exstem-client/internal/handler"
	"github.com/stemsi/exstem-client/internal/logger"
	"github.com/stemsi/exstem-client/internal/monitor"
	"github.com/stemsi/exstem-client/internal/repository"
	"github.com/stemsi/exstem-client/internal/router"
	"github.com/stemsi/exstem-client/internal/service"
	"github.com/stemsi/exstem-client/internal/session"
	"github.com/stemsi/exstem-client/internal/validator"
	"github.com/stemsi/exstem-client/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.KioskPort).
		Str("mode", cfg.GinMode).
		Str("exam_api", cfg.APIBaseURL).
		Msg("Starting exam kiosk")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Optional: Result Archive (PostgreSQL) ─────────────────────────
	var store service.ResultStore
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.MaxDBConns, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		store = repository.NewResultRepository(pool)
	} else {
		log.Info().Msg("DATABASE_URL not set, result archive disabled")
	}

	// ─── Optional: Monitor Feed (Redis) ────────────────────────────────
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		var err error
		rdb, err = database.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
	} else {
		log.Info().Msg("REDIS_URL not set, monitor feed disabled")
	}
	publisher := monitor.NewPublisher(rdb, log)

	// ─── Initialize Services ──────────────────────────────────────────
	newClient := func(sc *auth.SessionContext) service.ExamAPI {
		return client.New(cfg.APIBaseURL, sc,
			client.WithTimeout(cfg.HTTPTimeout),
			client.WithLogger(log),
		)
	}

	opts := []session.Option{
		session.WithLogger(log),
		session.WithSyncQueueSize(cfg.AnswerSyncSize),
	}
	if rdb != nil {
		opts = append(opts, session.WithMonitor(publisher))
	}
	sessions := service.NewExamSessionService(newClient, store, log, opts...)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessions, log),
		WS:      handler.NewWSHandler(sessions, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(publisher, sessions, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	janitor := worker.NewSessionJanitor(sessions, worker.JanitorInterval, worker.UnreadResultTTL, log)
	go janitor.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(workerCtx, sessions, handlers, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.KioskPort,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.KioskPort).Msg("Kiosk listening")
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

	// 2. Abandon hosted sessions; their answer queues drain before this returns.
	sessions.Shutdown()

	// 3. Stop background workers.
	workerCancel()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
