// Package main is the entrypoint for the AdScope API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adscope/adscope/internal/api"
	"github.com/adscope/adscope/internal/api/handler"
	mw "github.com/adscope/adscope/internal/api/middleware"
	"github.com/adscope/adscope/internal/cache"
	"github.com/adscope/adscope/internal/config"
	"github.com/adscope/adscope/internal/credits"
	"github.com/adscope/adscope/internal/evaluator"
	"github.com/adscope/adscope/internal/media"
	"github.com/adscope/adscope/internal/notify"
	"github.com/adscope/adscope/internal/pipeline"
	"github.com/adscope/adscope/internal/scoring"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "evaluator_provider", cfg.Evaluator.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create collaborators
	evalProvider, err := evaluator.NewProvider(cfg.Evaluator)
	if err != nil {
		return fmt.Errorf("create evaluator provider: %w", err)
	}
	slog.Info("evaluator provider initialized", "provider", evalProvider.Name())

	mediaClient := media.NewHTTPClient(cfg.Media, slog.Default())

	var notifier models.Notifier = notify.NopNotifier{}
	if cfg.Notify.SlackWebhookURL != "" {
		notifier = notify.NewSlackNotifier(cfg.Notify.SlackWebhookURL)
		slog.Info("slack notifications enabled")
	}

	// 6. Create store and pipeline
	pgStore := store.NewPostgresStore(pool)

	background := pipeline.NewBackground(slog.Default())
	defer background.Close()

	benchmarks := scoring.NewBenchmarkEngine(pgStore, slog.Default())
	slots := credits.NewSlotTable()
	orchestrator := pipeline.NewOrchestrator(evalProvider, mediaClient,
		pipeline.NewEvalCache(), redisCache, benchmarks, background, slog.Default())
	service := pipeline.NewService(pgStore, redisCache, orchestrator, slots,
		benchmarks, background, notifier, slog.Default(), cfg.Pipeline, cfg.Server.PublicBaseURL)

	reaper := pipeline.NewReaper(pgStore, slots,
		cfg.Pipeline.StaleThreshold, cfg.Pipeline.ReaperInterval, slog.Default())
	if err := reaper.Start(); err != nil {
		return fmt.Errorf("start reaper: %w", err)
	}
	defer reaper.Stop()
	slog.Info("stale job reaper started",
		"threshold", cfg.Pipeline.StaleThreshold, "interval", cfg.Pipeline.ReaperInterval)

	// 7. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Server.RateLimitRPM)
	uploadDir := filepath.Join(os.TempDir(), "adscope-uploads")

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:       handler.NewHealthHandler(pgStore, redisCache),
		EvaluateHandler:     handler.NewEvaluateHandler(service, pgStore, uploadDir),
		GetJobHandler:       handler.NewGetJobHandler(service),
		CancelJobHandler:    handler.NewCancelJobHandler(service),
		GetReportHandler:    handler.NewGetReportHandler(service),
		CreditsHandler:      handler.NewCreditsHandler(pgStore),
		CreateKeyHandler:    handler.NewCreateKeyHandler(pgStore),
		GrantCreditsHandler: handler.NewGrantCreditsHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Evaluations stream progress for minutes; the write timeout must
		// outlive the evaluation deadline.
		WriteTimeout: cfg.Pipeline.EvaluationTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
