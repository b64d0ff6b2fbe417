package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/fieldcrew/identity/internal/app"
	"github.com/fieldcrew/identity/internal/identity"
	jobmetrics "github.com/fieldcrew/identity/internal/jobs"
	"github.com/fieldcrew/identity/internal/personnel"
	"github.com/fieldcrew/identity/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	credentials := identity.NewClient(identity.Config{
		BaseURL:    cfg.AuthServiceURL,
		ServiceKey: cfg.AuthServiceKey,
		Timeout:    cfg.ExternalTimeout,
		RetryCount: cfg.ExternalRetryCount,
	})
	var directory jobs.PersonnelDeleter
	if cfg.PersonnelServiceURL != "" {
		directory = personnel.NewClient(cfg.PersonnelServiceURL, cfg.AuthServiceKey, cfg.ExternalTimeout)
	} else {
		logger.Warn("personnel service not configured")
	}

	cleanup := jobs.NewCleanupJob(credentials, directory, logger, jobmetrics.NewMetrics(nil))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    cleanup.Handlers(),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
