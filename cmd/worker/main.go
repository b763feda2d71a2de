package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"meauxbility_api/internal/app"
	"meauxbility_api/internal/config"
	"meauxbility_api/internal/tasks"
	"meauxbility_api/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, err := telemetry.NewLogger(cfg.AppEnv)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL not set")
	}

	a, err := app.New(cfg, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Fatal("failed to initialize services", zap.Error(err))
	}
	if err := a.Migrate(); err != nil {
		logger.Fatal("failed to run database migrations", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seedSchedule(ctx, a, logger)

	interval := cfg.WorkerInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	logger.Info("worker started", zap.Duration("interval", interval), zap.Strings("tasks", a.Tasks.Names()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce(ctx, a.Runner, logger)
	for {
		select {
		case <-ticker.C:
			runOnce(ctx, a.Runner, logger)
		case <-ctx.Done():
			logger.Info("shutting down worker")
			closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := a.Close(closeCtx); err != nil {
				logger.Error("failed to close services", zap.Error(err))
			}
			cancel()
			return
		}
	}
}

// seedSchedule makes sure the recurring donation jobs exist
func seedSchedule(ctx context.Context, a *app.App, logger *zap.Logger) {
	defaults, err := tasks.DefaultSchedule(time.Now().UTC())
	if err != nil {
		logger.Error("failed to build default schedule", zap.Error(err))
		return
	}
	for _, task := range defaults {
		created, err := tasks.EnsureScheduled(ctx, a.DB, task)
		if err != nil {
			logger.Error("failed to seed task", zap.String("task_name", task.TaskName), zap.Error(err))
			continue
		}
		if created {
			logger.Info("scheduled recurring task", zap.String("task_name", task.TaskName), zap.Stringp("rule", task.RecurringInterval))
		}
	}
}

func runOnce(ctx context.Context, runner *tasks.Runner, logger *zap.Logger) {
	ran, err := runner.RunDue(ctx)
	if err != nil {
		logger.Error("failed to process scheduled tasks", zap.Error(err))
		return
	}
	if ran > 0 {
		logger.Info("processed scheduled tasks", zap.Int("count", ran))
	}
}
