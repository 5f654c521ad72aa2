package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"paisa/internal/amqp"
	"paisa/internal/config"
	"paisa/internal/scheduler"
	"paisa/internal/services"
	"paisa/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("Starting recurring-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// AMQP is optional; without it entries are generated but no events are
	// published downstream.
	var publisher services.EntryPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without event publishing", "error", err)
		} else {
			defer client.Close()
			publisher = client
			logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	} else {
		logger.Info("AMQP disabled, entry events will not be published")
	}

	processor := services.NewSweepProcessor(repo, publisher, cfg.SweepWorkers, cfg.TemplateTimeout)

	sched, err := scheduler.New(processor, scheduler.Options{
		CronSpec: cfg.SweepSchedule,
		Interval: cfg.SweepInterval,
	})
	if err != nil {
		logger.Error("Failed to configure sweep scheduler", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Sweep configured",
		"schedule", cfg.SweepSchedule,
		"workers", cfg.SweepWorkers,
		"sqlite_db", cfg.SQLiteDBPath)

	// Catch up on any backlog accumulated while the worker was down.
	logger.Info("Running startup sweep")
	if report, err := processor.RunSweep(ctx); err != nil {
		logger.Error("Startup sweep failed", "error", err)
	} else {
		logger.Info("Startup sweep complete",
			"sweep_id", report.SweepID,
			"due", report.Due,
			"succeeded", report.Succeeded,
			"failed", report.Failed)
	}

	sched.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Recurring-worker shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}
