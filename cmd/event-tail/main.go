// Command event-tail attaches to the entry-events queue and prints each
// entry-created event as a JSON line. Meant for operations and debugging:
// verifying that sweeps publish, inspecting a backlog, feeding jq.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"paisa/internal/amqp"
	"paisa/internal/config"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for event-tail")
		os.Exit(1)
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to connect to AMQP", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Tailing entry events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)

	enc := json.NewEncoder(os.Stdout)
	err = client.ConsumeEntryCreated(ctx, func(msg *amqp.EntryCreatedMessage) error {
		return enc.Encode(msg)
	})
	if err != nil && ctx.Err() == nil {
		logger.Error("Consume failed", "error", err)
		os.Exit(1)
	}
}
