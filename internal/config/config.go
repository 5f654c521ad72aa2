package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Sweep scheduling. SweepSchedule is a cron expression (e.g. "30 2 * * *"
	// for once daily at 02:30). When empty, the worker falls back to a plain
	// ticker at SweepInterval.
	SweepSchedule string
	SweepInterval time.Duration

	// Per-sweep concurrency and per-template timeout.
	SweepWorkers    int
	TemplateTimeout time.Duration
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/paisa.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "paisa"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		SweepSchedule: getEnv("SWEEP_SCHEDULE", "30 2 * * *"),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 24*time.Hour),

		SweepWorkers:    getEnvInt("SWEEP_WORKERS", 4),
		TemplateTimeout: getEnvDuration("TEMPLATE_TIMEOUT", 10*time.Second),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate SQLite path
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate sweep schedule
	if c.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.SweepSchedule); err != nil {
			errors = append(errors, fmt.Sprintf("invalid sweep schedule '%s': %v", c.SweepSchedule, err))
		}
	} else if c.SweepInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid sweep interval %v: must be at least 1 minute", c.SweepInterval))
	}

	// Validate sweep worker pool
	if c.SweepWorkers < 1 {
		errors = append(errors, fmt.Sprintf("invalid sweep workers %d: must be at least 1", c.SweepWorkers))
	} else if c.SweepWorkers > 64 {
		errors = append(errors, fmt.Sprintf("invalid sweep workers %d: must be at most 64", c.SweepWorkers))
	}

	if c.TemplateTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid template timeout %v: must be at least 1 second", c.TemplateTimeout))
	} else if c.TemplateTimeout > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid template timeout %v: must be at most 1 minute", c.TemplateTimeout))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
