package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL            string
	AMQPExchange       string
	AMQPRecomputeQueue string
	AMQPAlertQueue     string

	// Ledger
	LedgerTimeout time.Duration

	// Recurrence worker
	SweepInterval time.Duration
	SweepLookback time.Duration

	// Budget usage cache
	BudgetCacheSize int
	BudgetCacheTTL  time.Duration
}

func Load() *Config {
	return &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/tally.db"),

		AMQPURL:            getEnv("AMQP_URL", ""),
		AMQPExchange:       getEnv("AMQP_EXCHANGE", "tally"),
		AMQPRecomputeQueue: getEnv("AMQP_RECOMPUTE_QUEUE", "budget_recompute"),
		AMQPAlertQueue:     getEnv("AMQP_ALERT_QUEUE", "budget_alerts"),

		LedgerTimeout: getEnvDuration("LEDGER_TIMEOUT", 5*time.Second),

		SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Hour),
		SweepLookback: getEnvDuration("SWEEP_LOOKBACK", 35*24*time.Hour),

		BudgetCacheSize: getEnvInt("BUDGET_CACHE_SIZE", 256),
		BudgetCacheTTL:  getEnvDuration("BUDGET_CACHE_TTL", 5*time.Minute),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errs []string

	if c.SQLiteDBPath == "" {
		errs = append(errs, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errs = append(errs, fmt.Sprintf("cannot create database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsed, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsed.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRecomputeQueue == "" {
			errs = append(errs, "AMQP recompute queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPAlertQueue == "" {
			errs = append(errs, "AMQP alert queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.LedgerTimeout < 100*time.Millisecond {
		errs = append(errs, fmt.Sprintf("invalid ledger timeout %v: must be at least 100ms", c.LedgerTimeout))
	} else if c.LedgerTimeout > time.Minute {
		errs = append(errs, fmt.Sprintf("invalid ledger timeout %v: must be at most 1 minute", c.LedgerTimeout))
	}

	if c.SweepInterval < time.Second {
		errs = append(errs, fmt.Sprintf("invalid sweep interval %v: must be at least 1 second", c.SweepInterval))
	} else if c.SweepInterval > 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid sweep interval %v: must be at most 24 hours", c.SweepInterval))
	}

	if c.SweepLookback < 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid sweep lookback %v: must be at least 24 hours", c.SweepLookback))
	}

	if c.BudgetCacheSize < 1 {
		errs = append(errs, fmt.Sprintf("invalid budget cache size %d: must be at least 1", c.BudgetCacheSize))
	}
	if c.BudgetCacheTTL < time.Second {
		errs = append(errs, fmt.Sprintf("invalid budget cache TTL %v: must be at least 1 second", c.BudgetCacheTTL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
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
