package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/alert"
	"tally/internal/amqp"
	"tally/internal/cache"
	"tally/internal/config"
	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/services"
	"tally/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)

	logger.Info("Starting recurrence-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize storage", log.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	// The broker is optional: without it budget figures self-heal on the
	// next read instead of being recomputed eagerly.
	var publisher services.RecomputePublisher
	var notifier alert.Notifier = alert.NewLogNotifier(logger)
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRecomputeQueue, cfg.AMQPAlertQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without broker", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			notifier = amqpClient
			logger.Info("AMQP client initialized")
		}
	} else {
		logger.Info("AMQP disabled - budget recomputes run on read")
	}

	usageCache := cache.NewLRU[core.BudgetUsage](cfg.BudgetCacheSize, cfg.BudgetCacheTTL)
	budgets := services.NewBudgetService(repo, usageCache, publisher, notifier, logger)
	ledger := services.NewLedgerService(repo, budgets, logger, cfg.LedgerTimeout)
	schedule := services.NewScheduleService(repo, ledger, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Recurrence sweep configured",
		"interval", cfg.SweepInterval,
		"lookback", cfg.SweepLookback,
		"sqlite_db", cfg.SQLiteDBPath)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	// Run an initial sweep on startup.
	if count, err := schedule.MaterializeDue(ctx, time.Now(), cfg.SweepLookback); err != nil {
		logger.Error("Initial sweep failed", log.FieldError, err)
	} else {
		logger.Info("Initial sweep complete", log.FieldCount, count)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				count, err := schedule.MaterializeDue(ctx, now, cfg.SweepLookback)
				if err != nil {
					logger.Error("Periodic sweep failed", log.FieldError, err)
				} else {
					logger.Info("Periodic sweep complete",
						log.FieldCount, count,
						"next_check", now.Add(cfg.SweepInterval).Format("15:04:05"))
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())
	cancel()

	// Give the in-flight sweep a moment to finish.
	time.Sleep(2 * time.Second)
	logger.Info("Recurrence-worker shutdown complete")
}
