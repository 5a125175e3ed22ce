// Package main provides the headless worker entry point: the distribution
// scheduler and transaction monitor without the HTTP API. Used when the API
// and the loops are deployed separately.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prize-distributor/internal/config"
	"github.com/prize-distributor/internal/gateway"
	"github.com/prize-distributor/internal/logging"
	"github.com/prize-distributor/internal/monitor"
	"github.com/prize-distributor/internal/scheduler"
	"github.com/prize-distributor/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Global().WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logging.Init(logging.ParseLevel(cfg.Logging.Level), logging.ParseFormat(cfg.Logging.Format))
	logger := logging.Global()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Error("failed to connect to Postgres")
		os.Exit(1)
	}
	defer postgres.Close()

	gw, err := gateway.NewEthereumGateway(&cfg.Chain, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize chain gateway")
		os.Exit(1)
	}
	defer gw.Close()

	jobRepo := storage.NewJobRepository(postgres)
	recordRepo := storage.NewRecordRepository(postgres)
	stopRepo := storage.NewStopRepository(postgres)
	hackathonRepo := storage.NewHackathonRepository(postgres)

	sched, err := scheduler.New(&scheduler.Config{
		Gateway:       gw,
		JobRepo:       jobRepo,
		RecordRepo:    recordRepo,
		StopRepo:      stopRepo,
		HackathonRepo: hackathonRepo,
		TickInterval:  cfg.Scheduler.TickInterval,
		MaxRetries:    cfg.Scheduler.MaxRetries,
		RetryBackoff:  cfg.Scheduler.RetryBackoff,
		MaxBackoff:    cfg.Scheduler.MaxBackoff,
		Logger:        logger,
	})
	if err != nil {
		logger.WithError(err).Error("failed to create scheduler")
		os.Exit(1)
	}

	txMonitor, err := monitor.New(&monitor.Config{
		Gateway:           gw,
		RecordRepo:        recordRepo,
		PollInterval:      cfg.Monitor.PollInterval,
		ConfirmationDepth: cfg.Monitor.ConfirmationDepth,
		StuckTimeout:      cfg.Monitor.StuckTimeout,
		Logger:            logger,
	})
	if err != nil {
		logger.WithError(err).Error("failed to create transaction monitor")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		logger.WithError(err).Error("failed to start scheduler")
		os.Exit(1)
	}
	if err := txMonitor.Start(ctx); err != nil {
		logger.WithError(err).Error("failed to start transaction monitor")
		os.Exit(1)
	}

	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("scheduler shutdown failed")
	}
	if err := txMonitor.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("transaction monitor shutdown failed")
	}

	logger.Info("worker exited")
}
