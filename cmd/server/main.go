// Package main provides the API server entry point for the prize
// distribution engine. The server also runs the scheduler and transaction
// monitor, so a single process is a complete deployment; cmd/worker runs
// the loops headless for split deployments.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prize-distributor/internal/api"
	"github.com/prize-distributor/internal/config"
	"github.com/prize-distributor/internal/control"
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
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("structured logging initialized")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Error("failed to connect to Postgres")
		os.Exit(1)
	}
	defer postgres.Close()

	healthCache, err := storage.NewHealthCache(&cfg.Database.Redis, cfg.Admin.HealthCacheTTL)
	if err != nil {
		logger.WithError(err).Warn("failed to connect to Redis, health snapshots will not be cached")
		healthCache = nil
	} else {
		defer healthCache.Close()
	}

	gw, err := gateway.NewEthereumGateway(&cfg.Chain, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize chain gateway")
		os.Exit(1)
	}
	defer gw.Close()

	jobRepo := storage.NewJobRepository(postgres)
	recordRepo := storage.NewRecordRepository(postgres)
	stopRepo := storage.NewStopRepository(postgres)
	auditRepo := storage.NewAuditRepository(postgres)
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

	controlService, err := control.NewControlService(&control.Config{
		DB:            postgres,
		JobRepo:       jobRepo,
		RecordRepo:    recordRepo,
		StopRepo:      stopRepo,
		AuditRepo:     auditRepo,
		HackathonRepo: hackathonRepo,
		HealthCache:   healthCache,
		Scheduler:     sched,
		Gateway:       gw,
		Logger:        logger,
	})
	if err != nil {
		logger.WithError(err).Error("failed to create control service")
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

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		AdminAPIToken:   cfg.Admin.APIToken,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}

	server := api.NewServer(serverConfig, controlService, sched, jobRepo, recordRepo)

	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("server stopped")
			cancel()
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server forced to shutdown")
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("scheduler shutdown failed")
	}
	if err := txMonitor.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("transaction monitor shutdown failed")
	}

	logger.Info("shutdown complete")
}
