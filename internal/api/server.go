// Package api provides the HTTP API server for the distribution engine.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/prize-distributor/internal/logging"
	"github.com/prize-distributor/internal/models"
	"github.com/prize-distributor/internal/scheduler"
	"github.com/prize-distributor/internal/storage"
	"github.com/prize-distributor/internal/types"
)

// Service interfaces for dependency injection and testing

// ControlServiceInterface defines the control plane operations the API exposes
type ControlServiceInterface interface {
	ActivateStop(ctx context.Context, adminAddress, reason string) (*types.OperationResult, error)
	DeactivateStop(ctx context.Context, adminAddress, reason string) (*types.OperationResult, error)
	StopStatus(ctx context.Context) (*models.EmergencyStopState, error)
	Execute(ctx context.Context, op types.AdminOperation) (*types.OperationResult, error)
	AuditTrail(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
	SystemHealth(ctx context.Context) *models.SystemHealthSnapshot
}

// SchedulerServiceInterface defines the scheduling operations the API exposes
type SchedulerServiceInterface interface {
	ScheduleDistribution(ctx context.Context, hackathonID int64, opts scheduler.ScheduleOptions) (*models.DistributionJob, error)
}

// JobReaderInterface defines the job queries the API exposes
type JobReaderInterface interface {
	ListRecent(ctx context.Context, limit int) ([]*models.DistributionJob, error)
	GetLatestByHackathon(ctx context.Context, hackathonID int64) (*models.DistributionJob, error)
}

// RecordReaderInterface defines the record queries the API exposes
type RecordReaderInterface interface {
	ListByHackathon(ctx context.Context, hackathonID int64) ([]*models.DistributionRecord, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	control    ControlServiceInterface
	scheduler  SchedulerServiceInterface
	jobs       JobReaderInterface
	records    RecordReaderInterface
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	AdminAPIToken   string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	control ControlServiceInterface,
	sched SchedulerServiceInterface,
	jobs JobReaderInterface,
	records RecordReaderInterface,
) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		control:   control,
		scheduler: sched,
		jobs:      jobs,
		records:   records,
		config:    config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Distribution job endpoints
	api.HandleFunc("/distribution-jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/distribution-jobs", s.handleScheduleJob).Methods("POST")
	api.HandleFunc("/distribution-jobs/{hackathonId}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/distribution-jobs/{hackathonId}/records", s.handleGetRecords).Methods("GET")

	// Admin endpoints, token-guarded
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(AdminAuthMiddleware(s.config.AdminAPIToken))

	admin.HandleFunc("/emergency-stop", s.handleActivateStop).Methods("POST")
	admin.HandleFunc("/emergency-stop/deactivate", s.handleDeactivateStop).Methods("POST")
	admin.HandleFunc("/emergency-stop/status", s.handleStopStatus).Methods("GET")
	admin.HandleFunc("/manual-distribution", s.handleManualDistribution).Methods("POST")
	admin.HandleFunc("/cancel-distribution", s.handleCancelDistribution).Methods("POST")
	admin.HandleFunc("/override-status", s.handleOverrideStatus).Methods("POST")
	admin.HandleFunc("/force-retry", s.handleForceRetry).Methods("POST")
	admin.HandleFunc("/system-health", s.handleSystemHealth).Methods("GET")
	admin.HandleFunc("/audit-trail", s.handleAuditTrail).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "prize-distributor",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Global().WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Global().Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the configured router, primarily for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
