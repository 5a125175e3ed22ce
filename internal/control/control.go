// Package control implements the operations control plane: the emergency
// stop, privileged admin operations, the audit trail, and the system health
// snapshot. Every privileged mutation is audited; for database-only actions
// the audit row commits in the same transaction as the action itself.
package control

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/prize-distributor/internal/errors"
	"github.com/prize-distributor/internal/gateway"
	"github.com/prize-distributor/internal/logging"
	"github.com/prize-distributor/internal/models"
	"github.com/prize-distributor/internal/scheduler"
	"github.com/prize-distributor/internal/storage"
	"github.com/prize-distributor/internal/types"
)

// ControlService executes privileged operations against the distribution engine
type ControlService struct {
	db            *storage.PostgresDB
	jobRepo       *storage.JobRepository
	recordRepo    *storage.RecordRepository
	stopRepo      *storage.StopRepository
	auditRepo     *storage.AuditRepository
	hackathonRepo *storage.HackathonRepository
	healthCache   *storage.HealthCache
	scheduler     *scheduler.DistributionScheduler
	gw            gateway.Gateway
	logger        *logging.Logger
}

// Config holds dependencies for the control service
type Config struct {
	DB            *storage.PostgresDB
	JobRepo       *storage.JobRepository
	RecordRepo    *storage.RecordRepository
	StopRepo      *storage.StopRepository
	AuditRepo     *storage.AuditRepository
	HackathonRepo *storage.HackathonRepository
	HealthCache   *storage.HealthCache
	Scheduler     *scheduler.DistributionScheduler
	Gateway       gateway.Gateway
	Logger        *logging.Logger
}

// NewControlService creates a new control service
func NewControlService(cfg *Config) (*ControlService, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	if cfg.StopRepo == nil || cfg.AuditRepo == nil {
		return nil, fmt.Errorf("stop and audit repositories cannot be nil")
	}
	if cfg.Scheduler == nil {
		return nil, fmt.Errorf("scheduler cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}

	return &ControlService{
		db:            cfg.DB,
		jobRepo:       cfg.JobRepo,
		recordRepo:    cfg.RecordRepo,
		stopRepo:      cfg.StopRepo,
		auditRepo:     cfg.AuditRepo,
		hackathonRepo: cfg.HackathonRepo,
		healthCache:   cfg.HealthCache,
		scheduler:     cfg.Scheduler,
		gw:            cfg.Gateway,
		logger:        logger.WithComponent("control"),
	}, nil
}

// withAudit runs fn inside one transaction with its audit entry. The audit
// row is inserted first; if fn fails, both roll back together, so the trail
// never shows an action that did not happen and no action happens untrailed.
func (s *ControlService) withAudit(ctx context.Context, entry *models.AuditEntry, fn func(q storage.Querier) error) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	if err := s.auditRepo.Insert(ctx, tx, entry); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit audited operation: %w", err)
	}
	return nil
}

func (s *ControlService) invalidateHealthCache(ctx context.Context) {
	if s.healthCache == nil {
		return
	}
	if err := s.healthCache.Invalidate(ctx); err != nil {
		s.logger.WithError(err).Warn("failed to invalidate health cache")
	}
}

// ActivateStop turns on the emergency stop. Activation is idempotent: an
// already-active stop stays active and the new reason is appended.
func (s *ControlService) ActivateStop(ctx context.Context, adminAddress, reason string) (*types.OperationResult, error) {
	if err := types.ValidateWalletAddress(adminAddress); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, &types.ServiceError{Code: "REASON_REQUIRED", Message: "a reason is required to activate the emergency stop"}
	}

	var flipped bool
	entry := &models.AuditEntry{
		Action:       types.ActionEmergencyStop,
		AdminAddress: adminAddress,
		Reason:       reason,
	}
	err := s.withAudit(ctx, entry, func(q storage.Querier) error {
		var err error
		flipped, err = s.stopRepo.Activate(ctx, q, adminAddress, reason)
		return err
	})
	if err != nil {
		return &types.OperationResult{Success: false, Message: "failed to activate emergency stop", Error: err.Error()}, nil
	}

	s.invalidateHealthCache(ctx)
	s.logger.WithFields(map[string]interface{}{
		"admin":  adminAddress,
		"reason": reason,
	}).Warn("emergency stop activated")

	message := "emergency stop activated"
	if !flipped {
		message = "emergency stop already active, reason recorded"
	}
	state, stateErr := s.stopRepo.Get(ctx)
	if stateErr != nil {
		return &types.OperationResult{Success: true, Message: message}, nil
	}
	return &types.OperationResult{Success: true, Message: message, Data: state}, nil
}

// DeactivateStop turns off the emergency stop. The accumulated reason log
// survives deactivation.
func (s *ControlService) DeactivateStop(ctx context.Context, adminAddress, reason string) (*types.OperationResult, error) {
	if err := types.ValidateWalletAddress(adminAddress); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, &types.ServiceError{Code: "REASON_REQUIRED", Message: "a reason is required to deactivate the emergency stop"}
	}

	var flipped bool
	entry := &models.AuditEntry{
		Action:       types.ActionEmergencyResume,
		AdminAddress: adminAddress,
		Reason:       reason,
	}
	err := s.withAudit(ctx, entry, func(q storage.Querier) error {
		var err error
		flipped, err = s.stopRepo.Deactivate(ctx, q)
		return err
	})
	if err != nil {
		return &types.OperationResult{Success: false, Message: "failed to deactivate emergency stop", Error: err.Error()}, nil
	}

	s.invalidateHealthCache(ctx)
	s.logger.WithFields(map[string]interface{}{
		"admin":  adminAddress,
		"reason": reason,
	}).Info("emergency stop deactivated")

	message := "emergency stop deactivated"
	if !flipped {
		message = "emergency stop was not active"
	}
	state, stateErr := s.stopRepo.Get(ctx)
	if stateErr != nil {
		return &types.OperationResult{Success: true, Message: message}, nil
	}
	return &types.OperationResult{Success: true, Message: message, Data: state}, nil
}

// StopStatus returns the current emergency stop state with its reason log
func (s *ControlService) StopStatus(ctx context.Context) (*models.EmergencyStopState, error) {
	return s.stopRepo.Get(ctx)
}

// Execute validates and dispatches a privileged admin operation. Validation
// failures return an error (malformed input); action failures are reported
// inside the result envelope.
func (s *ControlService) Execute(ctx context.Context, op types.AdminOperation) (*types.OperationResult, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	switch v := op.(type) {
	case *types.ManualDistribution:
		return s.executeManualDistribution(ctx, v), nil
	case *types.Cancellation:
		return s.executeCancellation(ctx, v), nil
	case *types.StatusOverride:
		return s.executeStatusOverride(ctx, v), nil
	case *types.ForceRetry:
		return s.executeForceRetry(ctx, v), nil
	default:
		return nil, fmt.Errorf("%w: unknown admin operation %T", errors.ErrInvalidArgument, op)
	}
}

// executeManualDistribution schedules a distribution on demand. The audit
// entry commits before scheduling: the trail records the attempt even when
// the chain-facing part fails afterwards.
func (s *ControlService) executeManualDistribution(ctx context.Context, op *types.ManualDistribution) *types.OperationResult {
	hid := op.HackathonID
	entry := &models.AuditEntry{
		Action:       op.Action(),
		HackathonID:  &hid,
		AdminAddress: op.AdminAddress,
		Reason:       op.Reason,
		Details:      map[string]interface{}{"bypassChecks": op.BypassChecks},
	}
	if err := s.auditRepo.Insert(ctx, s.db.Pool(), entry); err != nil {
		return &types.OperationResult{Success: false, Message: "failed to record audit entry", Error: err.Error()}
	}

	job, err := s.scheduler.ScheduleDistribution(ctx, op.HackathonID, scheduler.ScheduleOptions{
		BypassChecks: op.BypassChecks,
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrDuplicateJob) {
			return &types.OperationResult{
				Success: false,
				Message: fmt.Sprintf("a distribution job for hackathon %d is already in progress", op.HackathonID),
				Error:   errors.Code(err),
			}
		}
		return &types.OperationResult{Success: false, Message: "failed to schedule distribution", Error: err.Error()}
	}

	// Manual means now, not next tick.
	go func() {
		bgCtx := logging.WithLogger(context.Background(), s.logger)
		if err := s.scheduler.ProcessJob(bgCtx, job.ID); err != nil {
			s.logger.WithError(err).WithField("jobId", job.ID).Warn("manual distribution processing failed")
		}
	}()

	s.invalidateHealthCache(ctx)
	return &types.OperationResult{
		Success: true,
		Message: fmt.Sprintf("distribution scheduled for hackathon %d", op.HackathonID),
		Data:    job,
	}
}

// executeCancellation cancels the hackathon's active job and its
// non-completed records. Confirmed payouts stay COMPLETED.
func (s *ControlService) executeCancellation(ctx context.Context, op *types.Cancellation) *types.OperationResult {
	job, err := s.jobRepo.GetActiveByHackathon(ctx, op.HackathonID)
	if err != nil {
		if stderrors.Is(err, errors.ErrJobNotFound) {
			return &types.OperationResult{
				Success: false,
				Message: fmt.Sprintf("no active distribution job for hackathon %d", op.HackathonID),
				Error:   errors.Code(err),
			}
		}
		return &types.OperationResult{Success: false, Message: "failed to look up distribution job", Error: err.Error()}
	}

	hid := op.HackathonID
	var cancelled int
	entry := &models.AuditEntry{
		Action:       op.Action(),
		HackathonID:  &hid,
		AdminAddress: op.AdminAddress,
		Reason:       op.Reason,
		Details: map[string]interface{}{
			"jobId":           job.ID,
			"refundPrizePool": op.RefundPrizePool,
		},
	}
	err = s.withAudit(ctx, entry, func(q storage.Querier) error {
		if err := s.jobRepo.MarkCancelled(ctx, q, job.ID, op.RefundPrizePool); err != nil {
			return err
		}
		var err error
		cancelled, err = s.recordRepo.CancelForHackathon(ctx, q, op.HackathonID)
		return err
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidTransition) {
			return &types.OperationResult{
				Success: false,
				Message: fmt.Sprintf("distribution job %d is already in a terminal state", job.ID),
				Error:   errors.Code(err),
			}
		}
		return &types.OperationResult{Success: false, Message: "failed to cancel distribution", Error: err.Error()}
	}

	s.scheduler.ClearGasOverrides(op.HackathonID)
	s.invalidateHealthCache(ctx)
	s.logger.WithFields(map[string]interface{}{
		"hackathonId": op.HackathonID,
		"jobId":       job.ID,
		"cancelled":   cancelled,
		"admin":       op.AdminAddress,
	}).Info("distribution cancelled")

	return &types.OperationResult{
		Success: true,
		Message: fmt.Sprintf("distribution cancelled, %d payouts cancelled", cancelled),
		Data: map[string]interface{}{
			"jobId":            job.ID,
			"recordsCancelled": cancelled,
			"refundRequested":  op.RefundPrizePool,
		},
	}
}

// executeStatusOverride forces the hackathon's mirrored phase. Without
// bypass the declared transition must match the current phase and be a
// normal forward step.
func (s *ControlService) executeStatusOverride(ctx context.Context, op *types.StatusOverride) *types.OperationResult {
	if !op.BypassValidation {
		if s.hackathonRepo != nil {
			current, ok, err := s.hackathonRepo.GetStatus(ctx, op.HackathonID)
			if err != nil {
				return &types.OperationResult{Success: false, Message: "failed to read hackathon status", Error: err.Error()}
			}
			if ok && current.Status != op.FromStatus {
				return &types.OperationResult{
					Success: false,
					Message: fmt.Sprintf("hackathon %d is in phase %s, not %s", op.HackathonID, current.Status, op.FromStatus),
					Error:   "STATUS_MISMATCH",
				}
			}
		}
		if !types.ValidPhaseTransition(op.FromStatus, op.ToStatus) {
			return &types.OperationResult{
				Success: false,
				Message: fmt.Sprintf("%s -> %s is not a valid phase transition", op.FromStatus, op.ToStatus),
				Error:   "INVALID_TRANSITION",
			}
		}
	}

	hid := op.HackathonID
	entry := &models.AuditEntry{
		Action:       op.Action(),
		HackathonID:  &hid,
		AdminAddress: op.AdminAddress,
		Reason:       op.Reason,
		Details: map[string]interface{}{
			"fromStatus":       op.FromStatus,
			"toStatus":         op.ToStatus,
			"bypassValidation": op.BypassValidation,
		},
	}
	err := s.withAudit(ctx, entry, func(q storage.Querier) error {
		return s.hackathonRepo.SetStatus(ctx, q, op.HackathonID, op.ToStatus)
	})
	if err != nil {
		return &types.OperationResult{Success: false, Message: "failed to override hackathon status", Error: err.Error()}
	}

	s.logger.WithFields(map[string]interface{}{
		"hackathonId": op.HackathonID,
		"from":        op.FromStatus,
		"to":          op.ToStatus,
		"admin":       op.AdminAddress,
	}).Warn("hackathon status overridden")

	return &types.OperationResult{
		Success: true,
		Message: fmt.Sprintf("hackathon %d status set to %s", op.HackathonID, op.ToStatus),
	}
}

// executeForceRetry reopens the hackathon's failed payouts with a fresh
// retry budget and optional admin gas parameters. Completed and cancelled
// payouts are untouched.
func (s *ControlService) executeForceRetry(ctx context.Context, op *types.ForceRetry) *types.OperationResult {
	job, err := s.jobRepo.GetLatestByHackathon(ctx, op.HackathonID)
	if err != nil {
		if stderrors.Is(err, errors.ErrJobNotFound) {
			return &types.OperationResult{
				Success: false,
				Message: fmt.Sprintf("no distribution job for hackathon %d", op.HackathonID),
				Error:   errors.Code(err),
			}
		}
		return &types.OperationResult{Success: false, Message: "failed to look up distribution job", Error: err.Error()}
	}

	hid := op.HackathonID
	var reopened int
	entry := &models.AuditEntry{
		Action:       op.Action(),
		HackathonID:  &hid,
		AdminAddress: op.AdminAddress,
		Reason:       "force retry of failed payouts",
		Details: map[string]interface{}{
			"jobId":          job.ID,
			"customGasPrice": op.CustomGasPrice,
			"customGasLimit": op.CustomGasLimit,
		},
	}
	err = s.withAudit(ctx, entry, func(q storage.Querier) error {
		var err error
		reopened, err = s.recordRepo.ReopenFailed(ctx, q, op.HackathonID)
		if err != nil {
			return err
		}
		if reopened == 0 {
			return fmt.Errorf("no failed payouts to retry")
		}
		if job.Status == types.JobFailed {
			return s.jobRepo.Reschedule(ctx, q, job.ID)
		}
		return nil
	})
	if err != nil {
		return &types.OperationResult{Success: false, Message: "force retry failed", Error: err.Error()}
	}

	if overrides := gasOverridesFromOp(op); overrides != nil {
		s.scheduler.SetGasOverrides(op.HackathonID, overrides)
	}

	go func() {
		bgCtx := logging.WithLogger(context.Background(), s.logger)
		if err := s.scheduler.ProcessJob(bgCtx, job.ID); err != nil {
			s.logger.WithError(err).WithField("jobId", job.ID).Warn("force retry processing failed")
		}
	}()

	s.invalidateHealthCache(ctx)
	s.logger.WithFields(map[string]interface{}{
		"hackathonId": op.HackathonID,
		"jobId":       job.ID,
		"reopened":    reopened,
		"admin":       op.AdminAddress,
	}).Info("failed payouts reopened for retry")

	return &types.OperationResult{
		Success: true,
		Message: fmt.Sprintf("%d failed payouts reopened for retry", reopened),
		Data: map[string]interface{}{
			"jobId":           job.ID,
			"recordsReopened": reopened,
		},
	}
}

func gasOverridesFromOp(op *types.ForceRetry) *gateway.GasOverrides {
	if op.CustomGasPrice == "" && op.CustomGasLimit == 0 {
		return nil
	}
	overrides := &gateway.GasOverrides{GasLimit: op.CustomGasLimit}
	if op.CustomGasPrice != "" {
		// Validate() already checked the format.
		price, err := types.ParseAmount(op.CustomGasPrice)
		if err == nil {
			overrides.GasPrice = price
		}
	}
	return overrides
}

// AuditTrail returns audit entries matching the filter, newest first
func (s *ControlService) AuditTrail(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return s.auditRepo.List(ctx, filter)
}

// SystemHealth computes the operational snapshot. It never returns an error:
// a source that cannot be read marks the snapshot degraded and the remaining
// counts are best-effort.
func (s *ControlService) SystemHealth(ctx context.Context) *models.SystemHealthSnapshot {
	if s.healthCache != nil {
		if cached, ok, err := s.healthCache.Get(ctx); err == nil && ok {
			return cached
		} else if err != nil {
			s.logger.WithError(err).Debug("health cache read failed")
		}
	}

	snapshot := &models.SystemHealthSnapshot{
		GeneratedAt: time.Now().UTC(),
		Alerts:      []models.HealthAlert{},
	}

	stopActive, err := s.stopRepo.IsActive(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("health: failed to read emergency stop")
		snapshot.Degraded = true
	} else {
		snapshot.EmergencyStopActive = stopActive
		if stopActive {
			snapshot.Alerts = append(snapshot.Alerts, models.HealthAlert{
				Severity: models.SeverityCritical,
				Message:  "emergency stop is active, payout submissions are suspended",
			})
		}
	}

	if jobCounts, err := s.jobRepo.CountByStatus(ctx); err != nil {
		s.logger.WithError(err).Warn("health: failed to count jobs")
		snapshot.Degraded = true
	} else {
		snapshot.ActiveDistributions = jobCounts[types.JobProcessing]
		snapshot.QueueDepth = jobCounts[types.JobScheduled]
	}

	if recordCounts, err := s.recordRepo.CountByStatus(ctx); err != nil {
		s.logger.WithError(err).Warn("health: failed to count records")
		snapshot.Degraded = true
	} else {
		snapshot.FailedTransactions = recordCounts[types.RecordFailed]
		if snapshot.FailedTransactions > 0 {
			snapshot.Alerts = append(snapshot.Alerts, models.HealthAlert{
				Severity: models.SeverityWarning,
				Message:  fmt.Sprintf("%d payouts have failed terminally", snapshot.FailedTransactions),
			})
		}
	}

	if pendingTx, err := s.recordRepo.CountPendingWithTx(ctx); err != nil {
		s.logger.WithError(err).Warn("health: failed to count pending transactions")
		snapshot.Degraded = true
	} else {
		snapshot.PendingTransactions = pendingTx
	}

	if s.gw != nil && s.gw.ReadOnly() {
		snapshot.Alerts = append(snapshot.Alerts, models.HealthAlert{
			Severity: models.SeverityWarning,
			Message:  "chain gateway is read-only, no operator key configured",
		})
	}

	if snapshot.Degraded {
		snapshot.Alerts = append(snapshot.Alerts, models.HealthAlert{
			Severity: models.SeverityInfo,
			Message:  "one or more health sources were unreachable, counts are best-effort",
		})
	}

	if s.healthCache != nil {
		if err := s.healthCache.Set(ctx, snapshot); err != nil {
			s.logger.WithError(err).Debug("health cache write failed")
		}
	}

	return snapshot
}
