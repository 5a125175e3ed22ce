// Package scheduler implements the distribution scheduler: the single writer
// of the distribution state machine. It schedules payout jobs, submits
// per-recipient transactions through the chain gateway, and acts on the
// transaction monitor's observations.
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/prize-distributor/internal/errors"
	"github.com/prize-distributor/internal/gateway"
	"github.com/prize-distributor/internal/logging"
	"github.com/prize-distributor/internal/models"
	"github.com/prize-distributor/internal/retry"
	"github.com/prize-distributor/internal/types"
)

const jobBatchSize = 50

// Store interfaces cover the repository slices the scheduler depends on.
// Satisfied by the concrete repositories in internal/storage.

// JobStore is the job repository surface the scheduler uses
type JobStore interface {
	CreateJob(ctx context.Context, job *models.DistributionJob, records []*models.DistributionRecord) (*models.DistributionJob, error)
	GetByID(ctx context.Context, id int64) (*models.DistributionJob, error)
	ListDue(ctx context.Context, limit int) ([]*models.DistributionJob, error)
	ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.DistributionJob, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
}

// RecordStore is the record repository surface the scheduler uses
type RecordStore interface {
	ListByHackathon(ctx context.Context, hackathonID int64) ([]*models.DistributionRecord, error)
	ListPendingByHackathon(ctx context.Context, hackathonID int64) ([]*models.DistributionRecord, error)
	RecordSubmission(ctx context.Context, recordID string, attempt *models.SubmissionAttempt) error
	MarkFailed(ctx context.Context, recordID, lastError string) error
	IncrementRetry(ctx context.Context, recordID, lastError string) (int, error)
}

// StopStore reads the emergency stop flag
type StopStore interface {
	IsActive(ctx context.Context) (bool, error)
}

// HackathonStore reads the mirrored hackathon phase
type HackathonStore interface {
	GetStatus(ctx context.Context, hackathonID int64) (*models.HackathonStatus, bool, error)
}

// DistributionScheduler drives distribution jobs from SCHEDULED to a
// terminal state. All job and record transitions flow through here or
// through the control plane; the monitor only observes.
type DistributionScheduler struct {
	gw            gateway.Gateway
	jobRepo       JobStore
	recordRepo    RecordStore
	stopRepo      StopStore
	hackathonRepo HackathonStore

	tickInterval time.Duration
	maxRetries   int
	readRetry    *retry.Config

	locks  *keyedMutex
	logger *logging.Logger

	// Admin-supplied gas parameters for force retries, keyed by hackathon.
	// Consumed until the job reaches a terminal state.
	overridesMu  sync.Mutex
	gasOverrides map[int64]*gateway.GasOverrides

	running      bool
	mu           sync.RWMutex
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastTickTime time.Time
}

// Config holds configuration for the distribution scheduler
type Config struct {
	Gateway       gateway.Gateway
	JobRepo       JobStore
	RecordRepo    RecordStore
	StopRepo      StopStore
	HackathonRepo HackathonStore
	TickInterval  time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	MaxBackoff    time.Duration
	Logger        *logging.Logger
}

// New creates a new distribution scheduler
func New(cfg *Config) (*DistributionScheduler, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if cfg.JobRepo == nil || cfg.RecordRepo == nil {
		return nil, fmt.Errorf("job and record repositories cannot be nil")
	}
	if cfg.StopRepo == nil {
		return nil, fmt.Errorf("stop repository cannot be nil")
	}

	tickInterval := cfg.TickInterval
	if tickInterval == 0 {
		tickInterval = 15 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 4
	}
	readRetry := &retry.Config{
		MaxAttempts:  3,
		InitialDelay: cfg.RetryBackoff,
		MaxDelay:     cfg.MaxBackoff,
		Multiplier:   2.0,
	}
	if readRetry.InitialDelay == 0 {
		readRetry.InitialDelay = 2 * time.Second
	}
	if readRetry.MaxDelay == 0 {
		readRetry.MaxDelay = 60 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}

	return &DistributionScheduler{
		gw:            cfg.Gateway,
		jobRepo:       cfg.JobRepo,
		recordRepo:    cfg.RecordRepo,
		stopRepo:      cfg.StopRepo,
		hackathonRepo: cfg.HackathonRepo,
		tickInterval:  tickInterval,
		maxRetries:    maxRetries,
		readRetry:     readRetry,
		locks:         newKeyedMutex(),
		logger:        logger.WithComponent("scheduler"),
		gasOverrides:  make(map[int64]*gateway.GasOverrides),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}, nil
}

// Start begins the tick loop
func (s *DistributionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"tickInterval": s.tickInterval.String(),
		"maxRetries":   s.maxRetries,
	}).Info("starting distribution scheduler")

	go s.tickLoop(ctx)
	return nil
}

// Stop gracefully stops the scheduler
func (s *DistributionScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		s.logger.Info("distribution scheduler stopped")
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("stop timeout")
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *DistributionScheduler) tickLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.lastTickTime = time.Now()
			s.mu.Unlock()

			if err := s.TickOnce(ctx); err != nil {
				s.logger.WithError(err).Warn("tick failed")
			}
		}
	}
}

// TickOnce runs a single scheduling pass. The emergency stop is read fresh
// here, never cached: an activation between ticks takes effect on the next
// tick at the latest. While the stop is active no new jobs are started, but
// in-flight jobs still advance through confirmation and finalization.
func (s *DistributionScheduler) TickOnce(ctx context.Context) error {
	stopActive, err := s.stopRepo.IsActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to read emergency stop: %w", err)
	}

	processed := make(map[int64]bool)

	if !stopActive {
		due, err := s.jobRepo.ListDue(ctx, jobBatchSize)
		if err != nil {
			return err
		}
		for _, job := range due {
			if err := s.ProcessJob(ctx, job.ID); err != nil {
				s.logger.WithError(err).WithField("jobId", job.ID).Warn("failed to process due job")
			}
			processed[job.ID] = true
		}
	}

	inFlight, err := s.jobRepo.ListByStatus(ctx, types.JobProcessing, jobBatchSize)
	if err != nil {
		return err
	}
	for _, job := range inFlight {
		if processed[job.ID] {
			continue
		}
		if err := s.ProcessJob(ctx, job.ID); err != nil {
			s.logger.WithError(err).WithField("jobId", job.ID).Warn("failed to process in-flight job")
		}
	}

	return nil
}

// ScheduleOptions tunes a scheduling request
type ScheduleOptions struct {
	// Winners overrides the on-chain podium. Empty means derive winners from
	// the prize pool contract.
	Winners []types.Winner
	// BypassChecks skips the eligibility gates. Only the audited manual
	// distribution path sets this.
	BypassChecks bool
}

// ScheduleDistribution creates a distribution job and its payout records.
// A second call while a non-terminal job exists returns ErrDuplicateJob.
func (s *DistributionScheduler) ScheduleDistribution(ctx context.Context, hackathonID int64, opts ScheduleOptions) (*models.DistributionJob, error) {
	if hackathonID <= 0 {
		return nil, fmt.Errorf("%w: hackathonId must be positive", errors.ErrInvalidArgument)
	}

	if !opts.BypassChecks {
		stopActive, err := s.stopRepo.IsActive(ctx)
		if err != nil {
			return nil, err
		}
		if stopActive {
			return nil, errors.ErrEmergencyStopActive
		}

		if s.hackathonRepo != nil {
			status, ok, err := s.hackathonRepo.GetStatus(ctx, hackathonID)
			if err != nil {
				return nil, err
			}
			if ok && status.Status != types.PhaseCompleted {
				return nil, &types.ServiceError{
					Code:    "HACKATHON_NOT_COMPLETED",
					Message: fmt.Sprintf("hackathon %d is in phase %s, distribution requires %s", hackathonID, status.Status, types.PhaseCompleted),
				}
			}
		}

		finalized, err := s.winnersFinalized(ctx, hackathonID)
		if err != nil {
			return nil, err
		}
		if !finalized {
			return nil, &types.ServiceError{
				Code:    "WINNERS_NOT_FINALIZED",
				Message: fmt.Sprintf("winners for hackathon %d are not finalized on-chain", hackathonID),
			}
		}
	}

	pool, err := s.readPrizePool(ctx, hackathonID)
	if err != nil {
		return nil, err
	}
	if !opts.BypassChecks && pool.IsDistributed {
		return nil, &types.ServiceError{
			Code:    "ALREADY_DISTRIBUTED",
			Message: fmt.Sprintf("prize pool for hackathon %d is already distributed", hackathonID),
		}
	}

	winners := opts.Winners
	if len(winners) == 0 {
		winners = WinnersFromPool(pool)
	}

	records, err := BuildRecords(hackathonID, winners, pool.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidArgument, err)
	}

	job := &models.DistributionJob{
		HackathonID:    hackathonID,
		TotalPrizePool: pool.TotalAmount.String(),
		ScheduledAt:    time.Now().UTC(),
	}

	created, err := s.jobRepo.CreateJob(ctx, job, records)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"jobId":       created.ID,
		"hackathonId": hackathonID,
		"recipients":  len(records),
		"prizePool":   created.TotalPrizePool,
	}).Info("distribution scheduled")

	return created, nil
}

// ProcessJob advances one job: submits what needs submitting, escalates
// exhausted records, and finalizes the job once every record is terminal.
// Work per hackathon is serialized; concurrent triggers queue here.
func (s *DistributionScheduler) ProcessJob(ctx context.Context, jobID int64) error {
	job, err := s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(job.HackathonID)
	defer unlock()

	// Re-read under the lock; another trigger may have advanced the job.
	job, err = s.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case types.JobScheduled:
		if err := s.jobRepo.MarkProcessing(ctx, job.ID); err != nil {
			if stderrors.Is(err, errors.ErrInvalidTransition) {
				return nil
			}
			return err
		}
	case types.JobProcessing:
		// resume
	default:
		return nil
	}

	pending, err := s.recordRepo.ListPendingByHackathon(ctx, job.HackathonID)
	if err != nil {
		return err
	}

	for _, rec := range pending {
		// Awaiting the monitor: broadcast, no adverse observation.
		if rec.TxHash != nil && rec.Observation == types.ObservationNone {
			continue
		}

		if rec.RetryCount >= s.maxRetries {
			reason := fmt.Sprintf("retry budget exhausted after %d attempts", rec.RetryCount)
			if rec.LastError != nil {
				reason = fmt.Sprintf("%s: %s", reason, *rec.LastError)
			}
			if err := s.recordRepo.MarkFailed(ctx, rec.ID, reason); err != nil {
				return err
			}
			s.logger.WithFields(map[string]interface{}{
				"recordId":    rec.ID,
				"hackathonId": rec.HackathonID,
				"position":    rec.Position,
			}).Error("payout failed terminally")
			continue
		}

		// The stop is re-read before every chain write, not once per job:
		// an activation mid-job halts the remaining submissions.
		stopActive, err := s.stopRepo.IsActive(ctx)
		if err != nil {
			return err
		}
		if stopActive {
			s.logger.WithField("hackathonId", job.HackathonID).Info("emergency stop active, suspending submissions")
			break
		}

		if err := s.submitRecord(ctx, job, rec); err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"recordId": rec.ID,
				"position": rec.Position,
			}).Warn("payout submission failed")
		}
	}

	return s.finalizeJob(ctx, job)
}

// submitRecord signs and broadcasts one payout. A broadcast error with a
// known transaction hash is an unknown outcome: the attempt is recorded as
// AMBIGUOUS and left for the monitor to resolve. The record is never failed
// here on a write error.
func (s *DistributionScheduler) submitRecord(ctx context.Context, job *models.DistributionJob, rec *models.DistributionRecord) error {
	amount, err := types.ParseAmount(rec.Amount)
	if err != nil {
		return err
	}

	recipients := []string{rec.RecipientAddress}
	amounts := []*big.Int{amount}

	overrides := s.peekGasOverrides(job.HackathonID)
	if overrides == nil || overrides.GasLimit == 0 {
		gasLimit := s.gw.EstimateGas(ctx, job.HackathonID, recipients, amounts)
		if overrides == nil {
			overrides = &gateway.GasOverrides{GasLimit: gasLimit}
		} else {
			overrides = &gateway.GasOverrides{GasPrice: overrides.GasPrice, GasLimit: gasLimit}
		}
	}

	txHash, submitErr := s.gw.SubmitDistribution(ctx, job.HackathonID, recipients, amounts, overrides)

	attempt := &models.SubmissionAttempt{
		RecordID: rec.ID,
		TxHash:   txHash,
		GasLimit: &overrides.GasLimit,
	}
	if overrides.GasPrice != nil {
		gp := overrides.GasPrice.String()
		attempt.GasPrice = &gp
	}

	switch {
	case submitErr == nil:
		attempt.Outcome = types.AttemptBroadcast
		if err := s.recordRepo.RecordSubmission(ctx, rec.ID, attempt); err != nil {
			return err
		}
		s.logger.WithFields(map[string]interface{}{
			"recordId":    rec.ID,
			"hackathonId": rec.HackathonID,
			"txHash":      txHash,
		}).Info("payout broadcast")
		return nil

	case txHash != "":
		// Signed and possibly accepted despite the error. Record the hash so
		// the monitor can find the receipt if it landed.
		attempt.Outcome = types.AttemptAmbiguous
		if err := s.recordRepo.RecordSubmission(ctx, rec.ID, attempt); err != nil {
			return err
		}
		if _, err := s.recordRepo.IncrementRetry(ctx, rec.ID, submitErr.Error()); err != nil {
			return err
		}
		s.logger.WithError(submitErr).WithFields(map[string]interface{}{
			"recordId": rec.ID,
			"txHash":   txHash,
		}).Warn("payout broadcast outcome ambiguous")
		return nil

	default:
		// Never signed; nothing can be on-chain. Safe to count against the
		// retry budget and fail once it is exhausted.
		count, err := s.recordRepo.IncrementRetry(ctx, rec.ID, submitErr.Error())
		if err != nil {
			return err
		}
		if count >= s.maxRetries {
			reason := fmt.Sprintf("retry budget exhausted after %d attempts: %s", count, submitErr.Error())
			if err := s.recordRepo.MarkFailed(ctx, rec.ID, reason); err != nil {
				return err
			}
		}
		return submitErr
	}
}

// finalizeJob moves a PROCESSING job to COMPLETED or FAILED once every
// record is terminal
func (s *DistributionScheduler) finalizeJob(ctx context.Context, job *models.DistributionJob) error {
	records, err := s.recordRepo.ListByHackathon(ctx, job.HackathonID)
	if err != nil {
		return err
	}

	failed := 0
	for _, rec := range records {
		if !rec.Status.IsTerminal() {
			return nil
		}
		if rec.Status == types.RecordFailed {
			failed++
		}
	}

	if failed > 0 {
		reason := fmt.Sprintf("%d of %d payouts failed", failed, len(records))
		if err := s.jobRepo.MarkFailed(ctx, job.ID, reason); err != nil {
			if stderrors.Is(err, errors.ErrInvalidTransition) {
				return nil
			}
			return err
		}
		s.logger.WithFields(map[string]interface{}{
			"jobId":       job.ID,
			"hackathonId": job.HackathonID,
			"failed":      failed,
		}).Error("distribution failed")
	} else {
		if err := s.jobRepo.MarkCompleted(ctx, job.ID); err != nil {
			if stderrors.Is(err, errors.ErrInvalidTransition) {
				return nil
			}
			return err
		}
		s.logger.WithFields(map[string]interface{}{
			"jobId":       job.ID,
			"hackathonId": job.HackathonID,
			"recipients":  len(records),
		}).Info("distribution completed")
	}

	s.ClearGasOverrides(job.HackathonID)
	return nil
}

// SetGasOverrides stages admin gas parameters for the hackathon's next
// submissions. Cleared when the job reaches a terminal state.
func (s *DistributionScheduler) SetGasOverrides(hackathonID int64, overrides *gateway.GasOverrides) {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	if overrides == nil {
		delete(s.gasOverrides, hackathonID)
		return
	}
	s.gasOverrides[hackathonID] = overrides
}

// ClearGasOverrides drops staged gas parameters for a hackathon
func (s *DistributionScheduler) ClearGasOverrides(hackathonID int64) {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	delete(s.gasOverrides, hackathonID)
}

func (s *DistributionScheduler) peekGasOverrides(hackathonID int64) *gateway.GasOverrides {
	s.overridesMu.Lock()
	defer s.overridesMu.Unlock()
	return s.gasOverrides[hackathonID]
}

// readPrizePool reads the pool state with bounded retries; chain reads are
// transient failures, not job failures
func (s *DistributionScheduler) readPrizePool(ctx context.Context, hackathonID int64) (*gateway.PrizePoolState, error) {
	var pool *gateway.PrizePoolState
	err := retry.Run(ctx, s.readRetry, func(ctx context.Context, _ int) error {
		var err error
		pool, err = s.gw.ReadPrizePool(ctx, hackathonID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (s *DistributionScheduler) winnersFinalized(ctx context.Context, hackathonID int64) (bool, error) {
	var finalized bool
	err := retry.Run(ctx, s.readRetry, func(ctx context.Context, _ int) error {
		var err error
		finalized, err = s.gw.WinnersFinalized(ctx, hackathonID)
		return err
	})
	return finalized, err
}

// Status is the scheduler's current operational state
type Status struct {
	Running             bool      `json:"running"`
	LastTickTime        time.Time `json:"lastTickTime"`
	TickIntervalSeconds int       `json:"tickIntervalSeconds"`
	MaxRetries          int       `json:"maxRetries"`
}

// GetStatus returns the scheduler's current status
func (s *DistributionScheduler) GetStatus() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Status{
		Running:             s.running,
		LastTickTime:        s.lastTickTime,
		TickIntervalSeconds: int(s.tickInterval.Seconds()),
		MaxRetries:          s.maxRetries,
	}
}
