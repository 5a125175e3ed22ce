// Package monitor implements the transaction monitor. It watches broadcast
// payout transactions, confirms them at the configured depth, and records
// observations (stuck, reverted) for the scheduler to act on. The monitor
// never fails a record itself: it reports facts, the scheduler decides.
package monitor

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/prize-distributor/internal/errors"
	"github.com/prize-distributor/internal/gateway"
	"github.com/prize-distributor/internal/logging"
	"github.com/prize-distributor/internal/models"
	"github.com/prize-distributor/internal/types"
)

const defaultBatchSize = 200

// RecordStore is the slice of the record repository the monitor needs.
// Satisfied by *storage.RecordRepository.
type RecordStore interface {
	ListPendingWithTx(ctx context.Context, limit int) ([]*models.DistributionRecord, error)
	MarkConfirmed(ctx context.Context, recordID, txHash string) error
	SetObservation(ctx context.Context, recordID string, obs types.MonitorObservation) error
	LatestAttemptAge(ctx context.Context, recordID string) (time.Duration, error)
}

// TxMonitor polls pending transactions and resolves their on-chain state
type TxMonitor struct {
	gw         gateway.Gateway
	recordRepo RecordStore

	pollInterval      time.Duration
	confirmationDepth uint64
	stuckTimeout      time.Duration
	batchSize         int

	logger *logging.Logger

	running      bool
	mu           sync.RWMutex
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastPollTime time.Time
}

// Config holds configuration for the transaction monitor
type Config struct {
	Gateway           gateway.Gateway
	RecordRepo        RecordStore
	PollInterval      time.Duration
	ConfirmationDepth uint64
	StuckTimeout      time.Duration
	BatchSize         int
	Logger            *logging.Logger
}

// New creates a new transaction monitor
func New(cfg *Config) (*TxMonitor, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("gateway cannot be nil")
	}
	if cfg.RecordRepo == nil {
		return nil, fmt.Errorf("record repository cannot be nil")
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 10 * time.Second
	}
	depth := cfg.ConfirmationDepth
	if depth == 0 {
		depth = 6
	}
	stuckTimeout := cfg.StuckTimeout
	if stuckTimeout == 0 {
		stuckTimeout = 5 * time.Minute
	}
	if stuckTimeout <= pollInterval {
		return nil, fmt.Errorf("stuck timeout %v must exceed poll interval %v", stuckTimeout, pollInterval)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}

	return &TxMonitor{
		gw:                cfg.Gateway,
		recordRepo:        cfg.RecordRepo,
		pollInterval:      pollInterval,
		confirmationDepth: depth,
		stuckTimeout:      stuckTimeout,
		batchSize:         batchSize,
		logger:            logger.WithComponent("tx-monitor"),
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}, nil
}

// Start begins the polling loop
func (m *TxMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("transaction monitor is already running")
	}
	m.running = true
	m.mu.Unlock()

	m.logger.WithFields(map[string]interface{}{
		"pollInterval":      m.pollInterval.String(),
		"confirmationDepth": m.confirmationDepth,
		"stuckTimeout":      m.stuckTimeout.String(),
	}).Info("starting transaction monitor")

	go m.pollLoop(ctx)
	return nil
}

// Stop gracefully stops the monitor
func (m *TxMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("transaction monitor is not running")
	}
	m.mu.Unlock()

	close(m.stopCh)

	select {
	case <-m.doneCh:
		m.logger.Info("transaction monitor stopped")
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return fmt.Errorf("stop timeout")
	}

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	return nil
}

func (m *TxMonitor) pollLoop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			m.lastPollTime = time.Now()
			m.mu.Unlock()

			checked, err := m.PollOnce(ctx)
			if err != nil {
				m.logger.WithError(err).Warn("poll cycle failed")
				continue
			}
			if checked > 0 {
				m.logger.WithField("records", checked).Debug("poll cycle complete")
			}
		}
	}
}

// PollOnce runs a single monitoring pass and returns the number of records
// checked. Per-record failures are logged and skipped; a record left
// unresolved this cycle gets another look next cycle.
func (m *TxMonitor) PollOnce(ctx context.Context) (int, error) {
	currentBlock, err := m.gw.CurrentBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get current block: %w", err)
	}

	records, err := m.recordRepo.ListPendingWithTx(ctx, m.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending records: %w", err)
	}

	for _, rec := range records {
		if err := m.checkRecord(ctx, rec, currentBlock); err != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"recordId":    rec.ID,
				"hackathonId": rec.HackathonID,
			}).Warn("failed to check record")
		}
	}

	return len(records), nil
}

// checkRecord resolves the on-chain state of one pending record
func (m *TxMonitor) checkRecord(ctx context.Context, rec *models.DistributionRecord, currentBlock uint64) error {
	txHash := *rec.TxHash

	receipt, err := m.gw.TransactionReceipt(ctx, txHash)
	if err != nil {
		if stderrors.Is(err, errors.ErrReceiptNotFound) {
			return m.checkStuck(ctx, rec)
		}
		return err
	}

	if receipt.Reverted {
		if rec.Observation == types.ObservationReverted {
			return nil
		}
		m.logger.WithFields(map[string]interface{}{
			"recordId": rec.ID,
			"txHash":   txHash,
			"block":    receipt.BlockNumber,
		}).Warn("transaction reverted")
		return m.recordRepo.SetObservation(ctx, rec.ID, types.ObservationReverted)
	}

	confirmations := confirmationsAt(currentBlock, receipt.BlockNumber)
	if confirmations < m.confirmationDepth {
		return nil
	}

	if err := m.recordRepo.MarkConfirmed(ctx, rec.ID, txHash); err != nil {
		return err
	}
	m.logger.WithFields(map[string]interface{}{
		"recordId":      rec.ID,
		"hackathonId":   rec.HackathonID,
		"txHash":        txHash,
		"confirmations": confirmations,
	}).Info("payout confirmed")
	return nil
}

// checkStuck marks a record stuck when its newest broadcast has gone
// unmined past the timeout window
func (m *TxMonitor) checkStuck(ctx context.Context, rec *models.DistributionRecord) error {
	if rec.Observation == types.ObservationStuck {
		return nil
	}

	age, err := m.recordRepo.LatestAttemptAge(ctx, rec.ID)
	if err != nil {
		if stderrors.Is(err, errors.ErrRecordNotFound) {
			// Record has a tx_hash but no attempt row; nothing to age against.
			return nil
		}
		return err
	}
	if age < m.stuckTimeout {
		return nil
	}

	m.logger.WithFields(map[string]interface{}{
		"recordId": rec.ID,
		"txHash":   *rec.TxHash,
		"age":      age.String(),
	}).Warn("transaction stuck")
	return m.recordRepo.SetObservation(ctx, rec.ID, types.ObservationStuck)
}

// confirmationsAt counts confirmations for a transaction mined at minedBlock.
// The mined block itself counts as the first confirmation.
func confirmationsAt(currentBlock, minedBlock uint64) uint64 {
	if currentBlock < minedBlock {
		return 0
	}
	return currentBlock - minedBlock + 1
}

// Status is the monitor's current operational state
type Status struct {
	Running             bool      `json:"running"`
	LastPollTime        time.Time `json:"lastPollTime"`
	PollIntervalSeconds int       `json:"pollIntervalSeconds"`
	ConfirmationDepth   uint64    `json:"confirmationDepth"`
}

// GetStatus returns the monitor's current status
func (m *TxMonitor) GetStatus() *Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Status{
		Running:             m.running,
		LastPollTime:        m.lastPollTime,
		PollIntervalSeconds: int(m.pollInterval.Seconds()),
		ConfirmationDepth:   m.confirmationDepth,
	}
}
