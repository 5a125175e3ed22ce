package monitor

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/prize-distributor/internal/errors"
	"github.com/prize-distributor/internal/gateway"
	"github.com/prize-distributor/internal/models"
	"github.com/prize-distributor/internal/types"
)

type fakeRecordStore struct {
	mu          sync.Mutex
	records     map[string]*models.DistributionRecord
	attemptAges map[string]time.Duration
	confirmed   []string
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		records:     make(map[string]*models.DistributionRecord),
		attemptAges: make(map[string]time.Duration),
	}
}

func (f *fakeRecordStore) add(id string, txHash string, obs types.MonitorObservation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := txHash
	f.records[id] = &models.DistributionRecord{
		ID:          id,
		HackathonID: 1,
		Status:      types.RecordPending,
		TxHash:      &hash,
		Observation: obs,
	}
}

func (f *fakeRecordStore) ListPendingWithTx(ctx context.Context, limit int) ([]*models.DistributionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.DistributionRecord
	for _, rec := range f.records {
		if rec.Status == types.RecordPending && rec.TxHash != nil {
			r := *rec
			out = append(out, &r)
		}
	}
	return out, nil
}

func (f *fakeRecordStore) MarkConfirmed(ctx context.Context, recordID, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recordID]
	if !ok {
		return errors.ErrRecordNotFound
	}
	if rec.Status != types.RecordPending {
		return errors.ErrInvalidTransition
	}
	rec.Status = types.RecordCompleted
	f.confirmed = append(f.confirmed, recordID)
	return nil
}

func (f *fakeRecordStore) SetObservation(ctx context.Context, recordID string, obs types.MonitorObservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recordID]
	if !ok {
		return errors.ErrRecordNotFound
	}
	rec.Observation = obs
	return nil
}

func (f *fakeRecordStore) LatestAttemptAge(ctx context.Context, recordID string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	age, ok := f.attemptAges[recordID]
	if !ok {
		return 0, errors.ErrRecordNotFound
	}
	return age, nil
}

func (f *fakeRecordStore) record(id string) *models.DistributionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := *f.records[id]
	return &r
}

type fakeChain struct {
	mu       sync.Mutex
	block    uint64
	receipts map[string]*gateway.Receipt
}

func newFakeChain(block uint64) *fakeChain {
	return &fakeChain{block: block, receipts: make(map[string]*gateway.Receipt)}
}

func (c *fakeChain) mine(txHash string, block uint64, reverted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[txHash] = &gateway.Receipt{TxHash: txHash, BlockNumber: block, Reverted: reverted}
}

func (c *fakeChain) CurrentBlock(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

func (c *fakeChain) TransactionReceipt(ctx context.Context, txHash string) (*gateway.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, errors.ErrReceiptNotFound
	}
	r := *receipt
	return &r, nil
}

func (c *fakeChain) ReadPrizePool(ctx context.Context, hackathonID int64) (*gateway.PrizePoolState, error) {
	return nil, errors.ErrChainRead
}

func (c *fakeChain) WinnersFinalized(ctx context.Context, hackathonID int64) (bool, error) {
	return false, errors.ErrChainRead
}

func (c *fakeChain) SubmitDistribution(ctx context.Context, hackathonID int64, recipients []string, amounts []*big.Int, overrides *gateway.GasOverrides) (string, error) {
	return "", fmt.Errorf("monitor must not submit transactions")
}

func (c *fakeChain) EstimateGas(ctx context.Context, hackathonID int64, recipients []string, amounts []*big.Int) uint64 {
	return 0
}

func (c *fakeChain) ReadOnly() bool { return true }

func newTestMonitor(t *testing.T, store *fakeRecordStore, chain *fakeChain) *TxMonitor {
	t.Helper()
	m, err := New(&Config{
		Gateway:           chain,
		RecordRepo:        store,
		PollInterval:      time.Second,
		ConfirmationDepth: 6,
		StuckTimeout:      5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("failed to create monitor: %v", err)
	}
	return m
}

func TestPollOnceConfirmsAtDepth(t *testing.T) {
	store := newFakeRecordStore()
	chain := newFakeChain(100)
	m := newTestMonitor(t, store, chain)
	ctx := context.Background()

	// Mined at block 95 with the chain at 100: 6 confirmations, exactly depth.
	store.add("rec-1", "0xdeep", types.ObservationNone)
	chain.mine("0xdeep", 95, false)

	// Mined at block 96: only 5 confirmations, one short.
	store.add("rec-2", "0xshallow", types.ObservationNone)
	chain.mine("0xshallow", 96, false)

	checked, err := m.PollOnce(ctx)
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if checked != 2 {
		t.Errorf("checked = %d, want 2", checked)
	}

	if got := store.record("rec-1").Status; got != types.RecordCompleted {
		t.Errorf("rec-1 status = %s, want COMPLETED at depth", got)
	}
	if got := store.record("rec-2").Status; got != types.RecordPending {
		t.Errorf("rec-2 status = %s, want PENDING below depth", got)
	}

	// The chain advances one block; the shallow record now confirms.
	chain.mu.Lock()
	chain.block = 101
	chain.mu.Unlock()

	if _, err := m.PollOnce(ctx); err != nil {
		t.Fatalf("second poll failed: %v", err)
	}
	if got := store.record("rec-2").Status; got != types.RecordCompleted {
		t.Errorf("rec-2 status = %s, want COMPLETED after chain advanced", got)
	}
}

func TestPollOnceRecordsRevertedObservation(t *testing.T) {
	store := newFakeRecordStore()
	chain := newFakeChain(100)
	m := newTestMonitor(t, store, chain)
	ctx := context.Background()

	store.add("rec-1", "0xreverted", types.ObservationNone)
	chain.mine("0xreverted", 90, true)

	if _, err := m.PollOnce(ctx); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	rec := store.record("rec-1")
	if rec.Observation != types.ObservationReverted {
		t.Errorf("observation = %q, want reverted", rec.Observation)
	}
	if rec.Status != types.RecordPending {
		t.Errorf("status = %s, want PENDING (the scheduler decides, not the monitor)", rec.Status)
	}
	if len(store.confirmed) != 0 {
		t.Errorf("confirmed = %v, want none", store.confirmed)
	}
}

func TestPollOnceMarksStuckAfterTimeout(t *testing.T) {
	store := newFakeRecordStore()
	chain := newFakeChain(100)
	m := newTestMonitor(t, store, chain)
	ctx := context.Background()

	// No receipt on-chain for either; only the old one is stuck.
	store.add("rec-old", "0xold", types.ObservationNone)
	store.attemptAges["rec-old"] = 10 * time.Minute
	store.add("rec-new", "0xnew", types.ObservationNone)
	store.attemptAges["rec-new"] = time.Minute

	if _, err := m.PollOnce(ctx); err != nil {
		t.Fatalf("poll failed: %v", err)
	}

	if got := store.record("rec-old").Observation; got != types.ObservationStuck {
		t.Errorf("rec-old observation = %q, want stuck", got)
	}
	if got := store.record("rec-new").Observation; got != types.ObservationNone {
		t.Errorf("rec-new observation = %q, want none within the timeout window", got)
	}
}

func TestPollOnceStuckThenMinedConfirms(t *testing.T) {
	store := newFakeRecordStore()
	chain := newFakeChain(100)
	m := newTestMonitor(t, store, chain)
	ctx := context.Background()

	// Already observed stuck; the transaction lands after all.
	store.add("rec-1", "0xlate", types.ObservationStuck)
	chain.mine("0xlate", 90, false)

	if _, err := m.PollOnce(ctx); err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if got := store.record("rec-1").Status; got != types.RecordCompleted {
		t.Errorf("status = %s, want COMPLETED once the receipt appears", got)
	}
}

func TestConfirmationsAt(t *testing.T) {
	tests := []struct {
		current uint64
		mined   uint64
		want    uint64
	}{
		{100, 100, 1},
		{100, 95, 6},
		{100, 94, 7},
		{94, 100, 0}, // reorg: the receipt's block is ahead of the head
	}
	for _, tt := range tests {
		if got := confirmationsAt(tt.current, tt.mined); got != tt.want {
			t.Errorf("confirmationsAt(%d, %d) = %d, want %d", tt.current, tt.mined, got, tt.want)
		}
	}
}

func TestNewMonitorRejectsBadConfig(t *testing.T) {
	store := newFakeRecordStore()
	chain := newFakeChain(1)

	if _, err := New(&Config{RecordRepo: store}); err == nil {
		t.Error("expected error for nil gateway")
	}
	if _, err := New(&Config{Gateway: chain}); err == nil {
		t.Error("expected error for nil record repository")
	}
	if _, err := New(&Config{
		Gateway:      chain,
		RecordRepo:   store,
		PollInterval: time.Minute,
		StuckTimeout: time.Second,
	}); err == nil {
		t.Error("expected error when the stuck timeout is inside the poll interval")
	}
}

func TestMonitorStartStop(t *testing.T) {
	store := newFakeRecordStore()
	chain := newFakeChain(1)
	m := newTestMonitor(t, store, chain)
	ctx := context.Background()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := m.Start(ctx); err == nil {
		t.Error("expected error on double start")
	}
	if !m.GetStatus().Running {
		t.Error("expected running status after start")
	}

	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if m.GetStatus().Running {
		t.Error("expected stopped status after stop")
	}
}
