package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prize-distributor/internal/errors"
	"github.com/prize-distributor/internal/gateway"
	"github.com/prize-distributor/internal/models"
	"github.com/prize-distributor/internal/types"
)

// fakeStore is an in-memory stand-in for the storage repositories. It
// enforces the same guarded transitions the SQL layer does. Job-store
// methods live on fakeJobStore because both store interfaces name a
// MarkFailed method with different signatures.
type fakeStore struct {
	mu       sync.Mutex
	nextJob  int64
	nextRec  int
	jobs     map[int64]*models.DistributionJob
	records  map[string]*models.DistributionRecord
	attempts map[string][]*models.SubmissionAttempt
	stop     bool
	phases   map[int64]types.HackathonPhase
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:     make(map[int64]*models.DistributionJob),
		records:  make(map[string]*models.DistributionRecord),
		attempts: make(map[string][]*models.SubmissionAttempt),
		phases:   make(map[int64]types.HackathonPhase),
	}
}

type fakeJobStore struct {
	s *fakeStore
}

func (j *fakeJobStore) CreateJob(ctx context.Context, job *models.DistributionJob, records []*models.DistributionRecord) (*models.DistributionJob, error) {
	f := j.s
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.jobs {
		if existing.HackathonID == job.HackathonID && !existing.Status.IsTerminal() {
			return nil, errors.ErrDuplicateJob
		}
	}

	f.nextJob++
	created := *job
	created.ID = f.nextJob
	created.Status = types.JobScheduled
	created.CreatedAt = time.Now().UTC()
	f.jobs[created.ID] = &created

	for _, rec := range records {
		f.nextRec++
		stored := *rec
		stored.ID = fmt.Sprintf("rec-%d", f.nextRec)
		stored.Status = types.RecordPending
		f.records[stored.ID] = &stored
	}

	out := created
	return &out, nil
}

func (j *fakeJobStore) GetByID(ctx context.Context, id int64) (*models.DistributionJob, error) {
	f := j.s
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, errors.ErrJobNotFound
	}
	out := *job
	return &out, nil
}

func (j *fakeJobStore) ListDue(ctx context.Context, limit int) ([]*models.DistributionJob, error) {
	return j.s.listJobs(types.JobScheduled, limit), nil
}

func (j *fakeJobStore) ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.DistributionJob, error) {
	return j.s.listJobs(status, limit), nil
}

func (f *fakeStore) listJobs(status types.JobStatus, limit int) []*models.DistributionJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.DistributionJob
	for _, job := range f.jobs {
		if job.Status == status {
			j := *job
			out = append(out, &j)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (j *fakeJobStore) MarkProcessing(ctx context.Context, id int64) error {
	return j.s.transitionJob(id, types.JobScheduled, types.JobProcessing, "")
}

func (j *fakeJobStore) MarkCompleted(ctx context.Context, id int64) error {
	return j.s.transitionJob(id, types.JobProcessing, types.JobCompleted, "")
}

func (j *fakeJobStore) MarkFailed(ctx context.Context, id int64, lastError string) error {
	return j.s.transitionJob(id, types.JobProcessing, types.JobFailed, lastError)
}

func (f *fakeStore) transitionJob(id int64, from, to types.JobStatus, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return errors.ErrJobNotFound
	}
	if job.Status != from {
		return errors.ErrInvalidTransition
	}
	job.Status = to
	if lastError != "" {
		job.LastError = &lastError
	}
	return nil
}

func (f *fakeStore) ListByHackathon(ctx context.Context, hackathonID int64) ([]*models.DistributionRecord, error) {
	return f.listRecords(hackathonID, false), nil
}

func (f *fakeStore) ListPendingByHackathon(ctx context.Context, hackathonID int64) ([]*models.DistributionRecord, error) {
	return f.listRecords(hackathonID, true), nil
}

func (f *fakeStore) listRecords(hackathonID int64, pendingOnly bool) []*models.DistributionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.DistributionRecord
	for _, rec := range f.records {
		if rec.HackathonID != hackathonID {
			continue
		}
		if pendingOnly && rec.Status != types.RecordPending {
			continue
		}
		r := *rec
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (f *fakeStore) RecordSubmission(ctx context.Context, recordID string, attempt *models.SubmissionAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recordID]
	if !ok {
		return errors.ErrRecordNotFound
	}
	if rec.Status != types.RecordPending {
		return errors.ErrInvalidTransition
	}
	hash := attempt.TxHash
	rec.TxHash = &hash
	rec.Observation = types.ObservationNone
	f.attempts[recordID] = append(f.attempts[recordID], attempt)
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, recordID, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recordID]
	if !ok {
		return errors.ErrRecordNotFound
	}
	if rec.Status != types.RecordPending {
		return errors.ErrInvalidTransition
	}
	rec.Status = types.RecordFailed
	rec.LastError = &lastError
	return nil
}

func (f *fakeStore) IncrementRetry(ctx context.Context, recordID, lastError string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recordID]
	if !ok {
		return 0, errors.ErrRecordNotFound
	}
	rec.RetryCount++
	rec.LastError = &lastError
	return rec.RetryCount, nil
}

func (f *fakeStore) IsActive(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stop, nil
}

func (f *fakeStore) GetStatus(ctx context.Context, hackathonID int64) (*models.HackathonStatus, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	phase, ok := f.phases[hackathonID]
	if !ok {
		return nil, false, nil
	}
	return &models.HackathonStatus{HackathonID: hackathonID, Status: phase}, true, nil
}

// helpers

func (f *fakeStore) setStop(active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stop = active
}

func (f *fakeStore) confirmRecord(recordID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[recordID].Status = types.RecordCompleted
}

func (f *fakeStore) observe(recordID string, obs types.MonitorObservation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[recordID].Observation = obs
}

func (f *fakeStore) recordByPosition(hackathonID int64, position int) *models.DistributionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.HackathonID == hackathonID && rec.Position == position {
			r := *rec
			return &r
		}
	}
	return nil
}

func (f *fakeStore) job(id int64) *models.DistributionJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	j := *f.jobs[id]
	return &j
}

// fakeGateway is an in-memory chain gateway with a programmable submit path
type fakeGateway struct {
	mu        sync.Mutex
	pool      *gateway.PrizePoolState
	finalized bool
	block     uint64
	receipts  map[string]*gateway.Receipt
	submitFn  func(recipient string) (string, error)

	submitted     []string
	lastOverrides *gateway.GasOverrides
}

func newFakeGateway(pool *gateway.PrizePoolState) *fakeGateway {
	return &fakeGateway{
		pool:      pool,
		finalized: true,
		block:     100,
		receipts:  make(map[string]*gateway.Receipt),
	}
}

func (g *fakeGateway) ReadPrizePool(ctx context.Context, hackathonID int64) (*gateway.PrizePoolState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pool == nil {
		return nil, errors.ErrChainRead
	}
	p := *g.pool
	return &p, nil
}

func (g *fakeGateway) WinnersFinalized(ctx context.Context, hackathonID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.finalized, nil
}

func (g *fakeGateway) SubmitDistribution(ctx context.Context, hackathonID int64, recipients []string, amounts []*big.Int, overrides *gateway.GasOverrides) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, recipients[0])
	g.lastOverrides = overrides
	if g.submitFn != nil {
		return g.submitFn(recipients[0])
	}
	return fmt.Sprintf("0xhash%04d", len(g.submitted)), nil
}

func (g *fakeGateway) EstimateGas(ctx context.Context, hackathonID int64, recipients []string, amounts []*big.Int) uint64 {
	return 90000
}

func (g *fakeGateway) TransactionReceipt(ctx context.Context, txHash string) (*gateway.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	receipt, ok := g.receipts[txHash]
	if !ok {
		return nil, errors.ErrReceiptNotFound
	}
	r := *receipt
	return &r, nil
}

func (g *fakeGateway) CurrentBlock(ctx context.Context) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.block, nil
}

func (g *fakeGateway) ReadOnly() bool { return false }

func (g *fakeGateway) submissions() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.submitted))
	copy(out, g.submitted)
	return out
}

func testAddr(i int) string {
	return fmt.Sprintf("0x%040x", i+1)
}

func newTestScheduler(t *testing.T, store *fakeStore, gw *fakeGateway, maxRetries int) *DistributionScheduler {
	t.Helper()
	sched, err := New(&Config{
		Gateway:       gw,
		JobRepo:       &fakeJobStore{s: store},
		RecordRepo:    store,
		StopRepo:      store,
		HackathonRepo: store,
		MaxRetries:    maxRetries,
		RetryBackoff:  time.Millisecond,
		MaxBackoff:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to create scheduler: %v", err)
	}
	return sched
}

func completedPool(total int64) *gateway.PrizePoolState {
	return &gateway.PrizePoolState{
		TotalAmount: big.NewInt(total),
		FirstPlace:  testAddr(0),
		SecondPlace: testAddr(1),
		ThirdPlace:  testAddr(2),
	}
}

func TestScheduleDistributionDefaultSplit(t *testing.T) {
	store := newFakeStore()
	store.phases[7] = types.PhaseCompleted
	gw := newFakeGateway(completedPool(100))
	sched := newTestScheduler(t, store, gw, 0)

	job, err := sched.ScheduleDistribution(context.Background(), 7, ScheduleOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.HackathonID != 7 || job.Status != types.JobScheduled {
		t.Errorf("job = %+v, want SCHEDULED for hackathon 7", job)
	}
	if job.TotalPrizePool != "100" {
		t.Errorf("TotalPrizePool = %s, want 100", job.TotalPrizePool)
	}

	wantAmounts := map[int]string{1: "50", 2: "30", 3: "20"}
	for pos, want := range wantAmounts {
		rec := store.recordByPosition(7, pos)
		if rec == nil {
			t.Fatalf("missing record at position %d", pos)
		}
		if rec.Amount != want {
			t.Errorf("position %d amount = %s, want %s", pos, rec.Amount, want)
		}
		if rec.RecipientAddress != testAddr(pos-1) {
			t.Errorf("position %d recipient = %s, want %s", pos, rec.RecipientAddress, testAddr(pos-1))
		}
	}

	// A second schedule while the first job is live must be rejected.
	if _, err := sched.ScheduleDistribution(context.Background(), 7, ScheduleOptions{}); !stderrors.Is(err, errors.ErrDuplicateJob) {
		t.Errorf("second schedule error = %v, want ErrDuplicateJob", err)
	}
}

func TestScheduleDistributionGates(t *testing.T) {
	newFixture := func() (*fakeStore, *fakeGateway, *DistributionScheduler) {
		store := newFakeStore()
		store.phases[1] = types.PhaseCompleted
		gw := newFakeGateway(completedPool(100))
		return store, gw, newTestScheduler(t, store, gw, 0)
	}

	t.Run("emergency stop blocks scheduling", func(t *testing.T) {
		store, _, sched := newFixture()
		store.setStop(true)
		_, err := sched.ScheduleDistribution(context.Background(), 1, ScheduleOptions{})
		if !stderrors.Is(err, errors.ErrEmergencyStopActive) {
			t.Errorf("error = %v, want ErrEmergencyStopActive", err)
		}
	})

	t.Run("hackathon not completed", func(t *testing.T) {
		store, _, sched := newFixture()
		store.phases[1] = types.PhaseVotingOpen
		_, err := sched.ScheduleDistribution(context.Background(), 1, ScheduleOptions{})
		var svcErr *types.ServiceError
		if !stderrors.As(err, &svcErr) || svcErr.Code != "HACKATHON_NOT_COMPLETED" {
			t.Errorf("error = %v, want HACKATHON_NOT_COMPLETED", err)
		}
	})

	t.Run("winners not finalized", func(t *testing.T) {
		_, gw, sched := newFixture()
		gw.finalized = false
		_, err := sched.ScheduleDistribution(context.Background(), 1, ScheduleOptions{})
		var svcErr *types.ServiceError
		if !stderrors.As(err, &svcErr) || svcErr.Code != "WINNERS_NOT_FINALIZED" {
			t.Errorf("error = %v, want WINNERS_NOT_FINALIZED", err)
		}
	})

	t.Run("already distributed", func(t *testing.T) {
		_, gw, sched := newFixture()
		gw.pool.IsDistributed = true
		_, err := sched.ScheduleDistribution(context.Background(), 1, ScheduleOptions{})
		var svcErr *types.ServiceError
		if !stderrors.As(err, &svcErr) || svcErr.Code != "ALREADY_DISTRIBUTED" {
			t.Errorf("error = %v, want ALREADY_DISTRIBUTED", err)
		}
	})

	t.Run("bypass skips the gates", func(t *testing.T) {
		store, gw, sched := newFixture()
		store.setStop(true)
		store.phases[1] = types.PhaseVotingOpen
		gw.finalized = false
		if _, err := sched.ScheduleDistribution(context.Background(), 1, ScheduleOptions{BypassChecks: true}); err != nil {
			t.Errorf("unexpected error with bypass: %v", err)
		}
	})
}

func TestProcessJobBroadcastsAndCompletes(t *testing.T) {
	store := newFakeStore()
	store.phases[3] = types.PhaseCompleted
	gw := newFakeGateway(completedPool(100))
	sched := newTestScheduler(t, store, gw, 0)
	ctx := context.Background()

	job, err := sched.ScheduleDistribution(ctx, 3, ScheduleOptions{})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if got := store.job(job.ID).Status; got != types.JobProcessing {
		t.Errorf("job status = %s, want PROCESSING while payouts await confirmation", got)
	}
	if subs := gw.submissions(); len(subs) != 3 {
		t.Fatalf("submissions = %d, want 3", len(subs))
	}
	for pos := 1; pos <= 3; pos++ {
		rec := store.recordByPosition(3, pos)
		if rec.TxHash == nil {
			t.Errorf("position %d has no tx hash after broadcast", pos)
		}
		if rec.Status != types.RecordPending {
			t.Errorf("position %d status = %s, want PENDING until confirmed", pos, rec.Status)
		}
	}

	// A second pass must not resubmit payouts that are awaiting confirmation.
	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	if subs := gw.submissions(); len(subs) != 3 {
		t.Errorf("submissions after second pass = %d, want 3 (no resubmission)", len(subs))
	}

	// Monitor confirms everything; the next pass finalizes the job.
	for pos := 1; pos <= 3; pos++ {
		store.confirmRecord(store.recordByPosition(3, pos).ID)
	}
	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("finalizing process failed: %v", err)
	}
	if got := store.job(job.ID).Status; got != types.JobCompleted {
		t.Errorf("job status = %s, want COMPLETED", got)
	}
}

func TestEmergencyStopSuspendsSubmissions(t *testing.T) {
	store := newFakeStore()
	store.phases[4] = types.PhaseCompleted
	gw := newFakeGateway(completedPool(100))
	sched := newTestScheduler(t, store, gw, 0)
	ctx := context.Background()

	job, err := sched.ScheduleDistribution(ctx, 4, ScheduleOptions{})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	// Stop activates between scheduling and the next tick: no submissions.
	store.setStop(true)
	if err := sched.TickOnce(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if got := store.job(job.ID).Status; got != types.JobScheduled {
		t.Errorf("job status = %s, want SCHEDULED while stop is active", got)
	}
	if subs := gw.submissions(); len(subs) != 0 {
		t.Errorf("submissions during stop = %d, want 0", len(subs))
	}

	// Deactivating lets the next tick pick the job up.
	store.setStop(false)
	if err := sched.TickOnce(ctx); err != nil {
		t.Fatalf("tick failed: %v", err)
	}
	if subs := gw.submissions(); len(subs) != 3 {
		t.Errorf("submissions after resume = %d, want 3", len(subs))
	}
}

func TestStopActivationMidJobHaltsRemainingPayouts(t *testing.T) {
	store := newFakeStore()
	store.phases[5] = types.PhaseCompleted
	gw := newFakeGateway(completedPool(100))
	sched := newTestScheduler(t, store, gw, 0)
	ctx := context.Background()

	job, err := sched.ScheduleDistribution(ctx, 5, ScheduleOptions{})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	// The first submission flips the stop; the remaining two must not go out.
	gw.submitFn = func(recipient string) (string, error) {
		store.setStop(true)
		return "0xfirst", nil
	}

	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if subs := gw.submissions(); len(subs) != 1 {
		t.Errorf("submissions = %d, want 1 (stop read before every chain write)", len(subs))
	}
	if got := store.job(job.ID).Status; got != types.JobProcessing {
		t.Errorf("job status = %s, want PROCESSING (in-flight jobs are not cancelled)", got)
	}
}

func TestAmbiguousBroadcastKeepsRecordPending(t *testing.T) {
	store := newFakeStore()
	store.phases[6] = types.PhaseCompleted
	gw := newFakeGateway(&gateway.PrizePoolState{
		TotalAmount: big.NewInt(100),
		FirstPlace:  testAddr(0),
	})
	sched := newTestScheduler(t, store, gw, 2)
	ctx := context.Background()

	job, err := sched.ScheduleDistribution(ctx, 6, ScheduleOptions{})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	// Broadcast errors after signing: the outcome is unknown, not failed.
	gw.submitFn = func(recipient string) (string, error) {
		return "0xambiguous", fmt.Errorf("connection reset during broadcast")
	}

	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	rec := store.recordByPosition(6, 1)
	if rec.Status != types.RecordPending {
		t.Fatalf("record status = %s, want PENDING on ambiguous broadcast", rec.Status)
	}
	if rec.TxHash == nil || *rec.TxHash != "0xambiguous" {
		t.Errorf("tx hash = %v, want the signed hash preserved for the monitor", rec.TxHash)
	}
	if rec.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", rec.RetryCount)
	}
	attempts := store.attempts[rec.ID]
	if len(attempts) != 1 || attempts[0].Outcome != types.AttemptAmbiguous {
		t.Errorf("attempts = %+v, want one AMBIGUOUS attempt", attempts)
	}

	// With a hash on file and no adverse observation, the scheduler waits for
	// the monitor instead of resubmitting.
	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	if subs := gw.submissions(); len(subs) != 1 {
		t.Errorf("submissions = %d, want 1", len(subs))
	}

	// The monitor finds the receipt after all; confirmation completes the job.
	store.confirmRecord(rec.ID)
	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("finalizing process failed: %v", err)
	}
	if got := store.job(job.ID).Status; got != types.JobCompleted {
		t.Errorf("job status = %s, want COMPLETED", got)
	}
}

func TestHardSubmissionFailureExhaustsRetryBudget(t *testing.T) {
	store := newFakeStore()
	store.phases[8] = types.PhaseCompleted
	gw := newFakeGateway(&gateway.PrizePoolState{
		TotalAmount: big.NewInt(100),
		FirstPlace:  testAddr(0),
	})
	sched := newTestScheduler(t, store, gw, 2)
	ctx := context.Background()

	job, err := sched.ScheduleDistribution(ctx, 8, ScheduleOptions{})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	// Signing fails outright: no hash, nothing can be on-chain.
	gw.submitFn = func(recipient string) (string, error) {
		return "", fmt.Errorf("insufficient funds for gas")
	}

	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("first process failed: %v", err)
	}
	rec := store.recordByPosition(8, 1)
	if rec.Status != types.RecordPending || rec.RetryCount != 1 {
		t.Fatalf("after first attempt: status=%s retries=%d, want PENDING/1", rec.Status, rec.RetryCount)
	}

	// Second attempt exhausts the budget of 2 and fails the payout, which in
	// turn fails the job.
	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	rec = store.recordByPosition(8, 1)
	if rec.Status != types.RecordFailed {
		t.Fatalf("record status = %s, want FAILED after budget exhaustion", rec.Status)
	}
	jobNow := store.job(job.ID)
	if jobNow.Status != types.JobFailed {
		t.Fatalf("job status = %s, want FAILED", jobNow.Status)
	}
	if jobNow.LastError == nil || *jobNow.LastError != "1 of 1 payouts failed" {
		t.Errorf("job lastError = %v, want failure summary", jobNow.LastError)
	}
}

func TestPartialFailureFailsJobButPaysOthers(t *testing.T) {
	store := newFakeStore()
	store.phases[9] = types.PhaseCompleted
	gw := newFakeGateway(completedPool(100))
	sched := newTestScheduler(t, store, gw, 1)
	ctx := context.Background()

	job, err := sched.ScheduleDistribution(ctx, 9, ScheduleOptions{})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	// The second-place payout never signs; the other two broadcast fine.
	badRecipient := testAddr(1)
	gw.submitFn = func(recipient string) (string, error) {
		if recipient == badRecipient {
			return "", fmt.Errorf("execution would revert")
		}
		return "0xok_" + recipient[:10], nil
	}

	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if rec := store.recordByPosition(9, 2); rec.Status != types.RecordFailed {
		t.Errorf("failed recipient status = %s, want FAILED", rec.Status)
	}
	for _, pos := range []int{1, 3} {
		rec := store.recordByPosition(9, pos)
		if rec.Status != types.RecordPending || rec.TxHash == nil {
			t.Errorf("position %d: status=%s txHash=%v, want PENDING with hash", pos, rec.Status, rec.TxHash)
		}
		store.confirmRecord(rec.ID)
	}

	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("finalizing process failed: %v", err)
	}
	jobNow := store.job(job.ID)
	if jobNow.Status != types.JobFailed {
		t.Fatalf("job status = %s, want FAILED when any payout failed", jobNow.Status)
	}
	if jobNow.LastError == nil || *jobNow.LastError != "1 of 3 payouts failed" {
		t.Errorf("job lastError = %v, want partial failure summary", jobNow.LastError)
	}
}

func TestStuckObservationTriggersResubmission(t *testing.T) {
	store := newFakeStore()
	store.phases[10] = types.PhaseCompleted
	gw := newFakeGateway(&gateway.PrizePoolState{
		TotalAmount: big.NewInt(100),
		FirstPlace:  testAddr(0),
	})
	sched := newTestScheduler(t, store, gw, 4)
	ctx := context.Background()

	job, err := sched.ScheduleDistribution(ctx, 10, ScheduleOptions{})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}
	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	rec := store.recordByPosition(10, 1)
	firstHash := *rec.TxHash

	// The monitor reports the broadcast stuck; the next pass resubmits.
	store.observe(rec.ID, types.ObservationStuck)
	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("resubmission process failed: %v", err)
	}

	rec = store.recordByPosition(10, 1)
	if rec.TxHash == nil || *rec.TxHash == firstHash {
		t.Errorf("tx hash = %v, want a fresh broadcast after stuck observation", rec.TxHash)
	}
	if rec.Observation != types.ObservationNone {
		t.Errorf("observation = %q, want cleared by resubmission", rec.Observation)
	}
	if subs := gw.submissions(); len(subs) != 2 {
		t.Errorf("submissions = %d, want 2", len(subs))
	}
}

func TestGasOverridesReachTheGateway(t *testing.T) {
	store := newFakeStore()
	store.phases[11] = types.PhaseCompleted
	gw := newFakeGateway(&gateway.PrizePoolState{
		TotalAmount: big.NewInt(100),
		FirstPlace:  testAddr(0),
	})
	sched := newTestScheduler(t, store, gw, 4)
	ctx := context.Background()

	job, err := sched.ScheduleDistribution(ctx, 11, ScheduleOptions{})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	sched.SetGasOverrides(11, &gateway.GasOverrides{
		GasPrice: big.NewInt(30_000_000_000),
		GasLimit: 250_000,
	})

	if err := sched.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	gw.mu.Lock()
	got := gw.lastOverrides
	gw.mu.Unlock()
	if got == nil || got.GasLimit != 250_000 {
		t.Fatalf("gas overrides = %+v, want admin-supplied limit 250000", got)
	}
	if got.GasPrice == nil || got.GasPrice.Cmp(big.NewInt(30_000_000_000)) != 0 {
		t.Errorf("gas price = %v, want 30 gwei", got.GasPrice)
	}
}

func TestScheduleDistributionRejectsBadWinnerList(t *testing.T) {
	store := newFakeStore()
	store.phases[12] = types.PhaseCompleted
	gw := newFakeGateway(completedPool(100))
	sched := newTestScheduler(t, store, gw, 0)

	winners := []types.Winner{
		{Rank: 1, WalletAddress: testAddr(0), PrizeAmount: "90"},
		{Rank: 2, WalletAddress: testAddr(1), PrizeAmount: "90"},
	}
	_, err := sched.ScheduleDistribution(context.Background(), 12, ScheduleOptions{Winners: winners})
	if !stderrors.Is(err, errors.ErrInvalidArgument) {
		t.Errorf("error = %v, want ErrInvalidArgument for payouts exceeding the pool", err)
	}
}
