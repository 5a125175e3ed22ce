package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prize-distributor/internal/errors"
	"github.com/prize-distributor/internal/models"
	"github.com/prize-distributor/internal/types"
)

const recordColumns = `
	id, hackathon_id, recipient_address, position, amount::text, percentage,
	status, tx_hash, retry_count, observation, last_error, executed_at, created_at
`

// RecordRepository handles distribution record and submission attempt persistence
type RecordRepository struct {
	db *PostgresDB
}

// NewRecordRepository creates a new distribution record repository
func NewRecordRepository(db *PostgresDB) *RecordRepository {
	return &RecordRepository{db: db}
}

func scanRecord(row pgx.Row) (*models.DistributionRecord, error) {
	var rec models.DistributionRecord
	err := row.Scan(
		&rec.ID,
		&rec.HackathonID,
		&rec.RecipientAddress,
		&rec.Position,
		&rec.Amount,
		&rec.Percentage,
		&rec.Status,
		&rec.TxHash,
		&rec.RetryCount,
		&rec.Observation,
		&rec.LastError,
		&rec.ExecutedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByID retrieves a record by its id
func (r *RecordRepository) GetByID(ctx context.Context, id string) (*models.DistributionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM distribution_records WHERE id = $1`

	rec, err := scanRecord(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get distribution record: %w", err)
	}
	return rec, nil
}

func (r *RecordRepository) list(ctx context.Context, query string, args ...any) ([]*models.DistributionRecord, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list distribution records: %w", err)
	}
	defer rows.Close()

	var records []*models.DistributionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan distribution record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating distribution records: %w", err)
	}
	return records, nil
}

// ListByHackathon retrieves all records for a hackathon ordered by position
func (r *RecordRepository) ListByHackathon(ctx context.Context, hackathonID int64) ([]*models.DistributionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM distribution_records
		WHERE hackathon_id = $1
		ORDER BY position ASC
	`
	return r.list(ctx, query, hackathonID)
}

// ListPendingByHackathon retrieves the records the scheduler still owes work on
func (r *RecordRepository) ListPendingByHackathon(ctx context.Context, hackathonID int64) ([]*models.DistributionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM distribution_records
		WHERE hackathon_id = $1 AND status = 'PENDING'
		ORDER BY position ASC
	`
	return r.list(ctx, query, hackathonID)
}

// ListPendingWithTx retrieves pending records that have a broadcast transaction
// to verify. This is the monitor's work queue.
func (r *RecordRepository) ListPendingWithTx(ctx context.Context, limit int) ([]*models.DistributionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM distribution_records
		WHERE status = 'PENDING' AND tx_hash IS NOT NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

// RecordSubmission appends a broadcast attempt and points the record at its
// transaction hash. Prior unresolved attempts are marked ORPHANED: only the
// latest hash is monitored, but every hash stays in the ledger.
func (r *RecordRepository) RecordSubmission(ctx context.Context, recordID string, attempt *models.SubmissionAttempt) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	orphan := `
		UPDATE submission_attempts
		SET outcome = 'ORPHANED'
		WHERE record_id = $1 AND outcome IN ('BROADCAST', 'AMBIGUOUS')
	`
	if _, err := tx.Exec(ctx, orphan, recordID); err != nil {
		return fmt.Errorf("failed to orphan prior attempts: %w", err)
	}

	id := attempt.ID
	if id == "" {
		id = uuid.New().String()
	}
	insert := `
		INSERT INTO submission_attempts (id, record_id, tx_hash, gas_price, gas_limit, outcome)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
	`
	if _, err := tx.Exec(ctx, insert, id, recordID, attempt.TxHash, attempt.GasPrice, attempt.GasLimit, attempt.Outcome); err != nil {
		return fmt.Errorf("failed to insert submission attempt: %w", err)
	}

	update := `
		UPDATE distribution_records
		SET tx_hash = $2, observation = '', last_error = NULL
		WHERE id = $1 AND status = 'PENDING'
	`
	result, err := tx.Exec(ctx, update, recordID, attempt.TxHash)
	if err != nil {
		return fmt.Errorf("failed to update record tx hash: %w", err)
	}
	if result.RowsAffected() == 0 {
		return errors.ErrInvalidTransition
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit submission attempt: %w", err)
	}
	return nil
}

// MarkConfirmed transitions PENDING -> COMPLETED and stamps the confirmed
// attempt. Only the monitor calls this, after the configured depth.
func (r *RecordRepository) MarkConfirmed(ctx context.Context, recordID, txHash string) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	update := `
		UPDATE distribution_records
		SET status = 'COMPLETED', tx_hash = $2, observation = '', last_error = NULL, executed_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`
	result, err := tx.Exec(ctx, update, recordID, txHash)
	if err != nil {
		return fmt.Errorf("failed to confirm distribution record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return errors.ErrInvalidTransition
	}

	confirm := `
		UPDATE submission_attempts
		SET outcome = 'CONFIRMED'
		WHERE record_id = $1 AND tx_hash = $2
	`
	if _, err := tx.Exec(ctx, confirm, recordID, txHash); err != nil {
		return fmt.Errorf("failed to confirm submission attempt: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit record confirmation: %w", err)
	}
	return nil
}

// MarkFailed transitions PENDING -> FAILED with the terminal error
func (r *RecordRepository) MarkFailed(ctx context.Context, recordID, lastError string) error {
	query := `
		UPDATE distribution_records
		SET status = 'FAILED', last_error = $2
		WHERE id = $1 AND status = 'PENDING'
	`
	result, err := r.db.Pool().Exec(ctx, query, recordID, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark distribution record failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return errors.ErrInvalidTransition
	}
	return nil
}

// CancelForHackathon cancels the hackathon's non-completed records. COMPLETED
// records stay untouched: confirmed payouts cannot be unwound here. Returns
// the number of records cancelled.
func (r *RecordRepository) CancelForHackathon(ctx context.Context, q Querier, hackathonID int64) (int, error) {
	query := `
		UPDATE distribution_records
		SET status = 'CANCELLED', observation = ''
		WHERE hackathon_id = $1 AND status IN ('PENDING', 'FAILED')
	`
	result, err := q.Exec(ctx, query, hackathonID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel distribution records: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// ReopenFailed returns a hackathon's FAILED records to PENDING with a fresh
// retry budget. Used by force retry; runs on the caller's querier.
func (r *RecordRepository) ReopenFailed(ctx context.Context, q Querier, hackathonID int64) (int, error) {
	query := `
		UPDATE distribution_records
		SET status = 'PENDING', retry_count = 0, observation = '', last_error = NULL
		WHERE hackathon_id = $1 AND status = 'FAILED'
	`
	result, err := q.Exec(ctx, query, hackathonID)
	if err != nil {
		return 0, fmt.Errorf("failed to reopen failed records: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// SetObservation stores the monitor's latest finding for a pending record
func (r *RecordRepository) SetObservation(ctx context.Context, recordID string, obs types.MonitorObservation) error {
	query := `
		UPDATE distribution_records
		SET observation = $2
		WHERE id = $1 AND status = 'PENDING'
	`
	result, err := r.db.Pool().Exec(ctx, query, recordID, obs)
	if err != nil {
		return fmt.Errorf("failed to set record observation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return errors.ErrInvalidTransition
	}
	return nil
}

// IncrementRetry bumps the record retry counter and returns the new count
func (r *RecordRepository) IncrementRetry(ctx context.Context, recordID, lastError string) (int, error) {
	query := `
		UPDATE distribution_records
		SET retry_count = retry_count + 1, last_error = $2
		WHERE id = $1
		RETURNING retry_count
	`
	var count int
	err := r.db.Pool().QueryRow(ctx, query, recordID, lastError).Scan(&count)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return 0, errors.ErrRecordNotFound
		}
		return 0, fmt.Errorf("failed to increment record retry count: %w", err)
	}
	return count, nil
}

// CountByStatus returns record counts grouped by status
func (r *RecordRepository) CountByStatus(ctx context.Context) (map[types.RecordStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM distribution_records GROUP BY status`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count distribution records: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.RecordStatus]int)
	for rows.Next() {
		var status types.RecordStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan record count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record counts: %w", err)
	}
	return counts, nil
}

// CountPendingWithTx returns the number of broadcast transactions awaiting confirmation
func (r *RecordRepository) CountPendingWithTx(ctx context.Context) (int, error) {
	query := `
		SELECT COUNT(*) FROM distribution_records
		WHERE status = 'PENDING' AND tx_hash IS NOT NULL
	`
	var count int
	if err := r.db.Pool().QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending transactions: %w", err)
	}
	return count, nil
}

// ListAttempts retrieves the broadcast history for a record, oldest first
func (r *RecordRepository) ListAttempts(ctx context.Context, recordID string) ([]*models.SubmissionAttempt, error) {
	query := `
		SELECT id, record_id, tx_hash, gas_price::text, gas_limit, outcome, created_at
		FROM submission_attempts
		WHERE record_id = $1
		ORDER BY created_at ASC
	`
	rows, err := r.db.Pool().Query(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list submission attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.SubmissionAttempt
	for rows.Next() {
		var a models.SubmissionAttempt
		if err := rows.Scan(&a.ID, &a.RecordID, &a.TxHash, &a.GasPrice, &a.GasLimit, &a.Outcome, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission attempt: %w", err)
		}
		attempts = append(attempts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating submission attempts: %w", err)
	}
	return attempts, nil
}

// LatestAttemptAge returns how long ago the record's newest attempt was broadcast
func (r *RecordRepository) LatestAttemptAge(ctx context.Context, recordID string) (time.Duration, error) {
	query := `
		SELECT created_at FROM submission_attempts
		WHERE record_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	var createdAt time.Time
	err := r.db.Pool().QueryRow(ctx, query, recordID).Scan(&createdAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return 0, errors.ErrRecordNotFound
		}
		return 0, fmt.Errorf("failed to get latest attempt: %w", err)
	}
	return time.Since(createdAt), nil
}
