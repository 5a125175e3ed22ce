package storage

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prize-distributor/internal/errors"
	"github.com/prize-distributor/internal/models"
	"github.com/prize-distributor/internal/types"
)

const jobColumns = `
	id, hackathon_id, total_prize_pool::text, status, scheduled_at, started_at,
	completed_at, retry_count, last_error, refund_requested, created_at, updated_at
`

// JobRepository handles distribution job persistence
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new distribution job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

func scanJob(row pgx.Row) (*models.DistributionJob, error) {
	var job models.DistributionJob
	err := row.Scan(
		&job.ID,
		&job.HackathonID,
		&job.TotalPrizePool,
		&job.Status,
		&job.ScheduledAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.RetryCount,
		&job.LastError,
		&job.RefundRequested,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateJob inserts a job and its per-recipient records in one transaction.
// The partial unique index on non-terminal jobs turns a duplicate scheduling
// attempt into errors.ErrDuplicateJob without a check-then-insert race.
func (r *JobRepository) CreateJob(ctx context.Context, job *models.DistributionJob, records []*models.DistributionRecord) (*models.DistributionJob, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	insertJob := `
		INSERT INTO distribution_jobs (hackathon_id, total_prize_pool, status, scheduled_at)
		VALUES ($1, $2::numeric, $3, $4)
		RETURNING ` + jobColumns

	created, err := scanJob(tx.QueryRow(ctx, insertJob,
		job.HackathonID,
		job.TotalPrizePool,
		types.JobScheduled,
		job.ScheduledAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.ErrDuplicateJob
		}
		return nil, fmt.Errorf("failed to create distribution job: %w", err)
	}

	insertRecord := `
		INSERT INTO distribution_records (
			id, hackathon_id, recipient_address, position, amount, percentage, status
		)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
	`
	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := tx.Exec(ctx, insertRecord,
			id,
			rec.HackathonID,
			rec.RecipientAddress,
			rec.Position,
			rec.Amount,
			rec.Percentage,
			types.RecordPending,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create distribution record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit distribution job: %w", err)
	}

	return created, nil
}

// GetByID retrieves a job by its id
func (r *JobRepository) GetByID(ctx context.Context, id int64) (*models.DistributionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM distribution_jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get distribution job: %w", err)
	}
	return job, nil
}

// GetActiveByHackathon retrieves the non-terminal job for a hackathon, if any
func (r *JobRepository) GetActiveByHackathon(ctx context.Context, hackathonID int64) (*models.DistributionJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM distribution_jobs
		WHERE hackathon_id = $1 AND status IN ('SCHEDULED', 'PROCESSING')
	`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, hackathonID))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get active distribution job: %w", err)
	}
	return job, nil
}

// GetLatestByHackathon retrieves the most recent job for a hackathon
func (r *JobRepository) GetLatestByHackathon(ctx context.Context, hackathonID int64) (*models.DistributionJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM distribution_jobs
		WHERE hackathon_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, hackathonID))
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get latest distribution job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) list(ctx context.Context, query string, args ...any) ([]*models.DistributionJob, error) {
	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list distribution jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.DistributionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan distribution job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating distribution jobs: %w", err)
	}
	return jobs, nil
}

// ListByStatus retrieves jobs in a given status, oldest scheduled first
func (r *JobRepository) ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.DistributionJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM distribution_jobs
		WHERE status = $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`
	return r.list(ctx, query, status, limit)
}

// ListDue retrieves scheduled jobs whose scheduled_at has passed
func (r *JobRepository) ListDue(ctx context.Context, limit int) ([]*models.DistributionJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM distribution_jobs
		WHERE status = 'SCHEDULED' AND scheduled_at <= NOW()
		ORDER BY scheduled_at ASC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

// ListRecent retrieves the most recently updated jobs for the dashboard
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]*models.DistributionJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM distribution_jobs
		ORDER BY updated_at DESC
		LIMIT $1
	`
	return r.list(ctx, query, limit)
}

// MarkProcessing transitions SCHEDULED -> PROCESSING. Zero rows affected
// means the job is not in SCHEDULED anymore; the caller gets
// errors.ErrInvalidTransition instead of a silent double start.
func (r *JobRepository) MarkProcessing(ctx context.Context, id int64) error {
	query := `
		UPDATE distribution_jobs
		SET status = 'PROCESSING', started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'SCHEDULED'
	`
	return r.guardedUpdate(ctx, r.db.Pool(), query, id)
}

// MarkCompleted transitions PROCESSING -> COMPLETED
func (r *JobRepository) MarkCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE distribution_jobs
		SET status = 'COMPLETED', completed_at = NOW(), last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	return r.guardedUpdate(ctx, r.db.Pool(), query, id)
}

// MarkFailed transitions PROCESSING -> FAILED with the terminal error
func (r *JobRepository) MarkFailed(ctx context.Context, id int64, lastError string) error {
	query := `
		UPDATE distribution_jobs
		SET status = 'FAILED', completed_at = NOW(), last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	return r.guardedUpdate(ctx, r.db.Pool(), query, id, lastError)
}

// MarkCancelled cancels a non-terminal job. Runs on the caller's querier so
// the control plane can bundle it with the audit write.
func (r *JobRepository) MarkCancelled(ctx context.Context, q Querier, id int64, refundRequested bool) error {
	query := `
		UPDATE distribution_jobs
		SET status = 'CANCELLED', completed_at = NOW(), refund_requested = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('SCHEDULED', 'PROCESSING')
	`
	return r.guardedUpdate(ctx, q, query, id, refundRequested)
}

// Reschedule moves a FAILED job back to SCHEDULED for a force retry
func (r *JobRepository) Reschedule(ctx context.Context, q Querier, id int64) error {
	query := `
		UPDATE distribution_jobs
		SET status = 'SCHEDULED', scheduled_at = NOW(), started_at = NULL,
			completed_at = NULL, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'FAILED'
	`
	return r.guardedUpdate(ctx, q, query, id)
}

// IncrementRetry bumps the job retry counter and records the error
func (r *JobRepository) IncrementRetry(ctx context.Context, id int64, lastError string) (int, error) {
	query := `
		UPDATE distribution_jobs
		SET retry_count = retry_count + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING retry_count
	`
	var count int
	err := r.db.Pool().QueryRow(ctx, query, id, lastError).Scan(&count)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return 0, errors.ErrJobNotFound
		}
		return 0, fmt.Errorf("failed to increment job retry count: %w", err)
	}
	return count, nil
}

// CountByStatus returns job counts grouped by status
func (r *JobRepository) CountByStatus(ctx context.Context) (map[types.JobStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM distribution_jobs GROUP BY status`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count distribution jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int)
	for rows.Next() {
		var status types.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job counts: %w", err)
	}
	return counts, nil
}

func (r *JobRepository) guardedUpdate(ctx context.Context, q Querier, query string, args ...any) error {
	result, err := q.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update distribution job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return errors.ErrInvalidTransition
	}
	return nil
}
