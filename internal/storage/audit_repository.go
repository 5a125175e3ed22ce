package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prize-distributor/internal/models"
)

// AuditRepository persists the append-only audit trail of privileged
// operations. Entries are written on the caller's querier so the audit row
// commits atomically with the action it describes, never after it.
type AuditRepository struct {
	db *PostgresDB
}

// NewAuditRepository creates a new audit trail repository
func NewAuditRepository(db *PostgresDB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Insert appends an audit entry. The entry's ID and CreatedAt are filled in.
func (r *AuditRepository) Insert(ctx context.Context, q Querier, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_entries (id, created_at, action, hackathon_id, admin_address, reason, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.Exec(ctx, query,
		entry.ID,
		entry.CreatedAt,
		entry.Action,
		entry.HackathonID,
		entry.AdminAddress,
		entry.Reason,
		entry.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// AuditFilter narrows an audit trail query. Zero values mean "no filter".
type AuditFilter struct {
	Action      string
	HackathonID *int64
	Since       *time.Time
	Until       *time.Time
	Limit       int
}

// List retrieves audit entries newest first
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, created_at, action, hackathon_id, admin_address, reason, details
		FROM audit_entries
		WHERE ($1 = '' OR action = $1)
		  AND ($2::bigint IS NULL OR hackathon_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		  AND ($4::timestamptz IS NULL OR created_at <= $4)
		ORDER BY created_at DESC
		LIMIT $5
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Pool().Query(ctx, query, filter.Action, filter.HackathonID, filter.Since, filter.Until, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.CreatedAt,
			&entry.Action,
			&entry.HackathonID,
			&entry.AdminAddress,
			&entry.Reason,
			&entry.Details,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}
