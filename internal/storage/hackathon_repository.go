package storage

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prize-distributor/internal/models"
	"github.com/prize-distributor/internal/types"
)

// HackathonRepository maintains the local mirror of hackathon lifecycle
// phases. The wider platform owns the phases; the engine mirrors them to gate
// distribution eligibility and to give status overrides a target.
type HackathonRepository struct {
	db *PostgresDB
}

// NewHackathonRepository creates a new hackathon status repository
func NewHackathonRepository(db *PostgresDB) *HackathonRepository {
	return &HackathonRepository{db: db}
}

// GetStatus retrieves the mirrored phase for a hackathon. Unknown hackathons
// return ok=false rather than an error: the mirror is lazily populated.
func (r *HackathonRepository) GetStatus(ctx context.Context, hackathonID int64) (*models.HackathonStatus, bool, error) {
	query := `SELECT hackathon_id, status, updated_at FROM hackathon_status WHERE hackathon_id = $1`

	var status models.HackathonStatus
	err := r.db.Pool().QueryRow(ctx, query, hackathonID).Scan(&status.HackathonID, &status.Status, &status.UpdatedAt)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get hackathon status: %w", err)
	}
	return &status, true, nil
}

// SetStatus upserts the mirrored phase. Runs on the caller's querier so a
// status override commits atomically with its audit entry.
func (r *HackathonRepository) SetStatus(ctx context.Context, q Querier, hackathonID int64, phase types.HackathonPhase) error {
	query := `
		INSERT INTO hackathon_status (hackathon_id, status, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (hackathon_id)
		DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
	`
	if _, err := q.Exec(ctx, query, hackathonID, phase); err != nil {
		return fmt.Errorf("failed to set hackathon status: %w", err)
	}
	return nil
}
