package storage

import (
	"context"
	"fmt"

	"github.com/prize-distributor/internal/models"
)

// StopRepository manages the durable emergency stop state. The state is a
// single Postgres row plus an append-only reason log; there is no in-memory
// copy, so every worker tick sees the latest decision.
type StopRepository struct {
	db *PostgresDB
}

// NewStopRepository creates a new emergency stop repository
func NewStopRepository(db *PostgresDB) *StopRepository {
	return &StopRepository{db: db}
}

// Get reads the current stop state and its accumulated reasons
func (r *StopRepository) Get(ctx context.Context) (*models.EmergencyStopState, error) {
	var state models.EmergencyStopState
	query := `SELECT active, activated_at, updated_at FROM emergency_stop WHERE id = 1`
	err := r.db.Pool().QueryRow(ctx, query).Scan(&state.Active, &state.ActivatedAt, &state.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read emergency stop state: %w", err)
	}

	reasons := `SELECT admin_address, reason, created_at FROM stop_reasons ORDER BY created_at ASC`
	rows, err := r.db.Pool().Query(ctx, reasons)
	if err != nil {
		return nil, fmt.Errorf("failed to read stop reasons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var reason models.StopReason
		if err := rows.Scan(&reason.AdminAddress, &reason.Reason, &reason.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stop reason: %w", err)
		}
		state.Reasons = append(state.Reasons, reason)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stop reasons: %w", err)
	}

	return &state, nil
}

// IsActive reads only the flag. This is the hot path the scheduler hits on
// every tick, so it skips the reason log.
func (r *StopRepository) IsActive(ctx context.Context) (bool, error) {
	var active bool
	query := `SELECT active FROM emergency_stop WHERE id = 1`
	if err := r.db.Pool().QueryRow(ctx, query).Scan(&active); err != nil {
		return false, fmt.Errorf("failed to read emergency stop flag: %w", err)
	}
	return active, nil
}

// Activate sets the stop and appends the reason. Activating an already-active
// stop is not an error: the reason still gets recorded. Returns whether the
// flag actually flipped. Runs on the caller's querier so the control plane
// can bundle it with the audit write.
func (r *StopRepository) Activate(ctx context.Context, q Querier, adminAddress, reason string) (bool, error) {
	var wasActive bool
	if err := q.QueryRow(ctx, `SELECT active FROM emergency_stop WHERE id = 1 FOR UPDATE`).Scan(&wasActive); err != nil {
		return false, fmt.Errorf("failed to lock emergency stop row: %w", err)
	}

	set := `
		UPDATE emergency_stop
		SET active = TRUE,
			activated_at = COALESCE(activated_at, NOW()),
			updated_at = NOW()
		WHERE id = 1
	`
	if _, err := q.Exec(ctx, set); err != nil {
		return false, fmt.Errorf("failed to activate emergency stop: %w", err)
	}

	insert := `INSERT INTO stop_reasons (admin_address, reason) VALUES ($1, $2)`
	if _, err := q.Exec(ctx, insert, adminAddress, reason); err != nil {
		return false, fmt.Errorf("failed to record stop reason: %w", err)
	}

	return !wasActive, nil
}

// Deactivate clears the stop flag. The reason log is left intact; it is the
// history of why stops happened, not the current state. Returns whether the
// flag actually flipped.
func (r *StopRepository) Deactivate(ctx context.Context, q Querier) (bool, error) {
	var wasActive bool
	if err := q.QueryRow(ctx, `SELECT active FROM emergency_stop WHERE id = 1 FOR UPDATE`).Scan(&wasActive); err != nil {
		return false, fmt.Errorf("failed to lock emergency stop row: %w", err)
	}

	clear := `
		UPDATE emergency_stop
		SET active = FALSE, activated_at = NULL, updated_at = NOW()
		WHERE id = 1
	`
	if _, err := q.Exec(ctx, clear); err != nil {
		return false, fmt.Errorf("failed to deactivate emergency stop: %w", err)
	}

	return wasActive, nil
}
