// Package models defines the persistent records of the distribution ledger.
package models

import (
	"time"

	"github.com/prize-distributor/internal/types"
)

// DistributionJob represents one payout run for a hackathon. At most one
// non-terminal job may exist per hackathon at any time.
type DistributionJob struct {
	ID              int64           `json:"id" db:"id"`
	HackathonID     int64           `json:"hackathonId" db:"hackathon_id"`
	TotalPrizePool  string          `json:"totalPrizePool" db:"total_prize_pool"` // smallest token unit
	Status          types.JobStatus `json:"status" db:"status"`
	ScheduledAt     time.Time       `json:"scheduledAt" db:"scheduled_at"`
	StartedAt       *time.Time      `json:"startedAt,omitempty" db:"started_at"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
	RetryCount      int             `json:"retryCount" db:"retry_count"`
	LastError       *string         `json:"lastError,omitempty" db:"last_error"`
	RefundRequested bool            `json:"refundRequested" db:"refund_requested"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

// DistributionRecord is one ledger row per (hackathon, recipient, position).
// A record reaches COMPLETED only after the transaction monitor confirms its
// transaction at the configured depth.
type DistributionRecord struct {
	ID               string                   `json:"id" db:"id"`
	HackathonID      int64                    `json:"hackathonId" db:"hackathon_id"`
	RecipientAddress string                   `json:"recipientAddress" db:"recipient_address"`
	Position         int                      `json:"position" db:"position"` // 1-based rank
	Amount           string                   `json:"amount" db:"amount"`     // smallest token unit
	Percentage       float64                  `json:"percentage" db:"percentage"`
	Status           types.RecordStatus       `json:"status" db:"status"`
	TxHash           *string                  `json:"txHash,omitempty" db:"tx_hash"` // latest broadcast
	RetryCount       int                      `json:"retryCount" db:"retry_count"`
	Observation      types.MonitorObservation `json:"observation,omitempty" db:"observation"`
	LastError        *string                  `json:"lastError,omitempty" db:"last_error"`
	ExecutedAt       *time.Time               `json:"executedAt,omitempty" db:"executed_at"`
	CreatedAt        time.Time                `json:"createdAt" db:"created_at"`
}

// SubmissionAttempt is one broadcast attempt for a record. Attempts are
// append-only so prior transaction hashes survive resubmission.
type SubmissionAttempt struct {
	ID        string               `json:"id" db:"id"`
	RecordID  string               `json:"recordId" db:"record_id"`
	TxHash    string               `json:"txHash" db:"tx_hash"`
	GasPrice  *string              `json:"gasPrice,omitempty" db:"gas_price"` // wei
	GasLimit  *uint64              `json:"gasLimit,omitempty" db:"gas_limit"`
	Outcome   types.AttemptOutcome `json:"outcome" db:"outcome"`
	CreatedAt time.Time            `json:"createdAt" db:"created_at"`
}

// HackathonStatus mirrors the hackathon lifecycle phase the wider platform
// owns. The engine keeps this mirror to gate distribution eligibility and to
// give status overrides a concrete target.
type HackathonStatus struct {
	HackathonID int64                `json:"hackathonId" db:"hackathon_id"`
	Status      types.HackathonPhase `json:"status" db:"status"`
	UpdatedAt   time.Time            `json:"updatedAt" db:"updated_at"`
}
