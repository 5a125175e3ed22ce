package models

import (
	"time"

	"github.com/prize-distributor/internal/types"
)

// EmergencyStopState is the durable process-wide circuit breaker. While
// active, the scheduler submits no new chain writes; reads and monitoring
// continue. The state survives restarts: it is a Postgres row, never an
// in-memory flag.
type EmergencyStopState struct {
	Active      bool         `json:"active"`
	ActivatedAt *time.Time   `json:"activatedAt,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Reasons     []StopReason `json:"reasons"`
}

// StopReason is one admin's recorded reason for activating the stop.
// Reasons accumulate across activations and are never cleared.
type StopReason struct {
	AdminAddress string    `json:"adminAddress" db:"admin_address"`
	Reason       string    `json:"reason" db:"reason"`
	CreatedAt    time.Time `json:"timestamp" db:"created_at"`
}

// AuditEntry records one privileged operation. Append-only.
type AuditEntry struct {
	ID           string                 `json:"id" db:"id"`
	CreatedAt    time.Time              `json:"timestamp" db:"created_at"`
	Action       types.AdminAction      `json:"action" db:"action"`
	HackathonID  *int64                 `json:"hackathonId,omitempty" db:"hackathon_id"`
	AdminAddress string                 `json:"adminAddress" db:"admin_address"`
	Reason       string                 `json:"reason" db:"reason"`
	Details      map[string]interface{} `json:"details,omitempty" db:"details"`
}

// AlertSeverity tags a system health alert
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// HealthAlert is one operational concern surfaced by the health snapshot
type HealthAlert struct {
	Severity    AlertSeverity `json:"severity"`
	Message     string        `json:"message"`
	HackathonID *int64        `json:"hackathonId,omitempty"`
}

// SystemHealthSnapshot is computed on demand, never stored. Degraded means
// some source could not be read and the counts are best-effort.
type SystemHealthSnapshot struct {
	EmergencyStopActive bool          `json:"emergencyStopActive"`
	ActiveDistributions int           `json:"activeDistributions"`
	QueueDepth          int           `json:"queueDepth"`
	PendingTransactions int           `json:"pendingTransactions"`
	FailedTransactions  int           `json:"failedTransactions"`
	Alerts              []HealthAlert `json:"alerts"`
	Degraded            bool          `json:"degraded"`
	GeneratedAt         time.Time     `json:"generatedAt"`
}
