// Package types provides common type definitions for the prize distribution engine.
package types

import (
	"fmt"
	"math/big"
)

// JobStatus represents the lifecycle status of a distribution job
type JobStatus string

const (
	// JobScheduled represents a job waiting to be picked up by the scheduler
	JobScheduled JobStatus = "SCHEDULED"
	// JobProcessing represents a job whose payouts are being submitted
	JobProcessing JobStatus = "PROCESSING"
	// JobCompleted represents a job with every payout confirmed on-chain
	JobCompleted JobStatus = "COMPLETED"
	// JobFailed represents a job that exhausted its retry budget
	JobFailed JobStatus = "FAILED"
	// JobCancelled represents a job cancelled by an administrator
	JobCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether the job status is terminal
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// RecordStatus represents the lifecycle status of a single payout record
type RecordStatus string

const (
	// RecordPending represents a payout not yet confirmed on-chain
	RecordPending RecordStatus = "PENDING"
	// RecordCompleted represents a payout confirmed at the required depth
	RecordCompleted RecordStatus = "COMPLETED"
	// RecordFailed represents a payout that exhausted its retry budget
	RecordFailed RecordStatus = "FAILED"
	// RecordCancelled represents a payout cancelled by an administrator
	RecordCancelled RecordStatus = "CANCELLED"
)

// IsTerminal reports whether the record status is terminal
func (s RecordStatus) IsTerminal() bool {
	return s == RecordCompleted || s == RecordCancelled || s == RecordFailed
}

// MonitorObservation is the transaction monitor's latest finding for a pending record.
// Observations are facts for the scheduler to act on, not errors.
type MonitorObservation string

const (
	// ObservationNone means the monitor has nothing to report
	ObservationNone MonitorObservation = ""
	// ObservationStuck means the latest broadcast has not confirmed within the timeout window
	ObservationStuck MonitorObservation = "stuck"
	// ObservationReverted means the latest broadcast was mined but reverted
	ObservationReverted MonitorObservation = "reverted"
)

// AttemptOutcome represents the outcome of a single broadcast attempt
type AttemptOutcome string

const (
	// AttemptBroadcast means the transaction was accepted by the RPC node
	AttemptBroadcast AttemptOutcome = "BROADCAST"
	// AttemptAmbiguous means broadcast returned an error but the transaction may still land
	AttemptAmbiguous AttemptOutcome = "AMBIGUOUS"
	// AttemptConfirmed means the attempt's transaction confirmed at depth
	AttemptConfirmed AttemptOutcome = "CONFIRMED"
	// AttemptOrphaned means a later attempt superseded this one
	AttemptOrphaned AttemptOutcome = "ORPHANED"
)

// HackathonPhase represents the lifecycle phase of a hackathon.
// Phases gate which actions are permitted; distribution requires Completed.
type HackathonPhase string

const (
	PhaseDraft              HackathonPhase = "DRAFT"
	PhaseRegistrationOpen   HackathonPhase = "REGISTRATION_OPEN"
	PhaseRegistrationClosed HackathonPhase = "REGISTRATION_CLOSED"
	PhaseSubmissionOpen     HackathonPhase = "SUBMISSION_OPEN"
	PhaseSubmissionClosed   HackathonPhase = "SUBMISSION_CLOSED"
	PhaseVotingOpen         HackathonPhase = "VOTING_OPEN"
	PhaseVotingClosed       HackathonPhase = "VOTING_CLOSED"
	PhaseCompleted          HackathonPhase = "COMPLETED"
)

// ValidPhase reports whether the string names a known hackathon phase
func ValidPhase(p HackathonPhase) bool {
	switch p {
	case PhaseDraft, PhaseRegistrationOpen, PhaseRegistrationClosed,
		PhaseSubmissionOpen, PhaseSubmissionClosed,
		PhaseVotingOpen, PhaseVotingClosed, PhaseCompleted:
		return true
	}
	return false
}

// phaseOrder gives the normal forward progression of hackathon phases
var phaseOrder = map[HackathonPhase]int{
	PhaseDraft:              0,
	PhaseRegistrationOpen:   1,
	PhaseRegistrationClosed: 2,
	PhaseSubmissionOpen:     3,
	PhaseSubmissionClosed:   4,
	PhaseVotingOpen:         5,
	PhaseVotingClosed:       6,
	PhaseCompleted:          7,
}

// ValidPhaseTransition reports whether from→to is a normal forward step.
// Administrators may bypass this check with an audited status override.
func ValidPhaseTransition(from, to HackathonPhase) bool {
	fo, ok1 := phaseOrder[from]
	to2, ok2 := phaseOrder[to]
	if !ok1 || !ok2 {
		return false
	}
	return to2 == fo+1
}

// Winner represents a finalized winner as delivered by the winner-finalization boundary
type Winner struct {
	Rank          int    `json:"rank"`
	WalletAddress string `json:"walletAddress"`
	PrizeAmount   string `json:"prizeAmount"` // smallest token unit, decimal string
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// OperationResult is the envelope every admin-facing mutating operation returns.
// Failures of the underlying action are reported inside the envelope, not as
// transport errors.
type OperationResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ParseAmount parses a decimal string amount in the smallest token unit.
// Negative amounts are rejected.
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount: %q", s)
	}
	return v, nil
}
