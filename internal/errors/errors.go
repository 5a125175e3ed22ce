// Package errors defines the error taxonomy of the distribution engine.
//
// The taxonomy distinguishes errors by what the caller may assume:
// a chain read failure is transient and retryable; a chain write failure is
// an AMBIGUOUS outcome (the transaction may still land); an invalid
// transition is an invariant violation; a duplicate job is an expected
// concurrency-guard outcome, not a failure.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prize-distributor/internal/types"
)

var (
	// ErrChainRead indicates a failed read call to the chain. Transient;
	// callers retry with backoff. Never escalates to job failure on its own.
	ErrChainRead = errors.New("chain read failed")

	// ErrChainWrite indicates a failed transaction broadcast. The outcome is
	// unknown: the transaction may have been accepted despite the error.
	// Callers must verify via the transaction monitor before assuming failure.
	ErrChainWrite = errors.New("chain write failed")

	// ErrReceiptNotFound indicates a transaction has not been mined yet
	ErrReceiptNotFound = errors.New("transaction receipt not found")

	// ErrInvalidTransition indicates an attempt to move a job or record out of
	// a terminal state. An invariant violation, surfaced to the caller.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDuplicateJob indicates a non-terminal job already exists for the
	// hackathon. Callers treat it as "already scheduled".
	ErrDuplicateJob = errors.New("distribution job already exists")

	// ErrJobNotFound indicates no distribution job exists for the hackathon
	ErrJobNotFound = errors.New("distribution job not found")

	// ErrRecordNotFound indicates no distribution record with the given id
	ErrRecordNotFound = errors.New("distribution record not found")

	// ErrReadOnlyGateway indicates a write was attempted without a signing key
	ErrReadOnlyGateway = errors.New("gateway is read-only: no operator key configured")

	// ErrEmergencyStopActive indicates the global emergency stop blocks the action
	ErrEmergencyStopActive = errors.New("emergency stop is active")

	// ErrInvalidArgument indicates malformed operation input
	ErrInvalidArgument = errors.New("invalid argument")
)

// GatewayError wraps a chain gateway failure with operation context
type GatewayError struct {
	Op      string
	Err     error
	Details map[string]interface{}
}

func (e *GatewayError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("gateway error [%s]: %v (details: %+v)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("gateway error [%s]: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError creates a GatewayError
func NewGatewayError(op string, err error, details map[string]interface{}) *GatewayError {
	return &GatewayError{Op: op, Err: err, Details: details}
}

// IsRetryable reports whether an error may succeed on retry. Ambiguous write
// errors are deliberately NOT retryable here: resubmission without receipt
// verification risks double payment.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrChainRead) || errors.Is(err, ErrReceiptNotFound)
}

// IsAmbiguousOutcome reports whether the operation's effect is unknown
func IsAmbiguousOutcome(err error) bool {
	return errors.Is(err, ErrChainWrite)
}

// HTTPStatus maps an error to an HTTP status code for the read endpoints.
// Mutating admin endpoints report failures inside the result envelope and do
// not use this mapping except for auth and malformed input.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, ErrJobNotFound), errors.Is(err, ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateJob), errors.Is(err, ErrEmergencyStopActive):
		return http.StatusConflict
	default:
		var svcErr *types.ServiceError
		if errors.As(err, &svcErr) {
			switch svcErr.Code {
			case "UNAUTHORIZED":
				return http.StatusUnauthorized
			case "FORBIDDEN":
				return http.StatusForbidden
			case "INVALID_ADDRESS_FORMAT", "INVALID_HACKATHON_ID", "REASON_REQUIRED",
				"INVALID_PHASE", "INVALID_GAS_PRICE":
				return http.StatusBadRequest
			case "HACKATHON_NOT_COMPLETED", "WINNERS_NOT_FINALIZED", "ALREADY_DISTRIBUTED":
				return http.StatusConflict
			}
		}
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable error code used in API responses
func Code(err error) string {
	switch {
	case errors.Is(err, ErrChainRead):
		return "CHAIN_READ_ERROR"
	case errors.Is(err, ErrChainWrite):
		return "CHAIN_WRITE_ERROR"
	case errors.Is(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case errors.Is(err, ErrDuplicateJob):
		return "DUPLICATE_JOB"
	case errors.Is(err, ErrJobNotFound), errors.Is(err, ErrRecordNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrReadOnlyGateway):
		return "READ_ONLY_GATEWAY"
	case errors.Is(err, ErrEmergencyStopActive):
		return "EMERGENCY_STOP_ACTIVE"
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	default:
		var svcErr *types.ServiceError
		if errors.As(err, &svcErr) {
			return svcErr.Code
		}
		return "INTERNAL_ERROR"
	}
}
