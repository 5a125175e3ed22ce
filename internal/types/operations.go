package types

import (
	"fmt"
	"regexp"
)

// Privileged admin operations form a closed union. Each variant carries its
// own validated fields and is dispatched by type switch in the control plane.

// AdminAction names the kind of a privileged operation for audit entries
type AdminAction string

const (
	ActionEmergencyStop       AdminAction = "EMERGENCY_STOP"
	ActionEmergencyResume     AdminAction = "EMERGENCY_RESUME"
	ActionManualDistribution  AdminAction = "MANUAL_DISTRIBUTION"
	ActionCancelDistribution  AdminAction = "CANCEL_DISTRIBUTION"
	ActionStatusOverride      AdminAction = "STATUS_OVERRIDE"
	ActionForceRetry          AdminAction = "FORCE_RETRY"
	ActionDistributionCreated AdminAction = "DISTRIBUTION_CREATED"
)

// AdminOperation is implemented by every privileged operation payload
type AdminOperation interface {
	Action() AdminAction
	Validate() error
}

var walletAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ValidateWalletAddress validates an EVM wallet address format
func ValidateWalletAddress(address string) error {
	if !walletAddressRegex.MatchString(address) {
		return &ServiceError{
			Code:    "INVALID_ADDRESS_FORMAT",
			Message: fmt.Sprintf("invalid wallet address: %s (must be 0x followed by 40 hexadecimal characters)", address),
			Details: map[string]interface{}{"address": address},
		}
	}
	return nil
}

// ManualDistribution forces a hackathon's distribution to be processed now
type ManualDistribution struct {
	HackathonID  int64  `json:"hackathonId"`
	Reason       string `json:"reason"`
	AdminAddress string `json:"adminAddress"`
	BypassChecks bool   `json:"bypassChecks,omitempty"`
}

func (op *ManualDistribution) Action() AdminAction { return ActionManualDistribution }

func (op *ManualDistribution) Validate() error {
	if op.HackathonID <= 0 {
		return &ServiceError{Code: "INVALID_HACKATHON_ID", Message: "hackathonId must be positive"}
	}
	if op.Reason == "" {
		return &ServiceError{Code: "REASON_REQUIRED", Message: "a reason is required for manual distribution"}
	}
	return ValidateWalletAddress(op.AdminAddress)
}

// Cancellation cancels a distribution, optionally flagging the pool for refund
type Cancellation struct {
	HackathonID     int64  `json:"hackathonId"`
	Reason          string `json:"reason"`
	AdminAddress    string `json:"adminAddress"`
	RefundPrizePool bool   `json:"refundPrizePool,omitempty"`
}

func (op *Cancellation) Action() AdminAction { return ActionCancelDistribution }

func (op *Cancellation) Validate() error {
	if op.HackathonID <= 0 {
		return &ServiceError{Code: "INVALID_HACKATHON_ID", Message: "hackathonId must be positive"}
	}
	if op.Reason == "" {
		return &ServiceError{Code: "REASON_REQUIRED", Message: "a reason is required for cancellation"}
	}
	return ValidateWalletAddress(op.AdminAddress)
}

// StatusOverride forces a hackathon's phase, optionally bypassing
// phase-transition validation. Never the default path.
type StatusOverride struct {
	HackathonID      int64          `json:"hackathonId"`
	FromStatus       HackathonPhase `json:"fromStatus"`
	ToStatus         HackathonPhase `json:"toStatus"`
	Reason           string         `json:"reason"`
	AdminAddress     string         `json:"adminAddress"`
	BypassValidation bool           `json:"bypassValidation,omitempty"`
}

func (op *StatusOverride) Action() AdminAction { return ActionStatusOverride }

func (op *StatusOverride) Validate() error {
	if op.HackathonID <= 0 {
		return &ServiceError{Code: "INVALID_HACKATHON_ID", Message: "hackathonId must be positive"}
	}
	if !ValidPhase(op.FromStatus) || !ValidPhase(op.ToStatus) {
		return &ServiceError{
			Code:    "INVALID_PHASE",
			Message: fmt.Sprintf("unknown hackathon phase in transition %s -> %s", op.FromStatus, op.ToStatus),
		}
	}
	if op.Reason == "" {
		return &ServiceError{Code: "REASON_REQUIRED", Message: "a reason is required for status override"}
	}
	return ValidateWalletAddress(op.AdminAddress)
}

// ForceRetry resubmits a failed distribution with admin-supplied gas parameters
type ForceRetry struct {
	HackathonID    int64  `json:"hackathonId"`
	AdminAddress   string `json:"adminAddress"`
	CustomGasPrice string `json:"customGasPrice,omitempty"` // wei, decimal string
	CustomGasLimit uint64 `json:"customGasLimit,omitempty"`
}

func (op *ForceRetry) Action() AdminAction { return ActionForceRetry }

func (op *ForceRetry) Validate() error {
	if op.HackathonID <= 0 {
		return &ServiceError{Code: "INVALID_HACKATHON_ID", Message: "hackathonId must be positive"}
	}
	if op.CustomGasPrice != "" {
		if _, err := ParseAmount(op.CustomGasPrice); err != nil {
			return &ServiceError{Code: "INVALID_GAS_PRICE", Message: err.Error()}
		}
	}
	return ValidateWalletAddress(op.AdminAddress)
}
