package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prize-distributor/internal/models"
	"github.com/prize-distributor/internal/storage"
	"github.com/prize-distributor/internal/types"
)

type stopRequest struct {
	Reason string `json:"reason"`
}

// handleActivateStop activates the emergency stop.
func (s *Server) handleActivateStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}

	result, err := s.control.ActivateStop(r.Context(), AdminAddressFromContext(r.Context()), req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleDeactivateStop deactivates the emergency stop.
func (s *Server) handleDeactivateStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}

	result, err := s.control.DeactivateStop(r.Context(), AdminAddressFromContext(r.Context()), req.Reason)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleStopStatus returns the emergency stop state with its reason log.
func (s *Server) handleStopStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.control.StopStatus(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

type manualDistributionRequest struct {
	HackathonID  int64  `json:"hackathonId"`
	Reason       string `json:"reason"`
	BypassChecks bool   `json:"bypassChecks,omitempty"`
}

// handleManualDistribution schedules and triggers a distribution on demand.
func (s *Server) handleManualDistribution(w http.ResponseWriter, r *http.Request) {
	var req manualDistributionRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}

	s.executeAdminOp(w, r, &types.ManualDistribution{
		HackathonID:  req.HackathonID,
		Reason:       req.Reason,
		AdminAddress: AdminAddressFromContext(r.Context()),
		BypassChecks: req.BypassChecks,
	})
}

type cancelDistributionRequest struct {
	HackathonID     int64  `json:"hackathonId"`
	Reason          string `json:"reason"`
	RefundPrizePool bool   `json:"refundPrizePool,omitempty"`
}

// handleCancelDistribution cancels a hackathon's active distribution.
func (s *Server) handleCancelDistribution(w http.ResponseWriter, r *http.Request) {
	var req cancelDistributionRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}

	s.executeAdminOp(w, r, &types.Cancellation{
		HackathonID:     req.HackathonID,
		Reason:          req.Reason,
		AdminAddress:    AdminAddressFromContext(r.Context()),
		RefundPrizePool: req.RefundPrizePool,
	})
}

type overrideStatusRequest struct {
	HackathonID      int64                `json:"hackathonId"`
	FromStatus       types.HackathonPhase `json:"fromStatus"`
	ToStatus         types.HackathonPhase `json:"toStatus"`
	Reason           string               `json:"reason"`
	BypassValidation bool                 `json:"bypassValidation,omitempty"`
}

// handleOverrideStatus forces a hackathon's lifecycle phase.
func (s *Server) handleOverrideStatus(w http.ResponseWriter, r *http.Request) {
	var req overrideStatusRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}

	s.executeAdminOp(w, r, &types.StatusOverride{
		HackathonID:      req.HackathonID,
		FromStatus:       req.FromStatus,
		ToStatus:         req.ToStatus,
		Reason:           req.Reason,
		AdminAddress:     AdminAddressFromContext(r.Context()),
		BypassValidation: req.BypassValidation,
	})
}

type forceRetryRequest struct {
	HackathonID    int64  `json:"hackathonId"`
	CustomGasPrice string `json:"customGasPrice,omitempty"`
	CustomGasLimit uint64 `json:"customGasLimit,omitempty"`
}

// handleForceRetry reopens a hackathon's failed payouts.
func (s *Server) handleForceRetry(w http.ResponseWriter, r *http.Request) {
	var req forceRetryRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}

	s.executeAdminOp(w, r, &types.ForceRetry{
		HackathonID:    req.HackathonID,
		AdminAddress:   AdminAddressFromContext(r.Context()),
		CustomGasPrice: req.CustomGasPrice,
		CustomGasLimit: req.CustomGasLimit,
	})
}

// executeAdminOp dispatches a privileged operation. Malformed input is a
// transport error; a failed action comes back 200 inside the envelope.
func (s *Server) executeAdminOp(w http.ResponseWriter, r *http.Request, op types.AdminOperation) {
	result, err := s.control.Execute(r.Context(), op)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleSystemHealth returns the operational snapshot. Always 200: a
// degraded snapshot is still a snapshot.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.control.SystemHealth(r.Context()))
}

// handleAuditTrail returns audit entries, newest first.
func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	filter := storage.AuditFilter{
		Action: r.URL.Query().Get("action"),
	}

	if v := r.URL.Query().Get("hackathonId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "hackathonId must be an integer", nil)
			return
		}
		filter.HackathonID = &id
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "since must be an RFC 3339 timestamp", nil)
			return
		}
		filter.Since = &t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "until must be an RFC 3339 timestamp", nil)
			return
		}
		filter.Until = &t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		filter.Limit = limit
	}

	entries, err := s.control.AuditTrail(r.Context(), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}
