package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/prize-distributor/internal/models"
	"github.com/prize-distributor/internal/scheduler"
	"github.com/prize-distributor/internal/types"
)

const defaultJobListLimit = 50

// handleListJobs returns the most recently updated distribution jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	jobs, err := s.jobs.ListRecent(r.Context(), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*models.DistributionJob{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

type scheduleJobRequest struct {
	HackathonID int64          `json:"hackathonId"`
	Winners     []types.Winner `json:"winners,omitempty"`
}

// handleScheduleJob schedules a distribution for a hackathon. When no winner
// list is supplied, winners come from the prize pool contract's podium.
func (s *Server) handleScheduleJob(w http.ResponseWriter, r *http.Request) {
	var req scheduleJobRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body", nil)
		return
	}
	if req.HackathonID <= 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "hackathonId must be positive", nil)
		return
	}

	job, err := s.scheduler.ScheduleDistribution(r.Context(), req.HackathonID, scheduler.ScheduleOptions{
		Winners: req.Winners,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, job)
}

func hackathonIDFromPath(r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["hackathonId"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// handleGetJob returns the most recent distribution job for a hackathon.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	hackathonID, ok := hackathonIDFromPath(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "hackathonId must be a positive integer", nil)
		return
	}

	job, err := s.jobs.GetLatestByHackathon(r.Context(), hackathonID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleGetRecords returns a hackathon's payout records ordered by position.
func (s *Server) handleGetRecords(w http.ResponseWriter, r *http.Request) {
	hackathonID, ok := hackathonIDFromPath(r)
	if !ok {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "hackathonId must be a positive integer", nil)
		return
	}

	records, err := s.records.ListByHackathon(r.Context(), hackathonID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if records == nil {
		records = []*models.DistributionRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"hackathonId": hackathonID,
		"records":     records,
		"count":       len(records),
	})
}
