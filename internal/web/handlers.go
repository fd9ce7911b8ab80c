package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/costwise/pricingjobs/internal/jobs"
	"github.com/costwise/pricingjobs/internal/logging"
	"github.com/costwise/pricingjobs/internal/store"
	"github.com/costwise/pricingjobs/internal/worker"
)

// createJobRequest is the body of POST /api/pricing-jobs.
type createJobRequest struct {
	OperationType  jobs.OperationType `json:"operation_type"`
	OrganizationID uuid.UUID          `json:"organization_id"`
	TotalItems     int                `json:"total_items"`
	JobData        jobs.JobData       `json:"job_data"`
	CreatedBy      *uuid.UUID         `json:"created_by,omitempty"`
}

// processJobRequest is the body of POST /api/pricing-jobs/process.
type processJobRequest struct {
	JobID string `json:"jobId"`
}

// processJobResponse reports the outcome of one synchronous run.
type processJobResponse struct {
	Success       bool                `json:"success"`
	JobID         uuid.UUID           `json:"jobId"`
	NotApplicable bool                `json:"notApplicable,omitempty"`
	Status        jobs.Status         `json:"status,omitempty"`
	Result        *jobs.ResultSummary `json:"result,omitempty"`
	ErrorMessage  string              `json:"errorMessage,omitempty"`
}

// handleCreateJob records a new pending job. Nothing is processed yet; the
// caller (or a queue consumer) triggers the run separately.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.OrganizationID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, "organization_id is required")
		return
	}
	if req.JobData.ModeID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, "job_data.mode_id is required")
		return
	}
	if req.OperationType == "" {
		req.OperationType = jobs.OpApplyPricingMode
	}
	if req.TotalItems < 0 {
		writeError(w, r, http.StatusBadRequest, "total_items must be non-negative")
		return
	}

	jobID, err := s.store.CreateJob(r.Context(), req.OperationType, req.OrganizationID, req.TotalItems, req.JobData, req.CreatedBy)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "could not create job")
		return
	}

	logging.FromContext(r.Context()).Info("job created",
		"job_id", jobID,
		"organization_id", req.OrganizationID,
		"operation", req.OperationType,
	)
	writeJSON(w, http.StatusCreated, map[string]uuid.UUID{"job_id": jobID})
}

// handleProcessJob runs one job synchronously and reports its terminal state.
func (s *Server) handleProcessJob(w http.ResponseWriter, r *http.Request) {
	var req processJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	// Parse the id once; every path below, including failures, reuses it.
	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "jobId must be a valid UUID")
		return
	}

	outcome, err := s.runner.Run(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrJobNotFound):
			writeError(w, r, http.StatusNotFound, "job not found")
		case errors.Is(err, worker.ErrTooManyRuns):
			w.Header().Set("Retry-After", "10")
			writeError(w, r, http.StatusTooManyRequests, "too many concurrent job runs, please try again later")
		default:
			logging.FromContext(r.Context()).Error("job run failed", "job_id", jobID, "error", err)
			writeError(w, r, http.StatusInternalServerError, "job processing failed")
		}
		return
	}

	if !outcome.Applicable {
		writeJSON(w, http.StatusOK, processJobResponse{
			Success:       false,
			JobID:         jobID,
			NotApplicable: true,
			Status:        outcome.Status,
		})
		return
	}

	writeJSON(w, http.StatusOK, processJobResponse{
		Success:      true,
		JobID:        jobID,
		Status:       outcome.Status,
		Result:       outcome.Summary,
		ErrorMessage: outcome.ErrorMessage,
	})
}

// handleGetJob returns a point-in-time snapshot of one job.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "jobID must be a valid UUID")
		return
	}

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, r, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "could not load job")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// handleActiveJobs lists an organization's pending and processing jobs,
// newest first.
func (s *Server) handleActiveJobs(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "orgID must be a valid UUID")
		return
	}

	active, err := s.store.GetActiveJobsForOrganization(r.Context(), orgID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "could not list active jobs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"jobs": active})
}
