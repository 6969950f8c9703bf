package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/adscope/adscope/internal/api/middleware"
	"github.com/adscope/adscope/internal/api/response"
	"github.com/adscope/adscope/internal/store"
)

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}, the
// polling alternative to the SSE stream.
func NewGetJobHandler(svc EvaluationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, jobID, ok := jobRequest(w, r)
		if !ok {
			return
		}

		job, err := svc.GetJob(r.Context(), userID, jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}
		response.JSON(w, job)
	}
}

// NewCancelJobHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc EvaluationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, jobID, ok := jobRequest(w, r)
		if !ok {
			return
		}

		err := svc.Cancel(r.Context(), userID, jobID)
		if err != nil {
			var conflict *store.StatusConflictError
			switch {
			case errors.Is(err, store.ErrNotFound):
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			case errors.As(err, &conflict):
				response.Error(w, http.StatusConflict, "JOB_ALREADY_FINISHED",
					"Job already reached a terminal state", map[string]string{"status": conflict.Current})
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to cancel job", nil)
			}
			return
		}

		job, err := svc.GetJob(r.Context(), userID, jobID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}
		response.JSON(w, job)
	}
}

// NewGetReportHandler returns the handler for GET /api/v1/reports/{jobID}.
func NewGetReportHandler(svc EvaluationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, jobID, ok := jobRequest(w, r)
		if !ok {
			return
		}

		report, err := svc.GetReport(r.Context(), userID, jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "REPORT_NOT_FOUND",
					"No report available for this job", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load report", nil)
			return
		}
		response.JSON(w, report)
	}
}

// jobRequest extracts the authenticated user and the jobID path parameter,
// writing the error response itself when either is missing.
func jobRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return uuid.Nil, uuid.Nil, false
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a UUID", nil)
		return uuid.Nil, uuid.Nil, false
	}
	return userID, jobID, true
}
