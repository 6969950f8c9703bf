// Package handler implements the HTTP handlers for the evaluation API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	mw "github.com/adscope/adscope/internal/api/middleware"
	"github.com/adscope/adscope/internal/api/response"
	"github.com/adscope/adscope/internal/credits"
	"github.com/adscope/adscope/internal/pipeline"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/pkg/models"
)

// EvaluationService is the slice of the pipeline service the handlers need.
type EvaluationService interface {
	StartEvaluation(ctx context.Context, user *models.User, sourceKind, sourceRef string, cfg models.EvalConfig) (*models.Job, *pipeline.Stream, error)
	GetJob(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, userID, jobID uuid.UUID) error
	GetReport(ctx context.Context, userID, jobID uuid.UUID) (*models.Report, error)
}

// NewEvaluateHandler returns the handler for POST /api/v1/evaluate. The
// request either carries a multipart upload (field "video" plus a "config"
// JSON part) or a JSON body with a source_url. The response is a
// server-sent-event stream of progress events ending in "complete" or
// "error"; disconnecting the stream does not cancel the evaluation.
func NewEvaluateHandler(svc EvaluationService, st store.Store, uploadDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		user, err := st.GetUser(r.Context(), userID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load account", nil)
			return
		}

		var sourceKind, sourceRef string
		var cfg models.EvalConfig
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			sourceKind = models.SourceKindUpload
			sourceRef, cfg, err = stageUpload(r, uploadDir)
		} else {
			sourceKind = models.SourceKindURL
			sourceRef, cfg, err = decodeURLRequest(r)
		}
		if err != nil {
			var invalid *credits.ValidationError
			if errors.As(err, &invalid) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", invalid.Reason, nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		job, stream, err := svc.StartEvaluation(r.Context(), user, sourceKind, sourceRef, cfg)
		if err != nil {
			var insufficient *credits.InsufficientBalanceError
			var inFlight *pipeline.JobInFlightError
			switch {
			case errors.As(err, &insufficient):
				response.Error(w, http.StatusPaymentRequired, "INSUFFICIENT_CREDITS",
					insufficient.Error(), map[string]any{
						"balance":  insufficient.Balance,
						"required": insufficient.Required,
						"offers":   insufficient.Offers,
					})
			case errors.As(err, &inFlight):
				response.Error(w, http.StatusConflict, "JOB_IN_FLIGHT",
					"An evaluation is already in progress", map[string]any{
						"job_id": inFlight.HolderJobID,
					})
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"Failed to start evaluation", nil)
			}
			return
		}

		streamEvents(w, r, job, stream)
	}
}

// streamEvents relays progress over SSE until the worker closes the stream
// or the client goes away. The worker owns the job either way.
func streamEvents(w http.ResponseWriter, r *http.Request, job *models.Job, stream *pipeline.Stream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported", nil)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, pipeline.Event{Step: "queued", Message: "Evaluation queued", Percent: 0,
		Partial: map[string]any{"job_id": job.ID}})
	flusher.Flush()

	for {
		events := stream.Drain()
		for _, ev := range events {
			writeEvent(w, ev)
		}
		if len(events) > 0 {
			flusher.Flush()
		}
		if stream.Closed() {
			for _, ev := range stream.Drain() {
				writeEvent(w, ev)
			}
			flusher.Flush()
			return
		}
		stream.Wait(r.Context())
		if r.Context().Err() != nil {
			return
		}
	}
}

func writeEvent(w io.Writer, ev pipeline.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// stageUpload writes the uploaded video to the local staging directory and
// returns its path as the source ref.
func stageUpload(r *http.Request, uploadDir string) (string, models.EvalConfig, error) {
	var cfg models.EvalConfig
	if err := r.ParseMultipartForm(credits.MaxFileSizeMB << 20); err != nil {
		return "", cfg, &credits.ValidationError{Reason: "invalid multipart body"}
	}
	file, header, err := r.FormFile("video")
	if err != nil {
		return "", cfg, &credits.ValidationError{Reason: "video file is required"}
	}
	defer file.Close()

	if err := credits.ValidateUpload(header.Size); err != nil {
		return "", cfg, err
	}
	if raw := r.FormValue("config"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return "", cfg, &credits.ValidationError{Reason: "config must be valid JSON"}
		}
	}
	applyConfigDefaults(&cfg)

	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return "", cfg, fmt.Errorf("creating staging dir: %w", err)
	}
	path := filepath.Join(uploadDir, uuid.NewString()+filepath.Ext(header.Filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", cfg, fmt.Errorf("staging upload: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(path)
		return "", cfg, fmt.Errorf("staging upload: %w", err)
	}
	return path, cfg, nil
}

func decodeURLRequest(r *http.Request) (string, models.EvalConfig, error) {
	var req struct {
		SourceURL string            `json:"source_url"`
		Config    models.EvalConfig `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", req.Config, &credits.ValidationError{Reason: "invalid JSON body"}
	}
	if req.SourceURL == "" {
		return "", req.Config, &credits.ValidationError{Reason: "source_url is required"}
	}
	if !strings.HasPrefix(req.SourceURL, "http://") &&
		!strings.HasPrefix(req.SourceURL, "https://") &&
		!strings.HasPrefix(req.SourceURL, "gs://") {
		return "", req.Config, &credits.ValidationError{Reason: "source_url must be an http(s) or gs URL"}
	}
	applyConfigDefaults(&req.Config)
	return req.SourceURL, req.Config, nil
}

// applyConfigDefaults enables every category when the client selects none:
// an evaluation that runs nothing is never what the caller meant.
func applyConfigDefaults(cfg *models.EvalConfig) {
	if !cfg.RunABCD && !cfg.RunShorts && !cfg.RunCreativeIntelligence {
		cfg.RunABCD = true
		cfg.RunShorts = true
		cfg.RunCreativeIntelligence = true
	}
}
