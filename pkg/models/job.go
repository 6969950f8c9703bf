package models

import (
	"time"

	"github.com/google/uuid"
)

// Job statuses. Transitions are one-directional: queued → rendering →
// {succeeded | failed | canceled}. Terminal statuses are final.
const (
	JobStatusQueued    = "queued"
	JobStatusRendering = "rendering"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCanceled  = "canceled"
)

// Error codes recorded on failed jobs.
const (
	ErrCodeTimeout           = "evaluation_timeout"
	ErrCodeStaleTimeout      = "stale_timeout"
	ErrCodeStreamInterrupted = "stream_interrupted"
	ErrCodePipeline          = "pipeline_error"
)

// IsTerminalStatus reports whether status is one of the final job states.
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// SourceKind identifies where the video under evaluation lives.
const (
	SourceKindUpload = "upload"
	SourceKindURL    = "url"
)

// Job tracks one end-to-end evaluation of a single source video under one
// configuration. The API returns the job ID when evaluation starts; clients
// stream progress over SSE or poll GET /api/v1/jobs/{jobID}.
type Job struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	UserID          uuid.UUID  `db:"user_id"          json:"user_id"`
	Status          string     `db:"status"           json:"status"`
	ProgressPct     int        `db:"progress_pct"     json:"progress_pct"`
	SourceKind      string     `db:"source_kind"      json:"source_kind"`
	SourceRef       string     `db:"source_ref"       json:"source_ref"`
	ConfigJSON      string     `db:"config_json"      json:"config_json"`
	TokensEstimated int        `db:"tokens_estimated" json:"tokens_estimated"`
	TokensUsed      int        `db:"tokens_used"      json:"tokens_used"`
	DurationSeconds *float64   `db:"duration_seconds" json:"duration_seconds,omitempty"`
	OutputURL       *string    `db:"output_url"       json:"output_url,omitempty"`
	ErrorCode       *string    `db:"error_code"       json:"error_code,omitempty"`
	ErrorMessage    *string    `db:"error_message"    json:"error_message,omitempty"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
	StartedAt       *time.Time `db:"started_at"       json:"started_at,omitempty"`
	FinishedAt      *time.Time `db:"finished_at"      json:"finished_at,omitempty"`
}

// EvalConfig is the configuration snapshot for one evaluation run. The three
// booleans select which feature taxonomies the pipeline fans out over.
type EvalConfig struct {
	RunABCD                 bool     `json:"run_abcd"`
	RunShorts               bool     `json:"run_shorts"`
	RunCreativeIntelligence bool     `json:"run_creative_intelligence"`
	BrandName               string   `json:"brand_name,omitempty"`
	BrandVariations         []string `json:"brand_variations,omitempty"`
	BrandedProducts         []string `json:"branded_products,omitempty"`
	BrandedCallToActions    []string `json:"branded_call_to_actions,omitempty"`
}

// EnabledCategories returns the feature categories selected by the config,
// in canonical order.
func (c EvalConfig) EnabledCategories() []FeatureCategory {
	var cats []FeatureCategory
	if c.RunABCD {
		cats = append(cats, CategoryABCD)
	}
	if c.RunShorts {
		cats = append(cats, CategoryShorts)
	}
	if c.RunCreativeIntelligence {
		cats = append(cats, CategoryCreativeIntelligence)
	}
	return cats
}
