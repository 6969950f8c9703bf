// Package models contains shared data models used across the AdScope codebase.
package models

import (
	"context"

	"github.com/google/uuid"
)

// FeatureEvaluator is the interface to the external content-understanding
// service. Never call a specific vendor directly — always inject this
// interface. Failures are not retried here; the pipeline degrades a failed
// category to an empty list.
type FeatureEvaluator interface {
	// EvaluateFeatures runs one taxonomy over the source video.
	EvaluateFeatures(ctx context.Context, sourceRef string, cfg EvalConfig, category FeatureCategory) ([]FeatureEvaluation, error)
	// Name returns the provider identifier (e.g., "gemini").
	Name() string
}

// MediaExtractor stages source media and derives per-facet analyses from it.
// Every method is a pure request/response call; callers treat failures as
// degraded facets, not fatal errors.
type MediaExtractor interface {
	ExtractMetadataAndScenes(ctx context.Context, sourceRef string, cfg EvalConfig) (BrandMetadata, []Scene, error)
	Download(ctx context.Context, sourceRef string) (LocalMedia, error)
	TrimLeader(ctx context.Context, sourceRef string) error
	ExtractKeyframes(ctx context.Context, media LocalMedia, scenes []Scene) ([]Keyframe, error)
	AnalyzeVolume(ctx context.Context, media LocalMedia, scenes []Scene) ([]VolumeLevel, error)
	AnalyzeAudioRichness(ctx context.Context, media LocalMedia, scenes []Scene) (AudioRichness, error)
	ExtractTechnicalMetadata(ctx context.Context, media LocalMedia) (VideoMetadata, error)
	GenerateBrandIntelligence(ctx context.Context, sourceRef, brandName string) (BrandIntelligence, error)
	GenerateCreativeBrief(ctx context.Context, sourceRef, brandName string) (CreativeBrief, error)
	Cleanup(media LocalMedia)
}

// NotificationEvent is a fire-and-forget message to the notification sink.
type NotificationEvent struct {
	Kind      string    `json:"kind"`
	JobID     uuid.UUID `json:"job_id"`
	UserEmail string    `json:"user_email"`
	Message   string    `json:"message"`
	ReportURL string    `json:"report_url,omitempty"`
}

// Notifier delivers events to an external sink (chat webhook, email relay).
// Never on the critical path; the return value is only logged.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent) error
}
