// Package mock provides a configurable in-memory feature evaluator for
// tests and local development.
package mock

import (
	"context"
	"sync/atomic"

	"github.com/adscope/adscope/pkg/models"
)

// Evaluator satisfies models.FeatureEvaluator for testing.
type Evaluator struct {
	Name_        string
	EvaluateFunc func(ctx context.Context, sourceRef string, cfg models.EvalConfig, category models.FeatureCategory) ([]models.FeatureEvaluation, error)

	calls atomic.Int64
}

func (m *Evaluator) Name() string { return m.Name_ }

// Calls reports how many evaluations have been requested, across categories.
func (m *Evaluator) Calls() int64 { return m.calls.Load() }

func (m *Evaluator) EvaluateFeatures(ctx context.Context, sourceRef string, cfg models.EvalConfig, category models.FeatureCategory) ([]models.FeatureEvaluation, error) {
	m.calls.Add(1)
	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(ctx, sourceRef, cfg, category)
	}
	return nil, nil
}

// NewEvaluator returns an Evaluator with plausible canned detections per
// category.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		Name_: "mock",
		EvaluateFunc: func(_ context.Context, _ string, _ models.EvalConfig, category models.FeatureCategory) ([]models.FeatureEvaluation, error) {
			switch category {
			case models.CategoryABCD:
				return []models.FeatureEvaluation{
					{ID: "attract_dynamic_start", Name: "Dynamic Start", Category: category, SubCategory: "ATTRACT", Detected: true, Confidence: 0.9, Evidence: "Fast cut in the first second"},
					{ID: "brand_early_logo", Name: "Brand Logo Early", Category: category, SubCategory: "BRAND", Detected: true, Confidence: 0.8, Evidence: "Logo visible at 0:02"},
					{ID: "connect_product_visuals", Name: "Product Visuals", Category: category, SubCategory: "CONNECT", Detected: true, Confidence: 0.85, Evidence: "Product shown in use"},
					{ID: "connect_people_presence", Name: "People Presence", Category: category, SubCategory: "CONNECT", Detected: false, Confidence: 0.3},
					{ID: "direct_cta_text", Name: "Call To Action Text", Category: category, SubCategory: "DIRECT", Detected: true, Confidence: 0.7, Evidence: "Shop now URL on end card"},
				}, nil
			case models.CategoryShorts:
				return []models.FeatureEvaluation{
					{ID: "shorts_vertical_framing", Name: "Vertical Framing", Category: category, SubCategory: "FORMAT", Detected: true, Confidence: 0.95},
					{ID: "shorts_loopable", Name: "Loopable Ending", Category: category, SubCategory: "STRUCTURE", Detected: false, Confidence: 0.4},
				}, nil
			case models.CategoryCreativeIntelligence:
				return []models.FeatureEvaluation{
					{ID: "ci_social_proof", Name: "Customer Testimonial", Category: category, SubCategory: "PERSUASION", Detected: true, Confidence: 0.75},
					{ID: "ci_urgency", Name: "Urgency Framing", Category: category, SubCategory: "PERSUASION", Detected: false, Confidence: 0.2},
				}, nil
			}
			return nil, nil
		},
	}
}

// NewFailingEvaluator returns an Evaluator that always returns the given error.
func NewFailingEvaluator(err error) *Evaluator {
	return &Evaluator{
		Name_: "mock-failing",
		EvaluateFunc: func(_ context.Context, _ string, _ models.EvalConfig, _ models.FeatureCategory) ([]models.FeatureEvaluation, error) {
			return nil, err
		},
	}
}

// NewBlockingEvaluator returns an Evaluator that blocks until its context is
// canceled, for exercising timeout paths.
func NewBlockingEvaluator() *Evaluator {
	return &Evaluator{
		Name_: "mock-blocking",
		EvaluateFunc: func(ctx context.Context, _ string, _ models.EvalConfig, _ models.FeatureCategory) ([]models.FeatureEvaluation, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
}

// Compile-time check that Evaluator implements FeatureEvaluator.
var _ models.FeatureEvaluator = (*Evaluator)(nil)
