// Package gemini implements the feature evaluator against Google's
// generative language HTTP API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/adscope/adscope/internal/config"
	"github.com/adscope/adscope/internal/evaluator/evalerrors"
	"github.com/adscope/adscope/pkg/models"
)

// Provider implements models.FeatureEvaluator using the Gemini HTTP API.
type Provider struct {
	cfg    config.GeminiConfig
	client *http.Client
}

func NewProvider(cfg config.GeminiConfig, timeout time.Duration) *Provider {
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *Provider) Name() string { return "gemini" }

type evaluateRequest struct {
	SourceRef            string   `json:"source_ref"`
	Category             string   `json:"category"`
	Model                string   `json:"model"`
	BrandName            string   `json:"brand_name,omitempty"`
	BrandVariations      []string `json:"brand_variations,omitempty"`
	BrandedProducts      []string `json:"branded_products,omitempty"`
	BrandedCallToActions []string `json:"branded_call_to_actions,omitempty"`
}

type evaluateResponse struct {
	Features []models.FeatureEvaluation `json:"features"`
}

// EvaluateFeatures runs one taxonomy over the source video. The heavy lifting
// (frame sampling, prompting, schema validation) happens server-side; this
// client ships the brand context and decodes the feature list.
func (p *Provider) EvaluateFeatures(ctx context.Context, sourceRef string, cfg models.EvalConfig, category models.FeatureCategory) ([]models.FeatureEvaluation, error) {
	body, err := json.Marshal(evaluateRequest{
		SourceRef:            sourceRef,
		Category:             string(category),
		Model:                p.cfg.Model,
		BrandName:            cfg.BrandName,
		BrandVariations:      cfg.BrandVariations,
		BrandedProducts:      cfg.BrandedProducts,
		BrandedCallToActions: cfg.BrandedCallToActions,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	u := fmt.Sprintf("%s/v1/evaluate", p.cfg.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", evalerrors.ErrEvaluatorUnavailable, resp.StatusCode)
	}

	var evalResp evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&evalResp); err != nil {
		return nil, fmt.Errorf("%w: %v", evalerrors.ErrInvalidResponse, err)
	}

	for i := range evalResp.Features {
		evalResp.Features[i].Category = category
		evalResp.Features[i].ClampConfidence()
	}
	return evalResp.Features, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", evalerrors.ErrInferenceTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", evalerrors.ErrInferenceTimeout, err)
	}

	return fmt.Errorf("%w: %v", evalerrors.ErrEvaluatorUnavailable, err)
}

// Compile-time check that Provider implements FeatureEvaluator.
var _ models.FeatureEvaluator = (*Provider)(nil)
