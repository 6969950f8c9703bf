// Package media talks to the media staging service: the HTTP sidecar that
// downloads, trims, and probes source video and derives per-facet analyses.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/adscope/adscope/internal/config"
	"github.com/adscope/adscope/pkg/models"
)

// Sentinel errors for media service failures.
var (
	ErrMediaUnreachable = errors.New("media service unreachable")
	ErrMediaTimeout     = errors.New("media service timeout")
	ErrMediaRequest     = errors.New("media service request failed")
)

// HTTPClient implements models.MediaExtractor against the media service API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPClient(cfg config.MediaConfig, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// post sends a JSON request to the given path and decodes the JSON response
// into out (skipped when out is nil).
func (c *HTTPClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	u := c.baseURL + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrMediaRequest, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

type sourceRequest struct {
	SourceRef string `json:"source_ref"`
}

type metadataScenesRequest struct {
	SourceRef            string   `json:"source_ref"`
	BrandName            string   `json:"brand_name,omitempty"`
	BrandVariations      []string `json:"brand_variations,omitempty"`
	BrandedProducts      []string `json:"branded_products,omitempty"`
	BrandedCallToActions []string `json:"branded_call_to_actions,omitempty"`
}

type metadataScenesResponse struct {
	Brand  models.BrandMetadata `json:"brand"`
	Scenes []models.Scene       `json:"scenes"`
}

func (c *HTTPClient) ExtractMetadataAndScenes(ctx context.Context, sourceRef string, cfg models.EvalConfig) (models.BrandMetadata, []models.Scene, error) {
	var resp metadataScenesResponse
	err := c.post(ctx, "/v1/metadata-scenes", metadataScenesRequest{
		SourceRef:            sourceRef,
		BrandName:            cfg.BrandName,
		BrandVariations:      cfg.BrandVariations,
		BrandedProducts:      cfg.BrandedProducts,
		BrandedCallToActions: cfg.BrandedCallToActions,
	}, &resp)
	if err != nil {
		return models.BrandMetadata{}, nil, err
	}
	return resp.Brand, resp.Scenes, nil
}

func (c *HTTPClient) Download(ctx context.Context, sourceRef string) (models.LocalMedia, error) {
	var media models.LocalMedia
	if err := c.post(ctx, "/v1/download", sourceRequest{SourceRef: sourceRef}, &media); err != nil {
		return models.LocalMedia{}, err
	}
	return media, nil
}

func (c *HTTPClient) TrimLeader(ctx context.Context, sourceRef string) error {
	return c.post(ctx, "/v1/trim-leader", sourceRequest{SourceRef: sourceRef}, nil)
}

type sceneAnalysisRequest struct {
	Media  models.LocalMedia `json:"media"`
	Scenes []models.Scene    `json:"scenes"`
}

func (c *HTTPClient) ExtractKeyframes(ctx context.Context, media models.LocalMedia, scenes []models.Scene) ([]models.Keyframe, error) {
	var resp struct {
		Keyframes []models.Keyframe `json:"keyframes"`
	}
	if err := c.post(ctx, "/v1/keyframes", sceneAnalysisRequest{Media: media, Scenes: scenes}, &resp); err != nil {
		return nil, err
	}
	return resp.Keyframes, nil
}

func (c *HTTPClient) AnalyzeVolume(ctx context.Context, media models.LocalMedia, scenes []models.Scene) ([]models.VolumeLevel, error) {
	var resp struct {
		Volumes []models.VolumeLevel `json:"volumes"`
	}
	if err := c.post(ctx, "/v1/volume", sceneAnalysisRequest{Media: media, Scenes: scenes}, &resp); err != nil {
		return nil, err
	}
	return resp.Volumes, nil
}

func (c *HTTPClient) AnalyzeAudioRichness(ctx context.Context, media models.LocalMedia, scenes []models.Scene) (models.AudioRichness, error) {
	var resp models.AudioRichness
	if err := c.post(ctx, "/v1/audio-richness", sceneAnalysisRequest{Media: media, Scenes: scenes}, &resp); err != nil {
		return models.AudioRichness{}, err
	}
	return resp, nil
}

func (c *HTTPClient) ExtractTechnicalMetadata(ctx context.Context, media models.LocalMedia) (models.VideoMetadata, error) {
	var resp models.VideoMetadata
	if err := c.post(ctx, "/v1/tech-metadata", struct {
		Media models.LocalMedia `json:"media"`
	}{media}, &resp); err != nil {
		return models.VideoMetadata{}, err
	}
	return resp, nil
}

type brandRequest struct {
	SourceRef string `json:"source_ref"`
	BrandName string `json:"brand_name"`
}

func (c *HTTPClient) GenerateBrandIntelligence(ctx context.Context, sourceRef, brandName string) (models.BrandIntelligence, error) {
	var resp models.BrandIntelligence
	if err := c.post(ctx, "/v1/brand-intelligence", brandRequest{SourceRef: sourceRef, BrandName: brandName}, &resp); err != nil {
		return models.BrandIntelligence{}, err
	}
	return resp, nil
}

func (c *HTTPClient) GenerateCreativeBrief(ctx context.Context, sourceRef, brandName string) (models.CreativeBrief, error) {
	var resp models.CreativeBrief
	if err := c.post(ctx, "/v1/creative-brief", brandRequest{SourceRef: sourceRef, BrandName: brandName}, &resp); err != nil {
		return models.CreativeBrief{}, err
	}
	return resp, nil
}

// Cleanup removes the locally staged media directory. Failures are logged,
// never surfaced: the staging area is periodically swept anyway.
func (c *HTTPClient) Cleanup(media models.LocalMedia) {
	if media.Dir == "" {
		return
	}
	if err := os.RemoveAll(media.Dir); err != nil {
		c.logger.Warn("failed to clean up staged media", "dir", media.Dir, "error", err)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrMediaTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrMediaTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrMediaUnreachable, err)
}

var _ models.MediaExtractor = (*HTTPClient)(nil)
