// Package mock provides a configurable in-memory media extractor for tests
// and local development.
package mock

import (
	"context"
	"sync"

	"github.com/adscope/adscope/pkg/models"
)

// Extractor satisfies models.MediaExtractor for testing. Any nil func falls
// back to a plausible canned response.
type Extractor struct {
	MetadataScenesFunc func(ctx context.Context, sourceRef string, cfg models.EvalConfig) (models.BrandMetadata, []models.Scene, error)
	DownloadFunc       func(ctx context.Context, sourceRef string) (models.LocalMedia, error)
	TrimLeaderFunc     func(ctx context.Context, sourceRef string) error
	KeyframesFunc      func(ctx context.Context, media models.LocalMedia, scenes []models.Scene) ([]models.Keyframe, error)
	VolumeFunc         func(ctx context.Context, media models.LocalMedia, scenes []models.Scene) ([]models.VolumeLevel, error)
	AudioRichnessFunc  func(ctx context.Context, media models.LocalMedia, scenes []models.Scene) (models.AudioRichness, error)
	TechMetadataFunc   func(ctx context.Context, media models.LocalMedia) (models.VideoMetadata, error)
	BrandIntelFunc     func(ctx context.Context, sourceRef, brandName string) (models.BrandIntelligence, error)
	CreativeBriefFunc  func(ctx context.Context, sourceRef, brandName string) (models.CreativeBrief, error)

	mu          sync.Mutex
	cleanedDirs []string
}

// NewExtractor returns an Extractor serving canned responses.
func NewExtractor() *Extractor {
	return &Extractor{}
}

func (m *Extractor) ExtractMetadataAndScenes(ctx context.Context, sourceRef string, cfg models.EvalConfig) (models.BrandMetadata, []models.Scene, error) {
	if m.MetadataScenesFunc != nil {
		return m.MetadataScenesFunc(ctx, sourceRef, cfg)
	}
	brand := models.BrandMetadata{BrandName: cfg.BrandName}
	if brand.BrandName == "" {
		brand.BrandName = "Acme"
	}
	return brand, []models.Scene{
		{Index: 0, StartSeconds: 0, EndSeconds: 3.2, Description: "Product close-up with fast cuts", Emotion: "excitement"},
		{Index: 1, StartSeconds: 3.2, EndSeconds: 18.0, Description: "Customer using the product", Emotion: "trust"},
		{Index: 2, StartSeconds: 18.0, EndSeconds: 27.5, Description: "End card with offer and URL", Emotion: "urgency"},
	}, nil
}

func (m *Extractor) Download(ctx context.Context, sourceRef string) (models.LocalMedia, error) {
	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, sourceRef)
	}
	return models.LocalMedia{Dir: "/tmp/adscope-mock", Path: "/tmp/adscope-mock/video.mp4"}, nil
}

func (m *Extractor) TrimLeader(ctx context.Context, sourceRef string) error {
	if m.TrimLeaderFunc != nil {
		return m.TrimLeaderFunc(ctx, sourceRef)
	}
	return nil
}

func (m *Extractor) ExtractKeyframes(ctx context.Context, media models.LocalMedia, scenes []models.Scene) ([]models.Keyframe, error) {
	if m.KeyframesFunc != nil {
		return m.KeyframesFunc(ctx, media, scenes)
	}
	frames := make([]models.Keyframe, 0, len(scenes))
	for _, s := range scenes {
		frames = append(frames, models.Keyframe{
			SceneIndex:       s.Index,
			TimestampSeconds: (s.StartSeconds + s.EndSeconds) / 2,
			URL:              "https://cdn.example.com/frames/mock.jpg",
		})
	}
	return frames, nil
}

func (m *Extractor) AnalyzeVolume(ctx context.Context, media models.LocalMedia, scenes []models.Scene) ([]models.VolumeLevel, error) {
	if m.VolumeFunc != nil {
		return m.VolumeFunc(ctx, media, scenes)
	}
	vols := make([]models.VolumeLevel, 0, len(scenes))
	for _, s := range scenes {
		vols = append(vols, models.VolumeLevel{SceneIndex: s.Index, MeanDB: -18.5, MaxDB: -6.0})
	}
	return vols, nil
}

func (m *Extractor) AnalyzeAudioRichness(ctx context.Context, media models.LocalMedia, scenes []models.Scene) (models.AudioRichness, error) {
	if m.AudioRichnessFunc != nil {
		return m.AudioRichnessFunc(ctx, media, scenes)
	}
	return models.AudioRichness{
		HasMusic:      true,
		HasVoiceover:  true,
		RichnessScore: 0.7,
		Summary:       "Music bed with voiceover throughout",
	}, nil
}

func (m *Extractor) ExtractTechnicalMetadata(ctx context.Context, media models.LocalMedia) (models.VideoMetadata, error) {
	if m.TechMetadataFunc != nil {
		return m.TechMetadataFunc(ctx, media)
	}
	return models.VideoMetadata{
		DurationSeconds: 27.5,
		Width:           1080,
		Height:          1920,
		FPS:             30,
		Codec:           "h264",
		FileSizeMB:      14.2,
	}, nil
}

func (m *Extractor) GenerateBrandIntelligence(ctx context.Context, sourceRef, brandName string) (models.BrandIntelligence, error) {
	if m.BrandIntelFunc != nil {
		return m.BrandIntelFunc(ctx, sourceRef, brandName)
	}
	return models.BrandIntelligence{
		BrandName:        brandName,
		ProductService:   "e-commerce",
		TargetAudience:   "Young adults shopping online",
		ValueProposition: "Fast shipping and easy returns",
	}, nil
}

func (m *Extractor) GenerateCreativeBrief(ctx context.Context, sourceRef, brandName string) (models.CreativeBrief, error) {
	if m.CreativeBriefFunc != nil {
		return m.CreativeBriefFunc(ctx, sourceRef, brandName)
	}
	return models.CreativeBrief{
		Objective:      "Drive first purchases",
		CoreMessage:    "Quality product at a fair price",
		Tone:           "Energetic",
		TargetAudience: "Value-conscious shoppers",
	}, nil
}

func (m *Extractor) Cleanup(media models.LocalMedia) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if media.Dir != "" {
		m.cleanedDirs = append(m.cleanedDirs, media.Dir)
	}
}

// CleanedDirs reports every directory Cleanup was asked to remove.
func (m *Extractor) CleanedDirs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cleanedDirs))
	copy(out, m.cleanedDirs)
	return out
}

var _ models.MediaExtractor = (*Extractor)(nil)
