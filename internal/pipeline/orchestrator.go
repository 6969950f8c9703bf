package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/adscope/adscope/internal/cache"
	"github.com/adscope/adscope/internal/scoring"
	"github.com/adscope/adscope/pkg/models"
)

// Orchestrator runs the staged evaluation pipeline for one job. Stage
// failures other than formatting are absorbed: the affected facet degrades
// to an empty value and the run continues.
type Orchestrator struct {
	evaluator  models.FeatureEvaluator
	media      models.MediaExtractor
	evalCache  *EvalCache
	redis      cache.Cache
	benchmarks *scoring.BenchmarkEngine
	background *Background
	logger     *slog.Logger
}

func NewOrchestrator(
	evaluator models.FeatureEvaluator,
	media models.MediaExtractor,
	evalCache *EvalCache,
	redis cache.Cache,
	benchmarks *scoring.BenchmarkEngine,
	background *Background,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		evaluator:  evaluator,
		media:      media,
		evalCache:  evalCache,
		redis:      redis,
		benchmarks: benchmarks,
		background: background,
		logger:     logger,
	}
}

// Run executes the pipeline for the job and returns the formatted report.
// The bool result reports whether the report came from the evaluation cache.
// Run is executed on a worker goroutine; the caller streams progress from
// the Stream concurrently.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job, cfg models.EvalConfig, stream *Stream) (*models.Report, bool, error) {
	logger := o.logger.With("job_id", job.ID)

	// Stage 1: cache probe.
	fp := Fingerprint(job.SourceRef, cfg)
	if report, ok := o.evalCache.Probe(fp); ok {
		stream.Publish("cache", "Using cached results", 100)
		return report, true, nil
	}

	// Stage 2: pre-processing. Leader trimming applies to object-storage
	// sources, staged uploads included; plain remote URLs are evaluated
	// as-is.
	stream.Publish("trim", "Preparing video...", 5)
	if cfg.RunABCD && trimmableSource(job) {
		if err := o.media.TrimLeader(ctx, job.SourceRef); err != nil {
			logger.Error("video trim failed", "error", err)
		}
	}

	// Stage 3: metadata+scenes and download in parallel.
	stream.Publish("metadata", "Extracting brand metadata & detecting scenes...", 8)
	var (
		scenes []models.Scene
		local  models.LocalMedia
	)
	var stage3 sync.WaitGroup
	stage3.Add(2)
	go func() {
		defer stage3.Done()
		brand, detected, err := o.media.ExtractMetadataAndScenes(ctx, job.SourceRef, cfg)
		if err != nil {
			logger.Error("metadata and scene extraction failed", "error", err)
			return
		}
		scenes = detected
		if brand.BrandName != "" {
			cfg.BrandName = brand.BrandName
		}
		if len(brand.BrandVariations) > 0 {
			cfg.BrandVariations = brand.BrandVariations
		}
		if len(brand.BrandedProducts) > 0 {
			cfg.BrandedProducts = brand.BrandedProducts
		}
		if len(brand.BrandedCallToActions) > 0 {
			cfg.BrandedCallToActions = brand.BrandedCallToActions
		}
	}()
	go func() {
		defer stage3.Done()
		staged, err := o.media.Download(ctx, job.SourceRef)
		if err != nil {
			logger.Error("video download failed", "error", err)
			return
		}
		local = staged
	}()
	stage3.Wait()
	stream.PublishPartial("metadata_done",
		fmt.Sprintf("Brand: %s | %d scenes", cfg.BrandName, len(scenes)), 18,
		map[string]any{"brand_name": cfg.BrandName, "scene_count": len(scenes)})

	// Stage 4: category fan-out, up to three concurrent evaluator calls.
	stream.Publish("evaluating", "Evaluating creative features...", 20)
	categoryResults := o.evaluateCategories(ctx, job.SourceRef, cfg, stream, logger)
	abcdFeatures := categoryResults[models.CategoryABCD]
	shortsFeatures := categoryResults[models.CategoryShorts]
	ciFeatures := categoryResults[models.CategoryCreativeIntelligence]

	// Stage 5: fire-and-forget raw detection history.
	o.submitFeatureHistory(job.ID, categoryResults)

	// Stage 6: six-way post-processing fan-out.
	stream.Publish("post", "Extracting keyframes & building brand profile...", 65)
	facets := o.extractFacets(ctx, job.SourceRef, cfg.BrandName, local, scenes, stream, logger)

	o.media.Cleanup(local)

	// Stage 7: formatting, including scoring and benchmarks.
	stream.Publish("formatting", "Generating report...", 95)
	report := o.formatReport(ctx, job.SourceRef, cfg, scenes,
		abcdFeatures, shortsFeatures, ciFeatures, facets)

	// Stage 8: cache store. A canceled or timed-out run degraded every
	// remaining stage to its zero value; caching that would serve junk to
	// every later request over this fingerprint, so interrupted runs error
	// out instead. Otherwise first writer wins and a concurrent run over
	// the same fingerprint converges on the canonical report.
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("evaluation interrupted: %w", err)
	}
	report = o.evalCache.StoreIfAbsent(fp, report)

	return report, false, nil
}

// evaluateCategories fans out one evaluator call per enabled category. A
// failed category degrades to an empty list and never aborts its siblings.
func (o *Orchestrator) evaluateCategories(ctx context.Context, sourceRef string, cfg models.EvalConfig, stream *Stream, logger *slog.Logger) map[models.FeatureCategory][]models.FeatureEvaluation {
	results := make(map[models.FeatureCategory][]models.FeatureEvaluation, 3)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, category := range cfg.EnabledCategories() {
		wg.Add(1)
		go func(category models.FeatureCategory) {
			defer wg.Done()
			features, err := o.evaluator.EvaluateFeatures(ctx, sourceRef, cfg, category)
			if err != nil {
				logger.Error("category evaluation failed", "category", category, "error", err)
				return
			}
			mu.Lock()
			results[category] = features
			mu.Unlock()

			switch category {
			case models.CategoryABCD:
				passed := models.DetectedCount(features)
				score := 0
				if len(features) > 0 {
					score = int(float64(passed)/float64(len(features))*100 + 0.5)
				}
				stream.PublishPartial("abcd_done", "ABCD features complete", 50,
					map[string]any{"score": score, "passed": passed, "total": len(features)})
			case models.CategoryCreativeIntelligence:
				stream.PublishPartial("ci_done", "Creative intelligence complete", 60,
					map[string]any{"detected": models.DetectedCount(features), "total": len(features)})
			}
		}(category)
	}
	wg.Wait()
	return results
}

// facetResults holds the six post-processing extractions.
type facetResults struct {
	keyframes     []models.Keyframe
	volumes       []models.VolumeLevel
	brandIntel    models.BrandIntelligence
	videoMetadata models.VideoMetadata
	creativeBrief models.CreativeBrief
	audioAnalysis models.AudioRichness
}

// extractFacets runs the six post-processing extractions concurrently. Each
// facet is independently fault-tolerant: a failure leaves its zero value.
func (o *Orchestrator) extractFacets(ctx context.Context, sourceRef, brandName string, local models.LocalMedia, scenes []models.Scene, stream *Stream, logger *slog.Logger) facetResults {
	var facets facetResults
	var wg sync.WaitGroup

	type facetTask struct {
		name    string
		step    string
		message string
		percent int
		run     func() error
	}
	tasks := []facetTask{
		{"keyframes", "keyframes_done", "Keyframes extracted", 75, func() error {
			kf, err := o.media.ExtractKeyframes(ctx, local, scenes)
			facets.keyframes = kf
			return err
		}},
		{"volume", "volume_done", "Volume analysis complete", 82, func() error {
			vols, err := o.media.AnalyzeVolume(ctx, local, scenes)
			facets.volumes = vols
			return err
		}},
		{"brand intelligence", "brand_done", "Brand intelligence complete", 90, func() error {
			bi, err := o.media.GenerateBrandIntelligence(ctx, sourceRef, brandName)
			facets.brandIntel = bi
			return err
		}},
		{"video metadata", "", "", 0, func() error {
			vm, err := o.media.ExtractTechnicalMetadata(ctx, local)
			facets.videoMetadata = vm
			return err
		}},
		{"creative brief", "brief_done", "Creative brief generated", 92, func() error {
			cb, err := o.media.GenerateCreativeBrief(ctx, sourceRef, brandName)
			facets.creativeBrief = cb
			return err
		}},
		{"audio richness", "audio_done", "Audio richness analysis complete", 93, func() error {
			ar, err := o.media.AnalyzeAudioRichness(ctx, local, scenes)
			facets.audioAnalysis = ar
			return err
		}},
	}

	// Facets needing local media degrade immediately when the download
	// failed; the source-ref based generators still run.
	results := make([]error, len(tasks))
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t facetTask) {
			defer wg.Done()
			results[i] = t.run()
		}(i, t)
	}
	wg.Wait()

	for i, t := range tasks {
		if results[i] != nil {
			logger.Error(t.name+" extraction failed", "error", results[i])
			continue
		}
		if t.step != "" {
			stream.Publish(t.step, t.message, t.percent)
		}
	}
	return facets
}

// formatReport assembles all stage outputs, runs the deterministic scoring
// engine, and ranks the result against the benchmark history. It also
// submits the benchmark history append as a background task.
func (o *Orchestrator) formatReport(ctx context.Context, sourceRef string, cfg models.EvalConfig, scenes []models.Scene, abcdFeatures, shortsFeatures, ciFeatures []models.FeatureEvaluation, facets facetResults) *models.Report {
	persuasionFeatures := filterSubCategory(ciFeatures, "PERSUASION")
	structureFeatures := filterSubCategory(ciFeatures, "STRUCTURE")

	predictions := scoring.ComputePredictions(abcdFeatures, persuasionFeatures, structureFeatures)

	abcd := models.NewCategorySummary(abcdFeatures)
	persuasion := models.NewCategorySummary(persuasionFeatures)
	vertical := facets.brandIntel.ProductService

	benchmarks := o.benchmarks.Compute(ctx,
		float64(abcd.Score), float64(persuasion.Score), predictions.OverallScore, vertical)

	return &models.Report{
		BrandName:         cfg.BrandName,
		SourceRef:         sourceRef,
		ABCD:              abcd,
		Shorts:            models.NewCategorySummary(shortsFeatures),
		Persuasion:        persuasion,
		Scenes:            scenes,
		Keyframes:         facets.keyframes,
		Volumes:           facets.volumes,
		BrandIntelligence: facets.brandIntel,
		VideoMetadata:     facets.videoMetadata,
		CreativeBrief:     facets.creativeBrief,
		AudioAnalysis:     facets.audioAnalysis,
		Predictions:       predictions,
		Benchmarks:        benchmarks,
	}
}

// submitFeatureHistory mirrors the raw category detections to Redis for
// offline analysis. Never awaited by the critical path.
func (o *Orchestrator) submitFeatureHistory(jobID uuid.UUID, results map[models.FeatureCategory][]models.FeatureEvaluation) {
	o.background.Submit("feature-history", func(ctx context.Context) error {
		data, err := json.Marshal(results)
		if err != nil {
			return err
		}
		return o.redis.Set(ctx, fmt.Sprintf("features:%s", jobID), data, 0)
	})
}

// trimmableSource reports whether the job's video is reachable for leader
// trimming. Staged uploads and gs:// sources are; remote http(s) URLs are
// not.
func trimmableSource(job *models.Job) bool {
	return job.SourceKind == models.SourceKindUpload ||
		strings.HasPrefix(job.SourceRef, "gs://")
}

func filterSubCategory(features []models.FeatureEvaluation, sub string) []models.FeatureEvaluation {
	var out []models.FeatureEvaluation
	for _, f := range features {
		if strings.EqualFold(f.SubCategory, sub) {
			out = append(out, f)
		}
	}
	return out
}
