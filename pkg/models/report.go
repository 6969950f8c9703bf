package models

// CategorySummary rolls up one taxonomy's feature evaluations.
// Score is round(passed/total*100); zero when no features were evaluated.
type CategorySummary struct {
	Score    int                 `json:"score"`
	Passed   int                 `json:"passed"`
	Total    int                 `json:"total"`
	Features []FeatureEvaluation `json:"features"`
}

// NewCategorySummary builds a summary from raw evaluations.
func NewCategorySummary(features []FeatureEvaluation) CategorySummary {
	passed := DetectedCount(features)
	score := 0
	if len(features) > 0 {
		score = int(float64(passed)/float64(len(features))*100 + 0.5)
	}
	return CategorySummary{
		Score:    score,
		Passed:   passed,
		Total:    len(features),
		Features: features,
	}
}

// Report is the fully formatted result of one pipeline run. It is derived
// only from the source content and the configuration snapshot, so identical
// fingerprints yield identical reports; job-level fields (ID, charge,
// timestamps) travel separately on the Job row and the completion event.
type Report struct {
	BrandName         string            `json:"brand_name"`
	SourceRef         string            `json:"source_ref"`
	ABCD              CategorySummary   `json:"abcd"`
	Shorts            CategorySummary   `json:"shorts"`
	Persuasion        CategorySummary   `json:"persuasion"`
	Scenes            []Scene           `json:"scenes"`
	Keyframes         []Keyframe        `json:"keyframes"`
	Volumes           []VolumeLevel     `json:"volumes"`
	BrandIntelligence BrandIntelligence `json:"brand_intelligence"`
	VideoMetadata     VideoMetadata     `json:"video_metadata"`
	CreativeBrief     CreativeBrief     `json:"creative_brief"`
	AudioAnalysis     AudioRichness     `json:"audio_analysis"`
	Predictions       ScoreBundle       `json:"predictions"`
	Benchmarks        Benchmarks        `json:"benchmarks"`
}

// ScoreBundle is the deterministic output of the feature-score aggregator.
// Same inputs always produce the same bundle; no randomness, no external
// state.
type ScoreBundle struct {
	OverallScore  float64            `json:"overall_score"`
	SectionScores map[string]float64 `json:"section_scores"`
	SectionMaxes  map[string]float64 `json:"section_maxes"`
	Normalized    map[string]float64 `json:"normalized"`
	ModelVersion  string             `json:"model_version"`
	Indices       Indices            `json:"indices"`
	Labels        ScoreLabels        `json:"labels"`
	Flags         SignalFlags        `json:"flags"`
	Drivers       Drivers            `json:"drivers"`
}

// Indices are the weighted composite indices, each clamped to [0,1].
type Indices struct {
	ConversionReadiness float64        `json:"conversion_readiness_index"`
	RevenueEfficiency   float64        `json:"revenue_efficiency_index"`
	Refreshability      float64        `json:"refreshability_index"`
	FunnelStrength      FunnelStrength `json:"funnel_strength"`
}

// FunnelStrength holds the three funnel sub-scores and the winning label.
// Hybrid is set when the top two sub-scores are within the hybrid margin.
type FunnelStrength struct {
	TOF    float64 `json:"tof"`
	MOF    float64 `json:"mof"`
	BOF    float64 `json:"bof"`
	Winner string  `json:"winner"`
	Hybrid string  `json:"hybrid,omitempty"`
}

// ScoreLabels are the three-tier categorical labels derived from the indices.
type ScoreLabels struct {
	PredictedCPARisk       string `json:"predicted_cpa_risk"`
	PredictedROASTier      string `json:"predicted_roas_tier"`
	CreativeFatigueRisk    string `json:"creative_fatigue_risk"`
	ExpectedFunnelStrength string `json:"expected_funnel_strength"`
}

// SignalFlags are the boolean signals that key the fixed penalties/boosts.
type SignalFlags struct {
	HookWithin3s        bool `json:"hook_within_3s"`
	BrandMentions3x     bool `json:"brand_mentions_3x"`
	HasTrackableAnchor  bool `json:"has_trackable_anchor"`
	HasTestimonialOrUGC bool `json:"has_testimonial_or_ugc"`
	ProductDemoPresent  bool `json:"product_demo_present"`
	EndCardPresent      bool `json:"end_card_present"`
}

// Driver names a section pushing the overall score up or down.
type Driver struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"score"`
}

// Adjustment records one applied penalty or boost for explainability.
type Adjustment struct {
	Type  string  `json:"type"` // boost | penalty
	Key   string  `json:"key"`
	Delta float64 `json:"delta"`
}

// Drivers is the explainability block of a score bundle.
type Drivers struct {
	TopPositive        []Driver     `json:"top_positive"`
	TopNegative        []Driver     `json:"top_negative"`
	AppliedAdjustments []Adjustment `json:"applied_adjustments"`
}
