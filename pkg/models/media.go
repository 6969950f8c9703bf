package models

// Scene is one detected segment of the source video.
type Scene struct {
	Index        int     `json:"index"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
	Description  string  `json:"description"`
	Emotion      string  `json:"emotion,omitempty"`
}

// Keyframe is a representative frame extracted from a scene.
type Keyframe struct {
	SceneIndex       int     `json:"scene_index"`
	TimestampSeconds float64 `json:"timestamp_seconds"`
	URL              string  `json:"url"`
}

// VolumeLevel is the loudness profile of one scene.
type VolumeLevel struct {
	SceneIndex int     `json:"scene_index"`
	MeanDB     float64 `json:"mean_db"`
	MaxDB      float64 `json:"max_db"`
}

// AudioRichness summarizes the audio track composition.
type AudioRichness struct {
	HasMusic      bool    `json:"has_music"`
	HasVoiceover  bool    `json:"has_voiceover"`
	HasSFX        bool    `json:"has_sfx"`
	RichnessScore float64 `json:"richness_score"`
	Summary       string  `json:"summary,omitempty"`
}

// VideoMetadata is the technical profile of the staged media file.
type VideoMetadata struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FPS             float64 `json:"fps"`
	Codec           string  `json:"codec"`
	FileSizeMB      float64 `json:"file_size_mb"`
}

// BrandMetadata is the brand context detected alongside scene extraction.
// Fields left empty keep whatever the configuration already carried.
type BrandMetadata struct {
	BrandName            string   `json:"brand_name"`
	BrandVariations      []string `json:"brand_variations"`
	BrandedProducts      []string `json:"branded_products"`
	BrandedCallToActions []string `json:"branded_call_to_actions"`
}

// BrandIntelligence is the generated brand profile facet.
type BrandIntelligence struct {
	BrandName        string   `json:"brand_name"`
	ProductService   string   `json:"product_service"`
	TargetAudience   string   `json:"target_audience"`
	ValueProposition string   `json:"value_proposition"`
	Competitors      []string `json:"competitors,omitempty"`
}

// CreativeBrief is the reverse-engineered brief facet.
type CreativeBrief struct {
	Objective      string   `json:"objective"`
	CoreMessage    string   `json:"core_message"`
	Tone           string   `json:"tone"`
	TargetAudience string   `json:"target_audience"`
	KeyMoments     []string `json:"key_moments,omitempty"`
}

// LocalMedia is a handle to source media staged on local disk.
type LocalMedia struct {
	Dir  string `json:"dir"`
	Path string `json:"path"`
}

// Empty reports whether the handle points at nothing (download degraded).
func (m LocalMedia) Empty() bool {
	return m.Path == ""
}
