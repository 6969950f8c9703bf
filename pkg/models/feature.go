package models

// FeatureCategory is the closed set of feature taxonomies the evaluator
// understands. The fan-out stage iterates only the enabled variants; category
// names never leak into the core as free-form strings.
type FeatureCategory string

const (
	CategoryABCD                 FeatureCategory = "long_form_abcd"
	CategoryShorts               FeatureCategory = "shorts"
	CategoryCreativeIntelligence FeatureCategory = "creative_intelligence"
)

// AllCategories lists every known feature category in canonical order.
var AllCategories = []FeatureCategory{
	CategoryABCD,
	CategoryShorts,
	CategoryCreativeIntelligence,
}

// Valid reports whether c is one of the known categories.
func (c FeatureCategory) Valid() bool {
	switch c {
	case CategoryABCD, CategoryShorts, CategoryCreativeIntelligence:
		return true
	}
	return false
}

// TimeRange marks where in the video a feature was observed.
type TimeRange struct {
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
}

// Recommendation is an optional remediation suggestion attached to a feature
// that was not detected or scored poorly.
type Recommendation struct {
	Text     string `json:"text"`
	Priority string `json:"priority"` // high | medium | low
}

// FeatureEvaluation is a single detection result from the content
// understanding evaluator. Confidence, when present, lies in [0,1].
type FeatureEvaluation struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Category       FeatureCategory `json:"category"`
	SubCategory    string          `json:"sub_category"`
	Detected       bool            `json:"detected"`
	Confidence     float64         `json:"confidence"`
	Rationale      string          `json:"rationale"`
	Evidence       string          `json:"evidence"`
	Timestamps     []TimeRange     `json:"timestamps,omitempty"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
}

// ClampConfidence forces the confidence score into [0,1].
func (f *FeatureEvaluation) ClampConfidence() {
	if f.Confidence < 0 {
		f.Confidence = 0
	}
	if f.Confidence > 1 {
		f.Confidence = 1
	}
}

// DetectedCount returns how many features in the list were detected.
func DetectedCount(features []FeatureEvaluation) int {
	n := 0
	for _, f := range features {
		if f.Detected {
			n++
		}
	}
	return n
}
