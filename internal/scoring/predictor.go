// Package scoring implements the deterministic performance prediction engine
// and the historical percentile benchmarking engine. Everything here is pure
// arithmetic over feature evaluations: same inputs always produce the same
// outputs, with no model calls and no randomness.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/adscope/adscope/pkg/models"
)

// ModelVersion tags every score bundle so downstream consumers can detect
// rule changes.
const ModelVersion = "deterministic-rules.v1"

// sectionMaxes are the per-section score ceilings. They sum to 100, making
// the overall score a 0-100 scale.
var sectionMaxes = map[string]float64{
	"hook_attention":               15,
	"brand_visibility":             10,
	"social_proof_trust":           15,
	"product_clarity_benefits":     15,
	"funnel_alignment":             10,
	"cta":                          10,
	"creative_diversity_readiness": 10,
	"measurement_compatibility":    10,
	"data_audience_leverage":       5,
}

var sectionLabels = map[string]string{
	"hook_attention":               "Hook & Attention",
	"brand_visibility":             "Brand Visibility",
	"social_proof_trust":           "Social Proof & Trust",
	"product_clarity_benefits":     "Product Clarity",
	"funnel_alignment":             "Funnel Alignment",
	"cta":                          "Call to Action",
	"creative_diversity_readiness": "Creative Diversity",
	"measurement_compatibility":    "Measurement Readiness",
	"data_audience_leverage":       "Audience Leverage",
}

func roundTo(v float64, places int) float64 {
	shift := math.Pow(10, float64(places))
	return math.Round(v*shift) / shift
}

// sectionScore sums confidence-weighted contributions of detected features.
// Each detected feature contributes confidence * (max/n); a missing
// confidence counts as 0.5.
func sectionScore(features []models.FeatureEvaluation, max float64) float64 {
	if len(features) == 0 {
		return 0
	}
	perFeature := max / float64(len(features))
	total := 0.0
	for _, f := range features {
		if !f.Detected {
			continue
		}
		conf := f.Confidence
		if conf == 0 {
			conf = 0.5
		}
		total += conf * perFeature
	}
	return roundTo(math.Min(total, max), 2)
}

// hasKeywordDetected reports whether any detected feature's field contains
// one of the keywords. The field selector extracts the text to search.
func hasKeywordDetected(features []models.FeatureEvaluation, keywords []string, field func(models.FeatureEvaluation) string) bool {
	for _, f := range features {
		if !f.Detected {
			continue
		}
		text := strings.ToLower(field(f))
		for _, k := range keywords {
			if strings.Contains(text, k) {
				return true
			}
		}
	}
	return false
}

func byName(f models.FeatureEvaluation) string      { return f.Name }
func byEvidence(f models.FeatureEvaluation) string  { return f.Evidence }
func byRationale(f models.FeatureEvaluation) string { return f.Rationale }

func bySubCategory(features []models.FeatureEvaluation, sub string) []models.FeatureEvaluation {
	var out []models.FeatureEvaluation
	for _, f := range features {
		if strings.EqualFold(f.SubCategory, sub) {
			out = append(out, f)
		}
	}
	return out
}

func nameContainsAny(f models.FeatureEvaluation, keywords []string) bool {
	name := strings.ToLower(f.Name)
	for _, k := range keywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

func concat(lists ...[]models.FeatureEvaluation) []models.FeatureEvaluation {
	var out []models.FeatureEvaluation
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// ComputePredictions derives the full score bundle from the three formatted
// feature lists: the ABCD evaluations, the persuasion (creative intelligence)
// evaluations, and the structural (shorts) evaluations.
func ComputePredictions(abcdFeatures, persuasionFeatures, structureFeatures []models.FeatureEvaluation) models.ScoreBundle {
	attract := bySubCategory(abcdFeatures, "ATTRACT")
	brand := bySubCategory(abcdFeatures, "BRAND")
	connect := bySubCategory(abcdFeatures, "CONNECT")
	direct := bySubCategory(abcdFeatures, "DIRECT")

	// Split CONNECT into product vs people signals.
	productKw := []string{"product"}
	peopleKw := []string{"people", "face", "person", "presence"}
	var productFeats, peopleFeats []models.FeatureEvaluation
	for _, f := range connect {
		if nameContainsAny(f, productKw) {
			productFeats = append(productFeats, f)
		}
		if nameContainsAny(f, peopleKw) {
			peopleFeats = append(peopleFeats, f)
		}
	}

	scores := map[string]float64{
		"hook_attention":           sectionScore(attract, 15),
		"brand_visibility":         sectionScore(brand, 10),
		"social_proof_trust":       sectionScore(concat(peopleFeats, persuasionFeatures), 15),
		"product_clarity_benefits": sectionScore(productFeats, 15),
		"funnel_alignment":         sectionScore(structureFeatures, 10),
		"cta":                      sectionScore(direct, 10),
	}

	// Creative diversity: structure variety blended with feature coverage.
	coverage := 0.0
	if len(abcdFeatures) > 0 {
		coverage = float64(models.DetectedCount(abcdFeatures)) / float64(len(abcdFeatures))
	}
	scores["creative_diversity_readiness"] = roundTo(
		math.Min(sectionScore(concat(structureFeatures, persuasionFeatures), 10)*0.6+coverage*4.0, 10), 2)

	// Measurement readiness: CTA strength plus trackable-anchor evidence.
	measurement := sectionScore(direct, 7)
	if hasKeywordDetected(concat(direct, abcdFeatures),
		[]string{"url", "qr", "link", "code", "shop", "visit"}, byEvidence) {
		measurement += 3.0
	}
	scores["measurement_compatibility"] = roundTo(math.Min(measurement, 10), 2)

	// Audience leverage: proxied from brand signals.
	scores["data_audience_leverage"] = roundTo(math.Min(sectionScore(brand, 5), 5), 2)

	norm := make(map[string]float64, len(scores))
	for k, v := range scores {
		norm[k] = roundTo(v/sectionMaxes[k], 4)
	}

	trackableKw := []string{"url", "qr", "link", "code", "shop", "offer"}
	flags := models.SignalFlags{
		HookWithin3s:    hasKeywordDetected(attract, []string{"dynamic start"}, byName),
		BrandMentions3x: models.DetectedCount(brand) >= 3,
		HasTrackableAnchor: hasKeywordDetected(concat(direct, abcdFeatures), trackableKw, byEvidence) ||
			hasKeywordDetected(direct, trackableKw, byRationale),
		HasTestimonialOrUGC: hasKeywordDetected(concat(persuasionFeatures, peopleFeats),
			[]string{"testimonial", "ugc", "user-generated", "review", "creator"}, byName),
		ProductDemoPresent: hasKeywordDetected(productFeats, []string{"product visuals"}, byName),
		EndCardPresent:     hasKeywordDetected(direct, []string{"text", "call to action"}, byName),
	}

	// Conversion Readiness Index drives the CPA risk label.
	cri := 0.22*norm["hook_attention"] +
		0.18*norm["product_clarity_benefits"] +
		0.18*norm["cta"] +
		0.14*norm["social_proof_trust"] +
		0.12*norm["brand_visibility"] +
		0.10*norm["funnel_alignment"] +
		0.06*norm["measurement_compatibility"]

	criPenalty := 0.0
	if !flags.HookWithin3s {
		criPenalty += 0.10
	}
	if !flags.HasTrackableAnchor {
		criPenalty += 0.10
	}
	if !flags.ProductDemoPresent {
		criPenalty += 0.07
	}
	if !flags.HasTestimonialOrUGC {
		criPenalty += 0.05
	}
	criAdj := clamp01(cri - criPenalty)
	cpaRisk := "High"
	switch {
	case criAdj >= 0.72:
		cpaRisk = "Low"
	case criAdj >= 0.52:
		cpaRisk = "Medium"
	}

	// Revenue Efficiency Index drives the ROAS tier.
	rei := 0.24*norm["product_clarity_benefits"] +
		0.18*norm["social_proof_trust"] +
		0.14*norm["brand_visibility"] +
		0.12*norm["funnel_alignment"] +
		0.12*norm["hook_attention"] +
		0.10*norm["cta"] +
		0.10*norm["creative_diversity_readiness"]

	reiBoost := 0.0
	if flags.HasTrackableAnchor {
		reiBoost += 0.05
	}
	if flags.BrandMentions3x {
		reiBoost += 0.03
	}
	if flags.EndCardPresent {
		reiBoost += 0.02
	}
	reiPenalty := 0.0
	if norm["product_clarity_benefits"] < 0.45 {
		reiPenalty += 0.07
	}
	if norm["social_proof_trust"] < 0.40 {
		reiPenalty += 0.05
	}
	reiAdj := clamp01(rei + reiBoost - reiPenalty)
	roasTier := "Low"
	switch {
	case reiAdj >= 0.70:
		roasTier = "High"
	case reiAdj >= 0.50:
		roasTier = "Moderate"
	}

	// Refreshability Index drives the fatigue risk.
	rfi := 0.55*norm["creative_diversity_readiness"] +
		0.25*norm["hook_attention"] +
		0.20*norm["measurement_compatibility"]
	fatigueRisk := "High"
	switch {
	case rfi >= 0.70:
		fatigueRisk = "Low"
	case rfi >= 0.50:
		fatigueRisk = "Medium"
	}

	// Funnel strength: TOF/MOF/BOF blends, hybrid when the top two are close.
	storyProxy := (norm["funnel_alignment"] + norm["product_clarity_benefits"]) / 2
	tof := 0.35*norm["hook_attention"] +
		0.25*norm["brand_visibility"] +
		0.20*norm["social_proof_trust"] +
		0.20*storyProxy
	mof := 0.25*norm["social_proof_trust"] +
		0.25*norm["product_clarity_benefits"] +
		0.20*norm["brand_visibility"] +
		0.15*norm["hook_attention"] +
		0.15*norm["cta"]
	bof := 0.30*norm["cta"] +
		0.25*norm["product_clarity_benefits"] +
		0.20*norm["social_proof_trust"] +
		0.15*norm["measurement_compatibility"] +
		0.10*norm["funnel_alignment"]

	type funnelEntry struct {
		name  string
		score float64
	}
	funnel := []funnelEntry{{"TOF", tof}, {"MOF", mof}, {"BOF", bof}}
	sort.SliceStable(funnel, func(i, j int) bool { return funnel[i].score > funnel[j].score })
	winner := funnel[0].name
	hybrid := ""
	if math.Abs(funnel[0].score-funnel[1].score) < 0.05 {
		hybrid = fmt.Sprintf("%s/%s", funnel[0].name, funnel[1].name)
	}
	funnelLabel := winner
	if hybrid != "" {
		funnelLabel = hybrid
	}

	drivers := computeDrivers(norm, flags)

	overall := 0.0
	for _, v := range scores {
		overall += v
	}

	return models.ScoreBundle{
		OverallScore:  roundTo(overall, 1),
		SectionScores: scores,
		SectionMaxes:  copyMaxes(),
		Normalized:    norm,
		ModelVersion:  ModelVersion,
		Indices: models.Indices{
			ConversionReadiness: roundTo(criAdj, 3),
			RevenueEfficiency:   roundTo(reiAdj, 3),
			Refreshability:      roundTo(rfi, 3),
			FunnelStrength: models.FunnelStrength{
				TOF:    roundTo(tof, 3),
				MOF:    roundTo(mof, 3),
				BOF:    roundTo(bof, 3),
				Winner: winner,
				Hybrid: hybrid,
			},
		},
		Labels: models.ScoreLabels{
			PredictedCPARisk:       cpaRisk,
			PredictedROASTier:      roasTier,
			CreativeFatigueRisk:    fatigueRisk,
			ExpectedFunnelStrength: funnelLabel,
		},
		Flags:   flags,
		Drivers: drivers,
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func copyMaxes() map[string]float64 {
	out := make(map[string]float64, len(sectionMaxes))
	for k, v := range sectionMaxes {
		out[k] = v
	}
	return out
}

// computeDrivers ranks normalized sections into top positive and negative
// contributors and records every applied penalty or boost.
func computeDrivers(norm map[string]float64, flags models.SignalFlags) models.Drivers {
	type kv struct {
		key   string
		score float64
	}
	sorted := make([]kv, 0, len(norm))
	for k, v := range norm {
		sorted = append(sorted, kv{k, v})
	}
	// Secondary sort on key keeps the ordering deterministic across runs.
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].score != sorted[j].score {
			return sorted[i].score > sorted[j].score
		}
		return sorted[i].key < sorted[j].key
	})

	var topPositive, topNegative []models.Driver
	for i, e := range sorted {
		if i < 3 && e.score > 0.5 {
			topPositive = append(topPositive, models.Driver{Feature: sectionLabels[e.key], Score: roundTo(e.score, 2)})
		}
	}
	for _, e := range sorted {
		if e.score < 0.5 && len(topNegative) < 3 {
			topNegative = append(topNegative, models.Driver{Feature: sectionLabels[e.key], Score: roundTo(e.score, 2)})
		}
	}

	var adjustments []models.Adjustment
	if flags.HasTrackableAnchor {
		adjustments = append(adjustments, models.Adjustment{Type: "boost", Key: "has_trackable_anchor", Delta: 0.05})
	}
	if flags.BrandMentions3x {
		adjustments = append(adjustments, models.Adjustment{Type: "boost", Key: "brand_mentions_3x", Delta: 0.03})
	}
	if flags.EndCardPresent {
		adjustments = append(adjustments, models.Adjustment{Type: "boost", Key: "end_card_present", Delta: 0.02})
	}
	if !flags.HookWithin3s {
		adjustments = append(adjustments, models.Adjustment{Type: "penalty", Key: "hook_within_3s", Delta: -0.10})
	}
	if !flags.HasTrackableAnchor {
		adjustments = append(adjustments, models.Adjustment{Type: "penalty", Key: "has_trackable_anchor", Delta: -0.10})
	}
	if !flags.ProductDemoPresent {
		adjustments = append(adjustments, models.Adjustment{Type: "penalty", Key: "product_demo_present", Delta: -0.07})
	}
	if !flags.HasTestimonialOrUGC {
		adjustments = append(adjustments, models.Adjustment{Type: "penalty", Key: "has_testimonial_or_ugc", Delta: -0.05})
	}

	return models.Drivers{
		TopPositive:        topPositive,
		TopNegative:        topNegative,
		AppliedAdjustments: adjustments,
	}
}
