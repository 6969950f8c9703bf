// Package pipeline implements the evaluation job orchestrator: admission,
// the staged pipeline with its fan-outs, progress streaming, the process-wide
// evaluation cache, and the stale-job reaper.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/adscope/adscope/pkg/models"
)

// Fingerprint derives the deterministic cache key for one evaluation: the
// source reference plus the enabled category flags. Brand overrides do not
// participate — two runs over the same video with the same categories share
// a result.
func Fingerprint(sourceRef string, cfg models.EvalConfig) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|abcd=%t|shorts=%t|ci=%t",
		sourceRef, cfg.RunABCD, cfg.RunShorts, cfg.RunCreativeIntelligence)
	return hex.EncodeToString(h.Sum(nil))
}
