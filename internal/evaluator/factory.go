package evaluator

import (
	"fmt"

	"github.com/adscope/adscope/internal/config"
	"github.com/adscope/adscope/internal/evaluator/gemini"
	"github.com/adscope/adscope/internal/evaluator/mock"
	"github.com/adscope/adscope/pkg/models"
)

// NewProvider constructs the appropriate feature evaluator based on config.
// Called once at server startup.
func NewProvider(cfg config.EvaluatorConfig) (models.FeatureEvaluator, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.NewProvider(cfg.Gemini, cfg.InferenceTimeout), nil
	case "mock":
		return mock.NewEvaluator(), nil
	default:
		return nil, fmt.Errorf("unknown evaluator provider %q: must be one of gemini, mock", cfg.Provider)
	}
}
