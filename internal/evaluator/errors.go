package evaluator

import "github.com/adscope/adscope/internal/evaluator/evalerrors"

var (
	ErrEvaluatorUnavailable = evalerrors.ErrEvaluatorUnavailable
	ErrInferenceTimeout     = evalerrors.ErrInferenceTimeout
	ErrInvalidResponse      = evalerrors.ErrInvalidResponse
)
