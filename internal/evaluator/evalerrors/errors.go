// Package evalerrors holds the evaluator sentinel errors so that provider
// sub-packages can reference them without importing the parent evaluator
// package, which would create an import cycle with the factory.
package evalerrors

import "errors"

var (
	ErrEvaluatorUnavailable = errors.New("evaluator unavailable")
	ErrInferenceTimeout     = errors.New("evaluator inference timeout")
	ErrInvalidResponse      = errors.New("evaluator returned invalid response")
)
