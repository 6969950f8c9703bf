// Package credits implements token pricing, balance admission checks, and
// the per-user concurrency slot table for evaluation jobs.
package credits

import (
	"fmt"
	"math"

	"github.com/adscope/adscope/pkg/models"
)

const (
	// TokensPerSecond is the flat metering rate for evaluated video.
	TokensPerSecond = 10

	// MaxVideoSeconds is the longest video accepted for evaluation.
	MaxVideoSeconds = 60

	// MaxTokensPerVideo is the worst-case charge for a single video.
	MaxTokensPerVideo = TokensPerSecond * MaxVideoSeconds

	// MinTokensToRender is the balance floor required to start a job.
	// Users below this threshold are rejected before any work begins.
	MinTokensToRender = 100

	// MaxFileSizeMB bounds direct uploads.
	MaxFileSizeMB = 32
)

// TokenPacks are the purchasable top-up offers, quoted to users who are
// rejected for insufficient balance.
var TokenPacks = []models.TokenPack{
	{Pack: "starter", USD: 10, Tokens: 1000},
	{Pack: "growth", USD: 25, Tokens: 3000},
}

// InsufficientBalanceError is returned when a user's balance is below the
// render threshold. It carries the purchase offers for the API response.
type InsufficientBalanceError struct {
	Balance  int
	Required int
	Offers   []models.TokenPack
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d tokens, need at least %d", e.Balance, e.Required)
}

// ValidationError is returned when an upload fails a pre-admission check.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// ValidateBalance checks the user's balance against the render threshold.
// The threshold is deliberately lower than the worst-case charge: short
// videos cost less, and charges only land after a successful run.
func ValidateBalance(balance int) error {
	if balance < MinTokensToRender {
		return &InsufficientBalanceError{
			Balance:  balance,
			Required: MinTokensToRender,
			Offers:   TokenPacks,
		}
	}
	return nil
}

// ValidateUpload rejects files that are too large before any bytes are
// shipped to the media service.
func ValidateUpload(sizeBytes int64) error {
	if sizeBytes > MaxFileSizeMB*1024*1024 {
		return &ValidationError{Reason: fmt.Sprintf("file exceeds %dMB limit", MaxFileSizeMB)}
	}
	return nil
}

// ValidateDuration rejects videos longer than the evaluation ceiling.
func ValidateDuration(seconds float64) error {
	if seconds > MaxVideoSeconds {
		return &ValidationError{Reason: fmt.Sprintf("video exceeds %d second limit", MaxVideoSeconds)}
	}
	return nil
}

// RequiredTokens computes the charge for a video of the given duration:
// ceil(duration) * rate, capped at the per-video maximum.
func RequiredTokens(durationSeconds float64) int {
	if durationSeconds <= 0 {
		return 0
	}
	tokens := int(math.Ceil(durationSeconds)) * TokensPerSecond
	if tokens > MaxTokensPerVideo {
		return MaxTokensPerVideo
	}
	return tokens
}

// ChargeableDuration picks the duration to bill from a finished report.
// When the pipeline could not determine the real duration the charge falls
// back to the per-video maximum; callers should log a warning in that case.
func ChargeableDuration(meta *models.VideoMetadata) (float64, bool) {
	if meta != nil && meta.DurationSeconds > 0 {
		return meta.DurationSeconds, true
	}
	return MaxVideoSeconds, false
}
