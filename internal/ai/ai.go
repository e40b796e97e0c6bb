// Package ai declares the contract of compatibility scoring backends.
package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/retry"
)

var (
	// ErrTransientTimeout marks a timed out or temporarily failing call.
	ErrTransientTimeout = errors.New("ai call timed out or failed temporarily")
	// ErrInvalidResponse marks output that cannot be turned into a score.
	ErrInvalidResponse = errors.New("invalid ai response")
)

// RateLimitedError is returned when the provider throttles the caller.
// RetryAfter is the provider's hint, zero when none was given.
type RateLimitedError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("ai rate limited, retry after %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("ai rate limited: %v", e.Err)
}

func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// Assessment is the backend's verdict for one resume and job.
type Assessment struct {
	Score     float64
	Rationale string
	Raw       string
	Model     string
}

// Backend scores a resume against a job with one provider call.
type Backend interface {
	Assess(ctx context.Context, resume *model.Resume, job *model.Job) (*Assessment, error)
	Model() string
}

// ValidateScore rejects scores outside 0..100.
func ValidateScore(score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) || score < 0 || score > 100 {
		return fmt.Errorf("%w: score %v out of range", ErrInvalidResponse, score)
	}
	return nil
}

// Classify maps backend errors to retry decisions.
func Classify(err error) retry.Decision {
	var limited *RateLimitedError
	switch {
	case errors.As(err, &limited):
		return retry.Decision{Retry: true, Budget: retry.BudgetRateLimited, After: limited.RetryAfter}
	case errors.Is(err, ErrTransientTimeout), errors.Is(err, context.DeadlineExceeded):
		return retry.Decision{Retry: true, Budget: retry.BudgetTransient}
	default:
		return retry.Decision{}
	}
}
