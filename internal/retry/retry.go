// Package retry runs an operation under a bounded backoff policy. Errors are
// classified by the caller into budgets; every budget has its own attempt cap.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	// BudgetTransient covers timeouts and temporary upstream failures.
	BudgetTransient = "transient"
	// BudgetRateLimited covers quota and throttling responses.
	BudgetRateLimited = "rate_limited"
)

var sleep = time.Sleep

// Policy bounds the number of attempts and the delay between them.
type Policy struct {
	// MaxAttempts caps the attempts counted against each budget. Values below
	// one mean a single attempt.
	MaxAttempts int           `mapstructure:"max-attempts"`
	BaseDelay   time.Duration `mapstructure:"base-delay"`
	MaxDelay    time.Duration `mapstructure:"max-delay"`
	// Jitter is the fraction of the delay randomly added or removed.
	Jitter float64 `mapstructure:"jitter"`
}

// DefaultPolicy is used when a component is configured without one.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// Decision tells Do what to do with a failed attempt.
type Decision struct {
	Retry  bool
	Budget string
	// After is a delay suggested by the provider. Zero means use backoff.
	After time.Duration
}

// Classifier inspects an error returned by an attempt.
type Classifier func(error) Decision

// Notify is invoked before sleeping between attempts.
type Notify func(attempt int, budget string, delay time.Duration, err error)

// Do calls op until it succeeds, the classifier refuses a retry, a budget is
// exhausted or ctx is done. The last error of op is returned.
func Do[T any](ctx context.Context, p Policy, classify Classifier, op func(context.Context) (T, error), notify ...Notify) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	used := make(map[string]int)
	attempt := 0
	for {
		attempt++
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}

		if ctx.Err() != nil {
			return value, err
		}

		decision := classify(err)
		if !decision.Retry {
			return value, err
		}

		used[decision.Budget]++
		n := used[decision.Budget]
		if n >= maxAttempts {
			return value, err
		}

		delay := p.Delay(n, decision.After)
		for _, fn := range notify {
			if fn != nil {
				fn(attempt, decision.Budget, delay, err)
			}
		}

		if werr := Wait(ctx, delay); werr != nil {
			return value, err
		}
	}
}

// Delay returns the wait before the retry following the n-th failure in a
// budget. A provider hint wins over backoff and is capped by MaxDelay.
func (p Policy) Delay(n int, hint time.Duration) time.Duration {
	if hint > 0 {
		if p.MaxDelay > 0 && hint > p.MaxDelay {
			return p.MaxDelay
		}
		return hint
	}

	if n < 1 {
		n = 1
	}

	delay := p.BaseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 && delay > 0 {
		spread := float64(delay) * p.Jitter
		delay += time.Duration((rand.Float64()*2 - 1) * spread)
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sleep(d)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
