// Package ratelimit throttles calls to an external service so that no more
// than N calls start within any window of length T.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a sliding-window log limiter. It is safe for concurrent use and
// meant to be shared by every caller of one service.
type Limiter struct {
	mu       sync.Mutex
	tokens   int
	interval time.Duration
	// grants holds the start times of calls inside the current window, oldest first.
	grants []time.Time

	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
	granted func(time.Time)
}

// New returns a limiter allowing tokens calls per interval. A non-positive
// tokens or interval disables limiting.
func New(tokens int, interval time.Duration) *Limiter {
	return &Limiter{
		tokens:   tokens,
		interval: interval,
		now:      time.Now,
		after:    time.After,
	}
}

// Unlimited returns a limiter that never blocks.
func Unlimited() *Limiter {
	return New(0, 0)
}

func (l *Limiter) disabled() bool {
	return l == nil || l.tokens <= 0 || l.interval <= 0
}

// Allow takes a slot if one is free right now.
func (l *Limiter) Allow() bool {
	if l.disabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ok, _ := l.reserve(l.now())
	return ok
}

// Wait blocks until a slot is free or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l.disabled() {
		return ctx.Err()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		ok, wait := l.reserve(l.now())
		l.mu.Unlock()
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.after(wait):
		}
	}
}

// reserve must be called with mu held. On failure it returns how long until
// the oldest grant leaves the window.
func (l *Limiter) reserve(now time.Time) (bool, time.Duration) {
	cutoff := now.Add(-l.interval)
	drop := 0
	for drop < len(l.grants) && !l.grants[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		l.grants = append(l.grants[:0], l.grants[drop:]...)
	}

	if len(l.grants) < l.tokens {
		l.grants = append(l.grants, now)
		if l.granted != nil {
			l.granted(now)
		}
		return true, 0
	}

	wait := l.grants[0].Add(l.interval).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return false, wait
}

// Tokens returns the configured number of calls per interval.
func (l *Limiter) Tokens() int {
	if l == nil {
		return 0
	}
	return l.tokens
}

// Interval returns the configured window length.
func (l *Limiter) Interval() time.Duration {
	if l == nil {
		return 0
	}
	return l.interval
}
