package ratelimit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock instead of sleeping.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func newFakeLimiter(tokens int, interval time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(tokens, interval)
	l.now = clock.Now
	l.after = clock.After
	return l, clock
}

func TestAllowWithinWindow(t *testing.T) {
	l, clock := newFakeLimiter(2, time.Second)

	if !l.Allow() || !l.Allow() {
		t.Fatal("expected first two calls to be allowed")
	}
	if l.Allow() {
		t.Fatal("expected third call in the same window to be rejected")
	}

	clock.mu.Lock()
	clock.now = clock.now.Add(time.Second)
	clock.mu.Unlock()

	if !l.Allow() {
		t.Fatal("expected call to be allowed once the window has slid")
	}
}

func TestWaitNeverExceedsLimitInAnyWindow(t *testing.T) {
	const (
		tokens   = 3
		interval = time.Second
		callers  = 8
		perCall  = 5
	)

	l, _ := newFakeLimiter(tokens, interval)

	var (
		grants []time.Time
		wg     sync.WaitGroup
	)
	l.granted = func(at time.Time) { grants = append(grants, at) }

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCall; j++ {
				if err := l.Wait(context.Background()); err != nil {
					t.Errorf("unexpected wait error: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if len(grants) != callers*perCall {
		t.Fatalf("expected %d grants, got %d", callers*perCall, len(grants))
	}

	sort.Slice(grants, func(i, j int) bool { return grants[i].Before(grants[j]) })
	for i := range grants {
		inWindow := 0
		for j := i; j < len(grants) && grants[j].Sub(grants[i]) < interval; j++ {
			inWindow++
		}
		if inWindow > tokens {
			t.Fatalf("window starting at %s holds %d grants, limit %d", grants[i], inWindow, tokens)
		}
	}
}

func TestWaitHonorsContext(t *testing.T) {
	l := New(1, time.Hour)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDisabledLimiterNeverBlocks(t *testing.T) {
	l := Unlimited()
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatal("expected unlimited limiter to allow")
		}
	}

	var nilLimiter *Limiter
	if err := nilLimiter.Wait(context.Background()); err != nil {
		t.Fatalf("expected nil limiter to pass, got %v", err)
	}
}
