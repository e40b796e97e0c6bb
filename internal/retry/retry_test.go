package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errTransient = errors.New("transient")
	errQuota     = errors.New("quota")
	errFatal     = errors.New("fatal")
)

func classify(err error) Decision {
	switch {
	case errors.Is(err, errTransient):
		return Decision{Retry: true, Budget: BudgetTransient}
	case errors.Is(err, errQuota):
		return Decision{Retry: true, Budget: BudgetRateLimited, After: time.Second}
	default:
		return Decision{}
	}
}

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	original := sleep
	sleep = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { sleep = original })
	return &slept
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	noSleep(t)

	calls := 0
	value, err := Do(context.Background(), Policy{MaxAttempts: 3}, classify, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errQuota
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if value != "ok" {
		t.Fatalf("unexpected value %q", value)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoKeepsSeparateBudgets(t *testing.T) {
	noSleep(t)

	sequence := []error{errQuota, errTransient, errQuota, errTransient, nil}
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 3}, classify, func(context.Context) (int, error) {
		err := sequence[calls]
		calls++
		return calls, err
	})
	if err != nil {
		t.Fatalf("expected success with separate budgets, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected 5 calls, got %d", calls)
	}
}

func TestDoStopsWhenBudgetExhausted(t *testing.T) {
	noSleep(t)

	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 2}, classify, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoDoesNotRetryPermanentErrors(t *testing.T) {
	noSleep(t)

	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 5}, classify, func(context.Context) (int, error) {
		calls++
		return 0, errFatal
	})
	if !errors.Is(err, errFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single call, got %d", calls)
	}
}

func TestDoHonorsProviderHint(t *testing.T) {
	slept := noSleep(t)

	calls := 0
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Second, Jitter: 0.5}
	_, _ = Do(context.Background(), policy, classify, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errQuota
		}
		return 1, nil
	})

	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Fatalf("expected a single 1s wait, got %v", *slept)
	}
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	original := sleep
	sleep = func(time.Duration) { cancel(); time.Sleep(10 * time.Millisecond) }
	t.Cleanup(func() { sleep = original })

	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: time.Second}, classify, func(context.Context) (int, error) {
		calls++
		return 0, errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected last op error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected single call, got %d", calls)
	}
}

func TestPolicyDelay(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		n      int
		hint   time.Duration
		want   time.Duration
	}{
		{name: "first", policy: Policy{BaseDelay: time.Second, MaxDelay: time.Minute}, n: 1, want: time.Second},
		{name: "exponential", policy: Policy{BaseDelay: time.Second, MaxDelay: time.Minute}, n: 4, want: 8 * time.Second},
		{name: "capped", policy: Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}, n: 10, want: 5 * time.Second},
		{name: "hint", policy: Policy{BaseDelay: time.Second, MaxDelay: time.Minute}, n: 1, hint: 7 * time.Second, want: 7 * time.Second},
		{name: "hint capped", policy: Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}, n: 1, hint: time.Minute, want: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Delay(tt.n, tt.hint); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestPolicyDelayJitterBounds(t *testing.T) {
	policy := Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: 0.25}
	for i := 0; i < 100; i++ {
		got := policy.Delay(1, 0)
		if got < 750*time.Millisecond || got > 1250*time.Millisecond {
			t.Fatalf("delay %s outside jitter bounds", got)
		}
	}
}
