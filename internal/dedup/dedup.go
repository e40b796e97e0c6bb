// Package dedup decides whether a resume still needs scoring for a job.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/store"
)

// Verdict is the outcome of a dedup check.
type Verdict int

const (
	// Fresh means the resume must be scored.
	Fresh Verdict = iota
	// Duplicate means the resume was already seen in this run or has a
	// result from an earlier non-failed run.
	Duplicate
	// Replay means this run already stored a result for the resume before
	// its checkpoint was persisted. The result is reused without scoring.
	Replay
)

func (v Verdict) String() string {
	switch v {
	case Fresh:
		return "fresh"
	case Duplicate:
		return "duplicate"
	case Replay:
		return "replay"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Set is the working set of fingerprints seen by one run.
type Set struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Mark records fingerprint and reports whether it was new.
func (s *Set) Mark(fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[fingerprint]; ok {
		return false
	}
	s.seen[fingerprint] = struct{}{}
	return true
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Checker looks up prior results in the store.
type Checker struct {
	store store.Store
}

func NewChecker(s store.Store) *Checker {
	return &Checker{store: s}
}

// Request describes one check.
type Request struct {
	JobID       string
	RunID       string
	Fingerprint string
	Reanalyze   bool
}

// Check returns the verdict for a resume and, for Duplicate and Replay, the
// existing result. Passing a nil set skips the in-run check.
func (c *Checker) Check(ctx context.Context, set *Set, req Request) (Verdict, *model.AnalysisResult, error) {
	if set != nil && !set.Mark(req.Fingerprint) {
		return Duplicate, nil, nil
	}

	existing, err := c.store.FindResult(ctx, req.JobID, req.Fingerprint)
	if errors.Is(err, store.ErrNotFound) {
		return Fresh, nil, nil
	}
	if err != nil {
		return Fresh, nil, fmt.Errorf("find result: %w", err)
	}

	if req.RunID != "" && existing.RunID == req.RunID {
		return Replay, existing, nil
	}
	if req.Reanalyze {
		return Fresh, existing, nil
	}

	if existing.RunID != "" {
		run, err := c.store.GetRun(ctx, existing.RunID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return Fresh, nil, fmt.Errorf("get run %s: %w", existing.RunID, err)
		case run.Status == model.StatusFailed:
			return Fresh, existing, nil
		}
	}

	return Duplicate, existing, nil
}
