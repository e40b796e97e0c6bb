// Package source defines the candidate source contract: a cursorable search
// over a stateful session that can be held by one run at a time.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spigell/talent-screener/internal/retry"
)

var (
	// ErrExhausted is returned by Stream.Next at the end of the sequence.
	ErrExhausted = errors.New("source exhausted")
	// ErrAuth means the session could not be established. It is fatal to a run.
	ErrAuth = errors.New("source authentication failed")
	// ErrLeaseHeld is returned when the session is held by another run.
	ErrLeaseHeld = errors.New("source session is held by another run")
)

// TransientError wraps a failure worth retrying, such as a timeout or an
// upstream 5xx.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// Cursor is an opaque position in the candidate sequence. The empty cursor is
// the start of the source.
type Cursor string

// Query selects candidates.
type Query struct {
	Keywords   []string
	Filters    map[string]string
	MaxResults int
}

// RawCandidate is one provider record. Cursor is the position right after it.
type RawCandidate struct {
	ExternalID string
	Source     string
	Payload    map[string]any
	Cursor     Cursor
}

// Stream yields candidates lazily.
type Stream interface {
	// Next returns the next candidate or ErrExhausted.
	Next(ctx context.Context) (*RawCandidate, error)
	Close() error
}

// Adapter opens a search on the underlying session starting after cursor.
type Adapter interface {
	Name() string
	Search(ctx context.Context, q Query, cursor Cursor) (Stream, error)
}

// Classify maps source errors to retry decisions. Context deadlines are
// treated as transient since every fetch carries its own timeout.
func Classify(err error) retry.Decision {
	var transient *TransientError
	switch {
	case errors.Is(err, ErrAuth), errors.Is(err, ErrExhausted):
		return retry.Decision{}
	case errors.As(err, &transient), errors.Is(err, context.DeadlineExceeded):
		return retry.Decision{Retry: true, Budget: retry.BudgetTransient}
	default:
		return retry.Decision{}
	}
}

// Lease guards the exclusive source session.
type Lease struct {
	mu     sync.Mutex
	holder string
	// gen identifies the current acquisition.
	gen uint64
}

// NewLease returns a free lease.
func NewLease() *Lease {
	return &Lease{}
}

// Acquire takes the lease for holder. A held lease is never handed out again,
// not even to its holder. The returned release func is idempotent and only
// frees the acquisition it was returned for.
func (l *Lease) Acquire(holder string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder != "" {
		return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, l.holder)
	}
	l.gen++
	l.holder = holder
	gen := l.gen

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.gen == gen {
				l.holder = ""
			}
		})
	}, nil
}

// Holder returns the current holder or an empty string.
func (l *Lease) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}
