package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spigell/talent-screener/internal/model"
)

// errFinalWrite marks a run whose last state could not be persisted.
var errFinalWrite = errors.New("persist final run state")

// stopKind is ordered: a later kind overrides an earlier one.
type stopKind int

const (
	stopNone stopKind = iota
	stopPause
	stopCancel
	stopFail
)

// execution is the in-process handle of a running run.
type execution struct {
	runID string

	mu     sync.Mutex
	kind   stopKind
	stopCh chan struct{}

	done  chan struct{}
	final model.RunStatus
	err   error
}

func newExecution(runID string) *execution {
	return &execution{
		runID:  runID,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// requestStop raises the stop kind and returns the previous one.
func (e *execution) requestStop(kind stopKind) stopKind {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.kind
	if kind <= prev {
		return prev
	}
	e.kind = kind
	if prev == stopNone {
		close(e.stopCh)
	}
	return prev
}

func (e *execution) stopping() stopKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kind
}

func (e *execution) finish(final model.RunStatus, err error) {
	e.final = final
	if err != nil {
		e.err = fmt.Errorf("%w: %v", errFinalWrite, err)
	}
	close(e.done)
}

// wait blocks until the run has persisted its final state for this execution.
func (e *execution) wait(ctx context.Context) (model.RunStatus, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-e.done:
		return e.final, e.err
	}
}
