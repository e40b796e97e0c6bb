// Package workflow drives screening runs: it sources candidates, filters and
// scores them, publishes results and keeps a resumable checkpoint per run.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/talent-screener/internal/dedup"
	"github.com/spigell/talent-screener/internal/logger"
	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/publish"
	"github.com/spigell/talent-screener/internal/retry"
	"github.com/spigell/talent-screener/internal/source"
	"github.com/spigell/talent-screener/internal/store"
	"go.uber.org/zap"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrRunNotFound       = errors.New("run not found")
	ErrRunAlreadyActive  = errors.New("run already active")
	ErrInvalidTransition = errors.New("invalid transition")
)

const (
	defaultConcurrency  = 4
	defaultFetchTimeout = 60 * time.Second
	finalWriteTimeout   = 15 * time.Second
)

// Scorer produces an unsaved result for a resume and job.
type Scorer interface {
	Score(ctx context.Context, resume *model.Resume, job *model.Job) (*model.AnalysisResult, error)
}

// Publisher mirrors a result into the remote table.
type Publisher interface {
	Upsert(ctx context.Context, e publish.Entry) (*model.SyncRecord, error)
}

type Config struct {
	// Concurrency is the size of the scoring worker pool.
	Concurrency int
	// QueueSize is the capacity of the queue between sourcing and scoring.
	QueueSize int
	// FetchTimeout bounds every source call.
	FetchTimeout time.Duration
	SourceRetry  retry.Policy
	// MaxResults caps the candidates sourced by a run when its params do not.
	MaxResults int
}

type Dependencies struct {
	Store  store.Store
	Source source.Adapter
	Lease  *source.Lease
	Scorer Scorer
	// Publisher is optional; without it results are only stored.
	Publisher Publisher
	Logger    *zap.Logger
}

type Orchestrator struct {
	ctx       context.Context
	store     store.Store
	source    source.Adapter
	lease     *source.Lease
	scorer    Scorer
	publisher Publisher
	checker   *dedup.Checker
	cfg       Config
	logger    *zap.Logger

	mu     sync.Mutex
	active map[string]*execution

	now func() time.Time
}

// New returns an orchestrator. Runs live as long as ctx.
func New(ctx context.Context, deps Dependencies, cfg Config) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if deps.Lease == nil {
		deps.Lease = source.NewLease()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Orchestrator{
		ctx:       ctx,
		store:     deps.Store,
		source:    deps.Source,
		lease:     deps.Lease,
		scorer:    deps.Scorer,
		publisher: deps.Publisher,
		checker:   dedup.NewChecker(deps.Store),
		cfg:       cfg,
		logger:    deps.Logger,
		active:    make(map[string]*execution),
		now:       time.Now,
	}
}

// Start creates a run for the job and starts it. The run is persisted as
// running before Start returns.
func (o *Orchestrator) Start(ctx context.Context, jobID string, params model.SourcingParams) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return "", fmt.Errorf("get job: %w", err)
	}

	runs, err := o.store.ListRuns(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("list runs: %w", err)
	}
	for _, r := range runs {
		if !r.Status.Terminal() {
			return "", fmt.Errorf("%w: run %s is %s", ErrRunAlreadyActive, r.ID, r.Status)
		}
	}

	runID := uuid.NewString()
	release, err := o.lease.Acquire(runID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRunAlreadyActive, err)
	}

	if params.MaxResults <= 0 {
		params.MaxResults = o.cfg.MaxResults
	}

	run := &model.WorkflowRun{
		ID:     runID,
		JobID:  jobID,
		Job:    job.Snapshot(),
		Params: params,
		Status: model.StatusRunning,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		release()
		return "", fmt.Errorf("create run: %w", err)
	}

	o.logger.Info("run started", logger.RunFields(run.ID, jobID)...)
	o.launch(*run, release)
	return run.ID, nil
}

// Pause asks a running run to stop after its in-flight units and waits until
// the paused state is persisted or ctx is done. Queued units are not scored;
// Resume sources them again from the cursor.
func (o *Orchestrator) Pause(ctx context.Context, runID string) error {
	o.mu.Lock()
	exec, ok := o.active[runID]
	o.mu.Unlock()

	if !ok {
		return o.inactiveTransitionError(ctx, runID, "pause")
	}
	if prev := exec.requestStop(stopPause); prev > stopPause {
		return fmt.Errorf("%w: run %s is stopping", ErrInvalidTransition, runID)
	}

	final, err := exec.wait(ctx)
	if err != nil {
		return err
	}
	if final != model.StatusPaused {
		return fmt.Errorf("%w: run %s finished as %s", ErrInvalidTransition, runID, final)
	}
	return nil
}

// Resume continues a paused run from its persisted cursor.
func (o *Orchestrator) Resume(ctx context.Context, runID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.active[runID]; ok {
		return fmt.Errorf("%w: run %s is running", ErrInvalidTransition, runID)
	}

	run, err := o.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != model.StatusPaused {
		return fmt.Errorf("%w: cannot resume %s run", ErrInvalidTransition, run.Status)
	}

	release, err := o.lease.Acquire(runID)
	if err != nil {
		return fmt.Errorf("%w: cannot resume while %w", ErrInvalidTransition, err)
	}

	run.Status = model.StatusRunning
	run.Error = ""
	if err := o.store.UpdateRun(ctx, run); err != nil {
		release()
		return fmt.Errorf("update run: %w", err)
	}

	o.logger.Info("run resumed", append(logger.RunFields(run.ID, run.JobID), zap.String("cursor", run.Cursor))...)
	o.launch(*run, release)
	return nil
}

// Cancel stops a running or paused run. Units a worker already holds finish
// but no longer move the checkpoint; queued units are dropped. Cancel returns
// once the cancelled state is persisted.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	o.mu.Lock()
	exec, ok := o.active[runID]
	if !ok {
		defer o.mu.Unlock()
		return o.cancelInactive(ctx, runID)
	}
	o.mu.Unlock()

	if prev := exec.requestStop(stopCancel); prev > stopCancel {
		return fmt.Errorf("%w: run %s is failing", ErrInvalidTransition, runID)
	}

	final, err := exec.wait(ctx)
	if err != nil {
		return err
	}
	if final != model.StatusCancelled {
		return fmt.Errorf("%w: run %s finished as %s", ErrInvalidTransition, runID, final)
	}
	return nil
}

// cancelInactive must be called with mu held.
func (o *Orchestrator) cancelInactive(ctx context.Context, runID string) error {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != model.StatusPaused {
		return fmt.Errorf("%w: cannot cancel %s run", ErrInvalidTransition, run.Status)
	}

	now := o.now().UTC()
	run.Status = model.StatusCancelled
	run.CompletedAt = &now
	if err := o.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}

	o.logger.Info("paused run cancelled", logger.RunFields(run.ID, run.JobID)...)
	return nil
}

// Status returns the last persisted snapshot of a run.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	return o.getRun(ctx, runID)
}

// History returns the runs of a job, newest first.
func (o *Orchestrator) History(ctx context.Context, jobID string) ([]model.WorkflowRun, error) {
	if _, err := o.store.GetJob(ctx, jobID); errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	} else if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return o.store.ListRuns(ctx, jobID)
}

// Wait blocks until the run is no longer running in this process and returns
// its persisted state.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	o.mu.Lock()
	exec, ok := o.active[runID]
	o.mu.Unlock()

	if ok {
		if _, err := exec.wait(ctx); err != nil && !errors.Is(err, errFinalWrite) {
			return nil, err
		}
	}
	return o.getRun(ctx, runID)
}

// Recover pauses runs left running by a previous process so that they can be
// resumed from their checkpoint.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	runs, err := o.store.ListRunsByStatus(ctx, model.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running runs: %w", err)
	}

	recovered := 0
	for i := range runs {
		run := &runs[i]
		if _, ok := o.active[run.ID]; ok {
			continue
		}
		run.Status = model.StatusPaused
		run.Error = "interrupted, resume to continue from the last checkpoint"
		if err := o.store.UpdateRun(ctx, run); err != nil {
			return recovered, fmt.Errorf("pause run %s: %w", run.ID, err)
		}
		o.logger.Info("interrupted run paused", append(logger.RunFields(run.ID, run.JobID), zap.String("cursor", run.Cursor))...)
		recovered++
	}
	return recovered, nil
}

// Shutdown pauses every active run.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := o.Pause(ctx, id); err != nil && !errors.Is(err, ErrInvalidTransition) {
			errs = append(errs, fmt.Errorf("pause run %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Active returns the ids of runs executing in this process.
func (o *Orchestrator) Active() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, 0, len(o.active))
	for id := range o.active {
		ids = append(ids, id)
	}
	return ids
}

func (o *Orchestrator) getRun(ctx context.Context, runID string) (*model.WorkflowRun, error) {
	run, err := o.store.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (o *Orchestrator) inactiveTransitionError(ctx context.Context, runID, op string) error {
	run, err := o.getRun(ctx, runID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot %s %s run", ErrInvalidTransition, op, run.Status)
}

// launch must be called with mu held.
func (o *Orchestrator) launch(run model.WorkflowRun, release func()) {
	exec := newExecution(run.ID)
	o.active[run.ID] = exec

	go func() {
		final, err := o.execute(exec, run)

		// releasing under mu keeps a Resume of this run from acquiring
		// before the old execution lets go
		o.mu.Lock()
		release()
		delete(o.active, run.ID)
		o.mu.Unlock()

		exec.finish(final, err)
	}()
}
