package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/talent-screener/internal/dedup"
	"github.com/spigell/talent-screener/internal/logger"
	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/publish"
	"github.com/spigell/talent-screener/internal/resume"
	"github.com/spigell/talent-screener/internal/retry"
	"github.com/spigell/talent-screener/internal/source"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// unit is one candidate on its way through scoring and publishing.
type unit struct {
	seq    int
	cursor source.Cursor
	resume *model.Resume
	// result is set when the run already stored a result for the resume.
	result *model.AnalysisResult
}

// outcome is the count delta of a finished unit.
type outcome struct {
	seq    int
	cursor source.Cursor
	delta  model.Counts
}

type sourcing struct {
	exhausted bool
	err       error
	fatal     bool
}

// pipeline holds the state of one execution. Fields below the committer mark
// are touched only by the goroutine running execute.
type pipeline struct {
	o    *Orchestrator
	exec *execution
	log  *zap.Logger

	runID  string
	job    model.Job
	params model.SourcingParams
	cursor source.Cursor
	base   int
	set    *dedup.Set

	// committer
	run     model.WorkflowRun
	pending map[int]outcome
	next    int
	fatal   error
}

// execute runs the pipeline until the source is exhausted, a stop is
// requested or a fatal error occurs, and persists the final state.
func (o *Orchestrator) execute(exec *execution, run model.WorkflowRun) (model.RunStatus, error) {
	p := &pipeline{
		o:       o,
		exec:    exec,
		log:     logger.WithFields(o.logger, logger.RunFields(run.ID, run.JobID)...),
		runID:   run.ID,
		job:     run.Job.Snapshot(),
		params:  run.Clone().Params,
		cursor:  source.Cursor(run.Cursor),
		base:    run.Counts.Sourced,
		set:     dedup.NewSet(),
		run:     run,
		pending: make(map[int]outcome),
		next:    1,
	}

	srcCtx, cancelSrc := context.WithCancel(o.ctx)
	defer cancelSrc()
	go func() {
		select {
		case <-exec.stopCh:
			cancelSrc()
		case <-srcCtx.Done():
		}
	}()

	work := make(chan unit, o.cfg.QueueSize)
	outcomes := make(chan outcome, o.cfg.Concurrency+o.cfg.QueueSize+1)

	var (
		g   errgroup.Group
		src sourcing
	)
	g.Go(func() error {
		defer close(work)
		src = p.source(srcCtx, work, outcomes)
		return nil
	})
	for i := 0; i < o.cfg.Concurrency; i++ {
		g.Go(func() error {
			for u := range work {
				// Queued units are not dispatched yet. After a stop they are
				// dropped and sourced again on resume since the checkpoint never
				// passed them.
				if exec.stopping() != stopNone {
					continue
				}
				outcomes <- p.process(o.ctx, u)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(outcomes)
	}()

	for oc := range outcomes {
		p.commit(oc)
	}

	return p.finish(src)
}

// source pulls candidates, normalizes and deduplicates them inline and feeds
// the rest to the worker pool.
func (p *pipeline) source(ctx context.Context, work chan<- unit, outcomes chan<- outcome) sourcing {
	cfg := p.o.cfg
	q := source.Query{
		Keywords:   p.params.Keywords,
		Filters:    p.params.Filters,
		MaxResults: p.params.MaxResults,
	}

	stream, err := retry.Do(ctx, cfg.SourceRetry, source.Classify, func(ctx context.Context) (source.Stream, error) {
		callCtx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
		defer cancel()
		return p.o.source.Search(callCtx, q, p.cursor)
	}, p.notifyRetry)
	if err != nil {
		if p.exec.stopping() != stopNone {
			return sourcing{}
		}
		return p.sourcingFailure(err, 0)
	}
	defer stream.Close()

	seq := 0
	for {
		if p.exec.stopping() != stopNone {
			return sourcing{}
		}
		if max := p.params.MaxResults; max > 0 && p.base+seq >= max {
			p.log.Debug("max results reached", zap.Int("max_results", max))
			return sourcing{exhausted: true}
		}

		cand, err := retry.Do(ctx, cfg.SourceRetry, source.Classify, func(ctx context.Context) (*source.RawCandidate, error) {
			callCtx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
			defer cancel()
			return stream.Next(callCtx)
		}, p.notifyRetry)
		if errors.Is(err, source.ErrExhausted) {
			return sourcing{exhausted: true}
		}
		if err != nil {
			if p.exec.stopping() != stopNone {
				return sourcing{}
			}
			return p.sourcingFailure(err, seq)
		}

		seq++
		u, inline, drop := p.prepare(ctx, seq, cand)
		if drop {
			return sourcing{}
		}
		if inline != nil {
			outcomes <- *inline
			continue
		}

		if p.exec.stopping() != stopNone {
			return sourcing{}
		}
		select {
		case work <- *u:
		case <-p.exec.stopCh:
			return sourcing{}
		}
	}
}

func (p *pipeline) sourcingFailure(err error, seq int) sourcing {
	fatal := errors.Is(err, source.ErrAuth) || p.base+seq == 0
	p.log.Warn("sourcing failed", zap.Bool("fatal", fatal), zap.Int("fetched", seq), zap.Error(err))
	return sourcing{err: err, fatal: fatal}
}

// prepare returns either a unit to score or the outcome of a unit finished
// inline. drop is set when a stop interrupted the unit; the unit is then
// sourced again on resume.
func (p *pipeline) prepare(ctx context.Context, seq int, cand *source.RawCandidate) (*unit, *outcome, bool) {
	done := func(delta model.Counts) (*unit, *outcome, bool) {
		delta.Sourced = 1
		return nil, &outcome{seq: seq, cursor: cand.Cursor, delta: delta}, false
	}
	failed := func(stage string, err error) (*unit, *outcome, bool) {
		if p.exec.stopping() != stopNone {
			return nil, nil, true
		}
		p.log.Warn("resume unit failed",
			zap.String("stage", stage),
			zap.String("external_id", cand.ExternalID),
			zap.Error(err),
		)
		return done(model.Counts{Errored: 1})
	}

	r, err := resume.Normalize(cand)
	if err != nil {
		return failed("normalize", err)
	}

	stored, err := p.o.store.SaveResume(ctx, r)
	if err != nil {
		return failed("store resume", err)
	}
	if stored.Text == "" {
		stored.Text = r.Text
	}

	verdict, existing, err := p.o.checker.Check(ctx, p.set, dedup.Request{
		JobID:       p.job.ID,
		RunID:       p.runID,
		Fingerprint: stored.Fingerprint,
		Reanalyze:   p.params.Reanalyze,
	})
	if err != nil {
		return failed("dedup", err)
	}

	p.log.Debug("candidate sourced",
		zap.Int("seq", seq),
		zap.String("external_id", cand.ExternalID),
		zap.String("fingerprint", stored.Fingerprint),
		zap.Stringer("verdict", verdict),
	)

	switch verdict {
	case dedup.Duplicate:
		return done(model.Counts{Deduped: 1})
	case dedup.Replay:
		return &unit{seq: seq, cursor: cand.Cursor, resume: stored, result: existing}, nil, false
	default:
		return &unit{seq: seq, cursor: cand.Cursor, resume: stored}, nil, false
	}
}

// process scores, stores and publishes one unit. Errors are absorbed into the
// outcome.
func (p *pipeline) process(ctx context.Context, u unit) outcome {
	oc := outcome{seq: u.seq, cursor: u.cursor, delta: model.Counts{Sourced: 1}}
	fields := []zap.Field{zap.Int("seq", u.seq), zap.String("fingerprint", u.resume.Fingerprint)}

	res := u.result
	if res == nil {
		scored, err := p.o.scorer.Score(ctx, u.resume, &p.job)
		if err != nil {
			p.log.Warn("scoring failed", append(fields, zap.Error(err))...)
			oc.delta.Errored = 1
			return oc
		}
		scored.RunID = p.runID
		scored.ResumeID = u.resume.ID
		scored.JobID = p.job.ID
		scored.Fingerprint = u.resume.Fingerprint

		res, err = p.o.store.SaveResult(ctx, scored)
		if err != nil {
			p.log.Warn("storing result failed", append(fields, zap.Error(err))...)
			oc.delta.Errored = 1
			return oc
		}
		p.log.Debug("resume scored", append(fields, zap.Float64("score", res.Score))...)
	} else {
		p.log.Debug("reusing result stored before the last checkpoint", append(fields, zap.String("result_id", res.ID))...)
	}
	oc.delta.Scored = 1

	if p.o.publisher == nil {
		return oc
	}
	if _, err := p.o.publisher.Upsert(ctx, publish.Entry{Result: res, Resume: u.resume, Job: &p.job}); err != nil {
		p.log.Warn("sync failed", append(fields, zap.String("result_id", res.ID), zap.Error(err))...)
		oc.delta.Errored = 1
		return oc
	}
	oc.delta.Synced = 1
	return oc
}

// commit advances the checkpoint over the contiguous prefix of finished units
// and persists it. After a cancel the checkpoint is frozen.
func (p *pipeline) commit(oc outcome) {
	if p.fatal != nil || p.exec.stopping() == stopCancel {
		return
	}

	p.pending[oc.seq] = oc
	advanced := false
	for {
		next, ok := p.pending[p.next]
		if !ok {
			break
		}
		delete(p.pending, p.next)
		p.run.Counts = p.run.Counts.Add(next.delta)
		p.run.Cursor = string(next.cursor)
		p.next++
		advanced = true
	}
	if !advanced {
		return
	}

	if err := p.o.store.UpdateRun(p.o.ctx, &p.run); err != nil {
		p.fatal = fmt.Errorf("persist checkpoint: %w", err)
		p.log.Error("checkpoint failed, stopping run", zap.Error(err))
		p.exec.requestStop(stopFail)
	}
}

// finish decides the final state and persists it.
func (p *pipeline) finish(src sourcing) (model.RunStatus, error) {
	run := &p.run
	kind := p.exec.stopping()

	switch {
	case p.fatal != nil:
		run.Status = model.StatusFailed
		run.Error = p.fatal.Error()
	case src.fatal:
		run.Status = model.StatusFailed
		run.Error = src.err.Error()
	case kind == stopCancel:
		run.Status = model.StatusCancelled
	case kind == stopPause:
		run.Status = model.StatusPaused
	default:
		if src.err != nil {
			run.Counts.Errored++
			run.Error = fmt.Sprintf("sourcing stopped early: %v", src.err)
		}
		switch {
		case run.Counts.Sourced == 0 && src.err == nil:
			run.Status = model.StatusFailed
			run.Error = "source produced no candidates"
		case run.Counts.Errored > 0:
			run.Status = model.StatusCompletedWithErrors
		default:
			run.Status = model.StatusCompleted
		}
	}

	if run.Status.Terminal() {
		now := p.o.now().UTC()
		run.CompletedAt = &now
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.o.ctx), finalWriteTimeout)
	defer cancel()

	if err := p.o.store.UpdateRun(ctx, run); err != nil {
		p.log.Error("persisting final run state failed", zap.String("status", string(run.Status)), zap.Error(err))
		return run.Status, err
	}

	p.log.Info("run stopped",
		zap.String("status", string(run.Status)),
		zap.String("cursor", run.Cursor),
		zap.Int("sourced", run.Counts.Sourced),
		zap.Int("deduped", run.Counts.Deduped),
		zap.Int("scored", run.Counts.Scored),
		zap.Int("synced", run.Counts.Synced),
		zap.Int("errored", run.Counts.Errored),
	)
	return run.Status, nil
}

func (p *pipeline) notifyRetry(attempt int, budget string, delay time.Duration, err error) {
	p.log.Debug("retrying source call",
		zap.Int("attempt", attempt),
		zap.String("budget", budget),
		zap.Duration("delay", delay),
		zap.Error(err),
	)
}
