package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spigell/talent-screener/internal/dedup"
	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/publish"
	"github.com/spigell/talent-screener/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AnalysisReport is the outcome of a single resume analysis.
type AnalysisReport struct {
	Result *model.AnalysisResult `json:"result"`
	Resume *model.Resume         `json:"resume"`
	// Duplicate is set when an existing result was returned instead of scoring.
	Duplicate bool   `json:"duplicate"`
	Synced    bool   `json:"synced"`
	SyncError string `json:"sync_error,omitempty"`
}

// Analyze scores one resume against a job outside of a run. An existing
// result for the same identity is returned unless reanalyze is set, in which
// case it is superseded in place.
func (o *Orchestrator) Analyze(ctx context.Context, jobID string, r *model.Resume, reanalyze bool) (*AnalysisReport, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	stored, err := o.store.SaveResume(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("save resume: %w", err)
	}
	if stored.Text == "" {
		stored.Text = r.Text
	}

	log := o.logger.With(zap.String("job_id", jobID), zap.String("fingerprint", stored.Fingerprint))

	verdict, existing, err := o.checker.Check(ctx, nil, dedup.Request{
		JobID:       jobID,
		Fingerprint: stored.Fingerprint,
		Reanalyze:   reanalyze,
	})
	if err != nil {
		return nil, err
	}
	if verdict == dedup.Duplicate {
		log.Info("resume already analyzed", zap.String("result_id", existing.ID))
		return &AnalysisReport{Result: existing, Resume: stored, Duplicate: true}, nil
	}

	scored, err := o.scorer.Score(ctx, stored, job)
	if err != nil {
		return nil, fmt.Errorf("score resume: %w", err)
	}
	scored.ResumeID = stored.ID
	scored.JobID = jobID
	scored.Fingerprint = stored.Fingerprint

	res, err := o.store.SaveResult(ctx, scored)
	if err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}
	log.Info("resume analyzed", zap.String("result_id", res.ID), zap.Float64("score", res.Score))

	report := &AnalysisReport{Result: res, Resume: stored}
	if o.publisher == nil {
		return report, nil
	}
	if _, err := o.publisher.Upsert(ctx, publish.Entry{Result: res, Resume: stored, Job: job}); err != nil {
		log.Warn("sync failed", zap.String("result_id", res.ID), zap.Error(err))
		report.SyncError = err.Error()
		return report, nil
	}
	report.Synced = true
	return report, nil
}

// SyncReport summarizes a Resync call.
type SyncReport struct {
	Total  int      `json:"total"`
	Synced int      `json:"synced"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// Resync publishes every stored result of a job. Results already mirrored
// are updated in place.
func (o *Orchestrator) Resync(ctx context.Context, jobID string) (*SyncReport, error) {
	if o.publisher == nil {
		return nil, errors.New("publishing is not configured")
	}

	job, err := o.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	results, err := o.store.ListResults(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	report := &SyncReport{Total: len(results)}
	var mu sync.Mutex
	fail := func(resultID string, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Failed++
		report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", resultID, err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i := range results {
		res := &results[i]
		g.Go(func() error {
			r, err := o.store.GetResume(gctx, res.ResumeID)
			if err != nil {
				fail(res.ID, fmt.Errorf("get resume: %w", err))
				return nil
			}
			if _, err := o.publisher.Upsert(gctx, publish.Entry{Result: res, Resume: r, Job: job}); err != nil {
				fail(res.ID, err)
				return nil
			}
			mu.Lock()
			report.Synced++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("job resynced",
		zap.String("job_id", jobID),
		zap.Int("total", report.Total),
		zap.Int("synced", report.Synced),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// Statistics aggregates all runs.
type Statistics struct {
	Runs            int                     `json:"runs"`
	ByStatus        map[model.RunStatus]int `json:"by_status"`
	SuccessRate     float64                 `json:"success_rate"`
	AverageDuration time.Duration           `json:"average_duration"`
	Totals          model.Counts            `json:"totals"`
}

// Statistics returns totals across every run. The success rate is the share
// of finished runs that completed, with or without unit errors.
func (o *Orchestrator) Statistics(ctx context.Context) (*Statistics, error) {
	runs, err := o.store.ListRunsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	stats := &Statistics{Runs: len(runs), ByStatus: make(map[model.RunStatus]int)}
	var (
		finished, succeeded, timed int
		total                      time.Duration
	)
	for _, run := range runs {
		stats.ByStatus[run.Status]++
		stats.Totals = stats.Totals.Add(run.Counts)

		if !run.Status.Terminal() {
			continue
		}
		finished++
		if run.Status == model.StatusCompleted || run.Status == model.StatusCompletedWithErrors {
			succeeded++
		}
		if run.CompletedAt != nil {
			total += run.CompletedAt.Sub(run.CreatedAt)
			timed++
		}
	}
	if finished > 0 {
		stats.SuccessRate = float64(succeeded) / float64(finished)
	}
	if timed > 0 {
		stats.AverageDuration = total / time.Duration(timed)
	}
	return stats, nil
}
