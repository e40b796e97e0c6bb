// Package scoring calls the AI backend for one resume and job under the
// process-wide rate limit and the scoring retry policy.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/spigell/talent-screener/internal/ai"
	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/ratelimit"
	"github.com/spigell/talent-screener/internal/retry"
	"go.uber.org/zap"
)

const defaultTimeout = 60 * time.Second

type Scorer struct {
	backend ai.Backend
	limiter *ratelimit.Limiter
	policy  retry.Policy
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

type Options struct {
	Limiter *ratelimit.Limiter
	Policy  retry.Policy
	// Timeout bounds every single backend call.
	Timeout time.Duration
	Logger  *zap.Logger
}

func New(backend ai.Backend, opts Options) *Scorer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Scorer{
		backend: backend,
		limiter: opts.Limiter,
		policy:  opts.Policy,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     time.Now,
	}
}

// Score returns an unsaved AnalysisResult. RateLimited and TransientTimeout
// failures are retried with separate budgets; InvalidResponse is returned as
// is.
func (s *Scorer) Score(ctx context.Context, resume *model.Resume, job *model.Job) (*model.AnalysisResult, error) {
	attempt := func(ctx context.Context) (*ai.Assessment, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		assessment, err := s.backend.Assess(callCtx, resume, job)
		if err != nil {
			return nil, err
		}
		if err := ai.ValidateScore(assessment.Score); err != nil {
			return nil, err
		}
		return assessment, nil
	}

	notify := func(n int, budget string, delay time.Duration, err error) {
		s.logger.Debug("retrying ai scoring",
			zap.String("fingerprint", resume.Fingerprint),
			zap.Int("attempt", n),
			zap.String("budget", budget),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	assessment, err := retry.Do(ctx, s.policy, ai.Classify, attempt, notify)
	if err != nil {
		return nil, fmt.Errorf("score resume %s: %w", resume.Fingerprint, err)
	}

	modelName := assessment.Model
	if modelName == "" {
		modelName = s.backend.Model()
	}

	return &model.AnalysisResult{
		ResumeID:    resume.ID,
		JobID:       job.ID,
		Fingerprint: resume.Fingerprint,
		Score:       assessment.Score,
		Rationale:   assessment.Rationale,
		Model:       modelName,
		CreatedAt:   s.now().UTC(),
	}, nil
}
