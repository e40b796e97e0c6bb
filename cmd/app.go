package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spigell/talent-screener/internal/ai/gemini"
	"github.com/spigell/talent-screener/internal/config"
	"github.com/spigell/talent-screener/internal/logger"
	"github.com/spigell/talent-screener/internal/publish"
	"github.com/spigell/talent-screener/internal/publish/feishu"
	"github.com/spigell/talent-screener/internal/ratelimit"
	"github.com/spigell/talent-screener/internal/scoring"
	"github.com/spigell/talent-screener/internal/secrets"
	"github.com/spigell/talent-screener/internal/source"
	"github.com/spigell/talent-screener/internal/source/file"
	"github.com/spigell/talent-screener/internal/source/portal"
	"github.com/spigell/talent-screener/internal/store"
	"github.com/spigell/talent-screener/internal/store/memory"
	"github.com/spigell/talent-screener/internal/store/postgres"
	"github.com/spigell/talent-screener/internal/workflow"
	"go.uber.org/zap"
)

// application holds the wired components shared by the commands.
type application struct {
	cfg    *config.Config
	logger *zap.Logger
	store  store.Store
	orch   *workflow.Orchestrator
}

type appOptions struct {
	// scoring builds the AI backend; commands that only publish skip it.
	scoring bool
}

func newApplication(ctx context.Context, cfg *config.Config, log *zap.Logger, opts appOptions) (*application, error) {
	st, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return nil, err
	}

	src, err := newSource(cfg.Source, log)
	if err != nil {
		st.Close()
		return nil, err
	}

	deps := workflow.Dependencies{
		Store:  st,
		Source: src,
		Lease:  source.NewLease(),
		Logger: log.Named("workflow"),
	}

	if opts.scoring {
		scorer, err := newScorer(ctx, cfg.AI, log)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("building scorer: %w", err)
		}
		deps.Scorer = scorer
	}

	if cfg.Publish.Enabled {
		publisher, err := newPublisher(cfg.Publish, st, log)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("building publisher: %w", err)
		}
		deps.Publisher = publisher
	}

	orch := workflow.New(ctx, deps, workflow.Config{
		Concurrency:  cfg.Workflow.Concurrency,
		QueueSize:    cfg.Workflow.QueueSize,
		FetchTimeout: cfg.Source.Timeout,
		SourceRetry:  cfg.Source.Retry,
		MaxResults:   cfg.Search.MaxResults,
	})

	return &application{cfg: cfg, logger: log, store: st, orch: orch}, nil
}

func (a *application) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (store.Store, error) {
	if cfg.Driver != config.StorePostgres {
		log.Debug("using in-memory store")
		return memory.New(), nil
	}

	dsn, err := secrets.Load(cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := postgres.MigrateUp(dsn); err != nil {
			return nil, err
		}
		log.Debug("database schema is up to date")
	}

	return postgres.Open(ctx, postgres.Options{
		DSN:             dsn,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
}

func newSource(cfg config.SourceConfig, log *zap.Logger) (source.Adapter, error) {
	switch cfg.Kind {
	case config.SourceFile:
		return file.New(cfg.File, log.Named("source")), nil
	case config.SourcePortal:
		var password string
		if cfg.Portal.Password.Configured() {
			p, err := secrets.Load(cfg.Portal.Password)
			if err != nil {
				return nil, err
			}
			password = p
		}

		client := portal.New(cfg.Portal.URL, portal.Credentials{
			Username: cfg.Portal.Username,
			Password: password,
		}, log.Named("source"))
		if cfg.Portal.UserAgent != "" {
			client.UserAgent = cfg.Portal.UserAgent
		}
		if cfg.Portal.PerPage > 0 {
			client.PerPage = cfg.Portal.PerPage
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported source kind %q", cfg.Kind)
	}
}

func newScorer(ctx context.Context, cfg config.AIConfig, log *zap.Logger) (*scoring.Scorer, error) {
	if cfg.Provider != config.ProviderGemini {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	apiKey, err := secrets.Load(cfg.Gemini.APIKey)
	if err != nil {
		if errors.Is(err, secrets.ErrNotConfigured) {
			return nil, fmt.Errorf("%w (set ai.gemini.api-key.file, ai.gemini.api-key.env or TALENT_SCREENER_AI_GEMINI_API_KEY_VALUE)", err)
		}
		return nil, err
	}

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model)
	if err != nil {
		return nil, err
	}

	scorerLog := logger.WithCommonFields(log.Named("scoring"), "gemini", generator.Model())
	return scoring.New(gemini.NewMatcher(generator, log.Named("gemini"), cfg.Gemini.MaxLogLength), scoring.Options{
		Limiter: ratelimit.New(cfg.RateLimit.Tokens, cfg.RateLimit.Interval),
		Policy:  cfg.Retry,
		Timeout: cfg.Timeout,
		Logger:  scorerLog,
	}), nil
}

func newPublisher(cfg config.PublishConfig, st store.Store, log *zap.Logger) (*publish.Publisher, error) {
	secret, err := secrets.Load(cfg.Feishu.AppSecret)
	if err != nil {
		return nil, err
	}

	table, err := feishu.New(feishu.Config{
		BaseURL:   cfg.Feishu.BaseURL,
		AppID:     cfg.Feishu.AppID,
		AppSecret: secret,
		AppToken:  cfg.Feishu.AppToken,
		TableID:   cfg.Feishu.TableID,
	}, log.Named("feishu"))
	if err != nil {
		return nil, err
	}

	return publish.New(table, st, publish.Options{
		Limiter: ratelimit.New(cfg.RateLimit.Tokens, cfg.RateLimit.Interval),
		Policy:  cfg.Retry,
		Timeout: cfg.Timeout,
		Logger:  log.Named("publish"),
	}), nil
}
