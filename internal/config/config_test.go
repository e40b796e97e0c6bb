package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "talent-screener.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Workflow.Concurrency != 4 {
		t.Fatalf("expected concurrency 4, got %d", cfg.Workflow.Concurrency)
	}
	if cfg.AI.Retry.MaxAttempts != 4 || cfg.AI.Retry.MaxDelay != time.Minute {
		t.Fatalf("unexpected ai retry policy: %+v", cfg.AI.Retry)
	}
	if cfg.AI.RateLimit.Tokens != 10 || cfg.AI.RateLimit.Interval != time.Minute {
		t.Fatalf("unexpected ai rate limit: %+v", cfg.AI.RateLimit)
	}
	if cfg.Store.Driver != StoreMemory {
		t.Fatalf("expected memory store, got %q", cfg.Store.Driver)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" || len(cfg.Log.Output) != 1 || cfg.Log.Output[0] != "stderr" {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
job:
  title: ML engineer
  required-skills: [python, ml]
search:
  keywords: [python]
  max-results: 25
  filters:
    area: "1"
source:
  kind: file
  file: candidates.json
ai:
  gemini:
    api-key:
      env: GEMINI_KEY
  retry:
    base-delay: 250ms
workflow:
  concurrency: 2
`)
	t.Setenv("TALENT_SCREENER_WORKFLOW_QUEUE_SIZE", "3")
	t.Setenv("TALENT_SCREENER_STORE_DSN_VALUE", "postgres://localhost/screener")
	t.Setenv("TALENT_SCREENER_STORE_DRIVER", "Postgres")
	t.Setenv("TALENT_SCREENER_LOG_LEVEL", "Debug")

	v := viper.New()
	if err := Prepare(v, path); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Fatalf("expected log level from env, got %q", cfg.Log.Level)
	}
	if cfg.Workflow.Concurrency != 2 || cfg.Workflow.QueueSize != 3 {
		t.Fatalf("unexpected workflow config: %+v", cfg.Workflow)
	}
	if cfg.Store.Driver != StorePostgres || cfg.Store.DSN.Value != "postgres://localhost/screener" {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.AI.Gemini.APIKey.Env != "GEMINI_KEY" || cfg.AI.Gemini.APIKey.Name == "" {
		t.Fatalf("unexpected api key source: %+v", cfg.AI.Gemini.APIKey)
	}
	if cfg.AI.Retry.BaseDelay != 250*time.Millisecond || cfg.AI.Retry.MaxAttempts != 4 {
		t.Fatalf("file values must merge with defaults: %+v", cfg.AI.Retry)
	}

	params := cfg.Search.Params()
	if params.MaxResults != 25 || params.Filters["area"] != "1" || len(params.Keywords) != 1 {
		t.Fatalf("unexpected params: %+v", params)
	}
	if err := cfg.Job.Validate(); err != nil {
		t.Fatalf("job must be valid: %v", err)
	}
	if job := cfg.Job.Model(); job.Title != "ML engineer" || len(job.RequiredSkills) != 2 {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "portal without url", mutate: func(c *Config) {}, want: "source.portal.url"},
		{name: "unknown source", mutate: func(c *Config) { c.Source.Kind = "selenium" }, want: "unsupported source.kind"},
		{name: "file without path", mutate: func(c *Config) { c.Source.Kind = SourceFile }, want: "source.file"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Store.Driver = StorePostgres }, want: "store.dsn"},
		{name: "publish without table", mutate: func(c *Config) { c.Publish.Enabled = true }, want: "table-id"},
		{name: "no attempts", mutate: func(c *Config) { c.AI.Retry.MaxAttempts = 0 }, want: "ai.retry.max-attempts"},
		{name: "rate limit without interval", mutate: func(c *Config) { c.AI.RateLimit.Interval = 0 }, want: "ai.rate-limit.interval"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Workflow.Concurrency = 0 }, want: "workflow.concurrency"},
		{name: "log level", mutate: func(c *Config) { c.Log.Level = "loud" }, want: "log.level"},
		{name: "log format", mutate: func(c *Config) { c.Log.Format = "xml" }, want: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	cfg := Defaults()
	cfg.Source.Portal.URL = "https://portal.example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults with url to be valid, got %v", err)
	}
}

func TestJobValidate(t *testing.T) {
	if err := (JobConfig{}).Validate(); err == nil {
		t.Fatal("expected error for empty job")
	}
	if err := (JobConfig{Title: "x"}).Validate(); err == nil {
		t.Fatal("expected error for job without skills")
	}
}
