// Package config loads the screener configuration from a YAML file, a .env
// file and TALENT_SCREENER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/spigell/talent-screener/internal/model"
	"github.com/spigell/talent-screener/internal/retry"
	"github.com/spigell/talent-screener/internal/secrets"
	"go.uber.org/zap/zapcore"
)

const (
	EnvPrefix = "TALENT_SCREENER"

	SourcePortal = "portal"
	SourceFile   = "file"

	StoreMemory   = "memory"
	StorePostgres = "postgres"

	ProviderGemini = "gemini"
)

type Config struct {
	Job      JobConfig      `mapstructure:"job"`
	Search   SearchConfig   `mapstructure:"search"`
	Source   SourceConfig   `mapstructure:"source"`
	AI       AIConfig       `mapstructure:"ai"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Store    StoreConfig    `mapstructure:"store"`
	Server   ServerConfig   `mapstructure:"server"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Log      LogConfig      `mapstructure:"log"`
}

// JobConfig is the job screened by the run command.
type JobConfig struct {
	ID                 string   `mapstructure:"id"`
	Title              string   `mapstructure:"title"`
	RequiredSkills     []string `mapstructure:"required-skills"`
	PreferredSkills    []string `mapstructure:"preferred-skills"`
	MinExperienceYears float64  `mapstructure:"min-experience-years"`
	Education          string   `mapstructure:"education"`
	Description        string   `mapstructure:"description"`
}

type SearchConfig struct {
	Keywords   []string          `mapstructure:"keywords"`
	Filters    map[string]string `mapstructure:"filters"`
	MaxResults int               `mapstructure:"max-results"`
	Reanalyze  bool              `mapstructure:"reanalyze"`
}

type SourceConfig struct {
	// Kind is either portal or file.
	Kind    string        `mapstructure:"kind"`
	File    string        `mapstructure:"file"`
	Portal  PortalConfig  `mapstructure:"portal"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   retry.Policy  `mapstructure:"retry"`
}

type PortalConfig struct {
	URL       string         `mapstructure:"url"`
	UserAgent string         `mapstructure:"user-agent"`
	PerPage   int            `mapstructure:"per-page"`
	Username  string         `mapstructure:"username"`
	Password  secrets.Source `mapstructure:"password"`
}

type AIConfig struct {
	Provider  string          `mapstructure:"provider"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	Retry     retry.Policy    `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate-limit"`
}

type GeminiConfig struct {
	APIKey       secrets.Source `mapstructure:"api-key"`
	Model        string         `mapstructure:"model"`
	MaxLogLength int            `mapstructure:"max-log-length"`
}

// RateLimitConfig allows Tokens calls per Interval. Zero tokens disables it.
type RateLimitConfig struct {
	Tokens   int           `mapstructure:"tokens"`
	Interval time.Duration `mapstructure:"interval"`
}

type PublishConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	Feishu    FeishuConfig    `mapstructure:"feishu"`
	Timeout   time.Duration   `mapstructure:"timeout"`
	Retry     retry.Policy    `mapstructure:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate-limit"`
}

type FeishuConfig struct {
	BaseURL   string         `mapstructure:"base-url"`
	AppID     string         `mapstructure:"app-id"`
	AppSecret secrets.Source `mapstructure:"app-secret"`
	AppToken  string         `mapstructure:"app-token"`
	TableID   string         `mapstructure:"table-id"`
}

type StoreConfig struct {
	// Driver is either memory or postgres.
	Driver          string         `mapstructure:"driver"`
	DSN             secrets.Source `mapstructure:"dsn"`
	AutoMigrate     bool           `mapstructure:"auto-migrate"`
	MaxOpenConns    int            `mapstructure:"max-open-conns"`
	MaxIdleConns    int            `mapstructure:"max-idle-conns"`
	ConnMaxLifetime time.Duration  `mapstructure:"conn-max-lifetime"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Mode is the gin mode: debug, release or test.
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout"`
	MaxUploadSize   int64         `mapstructure:"max-upload-size"`
}

type WorkflowConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueSize   int `mapstructure:"queue-size"`
}

// LogConfig drives the zap logger. The --debug and --json flags override
// Level and Format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Output lists zap sinks: stdout, stderr or file paths.
	Output []string `mapstructure:"output"`
}

var defaults = map[string]any{
	"source.kind":                 SourcePortal,
	"source.portal.per-page":      50,
	"source.timeout":              "60s",
	"source.retry.max-attempts":   3,
	"source.retry.base-delay":     "1s",
	"source.retry.max-delay":      "30s",
	"source.retry.jitter":         0.2,
	"ai.provider":                 ProviderGemini,
	"ai.gemini.model":             "gemini-2.5-flash",
	"ai.gemini.max-log-length":    512,
	"ai.timeout":                  "60s",
	"ai.retry.max-attempts":       4,
	"ai.retry.base-delay":         "2s",
	"ai.retry.max-delay":          "60s",
	"ai.retry.jitter":             0.2,
	"ai.rate-limit.tokens":        10,
	"ai.rate-limit.interval":      "1m",
	"publish.timeout":             "30s",
	"publish.retry.max-attempts":  3,
	"publish.retry.base-delay":    "1s",
	"publish.retry.max-delay":     "30s",
	"publish.retry.jitter":        0.2,
	"publish.rate-limit.tokens":   50,
	"publish.rate-limit.interval": "1s",
	"store.driver":                StoreMemory,
	"store.auto-migrate":          true,
	"store.max-open-conns":        10,
	"store.max-idle-conns":        5,
	"store.conn-max-lifetime":     "15m",
	"server.addr":                 ":8080",
	"server.mode":                 "release",
	"server.shutdown-timeout":     "30s",
	"server.max-upload-size":      10 << 20,
	"workflow.concurrency":        4,
	"workflow.queue-size":         8,
	"log.level":                   "info",
	"log.format":                  "console",
	"log.output":                  []string{"stderr"},
}

// secretKeys have no default but can still be set from the environment.
var secretKeys = []string{
	"source.portal.url",
	"source.portal.username",
	"source.portal.password.value",
	"ai.gemini.api-key.value",
	"publish.enabled",
	"publish.feishu.app-id",
	"publish.feishu.app-secret.value",
	"publish.feishu.app-token",
	"publish.feishu.table-id",
	"store.dsn.value",
}

// SetDefaults registers defaults on v. Keys with a default can be overridden
// from the environment even when absent from the file.
func SetDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	cfg := &Config{}
	// Defaults are static and always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Prepare wires defaults, the config file and environment lookups into v.
// A missing .env file is ignored. When file is empty, talent-screener.yaml is
// looked up in the working directory and its absence is not an error.
func Prepare(v *viper.Viper, file string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, key := range secretKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", file, err)
		}
		return nil
	}

	v.AddConfigPath(".")
	v.SetConfigName("talent-screener")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Source.Kind = strings.ToLower(strings.TrimSpace(c.Source.Kind))
	c.AI.Provider = strings.ToLower(strings.TrimSpace(c.AI.Provider))
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))

	c.Source.Portal.Password.Name = "portal password"
	c.AI.Gemini.APIKey.Name = "gemini api key"
	c.Publish.Feishu.AppSecret.Name = "feishu app secret"
	c.Store.DSN.Name = "database dsn"
}

// Validate reports every invalid option at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Source.Kind {
	case SourcePortal:
		if strings.TrimSpace(c.Source.Portal.URL) == "" {
			add("source.portal.url is required for the portal source")
		}
	case SourceFile:
		if strings.TrimSpace(c.Source.File) == "" {
			add("source.file is required for the file source")
		}
	default:
		add("unsupported source.kind %q", c.Source.Kind)
	}

	if c.AI.Provider != ProviderGemini {
		add("unsupported ai.provider %q", c.AI.Provider)
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if !c.Store.DSN.Configured() {
			add("store.dsn is required for the postgres store")
		}
	default:
		add("unsupported store.driver %q", c.Store.Driver)
	}

	if c.Publish.Enabled {
		f := c.Publish.Feishu
		if f.AppID == "" || f.AppToken == "" || f.TableID == "" {
			add("publish.feishu.app-id, app-token and table-id are required when publishing is enabled")
		}
		if !f.AppSecret.Configured() {
			add("publish.feishu.app-secret is required when publishing is enabled")
		}
	}

	for name, p := range map[string]retry.Policy{
		"source.retry":  c.Source.Retry,
		"ai.retry":      c.AI.Retry,
		"publish.retry": c.Publish.Retry,
	} {
		if p.MaxAttempts < 1 {
			add("%s.max-attempts must be at least 1", name)
		}
		if p.Jitter < 0 || p.Jitter > 1 {
			add("%s.jitter must be within [0, 1]", name)
		}
	}

	for name, rl := range map[string]RateLimitConfig{
		"ai.rate-limit":      c.AI.RateLimit,
		"publish.rate-limit": c.Publish.RateLimit,
	} {
		if rl.Tokens > 0 && rl.Interval <= 0 {
			add("%s.interval must be positive when tokens are set", name)
		}
	}

	if c.Workflow.Concurrency < 1 {
		add("workflow.concurrency must be at least 1")
	}
	if c.Workflow.QueueSize < 0 {
		add("workflow.queue-size must not be negative")
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("unsupported log.level %q", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		add("unsupported log.format %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// Validate checks the job of the run command.
func (j JobConfig) Validate() error {
	if strings.TrimSpace(j.Title) == "" {
		return errors.New("job.title is required")
	}
	if len(j.RequiredSkills) == 0 {
		return errors.New("job.required-skills must list at least one skill")
	}
	return nil
}

func (j JobConfig) Model() *model.Job {
	return &model.Job{
		ID:                 j.ID,
		Title:              strings.TrimSpace(j.Title),
		RequiredSkills:     j.RequiredSkills,
		PreferredSkills:    j.PreferredSkills,
		MinExperienceYears: j.MinExperienceYears,
		Education:          j.Education,
		Description:        j.Description,
	}
}

func (s SearchConfig) Params() model.SourcingParams {
	return model.SourcingParams{
		Keywords:   s.Keywords,
		Filters:    s.Filters,
		MaxResults: s.MaxResults,
		Reanalyze:  s.Reanalyze,
	}
}
