package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for leadflow. It is resolved once at startup
// and passed to constructors; nothing reads credentials lazily.
type Config struct {
	Database      DatabaseConfig
	Server        ServerConfig
	Log           LogConfig
	Providers     ProvidersConfig
	Organizations []OrganizationConfig
	Scoring       ScoringConfig
	Queue         QueueConfig
	Worker        WorkerConfig
	Delivery      DeliveryConfig
	Notification  NotificationConfig
	RateLimit     RateLimitConfig
}

// DatabaseConfig locates the SQLite job store.
type DatabaseConfig struct {
	Path string
}

// ServerConfig controls the inbound HTTP API.
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string // "text" (default) or "json"
}

// LookupConfig holds credentials for the single-profile lookup provider.
type LookupConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"-"`
}

// DeepScrapeConfig holds credentials for the batch deep-scrape provider.
type DeepScrapeConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	DatasetID  string        `yaml:"dataset_id"`
	WebhookURL string        `yaml:"webhook_url"` // where the provider delivers results
	Timeout    time.Duration `yaml:"-"`
}

// Configured reports whether jobs can be submitted with these credentials.
func (d DeepScrapeConfig) Configured() bool {
	return d.APIKey != "" && d.DatasetID != ""
}

// ProvidersConfig groups both provider variants.
type ProvidersConfig struct {
	Lookup     LookupConfig
	DeepScrape DeepScrapeConfig
}

// OrganizationConfig is one tenant allowed to call the API. Providers is the
// global provider config with this organization's overrides applied.
type OrganizationConfig struct {
	ID        int64
	Name      string
	APIKey    string
	Providers ProvidersConfig
}

// ScoringConfig controls the LLM backend used by the qualification engine.
type ScoringConfig struct {
	Backend      string // "openai", "gemini", or "" to disable scoring
	BaseURL      string
	Model        string
	APIKey       string
	Timeout      time.Duration
	RateLimitRPS float64
	Concurrency  int
	MaxRetries   int
}

// Enabled reports whether a scoring backend is configured.
func (s ScoringConfig) Enabled() bool {
	return s.Backend != ""
}

// QueueConfig controls task retry policy.
type QueueConfig struct {
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Lease          time.Duration
}

// WorkerConfig controls the queue consumers and the scrape-timeout sweeper.
type WorkerConfig struct {
	Count         int
	PollInterval  time.Duration
	ScrapeTimeout time.Duration
	SweepInterval time.Duration
}

// DeliveryConfig controls inbound deep-scrape deliveries.
type DeliveryConfig struct {
	WebhookSecret string `yaml:"webhook_secret"` // required when any organization uses deep scrape
	EventToken    string `yaml:"event_token"`    // required when bucket is set
	Bucket        string `yaml:"bucket"`         // object storage bucket for snapshot files, optional
	Prefix        string `yaml:"prefix"`
}

// NotificationConfig controls which notifier is used and its settings.
type NotificationConfig struct {
	Type       string `yaml:"type"`        // "log" or "slack"
	WebhookURL string `yaml:"webhook_url"` // required if type is "slack"
}

// RateLimitConfig controls per-provider pacing of outbound lookups.
type RateLimitConfig struct {
	MinDelay          time.Duration
	ProviderOverrides map[string]time.Duration
}

// MinDelayFor returns the configured delay for the given provider, falling back to MinDelay.
func (r RateLimitConfig) MinDelayFor(provider string) time.Duration {
	if d, ok := r.ProviderOverrides[provider]; ok {
		return d
	}
	return r.MinDelay
}

// Organization returns the organization with the given id.
func (c *Config) Organization(id int64) (OrganizationConfig, bool) {
	for _, o := range c.Organizations {
		if o.ID == id {
			return o, true
		}
	}
	return OrganizationConfig{}, false
}

const (
	defaultOpenAIBaseURL     = "https://api.openai.com/v1"
	defaultLookupBaseURL     = "https://api.peopledatalabs.com/v5/person/enrich"
	defaultDeepScrapeBaseURL = "https://api.brightdata.com/datasets/v3/trigger"
	defaultScrapeTimeout     = 6 * time.Hour
)

// rawConfig is used for YAML unmarshaling (snake_case fields and duration as string).
type rawConfig struct {
	Database      DatabaseConfig          `yaml:"database"`
	Server        rawServerConfig         `yaml:"server"`
	Log           LogConfig               `yaml:"log"`
	Providers     rawProvidersConfig      `yaml:"providers"`
	Organizations []rawOrganizationConfig `yaml:"organizations"`
	Scoring       rawScoringConfig        `yaml:"scoring"`
	Queue         rawQueueConfig          `yaml:"queue"`
	Worker        rawWorkerConfig         `yaml:"worker"`
	Delivery      DeliveryConfig          `yaml:"delivery"`
	Notification  NotificationConfig      `yaml:"notification"`
	RateLimit     rawRateLimitConfig      `yaml:"rate_limit"`
}

type rawServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

type rawLookupConfig struct {
	LookupConfig `yaml:",inline"`
	Timeout      string `yaml:"timeout"`
}

type rawDeepScrapeConfig struct {
	DeepScrapeConfig `yaml:",inline"`
	Timeout          string `yaml:"timeout"`
}

type rawProvidersConfig struct {
	Lookup     rawLookupConfig     `yaml:"lookup"`
	DeepScrape rawDeepScrapeConfig `yaml:"deep_scrape"`
}

type rawOrganizationConfig struct {
	ID        int64  `yaml:"id"`
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	Providers struct {
		Lookup     LookupConfig     `yaml:"lookup"`
		DeepScrape DeepScrapeConfig `yaml:"deep_scrape"`
	} `yaml:"providers"`
}

type rawScoringConfig struct {
	Backend      string  `yaml:"backend"`
	BaseURL      string  `yaml:"base_url"`
	Model        string  `yaml:"model"`
	APIKey       string  `yaml:"api_key"`
	Timeout      string  `yaml:"timeout"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	Concurrency  int     `yaml:"concurrency"`
	MaxRetries   *int    `yaml:"max_retries"`
}

type rawQueueConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	BackoffInitial string `yaml:"backoff_initial"`
	BackoffMax     string `yaml:"backoff_max"`
	Lease          string `yaml:"lease"`
}

type rawWorkerConfig struct {
	Count         int    `yaml:"count"`
	PollInterval  string `yaml:"poll_interval"`
	ScrapeTimeout string `yaml:"scrape_timeout"`
	SweepInterval string `yaml:"sweep_interval"`
}

type rawRateLimitConfig struct {
	MinDelay          string            `yaml:"min_delay"`
	ProviderOverrides map[string]string `yaml:"provider_overrides"`
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes. Environment variables are expanded first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var errs []error
	dur := func(field, value string, def time.Duration) time.Duration {
		if value == "" {
			return def
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s %q: %w", field, value, err))
			return def
		}
		return d
	}

	providers := ProvidersConfig{
		Lookup:     raw.Providers.Lookup.LookupConfig,
		DeepScrape: raw.Providers.DeepScrape.DeepScrapeConfig,
	}
	providers.Lookup.Timeout = dur("providers.lookup.timeout", raw.Providers.Lookup.Timeout, 30*time.Second)
	providers.DeepScrape.Timeout = dur("providers.deep_scrape.timeout", raw.Providers.DeepScrape.Timeout, 60*time.Second)
	if providers.Lookup.BaseURL == "" {
		providers.Lookup.BaseURL = defaultLookupBaseURL
	}
	if providers.DeepScrape.BaseURL == "" {
		providers.DeepScrape.BaseURL = defaultDeepScrapeBaseURL
	}

	orgs := make([]OrganizationConfig, 0, len(raw.Organizations))
	for _, ro := range raw.Organizations {
		orgs = append(orgs, OrganizationConfig{
			ID:        ro.ID,
			Name:      ro.Name,
			APIKey:    ro.APIKey,
			Providers: mergeProviders(providers, ro.Providers.Lookup, ro.Providers.DeepScrape),
		})
	}

	overrides := make(map[string]time.Duration)
	for name, value := range raw.RateLimit.ProviderOverrides {
		overrides[name] = dur(fmt.Sprintf("rate_limit.provider_overrides[%q]", name), value, 0)
	}

	scoringBaseURL := raw.Scoring.BaseURL
	if scoringBaseURL == "" && raw.Scoring.Backend == "openai" {
		scoringBaseURL = defaultOpenAIBaseURL
	}
	maxRetries := 2
	if raw.Scoring.MaxRetries != nil {
		maxRetries = *raw.Scoring.MaxRetries
	}

	cfg := &Config{
		Database: raw.Database,
		Server: ServerConfig{
			Addr:            raw.Server.Addr,
			ShutdownTimeout: dur("server.shutdown_timeout", raw.Server.ShutdownTimeout, 10*time.Second),
		},
		Log:           raw.Log,
		Providers:     providers,
		Organizations: orgs,
		Scoring: ScoringConfig{
			Backend:      strings.ToLower(raw.Scoring.Backend),
			BaseURL:      scoringBaseURL,
			Model:        raw.Scoring.Model,
			APIKey:       raw.Scoring.APIKey,
			Timeout:      dur("scoring.timeout", raw.Scoring.Timeout, 30*time.Second),
			RateLimitRPS: raw.Scoring.RateLimitRPS,
			Concurrency:  raw.Scoring.Concurrency,
			MaxRetries:   maxRetries,
		},
		Queue: QueueConfig{
			MaxAttempts:    raw.Queue.MaxAttempts,
			BackoffInitial: dur("queue.backoff_initial", raw.Queue.BackoffInitial, 5*time.Second),
			BackoffMax:     dur("queue.backoff_max", raw.Queue.BackoffMax, 10*time.Minute),
			Lease:          dur("queue.lease", raw.Queue.Lease, 5*time.Minute),
		},
		Worker: WorkerConfig{
			Count:         raw.Worker.Count,
			PollInterval:  dur("worker.poll_interval", raw.Worker.PollInterval, 2*time.Second),
			ScrapeTimeout: dur("worker.scrape_timeout", raw.Worker.ScrapeTimeout, defaultScrapeTimeout),
			SweepInterval: dur("worker.sweep_interval", raw.Worker.SweepInterval, 5*time.Minute),
		},
		Delivery:     raw.Delivery,
		Notification: raw.Notification,
		RateLimit: RateLimitConfig{
			MinDelay:          dur("rate_limit.min_delay", raw.RateLimit.MinDelay, 200*time.Millisecond),
			ProviderOverrides: overrides,
		},
	}
	if len(errs) > 0 {
		return nil, errs[0]
	}

	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeProviders applies non-empty organization overrides on top of the global provider config.
func mergeProviders(global ProvidersConfig, lookup LookupConfig, deep DeepScrapeConfig) ProvidersConfig {
	out := global
	if lookup.BaseURL != "" {
		out.Lookup.BaseURL = lookup.BaseURL
	}
	if lookup.APIKey != "" {
		out.Lookup.APIKey = lookup.APIKey
	}
	if deep.BaseURL != "" {
		out.DeepScrape.BaseURL = deep.BaseURL
	}
	if deep.APIKey != "" {
		out.DeepScrape.APIKey = deep.APIKey
	}
	if deep.DatasetID != "" {
		out.DeepScrape.DatasetID = deep.DatasetID
	}
	if deep.WebhookURL != "" {
		out.DeepScrape.WebhookURL = deep.WebhookURL
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = "leadflow.db"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Scoring.Concurrency <= 0 {
		cfg.Scoring.Concurrency = 4
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 5
	}
	if cfg.Worker.Count <= 0 {
		cfg.Worker.Count = 2
	}
	if cfg.Notification.Type == "" {
		cfg.Notification.Type = "log"
	}
}

func validate(cfg *Config) error {
	if len(cfg.Organizations) == 0 {
		return fmt.Errorf("at least one organization must be configured")
	}
	ids := make(map[int64]bool)
	keys := make(map[string]bool)
	for _, o := range cfg.Organizations {
		if o.ID <= 0 {
			return fmt.Errorf("organizations: id must be positive, got %d", o.ID)
		}
		if ids[o.ID] {
			return fmt.Errorf("organizations: duplicate id %d", o.ID)
		}
		ids[o.ID] = true
		if o.APIKey == "" {
			return fmt.Errorf("organizations[%d]: api_key is required", o.ID)
		}
		if keys[o.APIKey] {
			return fmt.Errorf("organizations[%d]: api_key is shared with another organization", o.ID)
		}
		keys[o.APIKey] = true
		if o.Providers.DeepScrape.Configured() && cfg.Delivery.WebhookSecret == "" {
			return fmt.Errorf("delivery.webhook_secret is required when organization %d uses deep scrape", o.ID)
		}
	}
	if cfg.Delivery.Bucket != "" && cfg.Delivery.EventToken == "" {
		return fmt.Errorf("delivery.event_token is required when delivery.bucket is set")
	}

	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be \"text\" or \"json\", got %q", cfg.Log.Format)
	}

	switch cfg.Scoring.Backend {
	case "":
	case "openai", "gemini":
		if cfg.Scoring.APIKey == "" {
			return fmt.Errorf("scoring.api_key is required when scoring.backend is %q", cfg.Scoring.Backend)
		}
		if cfg.Scoring.Model == "" {
			return fmt.Errorf("scoring.model is required when scoring.backend is %q", cfg.Scoring.Backend)
		}
	default:
		return fmt.Errorf("scoring.backend must be \"openai\" or \"gemini\", got %q", cfg.Scoring.Backend)
	}
	if cfg.Scoring.MaxRetries < 0 {
		return fmt.Errorf("scoring.max_retries must not be negative, got %d", cfg.Scoring.MaxRetries)
	}

	if cfg.Worker.ScrapeTimeout <= 0 {
		return fmt.Errorf("worker.scrape_timeout must be positive, got %v", cfg.Worker.ScrapeTimeout)
	}
	if cfg.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive, got %v", cfg.Worker.PollInterval)
	}
	if cfg.Queue.BackoffMax < cfg.Queue.BackoffInitial {
		return fmt.Errorf("queue.backoff_max (%v) must be >= queue.backoff_initial (%v)", cfg.Queue.BackoffMax, cfg.Queue.BackoffInitial)
	}

	if cfg.Notification.Type == "slack" {
		if cfg.Notification.WebhookURL == "" {
			return fmt.Errorf("notification.webhook_url is required when type is \"slack\"")
		}
		if !strings.HasPrefix(cfg.Notification.WebhookURL, "https://hooks.slack.com/") {
			return fmt.Errorf("notification.webhook_url must start with https://hooks.slack.com/")
		}
	}

	return nil
}
