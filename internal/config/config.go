// Package config loads engine settings from YAML, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/chartpilot/analysis-engine/internal/auth"
	"github.com/chartpilot/analysis-engine/internal/cache"
	"github.com/chartpilot/analysis-engine/internal/capture"
	"github.com/chartpilot/analysis-engine/internal/models"
	"github.com/chartpilot/analysis-engine/internal/provider"
	"github.com/chartpilot/analysis-engine/internal/quota"
	"github.com/chartpilot/analysis-engine/internal/repo"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "CHARTPILOT_"

// Config captures everything required to boot the analysis engine.
type Config struct {
	Server    ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	Logging   LoggingConfig      `yaml:"logging" envPrefix:"LOG_"`
	Provider  provider.Config    `yaml:"provider" envPrefix:"PROVIDER_"`
	Quota     QuotaConfig        `yaml:"quota" envPrefix:"QUOTA_"`
	Cache     CacheConfig        `yaml:"cache" envPrefix:"CACHE_"`
	History   repo.HistoryConfig `yaml:"history" envPrefix:"HISTORY_"`
	Capture   CaptureConfig      `yaml:"capture" envPrefix:"CAPTURE_"`
	Auth      auth.Config        `yaml:"auth" envPrefix:"AUTH_"`
	Scheduler SchedulerConfig    `yaml:"scheduler" envPrefix:"SCHEDULER_"`
}

// ServerConfig controls the gRPC and HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address" env:"ADDRESS"`
	HTTPAddress     string        `yaml:"http_address" env:"HTTP_ADDRESS"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout" env:"GRACEFUL_TIMEOUT"`
	Reflection      bool          `yaml:"reflection" env:"REFLECTION"`
	CORSOrigins     []string      `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

// Quota backends.
const (
	QuotaBackendMemory = "memory"
	QuotaBackendRedis  = "redis"
)

// QuotaConfig selects the counter store and tier assignment.
type QuotaConfig struct {
	Backend     string            `yaml:"backend" env:"BACKEND"`
	DefaultTier models.Tier       `yaml:"default_tier" env:"DEFAULT_TIER"`
	Subjects    map[string]string `yaml:"subjects" env:"SUBJECTS"`
	// Limits overrides the built-in tables; zero values keep the default.
	Limits quota.LimitTable `yaml:"limits"`
}

// CacheConfig configures the Valkey/Redis connection shared by the list cache
// and the redis quota backend.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`

	cache.ValkeyConfig `yaml:",inline"`
}

// CaptureConfig groups validation thresholds and snapshot retries.
type CaptureConfig struct {
	Thresholds      capture.Thresholds  `yaml:"thresholds"`
	Retry           capture.RetryPolicy `yaml:"retry" envPrefix:"RETRY_"`
	SnapshotTimeout time.Duration       `yaml:"snapshot_timeout" env:"SNAPSHOT_TIMEOUT"`
	// SnapshotHosts restricts snapshot URLs to these renderer hosts when set.
	SnapshotHosts []string `yaml:"snapshot_hosts" env:"SNAPSHOT_HOSTS" envSeparator:","`
	// AllowPrivateSnapshots lets snapshot fetches reach private and loopback
	// addresses, for a renderer on the same host or network.
	AllowPrivateSnapshots bool `yaml:"allow_private_snapshots" env:"ALLOW_PRIVATE_SNAPSHOTS"`
}

// SchedulerConfig holds cron specs for maintenance jobs. An empty spec disables a job.
type SchedulerConfig struct {
	PurgeSpec string `yaml:"purge_spec" env:"PURGE_SPEC"`
	SweepSpec string `yaml:"sweep_spec" env:"SWEEP_SPEC"`
}

// Load reads defaults, then the YAML file, then .env and process environment.
// path falls back to CHARTPILOT_CONFIG.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			GracefulTimeout: 10 * time.Second,
			Reflection:      true,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{Level: "info"},
		Provider: provider.Config{
			Kind:      provider.KindOpenAI,
			Timeout:   60 * time.Second,
			MaxTokens: 1500,
		},
		Quota: QuotaConfig{
			Backend:     QuotaBackendMemory,
			DefaultTier: models.TierFree,
		},
		Cache: CacheConfig{
			ValkeyConfig: cache.ValkeyConfig{
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
				MaxRetries:   2,
			},
		},
		History: repo.HistoryConfig{
			Path:      "data/history.db",
			ListTTL:   time.Minute,
			Retention: 90 * 24 * time.Hour,
		},
		Capture: CaptureConfig{
			Thresholds:      capture.DefaultThresholds(),
			Retry:           capture.DefaultRetryPolicy(),
			SnapshotTimeout: 15 * time.Second,
		},
		Scheduler: SchedulerConfig{
			PurgeSpec: "30 3 * * *",
			SweepSpec: "@hourly",
		},
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Address) == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	switch provider.Kind(strings.ToLower(string(c.Provider.Kind))) {
	case "", provider.KindOpenAI, provider.KindAnthropic, provider.KindGemini:
	default:
		errs = append(errs, fmt.Errorf("provider.kind %q is not supported", c.Provider.Kind))
	}
	if c.Provider.Timeout < 0 {
		errs = append(errs, errors.New("provider.timeout must not be negative"))
	}
	switch c.Quota.Backend {
	case QuotaBackendMemory:
	case QuotaBackendRedis:
		if c.Cache.Addr == "" {
			errs = append(errs, errors.New("quota.backend redis requires cache.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("quota.backend %q must be memory or redis", c.Quota.Backend))
	}
	if !c.Quota.DefaultTier.Valid() {
		errs = append(errs, fmt.Errorf("quota.default_tier %q is not a known tier", c.Quota.DefaultTier))
	}
	for subject, tier := range c.Quota.Subjects {
		if !models.Tier(tier).Valid() {
			errs = append(errs, fmt.Errorf("quota.subjects[%s]: unknown tier %q", subject, tier))
		}
	}
	for feature, tiers := range c.Quota.Limits {
		if !feature.Valid() {
			errs = append(errs, fmt.Errorf("quota.limits: unknown feature %q", feature))
		}
		for tier, l := range tiers {
			if !tier.Valid() {
				errs = append(errs, fmt.Errorf("quota.limits.%s: unknown tier %q", feature, tier))
			}
			if l.Daily < 0 || l.Monthly < 0 {
				errs = append(errs, fmt.Errorf("quota.limits.%s.%s must not be negative", feature, tier))
			}
		}
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, errors.New("cache.enabled requires cache.addr"))
	}
	if strings.TrimSpace(c.History.Path) == "" {
		errs = append(errs, errors.New("history.path is required"))
	}
	if c.Capture.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("capture.retry.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// TierResolver builds the static resolver from the quota section.
func (c *Config) TierResolver() quota.StaticTiers {
	subjects := make(map[string]models.Tier, len(c.Quota.Subjects))
	for subject, tier := range c.Quota.Subjects {
		subjects[subject] = models.Tier(tier)
	}
	return quota.StaticTiers{Default: c.Quota.DefaultTier, Subjects: subjects}
}

// LimitTable merges configured overrides into the defaults.
func (c *Config) LimitTable() quota.LimitTable {
	return quota.DefaultLimits().WithOverrides(c.Quota.Limits)
}
