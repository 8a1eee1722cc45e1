package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/sessioncore/errors"
)

// Config is the complete session core configuration. Zero values are
// filled in from Default() before validation, so a partial YAML file
// only needs to name what it changes.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	NATS       NATSConfig       `yaml:"nats"`
	Router     RouterConfig     `yaml:"router"`
	Connection ConnectionConfig `yaml:"connection"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// InstanceConfig identifies this deployment.
type InstanceConfig struct {
	ID          string `yaml:"id"`
	Environment string `yaml:"environment"` // "prod", "dev", "test"
}

// NATSConfig defines the optional NATS connection used for log and
// event streaming. Empty URL disables publishing entirely.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Token         string        `yaml:"token"`
}

// OverflowPolicy selects queue behavior when the router queue is full.
type OverflowPolicy string

const (
	// OverflowRejectNew rejects the incoming message with a queue-full
	// error. This is the default.
	OverflowRejectNew OverflowPolicy = "reject_new"
	// OverflowDropOldest evicts the oldest message at the same or lower
	// priority to admit the new one.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
)

// RouterConfig controls the message router queue and worker pool.
type RouterConfig struct {
	QueueCapacity  int            `yaml:"queue_capacity"`
	Workers        int            `yaml:"workers"`
	HandlerTimeout time.Duration  `yaml:"handler_timeout"`
	OverflowPolicy OverflowPolicy `yaml:"overflow_policy"`
	StopTimeout    time.Duration  `yaml:"stop_timeout"`

	// Per-client rate limiting. Zero rate disables limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig bounds inbound messages per client.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// ReconnectionConfig controls the exponential backoff schedule for
// automatic reconnection.
type ReconnectionConfig struct {
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	Multiplier     float64       `yaml:"multiplier"`
	JitterFraction float64       `yaml:"jitter_fraction"`
}

// HeartbeatConfig controls liveness tracking per client.
type HeartbeatConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MissesMax  int           `yaml:"misses_max"`
	CheckEvery time.Duration `yaml:"check_every"`
}

// ConnectionConfig controls the connection manager.
type ConnectionConfig struct {
	Reconnection ReconnectionConfig `yaml:"reconnection"`
	Heartbeat    HeartbeatConfig    `yaml:"heartbeat"`

	// OfflineFallback moves a client to offline mode instead of failed
	// when reconnection attempts run out, keeping the outbox and cached
	// snapshots usable.
	OfflineFallback bool `yaml:"offline_fallback"`

	OutboxCapacity int           `yaml:"outbox_capacity"`
	SnapshotTTL    time.Duration `yaml:"snapshot_ttl"`
	HistoryLimit   int           `yaml:"history_limit"`
}

// OptimizerConfig controls the response optimizer cache.
type OptimizerConfig struct {
	Capacity         int           `yaml:"capacity"`
	SpeedFirstTTL    time.Duration `yaml:"speed_first_ttl"`
	BalancedTTL      time.Duration `yaml:"balanced_ttl"`
	QualityFirstTTL  time.Duration `yaml:"quality_first_ttl"`
	GenerateTimeout  time.Duration `yaml:"generate_timeout"`
	RefreshAheadFrac float64       `yaml:"refresh_ahead_frac"`
}

// GeneratorConfig controls the upstream completion service client.
type GeneratorConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Instance: InstanceConfig{
			ID:          "sessioncore",
			Environment: "dev",
		},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Router: RouterConfig{
			QueueCapacity:  1000,
			Workers:        4,
			HandlerTimeout: 30 * time.Second,
			OverflowPolicy: OverflowRejectNew,
			StopTimeout:    10 * time.Second,
			RateLimit: RateLimitConfig{
				PerSecond: 20,
				Burst:     40,
			},
		},
		Connection: ConnectionConfig{
			Reconnection: ReconnectionConfig{
				BaseDelay:      200 * time.Millisecond,
				MaxDelay:       5 * time.Second,
				MaxAttempts:    10,
				Multiplier:     2.0,
				JitterFraction: 0.1,
			},
			Heartbeat: HeartbeatConfig{
				Interval:   15 * time.Second,
				MissesMax:  3,
				CheckEvery: 5 * time.Second,
			},
			OutboxCapacity: 500,
			SnapshotTTL:    5 * time.Minute,
			HistoryLimit:   50,
		},
		Optimizer: OptimizerConfig{
			Capacity:         2048,
			SpeedFirstTTL:    10 * time.Minute,
			BalancedTTL:      5 * time.Minute,
			QualityFirstTTL:  1 * time.Minute,
			GenerateTimeout:  30 * time.Second,
			RefreshAheadFrac: 0.8,
		},
		Generator: GeneratorConfig{
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// Load reads YAML from path over the defaults and validates the
// result. Environment overrides (SESSIONCORE_*) apply last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Config", "Load", "read "+path)
		}

		// Duration fields take "200ms"/"5s" style strings.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse "+path)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides for the
// values that differ per deployment or are secrets.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SESSIONCORE_INSTANCE_ID"); v != "" {
		cfg.Instance.ID = v
	}
	if v := os.Getenv("SESSIONCORE_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("SESSIONCORE_NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}
	if v := os.Getenv("SESSIONCORE_GENERATOR_BASE_URL"); v != "" {
		cfg.Generator.BaseURL = v
	}
	if v := os.Getenv("SESSIONCORE_GENERATOR_API_KEY"); v != "" {
		cfg.Generator.APIKey = v
	}
	if v := os.Getenv("SESSIONCORE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

// Validate checks cross-field invariants. It normalizes nothing; bad
// values are errors, not warnings.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return invalid("instance.id is required")
	}

	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := c.Connection.Validate(); err != nil {
		return fmt.Errorf("connection: %w", err)
	}
	if err := c.Optimizer.Validate(); err != nil {
		return fmt.Errorf("optimizer: %w", err)
	}
	if err := c.Generator.Validate(); err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	return nil
}

// Validate checks router queue and worker settings.
func (r RouterConfig) Validate() error {
	if r.QueueCapacity <= 0 {
		return invalid("queue_capacity must be positive")
	}
	if r.Workers <= 0 {
		return invalid("workers must be positive")
	}
	if r.HandlerTimeout <= 0 {
		return invalid("handler_timeout must be positive")
	}
	switch r.OverflowPolicy {
	case OverflowRejectNew, OverflowDropOldest:
	default:
		return invalid(fmt.Sprintf("unknown overflow_policy %q", r.OverflowPolicy))
	}
	if r.RateLimit.PerSecond < 0 {
		return invalid("rate_limit.per_second cannot be negative")
	}
	if r.RateLimit.PerSecond > 0 && r.RateLimit.Burst <= 0 {
		return invalid("rate_limit.burst must be positive when rate limiting is enabled")
	}
	return nil
}

// Validate checks reconnection, heartbeat, and outbox settings.
func (c ConnectionConfig) Validate() error {
	r := c.Reconnection
	if r.BaseDelay <= 0 {
		return invalid("reconnection.base_delay must be positive")
	}
	if r.MaxDelay < r.BaseDelay {
		return invalid("reconnection.max_delay must be >= base_delay")
	}
	if r.Multiplier < 1 {
		return invalid("reconnection.multiplier must be >= 1")
	}
	if r.JitterFraction < 0 || r.JitterFraction >= 1 {
		return invalid("reconnection.jitter_fraction must be in [0, 1)")
	}
	if c.Heartbeat.Interval <= 0 {
		return invalid("heartbeat.interval must be positive")
	}
	if c.Heartbeat.MissesMax <= 0 {
		return invalid("heartbeat.misses_max must be positive")
	}
	if c.OutboxCapacity <= 0 {
		return invalid("outbox_capacity must be positive")
	}
	if c.SnapshotTTL <= 0 {
		return invalid("snapshot_ttl must be positive")
	}
	return nil
}

// Validate checks cache sizing and TTLs.
func (o OptimizerConfig) Validate() error {
	if o.Capacity <= 0 {
		return invalid("capacity must be positive")
	}
	for name, ttl := range map[string]time.Duration{
		"speed_first_ttl":   o.SpeedFirstTTL,
		"balanced_ttl":      o.BalancedTTL,
		"quality_first_ttl": o.QualityFirstTTL,
	} {
		if ttl <= 0 {
			return invalid(name + " must be positive")
		}
	}
	if o.GenerateTimeout <= 0 {
		return invalid("generate_timeout must be positive")
	}
	if o.RefreshAheadFrac <= 0 || o.RefreshAheadFrac > 1 {
		return invalid("refresh_ahead_frac must be in (0, 1]")
	}
	return nil
}

// Validate checks upstream client settings. BaseURL may be empty, in
// which case chat requests are answered by the optimizer's fallback
// generator.
func (g GeneratorConfig) Validate() error {
	if g.BaseURL != "" && !strings.HasPrefix(g.BaseURL, "http") {
		return invalid("base_url must be an http(s) URL")
	}
	if g.Timeout <= 0 {
		return invalid("timeout must be positive")
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
}
