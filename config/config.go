// Package config loads and validates the Bastion configuration from
// file and environment. Invalid configuration is fatal: the defense
// layer must not initialize with a malformed tier, threshold, or rule
// setup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"bastion/core"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// TierLimit configures the quota for one rate-limit tier.
type TierLimit struct {
	Limit  int           `mapstructure:"limit" validate:"gte=0"`
	Window time.Duration `mapstructure:"window" validate:"gt=0"`
}

// Pressure configures resource-pressure limit reduction.
type Pressure struct {
	Memory          float64 `mapstructure:"memory" validate:"gt=0,lte=1"`
	CPU             float64 `mapstructure:"cpu" validate:"gt=0,lte=1"`
	Connections     float64 `mapstructure:"connections" validate:"gt=0,lte=1"`
	ReductionFactor float64 `mapstructure:"reduction_factor" validate:"gt=0,lte=1"`
}

// RateLimit configures the hierarchical limiter.
type RateLimit struct {
	Tiers    map[string]TierLimit `mapstructure:"tiers" validate:"required,dive"`
	Pressure Pressure             `mapstructure:"pressure"`
	MaxKeys  int                  `mapstructure:"max_keys" validate:"gt=0"`
	IdleTTL  time.Duration        `mapstructure:"idle_ttl" validate:"gt=0"`
}

// Resource configures the runtime resource monitor.
type Resource struct {
	MemoryLimitMB  int           `mapstructure:"memory_limit_mb" validate:"gt=0"`
	SampleInterval time.Duration `mapstructure:"sample_interval" validate:"gt=0"`
	MaxConnections int           `mapstructure:"max_connections" validate:"gte=0"`
}

// Session configures the registry, scorer, and guard.
type Session struct {
	HighRiskThreshold     float64       `mapstructure:"high_risk_threshold" validate:"gt=0,lte=100"`
	MediumRiskThreshold   float64       `mapstructure:"medium_risk_threshold" validate:"gt=0,lte=100"`
	ActivityFreshness     time.Duration `mapstructure:"activity_freshness" validate:"gt=0"`
	MultiplicityThreshold int           `mapstructure:"multiplicity_threshold" validate:"gte=1"`
	RapidCreationCount    int           `mapstructure:"rapid_creation_count" validate:"gte=1"`
	RapidCreationWindow   time.Duration `mapstructure:"rapid_creation_window" validate:"gt=0"`
	Retention             time.Duration `mapstructure:"retention" validate:"gt=0"`
	GCInterval            time.Duration `mapstructure:"gc_interval" validate:"gt=0"`
}

// Correlation configures the event correlator.
type Correlation struct {
	BufferSize   int           `mapstructure:"buffer_size" validate:"gt=0"`
	Window       time.Duration `mapstructure:"window" validate:"gt=0"`
	MaxGroups    int           `mapstructure:"max_groups" validate:"gt=0"`
	GroupTTL     time.Duration `mapstructure:"group_ttl" validate:"gt=0"`
	PatternsFile string        `mapstructure:"patterns_file"`
}

// Compliance configures the evidence generator.
type Compliance struct {
	Frameworks []string `mapstructure:"frameworks"`
}

// Pipeline configures the async event fan-out.
type Pipeline struct {
	QueueSize int `mapstructure:"queue_size" validate:"gt=0"`
}

// Redis configures the optional distributed rate-limit store.
type Redis struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Notify configures alert webhook delivery.
type Notify struct {
	Enabled     bool          `mapstructure:"enabled"`
	WebhookURL  string        `mapstructure:"webhook_url"`
	Method      string        `mapstructure:"method"`
	MinSeverity string        `mapstructure:"min_severity"`
	QueueSize   int           `mapstructure:"queue_size" validate:"gt=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// Storage configures the durable audit trail.
type Storage struct {
	Enabled    bool   `mapstructure:"enabled"`
	SQLitePath string `mapstructure:"sqlite_path"`
	QueueSize  int    `mapstructure:"queue_size" validate:"gt=0"`
}

// API configures the operational HTTP surface.
type API struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gt=0,lte=65535"`
}

// Config is the root configuration.
type Config struct {
	RateLimit   RateLimit   `mapstructure:"rate_limit"`
	Resource    Resource    `mapstructure:"resource"`
	Session     Session     `mapstructure:"session"`
	Correlation Correlation `mapstructure:"correlation"`
	Compliance  Compliance  `mapstructure:"compliance"`
	Pipeline    Pipeline    `mapstructure:"pipeline"`
	Redis       Redis       `mapstructure:"redis"`
	Notify      Notify      `mapstructure:"notify"`
	Storage     Storage     `mapstructure:"storage"`
	API         API         `mapstructure:"api"`
}

// Load reads configuration from bastion.yaml (working directory,
// ./config, or /etc/bastion) and BASTION_* environment variables,
// applies defaults, and validates the result.
func Load() (*Config, error) {
	return loadFrom(viper.GetViper())
}

func loadFrom(v *viper.Viper) (*Config, error) {
	v.SetConfigName("bastion")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/bastion")
	v.SetEnvPrefix("BASTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: read config: %v", core.ErrConfigurationInvalid, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config: %v", core.ErrConfigurationInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rate_limit.tiers.global.limit", 10000)
	v.SetDefault("rate_limit.tiers.global.window", "1s")
	v.SetDefault("rate_limit.tiers.user.limit", 100)
	v.SetDefault("rate_limit.tiers.user.window", "1m")
	v.SetDefault("rate_limit.tiers.component.limit", 1000)
	v.SetDefault("rate_limit.tiers.component.window", "1m")
	v.SetDefault("rate_limit.tiers.endpoint.limit", 300)
	v.SetDefault("rate_limit.tiers.endpoint.window", "1m")
	v.SetDefault("rate_limit.pressure.memory", 0.9)
	v.SetDefault("rate_limit.pressure.cpu", 0.8)
	v.SetDefault("rate_limit.pressure.connections", 0.9)
	v.SetDefault("rate_limit.pressure.reduction_factor", 0.5)
	v.SetDefault("rate_limit.max_keys", 100000)
	v.SetDefault("rate_limit.idle_ttl", "30m")

	v.SetDefault("resource.memory_limit_mb", 1024)
	v.SetDefault("resource.sample_interval", "5s")
	v.SetDefault("resource.max_connections", 1000)

	v.SetDefault("session.high_risk_threshold", 80)
	v.SetDefault("session.medium_risk_threshold", 50)
	v.SetDefault("session.activity_freshness", "5m")
	v.SetDefault("session.multiplicity_threshold", 2)
	v.SetDefault("session.rapid_creation_count", 3)
	v.SetDefault("session.rapid_creation_window", "2m")
	v.SetDefault("session.retention", "24h")
	v.SetDefault("session.gc_interval", "5m")

	v.SetDefault("correlation.buffer_size", 1000)
	v.SetDefault("correlation.window", "15m")
	v.SetDefault("correlation.max_groups", 10000)
	v.SetDefault("correlation.group_ttl", "30m")
	v.SetDefault("correlation.patterns_file", "")

	v.SetDefault("compliance.frameworks", []string{"SOX", "PCI_DSS", "GDPR", "ISO27001"})

	v.SetDefault("pipeline.queue_size", 4096)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.method", "POST")
	v.SetDefault("notify.min_severity", "medium")
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.sqlite_path", "./data/bastion.db")
	v.SetDefault("storage.queue_size", 1024)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8085)
}

// Validate applies struct tag validation plus cross-field checks.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigurationInvalid, err)
	}

	if _, ok := c.RateLimit.Tiers[string(core.TierGlobal)]; !ok {
		return fmt.Errorf("%w: rate_limit.tiers must include %q", core.ErrConfigurationInvalid, core.TierGlobal)
	}
	for name := range c.RateLimit.Tiers {
		if _, ok := core.ParseTier(name); !ok {
			return fmt.Errorf("%w: unknown rate_limit tier %q", core.ErrConfigurationInvalid, name)
		}
	}

	if c.Session.HighRiskThreshold <= c.Session.MediumRiskThreshold {
		return fmt.Errorf("%w: session.high_risk_threshold must exceed medium_risk_threshold", core.ErrConfigurationInvalid)
	}

	for _, name := range c.Compliance.Frameworks {
		if _, ok := core.ParseFramework(name); !ok {
			return fmt.Errorf("%w: unknown compliance framework %q", core.ErrConfigurationInvalid, name)
		}
	}

	if c.Notify.Enabled && c.Notify.WebhookURL == "" {
		return fmt.Errorf("%w: notify.webhook_url is required when notify is enabled", core.ErrConfigurationInvalid)
	}
	if c.Storage.Enabled && c.Storage.SQLitePath == "" {
		return fmt.Errorf("%w: storage.sqlite_path is required when storage is enabled", core.ErrConfigurationInvalid)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required when redis is enabled", core.ErrConfigurationInvalid)
	}
	return nil
}

// Frameworks returns the enabled frameworks as typed values. Validate
// has already established every name parses.
func (c *Config) Frameworks() []core.Framework {
	out := make([]core.Framework, 0, len(c.Compliance.Frameworks))
	for _, name := range c.Compliance.Frameworks {
		f, _ := core.ParseFramework(name)
		out = append(out, f)
	}
	return out
}
