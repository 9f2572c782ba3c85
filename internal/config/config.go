// Package config loads caging-cli settings from config.yaml, CAGING_*
// environment variables, and defaults, and configures the global logger.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the top-level configuration.
type Config struct {
	Env        string           `yaml:"env" mapstructure:"env"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Requeue    RequeueConfig    `yaml:"requeue" mapstructure:"requeue"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig selects the backing database. For sqlite, DatabaseURL is a
// file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// TemporalConfig points the dispatcher and worker at a Temporal frontend.
type TemporalConfig struct {
	HostPort            string `yaml:"host_port" mapstructure:"host_port"`
	Namespace           string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue           string `yaml:"task_queue" mapstructure:"task_queue"`
	ActivityTimeoutSecs int    `yaml:"activity_timeout_secs" mapstructure:"activity_timeout_secs"`
	MaxAttempts         int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// ActivityTimeout returns the activity start-to-close timeout.
func (c TemporalConfig) ActivityTimeout() time.Duration {
	return time.Duration(c.ActivityTimeoutSecs) * time.Second
}

type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// RequeueConfig paces bulk re-dispatch of queued donors.
type RequeueConfig struct {
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Concurrency int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// RetryConfig tunes retries of database connects and workflow dispatch.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// MonitoringConfig configures the queue backlog checker that runs inside
// serve. Zero thresholds disable the matching alert.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MaxQueueDepth       int     `yaml:"max_queue_depth" mapstructure:"max_queue_depth"`
	MaxQueueAgeMins     int     `yaml:"max_queue_age_mins" mapstructure:"max_queue_age_mins"`
	CageRateThreshold   float64 `yaml:"cage_rate_threshold" mapstructure:"cage_rate_threshold"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml in the working directory and
// CAGING_* environment variables, on top of defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CAGING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "DEV")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "donor-caging")
	v.SetDefault("temporal.activity_timeout_secs", 60)
	v.SetDefault("temporal.max_attempts", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("requeue.rate_per_sec", 10.0)
	v.SetDefault("requeue.concurrency", 4)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.max_queue_depth", 500)
	v.SetDefault("monitoring.max_queue_age_mins", 60)
	v.SetDefault("monitoring.cage_rate_threshold", 0.25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be postgres or sqlite", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "migrate", "categorize":
	case "import":
		if c.Store.Driver != "postgres" {
			errs = append(errs, "import requires store.driver postgres")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		errs = append(errs, c.Temporal.validate()...)
		if c.Monitoring.Enabled && c.Monitoring.LookbackWindowHours <= 0 {
			errs = append(errs, "monitoring.lookback_window_hours must be > 0")
		}
	case "status":
	case "worker":
		errs = append(errs, c.Temporal.validate()...)
		if c.Temporal.ActivityTimeoutSecs <= 0 {
			errs = append(errs, "temporal.activity_timeout_secs must be > 0")
		}
		if c.Temporal.MaxAttempts <= 0 {
			errs = append(errs, "temporal.max_attempts must be > 0")
		}
	case "requeue":
		errs = append(errs, c.Temporal.validate()...)
		if c.Requeue.RatePerSec <= 0 {
			errs = append(errs, "requeue.rate_per_sec must be > 0")
		}
		if c.Requeue.Concurrency < 1 || c.Requeue.Concurrency > 64 {
			errs = append(errs, "requeue.concurrency must be between 1 and 64")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c TemporalConfig) validate() []string {
	var errs []string
	if c.HostPort == "" {
		errs = append(errs, "temporal.host_port is required")
	}
	if c.TaskQueue == "" {
		errs = append(errs, "temporal.task_queue is required")
	}
	return errs
}

// InitLogger replaces the global zap logger according to cfg.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
