// Package config loads process configuration from config.yaml and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration.
type Config struct {
	App       AppConfig
	Log       LogConfig
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Monitor   MonitorConfig
	Lookup    LookupConfig
	Sink      SinkConfig
	HTTP      HTTPConfig
	Auth      AuthConfig
	Metrics   MetricsConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type LogConfig struct {
	Level       string
	Development bool
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

type SchedulerConfig struct {
	IdleInterval           time.Duration `mapstructure:"idle_interval"`
	Pacing                 time.Duration
	StoreTimeout           time.Duration `mapstructure:"store_timeout"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
}

type MonitorConfig struct {
	Interval time.Duration
}

type LookupConfig struct {
	Enabled         bool
	BaseURL         string `mapstructure:"base_url"`
	FormPath        string `mapstructure:"form_path"`
	SubmitPath      string `mapstructure:"submit_path"`
	FormField       string `mapstructure:"form_field"`
	PayloadColumn   string `mapstructure:"payload_column"`
	PayloadDigits   int    `mapstructure:"payload_digits"`
	UserAgent       string `mapstructure:"user_agent"`
	Timeout         time.Duration
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type SinkConfig struct {
	Backend     string
	Directory   string
	Compress    bool
	TablePrefix string `mapstructure:"table_prefix"`
	Timeout     time.Duration
}

type HTTPConfig struct {
	Enabled         bool
	Port            int
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// envBindings are keys whose environment names do not follow the
// SCHEDULER_<SECTION>_<KEY> pattern.
var envBindings = map[string][]string{
	"database.url":    {"SCHEDULER_DATABASE_URL", "DATABASE_URL"},
	"auth.jwt_secret": {"SCHEDULER_AUTH_JWT_SECRET", "JWT_SECRET"},
	"log.level":       {"SCHEDULER_LOG_LEVEL", "LOG_LEVEL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rangescan")
	v.SetDefault("app.env", "development")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 2)

	v.SetDefault("scheduler.idle_interval", "30s")
	v.SetDefault("scheduler.pacing", "500ms")
	v.SetDefault("scheduler.store_timeout", "10s")
	v.SetDefault("scheduler.max_consecutive_failures", 10)

	v.SetDefault("monitor.interval", "10s")

	v.SetDefault("lookup.enabled", true)
	v.SetDefault("lookup.base_url", "https://tgsouthernpower.org")
	v.SetDefault("lookup.form_path", "/knowyourusn")
	v.SetDefault("lookup.submit_path", "/getUkscno")
	v.SetDefault("lookup.form_field", "ukscno")
	v.SetDefault("lookup.payload_column", "Mobile")
	v.SetDefault("lookup.payload_digits", 10)
	v.SetDefault("lookup.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("lookup.timeout", "30s")
	v.SetDefault("lookup.max_attempts", 3)
	v.SetDefault("lookup.initial_interval", "1s")
	v.SetDefault("lookup.max_interval", "10s")

	v.SetDefault("sink.backend", "file")
	v.SetDefault("sink.directory", "./results")
	v.SetDefault("sink.compress", false)
	v.SetDefault("sink.table_prefix", "results_")
	v.SetDefault("sink.timeout", "15s")

	v.SetDefault("http.enabled", true)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "30s")

	v.SetDefault("auth.issuer", "rangescan")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "rangescan")
}

// Load reads config.yaml from configPath, ./config or the working directory,
// then applies SCHEDULER_* environment variables. A missing file is fine.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SCHEDULER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks values that would make the process misbehave.
// The database URL is checked by the commands that need it.
func (c *Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"scheduler.idle_interval": c.Scheduler.IdleInterval,
		"scheduler.store_timeout": c.Scheduler.StoreTimeout,
		"monitor.interval":        c.Monitor.Interval,
		"lookup.timeout":          c.Lookup.Timeout,
		"lookup.initial_interval": c.Lookup.InitialInterval,
		"lookup.max_interval":     c.Lookup.MaxInterval,
		"sink.timeout":            c.Sink.Timeout,
		"http.shutdown_timeout":   c.HTTP.ShutdownTimeout,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	if c.Scheduler.Pacing < 0 {
		errs = append(errs, fmt.Errorf("scheduler.pacing must not be negative"))
	}
	if c.Scheduler.MaxConsecutiveFailures < 1 {
		errs = append(errs, fmt.Errorf("scheduler.max_consecutive_failures must be at least 1"))
	}
	if c.Lookup.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("lookup.max_attempts must be at least 1"))
	}
	if c.Lookup.Enabled && c.Lookup.BaseURL == "" {
		errs = append(errs, fmt.Errorf("lookup.base_url is required when lookups are enabled"))
	}
	if c.Lookup.PayloadDigits < 1 {
		errs = append(errs, fmt.Errorf("lookup.payload_digits must be at least 1"))
	}
	switch c.Sink.Backend {
	case "file":
		if c.Sink.Directory == "" {
			errs = append(errs, fmt.Errorf("sink.directory is required for the file backend"))
		}
	case "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown sink.backend %q", c.Sink.Backend))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether the process runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}
