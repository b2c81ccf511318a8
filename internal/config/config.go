// Package config loads runtime settings from a YAML file and DURABLE_*
// environment variables.
//
// Precedence, lowest first: Default(), the YAML file, the environment.
// Command-line flags are applied on top by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend kinds.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds every setting of a durable process.
type Config struct {
	// Backend selects the queue store: sqlite, postgres or memory.
	Backend string `yaml:"backend"`

	// Database is the SQLite file path.
	Database string `yaml:"database"`

	// PostgresDSN is the connection URL used when Backend is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`

	// PollInterval bounds how long a loop sleeps without a change
	// notification.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxSteps is the step quota per instance; 0 disables it.
	MaxSteps int `yaml:"max_steps"`

	Retry RetryConfig `yaml:"retry"`
	Log   LogConfig   `yaml:"log"`

	// MetricsAddr is the listen address of the /metrics endpoint served by
	// "durable run". Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

// RetryConfig mirrors engine.RetryPolicy.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Backend:      BackendSQLite,
		Database:     "durable.db",
		PollInterval: 500 * time.Millisecond,
		MaxSteps:     1000,
		Retry: RetryConfig{
			MaxAttempts:     5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     time.Minute,
			Multiplier:      2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load returns Default() overlaid with the YAML file at path (if path is
// not empty) and then with the process environment. The result is
// validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Decode parses YAML into cfg. Keys absent from data keep cfg's values;
// unknown keys are rejected.
func Decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "max_step:"
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg from DURABLE_* variables read through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	get := func(name string) (string, bool) {
		v := strings.TrimSpace(getenv(name))
		return v, v != ""
	}

	if v, ok := get("DURABLE_BACKEND"); ok {
		cfg.Backend = v
	}
	if v, ok := get("DURABLE_DB"); ok {
		cfg.Database = v
	}
	if v, ok := get("DURABLE_POSTGRES_DSN"); ok {
		cfg.PostgresDSN = v
	}
	if v, ok := get("DURABLE_METRICS_ADDR"); ok {
		cfg.MetricsAddr = v
	}
	if v, ok := get("DURABLE_LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := get("DURABLE_LOG_FORMAT"); ok {
		cfg.Log.Format = v
	}
	if v, ok := get("DURABLE_POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DURABLE_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	if v, ok := get("DURABLE_MAX_STEPS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DURABLE_MAX_STEPS: %w", err)
		}
		cfg.MaxSteps = n
	}
	if v, ok := get("DURABLE_RETRY_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DURABLE_RETRY_MAX_ATTEMPTS: %w", err)
		}
		cfg.Retry.MaxAttempts = n
	}
	return nil
}

// Validate checks that required fields are present and valid.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
		if c.Database == "" {
			return fmt.Errorf("database is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("backend %q: must be one of sqlite, postgres, memory", c.Backend)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("max_steps must not be negative")
	}
	if c.Retry.InitialInterval < 0 || c.Retry.MaxInterval < 0 {
		return fmt.Errorf("retry intervals must not be negative")
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q: must be one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q: must be text or json", c.Log.Format)
	}
	return nil
}
