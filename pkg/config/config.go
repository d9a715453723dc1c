// Package config provides configuration loading for praxon. Values come
// from hardcoded defaults, overridden by a YAML file, overridden by
// PRAXON_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/praxon/praxon/pkg/telemetry"
)

const envPrefix = "PRAXON_"

// Config is the praxon engine configuration.
type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Journal   JournalConfig   `koanf:"journal"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// StoreConfig configures the knowledge store.
type StoreConfig struct {
	// Name identifies the store instance.
	Name string `koanf:"name"`

	// Path is the JSON document the store loads from and saves to. Empty
	// means an in-memory store.
	Path string `koanf:"path"`

	// Watch enables hot reload when the document changes on disk.
	Watch bool `koanf:"watch"`
}

// JournalConfig configures the durable journal.
type JournalConfig struct {
	// Enabled turns the SQLite journal on.
	Enabled bool `koanf:"enabled"`

	// Path is the SQLite database file.
	Path string `koanf:"path"`
}

// ExecutorConfig configures plan execution.
type ExecutorConfig struct {
	// StepTimeout bounds each plan step.
	StepTimeout time.Duration `koanf:"step_timeout"`

	// DryRun makes every execution skip the actuator.
	DryRun bool `koanf:"dry_run"`
}

// TelemetryConfig configures logging, tracing, and metrics.
type TelemetryConfig struct {
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
	Environment    string  `koanf:"environment"`
	LogLevel       string  `koanf:"log_level"`
	LogFormat      string  `koanf:"log_format"`
	TracingEnabled bool    `koanf:"tracing_enabled"`
	TraceExporter  string  `koanf:"trace_exporter"`
	TraceEndpoint  string  `koanf:"trace_endpoint"`
	SamplingRate   float64 `koanf:"sampling_rate"`
	MetricsEnabled bool    `koanf:"metrics_enabled"`
	MetricsAddress string  `koanf:"metrics_address"`
}

// Default returns the default configuration.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	return &Config{
		Store: StoreConfig{
			Name: "praxon",
		},
		Journal: JournalConfig{
			Path: "praxon.db",
		},
		Executor: ExecutorConfig{
			StepTimeout: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    tel.ServiceName,
			ServiceVersion: tel.ServiceVersion,
			Environment:    tel.Environment,
			LogLevel:       tel.Logging.Level,
			LogFormat:      tel.Logging.Format,
			TraceExporter:  tel.Tracing.Exporter,
			SamplingRate:   tel.Tracing.SamplingRate,
			MetricsAddress: tel.Metrics.ListenAddress,
		},
	}
}

// Load reads configuration from the YAML file at path (skipped when the
// file does not exist or path is empty) and from PRAXON_ environment
// variables, layered over the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	// PRAXON_STORE_PATH -> store.path, PRAXON_EXECUTOR_STEP_TIMEOUT ->
	// executor.step_timeout. The first underscore separates the section;
	// the rest stay in the field name.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Store.Watch && c.Store.Path == "" {
		return fmt.Errorf("store watch requires a store path")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal path is required when the journal is enabled")
	}
	if c.Executor.StepTimeout < 0 {
		return fmt.Errorf("step timeout must not be negative")
	}
	return c.TelemetryConfig().Validate()
}

// TelemetryConfig expands the flat telemetry section into the telemetry
// package's configuration.
func (c *Config) TelemetryConfig() *telemetry.Config {
	tel := telemetry.DefaultConfig()
	tel.ServiceName = c.Telemetry.ServiceName
	tel.ServiceVersion = c.Telemetry.ServiceVersion
	tel.Environment = c.Telemetry.Environment
	tel.Logging.Level = c.Telemetry.LogLevel
	tel.Logging.Format = c.Telemetry.LogFormat
	tel.Tracing.Enabled = c.Telemetry.TracingEnabled
	tel.Tracing.Exporter = c.Telemetry.TraceExporter
	tel.Tracing.Endpoint = c.Telemetry.TraceEndpoint
	tel.Tracing.SamplingRate = c.Telemetry.SamplingRate
	tel.Metrics.Enabled = c.Telemetry.MetricsEnabled
	tel.Metrics.ListenAddress = c.Telemetry.MetricsAddress
	return tel
}
