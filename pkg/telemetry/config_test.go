package telemetry

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"production is valid", func(c *Config) { *c = *ProductionConfig() }, false},
		{"empty service name", func(c *Config) { c.ServiceName = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger2" }, true},
		{"sampling rate out of range", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, true},
		{"metrics without address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddress = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected valid config, got: %v", err)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	if lvl := parseLogLevel("debug"); lvl != zerolog.DebugLevel {
		t.Errorf("Expected debug level, got %v", lvl)
	}
	if lvl := parseLogLevel("unknown"); lvl != zerolog.InfoLevel {
		t.Errorf("Expected info fallback, got %v", lvl)
	}
}

func TestMetrics_DisabledIsNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	// Must not panic.
	m.RecordDecision("selected", 3, 0)
	m.RecordEvaluation("NOMINAL", 0.8, "")
	m.RecordRunCompleted("SUCCESS", 0)
	m.RecordStepExecuted("SUCCESS", 0)
	m.RecordError("state", "NOT_ACTIVE")
}

func TestMetrics_EnabledRegisters(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Path:          "/metrics",
		Namespace:     "praxon",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	m.RecordDecision("selected", 3, 0)
	m.RecordEvaluation("VETO:intention", 0, "intention")
	if m.Handler() == nil {
		t.Error("Expected a metrics handler")
	}
}
