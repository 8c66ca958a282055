package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DURATION", "90s")
	v, err := envDuration("TEST_DURATION", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 90*time.Second {
		t.Fatalf("expected 90s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DURATION_BAD", "soon")
	_, err := envDuration("TEST_DURATION_BAD", time.Second)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DURATION_BAD="soon" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.BatchSize != 1000 {
		t.Fatalf("expected default batch size 1000, got %d", cfg.BatchSize)
	}
	if cfg.EvalInitialDelay != time.Minute || cfg.EvalInterval != 5*time.Minute || cfg.Cooldown != 10*time.Minute {
		t.Fatalf("unexpected evaluation defaults: %s/%s/%s", cfg.EvalInitialDelay, cfg.EvalInterval, cfg.Cooldown)
	}
	if cfg.MaxWorkItems != 30 || cfg.MaxProcessing != 20 {
		t.Fatalf("unexpected bound defaults: %d/%d", cfg.MaxWorkItems, cfg.MaxProcessing)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("database should be optional, got %q", cfg.DatabaseURL)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("CHORITSU_COOLDOWN", "30s")
	t.Setenv("CHORITSU_MAX_WORK_ITEMS", "8")
	t.Setenv("CHORITSU_SATURATION_POLICY", "caller_runs")
	t.Setenv("CHORITSU_LOG_LEVEL", "DEBUG")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cooldown != 30*time.Second || cfg.MaxWorkItems != 8 || cfg.SaturationPolicy != "caller_runs" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	lvl, err := cfg.SlogLevel()
	if err != nil || lvl != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v (%v)", lvl, err)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("CHORITSU_BATCH_SIZE", "abc")
	t.Setenv("CHORITSU_EVAL_INTERVAL", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "CHORITSU_BATCH_SIZE") {
		t.Fatalf("error should mention CHORITSU_BATCH_SIZE, got: %s", got)
	}
	if !strings.Contains(got, "CHORITSU_EVAL_INTERVAL") {
		t.Fatalf("error should mention CHORITSU_EVAL_INTERVAL, got: %s", got)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"batch size", func(c *Config) { c.BatchSize = 0 }, "CHORITSU_BATCH_SIZE"},
		{"saturation", func(c *Config) { c.SaturationPolicy = "drop" }, "CHORITSU_SATURATION_POLICY"},
		{"interval", func(c *Config) { c.EvalInterval = 0 }, "CHORITSU_EVAL_INTERVAL"},
		{"cooldown", func(c *Config) { c.Cooldown = -time.Second }, "CHORITSU_COOLDOWN"},
		{"work item bounds", func(c *Config) { c.MinWorkItems, c.MaxWorkItems = 5, 4 }, "work item bounds"},
		{"processing bounds", func(c *Config) { c.MinProcessing = 0 }, "processing bounds"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "CHORITSU_LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error should mention %s, got: %s", tt.want, err)
			}
		})
	}
}
