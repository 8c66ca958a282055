// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	DatabaseURL string // Optional. When set, pool usage feeds sizing and resource goals.
	PolicyFile  string // Optional YAML goal policy.

	LogLevel string

	BatchSize        int
	SaturationPolicy string // "block" or "caller_runs"

	EvalInitialDelay time.Duration
	EvalInterval     time.Duration
	Cooldown         time.Duration

	MinWorkItems  int
	MaxWorkItems  int
	MinProcessing int
	MaxProcessing int

	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool
}

// Load reads configuration from environment variables. Every malformed value
// is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	str := envStr
	integer := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = append(errs, err)
		return v
	}
	duration := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = append(errs, err)
		return v
	}
	boolean := func(key string, def bool) bool {
		v, err := envBool(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := Config{
		DatabaseURL:      str("DATABASE_URL", ""),
		PolicyFile:       str("CHORITSU_POLICY_FILE", ""),
		LogLevel:         str("CHORITSU_LOG_LEVEL", "info"),
		BatchSize:        integer("CHORITSU_BATCH_SIZE", 1000),
		SaturationPolicy: str("CHORITSU_SATURATION_POLICY", "block"),
		EvalInitialDelay: duration("CHORITSU_EVAL_INITIAL_DELAY", time.Minute),
		EvalInterval:     duration("CHORITSU_EVAL_INTERVAL", 5*time.Minute),
		Cooldown:         duration("CHORITSU_COOLDOWN", 10*time.Minute),
		MinWorkItems:     integer("CHORITSU_MIN_WORK_ITEMS", 1),
		MaxWorkItems:     integer("CHORITSU_MAX_WORK_ITEMS", 30),
		MinProcessing:    integer("CHORITSU_MIN_PROCESSING", 1),
		MaxProcessing:    integer("CHORITSU_MAX_PROCESSING", 20),
		OTELEndpoint:     str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:      str("OTEL_SERVICE_NAME", "choritsu"),
		OTELInsecure:     boolean("CHORITSU_OTEL_INSECURE", false),
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("CHORITSU_BATCH_SIZE must be positive"))
	}
	if c.SaturationPolicy != "block" && c.SaturationPolicy != "caller_runs" {
		errs = append(errs, fmt.Errorf("CHORITSU_SATURATION_POLICY must be block or caller_runs, got %q", c.SaturationPolicy))
	}
	if c.EvalInitialDelay <= 0 {
		errs = append(errs, errors.New("CHORITSU_EVAL_INITIAL_DELAY must be positive"))
	}
	if c.EvalInterval <= 0 {
		errs = append(errs, errors.New("CHORITSU_EVAL_INTERVAL must be positive"))
	}
	if c.Cooldown < 0 {
		errs = append(errs, errors.New("CHORITSU_COOLDOWN must not be negative"))
	}
	if c.MinWorkItems < 1 || c.MaxWorkItems < c.MinWorkItems {
		errs = append(errs, fmt.Errorf("work item bounds must satisfy 1 <= min <= max, got [%d, %d]", c.MinWorkItems, c.MaxWorkItems))
	}
	if c.MinProcessing < 1 || c.MaxProcessing < c.MinProcessing {
		errs = append(errs, fmt.Errorf("processing bounds must satisfy 1 <= min <= max, got [%d, %d]", c.MinProcessing, c.MaxProcessing))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c Config) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("CHORITSU_LOG_LEVEL=%q is not a valid level", c.LogLevel)
	}
	return lvl, nil
}

func envStr(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
