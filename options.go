package choritsu

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds every override after applying options.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	logger           *slog.Logger
	version          string
	databaseURL      string
	policyFile       string
	goals            GoalFactory
	evalInitialDelay time.Duration
	evalInterval     time.Duration
	cooldown         *time.Duration
	limits           *Limits
	saturation       SaturationPolicy
}

// WithLogger sets the structured logger for the App.
// If not set, a text logger at CHORITSU_LOG_LEVEL is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version reported in logs and telemetry resources.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
// With a database, pool usage caps initial sizing and feeds resource goals.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithPolicyFile loads default goals from a YAML policy (CHORITSU_POLICY_FILE env var).
func WithPolicyFile(path string) Option {
	return func(o *resolvedOptions) { o.policyFile = path }
}

// WithGoals sets the default goals for batches that declare none.
// It takes precedence over a policy file.
func WithGoals(f GoalFactory) Option {
	return func(o *resolvedOptions) { o.goals = f }
}

// WithEvaluationInterval sets when the control loop first evaluates goals and
// how often after that.
func WithEvaluationInterval(initialDelay, interval time.Duration) Option {
	return func(o *resolvedOptions) { o.evalInitialDelay, o.evalInterval = initialDelay, interval }
}

// WithCooldown sets the minimum time between concurrency adjustments.
func WithCooldown(d time.Duration) Option {
	return func(o *resolvedOptions) { o.cooldown = &d }
}

// WithLimits sets the default concurrency bounds for batches that declare none.
func WithLimits(l Limits) Option {
	return func(o *resolvedOptions) { o.limits = &l }
}

// WithSaturationPolicy sets what a submitter does when every worker is busy.
func WithSaturationPolicy(p SaturationPolicy) Option {
	return func(o *resolvedOptions) { o.saturation = p }
}
