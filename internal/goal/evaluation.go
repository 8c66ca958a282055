package goal

// Evaluation is the immutable result of one CheckStatus call.
type Evaluation struct {
	Goal     Goal
	Status   Status
	Metrics  Metrics
	Severity Severity
}

// NeedsAttention reports whether the goal is at risk or violated.
func (e Evaluation) NeedsAttention() bool {
	return e.Status == StatusAtRisk || e.Status == StatusViolated
}

// CriticalViolation reports a violated goal of critical severity, the only
// condition that aborts a run.
func (e Evaluation) CriticalViolation() bool {
	return e.Status == StatusViolated && e.Severity == SeverityCritical
}

// GoalName returns the evaluated goal's name, or "" when unset.
func (e Evaluation) GoalName() string {
	if e.Goal == nil {
		return ""
	}
	return e.Goal.Name()
}

// Metric keys published by the built-in goals.
const (
	MetricRequiredFilesPerMinute = "required_files_per_minute"
	MetricCurrentFilesPerMinute  = "current_files_per_minute"
	MetricRateGap                = "rate_gap"
	MetricFilesRemaining         = "files_remaining"
	MetricTimeRemainingMinutes   = "time_remaining_minutes"
	MetricPercentComplete        = "percent_complete"
	MetricMinFilesPerMinute      = "min_files_per_minute"
	MetricBelowMinThroughput     = "below_min_throughput"

	MetricDBUtilizationPercent   = "db_utilization_percent"
	MetricActiveConnections      = "active_connections"
	MetricAvailableConnections   = "available_connections"
	MetricSafeMaxConnections     = "safe_max_connections"
	MetricHeapUtilizationPercent = "heap_utilization_percent"
	MetricConnectionPressure     = "connection_pressure"

	MetricTotalErrors          = "total_errors"
	MetricErrorRate            = "error_rate"
	MetricErrorBudgetRemaining = "error_budget_remaining"
	MetricFailedFiles          = "failed_files"
	MetricHasCriticalError     = "has_critical_error"
)

// Metrics is a goal-specific diagnostic map. Accessors tolerate missing keys
// and numeric type differences so strategies never need type assertions.
type Metrics map[string]any

// Float returns the value under key as float64, or 0.
func (m Metrics) Float(key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Int returns the value under key as int64, truncating floats, or 0.
func (m Metrics) Int(key string) int64 {
	switch v := m[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Bool returns the value under key, or false.
func (m Metrics) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}
