package goal

import (
	"slices"

	"github.com/ashita-ai/choritsu/internal/metrics"
)

const (
	// errorRiskFactor is the fraction of an error budget at which the goal
	// turns at risk.
	errorRiskFactor = 0.7

	defaultMinSampleRecords = 100
)

// ErrorGoal bounds the number and rate of record errors and treats any
// occurrence of a critical error type as a violation.
type ErrorGoal struct {
	state
	maxErrorRate   float64
	maxTotalErrors int64
	criticalTypes  []string
	minSample      int64
}

// NewErrorGoal returns an error goal. A non-positive maxErrorRate disables
// the rate checks. Default severity is high.
func NewErrorGoal(maxErrorRate float64, maxTotalErrors int64, criticalTypes []string, opts ...Option) *ErrorGoal {
	o := resolve("errors", SeverityHigh, opts)
	return &ErrorGoal{
		state:          newState(o),
		maxErrorRate:   maxErrorRate,
		maxTotalErrors: maxTotalErrors,
		criticalTypes:  slices.Clone(criticalTypes),
		minSample:      o.minSampleRecords,
	}
}

// CriticalTypes returns a copy of the configured critical error types.
func (g *ErrorGoal) CriticalTypes() []string { return slices.Clone(g.criticalTypes) }

// CheckStatus implements Goal.
func (g *ErrorGoal) CheckStatus(s metrics.Snapshot) Evaluation {
	critical := s.HasCriticalError(g.criticalTypes)
	rate := float64(s.TotalErrors) / float64(max(1, s.RecordsProcessed))
	judgeRate := g.maxErrorRate > 0 && s.RecordsProcessed >= g.minSample

	status := StatusMet
	switch {
	case critical:
		status = StatusViolated
	case s.TotalErrors > g.maxTotalErrors:
		status = StatusViolated
	case judgeRate && rate > g.maxErrorRate:
		status = StatusViolated
	case float64(s.TotalErrors) > float64(g.maxTotalErrors)*errorRiskFactor:
		status = StatusAtRisk
	case judgeRate && rate > g.maxErrorRate*errorRiskFactor:
		status = StatusAtRisk
	}

	return g.record(g, status, Metrics{
		MetricTotalErrors:          s.TotalErrors,
		MetricErrorRate:            rate,
		MetricErrorBudgetRemaining: g.maxTotalErrors - s.TotalErrors,
		MetricFailedFiles:          s.FailedFiles,
		MetricHasCriticalError:     critical,
	})
}
