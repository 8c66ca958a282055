package goal

import (
	"time"

	"github.com/ashita-ai/choritsu/internal/metrics"
)

// minRemainingMinutes floors the remaining time used to derive the required
// rate, so the last minute before the deadline never divides by zero.
const minRemainingMinutes = 0.1

// atRiskFactor is the fraction of the required rate below which a run is
// considered violated rather than at risk.
const atRiskFactor = 0.5

// PerformanceGoal tracks whether the run will finish before a deadline
// measured from the goal's construction.
type PerformanceGoal struct {
	state
	maxTotalTime  time.Duration
	minThroughput float64
	tolerance     float64
	start         time.Time
	now           func() time.Time
}

// NewPerformanceGoal returns a goal that is met while the observed
// files-per-minute rate stays within paceTolerance of the rate required to
// finish inside maxTotalTime. minFilesPerMinute is reported for operators but
// does not change the status. Default severity is critical.
func NewPerformanceGoal(maxTotalTime time.Duration, minFilesPerMinute, paceTolerance float64, opts ...Option) *PerformanceGoal {
	o := resolve("performance", SeverityCritical, opts)
	return &PerformanceGoal{
		state:         newState(o),
		maxTotalTime:  maxTotalTime,
		minThroughput: minFilesPerMinute,
		tolerance:     paceTolerance,
		start:         o.now(),
		now:           o.now,
	}
}

// Deadline is the instant the run must finish by.
func (g *PerformanceGoal) Deadline() time.Time { return g.start.Add(g.maxTotalTime) }

// CheckStatus implements Goal.
func (g *PerformanceGoal) CheckStatus(s metrics.Snapshot) Evaluation {
	remaining := g.maxTotalTime - g.now().Sub(g.start)
	p := g.pace(s, remaining)
	return g.record(g, g.evaluate(s, p), p.metrics(g.minThroughput))
}

type pace struct {
	remaining      time.Duration
	filesRemaining int
	required       float64
	current        float64
	percent        float64
}

func (g *PerformanceGoal) pace(s metrics.Snapshot, remaining time.Duration) pace {
	p := pace{
		remaining:      remaining,
		filesRemaining: s.FilesRemaining(),
		current:        s.FilesPerMinute,
		percent:        s.PercentComplete(),
	}
	if p.filesRemaining > 0 {
		p.required = float64(p.filesRemaining) / max(remaining.Minutes(), minRemainingMinutes)
	}
	return p
}

func (g *PerformanceGoal) evaluate(s metrics.Snapshot, p pace) Status {
	if p.remaining < 0 {
		return StatusViolated
	}
	if s.TotalFiles <= 0 {
		return StatusNotStarted
	}
	switch {
	case p.current >= p.required*g.tolerance:
		return StatusMet
	case p.current >= p.required*atRiskFactor:
		return StatusAtRisk
	default:
		return StatusViolated
	}
}

func (p pace) metrics(minThroughput float64) Metrics {
	return Metrics{
		MetricRequiredFilesPerMinute: p.required,
		MetricCurrentFilesPerMinute:  p.current,
		MetricRateGap:                p.required - p.current,
		MetricFilesRemaining:         p.filesRemaining,
		MetricTimeRemainingMinutes:   p.remaining.Minutes(),
		MetricPercentComplete:        p.percent,
		MetricMinFilesPerMinute:      minThroughput,
		MetricBelowMinThroughput:     p.filesRemaining > 0 && p.current < minThroughput,
	}
}
