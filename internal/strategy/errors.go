package strategy

import (
	"fmt"

	"github.com/ashita-ai/choritsu/internal/goal"
)

// criticalBackoff is large enough to pin both dials to their floor.
const criticalBackoff = 20

// Errors backs off as the error rate climbs and drops to the floor on a
// critical error type.
type Errors struct{}

// RecommendAdjustment implements Strategy.
func (Errors) RecommendAdjustment(e goal.Evaluation) Adjustment {
	rate := e.Metrics.Float(goal.MetricErrorRate)
	total := e.Metrics.Int(goal.MetricTotalErrors)

	if e.Metrics.Bool(goal.MetricHasCriticalError) {
		return Decrease(criticalBackoff, criticalBackoff, "critical error detected")
	}

	switch e.Status {
	case goal.StatusViolated:
		var n int
		switch {
		case rate > 0.10:
			n = 8
		case rate > 0.07:
			n = 5
		default:
			n = 3
		}
		return Decrease(n, n, fmt.Sprintf("error threshold exceeded (rate: %.4f, total: %d)", rate, total))
	case goal.StatusAtRisk:
		n := 2
		if rate > 0.05 {
			n = 3
		}
		return Decrease(n, n, fmt.Sprintf("error rate increasing (rate: %.4f, total: %d)", rate, total))
	}
	return NoChange()
}
