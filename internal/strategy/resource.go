package strategy

import (
	"fmt"

	"github.com/ashita-ai/choritsu/internal/goal"
)

// Resource backs off when database connections or heap run hot.
type Resource struct{}

// RecommendAdjustment implements Strategy.
func (Resource) RecommendAdjustment(e goal.Evaluation) Adjustment {
	db := e.Metrics.Float(goal.MetricDBUtilizationPercent)
	heap := e.Metrics.Float(goal.MetricHeapUtilizationPercent)
	worst := max(db, heap)

	if e.Status == goal.StatusViolated {
		var n int
		switch {
		case worst > 95:
			n = 8
		case worst > 90:
			n = 5
		default:
			n = 3
		}
		return Decrease(n, n, fmt.Sprintf("resource limits exceeded (db: %.1f%%, heap: %.1f%%)", db, heap))
	}

	if e.Status == goal.StatusAtRisk || e.Metrics.Bool(goal.MetricConnectionPressure) {
		n := 2
		if worst > 88 {
			n = 3
		}
		return Decrease(n, n, fmt.Sprintf("resource pressure (db: %.1f%%, heap: %.1f%%)", db, heap))
	}
	return NoChange()
}
