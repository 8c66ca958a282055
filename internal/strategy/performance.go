package strategy

import (
	"fmt"
	"math"

	"github.com/ashita-ai/choritsu/internal/goal"
)

// Performance raises concurrency when a deadline goal falls behind pace,
// harder early in the run when there is still time to catch up.
type Performance struct{}

// RecommendAdjustment implements Strategy.
func (Performance) RecommendAdjustment(e goal.Evaluation) Adjustment {
	gap := e.Metrics.Float(goal.MetricRateGap)
	pct := e.Metrics.Float(goal.MetricPercentComplete)

	switch e.Status {
	case goal.StatusViolated:
		n := aggressiveIncrease(gap, pct)
		if n <= 0 {
			return NoChange()
		}
		return Increase(n, n, fmt.Sprintf("falling behind pace (gap: %.2f files/min)", gap))
	case goal.StatusAtRisk:
		n := moderateIncrease(gap)
		if n <= 0 {
			return NoChange()
		}
		return Increase(n, n, fmt.Sprintf("at risk of falling behind (gap: %.2f files/min)", gap))
	case goal.StatusMet:
		if pct < 80 && gap < -5 {
			return Increase(2, 1, "building buffer while ahead")
		}
	}
	return NoChange()
}

func aggressiveIncrease(gap, pct float64) int {
	switch {
	case pct < 25:
		return min(10, ceilDiv(gap, 2))
	case pct < 50:
		return min(8, ceilDiv(gap, 2))
	default:
		return min(5, ceilDiv(gap, 3))
	}
}

func moderateIncrease(gap float64) int {
	return min(5, ceilDiv(gap, 3))
}

func ceilDiv(x, d float64) int {
	return int(math.Ceil(x / d))
}
