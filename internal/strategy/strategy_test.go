package strategy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/choritsu/internal/goal"
	"github.com/ashita-ai/choritsu/internal/strategy"
)

func perfEval(status goal.Status, gap, pct float64) goal.Evaluation {
	return goal.Evaluation{
		Status:  status,
		Metrics: goal.Metrics{goal.MetricRateGap: gap, goal.MetricPercentComplete: pct},
	}
}

func TestPerformance(t *testing.T) {
	tests := []struct {
		name       string
		eval       goal.Evaluation
		workItems  int
		processing int
	}{
		{"violated early", perfEval(goal.StatusViolated, 30, 10), 10, 10},
		{"violated early small gap", perfEval(goal.StatusViolated, 5, 10), 3, 3},
		{"violated midway", perfEval(goal.StatusViolated, 30, 40), 8, 8},
		{"violated late", perfEval(goal.StatusViolated, 9, 70), 3, 3},
		{"violated late capped", perfEval(goal.StatusViolated, 60, 70), 5, 5},
		{"violated ahead of pace", perfEval(goal.StatusViolated, -3, 90), 0, 0},
		{"at risk", perfEval(goal.StatusAtRisk, 7, 50), 3, 3},
		{"at risk capped", perfEval(goal.StatusAtRisk, 40, 50), 5, 5},
		{"met and well ahead", perfEval(goal.StatusMet, -6, 30), 2, 1},
		{"met ahead but late", perfEval(goal.StatusMet, -6, 85), 0, 0},
		{"met on pace", perfEval(goal.StatusMet, -1, 30), 0, 0},
		{"not started", perfEval(goal.StatusNotStarted, 0, 0), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := strategy.Performance{}.RecommendAdjustment(tt.eval)
			assert.Equal(t, tt.workItems, a.WorkItemDelta())
			assert.Equal(t, tt.processing, a.ProcessingDelta())
		})
	}
}

func TestPerformance_ReasonMentionsGap(t *testing.T) {
	a := strategy.Performance{}.RecommendAdjustment(perfEval(goal.StatusViolated, 12.5, 10))
	assert.Contains(t, a.Reason(), "12.50")
}

func resEval(status goal.Status, db, heap float64, pressure bool) goal.Evaluation {
	return goal.Evaluation{
		Status: status,
		Metrics: goal.Metrics{
			goal.MetricDBUtilizationPercent:   db,
			goal.MetricHeapUtilizationPercent: heap,
			goal.MetricConnectionPressure:     pressure,
		},
	}
}

func TestResource(t *testing.T) {
	tests := []struct {
		name string
		eval goal.Evaluation
		want int
	}{
		{"violated severe", resEval(goal.StatusViolated, 97, 50, true), -8},
		{"violated heap", resEval(goal.StatusViolated, 40, 92, false), -5},
		{"violated mild", resEval(goal.StatusViolated, 85, 50, true), -3},
		{"at risk hot", resEval(goal.StatusAtRisk, 89, 50, true), -3},
		{"at risk", resEval(goal.StatusAtRisk, 70, 50, true), -2},
		{"pressure while met", resEval(goal.StatusMet, 70, 20, true), -2},
		{"healthy", resEval(goal.StatusMet, 30, 20, false), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := strategy.Resource{}.RecommendAdjustment(tt.eval)
			assert.Equal(t, tt.want, a.WorkItemDelta())
			assert.Equal(t, tt.want, a.ProcessingDelta())
		})
	}
}

func errEval(status goal.Status, rate float64, critical bool) goal.Evaluation {
	return goal.Evaluation{
		Status: status,
		Metrics: goal.Metrics{
			goal.MetricErrorRate:        rate,
			goal.MetricTotalErrors:      int64(42),
			goal.MetricHasCriticalError: critical,
		},
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		eval goal.Evaluation
		want int
	}{
		{"critical", errEval(goal.StatusViolated, 0.01, true), -20},
		{"critical while met", errEval(goal.StatusMet, 0, true), -20},
		{"violated high rate", errEval(goal.StatusViolated, 0.2, false), -8},
		{"violated medium rate", errEval(goal.StatusViolated, 0.08, false), -5},
		{"violated by count", errEval(goal.StatusViolated, 0.01, false), -3},
		{"at risk high", errEval(goal.StatusAtRisk, 0.06, false), -3},
		{"at risk", errEval(goal.StatusAtRisk, 0.01, false), -2},
		{"met", errEval(goal.StatusMet, 0.001, false), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := strategy.Errors{}.RecommendAdjustment(tt.eval)
			assert.Equal(t, tt.want, a.WorkItemDelta())
			assert.Equal(t, tt.want, a.ProcessingDelta())
		})
	}
}

func TestNoOp(t *testing.T) {
	for _, status := range []goal.Status{goal.StatusViolated, goal.StatusAtRisk, goal.StatusMet} {
		assert.True(t, strategy.NoOp{}.RecommendAdjustment(errEval(status, 1, true)).IsNoChange())
	}
}

func TestFunc(t *testing.T) {
	s := strategy.Func(func(goal.Evaluation) strategy.Adjustment {
		return strategy.Custom(1, 2, "fixed")
	})
	assert.Equal(t, strategy.Custom(1, 2, "fixed"), s.RecommendAdjustment(goal.Evaluation{}))
}

func TestDefault(t *testing.T) {
	assert.IsType(t, strategy.Performance{}, strategy.Default(goal.NewPerformanceGoal(time.Hour, 1, 0.8)))
	assert.IsType(t, strategy.Resource{}, strategy.Default(goal.NewResourceGoal(10, 0.8, 0.8)))
	assert.IsType(t, strategy.Errors{}, strategy.Default(goal.NewErrorGoal(0.1, 10, nil)))
}
