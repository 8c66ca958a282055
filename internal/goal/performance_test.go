package goal_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/ashita-ai/choritsu/internal/goal"
	"github.com/ashita-ai/choritsu/internal/metrics"
)

func TestPerformanceGoal_Statuses(t *testing.T) {
	// 60 minutes left, 800 files left: required 13.33 files/min.
	tests := []struct {
		name string
		rate float64
		want goal.Status
	}{
		{"on pace", 14, goal.StatusMet},
		{"within tolerance", 11, goal.StatusMet},
		{"behind", 10, goal.StatusAtRisk},
		{"far behind", 6, goal.StatusViolated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClock()
			g := goal.NewPerformanceGoal(2*time.Hour, 15, 0.8, goal.WithClock(c.Now), goal.WithLogger(testLogger))
			c.advance(time.Hour)

			ev := g.CheckStatus(metrics.Snapshot{FilesProcessed: 200, TotalFiles: 1000, FilesPerMinute: tt.rate})
			assert.Equal(t, tt.want, ev.Status)
			assert.Equal(t, goal.SeverityCritical, ev.Severity)
		})
	}
}

func TestPerformanceGoal_Metrics(t *testing.T) {
	c := newClock()
	g := goal.NewPerformanceGoal(2*time.Hour, 15, 0.8, goal.WithClock(c.Now))
	c.advance(time.Hour)

	ev := g.CheckStatus(metrics.Snapshot{FilesProcessed: 400, TotalFiles: 1000, FilesPerMinute: 4})
	assert.InDelta(t, 10.0, ev.Metrics.Float(goal.MetricRequiredFilesPerMinute), 1e-9)
	assert.InDelta(t, 4.0, ev.Metrics.Float(goal.MetricCurrentFilesPerMinute), 1e-9)
	assert.InDelta(t, 6.0, ev.Metrics.Float(goal.MetricRateGap), 1e-9)
	assert.Equal(t, int64(600), ev.Metrics.Int(goal.MetricFilesRemaining))
	assert.InDelta(t, 60.0, ev.Metrics.Float(goal.MetricTimeRemainingMinutes), 1e-9)
	assert.InDelta(t, 40.0, ev.Metrics.Float(goal.MetricPercentComplete), 1e-9)
	assert.True(t, ev.Metrics.Bool(goal.MetricBelowMinThroughput))
}

func TestPerformanceGoal_NotStartedWithoutTotal(t *testing.T) {
	g := goal.NewPerformanceGoal(time.Hour, 10, 0.8)
	ev := g.CheckStatus(metrics.Snapshot{})
	assert.Equal(t, goal.StatusNotStarted, ev.Status)
}

func TestPerformanceGoal_SubMinuteRemainingIsFinite(t *testing.T) {
	c := newClock()
	g := goal.NewPerformanceGoal(time.Hour, 0, 0.8, goal.WithClock(c.Now))
	c.advance(time.Hour - 3*time.Second)

	ev := g.CheckStatus(metrics.Snapshot{FilesProcessed: 99, TotalFiles: 100, FilesPerMinute: 20})
	required := ev.Metrics.Float(goal.MetricRequiredFilesPerMinute)
	assert.InDelta(t, 10.0, required, 1e-9, "one file over the 0.1 minute floor")
	assert.Equal(t, goal.StatusMet, ev.Status)
}

func TestPerformanceGoal_NothingRemainingIsMet(t *testing.T) {
	c := newClock()
	g := goal.NewPerformanceGoal(time.Hour, 10, 0.8, goal.WithClock(c.Now))
	c.advance(59 * time.Minute)

	ev := g.CheckStatus(metrics.Snapshot{FilesProcessed: 100, TotalFiles: 100})
	assert.Equal(t, goal.StatusMet, ev.Status)
	assert.Zero(t, ev.Metrics.Float(goal.MetricRequiredFilesPerMinute))
}

func TestPerformanceGoal_DeadlineMissedIsAlwaysViolated(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := newClock()
		g := goal.NewPerformanceGoal(time.Hour, 10, 0.8, goal.WithClock(c.Now))
		c.advance(time.Hour + time.Duration(rapid.Int64Range(1, int64(48*time.Hour)).Draw(t, "overrun")))

		total := rapid.IntRange(0, 10_000).Draw(t, "total")
		s := metrics.Snapshot{
			FilesProcessed: rapid.IntRange(0, total).Draw(t, "processed"),
			TotalFiles:     total,
			FilesPerMinute: rapid.Float64Range(0, 1e6).Draw(t, "rate"),
		}
		if got := g.CheckStatus(s).Status; got != goal.StatusViolated {
			t.Fatalf("expected violated past deadline, got %s", got)
		}
	})
}

func TestPerformanceGoal_Deadline(t *testing.T) {
	c := newClock()
	g := goal.NewPerformanceGoal(90*time.Minute, 10, 0.8, goal.WithClock(c.Now))
	assert.Equal(t, c.now.Add(90*time.Minute), g.Deadline())
}
