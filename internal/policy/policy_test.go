package policy_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/choritsu/internal/goal"
	"github.com/ashita-ai/choritsu/internal/policy"
	"github.com/ashita-ai/choritsu/internal/strategy"
)

func TestLoad(t *testing.T) {
	p, err := policy.Load(filepath.Join("testdata", "nightly.yaml"))
	require.NoError(t, err)
	require.Len(t, p.Goals, 3)

	perf := p.Goals[0]
	assert.Equal(t, policy.TypePerformance, perf.Type)
	assert.Equal(t, 2*time.Hour, perf.MaxTotalTime)
	assert.InDelta(t, 15.0, perf.MinThroughput, 1e-9)

	errs := p.Goals[2]
	assert.Equal(t, []string{"schema_mismatch", "auth_revoked"}, errs.CriticalTypes)
	assert.Equal(t, int64(200), errs.MinSampleRecords)
	assert.Equal(t, policy.StrategyNoOp, errs.Strategy)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := policy.Load(filepath.Join("testdata", "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy: read")
}

func TestBuild(t *testing.T) {
	p, err := policy.Load(filepath.Join("testdata", "nightly.yaml"))
	require.NoError(t, err)

	goals, strategies, err := p.Build()
	require.NoError(t, err)
	require.Len(t, goals, 3)
	require.Len(t, strategies, 3)

	assert.Equal(t, "nightly-sla", goals[0].Name())
	assert.Equal(t, goal.SeverityHigh, goals[0].Severity())
	assert.IsType(t, &goal.PerformanceGoal{}, goals[0])
	assert.Equal(t, strategy.Performance{}, strategies[goals[0]])

	assert.Equal(t, "resource", goals[1].Name())
	assert.IsType(t, &goal.ResourceGoal{}, goals[1])
	assert.Equal(t, strategy.Resource{}, strategies[goals[1]])

	assert.Equal(t, goal.SeverityCritical, goals[2].Severity())
	assert.Equal(t, strategy.NoOp{}, strategies[goals[2]])
	eg, ok := goals[2].(*goal.ErrorGoal)
	require.True(t, ok)
	assert.Equal(t, []string{"schema_mismatch", "auth_revoked"}, eg.CriticalTypes())
}

func TestBuild_FreshGoalsEveryCall(t *testing.T) {
	p, err := policy.Parse([]byte(`
goals:
  - type: resource
    max_db_utilization: 0.9
    max_heap_utilization: 0.9
`))
	require.NoError(t, err)

	a, _, err := p.Build()
	require.NoError(t, err)
	b, _, err := p.Build()
	require.NoError(t, err)
	assert.NotSame(t, a[0], b[0])
}

func TestBuild_GoalNameOverridesBaseOptions(t *testing.T) {
	p, err := policy.Parse([]byte(`
goals:
  - type: errors
    name: ingest-errors
    max_error_rate: 0.1
`))
	require.NoError(t, err)

	goals, _, err := p.Build(goal.WithName("ignored"), goal.WithSeverity(goal.SeverityLow))
	require.NoError(t, err)
	assert.Equal(t, "ingest-errors", goals[0].Name())
	assert.Equal(t, goal.SeverityLow, goals[0].Severity())
}

func TestParse_Empty(t *testing.T) {
	p, err := policy.Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, p.Goals)

	goals, strategies, err := p.Build()
	require.NoError(t, err)
	assert.Empty(t, goals)
	assert.Empty(t, strategies)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown type",
			yaml:    "goals:\n  - type: latency\n",
			wantErr: "unknown goal type",
		},
		{
			name:    "unknown key",
			yaml:    "goals:\n  - type: errors\n    max_error_rate: 0.1\n    max_warnings: 3\n",
			wantErr: "policy: decode",
		},
		{
			name:    "missing deadline",
			yaml:    "goals:\n  - type: performance\n    pace_tolerance: 0.8\n",
			wantErr: "max_total_time must be positive",
		},
		{
			name:    "tolerance out of range",
			yaml:    "goals:\n  - type: performance\n    max_total_time: 1h\n    pace_tolerance: 1.5\n",
			wantErr: "pace_tolerance must be in (0, 1]",
		},
		{
			name:    "utilization out of range",
			yaml:    "goals:\n  - type: resource\n    max_db_utilization: 0\n    max_heap_utilization: 0.8\n",
			wantErr: "max_db_utilization must be in (0, 1]",
		},
		{
			name:    "negative error budget",
			yaml:    "goals:\n  - type: errors\n    max_error_rate: 0.1\n    max_total_errors: -1\n",
			wantErr: "max_total_errors must not be negative",
		},
		{
			name:    "bad severity",
			yaml:    "goals:\n  - type: errors\n    max_error_rate: 0.1\n    severity: urgent\n",
			wantErr: "unknown severity",
		},
		{
			name:    "bad strategy",
			yaml:    "goals:\n  - type: errors\n    max_error_rate: 0.1\n    strategy: double\n",
			wantErr: "unknown strategy",
		},
		{
			name:    "bad duration",
			yaml:    "goals:\n  - type: performance\n    max_total_time: soon\n    pace_tolerance: 0.8\n",
			wantErr: "policy: decode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := policy.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_UnknownGoalIsSentinel(t *testing.T) {
	_, err := policy.Parse([]byte("goals:\n  - type: latency\n"))
	assert.ErrorIs(t, err, policy.ErrUnknownGoal)

	_, err = policy.Parse([]byte("goals:\n  - type: errors\n    max_error_rate: 0.1\n    strategy: double\n"))
	assert.ErrorIs(t, err, policy.ErrUnknownStrategy)
}

func TestParse_CollectsEveryProblem(t *testing.T) {
	_, err := policy.Parse([]byte(`
goals:
  - type: performance
  - type: resource
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "goal 0 (performance)")
	assert.Contains(t, err.Error(), "goal 1 (resource)")
}
