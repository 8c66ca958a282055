package choritsu_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/choritsu"
	"github.com/ashita-ai/choritsu/internal/goal"
	"github.com/ashita-ai/choritsu/internal/strategy"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

// isolateEnv keeps the developer's environment out of config loading.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CHORITSU_POLICY_FILE", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

func newApp(t *testing.T, opts ...choritsu.Option) *choritsu.App {
	t.Helper()
	isolateEnv(t)
	opts = append([]choritsu.Option{
		choritsu.WithLogger(testLogger),
		choritsu.WithEvaluationInterval(time.Millisecond, time.Millisecond),
		choritsu.WithCooldown(0),
	}, opts...)
	app, err := choritsu.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func lettersStep(t *testing.T, n int, delay time.Duration) choritsu.Step {
	t.Helper()
	step, err := choritsu.NewStep("letters", choritsu.StepConfig[int, string, int]{
		Fetcher: choritsu.FetcherFunc[int](func(context.Context, *choritsu.ExecutionContext) ([]int, error) {
			out := make([]int, n)
			for i := range out {
				out[i] = i
			}
			return out, nil
		}),
		Reader: choritsu.ReaderFunc[int, string](func(ctx context.Context, item int, _ *choritsu.ExecutionContext) ([]string, error) {
			time.Sleep(delay)
			return []string{"a", "bb", "ccc"}, nil
		}),
		Processor: choritsu.ProcessorFunc[string, int](func(_ context.Context, batch []string, _ *choritsu.ExecutionContext) ([]choritsu.ProcessingResult[int], error) {
			out := make([]choritsu.ProcessingResult[int], len(batch))
			for i, s := range batch {
				out[i] = choritsu.Success(len(s))
			}
			return out, nil
		}),
	})
	require.NoError(t, err)
	return step
}

func TestRun_Unsupervised(t *testing.T) {
	app := newApp(t, choritsu.WithVersion("1.2.3"))
	assert.Equal(t, "1.2.3", app.Version())
	assert.False(t, app.HasDatabase())

	res := app.Run(context.Background(), &choritsu.Batch{
		Name:  "letters",
		Steps: []choritsu.Step{lettersStep(t, 5, 0)},
	}, nil)

	assert.True(t, res.Success, res.AbortReason)
	assert.Equal(t, 5, res.TotalItems())
	assert.Equal(t, int64(15), res.TotalRecords())
	require.Len(t, res.Steps, 1)
	assert.NotEqual(t, uuid.Nil, res.Steps[0].RunID)
}

func TestRun_AppLimitsApplyToStaticSizing(t *testing.T) {
	app := newApp(t, choritsu.WithLimits(choritsu.Limits{
		MinWorkItems: 3, MaxWorkItems: 6, MinProcessing: 2, MaxProcessing: 4,
	}))

	res := app.Run(context.Background(), &choritsu.Batch{
		Name:  "letters",
		Steps: []choritsu.Step{lettersStep(t, 2, 0)},
	}, nil)

	require.True(t, res.Success, res.AbortReason)
	assert.Equal(t, 3, res.Steps[0].Initial.WorkItems)
	assert.Equal(t, 2, res.Steps[0].Initial.Processing)
}

func TestRun_DefaultGoalsFromPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
goals:
  - type: performance
    name: deadline
    max_total_time: 1ns
    pace_tolerance: 0.8
`), 0o600))
	app := newApp(t, choritsu.WithPolicyFile(path))

	res := app.Run(context.Background(), &choritsu.Batch{
		Name:  "slow",
		Steps: []choritsu.Step{lettersStep(t, 50, 20*time.Millisecond)},
	}, nil)

	assert.False(t, res.Success)
	assert.True(t, res.Aborted)
	assert.Equal(t, "step failed: letters", res.AbortReason)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, "Critical goal violations detected: deadline", res.Steps[0].AbortReason)
	assert.Less(t, res.Steps[0].ItemsProcessed, 50)
}

func TestRun_BatchGoalsOverrideAppGoals(t *testing.T) {
	var appBuilds, batchBuilds atomic.Int32
	app := newApp(t, choritsu.WithGoals(choritsu.GoalFactoryFunc(func(...goal.Option) ([]goal.Goal, map[goal.Goal]strategy.Strategy, error) {
		appBuilds.Add(1)
		return nil, nil, nil
	})))

	res := app.Run(context.Background(), &choritsu.Batch{
		Name:  "letters",
		Steps: []choritsu.Step{lettersStep(t, 3, 0)},
		Goals: choritsu.GoalFactoryFunc(func(opts ...goal.Option) ([]goal.Goal, map[goal.Goal]strategy.Strategy, error) {
			batchBuilds.Add(1)
			g := goal.NewErrorGoal(0.5, 100, nil, opts...)
			return []goal.Goal{g}, map[goal.Goal]strategy.Strategy{g: strategy.Errors{}}, nil
		}),
	}, nil)

	assert.True(t, res.Success, res.AbortReason)
	assert.Zero(t, appBuilds.Load())
	assert.Equal(t, int32(1), batchBuilds.Load())
}

func TestRun_CriticalErrorFromProcessor(t *testing.T) {
	app := newApp(t, choritsu.WithGoals(choritsu.GoalFactoryFunc(func(opts ...goal.Option) ([]goal.Goal, map[goal.Goal]strategy.Strategy, error) {
		opts = append(opts, goal.WithSeverity(goal.SeverityCritical))
		g := goal.NewErrorGoal(1, 1_000_000, []string{"auth_revoked"}, opts...)
		return []goal.Goal{g}, nil, nil
	})))

	var sawRunID atomic.Bool
	step, err := choritsu.NewStep("sync", choritsu.StepConfig[int, int, int]{
		Fetcher: choritsu.FetcherFunc[int](func(context.Context, *choritsu.ExecutionContext) ([]int, error) {
			return make([]int, 100), nil
		}),
		Reader: choritsu.ReaderFunc[int, int](func(ctx context.Context, item int, _ *choritsu.ExecutionContext) ([]int, error) {
			time.Sleep(10 * time.Millisecond)
			return []int{item}, nil
		}),
		Processor: choritsu.ProcessorFunc[int, int](func(ctx context.Context, batch []int, _ *choritsu.ExecutionContext) ([]choritsu.ProcessingResult[int], error) {
			if choritsu.RunID(ctx) != uuid.Nil && choritsu.StepName(ctx) == "sync" {
				sawRunID.Store(true)
			}
			choritsu.RecordCriticalError(ctx, "auth_revoked")
			return []choritsu.ProcessingResult[int]{choritsu.Failure[int](errors.New("token revoked"))}, nil
		}),
	})
	require.NoError(t, err)

	res := app.Run(context.Background(), &choritsu.Batch{Name: "sync", Steps: []choritsu.Step{step}}, nil)

	assert.False(t, res.Success)
	require.Len(t, res.Steps, 1)
	assert.True(t, strings.HasPrefix(res.Steps[0].AbortReason, "Critical goal violations detected: "), res.Steps[0].AbortReason)
	assert.True(t, sawRunID.Load())
}

func TestRun_AfterClose(t *testing.T) {
	app := newApp(t)
	require.NoError(t, app.Close(context.Background()))
	require.NoError(t, app.Close(context.Background()))

	res := app.Run(context.Background(), &choritsu.Batch{Name: "late", Steps: []choritsu.Step{lettersStep(t, 1, 0)}}, nil)
	assert.True(t, res.Aborted)
	assert.Equal(t, "choritsu: app is closed", res.AbortReason)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		opts    []choritsu.Option
		wantErr string
	}{
		{
			name:    "missing policy file",
			opts:    []choritsu.Option{choritsu.WithPolicyFile(filepath.Join(t.TempDir(), "absent.yaml"))},
			wantErr: "policy: read",
		},
		{
			name:    "inverted limits",
			opts:    []choritsu.Option{choritsu.WithLimits(choritsu.Limits{MinWorkItems: 5, MaxWorkItems: 1, MinProcessing: 1, MaxProcessing: 1})},
			wantErr: "limits",
		},
		{
			name:    "unknown saturation policy",
			opts:    []choritsu.Option{choritsu.WithSaturationPolicy("drop")},
			wantErr: "CHORITSU_SATURATION_POLICY",
		},
		{
			name:    "unparseable database url",
			opts:    []choritsu.Option{choritsu.WithDatabaseURL("postgres://%zz")},
			wantErr: "storage",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			_, err := choritsu.New(append(tt.opts, choritsu.WithLogger(testLogger))...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewCopyProcessor_NoDatabase(t *testing.T) {
	app := newApp(t)
	_, err := choritsu.NewCopyProcessor(app, "lines", []string{"text"}, func(s string) ([]any, error) {
		return []any{s}, nil
	})
	assert.ErrorIs(t, err, choritsu.ErrNoDatabase)
}

func TestParseSizingStrategy(t *testing.T) {
	st, err := choritsu.ParseSizingStrategy(" Dynamic ")
	require.NoError(t, err)
	assert.Equal(t, choritsu.Dynamic, st)

	_, err = choritsu.ParseSizingStrategy("psychic")
	assert.Error(t, err)
}

func TestContextHelpersOutsideRun(t *testing.T) {
	ctx := context.Background()
	assert.False(t, choritsu.RecordCriticalError(ctx, "anything"))
	assert.Equal(t, uuid.Nil, choritsu.RunID(ctx))
	assert.Empty(t, choritsu.StepName(ctx))
}
