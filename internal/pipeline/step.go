package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/choritsu/internal/concurrency"
	"github.com/ashita-ai/choritsu/internal/control"
	"github.com/ashita-ai/choritsu/internal/engine"
	"github.com/ashita-ai/choritsu/internal/metrics"
	"github.com/ashita-ai/choritsu/internal/model"
	"github.com/ashita-ai/choritsu/internal/sizing"
)

// StepConfig holds the typed collaborators of one step.
type StepConfig[T, R, V any] struct {
	Fetcher   engine.Fetcher[T]
	Reader    engine.Reader[T, R]
	Processor engine.Processor[R, V]
	Tracker   engine.Tracker[T, V] // optional
	BatchSize int                  // executor default when zero

	// EstimatedRecordsPerItem feeds Estimated sizing.
	EstimatedRecordsPerItem int64
	// Sizing, when set, sizes this step on its own regardless of the batch scope.
	Sizing sizing.Strategy
	// RecordCounter is the step's own counter for Dynamic step sizing.
	RecordCounter sizing.RecordCounter
}

// Step is a type-erased pipeline step. Build one with NewStep.
type Step struct {
	name     string
	sizing   sizing.Strategy
	estimate int64
	counter  sizing.RecordCounter

	countItems func(ctx context.Context, ec *model.ExecutionContext) (int, error)
	run        func(ctx context.Context, env stepEnv, ec *model.ExecutionContext) model.ExecutionResult
}

// stepEnv is what the executor hands a step for one run.
type stepEnv struct {
	controller concurrency.Controller
	logger     *slog.Logger
	batchSize  int
	// supervise starts a control loop over the running engine. It returns
	// the context to run the engine with and the func that stops the loop.
	supervise func(ctx context.Context, eng control.Engine, progress metrics.ProgressSource) (context.Context, func(), error)
}

// NewStep builds a step from typed collaborators.
func NewStep[T, R, V any](name string, cfg StepConfig[T, R, V]) (Step, error) {
	if name == "" {
		return Step{}, fmt.Errorf("pipeline: step name is required")
	}
	if cfg.Fetcher == nil || cfg.Reader == nil || cfg.Processor == nil {
		return Step{}, fmt.Errorf("pipeline: step %q needs a fetcher, reader, and processor", name)
	}
	if cfg.Sizing != "" {
		if _, err := sizing.ParseStrategy(string(cfg.Sizing)); err != nil {
			return Step{}, fmt.Errorf("pipeline: step %q: %w", name, err)
		}
	}

	return Step{
		name:     name,
		sizing:   cfg.Sizing,
		estimate: cfg.EstimatedRecordsPerItem,
		counter:  cfg.RecordCounter,
		countItems: func(ctx context.Context, ec *model.ExecutionContext) (int, error) {
			items, err := cfg.Fetcher.Fetch(ctx, ec)
			if err != nil {
				return 0, err
			}
			return len(items), nil
		},
		run: func(ctx context.Context, env stepEnv, ec *model.ExecutionContext) model.ExecutionResult {
			batchSize := cfg.BatchSize
			if batchSize == 0 {
				batchSize = env.batchSize
			}
			eng, err := engine.New(engine.Config[T, R, V]{
				Controller: env.controller,
				Fetcher:    cfg.Fetcher,
				Reader:     cfg.Reader,
				Processor:  cfg.Processor,
				Tracker:    cfg.Tracker,
				BatchSize:  batchSize,
				Logger:     env.logger,
			})
			if err != nil {
				return fatal(env.controller, err)
			}
			ctx, stop, err := env.supervise(ctx, eng, eng)
			if err != nil {
				return fatal(env.controller, err)
			}
			defer stop()
			return eng.Execute(ctx, ec)
		},
	}, nil
}

// fatal shuts down a controller that never ran and reports why.
func fatal(c concurrency.Controller, err error) model.ExecutionResult {
	c.Shutdown()
	now := time.Now()
	return model.ExecutionResult{AbortReason: "Fatal error: " + err.Error(), StartTime: now, EndTime: now}
}

// MustStep is NewStep for static batch definitions; it panics on error.
func MustStep[T, R, V any](name string, cfg StepConfig[T, R, V]) Step {
	s, err := NewStep(name, cfg)
	if err != nil {
		panic(err)
	}
	return s
}

// Name returns the step name.
func (s Step) Name() string { return s.name }

// HasOwnSizing reports whether the step overrides the batch sizing.
func (s Step) HasOwnSizing() bool { return s.sizing != "" }
