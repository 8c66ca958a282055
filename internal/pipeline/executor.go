package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/choritsu/internal/concurrency"
	"github.com/ashita-ai/choritsu/internal/control"
	"github.com/ashita-ai/choritsu/internal/ctxutil"
	"github.com/ashita-ai/choritsu/internal/goal"
	"github.com/ashita-ai/choritsu/internal/metrics"
	"github.com/ashita-ai/choritsu/internal/model"
	"github.com/ashita-ai/choritsu/internal/sizing"
	"github.com/ashita-ai/choritsu/internal/telemetry"
)

const (
	rationaleStatic   = "STATIC sizing - using configured minimums"
	rationaleFallback = "Error during workload analysis - using minimum concurrency"
)

var tracer = telemetry.Tracer("choritsu/pipeline")

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(x *Executor) { x.logger = logger }
}

// WithConnections attaches database pool usage to sizing and to the
// resource goal's snapshots. storage.PoolStats satisfies it.
func WithConnections(c sizing.ConnectionCapacity) Option {
	return func(x *Executor) { x.conns = c }
}

// WithHeapGauge overrides the runtime heap gauge.
func WithHeapGauge(g metrics.HeapGauge) Option {
	return func(x *Executor) { x.heap = g }
}

// WithEvaluation sets when the control loop first runs and how often after.
func WithEvaluation(initialDelay, interval time.Duration) Option {
	return func(x *Executor) { x.initialDelay, x.interval = initialDelay, interval }
}

// WithCooldown sets the runtime manager cooldown.
func WithCooldown(d time.Duration) Option {
	return func(x *Executor) { x.cooldown = d }
}

// WithBatchSize sets the records per processor call for steps that leave
// StepConfig.BatchSize zero.
func WithBatchSize(n int) Option {
	return func(x *Executor) { x.batchSize = n }
}

// WithSaturationPolicy sets the backpressure policy of every step's pools.
func WithSaturationPolicy(p concurrency.SaturationPolicy) Option {
	return func(x *Executor) { x.saturation = p }
}

// Executor runs batches. It holds no per-batch state and may run several
// batches concurrently.
type Executor struct {
	logger       *slog.Logger
	conns        sizing.ConnectionCapacity
	heap         metrics.HeapGauge
	initialDelay time.Duration
	interval     time.Duration
	cooldown     time.Duration
	saturation   concurrency.SaturationPolicy
	batchSize    int
	monitor      *sizing.Monitor
}

// NewExecutor returns an executor with control.DefaultInitialDelay,
// control.DefaultInterval, and control.DefaultCooldown unless overridden.
func NewExecutor(opts ...Option) *Executor {
	x := &Executor{
		logger:       slog.Default(),
		heap:         metrics.RuntimeHeap{},
		initialDelay: control.DefaultInitialDelay,
		interval:     control.DefaultInterval,
		cooldown:     control.DefaultCooldown,
		saturation:   concurrency.Block,
	}
	for _, opt := range opts {
		opt(x)
	}
	x.monitor = sizing.NewMonitor(x.conns, x.heap)
	return x
}

// Execute runs the batch's steps in order. A failed step stops the batch.
func (x *Executor) Execute(ctx context.Context, b *Batch, ec *model.ExecutionContext) Result {
	start := time.Now()
	if err := b.Validate(); err != nil {
		return Result{Batch: b.Name, Aborted: true, AbortReason: err.Error(), StartTime: start, EndTime: time.Now()}
	}
	batch := b.withDefaults()
	logger := x.logger.With("batch", batch.Name)

	ctx, span := tracer.Start(ctx, "pipeline.execute")
	defer span.End()
	span.SetAttributes(attribute.String("batch", batch.Name), attribute.Int("steps", len(batch.Steps)))

	logger.Info("pipeline: starting batch", "steps", len(batch.Steps), "sizing", batch.Sizing, "scope", batch.Scope)
	if batch.BeforeBatch != nil {
		batch.BeforeBatch(ctx)
	}

	res := Result{Batch: batch.Name, StartTime: start}

	var batchInitial sizing.Initial
	if batch.Scope == BatchLevel {
		first := batch.Steps[0]
		batchInitial = x.size(ctx, &batch, batch.Sizing, first, batch.RecordCounter, ec, logger)
		logger.Info("pipeline: batch-level sizing", "rationale", batchInitial.Rationale)
	}

	for _, step := range batch.Steps {
		if err := ctx.Err(); err != nil {
			res.Aborted = true
			res.AbortReason = "context canceled: " + context.Cause(ctx).Error()
			break
		}

		initial := batchInitial
		if batch.Scope == StepLevel || step.HasOwnSizing() {
			st, counter := batch.Sizing, batch.RecordCounter
			if step.HasOwnSizing() {
				st, counter = step.sizing, step.counter
			}
			initial = x.size(ctx, &batch, st, step, counter, ec, logger)
		}
		logger.Info("pipeline: step sizing", "step", step.name, "rationale", initial.Rationale)

		sr := x.runStep(ctx, &batch, step, initial, ec, logger)
		res.Steps = append(res.Steps, sr)

		if sr.ShouldAbort() {
			logger.Error("pipeline: step failed, aborting batch", "step", sr.Name, "reason", sr.AbortReason)
			res.Aborted = true
			res.AbortReason = "step failed: " + sr.Name
			break
		}
	}

	res.Success = !res.Aborted
	for _, s := range res.Steps {
		if !s.Success {
			res.Success = false
		}
	}
	res.EndTime = time.Now()

	if !res.Success {
		span.SetStatus(codes.Error, res.AbortReason)
	}
	logger.Info("pipeline: batch finished",
		"success", res.Success,
		"abort_reason", res.AbortReason,
		"work_items", res.TotalItems(),
		"records", res.TotalRecords(),
		"duration", res.Duration(),
	)

	if batch.AfterBatch != nil {
		batch.AfterBatch(res)
	}
	return res
}

// size computes a step's starting concurrency. Any analysis failure falls
// back to the minimums.
func (x *Executor) size(ctx context.Context, b *Batch, st sizing.Strategy, step Step, counter sizing.RecordCounter, ec *model.ExecutionContext, logger *slog.Logger) sizing.Initial {
	if st == sizing.Static {
		return b.Limits.Minimum(rationaleStatic)
	}

	var (
		items int
		res   sizing.Resources
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := step.countItems(gctx, ec)
		if err != nil {
			return fmt.Errorf("fetch work items: %w", err)
		}
		items = n
		return nil
	})
	g.Go(func() error {
		res = x.monitor.Snapshot()
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("pipeline: workload analysis failed, using minimum concurrency", "step", step.name, "error", err)
		return b.Limits.Minimum(rationaleFallback)
	}

	analysis, err := sizing.Analyze(ctx, st, items, step.estimate, counter, ec)
	if err != nil {
		logger.Error("pipeline: workload analysis failed, using minimum concurrency", "step", step.name, "error", err)
		return b.Limits.Minimum(rationaleFallback)
	}

	initial := b.Calculator.Calculate(analysis, b.Limits, res)
	clamped := b.Limits.Bounds().Clamp(control.Dials{WorkItems: initial.WorkItems, Processing: initial.Processing})
	initial.WorkItems, initial.Processing = clamped.WorkItems, clamped.Processing
	return initial
}

func (x *Executor) runStep(ctx context.Context, b *Batch, step Step, initial sizing.Initial, ec *model.ExecutionContext, logger *slog.Logger) StepResult {
	ctx, span := tracer.Start(ctx, "pipeline.step")
	defer span.End()
	span.SetAttributes(
		attribute.String("step", step.name),
		attribute.Int("work_items.initial", initial.WorkItems),
		attribute.Int("processing.initial", initial.Processing),
	)
	ctx = ctxutil.WithStep(ctx, step.name)
	logger = logger.With("step", step.name)

	if b.BeforeStep != nil {
		b.BeforeStep(StepResult{Name: step.name, Initial: initial, StartTime: time.Now()})
	}

	start := time.Now()
	var exec model.ExecutionResult
	controller, err := concurrency.NewPoolController(initial.WorkItems, initial.Processing,
		concurrency.WithSaturationPolicy(x.saturation),
		concurrency.WithLogger(logger),
	)
	if err != nil {
		now := time.Now()
		exec = model.ExecutionResult{AbortReason: "Fatal error: " + err.Error(), StartTime: now, EndTime: now}
	} else {
		exec = step.run(ctx, stepEnv{
			controller: controller,
			logger:     logger,
			batchSize:  x.batchSize,
			supervise: func(ctx context.Context, eng control.Engine, progress metrics.ProgressSource) (context.Context, func(), error) {
				return x.supervise(ctx, b, eng, progress, logger)
			},
		}, ec)
	}

	sr := StepResult{
		Name:             step.name,
		RunID:            exec.RunID,
		Success:          exec.Success,
		AbortReason:      exec.AbortReason,
		ItemsProcessed:   exec.WorkItemsProcessed,
		RecordsProcessed: exec.RecordsProcessed,
		Errors:           exec.TotalErrors,
		Initial:          initial,
		StartTime:        start,
		EndTime:          time.Now(),
	}
	if !sr.Success {
		span.SetStatus(codes.Error, sr.AbortReason)
	}

	if b.AfterStep != nil {
		b.AfterStep(sr)
	}
	return sr
}

// supervise wires a collector, manager, and loop over one running engine.
// Without a goal factory the step runs unsupervised.
func (x *Executor) supervise(ctx context.Context, b *Batch, eng control.Engine, progress metrics.ProgressSource, logger *slog.Logger) (context.Context, func(), error) {
	opts := []metrics.CollectorOption{metrics.WithHeapGauge(x.heap), metrics.WithLogger(logger)}
	if x.conns != nil {
		opts = append(opts, metrics.WithConnectionGauge(x.conns))
	}
	collector := metrics.NewCollector(progress, opts...)
	ctx = ctxutil.WithCriticalErrorRecorder(ctx, collector)

	if b.Goals == nil {
		logger.Debug("pipeline: no goals, running unsupervised")
		return ctx, func() {}, nil
	}

	goals, strategies, err := b.Goals.Build(goal.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("build goals: %w", err)
	}
	manager, err := control.NewManager(eng, goals, strategies,
		control.WithBounds(b.Limits.Bounds()),
		control.WithCooldown(x.cooldown),
		control.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create runtime manager: %w", err)
	}

	loop := control.NewLoop(manager, collector, x.initialDelay, x.interval, logger)
	loop.Start(ctx)
	return ctx, loop.Stop, nil
}
