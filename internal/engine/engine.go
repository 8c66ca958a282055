// Package engine runs a batch: it fetches work items, expands each into
// records, and processes the records in fixed-size batches on the two pools
// of a concurrency.Controller.
//
// An Engine is single-use. Execute shuts its controller down on every path,
// so a second run needs a new Engine and a new Controller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ashita-ai/choritsu/internal/concurrency"
	"github.com/ashita-ai/choritsu/internal/ctxutil"
	"github.com/ashita-ai/choritsu/internal/metrics"
	"github.com/ashita-ai/choritsu/internal/model"
	"github.com/ashita-ai/choritsu/internal/telemetry"
)

const (
	// DefaultBatchSize is used when Config.BatchSize is zero.
	DefaultBatchSize = 1000

	// progressEvery is how many completed items pass between ReportProgress calls.
	progressEvery = 10

	fatalPrefix = "Fatal error: "
)

// ErrAlreadyExecuted is reported when Execute is called on a used engine.
var ErrAlreadyExecuted = errors.New("engine: already executed")

var tracer = telemetry.Tracer("choritsu/engine")

// Config wires an Engine to its controller and collaborators.
type Config[T, R, V any] struct {
	Controller concurrency.Controller
	Fetcher    Fetcher[T]
	Reader     Reader[T, R]
	Processor  Processor[R, V]
	Tracker    Tracker[T, V] // optional; NopTracker when nil
	BatchSize  int           // records per Processor call; DefaultBatchSize when zero
	Logger     *slog.Logger
}

// Engine executes one batch run.
type Engine[T, R, V any] struct {
	controller concurrency.Controller
	fetcher    Fetcher[T]
	reader     Reader[T, R]
	processor  Processor[R, V]
	tracker    Tracker[T, V]
	batchSize  int
	logger     *slog.Logger
	skipLog    rate.Sometimes

	executed  atomic.Bool
	startedAt atomic.Int64 // unix nanos
	total     atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	records   atomic.Int64
	errors    atomic.Int64
	abort     atomic.Pointer[string]
}

// New validates cfg and returns a ready Engine.
func New[T, R, V any](cfg Config[T, R, V]) (*Engine[T, R, V], error) {
	switch {
	case cfg.Controller == nil:
		return nil, fmt.Errorf("engine: controller is required")
	case cfg.Fetcher == nil:
		return nil, fmt.Errorf("engine: fetcher is required")
	case cfg.Reader == nil:
		return nil, fmt.Errorf("engine: reader is required")
	case cfg.Processor == nil:
		return nil, fmt.Errorf("engine: processor is required")
	case cfg.BatchSize < 0:
		return nil, fmt.Errorf("engine: batch size must not be negative, got %d", cfg.BatchSize)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NopTracker[T, V]{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine[T, R, V]{
		controller: cfg.Controller,
		fetcher:    cfg.Fetcher,
		reader:     cfg.Reader,
		processor:  cfg.Processor,
		tracker:    cfg.Tracker,
		batchSize:  cfg.BatchSize,
		logger:     cfg.Logger,
		skipLog:    rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}, nil
}

// Execute runs the batch to completion and returns its result. It blocks
// until every submitted work item has finished. Cancelling ctx aborts the run
// the same way Abort does.
func (e *Engine[T, R, V]) Execute(ctx context.Context, ec *model.ExecutionContext) model.ExecutionResult {
	if !e.executed.CompareAndSwap(false, true) {
		now := time.Now()
		return model.ExecutionResult{AbortReason: ErrAlreadyExecuted.Error(), StartTime: now, EndTime: now}
	}

	runID := uuid.New()
	start := time.Now()
	e.startedAt.Store(start.UnixNano())
	logger := e.logger.With("run_id", runID)

	ctx = ctxutil.WithRunID(ctx, runID)
	ctx, span := tracer.Start(ctx, "engine.execute", trace.WithAttributes(attribute.String("run_id", runID.String())))
	defer span.End()

	stop := context.AfterFunc(ctx, func() {
		e.Abort("context canceled: " + context.Cause(ctx).Error())
	})
	defer stop()

	unregister := e.registerMetrics(logger)
	defer unregister()

	fatal := e.run(ctx, ec, logger)
	e.controller.Shutdown()

	result := e.buildResult(runID, start, fatal)
	span.SetAttributes(
		attribute.Int("work_items.total", result.TotalWorkItems),
		attribute.Int("work_items.processed", result.WorkItemsProcessed),
		attribute.Int64("records", result.RecordsProcessed),
		attribute.Int64("errors", result.TotalErrors),
	)
	if !result.Success {
		span.SetStatus(codes.Error, result.AbortReason)
	}

	if fatal != nil {
		logger.Error("engine: run failed", "error", fatal)
	} else {
		logger.Info("engine: run finished",
			"success", result.Success,
			"abort_reason", result.AbortReason,
			"work_items", result.WorkItemsProcessed,
			"total_work_items", result.TotalWorkItems,
			"records", result.RecordsProcessed,
			"errors", result.TotalErrors,
			"duration", result.Duration(),
		)
	}

	e.tracker.OnComplete(result)
	return result
}

// run performs fetch, fan-out, and join. A non-nil return is fatal.
func (e *Engine[T, R, V]) run(ctx context.Context, ec *model.ExecutionContext, logger *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	items, err := e.fetcher.Fetch(ctx, ec)
	if err != nil {
		return fmt.Errorf("fetch work items: %w", err)
	}
	e.total.Store(int64(len(items)))
	e.tracker.OnStart(len(items))
	if len(items) == 0 {
		logger.Info("engine: no work items")
		return nil
	}

	settings := e.controller.CurrentSettings()
	logger.Info("engine: starting run",
		"work_items", len(items),
		"batch_size", e.batchSize,
		"work_item_concurrency", settings.WorkItems,
		"processing_concurrency", settings.Processing,
	)

	var g errgroup.Group
	for _, item := range items {
		f := e.controller.SubmitWorkItem(func() {
			e.processWorkItem(ctx, item, ec, logger)
		})
		g.Go(f.Wait)
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("work item task: %w", err)
	}
	return nil
}

func (e *Engine[T, R, V]) processWorkItem(ctx context.Context, item T, ec *model.ExecutionContext, logger *slog.Logger) {
	if e.ShouldAbort() {
		e.skipLog.Do(func() {
			logger.Info("engine: abort signaled, skipping remaining work items", "reason", e.abortReason())
		})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.failWorkItem(item, fmt.Errorf("panic: %v", r), logger)
		}
	}()

	e.tracker.OnWorkItemStart(item)
	records, err := e.reader.Read(ctx, item, ec)
	if err != nil {
		e.failWorkItem(item, fmt.Errorf("read work item: %w", err), logger)
		return
	}

	results := make([]model.ProcessingResult[V], 0, len(records))
	for lo := 0; lo < len(records); lo += e.batchSize {
		if e.ShouldAbort() {
			logger.Debug("engine: abort signaled, keeping partial results", "item", item, "records_done", len(results))
			break
		}
		hi := min(lo+e.batchSize, len(records))
		out, err := e.processBatch(ctx, records[lo:hi], ec)
		if err != nil {
			e.failWorkItem(item, err, logger)
			return
		}
		results = append(results, out...)
	}

	e.records.Add(int64(len(results)))
	if n := model.CountFailures(results); n > 0 {
		e.errors.Add(int64(n))
	}
	e.tracker.OnWorkItemComplete(item, len(results), results)

	if done := e.processed.Add(1); done%progressEvery == 0 {
		e.tracker.ReportProgress(int(done), int(e.total.Load()))
	}
}

// processBatch runs one batch on the processing pool and waits for it.
func (e *Engine[T, R, V]) processBatch(ctx context.Context, batch []R, ec *model.ExecutionContext) ([]model.ProcessingResult[V], error) {
	var (
		out  []model.ProcessingResult[V]
		perr error
	)
	start := time.Now()
	f := e.controller.SubmitProcessingTask(func() {
		out, perr = e.processor.Process(ctx, batch, ec)
	})
	if err := f.Wait(); err != nil {
		return nil, fmt.Errorf("process batch: %w", err)
	}
	recordBatch(ctx, time.Since(start), len(batch), perr)
	if perr != nil {
		return nil, fmt.Errorf("process batch: %w", perr)
	}
	return out, nil
}

func (e *Engine[T, R, V]) failWorkItem(item T, err error, logger *slog.Logger) {
	e.errors.Add(1)
	e.failed.Add(1)
	logger.Warn("engine: work item failed", "item", item, "error", err)
	e.tracker.OnWorkItemFailure(item, err)
}

func (e *Engine[T, R, V]) buildResult(runID uuid.UUID, start time.Time, fatal error) model.ExecutionResult {
	r := model.ExecutionResult{
		RunID:              runID,
		WorkItemsProcessed: int(e.processed.Load()),
		TotalWorkItems:     int(e.total.Load()),
		FailedWorkItems:    int(e.failed.Load()),
		RecordsProcessed:   e.records.Load(),
		TotalErrors:        e.errors.Load(),
		StartTime:          start,
		EndTime:            time.Now(),
	}
	if fatal != nil {
		r.AbortReason = fatalPrefix + fatal.Error()
		return r
	}
	if reason, aborted := e.AbortReason(); aborted {
		r.AbortReason = reason
		return r
	}
	r.Success = true
	return r
}

// Abort asks the run to stop starting new work. Work items that have not
// begun are skipped and in-flight items stop before their next batch.
// The first reason wins; later calls are ignored.
func (e *Engine[T, R, V]) Abort(reason string) {
	if reason == "" {
		reason = "aborted"
	}
	if e.abort.CompareAndSwap(nil, &reason) {
		e.logger.Warn("engine: abort requested", "reason", reason)
	}
}

// ShouldAbort reports whether Abort has been called.
func (e *Engine[T, R, V]) ShouldAbort() bool {
	return e.abort.Load() != nil
}

// AbortReason returns the recorded abort reason.
func (e *Engine[T, R, V]) AbortReason() (string, bool) {
	p := e.abort.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

func (e *Engine[T, R, V]) abortReason() string {
	reason, _ := e.AbortReason()
	return reason
}

// AdjustConcurrency forwards a resize to the controller.
func (e *Engine[T, R, V]) AdjustConcurrency(workItems, processing int) {
	e.controller.AdjustConcurrency(workItems, processing)
}

// CurrentSettings reports the controller's pool sizes.
func (e *Engine[T, R, V]) CurrentSettings() concurrency.Settings {
	return e.controller.CurrentSettings()
}

// Metrics is a mid-run view of the engine counters. Values only grow and
// are exact once Execute has returned.
type Metrics struct {
	WorkItemsProcessed int
	TotalWorkItems     int
	FailedWorkItems    int
	RecordsProcessed   int64
	TotalErrors        int64
	StartTime          time.Time // zero before Execute
}

// Metrics returns the current counters.
func (e *Engine[T, R, V]) Metrics() Metrics {
	m := Metrics{
		WorkItemsProcessed: int(e.processed.Load()),
		TotalWorkItems:     int(e.total.Load()),
		FailedWorkItems:    int(e.failed.Load()),
		RecordsProcessed:   e.records.Load(),
		TotalErrors:        e.errors.Load(),
	}
	if ns := e.startedAt.Load(); ns != 0 {
		m.StartTime = time.Unix(0, ns)
	}
	return m
}

// Progress implements metrics.ProgressSource.
func (e *Engine[T, R, V]) Progress() metrics.Progress {
	m := e.Metrics()
	return metrics.Progress{
		WorkItemsProcessed: m.WorkItemsProcessed,
		TotalWorkItems:     m.TotalWorkItems,
		FailedWorkItems:    m.FailedWorkItems,
		RecordsProcessed:   m.RecordsProcessed,
		TotalErrors:        m.TotalErrors,
	}
}
