package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/choritsu/internal/telemetry"
)

type instruments struct {
	batchDuration metric.Float64Histogram
	batchRecords  metric.Int64Counter
	processed     metric.Int64ObservableGauge
	records       metric.Int64ObservableGauge
	errors        metric.Int64ObservableGauge
	err           error
}

var loadInstruments = sync.OnceValue(func() instruments {
	meter := telemetry.Meter("choritsu/engine")
	var in instruments
	var errs [5]error
	in.batchDuration, errs[0] = meter.Float64Histogram("choritsu.engine.batch.duration",
		metric.WithDescription("Time spent processing one record batch"),
		metric.WithUnit("s"))
	in.batchRecords, errs[1] = meter.Int64Counter("choritsu.engine.batch.records",
		metric.WithDescription("Records submitted to the batch processor"))
	in.processed, errs[2] = meter.Int64ObservableGauge("choritsu.engine.work_items.processed",
		metric.WithDescription("Work items completed in the current run"))
	in.records, errs[3] = meter.Int64ObservableGauge("choritsu.engine.records.processed",
		metric.WithDescription("Records processed in the current run"))
	in.errors, errs[4] = meter.Int64ObservableGauge("choritsu.engine.errors",
		metric.WithDescription("Record and work item errors in the current run"))
	in.err = errors.Join(errs[:]...)
	return in
})

func recordBatch(ctx context.Context, d time.Duration, size int, err error) {
	in := loadInstruments()
	if in.err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("failed", err != nil))
	in.batchDuration.Record(ctx, d.Seconds(), attrs)
	in.batchRecords.Add(ctx, int64(size), attrs)
}

// registerMetrics exposes this run's counters as gauges until the returned
// func is called.
func (e *Engine[T, R, V]) registerMetrics(logger *slog.Logger) func() {
	in := loadInstruments()
	if in.err != nil {
		logger.Warn("engine: create instruments", "error", in.err)
		return func() {}
	}
	reg, err := telemetry.Meter("choritsu/engine").RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(in.processed, e.processed.Load())
		o.ObserveInt64(in.records, e.records.Load())
		o.ObserveInt64(in.errors, e.errors.Load())
		return nil
	}, in.processed, in.records, in.errors)
	if err != nil {
		logger.Warn("engine: register metrics", "error", err)
		return func() {}
	}
	return func() { _ = reg.Unregister() }
}
