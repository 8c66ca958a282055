package engine

import (
	"context"

	"github.com/ashita-ai/choritsu/internal/model"
)

// Fetcher lists the work items of a run. An error aborts the run before any
// item is processed.
type Fetcher[T any] interface {
	Fetch(ctx context.Context, ec *model.ExecutionContext) ([]T, error)
}

// Reader expands one work item into its records. An error fails that item
// only.
type Reader[T, R any] interface {
	Read(ctx context.Context, item T, ec *model.ExecutionContext) ([]R, error)
}

// Processor handles one batch of records and must return exactly one result
// per input record, in input order. Counts are derived from the returned
// slice. An error fails the whole work item the batch belongs to.
type Processor[R, V any] interface {
	Process(ctx context.Context, batch []R, ec *model.ExecutionContext) ([]model.ProcessingResult[V], error)
}

// Tracker observes a run. Hooks are called from worker goroutines and must
// be safe for concurrent use. Panics inside hooks are not isolated.
type Tracker[T, V any] interface {
	OnStart(total int)
	OnWorkItemStart(item T)
	OnWorkItemComplete(item T, records int, results []model.ProcessingResult[V])
	OnWorkItemFailure(item T, err error)
	// ReportProgress is sampled: called on every tenth completed item.
	ReportProgress(processed, total int)
	// OnComplete is called exactly once with the final result.
	OnComplete(result model.ExecutionResult)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc[T any] func(ctx context.Context, ec *model.ExecutionContext) ([]T, error)

// Fetch implements Fetcher.
func (f FetcherFunc[T]) Fetch(ctx context.Context, ec *model.ExecutionContext) ([]T, error) {
	return f(ctx, ec)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc[T, R any] func(ctx context.Context, item T, ec *model.ExecutionContext) ([]R, error)

// Read implements Reader.
func (f ReaderFunc[T, R]) Read(ctx context.Context, item T, ec *model.ExecutionContext) ([]R, error) {
	return f(ctx, item, ec)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc[R, V any] func(ctx context.Context, batch []R, ec *model.ExecutionContext) ([]model.ProcessingResult[V], error)

// Process implements Processor.
func (f ProcessorFunc[R, V]) Process(ctx context.Context, batch []R, ec *model.ExecutionContext) ([]model.ProcessingResult[V], error) {
	return f(ctx, batch, ec)
}
