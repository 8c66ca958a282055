package choritsu

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/choritsu/internal/ctxutil"
	"github.com/ashita-ai/choritsu/internal/engine"
	"github.com/ashita-ai/choritsu/internal/pipeline"
)

// Fetcher lists the work items of a step. An error fails the step before any
// item is processed.
type Fetcher[T any] = engine.Fetcher[T]

// Reader expands one work item into records. An error fails that item only.
type Reader[T, R any] = engine.Reader[T, R]

// Processor handles one batch of records and returns exactly one result per
// record, in order. An error fails the whole work item.
type Processor[R, V any] = engine.Processor[R, V]

// Tracker observes a step's engine run. Hooks run on worker goroutines.
type Tracker[T, V any] = engine.Tracker[T, V]

// Function adapters for the collaborator interfaces.
type (
	FetcherFunc[T any]      = engine.FetcherFunc[T]
	ReaderFunc[T, R any]    = engine.ReaderFunc[T, R]
	ProcessorFunc[R, V any] = engine.ProcessorFunc[R, V]
)

// GoalFactory builds a fresh goal set for every step. *Policy implements it.
type GoalFactory = pipeline.GoalFactory

// GoalFactoryFunc adapts a function to GoalFactory.
type GoalFactoryFunc = pipeline.GoalFactoryFunc

// NewLogTracker returns a Tracker that logs lifecycle events at info level.
func NewLogTracker[T, V any](app *App) Tracker[T, V] {
	return engine.NewLogTracker[T, V](app.logger)
}

// RecordCriticalError flags errType on the step running under ctx so error
// goals listing it as critical abort the run. It reports whether a running
// step received it.
func RecordCriticalError(ctx context.Context, errType string) bool {
	return ctxutil.RecordCriticalError(ctx, errType)
}

// RunID returns the engine run ID carried by ctx, or uuid.Nil outside a run.
func RunID(ctx context.Context) uuid.UUID {
	return ctxutil.RunIDFromContext(ctx)
}

// StepName returns the pipeline step name carried by ctx.
func StepName(ctx context.Context) string {
	return ctxutil.StepFromContext(ctx)
}
