// Package ctxutil provides shared context key accessors.
//
// Collaborators only see the context the engine hands them. Run metadata and
// the critical-error sink travel on it, so fetchers, readers, and processors
// can use them without importing the engine or the pipeline.
package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	keyRunID    contextKey = "run_id"
	keyStep     contextKey = "step"
	keyRecorder contextKey = "critical_errors"
)

// CriticalErrorRecorder accepts error types that an error goal may treat as
// fatal. *metrics.Collector implements it.
type CriticalErrorRecorder interface {
	RecordCriticalError(errType string)
}

// WithRunID returns a new context carrying the engine run ID.
func WithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyRunID, id)
}

// RunIDFromContext extracts the run ID, or uuid.Nil outside a run.
func RunIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(keyRunID).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// WithStep returns a new context carrying the pipeline step name.
func WithStep(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyStep, name)
}

// StepFromContext extracts the step name, or "".
func StepFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(keyStep).(string); ok {
		return v
	}
	return ""
}

// WithCriticalErrorRecorder returns a new context carrying r.
func WithCriticalErrorRecorder(ctx context.Context, r CriticalErrorRecorder) context.Context {
	return context.WithValue(ctx, keyRecorder, r)
}

// RecordCriticalError reports errType to the recorder on ctx. It returns
// false when the context has none.
func RecordCriticalError(ctx context.Context, errType string) bool {
	r, ok := ctx.Value(keyRecorder).(CriticalErrorRecorder)
	if !ok || r == nil {
		return false
	}
	r.RecordCriticalError(errType)
	return true
}
