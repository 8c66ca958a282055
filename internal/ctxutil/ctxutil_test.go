package ctxutil_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/choritsu/internal/ctxutil"
)

type recorder struct{ types []string }

func (r *recorder) RecordCriticalError(t string) { r.types = append(r.types, t) }

func TestRunID(t *testing.T) {
	assert.Equal(t, uuid.Nil, ctxutil.RunIDFromContext(context.Background()))

	id := uuid.New()
	ctx := ctxutil.WithRunID(context.Background(), id)
	assert.Equal(t, id, ctxutil.RunIDFromContext(ctx))
}

func TestStep(t *testing.T) {
	assert.Empty(t, ctxutil.StepFromContext(context.Background()))
	assert.Equal(t, "load", ctxutil.StepFromContext(ctxutil.WithStep(context.Background(), "load")))
}

func TestRecordCriticalError(t *testing.T) {
	assert.False(t, ctxutil.RecordCriticalError(context.Background(), "schema_mismatch"))

	r := &recorder{}
	ctx := ctxutil.WithCriticalErrorRecorder(context.Background(), r)
	assert.True(t, ctxutil.RecordCriticalError(ctx, "schema_mismatch"))
	assert.Equal(t, []string{"schema_mismatch"}, r.types)
}
