package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnspecifiedFailure stands in for a nil error passed to Failure.
var ErrUnspecifiedFailure = errors.New("model: unspecified record failure")

// ProcessingResult is the outcome of processing one record: either a success
// carrying a value or a failure carrying an error, never both.
type ProcessingResult[V any] struct {
	value V
	err   error
}

// Success returns a successful result holding value.
func Success[V any](value V) ProcessingResult[V] {
	return ProcessingResult[V]{value: value}
}

// Failure returns a failed result. A nil err is replaced with ErrUnspecifiedFailure
// so the result still reads as a failure.
func Failure[V any](err error) ProcessingResult[V] {
	if err == nil {
		err = ErrUnspecifiedFailure
	}
	return ProcessingResult[V]{err: err}
}

// OK reports whether the record was processed successfully.
func (r ProcessingResult[V]) OK() bool { return r.err == nil }

// Value returns the success value, or the zero value for a failure.
func (r ProcessingResult[V]) Value() V { return r.value }

// Err returns the failure cause, or nil for a success.
func (r ProcessingResult[V]) Err() error { return r.err }

// CountFailures returns how many results in rs are failures.
func CountFailures[V any](rs []ProcessingResult[V]) int {
	n := 0
	for _, r := range rs {
		if !r.OK() {
			n++
		}
	}
	return n
}

// ExecutionResult is the outcome of one engine run. It is built exactly once,
// after the engine has shut its controller down.
type ExecutionResult struct {
	RunID              uuid.UUID `json:"run_id"`
	Success            bool      `json:"success"`
	AbortReason        string    `json:"abort_reason,omitempty"`
	WorkItemsProcessed int       `json:"work_items_processed"`
	TotalWorkItems     int       `json:"total_work_items"`
	FailedWorkItems    int       `json:"failed_work_items"`
	RecordsProcessed   int64     `json:"records_processed"`
	TotalErrors        int64     `json:"total_errors"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
}

// Aborted reports whether the run recorded an abort reason.
func (r ExecutionResult) Aborted() bool { return r.AbortReason != "" }

// Duration is the wall-clock time between start and end.
func (r ExecutionResult) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }
