// Package concurrency owns the two resizable worker pools a batch run
// executes on: one for work items, one for record batches.
package concurrency

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrShutdown is returned by Future.Wait for tasks submitted after Shutdown.
	ErrShutdown = errors.New("concurrency: controller shut down")
	// ErrTaskPanicked wraps the value recovered from a panicking task.
	ErrTaskPanicked = errors.New("concurrency: task panicked")
)

// Settings describes the configured pool sizes.
type Settings struct {
	WorkItems      int    `json:"work_item_concurrency"`
	Processing     int    `json:"processing_concurrency"`
	Implementation string `json:"implementation"`
}

// Controller runs tasks on two independently sized pools.
type Controller interface {
	// SubmitWorkItem schedules task on the work-item pool.
	SubmitWorkItem(task func()) *Future
	// SubmitProcessingTask schedules task on the processing pool.
	SubmitProcessingTask(task func()) *Future
	// AdjustConcurrency resizes both pools. Running tasks are never
	// interrupted; the new sizes apply as workers free up.
	AdjustConcurrency(workItems, processing int)
	CurrentSettings() Settings
	// Shutdown stops accepting tasks. Safe to call more than once.
	Shutdown()
	// AwaitTermination waits for tasks accepted before Shutdown to finish,
	// spending at most timeout across both pools.
	AwaitTermination(timeout time.Duration) bool
}

// Future completes when its task has run, been rejected, or panicked.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Completed returns a Future that is already done with err.
func Completed(err error) *Future {
	f := newFuture()
	f.complete(err)
	return f
}

func (f *Future) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the task has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes and returns its outcome.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}
