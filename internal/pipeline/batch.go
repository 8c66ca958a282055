// Package pipeline runs a named batch of steps. Each step is one engine run
// with its own controller, sized up front from the workload and supervised
// by a runtime manager while it executes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/choritsu/internal/goal"
	"github.com/ashita-ai/choritsu/internal/sizing"
	"github.com/ashita-ai/choritsu/internal/strategy"
)

var (
	// ErrNoSteps is returned by Validate for a batch without steps.
	ErrNoSteps = errors.New("pipeline: batch has no steps")
	// ErrNoCounter is returned by Validate for dynamic batch-level sizing
	// without a record counter.
	ErrNoCounter = errors.New("pipeline: dynamic batch-level sizing requires a record counter")
)

// Scope says where initial concurrency is computed.
type Scope string

const (
	// BatchLevel sizes once from the first step's workload.
	BatchLevel Scope = "batch"
	// StepLevel sizes every step from its own workload.
	StepLevel Scope = "step"
)

// GoalFactory builds a fresh goal set for every step. Goals carry run state,
// so a set is never shared between steps. *policy.Policy implements it.
type GoalFactory interface {
	Build(opts ...goal.Option) ([]goal.Goal, map[goal.Goal]strategy.Strategy, error)
}

// GoalFactoryFunc adapts a function to GoalFactory.
type GoalFactoryFunc func(opts ...goal.Option) ([]goal.Goal, map[goal.Goal]strategy.Strategy, error)

// Build implements GoalFactory.
func (f GoalFactoryFunc) Build(opts ...goal.Option) ([]goal.Goal, map[goal.Goal]strategy.Strategy, error) {
	return f(opts...)
}

// Batch is a named sequence of steps plus how to size and supervise them.
// Zero values pick the defaults: Static sizing, BatchLevel scope, the
// WorkloadAware calculator, and sizing.DefaultLimits.
type Batch struct {
	Name        string
	Description string

	Sizing        sizing.Strategy
	Scope         Scope
	RecordCounter sizing.RecordCounter // batch-level counter for Dynamic sizing
	Calculator    sizing.Calculator
	Limits        sizing.Limits

	Steps []Step

	// Goals supervises each step. Nil runs steps without a control loop.
	Goals GoalFactory

	BeforeBatch func(ctx context.Context)
	AfterBatch  func(Result)
	BeforeStep  func(StepResult) // receives a preliminary result with name and start time
	AfterStep   func(StepResult)
}

// Validate reports configuration errors without running anything.
func (b *Batch) Validate() error {
	if len(b.Steps) == 0 {
		return ErrNoSteps
	}
	for i, s := range b.Steps {
		if s.run == nil {
			return fmt.Errorf("pipeline: step %d was not built with NewStep", i)
		}
	}
	d := b.withDefaults()
	if _, err := sizing.ParseStrategy(string(d.Sizing)); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if d.Scope != BatchLevel && d.Scope != StepLevel {
		return fmt.Errorf("pipeline: unknown sizing scope %q", b.Scope)
	}
	if d.Sizing == sizing.Dynamic && d.Scope == BatchLevel && d.RecordCounter == nil {
		return ErrNoCounter
	}
	if err := d.Limits.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

func (b *Batch) withDefaults() Batch {
	d := *b
	if d.Sizing == "" {
		d.Sizing = sizing.Static
	}
	if d.Scope == "" {
		d.Scope = BatchLevel
	}
	if d.Calculator == nil {
		d.Calculator = sizing.WorkloadAware{}
	}
	if d.Limits == (sizing.Limits{}) {
		d.Limits = sizing.DefaultLimits()
	}
	return d
}

// Result is the outcome of a whole batch.
type Result struct {
	Batch       string
	Success     bool // true only when every step succeeded
	Aborted     bool
	AbortReason string
	Steps       []StepResult
	StartTime   time.Time
	EndTime     time.Time
}

// Duration is the wall time of the batch.
func (r Result) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }

// TotalItems sums processed work items over all steps.
func (r Result) TotalItems() int {
	var n int
	for _, s := range r.Steps {
		n += s.ItemsProcessed
	}
	return n
}

// TotalRecords sums processed records over all steps.
func (r Result) TotalRecords() int64 {
	var n int64
	for _, s := range r.Steps {
		n += s.RecordsProcessed
	}
	return n
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name             string
	RunID            uuid.UUID
	Success          bool
	AbortReason      string
	ItemsProcessed   int
	RecordsProcessed int64
	Errors           int64
	Initial          sizing.Initial
	StartTime        time.Time
	EndTime          time.Time
}

// ShouldAbort reports whether the batch must stop after this step.
func (r StepResult) ShouldAbort() bool { return !r.Success && r.AbortReason != "" }

// Duration is the wall time of the step.
func (r StepResult) Duration() time.Duration { return r.EndTime.Sub(r.StartTime) }
