package choritsu

import (
	"github.com/ashita-ai/choritsu/internal/concurrency"
	"github.com/ashita-ai/choritsu/internal/goal"
	"github.com/ashita-ai/choritsu/internal/model"
	"github.com/ashita-ai/choritsu/internal/pipeline"
	"github.com/ashita-ai/choritsu/internal/policy"
	"github.com/ashita-ai/choritsu/internal/sizing"
	"github.com/ashita-ai/choritsu/internal/strategy"
)

// Run data.
type (
	ExecutionContext        = model.ExecutionContext
	ExecutionResult         = model.ExecutionResult
	ProcessingResult[V any] = model.ProcessingResult[V]
)

// Batch definition and results.
type (
	Batch                   = pipeline.Batch
	Step                    = pipeline.Step
	StepConfig[T, R, V any] = pipeline.StepConfig[T, R, V]
	BatchResult             = pipeline.Result
	StepResult              = pipeline.StepResult
	Scope                   = pipeline.Scope
	SizingStrategy          = sizing.Strategy
	Limits                  = sizing.Limits
	Initial                 = sizing.Initial
	RecordCounter           = sizing.RecordCounter
	RecordCounterFunc       = sizing.RecordCounterFunc
	SaturationPolicy        = concurrency.SaturationPolicy
)

// Goals and strategies.
type (
	Goal       = goal.Goal
	Evaluation = goal.Evaluation
	Severity   = goal.Severity
	Strategy   = strategy.Strategy
	Adjustment = strategy.Adjustment
	Policy     = policy.Policy
)

// Sizing strategies.
const (
	Static    = sizing.Static
	Estimated = sizing.Estimated
	Dynamic   = sizing.Dynamic
)

// Sizing scopes.
const (
	BatchLevel = pipeline.BatchLevel
	StepLevel  = pipeline.StepLevel
)

// Saturation policies.
const (
	Block      = concurrency.Block
	CallerRuns = concurrency.CallerRuns
)

// NewExecutionContext returns a context seeded with attrs.
func NewExecutionContext(attrs map[string]any) *ExecutionContext {
	return model.NewExecutionContext(attrs)
}

// Success returns a successful record result.
func Success[V any](value V) ProcessingResult[V] { return model.Success(value) }

// Failure returns a failed record result.
func Failure[V any](err error) ProcessingResult[V] { return model.Failure[V](err) }

// NewStep builds a batch step from typed collaborators.
func NewStep[T, R, V any](name string, cfg StepConfig[T, R, V]) (Step, error) {
	return pipeline.NewStep(name, cfg)
}

// MustStep is NewStep for static batch definitions; it panics on error.
func MustStep[T, R, V any](name string, cfg StepConfig[T, R, V]) Step {
	return pipeline.MustStep(name, cfg)
}

// LoadPolicy reads a YAML goal policy.
func LoadPolicy(path string) (*Policy, error) {
	return policy.Load(path)
}

// ParseSizingStrategy accepts "static", "estimated", or "dynamic" in any case.
func ParseSizingStrategy(s string) (SizingStrategy, error) {
	return sizing.ParseStrategy(s)
}
