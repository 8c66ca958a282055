// Package policy loads goal definitions from YAML so a batch's targets can
// change without a rebuild.
//
//	goals:
//	  - type: performance
//	    max_total_time: 2h
//	    min_throughput: 15
//	    pace_tolerance: 0.8
//	  - type: errors
//	    max_error_rate: 0.05
//	    max_total_errors: 100
//	    critical_types: [schema_mismatch]
//	    strategy: noop
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/choritsu/internal/goal"
	"github.com/ashita-ai/choritsu/internal/strategy"
)

var (
	// ErrUnknownGoal is returned for a goal type the policy cannot build.
	ErrUnknownGoal = errors.New("policy: unknown goal type")
	// ErrUnknownStrategy is returned for a strategy name the policy cannot build.
	ErrUnknownStrategy = errors.New("policy: unknown strategy")
)

// Goal types.
const (
	TypePerformance = "performance"
	TypeResource    = "resource"
	TypeErrors      = "errors"
)

// Strategy names. An empty name means the goal's own strategy.
const (
	StrategyDefault     = "default"
	StrategyNoOp        = "noop"
	StrategyPerformance = "performance"
	StrategyResource    = "resource"
	StrategyErrors      = "errors"
)

// Policy is a parsed goal policy. It is immutable; Build creates fresh
// goals on every call.
type Policy struct {
	Goals []GoalSpec `yaml:"goals"`
}

// GoalSpec declares one goal. Only the fields of its Type are read.
type GoalSpec struct {
	Type     string `yaml:"type"`
	Name     string `yaml:"name,omitempty"`
	Severity string `yaml:"severity,omitempty"`
	Strategy string `yaml:"strategy,omitempty"`

	MaxTotalTime  time.Duration `yaml:"max_total_time,omitempty"`
	MinThroughput float64       `yaml:"min_throughput,omitempty"`
	PaceTolerance float64       `yaml:"pace_tolerance,omitempty"`

	MaxDBConnections   int     `yaml:"max_db_connections,omitempty"`
	MaxDBUtilization   float64 `yaml:"max_db_utilization,omitempty"`
	MaxHeapUtilization float64 `yaml:"max_heap_utilization,omitempty"`

	MaxErrorRate     float64  `yaml:"max_error_rate,omitempty"`
	MaxTotalErrors   int64    `yaml:"max_total_errors,omitempty"`
	CriticalTypes    []string `yaml:"critical_types,omitempty"`
	MinSampleRecords int64    `yaml:"min_sample_records,omitempty"`
}

// Load reads and parses a policy file.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (file %s)", err, path)
	}
	return p, nil
}

// Parse decodes and validates a policy. Unknown keys are rejected.
func Parse(data []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Policy
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("policy: decode: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every GoalSpec.
func (p *Policy) Validate() error {
	var errs []error
	for i, g := range p.Goals {
		if err := g.validate(); err != nil {
			errs = append(errs, fmt.Errorf("policy: goal %d (%s): %w", i, g.Type, err))
		}
	}
	return errors.Join(errs...)
}

func (g GoalSpec) validate() error {
	var errs []error
	switch strings.ToLower(g.Type) {
	case TypePerformance:
		if g.MaxTotalTime <= 0 {
			errs = append(errs, errors.New("max_total_time must be positive"))
		}
		if g.MinThroughput < 0 {
			errs = append(errs, errors.New("min_throughput must not be negative"))
		}
		if g.PaceTolerance <= 0 || g.PaceTolerance > 1 {
			errs = append(errs, errors.New("pace_tolerance must be in (0, 1]"))
		}
	case TypeResource:
		if g.MaxDBConnections < 0 {
			errs = append(errs, errors.New("max_db_connections must not be negative"))
		}
		if g.MaxDBUtilization <= 0 || g.MaxDBUtilization > 1 {
			errs = append(errs, errors.New("max_db_utilization must be in (0, 1]"))
		}
		if g.MaxHeapUtilization <= 0 || g.MaxHeapUtilization > 1 {
			errs = append(errs, errors.New("max_heap_utilization must be in (0, 1]"))
		}
	case TypeErrors:
		if g.MaxErrorRate <= 0 || g.MaxErrorRate > 1 {
			errs = append(errs, errors.New("max_error_rate must be in (0, 1]"))
		}
		if g.MaxTotalErrors < 0 {
			errs = append(errs, errors.New("max_total_errors must not be negative"))
		}
		if g.MinSampleRecords < 0 {
			errs = append(errs, errors.New("min_sample_records must not be negative"))
		}
	default:
		return fmt.Errorf("%w %q", ErrUnknownGoal, g.Type)
	}

	if g.Severity != "" {
		if _, err := goal.ParseSeverity(g.Severity); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := g.strategy(nil); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Build creates fresh goals and their strategies. opts apply to every goal
// before each GoalSpec's own name, severity, and sample size.
func (p *Policy) Build(opts ...goal.Option) ([]goal.Goal, map[goal.Goal]strategy.Strategy, error) {
	goals := make([]goal.Goal, 0, len(p.Goals))
	strategies := make(map[goal.Goal]strategy.Strategy, len(p.Goals))
	for i, gs := range p.Goals {
		g, err := gs.build(opts)
		if err != nil {
			return nil, nil, fmt.Errorf("policy: goal %d: %w", i, err)
		}
		s, err := gs.strategy(g)
		if err != nil {
			return nil, nil, fmt.Errorf("policy: goal %d: %w", i, err)
		}
		goals = append(goals, g)
		strategies[g] = s
	}
	return goals, strategies, nil
}

func (g GoalSpec) build(base []goal.Option) (goal.Goal, error) {
	opts := append([]goal.Option(nil), base...)
	if g.Name != "" {
		opts = append(opts, goal.WithName(g.Name))
	}
	if g.Severity != "" {
		sev, err := goal.ParseSeverity(g.Severity)
		if err != nil {
			return nil, err
		}
		opts = append(opts, goal.WithSeverity(sev))
	}

	switch strings.ToLower(g.Type) {
	case TypePerformance:
		return goal.NewPerformanceGoal(g.MaxTotalTime, g.MinThroughput, g.PaceTolerance, opts...), nil
	case TypeResource:
		return goal.NewResourceGoal(g.MaxDBConnections, g.MaxDBUtilization, g.MaxHeapUtilization, opts...), nil
	case TypeErrors:
		if g.MinSampleRecords > 0 {
			opts = append(opts, goal.WithMinSampleRecords(g.MinSampleRecords))
		}
		return goal.NewErrorGoal(g.MaxErrorRate, g.MaxTotalErrors, g.CriticalTypes, opts...), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownGoal, g.Type)
	}
}

// strategy resolves the configured strategy for g. A nil g only validates the name.
func (g GoalSpec) strategy(built goal.Goal) (strategy.Strategy, error) {
	switch strings.ToLower(g.Strategy) {
	case "", StrategyDefault:
		if built == nil {
			return nil, nil
		}
		return strategy.Default(built), nil
	case StrategyNoOp:
		return strategy.NoOp{}, nil
	case StrategyPerformance:
		return strategy.Performance{}, nil
	case StrategyResource:
		return strategy.Resource{}, nil
	case StrategyErrors:
		return strategy.Errors{}, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, g.Strategy)
	}
}
