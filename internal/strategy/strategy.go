package strategy

import "github.com/ashita-ai/choritsu/internal/goal"

// Strategy recommends a concurrency change for one goal's evaluation.
type Strategy interface {
	RecommendAdjustment(e goal.Evaluation) Adjustment
}

// Func adapts a plain function to Strategy.
type Func func(e goal.Evaluation) Adjustment

// RecommendAdjustment implements Strategy.
func (f Func) RecommendAdjustment(e goal.Evaluation) Adjustment { return f(e) }

// NoOp never recommends a change. Pair it with a goal to make the goal
// observational only.
type NoOp struct{}

// RecommendAdjustment implements Strategy.
func (NoOp) RecommendAdjustment(goal.Evaluation) Adjustment { return NoChange() }

// Default returns the built-in strategy for the built-in goal types and
// NoOp for anything else.
func Default(g goal.Goal) Strategy {
	switch g.(type) {
	case *goal.PerformanceGoal:
		return Performance{}
	case *goal.ResourceGoal:
		return Resource{}
	case *goal.ErrorGoal:
		return Errors{}
	default:
		return NoOp{}
	}
}
