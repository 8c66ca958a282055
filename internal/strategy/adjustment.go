// Package strategy converts goal evaluations into concurrency adjustments.
//
// Strategies are pure: the same Evaluation always yields the same
// Adjustment, and nothing is logged or mutated.
package strategy

import "fmt"

const noChangeReason = "no adjustment needed"

// Adjustment is a proposed change to the two concurrency dials. It is an
// immutable, comparable value; the manager selects one whole Adjustment and
// never merges two.
type Adjustment struct {
	workItems  int
	processing int
	reason     string
}

// NoChange is the distinguished adjustment with both deltas zero.
func NoChange() Adjustment {
	return Adjustment{reason: noChangeReason}
}

// Increase proposes raising both dials by the absolute values given.
func Increase(workItems, processing int, reason string) Adjustment {
	return Adjustment{workItems: abs(workItems), processing: abs(processing), reason: reason}
}

// Decrease proposes lowering both dials; signs of the arguments are ignored.
func Decrease(workItems, processing int, reason string) Adjustment {
	return Adjustment{workItems: -abs(workItems), processing: -abs(processing), reason: reason}
}

// Custom proposes arbitrary signed deltas.
func Custom(workItems, processing int, reason string) Adjustment {
	return Adjustment{workItems: workItems, processing: processing, reason: reason}
}

// WorkItemDelta is the signed change to the work-item dial.
func (a Adjustment) WorkItemDelta() int { return a.workItems }

// ProcessingDelta is the signed change to the processing dial.
func (a Adjustment) ProcessingDelta() int { return a.processing }

// Reason explains the recommendation.
func (a Adjustment) Reason() string { return a.reason }

// IsNoChange reports whether both deltas are zero.
func (a Adjustment) IsNoChange() bool { return a.workItems == 0 && a.processing == 0 }

// IsIncrease reports whether either delta is positive.
func (a Adjustment) IsIncrease() bool { return a.workItems > 0 || a.processing > 0 }

// IsDecrease reports whether either delta is negative.
func (a Adjustment) IsDecrease() bool { return a.workItems < 0 || a.processing < 0 }

// Magnitude is |work-item delta| + |processing delta|.
func (a Adjustment) Magnitude() int { return abs(a.workItems) + abs(a.processing) }

func (a Adjustment) String() string {
	return fmt.Sprintf("adjustment{work_items=%+d, processing=%+d, reason=%q}", a.workItems, a.processing, a.reason)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
