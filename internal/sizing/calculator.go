package sizing

import (
	"fmt"

	"github.com/ashita-ai/choritsu/internal/control"
)

const (
	DefaultSmallThreshold  = 50
	DefaultMediumThreshold = 500

	largeFactor      = 0.8
	dbSafetyFactor   = 0.7
	aggressiveFactor = 0.8
)

// Limits bound the concurrency a batch may start at or be adjusted to.
type Limits struct {
	MinWorkItems  int
	MaxWorkItems  int
	MinProcessing int
	MaxProcessing int
}

// DefaultLimits matches control.DefaultBounds.
func DefaultLimits() Limits {
	b := control.DefaultBounds()
	return Limits{MinWorkItems: b.MinWorkItems, MaxWorkItems: b.MaxWorkItems, MinProcessing: b.MinProcessing, MaxProcessing: b.MaxProcessing}
}

// Validate rejects non-positive minimums and inverted ranges.
func (l Limits) Validate() error {
	if err := l.Bounds().Validate(); err != nil {
		return fmt.Errorf("sizing: invalid limits: %w", err)
	}
	return nil
}

// Bounds converts the limits for the runtime manager.
func (l Limits) Bounds() control.Bounds {
	return control.Bounds{MinWorkItems: l.MinWorkItems, MaxWorkItems: l.MaxWorkItems, MinProcessing: l.MinProcessing, MaxProcessing: l.MaxProcessing}
}

// Minimum is the starting point when nothing better is known.
func (l Limits) Minimum(rationale string) Initial {
	return Initial{WorkItems: l.MinWorkItems, Processing: l.MinProcessing, Rationale: rationale}
}

// Initial is a starting concurrency and the reasoning behind it.
type Initial struct {
	WorkItems  int
	Processing int
	Rationale  string
}

// Calculator turns an analysis into a starting concurrency.
type Calculator interface {
	Calculate(a Analysis, limits Limits, res Resources) Initial
}

// WorkloadAware scales the start with the workload: small workloads start at
// the minimums, medium ones at the midpoint, large ones at 80% of the
// maximums. Work-item concurrency is further capped at 70% of the free
// database connections. Zero thresholds use the defaults.
type WorkloadAware struct {
	SmallThreshold  int
	MediumThreshold int
}

// Calculate implements Calculator.
func (w WorkloadAware) Calculate(a Analysis, limits Limits, res Resources) Initial {
	small, medium := w.SmallThreshold, w.MediumThreshold
	if small <= 0 {
		small = DefaultSmallThreshold
	}
	if medium <= 0 {
		medium = DefaultMediumThreshold
	}

	size := a.Categorize(small, medium)
	var workItems, processing int
	switch size {
	case Small:
		workItems, processing = limits.MinWorkItems, limits.MinProcessing
	case Medium:
		workItems = (limits.MinWorkItems + limits.MaxWorkItems) / 2
		processing = (limits.MinProcessing + limits.MaxProcessing) / 2
	case Large:
		workItems = int(float64(limits.MaxWorkItems) * largeFactor)
		processing = int(float64(limits.MaxProcessing) * largeFactor)
	}

	if res.AvailableDBConnections >= 0 {
		workItems = min(workItems, int(float64(res.AvailableDBConnections)*dbSafetyFactor))
	}
	workItems = max(workItems, limits.MinWorkItems)
	processing = max(processing, limits.MinProcessing)

	return Initial{
		WorkItems:  workItems,
		Processing: processing,
		Rationale: fmt.Sprintf("Workload: %s (%d items, %d records) → workItem=%d, processing=%d",
			size, a.WorkItems, a.TotalRecords, workItems, processing),
	}
}

// Conservative always starts at the minimums.
type Conservative struct{}

// Calculate implements Calculator.
func (Conservative) Calculate(_ Analysis, limits Limits, _ Resources) Initial {
	return limits.Minimum("Conservative: starting with minimum concurrency")
}

// Aggressive starts at the maximums, with work items capped at 80% of the
// free database connections.
type Aggressive struct{}

// Calculate implements Calculator.
func (Aggressive) Calculate(_ Analysis, limits Limits, res Resources) Initial {
	workItems := limits.MaxWorkItems
	if res.AvailableDBConnections >= 0 {
		workItems = min(workItems, int(float64(res.AvailableDBConnections)*aggressiveFactor))
	}
	return Initial{
		WorkItems:  max(workItems, limits.MinWorkItems),
		Processing: limits.MaxProcessing,
		Rationale:  "Aggressive: starting with maximum safe concurrency",
	}
}
