package goal

import "github.com/ashita-ai/choritsu/internal/metrics"

// pressureFactor is the fraction of a ceiling at which a resource is at risk.
const pressureFactor = 0.85

// ResourceGoal keeps database connections and heap usage under ceilings.
type ResourceGoal struct {
	state
	maxDBConnections   int
	maxDBUtilization   float64
	maxHeapUtilization float64
}

// NewResourceGoal returns a resource goal. Utilizations are fractions in
// [0,1]. Default severity is high.
func NewResourceGoal(maxDBConnections int, maxDBUtilization, maxHeapUtilization float64, opts ...Option) *ResourceGoal {
	o := resolve("resource", SeverityHigh, opts)
	return &ResourceGoal{
		state:              newState(o),
		maxDBConnections:   maxDBConnections,
		maxDBUtilization:   maxDBUtilization,
		maxHeapUtilization: maxHeapUtilization,
	}
}

// CheckStatus implements Goal.
func (g *ResourceGoal) CheckStatus(s metrics.Snapshot) Evaluation {
	db := g.dbUtilization(s)
	heap := s.HeapUtilization

	status := StatusMet
	switch {
	case db > g.maxDBUtilization || heap > g.maxHeapUtilization:
		status = StatusViolated
	case db > g.maxDBUtilization*pressureFactor || heap > g.maxHeapUtilization*pressureFactor:
		status = StatusAtRisk
	}

	return g.record(g, status, Metrics{
		MetricDBUtilizationPercent:   db * 100,
		MetricActiveConnections:      s.ActiveDBConnections,
		MetricAvailableConnections:   g.maxDBConnections - s.ActiveDBConnections,
		MetricSafeMaxConnections:     int(float64(g.maxDBConnections) * g.maxDBUtilization),
		MetricHeapUtilizationPercent: heap * 100,
		MetricConnectionPressure:     db > g.maxDBUtilization*pressureFactor,
	})
}

func (g *ResourceGoal) dbUtilization(s metrics.Snapshot) float64 {
	if g.maxDBConnections <= 0 {
		return 0
	}
	return float64(s.ActiveDBConnections) / float64(g.maxDBConnections)
}
