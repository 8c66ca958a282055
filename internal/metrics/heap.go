package metrics

import (
	"math"
	"runtime/metrics"
)

const (
	heapObjectsMetric = "/memory/classes/heap/objects:bytes"
	memLimitMetric    = "/gc/gomemlimit:bytes"
	totalMemMetric    = "/memory/classes/total:bytes"
)

// RuntimeHeap measures live heap against GOMEMLIMIT, or against the total
// memory mapped by the runtime when no limit is configured.
type RuntimeHeap struct{}

// HeapUtilization returns a fraction in [0,1].
func (RuntimeHeap) HeapUtilization() float64 {
	samples := []metrics.Sample{
		{Name: heapObjectsMetric},
		{Name: memLimitMetric},
		{Name: totalMemMetric},
	}
	metrics.Read(samples)

	used := sampleUint(samples[0])
	limit := sampleUint(samples[1])
	if limit == 0 || limit == math.MaxInt64 {
		limit = sampleUint(samples[2])
	}
	if limit == 0 {
		return 0
	}
	return min(1, float64(used)/float64(limit))
}

func sampleUint(s metrics.Sample) uint64 {
	if s.Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s.Value.Uint64()
}
