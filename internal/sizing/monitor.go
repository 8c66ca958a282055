package sizing

import (
	"runtime"

	"github.com/ashita-ai/choritsu/internal/metrics"
)

// ConnectionCapacity reports database pool usage. storage.PoolStats
// implements it.
type ConnectionCapacity interface {
	ActiveConnections() int
	MaxConnections() int
}

// Resources is what the process has to spare at sizing time.
type Resources struct {
	AvailableDBConnections int // -1 when no database is attached
	AvailableHeapPercent   float64
	CPUs                   int
}

// Monitor samples Resources.
type Monitor struct {
	capacity ConnectionCapacity
	heap     metrics.HeapGauge
}

// NewMonitor returns a monitor over capacity, which may be nil. A nil heap
// gauge reads the Go runtime.
func NewMonitor(capacity ConnectionCapacity, heap metrics.HeapGauge) *Monitor {
	if heap == nil {
		heap = metrics.RuntimeHeap{}
	}
	return &Monitor{capacity: capacity, heap: heap}
}

// Snapshot samples current resources.
func (m *Monitor) Snapshot() Resources {
	r := Resources{
		AvailableDBConnections: -1,
		AvailableHeapPercent:   1 - m.heap.HeapUtilization(),
		CPUs:                   runtime.GOMAXPROCS(0),
	}
	if m.capacity != nil {
		r.AvailableDBConnections = max(m.capacity.MaxConnections()-m.capacity.ActiveConnections(), 0)
	}
	return r
}
