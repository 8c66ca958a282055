package metrics

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Progress is the engine-side half of a snapshot.
type Progress struct {
	WorkItemsProcessed int
	TotalWorkItems     int
	FailedWorkItems    int
	RecordsProcessed   int64
	TotalErrors        int64
}

// ProgressSource reports engine counters. Implemented by engine.Engine.
type ProgressSource interface {
	Progress() Progress
}

// ConnectionGauge reports how many database connections are checked out.
type ConnectionGauge interface {
	ActiveConnections() int
}

// HeapGauge reports heap usage as a fraction of the allowed maximum.
type HeapGauge interface {
	HeapUtilization() float64
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithConnectionGauge sets the source for active DB connections. Without one
// the snapshot reports zero.
func WithConnectionGauge(g ConnectionGauge) CollectorOption {
	return func(c *Collector) { c.conns = g }
}

// WithHeapGauge overrides the default RuntimeHeap gauge.
func WithHeapGauge(g HeapGauge) CollectorOption {
	return func(c *Collector) { c.heap = g }
}

// WithClock replaces time.Now. Intended for tests.
func WithClock(now func() time.Time) CollectorOption {
	return func(c *Collector) { c.now = now }
}

// WithLogger sets the collector's logger.
func WithLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) { c.logger = logger }
}

// Collector builds Snapshots from an engine's progress plus resource gauges.
// Rates are computed from the delta since the previous Snapshot call, so a
// single collector should be driven by a single periodic caller.
type Collector struct {
	progress ProgressSource
	conns    ConnectionGauge
	heap     HeapGauge
	now      func() time.Time
	logger   *slog.Logger

	mu          sync.Mutex
	last        time.Time
	lastFiles   int
	lastRecords int64
	critical    map[string]struct{}
}

// NewCollector returns a Collector reading progress from src.
func NewCollector(src ProgressSource, opts ...CollectorOption) *Collector {
	c := &Collector{
		progress: src,
		heap:     RuntimeHeap{},
		now:      time.Now,
		logger:   slog.Default(),
		critical: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.last = c.now()
	return c
}

// Snapshot samples every source and returns a new Snapshot.
func (c *Collector) Snapshot() Snapshot {
	p := c.progress.Progress()

	c.mu.Lock()
	now := c.now()
	elapsed := now.Sub(c.last)
	filesDelta := p.WorkItemsProcessed - c.lastFiles
	recordsDelta := p.RecordsProcessed - c.lastRecords
	c.last = now
	c.lastFiles = p.WorkItemsProcessed
	c.lastRecords = p.RecordsProcessed
	critical := make([]string, 0, len(c.critical))
	for t := range c.critical {
		critical = append(critical, t)
	}
	c.mu.Unlock()
	slices.Sort(critical)

	var filesPerMinute, recordsPerSecond float64
	if elapsed > 0 {
		filesPerMinute = float64(filesDelta) / elapsed.Minutes()
		recordsPerSecond = float64(recordsDelta) / elapsed.Seconds()
	}

	s := Snapshot{
		Timestamp:          now,
		FilesProcessed:     p.WorkItemsProcessed,
		TotalFiles:         p.TotalWorkItems,
		RecordsProcessed:   p.RecordsProcessed,
		FilesPerMinute:     filesPerMinute,
		RecordsPerSecond:   recordsPerSecond,
		TotalErrors:        p.TotalErrors,
		FailedFiles:        p.FailedWorkItems,
		CriticalErrorTypes: critical,
	}
	if c.conns != nil {
		s.ActiveDBConnections = c.conns.ActiveConnections()
	}
	if c.heap != nil {
		s.HeapUtilization = c.heap.HeapUtilization()
	}

	c.logger.Debug("metrics: snapshot",
		"files", s.FilesProcessed,
		"total_files", s.TotalFiles,
		"records", s.RecordsProcessed,
		"files_per_minute", s.FilesPerMinute,
		"errors", s.TotalErrors,
	)
	return s
}

// RecordCriticalError registers an error type that every later snapshot will
// carry. Goals decide which types count as critical.
func (c *Collector) RecordCriticalError(errorType string) {
	c.mu.Lock()
	_, seen := c.critical[errorType]
	c.critical[errorType] = struct{}{}
	c.mu.Unlock()
	if !seen {
		c.logger.Error("metrics: critical error recorded", "type", errorType)
	}
}
