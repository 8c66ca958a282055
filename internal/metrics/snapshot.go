// Package metrics produces the point-in-time measurements that goals are
// evaluated against.
package metrics

import (
	"slices"
	"time"
)

// Snapshot is one immutable sample of run state. Treat it as a value: the
// collector hands out a fresh copy on every call and never mutates it after.
type Snapshot struct {
	Timestamp           time.Time `json:"timestamp"`
	FilesProcessed      int       `json:"files_processed"`
	TotalFiles          int       `json:"total_files"`
	RecordsProcessed    int64     `json:"records_processed"`
	FilesPerMinute      float64   `json:"files_per_minute"`
	RecordsPerSecond    float64   `json:"records_per_second"`
	ActiveDBConnections int       `json:"active_db_connections"`
	HeapUtilization     float64   `json:"heap_utilization"` // fraction in [0,1]
	TotalErrors         int64     `json:"total_errors"`
	FailedFiles         int       `json:"failed_files"`
	CriticalErrorTypes  []string  `json:"critical_error_types,omitempty"` // sorted
}

// PercentComplete returns processed/total as a percentage, 0 when the total
// is not yet known.
func (s Snapshot) PercentComplete() float64 {
	if s.TotalFiles <= 0 {
		return 0
	}
	return float64(s.FilesProcessed) / float64(s.TotalFiles) * 100
}

// FilesRemaining is never negative.
func (s Snapshot) FilesRemaining() int {
	return max(0, s.TotalFiles-s.FilesProcessed)
}

// HasCriticalError reports whether any observed error type appears in critical.
func (s Snapshot) HasCriticalError(critical []string) bool {
	for _, t := range s.CriticalErrorTypes {
		if slices.Contains(critical, t) {
			return true
		}
	}
	return false
}
