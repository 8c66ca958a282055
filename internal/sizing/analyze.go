// Package sizing picks the starting concurrency of a run from the size of
// its workload and the resources available when it starts.
package sizing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ashita-ai/choritsu/internal/model"
)

var (
	// ErrNoEstimate is returned for Estimated sizing without a per-item estimate.
	ErrNoEstimate = errors.New("sizing: estimated sizing requires records per item")
	// ErrNoCounter is returned for Dynamic sizing without a RecordCounter.
	ErrNoCounter = errors.New("sizing: dynamic sizing requires a record counter")
)

// Strategy says how the record total of a workload is learned.
type Strategy string

const (
	// Static skips analysis; the run starts at the configured minimums.
	Static Strategy = "static"
	// Estimated multiplies the item count by a fixed records-per-item guess.
	Estimated Strategy = "estimated"
	// Dynamic asks a RecordCounter for the exact total.
	Dynamic Strategy = "dynamic"
)

// ParseStrategy accepts a strategy name in any case.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case Static, Estimated, Dynamic:
		return st, nil
	default:
		return "", fmt.Errorf("sizing: unknown strategy %q", s)
	}
}

// RecordCounter counts the records a workload will produce, typically with a
// cheap query against the source.
type RecordCounter interface {
	Count(ctx context.Context, ec *model.ExecutionContext) (int64, error)
}

// RecordCounterFunc adapts a function to RecordCounter.
type RecordCounterFunc func(ctx context.Context, ec *model.ExecutionContext) (int64, error)

// Count implements RecordCounter.
func (f RecordCounterFunc) Count(ctx context.Context, ec *model.ExecutionContext) (int64, error) {
	return f(ctx, ec)
}

// Category buckets a workload by its item count.
type Category string

const (
	Small  Category = "small"
	Medium Category = "medium"
	Large  Category = "large"
)

// Analysis describes a workload. TotalRecords and AveragePerItem are -1
// when unknown.
type Analysis struct {
	WorkItems      int
	TotalRecords   int64
	AveragePerItem int64
}

// Categorize returns Small below small items, Medium below medium, and Large
// otherwise.
func (a Analysis) Categorize(small, medium int) Category {
	switch {
	case a.WorkItems < small:
		return Small
	case a.WorkItems < medium:
		return Medium
	default:
		return Large
	}
}

// Analyze sizes a workload of itemCount items. estimatedPerItem is only read
// for Estimated sizing and counter only for Dynamic sizing.
func Analyze(ctx context.Context, s Strategy, itemCount int, estimatedPerItem int64, counter RecordCounter, ec *model.ExecutionContext) (Analysis, error) {
	var total int64
	switch s {
	case Static:
		total = -1
	case Estimated:
		if estimatedPerItem <= 0 {
			return Analysis{}, ErrNoEstimate
		}
		total = int64(itemCount) * estimatedPerItem
	case Dynamic:
		if counter == nil {
			return Analysis{}, ErrNoCounter
		}
		n, err := counter.Count(ctx, ec)
		if err != nil {
			return Analysis{}, fmt.Errorf("sizing: count records: %w", err)
		}
		total = n
	default:
		return Analysis{}, fmt.Errorf("sizing: unknown strategy %q", s)
	}

	avg := int64(-1)
	if total > 0 && itemCount > 0 {
		avg = total / int64(itemCount)
	}
	return Analysis{WorkItems: itemCount, TotalRecords: total, AveragePerItem: avg}, nil
}
