package engine

import (
	"log/slog"

	"github.com/ashita-ai/choritsu/internal/model"
)

// NopTracker ignores every event.
type NopTracker[T, V any] struct{}

func (NopTracker[T, V]) OnStart(int)                                            {}
func (NopTracker[T, V]) OnWorkItemStart(T)                                      {}
func (NopTracker[T, V]) OnWorkItemComplete(T, int, []model.ProcessingResult[V]) {}
func (NopTracker[T, V]) OnWorkItemFailure(T, error)                             {}
func (NopTracker[T, V]) ReportProgress(int, int)                                {}
func (NopTracker[T, V]) OnComplete(model.ExecutionResult)                       {}

// LogTracker writes run progress to a structured logger.
type LogTracker[T, V any] struct {
	logger *slog.Logger
}

// NewLogTracker returns a tracker logging to logger, or slog.Default when nil.
func NewLogTracker[T, V any](logger *slog.Logger) *LogTracker[T, V] {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTracker[T, V]{logger: logger}
}

func (t *LogTracker[T, V]) OnStart(total int) {
	t.logger.Info("engine: run started", "work_items", total)
}

func (t *LogTracker[T, V]) OnWorkItemStart(item T) {
	t.logger.Debug("engine: work item started", "item", item)
}

func (t *LogTracker[T, V]) OnWorkItemComplete(item T, records int, results []model.ProcessingResult[V]) {
	t.logger.Debug("engine: work item complete", "item", item, "records", records, "failed", model.CountFailures(results))
}

func (t *LogTracker[T, V]) OnWorkItemFailure(item T, err error) {
	t.logger.Warn("engine: work item failed", "item", item, "error", err)
}

func (t *LogTracker[T, V]) ReportProgress(processed, total int) {
	t.logger.Info("engine: progress", "processed", processed, "total", total)
}

func (t *LogTracker[T, V]) OnComplete(r model.ExecutionResult) {
	t.logger.Info("engine: run complete",
		"run_id", r.RunID,
		"success", r.Success,
		"abort_reason", r.AbortReason,
		"work_items", r.WorkItemsProcessed,
		"records", r.RecordsProcessed,
		"errors", r.TotalErrors,
		"duration", r.Duration(),
	)
}
