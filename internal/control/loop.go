package control

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashita-ai/choritsu/internal/metrics"
)

const (
	DefaultInitialDelay = time.Minute
	DefaultInterval     = 5 * time.Minute
)

// SnapshotSource produces a fresh metrics snapshot per tick.
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
}

// Evaluator runs one control cycle. *Manager implements it.
type Evaluator interface {
	EvaluateAndAdjust(ctx context.Context, snap metrics.Snapshot) Decision
}

// Loop drives an Evaluator on a fixed schedule until stopped. Without a
// running driver no adjustment or abort ever happens.
type Loop struct {
	evaluator    Evaluator
	source       SnapshotSource
	initialDelay time.Duration
	interval     time.Duration
	logger       *slog.Logger

	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	ticks   atomic.Int64
}

// NewLoop returns a stopped loop. Non-positive durations fall back to
// DefaultInitialDelay and DefaultInterval.
func NewLoop(evaluator Evaluator, source SnapshotSource, initialDelay, interval time.Duration, logger *slog.Logger) *Loop {
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		evaluator:    evaluator,
		source:       source,
		initialDelay: initialDelay,
		interval:     interval,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// Start launches the loop in the background. Only the first call has effect.
func (l *Loop) Start(ctx context.Context) {
	if !l.started.CompareAndSwap(false, true) {
		l.logger.Warn("control: loop Start called more than once, ignoring")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.run(loopCtx)
}

// Stop cancels the loop and waits for an in-flight cycle to finish. It is a
// no-op if the loop was never started.
func (l *Loop) Stop() {
	if !l.started.Load() {
		return
	}
	l.once.Do(l.cancel)
	<-l.done
}

// Ticks is the number of completed control cycles.
func (l *Loop) Ticks() int64 {
	return l.ticks.Load()
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	delay := time.NewTimer(l.initialDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return
	case <-delay.C:
	}
	l.tick(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("control: cycle panicked", "panic", r)
		}
		l.ticks.Add(1)
	}()
	d := l.evaluator.EvaluateAndAdjust(ctx, l.source.Snapshot())
	l.logger.Debug("control: cycle", "decision_id", d.ID, "outcome", d.Outcome, "dials", d.After)
}
