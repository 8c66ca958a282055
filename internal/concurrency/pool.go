package concurrency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/choritsu/internal/telemetry"
)

// SaturationPolicy decides what a submitter does when every worker is busy.
type SaturationPolicy string

const (
	// Block makes the submitter wait for a free worker.
	Block SaturationPolicy = "block"
	// CallerRuns executes the task on the submitting goroutine instead.
	CallerRuns SaturationPolicy = "caller_runs"
)

// ParseSaturationPolicy accepts "block" or "caller_runs".
func ParseSaturationPolicy(s string) (SaturationPolicy, error) {
	switch p := SaturationPolicy(s); p {
	case Block, CallerRuns:
		return p, nil
	default:
		return "", fmt.Errorf("concurrency: unknown saturation policy %q", s)
	}
}

const implementation = "ants"

// Option configures a PoolController.
type Option func(*PoolController)

// WithSaturationPolicy sets the backpressure policy for both pools.
func WithSaturationPolicy(p SaturationPolicy) Option {
	return func(c *PoolController) { c.policy = p }
}

// WithLogger sets the controller's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *PoolController) { c.logger = logger }
}

// pool pairs an ants pool with an in-flight counter so AwaitTermination can
// wait for work that ants has already handed to a worker.
type pool struct {
	name     string
	ants     *ants.Pool
	inflight sync.WaitGroup
}

// PoolController is a Controller backed by two ants pools.
type PoolController struct {
	workItems  *pool
	processing *pool
	policy     SaturationPolicy
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
	reg    metric.Registration
}

// NewPoolController creates both pools at the given sizes.
func NewPoolController(workItems, processing int, opts ...Option) (*PoolController, error) {
	if workItems < 1 || processing < 1 {
		return nil, fmt.Errorf("concurrency: pool sizes must be positive, got %d/%d", workItems, processing)
	}
	c := &PoolController{policy: Block, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	if c.workItems, err = c.newPool("work_item", workItems); err != nil {
		return nil, err
	}
	if c.processing, err = c.newPool("processing", processing); err != nil {
		c.workItems.ants.Release()
		return nil, err
	}
	c.registerMetrics()
	return c, nil
}

func (c *PoolController) newPool(name string, size int) (*pool, error) {
	p, err := ants.NewPool(size,
		ants.WithNonblocking(c.policy == CallerRuns),
		ants.WithLogger(antsLogger{logger: c.logger, pool: name}),
	)
	if err != nil {
		return nil, fmt.Errorf("concurrency: create %s pool: %w", name, err)
	}
	return &pool{name: name, ants: p}, nil
}

// SubmitWorkItem implements Controller.
func (c *PoolController) SubmitWorkItem(task func()) *Future {
	return c.submit(c.workItems, task)
}

// SubmitProcessingTask implements Controller.
func (c *PoolController) SubmitProcessingTask(task func()) *Future {
	return c.submit(c.processing, task)
}

func (c *PoolController) submit(p *pool, task func()) *Future {
	// Adding under the lock keeps every Add ahead of Shutdown, so the
	// WaitGroup is never incremented while AwaitTermination waits on it.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Completed(ErrShutdown)
	}
	p.inflight.Add(1)
	c.mu.Unlock()

	f := newFuture()
	run := func() {
		defer p.inflight.Done()
		f.complete(runTask(task))
	}

	err := p.ants.Submit(run)
	switch {
	case err == nil:
	case errors.Is(err, ants.ErrPoolOverload) && c.policy == CallerRuns:
		run()
	case errors.Is(err, ants.ErrPoolClosed):
		p.inflight.Done()
		f.complete(ErrShutdown)
	default:
		p.inflight.Done()
		f.complete(fmt.Errorf("concurrency: submit to %s pool: %w", p.name, err))
	}
	return f
}

func runTask(task func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	task()
	return nil
}

// AdjustConcurrency implements Controller. Sizes below one are ignored.
func (c *PoolController) AdjustConcurrency(workItems, processing int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	before := c.settingsLocked()
	if workItems >= 1 {
		c.workItems.ants.Tune(workItems)
	}
	if processing >= 1 {
		c.processing.ants.Tune(processing)
	}
	after := c.settingsLocked()
	c.logger.Info("concurrency: pools resized",
		"work_items_from", before.WorkItems, "work_items_to", after.WorkItems,
		"processing_from", before.Processing, "processing_to", after.Processing,
	)
}

// CurrentSettings implements Controller.
func (c *PoolController) CurrentSettings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settingsLocked()
}

func (c *PoolController) settingsLocked() Settings {
	return Settings{
		WorkItems:      c.workItems.ants.Cap(),
		Processing:     c.processing.ants.Cap(),
		Implementation: implementation,
	}
}

// Shutdown implements Controller.
func (c *PoolController) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	reg := c.reg
	c.mu.Unlock()

	c.workItems.ants.Release()
	c.processing.ants.Release()
	if reg != nil {
		_ = reg.Unregister()
	}
	c.logger.Debug("concurrency: controller shut down")
}

// AwaitTermination implements Controller. It returns false immediately if
// Shutdown has not been called.
func (c *PoolController) AwaitTermination(timeout time.Duration) bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		return false
	}

	deadline := time.Now().Add(timeout)
	for _, p := range []*pool{c.workItems, c.processing} {
		if !waitUntil(&p.inflight, deadline) {
			c.logger.Warn("concurrency: pool did not drain before deadline", "pool", p.name)
			return false
		}
	}
	return true
}

func waitUntil(wg *sync.WaitGroup, deadline time.Time) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// registerMetrics publishes pool capacity and load as observable gauges.
// The registration is dropped on Shutdown.
func (c *PoolController) registerMetrics() {
	meter := telemetry.Meter("choritsu/concurrency")

	capacity, err1 := meter.Int64ObservableGauge("choritsu.pool.capacity",
		metric.WithDescription("Configured worker count per pool"))
	running, err2 := meter.Int64ObservableGauge("choritsu.pool.running",
		metric.WithDescription("Workers currently executing a task"))
	waiting, err3 := meter.Int64ObservableGauge("choritsu.pool.waiting",
		metric.WithDescription("Submitters blocked waiting for a worker"))
	if err := errors.Join(err1, err2, err3); err != nil {
		c.logger.Warn("concurrency: create pool instruments", "error", err)
		return
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, p := range []*pool{c.workItems, c.processing} {
			attrs := metric.WithAttributes(attribute.String("pool", p.name))
			o.ObserveInt64(capacity, int64(p.ants.Cap()), attrs)
			o.ObserveInt64(running, int64(p.ants.Running()), attrs)
			o.ObserveInt64(waiting, int64(p.ants.Waiting()), attrs)
		}
		return nil
	}, capacity, running, waiting)
	if err != nil {
		c.logger.Warn("concurrency: register pool metrics", "error", err)
		return
	}
	c.mu.Lock()
	c.reg = reg
	c.mu.Unlock()
}

// antsLogger routes ants' internal messages into slog.
type antsLogger struct {
	logger *slog.Logger
	pool   string
}

func (l antsLogger) Printf(format string, args ...any) {
	l.logger.Warn("concurrency: "+fmt.Sprintf(format, args...), "pool", l.pool)
}
