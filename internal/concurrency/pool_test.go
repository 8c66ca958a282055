package concurrency_test

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/choritsu/internal/concurrency"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func newController(t *testing.T, workItems, processing int, opts ...concurrency.Option) *concurrency.PoolController {
	t.Helper()
	opts = append([]concurrency.Option{concurrency.WithLogger(testLogger)}, opts...)
	c, err := concurrency.NewPoolController(workItems, processing, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	return c
}

func TestNewPoolController_RejectsNonPositiveSizes(t *testing.T) {
	_, err := concurrency.NewPoolController(0, 5)
	assert.Error(t, err)
	_, err = concurrency.NewPoolController(5, -1)
	assert.Error(t, err)
}

func TestParseSaturationPolicy(t *testing.T) {
	p, err := concurrency.ParseSaturationPolicy("caller_runs")
	require.NoError(t, err)
	assert.Equal(t, concurrency.CallerRuns, p)

	_, err = concurrency.ParseSaturationPolicy("drop")
	assert.Error(t, err)
}

func TestPoolController_CurrentSettings(t *testing.T) {
	c := newController(t, 4, 2)
	s := c.CurrentSettings()
	assert.Equal(t, 4, s.WorkItems)
	assert.Equal(t, 2, s.Processing)
	assert.Equal(t, "ants", s.Implementation)
}

func TestPoolController_SubmitRunsTasks(t *testing.T) {
	c := newController(t, 3, 3)
	var n atomic.Int32

	var futures []*concurrency.Future
	for range 20 {
		futures = append(futures, c.SubmitWorkItem(func() { n.Add(1) }))
		futures = append(futures, c.SubmitProcessingTask(func() { n.Add(1) }))
	}
	for _, f := range futures {
		require.NoError(t, f.Wait())
	}
	assert.Equal(t, int32(40), n.Load())
}

func TestPoolController_BoundsConcurrency(t *testing.T) {
	c := newController(t, 2, 1)
	var running, peak atomic.Int32

	var futures []*concurrency.Future
	for range 10 {
		futures = append(futures, c.SubmitWorkItem(func() {
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}))
	}
	for _, f := range futures {
		require.NoError(t, f.Wait())
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolController_PanicBecomesError(t *testing.T) {
	c := newController(t, 1, 1)
	err := c.SubmitWorkItem(func() { panic("boom") }).Wait()
	require.ErrorIs(t, err, concurrency.ErrTaskPanicked)
	assert.Contains(t, err.Error(), "boom")

	// The pool keeps working after a panic.
	require.NoError(t, c.SubmitWorkItem(func() {}).Wait())
}

func TestPoolController_SubmitAfterShutdown(t *testing.T) {
	c := newController(t, 1, 1)
	c.Shutdown()
	c.Shutdown()

	assert.ErrorIs(t, c.SubmitWorkItem(func() {}).Wait(), concurrency.ErrShutdown)
	assert.ErrorIs(t, c.SubmitProcessingTask(func() {}).Wait(), concurrency.ErrShutdown)
}

func TestPoolController_AdjustConcurrency(t *testing.T) {
	c := newController(t, 4, 2)

	c.AdjustConcurrency(8, 6)
	assert.Equal(t, 8, c.CurrentSettings().WorkItems)
	assert.Equal(t, 6, c.CurrentSettings().Processing)

	c.AdjustConcurrency(0, 3)
	assert.Equal(t, 8, c.CurrentSettings().WorkItems, "sizes below one are ignored")
	assert.Equal(t, 3, c.CurrentSettings().Processing)
}

func TestPoolController_CallerRunsWhenSaturated(t *testing.T) {
	c := newController(t, 1, 1, concurrency.WithSaturationPolicy(concurrency.CallerRuns))

	release := make(chan struct{})
	started := make(chan struct{})
	busy := c.SubmitWorkItem(func() {
		close(started)
		<-release
	})
	<-started

	var ranInline bool
	caller := make(chan struct{})
	go func() {
		defer close(caller)
		f := c.SubmitWorkItem(func() { ranInline = true })
		// Under CallerRuns the task has already run by the time Submit returns.
		select {
		case <-f.Done():
		default:
			t.Error("expected the overflow task to complete inline")
		}
	}()
	<-caller
	close(release)

	require.NoError(t, busy.Wait())
	assert.True(t, ranInline)
}

func TestPoolController_AwaitTermination(t *testing.T) {
	c := newController(t, 2, 2)
	assert.False(t, c.AwaitTermination(10*time.Millisecond), "not shut down yet")

	var wg sync.WaitGroup
	wg.Add(2)
	c.SubmitWorkItem(func() { defer wg.Done(); time.Sleep(20 * time.Millisecond) })
	c.SubmitProcessingTask(func() { defer wg.Done(); time.Sleep(20 * time.Millisecond) })

	c.Shutdown()
	assert.True(t, c.AwaitTermination(2*time.Second))
	wg.Wait()
}

func TestPoolController_AwaitTerminationSharesOneDeadline(t *testing.T) {
	c := newController(t, 1, 1)
	release := make(chan struct{})
	defer close(release)

	c.SubmitWorkItem(func() { <-release })
	c.SubmitProcessingTask(func() { <-release })
	c.Shutdown()

	start := time.Now()
	ok := c.AwaitTermination(100 * time.Millisecond)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.Less(t, elapsed, 190*time.Millisecond, "both pools must share the caller's budget")
}
