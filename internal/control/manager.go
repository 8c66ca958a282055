// Package control closes the feedback loop of a run: it scores goals against
// a metrics snapshot, aborts on a critical violation, and otherwise applies
// one bounded concurrency adjustment chosen from the goals' strategies.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/ashita-ai/choritsu/internal/concurrency"
	"github.com/ashita-ai/choritsu/internal/goal"
	"github.com/ashita-ai/choritsu/internal/metrics"
	"github.com/ashita-ai/choritsu/internal/strategy"
	"github.com/ashita-ai/choritsu/internal/telemetry"
)

const (
	// DefaultCooldown is the minimum gap between two adjustments.
	DefaultCooldown = 10 * time.Minute

	fallbackWorkItems  = 10
	fallbackProcessing = 5

	abortPrefix = "Critical goal violations detected: "
)

var tracer = telemetry.Tracer("choritsu/control")

// Engine is the part of a running engine the manager steers.
type Engine interface {
	Abort(reason string)
	AdjustConcurrency(workItems, processing int)
	CurrentSettings() concurrency.Settings
}

// Dials are the two concurrency values the manager controls.
type Dials struct {
	WorkItems  int
	Processing int
}

func (d Dials) String() string {
	return fmt.Sprintf("%d/%d", d.WorkItems, d.Processing)
}

// Bounds are the inclusive safety limits applied to every adjustment,
// independent of the sizes the controller was built with.
type Bounds struct {
	MinWorkItems  int
	MaxWorkItems  int
	MinProcessing int
	MaxProcessing int
}

// DefaultBounds allows 1-30 work items and 1-20 processing tasks.
func DefaultBounds() Bounds {
	return Bounds{MinWorkItems: 1, MaxWorkItems: 30, MinProcessing: 1, MaxProcessing: 20}
}

// Validate rejects empty or non-positive ranges.
func (b Bounds) Validate() error {
	if b.MinWorkItems < 1 || b.MinProcessing < 1 {
		return fmt.Errorf("control: bounds minimums must be at least 1, got %d/%d", b.MinWorkItems, b.MinProcessing)
	}
	if b.MaxWorkItems < b.MinWorkItems || b.MaxProcessing < b.MinProcessing {
		return fmt.Errorf("control: bounds maximums must not be below minimums, got [%d,%d] [%d,%d]",
			b.MinWorkItems, b.MaxWorkItems, b.MinProcessing, b.MaxProcessing)
	}
	return nil
}

// Clamp limits each dial to its range.
func (b Bounds) Clamp(d Dials) Dials {
	return Dials{
		WorkItems:  min(max(d.WorkItems, b.MinWorkItems), b.MaxWorkItems),
		Processing: min(max(d.Processing, b.MinProcessing), b.MaxProcessing),
	}
}

// Outcome classifies what one EvaluateAndAdjust call did.
type Outcome string

const (
	// OutcomeCooldown: inside the cooldown window, no adjustment considered.
	OutcomeCooldown Outcome = "cooldown"
	// OutcomeAborted: a critical goal was violated and the engine was aborted.
	OutcomeAborted Outcome = "aborted"
	// OutcomeAdjusted: the engine was resized.
	OutcomeAdjusted Outcome = "adjusted"
	// OutcomeClamped: an adjustment was chosen but clamping left the dials as they were.
	OutcomeClamped Outcome = "clamped"
	// OutcomeUnchanged: no goal asked for a change, or a conflict had no goal at risk.
	OutcomeUnchanged Outcome = "unchanged"
)

// Decision records one control cycle.
type Decision struct {
	ID          uuid.UUID
	At          time.Time
	Outcome     Outcome
	Evaluations []goal.Evaluation
	Adjustment  strategy.Adjustment
	Goal        string // goal whose recommendation was selected; "" when none
	Before      Dials
	After       Dials
	AbortReason string
}

// Option configures a Manager.
type Option func(*Manager)

// WithCooldown sets the minimum time between adjustments. Zero disables the
// cooldown.
func WithCooldown(d time.Duration) Option {
	return func(m *Manager) { m.cooldown = d }
}

// WithBounds replaces DefaultBounds.
func WithBounds(b Bounds) Option {
	return func(m *Manager) { m.bounds = b }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithCriticalCheckDuringCooldown controls whether goals are still evaluated
// for a critical violation while the cooldown is active. Enabled by default.
func WithCriticalCheckDuringCooldown(enabled bool) Option {
	return func(m *Manager) { m.criticalDuringCooldown = enabled }
}

// Manager is the runtime control loop for one run. It is safe for
// concurrent use; calls to EvaluateAndAdjust are serialized.
type Manager struct {
	engine     Engine
	goals      []goal.Goal
	strategies map[goal.Goal]strategy.Strategy

	bounds                 Bounds
	cooldown               time.Duration
	criticalDuringCooldown bool
	now                    func() time.Time
	logger                 *slog.Logger
	cooldownLog            rate.Sometimes
	decisions              metric.Int64Counter

	mu           sync.Mutex
	current      Dials
	lastAdjusted time.Time // zero: never adjusted
}

// NewManager builds a manager for engine. Goals without an entry in
// strategies are observational (NoOp). The manager's dials start at the
// engine's current settings.
func NewManager(engine Engine, goals []goal.Goal, strategies map[goal.Goal]strategy.Strategy, opts ...Option) (*Manager, error) {
	if engine == nil {
		return nil, fmt.Errorf("control: engine is required")
	}
	m := &Manager{
		engine:                 engine,
		goals:                  append([]goal.Goal(nil), goals...),
		strategies:             make(map[goal.Goal]strategy.Strategy, len(goals)),
		bounds:                 DefaultBounds(),
		cooldown:               DefaultCooldown,
		criticalDuringCooldown: true,
		now:                    time.Now,
		logger:                 slog.Default(),
		cooldownLog:            rate.Sometimes{First: 1, Interval: time.Minute},
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.bounds.Validate(); err != nil {
		return nil, err
	}
	if m.cooldown < 0 {
		return nil, fmt.Errorf("control: cooldown must not be negative, got %s", m.cooldown)
	}

	for _, g := range m.goals {
		if g == nil {
			return nil, fmt.Errorf("control: nil goal")
		}
		s, ok := strategies[g]
		if !ok || s == nil {
			s = strategy.NoOp{}
		}
		m.strategies[g] = s
	}

	settings := engine.CurrentSettings()
	m.current = Dials{WorkItems: settings.WorkItems, Processing: settings.Processing}
	if m.current.WorkItems <= 0 {
		m.current.WorkItems = fallbackWorkItems
	}
	if m.current.Processing <= 0 {
		m.current.Processing = fallbackProcessing
	}

	counter, err := telemetry.Meter("choritsu/control").Int64Counter("choritsu.control.decisions",
		metric.WithDescription("Control cycles by outcome"))
	if err != nil {
		m.logger.Warn("control: create decisions counter", "error", err)
	}
	m.decisions = counter
	return m, nil
}

// CurrentSettings returns the dials the manager believes are in effect.
func (m *Manager) CurrentSettings() Dials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// LastAdjusted returns when the last adjustment decision was made, or the
// zero time.
func (m *Manager) LastAdjusted() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAdjusted
}

// EvaluateAndAdjust runs one control cycle against snap.
func (m *Manager) EvaluateAndAdjust(ctx context.Context, snap metrics.Snapshot) Decision {
	ctx, span := tracer.Start(ctx, "control.evaluate_and_adjust")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	d := Decision{ID: uuid.New(), At: now, Before: m.current, After: m.current, Adjustment: strategy.NoChange()}
	defer func() {
		span.SetAttributes(
			attribute.String("outcome", string(d.Outcome)),
			attribute.String("goal", d.Goal),
			attribute.Int("work_items", d.After.WorkItems),
			attribute.Int("processing", d.After.Processing),
		)
		if m.decisions != nil {
			m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(d.Outcome))))
		}
	}()

	cooling := m.inCooldown(now)
	if cooling && !m.criticalDuringCooldown {
		d.Outcome = OutcomeCooldown
		m.logCooldown(now)
		return d
	}

	d.Evaluations = make([]goal.Evaluation, len(m.goals))
	for i, g := range m.goals {
		d.Evaluations[i] = g.CheckStatus(snap)
	}

	if reason, ok := abortReason(d.Evaluations); ok {
		d.Outcome = OutcomeAborted
		d.AbortReason = reason
		m.logger.Warn("control: aborting run", "reason", reason, "percent_complete", snap.PercentComplete())
		m.engine.Abort(reason)
		return d
	}

	if cooling {
		d.Outcome = OutcomeCooldown
		m.logCooldown(now)
		return d
	}

	recs := make([]strategy.Adjustment, len(m.goals))
	for i, g := range m.goals {
		recs[i] = m.strategies[g].RecommendAdjustment(d.Evaluations[i])
	}

	chosen, idx := resolve(d.Evaluations, recs)
	if chosen.IsNoChange() {
		d.Outcome = OutcomeUnchanged
		m.logger.Debug("control: no adjustment", "dials", m.current)
		return d
	}
	d.Adjustment = chosen
	d.Goal = d.Evaluations[idx].GoalName()

	next := m.bounds.Clamp(Dials{
		WorkItems:  m.current.WorkItems + chosen.WorkItemDelta(),
		Processing: m.current.Processing + chosen.ProcessingDelta(),
	})
	m.lastAdjusted = now

	if next == m.current {
		d.Outcome = OutcomeClamped
		m.logger.Info("control: adjustment clamped to current dials",
			"goal", d.Goal, "reason", chosen.Reason(), "dials", m.current)
		return d
	}

	m.engine.AdjustConcurrency(next.WorkItems, next.Processing)
	m.current = next
	d.After = next
	d.Outcome = OutcomeAdjusted
	m.logger.Info("control: adjusted concurrency",
		"goal", d.Goal,
		"reason", chosen.Reason(),
		"work_items", next.WorkItems,
		"processing", next.Processing,
		"before", d.Before,
	)
	return d
}

func (m *Manager) inCooldown(now time.Time) bool {
	return !m.lastAdjusted.IsZero() && now.Sub(m.lastAdjusted) < m.cooldown
}

func (m *Manager) logCooldown(now time.Time) {
	m.cooldownLog.Do(func() {
		m.logger.Debug("control: in cooldown", "remaining", m.cooldown-now.Sub(m.lastAdjusted))
	})
}

// abortReason names every critical violation, in goal order.
func abortReason(evals []goal.Evaluation) (string, bool) {
	var names []string
	for _, e := range evals {
		if e.CriticalViolation() {
			names = append(names, e.GoalName())
		}
	}
	if len(names) == 0 {
		return "", false
	}
	return abortPrefix + strings.Join(names, ", "), true
}

// resolve picks one recommendation without blending. It returns the chosen
// adjustment and the index of the goal it came from, or NoChange and -1.
//
// Increases and decreases in the same cycle are a conflict: the most severe
// goal that is at risk or violated wins and its own recommendation is used.
// Otherwise the largest recommendation in the one direction wins. Ties go to
// the earlier goal.
func resolve(evals []goal.Evaluation, recs []strategy.Adjustment) (strategy.Adjustment, int) {
	var increases, decreases []int
	for i, r := range recs {
		switch {
		case r.IsNoChange():
		case r.IsIncrease():
			increases = append(increases, i)
		case r.IsDecrease():
			decreases = append(decreases, i)
		}
	}

	switch {
	case len(increases) > 0 && len(decreases) > 0:
		best := -1
		for i, e := range evals {
			if !e.NeedsAttention() {
				continue
			}
			if best < 0 || goal.SeverityRank(e.Severity) > goal.SeverityRank(evals[best].Severity) {
				best = i
			}
		}
		if best < 0 {
			return strategy.NoChange(), -1
		}
		return recs[best], best
	case len(increases) > 0:
		return largest(recs, increases)
	case len(decreases) > 0:
		return largest(recs, decreases)
	default:
		return strategy.NoChange(), -1
	}
}

func largest(recs []strategy.Adjustment, idx []int) (strategy.Adjustment, int) {
	best := idx[0]
	for _, i := range idx[1:] {
		if recs[i].Magnitude() > recs[best].Magnitude() {
			best = i
		}
	}
	return recs[best], best
}
