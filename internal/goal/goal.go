// Package goal defines the targets a run is scored against. Each Goal turns a
// metrics.Snapshot into an Evaluation carrying a status, a severity, and a
// goal-specific metric map that strategies read.
//
// Goals are stateful (they remember their last status and, for deadline
// goals, when they were created) and must not be reused across runs.
package goal

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashita-ai/choritsu/internal/metrics"
)

// Status is the outcome of evaluating a goal.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusMet        Status = "met"
	StatusAtRisk     Status = "at_risk"
	StatusViolated   Status = "violated"
)

// Severity says how much a goal matters when goals disagree.
// Declared in priority order; compare with SeverityRank, never by position.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SeverityRank returns the priority of s (higher wins). Unknown severities
// rank below low.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity accepts the lowercase or uppercase name of a severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if SeverityRank(sev) == 0 {
		return "", fmt.Errorf("goal: unknown severity %q", s)
	}
	return sev, nil
}

// Goal is a target condition evaluated against live metrics.
type Goal interface {
	Name() string
	Severity() Severity
	// CheckStatus evaluates the snapshot, records the resulting status, and
	// returns a fresh Evaluation.
	CheckStatus(s metrics.Snapshot) Evaluation
	// CurrentStatus is the status recorded by the most recent CheckStatus.
	CurrentStatus() Status
}

// Option configures a goal.
type Option func(*options)

type options struct {
	name             string
	severity         Severity
	logger           *slog.Logger
	now              func() time.Time
	minSampleRecords int64
}

// WithName overrides the goal's default name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithSeverity overrides the goal's default severity.
func WithSeverity(s Severity) Option {
	return func(o *options) { o.severity = s }
}

// WithLogger sets the logger used for status transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces time.Now for deadline goals.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMinSampleRecords sets how many records an error goal waits for before
// it starts judging the error rate. Count-based checks are unaffected.
func WithMinSampleRecords(n int64) Option {
	return func(o *options) { o.minSampleRecords = n }
}

func resolve(name string, severity Severity, opts []Option) options {
	o := options{
		name:             name,
		severity:         severity,
		logger:           slog.Default(),
		now:              time.Now,
		minSampleRecords: defaultMinSampleRecords,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// state is the bookkeeping every goal shares: identity plus the last status.
type state struct {
	name     string
	severity Severity
	logger   *slog.Logger

	mu     sync.Mutex
	status Status
}

func newState(o options) state {
	return state{name: o.name, severity: o.severity, logger: o.logger, status: StatusNotStarted}
}

func (s *state) Name() string       { return s.name }
func (s *state) Severity() Severity { return s.severity }

func (s *state) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// record stores next, logging when it differs from the previous status, and
// builds the Evaluation for g.
func (s *state) record(g Goal, next Status, m Metrics) Evaluation {
	s.mu.Lock()
	prev := s.status
	s.status = next
	s.mu.Unlock()

	if prev != next {
		s.logger.Info("goal: status changed", "goal", s.name, "from", prev, "to", next, "severity", s.severity)
	}
	return Evaluation{Goal: g, Status: next, Metrics: m, Severity: s.severity}
}
