// Package choritsu runs batch jobs whose concurrency adapts while they run.
//
// A batch is a sequence of steps. Each step fetches work items, reads them
// into records, and processes the records in batches on two resizable worker
// pools. Goals (deadline, resources, errors) are evaluated on a timer and a
// runtime manager turns their recommendations into pool resizes or an abort.
//
//	app, err := choritsu.New(
//	    choritsu.WithLogger(logger),
//	    choritsu.WithPolicyFile("goals.yaml"),
//	)
//	if err != nil { ... }
//	defer app.Close(ctx)
//
//	res := app.Run(ctx, &choritsu.Batch{
//	    Name:   "nightly-ingest",
//	    Sizing: choritsu.Estimated,
//	    Steps:  []choritsu.Step{ingest, reconcile},
//	}, nil)
//
// The import graph is one-way: choritsu (root) imports internal/*, and
// internal/* never imports the root package. Public names are aliases of the
// internal types.
package choritsu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/ashita-ai/choritsu/internal/concurrency"
	"github.com/ashita-ai/choritsu/internal/config"
	"github.com/ashita-ai/choritsu/internal/model"
	"github.com/ashita-ai/choritsu/internal/pipeline"
	"github.com/ashita-ai/choritsu/internal/policy"
	"github.com/ashita-ai/choritsu/internal/sizing"
	"github.com/ashita-ai/choritsu/internal/storage"
	"github.com/ashita-ai/choritsu/internal/telemetry"
)

// ErrNoDatabase is returned by NewCopyProcessor when the App has no database.
var ErrNoDatabase = errors.New("choritsu: no database configured")

// App holds the shared infrastructure of batch runs. Construct with New.
// App has no public fields; use New() options to configure it. Run may be
// called concurrently.
type App struct {
	cfg          config.Config
	db           *storage.DB // nil when no database is configured
	executor     *pipeline.Executor
	goals        GoalFactory // nil when no default goals
	limits       Limits
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
	closed       atomic.Bool
}

// New loads configuration, initialises telemetry, connects to the database
// when one is configured, and returns an App ready to run batches.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyOverrides(&cfg, o)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if logger == nil {
		lvl, _ := cfg.SlogLevel()
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	limits := Limits{
		MinWorkItems:  cfg.MinWorkItems,
		MaxWorkItems:  cfg.MaxWorkItems,
		MinProcessing: cfg.MinProcessing,
		MaxProcessing: cfg.MaxProcessing,
	}
	if o.limits != nil {
		limits = *o.limits
	}
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("limits: %w", err)
	}

	goals := o.goals
	if goals == nil && cfg.PolicyFile != "" {
		p, err := policy.Load(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		goals = p
	}

	logger.Info("choritsu starting", "version", version, "database", cfg.DatabaseURL != "", "goals", goals != nil)

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	execOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithEvaluation(cfg.EvalInitialDelay, cfg.EvalInterval),
		pipeline.WithCooldown(cfg.Cooldown),
		pipeline.WithSaturationPolicy(concurrency.SaturationPolicy(cfg.SaturationPolicy)),
		pipeline.WithBatchSize(cfg.BatchSize),
	}

	var db *storage.DB
	if cfg.DatabaseURL != "" {
		db, err = storage.New(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", err)
		}
		execOpts = append(execOpts, pipeline.WithConnections(db.Stats()))
	}

	return &App{
		cfg:          cfg,
		db:           db,
		executor:     pipeline.NewExecutor(execOpts...),
		goals:        goals,
		limits:       limits,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

func applyOverrides(cfg *config.Config, o resolvedOptions) {
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.policyFile != "" {
		cfg.PolicyFile = o.policyFile
	}
	if o.evalInitialDelay > 0 {
		cfg.EvalInitialDelay = o.evalInitialDelay
	}
	if o.evalInterval > 0 {
		cfg.EvalInterval = o.evalInterval
	}
	if o.cooldown != nil {
		cfg.Cooldown = *o.cooldown
	}
	if o.saturation != "" {
		cfg.SaturationPolicy = string(o.saturation)
	}
}

// Run executes the batch. A batch without goals uses the App's default goals,
// and a batch without limits uses the App's limits. A nil ec starts empty.
func (a *App) Run(ctx context.Context, b *Batch, ec *ExecutionContext) BatchResult {
	if a.closed.Load() {
		return BatchResult{Batch: b.Name, Aborted: true, AbortReason: "choritsu: app is closed"}
	}
	batch := *b
	if batch.Goals == nil {
		batch.Goals = a.goals
	}
	if batch.Limits == (Limits{}) {
		batch.Limits = a.limits
	}
	if ec == nil {
		ec = model.NewExecutionContext(nil)
	}
	return a.executor.Execute(ctx, &batch, ec)
}

// Version returns the version given to WithVersion.
func (a *App) Version() string {
	return a.version
}

// HasDatabase reports whether the App is connected to PostgreSQL.
func (a *App) HasDatabase() bool {
	return a.db != nil
}

// Close releases the database pool and flushes telemetry. It is safe to call
// more than once.
func (a *App) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	if a.db != nil {
		a.db.Close()
	}
	if err := a.otelShutdown(ctx); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	a.logger.Info("choritsu stopped")
	return nil
}

// RowFunc maps a record to one table row, with values in column order.
type RowFunc[R any] = storage.RowFunc[R]

// NewCopyProcessor returns a Processor that writes each record batch into
// table ("name" or "schema.name") with a single COPY over the App's pool. Successful results carry the
// record itself. A COPY that fails on a missing table or column also records
// the "schema_mismatch" critical error type.
func NewCopyProcessor[R any](app *App, table string, columns []string, row RowFunc[R]) (Processor[R, R], error) {
	if app.db == nil {
		return nil, ErrNoDatabase
	}
	p, err := storage.NewCopyProcessor(app.db.Pool(), storage.CopyConfig{
		Table:   pgx.Identifier(strings.Split(table, ".")),
		Columns: columns,
		Logger:  app.logger,
	}, row)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DefaultLimits returns the built-in concurrency bounds.
func DefaultLimits() Limits {
	return sizing.DefaultLimits()
}
