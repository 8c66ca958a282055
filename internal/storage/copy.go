package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/choritsu/internal/ctxutil"
	"github.com/ashita-ai/choritsu/internal/model"
	"github.com/ashita-ai/choritsu/internal/telemetry"
)

// CriticalSchemaMismatch is recorded on the run when a COPY fails because
// the target table or a column does not match. List it in an error goal's
// critical types to abort on it.
const CriticalSchemaMismatch = "schema_mismatch"

var tracer = telemetry.Tracer("choritsu/storage")

var copiedRows = sync.OnceValues(func() (metric.Int64Counter, error) {
	return telemetry.Meter("choritsu/storage").Int64Counter("choritsu.storage.copy.rows",
		metric.WithDescription("Rows written by COPY"))
})

// Copier is the COPY method of pgxpool.Pool, pgx.Conn, and pgx.Tx.
type Copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// RowFunc maps a record to one row, with values in CopyConfig.Columns order.
type RowFunc[R any] func(record R) ([]any, error)

// CopyConfig describes the COPY target.
type CopyConfig struct {
	Table      pgx.Identifier
	Columns    []string
	MaxRetries int           // DefaultMaxRetries when zero, no retries when negative
	BaseDelay  time.Duration // DefaultBaseDelay when zero
	Logger     *slog.Logger
}

// CopyProcessor writes each record batch with a single COPY. It satisfies
// engine.Processor[R, R]: the value of a successful result is the record
// itself.
type CopyProcessor[R any] struct {
	copier Copier
	cfg    CopyConfig
	row    RowFunc[R]
}

// NewCopyProcessor returns a processor that copies into cfg.Table.
func NewCopyProcessor[R any](c Copier, cfg CopyConfig, row RowFunc[R]) (*CopyProcessor[R], error) {
	if c == nil {
		return nil, ErrNoPool
	}
	if len(cfg.Table) == 0 {
		return nil, errors.New("storage: copy table is required")
	}
	if len(cfg.Columns) == 0 {
		return nil, errors.New("storage: copy columns are required")
	}
	if row == nil {
		return nil, errors.New("storage: row func is required")
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = DefaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CopyProcessor[R]{copier: c, cfg: cfg, row: row}, nil
}

// Process maps every record to a row and copies the mappable ones. A record
// that cannot be mapped fails alone. A failed COPY fails every copied record
// and is not returned as an error, so the work item still completes.
func (p *CopyProcessor[R]) Process(ctx context.Context, batch []R, _ *model.ExecutionContext) ([]model.ProcessingResult[R], error) {
	results := make([]model.ProcessingResult[R], len(batch))
	rows := make([][]any, 0, len(batch))
	idx := make([]int, 0, len(batch))
	for i, rec := range batch {
		vals, err := p.row(rec)
		switch {
		case err != nil:
			results[i] = model.Failure[R](fmt.Errorf("storage: map row: %w", err))
		case len(vals) != len(p.cfg.Columns):
			results[i] = model.Failure[R](fmt.Errorf("storage: row has %d values, want %d", len(vals), len(p.cfg.Columns)))
		default:
			rows = append(rows, vals)
			idx = append(idx, i)
		}
	}
	if len(rows) == 0 {
		return results, nil
	}

	table := p.cfg.Table.Sanitize()
	ctx, span := tracer.Start(ctx, "storage.copy")
	defer span.End()
	span.SetAttributes(attribute.String("table", table), attribute.Int("rows", len(rows)))

	var copied int64
	err := WithRetry(ctx, p.cfg.MaxRetries, p.cfg.BaseDelay, func() error {
		n, err := p.copier.CopyFrom(ctx, p.cfg.Table, p.cfg.Columns, pgx.CopyFromRows(rows))
		copied = n
		return err
	})
	if err != nil {
		if isSchemaError(err) {
			ctxutil.RecordCriticalError(ctx, CriticalSchemaMismatch)
		}
		err = fmt.Errorf("storage: copy into %s: %w", table, err)
		span.SetStatus(codes.Error, err.Error())
		p.cfg.Logger.Warn("storage: copy failed", "table", table, "rows", len(rows), "error", err)
		for _, i := range idx {
			results[i] = model.Failure[R](err)
		}
		return results, nil
	}

	if counter, err := copiedRows(); err == nil {
		counter.Add(ctx, copied, metric.WithAttributes(attribute.String("table", table)))
	}
	for _, i := range idx {
		results[i] = model.Success(batch[i])
	}
	return results, nil
}
