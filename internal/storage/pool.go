// Package storage connects batch runs to PostgreSQL.
//
// It owns a pgxpool whose usage feeds initial sizing and the resource goal,
// and a COPY-based sink that can stand in as a step's processor.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pgxpool.Pool.
type DB struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a pool from dsn and pings it. Pool size comes from the DSN's
// pool_max_conns parameter.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	logger.Info("storage: connected", "max_conns", poolCfg.MaxConns)
	return &DB{pool: pool, logger: logger}, nil
}

// Pool returns the underlying connection pool.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Stats returns a live view of the pool's usage.
func (db *DB) Stats() PoolStats {
	return PoolStats{pool: db.pool}
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool. It waits for acquired connections
// to be released.
func (db *DB) Close() {
	db.pool.Close()
}

// PoolStats reads connection usage from a pool on every call. It satisfies
// sizing.ConnectionCapacity and metrics.ConnectionGauge. The zero value
// reports an empty pool.
type PoolStats struct {
	pool *pgxpool.Pool
}

// ActiveConnections returns the number of connections currently checked out.
func (s PoolStats) ActiveConnections() int {
	if s.pool == nil {
		return 0
	}
	return int(s.pool.Stat().AcquiredConns())
}

// MaxConnections returns the pool's configured ceiling.
func (s PoolStats) MaxConnections() int {
	if s.pool == nil {
		return 0
	}
	return int(s.pool.Stat().MaxConns())
}
