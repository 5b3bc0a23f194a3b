// Package postgres registers the PostgreSQL backend, built on a pgx pool.
package postgres

import (
	"context"
	"fmt"

	"fortio.org/safecast"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/database"
)

func init() {
	database.Register(database.DriverPostgres, Open)
}

// Connection is a PostgreSQL pool. Queries written with '?' placeholders
// are rebound to $n.
type Connection struct {
	pool *pgxpool.Pool
}

// Open creates the pool described by cfg.URL.
func Open(ctx context.Context, cfg database.Config) (database.Connection, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres: database URL is required")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		maxConns, err := safecast.Conv[int32](cfg.MaxConns)
		if err != nil {
			return nil, fmt.Errorf("max connections: %w", err)
		}
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return &Connection{pool: pool}, nil
}

// Pool returns the underlying pool.
func (c *Connection) Pool() *pgxpool.Pool { return c.pool }

// Driver implements database.Connection.
func (c *Connection) Driver() database.Driver { return database.DriverPostgres }

// Ping implements database.Connection.
func (c *Connection) Ping(ctx context.Context) error { return c.pool.Ping(ctx) }

// Close implements database.Connection.
func (c *Connection) Close() error {
	c.pool.Close()
	return nil
}

// BeginTx implements database.Connection.
func (c *Connection) BeginTx(ctx context.Context) (database.Transaction, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &transaction{executor: executor{q: tx}, tx: tx}, nil
}

// Exec implements database.Executor.
func (c *Connection) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return executor{q: c.pool}.Exec(ctx, query, args...)
}

// QueryRow implements database.Executor.
func (c *Connection) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return executor{q: c.pool}.QueryRow(ctx, query, args...)
}

// Query implements database.Executor.
func (c *Connection) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	return executor{q: c.pool}.Query(ctx, query, args...)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type executor struct {
	q querier
}

func (e executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := e.q.Exec(ctx, database.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (e executor) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return e.q.QueryRow(ctx, database.Rebind(query), args...)
}

func (e executor) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := e.q.Query(ctx, database.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return pgxRows{rows}, nil
}

// pgxRows adapts pgx.Rows, whose Close returns nothing.
type pgxRows struct {
	pgx.Rows
}

func (r pgxRows) Close() error {
	r.Rows.Close()
	return nil
}

type transaction struct {
	executor
	tx pgx.Tx
}

func (t *transaction) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *transaction) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }
