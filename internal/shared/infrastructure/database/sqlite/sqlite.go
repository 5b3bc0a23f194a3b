// Package sqlite registers the pure-Go SQLite backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/database"
)

func init() {
	database.Register(database.DriverSQLite, Open)
}

// pragmas enable WAL, wait on locks and keep fsyncs moderate.
const pragmas = "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// Connection is a SQLite database.
type Connection struct {
	db *sql.DB
}

// Open opens or creates the SQLite file named by cfg.SQLitePath.
func Open(ctx context.Context, cfg database.Config) (database.Connection, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = database.DefaultSQLitePath()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Connection{db: db}, nil
}

// DB returns the underlying handle.
func (c *Connection) DB() *sql.DB { return c.db }

// Driver implements database.Connection.
func (c *Connection) Driver() database.Driver { return database.DriverSQLite }

// Ping implements database.Connection.
func (c *Connection) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

// Close implements database.Connection.
func (c *Connection) Close() error { return c.db.Close() }

// BeginTx implements database.Connection.
func (c *Connection) BeginTx(ctx context.Context) (database.Transaction, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &transaction{executor: executor{q: tx}, tx: tx}, nil
}

// Exec implements database.Executor.
func (c *Connection) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return executor{q: c.db}.Exec(ctx, query, args...)
}

// QueryRow implements database.Executor.
func (c *Connection) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return executor{q: c.db}.QueryRow(ctx, query, args...)
}

// Query implements database.Executor.
func (c *Connection) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	return executor{q: c.db}.Query(ctx, query, args...)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type executor struct {
	q querier
}

func (e executor) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := e.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (e executor) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return e.q.QueryRowContext(ctx, query, args...)
}

func (e executor) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rows, err := e.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type transaction struct {
	executor
	tx *sql.Tx
}

func (t *transaction) Commit(context.Context) error   { return t.tx.Commit() }
func (t *transaction) Rollback(context.Context) error { return t.tx.Rollback() }
