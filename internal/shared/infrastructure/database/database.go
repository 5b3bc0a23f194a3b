// Package database opens SQLite or PostgreSQL behind one small executor
// interface. Driver packages register themselves on import.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Driver names a database backend.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// DetectDriver infers the driver from a connection URL. An empty URL means
// local SQLite.
func DetectDriver(url string) Driver {
	switch {
	case url == "":
		return DriverSQLite
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres
	default:
		return DriverSQLite
	}
}

// Config selects and configures a backend.
type Config struct {
	// URL is a PostgreSQL URL. Empty selects SQLite.
	URL string

	// SQLitePath is the SQLite file. Defaults to DefaultSQLitePath.
	SQLitePath string

	// MaxConns bounds the PostgreSQL pool.
	MaxConns int
}

// DefaultSQLitePath returns ~/.prosecheck/feedback.db.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".prosecheck", "feedback.db")
}

// Row abstracts pgx.Row and *sql.Row.
type Row interface {
	Scan(dest ...any) error
}

// Rows abstracts pgx.Rows and *sql.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Executor runs queries. Queries use '?' placeholders; Connection
// implementations rebind them for their driver.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// Transaction is an Executor that must be committed or rolled back.
type Transaction interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connection is an open database.
type Connection interface {
	Executor
	BeginTx(ctx context.Context) (Transaction, error)
	Ping(ctx context.Context) error
	Driver() Driver
	Close() error
}

// Opener opens a connection for one driver.
type Opener func(ctx context.Context, cfg Config) (Connection, error)

var openers = map[Driver]Opener{}

// Register installs the opener of a driver.
func Register(driver Driver, open Opener) {
	openers[driver] = open
}

// Open connects to the backend selected by cfg.URL.
func Open(ctx context.Context, cfg Config) (Connection, error) {
	driver := DetectDriver(cfg.URL)
	open, ok := openers[driver]
	if !ok {
		return nil, fmt.Errorf("database driver %s not linked", driver)
	}
	return open(ctx, cfg)
}

// WithTx runs fn in a transaction, committing on success.
func WithTx(ctx context.Context, conn Connection, fn func(tx Transaction) error) error {
	tx, err := conn.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

// IsNoRows reports whether err means a query returned no row.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// Rebind turns '?' placeholders into PostgreSQL's $n form. Question marks
// inside single-quoted literals are left alone.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for _, r := range query {
		switch {
		case r == '\'':
			quoted = !quoted
			b.WriteRune(r)
		case r == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
