package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/database"
)

func openTemp(t *testing.T) database.Connection {
	t.Helper()
	conn, err := database.Open(context.Background(), database.Config{
		SQLitePath: filepath.Join(t.TempDir(), "nested", "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestOpen(t *testing.T) {
	conn := openTemp(t)
	assert.Equal(t, database.DriverSQLite, conn.Driver())
	assert.NoError(t, conn.Ping(context.Background()))
}

func TestExecAndQuery(t *testing.T) {
	ctx := context.Background()
	conn := openTemp(t)

	_, err := conn.Exec(ctx, `CREATE TABLE words (id INTEGER PRIMARY KEY, word TEXT)`)
	require.NoError(t, err)

	n, err := conn.Exec(ctx, `INSERT INTO words (word) VALUES (?), (?)`, "teh", "recieve")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var word string
	require.NoError(t, conn.QueryRow(ctx, `SELECT word FROM words WHERE id = ?`, 2).Scan(&word))
	assert.Equal(t, "recieve", word)

	err = conn.QueryRow(ctx, `SELECT word FROM words WHERE id = ?`, 9).Scan(&word)
	assert.True(t, database.IsNoRows(err))

	rows, err := conn.Query(ctx, `SELECT word FROM words ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	var words []string
	for rows.Next() {
		require.NoError(t, rows.Scan(&word))
		words = append(words, word)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"teh", "recieve"}, words)
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	conn := openTemp(t)
	_, err := conn.Exec(ctx, `CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	err = database.WithTx(ctx, conn, func(tx database.Transaction) error {
		_, err := tx.Exec(ctx, `INSERT INTO kv VALUES (?, ?)`, "a", "1")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = database.WithTx(ctx, conn, func(tx database.Transaction) error {
		if _, err := tx.Exec(ctx, `INSERT INTO kv VALUES (?, ?)`, "b", "2"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, conn.QueryRow(ctx, `SELECT COUNT(*) FROM kv`).Scan(&count))
	assert.Equal(t, 1, count)
}
