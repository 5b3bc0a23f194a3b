package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/felixgeelhaar/prosecheck/internal/checker/types"
	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/migrations"
)

// SQLStore keeps the log in SQLite or PostgreSQL.
type SQLStore struct {
	conn     database.Connection
	capacity int
}

// NewSQLStore migrates the schema and returns a store over conn.
func NewSQLStore(ctx context.Context, conn database.Connection, capacity int) (*SQLStore, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if err := migrations.Run(ctx, conn); err != nil {
		return nil, err
	}
	return &SQLStore{conn: conn, capacity: capacity}, nil
}

const recordColumns = `seq, id, pattern_key, engine, rule_id, category, action, confidence,
	suggestions, fragment, replacement, text_hash, recorded_at`

// Append implements Store. Records beyond capacity are deleted oldest
// first in the same transaction.
func (s *SQLStore) Append(ctx context.Context, rec *Record) error {
	suggestions, err := s.encodeSuggestions(rec.Suggestions)
	if err != nil {
		return err
	}

	return database.WithTx(ctx, s.conn, func(tx database.Transaction) error {
		err := tx.QueryRow(ctx, `INSERT INTO feedback_records
			(id, pattern_key, engine, rule_id, category, action, confidence,
			 suggestions, fragment, replacement, text_hash, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING seq`,
			rec.ID, rec.PatternKey, rec.Engine, rec.RuleID, string(rec.Category), string(rec.Action),
			rec.Confidence, suggestions, rec.Fragment, rec.Replacement, rec.TextHash, rec.RecordedAt,
		).Scan(&rec.Seq)
		if err != nil {
			return fmt.Errorf("insert feedback: %w", err)
		}

		_, err = tx.Exec(ctx, `DELETE FROM feedback_records WHERE seq <= ?`, rec.Seq-int64(s.capacity))
		if err != nil {
			return fmt.Errorf("evict feedback: %w", err)
		}
		return nil
	})
}

// Since implements Store.
func (s *SQLStore) Since(ctx context.Context, afterSeq int64, limit int) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM feedback_records WHERE seq > ? ORDER BY seq`
	args := []any{afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLStore) scan(row database.Row) (Record, error) {
	var (
		rec      Record
		category string
		action   string
		tags     []string
		raw      string
	)
	var suggestions any = &raw
	if s.conn.Driver() == database.DriverPostgres {
		suggestions = pq.Array(&tags)
	}

	err := row.Scan(&rec.Seq, &rec.ID, &rec.PatternKey, &rec.Engine, &rec.RuleID, &category, &action,
		&rec.Confidence, suggestions, &rec.Fragment, &rec.Replacement, &rec.TextHash, &rec.RecordedAt)
	if err != nil {
		return Record{}, fmt.Errorf("scan feedback: %w", err)
	}
	if s.conn.Driver() != database.DriverPostgres && raw != "" {
		if err := json.Unmarshal([]byte(raw), &tags); err != nil {
			return Record{}, fmt.Errorf("decode suggestions: %w", err)
		}
	}
	rec.Category = types.Category(category)
	rec.Action = Action(action)
	rec.Suggestions = tags
	rec.RecordedAt = rec.RecordedAt.UTC()
	return rec, nil
}

func (s *SQLStore) encodeSuggestions(suggestions []string) (any, error) {
	if suggestions == nil {
		suggestions = []string{}
	}
	if s.conn.Driver() == database.DriverPostgres {
		return pq.Array(suggestions), nil
	}
	data, err := json.Marshal(suggestions)
	if err != nil {
		return nil, fmt.Errorf("encode suggestions: %w", err)
	}
	return string(data), nil
}

// Len implements Store.
func (s *SQLStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRow(ctx, `SELECT COUNT(*) FROM feedback_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count feedback: %w", err)
	}
	return n, nil
}

// SaveState implements Store.
func (s *SQLStore) SaveState(ctx context.Context, state State) error {
	rules, err := json.Marshal(state.Rules)
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	patterns, err := json.Marshal(state.Patterns)
	if err != nil {
		return fmt.Errorf("encode patterns: %w", err)
	}

	_, err = s.conn.Exec(ctx, `INSERT INTO feedback_state (id, last_seq, rules, patterns, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			last_seq = excluded.last_seq,
			rules = excluded.rules,
			patterns = excluded.patterns,
			updated_at = excluded.updated_at`,
		state.LastSeq, string(rules), string(patterns), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save learner state: %w", err)
	}
	return nil
}

// LoadState implements Store. A missing state row is an empty state.
func (s *SQLStore) LoadState(ctx context.Context) (State, error) {
	var (
		state    State
		rules    string
		patterns string
	)
	err := s.conn.QueryRow(ctx, `SELECT last_seq, rules, patterns FROM feedback_state WHERE id = 1`).
		Scan(&state.LastSeq, &rules, &patterns)
	if database.IsNoRows(err) {
		return State{Patterns: map[string]float64{}}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("load learner state: %w", err)
	}
	if err := json.Unmarshal([]byte(rules), &state.Rules); err != nil {
		return State{}, fmt.Errorf("decode rules: %w", err)
	}
	if err := json.Unmarshal([]byte(patterns), &state.Patterns); err != nil {
		return State{}, fmt.Errorf("decode patterns: %w", err)
	}
	if state.Patterns == nil {
		state.Patterns = map[string]float64{}
	}
	return state, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.conn.Close()
}
