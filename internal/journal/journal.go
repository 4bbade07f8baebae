// Package journal records every dispatched action in a SQLite database so
// a session can be inspected after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var ErrInvalidLimit = errors.New("limit must be positive")

// Entry is one recorded action
type Entry struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Version    uint64          `json:"state_version"`
	RecordedAt time.Time       `json:"recorded_at"`
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the journal at path and applies migrations
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("chmod journal: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append writes one entry
func (s *Store) Append(ctx context.Context, e Entry) error {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO actions(entry_id, kind, payload_json, state_version, recorded_at)
VALUES (?, ?, ?, ?, ?)
`, e.ID, e.Kind, string(payload), int64(e.Version), ts(e.RecordedAt))
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. A non-empty kind
// restricts the result to that action kind.
func (s *Store) Recent(ctx context.Context, limit int, kind string) ([]Entry, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	query := `SELECT entry_id, kind, payload_json, state_version, recorded_at FROM actions`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY state_version DESC, recorded_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			payload  string
			version  int64
			recorded string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &payload, &version, &recorded); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.Version = uint64(version)
		if e.RecordedAt, err = parseTS(recorded); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return out, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
