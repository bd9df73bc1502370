package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmora/acpbridge"
	"github.com/dmora/acpbridge/turn"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	cwd              TEXT NOT NULL,
	model            TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL,
	turn_count       INTEGER NOT NULL DEFAULT 0,
	last_stop_reason TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
)`

// SQLiteStore persists session records using modernc.org/sqlite
// (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes all access through Go's pool, preventing "database is
	// locked" errors from concurrent turns.
	db.SetMaxOpenConns(1)

	// WAL for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Wait on contention instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sessions table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Put upserts rec keyed by its id.
func (s *SQLiteStore) Put(ctx context.Context, rec turn.SessionRecord) error {
	if rec.ID == "" {
		return errors.New("store: record id is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, cwd, model, state, turn_count, last_stop_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cwd              = excluded.cwd,
			model            = excluded.model,
			state            = excluded.state,
			turn_count       = excluded.turn_count,
			last_stop_reason = excluded.last_stop_reason,
			updated_at       = excluded.updated_at`,
		rec.ID, rec.CWD, rec.Model, string(rec.State),
		rec.TurnCount, rec.LastStopReason,
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put session %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns the record for id, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (turn.SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, cwd, model, state, turn_count, last_stop_reason, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return turn.SessionRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return turn.SessionRecord{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes the record for id. Deleting an absent id is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// List returns all stored records, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]turn.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cwd, model, state, turn_count, last_stop_reason, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []turn.SessionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (turn.SessionRecord, error) {
	var rec turn.SessionRecord
	var state string
	var createdAt, updatedAt int64
	err := row.Scan(&rec.ID, &rec.CWD, &rec.Model, &state,
		&rec.TurnCount, &rec.LastStopReason, &createdAt, &updatedAt)
	if err != nil {
		return turn.SessionRecord{}, err
	}
	rec.State = acpbridge.SessionState(state)
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	return rec, nil
}
