// Package sqlite stores turn records in a local SQLite database using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/replica/internal/turnlog"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id          TEXT    PRIMARY KEY,
	persona_id  TEXT    NOT NULL,
	user_id     TEXT    NOT NULL,
	text        TEXT    NOT NULL,
	anchor      TEXT    NOT NULL DEFAULT '',
	stage       TEXT    NOT NULL,
	replies     TEXT    NOT NULL DEFAULT '[]',
	at_unix_ns  INTEGER NOT NULL,
	duration_ns INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_turns_user_at ON turns(user_id, at_unix_ns);
`

// Recorder is a [turnlog.Recorder] backed by SQLite.
//
// All methods are safe for concurrent use.
type Recorder struct {
	db *sql.DB
}

var _ turnlog.Recorder = (*Recorder)(nil)

// Open opens (and creates if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Recorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite turnlog: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite turnlog: open: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite turnlog: migrate: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Record implements [turnlog.Recorder].
func (r *Recorder) Record(ctx context.Context, rec turnlog.Record) error {
	replies, err := json.Marshal(rec.Replies)
	if err != nil {
		return fmt.Errorf("sqlite turnlog: encode replies: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO turns (id, persona_id, user_id, text, anchor, stage, replies, at_unix_ns, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PersonaID, rec.UserID, rec.Text, rec.Anchor, rec.Stage,
		string(replies), rec.At.UnixNano(), int64(rec.Duration),
	)
	if err != nil {
		return fmt.Errorf("sqlite turnlog: insert: %w", err)
	}
	return nil
}

// Recent implements [turnlog.Recorder].
func (r *Recorder) Recent(ctx context.Context, userID string, limit int) ([]turnlog.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, persona_id, user_id, text, anchor, stage, replies, at_unix_ns, duration_ns
		FROM   turns
		WHERE  user_id = ?
		ORDER  BY at_unix_ns DESC
		LIMIT  ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite turnlog: query: %w", err)
	}
	defer rows.Close()

	var out []turnlog.Record
	for rows.Next() {
		var (
			rec      turnlog.Record
			replies  string
			atNs     int64
			duration int64
		)
		if err := rows.Scan(&rec.ID, &rec.PersonaID, &rec.UserID, &rec.Text, &rec.Anchor, &rec.Stage, &replies, &atNs, &duration); err != nil {
			return nil, fmt.Errorf("sqlite turnlog: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(replies), &rec.Replies); err != nil {
			return nil, fmt.Errorf("sqlite turnlog: decode replies: %w", err)
		}
		rec.At = time.Unix(0, atNs)
		rec.Duration = time.Duration(duration)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ping checks that the database is reachable.
func (r *Recorder) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close implements [turnlog.Recorder].
func (r *Recorder) Close() error {
	return r.db.Close()
}
