package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/replica/internal/turnlog"
)

// TurnLog is the turns table. It implements [turnlog.Recorder].
//
// Obtain one via [Store.Turns]. All methods are safe for concurrent use.
type TurnLog struct {
	pool *pgxpool.Pool
}

var _ turnlog.Recorder = (*TurnLog)(nil)

// Record implements [turnlog.Recorder].
func (t *TurnLog) Record(ctx context.Context, r turnlog.Record) error {
	const q = `
		INSERT INTO turns (id, persona_id, user_id, text, anchor, stage, replies, at, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	replies := r.Replies
	if replies == nil {
		replies = []string{}
	}
	_, err := t.pool.Exec(ctx, q,
		r.ID, r.PersonaID, r.UserID, r.Text, r.Anchor, r.Stage,
		replies, r.At, int64(r.Duration),
	)
	if err != nil {
		return fmt.Errorf("turn log: record: %w", err)
	}
	return nil
}

// Recent implements [turnlog.Recorder].
func (t *TurnLog) Recent(ctx context.Context, userID string, limit int) ([]turnlog.Record, error) {
	const q = `
		SELECT id, persona_id, user_id, text, anchor, stage, replies, at, duration_ns
		FROM   turns
		WHERE  user_id = $1
		ORDER  BY at DESC
		LIMIT  $2`

	rows, err := t.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("turn log: recent: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (turnlog.Record, error) {
		var (
			r  turnlog.Record
			ns int64
		)
		if err := row.Scan(&r.ID, &r.PersonaID, &r.UserID, &r.Text, &r.Anchor, &r.Stage, &r.Replies, &r.At, &ns); err != nil {
			return turnlog.Record{}, err
		}
		r.Duration = time.Duration(ns)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("turn log: scan rows: %w", err)
	}
	return out, nil
}

// Close implements [turnlog.Recorder]. The pool belongs to the [Store], so
// this is a no-op.
func (t *TurnLog) Close() error { return nil }
