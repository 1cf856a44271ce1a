// Package turnlog records one row per resolved turn for later inspection.
//
// Recording is best-effort: the engine logs a failed write and carries on,
// so a broken database never changes what the user sees.
package turnlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record describes one resolved turn.
type Record struct {
	ID        string
	PersonaID string
	UserID    string
	Text      string
	Anchor    string
	// Stage names the strategy that produced the replies (order, faq, rules,
	// facts, fallback_unknown_order, fallback_no_information).
	Stage    string
	Replies  []string
	At       time.Time
	Duration time.Duration
}

// NewRecord returns a Record with a fresh random ID.
func NewRecord() Record {
	return Record{ID: uuid.NewString()}
}

// Recorder persists turn records.
//
// Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, r Record) error

	// Recent returns up to limit records for userID, newest first.
	Recent(ctx context.Context, userID string, limit int) ([]Record, error)

	Close() error
}

// Nop is a [Recorder] that discards everything.
type Nop struct{}

var _ Recorder = Nop{}

// Record implements [Recorder].
func (Nop) Record(context.Context, Record) error { return nil }

// Recent implements [Recorder].
func (Nop) Recent(context.Context, string, int) ([]Record, error) { return nil, nil }

// Close implements [Recorder].
func (Nop) Close() error { return nil }
