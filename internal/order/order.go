// Package order routes recognised commands ("orders") to registered handlers.
//
// The NLU marks a phrase with an [types.Anchor] when it recognises a command.
// The [Dispatcher] maps each anchor to at most one [Handler]; handlers read
// slot values through the [Bot] carried by the [Turn] and return the reply
// text or decline.
package order

import (
	"context"

	"github.com/MrWong99/replica/internal/session"
	"github.com/MrWong99/replica/pkg/types"
)

// Extractor returns the value of a semantic role in a phrase. A missing role
// yields "", never an error.
type Extractor interface {
	Extract(role string, p types.Phrase) string
}

// SlotExtractor is the [Extractor] reading the slots filled in by the NLU.
type SlotExtractor struct{}

var _ Extractor = SlotExtractor{}

// Extract implements [Extractor].
func (SlotExtractor) Extract(role string, p types.Phrase) string {
	v, _ := p.Slot(role)
	return v
}

// Bot is the part of the conversation engine visible to handlers.
type Bot interface {
	// ExtractEntity returns the value filling role in p, or "".
	ExtractEntity(role string, p types.Phrase) string

	// Say enqueues an additional reply on sess, ahead of the handler's
	// returned reply.
	Say(sess *session.Session, text string)
}

// Turn is everything a handler receives for one dispatched phrase.
type Turn struct {
	Bot     Bot
	Session *session.Session
	UserID  string
	Phrase  types.Phrase
}

// Handler executes one kind of order.
//
// Execute returns the reply to emit and handled=true, or handled=false when
// the order cannot be carried out as phrased. An empty reply with
// handled=true is valid only when the handler spoke through [Bot.Say];
// otherwise the order counts as not understood. A non-nil error is treated
// like a decline and reported.
type Handler interface {
	Execute(ctx context.Context, t Turn) (reply string, handled bool, err error)
}

// HandlerFunc adapts an ordinary function to [Handler].
type HandlerFunc func(ctx context.Context, t Turn) (string, bool, error)

// Execute implements [Handler].
func (f HandlerFunc) Execute(ctx context.Context, t Turn) (string, bool, error) {
	return f(ctx, t)
}
