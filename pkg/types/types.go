// Package types defines the shared types used across all replica packages.
//
// These types form the lingua franca between the NLU, the engine, the order
// handlers and the front-ends. Each package defines its own domain types, but
// the interpreted phrase crosses every boundary and therefore lives here to
// avoid circular imports.
package types

import (
	"maps"
	"strings"
)

// Anchor identifies a recognised command ("order"), for example "buy_pizza".
// The zero value means no order was recognised.
type Anchor string

// String implements fmt.Stringer.
func (a Anchor) String() string { return string(a) }

// Phrase is a single user utterance after interpretation by the NLU.
//
// A Phrase is immutable once constructed: slots are stored privately and all
// accessors return copies, so a Phrase can be shared between goroutines.
type Phrase struct {
	// Raw is the text exactly as the user typed it.
	Raw string

	// Normalized is the canonical form used for matching (lower-case,
	// collapsed whitespace, punctuation removed).
	Normalized string

	// Anchor is the recognised order, or "" when the phrase is not a command.
	Anchor Anchor

	slots map[string]string
}

// NewPhrase builds a Phrase. The slots map is copied; later mutation of the
// argument does not affect the returned Phrase.
func NewPhrase(raw, normalized string, anchor Anchor, slots map[string]string) Phrase {
	p := Phrase{Raw: raw, Normalized: normalized, Anchor: anchor}
	if len(slots) > 0 {
		p.slots = maps.Clone(slots)
	}
	return p
}

// PlainPhrase builds an uninterpreted Phrase from raw text. It is used when no
// interpreter is configured or when interpretation fails.
func PlainPhrase(raw string) Phrase {
	return Phrase{Raw: raw, Normalized: strings.ToLower(strings.Join(strings.Fields(raw), " "))}
}

// HasAnchor reports whether an order was recognised in the phrase.
func (p Phrase) HasAnchor() bool { return p.Anchor != "" }

// Slot returns the value filling role and whether the role was present.
func (p Phrase) Slot(role string) (string, bool) {
	v, ok := p.slots[role]
	return v, ok
}

// Slots returns a copy of all slot values keyed by role. The result is never nil.
func (p Phrase) Slots() map[string]string {
	out := make(map[string]string, len(p.slots))
	maps.Copy(out, p.slots)
	return out
}

// Text returns the normalized text when available and the raw text otherwise.
func (p Phrase) Text() string {
	if p.Normalized != "" {
		return p.Normalized
	}
	return p.Raw
}
