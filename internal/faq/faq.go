// Package faq matches user phrases against a fixed set of question/answer
// pairs.
//
// A [Store] is built once from the loaded entries. The similarity computation
// is delegated to a [Scorer]: it signs every question at load time and then
// scores a query against those signatures on each lookup. The store applies
// a single threshold and returns the best entry at or above it.
package faq

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/replica/pkg/types"
)

// ErrNoEntries is returned by [New] when there is nothing to match against.
var ErrNoEntries = errors.New("faq: no entries")

// Entry is one question/answer pair.
type Entry struct {
	Question string
	Answer   string
}

// Signature is the opaque representation of a text produced by a [Scorer].
// Scorers fill in whichever fields they need.
type Signature struct {
	Text   string
	Vector []float32
}

// Scorer computes similarity between a query and signed candidate texts.
//
// Implementations must be safe for concurrent use.
type Scorer interface {
	// Sign computes one signature per text. It is called once at load time.
	Sign(ctx context.Context, texts []string) ([]Signature, error)

	// Score returns one similarity in [0, 1] per candidate, in order.
	Score(ctx context.Context, query string, candidates []Signature) ([]float64, error)
}

// Match is a matched entry with its score.
type Match struct {
	Entry Entry
	Score float64
}

// Store is an immutable, thresholded FAQ index.
//
// All methods are safe for concurrent use.
type Store struct {
	entries   []Entry
	sigs      []Signature
	scorer    Scorer
	threshold float64
}

// New signs the questions of entries with scorer. A match requires a score at
// or above threshold.
func New(ctx context.Context, entries []Entry, scorer Scorer, threshold float64) (*Store, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	if scorer == nil {
		return nil, errors.New("faq: nil scorer")
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("faq: threshold %.2f outside [0, 1]", threshold)
	}

	questions := make([]string, len(entries))
	for i, e := range entries {
		questions[i] = e.Question
	}
	sigs, err := scorer.Sign(ctx, questions)
	if err != nil {
		return nil, fmt.Errorf("faq: sign questions: %w", err)
	}
	if len(sigs) != len(entries) {
		return nil, fmt.Errorf("faq: scorer returned %d signatures for %d questions", len(sigs), len(entries))
	}

	return &Store{
		entries:   append([]Entry(nil), entries...),
		sigs:      sigs,
		scorer:    scorer,
		threshold: threshold,
	}, nil
}

// Len returns the number of entries.
func (s *Store) Len() int { return len(s.entries) }

// Threshold returns the configured minimum score.
func (s *Store) Threshold() float64 { return s.threshold }

// BestMatch returns the highest scoring entry for p. ok is false when no
// entry reaches the threshold. Ties keep the entry loaded first.
func (s *Store) BestMatch(ctx context.Context, p types.Phrase) (Match, bool, error) {
	scores, err := s.scorer.Score(ctx, p.Text(), s.sigs)
	if err != nil {
		return Match{}, false, fmt.Errorf("faq: score: %w", err)
	}
	if len(scores) != len(s.entries) {
		return Match{}, false, fmt.Errorf("faq: scorer returned %d scores for %d entries", len(scores), len(s.entries))
	}

	best := -1
	for i, sc := range scores {
		if best < 0 || sc > scores[best] {
			best = i
		}
	}
	if scores[best] < s.threshold {
		return Match{}, false, nil
	}
	return Match{Entry: s.entries[best], Score: scores[best]}, true, nil
}
