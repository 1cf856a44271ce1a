// Package facts answers questions from a persona's premise file: a plain
// list of statements the bot knows about itself and its world ("Меня зовут
// Реплика.", "Я живу в облаке.").
//
// A [Base] ranks premises against a question using the same [faq.Scorer]
// contract as the FAQ stage. An [Answerer] turns the ranking into a reply or
// declines.
package facts

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/MrWong99/replica/internal/faq"
	"github.com/MrWong99/replica/pkg/types"
)

// ErrNoPremises is returned by [NewBase] for an empty premise list.
var ErrNoPremises = errors.New("facts: no premises")

// Answerer produces an answer for a phrase from the fact base, or declines
// with ok == false.
type Answerer interface {
	Answer(ctx context.Context, p types.Phrase) (answer string, ok bool, err error)
}

// Load reads a premise file.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("facts: %w", err)
	}
	defer f.Close()
	premises, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("facts: %s: %w", path, err)
	}
	return premises, nil
}

// Parse reads one premise per line. Blank lines and lines starting with '#'
// are skipped. Duplicate premises are kept once.
func Parse(r io.Reader) ([]string, error) {
	var (
		out  []string
		seen = map[string]bool{}
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Ranked is a premise with its similarity to a query.
type Ranked struct {
	Premise string
	Score   float64
}

// Base is an immutable, signed list of premises. It is safe for concurrent
// use.
type Base struct {
	premises []string
	sigs     []faq.Signature
	scorer   faq.Scorer
}

// NewBase signs premises with scorer.
func NewBase(ctx context.Context, premises []string, scorer faq.Scorer) (*Base, error) {
	if len(premises) == 0 {
		return nil, ErrNoPremises
	}
	if scorer == nil {
		return nil, errors.New("facts: nil scorer")
	}
	sigs, err := scorer.Sign(ctx, premises)
	if err != nil {
		return nil, fmt.Errorf("facts: sign premises: %w", err)
	}
	if len(sigs) != len(premises) {
		return nil, fmt.Errorf("facts: scorer returned %d signatures for %d premises", len(sigs), len(premises))
	}
	return &Base{premises: slices.Clone(premises), sigs: sigs, scorer: scorer}, nil
}

// Len returns the number of premises.
func (b *Base) Len() int { return len(b.premises) }

// Premises returns a copy of the premises in file order.
func (b *Base) Premises() []string { return slices.Clone(b.premises) }

// Rank scores every premise against query and returns the best k, highest
// first. Equal scores keep file order. k <= 0 returns all premises.
func (b *Base) Rank(ctx context.Context, query string, k int) ([]Ranked, error) {
	scores, err := b.scorer.Score(ctx, query, b.sigs)
	if err != nil {
		return nil, fmt.Errorf("facts: score: %w", err)
	}
	if len(scores) != len(b.premises) {
		return nil, fmt.Errorf("facts: scorer returned %d scores for %d premises", len(scores), len(b.premises))
	}
	out := make([]Ranked, len(b.premises))
	for i, p := range b.premises {
		out[i] = Ranked{Premise: p, Score: scores[i]}
	}
	slices.SortStableFunc(out, func(a, b Ranked) int { return cmp.Compare(b.Score, a.Score) })
	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out, nil
}
