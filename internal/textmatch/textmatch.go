// Package textmatch provides the text normalisation and fuzzy comparison
// shared by the keyword interpreter, the lexical FAQ scorer and the rule
// triggers.
//
// Token equality is decided in three steps:
//
//  1. Exact equality after normalisation.
//  2. Jaro-Winkler similarity at or above the token threshold (default 0.9),
//     applied only to tokens of at least four runes so that short function
//     words never match each other by accident.
//  3. Double Metaphone code overlap combined with a relaxed Jaro-Winkler
//     floor (default 0.7). Metaphone only yields codes for Latin script, so
//     this step never fires for Cyrillic input.
package textmatch

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultTokenThreshold    = 0.90
	defaultPhoneticThreshold = 0.70
	minFuzzyRunes            = 4
)

// Normalize lower-cases s, folds "ё" to "е", replaces every rune that is not
// a letter or digit with a space and collapses runs of whitespace.
func Normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r == 'ё':
			r = 'е'
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			if !space {
				sb.WriteByte(' ')
				space = true
			}
			continue
		}
		sb.WriteRune(r)
		space = false
	}
	return strings.TrimRight(sb.String(), " ")
}

// Tokens returns the whitespace-separated tokens of Normalize(s).
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithTokenThreshold sets the Jaro-Winkler score at which two tokens count as
// equal. Default: 0.90.
func WithTokenThreshold(threshold float64) Option {
	return func(m *Matcher) { m.tokenThreshold = threshold }
}

// WithPhoneticThreshold sets the Jaro-Winkler floor for tokens that share a
// Double Metaphone code. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// Matcher compares normalised texts. It is read-only after construction and
// safe for concurrent use.
type Matcher struct {
	tokenThreshold    float64
	phoneticThreshold float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		tokenThreshold:    defaultTokenThreshold,
		phoneticThreshold: defaultPhoneticThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// TokenEqual reports whether two normalised tokens should be treated as the
// same word.
func (m *Matcher) TokenEqual(a, b string) bool {
	if a == b {
		return true
	}
	if len([]rune(a)) < minFuzzyRunes || len([]rune(b)) < minFuzzyRunes {
		return false
	}
	jw := matchr.JaroWinkler(a, b, false)
	if jw >= m.tokenThreshold {
		return true
	}
	return jw >= m.phoneticThreshold && phoneticOverlap(a, b)
}

// ContainsAll reports whether every token of needle matches some token of
// haystack. Both arguments are raw texts; they are normalised here.
func (m *Matcher) ContainsAll(haystack, needle string) bool {
	hs, ns := Tokens(haystack), Tokens(needle)
	if len(ns) == 0 {
		return false
	}
	return m.matched(ns, hs) == len(ns)
}

// ContainsAny reports whether any token of needle matches a token of haystack.
func (m *Matcher) ContainsAny(haystack, needle string) bool {
	return m.matched(Tokens(needle), Tokens(haystack)) > 0
}

// Similarity scores two texts in [0, 1]. Half of the score is the
// Jaro-Winkler similarity of the normalised strings; the other half is the
// share of the shorter text's tokens found in the longer one.
func (m *Matcher) Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	ta, tb := strings.Fields(na), strings.Fields(nb)
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	overlap := float64(m.matched(ta, tb)) / float64(len(ta))
	return 0.5*matchr.JaroWinkler(na, nb, false) + 0.5*overlap
}

// matched counts the tokens of small that match any token of large.
func (m *Matcher) matched(small, large []string) int {
	n := 0
	for _, s := range small {
		for _, l := range large {
			if m.TokenEqual(s, l) {
				n++
				break
			}
		}
	}
	return n
}

func phoneticOverlap(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
