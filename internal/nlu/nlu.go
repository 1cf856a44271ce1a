// Package nlu turns raw user text into an interpreted [types.Phrase]: the
// normalised text, the order anchor it expresses (if any) and the slot values
// filling the order's roles.
//
// [Keyword] is a rule-based interpreter configured from YAML. It recognises
// an order when every token of one of its trigger phrases occurs in the text,
// tolerating small spelling and inflection differences, and extracts slots
// with regular expressions.
package nlu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/replica/internal/textmatch"
	"github.com/MrWong99/replica/pkg/types"
)

// Interpreter interprets one utterance. Implementations must be safe for
// concurrent use.
type Interpreter interface {
	Interpret(ctx context.Context, text string) (types.Phrase, error)
}

// File is the YAML layout of an NLU configuration.
type File struct {
	Orders []OrderSpec `yaml:"orders"`
}

// OrderSpec describes how to recognise one order.
type OrderSpec struct {
	Anchor string `yaml:"anchor"`

	// Triggers are phrases whose tokens must all appear in the text.
	Triggers []string `yaml:"triggers"`

	Slots []SlotSpec `yaml:"slots"`
}

// SlotSpec extracts slot values with a regular expression applied to the
// normalised text. Each named group fills the role given in Roles, or the
// role named like the group when Roles has no entry for it. Group names must
// be ASCII, so Roles is how Cyrillic role names are reached.
type SlotSpec struct {
	Pattern string            `yaml:"pattern"`
	Roles   map[string]string `yaml:"roles"`
}

type slotPattern struct {
	re    *regexp.Regexp
	roles []string // indexed by submatch number; "" for unnamed groups
}

type order struct {
	anchor   types.Anchor
	triggers []string
	slots    []slotPattern
}

// Keyword is a YAML-configured [Interpreter].
type Keyword struct {
	orders  []order
	matcher *textmatch.Matcher
}

var _ Interpreter = (*Keyword)(nil)

// Option configures a [Keyword].
type Option func(*Keyword)

// WithMatcher replaces the default fuzzy token matcher.
func WithMatcher(m *textmatch.Matcher) Option {
	return func(k *Keyword) { k.matcher = m }
}

// Load reads and compiles an NLU file.
func Load(path string, opts ...Option) (*Keyword, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("nlu: %w", err)
	}
	k, err := Parse(bytes.NewReader(data), opts...)
	if err != nil {
		return nil, fmt.Errorf("nlu: %s: %w", path, err)
	}
	return k, nil
}

// Parse decodes and compiles an NLU file from r. Unknown fields are errors.
func Parse(r io.Reader, opts ...Option) (*Keyword, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return New(f, opts...)
}

// New compiles f. All problems are reported together.
func New(f File, opts ...Option) (*Keyword, error) {
	k := &Keyword{matcher: textmatch.New()}
	for _, o := range opts {
		o(k)
	}

	var errs []error
	seen := map[string]bool{}
	for i, spec := range f.Orders {
		if spec.Anchor == "" {
			errs = append(errs, fmt.Errorf("orders[%d]: anchor is required", i))
			continue
		}
		if seen[spec.Anchor] {
			errs = append(errs, fmt.Errorf("orders[%d]: duplicate anchor %q", i, spec.Anchor))
			continue
		}
		seen[spec.Anchor] = true

		o := order{anchor: types.Anchor(spec.Anchor)}
		for _, t := range spec.Triggers {
			if n := textmatch.Normalize(t); n != "" {
				o.triggers = append(o.triggers, n)
			}
		}
		if len(o.triggers) == 0 {
			errs = append(errs, fmt.Errorf("order %q: at least one non-empty trigger is required", spec.Anchor))
		}
		for j, s := range spec.Slots {
			sp, err := compileSlot(s)
			if err != nil {
				errs = append(errs, fmt.Errorf("order %q: slots[%d]: %w", spec.Anchor, j, err))
				continue
			}
			o.slots = append(o.slots, sp)
		}
		k.orders = append(k.orders, o)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return k, nil
}

func compileSlot(s SlotSpec) (slotPattern, error) {
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return slotPattern{}, err
	}
	names := re.SubexpNames()
	roles := make([]string, len(names))
	named := 0
	for i, n := range names {
		if n == "" {
			continue
		}
		named++
		roles[i] = n
		if r, ok := s.Roles[n]; ok {
			roles[i] = r
		}
	}
	if named == 0 {
		return slotPattern{}, fmt.Errorf("pattern %q has no named groups", s.Pattern)
	}
	for g := range s.Roles {
		if re.SubexpIndex(g) < 0 {
			return slotPattern{}, fmt.Errorf("roles refer to unknown group %q", g)
		}
	}
	return slotPattern{re: re, roles: roles}, nil
}

// Anchors returns every anchor this interpreter can produce, in file order.
func (k *Keyword) Anchors() []types.Anchor {
	out := make([]types.Anchor, len(k.orders))
	for i, o := range k.orders {
		out[i] = o.anchor
	}
	return out
}

// Interpret implements [Interpreter]. The first order with a matching
// trigger wins; among its slot patterns the first to fill a role wins.
func (k *Keyword) Interpret(ctx context.Context, text string) (types.Phrase, error) {
	if err := ctx.Err(); err != nil {
		return types.Phrase{}, err
	}
	norm := textmatch.Normalize(text)
	raw := strings.TrimSpace(text)

	for _, o := range k.orders {
		if !k.triggered(norm, o.triggers) {
			continue
		}
		slots := map[string]string{}
		for _, sp := range o.slots {
			m := sp.re.FindStringSubmatch(norm)
			for i, v := range m {
				role := sp.roles[i]
				if role == "" || v == "" {
					continue
				}
				if _, taken := slots[role]; !taken {
					slots[role] = v
				}
			}
		}
		return types.NewPhrase(raw, norm, o.anchor, slots), nil
	}
	return types.NewPhrase(raw, norm, "", nil), nil
}

func (k *Keyword) triggered(norm string, triggers []string) bool {
	for _, t := range triggers {
		if k.matcher.ContainsAll(norm, t) {
			return true
		}
	}
	return false
}
