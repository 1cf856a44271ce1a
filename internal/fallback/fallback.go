// Package fallback chooses the reply emitted when no strategy produced one.
//
// Two disjoint pools exist: one for phrases nothing matched ("no relevant
// information") and one for recognised orders that no handler accepted
// ("order not understood"). Both must be non-empty; that is checked once at
// construction, so selection itself cannot fail.
package fallback

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// ErrEmptyPool is returned by [New] when a pool has no usable phrase.
var ErrEmptyPool = errors.New("fallback: empty pool")

// Pools holds the phrases of both fallback pools. The YAML tags match the
// keys used by rules files.
type Pools struct {
	NoInformation []string `yaml:"no_relevant_information"`
	UnknownOrder  []string `yaml:"unknown_order"`
}

// Validate reports every problem with the pools: empty pools, blank phrases
// and phrases shared by both pools.
func (p Pools) Validate() error {
	var errs []error
	check := func(name string, pool []string) {
		if len(pool) == 0 {
			errs = append(errs, fmt.Errorf("fallback: %s: %w", name, ErrEmptyPool))
			return
		}
		for i, s := range pool {
			if strings.TrimSpace(s) == "" {
				errs = append(errs, fmt.Errorf("fallback: %s[%d]: blank phrase", name, i))
			}
		}
	}
	check("no_relevant_information", p.NoInformation)
	check("unknown_order", p.UnknownOrder)

	seen := make(map[string]struct{}, len(p.NoInformation))
	for _, s := range p.NoInformation {
		seen[s] = struct{}{}
	}
	for _, s := range p.UnknownOrder {
		if _, dup := seen[s]; dup {
			errs = append(errs, fmt.Errorf("fallback: phrase %q appears in both pools", s))
		}
	}
	return errors.Join(errs...)
}

// Responder picks fallback replies.
//
// All methods are safe for concurrent use.
type Responder struct {
	noInfo  []string
	unknown []string

	mu  sync.Mutex
	rnd *rand.Rand
}

// Option configures a [Responder].
type Option func(*Responder)

// WithSource makes selection use src instead of a time-seeded source.
func WithSource(src rand.Source) Option {
	return func(r *Responder) { r.rnd = rand.New(src) }
}

// New validates pools and returns a [Responder]. The pools are copied.
func New(pools Pools, opts ...Option) (*Responder, error) {
	if err := pools.Validate(); err != nil {
		return nil, err
	}
	seed := uint64(time.Now().UnixNano())
	r := &Responder{
		noInfo:  append([]string(nil), pools.NoInformation...),
		unknown: append([]string(nil), pools.UnknownOrder...),
		rnd:     rand.New(rand.NewPCG(seed, seed>>1)),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// NoInformation returns a phrase from the "no relevant information" pool.
func (r *Responder) NoInformation() string { return r.pick(r.noInfo) }

// OrderNotUnderstood returns a phrase from the "order not understood" pool.
func (r *Responder) OrderNotUnderstood() string { return r.pick(r.unknown) }

func (r *Responder) pick(pool []string) string {
	if len(pool) == 1 {
		return pool[0]
	}
	r.mu.Lock()
	i := r.rnd.IntN(len(pool))
	r.mu.Unlock()
	return pool[i]
}
