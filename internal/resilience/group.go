package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// rejected by its breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

type member[T any] struct {
	value   T
	breaker *Breaker
}

// Group is an ordered list of interchangeable backends of type T, each behind
// its own [Breaker]. Members are fixed at construction, so a Group is safe for
// concurrent use without locking.
type Group[T any] struct {
	members []member[T]
}

// Named pairs a backend with the label used for its breaker and in logs.
type Named[T any] struct {
	Name  string
	Value T
}

// NewGroup builds a Group that prefers backends in the order given. opts apply
// to every member's breaker.
func NewGroup[T any](backends []Named[T], opts ...BreakerOption) (*Group[T], error) {
	if len(backends) == 0 {
		return nil, errors.New("resilience: group needs at least one backend")
	}
	g := &Group[T]{members: make([]member[T], 0, len(backends))}
	for _, nb := range backends {
		g.members = append(g.members, member[T]{value: nb.Value, breaker: NewBreaker(nb.Name, opts...)})
	}
	return g, nil
}

// Primary returns the first backend.
func (g *Group[T]) Primary() T { return g.members[0].value }

// States returns each member's breaker state keyed by name.
func (g *Group[T]) States() map[string]State {
	out := make(map[string]State, len(g.members))
	for _, m := range g.members {
		out[m.breaker.Name()] = m.breaker.State()
	}
	return out
}

// Call runs fn against each member of g in order and returns the first
// successful result. Members with an open breaker are skipped. When ctx ends
// the remaining members are not tried.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, m := range g.members {
		var out R
		err := m.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("backend skipped, circuit open", "backend", m.breaker.Name())
			continue
		}
		slog.Warn("backend failed, trying next", "backend", m.breaker.Name(), "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
