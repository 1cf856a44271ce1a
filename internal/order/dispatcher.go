package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/replica/pkg/types"
)

var (
	// ErrDuplicateHandler is returned by [Dispatcher.Register] when the anchor
	// already has a handler.
	ErrDuplicateHandler = errors.New("order: duplicate handler")

	// ErrNoHandler is reported by [Dispatcher.Validate] for anchors without
	// a registered handler.
	ErrNoHandler = errors.New("order: no handler")
)

// AcknowledgeFormat is the reply produced by [Acknowledge].
const AcknowledgeFormat = "Выполняю команду \"%s\""

// Outcome classifies the result of a dispatch.
type Outcome int

const (
	// Handled means the handler accepted the order.
	Handled Outcome = iota

	// Declined means the handler returned handled=false.
	Declined

	// Unregistered means no handler exists for the anchor.
	Unregistered

	// Failed means the handler returned an error or panicked.
	Failed
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case Handled:
		return "handled"
	case Declined:
		return "declined"
	case Unregistered:
		return "unregistered"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of [Dispatcher.Dispatch].
type Result struct {
	Reply   string
	Outcome Outcome

	// Err is set when Outcome is Failed.
	Err error
}

// OK reports whether the order was handled.
func (r Result) OK() bool { return r.Outcome == Handled }

// Dispatcher maps anchors to handlers.
//
// All methods are safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[types.Anchor]Handler
	defaults map[types.Anchor]Handler
}

// NewDispatcher returns an empty [Dispatcher].
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[types.Anchor]Handler),
		defaults: make(map[types.Anchor]Handler),
	}
}

// Register binds h to anchor. Registering a second handler for the same
// anchor returns [ErrDuplicateHandler].
func (d *Dispatcher) Register(anchor types.Anchor, h Handler) error {
	if anchor == "" {
		return errors.New("order: register: empty anchor")
	}
	if h == nil {
		return fmt.Errorf("order: register %q: nil handler", anchor)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[anchor]; ok {
		return fmt.Errorf("order: register %q: %w", anchor, ErrDuplicateHandler)
	}
	d.handlers[anchor] = h
	return nil
}

// SetDefaults replaces the default handlers. A default answers an anchor
// only while no handler is registered for it with [Dispatcher.Register].
func (d *Dispatcher) SetDefaults(defaults map[types.Anchor]Handler) {
	m := make(map[types.Anchor]Handler, len(defaults))
	for a, h := range defaults {
		if a != "" && h != nil {
			m[a] = h
		}
	}
	d.mu.Lock()
	d.defaults = m
	d.mu.Unlock()
}

// Handler returns the handler bound to anchor, falling back to its default.
func (d *Dispatcher) Handler(anchor types.Anchor) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(anchor)
}

func (d *Dispatcher) lookup(anchor types.Anchor) (Handler, bool) {
	if h, ok := d.handlers[anchor]; ok {
		return h, true
	}
	h, ok := d.defaults[anchor]
	return h, ok
}

// Anchors returns the anchors with a registered or default handler in
// lexical order.
func (d *Dispatcher) Anchors() []types.Anchor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.Anchor, 0, len(d.handlers)+len(d.defaults))
	for a := range d.handlers {
		out = append(out, a)
	}
	for a := range d.defaults {
		if _, ok := d.handlers[a]; !ok {
			out = append(out, a)
		}
	}
	slices.Sort(out)
	return out
}

// Validate reports every anchor in known that has no handler.
func (d *Dispatcher) Validate(known []types.Anchor) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var errs []error
	for _, a := range known {
		if _, ok := d.lookup(a); !ok {
			errs = append(errs, fmt.Errorf("order: anchor %q: %w", a, ErrNoHandler))
		}
	}
	return errors.Join(errs...)
}

// Dispatch runs the handler bound to t.Phrase.Anchor. Handler panics are
// recovered and reported as [Failed].
func (d *Dispatcher) Dispatch(ctx context.Context, t Turn) (res Result) {
	anchor := t.Phrase.Anchor
	h, ok := d.Handler(anchor)
	if !ok {
		return Result{Outcome: Unregistered}
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{Outcome: Failed, Err: fmt.Errorf("order: handler %q panicked: %v", anchor, r)}
		}
	}()

	reply, handled, err := h.Execute(ctx, t)
	switch {
	case err != nil:
		return Result{Outcome: Failed, Err: fmt.Errorf("order: handler %q: %w", anchor, err)}
	case !handled:
		return Result{Outcome: Declined}
	default:
		return Result{Reply: reply, Outcome: Handled}
	}
}

// Acknowledge returns a handler that accepts any order and replies with the
// acknowledgement phrase naming it.
func Acknowledge() Handler {
	return HandlerFunc(func(_ context.Context, t Turn) (string, bool, error) {
		return fmt.Sprintf(AcknowledgeFormat, t.Phrase.Anchor), true, nil
	})
}
