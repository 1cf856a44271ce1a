// Package persona binds one bot personality together: its content files, its
// behaviour flags, the order handlers registered by the host application and
// the [engine.Engine] serving conversations with it.
//
// A Persona is built once at startup with [New]. Handlers are added with
// [Persona.AddEventHandler] before the first conversation; [Persona.Reload]
// swaps in freshly loaded content without dropping sessions.
package persona

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/replica/internal/config"
	"github.com/MrWong99/replica/internal/engine"
	"github.com/MrWong99/replica/internal/order"
	"github.com/MrWong99/replica/internal/turnlog"
	"github.com/MrWong99/replica/pkg/types"
)

// Persona is a loaded bot personality.
//
// All methods are safe for concurrent use.
type Persona struct {
	id         string
	deps       Deps
	dispatcher *order.Dispatcher
	engine     *engine.Engine

	mu      sync.Mutex
	cfg     config.PersonaConfig
	anchors []types.Anchor
}

// New loads the content named by cfg and starts an engine for it. opts are
// passed to [engine.New]; the persona ID is always set.
func New(ctx context.Context, cfg config.PersonaConfig, deps Deps, opts ...engine.Option) (*Persona, error) {
	c, err := Load(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	d := order.NewDispatcher()
	d.SetDefaults(c.Acks)

	opts = append(opts, engine.WithPersonaID(cfg.ID))
	e, err := engine.New(d, c.Content, opts...)
	if err != nil {
		return nil, fmt.Errorf("persona %s: %w", cfg.ID, err)
	}
	return &Persona{
		id:         cfg.ID,
		deps:       deps,
		dispatcher: d,
		engine:     e,
		cfg:        cfg,
		anchors:    c.Anchors,
	}, nil
}

// ID returns the persona identifier.
func (p *Persona) ID() string { return p.id }

// Engine returns the engine serving this persona.
func (p *Persona) Engine() *engine.Engine { return p.engine }

// Config returns the configuration the current content was loaded from.
func (p *Persona) Config() config.PersonaConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// AddEventHandler binds h to the order anchor. A handler registered this way
// replaces a default acknowledgement for the same anchor; registering a
// second handler for an anchor is an error.
func (p *Persona) AddEventHandler(anchor types.Anchor, h order.Handler) error {
	if err := p.dispatcher.Register(anchor, h); err != nil {
		return fmt.Errorf("persona %s: %w", p.id, err)
	}
	return nil
}

// Anchors returns the anchors that currently have a handler.
func (p *Persona) Anchors() []types.Anchor { return p.dispatcher.Anchors() }

// Validate reports every anchor the interpreter can recognise that has no
// handler. Such orders are answered from the "order not understood" pool.
func (p *Persona) Validate() error {
	p.mu.Lock()
	known := p.anchors
	p.mu.Unlock()
	if err := p.dispatcher.Validate(known); err != nil {
		return fmt.Errorf("persona %s: %w", p.id, err)
	}
	return nil
}

// Reload loads the content named by cfg and swaps it in. On failure the
// current content stays in place. Registered handlers are kept; default
// acknowledgements follow the new configuration.
func (p *Persona) Reload(ctx context.Context, cfg config.PersonaConfig) error {
	if cfg.ID != p.id {
		return fmt.Errorf("persona %s: reload cannot change the id to %q", p.id, cfg.ID)
	}
	c, err := Load(ctx, cfg, p.deps)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.engine.Swap(c.Content); err != nil {
		return fmt.Errorf("persona %s: %w", p.id, err)
	}
	p.dispatcher.SetDefaults(c.Acks)
	p.cfg = cfg
	p.anchors = c.Anchors

	slog.Info("persona reloaded", "persona", p.id, "anchors", len(c.Anchors))
	if err := p.dispatcher.Validate(c.Anchors); err != nil {
		slog.Warn("orders without handlers after reload", "persona", p.id, "err", err)
	}
	return nil
}

// StartConversation opens the conversation of userID and queues the greeting.
func (p *Persona) StartConversation(ctx context.Context, userID string) error {
	return p.engine.StartConversation(ctx, userID)
}

// PushPhrase resolves one user phrase.
func (p *Persona) PushPhrase(ctx context.Context, userID, text string) error {
	return p.engine.PushPhrase(ctx, userID, text)
}

// PopPhrase returns the next queued reply for userID, or "".
func (p *Persona) PopPhrase(userID string) string {
	return p.engine.PopPhrase(userID)
}

// EndConversation forgets userID.
func (p *Persona) EndConversation(userID string) error {
	return p.engine.EndConversation(userID)
}

// Drain pops every queued reply for userID in order.
func (p *Persona) Drain(userID string) []string {
	var out []string
	for {
		r := p.engine.PopPhrase(userID)
		if r == "" {
			return out
		}
		out = append(out, r)
	}
}

// Recent returns the latest turn records of userID, newest first.
func (p *Persona) Recent(ctx context.Context, userID string, limit int) ([]turnlog.Record, error) {
	return p.engine.Recent(ctx, userID, limit)
}
