// Package app wires the replica subsystems into a running application.
//
// New builds storage, the persona, MCP order handlers and health checks from
// a profile. Run drives the background loops; Serve additionally runs the
// HTTP API and, when configured, the Discord bot. Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithRecorder,
// WithOrderHost, ...). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/replica/internal/api"
	"github.com/MrWong99/replica/internal/config"
	"github.com/MrWong99/replica/internal/discord"
	"github.com/MrWong99/replica/internal/discord/commands"
	"github.com/MrWong99/replica/internal/engine"
	"github.com/MrWong99/replica/internal/faq"
	"github.com/MrWong99/replica/internal/health"
	"github.com/MrWong99/replica/internal/observe"
	"github.com/MrWong99/replica/internal/order/mcporder"
	"github.com/MrWong99/replica/internal/persona"
	"github.com/MrWong99/replica/internal/session"
	"github.com/MrWong99/replica/internal/storage/postgres"
	"github.com/MrWong99/replica/internal/turnlog"
	"github.com/MrWong99/replica/internal/turnlog/sqlite"
	"github.com/MrWong99/replica/pkg/types"
)

// defaultEmbeddingDimensions sizes the unused FAQ vector column when
// postgres only holds the turn log.
const defaultEmbeddingDimensions = 1536

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	persona  *persona.Persona
	recorder turnlog.Recorder
	pg       *postgres.Store
	orders   *mcporder.Host
	bound    []types.Anchor
	metrics  *observe.Metrics
	metricsH http.Handler
	level    *slog.LevelVar
	watcher  *config.Watcher
	checkers []health.Checker

	mu        sync.Mutex
	reloadErr error

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecorder injects a turn recorder instead of opening the configured
// backend.
func WithRecorder(r turnlog.Recorder) Option {
	return func(a *App) { a.recorder = r }
}

// WithOrderHost injects an MCP host whose servers are already connected.
// mcp.servers from the config are not connected when it is set.
func WithOrderHost(h *mcporder.Host) Option {
	return func(a *App) { a.orders = h }
}

// WithMetrics records turn and HTTP metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry serves p's Prometheus page at /metrics and shuts p down on
// Shutdown.
func WithTelemetry(p *observe.Provider) Option {
	return func(a *App) {
		a.metricsH = p.Handler()
		a.closers = append(a.closers, func() error { return p.Shutdown(context.Background()) })
	}
}

// WithLevel lets configuration reloads change the log level.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithWatcher polls for configuration changes while the app runs. The
// watcher's callback should call [App.ApplyChange].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. On error everything
// opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.Discard()
	}

	if err := a.init(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Persona ───────────────────────────────────────────────────────
	if err := a.initPersona(ctx); err != nil {
		return fmt.Errorf("app: init persona: %w", err)
	}

	// ── 3. MCP order handlers ────────────────────────────────────────────
	if err := a.initOrders(ctx); err != nil {
		return fmt.Errorf("app: init orders: %w", err)
	}

	// ── 4. Demo handlers for the remaining orders ────────────────────────
	if err := persona.RegisterDemo(a.persona, a.bound...); err != nil {
		return fmt.Errorf("app: register demo handlers: %w", err)
	}
	if err := a.persona.Validate(); err != nil {
		slog.Warn("persona has orders without handlers; they will be answered as not understood", "persona", a.persona.ID(), "err", err)
	}

	// ── 5. Health ────────────────────────────────────────────────────────
	a.initHealth()
	return nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStorage(ctx context.Context) error {
	st := a.cfg.Storage
	if st.TurnLog == config.TurnLogPostgres || st.FAQIndex == config.FAQIndexPostgres {
		dims := st.EmbeddingDimensions
		if dims == 0 {
			dims = defaultEmbeddingDimensions
		}
		pg, err := postgres.NewStore(ctx, st.PostgresDSN, dims)
		if err != nil {
			return err
		}
		a.pg = pg
		a.closers = append(a.closers, func() error { pg.Close(); return nil })
	}

	if a.recorder != nil {
		return nil
	}
	switch st.TurnLog {
	case config.TurnLogSQLite:
		rec, err := sqlite.Open(ctx, st.SQLitePath)
		if err != nil {
			return err
		}
		a.recorder = rec
		a.closers = append(a.closers, rec.Close)
		a.checkers = append(a.checkers, health.Ping("turnlog", rec))
	case config.TurnLogPostgres:
		a.recorder = a.pg.Turns()
	default:
		a.recorder = turnlog.Nop{}
	}
	return nil
}

func (a *App) initPersona(ctx context.Context) error {
	deps := persona.Deps{LLM: a.providers.LLM, Embeddings: a.providers.Embeddings}
	if a.cfg.Storage.FAQIndex == config.FAQIndexPostgres {
		deps.IndexFAQ = a.indexFAQ
	}

	s := a.cfg.Session
	sessOpts := []session.Option{session.WithMaxHistory(s.MaxHistory), session.WithSweepInterval(s.SweepInterval)}
	if s.IdleTTL != nil {
		sessOpts = append(sessOpts, session.WithIdleTTL(*s.IdleTTL))
	}

	p, err := persona.New(ctx, a.cfg.Persona, deps,
		engine.WithRecorder(a.recorder),
		engine.WithMetrics(a.metrics),
		engine.WithSessionOptions(sessOpts...),
	)
	if err != nil {
		return err
	}
	a.persona = p
	return nil
}

// indexFAQ loads entries into the postgres FAQ index and answers from it.
func (a *App) indexFAQ(ctx context.Context, personaID string, entries []faq.Entry, scorer *faq.EmbeddingScorer, threshold float64) (engine.FAQ, error) {
	if a.providers.Embeddings == nil {
		return nil, errors.New("postgres faq index needs an embeddings provider")
	}
	idx := a.pg.FAQ()
	if err := idx.Load(ctx, personaID, entries, a.providers.Embeddings); err != nil {
		return nil, err
	}
	return idx.Matcher(personaID, scorer, threshold), nil
}

func (a *App) initOrders(ctx context.Context) error {
	if len(a.cfg.Orders) == 0 && a.orders == nil {
		return nil
	}
	if a.orders == nil {
		a.orders = mcporder.New()
		for _, srv := range a.cfg.MCP.Servers {
			if err := a.orders.Connect(ctx, srv.ServerConfig()); err != nil {
				return err
			}
			slog.Info("mcp server connected", "server", srv.Name, "transport", srv.Transport)
		}
	}
	a.closers = append(a.closers, a.orders.Close)
	a.checkers = append(a.checkers, health.Ping("mcp", a.orders))

	for _, o := range a.cfg.Orders {
		anchor := types.Anchor(o.Anchor)
		h, err := a.orders.Handler(mcporder.Binding{Anchor: anchor, Server: o.Server, Tool: o.Tool, Args: o.Args})
		if err != nil {
			return err
		}
		if err := a.persona.AddEventHandler(anchor, h); err != nil {
			return err
		}
		a.bound = append(a.bound, anchor)
	}
	return nil
}

func (a *App) initHealth() {
	a.checkers = append(a.checkers, health.Checker{
		Name: "persona",
		Check: func(context.Context) error {
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.reloadErr != nil {
				return fmt.Errorf("last reload failed: %w", a.reloadErr)
			}
			return nil
		},
	})
	if a.pg != nil {
		a.checkers = append(a.checkers, health.Ping("postgres", a.pg))
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Persona returns the running persona.
func (a *App) Persona() *persona.Persona { return a.persona }

// Health returns the readiness handler over every configured checker.
func (a *App) Health() *health.Handler { return health.New(a.checkers) }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run drives the session janitor and, when set, the configuration watcher
// until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	a.background(ctx, g)
	return g.Wait()
}

// Serve runs everything Run does plus the HTTP API and, when a token is
// configured, the Discord bot. The first failure stops the rest.
func (a *App) Serve(ctx context.Context) error {
	var bot *discord.Bot
	if a.cfg.Discord.Token != "" {
		b, err := discord.New(ctx, a.cfg.Discord, a.persona)
		if err != nil {
			return err
		}
		commands.NewConversationCommands(b.Router(), a.persona)
		bot = b
	}

	g, ctx := errgroup.WithContext(ctx)
	a.background(ctx, g)
	if bot != nil {
		g.Go(func() error { return bot.Run(ctx) })
	}

	opts := []api.Option{api.WithMetrics(a.metrics), api.WithHealth(a.Health())}
	if a.metricsH != nil {
		opts = append(opts, api.WithMetricsHandler(a.metricsH))
	}
	srv := api.New(a.persona, opts...)
	g.Go(func() error { return srv.ListenAndServe(ctx, a.cfg.Server.ListenAddr) })

	slog.Info("replica serving", "persona", a.persona.ID(), "addr", a.cfg.Server.ListenAddr, "discord", a.cfg.Discord.Token != "")
	return g.Wait()
}

func (a *App) background(ctx context.Context, g *errgroup.Group) {
	g.Go(func() error {
		a.persona.Engine().Run(ctx)
		return nil
	})
	if a.watcher != nil {
		g.Go(func() error {
			a.watcher.Run(ctx)
			return nil
		})
	}
}

// ApplyChange applies a reloaded profile: the log level and the persona
// change in place; other sections are reported as needing a restart.
func (a *App) ApplyChange(ctx context.Context, cfg *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PersonaChanged {
		err := a.persona.Reload(ctx, cfg.Persona)
		if err != nil {
			slog.Error("persona reload failed; keeping previous content", "persona", a.persona.ID(), "err", err)
		}
		a.mu.Lock()
		a.reloadErr = err
		a.mu.Unlock()
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("configuration changes need a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown runs the closers in order. It respects the context deadline: if
// ctx expires before all closers finish, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Debug("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Debug("shutdown complete")
	})
	return shutdownErr
}
