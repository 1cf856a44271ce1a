package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/replica/internal/config"
	"github.com/MrWong99/replica/internal/observe"
	"github.com/MrWong99/replica/internal/resilience"
	"github.com/MrWong99/replica/pkg/provider/embeddings"
	"github.com/MrWong99/replica/pkg/provider/llm"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// BuildProviders creates the configured providers through reg. Each is
// wrapped in circuit breakers; the LLM fails over to its fallbacks in order.
// Breaker transitions are logged and counted on m.
func BuildProviders(reg *config.Registry, cfg config.ProvidersConfig, m *observe.Metrics) (*Providers, error) {
	if m == nil {
		m = observe.Discard()
	}
	hook := resilience.WithStateHook(func(name string, from, to resilience.State) {
		slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		m.RecordBreakerTransition(context.Background(), name, to.String())
	})

	p := &Providers{}
	if cfg.LLM.Name != "" {
		var backends []resilience.Named[llm.Provider]
		for i, entry := range append([]config.ProviderEntry{cfg.LLM}, cfg.LLMFallbacks...) {
			prov, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("app: build providers: %w", err)
			}
			backends = append(backends, resilience.Named[llm.Provider]{Name: breakerName("llm", i, entry), Value: prov})
		}
		l, err := resilience.NewLLM(backends, hook)
		if err != nil {
			return nil, fmt.Errorf("app: build providers: %w", err)
		}
		p.LLM = l
	}
	if cfg.Embeddings.Name != "" {
		prov, err := reg.CreateEmbeddings(cfg.Embeddings)
		if err != nil {
			return nil, fmt.Errorf("app: build providers: %w", err)
		}
		e, err := resilience.NewEmbeddings([]resilience.Named[embeddings.Provider]{
			{Name: breakerName("embeddings", 0, cfg.Embeddings), Value: prov},
		}, hook)
		if err != nil {
			return nil, fmt.Errorf("app: build providers: %w", err)
		}
		p.Embeddings = e
	}
	return p, nil
}

// breakerName labels a backend by kind, position and provider name, for
// example "llm/1/ollama".
func breakerName(kind string, i int, e config.ProviderEntry) string {
	return fmt.Sprintf("%s/%d/%s", kind, i, e.Name)
}
