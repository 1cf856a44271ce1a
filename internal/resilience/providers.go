package resilience

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/replica/pkg/provider/embeddings"
	"github.com/MrWong99/replica/pkg/provider/llm"
)

// LLM is an [llm.Provider] that fails over across several backends.
type LLM struct {
	group *Group[llm.Provider]
}

var _ llm.Provider = (*LLM)(nil)

// NewLLM wraps backends, most preferred first.
func NewLLM(backends []Named[llm.Provider], opts ...BreakerOption) (*LLM, error) {
	g, err := NewGroup(backends, opts...)
	if err != nil {
		return nil, err
	}
	return &LLM{group: g}, nil
}

// Complete implements [llm.Provider].
func (l *LLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, l.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// ModelID implements [llm.Provider]. It lists every backend, primary first,
// separated by "|".
func (l *LLM) ModelID() string {
	ids := make([]string, 0, len(l.group.members))
	for _, m := range l.group.members {
		ids = append(ids, m.value.ModelID())
	}
	return strings.Join(ids, "|")
}

// States exposes the breaker state of every backend.
func (l *LLM) States() map[string]State { return l.group.States() }

// Embeddings is an [embeddings.Provider] that fails over across backends
// producing vectors of the same size.
type Embeddings struct {
	group *Group[embeddings.Provider]
	dims  int
}

var _ embeddings.Provider = (*Embeddings)(nil)

// NewEmbeddings wraps backends, most preferred first. All backends must report
// the same Dimensions, since their vectors end up in one index.
func NewEmbeddings(backends []Named[embeddings.Provider], opts ...BreakerOption) (*Embeddings, error) {
	g, err := NewGroup(backends, opts...)
	if err != nil {
		return nil, err
	}
	dims := backends[0].Value.Dimensions()
	for _, b := range backends[1:] {
		if d := b.Value.Dimensions(); d != dims {
			return nil, fmt.Errorf("resilience: embeddings backend %q has %d dimensions, %q has %d", b.Name, d, backends[0].Name, dims)
		}
	}
	return &Embeddings{group: g, dims: dims}, nil
}

// Embed implements [embeddings.Provider].
func (e *Embeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	return Call(ctx, e.group, func(ctx context.Context, p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch implements [embeddings.Provider].
func (e *Embeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return Call(ctx, e.group, func(ctx context.Context, p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions implements [embeddings.Provider].
func (e *Embeddings) Dimensions() int { return e.dims }

// ModelID implements [embeddings.Provider]. It reports the primary backend.
func (e *Embeddings) ModelID() string { return e.group.Primary().ModelID() }
