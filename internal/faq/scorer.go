package faq

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/MrWong99/replica/internal/textmatch"
	"github.com/MrWong99/replica/pkg/provider/embeddings"
)

// LexicalScorer scores by normalised string and token similarity. It needs
// no network access.
type LexicalScorer struct {
	m *textmatch.Matcher
}

var _ Scorer = (*LexicalScorer)(nil)

// NewLexicalScorer returns a [LexicalScorer] using m, or a default matcher
// when m is nil.
func NewLexicalScorer(m *textmatch.Matcher) *LexicalScorer {
	if m == nil {
		m = textmatch.New()
	}
	return &LexicalScorer{m: m}
}

// Sign implements [Scorer].
func (l *LexicalScorer) Sign(_ context.Context, texts []string) ([]Signature, error) {
	out := make([]Signature, len(texts))
	for i, t := range texts {
		out[i] = Signature{Text: textmatch.Normalize(t)}
	}
	return out, nil
}

// Score implements [Scorer].
func (l *LexicalScorer) Score(_ context.Context, query string, candidates []Signature) ([]float64, error) {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = l.m.Similarity(query, c.Text)
	}
	return out, nil
}

const (
	defaultQueryCacheTTL     = 10 * time.Minute
	defaultQueryCacheCleanup = 15 * time.Minute
)

// EmbeddingScorer scores by cosine similarity of embedding vectors. Query
// vectors are cached so repeated phrases do not hit the provider again.
type EmbeddingScorer struct {
	provider embeddings.Provider
	queries  *cache.Cache
}

var _ Scorer = (*EmbeddingScorer)(nil)

// EmbeddingOption configures an [EmbeddingScorer].
type EmbeddingOption func(*embeddingConfig)

type embeddingConfig struct {
	ttl, cleanup time.Duration
}

// WithQueryCacheTTL sets how long query vectors are kept. Default: 10 minutes.
func WithQueryCacheTTL(ttl time.Duration) EmbeddingOption {
	return func(c *embeddingConfig) { c.ttl = ttl }
}

// NewEmbeddingScorer returns an [EmbeddingScorer] backed by p.
func NewEmbeddingScorer(p embeddings.Provider, opts ...EmbeddingOption) *EmbeddingScorer {
	cfg := embeddingConfig{ttl: defaultQueryCacheTTL, cleanup: defaultQueryCacheCleanup}
	for _, o := range opts {
		o(&cfg)
	}
	return &EmbeddingScorer{
		provider: p,
		queries:  cache.New(cfg.ttl, cfg.cleanup),
	}
}

// Sign implements [Scorer]. All texts are embedded in one batch.
func (e *EmbeddingScorer) Sign(ctx context.Context, texts []string) ([]Signature, error) {
	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = textmatch.Normalize(t)
	}
	vecs, err := e.provider.EmbedBatch(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("embedding scorer: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding scorer: got %d vectors for %d texts", len(vecs), len(texts))
	}
	out := make([]Signature, len(texts))
	for i := range texts {
		out[i] = Signature{Text: normalized[i], Vector: vecs[i]}
	}
	return out, nil
}

// Score implements [Scorer]. Negative cosine similarities are clamped to 0.
func (e *EmbeddingScorer) Score(ctx context.Context, query string, candidates []Signature) ([]float64, error) {
	q, err := e.QueryVector(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = max(0, Cosine(q, c.Vector))
	}
	return out, nil
}

// QueryVector returns the embedding of the normalised query, using the cache
// when possible.
func (e *EmbeddingScorer) QueryVector(ctx context.Context, query string) ([]float32, error) {
	key := textmatch.Normalize(query)
	if v, ok := e.queries.Get(key); ok {
		return v.([]float32), nil
	}
	vec, err := e.provider.Embed(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("embedding scorer: embed query: %w", err)
	}
	e.queries.SetDefault(key, vec)
	return vec, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
