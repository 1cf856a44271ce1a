package persona

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/replica/internal/config"
	"github.com/MrWong99/replica/internal/engine"
	"github.com/MrWong99/replica/internal/facts"
	"github.com/MrWong99/replica/internal/fallback"
	"github.com/MrWong99/replica/internal/faq"
	"github.com/MrWong99/replica/internal/nlu"
	"github.com/MrWong99/replica/internal/order"
	"github.com/MrWong99/replica/internal/rules"
	"github.com/MrWong99/replica/pkg/provider/embeddings"
	"github.com/MrWong99/replica/pkg/provider/llm"
	"github.com/MrWong99/replica/pkg/types"
)

// IndexFunc stores FAQ entries in an external vector index and returns the
// matcher answering from it.
type IndexFunc func(ctx context.Context, personaID string, entries []faq.Entry, scorer *faq.EmbeddingScorer, threshold float64) (engine.FAQ, error)

// Deps are the shared collaborators content is built with. Every field is
// optional; configuration that needs a missing one fails to load.
type Deps struct {
	// LLM serves small-talk rules and the llm facts answerer.
	LLM llm.Provider

	// Embeddings backs the embedding scorer.
	Embeddings embeddings.Provider

	// IndexFAQ, when set, moves the FAQ into an external index instead of
	// an in-memory store.
	IndexFAQ IndexFunc
}

// Content is everything loaded from a persona's files.
type Content struct {
	engine.Content

	// Anchors lists the orders the interpreter can recognise.
	Anchors []types.Anchor

	// Acks are the default acknowledgement handlers.
	Acks map[types.Anchor]order.Handler
}

// Load reads and compiles the files named by cfg. The rules, NLU, FAQ and
// fact files are loaded concurrently; the first failure is returned.
func Load(ctx context.Context, cfg config.PersonaConfig, deps Deps) (*Content, error) {
	if cfg.RulesFile == "" {
		return nil, fmt.Errorf("persona %s: no rules file", cfg.ID)
	}
	scorer, emb, err := scorers(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("persona %s: %w", cfg.ID, err)
	}

	c := &Content{Acks: make(map[types.Anchor]order.Handler, len(cfg.DefaultAckAnchors))}
	c.ForceFacts = cfg.ForceQuestionAnswering
	for _, a := range cfg.DefaultAckAnchors {
		c.Acks[types.Anchor(a)] = order.Acknowledge()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loadRules(cfg, deps, &c.Content)
	})
	if cfg.NLUFile != "" {
		g.Go(func() error {
			k, err := nlu.Load(cfg.NLUFile)
			if err != nil {
				return err
			}
			c.Interpreter = k
			c.Anchors = k.Anchors()
			return nil
		})
	}
	if cfg.FAQ() && cfg.FAQFile != "" {
		g.Go(func() error {
			store, err := loadFAQ(gctx, cfg, deps, scorer, emb)
			if err != nil {
				return err
			}
			c.FAQ = store
			return nil
		})
	}
	if cfg.FactsFile != "" {
		g.Go(func() error {
			a, err := loadFacts(gctx, cfg, deps, scorer)
			if err != nil {
				return err
			}
			c.Facts = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("persona %s: %w", cfg.ID, err)
	}
	return c, nil
}

func scorers(cfg config.PersonaConfig, deps Deps) (faq.Scorer, *faq.EmbeddingScorer, error) {
	if cfg.Scorer != config.ScorerEmbedding {
		return faq.NewLexicalScorer(nil), nil, nil
	}
	if deps.Embeddings == nil {
		return nil, nil, errors.New("embedding scorer without an embeddings provider")
	}
	emb := faq.NewEmbeddingScorer(deps.Embeddings)
	return emb, emb, nil
}

// loadRules fills the fallback pools and, unless scripting is disabled, the
// rule stage. Greetings are kept either way.
func loadRules(cfg config.PersonaConfig, deps Deps, c *engine.Content) error {
	f, err := rules.LoadFile(cfg.RulesFile)
	if err != nil {
		return err
	}
	fb, err := fallback.New(f.Fallback)
	if err != nil {
		return fmt.Errorf("rules: %s: %w", cfg.RulesFile, err)
	}
	c.Fallback = fb

	if !cfg.Scripting() {
		f = rules.File{Greetings: f.Greetings}
	}
	var opts []rules.Option
	if cfg.Smalltalk() && deps.LLM != nil {
		opts = append(opts, rules.WithLLM(deps.LLM))
	}
	r, err := rules.New(f, opts...)
	if err != nil {
		return fmt.Errorf("rules: %s: %w", cfg.RulesFile, err)
	}
	c.Rules = r
	return nil
}

func loadFAQ(ctx context.Context, cfg config.PersonaConfig, deps Deps, scorer faq.Scorer, emb *faq.EmbeddingScorer) (engine.FAQ, error) {
	entries, err := faq.LoadFile(cfg.FAQFile)
	if err != nil {
		return nil, err
	}
	if deps.IndexFAQ != nil {
		if emb == nil {
			return nil, errors.New("faq: an external index needs the embedding scorer")
		}
		return deps.IndexFAQ(ctx, cfg.ID, entries, emb, cfg.FAQThreshold)
	}
	return faq.New(ctx, entries, scorer, cfg.FAQThreshold)
}

func loadFacts(ctx context.Context, cfg config.PersonaConfig, deps Deps, scorer faq.Scorer) (facts.Answerer, error) {
	premises, err := facts.Load(cfg.FactsFile)
	if err != nil {
		return nil, err
	}
	base, err := facts.NewBase(ctx, premises, scorer)
	if err != nil {
		return nil, err
	}
	if cfg.FactsAnswerer == config.FactsLLM {
		if deps.LLM == nil {
			return nil, errors.New("facts: llm answerer without a language model")
		}
		return facts.NewLLMAnswerer(base, deps.LLM, facts.WithMinScore(cfg.FactsThreshold))
	}
	return facts.NewRelevanceAnswerer(base, cfg.FactsThreshold)
}
