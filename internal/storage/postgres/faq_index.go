package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/replica/internal/faq"
	"github.com/MrWong99/replica/internal/textmatch"
	"github.com/MrWong99/replica/pkg/provider/embeddings"
	"github.com/MrWong99/replica/pkg/types"
)

// FAQIndex is the faq_entries table with an HNSW cosine index.
//
// Obtain one via [Store.FAQ]. All methods are safe for concurrent use.
type FAQIndex struct {
	pool *pgxpool.Pool
	dims int
}

// Load replaces all entries of personaID with entries, embedding their
// normalised questions in one batch. The swap happens in a single
// transaction.
func (f *FAQIndex) Load(ctx context.Context, personaID string, entries []faq.Entry, p embeddings.Provider) error {
	if len(entries) == 0 {
		return faq.ErrNoEntries
	}
	questions := make([]string, len(entries))
	for i, e := range entries {
		questions[i] = textmatch.Normalize(e.Question)
	}
	vecs, err := p.EmbedBatch(ctx, questions)
	if err != nil {
		return fmt.Errorf("faq index: embed: %w", err)
	}
	if len(vecs) != len(entries) {
		return fmt.Errorf("faq index: got %d vectors for %d entries", len(vecs), len(entries))
	}

	tx, err := f.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("faq index: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM faq_entries WHERE persona_id = $1`, personaID); err != nil {
		return fmt.Errorf("faq index: clear: %w", err)
	}
	batch := &pgx.Batch{}
	for i, e := range entries {
		if len(vecs[i]) != f.dims {
			return fmt.Errorf("faq index: entry %d: vector has %d dimensions, want %d", i, len(vecs[i]), f.dims)
		}
		batch.Queue(`
			INSERT INTO faq_entries (persona_id, position, question, answer, embedding)
			VALUES ($1, $2, $3, $4, $5)`,
			personaID, i, e.Question, e.Answer, pgvector.NewVector(vecs[i]))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("faq index: insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("faq index: commit: %w", err)
	}
	return nil
}

// Nearest returns the entry of personaID closest to query by cosine
// distance. Score is 1 - distance. ok is false when the persona has no
// entries.
func (f *FAQIndex) Nearest(ctx context.Context, personaID string, query []float32) (m faq.Match, ok bool, err error) {
	const q = `
		SELECT question, answer, embedding <=> $1 AS distance
		FROM   faq_entries
		WHERE  persona_id = $2
		ORDER  BY distance, position
		LIMIT  1`

	var distance float64
	err = f.pool.QueryRow(ctx, q, pgvector.NewVector(query), personaID).
		Scan(&m.Entry.Question, &m.Entry.Answer, &distance)
	if errors.Is(err, pgx.ErrNoRows) {
		return faq.Match{}, false, nil
	}
	if err != nil {
		return faq.Match{}, false, fmt.Errorf("faq index: nearest: %w", err)
	}
	m.Score = 1 - distance
	return m, true, nil
}

// Matcher returns a thresholded matcher over personaID's entries that embeds
// queries through scorer.
func (f *FAQIndex) Matcher(personaID string, scorer *faq.EmbeddingScorer, threshold float64) *Matcher {
	return &Matcher{index: f, personaID: personaID, scorer: scorer, threshold: threshold}
}

// Matcher answers BestMatch queries from the database. It satisfies the same
// contract as [faq.Store].
type Matcher struct {
	index     *FAQIndex
	personaID string
	scorer    *faq.EmbeddingScorer
	threshold float64
}

// BestMatch returns the nearest entry when its score reaches the threshold.
func (m *Matcher) BestMatch(ctx context.Context, p types.Phrase) (faq.Match, bool, error) {
	vec, err := m.scorer.QueryVector(ctx, p.Text())
	if err != nil {
		return faq.Match{}, false, err
	}
	match, ok, err := m.index.Nearest(ctx, m.personaID, vec)
	if err != nil || !ok || match.Score < m.threshold {
		return faq.Match{}, false, err
	}
	return match, true, nil
}
