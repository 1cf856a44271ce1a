package faq

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/replica/pkg/provider/embeddings/mock"
	"github.com/MrWong99/replica/pkg/types"
)

// fixedScorer returns canned scores regardless of the query.
type fixedScorer struct {
	scores  []float64
	signErr error
	err     error
}

func (f *fixedScorer) Sign(_ context.Context, texts []string) ([]Signature, error) {
	if f.signErr != nil {
		return nil, f.signErr
	}
	return make([]Signature, len(texts)), nil
}

func (f *fixedScorer) Score(context.Context, string, []Signature) ([]float64, error) {
	return f.scores, f.err
}

var lunch = []Entry{
	{Question: "когда обед?", Answer: "Обед в 13:00"},
	{Question: "как тебя зовут?", Answer: "Меня зовут Реплика"},
}

// ── Store ────────────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if _, err := New(ctx, nil, NewLexicalScorer(nil), 0.8); !errors.Is(err, ErrNoEntries) {
		t.Errorf("New(nil entries) = %v, want ErrNoEntries", err)
	}
	if _, err := New(ctx, lunch, nil, 0.8); err == nil {
		t.Error("New with nil scorer succeeded")
	}
	if _, err := New(ctx, lunch, NewLexicalScorer(nil), 1.5); err == nil {
		t.Error("New with threshold 1.5 succeeded")
	}
	if _, err := New(ctx, lunch, &fixedScorer{signErr: errors.New("down")}, 0.8); err == nil {
		t.Error("New with failing Sign succeeded")
	}
}

func TestStore_BestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		scores     []float64
		threshold  float64
		wantOK     bool
		wantAnswer string
	}{
		{"above threshold", []float64{0.9, 0.2}, 0.8, true, "Обед в 13:00"},
		{"equal to threshold", []float64{0.1, 0.8}, 0.8, true, "Меня зовут Реплика"},
		{"below threshold", []float64{0.79, 0.5}, 0.8, false, ""},
		{"tie keeps first", []float64{0.9, 0.9}, 0.5, true, "Обед в 13:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := New(context.Background(), lunch, &fixedScorer{scores: tt.scores}, tt.threshold)
			if err != nil {
				t.Fatal(err)
			}
			m, ok, err := s.BestMatch(context.Background(), types.PlainPhrase("x"))
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.wantOK || m.Entry.Answer != tt.wantAnswer {
				t.Errorf("BestMatch() = %+v, %v; want answer %q, %v", m, ok, tt.wantAnswer, tt.wantOK)
			}
		})
	}
}

func TestStore_BestMatchScorerErrors(t *testing.T) {
	t.Parallel()

	s, err := New(context.Background(), lunch, &fixedScorer{err: errors.New("boom")}, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.BestMatch(context.Background(), types.PlainPhrase("x")); err == nil {
		t.Error("BestMatch with failing scorer returned nil error")
	}

	short, err := New(context.Background(), lunch, &fixedScorer{scores: []float64{1}}, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := short.BestMatch(context.Background(), types.PlainPhrase("x")); err == nil {
		t.Error("BestMatch with mismatched score count returned nil error")
	}
}

// ── Scorers ──────────────────────────────────────────────────────────────────

func TestLexicalScorer_LunchScenario(t *testing.T) {
	t.Parallel()

	s, err := New(context.Background(), lunch, NewLexicalScorer(nil), 0.8)
	if err != nil {
		t.Fatal(err)
	}

	m, ok, err := s.BestMatch(context.Background(), types.PlainPhrase("когда у нас обед"))
	if err != nil {
		t.Fatal(err)
	}
	if !ok || m.Entry.Answer != "Обед в 13:00" {
		t.Errorf("BestMatch(когда у нас обед) = %+v, %v; want Обед в 13:00", m, ok)
	}

	if m, ok, _ := s.BestMatch(context.Background(), types.PlainPhrase("какая погода завтра")); ok {
		t.Errorf("BestMatch(какая погода завтра) matched %+v", m)
	}
}

func TestEmbeddingScorer(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		Vectors: map[string][]float32{
			"когда обед":       {1, 0, 0},
			"как тебя зовут":   {0, 1, 0},
			"когда у нас обед": {0.9, 0.1, 0},
		},
		DefaultVector:   []float32{0, 0, 1},
		DimensionsValue: 3,
	}
	scorer := NewEmbeddingScorer(p)
	s, err := New(context.Background(), lunch, scorer, 0.8)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(p.EmbedBatchCalls); n != 1 {
		t.Fatalf("EmbedBatch called %d times at load, want 1", n)
	}

	for range 3 {
		m, ok, err := s.BestMatch(context.Background(), types.PlainPhrase("Когда у нас обед?"))
		if err != nil {
			t.Fatal(err)
		}
		if !ok || m.Entry.Answer != "Обед в 13:00" {
			t.Fatalf("BestMatch() = %+v, %v", m, ok)
		}
	}
	if n := p.EmbedCallCount(); n != 1 {
		t.Errorf("Embed called %d times for a repeated query, want 1 (cached)", n)
	}

	if _, ok, _ := s.BestMatch(context.Background(), types.PlainPhrase("что-то другое")); ok {
		t.Error("orthogonal query matched")
	}
}

func TestEmbeddingScorer_ProviderError(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Err: errors.New("quota")}
	if _, err := New(context.Background(), lunch, NewEmbeddingScorer(p), 0.8); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Errorf("New() error = %v, want wrapped provider error", err)
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b []float32
		want float64
	}{
		{[]float32{1, 0}, []float32{1, 0}, 1},
		{[]float32{1, 0}, []float32{0, 1}, 0},
		{[]float32{1, 0}, []float32{-1, 0}, -1},
		{[]float32{1, 0}, []float32{1}, 0},
		{[]float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		if got := Cosine(tt.a, tt.b); got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("Cosine(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
