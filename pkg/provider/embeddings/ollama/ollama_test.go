package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/replica/pkg/provider/embeddings/ollama"
)

// embedServer answers /api/embed with a vector of size dims per input whose
// first component is the input's index.
func embedServer(t *testing.T, dims int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		out := make([][]float32, len(req.Input))
		for i := range out {
			out[i] = make([]float32, dims)
			out[i][0] = float32(i)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": out})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := ollama.New("", ""); err == nil {
		t.Error("New with empty model succeeded")
	}
	p, err := ollama.New("http://ollama:11434/", "nomic-embed-text")
	if err != nil {
		t.Fatal(err)
	}
	if p.ModelID() != "nomic-embed-text" || p.Dimensions() != 768 {
		t.Errorf("got %s/%d", p.ModelID(), p.Dimensions())
	}
}

func TestEmbedBatch(t *testing.T) {
	t.Parallel()

	srv := embedServer(t, 4, nil)
	p, err := ollama.New(srv.URL, "custom-model")
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(vecs) != 3 || vecs[2][0] != 2 {
		t.Errorf("EmbedBatch() = %v", vecs)
	}

	vec, err := p.Embed(context.Background(), "когда обед")
	if err != nil || len(vec) != 4 {
		t.Errorf("Embed() = %v, %v", vec, err)
	}

	if vecs, err := p.EmbedBatch(context.Background(), nil); vecs != nil || err != nil {
		t.Errorf("EmbedBatch(nil) = %v, %v", vecs, err)
	}
}

func TestDimensions_Probe(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := embedServer(t, 5, &calls)
	p, _ := ollama.New(srv.URL, "unknown-model")

	if got := p.Dimensions(); got != 5 {
		t.Errorf("Dimensions() = %d, want 5", got)
	}
	p.Dimensions()
	if calls.Load() != 1 {
		t.Errorf("probe issued %d times, want 1", calls.Load())
	}

	fixed, _ := ollama.New(srv.URL, "unknown-model", ollama.WithDimensions(12))
	if fixed.Dimensions() != 12 {
		t.Errorf("WithDimensions ignored: %d", fixed.Dimensions())
	}
}

func TestEmbed_Errors(t *testing.T) {
	t.Parallel()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	t.Cleanup(failing.Close)
	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	t.Cleanup(malformed.Close)

	for name, url := range map[string]string{
		"status":    failing.URL,
		"malformed": malformed.URL,
		"down":      "http://127.0.0.1:1",
	} {
		p, _ := ollama.New(url, "nomic-embed-text")
		if _, err := p.Embed(context.Background(), "x"); err == nil {
			t.Errorf("%s: Embed() succeeded", name)
		}
	}

	srv := embedServer(t, 3, nil)
	p, _ := ollama.New(srv.URL, "nomic-embed-text")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Embed(ctx, "x"); err == nil {
		t.Error("Embed with cancelled context succeeded")
	}
}
