package fallback

import (
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pools   Pools
		wantErr string
	}{
		{
			name:  "valid",
			pools: Pools{NoInformation: []string{"Не знаю."}, UnknownOrder: []string{"Не понял команду."}},
		},
		{
			name:    "empty no-information pool",
			pools:   Pools{UnknownOrder: []string{"Не понял команду."}},
			wantErr: "no_relevant_information",
		},
		{
			name:    "empty unknown-order pool",
			pools:   Pools{NoInformation: []string{"Не знаю."}},
			wantErr: "unknown_order",
		},
		{
			name:    "blank phrase",
			pools:   Pools{NoInformation: []string{"  "}, UnknownOrder: []string{"x"}},
			wantErr: "blank phrase",
		},
		{
			name:    "shared phrase",
			pools:   Pools{NoInformation: []string{"x"}, UnknownOrder: []string{"x"}},
			wantErr: "both pools",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, err := New(tt.pools)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("New() error = %v", err)
				}
				if r == nil {
					t.Fatal("New() returned nil responder")
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("New() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNew_EmptyPoolIsSentinel(t *testing.T) {
	t.Parallel()

	_, err := New(Pools{})
	if !errors.Is(err, ErrEmptyPool) {
		t.Errorf("New(Pools{}) error = %v, want ErrEmptyPool", err)
	}
}

func TestResponder_SingleEntryIsDeterministic(t *testing.T) {
	t.Parallel()

	r, err := New(Pools{NoInformation: []string{"Не знаю."}, UnknownOrder: []string{"Не понял."}})
	if err != nil {
		t.Fatal(err)
	}
	for range 20 {
		if got := r.NoInformation(); got != "Не знаю." {
			t.Fatalf("NoInformation() = %q", got)
		}
		if got := r.OrderNotUnderstood(); got != "Не понял." {
			t.Fatalf("OrderNotUnderstood() = %q", got)
		}
	}
}

func TestResponder_UniformOverTwoPhrases(t *testing.T) {
	t.Parallel()

	pool := []string{"Я не знаю.", "Мне нечего сказать."}
	r, err := New(
		Pools{NoInformation: pool, UnknownOrder: []string{"Не понял."}},
		WithSource(rand.NewPCG(1, 2)),
	)
	if err != nil {
		t.Fatal(err)
	}

	const n = 2000
	counts := make(map[string]int)
	for range n {
		got := r.NoInformation()
		if !slices.Contains(pool, got) {
			t.Fatalf("NoInformation() = %q, not in pool", got)
		}
		counts[got]++
	}
	for _, p := range pool {
		if c := counts[p]; c < n*4/10 || c > n*6/10 {
			t.Errorf("phrase %q chosen %d/%d times, want roughly half", p, c, n)
		}
	}
}

func TestResponder_SeededSourceIsReproducible(t *testing.T) {
	t.Parallel()

	pools := Pools{NoInformation: []string{"a", "b", "c"}, UnknownOrder: []string{"d", "e"}}
	seq := func() []string {
		r, err := New(pools, WithSource(rand.NewPCG(42, 7)))
		if err != nil {
			t.Fatal(err)
		}
		var out []string
		for range 10 {
			out = append(out, r.NoInformation(), r.OrderNotUnderstood())
		}
		return out
	}
	if a, b := seq(), seq(); !slices.Equal(a, b) {
		t.Errorf("same seed produced different sequences:\n%v\n%v", a, b)
	}
}

func TestResponder_PoolsAreCopied(t *testing.T) {
	t.Parallel()

	noInfo := []string{"original"}
	r, err := New(Pools{NoInformation: noInfo, UnknownOrder: []string{"u"}})
	if err != nil {
		t.Fatal(err)
	}
	noInfo[0] = "mutated"
	if got := r.NoInformation(); got != "original" {
		t.Errorf("NoInformation() = %q after caller mutation, want original", got)
	}
}
