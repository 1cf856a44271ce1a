package nlu

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/replica/pkg/types"
)

const demoNLU = `
orders:
  - anchor: buy_pizza
    triggers: ["купи пиццу", "закажи пиццу", "хочу пиццу"]
    slots:
      - pattern: '(?:купи|закажи|хочу)(?:\s+мне)?\s+(?:(?P<count>\d+)\s+)?(?P<what>\p{L}+)'
        roles: {count: количество, what: объект}
  - anchor: weather_forecast
    triggers: ["погода", "прогноз погоды"]
    slots:
      - pattern: '(?P<when>сегодня|завтра|послезавтра)'
        roles: {when: когда}
  - anchor: check_emails
    triggers: ["новых писем", "проверь почту"]
`

func demo(t *testing.T) *Keyword {
	t.Helper()
	k, err := Parse(strings.NewReader(demoNLU))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return k
}

func TestKeyword_Interpret(t *testing.T) {
	t.Parallel()

	k := demo(t)
	tests := []struct {
		text       string
		wantAnchor types.Anchor
		wantSlots  map[string]string
	}{
		{
			text:       "Купи мне 2 пиццы, пожалуйста!",
			wantAnchor: "buy_pizza",
			wantSlots:  map[string]string{"количество": "2", "объект": "пиццы"},
		},
		{
			text:       "закажи пиццу",
			wantAnchor: "buy_pizza",
			wantSlots:  map[string]string{"объект": "пиццу"},
		},
		{
			text:       "Какая погода завтра?",
			wantAnchor: "weather_forecast",
			wantSlots:  map[string]string{"когда": "завтра"},
		},
		{
			// Inflected trigger token still matches.
			text:       "расскажи про погоду",
			wantAnchor: "weather_forecast",
			wantSlots:  map[string]string{},
		},
		{
			text:       "Нет ли новых писем?",
			wantAnchor: "check_emails",
			wantSlots:  map[string]string{},
		},
		{
			text:      "Когда у нас обед?",
			wantSlots: map[string]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			t.Parallel()
			p, err := k.Interpret(context.Background(), tt.text)
			if err != nil {
				t.Fatalf("Interpret() error = %v", err)
			}
			if p.Anchor != tt.wantAnchor {
				t.Errorf("Anchor = %q, want %q", p.Anchor, tt.wantAnchor)
			}
			if got := p.Slots(); len(got) != len(tt.wantSlots) {
				t.Errorf("Slots() = %v, want %v", got, tt.wantSlots)
			}
			for role, want := range tt.wantSlots {
				if got, _ := p.Slot(role); got != want {
					t.Errorf("Slot(%q) = %q, want %q", role, got, want)
				}
			}
			if p.Raw != strings.TrimSpace(tt.text) {
				t.Errorf("Raw = %q", p.Raw)
			}
		})
	}
}

func TestKeyword_Anchors(t *testing.T) {
	t.Parallel()

	got := demo(t).Anchors()
	want := []types.Anchor{"buy_pizza", "weather_forecast", "check_emails"}
	if !slices.Equal(got, want) {
		t.Errorf("Anchors() = %v, want %v", got, want)
	}
}

func TestKeyword_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := demo(t).Interpret(ctx, "купи пиццу"); err == nil {
		t.Error("Interpret with cancelled context succeeded")
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantSub []string
	}{
		{
			name:    "unknown field",
			yaml:    "orders:\n  - anchor: a\n    trigger: [x]\n",
			wantSub: []string{"trigger"},
		},
		{
			name: "several problems reported together",
			yaml: `
orders:
  - triggers: [x]
  - anchor: a
    triggers: [x]
  - anchor: a
    triggers: [y]
  - anchor: b
    triggers: ["!!!"]
  - anchor: c
    triggers: [c]
    slots:
      - pattern: '('
      - pattern: '\d+'
      - pattern: '(?P<n>\d+)'
        roles: {m: количество}
`,
			wantSub: []string{
				"orders[0]: anchor is required",
				`duplicate anchor "a"`,
				`order "b": at least one non-empty trigger`,
				`order "c": slots[0]`,
				"no named groups",
				`unknown group "m"`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("Parse() succeeded")
			}
			for _, sub := range tt.wantSub {
				if !strings.Contains(err.Error(), sub) {
					t.Errorf("error %q does not mention %q", err, sub)
				}
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nlu.yaml")
	if err := os.WriteFile(path, []byte(demoNLU), 0o644); err != nil {
		t.Fatal(err)
	}
	k, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(k.Anchors()) != 3 {
		t.Errorf("Anchors() = %v", k.Anchors())
	}

	empty, err := Parse(strings.NewReader(""))
	if err != nil || len(empty.Anchors()) != 0 {
		t.Errorf("Parse(empty) = %v, %v", empty, err)
	}
}
