package persona

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/replica/internal/config"
	"github.com/MrWong99/replica/internal/engine"
	"github.com/MrWong99/replica/internal/faq"
	"github.com/MrWong99/replica/internal/order"
	embmock "github.com/MrWong99/replica/pkg/provider/embeddings/mock"
	llmmock "github.com/MrWong99/replica/pkg/provider/llm/mock"
	"github.com/MrWong99/replica/pkg/types"
)

const (
	greeting = "Привет! Я Реплика."
	noInfo   = "Я не знаю."
	notOrder = "Не понимаю, что нужно сделать."
	premise  = "Луна является спутником Земли."
)

var testFiles = map[string]string{
	"rules.yaml": `
greetings: [Привет! Я Реплика.]
no_relevant_information: [Я не знаю.]
unknown_order: [Не понимаю, что нужно сделать.]
rules:
  - name: hello
    if: {keywords: {any: [привет]}}
    then: {say: [Привет!]}
  - name: moon
    if: {keywords: {any: [луна]}}
    then: {say: [Про луну не скажу.]}
  - name: chat
    if: {keywords: {any: [поболтаем]}}
    then: {smalltalk: true}
`,
	"faq.txt":   "# обеды\nQ: Когда обед?\nA: Обед в 13:00\n",
	"facts.txt": "# факты\n" + premise + "\n",
	"nlu.yaml": `
orders:
  - anchor: buy_pizza
    triggers: ["купи пиццу", "закажи пиццу"]
    slots:
      - pattern: '(?:купи|закажи)\s+(?:(?P<count>\d+)\s+)?(?P<what>\p{L}+)'
        roles: {count: количество, what: объект}
  - anchor: weather_forecast
    triggers: ["погода"]
    slots:
      - pattern: '(?P<when>сегодня|завтра)'
        roles: {when: когда}
  - anchor: check_emails
    triggers: ["новых писем"]
  - anchor: alarm_clock
    triggers: ["разбуди"]
    slots:
      - pattern: '(?P<when>сегодня|завтра)'
        roles: {when: когда}
`,
}

// ── helpers ──────────────────────────────────────────────────────────────────

// writeContent writes the test files, with overrides, to a temporary
// directory and returns a configuration pointing at them.
func writeContent(t *testing.T, overrides map[string]string) config.PersonaConfig {
	t.Helper()
	dir := t.TempDir()
	for name, body := range testFiles {
		if o, ok := overrides[name]; ok {
			body = o
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return config.PersonaConfig{
		ID:             "test",
		RulesFile:      filepath.Join(dir, "rules.yaml"),
		FAQFile:        filepath.Join(dir, "faq.txt"),
		FactsFile:      filepath.Join(dir, "facts.txt"),
		NLUFile:        filepath.Join(dir, "nlu.yaml"),
		FAQThreshold:   0.7,
		FactsThreshold: 0.5,
		Scorer:         config.ScorerLexical,
		FactsAnswerer:  config.FactsRelevance,
	}
}

func newPersona(t *testing.T, cfg config.PersonaConfig, deps Deps) *Persona {
	t.Helper()
	p, err := New(context.Background(), cfg, deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

// ask pushes text for a user that has already been greeted and returns the
// single reply.
func ask(t *testing.T, p *Persona, text string) string {
	t.Helper()
	ctx := context.Background()
	if err := p.StartConversation(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	p.Drain("u")
	if err := p.PushPhrase(ctx, "u", text); err != nil {
		t.Fatalf("PushPhrase(%q) error = %v", text, err)
	}
	got := p.Drain("u")
	if len(got) != 1 {
		t.Fatalf("PushPhrase(%q) produced %q, want one reply", text, got)
	}
	return got[0]
}

func ptr[T any](v T) *T { return &v }

// ── loading ──────────────────────────────────────────────────────────────────

func TestNew_DemoConversation(t *testing.T) {
	t.Parallel()

	p := newPersona(t, writeContent(t, nil), Deps{})
	if err := RegisterDemo(p); err != nil {
		t.Fatalf("RegisterDemo() error = %v", err)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	ctx := context.Background()
	if err := p.StartConversation(ctx, "user"); err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"когда обед?", "Купи 2 пиццы", "Какая погода завтра?", "Нет ли новых писем?", "Разбуди меня завтра", "Луна спутник Земли?", "расскажи анекдот"} {
		if err := p.PushPhrase(ctx, "user", text); err != nil {
			t.Fatalf("PushPhrase(%q) error = %v", text, err)
		}
	}
	want := []string{
		greeting,
		"Обед в 13:00",
		`Заказываю: что="пиццы", сколько="2"`,
		`Прогноз погоды на момент времени "завтра" сгенерирован для демонстрации`,
		"Фиктивная проверка почты",
		`Фиктивный будильник для "завтра"`,
		"Про луну не скажу.",
		noInfo,
	}
	got := p.Drain("user")
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("conversation:\n got %q\nwant %q", got, want)
	}
}

func TestLoad_Idempotent(t *testing.T) {
	t.Parallel()

	cfg := writeContent(t, nil)
	a, err := Load(context.Background(), cfg, Deps{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Load(context.Background(), cfg, Deps{})
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Anchors) != 4 || strings.Join(anchorStrings(a.Anchors), ",") != strings.Join(anchorStrings(b.Anchors), ",") {
		t.Errorf("anchors differ: %v vs %v", a.Anchors, b.Anchors)
	}
	if a.Interpreter == nil || a.FAQ == nil || a.Facts == nil || a.Rules == nil || a.Fallback == nil {
		t.Errorf("content incomplete: %+v", a.Content)
	}
}

func anchorStrings(as []types.Anchor) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = string(a)
	}
	return out
}

func TestLoad_OptionalFiles(t *testing.T) {
	t.Parallel()

	cfg := writeContent(t, nil)
	cfg.FAQFile, cfg.FactsFile, cfg.NLUFile = "", "", ""
	c, err := Load(context.Background(), cfg, Deps{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Interpreter != nil || c.FAQ != nil || c.Facts != nil {
		t.Errorf("unexpected collaborators: %+v", c.Content)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.PersonaConfig)
		files   map[string]string
		deps    Deps
		wantErr string
	}{
		{name: "no rules file", mutate: func(c *config.PersonaConfig) { c.RulesFile = "" }, wantErr: "no rules file"},
		{name: "missing faq", mutate: func(c *config.PersonaConfig) { c.FAQFile += ".missing" }, wantErr: "faq"},
		{name: "bad rules", files: map[string]string{"rules.yaml": "rules: [{nme: x}]"}, wantErr: "rules"},
		{name: "empty pools", files: map[string]string{"rules.yaml": "greetings: [x]"}, wantErr: "empty pool"},
		{name: "bad nlu", files: map[string]string{"nlu.yaml": "orders: [{anchor: x, slots: [{pattern: '('}]}]"}, wantErr: "nlu"},
		{name: "embedding without provider", mutate: func(c *config.PersonaConfig) { c.Scorer = config.ScorerEmbedding }, wantErr: "embeddings provider"},
		{name: "llm answerer without model", mutate: func(c *config.PersonaConfig) { c.FactsAnswerer = config.FactsLLM }, wantErr: "without a language model"},
		{
			name: "index with lexical scorer",
			deps: Deps{IndexFAQ: func(context.Context, string, []faq.Entry, *faq.EmbeddingScorer, float64) (engine.FAQ, error) {
				return nil, nil
			}},
			wantErr: "embedding scorer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := writeContent(t, tt.files)
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			_, err := Load(context.Background(), cfg, tt.deps)
			if err == nil {
				t.Fatal("Load() succeeded")
			}
			if !strings.Contains(err.Error(), tt.wantErr) || !strings.Contains(err.Error(), "persona test") {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_ExternalIndex(t *testing.T) {
	t.Parallel()

	cfg := writeContent(t, nil)
	cfg.Scorer = config.ScorerEmbedding
	emb := &embmock.Provider{DefaultVector: []float32{1, 0}, DimensionsValue: 2}

	var gotID string
	var gotEntries []faq.Entry
	index := func(_ context.Context, id string, entries []faq.Entry, scorer *faq.EmbeddingScorer, threshold float64) (engine.FAQ, error) {
		gotID, gotEntries = id, entries
		if scorer == nil || threshold != 0.7 {
			t.Errorf("index called with scorer=%v threshold=%v", scorer, threshold)
		}
		return fixedFAQ("Из базы."), nil
	}
	p := newPersona(t, cfg, Deps{Embeddings: emb, IndexFAQ: index})
	if gotID != "test" || len(gotEntries) != 1 || gotEntries[0].Answer != "Обед в 13:00" {
		t.Errorf("index got id=%q entries=%+v", gotID, gotEntries)
	}
	if got := ask(t, p, "когда обед?"); got != "Из базы." {
		t.Errorf("reply = %q", got)
	}
}

type fixedFAQ string

func (f fixedFAQ) BestMatch(context.Context, types.Phrase) (faq.Match, bool, error) {
	return faq.Match{Entry: faq.Entry{Answer: string(f)}, Score: 1}, true, nil
}

// ── flags ────────────────────────────────────────────────────────────────────

func TestFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.PersonaConfig)
		deps   func() Deps
		text   string
		want   string
	}{
		{name: "faq on", text: "когда обед?", want: "Обед в 13:00"},
		{name: "faq off", mutate: func(c *config.PersonaConfig) { c.EnableFAQ = ptr(false) }, text: "когда обед?", want: noInfo},
		{name: "scripting on", text: "привет", want: "Привет!"},
		{name: "scripting off", mutate: func(c *config.PersonaConfig) { c.EnableScripting = ptr(false) }, text: "привет", want: noInfo},
		{name: "rules before facts", text: "Луна спутник Земли?", want: "Про луну не скажу."},
		{name: "forced facts", mutate: func(c *config.PersonaConfig) { c.ForceQuestionAnswering = true }, text: "Луна спутник Земли?", want: premise},
		{name: "smalltalk without model", text: "давай поболтаем", want: noInfo},
		{
			name: "smalltalk",
			deps: func() Deps { return Deps{LLM: &llmmock.Provider{Responses: []string{"Давай!"}}} },
			text: "давай поболтаем", want: "Давай!",
		},
		{
			name:   "smalltalk off",
			mutate: func(c *config.PersonaConfig) { c.EnableSmalltalk = ptr(false) },
			deps:   func() Deps { return Deps{LLM: &llmmock.Provider{Responses: []string{"Давай!"}}} },
			text:   "давай поболтаем", want: noInfo,
		},
		{
			name: "llm facts",
			mutate: func(c *config.PersonaConfig) {
				c.FactsAnswerer = config.FactsLLM
				c.ForceQuestionAnswering = true
			},
			deps: func() Deps {
				return Deps{LLM: &llmmock.Provider{Responses: []string{"Луна спутник Земли."}}}
			},
			text: "Луна спутник Земли?", want: "Луна спутник Земли.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := writeContent(t, nil)
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			var deps Deps
			if tt.deps != nil {
				deps = tt.deps()
			}
			if got := ask(t, newPersona(t, cfg, deps), tt.text); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScriptingOff_KeepsGreeting(t *testing.T) {
	t.Parallel()

	cfg := writeContent(t, nil)
	cfg.EnableScripting = ptr(false)
	p := newPersona(t, cfg, Deps{})
	if err := p.StartConversation(context.Background(), "u"); err != nil {
		t.Fatal(err)
	}
	if got := p.PopPhrase("u"); got != greeting {
		t.Errorf("greeting = %q", got)
	}
}

// ── handlers ─────────────────────────────────────────────────────────────────

func TestValidate_MissingHandlers(t *testing.T) {
	t.Parallel()

	p := newPersona(t, writeContent(t, nil), Deps{})
	if err := RegisterDemo(p, AnchorWeather, AnchorAlarmClock); err != nil {
		t.Fatal(err)
	}
	err := p.Validate()
	if !errors.Is(err, order.ErrNoHandler) {
		t.Fatalf("Validate() = %v, want ErrNoHandler", err)
	}
	for _, a := range []string{"weather_forecast", "alarm_clock"} {
		if !strings.Contains(err.Error(), a) {
			t.Errorf("Validate() error does not mention %s: %v", a, err)
		}
	}
	if got := ask(t, p, "Какая погода сегодня?"); got != notOrder {
		t.Errorf("unhandled order reply = %q", got)
	}
}

func TestAddEventHandler_Duplicate(t *testing.T) {
	t.Parallel()

	p := newPersona(t, writeContent(t, nil), Deps{})
	if err := RegisterDemo(p); err != nil {
		t.Fatal(err)
	}
	if err := RegisterDemo(p); !errors.Is(err, order.ErrDuplicateHandler) {
		t.Errorf("second RegisterDemo() = %v, want ErrDuplicateHandler", err)
	}
}

func TestDefaultAcknowledgement(t *testing.T) {
	t.Parallel()

	cfg := writeContent(t, nil)
	cfg.DefaultAckAnchors = []string{"check_emails"}
	p := newPersona(t, cfg, Deps{})

	if got := ask(t, p, "Нет ли новых писем?"); got != `Выполняю команду "check_emails"` {
		t.Errorf("ack reply = %q", got)
	}
	if err := p.AddEventHandler(AnchorEmails, DemoHandlers()[AnchorEmails]); err != nil {
		t.Fatalf("AddEventHandler over default: %v", err)
	}
	if got := ask(t, p, "Нет ли новых писем?"); got != "Фиктивная проверка почты" {
		t.Errorf("explicit handler reply = %q", got)
	}
}

// ── reload ───────────────────────────────────────────────────────────────────

func TestReload(t *testing.T) {
	t.Parallel()

	cfg := writeContent(t, nil)
	p := newPersona(t, cfg, Deps{})
	ctx := context.Background()
	if got := ask(t, p, "когда обед?"); got != "Обед в 13:00" {
		t.Fatalf("before reload = %q", got)
	}

	if err := os.WriteFile(cfg.FAQFile, []byte("Q: Когда обед?\nA: Обед в 14:00\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	next := cfg
	next.DefaultAckAnchors = []string{"buy_pizza"}
	if err := p.Reload(ctx, next); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := ask(t, p, "когда обед?"); got != "Обед в 14:00" {
		t.Errorf("after reload = %q", got)
	}
	if got := ask(t, p, "купи пиццу"); got != `Выполняю команду "buy_pizza"` {
		t.Errorf("ack after reload = %q", got)
	}
	if len(p.Config().DefaultAckAnchors) != 1 {
		t.Errorf("Config() not updated: %+v", p.Config())
	}

	broken := next
	broken.RulesFile += ".missing"
	if err := p.Reload(ctx, broken); err == nil {
		t.Error("Reload with a missing rules file succeeded")
	}
	if got := ask(t, p, "когда обед?"); got != "Обед в 14:00" {
		t.Errorf("failed reload changed content: %q", got)
	}

	renamed := next
	renamed.ID = "other"
	if err := p.Reload(ctx, renamed); err == nil {
		t.Error("Reload changing the id succeeded")
	}
}

func TestPersona_Delegates(t *testing.T) {
	t.Parallel()

	p := newPersona(t, writeContent(t, nil), Deps{})
	ctx := context.Background()
	if p.ID() != "test" || p.Engine() == nil {
		t.Fatalf("ID() = %q, Engine() = %v", p.ID(), p.Engine())
	}
	if err := p.PushPhrase(ctx, "u", "привет"); err != nil {
		t.Fatal(err)
	}
	if got := p.Drain("u"); len(got) != 2 {
		t.Errorf("Drain() = %q", got)
	}
	if recs, err := p.Recent(ctx, "u", 5); err != nil || len(recs) != 0 {
		t.Errorf("Recent() with the nop recorder = %v, %v", recs, err)
	}
	if err := p.EndConversation("u"); err != nil {
		t.Errorf("EndConversation() error = %v", err)
	}
}

func TestIsStopCommand(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in   string
		want bool
	}{
		{`\q`, true},
		{` \EXIT `, true},
		{`\quit`, true},
		{"/stop", true},
		{"stop", false},
		{"", false},
		{"когда обед?", false},
	} {
		if got := IsStopCommand(tc.in); got != tc.want {
			t.Errorf("IsStopCommand(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
