package config_test

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/replica/internal/config"
	"github.com/MrWong99/replica/pkg/provider/embeddings"
	embmock "github.com/MrWong99/replica/pkg/provider/embeddings/mock"
	"github.com/MrWong99/replica/pkg/provider/llm"
	llmmock "github.com/MrWong99/replica/pkg/provider/llm/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_fallbacks:
    - name: ollama
      base_url: http://localhost:11434
      model: qwen2.5
  embeddings:
    name: ollama
    model: nomic-embed-text
    options:
      dimensions: 768

persona:
  id: demo
  rules_file: rules.yaml
  faq_file: faq.txt
  facts_file: premises.txt
  nlu_file: nlu.yaml
  scorer: embedding
  facts_answerer: llm
  enable_smalltalk: false
  default_ack_anchors: [check_emails]

session:
  idle_ttl: 10m
  max_history: 20

storage:
  turn_log: sqlite
  sqlite_path: turns.db

orders:
  - anchor: alarm_clock
    server: clock
    tool: set_alarm
    args: {time: когда}

mcp:
  servers:
    - name: clock
      command: clock-mcp --stdio

telemetry:
  metrics: true
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	return cfg
}

// ── loading ──────────────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, sampleYAML)
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "ollama" {
		t.Errorf("llm_fallbacks = %+v", cfg.Providers.LLMFallbacks)
	}
	if got := cfg.Providers.Embeddings.OptInt("dimensions"); got != 768 {
		t.Errorf("embeddings dimensions option = %d", got)
	}
	p := cfg.Persona
	if p.ID != "demo" || p.Scorer != config.ScorerEmbedding || p.FactsAnswerer != config.FactsLLM {
		t.Errorf("persona = %+v", p)
	}
	if !p.Scripting() || p.Smalltalk() || !p.FAQ() {
		t.Errorf("flags scripting=%v smalltalk=%v faq=%v", p.Scripting(), p.Smalltalk(), p.FAQ())
	}
	if *cfg.Session.IdleTTL != 10*time.Minute || cfg.Session.MaxHistory != 20 {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.MCP.Servers[0].Transport != "stdio" {
		t.Errorf("default transport = %q", cfg.MCP.Servers[0].Transport)
	}
	if sc := cfg.MCP.Servers[0].ServerConfig(); sc.Command != "clock-mcp --stdio" {
		t.Errorf("ServerConfig() = %+v", sc)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, "persona:\n  rules_file: rules.yaml\n")
	if cfg.Server.ListenAddr != config.DefaultListenAddr || cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("server = %+v", cfg.Server)
	}
	p := cfg.Persona
	if p.ID != config.DefaultPersonaID || p.FAQThreshold != config.DefaultFAQThreshold ||
		p.FactsThreshold != config.DefaultFactsThreshold || p.Scorer != config.ScorerLexical ||
		p.FactsAnswerer != config.FactsRelevance || p.ForceQuestionAnswering {
		t.Errorf("persona = %+v", p)
	}
	if *cfg.Session.IdleTTL != config.DefaultIdleTTL || cfg.Session.MaxHistory != config.DefaultMaxHistory ||
		cfg.Session.SweepInterval != config.DefaultSweepInterval {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Storage.TurnLog != config.TurnLogNone || cfg.Storage.FAQIndex != config.FAQIndexMemory {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Telemetry.ServiceName != "replica" {
		t.Errorf("service name = %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_ZeroTTLDisablesEviction(t *testing.T) {
	t.Parallel()

	cfg := mustLoad(t, "persona: {rules_file: r.yaml}\nsession: {idle_ttl: 0s}\n")
	if *cfg.Session.IdleTTL != 0 {
		t.Errorf("idle_ttl = %v, want 0", *cfg.Session.IdleTTL)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("persona:\n  rules: rules.yaml\n"))
	if err == nil || !strings.Contains(err.Error(), "rules") {
		t.Errorf("error = %v, want unknown field", err)
	}
}

// Not parallel: t.Setenv.
func TestLoadFromReader_ExpandsEnv(t *testing.T) {
	t.Setenv("REPLICA_TEST_KEY", "sk-from-env")

	cfg := mustLoad(t, `
persona: {rules_file: r.yaml}
providers:
  llm: {name: openai, api_key: "${REPLICA_TEST_KEY}"}
discord: {token: "${REPLICA_TEST_UNSET_TOKEN}"}
`)
	if cfg.Providers.LLM.APIKey != "sk-from-env" {
		t.Errorf("api_key = %q", cfg.Providers.LLM.APIKey)
	}
	if cfg.Discord.Token != "" {
		t.Errorf("unset variable expanded to %q", cfg.Discord.Token)
	}
}

// ── validation ───────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantSub []string
	}{
		{
			name:    "rules file required",
			yaml:    "server: {log_level: info}\n",
			wantSub: []string{"persona.rules_file is required"},
		},
		{
			name: "enumerations",
			yaml: `
server: {log_level: loud}
persona: {rules_file: r.yaml, scorer: neural, facts_answerer: oracle, faq_threshold: 1.5}
storage: {turn_log: kafka, faq_index: redis}
`,
			wantSub: []string{
				`server.log_level "loud"`,
				`persona.scorer "neural"`,
				`persona.facts_answerer "oracle"`,
				"faq_threshold 1.50 is out of range",
				`storage.turn_log "kafka"`,
				`storage.faq_index "redis"`,
			},
		},
		{
			name: "providers required by persona",
			yaml: `
persona: {rules_file: r.yaml, scorer: embedding, facts_answerer: llm}
providers: {llm_fallbacks: [{name: ollama}]}
`,
			wantSub: []string{
				"requires providers.embeddings",
				`"llm" requires providers.llm`,
				"llm_fallbacks requires providers.llm",
			},
		},
		{
			name: "storage",
			yaml: `
persona: {rules_file: r.yaml}
storage: {turn_log: sqlite, faq_index: postgres}
`,
			wantSub: []string{
				"sqlite_path is required",
				"postgres_dsn is required",
				"requires persona.scorer embedding",
				"embedding_dimensions is required",
			},
		},
		{
			name: "orders and servers",
			yaml: `
persona: {rules_file: r.yaml, default_ack_anchors: [buy_pizza, ""]}
mcp:
  servers:
    - {name: a, command: a}
    - {name: a, transport: streamable-http}
    - {name: b, transport: pigeon}
orders:
  - {anchor: buy_pizza, server: a, tool: order}
  - {anchor: buy_pizza, server: missing}
`,
			wantSub: []string{
				`mcp.servers[1].name "a" is a duplicate`,
				"mcp.servers[1].url is required",
				`mcp.servers[2].transport "pigeon"`,
				`orders[1].anchor "buy_pizza" is already bound by orders[0]`,
				"orders[1].tool is required",
				`orders[1].server "missing"`,
				`persona.default_ack_anchors[0] "buy_pizza" is already bound`,
				"persona.default_ack_anchors[1] is empty",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("LoadFromReader() succeeded")
			}
			for _, sub := range tt.wantSub {
				if !strings.Contains(err.Error(), sub) {
					t.Errorf("error does not mention %q:\n%v", sub, err)
				}
			}
		})
	}
}

// ── registry ─────────────────────────────────────────────────────────────────

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	reg.RegisterLLM("fake", func(e config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, errors.New("no key")
	})
	reg.RegisterEmbeddings("fake", func(config.ProviderEntry) (embeddings.Provider, error) {
		return &embmock.Provider{}, nil
	})

	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateLLM(fake) error = %v", err)
	}
	if _, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "fake"}); err != nil {
		t.Errorf("CreateEmbeddings(fake) error = %v", err)
	}
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM(nope) error = %v, want ErrProviderNotRegistered", err)
	}
	_, err = reg.CreateEmbeddings(config.ProviderEntry{Name: "fake2"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateEmbeddings(fake2) error = %v", err)
	}
	if _, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"}); err == nil || !strings.Contains(err.Error(), "llm/broken: no key") {
		t.Errorf("CreateLLM(broken) error = %v", err)
	}
	if got := reg.LLMNames(); len(got) != 2 || got[0] != "broken" {
		t.Errorf("LLMNames() = %v", got)
	}
	if got := reg.EmbeddingsNames(); len(got) != 1 {
		t.Errorf("EmbeddingsNames() = %v", got)
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()

	e := config.ProviderEntry{Options: map[string]any{"timeout": "5s", "dimensions": 256, "ratio": 2.9}}
	if e.OptString("timeout") != "5s" || e.OptString("dimensions") != "" {
		t.Error("OptString mismatch")
	}
	if e.OptInt("dimensions") != 256 || e.OptInt("ratio") != 2 || e.OptInt("missing") != 0 {
		t.Error("OptInt mismatch")
	}
}

func TestLogLevel_Slog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.Slog(); got != tt.want {
			t.Errorf("%q.Slog() = %v, want %v", tt.in, got, tt.want)
		}
	}
}
