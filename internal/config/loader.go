package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/replica/internal/order/mcporder"
)

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultPersonaID      = "default"
	DefaultFAQThreshold   = 0.7
	DefaultFactsThreshold = 0.5
	DefaultIdleTTL        = 30 * time.Minute
	DefaultMaxHistory     = 50
	DefaultSweepInterval  = time.Minute
	DefaultServiceName    = "replica"
)

// ValidProviderNames lists the provider names shipped with replica. Unknown
// names only produce a warning since a custom factory may be registered.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the profile at path. A ".env" file next to it, when present,
// is loaded into the environment first; variables already set win.
func Load(path string) (*Config, error) {
	dotenv := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %q: %w", dotenv, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// LoadFromReader decodes a profile from r, expands ${VAR} references from
// the environment, applies defaults and validates the result. Relative
// content file paths are left as written.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} with the variable's value. Unset variables
// expand to "" and are reported once each.
func expandEnv(data []byte) []byte {
	missing := map[string]bool{}
	out := envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		v, ok := os.LookupEnv(name)
		if !ok && !missing[name] {
			missing[name] = true
			slog.Warn("config references an unset environment variable", "var", name)
		}
		return []byte(v)
	})
	return out
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	p := &c.Persona
	if p.ID == "" {
		p.ID = DefaultPersonaID
	}
	if p.FAQThreshold == 0 {
		p.FAQThreshold = DefaultFAQThreshold
	}
	if p.FactsThreshold == 0 {
		p.FactsThreshold = DefaultFactsThreshold
	}
	if p.Scorer == "" {
		p.Scorer = ScorerLexical
	}
	if p.FactsAnswerer == "" {
		p.FactsAnswerer = FactsRelevance
	}
	s := &c.Session
	if s.IdleTTL == nil {
		ttl := DefaultIdleTTL
		s.IdleTTL = &ttl
	}
	if s.MaxHistory == 0 {
		s.MaxHistory = DefaultMaxHistory
	}
	if s.SweepInterval == 0 {
		s.SweepInterval = DefaultSweepInterval
	}
	if c.Storage.TurnLog == "" {
		c.Storage.TurnLog = TurnLogNone
	}
	if c.Storage.FAQIndex == "" {
		c.Storage.FAQIndex = FAQIndexMemory
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	for i := range c.MCP.Servers {
		if c.MCP.Servers[i].Transport == "" {
			c.MCP.Servers[i].Transport = mcporder.TransportStdio
		}
	}
}

// resolvePaths makes relative content and database paths relative to dir.
func (c *Config) resolvePaths(dir string) {
	for _, p := range []*string{
		&c.Persona.RulesFile, &c.Persona.FAQFile, &c.Persona.FactsFile,
		&c.Persona.NLUFile, &c.Storage.SQLitePath,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate checks that cfg is coherent and returns every problem found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !cfg.Server.LogLevel.IsValid() {
		add("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}

	// Providers
	warnProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			add("providers.llm_fallbacks[%d].name is required", i)
		}
		warnProviderName("llm", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		add("providers.llm_fallbacks requires providers.llm")
	}
	warnProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Persona
	p := cfg.Persona
	if p.RulesFile == "" {
		add("persona.rules_file is required")
	}
	if p.FAQThreshold < 0 || p.FAQThreshold > 1 {
		add("persona.faq_threshold %.2f is out of range [0, 1]", p.FAQThreshold)
	}
	if p.FactsThreshold < 0 || p.FactsThreshold > 1 {
		add("persona.facts_threshold %.2f is out of range [0, 1]", p.FactsThreshold)
	}
	if !p.Scorer.IsValid() {
		add("persona.scorer %q is invalid; valid values: lexical, embedding", p.Scorer)
	}
	if p.Scorer == ScorerEmbedding && cfg.Providers.Embeddings.Name == "" {
		add("persona.scorer %q requires providers.embeddings", p.Scorer)
	}
	if !p.FactsAnswerer.IsValid() {
		add("persona.facts_answerer %q is invalid; valid values: relevance, llm", p.FactsAnswerer)
	}
	if p.FactsAnswerer == FactsLLM && cfg.Providers.LLM.Name == "" {
		add("persona.facts_answerer %q requires providers.llm", p.FactsAnswerer)
	}
	if p.ForceQuestionAnswering && p.FactsFile == "" {
		slog.Warn("persona.force_question_answering is set but persona.facts_file is empty")
	}
	if p.Smalltalk() && cfg.Providers.LLM.Name == "" {
		slog.Debug("small talk is enabled without providers.llm; small-talk rules will decline")
	}

	// Session
	if cfg.Session.IdleTTL != nil && *cfg.Session.IdleTTL < 0 {
		add("session.idle_ttl must not be negative")
	}
	if cfg.Session.MaxHistory < 0 {
		add("session.max_history must not be negative")
	}
	if cfg.Session.SweepInterval < 0 {
		add("session.sweep_interval must not be negative")
	}

	// Storage
	st := cfg.Storage
	if !st.TurnLog.IsValid() {
		add("storage.turn_log %q is invalid; valid values: none, sqlite, postgres", st.TurnLog)
	}
	if st.TurnLog == TurnLogSQLite && st.SQLitePath == "" {
		add("storage.sqlite_path is required when storage.turn_log is sqlite")
	}
	if !st.FAQIndex.IsValid() {
		add("storage.faq_index %q is invalid; valid values: memory, postgres", st.FAQIndex)
	}
	needsPostgres := st.TurnLog == TurnLogPostgres || st.FAQIndex == FAQIndexPostgres
	if needsPostgres && st.PostgresDSN == "" {
		add("storage.postgres_dsn is required by the postgres turn log or FAQ index")
	}
	if st.FAQIndex == FAQIndexPostgres {
		if p.Scorer != ScorerEmbedding {
			add("storage.faq_index postgres requires persona.scorer embedding")
		}
		if st.EmbeddingDimensions <= 0 {
			add("storage.embedding_dimensions is required when storage.faq_index is postgres")
		}
	}
	if needsPostgres && st.EmbeddingDimensions < 0 {
		add("storage.embedding_dimensions must not be negative")
	}

	// MCP servers and order bindings
	servers := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			add("%s.name is required", prefix)
		} else if prev, dup := servers[srv.Name]; dup {
			add("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev)
		} else {
			servers[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			add("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport)
		}
		if srv.Transport == mcporder.TransportStdio && srv.Command == "" {
			add("%s.command is required when transport is stdio", prefix)
		}
		if srv.Transport == mcporder.TransportStreamableHTTP && srv.URL == "" {
			add("%s.url is required when transport is streamable-http", prefix)
		}
	}
	anchors := make(map[string]string)
	for i, o := range cfg.Orders {
		prefix := fmt.Sprintf("orders[%d]", i)
		if o.Anchor == "" {
			add("%s.anchor is required", prefix)
		} else if prev, dup := anchors[o.Anchor]; dup {
			add("%s.anchor %q is already bound by %s", prefix, o.Anchor, prev)
		} else {
			anchors[o.Anchor] = prefix
		}
		if o.Tool == "" {
			add("%s.tool is required", prefix)
		}
		if _, ok := servers[o.Server]; !ok {
			add("%s.server %q is not declared in mcp.servers", prefix, o.Server)
		}
	}
	for i, a := range p.DefaultAckAnchors {
		prefix := fmt.Sprintf("persona.default_ack_anchors[%d]", i)
		if a == "" {
			add("%s is empty", prefix)
			continue
		}
		if prev, dup := anchors[a]; dup {
			add("%s %q is already bound by %s", prefix, a, prev)
			continue
		}
		anchors[a] = prefix
	}

	return errors.Join(errs...)
}

func warnProviderName(kind, name string) {
	if name == "" || slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name; a custom factory must be registered for it",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
