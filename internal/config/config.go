// Package config provides the configuration schema, loader, file watcher and
// provider registry of a replica deployment.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/replica/internal/order/mcporder"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog returns the matching slog level. Unknown values map to Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Scorer selects how FAQ questions and fact premises are compared with a
// phrase.
type Scorer string

const (
	// ScorerLexical uses fuzzy token matching and needs no provider.
	ScorerLexical Scorer = "lexical"

	// ScorerEmbedding uses cosine similarity of provider embeddings.
	ScorerEmbedding Scorer = "embedding"
)

// IsValid reports whether s is a recognised scorer.
func (s Scorer) IsValid() bool { return s == ScorerLexical || s == ScorerEmbedding }

// FactsAnswerer selects how the fact stage produces a reply.
type FactsAnswerer string

const (
	// FactsRelevance replies with the most relevant premise itself.
	FactsRelevance FactsAnswerer = "relevance"

	// FactsLLM asks the language model to answer from the top premises.
	FactsLLM FactsAnswerer = "llm"
)

// IsValid reports whether a is a recognised answerer.
func (a FactsAnswerer) IsValid() bool { return a == FactsRelevance || a == FactsLLM }

// TurnLogBackend selects where turn records are written.
type TurnLogBackend string

const (
	TurnLogNone     TurnLogBackend = "none"
	TurnLogSQLite   TurnLogBackend = "sqlite"
	TurnLogPostgres TurnLogBackend = "postgres"
)

// IsValid reports whether b is a recognised backend.
func (b TurnLogBackend) IsValid() bool {
	switch b {
	case TurnLogNone, TurnLogSQLite, TurnLogPostgres:
		return true
	}
	return false
}

// FAQIndex selects where FAQ question vectors live.
type FAQIndex string

const (
	FAQIndexMemory   FAQIndex = "memory"
	FAQIndexPostgres FAQIndex = "postgres"
)

// IsValid reports whether f is a recognised index.
func (f FAQIndex) IsValid() bool { return f == FAQIndexMemory || f == FAQIndexPostgres }

// Config is the root of a replica profile. Load it with [Load] or
// [LoadFromReader]; both apply [Config.ApplyDefaults] and [Validate].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Persona   PersonaConfig   `yaml:"persona"`
	Session   SessionConfig   `yaml:"session"`
	Storage   StorageConfig   `yaml:"storage"`
	Orders    []OrderBinding  `yaml:"orders"`
	MCP       MCPConfig       `yaml:"mcp"`
	Discord   DiscordConfig   `yaml:"discord"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the HTTP API. Default ":8080".
	ListenAddr string   `yaml:"listen_addr"`
	LogLevel   LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares the language model and embeddings backends.
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when LLM fails or its breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	Embeddings ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry configures one provider. Name selects the factory in the
// [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values, for example "dimensions" or
	// "timeout".
	Options map[string]any `yaml:"options"`
}

// PersonaConfig binds the bot's content files and behaviour flags.
type PersonaConfig struct {
	// ID identifies the persona in turn logs and the FAQ index.
	ID string `yaml:"id"`

	RulesFile string `yaml:"rules_file"`
	FAQFile   string `yaml:"faq_file"`
	FactsFile string `yaml:"facts_file"`
	NLUFile   string `yaml:"nlu_file"`

	// FAQThreshold is the minimum score of an FAQ match. Default 0.7.
	FAQThreshold float64 `yaml:"faq_threshold"`

	// FactsThreshold is the minimum score of a relevant premise. Default 0.5.
	FactsThreshold float64 `yaml:"facts_threshold"`

	Scorer        Scorer        `yaml:"scorer"`
	FactsAnswerer FactsAnswerer `yaml:"facts_answerer"`

	// Feature flags. Unset flags default to true, except
	// ForceQuestionAnswering which defaults to false.
	EnableScripting        *bool `yaml:"enable_scripting"`
	EnableSmalltalk        *bool `yaml:"enable_smalltalk"`
	EnableFAQ              *bool `yaml:"enable_faq"`
	ForceQuestionAnswering bool  `yaml:"force_question_answering"`

	// DefaultAckAnchors get the generic acknowledgment handler unless a
	// handler is registered for them explicitly.
	DefaultAckAnchors []string `yaml:"default_ack_anchors"`
}

// Scripting reports whether the rule stage is enabled.
func (p PersonaConfig) Scripting() bool { return boolOr(p.EnableScripting, true) }

// Smalltalk reports whether small-talk rules may call the language model.
func (p PersonaConfig) Smalltalk() bool { return boolOr(p.EnableSmalltalk, true) }

// FAQ reports whether the FAQ stage is enabled.
func (p PersonaConfig) FAQ() bool { return boolOr(p.EnableFAQ, true) }

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// SessionConfig bounds per-user state.
type SessionConfig struct {
	// IdleTTL evicts sessions idle for longer. Default 30m; 0 disables
	// eviction.
	IdleTTL *time.Duration `yaml:"idle_ttl"`

	// MaxHistory bounds the stored conversation. Default 50.
	MaxHistory int `yaml:"max_history"`

	// SweepInterval is how often idle sessions are looked for. Default 1m.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StorageConfig selects persistence backends.
type StorageConfig struct {
	TurnLog     TurnLogBackend `yaml:"turn_log"`
	SQLitePath  string         `yaml:"sqlite_path"`
	PostgresDSN string         `yaml:"postgres_dsn"`
	FAQIndex    FAQIndex       `yaml:"faq_index"`

	// EmbeddingDimensions sizes the pgvector column. Must match the
	// embeddings model.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// OrderBinding routes an order anchor to a tool on an MCP server.
type OrderBinding struct {
	Anchor string `yaml:"anchor"`
	Server string `yaml:"server"`
	Tool   string `yaml:"tool"`

	// Args maps tool argument names to slot roles.
	Args map[string]string `yaml:"args"`
}

// MCPConfig lists the MCP servers order bindings may refer to.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes how to reach one MCP server.
type MCPServerConfig struct {
	Name      string             `yaml:"name"`
	Transport mcporder.Transport `yaml:"transport"`

	// Command is launched for the stdio transport.
	Command string `yaml:"command"`

	// URL is the endpoint of the streamable-http transport.
	URL string `yaml:"url"`

	Env map[string]string `yaml:"env"`
}

// ServerConfig converts s for [mcporder.Host.Connect].
func (s MCPServerConfig) ServerConfig() mcporder.ServerConfig {
	return mcporder.ServerConfig{
		Name:      s.Name,
		Transport: s.Transport,
		Command:   s.Command,
		URL:       s.URL,
		Env:       s.Env,
	}
}

// DiscordConfig enables the Discord front-end when Token is set.
type DiscordConfig struct {
	Token string `yaml:"token"`

	// ChannelIDs restricts the bot to these channels. Empty means every
	// channel the bot can read, plus direct messages.
	ChannelIDs []string `yaml:"channel_ids"`
}

// TelemetryConfig controls the metrics endpoint.
type TelemetryConfig struct {
	// Metrics serves /metrics on the API listener.
	Metrics     bool   `yaml:"metrics"`
	ServiceName string `yaml:"service_name"`
}
