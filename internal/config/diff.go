package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two profiles. Only changes
// replica can apply without a restart are tracked individually; everything
// else sets RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonaChanged reports a change to the persona's content files,
	// thresholds or flags. The running persona is rebuilt from the new
	// profile.
	PersonaChanged bool

	// RestartRequired lists sections whose changes only take effect after a
	// restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PersonaChanged && len(d.RestartRequired) == 0
}

// Diff compares two profiles.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.PersonaChanged = !personaEqual(old.Persona, new.Persona)

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !providerEqual(old.Providers.LLM, new.Providers.LLM) ||
		!slices.EqualFunc(old.Providers.LLMFallbacks, new.Providers.LLMFallbacks, providerEqual) ||
		!providerEqual(old.Providers.Embeddings, new.Providers.Embeddings) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if !slices.EqualFunc(old.Orders, new.Orders, orderEqual) || !slices.EqualFunc(old.MCP.Servers, new.MCP.Servers, serverEqual) {
		d.RestartRequired = append(d.RestartRequired, "orders")
	}
	if old.Discord.Token != new.Discord.Token || !slices.Equal(old.Discord.ChannelIDs, new.Discord.ChannelIDs) {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	return d
}

func personaEqual(a, b PersonaConfig) bool {
	return a.ID == b.ID &&
		a.RulesFile == b.RulesFile && a.FAQFile == b.FAQFile &&
		a.FactsFile == b.FactsFile && a.NLUFile == b.NLUFile &&
		a.FAQThreshold == b.FAQThreshold && a.FactsThreshold == b.FactsThreshold &&
		a.Scorer == b.Scorer && a.FactsAnswerer == b.FactsAnswerer &&
		a.Scripting() == b.Scripting() && a.Smalltalk() == b.Smalltalk() && a.FAQ() == b.FAQ() &&
		a.ForceQuestionAnswering == b.ForceQuestionAnswering &&
		slices.Equal(a.DefaultAckAnchors, b.DefaultAckAnchors)
}

func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && fmtMap(a.Options) == fmtMap(b.Options)
}

func orderEqual(a, b OrderBinding) bool {
	return a.Anchor == b.Anchor && a.Server == b.Server && a.Tool == b.Tool && fmtMap(a.Args) == fmtMap(b.Args)
}

func serverEqual(a, b MCPServerConfig) bool {
	return a.Name == b.Name && a.Transport == b.Transport && a.Command == b.Command &&
		a.URL == b.URL && fmtMap(a.Env) == fmtMap(b.Env)
}

// fmtMap renders m with sorted keys; nil and empty maps compare equal.
func fmtMap[V any](m map[string]V) string { return fmt.Sprint(m) }
