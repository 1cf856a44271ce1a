package config

import (
	"context"
	"crypto/sha256"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a profile and the persona content files it references, and
// reports valid changes. An edit to rules.yaml alone counts as a persona
// change even though the profile itself is untouched.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config, d ConfigDiff)

	mu       sync.Mutex
	current  *Config
	lastHash [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the profile at path. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config, d ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, o := range opts {
		o(w)
	}
	cfg, hash, err := w.load()
	if err != nil {
		return nil, err
	}
	w.current, w.lastHash = cfg, hash
	return w, nil
}

// Current returns the most recent valid profile.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Check()
		}
	}
}

// Check polls once. Invalid profiles are logged and ignored; the previous
// profile stays current.
func (w *Watcher) Check() {
	cfg, hash, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping previous configuration", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current, w.lastHash = cfg, hash
	w.mu.Unlock()

	d := Diff(old, cfg)
	// Content files changed under an identical profile.
	if d.Empty() {
		d.PersonaChanged = true
	}
	slog.Info("config watcher: configuration changed",
		"path", w.path,
		"persona_changed", d.PersonaChanged,
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
}

// load reads and validates the profile and hashes it together with every
// persona content file. Missing optional files hash as empty.
func (w *Watcher) load() (*Config, [sha256.Size]byte, error) {
	var zero [sha256.Size]byte
	raw, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, err
	}
	cfg, err := Load(w.path)
	if err != nil {
		return nil, zero, err
	}

	h := sha256.New()
	h.Write(raw)
	for _, f := range []string{cfg.Persona.RulesFile, cfg.Persona.FAQFile, cfg.Persona.FactsFile, cfg.Persona.NLUFile} {
		h.Write([]byte{0})
		if f == "" {
			continue
		}
		data, err := os.ReadFile(f)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, zero, err
		}
		h.Write(data)
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return cfg, sum, nil
}
