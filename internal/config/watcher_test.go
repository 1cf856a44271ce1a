package config_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/replica/internal/config"
)

type changes struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	news  []*config.Config
}

func (c *changes) record(_, new *config.Config, d config.ConfigDiff) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diffs = append(c.diffs, d)
	c.news = append(c.news, new)
}

func (c *changes) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.diffs)
}

func watchDir(t *testing.T) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "replica.yaml")
	writeFile(t, path, "server: {log_level: info}\npersona: {rules_file: rules.yaml}\n")
	writeFile(t, filepath.Join(dir, "rules.yaml"), "rules: []\n")
	return dir, path
}

func TestWatcher_ProfileChange(t *testing.T) {
	t.Parallel()

	_, path := watchDir(t)
	var got changes
	w, err := config.NewWatcher(path, got.record)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Fatalf("initial level = %q", w.Current().Server.LogLevel)
	}

	w.Check()
	if got.len() != 0 {
		t.Fatal("unchanged files reported a change")
	}

	writeFile(t, path, "server: {log_level: debug}\npersona: {rules_file: rules.yaml}\n")
	w.Check()
	if got.len() != 1 {
		t.Fatalf("got %d changes, want 1", got.len())
	}
	d := got.diffs[0]
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug || d.PersonaChanged {
		t.Errorf("diff = %+v", d)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() not updated")
	}
}

func TestWatcher_ContentFileChange(t *testing.T) {
	t.Parallel()

	dir, path := watchDir(t)
	var got changes
	w, err := config.NewWatcher(path, got.record)
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "rules.yaml"), "greetings: [Привет]\n")
	w.Check()
	if got.len() != 1 || !got.diffs[0].PersonaChanged {
		t.Errorf("changes = %+v", got.diffs)
	}
}

func TestWatcher_InvalidKeepsPrevious(t *testing.T) {
	t.Parallel()

	_, path := watchDir(t)
	var got changes
	w, err := config.NewWatcher(path, got.record)
	if err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, "server: {log_level: bananas}\n")
	w.Check()
	if got.len() != 0 {
		t.Error("invalid profile was reported")
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Error("invalid profile replaced the current one")
	}
}

func TestWatcher_RunStopsWithContext(t *testing.T) {
	t.Parallel()

	_, path := watchDir(t)
	w, err := config.NewWatcher(path, nil, config.WithInterval(5*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewWatcher_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "none.yaml"), nil); err == nil {
		t.Error("NewWatcher() of a missing file succeeded")
	}
}
