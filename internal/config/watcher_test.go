package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/mindbridge/internal/config"
)

const baseYAML = `
server:
  log_level: info
providers:
  live:
    name: gemini
assistant:
  voice: Kore
`

type change struct {
	old, new *config.Config
	diff     config.ConfigDiff
}

// watched is a config file under a fast-polling watcher. Every accepted
// change is delivered on changes.
type watched struct {
	path    string
	w       *config.Watcher
	changes chan change
	mtime   time.Time
}

func watch(t *testing.T, initial string) *watched {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mindbridge.yaml")
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}
	changes := make(chan change, 8)
	w, err := config.NewWatcher(path, func(old, new *config.Config, d config.ConfigDiff) {
		changes <- change{old, new, d}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return &watched{path: path, w: w, changes: changes, mtime: time.Now()}
}

// edit rewrites the file and moves its mtime forward so coarse filesystem
// timestamps still register.
func (f *watched) edit(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(f.path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	f.touch(t)
}

func (f *watched) touch(t *testing.T) {
	t.Helper()
	f.mtime = f.mtime.Add(2 * time.Second)
	if err := os.Chtimes(f.path, f.mtime, f.mtime); err != nil {
		t.Fatal(err)
	}
}

func (f *watched) next(t *testing.T) change {
	t.Helper()
	select {
	case c := <-f.changes:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no config change reported")
		return change{}
	}
}

func (f *watched) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.changes:
		t.Fatalf("unexpected change: %+v", c.diff)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	f := watch(t, baseYAML)
	cfg := f.w.Current()
	if cfg.Assistant.Voice != "Kore" || cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("Current = voice %q level %q; want Kore info", cfg.Assistant.Voice, cfg.Server.LogLevel)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Error("NewWatcher on a missing file succeeded")
	}
}

func TestWatcher_ReportsLiveSettings(t *testing.T) {
	t.Parallel()

	f := watch(t, baseYAML)
	f.edit(t, `
server:
  log_level: debug
providers:
  live:
    name: gemini
assistant:
  voice: Puck
tools:
  timeout: 3s
`)
	c := f.next(t)
	if c.old.Assistant.Voice != "Kore" || c.new.Assistant.Voice != "Puck" {
		t.Errorf("voices = %q -> %q; want Kore -> Puck", c.old.Assistant.Voice, c.new.Assistant.Voice)
	}
	d := c.diff
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q; want debug", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.AssistantChanged || !d.ToolsChanged {
		t.Errorf("AssistantChanged=%v ToolsChanged=%v; want both", d.AssistantChanged, d.ToolsChanged)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v; want none", d.RestartRequired)
	}
	if got := f.w.Current().Assistant.Voice; got != "Puck" {
		t.Errorf("Current voice = %q; want Puck", got)
	}
}

func TestWatcher_ProviderChangeNeedsRestart(t *testing.T) {
	t.Parallel()

	f := watch(t, baseYAML)
	f.edit(t, `
server:
  log_level: info
providers:
  live:
    name: openai
assistant:
  voice: Kore
`)
	d := f.next(t).diff
	if !slices.Contains(d.RestartRequired, "providers") {
		t.Errorf("RestartRequired = %v; want providers", d.RestartRequired)
	}
}

func TestWatcher_InvalidEditKeepsCurrent(t *testing.T) {
	t.Parallel()

	f := watch(t, baseYAML)
	f.edit(t, "server:\n  log_level: shouting\n")
	f.none(t)
	if got := f.w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log level after invalid edit = %q; want info", got)
	}

	f.edit(t, "server:\n  log_level: warn\nproviders:\n  live:\n    name: gemini\nassistant:\n  voice: Kore\n")
	if d := f.next(t).diff; d.NewLogLevel != config.LogWarn {
		t.Errorf("NewLogLevel = %q; want warn", d.NewLogLevel)
	}
}

func TestWatcher_TouchWithoutEdit(t *testing.T) {
	t.Parallel()

	f := watch(t, baseYAML)
	f.touch(t)
	f.none(t)
}

func TestWatcher_StopEndsCallbacks(t *testing.T) {
	t.Parallel()

	f := watch(t, baseYAML)
	f.w.Stop()
	f.w.Stop()
	f.edit(t, "server:\n  log_level: debug\nproviders:\n  live:\n    name: gemini\n")
	f.none(t)
}
