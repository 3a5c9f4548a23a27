package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/mindbridge/internal/config"
	"github.com/MrWong99/mindbridge/internal/mcp"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{Live: config.ProviderEntry{Name: "gemini"}},
		MCP: config.MCPConfig{Servers: []mcp.ServerConfig{
			{Name: "notes", Transport: mcp.TransportStdio, Command: "notes"},
		}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()

	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged || d.AssistantChanged || d.ToolsChanged || len(d.RestartRequired) != 0 {
		t.Errorf("Diff = %+v; want empty", d)
	}
}

func TestDiff_HotReloadable(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug
	new.Assistant.Instructions = "Speak softly."
	new.Tools.Concurrency = 2

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q; want debug", d.LogLevelChanged, d.NewLogLevel)
	}
	if !d.AssistantChanged {
		t.Error("AssistantChanged = false; want true")
	}
	if !d.ToolsChanged {
		t.Error("ToolsChanged = false; want true")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("RestartRequired = %v; want none", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()

	old, new := baseConfig(), baseConfig()
	new.Providers.Live.Name = "openai"
	new.Audio.PlaybackRate = 48000
	new.MCP.Servers[0].Command = "notes-v2"
	new.Discord.Token = "t"

	got := config.Diff(old, new).RestartRequired
	for _, want := range []string{"providers", "audio", "mcp", "discord"} {
		if !slices.Contains(got, want) {
			t.Errorf("RestartRequired = %v; want it to contain %q", got, want)
		}
	}
}
