package config_test

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/mindbridge/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "missing live provider",
			yaml: "server:\n  log_level: info\n",
			want: []string{"providers.live.name is required"},
		},
		{
			name: "bad log level",
			yaml: "server:\n  log_level: loud\nproviders:\n  live:\n    name: gemini\n",
			want: []string{"server.log_level"},
		},
		{
			name: "unnamed fallback",
			yaml: "providers:\n  live:\n    name: gemini\n  live_fallbacks:\n    - api_key: x\n",
			want: []string{"live_fallbacks[0].name"},
		},
		{
			name: "wav without path",
			yaml: "providers:\n  live:\n    name: gemini\naudio:\n  input:\n    name: wav\n",
			want: []string{"audio.input.path"},
		},
		{
			name: "rates out of range",
			yaml: "providers:\n  live:\n    name: gemini\naudio:\n  capture_rate: 1000\n  playback_rate: 96000\n  frame_size: 10\n",
			want: []string{"capture_rate", "playback_rate", "frame_size"},
		},
		{
			name: "discord device without token",
			yaml: "providers:\n  live:\n    name: gemini\naudio:\n  output:\n    name: discord\n",
			want: []string{"discord.token"},
		},
		{
			name: "discord token without guild",
			yaml: "providers:\n  live:\n    name: gemini\ndiscord:\n  token: abc\n",
			want: []string{"discord.guild_id"},
		},
		{
			name: "mcp servers",
			yaml: `
providers:
  live:
    name: gemini
mcp:
  servers:
    - name: a
      transport: stdio
    - name: a
      transport: streamable-http
    - name: c
      transport: carrier-pigeon
`,
			want: []string{"command is required", "duplicate", "url is required", "carrier-pigeon"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("LoadFromReader error = nil; want validation error")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()

	if _, err := config.LoadFromReader(strings.NewReader("providers:\n  live:\n    name: my-custom-live\n")); err != nil {
		t.Errorf("LoadFromReader = %v; want nil for an unknown provider name", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q.IsValid() = false", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`"trace".IsValid() = true`)
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()

	tests := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range tests {
		if got := in.Level(); got != want {
			t.Errorf("LogLevel(%q).Level() = %v; want %v", in, got, want)
		}
	}
}
