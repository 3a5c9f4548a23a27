package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/mindbridge/internal/config"
	"github.com/MrWong99/mindbridge/internal/mcp"
	"github.com/MrWong99/mindbridge/pkg/audio"
	"github.com/MrWong99/mindbridge/pkg/audio/mixer"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
	"github.com/MrWong99/mindbridge/pkg/provider/live/mock"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug

providers:
  live:
    name: gemini
    api_key: ${MINDBRIDGE_TEST_KEY}
    model: gemini-2.5-flash-native-audio-preview-12-2025
  live_fallbacks:
    - name: openai
      api_key: sk-test
  failover:
    max_failures: 2
    reset_timeout: 1m

audio:
  input:
    name: wav
    path: testdata/client.wav
  output:
    name: "null"

assistant:
  voice: Puck

referrals:
  postgres_dsn: postgres://mb:mb@localhost:5432/mindbridge?sslmode=disable

tools:
  timeout: 3s

mcp:
  servers:
    - name: notes
      transport: stdio
      command: /usr/local/bin/mcp-notes
    - name: crm
      transport: streamable-http
      url: https://crm.example.com/mcp
`

func TestLoadFromReader_Sample(t *testing.T) {
	t.Setenv("MINDBRIDGE_TEST_KEY", "from-env")

	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v; want :9090 at debug", cfg.Server)
	}
	if cfg.Providers.Live.APIKey != "from-env" {
		t.Errorf("live api_key = %q; want expanded from the environment", cfg.Providers.Live.APIKey)
	}
	if len(cfg.Providers.LiveFallbacks) != 1 || cfg.Providers.LiveFallbacks[0].Name != "openai" {
		t.Errorf("live_fallbacks = %+v; want openai", cfg.Providers.LiveFallbacks)
	}
	if cfg.Providers.Failover.ResetTimeout != time.Minute || cfg.Providers.Failover.MaxFailures != 2 {
		t.Errorf("failover = %+v; want 2 failures, 1m", cfg.Providers.Failover)
	}
	if cfg.Audio.Input.Path != "testdata/client.wav" {
		t.Errorf("audio.input.path = %q", cfg.Audio.Input.Path)
	}
	if cfg.Assistant.Voice != "Puck" {
		t.Errorf("assistant.voice = %q; want Puck", cfg.Assistant.Voice)
	}
	if cfg.Tools.Timeout != 3*time.Second || cfg.Tools.Concurrency != 8 {
		t.Errorf("tools = %+v; want 3s timeout and default concurrency", cfg.Tools)
	}
	if len(cfg.MCP.Servers) != 2 || cfg.MCP.Servers[1].Transport != mcp.TransportStreamableHTTP {
		t.Errorf("mcp.servers = %+v", cfg.MCP.Servers)
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("providers:\n  live:\n    name: gemini\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q; want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Audio.CaptureRate != 16000 || cfg.Audio.FrameSize != 4096 || cfg.Audio.PlaybackRate != 24000 {
		t.Errorf("audio = %+v; want 16000/4096/24000", cfg.Audio)
	}
	if cfg.Assistant.Voice != "Kore" {
		t.Errorf("voice = %q; want Kore", cfg.Assistant.Voice)
	}
	if cfg.Assistant.Instructions != config.DefaultInstructions {
		t.Errorf("instructions = %q; want the default prompt", cfg.Assistant.Instructions)
	}
	if cfg.Tools.Timeout != 10*time.Second {
		t.Errorf("tools.timeout = %v; want 10s", cfg.Tools.Timeout)
	}
	if cfg.Telemetry.ServiceName != "mindbridge" {
		t.Errorf("service_name = %q; want mindbridge", cfg.Telemetry.ServiceName)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("providers:\n  live:\n    name: gemini\npersonas: []\n"))
	if err == nil || !strings.Contains(err.Error(), "personas") {
		t.Errorf("LoadFromReader = %v; want unknown field error", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mindbridge.yaml")
	if err := os.WriteFile(path, []byte("providers:\n  live:\n    name: openai\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Live.Name != "openai" {
		t.Errorf("live.name = %q; want openai", cfg.Providers.Live.Name)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) error = nil")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	r.RegisterLive("mock", func(e config.ProviderEntry) (live.Provider, error) {
		if e.APIKey == "" {
			return nil, errors.New("api key required")
		}
		return &mock.Provider{}, nil
	})
	r.RegisterOutput("null", func(config.DeviceEntry) (audio.OutputDevice, error) {
		return &mixer.Device{}, nil
	})

	p, err := r.CreateLive(config.ProviderEntry{Name: "mock", APIKey: "k"})
	if err != nil {
		t.Fatalf("CreateLive: %v", err)
	}
	if _, err := p.Connect(context.Background(), live.SessionConfig{}); err != nil {
		t.Errorf("Connect: %v", err)
	}

	if _, err := r.CreateLive(config.ProviderEntry{Name: "mock"}); err == nil || !strings.Contains(err.Error(), "api key required") {
		t.Errorf("CreateLive without key = %v; want factory error", err)
	}
	if _, err := r.CreateLive(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLive(nope) = %v; want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateOutput(config.DeviceEntry{Name: "null"}); err != nil {
		t.Errorf("CreateOutput: %v", err)
	}
	if _, err := r.CreateInput(config.DeviceEntry{Name: "null"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateInput(null) = %v; want ErrProviderNotRegistered", err)
	}
}
