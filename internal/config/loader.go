package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/mindbridge/internal/mcp"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr   = ":8080"
	DefaultCaptureRate  = 16000
	DefaultFrameSize    = 4096
	DefaultPlaybackRate = 24000
	DefaultVoice        = "Kore"
	DefaultServiceName  = "mindbridge"
)

// DefaultInstructions is the system prompt used when assistant.instructions
// is empty.
const DefaultInstructions = `You are MindBridge AI, a clinical CBT specialist.
Language policy:
1. Speak and transcribe only in English or Urdu.
2. If the user speaks another language, answer only: "I can only communicate in English or Urdu at this time."
3. Never respond or transcribe in any other language.

Protocol:
- Stay in the session. Never end the call yourself.
- Give CBT guidance and help the user notice cognitive distortions.
- Offer a human psychologist only when the user explicitly asks for one.
- When they ask, use getPsychologistAvailability and showSpecialistProfile, and record the request with requestHumanReferral.
- Make sure the user feels heard, in English or Urdu.`

// ValidProviderNames lists known names per kind. Unknown names only warn, so
// third-party factories can be registered.
var ValidProviderNames = map[string][]string{
	"live":   {"gemini", "openai", "mock"},
	"input":  {"discord", "wav", "null"},
	"output": {"discord", "wav", "null"},
}

// Load reads, expands, defaults and validates the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r. "${VAR}" references are expanded from
// the environment before decoding. Unknown keys are errors.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(expandReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Audio.CaptureRate == 0 {
		cfg.Audio.CaptureRate = DefaultCaptureRate
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = DefaultFrameSize
	}
	if cfg.Audio.PlaybackRate == 0 {
		cfg.Audio.PlaybackRate = DefaultPlaybackRate
	}
	if cfg.Assistant.Voice == "" {
		cfg.Assistant.Voice = DefaultVoice
	}
	if strings.TrimSpace(cfg.Assistant.Instructions) == "" {
		cfg.Assistant.Instructions = DefaultInstructions
	}
	if cfg.Tools.Timeout <= 0 {
		cfg.Tools.Timeout = 10 * time.Second
	}
	if cfg.Tools.Concurrency <= 0 {
		cfg.Tools.Concurrency = 8
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks cfg and returns every problem joined into one error. Soft
// issues are logged.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Providers.Live.Name == "" {
		errs = append(errs, errors.New("providers.live.name is required"))
	}
	warnUnknown("live", cfg.Providers.Live.Name)
	for i, fb := range cfg.Providers.LiveFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.live_fallbacks[%d].name is required", i))
		}
		warnUnknown("live", fb.Name)
	}
	if cfg.Providers.Failover.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("providers.failover.max_failures %d must not be negative", cfg.Providers.Failover.MaxFailures))
	}

	warnUnknown("input", cfg.Audio.Input.Name)
	warnUnknown("output", cfg.Audio.Output.Name)
	for _, d := range []struct {
		key   string
		entry DeviceEntry
	}{{"audio.input", cfg.Audio.Input}, {"audio.output", cfg.Audio.Output}} {
		if d.entry.Name == "wav" && d.entry.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required for the wav device", d.key))
		}
	}
	if cfg.Audio.CaptureRate < 8000 || cfg.Audio.CaptureRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.capture_rate %d is out of range [8000, 48000]", cfg.Audio.CaptureRate))
	}
	if cfg.Audio.PlaybackRate < 8000 || cfg.Audio.PlaybackRate > 48000 {
		errs = append(errs, fmt.Errorf("audio.playback_rate %d is out of range [8000, 48000]", cfg.Audio.PlaybackRate))
	}
	if cfg.Audio.FrameSize < 256 || cfg.Audio.FrameSize > 16384 {
		errs = append(errs, fmt.Errorf("audio.frame_size %d is out of range [256, 16384]", cfg.Audio.FrameSize))
	}

	usesDiscord := cfg.Audio.Input.Name == "discord" || cfg.Audio.Output.Name == "discord"
	if usesDiscord && cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required when an audio device is discord"))
	}
	if cfg.Discord.Token != "" && cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required when discord.token is set"))
	}

	if cfg.Referrals.PostgresDSN == "" {
		slog.Warn("referrals.postgres_dsn is empty; referrals are kept in memory and lost on restart")
	}

	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else if prev, ok := seen[srv.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
		} else {
			seen[srv.Name] = i
		}
		if !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcp.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcp.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

func warnUnknown(kind, name string) {
	if name == "" || slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or a third-party factory",
		"kind", kind, "name", name, "known", ValidProviderNames[kind])
}
