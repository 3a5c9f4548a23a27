// Package config provides the configuration schema, loader and provider
// registry for the MindBridge voice assistant.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/mindbridge/internal/mcp"
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

// Level converts l to a slog level. Unknown values map to Info.
func (l LogLevel) Level() slog.Level {
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

// Config is the root configuration, usually loaded with [Load].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Audio     AudioConfig     `yaml:"audio"`
	Assistant AssistantConfig `yaml:"assistant"`
	Directory DirectoryConfig `yaml:"directory"`
	Referrals ReferralsConfig `yaml:"referrals"`
	Tools     ToolsConfig     `yaml:"tools"`
	MCP       MCPConfig       `yaml:"mcp"`
	Discord   DiscordConfig   `yaml:"discord"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the HTTP control API settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// ShutdownTimeout bounds graceful shutdown. Default 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ProvidersConfig selects the live speech service and its fallbacks.
type ProvidersConfig struct {
	// Live is the preferred provider.
	Live ProviderEntry `yaml:"live"`

	// LiveFallbacks are tried in order when connecting to Live fails.
	LiveFallbacks []ProviderEntry `yaml:"live_fallbacks"`

	// Failover tunes the per-provider circuit breakers.
	Failover FailoverConfig `yaml:"failover"`
}

// ProviderEntry configures one provider. Name selects the factory in the
// [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values.
	Options map[string]any `yaml:"options"`
}

// FailoverConfig tunes connect-time failover.
type FailoverConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// AudioConfig selects the microphone and the speaker and fixes the stream
// formats.
type AudioConfig struct {
	Input  DeviceEntry `yaml:"input"`
	Output DeviceEntry `yaml:"output"`

	// CaptureRate is the microphone rate in Hz. Default 16000.
	CaptureRate int `yaml:"capture_rate"`

	// FrameSize is the number of samples per captured frame. Default 4096.
	FrameSize int `yaml:"frame_size"`

	// PlaybackRate is the speaker rate in Hz. Default 24000.
	PlaybackRate int `yaml:"playback_rate"`
}

// DeviceEntry configures an audio device. Name selects the factory in the
// [Registry]: "discord", "wav" or "null".
type DeviceEntry struct {
	Name string `yaml:"name"`

	// Path is the WAV file read by a "wav" input or written by a "wav"
	// output.
	Path string `yaml:"path"`

	Options map[string]any `yaml:"options"`
}

// AssistantConfig is sent to the live provider at the start of every
// session. Changes take effect on the next start.
type AssistantConfig struct {
	// Instructions is the system prompt. Empty selects the built-in
	// MindBridge instructions.
	Instructions string `yaml:"instructions"`

	// Voice is the prebuilt voice. Default "Kore".
	Voice string `yaml:"voice"`

	// Model overrides the provider's default model.
	Model string `yaml:"model"`
}

// DirectoryConfig locates the specialist directory.
type DirectoryConfig struct {
	// Path is a YAML fixture. Empty uses the built-in directory.
	Path string `yaml:"path"`
}

// ReferralsConfig selects the referral store.
type ReferralsConfig struct {
	// PostgresDSN enables the PostgreSQL store. Empty keeps referrals in
	// memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ToolsConfig tunes tool dispatch.
type ToolsConfig struct {
	// Timeout bounds each tool call. Default 10s.
	Timeout time.Duration `yaml:"timeout"`

	// Concurrency caps parallel calls per batch. Default 8.
	Concurrency int `yaml:"concurrency"`
}

// MCPConfig lists external MCP tool servers.
type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers"`
}

// DiscordConfig enables the Discord front-end.
type DiscordConfig struct {
	// Token is the bot token. Empty disables the bot.
	Token string `yaml:"token"`

	GuildID string `yaml:"guild_id"`

	// VoiceChannelID is joined when a session starts and the invoking user
	// is not in a voice channel.
	VoiceChannelID string `yaml:"voice_channel_id"`

	// AllowedRoles restricts the slash commands to these role IDs. Empty
	// allows everyone.
	AllowedRoles []string `yaml:"allowed_roles"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	// ServiceName is reported as the OTel resource service name. Default
	// "mindbridge".
	ServiceName string `yaml:"service_name"`

	// Prometheus serves /metrics when true.
	Prometheus bool `yaml:"prometheus"`
}
