package config

import (
	"slices"

	"github.com/MrWong99/mindbridge/internal/mcp"
)

// ConfigDiff lists the changes between two configs that apply without a
// restart. Everything else needs one.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AssistantChanged means instructions, voice or model differ. The new
	// values apply from the next session start.
	AssistantChanged bool

	// ToolsChanged means the tool timeout or concurrency differ.
	ToolsChanged bool

	// RestartRequired lists top-level sections whose changes are ignored
	// until restart.
	RestartRequired []string
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.AssistantChanged = old.Assistant != new.Assistant
	d.ToolsChanged = old.Tools != new.Tools

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if !deviceEqual(old.Audio.Input, new.Audio.Input) || !deviceEqual(old.Audio.Output, new.Audio.Output) ||
		old.Audio.CaptureRate != new.Audio.CaptureRate || old.Audio.FrameSize != new.Audio.FrameSize ||
		old.Audio.PlaybackRate != new.Audio.PlaybackRate {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Directory != new.Directory {
		d.RestartRequired = append(d.RestartRequired, "directory")
	}
	if old.Referrals != new.Referrals {
		d.RestartRequired = append(d.RestartRequired, "referrals")
	}
	if !slices.EqualFunc(old.MCP.Servers, new.MCP.Servers, func(a, b mcp.ServerConfig) bool {
		return a.Name == b.Name && a.Transport == b.Transport && a.Command == b.Command && a.URL == b.URL
	}) {
		d.RestartRequired = append(d.RestartRequired, "mcp")
	}
	if old.Discord.Token != new.Discord.Token || old.Discord.GuildID != new.Discord.GuildID ||
		old.Discord.VoiceChannelID != new.Discord.VoiceChannelID || !slices.Equal(old.Discord.AllowedRoles, new.Discord.AllowedRoles) {
		d.RestartRequired = append(d.RestartRequired, "discord")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return a.Failover == b.Failover && entryEqual(a.Live, b.Live) &&
		slices.EqualFunc(a.LiveFallbacks, b.LiveFallbacks, entryEqual)
}

func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model && len(a.Options) == len(b.Options)
}

func deviceEqual(a, b DeviceEntry) bool {
	return a.Name == b.Name && a.Path == b.Path && len(a.Options) == len(b.Options)
}
