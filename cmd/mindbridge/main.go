// Command mindbridge runs the MindBridge voice assistant: the HTTP control
// API, the voice session manager and, when configured, the Discord bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mindbridge/internal/app"
	"github.com/MrWong99/mindbridge/internal/config"
	discordbot "github.com/MrWong99/mindbridge/internal/discord"
	"github.com/MrWong99/mindbridge/internal/observe"
	"github.com/MrWong99/mindbridge/pkg/audio"
	"github.com/MrWong99/mindbridge/pkg/audio/mixer"
	audiomock "github.com/MrWong99/mindbridge/pkg/audio/mock"
	"github.com/MrWong99/mindbridge/pkg/audio/wav"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
	"github.com/MrWong99/mindbridge/pkg/provider/live/gemini"
	livemock "github.com/MrWong99/mindbridge/pkg/provider/live/mock"
	"github.com/MrWong99/mindbridge/pkg/provider/live/openai"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mindbridge: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mindbridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("mindbridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: cfg.Telemetry.ServiceName})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Discord bot (optional) ────────────────────────────────────────────────
	var bot *discordbot.Bot
	if cfg.Discord.Token != "" {
		bot, err = discordbot.New(ctx, discordbot.Config{
			Token:        cfg.Discord.Token,
			GuildID:      cfg.Discord.GuildID,
			AllowedRoles: cfg.Discord.AllowedRoles,
		})
		if err != nil {
			slog.Error("failed to create Discord bot", "err", err)
			return 1
		}
		defer func() {
			if err := bot.Close(); err != nil {
				slog.Warn("discord bot close error", "err", err)
			}
		}()
		slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID)
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	if bot != nil {
		registerDiscordDevices(reg, bot, cfg.Discord.VoiceChannelID)
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg,
		app.WithLevelVar(level),
		app.WithConfigWatch(*configPath),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if bot != nil {
		s := bot.Session()
		discordbot.NewSessionCommands(
			application.Sessions(),
			bot.Permissions(),
			discordbot.StateVoiceLocator(s),
			discordbot.ChannelDevices(s, bot.GuildID()),
			discordbot.WithFallbackChannel(cfg.Discord.VoiceChannelID),
		).Register(bot.Router())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	if bot != nil {
		g.Go(func() error { return bot.Run(gctx) })
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the live providers and the file based
// devices that ship with MindBridge into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Live speech ───────────────────────────────────────────────────────────

	reg.RegisterLive("gemini", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterLive("openai", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if m := optString(entry.Options, "transcription_model"); m != "" {
			opts = append(opts, openai.WithTranscriptionModel(m))
		}
		return openai.New(entry.APIKey, opts...), nil
	})

	// mock answers every connect and never speaks. Handy for exercising the
	// control API without credentials.
	reg.RegisterLive("mock", func(config.ProviderEntry) (live.Provider, error) {
		return &livemock.Provider{}, nil
	})

	// ── Devices ───────────────────────────────────────────────────────────────

	reg.RegisterInput("wav", func(entry config.DeviceEntry) (audio.InputDevice, error) {
		return &wav.InputDevice{
			Path:     entry.Path,
			Loop:     optBool(entry.Options, "loop"),
			Realtime: !optBool(entry.Options, "fast"),
		}, nil
	})
	reg.RegisterOutput("wav", func(entry config.DeviceEntry) (audio.OutputDevice, error) {
		return &mixer.Device{
			OpenSink: func(_ context.Context, f audio.Format) (mixer.Sink, error) {
				w, err := wav.Create(entry.Path, f)
				if err != nil {
					return nil, err
				}
				return w, nil
			},
		}, nil
	})

	reg.RegisterInput("null", func(config.DeviceEntry) (audio.InputDevice, error) {
		return &audiomock.Microphone{}, nil
	})
	reg.RegisterOutput("null", func(config.DeviceEntry) (audio.OutputDevice, error) {
		return &mixer.Device{}, nil
	})
}

// registerDiscordDevices makes the "discord" input and output join the
// voice channel in the device options ("channel_id"), or channelID. An input
// and an output on the same channel share one voice connection.
func registerDiscordDevices(reg *config.Registry, bot *discordbot.Bot, channelID string) {
	open := discordbot.ChannelDevices(bot.Session(), bot.GuildID())
	var (
		mu       sync.Mutex
		channels = map[string]app.Devices{}
	)
	devices := func(entry config.DeviceEntry) (app.Devices, error) {
		id := optString(entry.Options, "channel_id")
		if id == "" {
			id = channelID
		}
		if id == "" {
			return app.Devices{}, errors.New("discord: no voice channel configured")
		}
		mu.Lock()
		defer mu.Unlock()
		d, ok := channels[id]
		if !ok {
			d = open(id)
			channels[id] = d
		}
		return d, nil
	}

	reg.RegisterInput("discord", func(entry config.DeviceEntry) (audio.InputDevice, error) {
		d, err := devices(entry)
		return d.Input, err
	})
	reg.RegisterOutput("discord", func(entry config.DeviceEntry) (audio.OutputDevice, error) {
		d, err := devices(entry)
		return d.Output, err
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       MindBridge startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Live", entryValue(cfg.Providers.Live.Name, cfg.Providers.Live.Model))
	printRow("Fallbacks", fmt.Sprintf("%d", len(cfg.Providers.LiveFallbacks)))
	printRow("Input", entryValue(cfg.Audio.Input.Name, ""))
	printRow("Output", entryValue(cfg.Audio.Output.Name, ""))
	printRow("Voice", cfg.Assistant.Voice)
	if cfg.Discord.Token != "" {
		printRow("Discord", "connected")
	} else {
		printRow("Discord", "(disabled)")
	}
	printRow("MCP servers", fmt.Sprintf("%d", len(cfg.MCP.Servers)))
	if cfg.Referrals.PostgresDSN != "" {
		printRow("Referrals", "postgres")
	} else {
		printRow("Referrals", "memory")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func entryValue(name, model string) string {
	switch {
	case name == "":
		return "(not configured)"
	case model != "":
		return name + " / " + model
	}
	return name
}

func printRow(kind, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from an Options map. Returns "" if the
// map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optBool extracts a bool value from an Options map.
func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}
