// Package app wires the MindBridge subsystems into a running service.
//
// New builds the live provider chain, the audio devices, the specialist
// directory, the referral store, the tool host and the [SessionManager].
// Run serves the HTTP control API until its context ends and Shutdown tears
// everything down in reverse order.
//
// For testing, inject doubles with the functional options (WithLiveProvider,
// WithDevices, WithReferralStore, ...). Anything not injected is built from
// the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mindbridge/internal/config"
	"github.com/MrWong99/mindbridge/internal/directory"
	"github.com/MrWong99/mindbridge/internal/dispatch"
	"github.com/MrWong99/mindbridge/internal/health"
	"github.com/MrWong99/mindbridge/internal/mcp/mcphost"
	"github.com/MrWong99/mindbridge/internal/mcp/tools/directorytool"
	"github.com/MrWong99/mindbridge/internal/observe"
	"github.com/MrWong99/mindbridge/internal/resilience"
	"github.com/MrWong99/mindbridge/pkg/audio"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

// App owns every subsystem of a running MindBridge process.
type App struct {
	cfg     *config.Config
	reg     *config.Registry
	level   *slog.LevelVar
	metrics *observe.Metrics

	provider   live.Provider
	fallback   *resilience.LiveFallback
	devices    Devices
	dir        *directory.Directory
	referrals  directory.ReferralStore
	pool       *pgxpool.Pool
	host       *mcphost.Host
	dispatcher *dispatch.Dispatcher
	sessions   *SessionManager
	health     *health.Handler
	server     *http.Server

	configPath string
	watchOpts  []config.WatcherOption
	watcher    *config.Watcher

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option configures New. Use these to inject test doubles.
type Option func(*App)

// WithLiveProvider uses p instead of building providers from the registry.
func WithLiveProvider(p live.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithDevices uses d as the default microphone and speaker.
func WithDevices(d Devices) Option {
	return func(a *App) { a.devices = d }
}

// WithReferralStore uses s instead of the store named by the config.
func WithReferralStore(s directory.ReferralStore) Option {
	return func(a *App) { a.referrals = s }
}

// WithToolHost uses h instead of a fresh host. Built-in tools are still
// registered on it.
func WithToolHost(h *mcphost.Host) Option {
	return func(a *App) { a.host = h }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level through v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithConfigWatch reloads path while running and applies the changes that do
// not need a restart.
func WithConfigWatch(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.configPath = path
		a.watchOpts = opts
	}
}

// New creates an App. reg may be nil when the live provider and the devices
// are injected.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}

	if err := a.initProvider(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init live provider: %w", err)
	}
	if err := a.initDevices(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init devices: %w", err)
	}
	if err := a.initDirectory(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init directory: %w", err)
	}
	if err := a.initReferrals(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init referrals: %w", err)
	}
	if err := a.initTools(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init tools: %w", err)
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Provider:       a.provider,
		Devices:        a.devices,
		Tools:          a.dispatcher,
		Live:           liveConfig(cfg.Assistant, a.host.Tools()),
		CaptureFormat:  audio.Format{SampleRate: cfg.Audio.CaptureRate, Channels: 1},
		PlaybackFormat: audio.Format{SampleRate: cfg.Audio.PlaybackRate, Channels: 1},
		FrameSize:      cfg.Audio.FrameSize,
		Metrics:        a.metrics,
	})
	a.closers = append(a.closers, a.sessions.Stop)

	a.health = health.New(a.checkers()...)
	a.server = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: a.Handler(),
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig, a.watchOpts...)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
	}
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initProvider builds the primary live provider and its fallbacks, each
// behind a circuit breaker.
func (a *App) initProvider() error {
	if a.provider != nil {
		return nil
	}
	if a.reg == nil {
		return errors.New("no provider registry")
	}

	breaker := resilience.CircuitBreakerConfig{
		MaxFailures:  a.cfg.Providers.Failover.MaxFailures,
		ResetTimeout: a.cfg.Providers.Failover.ResetTimeout,
	}
	primaryEntry := a.cfg.Providers.Live
	primary, err := a.reg.CreateLive(primaryEntry)
	if err != nil {
		return err
	}
	fb := resilience.NewLiveFallback(primaryEntry.Name, primary, breaker)
	for _, entry := range a.cfg.Providers.LiveFallbacks {
		p, err := a.reg.CreateLive(entry)
		if err != nil {
			return err
		}
		fb.AddFallback(entry.Name, p)
	}
	slog.Info("live providers ready", "primary", primaryEntry.Name, "fallbacks", len(a.cfg.Providers.LiveFallbacks))

	a.fallback = fb
	a.provider = fb
	return nil
}

// initDevices creates the default microphone and speaker. Either may be left
// unset, in which case sessions need explicit devices (e.g. from the Discord
// bot).
func (a *App) initDevices() error {
	if a.devices.Input != nil || a.devices.Output != nil {
		return nil
	}
	in, out := a.cfg.Audio.Input, a.cfg.Audio.Output
	if in.Name == "" || out.Name == "" || a.reg == nil {
		slog.Info("no default audio devices; sessions need explicit devices")
		return nil
	}
	inDev, err := a.reg.CreateInput(in)
	if err != nil {
		return err
	}
	outDev, err := a.reg.CreateOutput(out)
	if err != nil {
		return err
	}
	a.devices = Devices{Input: inDev, Output: outDev, Label: in.Name + "/" + out.Name}
	slog.Info("audio devices ready", "input", in.Name, "output", out.Name)
	return nil
}

func (a *App) initDirectory() error {
	if a.cfg.Directory.Path == "" {
		a.dir = directory.Default()
		return nil
	}
	d, err := directory.Load(a.cfg.Directory.Path)
	if err != nil {
		return err
	}
	a.dir = d
	slog.Info("loaded specialist directory", "path", a.cfg.Directory.Path, "specialists", d.Len())
	return nil
}

// initReferrals opens the PostgreSQL store when a DSN is configured and
// falls back to an in-memory store otherwise.
func (a *App) initReferrals(ctx context.Context) error {
	if a.referrals != nil {
		return nil
	}
	dsn := a.cfg.Referrals.PostgresDSN
	if dsn == "" {
		a.referrals = directory.NewMemStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	store := directory.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	a.pool = pool
	a.referrals = store
	return nil
}

// initTools registers the directory tools and any external MCP servers,
// then builds the dispatcher on top of the host.
func (a *App) initTools(ctx context.Context) error {
	if a.host == nil {
		a.host = mcphost.New()
	}
	a.closers = append(a.closers, a.host.Close)

	// a.sessions is set before any session can call a tool.
	tools := directorytool.Tools(a.dir, a.referrals,
		directorytool.WithProfileFunc(func(p directory.Profile) { a.sessions.showProfile(p) }),
		directorytool.WithReferralFunc(func(r directory.Record) { a.sessions.addReferral(r) }),
	)
	for _, t := range tools {
		err := a.host.RegisterBuiltin(mcphost.BuiltinTool{
			Definition: t.Definition,
			Handler:    t.Handler,
			Timeout:    t.Timeout,
		})
		if err != nil {
			return err
		}
	}

	for _, srv := range a.cfg.MCP.Servers {
		if err := a.host.RegisterServer(ctx, srv); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}

	a.dispatcher = dispatch.New(a.host,
		dispatch.WithTimeout(a.cfg.Tools.Timeout),
		dispatch.WithConcurrency(a.cfg.Tools.Concurrency),
		dispatch.WithMetrics(a.metrics),
	)
	return nil
}

func (a *App) checkers() []health.Checker {
	checks := []health.Checker{{
		Name: "providers",
		Check: func(context.Context) error {
			if a.fallback == nil {
				return nil
			}
			for _, st := range a.fallback.Status() {
				if st.State != resilience.StateOpen.String() {
					return nil
				}
			}
			return errors.New("every live provider circuit is open")
		},
	}}
	if a.pool != nil {
		checks = append(checks, health.Checker{Name: "referrals", Check: a.pool.Ping})
	}
	return checks
}

func liveConfig(c config.AssistantConfig, tools []live.ToolDefinition) live.SessionConfig {
	return live.SessionConfig{
		Model:        c.Model,
		Voice:        c.Voice,
		Instructions: c.Instructions,
		Tools:        tools,
		Transcribe:   true,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Directory returns the specialist directory.
func (a *App) Directory() *directory.Directory { return a.dir }

// StartSession starts a session on the default devices.
func (a *App) StartSession(ctx context.Context) error { return a.sessions.Start(ctx) }

// StopSession ends the current session.
func (a *App) StopSession() error { return a.sessions.Stop() }

// ─── Config reload ───────────────────────────────────────────────────────────

func (a *App) applyConfig(_, next *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("config: log level changed", "level", d.NewLogLevel)
	}
	if d.AssistantChanged {
		a.sessions.SetLiveConfig(liveConfig(next.Assistant, nil))
		slog.Info("config: assistant settings apply from the next session")
	}
	if d.ToolsChanged {
		a.dispatcher.SetLimits(next.Tools.Timeout, next.Tools.Concurrency)
		slog.Info("config: tool limits changed", "timeout", next.Tools.Timeout, "concurrency", next.Tools.Concurrency)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: changes ignored until restart", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API and blocks until ctx is cancelled or the
// server fails. A clean stop returns nil.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("control API listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.health.SetReady(false)
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	a.health.SetReady(true)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the session and tears down all subsystems in reverse order.
// If ctx expires first, the remaining closers are skipped and ctx's error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.health.SetReady(false)
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = err
				return
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers collected so far after a failed New.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
}
