package app

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/mindbridge/internal/directory"
	"github.com/MrWong99/mindbridge/internal/observe"
	"github.com/MrWong99/mindbridge/internal/session"
	"github.com/MrWong99/mindbridge/internal/transcript"
	"github.com/MrWong99/mindbridge/pkg/audio"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

var (
	// ErrSessionActive is returned by Start while a session is connecting or
	// active.
	ErrSessionActive = errors.New("app: a session is already active")

	// ErrNoDevices is returned by Start when no microphone or speaker is
	// configured.
	ErrNoDevices = errors.New("app: no audio devices configured")
)

// Devices is a microphone and speaker pair.
type Devices struct {
	Input  audio.InputDevice
	Output audio.OutputDevice

	// Label identifies the pair, e.g. a voice channel id. Starting on the
	// same label reuses the previous session.
	Label string
}

// SessionManagerConfig holds the dependencies of a [SessionManager].
type SessionManagerConfig struct {
	Provider live.Provider

	// Devices are used by [SessionManager.Start]. May be empty when every
	// session is started with explicit devices.
	Devices Devices

	Tools session.Dispatcher
	Live  live.SessionConfig

	CaptureFormat  audio.Format
	PlaybackFormat audio.Format
	FrameSize      int

	Metrics *observe.Metrics
}

// Status is the JSON view of the current session served by the control API.
type Status struct {
	session.Snapshot

	Devices    string             `json:"devices,omitempty"`
	StartedAt  *time.Time         `json:"startedAt,omitempty"`
	InputLevel float64            `json:"inputLevel"`
	LastError  string             `json:"lastError,omitempty"`
	Profile    *directory.Profile `json:"profile,omitempty"`
	Referrals  []directory.Record `json:"referrals"`
}

// SessionManager owns the voice session. There is at most one session at a
// time; the transcript history is shared by every session it starts. All
// methods are safe for concurrent use.
type SessionManager struct {
	cfg        SessionManagerConfig
	transcript *transcript.Aggregator

	mu        sync.Mutex
	live      live.SessionConfig
	sess      *session.Session
	devices   Devices
	starting  bool
	startedAt time.Time
	level     float64
	lastErr   *session.Error
	profile   *directory.Profile
	referrals []directory.Record
	listeners []func(transcript.Entry)
}

// NewSessionManager returns an idle manager.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		cfg:        cfg,
		transcript: transcript.New(),
		live:       cfg.Live,
	}
}

// Start starts a session on the configured devices.
func (m *SessionManager) Start(ctx context.Context) error {
	return m.StartOn(ctx, m.cfg.Devices)
}

// StartOn starts a session on d and blocks until it is Active or failed.
// The last shown profile, the referrals and the last error are reset.
func (m *SessionManager) StartOn(ctx context.Context, d Devices) error {
	m.mu.Lock()
	if m.starting || (m.sess != nil && m.sess.State() != session.StateIdle) {
		m.mu.Unlock()
		return ErrSessionActive
	}
	if d.Input == nil || d.Output == nil {
		m.mu.Unlock()
		return ErrNoDevices
	}
	if m.sess == nil || m.devices.Label != d.Label {
		m.sess = m.newSession(d)
		m.devices = d
	}
	m.sess.SetLiveConfig(m.live)
	s := m.sess
	m.starting = true
	m.startedAt = time.Now()
	m.lastErr, m.profile, m.referrals = nil, nil, nil
	m.mu.Unlock()

	err := s.Start(ctx)

	m.mu.Lock()
	m.starting = false
	m.mu.Unlock()
	return err
}

func (m *SessionManager) newSession(d Devices) *session.Session {
	return session.New(session.Config{
		Provider:       m.cfg.Provider,
		Input:          d.Input,
		Output:         d.Output,
		Tools:          m.cfg.Tools,
		Live:           m.live,
		CaptureFormat:  m.cfg.CaptureFormat,
		PlaybackFormat: m.cfg.PlaybackFormat,
		FrameSize:      m.cfg.FrameSize,
		Metrics:        m.cfg.Metrics,
	},
		session.WithAggregator(m.transcript),
		session.WithErrorFunc(m.onError),
		session.WithStateFunc(m.onState),
		session.WithLevelFunc(m.onLevel),
		session.WithTranscriptFunc(m.onTranscript),
	)
}

// Stop ends the current session. It is a no-op when idle.
func (m *SessionManager) Stop() error {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Stop()
}

// State reports the current session state.
func (m *SessionManager) State() session.State {
	m.mu.Lock()
	s := m.sess
	m.mu.Unlock()
	if s == nil {
		return session.StateIdle
	}
	return s.State()
}

// SetLiveConfig replaces the assistant settings used from the next Start.
// The tool declarations of the current settings are kept when cfg has none.
func (m *SessionManager) SetLiveConfig(cfg live.SessionConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.Tools == nil {
		cfg.Tools = m.live.Tools
	}
	m.live = cfg
}

// LiveConfig returns the assistant settings used by the next Start.
func (m *SessionManager) LiveConfig() live.SessionConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// History returns every finalised transcript entry since start-up.
func (m *SessionManager) History() []transcript.Entry { return m.transcript.History() }

// OnTranscript registers fn to run for every finalised entry.
func (m *SessionManager) OnTranscript(fn func(transcript.Entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Status returns the current session view.
func (m *SessionManager) Status() Status {
	m.mu.Lock()
	s := m.sess
	st := Status{
		Devices:    m.devices.Label,
		InputLevel: m.level,
		Profile:    m.profile,
		Referrals:  slices.Clone(m.referrals),
	}
	if !m.startedAt.IsZero() {
		t := m.startedAt
		st.StartedAt = &t
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	m.mu.Unlock()

	if s != nil {
		st.Snapshot = s.Snapshot()
	} else {
		st.Snapshot = session.Snapshot{State: session.StateIdle.String(), History: m.transcript.History()}
	}
	if st.Referrals == nil {
		st.Referrals = []directory.Record{}
	}
	return st
}

func (m *SessionManager) onError(err *session.Error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *SessionManager) onState(st session.State) {
	slog.Info("session state changed", "state", st)
	if st == session.StateIdle {
		m.mu.Lock()
		m.level = 0
		m.mu.Unlock()
	}
}

func (m *SessionManager) onLevel(level float64) {
	m.mu.Lock()
	m.level = level
	m.mu.Unlock()
}

func (m *SessionManager) onTranscript(e transcript.Entry) {
	m.mu.Lock()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
}

// showProfile records the profile card the assistant displayed.
func (m *SessionManager) showProfile(p directory.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = &p
}

func (m *SessionManager) addReferral(r directory.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.referrals = append(m.referrals, r)
}
