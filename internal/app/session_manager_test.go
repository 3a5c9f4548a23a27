package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/mindbridge/internal/app"
	"github.com/MrWong99/mindbridge/internal/session"
	"github.com/MrWong99/mindbridge/internal/transcript"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
	"github.com/MrWong99/mindbridge/pkg/provider/live/mock"
)

func newManager(t *testing.T, provider live.Provider, devices app.Devices) *app.SessionManager {
	t.Helper()
	m := app.NewSessionManager(app.SessionManagerConfig{
		Provider: provider,
		Devices:  devices,
		Live: live.SessionConfig{
			Instructions: "be kind",
			Tools:        []live.ToolDefinition{{Name: "lookup"}},
		},
		Metrics: testMetrics(t),
	})
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func TestSessionManager_StopWhenNeverStarted(t *testing.T) {
	t.Parallel()

	m := newManager(t, &mock.Provider{}, testDevices())
	if err := m.Stop(); err != nil {
		t.Errorf("Stop = %v; want nil", err)
	}
	if got := m.Status().State; got != "idle" {
		t.Errorf("State = %q; want idle", got)
	}
}

func TestSessionManager_NoDevices(t *testing.T) {
	t.Parallel()

	m := newManager(t, &mock.Provider{}, app.Devices{})
	if err := m.Start(context.Background()); !errors.Is(err, app.ErrNoDevices) {
		t.Errorf("Start = %v; want ErrNoDevices", err)
	}
}

func TestSessionManager_RejectsStartWhileConnecting(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	provider := &mock.Provider{Block: block}
	m := newManager(t, provider, testDevices())

	errc := make(chan error, 1)
	go func() { errc <- m.Start(context.Background()) }()
	waitFor(t, "connecting", func() bool { return m.State() == session.StateConnecting })

	if err := m.Start(context.Background()); !errors.Is(err, app.ErrSessionActive) {
		t.Errorf("second Start = %v; want ErrSessionActive", err)
	}
	close(block)
	if err := <-errc; err != nil {
		t.Fatalf("first Start = %v", err)
	}
	if got := m.State(); got != session.StateActive {
		t.Errorf("State = %v; want active", got)
	}
}

func TestSessionManager_HistorySharedAcrossDevices(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	m := newManager(t, provider, testDevices())

	var (
		mu      sync.Mutex
		entries []transcript.Entry
	)
	m.OnTranscript(func(e transcript.Entry) {
		mu.Lock()
		entries = append(entries, e)
		mu.Unlock()
	})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := m.Status().ID
	sess := provider.LastSession()
	sess.Emit(live.Event{Kind: live.EventInputTranscript, Text: "hello"})
	sess.Emit(live.Event{Kind: live.EventTurnComplete})
	waitFor(t, "history", func() bool { return len(m.History()) == 1 })
	_ = m.Stop()

	other := testDevices()
	other.Label = "voice-channel-2"
	if err := m.StartOn(context.Background(), other); err != nil {
		t.Fatalf("StartOn: %v", err)
	}
	st := m.Status()
	if st.Devices != "voice-channel-2" {
		t.Errorf("Devices = %q; want voice-channel-2", st.Devices)
	}
	if st.ID == first {
		t.Errorf("session id reused across starts")
	}
	if len(st.History) != 1 || st.History[0].Text != "hello" {
		t.Errorf("History = %+v; want the earlier entry", st.History)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(entries) != 1 || entries[0].Role != transcript.RoleClient {
		t.Errorf("listener entries = %+v; want one client entry", entries)
	}
}

func TestSessionManager_SetLiveConfigKeepsTools(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{}
	m := newManager(t, provider, testDevices())
	m.SetLiveConfig(live.SessionConfig{Instructions: "be brief", Voice: "Puck"})

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := provider.Calls()[0].Cfg
	if got.Instructions != "be brief" || got.Voice != "Puck" {
		t.Errorf("live config = %q/%q; want be brief/Puck", got.Instructions, got.Voice)
	}
	if len(got.Tools) != 1 || got.Tools[0].Name != "lookup" {
		t.Errorf("tools = %+v; want lookup kept", got.Tools)
	}
}
