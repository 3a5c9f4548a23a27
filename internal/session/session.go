// Package session runs one live voice conversation between a client and the
// assistant.
//
// A [Session] moves through Idle → Connecting → Active → Idle. Start acquires
// the microphone, the speaker and the remote speech stream; once Active,
// captured audio flows out through the capture pipeline while a single actor
// goroutine consumes the inbound event stream and routes each event: audio to
// the playback scheduler, transcript fragments to the aggregator, tool calls
// to the dispatcher. Stop, a transport failure, or the remote side closing
// the stream all return the session to Idle and release every resource.
//
// A session that has gone Idle is never reconnected automatically; the
// caller starts it again.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/mindbridge/internal/capture"
	"github.com/MrWong99/mindbridge/internal/observe"
	"github.com/MrWong99/mindbridge/internal/playback"
	"github.com/MrWong99/mindbridge/internal/transcript"
	"github.com/MrWong99/mindbridge/pkg/audio"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

// Error kinds surfaced through [Error]. Classify with errors.Is.
var (
	// ErrAcquisition means the microphone, the speaker or the remote stream
	// could not be opened. The session is Idle.
	ErrAcquisition = errors.New("session: acquisition failed")

	// ErrTransport means the remote stream failed while Active. The session
	// is Idle.
	ErrTransport = errors.New("session: transport failed")
)

// Error is a failure that ended (or prevented) a session.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%v: %v", e.Kind, e.Err) }

// Unwrap lets errors.Is match both the kind and the cause.
func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// State is the lifecycle state of a [Session].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Dispatcher resolves tool calls. [dispatch.Dispatcher] satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, calls []live.ToolCall) []live.ToolResult
}

// Defaults for [Config].
var (
	DefaultCaptureFormat  = audio.Format{SampleRate: 16000, Channels: 1}
	DefaultPlaybackFormat = audio.Format{SampleRate: 24000, Channels: 1}
)

// DefaultFrameSize is the number of samples per captured frame.
const DefaultFrameSize = 4096

// Config holds the collaborators of a [Session].
type Config struct {
	// Provider opens the remote speech stream. Required.
	Provider live.Provider

	// Input is the microphone. Required.
	Input audio.InputDevice

	// Output is the speaker. Required.
	Output audio.OutputDevice

	// Tools resolves tool calls. When nil, every call is answered with an
	// unsupported-tool payload.
	Tools Dispatcher

	// Live is passed to Provider.Connect.
	Live live.SessionConfig

	// CaptureFormat, PlaybackFormat and FrameSize default to 16 kHz mono,
	// 24 kHz mono and 4096 samples.
	CaptureFormat  audio.Format
	PlaybackFormat audio.Format
	FrameSize      int

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Option configures a [Session].
type Option func(*Session)

// WithErrorFunc registers fn for acquisition and transport failures.
func WithErrorFunc(fn func(*Error)) Option {
	return func(s *Session) { s.onError = fn }
}

// WithTranscriptFunc registers fn for every finalised transcript entry.
func WithTranscriptFunc(fn func(transcript.Entry)) Option {
	return func(s *Session) { s.onTranscript = fn }
}

// WithStateFunc registers fn for state transitions. Calls are serialised in
// transition order; a transition already superseded when its turn comes is
// skipped. fn must not call Start or Stop.
func WithStateFunc(fn func(State)) Option {
	return func(s *Session) { s.onState = fn }
}

// WithLevelFunc registers fn for the loudness of every captured frame. It
// runs on the capture goroutine and must not block.
func WithLevelFunc(fn func(float64)) Option {
	return func(s *Session) { s.onLevel = fn }
}

// WithAggregator sets the transcript aggregator, which keeps history across
// runs of the session.
func WithAggregator(a *transcript.Aggregator) Option {
	return func(s *Session) { s.transcript = a }
}

// Session is a restartable voice session. Callbacks run without the
// session's locks held but must not call Start or Stop synchronously. All
// methods are safe for concurrent use.
type Session struct {
	cfg        Config
	transcript *transcript.Aggregator

	onError      func(*Error)
	onTranscript func(transcript.Entry)
	onState      func(State)
	onLevel      func(float64)

	mu            sync.Mutex
	live          live.SessionConfig
	state         State
	id            string
	run           *run
	cancelConnect context.CancelFunc
	connectDone   chan struct{}
	stopRequested bool
	done          chan struct{}
	transitions   uint64

	// notifyMu orders state callbacks; notified is the last delivered
	// transition.
	notifyMu sync.Mutex
	notified uint64
}

// run holds the resources of one Active period.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc

	input    audio.Input
	output   audio.Output
	handle   live.SessionHandle
	capture  *capture.Pipeline
	playback *playback.Scheduler
	conv     *audio.FormatConverter

	// mu serialises event handling against teardown.
	mu     sync.Mutex
	closed bool

	tools     sync.WaitGroup
	actorDone chan struct{}
	done      chan struct{}
}

// New returns an Idle session. It panics if a required collaborator is nil.
func New(cfg Config, opts ...Option) *Session {
	if cfg.Provider == nil || cfg.Input == nil || cfg.Output == nil {
		panic("session: Provider, Input and Output are required")
	}
	if cfg.CaptureFormat.SampleRate == 0 {
		cfg.CaptureFormat = DefaultCaptureFormat
	}
	if cfg.PlaybackFormat.SampleRate == 0 {
		cfg.PlaybackFormat = DefaultPlaybackFormat
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	s := &Session{cfg: cfg, live: cfg.Live}
	for _, o := range opts {
		o(s)
	}
	if s.transcript == nil {
		s.transcript = transcript.New()
	}
	s.done = make(chan struct{})
	close(s.done)
	return s
}

// SetLiveConfig replaces the configuration sent to the provider. It applies
// from the next Start; a running session keeps its configuration.
func (s *Session) SetLiveConfig(cfg live.SessionConfig) {
	s.mu.Lock()
	s.live = cfg
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the identifier of the current or most recent run, or "" before
// the first Start.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Done returns a channel closed when the current run has returned to Idle.
// When the session is Idle the channel is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// History returns the finalised transcript entries.
func (s *Session) History() []transcript.Entry { return s.transcript.History() }

// Start acquires the devices and opens the remote stream, returning once the
// session is Active or has failed back to Idle. Calling Start while not Idle
// is a no-op that returns nil.
//
// ctx bounds acquisition only; the Active session runs until Stop or a
// remote failure. A failure is returned and also reported to the error
// callback as an [*Error] of kind [ErrAcquisition]. A Stop during
// acquisition makes Start return [context.Canceled].
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	connectCtx, cancel := context.WithCancel(ctx)
	connectDone := make(chan struct{})
	connecting := s.setStateLocked(StateConnecting)
	s.id = uuid.NewString()
	s.cancelConnect = cancel
	s.connectDone = connectDone
	s.stopRequested = false
	s.done = make(chan struct{})
	id, liveCfg := s.id, s.live
	s.mu.Unlock()
	defer close(connectDone)

	s.notifyState(StateConnecting, connecting)
	spanCtx, span := observe.StartSpan(observe.WithSession(connectCtx, id), "session.start")
	log := observe.Logger(spanCtx)
	log.Info("session: connecting")

	started := time.Now()
	r, err := s.acquire(spanCtx, liveCfg)
	span.End()
	cancel()

	s.mu.Lock()
	if s.stopRequested {
		idle := s.setStateLocked(StateIdle)
		s.cancelConnect = nil
		done := s.done
		s.mu.Unlock()
		if r != nil {
			r.cancel()
			r.releaseDevices()
		}
		s.cfg.Metrics.RecordSessionStart(ctx, "cancelled", time.Since(started))
		log.Info("session: start cancelled")
		close(done)
		s.notifyState(StateIdle, idle)
		return context.Canceled
	}
	if err != nil {
		idle := s.setStateLocked(StateIdle)
		s.cancelConnect = nil
		done := s.done
		s.mu.Unlock()

		s.cfg.Metrics.RecordSessionStart(ctx, "failed", time.Since(started))
		log.Error("session: start failed", "err", err)
		close(done)
		s.notifyState(StateIdle, idle)
		serr := &Error{Kind: ErrAcquisition, Err: err}
		s.notifyError(serr)
		return serr
	}

	r.done = s.done
	s.run = r
	active := s.setStateLocked(StateActive)
	s.cancelConnect = nil
	s.mu.Unlock()

	s.cfg.Metrics.RecordSessionStart(ctx, "ok", time.Since(started))
	s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	log.Info("session: active", "connect", time.Since(started))

	go s.loop(r, log)
	r.capture.Start(r.ctx)
	s.notifyState(StateActive, active)
	return nil
}

// acquire opens microphone, speaker and remote stream in that order. On
// failure it releases whatever it opened.
func (s *Session) acquire(ctx context.Context, liveCfg live.SessionConfig) (*run, error) {
	in, err := s.cfg.Input.Open(ctx, s.cfg.CaptureFormat, s.cfg.FrameSize)
	if err != nil {
		return nil, fmt.Errorf("session: open microphone: %w", err)
	}
	out, err := s.cfg.Output.Open(ctx, s.cfg.PlaybackFormat)
	if err != nil {
		_ = in.Close()
		return nil, fmt.Errorf("session: open speaker: %w", err)
	}
	handle, err := s.cfg.Provider.Connect(ctx, liveCfg)
	if err != nil {
		_ = out.Close()
		_ = in.Close()
		return nil, fmt.Errorf("session: connect: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		ctx:       runCtx,
		cancel:    cancel,
		input:     in,
		output:    out,
		handle:    handle,
		playback:  playback.New(out),
		conv:      &audio.FormatConverter{Target: s.cfg.PlaybackFormat},
		actorDone: make(chan struct{}),
	}
	opts := []capture.Option{capture.WithMetrics(s.cfg.Metrics)}
	if s.onLevel != nil {
		opts = append(opts, capture.WithLevelFunc(s.onLevel))
	}
	r.capture = capture.New(in, handle, opts...)
	return r, nil
}

// Stop returns the session to Idle and releases every resource. It returns
// once teardown is complete. Stopping an Idle session is a no-op.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		s.stopRequested = true
		cancel, connectDone := s.cancelConnect, s.connectDone
		s.mu.Unlock()
		cancel()
		<-connectDone
		return nil
	}
	r := s.run
	s.mu.Unlock()

	s.end(r, nil, false)
	return nil
}

// end moves an Active run to Idle. Only the first caller for a run tears it
// down; later callers wait for that teardown to finish.
func (s *Session) end(r *run, cause error, fromActor bool) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		if !fromActor {
			<-r.done
		}
		return
	}
	s.run = nil
	idle := s.setStateLocked(StateIdle)
	id := s.id
	s.mu.Unlock()

	log := observe.Logger(observe.WithSession(context.Background(), id))
	r.teardown(s)
	if !fromActor {
		<-r.actorDone
	}
	s.cfg.Metrics.ActiveSessions.Add(context.Background(), -1)

	close(r.done)
	s.notifyState(StateIdle, idle)

	if cause != nil {
		log.Error("session: transport failed", "err", cause)
		s.notifyError(&Error{Kind: ErrTransport, Err: cause})
	} else {
		log.Info("session: idle")
	}
}

// teardown releases the run's resources. It runs once per run.
func (r *run) teardown(s *Session) {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.capture.Stop()
	flushed := r.playback.Flush()
	_ = r.handle.Close()
	r.tools.Wait()
	r.releaseDevices()

	ctx := context.Background()
	stats := r.playback.Stats()
	s.cfg.Metrics.RecordPlayback(ctx, "flushed", flushed)
	s.cfg.Metrics.RecordPlayback(ctx, "finished", stats.Finished)
	s.transcript.DiscardPending()
}

func (r *run) releaseDevices() {
	if r.handle != nil {
		_ = r.handle.Close()
	}
	_ = r.output.Close()
	_ = r.input.Close()
}

// loop is the run's actor: the only reader of the inbound event stream.
func (s *Session) loop(r *run, log *slog.Logger) {
	defer close(r.actorDone)

	events := r.handle.Events()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				s.remoteClosed(r, log)
				return
			}
			s.handle(r, ev, log)
		}
	}
}

func (s *Session) remoteClosed(r *run, log *slog.Logger) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}

	err := r.handle.Err()
	if err == nil {
		log.Info("session: remote closed the stream")
	}
	s.end(r, err, true)
}

// handle routes one inbound event. Notifications are delivered after r.mu is
// released.
func (s *Session) handle(r *run, ev live.Event, log *slog.Logger) {
	var entries []transcript.Entry

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	switch ev.Kind {
	case live.EventAudio:
		s.playAudio(r, ev.Audio, log)
	case live.EventInputTranscript:
		s.transcript.AppendClient(ev.Text)
	case live.EventOutputTranscript:
		s.transcript.AppendAssistant(ev.Text)
	case live.EventTurnComplete:
		entries = s.transcript.Complete()
		s.cfg.Metrics.Turns.Add(r.ctx, 1)
	case live.EventInterrupted:
		n := r.playback.Flush()
		s.cfg.Metrics.Interruptions.Add(r.ctx, 1)
		s.cfg.Metrics.RecordPlayback(r.ctx, "flushed", n)
		log.Debug("session: interrupted", "flushed", n)
	case live.EventToolCalls:
		calls := ev.ToolCalls
		r.tools.Go(func() { s.resolveTools(r, calls, log) })
	case live.EventToolCancellation:
		log.Debug("session: tool calls cancelled by remote", "ids", ev.CallIDs)
	default:
		log.Debug("session: ignoring event", "kind", ev.Kind)
	}
	r.mu.Unlock()

	for _, e := range entries {
		s.cfg.Metrics.RecordTranscriptEntry(r.ctx, string(e.Role))
		if s.onTranscript != nil {
			s.onTranscript(e)
		}
	}
}

// playAudio decodes a chunk and schedules it. Malformed chunks are dropped.
// Called with r.mu held.
func (s *Session) playAudio(r *run, c audio.Chunk, log *slog.Logger) {
	if c.Format() != s.cfg.PlaybackFormat {
		if c.Channels <= 0 || len(c.Data)%(2*c.Channels) != 0 {
			s.malformed(r, c, audio.ErrFormat, log)
			return
		}
		c = r.conv.Convert(c)
	}
	buf, err := audio.DecodePCM16(c.Data, c.SampleRate, c.Channels)
	if err != nil {
		s.malformed(r, c, err, log)
		return
	}
	r.playback.Enqueue(buf)
	s.cfg.Metrics.RecordPlayback(r.ctx, "scheduled", 1)
}

func (s *Session) malformed(r *run, c audio.Chunk, err error, log *slog.Logger) {
	s.cfg.Metrics.MalformedChunks.Add(r.ctx, 1)
	log.Warn("session: dropping malformed audio chunk", "bytes", len(c.Data), "format", c.Format(), "err", err)
}

// resolveTools answers one tool-call batch. Each call gets exactly one
// result; a failure to send is logged and left to the event stream to
// surface.
func (s *Session) resolveTools(r *run, calls []live.ToolCall, log *slog.Logger) {
	var results []live.ToolResult
	if s.cfg.Tools != nil {
		results = s.cfg.Tools.Dispatch(r.ctx, calls)
	} else {
		results = make([]live.ToolResult, len(calls))
		for i, c := range calls {
			results[i] = live.ToolResult{ID: c.ID, Name: c.Name, Output: map[string]any{"error": "unsupported tool: " + c.Name}}
		}
	}
	if len(results) == 0 || r.ctx.Err() != nil {
		return
	}
	if err := r.handle.SendToolResults(results); err != nil {
		log.Warn("session: send tool results", "err", err, "count", len(results))
	}
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID               string             `json:"id"`
	State            string             `json:"state"`
	PendingClient    string             `json:"pendingClient"`
	PendingAssistant string             `json:"pendingAssistant"`
	History          []transcript.Entry `json:"history"`
	Playback         playback.Stats     `json:"playback"`
	Capture          capture.Stats      `json:"capture"`
}

// Snapshot returns the current state, the text of the turn in progress, and
// the finalised history.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{ID: s.id, State: s.state.String()}
	r := s.run
	s.mu.Unlock()

	snap.PendingClient, snap.PendingAssistant = s.transcript.Pending()
	snap.History = s.transcript.History()
	if r != nil {
		snap.Playback = r.playback.Stats()
		snap.Capture = r.capture.Stats()
	}
	return snap
}

func (s *Session) setStateLocked(st State) uint64 {
	s.state = st
	s.transitions++
	return s.transitions
}

// notifyState reports transition seq. A Stop racing the end of Start can
// reach here before Start reports Active; the stale Active is then dropped.
func (s *Session) notifyState(st State, seq uint64) {
	if s.onState == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if seq <= s.notified {
		return
	}
	s.notified = seq
	s.onState(st)
}

func (s *Session) notifyError(err *Error) {
	if s.onError != nil {
		s.onError(err)
	}
}
