// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controllable sessions.
// Use Session to inject server events and inspect what the session manager
// sent upstream.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.Connect(ctx, cfg)
//	sess := p.LastSession()
//	sess.Emit(live.Event{Kind: live.EventTurnComplete})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mindbridge/pkg/audio"
	"github.com/MrWong99/mindbridge/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a fresh Session for every call.
	Session live.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// Block, if non-nil, makes Connect wait until it is closed or the context
	// is cancelled. Used to exercise cancellation during acquisition.
	Block chan struct{}

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	sessions []*Session
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	s := NewSession()
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// LastSession returns the most recent Session created by Connect, or nil.
func (p *Provider) LastSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.SessionHandle. Events injected with
// Emit are delivered in order; End closes the stream.
type Session struct {
	mu sync.Mutex

	events  chan live.Event
	ended   bool
	endErr  error
	closed  chan struct{}
	sent    []audio.Chunk
	results [][]live.ToolResult

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendToolResultsErr, if non-nil, is returned by every SendToolResults call.
	SendToolResultsErr error

	// ResultsCh, if non-nil, receives a copy of every SendToolResults batch.
	ResultsCh chan []live.ToolResult

	closeCount int
}

// NewSession returns a Session with a buffered event stream.
func NewSession() *Session {
	return &Session{
		events: make(chan live.Event, 64),
		closed: make(chan struct{}),
	}
}

// Emit injects an inbound event. It is a no-op after End or Close.
func (s *Session) Emit(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// End closes the event stream, simulating the provider ending the session.
// A non-nil err is reported by Err.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.endErr = err
	close(s.events)
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Session) SendAudio(c audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCount > 0 {
		return live.ErrClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	cp := c
	cp.Data = append([]byte(nil), c.Data...)
	s.sent = append(s.sent, cp)
	return nil
}

// SendToolResults records the batch and returns SendToolResultsErr.
func (s *Session) SendToolResults(results []live.ToolResult) error {
	s.mu.Lock()
	if s.SendToolResultsErr != nil {
		err := s.SendToolResultsErr
		s.mu.Unlock()
		return err
	}
	cp := append([]live.ToolResult(nil), results...)
	s.results = append(s.results, cp)
	ch := s.ResultsCh
	s.mu.Unlock()
	if ch != nil {
		ch <- cp
	}
	return nil
}

// Events returns the inbound event stream.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err returns the error passed to End.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

// Close ends the event stream and counts the call.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCount++
	first := s.closeCount == 1
	s.mu.Unlock()
	if first {
		close(s.closed)
		s.End(nil)
	}
	return nil
}

// Closed is closed on the first Close call.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// SentAudio returns copies of every chunk accepted by SendAudio.
func (s *Session) SentAudio() []audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Chunk(nil), s.sent...)
}

// SentResults returns every batch passed to SendToolResults.
func (s *Session) SentResults() [][]live.ToolResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]live.ToolResult(nil), s.results...)
}

// Ensure Session implements live.SessionHandle at compile time.
var _ live.SessionHandle = (*Session)(nil)
