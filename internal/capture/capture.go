// Package capture reads microphone frames, measures their loudness, encodes
// them as PCM16 and hands them to the remote speech session.
//
// Delivery is fire-and-forget. When the session cannot take a chunk (it is
// closing, or its outbound queue is full) the chunk is dropped and counted;
// frames are never buffered or retried because stale audio has no value in a
// live conversation.
package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/mindbridge/internal/observe"
	"github.com/MrWong99/mindbridge/pkg/audio"
)

// Sender accepts encoded chunks. [live.SessionHandle] satisfies it.
type Sender interface {
	SendAudio(audio.Chunk) error
}

// Stats counts frames by delivery outcome.
type Stats struct {
	Sent    uint64
	Dropped uint64
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLevelFunc registers fn to receive the loudness of every frame. It runs
// on the capture goroutine and must not block.
func WithLevelFunc(fn func(level float64)) Option {
	return func(p *Pipeline) { p.onLevel = fn }
}

// WithMetrics records frame counts and input level on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline moves frames from an [audio.Input] to a [Sender].
type Pipeline struct {
	in      audio.Input
	out     Sender
	onLevel func(float64)
	metrics *observe.Metrics

	sent    atomic.Uint64
	dropped atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// New returns a Pipeline reading from in and sending to out. Call Start to
// begin capturing.
func New(in audio.Input, out Sender, opts ...Option) *Pipeline {
	p := &Pipeline{in: in, out: out}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the capture loop. It is a no-op if the pipeline was already
// started or stopped.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil || p.stopped {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop ends the capture loop and returns once it has exited; no chunk is sent
// after Stop returns. Stop does not close the input. It is safe to call more
// than once and before Start.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the capture loop exits, either through Stop or because
// the input ended. It is nil before Start.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stats returns the frame counters.
func (p *Pipeline) Stats() Stats {
	return Stats{Sent: p.sent.Load(), Dropped: p.dropped.Load()}
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	f := p.in.Format()
	frames := p.in.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			p.handle(ctx, frame, f)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, frame []float32, f audio.Format) {
	level := audio.Loudness(frame)
	if p.onLevel != nil {
		p.onLevel(level)
	}

	chunk := audio.Chunk{
		Data:       audio.EncodePCM16(frame),
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
	}
	status := "sent"
	if err := p.out.SendAudio(chunk); err != nil {
		status = "dropped"
		p.dropped.Add(1)
		slog.Debug("capture: frame dropped", "error", err)
	} else {
		p.sent.Add(1)
	}
	if p.metrics != nil {
		p.metrics.RecordCaptureFrame(ctx, status, level)
	}
}
