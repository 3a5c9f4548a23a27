// Package mixer provides a software [audio.Output]: a sample clock onto which
// decoded buffers are scheduled at absolute start positions and mixed into a
// stream of PCM chunks delivered to a [Sink].
//
// The clock is the number of sample frames rendered so far, so it advances
// with the device and never with the wall clock. In the default mode a
// background goroutine renders one block per block period; with
// [WithManualClock] the caller drives the clock through [Output.Advance],
// which makes scheduling fully deterministic in tests.
package mixer

import (
	"container/heap"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mindbridge/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*Output)(nil)

// DefaultBlock is the render period used when no [WithBlock] option is given.
const DefaultBlock = 20 * time.Millisecond

// Option configures an [Output] during construction.
type Option func(*Output)

// WithBlock sets the render block length. Smaller blocks lower latency at the
// cost of more sink writes.
func WithBlock(d time.Duration) Option {
	return func(o *Output) {
		if d > 0 {
			o.block = d
		}
	}
}

// WithManualClock disables the background render goroutine. The clock only
// advances through [Output.Advance].
func WithManualClock() Option {
	return func(o *Output) { o.manual = true }
}

// Output mixes scheduled buffers against its own sample clock.
//
// All exported methods are safe for concurrent use.
type Output struct {
	format audio.Format
	sink   Sink
	block  time.Duration
	manual bool

	mu      sync.Mutex
	pos     int64     // rendered sample frames; the output clock
	pending voiceHeap // scheduled, not yet sounding
	active  []*voice  // sounding during the current block
	seq     uint64
	closed  bool
	warned  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// voice is one buffer scheduled on an Output.
type voice struct {
	out     *Output
	buf     *audio.Buffer
	start   int64 // absolute start sample
	played  int   // sample frames already rendered
	onEnded func()
	seq     uint64
	stopped bool
	ended   bool
}

// New creates an Output at format f that writes rendered chunks to sink. A nil
// sink discards audio. Unless [WithManualClock] is given, rendering starts
// immediately on a background goroutine; call [Output.Close] to stop it.
func New(f audio.Format, sink Sink, opts ...Option) *Output {
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if sink == nil {
		sink = Discard
	}
	o := &Output{
		format: f,
		sink:   sink,
		block:  DefaultBlock,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	heap.Init(&o.pending)
	if !o.manual {
		o.wg.Add(1)
		go o.run()
	}
	return o
}

// Format returns the output format.
func (o *Output) Format() audio.Format { return o.format }

// Now returns the current clock position.
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return audio.SamplesToDuration(int(o.pos), o.format.SampleRate)
}

// Schedule queues buf to start at clock position at. A start in the past is
// moved to the current clock position. Buffers whose sample rate differs from
// the output are played at the output rate; callers are expected to open the
// output at the rate they decode at.
func (o *Output) Schedule(buf *audio.Buffer, at time.Duration, onEnded func()) audio.Voice {
	o.mu.Lock()
	defer o.mu.Unlock()

	v := &voice{
		out:     o,
		buf:     buf,
		start:   max(audio.DurationToSamples(at, o.format.SampleRate), o.pos),
		onEnded: onEnded,
	}
	if o.closed {
		v.stopped = true
		return v
	}
	o.seq++
	v.seq = o.seq
	heap.Push(&o.pending, v)
	return v
}

// Stop halts the voice. A stopped voice never reports completion.
func (v *voice) Stop() {
	o := v.out
	o.mu.Lock()
	defer o.mu.Unlock()
	if v.ended || v.stopped {
		return
	}
	v.stopped = true
	o.removeActiveLocked(v)
}

// Pending returns the number of voices that are scheduled or sounding.
func (o *Output) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.active)
	for _, v := range o.pending {
		if !v.stopped {
			n++
		}
	}
	return n
}

// Advance renders d worth of audio and moves the clock forward. It is the
// only way the clock moves under [WithManualClock].
func (o *Output) Advance(d time.Duration) {
	frames := audio.DurationToSamples(d, o.format.SampleRate)
	for frames > 0 {
		n := min(frames, audio.DurationToSamples(o.block, o.format.SampleRate))
		o.render(int(n))
		frames -= n
	}
}

// Close stops the render goroutine, silences every voice and closes the sink.
// Close is idempotent.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	for _, v := range o.pending {
		v.stopped = true
	}
	for _, v := range o.active {
		v.stopped = true
	}
	o.pending = nil
	o.active = nil
	o.mu.Unlock()

	close(o.done)
	o.wg.Wait()
	return o.sink.Close()
}

func (o *Output) run() {
	defer o.wg.Done()

	frames := int(audio.DurationToSamples(o.block, o.format.SampleRate))
	ticker := time.NewTicker(o.block)
	defer ticker.Stop()

	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
			o.render(frames)
		}
	}
}

// render mixes the next frames sample frames, delivers them to the sink and
// fires completion callbacks for voices that finished inside the block.
func (o *Output) render(frames int) {
	if frames <= 0 {
		return
	}
	channels := o.format.Channels

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	blockStart := o.pos
	blockEnd := o.pos + int64(frames)

	for o.pending.Len() > 0 && o.pending[0].start < blockEnd {
		v := heap.Pop(&o.pending).(*voice)
		if !v.stopped {
			o.active = append(o.active, v)
		}
	}

	mix := make([]float32, frames*channels)
	var finished []func()
	kept := o.active[:0]
	for _, v := range o.active {
		from := max(v.start+int64(v.played), blockStart)
		end := min(v.start+int64(v.buf.Len()), blockEnd)
		for t := from; t < end; t++ {
			idx := int(t - v.start)
			row := int(t-blockStart) * channels
			for c := range channels {
				mix[row+c] += v.buf.Samples[min(c, v.buf.NumChannels()-1)][idx]
			}
		}
		if end > from {
			v.played = int(end - v.start)
		}
		if v.start+int64(v.buf.Len()) <= blockEnd {
			v.ended = true
			if v.onEnded != nil {
				finished = append(finished, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(o.active[len(kept):])
	o.active = kept
	o.pos = blockEnd
	o.mu.Unlock()

	chunk := audio.Chunk{
		Data:       audio.EncodePCM16(mix),
		SampleRate: o.format.SampleRate,
		Channels:   channels,
	}
	if err := o.sink.WriteChunk(chunk); err != nil {
		o.warnSink(err)
	}
	for _, fn := range finished {
		fn()
	}
}

func (o *Output) warnSink(err error) {
	o.mu.Lock()
	warned := o.warned
	o.warned = true
	o.mu.Unlock()
	if !warned {
		slog.Warn("mixer: sink write failed", "format", o.format.String(), "error", err)
	}
}

// removeActiveLocked drops v from the sounding set. Pending voices are
// skipped lazily when they reach the top of the heap. Must be called with
// o.mu held.
func (o *Output) removeActiveLocked(v *voice) {
	for i, a := range o.active {
		if a == v {
			o.active = append(o.active[:i], o.active[i+1:]...)
			return
		}
	}
}
