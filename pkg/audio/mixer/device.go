package mixer

import (
	"context"
	"fmt"

	"github.com/MrWong99/mindbridge/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.OutputDevice = (*Device)(nil)

// Sink receives the rendered PCM stream of an [Output]. WriteChunk is called
// sequentially from the render path and must not block for long.
type Sink interface {
	WriteChunk(c audio.Chunk) error
	Close() error
}

// Discard is a [Sink] that drops all audio.
var Discard Sink = discard{}

type discard struct{}

func (discard) WriteChunk(audio.Chunk) error { return nil }
func (discard) Close() error                 { return nil }

// SinkFunc adapts a function to a [Sink] with a no-op Close.
type SinkFunc func(audio.Chunk) error

func (f SinkFunc) WriteChunk(c audio.Chunk) error { return f(c) }
func (f SinkFunc) Close() error                   { return nil }

// Device is an [audio.OutputDevice] that opens a mixer [Output] on top of a
// sink created per session.
type Device struct {
	// OpenSink creates the sink for an output at format f. When nil, audio
	// is discarded.
	OpenSink func(ctx context.Context, f audio.Format) (Sink, error)

	// Options are applied to every Output the device opens.
	Options []Option
}

// Open implements [audio.OutputDevice].
func (d *Device) Open(ctx context.Context, f audio.Format) (audio.Output, error) {
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("mixer: invalid sample rate %d", f.SampleRate)
	}
	sink := Discard
	if d.OpenSink != nil {
		s, err := d.OpenSink(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("mixer: open sink: %w", err)
		}
		sink = s
	}
	return New(f, sink, d.Options...), nil
}
