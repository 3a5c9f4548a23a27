// Package audio defines the PCM codec, the audio types exchanged between the
// capture pipeline, the remote speech service and playback, and the device
// interfaces that a voice session acquires while it is running.
//
// The two device abstractions mirror what a browser offers a voice client:
//
//   - [InputDevice] opens an [Input], a live microphone that delivers
//     fixed-size float32 frames at a fixed rate.
//   - [OutputDevice] opens an [Output], a speaker with its own monotonic
//     clock onto which decoded [Buffer] values are scheduled.
//
// Implementations live in sub-packages (audio/mixer, audio/wav,
// audio/discord). This package lives under pkg/ because other front-ends are
// expected to implement the device interfaces.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceDenied is returned (wrapped) by device Open methods when access to
// the underlying hardware or channel is refused.
var ErrDeviceDenied = errors.New("audio: device access denied")

// Input is an acquired microphone.
//
// Implementations must be safe for concurrent use.
type Input interface {
	// Frames returns the channel of captured frames. Every frame has the
	// frame size requested at Open, at the rate reported by Format. The
	// channel is closed when the input ends or Close is called. Frames are
	// owned by the receiver.
	Frames() <-chan []float32

	// Format returns the rate and channel count of the delivered frames.
	Format() Format

	// Close releases the device. It is safe to call more than once.
	Close() error
}

// InputDevice acquires microphone access.
type InputDevice interface {
	// Open starts capture at format f in frames of frameSize samples per
	// channel. Acquisition failures (including [ErrDeviceDenied]) are
	// returned as errors.
	Open(ctx context.Context, f Format, frameSize int) (Input, error)
}

// Voice is a handle to one buffer scheduled on an [Output].
type Voice interface {
	// Stop halts the buffer immediately. A stopped voice never reports
	// completion. Stop after natural completion is a no-op.
	Stop()
}

// Output is an opened speaker with a monotonic clock.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Now returns the current position of the output clock. It never
	// decreases.
	Now() time.Duration

	// Schedule queues buf to begin playing at clock position at. If at is in
	// the past, playback begins immediately. onEnded, when non-nil, is
	// invoked exactly once when the buffer finishes playing naturally, on a
	// goroutine owned by the output. It is never invoked for a stopped voice.
	Schedule(buf *Buffer, at time.Duration, onEnded func()) Voice

	// Close stops all scheduled voices and releases the device. It is safe to
	// call more than once.
	Close() error
}

// OutputDevice opens an [Output] at the requested format.
type OutputDevice interface {
	Open(ctx context.Context, f Format) (Output, error)
}
