// Package mock provides an in-memory microphone for tests and for the "null"
// input device.
//
// A [Microphone] opens inputs that deliver only the frames pushed with
// [Microphone.Push]. It records every Open call and can be told to refuse
// access:
//
//	mic := &mock.Microphone{}
//	in, _ := mic.Open(ctx, audio.Format{SampleRate: 16000, Channels: 1}, 4096)
//	mic.Push(make([]float32, 4096))
//	frame := <-in.Frames()
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/mindbridge/pkg/audio"
)

var _ audio.InputDevice = (*Microphone)(nil)

// OpenCall records the arguments of one [Microphone.Open] call.
type OpenCall struct {
	Format    audio.Format
	FrameSize int
}

// Microphone is an [audio.InputDevice] whose frames come from Push.
// The zero value is ready to use and safe for concurrent use.
type Microphone struct {
	// Deny makes Open fail with [audio.ErrDeviceDenied].
	Deny bool

	mu     sync.Mutex
	calls  []OpenCall
	inputs []*Input
}

// Open implements [audio.InputDevice].
func (m *Microphone) Open(_ context.Context, f audio.Format, frameSize int) (audio.Input, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, OpenCall{Format: f, FrameSize: frameSize})
	if m.Deny {
		return nil, fmt.Errorf("mock: open microphone: %w", audio.ErrDeviceDenied)
	}
	in := &Input{format: f, frames: make(chan []float32, 16), done: make(chan struct{})}
	m.inputs = append(m.inputs, in)
	return in, nil
}

// Push delivers frame to the most recently opened input. It reports false
// when there is no open input or its buffer is full.
func (m *Microphone) Push(frame []float32) bool {
	in := m.Last()
	if in == nil {
		return false
	}
	return in.push(frame)
}

// Calls returns every Open call so far.
func (m *Microphone) Calls() []OpenCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OpenCall(nil), m.calls...)
}

// Last returns the most recently opened input, or nil.
func (m *Microphone) Last() *Input {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inputs) == 0 {
		return nil
	}
	return m.inputs[len(m.inputs)-1]
}

// Input is an opened [Microphone].
type Input struct {
	format audio.Format
	frames chan []float32

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (in *Input) push(frame []float32) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return false
	}
	select {
	case in.frames <- frame:
		return true
	default:
		return false
	}
}

// Frames implements [audio.Input].
func (in *Input) Frames() <-chan []float32 { return in.frames }

// Format implements [audio.Input].
func (in *Input) Format() audio.Format { return in.format }

// Close implements [audio.Input].
func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.closed {
		in.closed = true
		close(in.frames)
		close(in.done)
	}
	return nil
}

// Closed is closed once the input has been released.
func (in *Input) Closed() <-chan struct{} { return in.done }
