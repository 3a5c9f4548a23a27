package wav

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/mindbridge/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.InputDevice = (*InputDevice)(nil)
	_ audio.Input       = (*input)(nil)
)

// InputDevice replays a WAVE recording as a microphone. The recording is
// converted to the requested format and cut into fixed-size frames; a trailing
// partial frame is padded with silence.
type InputDevice struct {
	// Path is the recording to replay.
	Path string

	// Loop restarts the recording when it ends instead of closing the
	// frame channel.
	Loop bool

	// Realtime paces frames at the capture rate. When false, frames are
	// delivered as fast as the consumer reads them.
	Realtime bool
}

// Open implements [audio.InputDevice]. A missing or unreadable file is
// reported as [audio.ErrDeviceDenied].
func (d *InputDevice) Open(ctx context.Context, f audio.Format, frameSize int) (audio.Input, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("wav: invalid frame size %d", frameSize)
	}
	file, err := os.Open(d.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", audio.ErrDeviceDenied, err)
		}
		return nil, fmt.Errorf("wav: open %q: %w", d.Path, err)
	}
	defer file.Close()

	chunk, err := Decode(file)
	if err != nil {
		return nil, err
	}
	return NewInput(chunk, f, frameSize, d.Loop, d.Realtime), nil
}

type input struct {
	format audio.Format
	frames chan []float32
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewInput returns an [audio.Input] that replays rec. The recording is mixed
// down to mono when f asks for one channel and resampled to f.SampleRate.
func NewInput(rec audio.Chunk, f audio.Format, frameSize int, loop, realtime bool) audio.Input {
	if f.Channels <= 0 {
		f.Channels = 1
	}
	converted := audio.Convert(rec, f)
	buf, err := audio.DecodePCM16(converted.Data, f.SampleRate, f.Channels)
	if err != nil {
		buf = &audio.Buffer{SampleRate: f.SampleRate, Samples: make([][]float32, f.Channels)}
	}

	in := &input{
		format: f,
		frames: make(chan []float32, 4),
		done:   make(chan struct{}),
	}
	in.wg.Add(1)
	go in.run(buf, frameSize, loop, realtime)
	return in
}

func (in *input) run(buf *audio.Buffer, frameSize int, loop, realtime bool) {
	defer in.wg.Done()
	defer close(in.frames)

	var tick <-chan time.Time
	if realtime {
		t := time.NewTicker(audio.SamplesToDuration(frameSize, in.format.SampleRate))
		defer t.Stop()
		tick = t.C
	}

	channels := in.format.Channels
	total := buf.Len()
	for {
		for off := 0; off < total; off += frameSize {
			frame := make([]float32, frameSize*channels)
			for i := 0; i < frameSize && off+i < total; i++ {
				for c := range channels {
					frame[i*channels+c] = buf.Samples[c][off+i]
				}
			}
			if tick != nil {
				select {
				case <-in.done:
					return
				case <-tick:
				}
			}
			select {
			case <-in.done:
				return
			case in.frames <- frame:
			}
		}
		if !loop || total == 0 {
			return
		}
	}
}

func (in *input) Frames() <-chan []float32 { return in.frames }

func (in *input) Format() audio.Format { return in.format }

func (in *input) Close() error {
	in.once.Do(func() { close(in.done) })
	in.wg.Wait()
	return nil
}
