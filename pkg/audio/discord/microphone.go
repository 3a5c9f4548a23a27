package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mindbridge/pkg/audio"
)

var _ audio.InputDevice = (*Microphone)(nil)

// floorHold is how long the last speaker keeps the floor after their last
// packet. Packets from other speakers are dropped meanwhile.
const floorHold = 500 * time.Millisecond

const inputBuffer = 16

// Microphone turns the speech in a voice channel into mono PCM frames. Only
// one participant is heard at a time: whoever spoke most recently holds the
// floor until they pause.
type Microphone struct {
	ch  *Channel
	now func() time.Time
}

// Open implements [audio.InputDevice]. The delivered frames are mono at
// f.SampleRate regardless of f.Channels.
func (m *Microphone) Open(ctx context.Context, f audio.Format, frameSize int) (audio.Input, error) {
	if f.SampleRate <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("discord: microphone: %w: rate %d, frame size %d", audio.ErrFormat, f.SampleRate, frameSize)
	}
	conn, err := m.ch.acquire(ctx)
	if err != nil {
		return nil, err
	}
	in := &input{
		ch:        m.ch,
		format:    audio.Format{SampleRate: f.SampleRate, Channels: 1},
		frameSize: frameSize,
		frames:    make(chan []float32, inputBuffer),
		done:      make(chan struct{}),
		now:       m.now,
	}
	in.wg.Go(func() { in.recv(conn) })
	return in, nil
}

type input struct {
	ch        *Channel
	format    audio.Format
	frameSize int
	frames    chan []float32
	now       func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func (in *input) Frames() <-chan []float32 { return in.frames }
func (in *input) Format() audio.Format     { return in.format }

func (in *input) Close() error {
	in.closeOnce.Do(func() {
		close(in.done)
		in.wg.Wait()
		in.closeErr = in.ch.release()
	})
	return in.closeErr
}

func (in *input) recv(conn voiceConn) {
	defer close(in.frames)

	var (
		decoders  = make(map[uint32]*opusDecoder)
		floor     uint32
		lastHeard time.Time
		pending   []float32
		dropped   int
	)
	packets := conn.Recv()
	for {
		select {
		case <-in.done:
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			if pkt == nil || len(pkt.Opus) == 0 {
				continue
			}
			now := in.now()
			if pkt.SSRC != floor && now.Sub(lastHeard) < floorHold {
				continue
			}
			floor, lastHeard = pkt.SSRC, now

			dec, ok := decoders[pkt.SSRC]
			if !ok {
				var err error
				if dec, err = newOpusDecoder(); err != nil {
					slog.Error("discord: microphone: create decoder", "ssrc", pkt.SSRC, "err", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}
			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: microphone: dropping packet", "ssrc", pkt.SSRC, "err", err)
				continue
			}

			c := audio.Convert(audio.Chunk{Data: pcm, SampleRate: opusSampleRate, Channels: opusChannels}, in.format)
			buf, err := audio.DecodePCM16(c.Data, c.SampleRate, c.Channels)
			if err != nil {
				continue
			}
			pending = append(pending, buf.Samples[0]...)
			for len(pending) >= in.frameSize {
				frame := make([]float32, in.frameSize)
				copy(frame, pending)
				pending = pending[in.frameSize:]
				select {
				case in.frames <- frame:
				case <-in.done:
					return
				default:
					if dropped++; dropped == 1 || dropped%100 == 0 {
						slog.Warn("discord: microphone: consumer too slow, dropping frames", "dropped", dropped)
					}
				}
			}
		}
	}
}
