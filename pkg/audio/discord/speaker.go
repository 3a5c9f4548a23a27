package discord

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/mindbridge/pkg/audio"
	"github.com/MrWong99/mindbridge/pkg/audio/mixer"
)

var _ audio.OutputDevice = (*Speaker)(nil)

// SpeakerOption configures a [Speaker].
type SpeakerOption func(*Speaker)

// WithMixerOptions passes opts to every mixer the speaker opens.
func WithMixerOptions(opts ...mixer.Option) SpeakerOption {
	return func(s *Speaker) { s.mixerOpts = append(s.mixerOpts, opts...) }
}

// Speaker plays a session's audio into a voice channel.
type Speaker struct {
	ch        *Channel
	mixerOpts []mixer.Option
}

// Open implements [audio.OutputDevice]. The returned output mixes at f and
// is re-encoded to 48 kHz stereo Opus for Discord.
func (s *Speaker) Open(ctx context.Context, f audio.Format) (audio.Output, error) {
	dev := &mixer.Device{
		OpenSink: func(ctx context.Context, f audio.Format) (mixer.Sink, error) {
			conn, err := s.ch.acquire(ctx)
			if err != nil {
				return nil, err
			}
			enc, err := newOpusEncoder()
			if err != nil {
				_ = s.ch.release()
				return nil, err
			}
			return &opusSink{ch: s.ch, conn: conn, enc: enc, done: make(chan struct{})}, nil
		},
		Options: s.mixerOpts,
	}
	return dev.Open(ctx, f)
}

// opusFrameBytes is one 20 ms frame of 48 kHz stereo PCM16.
const opusFrameBytes = opusFrameSize * opusChannels * 2

// opusSink encodes mixed PCM to Opus frames. Silent chunks are not sent; the
// speaking flag follows whether audio is flowing.
type opusSink struct {
	ch   *Channel
	conn voiceConn
	enc  *opusEncoder
	conv audio.FormatConverter

	mu       sync.Mutex
	buf      []byte
	speaking bool
	closed   bool
	done     chan struct{}
	stop     sync.Once
}

func (s *opusSink) WriteChunk(c audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if silent(c.Data) {
		if s.speaking {
			s.buf = s.buf[:0]
			s.setSpeaking(false)
		}
		return nil
	}
	if !s.speaking {
		s.setSpeaking(true)
	}

	s.conv.Target = audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}
	s.buf = append(s.buf, s.conv.Convert(c).Data...)
	for len(s.buf) >= opusFrameBytes {
		pkt, err := s.enc.encode(s.buf[:opusFrameBytes])
		s.buf = s.buf[opusFrameBytes:]
		if err != nil {
			slog.Warn("discord: speaker: encode", "err", err)
			continue
		}
		select {
		case s.conn.Send() <- pkt:
		case <-s.done:
			return nil
		}
	}
	return nil
}

func (s *opusSink) setSpeaking(b bool) {
	s.speaking = b
	if err := s.conn.Speaking(b); err != nil {
		slog.Warn("discord: speaker: speaking update", "speaking", b, "err", err)
	}
}

func (s *opusSink) Close() error {
	// Unblock a WriteChunk waiting on a full send queue before taking mu.
	s.stop.Do(func() { close(s.done) })
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.speaking {
		s.setSpeaking(false)
	}
	s.mu.Unlock()
	return s.ch.release()
}

func silent(pcm []byte) bool {
	for _, b := range pcm {
		if b != 0 {
			return false
		}
	}
	return true
}
