package audio

import (
	"fmt"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Chunk is a block of interleaved 16-bit little-endian PCM together with the
// format it was produced at. Chunks are the unit exchanged with the remote
// speech service and are discarded after transmission.
type Chunk struct {
	// Data holds interleaved s16le samples.
	Data []byte

	// SampleRate in Hz (16000 for capture, 24000 for assistant speech).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Format returns the chunk's format tag.
func (c Chunk) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

// MIMEType returns the wire format tag, e.g. "audio/pcm;rate=16000".
func (c Chunk) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", c.SampleRate)
}

// Buffer is decoded, de-interleaved audio ready for playback. Samples[c]
// holds the samples of channel c; all channels have the same length.
type Buffer struct {
	SampleRate int
	Samples    [][]float32
}

// NumChannels returns the number of channels in the buffer.
func (b *Buffer) NumChannels() int { return len(b.Samples) }

// Len returns the number of sample frames (samples per channel).
func (b *Buffer) Len() int {
	if len(b.Samples) == 0 {
		return 0
	}
	return len(b.Samples[0])
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return SamplesToDuration(b.Len(), b.SampleRate)
}

// SamplesToDuration converts a sample count at rate Hz into a duration.
func SamplesToDuration(n, rate int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// DurationToSamples converts d into a sample count at rate Hz, rounded to the
// nearest sample.
func DurationToSamples(d time.Duration, rate int) int64 {
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}
