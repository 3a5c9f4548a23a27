package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// FormatConverter adapts PCM chunks to Target. Chunks that are not whole
// sample frames are dropped. Each problem is logged once per converter, so
// use one converter per stream.
type FormatConverter struct {
	Target Format

	warnMismatch sync.Once
	warnCorrupt  sync.Once
}

// Convert returns c in the target format. A chunk already in that format is
// returned as is. A malformed chunk yields an empty chunk.
func (fc *FormatConverter) Convert(c Chunk) Chunk {
	empty := Chunk{SampleRate: fc.Target.SampleRate, Channels: fc.Target.Channels}
	if c.Channels <= 0 || c.SampleRate <= 0 || len(c.Data)%(2*c.Channels) != 0 {
		fc.warnCorrupt.Do(func() {
			slog.Warn("audio: dropping chunk that is not whole pcm frames",
				"bytes", len(c.Data), "format", c.Format())
		})
		return empty
	}
	if c.Format() == fc.Target {
		return c
	}
	fc.warnMismatch.Do(func() {
		slog.Info("audio: converting stream", "from", c.Format(), "to", fc.Target)
	})

	pcm, ch := c.Data, c.Channels
	// Down-mix before resampling and up-mix after, so the resampler always
	// sees the fewest channels.
	if fc.Target.Channels < ch {
		pcm, ch = Remix(pcm, ch, fc.Target.Channels), fc.Target.Channels
	}
	pcm = Resample(pcm, ch, c.SampleRate, fc.Target.SampleRate)
	if fc.Target.Channels > ch {
		pcm = Remix(pcm, ch, fc.Target.Channels)
	}
	return Chunk{Data: pcm, SampleRate: fc.Target.SampleRate, Channels: fc.Target.Channels}
}

// Convert is a one-shot [FormatConverter.Convert].
func Convert(c Chunk, target Format) Chunk {
	fc := FormatConverter{Target: target}
	return fc.Convert(c)
}

func sample(pcm []byte, i int) int32 {
	return int32(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
}

func putSample(pcm []byte, i int, v int32) {
	v = min(max(v, math.MinInt16), math.MaxInt16)
	binary.LittleEndian.PutUint16(pcm[2*i:], uint16(int16(v)))
}

// Remix changes the channel count of interleaved s16le pcm. Reducing to mono
// averages every channel. Otherwise channel c of the output takes input
// channel c, and extra output channels repeat the last input channel.
func Remix(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	frames := len(pcm) / (2 * from)
	out := make([]byte, frames*to*2)
	for f := range frames {
		if to == 1 {
			var sum int32
			for c := range from {
				sum += sample(pcm, f*from+c)
			}
			putSample(out, f, sum/int32(from))
			continue
		}
		for c := range to {
			putSample(out, f*to+c, sample(pcm, f*from+min(c, from-1)))
		}
	}
	return out
}

// Resample converts interleaved s16le pcm with the given channel count from
// srcRate to dstRate by linear interpolation. The output holds
// floor(frames*dstRate/srcRate) frames.
func Resample(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*2)
	step := float64(srcRate) / float64(dstRate)
	for f := range dstFrames {
		pos := float64(f) * step
		i := int(pos)
		frac := pos - float64(i)
		next := min(i+1, srcFrames-1)
		for c := range channels {
			a := float64(sample(pcm, i*channels+c))
			b := float64(sample(pcm, next*channels+c))
			putSample(out, f*channels+c, int32(math.Round(a+(b-a)*frac)))
		}
	}
	return out
}

func formatString(rate, channels int) string {
	switch channels {
	case 1:
		return fmt.Sprintf("%dHz mono", rate)
	case 2:
		return fmt.Sprintf("%dHz stereo", rate)
	}
	return fmt.Sprintf("%dHz %dch", rate, channels)
}
