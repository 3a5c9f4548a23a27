package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrFormat is returned by [DecodePCM16] when the input cannot be PCM of the
// requested layout.
var ErrFormat = errors.New("audio: malformed pcm")

// pcmScale maps the float range [-1, 1] onto the int16 range.
const pcmScale = 32768

// EncodePCM16 converts floating-point samples in [-1, 1] to 16-bit signed
// little-endian PCM. Each sample s becomes round(s*32768), saturated to
// [-32768, 32767]. The output has exactly 2*len(frame) bytes.
func EncodePCM16(frame []float32) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(quantize(s)))
	}
	return out
}

func quantize(s float32) int16 {
	v := math.Round(float64(s) * pcmScale)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	case math.IsNaN(v):
		return 0
	}
	return int16(v)
}

// DecodePCM16 de-interleaves 16-bit little-endian PCM into a [Buffer] with
// one float32 slice per channel, normalising each sample by 1/32768.
//
// The length of data must be a multiple of 2*channels; otherwise an error
// wrapping [ErrFormat] is returned.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channel count %d", ErrFormat, channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrFormat, sampleRate)
	}
	frameBytes := 2 * channels
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrFormat, len(data), frameBytes)
	}

	n := len(data) / frameBytes
	buf := &Buffer{SampleRate: sampleRate, Samples: make([][]float32, channels)}
	for c := range buf.Samples {
		buf.Samples[c] = make([]float32, n)
	}
	for i := range n {
		for c := range channels {
			off := (i*channels + c) * 2
			v := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Samples[c][i] = float32(v) / pcmScale
		}
	}
	return buf, nil
}

// Loudness returns the mean absolute sample magnitude of frame, in [0, 1].
// An empty frame has loudness 0.
func Loudness(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(frame))
}
