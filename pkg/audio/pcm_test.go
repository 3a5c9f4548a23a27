package audio_test

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MrWong99/mindbridge/pkg/audio"
)

func TestEncodePCM16_Quantization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"half", 0.5, 16384},
		{"negative half", -0.5, -16384},
		{"full scale negative", -1, -32768},
		{"full scale positive saturates", 1, 32767},
		{"over range saturates", 1.5, 32767},
		{"under range saturates", -2, -32768},
		{"rounds to nearest", 1.0 / 65536 * 3, 2}, // 1.5 rounds away from zero
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := samples(audio.EncodePCM16([]float32{tt.in}))
			if len(got) != 1 {
				t.Fatalf("len = %d; want 1", len(got))
			}
			if got[0] != tt.want {
				t.Errorf("EncodePCM16(%v) = %d; want %d", tt.in, got[0], tt.want)
			}
		})
	}
}

func TestEncodePCM16_LittleEndian(t *testing.T) {
	t.Parallel()
	got := audio.EncodePCM16([]float32{256.0 / 32768})
	if len(got) != 2 || got[0] != 0x00 || got[1] != 0x01 {
		t.Errorf("EncodePCM16 = %x; want 0001", got)
	}
}

func TestPCM16_RoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	for _, n := range []int{0, 1, 7, 4096} {
		in := make([]float32, n)
		for i := range in {
			in[i] = rng.Float32()*2 - 1
		}
		if n > 2 {
			in[0], in[1] = 1, -1
		}

		buf, err := audio.DecodePCM16(audio.EncodePCM16(in), 16000, 1)
		if err != nil {
			t.Fatalf("n=%d: DecodePCM16: %v", n, err)
		}
		if buf.Len() != n {
			t.Fatalf("n=%d: decoded length = %d; want %d", n, buf.Len(), n)
		}
		for i, want := range in {
			got := buf.Samples[0][i]
			if diff := math.Abs(float64(got - want)); diff > 1.0/32768 {
				t.Fatalf("n=%d sample %d: got %v want %v (diff %v)", n, i, got, want, diff)
			}
		}
	}
}

func TestDecodePCM16_Deinterleaves(t *testing.T) {
	t.Parallel()

	data := s16(16384, -16384, 8192, -8192)
	buf, err := audio.DecodePCM16(data, 24000, 2)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if buf.NumChannels() != 2 || buf.Len() != 2 {
		t.Fatalf("shape = %dch x %d; want 2ch x 2", buf.NumChannels(), buf.Len())
	}
	wantL := []float32{0.5, 0.25}
	wantR := []float32{-0.5, -0.25}
	for i := range 2 {
		if buf.Samples[0][i] != wantL[i] || buf.Samples[1][i] != wantR[i] {
			t.Errorf("frame %d = (%v, %v); want (%v, %v)", i, buf.Samples[0][i], buf.Samples[1][i], wantL[i], wantR[i])
		}
	}
}

func TestDecodePCM16_FormatErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		rate     int
		channels int
	}{
		{"odd length mono", []byte{1, 2, 3}, 24000, 1},
		{"partial stereo frame", []byte{1, 2, 3, 4, 5, 6}, 24000, 2},
		{"zero channels", []byte{1, 2}, 24000, 0},
		{"zero rate", []byte{1, 2}, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.DecodePCM16(tt.data, tt.rate, tt.channels)
			if !errors.Is(err, audio.ErrFormat) {
				t.Errorf("err = %v; want ErrFormat", err)
			}
		})
	}
}

func TestBuffer_Duration(t *testing.T) {
	t.Parallel()

	buf, err := audio.DecodePCM16(make([]byte, 2*2400), 24000, 1)
	if err != nil {
		t.Fatalf("DecodePCM16: %v", err)
	}
	if got, want := buf.Duration(), 100*time.Millisecond; got != want {
		t.Errorf("Duration() = %v; want %v", got, want)
	}
	if got := audio.DurationToSamples(100*time.Millisecond, 24000); got != 2400 {
		t.Errorf("DurationToSamples = %d; want 2400", got)
	}
}

func TestLoudness(t *testing.T) {
	t.Parallel()

	if got := audio.Loudness(nil); got != 0 {
		t.Errorf("Loudness(nil) = %v; want 0", got)
	}
	if got := audio.Loudness([]float32{0.5, -0.5, 0, 1}); got != 0.5 {
		t.Errorf("Loudness = %v; want 0.5", got)
	}
}
