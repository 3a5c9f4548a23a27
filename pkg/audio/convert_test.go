package audio_test

import (
	"encoding/binary"
	"slices"
	"testing"

	"github.com/MrWong99/mindbridge/pkg/audio"
)

func s16(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func samples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestRemix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		from, to int
		want     []int16
	}{
		{"mono to stereo", []int16{100, 200}, 1, 2, []int16{100, 100, 200, 200}},
		{"stereo to mono averages", []int16{100, 200, -100, -200}, 2, 1, []int16{150, -150}},
		{"stereo to mono at full scale", []int16{32767, 32767, -32768, -32768}, 2, 1, []int16{32767, -32768}},
		{"stereo to three repeats last", []int16{1, 2}, 2, 3, []int16{1, 2, 2}},
		{"three to stereo keeps leading", []int16{1, 2, 3}, 3, 2, []int16{1, 2}},
		{"same count", []int16{7, 8}, 2, 2, []int16{7, 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := samples(audio.Remix(s16(tt.in...), tt.from, tt.to)); !slices.Equal(got, tt.want) {
				t.Errorf("Remix = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		channels int
		src, dst int
		want     []int16
	}{
		{"upsample interpolates", []int16{0, 100}, 1, 8000, 16000, []int16{0, 50, 100, 100}},
		{"downsample picks", []int16{0, 100, 200, 300}, 1, 16000, 8000, []int16{0, 200}},
		{"stereo channels independent", []int16{0, 1000, 100, 2000}, 2, 8000, 16000,
			[]int16{0, 1000, 50, 1500, 100, 2000, 100, 2000}},
		{"same rate", []int16{5, 6}, 1, 16000, 16000, []int16{5, 6}},
		{"zero source rate", []int16{5, 6}, 1, 0, 16000, []int16{5, 6}},
		{"too short", []int16{5}, 1, 48000, 16000, []int16{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := samples(audio.Resample(s16(tt.in...), tt.channels, tt.src, tt.dst))
			if !slices.Equal(got, tt.want) {
				t.Errorf("Resample = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestConvert_SameFormatUnchanged(t *testing.T) {
	t.Parallel()

	in := audio.Chunk{Data: s16(1, 2, 3), SampleRate: 16000, Channels: 1}
	out := audio.Convert(in, audio.Format{SampleRate: 16000, Channels: 1})
	if &out.Data[0] != &in.Data[0] {
		t.Errorf("Convert copied a chunk already in the target format")
	}
}

func TestConvert_AssistantSpeechToDiscord(t *testing.T) {
	t.Parallel()

	in := audio.Chunk{Data: s16(0, 1000), SampleRate: 24000, Channels: 1}
	out := audio.Convert(in, audio.Format{SampleRate: 48000, Channels: 2})

	if out.SampleRate != 48000 || out.Channels != 2 {
		t.Fatalf("format = %v; want 48000Hz stereo", out.Format())
	}
	want := []int16{0, 0, 500, 500, 1000, 1000, 1000, 1000}
	if got := samples(out.Data); !slices.Equal(got, want) {
		t.Errorf("samples = %v; want %v", got, want)
	}
}

func TestConvert_DiscordMicToCapture(t *testing.T) {
	t.Parallel()

	in := audio.Chunk{Data: s16(300, 100, 600, 200, 900, 300), SampleRate: 48000, Channels: 2}
	out := audio.Convert(in, audio.Format{SampleRate: 16000, Channels: 1})
	if got := samples(out.Data); !slices.Equal(got, []int16{200}) {
		t.Errorf("samples = %v; want [200]", got)
	}
}

func TestFormatConverter_DropsPartialFrames(t *testing.T) {
	t.Parallel()

	target := audio.Format{SampleRate: 24000, Channels: 1}
	tests := []struct {
		name string
		in   audio.Chunk
	}{
		{"odd byte count", audio.Chunk{Data: []byte{1, 2, 3}, SampleRate: 24000, Channels: 1}},
		{"half a stereo frame", audio.Chunk{Data: s16(1), SampleRate: 48000, Channels: 2}},
		{"no channels", audio.Chunk{Data: s16(1), SampleRate: 24000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fc := &audio.FormatConverter{Target: target}
			out := fc.Convert(tt.in)
			if len(out.Data) != 0 || out.Format() != target {
				t.Errorf("Convert = %d bytes at %v; want empty chunk at %v", len(out.Data), out.Format(), target)
			}
		})
	}
}

func TestChunk_MIMEType(t *testing.T) {
	t.Parallel()

	c := audio.Chunk{SampleRate: 16000, Channels: 1}
	if got, want := c.MIMEType(), "audio/pcm;rate=16000"; got != want {
		t.Errorf("MIMEType() = %q; want %q", got, want)
	}
	for _, tt := range []struct {
		f    audio.Format
		want string
	}{
		{audio.Format{SampleRate: 16000, Channels: 1}, "16000Hz mono"},
		{audio.Format{SampleRate: 48000, Channels: 2}, "48000Hz stereo"},
		{audio.Format{SampleRate: 44100, Channels: 6}, "44100Hz 6ch"},
	} {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q; want %q", got, tt.want)
		}
	}
}
