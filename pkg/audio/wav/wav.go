// Package wav reads and writes 16-bit PCM RIFF/WAVE files and adapts them to
// the audio device interfaces: [InputDevice] replays a recording as a
// microphone and [Writer] records an output mix.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/mindbridge/pkg/audio"
)

// ErrUnsupported is returned for RIFF files that are not 16-bit PCM.
var ErrUnsupported = errors.New("wav: unsupported format")

// header is the canonical 44-byte header of a PCM WAVE file.
type header struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

const headerSize = 44

func newHeader(f audio.Format, dataSize uint32) header {
	channels := uint16(f.Channels)
	return header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(f.SampleRate),
		ByteRate:      uint32(f.SampleRate) * uint32(channels) * 2,
		BlockAlign:    channels * 2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// Encode wraps interleaved s16le PCM in a WAVE container.
func Encode(c audio.Chunk) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(c.Data)))
	_ = binary.Write(buf, binary.LittleEndian, newHeader(c.Format(), uint32(len(c.Data))))
	buf.Write(c.Data)
	return buf.Bytes()
}

// Decode reads a complete WAVE stream and returns its PCM payload. Chunks
// other than "fmt " and "data" (LIST, fact, ...) are skipped.
func Decode(r io.Reader) (audio.Chunk, error) {
	var riff struct {
		ID     [4]byte
		Size   uint32
		Format [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return audio.Chunk{}, fmt.Errorf("wav: read riff header: %w", err)
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Format[:]) != "WAVE" {
		return audio.Chunk{}, fmt.Errorf("wav: missing RIFF/WAVE header")
	}

	var (
		format  audio.Format
		haveFmt bool
	)
	for {
		var sub struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &sub); err != nil {
			return audio.Chunk{}, fmt.Errorf("wav: missing data chunk: %w", err)
		}
		switch string(sub.ID[:]) {
		case "fmt ":
			var fmtChunk struct {
				AudioFormat   uint16
				NumChannels   uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if err := binary.Read(r, binary.LittleEndian, &fmtChunk); err != nil {
				return audio.Chunk{}, fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			if fmtChunk.AudioFormat != 1 || fmtChunk.BitsPerSample != 16 {
				return audio.Chunk{}, fmt.Errorf("%w: format %d, %d bits", ErrUnsupported, fmtChunk.AudioFormat, fmtChunk.BitsPerSample)
			}
			if fmtChunk.NumChannels == 0 || fmtChunk.SampleRate == 0 {
				return audio.Chunk{}, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupported, fmtChunk.NumChannels, fmtChunk.SampleRate)
			}
			format = audio.Format{SampleRate: int(fmtChunk.SampleRate), Channels: int(fmtChunk.NumChannels)}
			haveFmt = true
			if extra := int64(sub.Size) - 16; extra > 0 {
				if _, err := io.CopyN(io.Discard, r, extra+int64(sub.Size%2)); err != nil {
					return audio.Chunk{}, fmt.Errorf("wav: skip fmt extension: %w", err)
				}
			}
		case "data":
			if !haveFmt {
				return audio.Chunk{}, fmt.Errorf("wav: data chunk before fmt chunk")
			}
			data := make([]byte, sub.Size)
			n, err := io.ReadFull(r, data)
			if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
				return audio.Chunk{}, fmt.Errorf("wav: read data: %w", err)
			}
			// Tolerate truncated recordings; keep whole sample frames only.
			frame := 2 * format.Channels
			data = data[:n-n%frame]
			return audio.Chunk{Data: data, SampleRate: format.SampleRate, Channels: format.Channels}, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(sub.Size)+int64(sub.Size%2)); err != nil {
				return audio.Chunk{}, fmt.Errorf("wav: skip %q chunk: %w", sub.ID[:], err)
			}
		}
	}
}
