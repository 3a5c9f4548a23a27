package wav

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/MrWong99/mindbridge/pkg/audio"
	"github.com/MrWong99/mindbridge/pkg/audio/mixer"
)

// Compile-time interface assertion.
var _ mixer.Sink = (*Writer)(nil)

// Writer streams PCM chunks into a WAVE file. The header is written up front
// with a zero data size and patched on Close.
//
// Writer is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      io.WriteSeeker
	closer io.Closer
	format audio.Format
	conv   audio.FormatConverter
	size   uint32
	closed bool
}

// NewWriter writes a header for format f to w and returns a Writer. Chunks in
// a different format are converted to f.
func NewWriter(w io.WriteSeeker, f audio.Format) (*Writer, error) {
	if err := binary.Write(w, binary.LittleEndian, newHeader(f, 0)); err != nil {
		return nil, fmt.Errorf("wav: write header: %w", err)
	}
	wr := &Writer{w: w, format: f}
	wr.conv.Target = f
	if c, ok := w.(io.Closer); ok {
		wr.closer = c
	}
	return wr, nil
}

// Create creates (or truncates) the file at path and returns a Writer for it.
func Create(path string, f audio.Format) (*Writer, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wav: create %q: %w", path, err)
	}
	w, err := NewWriter(file, f)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return w, nil
}

// WriteChunk appends c to the data chunk.
func (w *Writer) WriteChunk(c audio.Chunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("wav: writer closed")
	}
	c = w.conv.Convert(c)
	n, err := w.w.Write(c.Data)
	w.size += uint32(n)
	if err != nil {
		return fmt.Errorf("wav: write data: %w", err)
	}
	return nil
}

// Close patches the header sizes and closes the underlying file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var err error
	if _, serr := w.w.Seek(0, io.SeekStart); serr != nil {
		err = fmt.Errorf("wav: seek header: %w", serr)
	} else if werr := binary.Write(w.w, binary.LittleEndian, newHeader(w.format, w.size)); werr != nil {
		err = fmt.Errorf("wav: rewrite header: %w", werr)
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("wav: close: %w", cerr)
		}
	}
	return err
}
