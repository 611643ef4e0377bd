// Package ndjson reads and writes newline-delimited JSON over byte streams.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxLineSize bounds a single line. Tool results echoed by the CLIs
// can be large, so the limit is generous.
const DefaultMaxLineSize = 10 * 1024 * 1024

// ErrLineTooLong is returned when a line exceeds the reader's limit.
var ErrLineTooLong = errors.New("ndjson: line too long")

// Reader yields complete lines from an underlying stream.
type Reader struct {
	r       *bufio.Reader
	maxSize int
}

// NewReader creates a Reader with DefaultMaxLineSize.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultMaxLineSize)
}

// NewReaderSize creates a Reader that rejects lines longer than maxSize bytes.
func NewReaderSize(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxLineSize
	}
	return &Reader{r: bufio.NewReaderSize(r, 64*1024), maxSize: maxSize}
}

// ReadLine returns the next non-blank line without its terminator.
// A final line without a trailing newline is still returned; io.EOF is
// returned only once the stream is exhausted.
func (r *Reader) ReadLine() ([]byte, error) {
	for {
		line, err := r.readRaw()
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			if len(bytes.TrimSpace(line)) > 0 {
				return line, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func (r *Reader) readRaw() ([]byte, error) {
	var buf []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		if len(buf)+len(chunk) > r.maxSize {
			// Drain the rest of the oversized line so the next read starts clean.
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = r.r.ReadSlice('\n')
			}
			return nil, fmt.Errorf("%w (limit %d bytes)", ErrLineTooLong, r.maxSize)
		}
		buf = append(buf, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return buf, err
	}
}

// Writer writes one line per call. Concurrent calls never interleave.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter creates a Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRaw writes data followed by a newline in a single Write call.
func (w *Writer) WriteRaw(data []byte) error {
	line := make([]byte, 0, len(data)+1)
	line = append(line, bytes.TrimRight(data, "\n")...)
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.w.Write(line)
	if err == nil && n < len(line) {
		err = io.ErrShortWrite
	}
	return err
}

// Encode marshals v and writes it as one line.
func (w *Writer) Encode(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ndjson: marshal: %w", err)
	}
	return w.WriteRaw(data)
}
