package stream

import (
	"bytes"
	"errors"
	"io"
)

// ErrLimitExceeded is returned once more bytes than the configured limit were read
var ErrLimitExceeded = errors.New("stream exceeds size limit")

// ChunkedReader provides chunked reading capability for uploads
type ChunkedReader struct {
	reader    io.Reader
	chunkSize int
	limit     int64
	total     int64
	buffer    []byte
	eof       bool
}

// NewChunkedReader creates a new chunked reader
func NewChunkedReader(reader io.Reader, chunkSize int) *ChunkedReader {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	return &ChunkedReader{
		reader:    reader,
		chunkSize: chunkSize,
		buffer:    make([]byte, chunkSize),
	}
}

// WithLimit caps the total number of bytes the reader accepts. Zero disables the cap.
func (cr *ChunkedReader) WithLimit(limit int64) *ChunkedReader {
	cr.limit = limit
	return cr
}

// Total returns the number of bytes read so far
func (cr *ChunkedReader) Total() int64 {
	return cr.total
}

// NextChunk reads the next chunk from the reader. The returned slice is only
// valid until the next call.
func (cr *ChunkedReader) NextChunk() ([]byte, error) {
	if cr.eof {
		return nil, io.EOF
	}

	// Read until we have a full chunk or EOF
	n := 0
	for n < cr.chunkSize {
		m, err := cr.reader.Read(cr.buffer[n:])
		n += m

		if err != nil {
			if errors.Is(err, io.EOF) {
				cr.eof = true
				break
			}
			return nil, err
		}
	}

	cr.total += int64(n)
	if cr.limit > 0 && cr.total > cr.limit {
		return nil, ErrLimitExceeded
	}

	if n == 0 {
		return nil, io.EOF
	}
	return cr.buffer[:n], nil
}

// ReadAll reads every chunk into one byte slice
func (cr *ChunkedReader) ReadAll() ([]byte, error) {
	var out bytes.Buffer

	for {
		chunk, err := cr.NextChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		out.Write(chunk)
	}

	return out.Bytes(), nil
}
