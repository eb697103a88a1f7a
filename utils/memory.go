package utils

import (
	"errors"
	"io"
)

var (
	// ErrTooLarge is returned by LimitedReader once its budget is spent.
	ErrTooLarge = errors.New("input exceeds size limit")

	errBufferClosed  = errors.New("memory buffer closed")
	errNegativeSeek  = errors.New("memory buffer: negative position")
	errInvalidWhence = errors.New("memory buffer: invalid whence")
)

// MemoryBuffer is a closable, seekable read/write stream backed by a slice.
// Writes past the end grow the buffer; writes inside it overwrite in place.
type MemoryBuffer struct {
	buf    []byte
	off    int64
	closed bool
}

// NewMemoryBuffer creates a MemoryBuffer positioned at the start of buf.
func NewMemoryBuffer(buf []byte) *MemoryBuffer {
	return &MemoryBuffer{buf: buf}
}

func (m *MemoryBuffer) Read(p []byte) (int, error) {
	if m.closed {
		return 0, errBufferClosed
	}
	if m.off >= int64(len(m.buf)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.off:])
	m.off += int64(n)
	return n, nil
}

func (m *MemoryBuffer) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errBufferClosed
	}
	end := m.off + int64(len(p))
	if end > int64(len(m.buf)) {
		if end > int64(cap(m.buf)) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.off:], p)
	m.off = end
	return len(p), nil
}

func (m *MemoryBuffer) Seek(offset int64, whence int) (int64, error) {
	if m.closed {
		return 0, errBufferClosed
	}
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = m.off + offset
	case io.SeekEnd:
		pos = int64(len(m.buf)) + offset
	default:
		return 0, errInvalidWhence
	}
	if pos < 0 {
		return 0, errNegativeSeek
	}
	m.off = pos
	return pos, nil
}

// Close makes the buffer unavailable for further reads, writes and seeks.
func (m *MemoryBuffer) Close() error {
	m.closed = true
	return nil
}

// Bytes returns the buffer contents. The slice aliases internal storage.
func (m *MemoryBuffer) Bytes() []byte { return m.buf }

// Len returns the size of the buffer.
func (m *MemoryBuffer) Len() int { return len(m.buf) }
