package core

import (
	"errors"
	"fmt"
	"io"
)

// Whence selects the origin of a Seek.
type Whence int

const (
	SeekStart Whence = iota
	SeekCurrent
	SeekEnd
)

// Stream adapts any read/write/seek-capable value into the fixed callback
// table engines drive: Read, Write, Seek and Tell. Engines never see the
// concrete stream type.
//
// Callbacks never return errors. A failing underlying call is recorded, the
// callback reports -1, and every later callback fails immediately; the
// session turns the recorded error into an IOError once the engine returns.
type Stream struct {
	r io.Reader
	w io.Writer
	s io.Seeker
	c io.Closer

	err    error
	closed bool
}

var errStreamClosed = errors.New("stream closed")

// NewStream inspects v for io.Reader, io.Writer, io.Seeker and io.Closer. At
// least one of reader or writer is required.
func NewStream(v any) (*Stream, error) {
	st := &Stream{}
	st.r, _ = v.(io.Reader)
	st.w, _ = v.(io.Writer)
	st.s, _ = v.(io.Seeker)
	st.c, _ = v.(io.Closer)
	if st.r == nil && st.w == nil {
		return nil, fmt.Errorf("stream: %T is neither an io.Reader nor an io.Writer", v)
	}
	return st, nil
}

// NewReadStream wraps a seekable source for decoding.
func NewReadStream(r io.ReadSeeker) *Stream {
	st := &Stream{r: r, s: r}
	st.c, _ = r.(io.Closer)
	return st
}

// NewWriteStream wraps a sink for encoding. Seek and Tell work only if w is
// also an io.Seeker.
func NewWriteStream(w io.Writer) *Stream {
	st := &Stream{w: w}
	st.s, _ = w.(io.Seeker)
	st.c, _ = w.(io.Closer)
	return st
}

// Err returns the first I/O failure recorded by any callback.
func (st *Stream) Err() error { return st.err }

func (st *Stream) fail(err error) {
	if st.err == nil {
		st.err = err
	}
}

func (st *Stream) usable() bool {
	if st.closed {
		st.fail(errStreamClosed)
	}
	return st.err == nil
}

// Read fills p from the source and returns the number of bytes obtained. A
// short count means end of stream; -1 means failure.
func (st *Stream) Read(p []byte) int {
	if !st.usable() {
		return -1
	}
	if st.r == nil {
		st.fail(errors.New("stream is not readable"))
		return -1
	}
	n, err := io.ReadFull(st.r, p)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		st.fail(err)
		return -1
	}
	return n
}

// Write writes all of p and returns the number of bytes written, or -1.
func (st *Stream) Write(p []byte) int {
	if !st.usable() {
		return -1
	}
	if st.w == nil {
		st.fail(errors.New("stream is not writable"))
		return -1
	}
	n, err := st.w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		st.fail(err)
		return -1
	}
	return n
}

// Seek moves the position and returns the new absolute offset, or -1.
func (st *Stream) Seek(offset int64, whence Whence) int64 {
	if !st.usable() {
		return -1
	}
	if st.s == nil {
		st.fail(errors.New("stream is not seekable"))
		return -1
	}
	var w int
	switch whence {
	case SeekStart:
		w = io.SeekStart
	case SeekCurrent:
		w = io.SeekCurrent
	case SeekEnd:
		w = io.SeekEnd
	default:
		st.fail(fmt.Errorf("invalid whence %d", whence))
		return -1
	}
	pos, err := st.s.Seek(offset, w)
	if err != nil {
		st.fail(err)
		return -1
	}
	return pos
}

// Tell returns the current absolute offset, or -1.
func (st *Stream) Tell() int64 { return st.Seek(0, SeekCurrent) }

// Peek reads up to n bytes and seeks back. ok is false when fewer than n bytes
// were available or the stream failed.
func (st *Stream) Peek(n int) (header []byte, ok bool) {
	start := st.Tell()
	if start < 0 {
		return nil, false
	}
	buf := make([]byte, n)
	got := st.Read(buf)
	if st.Seek(start, SeekStart) < 0 || got != n {
		return nil, false
	}
	return buf, true
}

// Close closes the underlying value when it is an io.Closer. Later callbacks
// fail. Close is idempotent.
func (st *Stream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	if st.c != nil {
		return st.c.Close()
	}
	return nil
}

// Reader exposes the Read callback as an io.Reader for engines built on Go
// image libraries.
func (st *Stream) Reader() io.Reader { return streamReader{st} }

// Writer exposes the Write callback as an io.Writer.
func (st *Stream) Writer() io.Writer { return streamWriter{st} }

type streamReader struct{ st *Stream }

func (r streamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := r.st.Read(p)
	switch {
	case n < 0:
		return 0, r.st.Err()
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}

type streamWriter struct{ st *Stream }

func (w streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if n := w.st.Write(p); n < 0 {
		return 0, w.st.Err()
	}
	return len(p), nil
}
