package core_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imagecodec/core"
)

var errBroken = errors.New("broken pipe")

// flakyReader serves data until budget bytes have been read, then fails.
type flakyReader struct {
	*bytes.Reader
	budget int
	closed int
}

func (f *flakyReader) Read(p []byte) (int, error) {
	if f.budget <= 0 {
		return 0, errBroken
	}
	if len(p) > f.budget {
		p = p[:f.budget]
	}
	n, err := f.Reader.Read(p)
	f.budget -= n
	return n, err
}

func (f *flakyReader) Close() error { f.closed++; return nil }

func newFlaky(data []byte, budget int) *flakyReader {
	return &flakyReader{Reader: bytes.NewReader(data), budget: budget}
}

func TestStream_ReadShortCount(t *testing.T) {
	st := core.NewReadStream(bytes.NewReader([]byte("abcde")))

	buf := make([]byte, 3)
	assert.Equal(t, 3, st.Read(buf))
	assert.Equal(t, "abc", string(buf))
	assert.Equal(t, 2, st.Read(buf))
	assert.Equal(t, 0, st.Read(buf))
	assert.NoError(t, st.Err())
}

func TestStream_SeekTell(t *testing.T) {
	st := core.NewReadStream(bytes.NewReader([]byte("0123456789")))

	assert.EqualValues(t, 0, st.Tell())
	assert.EqualValues(t, 7, st.Seek(-3, core.SeekEnd))
	assert.EqualValues(t, 8, st.Seek(1, core.SeekCurrent))
	assert.EqualValues(t, 2, st.Seek(2, core.SeekStart))
	assert.EqualValues(t, 2, st.Tell())
}

func TestStream_FailureIsSticky(t *testing.T) {
	st := core.NewReadStream(newFlaky([]byte("0123456789"), 4))

	buf := make([]byte, 8)
	assert.Equal(t, -1, st.Read(buf))
	assert.ErrorIs(t, st.Err(), errBroken)

	// every later callback fails without touching the source
	assert.Equal(t, -1, st.Read(buf[:1]))
	assert.EqualValues(t, -1, st.Seek(0, core.SeekStart))
	assert.EqualValues(t, -1, st.Tell())
	assert.ErrorIs(t, st.Err(), errBroken)
}

func TestStream_InvalidWhence(t *testing.T) {
	st := core.NewReadStream(bytes.NewReader([]byte("x")))
	assert.EqualValues(t, -1, st.Seek(0, core.Whence(9)))
	assert.Error(t, st.Err())
}

func TestStream_WriteOnReadStream(t *testing.T) {
	st := core.NewReadStream(bytes.NewReader(nil))
	assert.Equal(t, -1, st.Write([]byte("x")))
	assert.Error(t, st.Err())
}

func TestStream_WriteNotSeekable(t *testing.T) {
	var buf bytes.Buffer
	st := core.NewWriteStream(&buf)

	assert.Equal(t, 5, st.Write([]byte("hello")))
	assert.Equal(t, "hello", buf.String())
	assert.EqualValues(t, -1, st.Tell())
	assert.Error(t, st.Err())
}

func TestStream_Peek(t *testing.T) {
	st := core.NewReadStream(bytes.NewReader([]byte("PXRW....")))
	require.EqualValues(t, 2, st.Seek(2, core.SeekStart))

	h, ok := st.Peek(3)
	assert.True(t, ok)
	assert.Equal(t, "RW.", string(h))
	assert.EqualValues(t, 2, st.Tell())

	_, ok = st.Peek(100)
	assert.False(t, ok)
	assert.EqualValues(t, 2, st.Tell())
}

func TestStream_Close(t *testing.T) {
	src := newFlaky([]byte("abc"), 10)
	st := core.NewReadStream(src)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, -1, st.Read(make([]byte, 1)))
	assert.Error(t, st.Err())
}

func TestStream_ReaderWriterAdapters(t *testing.T) {
	st := core.NewReadStream(bytes.NewReader([]byte("payload")))
	data, err := io.ReadAll(st.Reader())
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	var out bytes.Buffer
	ws := core.NewWriteStream(&out)
	n, err := io.Copy(ws.Writer(), bytes.NewReader([]byte("abc")))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.Equal(t, "abc", out.String())
}

func TestStream_ReaderReportsFailure(t *testing.T) {
	st := core.NewReadStream(newFlaky([]byte("0123456789"), 3))
	_, err := io.ReadAll(st.Reader())
	assert.ErrorIs(t, err, errBroken)
}

func TestNewStream(t *testing.T) {
	st, err := core.NewStream(bytes.NewReader([]byte("ab")))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Read(make([]byte, 2)))

	_, err = core.NewStream(42)
	assert.Error(t, err)
}
