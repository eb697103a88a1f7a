package utils_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imagecodec/utils"
)

func TestMemoryBuffer(t *testing.T) {
	m := utils.NewMemoryBuffer(nil)
	n, err := m.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	pos, err := m.Seek(6, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 6, pos)
	_, err = m.Write([]byte("there!"))
	require.NoError(t, err)
	assert.Equal(t, "hello there!", string(m.Bytes()))
	assert.Equal(t, 12, m.Len())

	pos, err = m.Seek(-6, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 6, pos)
	buf := make([]byte, 3)
	n, err = m.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "the", string(buf[:n]))
	pos, err = m.Seek(1, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 10, pos)

	rest, err := io.ReadAll(m)
	require.NoError(t, err)
	assert.Equal(t, "e!", string(rest))
	_, err = m.Read(buf)
	assert.Equal(t, io.EOF, err)

	_, err = m.Seek(-1, io.SeekStart)
	assert.Error(t, err)
	_, err = m.Seek(0, 7)
	assert.Error(t, err)

	// seeking past the end and writing zero-fills the gap
	_, err = m.Seek(14, io.SeekStart)
	require.NoError(t, err)
	_, err = m.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "hello there!\x00\x00x", string(m.Bytes()))

	require.NoError(t, m.Close())
	_, err = m.Read(buf)
	assert.Error(t, err)
	_, err = m.Write(buf)
	assert.Error(t, err)
	_, err = m.Seek(0, io.SeekStart)
	assert.Error(t, err)
}

func TestLimitedReader(t *testing.T) {
	r := &utils.LimitedReader{R: strings.NewReader("0123456789"), Max: 4}
	data, err := io.ReadAll(r)
	assert.ErrorIs(t, err, utils.ErrTooLarge)
	assert.Equal(t, "0123", string(data))

	r = &utils.LimitedReader{R: strings.NewReader("0123"), Max: 0}
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))
}

func TestDrainReader(t *testing.T) {
	src := bytes.Repeat([]byte("abc"), 1000)
	buf, err := utils.DrainReader(bytes.NewReader(src), 7)
	require.NoError(t, err)
	assert.Equal(t, src, buf.Bytes())
	utils.ReleaseBuffer(buf)

	_, err = utils.DrainReader(&utils.LimitedReader{R: bytes.NewReader(src), Max: 10}, 0)
	assert.ErrorIs(t, err, utils.ErrTooLarge)

	assert.Zero(t, utils.AcquireBuffer().Len())
}

func TestHasSignature(t *testing.T) {
	header := []byte("RIFF\x00\x00\x00\x00WEBPVP8 ")
	assert.True(t, utils.HasSignature(header, 0, []byte("RIFF")))
	assert.True(t, utils.HasSignature(header, 8, []byte("WEBP")))
	assert.False(t, utils.HasSignature(header, 8, []byte("WAVE")))
	assert.False(t, utils.HasSignature(header[:10], 8, []byte("WEBP")))
	assert.False(t, utils.HasSignature(header, -1, []byte("R")))
}

func TestContentTypeAndClone(t *testing.T) {
	assert.Equal(t, "image/qoi", utils.ContentType("qoi"))
	assert.Equal(t, "image/jpeg", utils.ContentType("jpeg"))
	assert.Equal(t, "application/octet-stream", utils.ContentType("raw"))

	src := []byte{1, 2, 3}
	c := utils.CloneBytes(src)
	src[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, c)
}
