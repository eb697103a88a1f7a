//go:build vips

package vips_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imagecodec/adapters/vips"
	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
)

func TestAVIF_Formats(t *testing.T) {
	e := vips.NewAVIF(0)
	assert.Equal(t, core.FormatAVIF, e.Format())
	assert.True(t, e.IsFormatSupported(core.RGBA8U))
	assert.False(t, e.IsFormatSupported(core.RGB16U))
	assert.Equal(t, core.RGBA8U, e.WriteFormatFor(core.RGBA32F))
	assert.Equal(t, core.RGB8U, e.WriteFormatFor(core.R32F))
	assert.Equal(t, core.PixelFormatInvalid, e.WriteFormatFor(core.PixelFormatInvalid))
}

func TestAVIF_CanLoad(t *testing.T) {
	e := vips.NewAVIF(60)
	header := []byte("\x00\x00\x00\x1cftypavif\x00\x00\x00\x00")
	s := core.NewReadStream(bytes.NewReader(header))
	assert.True(t, e.CanLoad(s))
	assert.EqualValues(t, 0, s.Tell())

	heic := []byte("\x00\x00\x00\x1cftypheic\x00\x00\x00\x00")
	assert.False(t, e.CanLoad(core.NewReadStream(bytes.NewReader(heic))))
}

func TestAVIFOptions_Validate(t *testing.T) {
	assert.NoError(t, vips.AVIFOptions{Quality: 50}.Validate())
	assert.NoError(t, vips.AVIFOptions{Lossless: true}.Validate())
	assert.Error(t, vips.AVIFOptions{Quality: 101}.Validate())
}

func TestAVIF_RoundTrip(t *testing.T) {
	reg := core.NewRegistry(vips.NewAVIF(80))
	src := core.NewBufferView(8, 6, core.RGB8U)
	for i := range src.Data {
		src.Data[i] = byte(i * 5)
	}

	var buf bytes.Buffer
	require.NoError(t, core.Write(reg, core.NewWriteStream(&buf), src, core.FormatAVIF, nil, vips.AVIFOptions{Quality: 90}))

	s, err := core.Open(reg, core.NewReadStream(bytes.NewReader(buf.Bytes())))
	require.NoError(t, err)
	defer s.Close()
	meta, err := s.Inspect()
	require.NoError(t, err)
	assert.Equal(t, 8, meta.Width)
	assert.Equal(t, 6, meta.Height)
	assert.Equal(t, core.RGB8U, meta.DecodedFormat)

	out, err := s.Decode(nil, core.PixelFormatInvalid)
	require.NoError(t, err)
	assert.Len(t, out.Data, 8*6*3)
}

func TestAVIF_RejectsForeignOptions(t *testing.T) {
	reg := core.NewRegistry(vips.NewAVIF(80))
	src := core.NewBufferView(2, 2, core.RGB8U)
	err := core.Write(reg, core.NewWriteStream(&bytes.Buffer{}), src, core.FormatAVIF, nil, foreignOptions{})
	assert.True(t, apperrors.IsKind(err, apperrors.KindCodecInternal))
}

type foreignOptions struct{}

func (foreignOptions) Format() core.Format { return core.FormatPNG }
func (foreignOptions) Validate() error     { return nil }
