package core_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
)

func TestNewBufferView(t *testing.T) {
	v := core.NewBufferView(4, 3, core.RGBA16F)
	assert.Equal(t, 4*3*4*2, v.ByteLength())
	assert.Equal(t, 4, v.Channels)
	assert.Equal(t, 2, v.BytesPerElement)
	assert.Equal(t, core.SampleFloat, v.Kind)
	assert.Equal(t, core.RGBA16F, v.PixelFormat())
	assert.True(t, v.Contiguous())
	assert.True(t, v.Writable())
	assert.Equal(t, 32, v.RowBytes())
}

func TestValidateDecodeTarget(t *testing.T) {
	const w, h = 4, 4
	need := core.RGB8U.ImageBytes(w, h)

	cases := []struct {
		name string
		view func() *core.BufferView
		kind apperrors.Kind
	}{
		{"nil", func() *core.BufferView { return nil }, apperrors.KindInvalidBufferFlags},
		{"too small", func() *core.BufferView {
			return core.ViewOf(make([]byte, need-1), w, h, core.RGB8U)
		}, apperrors.KindBufferTooSmall},
		{"read only", func() *core.BufferView {
			v := core.NewBufferView(w, h, core.RGB8U)
			v.ReadOnly = true
			return v
		}, apperrors.KindInvalidBufferFlags},
		{"strided", func() *core.BufferView {
			v := core.ViewOf(make([]byte, need*2), w, h, core.RGB8U)
			v.Stride = v.RowBytes() * 2
			return v
		}, apperrors.KindInvalidBufferFlags},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := core.ValidateDecodeTarget(tc.view(), w, h, core.RGB8U)
			assert.True(t, apperrors.IsKind(err, tc.kind), "got %v", err)
		})
	}
}

func TestValidateDecodeTarget_Accepts(t *testing.T) {
	// larger buffers and an explicit packed stride are fine
	v := core.ViewOf(make([]byte, 100), 4, 4, core.RGB8U)
	v.Stride = v.RowBytes()
	assert.NoError(t, core.ValidateDecodeTarget(v, 4, 4, core.RGB8U))
}

func TestValidateDecodeTarget_Misaligned(t *testing.T) {
	mem := make([]byte, 64)
	v := core.ViewOf(mem[1:33], 4, 2, core.R32F)
	err := core.ValidateDecodeTarget(v, 4, 2, core.R32F)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidBufferFlags), "got %v", err)
}

func TestValidateEncodeSource(t *testing.T) {
	v := core.NewBufferView(2, 2, core.RG16U)
	v.ReadOnly = true
	pf, err := core.ValidateEncodeSource(v)
	require.NoError(t, err)
	assert.Equal(t, core.RG16U, pf)

	v = core.NewBufferView(2, 2, core.RGB8U)
	v.Channels = 5
	_, err = core.ValidateEncodeSource(v)
	assert.True(t, apperrors.IsKind(err, apperrors.KindUnsupportedFormat), "got %v", err)

	v = core.ViewOf(nil, 0, 3, core.RGB8U)
	_, err = core.ValidateEncodeSource(v)
	assert.True(t, apperrors.IsKind(err, apperrors.KindInvalidBufferFlags), "got %v", err)

	v = core.ViewOf(make([]byte, 6), 2, 2, core.R16U)
	_, err = core.ValidateEncodeSource(v)
	assert.True(t, apperrors.IsKind(err, apperrors.KindBufferTooSmall), "got %v", err)
}

func TestPixelFormat(t *testing.T) {
	assert.False(t, core.PixelFormatInvalid.Valid())
	assert.Equal(t, "INVALID_FORMAT", core.PixelFormatInvalid.String())
	assert.Equal(t, "PixelFormat(99)", core.PixelFormat(99).String())
	assert.Zero(t, core.PixelFormat(99).PixelBytes())

	assert.Equal(t, 6, core.RGB16U.PixelBytes())
	assert.Equal(t, 4*3*16, core.RGBA32F.ImageBytes(4, 3))
	assert.Equal(t, core.RawLayout{Channels: 2, BytesPerChannel: 2, Kind: core.SampleFloat}, core.RG16F.Layout())

	assert.Equal(t, core.RGB32F, core.RGB8U.WithBitDepth(4))
	assert.Equal(t, core.R8U, core.R32F.WithBitDepth(1))
	assert.Equal(t, core.RGBA16F, core.RGBA16F.WithBitDepth(2))
	assert.Equal(t, core.PixelFormatInvalid, core.RGBA8U.WithBitDepth(3))
	assert.Equal(t, core.RGBA16U, core.R16U.WithChannels(4))

	assert.Equal(t, core.RG32F, core.FormatFor(2, 4, core.SampleFloat))
	assert.Equal(t, core.PixelFormatInvalid, core.FormatFor(1, 4, core.SampleInt))
	assert.Equal(t, core.RGBA16U, core.ParsePixelFormat("RGBA16U"))
	assert.Equal(t, core.PixelFormatInvalid, core.ParsePixelFormat("RGBA64"))
}

func TestPixelFormat_ImageSize(t *testing.T) {
	n, ok := core.RGB8U.ImageSize(4, 4)
	require.True(t, ok)
	assert.Equal(t, 48, n)

	_, ok = core.RGB8U.ImageSize(-1, 4)
	assert.False(t, ok)
	_, ok = core.RGBA32F.ImageSize(math.MaxInt32, math.MaxInt32)
	assert.False(t, ok, "product overflows 64 bits")
	_, ok = core.R8U.ImageSize(math.MaxInt, 2)
	assert.False(t, ok, "product exceeds MaxInt")
	assert.Zero(t, core.RGBA32F.ImageBytes(math.MaxInt32, math.MaxInt32))
}

func TestValidateDecodeTarget_Unaddressable(t *testing.T) {
	err := core.ValidateDecodeTarget(core.NewBufferView(4, 4, core.RGB8U), math.MaxInt32, math.MaxInt32, core.RGB8U)
	assert.True(t, apperrors.IsKind(err, apperrors.KindBufferTooSmall), "got %v", err)
}
