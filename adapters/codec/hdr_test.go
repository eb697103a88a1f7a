package codec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/imagecodec/adapters/codec"
	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
)

// rgbePattern holds values an RGBE pixel stores exactly: each pixel is
// (v, v/2, v/4) for a power of two v, with runs of equal pixels.
func rgbePattern(w, h int) *core.BufferView {
	scale := []float32{1, 4, 0.5}
	var vals []float32
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if y%2 == 1 && x%4 == 3 {
				vals = append(vals, 0, 0, 0)
				continue
			}
			v := scale[(x/3)%len(scale)]
			vals = append(vals, v, v/2, v/4)
		}
	}
	return core.ViewOf(f32(vals...), w, h, core.RGB32F)
}

func TestHDR_RoundTrip(t *testing.T) {
	reg := newRegistry(t)
	// 3 wide is written flat, 40 wide with per-component runs.
	for _, w := range []int{3, 40} {
		src := rgbePattern(w, 4)
		data := write(t, reg, src, core.FormatHDR, nil, nil)
		require.True(t, bytes.HasPrefix(data, []byte("#?RADIANCE\n")))

		meta, pix := decode(t, reg, data)
		assert.Equal(t, core.FormatHDR, meta.Format)
		assert.Equal(t, core.RGB32F, meta.DecodedFormat)
		assert.Equal(t, core.RawLayout{Channels: 3, BytesPerChannel: 4, Kind: core.SampleFloat}, meta.Raw)
		assert.Equal(t, src.Data, pix, "width %d", w)
	}
}

func TestHDR_RunsShrinkFlatRows(t *testing.T) {
	reg := newRegistry(t)
	src := core.ViewOf(f32(make([]float32, 3*64*8)...), 64, 8, core.RGB32F)
	data := write(t, reg, src, core.FormatHDR, nil, nil)
	assert.Less(t, len(data), 64*8)

	_, pix := decode(t, reg, data)
	assert.Equal(t, src.Data, pix)
}

func TestHDR_DecodeBottomUpWithRepeat(t *testing.T) {
	reg := newRegistry(t)
	data := []byte("#?RGBE\nEXPOSURE=1.0\nFORMAT=32-bit_rle_rgbe\n\n+Y 2 +X 2\n")
	data = append(data, 128, 64, 32, 129, 128, 64, 32, 129) // bottom row
	data = append(data, 128, 0, 0, 128, 1, 1, 1, 1)         // top row, second pixel repeats

	_, pix := decode(t, reg, data)
	assert.Equal(t, f32(0.5, 0, 0, 0.5, 0, 0, 1, 0.5, 0.25, 1, 0.5, 0.25), pix)
}

func TestHDR_DecodeToInteger(t *testing.T) {
	reg := newRegistry(t)
	data := write(t, reg, core.ViewOf(f32(1, 0.5, 0, 4, 4, 4), 2, 1, core.RGB32F), core.FormatHDR, nil, nil)

	s := open(t, reg, data)
	out, err := s.Decode(nil, core.RGB8U)
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 128, 0, 255, 255, 255}, out.Data)
}

func TestHDR_Corrupt(t *testing.T) {
	reg := newRegistry(t)
	cases := map[string]string{
		"xyze":        "#?RADIANCE\nFORMAT=32-bit_rle_xyze\n\n-Y 1 +X 1\n\x80\x80\x80\x80",
		"orientation": "#?RADIANCE\n\n+X 1 -Y 1\n\x80\x80\x80\x80",
		"resolution":  "#?RADIANCE\n\n-Y 0 +X 1\n",
		"no blank":    "#?RADIANCE\nFORMAT=32-bit_rle_rgbe\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := core.Open(reg, core.NewReadStream(bytes.NewReader([]byte(data))))
			var ce *apperrors.CodecError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, apperrors.StatusLoadFailedExternal, ce.Status)
			assert.Contains(t, ce.Detail, "hdr:")
		})
	}
}

func TestHDR_TruncatedScanline(t *testing.T) {
	reg := newRegistry(t)
	data := write(t, reg, rgbePattern(16, 2), core.FormatHDR, nil, nil)

	s := open(t, reg, data[:len(data)-3])
	_, err := s.Decode(nil, core.PixelFormatInvalid)
	var ce *apperrors.CodecError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, apperrors.StatusLoadFailedExternal, ce.Status)
	assert.Contains(t, ce.Detail, "scanline 1")
}

func TestHDR_TakesNoOptions(t *testing.T) {
	img := codec.NewHDR().NewImage()
	assert.Equal(t, apperrors.StatusOK, img.VerifyEncodeOptions(nil))
	assert.Equal(t, apperrors.StatusInvalidEncodeArgs, img.VerifyEncodeOptions(codec.EXROptions{}))
}
