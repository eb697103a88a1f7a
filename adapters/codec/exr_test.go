package codec_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/Skryldev/imagecodec/adapters/codec"
	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
)

// floatPattern fills a float image with exactly representable half values so
// 16F and 32F round trips compare byte for byte.
func floatPattern(w, h int, pf core.PixelFormat) *core.BufferView {
	info := pf.Info()
	vals := []float32{0, 0.5, 1.25, -2, 3, 0.125, 8}
	n := w * h * info.Channels
	data := make([]byte, 0, n*info.BytesPerChannel)
	for i := 0; i < n; i++ {
		v := vals[(i*5+i/7)%len(vals)]
		if info.BytesPerChannel == 2 {
			data = binary.LittleEndian.AppendUint16(data, float16.Fromfloat32(v).Bits())
		} else {
			data = append(data, f32(v)...)
		}
	}
	return core.ViewOf(data, w, h, pf)
}

func TestEXR_RoundTrip(t *testing.T) {
	reg := newRegistry(t)
	compressions := map[string]codec.EXRCompression{
		"none": codec.EXRNone,
		"zips": codec.EXRZIPS,
		"zip":  codec.EXRZIP,
	}
	for name, c := range compressions {
		for _, pf := range []core.PixelFormat{core.RGBA16F, core.RGB32F, core.R32F, core.RG16F} {
			t.Run(name+"/"+pf.String(), func(t *testing.T) {
				src := floatPattern(5, 19, pf)
				data := write(t, reg, src, core.FormatEXR, nil, codec.EXROptions{Compression: c})
				require.True(t, bytes.HasPrefix(data, []byte{0x76, 0x2f, 0x31, 0x01}))

				meta, pix := decode(t, reg, data)
				assert.Equal(t, core.FormatEXR, meta.Format)
				assert.Equal(t, 5, meta.Width)
				assert.Equal(t, 19, meta.Height)
				assert.Equal(t, pf, meta.DecodedFormat)
				assert.Equal(t, src.Data, pix)
			})
		}
	}
}

func TestEXR_IntegerInputStoredAsHalf(t *testing.T) {
	reg := newRegistry(t)
	src := core.ViewOf([]byte{0, 255, 0, 255, 255, 255}, 2, 1, core.RGB8U)
	data := write(t, reg, src, core.FormatEXR, nil, nil)

	s := open(t, reg, data)
	meta, err := s.Inspect()
	require.NoError(t, err)
	assert.Equal(t, core.RGB16F, meta.DecodedFormat)
	assert.Equal(t, core.RawLayout{Channels: 3, BytesPerChannel: 2, Kind: core.SampleFloat}, meta.Raw)

	out, err := s.Decode(nil, core.RGB8U)
	require.NoError(t, err)
	assert.Equal(t, src.Data, out.Data)
}

func TestEXR_RejectsTiled(t *testing.T) {
	reg := newRegistry(t)
	data := write(t, reg, floatPattern(2, 2, core.RGB32F), core.FormatEXR, nil, nil)
	data[5] |= 0x02

	_, err := core.Open(reg, core.NewReadStream(bytes.NewReader(data)))
	var ce *apperrors.CodecError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, apperrors.StatusLoadFailedExternal, ce.Status)
	assert.Contains(t, ce.Detail, "exr:")
}

func TestEXR_TruncatedChunk(t *testing.T) {
	reg := newRegistry(t)
	data := write(t, reg, floatPattern(4, 4, core.RGBA32F), core.FormatEXR, nil, codec.EXROptions{})

	s := open(t, reg, data[:len(data)-9])
	_, err := s.Decode(nil, core.PixelFormatInvalid)
	var ce *apperrors.CodecError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, apperrors.StatusLoadFailedExternal, ce.Status)
	assert.Contains(t, ce.Detail, "chunk")
}

func TestEXR_Options(t *testing.T) {
	assert.NoError(t, codec.EXROptions{Compression: codec.EXRZIP}.Validate())
	assert.Error(t, codec.EXROptions{Compression: codec.EXRRLE}.Validate())
	assert.Error(t, codec.EXROptions{Compression: 4}.Validate())

	c, err := codec.ParseEXRCompression("zips")
	require.NoError(t, err)
	assert.Equal(t, codec.EXRZIPS, c)
	c, err = codec.ParseEXRCompression("")
	require.NoError(t, err)
	assert.Equal(t, codec.EXRZIP, c)
	_, err = codec.ParseEXRCompression("piz")
	assert.Error(t, err)

	img := codec.NewEXR(codec.EXRZIP).NewImage()
	assert.Equal(t, apperrors.StatusOK, img.VerifyEncodeOptions(&codec.EXROptions{}))
	assert.Equal(t, apperrors.StatusInvalidEncodeArgs, img.VerifyEncodeOptions(codec.TGAOptions{}))
}
