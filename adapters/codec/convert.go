package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"

	"github.com/Skryldev/imagecodec/core"
)

// Convert rewrites a packed width x height image from one pixel format to
// another, going through an RGBA float32 scratch pixel. Missing channels are
// filled the usual way: a single channel is replicated to RGB, a missing blue
// is 0 and a missing alpha is 1. Float samples written to integer formats are
// clamped to [0,1]. All multi-byte samples are little-endian.
func Convert(src, dst []byte, width, height int, in, out core.PixelFormat) error {
	if !in.Valid() || !out.Valid() {
		return fmt.Errorf("convert %s to %s: invalid pixel format", in, out)
	}
	n := width * height
	if len(src) < in.ImageBytes(width, height) {
		return fmt.Errorf("convert: source holds %d bytes, need %d", len(src), in.ImageBytes(width, height))
	}
	if len(dst) < out.ImageBytes(width, height) {
		return fmt.Errorf("convert: destination holds %d bytes, need %d", len(dst), out.ImageBytes(width, height))
	}
	if in == out {
		copy(dst, src[:in.ImageBytes(width, height)])
		return nil
	}

	inInfo, outInfo := in.Info(), out.Info()
	clamp := inInfo.Kind == core.SampleFloat && outInfo.Kind != core.SampleFloat
	inStep, outStep := in.PixelBytes(), out.PixelBytes()

	var px [4]float32
	for i := 0; i < n; i++ {
		toRGBA(src[i*inStep:], inInfo, &px)
		if clamp {
			for c := range px {
				px[c] = min(1, max(0, px[c]))
			}
		}
		fromRGBA(&px, dst[i*outStep:], outInfo)
	}
	return nil
}

func toRGBA(p []byte, info core.PixelFormatInfo, px *[4]float32) {
	var s [4]float32
	for c := 0; c < info.Channels; c++ {
		s[c] = readSample(p[c*info.BytesPerChannel:], info)
	}
	switch info.Channels {
	case 1:
		*px = [4]float32{s[0], s[0], s[0], 1}
	case 2:
		*px = [4]float32{s[0], s[1], 0, 1}
	case 3:
		*px = [4]float32{s[0], s[1], s[2], 1}
	default:
		*px = s
	}
}

func fromRGBA(px *[4]float32, p []byte, info core.PixelFormatInfo) {
	for c := 0; c < info.Channels; c++ {
		writeSample(p[c*info.BytesPerChannel:], info, px[c])
	}
}

func readSample(p []byte, info core.PixelFormatInfo) float32 {
	switch {
	case info.BytesPerChannel == 1:
		return float32(p[0]) / 255
	case info.BytesPerChannel == 2 && info.Kind == core.SampleFloat:
		return float16.Frombits(binary.LittleEndian.Uint16(p)).Float32()
	case info.BytesPerChannel == 2:
		return float32(binary.LittleEndian.Uint16(p)) / 65535
	default:
		return math.Float32frombits(binary.LittleEndian.Uint32(p))
	}
}

func writeSample(p []byte, info core.PixelFormatInfo, v float32) {
	switch {
	case info.BytesPerChannel == 1:
		p[0] = uint8(min(255, max(0, v*255+0.5)))
	case info.BytesPerChannel == 2 && info.Kind == core.SampleFloat:
		binary.LittleEndian.PutUint16(p, float16.Fromfloat32(v).Bits())
	case info.BytesPerChannel == 2:
		binary.LittleEndian.PutUint16(p, uint16(min(65535, max(0, v*65535+0.5))))
	default:
		binary.LittleEndian.PutUint32(p, math.Float32bits(v))
	}
}
