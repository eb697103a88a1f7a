package codec

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"

	"github.com/Skryldev/imagecodec/core"
)

// PixelsFromImage packs a decoded Go image into packed little-endian bytes.
// pf must be an integer format of 1, 3 or 4 channels.
func PixelsFromImage(img image.Image, pf core.PixelFormat) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, pf.ImageBytes(w, h))

	switch m := img.(type) {
	case *image.Gray:
		if pf == core.R8U {
			for y := 0; y < h; y++ {
				copy(out[y*w:(y+1)*w], m.Pix[y*m.Stride:])
			}
			return out, nil
		}
	case *image.Gray16:
		if pf == core.R16U {
			for y := 0; y < h; y++ {
				row := m.Pix[y*m.Stride:]
				for x := 0; x < w; x++ {
					binary.LittleEndian.PutUint16(out[(y*w+x)*2:], binary.BigEndian.Uint16(row[x*2:]))
				}
			}
			return out, nil
		}
	case *image.NRGBA:
		switch pf {
		case core.RGBA8U:
			for y := 0; y < h; y++ {
				copy(out[y*w*4:(y+1)*w*4], m.Pix[y*m.Stride:])
			}
			return out, nil
		case core.RGB8U:
			dropAlpha8(out, m.Pix, m.Stride, w, h)
			return out, nil
		}
	case *image.RGBA:
		// Premultiplied alpha is only lossless to drop when the image is opaque.
		if pf == core.RGB8U && m.Opaque() {
			dropAlpha8(out, m.Pix, m.Stride, w, h)
			return out, nil
		}
	case *image.NRGBA64:
		if pf == core.RGBA16U {
			for y := 0; y < h; y++ {
				row := m.Pix[y*m.Stride:]
				for i := 0; i < w*4; i++ {
					binary.LittleEndian.PutUint16(out[(y*w*4+i)*2:], binary.BigEndian.Uint16(row[i*2:]))
				}
			}
			return out, nil
		}
	}
	return out, pixelsGeneric(img, pf, out)
}

func dropAlpha8(out, pix []byte, stride, w, h int) {
	for y := 0; y < h; y++ {
		row := pix[y*stride:]
		for x := 0; x < w; x++ {
			o := (y*w + x) * 3
			out[o], out[o+1], out[o+2] = row[x*4], row[x*4+1], row[x*4+2]
		}
	}
}

func pixelsGeneric(img image.Image, pf core.PixelFormat, out []byte) error {
	info := pf.Info()
	if info.Kind != core.SampleInt || info.Channels == 2 {
		return fmt.Errorf("cannot pack %T into %s", img, pf)
	}
	b := img.Bounds()
	step := pf.PixelBytes()
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			var s [4]uint16
			if info.Channels == 1 {
				s[0] = color.Gray16Model.Convert(c).(color.Gray16).Y
			} else {
				n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
				s = [4]uint16{n.R, n.G, n.B, n.A}
			}
			p := out[i*step:]
			for ch := 0; ch < info.Channels; ch++ {
				if info.BytesPerChannel == 1 {
					p[ch] = uint8(s[ch] >> 8)
				} else {
					binary.LittleEndian.PutUint16(p[ch*2:], s[ch])
				}
			}
			i++
		}
	}
	return nil
}

// ImageFromPixels copies packed bytes into the Go image type encoders expect.
// RGB data becomes an opaque NRGBA image. Only R8U, R16U, RGB8U, RGBA8U and
// RGBA16U are accepted.
func ImageFromPixels(data []byte, w, h int, pf core.PixelFormat) (image.Image, error) {
	r := image.Rect(0, 0, w, h)
	switch pf {
	case core.R8U:
		m := image.NewGray(r)
		copy(m.Pix, data)
		return m, nil
	case core.R16U:
		m := image.NewGray16(r)
		for i := 0; i < w*h; i++ {
			binary.BigEndian.PutUint16(m.Pix[i*2:], binary.LittleEndian.Uint16(data[i*2:]))
		}
		return m, nil
	case core.RGB8U:
		m := image.NewNRGBA(r)
		for i := 0; i < w*h; i++ {
			m.Pix[i*4], m.Pix[i*4+1], m.Pix[i*4+2], m.Pix[i*4+3] = data[i*3], data[i*3+1], data[i*3+2], 0xff
		}
		return m, nil
	case core.RGBA8U:
		m := image.NewNRGBA(r)
		copy(m.Pix, data)
		return m, nil
	case core.RGBA16U:
		m := image.NewNRGBA64(r)
		for i := 0; i < w*h*4; i++ {
			binary.BigEndian.PutUint16(m.Pix[i*2:], binary.LittleEndian.Uint16(data[i*2:]))
		}
		return m, nil
	}
	return nil, fmt.Errorf("no Go image type for %s", pf)
}

// toWriteFormat converts req.Data to the format the engine writes, returning
// req.Data untouched when no conversion is needed.
func toWriteFormat(req core.WriteRequest, target core.PixelFormat) ([]byte, error) {
	if target == req.Format {
		return req.Data, nil
	}
	out := make([]byte, target.ImageBytes(req.Width, req.Height))
	if err := Convert(req.Data, out, req.Width, req.Height, req.Format, target); err != nil {
		return nil, err
	}
	return out, nil
}
