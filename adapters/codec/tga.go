package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/utils"
)

const (
	tgaHeaderLen = 18

	tgaMapped    = 1
	tgaTrueColor = 2
	tgaGray      = 3
	tgaRLE       = 8

	tgaRightToLeft = 0x10
	tgaTopDown     = 0x20
)

var tgaFooter = []byte("TRUEVISION-XFILE.\x00")

// TGA reads colour-mapped, true-colour and grey Truevision images, raw or
// run-length packed, and writes grey, BGR and BGRA images with a top-left
// origin. TGA has no magic number, so it should be detected last.
type TGA struct{}

func NewTGA() *TGA { return &TGA{} }

func (e *TGA) Format() core.Format { return core.FormatTGA }

// CanLoad accepts a header only when every field that has a fixed set of
// legal values holds one of them.
func (e *TGA) CanLoad(s *core.Stream) bool {
	h, ok := s.Peek(tgaHeaderLen)
	if !ok {
		return false
	}
	_, err := parseTGAHeader(h)
	return err == nil
}

func (e *TGA) NewImage() core.Image {
	img := &tgaImage{}
	img.name = "tga"
	return img
}

func (e *TGA) IsFormatSupported(pf core.PixelFormat) bool {
	return pf == core.R8U || pf == core.RGB8U || pf == core.RGBA8U
}

func (e *TGA) WriteFormatFor(pf core.PixelFormat) core.PixelFormat {
	if !pf.Valid() {
		return core.PixelFormatInvalid
	}
	switch pf.Info().Channels {
	case 1:
		return core.R8U
	case 4:
		return core.RGBA8U
	}
	return core.RGB8U
}

type tgaHeader struct {
	idLen      int
	mapType    byte
	imageType  byte
	mapFirst   int
	mapLen     int
	mapDepth   int
	width      int
	height     int
	depth      int
	descriptor byte
}

func (h tgaHeader) alphaBits() int { return int(h.descriptor & 0x0f) }

// entryDepth is the bit depth of a decoded pixel, after colour-map lookup.
func (h tgaHeader) entryDepth() int {
	if h.imageType&^tgaRLE == tgaMapped {
		return h.mapDepth
	}
	return h.depth
}

func (h tgaHeader) native() core.PixelFormat {
	switch d := h.entryDepth(); {
	case h.imageType&^tgaRLE == tgaGray:
		return core.R8U
	case d == 32 && h.alphaBits() > 0, d == 16 && h.alphaBits() == 1:
		return core.RGBA8U
	}
	return core.RGB8U
}

func parseTGAHeader(b []byte) (tgaHeader, error) {
	h := tgaHeader{
		idLen:      int(b[0]),
		mapType:    b[1],
		imageType:  b[2],
		mapFirst:   int(binary.LittleEndian.Uint16(b[3:])),
		mapLen:     int(binary.LittleEndian.Uint16(b[5:])),
		mapDepth:   int(b[7]),
		width:      int(binary.LittleEndian.Uint16(b[12:])),
		height:     int(binary.LittleEndian.Uint16(b[14:])),
		depth:      int(b[16]),
		descriptor: b[17],
	}
	if h.mapType > 1 {
		return h, fmt.Errorf("colour map type %d", h.mapType)
	}
	if h.width == 0 || h.height == 0 {
		return h, fmt.Errorf("empty image")
	}
	if h.descriptor&0xc0 != 0 {
		return h, fmt.Errorf("interleaved images are not supported")
	}
	switch h.imageType &^ tgaRLE {
	case tgaMapped:
		if h.mapType != 1 || h.depth != 8 || h.mapLen == 0 {
			return h, fmt.Errorf("colour-mapped image needs an 8-bit index and a map")
		}
		switch h.mapDepth {
		case 15, 16, 24, 32:
		default:
			return h, fmt.Errorf("colour map depth %d", h.mapDepth)
		}
	case tgaTrueColor:
		if h.mapType != 0 {
			return h, fmt.Errorf("true-colour image with a colour map")
		}
		switch h.depth {
		case 15, 16, 24, 32:
		default:
			return h, fmt.Errorf("true-colour depth %d", h.depth)
		}
	case tgaGray:
		if h.mapType != 0 || h.depth != 8 {
			return h, fmt.Errorf("grey image of depth %d", h.depth)
		}
	default:
		return h, fmt.Errorf("image type %d", h.imageType)
	}
	return h, nil
}

type tgaImage struct {
	imageHandle
	hdr tgaHeader
}

func (i *tgaImage) Open(s *core.Stream) apperrors.Status {
	if st := i.bind(s); st != apperrors.StatusOK {
		return st
	}
	b := make([]byte, tgaHeaderLen)
	n := s.Read(b)
	if st := i.rewind(); st != apperrors.StatusOK {
		return st
	}
	if n != tgaHeaderLen {
		return i.fail(apperrors.StatusLoadFailedExternal, "truncated header")
	}
	h, err := parseTGAHeader(b)
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "header: %v", err)
	}
	i.hdr = h
	return apperrors.StatusOK
}

func (i *tgaImage) Info() (core.ImageInfo, apperrors.Status) {
	native := i.hdr.native()
	return core.ImageInfo{
		Width:         i.hdr.width,
		Height:        i.hdr.height,
		Raw:           core.RawLayout{Channels: native.Info().Channels, BytesPerChannel: 1, Kind: core.SampleInt},
		DecodedFormat: native,
	}, apperrors.StatusOK
}

func (i *tgaImage) Decode(dst []byte, target core.PixelFormat) apperrors.Status {
	if st := i.rewind(); st != apperrors.StatusOK {
		return st
	}
	h := i.hdr
	br := bufio.NewReader(i.stream.Reader())
	if _, err := br.Discard(tgaHeaderLen + h.idLen); err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "image id: %v", err)
	}

	var palette []byte
	if h.mapType == 1 {
		palette = make([]byte, h.mapLen*((h.mapDepth+7)/8))
		if _, err := io.ReadFull(br, palette); err != nil {
			return i.fail(apperrors.StatusLoadFailedExternal, "colour map: %v", err)
		}
	}

	native := h.native()
	step := native.PixelBytes()
	pix := dst
	if target != native {
		pix = make([]byte, native.ImageBytes(h.width, h.height))
	}

	bpp := (h.depth + 7) / 8
	px := make([]byte, bpp)
	remaining, repeat := 0, false
	total := h.width * h.height
	for k := 0; k < total; k++ {
		read := true
		if h.imageType&tgaRLE != 0 {
			fresh := remaining == 0
			if fresh {
				p, err := br.ReadByte()
				if err != nil {
					return i.fail(apperrors.StatusLoadFailedExternal, "packet header: %v", err)
				}
				remaining = int(p&0x7f) + 1
				repeat = p&0x80 != 0
			}
			remaining--
			read = fresh || !repeat
		}
		if read {
			if _, err := io.ReadFull(br, px); err != nil {
				return i.fail(apperrors.StatusLoadFailedExternal, "pixel %d: %v", k, err)
			}
		}
		x, y := k%h.width, k/h.width
		if h.descriptor&tgaRightToLeft != 0 {
			x = h.width - 1 - x
		}
		if h.descriptor&tgaTopDown == 0 {
			y = h.height - 1 - y
		}
		if err := h.put(pix[(y*h.width+x)*step:], px, palette, native); err != nil {
			return i.fail(apperrors.StatusLoadFailedExternal, "pixel %d: %v", k, err)
		}
	}

	if target == native {
		return apperrors.StatusOK
	}
	return i.deliver(dst, pix, h.width, h.height, native, target)
}

// put stores one file pixel, looked up in palette for mapped images, as a
// native RGB, RGBA or grey pixel.
func (h tgaHeader) put(out, px, palette []byte, native core.PixelFormat) error {
	if native == core.R8U {
		out[0] = px[0]
		return nil
	}
	entry := px
	depth := h.depth
	if palette != nil {
		idx := int(px[0]) - h.mapFirst
		if idx < 0 || idx >= h.mapLen {
			return fmt.Errorf("index %d outside colour map", px[0])
		}
		size := (h.mapDepth + 7) / 8
		entry = palette[idx*size : (idx+1)*size]
		depth = h.mapDepth
	}

	var r, g, b, a byte = 0, 0, 0, 255
	switch depth {
	case 15, 16:
		v := binary.LittleEndian.Uint16(entry)
		r, g, b = expand5(v>>10), expand5(v>>5), expand5(v)
		if v&0x8000 == 0 {
			a = 0
		}
	case 24:
		b, g, r = entry[0], entry[1], entry[2]
	case 32:
		b, g, r, a = entry[0], entry[1], entry[2], entry[3]
	}
	out[0], out[1], out[2] = r, g, b
	if native == core.RGBA8U {
		out[3] = a
	}
	return nil
}

func expand5(v uint16) byte {
	c := byte(v & 0x1f)
	return c<<3 | c>>2
}

func (i *tgaImage) VerifyEncodeOptions(opts core.EncodeOptions) apperrors.Status {
	if _, _, st := optionsAs[TGAOptions](opts); st != apperrors.StatusOK {
		return i.fail(st, "options of type %T are not tga options", opts)
	}
	return apperrors.StatusOK
}

func (i *tgaImage) Write(req core.WriteRequest, s *core.Stream) apperrors.Status {
	if req.Width > 0xffff || req.Height > 0xffff {
		return i.fail(apperrors.StatusInvalidEncodeArgs, "%dx%d exceeds the 65535 pixel limit", req.Width, req.Height)
	}
	o, _, _ := optionsAs[TGAOptions](req.Options)
	target := NewTGA().WriteFormatFor(req.Format)
	data, err := toWriteFormat(req, target)
	if err != nil {
		return i.fail(apperrors.StatusConversionFailedBadFormat, "%v", err)
	}

	step := target.PixelBytes()
	head := make([]byte, tgaHeaderLen)
	head[2] = tgaTrueColor
	if target == core.R8U {
		head[2] = tgaGray
	}
	if o.RLE {
		head[2] |= tgaRLE
	}
	binary.LittleEndian.PutUint16(head[12:], uint16(req.Width))
	binary.LittleEndian.PutUint16(head[14:], uint16(req.Height))
	head[16] = byte(step * 8)
	head[17] = tgaTopDown
	if target == core.RGBA8U {
		head[17] |= 8
	}

	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	buf.Write(head)
	row := make([]byte, req.Width*step)
	for y := 0; y < req.Height; y++ {
		copy(row, data[y*req.Width*step:])
		if step >= 3 {
			for x := 0; x < req.Width; x++ {
				row[x*step], row[x*step+2] = row[x*step+2], row[x*step]
			}
		}
		if !o.RLE {
			buf.Write(row)
			continue
		}
		writeTGARuns(buf, row, step)
	}
	buf.Write(make([]byte, 8)) // no extension or developer area
	buf.Write(tgaFooter)
	return i.writeOut(s, buf.Bytes())
}

// writeTGARuns packs one row into run packets for two or more equal pixels
// and raw packets otherwise, each covering at most 128 pixels.
func writeTGARuns(buf *bytes.Buffer, row []byte, step int) {
	w := len(row) / step
	same := func(a, b int) bool {
		for c := 0; c < step; c++ {
			if row[a*step+c] != row[b*step+c] {
				return false
			}
		}
		return true
	}
	for x := 0; x < w; {
		run := 1
		for x+run < w && run < 128 && same(x, x+run) {
			run++
		}
		if run >= 2 {
			buf.WriteByte(0x80 | byte(run-1))
			buf.Write(row[x*step : (x+1)*step])
			x += run
			continue
		}
		lit := 1
		for x+lit < w && lit < 128 && !(x+lit+1 < w && same(x+lit, x+lit+1)) {
			lit++
		}
		buf.WriteByte(byte(lit - 1))
		buf.Write(row[x*step : (x+lit)*step])
		x += lit
	}
}
