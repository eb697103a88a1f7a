package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/utils"
)

const (
	hdrMaxHeader = 64 << 10
	hdrMinRun    = 4
	hdrMaxRLE    = 0x7fff
)

// HDR reads and writes Radiance RGBE files. Pixels decode to RGB32F with a
// shared 8-bit exponent, so values round to 8 bits of mantissa per pixel.
type HDR struct{}

func NewHDR() *HDR { return &HDR{} }

func (e *HDR) Format() core.Format { return core.FormatHDR }

func (e *HDR) CanLoad(s *core.Stream) bool {
	if h, ok := s.Peek(10); ok && utils.HasSignature(h, 0, []byte("#?RADIANCE")) {
		return true
	}
	h, ok := s.Peek(6)
	return ok && utils.HasSignature(h, 0, []byte("#?RGBE"))
}

func (e *HDR) NewImage() core.Image {
	img := &hdrImage{}
	img.name = "hdr"
	return img
}

func (e *HDR) IsFormatSupported(pf core.PixelFormat) bool { return pf == core.RGB32F }

func (e *HDR) WriteFormatFor(pf core.PixelFormat) core.PixelFormat {
	if !pf.Valid() {
		return core.PixelFormatInvalid
	}
	return core.RGB32F
}

type hdrImage struct {
	imageHandle
	width, height int
	bottomUp      bool
	dataAt        int64
}

func (i *hdrImage) Open(s *core.Stream) apperrors.Status {
	if st := i.bind(s); st != apperrors.StatusOK {
		return st
	}
	r := s.Reader()
	read := 0
	line := func() (string, error) {
		var b [1]byte
		var sb strings.Builder
		for {
			if read >= hdrMaxHeader {
				return "", fmt.Errorf("header exceeds %d bytes", hdrMaxHeader)
			}
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return "", err
			}
			read++
			if b[0] == '\n' {
				return sb.String(), nil
			}
			sb.WriteByte(b[0])
		}
	}

	magic, err := line()
	if err != nil || (magic != "#?RADIANCE" && magic != "#?RGBE") {
		return i.fail(apperrors.StatusLoadFailedExternal, "bad magic line")
	}
	for {
		l, err := line()
		if err != nil {
			return i.fail(apperrors.StatusLoadFailedExternal, "header: %v", err)
		}
		if l == "" {
			break
		}
		if v, ok := strings.CutPrefix(l, "FORMAT="); ok && v != "32-bit_rle_rgbe" {
			return i.fail(apperrors.StatusLoadFailedExternal, "pixel format %q is not supported", v)
		}
	}

	res, err := line()
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "resolution: %v", err)
	}
	f := strings.Fields(res)
	if len(f) != 4 || (f[0] != "-Y" && f[0] != "+Y") || f[2] != "+X" {
		return i.fail(apperrors.StatusLoadFailedExternal, "unsupported resolution line %q", res)
	}
	h, herr := strconv.Atoi(f[1])
	w, werr := strconv.Atoi(f[3])
	if herr != nil || werr != nil || w <= 0 || h <= 0 {
		return i.fail(apperrors.StatusLoadFailedExternal, "bad resolution line %q", res)
	}
	i.width, i.height = w, h
	i.bottomUp = f[0] == "+Y"
	i.dataAt = i.start + int64(read)
	return i.rewind()
}

func (i *hdrImage) Info() (core.ImageInfo, apperrors.Status) {
	return core.ImageInfo{
		Width:         i.width,
		Height:        i.height,
		Raw:           core.RawLayout{Channels: 3, BytesPerChannel: 4, Kind: core.SampleFloat},
		DecodedFormat: core.RGB32F,
	}, apperrors.StatusOK
}

func (i *hdrImage) Decode(dst []byte, target core.PixelFormat) apperrors.Status {
	if i.stream == nil || i.stream.Seek(i.dataAt, core.SeekStart) < 0 {
		return i.fail(apperrors.StatusIOFailed, "cannot seek to pixel data")
	}
	pix := dst
	if target != core.RGB32F {
		pix = make([]byte, core.RGB32F.ImageBytes(i.width, i.height))
	}
	br := bufio.NewReader(i.stream.Reader())
	rgbe := make([]byte, 4*i.width)
	for y := 0; y < i.height; y++ {
		if err := readRGBELine(br, rgbe, i.width); err != nil {
			return i.fail(apperrors.StatusLoadFailedExternal, "scanline %d: %v", y, err)
		}
		row := y
		if i.bottomUp {
			row = i.height - 1 - y
		}
		out := pix[row*i.width*12:]
		for x := 0; x < i.width; x++ {
			r, g, b := rgbeToFloat(rgbe[x*4:])
			binary.LittleEndian.PutUint32(out[x*12:], math.Float32bits(r))
			binary.LittleEndian.PutUint32(out[x*12+4:], math.Float32bits(g))
			binary.LittleEndian.PutUint32(out[x*12+8:], math.Float32bits(b))
		}
	}
	if target == core.RGB32F {
		return apperrors.StatusOK
	}
	return i.deliver(dst, pix, i.width, i.height, core.RGB32F, target)
}

// readRGBELine fills out with w RGBE pixels in any of the three scanline
// encodings: flat, old run-length or per-component run-length.
func readRGBELine(br *bufio.Reader, out []byte, w int) error {
	var head [4]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		return err
	}
	if w < 8 || w > hdrMaxRLE || head[0] != 2 || head[1] != 2 || head[2]&0x80 != 0 {
		return readFlatRGBE(br, out, w, head)
	}
	if n := int(head[2])<<8 | int(head[3]); n != w {
		return fmt.Errorf("scanline width %d, want %d", n, w)
	}
	for c := 0; c < 4; c++ {
		for x := 0; x < w; {
			count, err := br.ReadByte()
			if err != nil {
				return err
			}
			if count > 128 {
				n := int(count) - 128
				if n > w-x {
					return fmt.Errorf("run overruns scanline")
				}
				v, err := br.ReadByte()
				if err != nil {
					return err
				}
				for ; n > 0; n-- {
					out[x*4+c] = v
					x++
				}
				continue
			}
			n := int(count)
			if n == 0 || n > w-x {
				return fmt.Errorf("bad literal count %d", n)
			}
			for ; n > 0; n-- {
				v, err := br.ReadByte()
				if err != nil {
					return err
				}
				out[x*4+c] = v
				x++
			}
		}
	}
	return nil
}

func readFlatRGBE(br *bufio.Reader, out []byte, w int, first [4]byte) error {
	px := first
	shift := 0
	for x := 0; x < w; {
		if px[0] == 1 && px[1] == 1 && px[2] == 1 {
			if x == 0 {
				return fmt.Errorf("repeat before first pixel")
			}
			n := int(px[3]) << shift
			if n > w-x {
				return fmt.Errorf("repeat overruns scanline")
			}
			for ; n > 0; n-- {
				copy(out[x*4:x*4+4], out[(x-1)*4:])
				x++
			}
			shift += 8
		} else {
			copy(out[x*4:x*4+4], px[:])
			x++
			shift = 0
		}
		if x == w {
			break
		}
		if _, err := io.ReadFull(br, px[:]); err != nil {
			return err
		}
	}
	return nil
}

func rgbeToFloat(p []byte) (r, g, b float32) {
	if p[3] == 0 {
		return 0, 0, 0
	}
	f := math.Ldexp(1, int(p[3])-(128+8))
	return float32(float64(p[0]) * f), float32(float64(p[1]) * f), float32(float64(p[2]) * f)
}

func floatToRGBE(dst []byte, r, g, b float32) {
	v := max(r, g, b)
	if v < 1e-32 || math.IsNaN(float64(v)) {
		dst[0], dst[1], dst[2], dst[3] = 0, 0, 0, 0
		return
	}
	m, e := math.Frexp(float64(v))
	scale := m * 256 / float64(v)
	comp := func(c float32) byte {
		if c <= 0 {
			return 0
		}
		return byte(min(float64(c)*scale, 255))
	}
	dst[0], dst[1], dst[2] = comp(r), comp(g), comp(b)
	dst[3] = byte(e + 128)
}

func (i *hdrImage) VerifyEncodeOptions(opts core.EncodeOptions) apperrors.Status {
	if core.OptionsValue(opts) != nil {
		return i.fail(apperrors.StatusInvalidEncodeArgs, "hdr takes no encode options")
	}
	return apperrors.StatusOK
}

func (i *hdrImage) Write(req core.WriteRequest, s *core.Stream) apperrors.Status {
	data, err := toWriteFormat(req, core.RGB32F)
	if err != nil {
		return i.fail(apperrors.StatusConversionFailedBadFormat, "%v", err)
	}
	w, h := req.Width, req.Height

	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	fmt.Fprintf(buf, "#?RADIANCE\nFORMAT=32-bit_rle_rgbe\n\n-Y %d +X %d\n", h, w)

	rgbe := make([]byte, 4*w)
	comp := make([]byte, w)
	for y := 0; y < h; y++ {
		row := data[y*w*12:]
		for x := 0; x < w; x++ {
			floatToRGBE(rgbe[x*4:],
				math.Float32frombits(binary.LittleEndian.Uint32(row[x*12:])),
				math.Float32frombits(binary.LittleEndian.Uint32(row[x*12+4:])),
				math.Float32frombits(binary.LittleEndian.Uint32(row[x*12+8:])))
		}
		if w < 8 || w > hdrMaxRLE {
			buf.Write(rgbe)
			continue
		}
		buf.Write([]byte{2, 2, byte(w >> 8), byte(w)})
		for c := 0; c < 4; c++ {
			for x := 0; x < w; x++ {
				comp[x] = rgbe[x*4+c]
			}
			writeRGBERuns(buf, comp)
		}
	}
	return i.writeOut(s, buf.Bytes())
}

// writeRGBERuns emits one component of a scanline as runs of at least
// hdrMinRun equal bytes and literal packets of at most 128 bytes.
func writeRGBERuns(buf *bytes.Buffer, data []byte) {
	n := len(data)
	cur := 0
	for cur < n {
		beg, run, oldRun := cur, 0, 0
		for run < hdrMinRun && beg < n {
			beg += run
			oldRun = run
			run = 1
			for beg+run < n && run < 127 && data[beg] == data[beg+run] {
				run++
			}
		}
		if oldRun > 1 && oldRun == beg-cur {
			buf.WriteByte(byte(128 + oldRun))
			buf.WriteByte(data[cur])
			cur = beg
		}
		for cur < beg {
			lit := min(beg-cur, 128)
			buf.WriteByte(byte(lit))
			buf.Write(data[cur : cur+lit])
			cur += lit
		}
		if run >= hdrMinRun {
			buf.WriteByte(byte(128 + run))
			buf.WriteByte(data[beg])
			cur += run
		}
	}
}
