package codec

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image/png"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/utils"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

const (
	pngColourGray      = 0
	pngColourRGB       = 2
	pngColourPalette   = 3
	pngColourGrayAlpha = 4
	pngColourRGBA      = 6

	// maxPNGProfile bounds the inflated iCCP payload.
	maxPNGProfile = 64 << 20
)

// PNG decodes with image/png after scanning the header chunks itself for
// IHDR, tRNS and iCCP. It encodes with its own chunk writer so the channel
// layout and the embedded profile are exactly what the caller passed.
type PNG struct {
	level int
}

// NewPNG returns a PNG engine whose default zlib level is level.
func NewPNG(level int) *PNG {
	if level < 0 || level > 9 {
		level = zlib.DefaultCompression
	}
	return &PNG{level: level}
}

func (e *PNG) Format() core.Format { return core.FormatPNG }

func (e *PNG) CanLoad(s *core.Stream) bool {
	h, ok := s.Peek(len(pngSignature))
	return ok && utils.HasSignature(h, 0, pngSignature)
}

func (e *PNG) NewImage() core.Image {
	img := &pngImage{engine: e}
	img.name = "png"
	img.decodeFn = png.Decode
	return img
}

func (e *PNG) IsFormatSupported(pf core.PixelFormat) bool {
	info := pf.Info()
	return pf.Valid() && info.Kind == core.SampleInt && info.Channels != 2
}

// WriteFormatFor widens RG to RGB and stores float data as 16-bit integers.
func (e *PNG) WriteFormatFor(pf core.PixelFormat) core.PixelFormat {
	if !pf.Valid() {
		return core.PixelFormatInvalid
	}
	out := pf
	if pf.Info().Kind == core.SampleFloat {
		out = core.FormatFor(pf.Info().Channels, 2, core.SampleInt)
	}
	if out.Info().Channels == 2 {
		out = out.WithChannels(3)
	}
	return out
}

type pngImage struct {
	stdImage
	engine *PNG

	profileName string
	profile     []byte
}

func (i *pngImage) Open(s *core.Stream) apperrors.Status {
	if st := i.bind(s); st != apperrors.StatusOK {
		return st
	}
	st := i.scanHeader()
	if rs := i.rewind(); st == apperrors.StatusOK {
		st = rs
	}
	return st
}

// scanHeader walks chunks up to the first IDAT.
func (i *pngImage) scanHeader() apperrors.Status {
	s := i.stream
	sig := make([]byte, len(pngSignature))
	if s.Read(sig) != len(sig) || !bytes.Equal(sig, pngSignature) {
		return i.fail(apperrors.StatusLoadFailedExternal, "bad signature")
	}

	var (
		haveIHDR   bool
		bitDepth   int
		colourType int
		haveTRNS   bool
	)
	hdr := make([]byte, 8)
	for {
		if s.Read(hdr) != len(hdr) {
			return i.fail(apperrors.StatusLoadFailedExternal, "truncated chunk header")
		}
		length := int64(binary.BigEndian.Uint32(hdr[:4]))
		typ := string(hdr[4:8])
		if length > 1<<31-1 {
			return i.fail(apperrors.StatusLoadFailedExternal, "chunk %q too long", typ)
		}

		switch typ {
		case "IHDR":
			if length != 13 {
				return i.fail(apperrors.StatusLoadFailedExternal, "IHDR length %d", length)
			}
			data := make([]byte, 13)
			if s.Read(data) != 13 {
				return i.fail(apperrors.StatusLoadFailedExternal, "truncated IHDR")
			}
			i.width = int(binary.BigEndian.Uint32(data[0:4]))
			i.height = int(binary.BigEndian.Uint32(data[4:8]))
			bitDepth, colourType = int(data[8]), int(data[9])
			haveIHDR = true
			length = 0
		case "tRNS":
			haveTRNS = true
		case "iCCP":
			if length > maxPNGProfile {
				return i.fail(apperrors.StatusLoadFailedExternal, "iCCP chunk too large")
			}
			data := make([]byte, length)
			if s.Read(data) != len(data) {
				return i.fail(apperrors.StatusLoadFailedExternal, "truncated iCCP")
			}
			if st := i.parseICCP(data); st != apperrors.StatusOK {
				return st
			}
			length = 0
		case "IDAT", "IEND":
			if !haveIHDR {
				return i.fail(apperrors.StatusLoadFailedExternal, "missing IHDR")
			}
			return i.settleLayout(bitDepth, colourType, haveTRNS)
		}
		// skip remaining data and the CRC
		if s.Seek(length+4, core.SeekCurrent) < 0 {
			return i.fail(apperrors.StatusIOFailed, "cannot skip %q chunk", typ)
		}
	}
}

func (i *pngImage) parseICCP(data []byte) apperrors.Status {
	nul := bytes.IndexByte(data, 0)
	if nul < 1 || nul+2 > len(data) {
		return i.fail(apperrors.StatusLoadFailedExternal, "malformed iCCP chunk")
	}
	if data[nul+1] != 0 {
		return i.fail(apperrors.StatusLoadFailedExternal, "unknown iCCP compression method %d", data[nul+1])
	}
	zr, err := zlib.NewReader(bytes.NewReader(data[nul+2:]))
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "iCCP: %v", err)
	}
	defer zr.Close()
	profile, err := io.ReadAll(io.LimitReader(zr, maxPNGProfile+1))
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "iCCP: %v", err)
	}
	if len(profile) > maxPNGProfile {
		return i.fail(apperrors.StatusLoadFailedExternal, "iCCP profile too large")
	}
	i.profileName = string(data[:nul])
	i.profile = profile
	return apperrors.StatusOK
}

// settleLayout derives what image/png will hand back: palettes expand to RGB,
// sub-byte gray to 8 bits, tRNS adds alpha and gray+alpha widens to RGBA. A
// profile is dropped whenever the gray/colour split changes.
func (i *pngImage) settleLayout(bitDepth, colourType int, trns bool) apperrors.Status {
	var channels int
	switch colourType {
	case pngColourGray:
		channels = 1
	case pngColourRGB, pngColourPalette:
		channels = 3
	case pngColourGrayAlpha:
		channels = 2
	case pngColourRGBA:
		channels = 4
	default:
		return i.fail(apperrors.StatusLoadFailedExternal, "unknown colour type %d", colourType)
	}
	i.raw = core.RawLayout{Channels: channels, BytesPerChannel: max(1, bitDepth/8), Kind: core.SampleInt}

	if colourType == pngColourPalette || bitDepth < 8 {
		bitDepth = 8
	}
	if trns {
		channels++
	}
	if (trns && colourType == pngColourGray) || colourType == pngColourGrayAlpha {
		channels = 4
		i.profileName, i.profile = "", nil
	}
	i.native = core.FormatFor(channels, bitDepth/8, core.SampleInt)
	if !i.native.Valid() {
		return i.fail(apperrors.StatusLoadFailedExternal, "unsupported layout: %d-bit colour type %d", bitDepth, colourType)
	}
	return apperrors.StatusOK
}

func (i *pngImage) Info() (core.ImageInfo, apperrors.Status) {
	info, st := i.stdImage.Info()
	info.ColourProfileLen = len(i.profile)
	return info, st
}

func (i *pngImage) ColourProfile(dst []byte) (string, int, apperrors.Status) {
	return i.profileName, fillProfile(dst, i.profile), apperrors.StatusOK
}

func (i *pngImage) VerifyEncodeOptions(opts core.EncodeOptions) apperrors.Status {
	if _, _, st := optionsAs[PNGOptions](opts); st != apperrors.StatusOK {
		return i.fail(st, "options of type %T are not png options", opts)
	}
	return apperrors.StatusOK
}

func (i *pngImage) Write(req core.WriteRequest, s *core.Stream) apperrors.Status {
	o, given, _ := optionsAs[PNGOptions](req.Options)
	level := i.engine.level
	if given {
		level = o.CompressionLevel
	}

	target := i.engine.WriteFormatFor(req.Format)
	data, err := toWriteFormat(req, target)
	if err != nil {
		return i.fail(apperrors.StatusConversionFailedBadFormat, "%v", err)
	}
	profile := req.Profile
	inCh, outCh := req.Format.Info().Channels, target.Info().Channels
	if profile != nil && inCh != outCh && !(inCh >= 3 && outCh >= 3) {
		profile = nil
	}

	w := &pngChunkWriter{s: s}
	w.raw(pngSignature)
	w.chunk("IHDR", pngIHDR(req.Width, req.Height, target))
	if profile != nil {
		iccp, err := pngICCP(profile, level)
		if err != nil {
			return i.fail(apperrors.StatusWriteFailedInternal, "iCCP: %v", err)
		}
		w.chunk("iCCP", iccp)
	}
	idat, err := pngIDAT(data, req.Width, req.Height, target, level)
	if err != nil {
		return i.fail(apperrors.StatusWriteFailedInternal, "IDAT: %v", err)
	}
	w.chunk("IDAT", idat)
	w.chunk("IEND", nil)
	if w.failed {
		return i.fail(apperrors.StatusIOFailed, "cannot write png data")
	}
	return apperrors.StatusOK
}

func pngIHDR(w, h int, pf core.PixelFormat) []byte {
	b := make([]byte, 13)
	binary.BigEndian.PutUint32(b[0:], uint32(w))
	binary.BigEndian.PutUint32(b[4:], uint32(h))
	b[8] = byte(pf.BitDepth() * 8)
	switch pf.Info().Channels {
	case 1:
		b[9] = pngColourGray
	case 3:
		b[9] = pngColourRGB
	default:
		b[9] = pngColourRGBA
	}
	return b
}

func pngICCP(p *core.ColourProfile, level int) ([]byte, error) {
	name := p.Name
	if len(name) > 79 {
		name = name[:79]
	}
	var buf bytes.Buffer
	buf.WriteString(name)
	buf.Write([]byte{0, 0})
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(p.Data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pngIDAT filters every row with filter type 0 and deflates the result.
// Samples are stored big-endian in the file.
func pngIDAT(data []byte, w, h int, pf core.PixelFormat, level int) ([]byte, error) {
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	zw, err := zlib.NewWriterLevel(buf, level)
	if err != nil {
		return nil, err
	}
	rowBytes := w * pf.PixelBytes()
	row := make([]byte, 1+rowBytes)
	for y := 0; y < h; y++ {
		src := data[y*rowBytes : (y+1)*rowBytes]
		if pf.BitDepth() == 2 {
			for j := 0; j < rowBytes; j += 2 {
				row[1+j], row[2+j] = src[j+1], src[j]
			}
		} else {
			copy(row[1:], src)
		}
		if _, err := zw.Write(row); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return utils.CloneBytes(buf.Bytes()), nil
}

type pngChunkWriter struct {
	s      *core.Stream
	failed bool
}

func (w *pngChunkWriter) raw(p []byte) {
	if !w.failed && w.s.Write(p) < 0 {
		w.failed = true
	}
}

func (w *pngChunkWriter) chunk(typ string, data []byte) {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(data)))
	copy(hdr[4:], typ)
	crc := crc32.NewIEEE()
	crc.Write(hdr[4:])
	crc.Write(data)
	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc.Sum32())

	w.raw(hdr[:])
	if len(data) > 0 {
		w.raw(data)
	}
	w.raw(sum[:])
}
