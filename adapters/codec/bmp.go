package codec

import (
	"encoding/binary"

	"golang.org/x/image/bmp"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/utils"
)

const bmpInfoHeaderLen = 40

// BMP wraps golang.org/x/image/bmp. The encoder only emits a 40-byte info
// header, which cannot carry alpha, so everything is written as RGB8U.
type BMP struct{}

func NewBMP() *BMP { return &BMP{} }

func (e *BMP) Format() core.Format { return core.FormatBMP }

// CanLoad wants "BM" followed by a known DIB header size; two bytes alone
// are too weak a signature.
func (e *BMP) CanLoad(s *core.Stream) bool {
	h, ok := s.Peek(18)
	if !ok || !utils.HasSignature(h, 0, []byte("BM")) {
		return false
	}
	switch binary.LittleEndian.Uint32(h[14:]) {
	case 12, 40, 52, 56, 64, 108, 124:
		return true
	}
	return false
}

func (e *BMP) NewImage() core.Image {
	img := &bmpImage{}
	img.name = "bmp"
	img.decodeFn = bmp.Decode
	return img
}

func (e *BMP) IsFormatSupported(pf core.PixelFormat) bool { return pf == core.RGB8U }

func (e *BMP) WriteFormatFor(pf core.PixelFormat) core.PixelFormat {
	if !pf.Valid() {
		return core.PixelFormatInvalid
	}
	return core.RGB8U
}

type bmpImage struct {
	stdImage
}

func (i *bmpImage) Open(s *core.Stream) apperrors.Status {
	if st := i.bind(s); st != apperrors.StatusOK {
		return st
	}
	hdr := make([]byte, 30)
	n := s.Read(hdr)
	if st := i.rewind(); st != apperrors.StatusOK {
		return st
	}
	if n != len(hdr) {
		return i.fail(apperrors.StatusLoadFailedExternal, "truncated header")
	}
	cfg, err := bmp.DecodeConfig(s.Reader())
	if st := i.rewind(); st != apperrors.StatusOK {
		return st
	}
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "header: %v", err)
	}
	i.width, i.height = cfg.Width, cfg.Height

	infoLen := binary.LittleEndian.Uint32(hdr[14:])
	switch bpp := binary.LittleEndian.Uint16(hdr[28:]); {
	case bpp == 32 && infoLen > bmpInfoHeaderLen:
		i.raw = core.RGBA8U.Layout()
		i.native = core.RGBA8U
	case bpp >= 24:
		i.raw = core.RawLayout{Channels: int(bpp) / 8, BytesPerChannel: 1, Kind: core.SampleInt}
		i.native = core.RGB8U
	default:
		// palette indices expand to RGB
		i.raw = core.RawLayout{Channels: 1, BytesPerChannel: 1, Kind: core.SampleInt}
		i.native = core.RGB8U
	}
	return apperrors.StatusOK
}

func (i *bmpImage) VerifyEncodeOptions(opts core.EncodeOptions) apperrors.Status {
	if opts != nil {
		return i.fail(apperrors.StatusInvalidEncodeArgs, "bmp takes no encode options, got %T", opts)
	}
	return apperrors.StatusOK
}

func (i *bmpImage) Write(req core.WriteRequest, s *core.Stream) apperrors.Status {
	data, err := toWriteFormat(req, core.RGB8U)
	if err != nil {
		return i.fail(apperrors.StatusConversionFailedBadFormat, "%v", err)
	}
	img, err := ImageFromPixels(data, req.Width, req.Height, core.RGB8U)
	if err != nil {
		return i.fail(apperrors.StatusWriteFailedInternal, "%v", err)
	}
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := bmp.Encode(buf, img); err != nil {
		return i.fail(apperrors.StatusWriteFailedExternal, "encode: %v", err)
	}
	return i.writeOut(s, buf.Bytes())
}
