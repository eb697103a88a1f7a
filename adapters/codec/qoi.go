package codec

import (
	"encoding/binary"

	"github.com/xfmoulet/qoi"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/utils"
)

const (
	qoiHeaderLen     = 14
	qoiChannelsByte  = 12
	qoiMaxDimensions = 1 << 30
)

// QOI wraps github.com/xfmoulet/qoi. The library always stores RGBA and
// always declares 4 channels; the header's channel byte is informative, so
// the engine rewrites it to describe the data it was given.
//
// The encoder stores colour premultiplied by alpha, so only opaque pixels
// round-trip exactly.
type QOI struct{}

func NewQOI() *QOI { return &QOI{} }

func (e *QOI) Format() core.Format { return core.FormatQOI }

func (e *QOI) CanLoad(s *core.Stream) bool {
	h, ok := s.Peek(qoiHeaderLen)
	return ok && utils.HasSignature(h, 0, []byte("qoif"))
}

func (e *QOI) NewImage() core.Image {
	img := &qoiImage{}
	img.name = "qoi"
	img.decodeFn = qoi.Decode
	return img
}

func (e *QOI) IsFormatSupported(pf core.PixelFormat) bool {
	return pf == core.RGB8U || pf == core.RGBA8U
}

func (e *QOI) WriteFormatFor(pf core.PixelFormat) core.PixelFormat {
	if !pf.Valid() {
		return core.PixelFormatInvalid
	}
	if pf.Info().Channels == 4 {
		return core.RGBA8U
	}
	return core.RGB8U
}

type qoiImage struct {
	stdImage
}

func (i *qoiImage) Open(s *core.Stream) apperrors.Status {
	if st := i.bind(s); st != apperrors.StatusOK {
		return st
	}
	hdr := make([]byte, qoiHeaderLen)
	n := s.Read(hdr)
	if st := i.rewind(); st != apperrors.StatusOK {
		return st
	}
	if n != qoiHeaderLen {
		return i.fail(apperrors.StatusLoadFailedExternal, "truncated header")
	}
	w, h := binary.BigEndian.Uint32(hdr[4:]), binary.BigEndian.Uint32(hdr[8:])
	if uint64(w)*uint64(h) >= qoiMaxDimensions {
		return i.fail(apperrors.StatusLoadFailedExternal, "image of %dx%d is too large", w, h)
	}
	i.width, i.height = int(w), int(h)
	switch hdr[qoiChannelsByte] {
	case 3:
		i.native = core.RGB8U
	case 4:
		i.native = core.RGBA8U
	default:
		return i.fail(apperrors.StatusLoadFailedExternal, "bad channel count %d", hdr[qoiChannelsByte])
	}
	i.raw = i.native.Layout()
	return apperrors.StatusOK
}

func (i *qoiImage) VerifyEncodeOptions(opts core.EncodeOptions) apperrors.Status {
	if opts != nil {
		return i.fail(apperrors.StatusInvalidEncodeArgs, "qoi takes no encode options, got %T", opts)
	}
	return apperrors.StatusOK
}

func (i *qoiImage) Write(req core.WriteRequest, s *core.Stream) apperrors.Status {
	target := (&QOI{}).WriteFormatFor(req.Format)
	data, err := toWriteFormat(req, target)
	if err != nil {
		return i.fail(apperrors.StatusConversionFailedBadFormat, "%v", err)
	}
	img, err := ImageFromPixels(data, req.Width, req.Height, target)
	if err != nil {
		return i.fail(apperrors.StatusWriteFailedInternal, "%v", err)
	}
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := qoi.Encode(buf, img); err != nil {
		return i.fail(apperrors.StatusWriteFailedExternal, "encode: %v", err)
	}
	out := buf.Bytes()
	out[qoiChannelsByte] = byte(target.Info().Channels)
	return i.writeOut(s, out)
}
