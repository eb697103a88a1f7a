package codec

import (
	"image/color"

	"golang.org/x/image/tiff"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/utils"
)

// TIFF wraps golang.org/x/image/tiff. It writes gray and RGBA images at 8 or
// 16 bits; everything else is widened to one of those.
type TIFF struct{}

func NewTIFF() *TIFF { return &TIFF{} }

func (e *TIFF) Format() core.Format { return core.FormatTIFF }

func (e *TIFF) CanLoad(s *core.Stream) bool {
	h, ok := s.Peek(4)
	return ok && (utils.HasSignature(h, 0, []byte("II*\x00")) || utils.HasSignature(h, 0, []byte("MM\x00*")))
}

func (e *TIFF) NewImage() core.Image {
	img := &tiffImage{}
	img.name = "tiff"
	img.decodeFn = tiff.Decode
	return img
}

func (e *TIFF) IsFormatSupported(pf core.PixelFormat) bool {
	switch pf {
	case core.R8U, core.R16U, core.RGBA8U, core.RGBA16U:
		return true
	}
	return false
}

// WriteFormatFor keeps single-channel data gray and widens the rest to RGBA.
// Float data is stored as 16-bit integers.
func (e *TIFF) WriteFormatFor(pf core.PixelFormat) core.PixelFormat {
	if !pf.Valid() {
		return core.PixelFormatInvalid
	}
	info := pf.Info()
	depth := 2
	if info.BytesPerChannel == 1 {
		depth = 1
	}
	channels := 4
	if info.Channels == 1 {
		channels = 1
	}
	return core.FormatFor(channels, depth, core.SampleInt)
}

type tiffImage struct {
	stdImage
}

func (i *tiffImage) Open(s *core.Stream) apperrors.Status {
	if st := i.bind(s); st != apperrors.StatusOK {
		return st
	}
	cfg, err := tiff.DecodeConfig(s.Reader())
	if st := i.rewind(); st != apperrors.StatusOK {
		return st
	}
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "header: %v", err)
	}
	i.width, i.height = cfg.Width, cfg.Height
	i.native = tiffNative(cfg.ColorModel)
	i.raw = i.native.Layout()
	return apperrors.StatusOK
}

func tiffNative(m color.Model) core.PixelFormat {
	switch m {
	case color.GrayModel:
		return core.R8U
	case color.Gray16Model:
		return core.R16U
	case color.RGBA64Model, color.NRGBA64Model:
		return core.RGBA16U
	}
	return core.RGBA8U
}

func (i *tiffImage) VerifyEncodeOptions(opts core.EncodeOptions) apperrors.Status {
	if _, _, st := optionsAs[TIFFOptions](opts); st != apperrors.StatusOK {
		return i.fail(st, "options of type %T are not tiff options", opts)
	}
	return apperrors.StatusOK
}

func (i *tiffImage) Write(req core.WriteRequest, s *core.Stream) apperrors.Status {
	o, _, _ := optionsAs[TIFFOptions](req.Options)
	target := (&TIFF{}).WriteFormatFor(req.Format)
	data, err := toWriteFormat(req, target)
	if err != nil {
		return i.fail(apperrors.StatusConversionFailedBadFormat, "%v", err)
	}
	img, err := ImageFromPixels(data, req.Width, req.Height, target)
	if err != nil {
		return i.fail(apperrors.StatusWriteFailedInternal, "%v", err)
	}

	opt := &tiff.Options{Compression: tiff.Uncompressed}
	if o.Compression == TIFFDeflate {
		opt.Compression = tiff.Deflate
	}
	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := tiff.Encode(buf, img, opt); err != nil {
		return i.fail(apperrors.StatusWriteFailedExternal, "encode: %v", err)
	}
	return i.writeOut(s, buf.Bytes())
}
