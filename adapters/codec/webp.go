package codec

import (
	"image/color"

	"golang.org/x/image/webp"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/utils"
)

// WebP decodes lossy and lossless WebP with golang.org/x/image/webp. There
// is no pure-Go encoder, so writing always fails with an unsupported-format
// error.
type WebP struct{}

func NewWebP() *WebP { return &WebP{} }

func (e *WebP) Format() core.Format { return core.FormatWebP }

func (e *WebP) CanLoad(s *core.Stream) bool {
	h, ok := s.Peek(12)
	return ok && utils.HasSignature(h, 0, []byte("RIFF")) && utils.HasSignature(h, 8, []byte("WEBP"))
}

func (e *WebP) NewImage() core.Image {
	img := &webpImage{}
	img.name = "webp"
	img.decodeFn = webp.Decode
	return img
}

func (e *WebP) IsFormatSupported(core.PixelFormat) bool { return false }

func (e *WebP) WriteFormatFor(core.PixelFormat) core.PixelFormat { return core.PixelFormatInvalid }

type webpImage struct {
	stdImage
}

func (i *webpImage) Open(s *core.Stream) apperrors.Status {
	if st := i.bind(s); st != apperrors.StatusOK {
		return st
	}
	cfg, err := webp.DecodeConfig(s.Reader())
	if st := i.rewind(); st != apperrors.StatusOK {
		return st
	}
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "header: %v", err)
	}
	i.width, i.height = cfg.Width, cfg.Height
	i.native = core.RGBA8U
	if cfg.ColorModel == color.YCbCrModel {
		i.native = core.RGB8U
	}
	i.raw = i.native.Layout()
	return apperrors.StatusOK
}
