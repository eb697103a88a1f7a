//go:build vips

// Package vips provides the AVIF engine, backed by libvips through govips.
// It is only compiled with the "vips" build tag because it needs cgo and a
// libvips installation.
package vips

import (
	"bytes"
	"fmt"
	"image/png"
	"runtime"
	"sync"

	govips "github.com/davidbyttow/govips/v2/vips"

	"github.com/Skryldev/imagecodec/adapters/codec"
	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/utils"
)

// BackendConfig configures the libvips runtime.
type BackendConfig struct {
	DefaultQuality int
	MaxCacheSize   int
	MaxWorkers     int
	ReportLeaks    bool
}

var startOnce sync.Once

// Startup initialises libvips once per process. Engines call it lazily, so
// calling it explicitly is only needed to pass non-default settings.
func Startup(cfg BackendConfig) {
	startOnce.Do(func() {
		if cfg.MaxWorkers <= 0 {
			cfg.MaxWorkers = runtime.NumCPU()
		}
		govips.Startup(&govips.Config{
			ConcurrencyLevel: cfg.MaxWorkers,
			MaxCacheSize:     cfg.MaxCacheSize,
			ReportLeaks:      cfg.ReportLeaks,
		})
	})
}

// Shutdown releases all libvips resources. Call once at process exit.
func Shutdown() { govips.Shutdown() }

// AVIF decodes and encodes 8-bit AVIF. Pixels cross the cgo boundary as PNG
// so the colour handling matches the png engine.
type AVIF struct {
	quality int
}

// NewAVIF returns an AVIF engine whose default quality is quality.
func NewAVIF(quality int) *AVIF {
	if quality < 1 || quality > 100 {
		quality = 75
	}
	return &AVIF{quality: quality}
}

func init() {
	codec.RegisterEngine(core.FormatAVIF, func(d codec.Defaults) core.Engine { return NewAVIF(d.JPEGQuality) })
}

func (e *AVIF) Format() core.Format { return core.FormatAVIF }

// CanLoad looks for an ISO-BMFF ftyp box with an AVIF brand.
func (e *AVIF) CanLoad(s *core.Stream) bool {
	h, ok := s.Peek(12)
	if !ok || !utils.HasSignature(h, 4, []byte("ftyp")) {
		return false
	}
	return utils.HasSignature(h, 8, []byte("avif")) || utils.HasSignature(h, 8, []byte("avis"))
}

func (e *AVIF) NewImage() core.Image { return &avifImage{engine: e} }

func (e *AVIF) IsFormatSupported(pf core.PixelFormat) bool {
	return pf == core.RGB8U || pf == core.RGBA8U
}

func (e *AVIF) WriteFormatFor(pf core.PixelFormat) core.PixelFormat {
	if !pf.Valid() {
		return core.PixelFormatInvalid
	}
	if pf.Info().Channels == 4 {
		return core.RGBA8U
	}
	return core.RGB8U
}

// AVIFOptions tunes the AVIF encoder.
type AVIFOptions struct {
	Quality  int // 1-100
	Lossless bool
}

func (AVIFOptions) Format() core.Format { return core.FormatAVIF }

func (o AVIFOptions) Validate() error {
	if !o.Lossless && (o.Quality < 1 || o.Quality > 100) {
		return fmt.Errorf("avif quality %d out of range [1,100]", o.Quality)
	}
	return nil
}

type avifImage struct {
	engine  *AVIF
	ref     *govips.ImageRef
	native  core.PixelFormat
	profile []byte
	details string
}

func (i *avifImage) ErrorDetails() string { return i.details }

func (i *avifImage) fail(st apperrors.Status, msg string, err error) apperrors.Status {
	i.details = "avif: " + msg
	if err != nil {
		i.details += ": " + err.Error()
	}
	return st
}

// Open reads the whole stream; libvips decodes from memory.
func (i *avifImage) Open(s *core.Stream) apperrors.Status {
	Startup(BackendConfig{})
	buf, err := utils.DrainReader(s.Reader(), 32*1024)
	if err != nil {
		return i.fail(apperrors.StatusIOFailed, "read", err)
	}
	data := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "decode header", err)
	}
	i.ref = ref
	i.native = core.RGB8U
	if ref.HasAlpha() {
		i.native = core.RGBA8U
	}
	i.profile = ref.GetICCProfile()
	return apperrors.StatusOK
}

func (i *avifImage) Info() (core.ImageInfo, apperrors.Status) {
	if i.ref == nil {
		return core.ImageInfo{}, i.fail(apperrors.StatusLoadFailedInternal, "image was not opened", nil)
	}
	return core.ImageInfo{
		Width:            i.ref.Width(),
		Height:           i.ref.Height(),
		Raw:              i.native.Layout(),
		DecodedFormat:    i.native,
		ColourProfileLen: len(i.profile),
	}, apperrors.StatusOK
}

func (i *avifImage) ColourProfile(dst []byte) (string, int, apperrors.Status) {
	if len(i.profile) == 0 {
		return "", 0, apperrors.StatusOK
	}
	if dst == nil {
		return "icc", len(i.profile), apperrors.StatusOK
	}
	return "icc", copy(dst, i.profile), apperrors.StatusOK
}

func (i *avifImage) Decode(dst []byte, target core.PixelFormat) apperrors.Status {
	if i.ref == nil {
		return i.fail(apperrors.StatusLoadFailedInternal, "image was not opened", nil)
	}
	encoded, _, err := i.ref.ExportPng(govips.NewPngExportParams())
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "export", err)
	}
	img, err := png.Decode(bytes.NewReader(encoded))
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedInternal, "reload", err)
	}
	pix, err := codec.PixelsFromImage(img, i.native)
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedInternal, "pack", err)
	}
	b := img.Bounds()
	if target == i.native {
		copy(dst, pix)
		return apperrors.StatusOK
	}
	if err := codec.Convert(pix, dst, b.Dx(), b.Dy(), i.native, target); err != nil {
		return i.fail(apperrors.StatusConversionFailedBadFormat, "convert", err)
	}
	return apperrors.StatusOK
}

func (i *avifImage) VerifyEncodeOptions(opts core.EncodeOptions) apperrors.Status {
	switch opts.(type) {
	case nil, AVIFOptions, *AVIFOptions:
		return apperrors.StatusOK
	}
	return i.fail(apperrors.StatusInvalidEncodeArgs, "options are not avif options", nil)
}

func (i *avifImage) Write(req core.WriteRequest, s *core.Stream) apperrors.Status {
	Startup(BackendConfig{})
	params := govips.NewAvifExportParams()
	params.Quality = i.engine.quality
	switch o := req.Options.(type) {
	case AVIFOptions:
		params.Quality, params.Lossless = o.Quality, o.Lossless
	case *AVIFOptions:
		if o != nil {
			params.Quality, params.Lossless = o.Quality, o.Lossless
		}
	}

	target := i.engine.WriteFormatFor(req.Format)
	data := req.Data
	if target != req.Format {
		data = make([]byte, target.ImageBytes(req.Width, req.Height))
		if err := codec.Convert(req.Data, data, req.Width, req.Height, req.Format, target); err != nil {
			return i.fail(apperrors.StatusConversionFailedBadFormat, "convert", err)
		}
	}
	img, err := codec.ImageFromPixels(data, req.Width, req.Height, target)
	if err != nil {
		return i.fail(apperrors.StatusWriteFailedInternal, "wrap", err)
	}

	var staged bytes.Buffer
	if err := png.Encode(&staged, img); err != nil {
		return i.fail(apperrors.StatusWriteFailedInternal, "stage", err)
	}
	ref, err := govips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return i.fail(apperrors.StatusWriteFailedExternal, "load staged", err)
	}
	defer ref.Close()
	out, _, err := ref.ExportAvif(params)
	if err != nil {
		return i.fail(apperrors.StatusWriteFailedExternal, "encode", err)
	}
	if s.Write(out) < 0 {
		return i.fail(apperrors.StatusIOFailed, "write", nil)
	}
	return apperrors.StatusOK
}

func (i *avifImage) Close() {
	if i.ref != nil {
		i.ref.Close()
		i.ref = nil
	}
}
