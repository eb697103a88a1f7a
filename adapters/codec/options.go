package codec

import (
	"fmt"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
)

// PNGOptions tunes the PNG encoder.
type PNGOptions struct {
	// CompressionLevel is the zlib level, 0 (store) to 9 (best).
	CompressionLevel int
}

func (PNGOptions) Format() core.Format { return core.FormatPNG }

func (o PNGOptions) Validate() error {
	if o.CompressionLevel < 0 || o.CompressionLevel > 9 {
		return fmt.Errorf("png compression level %d out of range [0,9]", o.CompressionLevel)
	}
	return nil
}

// JPEGOptions tunes the JPEG encoder.
type JPEGOptions struct {
	Quality int // 1-100
}

func (JPEGOptions) Format() core.Format { return core.FormatJPEG }

func (o JPEGOptions) Validate() error {
	if o.Quality < 1 || o.Quality > 100 {
		return fmt.Errorf("jpeg quality %d out of range [1,100]", o.Quality)
	}
	return nil
}

// TIFFCompression selects the TIFF strip compression.
type TIFFCompression int

const (
	TIFFUncompressed TIFFCompression = iota
	TIFFDeflate
)

// TIFFOptions tunes the TIFF encoder.
type TIFFOptions struct {
	Compression TIFFCompression
}

func (TIFFOptions) Format() core.Format { return core.FormatTIFF }

func (o TIFFOptions) Validate() error {
	if o.Compression != TIFFUncompressed && o.Compression != TIFFDeflate {
		return fmt.Errorf("unknown tiff compression %d", o.Compression)
	}
	return nil
}

// RawCompression selects how the raw container stores its payload.
type RawCompression int

const (
	RawUncompressed RawCompression = iota
	RawZstd
)

// ParseRawCompression maps a configuration name to a RawCompression.
func ParseRawCompression(name string) (RawCompression, error) {
	switch name {
	case "", "none":
		return RawUncompressed, nil
	case "zstd":
		return RawZstd, nil
	}
	return 0, fmt.Errorf("unknown raw compression %q", name)
}

// RawOptions tunes the raw container writer.
type RawOptions struct {
	Compression RawCompression
	// Level is the zstd encoder level, 1 (fastest) to 4 (best). 0 picks the
	// zstd default.
	Level int
}

func (RawOptions) Format() core.Format { return core.FormatRaw }

func (o RawOptions) Validate() error {
	if o.Compression != RawUncompressed && o.Compression != RawZstd {
		return fmt.Errorf("unknown raw compression %d", o.Compression)
	}
	if o.Level < 0 || o.Level > 4 {
		return fmt.Errorf("raw zstd level %d out of range [0,4]", o.Level)
	}
	return nil
}

// optionsAs extracts engine options of type T. Pointer options are unwrapped
// by core.OptionsValue first. A nil opts yields ok with the zero value so
// callers can apply their defaults.
func optionsAs[T core.EncodeOptions](opts core.EncodeOptions) (v T, given bool, status apperrors.Status) {
	switch o := core.OptionsValue(opts).(type) {
	case nil:
		return v, false, apperrors.StatusOK
	case T:
		return o, true, apperrors.StatusOK
	}
	return v, false, apperrors.StatusInvalidEncodeArgs
}

// EXRCompression is the scanline compression written to, or read from, an
// OpenEXR file.
type EXRCompression uint8

const (
	EXRNone EXRCompression = 0
	EXRRLE  EXRCompression = 1
	EXRZIPS EXRCompression = 2
	EXRZIP  EXRCompression = 3
)

func (c EXRCompression) linesPerBlock() int {
	if c == EXRZIP {
		return 16
	}
	return 1
}

// ParseEXRCompression maps a configuration name to an EXRCompression. The
// empty name selects ZIP.
func ParseEXRCompression(name string) (EXRCompression, error) {
	switch name {
	case "none":
		return EXRNone, nil
	case "zips":
		return EXRZIPS, nil
	case "", "zip":
		return EXRZIP, nil
	}
	return 0, fmt.Errorf("unknown exr compression %q", name)
}

// EXROptions tunes the OpenEXR encoder. The zero value writes uncompressed
// scanlines.
type EXROptions struct {
	Compression EXRCompression
}

func (EXROptions) Format() core.Format { return core.FormatEXR }

func (o EXROptions) Validate() error {
	switch o.Compression {
	case EXRNone, EXRZIPS, EXRZIP:
		return nil
	}
	return fmt.Errorf("exr compression %d cannot be written", o.Compression)
}

// TGAOptions tunes the TGA encoder.
type TGAOptions struct {
	// RLE packs each row into run-length packets.
	RLE bool
}

func (TGAOptions) Format() core.Format { return core.FormatTGA }

func (TGAOptions) Validate() error { return nil }
