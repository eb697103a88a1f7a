package core

import "time"

// Format identifies an on-disk image file format.
type Format string

const (
	FormatRaw     Format = "raw"
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatTIFF    Format = "tiff"
	FormatBMP     Format = "bmp"
	FormatWebP    Format = "webp"
	FormatQOI     Format = "qoi"
	FormatAVIF    Format = "avif"
	FormatEXR     Format = "exr"
	FormatHDR     Format = "hdr"
	FormatTGA     Format = "tga"
	FormatUnknown Format = "unknown"
)

// SampleKind distinguishes integer from floating-point channel samples.
type SampleKind int

const (
	SampleUnknown SampleKind = iota
	SampleInt
	SampleFloat
)

func (k SampleKind) String() string {
	switch k {
	case SampleInt:
		return "int"
	case SampleFloat:
		return "float"
	}
	return "unknown"
}

// RawLayout describes pixel storage as found in the source file, before any
// decode-time conversion.
type RawLayout struct {
	Channels        int
	BytesPerChannel int
	Kind            SampleKind
}

// ColourProfile is an opaque engine-defined profile blob plus its name.
type ColourProfile struct {
	Name string
	Data []byte
}

// Metadata holds image information extracted without decoding pixel data.
// It is immutable once populated by Session.Inspect.
type Metadata struct {
	Width  int
	Height int
	Format Format

	Raw           RawLayout
	DecodedFormat PixelFormat

	// ColourProfileLen is the engine-reported profile size; 0 means no profile.
	ColourProfileLen int
	ColourProfile    *ColourProfile // nil when the source carries none
}

// ImageInfo is what an engine reports about an opened image.
type ImageInfo struct {
	Width            int
	Height           int
	Raw              RawLayout
	DecodedFormat    PixelFormat
	ColourProfileLen int
}

// EncodeOptions carries engine-specific encode parameters. The core passes
// them through untouched; the target engine checks that they belong to it.
type EncodeOptions interface {
	// Format reports the file format the options were built for.
	Format() Format
	// Validate checks the option values themselves.
	Validate() error
}

// WriteRequest is everything an engine needs to encode one image.
type WriteRequest struct {
	Data    []byte
	Width   int
	Height  int
	Format  PixelFormat
	Profile *ColourProfile // nil when no profile should be embedded
	Options EncodeOptions  // nil selects engine defaults
}

// StorageKey uniquely identifies a stored image.
type StorageKey struct {
	Bucket string
	Path   string
}

// State is the lifecycle position of a Session.
type State int

const (
	StateOpened State = iota
	StateInspected
	StateDecoded
	StateEncoded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateInspected:
		return "inspected"
	case StateDecoded:
		return "decoded"
	case StateEncoded:
		return "encoded"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// OpEvent is what hooks observe after each session operation.
type OpEvent struct {
	Op       string
	Format   Format
	Meta     *Metadata // nil before inspection
	Bytes    int64     // pixel bytes transferred by decode/encode
	Duration time.Duration
	Err      error
}
