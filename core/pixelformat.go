package core

import (
	"fmt"
	"math"
	"math/bits"
)

// PixelFormat identifies an in-memory pixel layout. The zero value is the
// invalid/unset sentinel.
type PixelFormat int32

const (
	PixelFormatInvalid PixelFormat = iota

	R8U
	RG8U
	RGB8U
	RGBA8U

	R16U
	RG16U
	RGB16U
	RGBA16U

	R16F
	RG16F
	RGB16F
	RGBA16F

	R32F
	RG32F
	RGB32F
	RGBA32F

	pixelFormatCount
)

// PixelFormatInfo describes the layout of one pixel format.
type PixelFormatInfo struct {
	Name            string
	Channels        int
	BytesPerChannel int
	Kind            SampleKind
}

var pixelFormatTable = [pixelFormatCount]PixelFormatInfo{
	PixelFormatInvalid: {Name: "INVALID_FORMAT", Channels: -1, BytesPerChannel: -1, Kind: SampleUnknown},

	R8U:    {Name: "R8U", Channels: 1, BytesPerChannel: 1, Kind: SampleInt},
	RG8U:   {Name: "RG8U", Channels: 2, BytesPerChannel: 1, Kind: SampleInt},
	RGB8U:  {Name: "RGB8U", Channels: 3, BytesPerChannel: 1, Kind: SampleInt},
	RGBA8U: {Name: "RGBA8U", Channels: 4, BytesPerChannel: 1, Kind: SampleInt},

	R16U:    {Name: "R16U", Channels: 1, BytesPerChannel: 2, Kind: SampleInt},
	RG16U:   {Name: "RG16U", Channels: 2, BytesPerChannel: 2, Kind: SampleInt},
	RGB16U:  {Name: "RGB16U", Channels: 3, BytesPerChannel: 2, Kind: SampleInt},
	RGBA16U: {Name: "RGBA16U", Channels: 4, BytesPerChannel: 2, Kind: SampleInt},

	R16F:    {Name: "R16F", Channels: 1, BytesPerChannel: 2, Kind: SampleFloat},
	RG16F:   {Name: "RG16F", Channels: 2, BytesPerChannel: 2, Kind: SampleFloat},
	RGB16F:  {Name: "RGB16F", Channels: 3, BytesPerChannel: 2, Kind: SampleFloat},
	RGBA16F: {Name: "RGBA16F", Channels: 4, BytesPerChannel: 2, Kind: SampleFloat},

	R32F:    {Name: "R32F", Channels: 1, BytesPerChannel: 4, Kind: SampleFloat},
	RG32F:   {Name: "RG32F", Channels: 2, BytesPerChannel: 4, Kind: SampleFloat},
	RGB32F:  {Name: "RGB32F", Channels: 3, BytesPerChannel: 4, Kind: SampleFloat},
	RGBA32F: {Name: "RGBA32F", Channels: 4, BytesPerChannel: 4, Kind: SampleFloat},
}

// Valid reports whether f names a concrete pixel layout.
func (f PixelFormat) Valid() bool { return f > PixelFormatInvalid && f < pixelFormatCount }

// Info returns the layout description; invalid formats get the sentinel row.
func (f PixelFormat) Info() PixelFormatInfo {
	if !f.Valid() {
		return pixelFormatTable[PixelFormatInvalid]
	}
	return pixelFormatTable[f]
}

func (f PixelFormat) String() string {
	if f == PixelFormatInvalid || f.Valid() {
		return f.Info().Name
	}
	return fmt.Sprintf("PixelFormat(%d)", int32(f))
}

// PixelBytes is the size of one pixel, or 0 for invalid formats.
func (f PixelFormat) PixelBytes() int {
	if !f.Valid() {
		return 0
	}
	info := pixelFormatTable[f]
	return info.Channels * info.BytesPerChannel
}

// ImageBytes is the packed size of a width x height image in this format, or
// 0 when ImageSize would report it as unrepresentable.
func (f PixelFormat) ImageBytes(width, height int) int {
	n, _ := f.ImageSize(width, height)
	return n
}

// ImageSize is the packed size of a width x height image in this format. ok is
// false for negative dimensions or a size that does not fit in an int.
func (f PixelFormat) ImageSize(width, height int) (n int, ok bool) {
	if width < 0 || height < 0 {
		return 0, false
	}
	hi, pixels := bits.Mul64(uint64(width), uint64(height))
	if hi != 0 {
		return 0, false
	}
	hi, size := bits.Mul64(pixels, uint64(f.PixelBytes()))
	if hi != 0 || size > math.MaxInt {
		return 0, false
	}
	return int(size), true
}

// Layout returns the format as a RawLayout.
func (f PixelFormat) Layout() RawLayout {
	info := f.Info()
	return RawLayout{Channels: info.Channels, BytesPerChannel: info.BytesPerChannel, Kind: info.Kind}
}

// BitDepth returns the bytes per channel, or 0 for invalid formats.
func (f PixelFormat) BitDepth() int {
	if !f.Valid() {
		return 0
	}
	return pixelFormatTable[f].BytesPerChannel
}

// WithBitDepth returns the format with the same channel count at a new depth.
// 4-byte samples are always float and 1-byte samples always integer; 2-byte
// samples keep the current kind.
func (f PixelFormat) WithBitDepth(bytesPerChannel int) PixelFormat {
	if !f.Valid() {
		return PixelFormatInvalid
	}
	info := pixelFormatTable[f]
	kind := info.Kind
	switch bytesPerChannel {
	case 1:
		kind = SampleInt
	case 2:
	case 4:
		kind = SampleFloat
	default:
		return PixelFormatInvalid
	}
	return FormatFor(info.Channels, bytesPerChannel, kind)
}

// WithChannels returns the format with the same sample type and a new channel count.
func (f PixelFormat) WithChannels(channels int) PixelFormat {
	info := f.Info()
	return FormatFor(channels, info.BytesPerChannel, info.Kind)
}

// FormatFor is the reverse lookup from a channel/sample description.
func FormatFor(channels, bytesPerChannel int, kind SampleKind) PixelFormat {
	for f := R8U; f < pixelFormatCount; f++ {
		info := pixelFormatTable[f]
		if info.Channels == channels && info.BytesPerChannel == bytesPerChannel && info.Kind == kind {
			return f
		}
	}
	return PixelFormatInvalid
}

// ParsePixelFormat looks a format up by its name, e.g. "RGBA16U".
func ParsePixelFormat(name string) PixelFormat {
	for f := R8U; f < pixelFormatCount; f++ {
		if pixelFormatTable[f].Name == name {
			return f
		}
	}
	return PixelFormatInvalid
}
