package core

import (
	"unsafe"

	apperrors "github.com/Skryldev/imagecodec/errors"
)

// BufferView is a borrowed, non-owning view of caller memory holding pixel
// data shaped Height x Width x Channels. The caller keeps ownership; the core
// only borrows it for one decode or encode call.
type BufferView struct {
	Data []byte

	Height          int
	Width           int
	Channels        int
	BytesPerElement int // bytes per channel sample
	Kind            SampleKind

	// Stride is the distance between rows in bytes; 0 means tightly packed.
	Stride   int
	ReadOnly bool
}

// NewBufferView allocates a packed, writable view for a width x height image.
func NewBufferView(width, height int, pf PixelFormat) *BufferView {
	if width < 0 || height < 0 {
		width, height = 0, 0
	}
	return ViewOf(make([]byte, pf.ImageBytes(width, height)), width, height, pf)
}

// ViewOf describes existing memory as a packed image in pf.
func ViewOf(data []byte, width, height int, pf PixelFormat) *BufferView {
	info := pf.Info()
	return &BufferView{
		Data:            data,
		Height:          height,
		Width:           width,
		Channels:        info.Channels,
		BytesPerElement: info.BytesPerChannel,
		Kind:            info.Kind,
	}
}

// RowBytes is the packed size of one row.
func (b *BufferView) RowBytes() int { return b.Width * b.Channels * b.BytesPerElement }

// ByteLength is the size of the underlying memory.
func (b *BufferView) ByteLength() int { return len(b.Data) }

// PixelFormat infers the layout from shape and sample kind.
func (b *BufferView) PixelFormat() PixelFormat {
	return FormatFor(b.Channels, b.BytesPerElement, b.Kind)
}

// Contiguous reports whether rows are packed back to back.
func (b *BufferView) Contiguous() bool { return b.Stride == 0 || b.Stride == b.RowBytes() }

// Writable reports whether the engine may write into the view.
func (b *BufferView) Writable() bool { return !b.ReadOnly }

// Aligned reports whether the first element sits on a multiple of its size.
func (b *BufferView) Aligned() bool { return b.alignedTo(b.BytesPerElement) }

func (b *BufferView) alignedTo(n int) bool {
	if len(b.Data) == 0 || n <= 1 {
		return true
	}
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(b.Data)))
	return addr%uintptr(n) == 0
}

// ValidateDecodeTarget checks that b can receive a width x height image in pf.
// It never mutates b and must pass before any engine touches the memory.
func ValidateDecodeTarget(b *BufferView, width, height int, pf PixelFormat) error {
	const op = "buffer.validate_decode"
	if b == nil {
		return apperrors.Newf(apperrors.KindInvalidBufferFlags, op, "destination buffer is nil")
	}
	if !pf.Valid() {
		return apperrors.Newf(apperrors.KindUnsupportedFormat, op, "target format %s", pf)
	}
	need, ok := pf.ImageSize(width, height)
	if !ok {
		return apperrors.Newf(apperrors.KindBufferTooSmall, op,
			"no buffer can hold a %dx%d %s image", width, height, pf)
	}
	if b.ByteLength() < need {
		return apperrors.Newf(apperrors.KindBufferTooSmall, op,
			"destination holds %d bytes, %dx%d %s needs %d", b.ByteLength(), width, height, pf, need)
	}
	if !b.Contiguous() || !b.Writable() || !b.Aligned() || !b.alignedTo(pf.BitDepth()) {
		return apperrors.Newf(apperrors.KindInvalidBufferFlags, op,
			"destination must be contiguous, writable and aligned (contiguous=%t writable=%t aligned=%t)",
			b.Contiguous(), b.Writable(), b.Aligned() && b.alignedTo(pf.BitDepth()))
	}
	return nil
}

// ValidateEncodeSource checks that b can be handed to an engine for writing
// and returns its inferred pixel format. Writability is not required.
func ValidateEncodeSource(b *BufferView) (PixelFormat, error) {
	const op = "buffer.validate_encode"
	if b == nil {
		return PixelFormatInvalid, apperrors.Newf(apperrors.KindInvalidBufferFlags, op, "source buffer is nil")
	}
	if !b.Contiguous() || !b.Aligned() {
		return PixelFormatInvalid, apperrors.Newf(apperrors.KindInvalidBufferFlags, op,
			"source must be contiguous and aligned (contiguous=%t aligned=%t)", b.Contiguous(), b.Aligned())
	}
	pf := b.PixelFormat()
	if !pf.Valid() {
		return PixelFormatInvalid, apperrors.Newf(apperrors.KindUnsupportedFormat, op,
			"no pixel format has %d channels of %d-byte %s samples", b.Channels, b.BytesPerElement, b.Kind)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return PixelFormatInvalid, apperrors.Newf(apperrors.KindInvalidBufferFlags, op,
			"invalid dimensions %dx%d", b.Width, b.Height)
	}
	if need, ok := pf.ImageSize(b.Width, b.Height); !ok || b.ByteLength() < need {
		return PixelFormatInvalid, apperrors.Newf(apperrors.KindBufferTooSmall, op,
			"source holds %d bytes, shape needs %d", b.ByteLength(), need)
	}
	return pf, nil
}
