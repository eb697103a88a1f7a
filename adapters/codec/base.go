// Package codec holds the built-in format engines. Each engine is stateless
// and hands out one imageHandle-backed Image per session.
package codec

import (
	"fmt"
	"image"
	"io"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
)

// imageHandle carries the state every engine image shares: the bound stream,
// the offset the image starts at and the detail text of the last failure.
type imageHandle struct {
	name    string
	stream  *core.Stream
	start   int64
	details string
}

func (h *imageHandle) ErrorDetails() string { return h.details }

func (h *imageHandle) fail(status apperrors.Status, format string, args ...any) apperrors.Status {
	h.details = h.name + ": " + fmt.Sprintf(format, args...)
	return status
}

// bind remembers s and the current offset so later passes can rewind.
func (h *imageHandle) bind(s *core.Stream) apperrors.Status {
	h.stream = s
	h.start = s.Tell()
	if h.start < 0 {
		return h.fail(apperrors.StatusIOFailed, "cannot read stream position")
	}
	return apperrors.StatusOK
}

func (h *imageHandle) rewind() apperrors.Status {
	if h.stream == nil {
		return h.fail(apperrors.StatusLoadFailedInternal, "image was not opened")
	}
	if h.stream.Seek(h.start, core.SeekStart) < 0 {
		return h.fail(apperrors.StatusIOFailed, "cannot seek to image start")
	}
	return apperrors.StatusOK
}

func (h *imageHandle) Close() { h.stream = nil }

// ColourProfile reports no profile. Engines that carry one override it.
func (h *imageHandle) ColourProfile([]byte) (string, int, apperrors.Status) {
	return "", 0, apperrors.StatusOK
}

// fillProfile answers both phases of a profile query: a nil dst asks for
// the length, anything else is filled.
func fillProfile(dst, profile []byte) int {
	if dst == nil {
		return len(profile)
	}
	return copy(dst, profile)
}

// deliver copies native pixels into dst, converting when the caller asked for
// another layout.
func (h *imageHandle) deliver(dst, pix []byte, w, height int, native, target core.PixelFormat) apperrors.Status {
	if target == native {
		if copy(dst, pix) != len(dst) {
			return h.fail(apperrors.StatusLoadFailedInternal, "decoded %d bytes, need %d", len(pix), len(dst))
		}
		return apperrors.StatusOK
	}
	if err := Convert(pix, dst, w, height, native, target); err != nil {
		return h.fail(apperrors.StatusConversionFailedBadFormat, "%v", err)
	}
	return apperrors.StatusOK
}

// writeOut pushes p through the stream's write callback.
func (h *imageHandle) writeOut(s *core.Stream, p []byte) apperrors.Status {
	if s.Write(p) < 0 {
		return h.fail(apperrors.StatusIOFailed, "cannot write encoded data")
	}
	return apperrors.StatusOK
}

// stdImage is the decode half of an Image whose pixels come from a Go image
// decoder. Engines embed it, fill width, height, raw and native in Open, and
// override the encode methods when they can write.
type stdImage struct {
	imageHandle
	width, height int
	raw           core.RawLayout
	native        core.PixelFormat
	decodeFn      func(io.Reader) (image.Image, error)
}

func (i *stdImage) Info() (core.ImageInfo, apperrors.Status) {
	return core.ImageInfo{
		Width:         i.width,
		Height:        i.height,
		Raw:           i.raw,
		DecodedFormat: i.native,
	}, apperrors.StatusOK
}

func (i *stdImage) Decode(dst []byte, target core.PixelFormat) apperrors.Status {
	if st := i.rewind(); st != apperrors.StatusOK {
		return st
	}
	img, err := i.decodeFn(i.stream.Reader())
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != i.width || b.Dy() != i.height {
		return i.fail(apperrors.StatusLoadFailedExternal, "decoded %dx%d, header says %dx%d",
			b.Dx(), b.Dy(), i.width, i.height)
	}
	pix, err := PixelsFromImage(img, i.native)
	if err != nil {
		return i.fail(apperrors.StatusLoadFailedInternal, "%v", err)
	}
	return i.deliver(dst, pix, i.width, i.height, i.native, target)
}

func (i *stdImage) VerifyEncodeOptions(core.EncodeOptions) apperrors.Status {
	return i.fail(apperrors.StatusInvalidEncodeArgs, "encoding is not supported")
}

func (i *stdImage) Write(core.WriteRequest, *core.Stream) apperrors.Status {
	return i.fail(apperrors.StatusUnsupportedFiletype, "encoding is not supported")
}
