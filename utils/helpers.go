package utils

import (
	"bytes"
)

// HasSignature reports whether header carries sig at offset. A header too
// short to hold the whole signature never matches.
func HasSignature(header []byte, offset int, sig []byte) bool {
	if offset < 0 || len(header) < offset+len(sig) {
		return false
	}
	return bytes.Equal(header[offset:offset+len(sig)], sig)
}

// ContentType maps a file format name to its MIME type.
func ContentType(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "webp":
		return "image/webp"
	case "tiff":
		return "image/tiff"
	case "bmp":
		return "image/bmp"
	case "qoi":
		return "image/qoi"
	case "avif":
		return "image/avif"
	case "exr":
		return "image/x-exr"
	case "hdr":
		return "image/vnd.radiance"
	case "tga":
		return "image/x-tga"
	}
	return "application/octet-stream"
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
