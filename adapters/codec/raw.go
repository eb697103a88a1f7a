package codec

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/utils"
)

// Raw container layout, all integers little-endian:
//
//	magic "PXRW" | version u8 | compression u8 | pixel format u16
//	width u32 | height u32
//	profile name length u16 | name | profile length u32 | profile
//	payload length u64 | payload
//
// The payload is the packed pixel buffer, optionally zstd-compressed.
var rawMagic = []byte("PXRW")

const (
	rawVersion   = 1
	rawFixedSize = 4 + 1 + 1 + 2 + 4 + 4
	maxRawName   = 1 << 10
	maxRawICC    = 64 << 20
)

// Raw stores packed pixel buffers of any pixel format losslessly.
type Raw struct {
	compression RawCompression
}

// NewRaw returns a raw engine writing with the given default compression.
func NewRaw(c RawCompression) *Raw { return &Raw{compression: c} }

func (e *Raw) Format() core.Format { return core.FormatRaw }

func (e *Raw) CanLoad(s *core.Stream) bool {
	h, ok := s.Peek(len(rawMagic) + 1)
	return ok && utils.HasSignature(h, 0, rawMagic) && h[4] == rawVersion
}

func (e *Raw) NewImage() core.Image {
	img := &rawImage{engine: e}
	img.name = "raw"
	return img
}

func (e *Raw) IsFormatSupported(pf core.PixelFormat) bool { return pf.Valid() }

func (e *Raw) WriteFormatFor(pf core.PixelFormat) core.PixelFormat {
	if !pf.Valid() {
		return core.PixelFormatInvalid
	}
	return pf
}

type rawImage struct {
	imageHandle
	engine *Raw

	width, height int
	pf            core.PixelFormat
	compression   RawCompression
	profileName   string
	profile       []byte
	payloadLen    int64
	payloadAt     int64
}

func (i *rawImage) Open(s *core.Stream) apperrors.Status {
	if st := i.bind(s); st != apperrors.StatusOK {
		return st
	}
	fixed := make([]byte, rawFixedSize)
	if s.Read(fixed) != rawFixedSize || !bytes.Equal(fixed[:4], rawMagic) {
		return i.fail(apperrors.StatusLoadFailedExternal, "truncated header")
	}
	if fixed[4] != rawVersion {
		return i.fail(apperrors.StatusLoadFailedExternal, "unsupported version %d", fixed[4])
	}
	i.compression = RawCompression(fixed[5])
	if i.compression != RawUncompressed && i.compression != RawZstd {
		return i.fail(apperrors.StatusLoadFailedExternal, "unknown compression %d", fixed[5])
	}
	i.pf = core.PixelFormat(binary.LittleEndian.Uint16(fixed[6:]))
	if !i.pf.Valid() {
		return i.fail(apperrors.StatusLoadFailedExternal, "unknown pixel format %d", int32(i.pf))
	}
	i.width = int(binary.LittleEndian.Uint32(fixed[8:]))
	i.height = int(binary.LittleEndian.Uint32(fixed[12:]))

	var n2 [2]byte
	if s.Read(n2[:]) != 2 {
		return i.fail(apperrors.StatusLoadFailedExternal, "truncated profile name")
	}
	name := make([]byte, binary.LittleEndian.Uint16(n2[:]))
	if len(name) > maxRawName || s.Read(name) != len(name) {
		return i.fail(apperrors.StatusLoadFailedExternal, "bad profile name")
	}
	var n4 [4]byte
	if s.Read(n4[:]) != 4 {
		return i.fail(apperrors.StatusLoadFailedExternal, "truncated profile length")
	}
	plen := binary.LittleEndian.Uint32(n4[:])
	if plen > maxRawICC {
		return i.fail(apperrors.StatusLoadFailedExternal, "profile length %d too large", plen)
	}
	profile := make([]byte, plen)
	if s.Read(profile) != len(profile) {
		return i.fail(apperrors.StatusLoadFailedExternal, "truncated profile")
	}
	if plen > 0 {
		i.profileName, i.profile = string(name), profile
	}

	var n8 [8]byte
	if s.Read(n8[:]) != 8 {
		return i.fail(apperrors.StatusLoadFailedExternal, "truncated payload length")
	}
	i.payloadLen = int64(binary.LittleEndian.Uint64(n8[:]))
	if i.payloadLen < 0 {
		return i.fail(apperrors.StatusLoadFailedExternal, "bad payload length")
	}
	size, ok := i.pf.ImageSize(i.width, i.height)
	if !ok {
		return i.fail(apperrors.StatusLoadFailedExternal, "%dx%d %s image is too large", i.width, i.height, i.pf)
	}
	if i.compression == RawUncompressed && i.payloadLen != int64(size) {
		return i.fail(apperrors.StatusLoadFailedExternal, "payload holds %d bytes, %dx%d %s needs %d",
			i.payloadLen, i.width, i.height, i.pf, size)
	}
	i.payloadAt = s.Tell()
	return i.rewind()
}

func (i *rawImage) Info() (core.ImageInfo, apperrors.Status) {
	return core.ImageInfo{
		Width:            i.width,
		Height:           i.height,
		Raw:              i.pf.Layout(),
		DecodedFormat:    i.pf,
		ColourProfileLen: len(i.profile),
	}, apperrors.StatusOK
}

func (i *rawImage) ColourProfile(dst []byte) (string, int, apperrors.Status) {
	return i.profileName, fillProfile(dst, i.profile), apperrors.StatusOK
}

func (i *rawImage) Decode(dst []byte, target core.PixelFormat) apperrors.Status {
	if i.stream == nil || i.stream.Seek(i.payloadAt, core.SeekStart) < 0 {
		return i.fail(apperrors.StatusIOFailed, "cannot seek to payload")
	}
	pix := dst
	if target != i.pf {
		pix = make([]byte, i.pf.ImageBytes(i.width, i.height))
	}

	var r io.Reader = io.LimitReader(i.stream.Reader(), i.payloadLen)
	if i.compression == RawZstd {
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return i.fail(apperrors.StatusLoadFailedInternal, "zstd: %v", err)
		}
		defer zr.Close()
		r = zr
	}
	if _, err := io.ReadFull(r, pix); err != nil {
		return i.fail(apperrors.StatusLoadFailedExternal, "payload: %v", err)
	}
	if target == i.pf {
		return apperrors.StatusOK
	}
	return i.deliver(dst, pix, i.width, i.height, i.pf, target)
}

func (i *rawImage) VerifyEncodeOptions(opts core.EncodeOptions) apperrors.Status {
	if _, _, st := optionsAs[RawOptions](opts); st != apperrors.StatusOK {
		return i.fail(st, "options of type %T are not raw options", opts)
	}
	return apperrors.StatusOK
}

func (i *rawImage) Write(req core.WriteRequest, s *core.Stream) apperrors.Status {
	o, given, _ := optionsAs[RawOptions](req.Options)
	if !given {
		o = RawOptions{Compression: i.engine.compression}
	}

	payload := req.Data
	if o.Compression == RawZstd {
		level := zstd.SpeedDefault
		if o.Level > 0 {
			level = zstd.EncoderLevel(o.Level)
		}
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return i.fail(apperrors.StatusWriteFailedInternal, "zstd: %v", err)
		}
		payload = enc.EncodeAll(req.Data, nil)
		enc.Close()
	}

	var name, profile []byte
	if req.Profile != nil {
		name, profile = []byte(req.Profile.Name), req.Profile.Data
		if len(profile) > maxRawICC {
			return i.fail(apperrors.StatusInvalidEncodeArgs, "profile of %d bytes exceeds %d", len(profile), maxRawICC)
		}
		if len(name) > maxRawName {
			name = name[:maxRawName]
		}
	}

	hdr := make([]byte, 0, rawFixedSize+2+len(name)+4+len(profile)+8)
	hdr = append(hdr, rawMagic...)
	hdr = append(hdr, rawVersion, byte(o.Compression))
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(req.Format))
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(req.Width))
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(req.Height))
	hdr = binary.LittleEndian.AppendUint16(hdr, uint16(len(name)))
	hdr = append(hdr, name...)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(len(profile)))
	hdr = append(hdr, profile...)
	hdr = binary.LittleEndian.AppendUint64(hdr, uint64(len(payload)))

	if st := i.writeOut(s, hdr); st != apperrors.StatusOK {
		return st
	}
	return i.writeOut(s, payload)
}
