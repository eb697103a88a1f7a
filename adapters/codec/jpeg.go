package codec

import (
	"bytes"
	"encoding/binary"
	"image/jpeg"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/utils"
)

const (
	jpegICCTag = "ICC_PROFILE\x00"
	// jpegProfileName is reported for every APP2 profile; the marker has no
	// room for a name.
	jpegProfileName = "ICC_PROFILE"
	// jpegICCChunk is the most profile data one APP2 segment can carry.
	jpegICCChunk = 0xffff - 2 - len(jpegICCTag) - 2
	// maxJPEGICC is the largest profile the one-byte segment counter can split.
	maxJPEGICC = 255 * jpegICCChunk
)

// JPEG decodes and encodes baseline/progressive 8-bit JPEG with image/jpeg.
// ICC profiles travel in APP2 ICC_PROFILE segments, which this engine reads
// and writes itself.
type JPEG struct {
	quality int
}

// NewJPEG returns a JPEG engine whose default quality is quality.
func NewJPEG(quality int) *JPEG {
	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &JPEG{quality: quality}
}

func (e *JPEG) Format() core.Format { return core.FormatJPEG }

func (e *JPEG) CanLoad(s *core.Stream) bool {
	h, ok := s.Peek(3)
	return ok && utils.HasSignature(h, 0, []byte{0xff, 0xd8, 0xff})
}

func (e *JPEG) NewImage() core.Image {
	img := &jpegImage{engine: e}
	img.name = "jpeg"
	img.decodeFn = jpeg.Decode
	return img
}

func (e *JPEG) IsFormatSupported(pf core.PixelFormat) bool {
	return pf == core.R8U || pf == core.RGB8U
}

// WriteFormatFor keeps gray data gray and writes everything else as RGB8U.
// Alpha is discarded.
func (e *JPEG) WriteFormatFor(pf core.PixelFormat) core.PixelFormat {
	if !pf.Valid() {
		return core.PixelFormatInvalid
	}
	if pf.Info().Channels == 1 {
		return core.R8U
	}
	return core.RGB8U
}

type jpegImage struct {
	stdImage
	engine  *JPEG
	profile []byte
}

func (i *jpegImage) Open(s *core.Stream) apperrors.Status {
	if st := i.bind(s); st != apperrors.StatusOK {
		return st
	}
	st := i.scanMarkers()
	if rs := i.rewind(); st == apperrors.StatusOK {
		st = rs
	}
	return st
}

func isSOF(m byte) bool {
	return m >= 0xc0 && m <= 0xcf && m != 0xc4 && m != 0xc8 && m != 0xcc
}

// scanMarkers reads segments up to the first scan, picking up the frame
// header and any ICC profile chunks.
func (i *jpegImage) scanMarkers() apperrors.Status {
	s := i.stream
	var b [2]byte
	if s.Read(b[:]) != 2 || b[0] != 0xff || b[1] != 0xd8 {
		return i.fail(apperrors.StatusLoadFailedExternal, "missing SOI marker")
	}

	var (
		haveSOF bool
		chunks  = map[byte][]byte{}
		count   byte
	)
	for {
		var one [1]byte
		if s.Read(one[:]) != 1 {
			return i.fail(apperrors.StatusLoadFailedExternal, "truncated before first scan")
		}
		if one[0] != 0xff {
			continue
		}
		marker := byte(0xff)
		for marker == 0xff {
			if s.Read(one[:]) != 1 {
				return i.fail(apperrors.StatusLoadFailedExternal, "truncated marker")
			}
			marker = one[0]
		}
		switch {
		case marker == 0x00, marker == 0x01, marker == 0xd8, marker >= 0xd0 && marker <= 0xd7:
			continue
		case marker == 0xda, marker == 0xd9:
			if !haveSOF {
				return i.fail(apperrors.StatusLoadFailedExternal, "no frame header before scan")
			}
			i.assembleProfile(chunks, count)
			return apperrors.StatusOK
		}

		if s.Read(b[:]) != 2 {
			return i.fail(apperrors.StatusLoadFailedExternal, "truncated segment length")
		}
		n := int(binary.BigEndian.Uint16(b[:])) - 2
		if n < 0 {
			return i.fail(apperrors.StatusLoadFailedExternal, "bad segment length")
		}

		switch {
		case isSOF(marker):
			seg := make([]byte, n)
			if n < 6 || s.Read(seg) != n {
				return i.fail(apperrors.StatusLoadFailedExternal, "truncated frame header")
			}
			if seg[0] != 8 {
				return i.fail(apperrors.StatusLoadFailedExternal, "%d-bit samples are not supported", seg[0])
			}
			i.height = int(binary.BigEndian.Uint16(seg[1:3]))
			i.width = int(binary.BigEndian.Uint16(seg[3:5]))
			comps := int(seg[5])
			i.raw = core.RawLayout{Channels: comps, BytesPerChannel: 1, Kind: core.SampleInt}
			i.native = core.RGB8U
			if comps == 1 {
				i.native = core.R8U
			}
			haveSOF = true
		case marker == 0xe2:
			seg := make([]byte, n)
			if s.Read(seg) != n {
				return i.fail(apperrors.StatusLoadFailedExternal, "truncated APP2 segment")
			}
			if n > len(jpegICCTag)+2 && string(seg[:len(jpegICCTag)]) == jpegICCTag {
				seq := seg[len(jpegICCTag)]
				count = seg[len(jpegICCTag)+1]
				chunks[seq] = seg[len(jpegICCTag)+2:]
			}
		default:
			if s.Seek(int64(n), core.SeekCurrent) < 0 {
				return i.fail(apperrors.StatusIOFailed, "cannot skip segment %#x", marker)
			}
		}
	}
}

// assembleProfile joins chunks 1..count; an incomplete set is ignored.
func (i *jpegImage) assembleProfile(chunks map[byte][]byte, count byte) {
	if count == 0 || len(chunks) != int(count) {
		return
	}
	var profile []byte
	for seq := byte(1); seq <= count; seq++ {
		c, ok := chunks[seq]
		if !ok {
			return
		}
		profile = append(profile, c...)
	}
	i.profile = profile
}

func (i *jpegImage) Info() (core.ImageInfo, apperrors.Status) {
	info, st := i.stdImage.Info()
	info.ColourProfileLen = len(i.profile)
	return info, st
}

func (i *jpegImage) ColourProfile(dst []byte) (string, int, apperrors.Status) {
	if len(i.profile) == 0 {
		return "", 0, apperrors.StatusOK
	}
	return jpegProfileName, fillProfile(dst, i.profile), apperrors.StatusOK
}

func (i *jpegImage) VerifyEncodeOptions(opts core.EncodeOptions) apperrors.Status {
	if _, _, st := optionsAs[JPEGOptions](opts); st != apperrors.StatusOK {
		return i.fail(st, "options of type %T are not jpeg options", opts)
	}
	return apperrors.StatusOK
}

func (i *jpegImage) Write(req core.WriteRequest, s *core.Stream) apperrors.Status {
	o, given, _ := optionsAs[JPEGOptions](req.Options)
	quality := i.engine.quality
	if given {
		quality = o.Quality
	}
	if req.Profile != nil && len(req.Profile.Data) > maxJPEGICC {
		return i.fail(apperrors.StatusInvalidEncodeArgs, "profile of %d bytes exceeds %d", len(req.Profile.Data), maxJPEGICC)
	}

	target := i.engine.WriteFormatFor(req.Format)
	data, err := toWriteFormat(req, target)
	if err != nil {
		return i.fail(apperrors.StatusConversionFailedBadFormat, "%v", err)
	}
	img, err := ImageFromPixels(data, req.Width, req.Height, target)
	if err != nil {
		return i.fail(apperrors.StatusWriteFailedInternal, "%v", err)
	}

	buf := utils.AcquireBuffer()
	defer utils.ReleaseBuffer(buf)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return i.fail(apperrors.StatusWriteFailedExternal, "encode: %v", err)
	}
	encoded := buf.Bytes()
	if req.Profile == nil {
		return i.writeOut(s, encoded)
	}

	// SOI, then the profile segments, then the rest of the stream.
	if st := i.writeOut(s, encoded[:2]); st != apperrors.StatusOK {
		return st
	}
	if st := i.writeOut(s, jpegICCSegments(req.Profile.Data)); st != apperrors.StatusOK {
		return st
	}
	return i.writeOut(s, encoded[2:])
}

func jpegICCSegments(profile []byte) []byte {
	count := (len(profile) + jpegICCChunk - 1) / jpegICCChunk
	var out bytes.Buffer
	for seq := 1; seq <= count; seq++ {
		chunk := profile[(seq-1)*jpegICCChunk : min(len(profile), seq*jpegICCChunk)]
		var hdr [4]byte
		hdr[0], hdr[1] = 0xff, 0xe2
		binary.BigEndian.PutUint16(hdr[2:], uint16(2+len(jpegICCTag)+2+len(chunk)))
		out.Write(hdr[:])
		out.WriteString(jpegICCTag)
		out.Write([]byte{byte(seq), byte(count)})
		out.Write(chunk)
	}
	return out.Bytes()
}
