package core_test

import (
	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/utils"
)

// fakeEngine claims streams starting with magic and hands out scripted images.
type fakeEngine struct {
	format core.Format
	magic  string
	out    core.PixelFormat // what WriteFormatFor answers; zero means echo
	image  *fakeImage

	decodeOnly bool
	checks int
}

func (e *fakeEngine) Format() core.Format { return e.format }

func (e *fakeEngine) CanLoad(s *core.Stream) bool {
	e.checks++
	h, ok := s.Peek(len(e.magic))
	return ok && utils.HasSignature(h, 0, []byte(e.magic))
}

func (e *fakeEngine) NewImage() core.Image {
	if e.image == nil {
		e.image = &fakeImage{}
	}
	return e.image
}

func (e *fakeEngine) IsFormatSupported(pf core.PixelFormat) bool { return pf == e.WriteFormatFor(pf) }

func (e *fakeEngine) WriteFormatFor(pf core.PixelFormat) core.PixelFormat {
	if e.decodeOnly {
		return core.PixelFormatInvalid
	}
	if e.out != core.PixelFormatInvalid || !pf.Valid() {
		return e.out
	}
	return pf
}

// fakeImage reports info and fills buffers from its fields. readOnDecode makes
// Decode pull that many bytes through the stream first.
type fakeImage struct {
	info        core.ImageInfo
	profileName string
	profile     []byte
	shortFill   bool

	openStatus   apperrors.Status
	decodeStatus apperrors.Status
	details      string
	panicOn      string
	readOnDecode int

	stream      *core.Stream
	infoCalls   int
	decodeCalls int
	closeCalls  int
	gotTarget   core.PixelFormat
	written     *core.WriteRequest
}

func (i *fakeImage) ErrorDetails() string { return i.details }

func (i *fakeImage) Open(s *core.Stream) apperrors.Status {
	i.stream = s
	return i.openStatus
}

func (i *fakeImage) Info() (core.ImageInfo, apperrors.Status) {
	i.infoCalls++
	if i.panicOn == "info" {
		panic("corrupt header table")
	}
	return i.info, apperrors.StatusOK
}

func (i *fakeImage) ColourProfile(dst []byte) (string, int, apperrors.Status) {
	if dst == nil {
		return "", len(i.profile), apperrors.StatusOK
	}
	n := copy(dst, i.profile)
	if i.shortFill {
		n--
	}
	return i.profileName, n, apperrors.StatusOK
}

func (i *fakeImage) Decode(dst []byte, target core.PixelFormat) apperrors.Status {
	i.decodeCalls++
	i.gotTarget = target
	if i.panicOn == "decode" {
		panic("index out of range")
	}
	if i.readOnDecode > 0 {
		i.stream.Read(make([]byte, i.readOnDecode))
	}
	if i.decodeStatus != apperrors.StatusOK {
		return i.decodeStatus
	}
	for k := range dst {
		dst[k] = byte(k)
	}
	return apperrors.StatusOK
}

func (i *fakeImage) VerifyEncodeOptions(opts core.EncodeOptions) apperrors.Status {
	return apperrors.StatusOK
}

func (i *fakeImage) Write(req core.WriteRequest, s *core.Stream) apperrors.Status {
	i.written = &req
	// the status ignores the stream; the session must notice a failed write
	s.Write([]byte("FAKE"))
	return apperrors.StatusOK
}

func (i *fakeImage) Close() { i.closeCalls++ }

// fakeOptions belongs to the fake format.
type fakeOptions struct {
	format core.Format
	err    error
}

func (o fakeOptions) Format() core.Format { return o.format }
func (o fakeOptions) Validate() error     { return o.err }

// recordingHook keeps every event it sees.
type recordingHook struct {
	before []string
	events []core.OpEvent
}

func (h *recordingHook) BeforeOp(op string, _ core.Format) { h.before = append(h.before, op) }
func (h *recordingHook) AfterOp(ev core.OpEvent)           { h.events = append(h.events, ev) }
