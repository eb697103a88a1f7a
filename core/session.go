package core

import (
	"fmt"
	"time"

	apperrors "github.com/Skryldev/imagecodec/errors"
)

// Session binds one stream to one resolved engine for a single decode or
// encode. It is not safe for concurrent use, and the bound stream must not be
// used through any other path until the session is closed.
type Session struct {
	stream *Stream
	engine Engine
	img    Image // nil once released
	format Format

	meta      Metadata
	inspected bool
	decoded   bool
	state     State

	ownsStream bool
	maxDecode  int64 // 0 means no limit
	hooks      []Hook
	logger     Logger
}

// SessionOption configures a Session at Open or Write time.
type SessionOption func(*Session)

// WithOwnedStream makes the session close its stream after decode or on Close.
func WithOwnedStream() SessionOption {
	return func(s *Session) { s.ownsStream = true }
}

// WithMaxDecodeBytes bounds the packed size of an image the session will
// decode or allocate for. n <= 0 leaves only the addressable-size check.
func WithMaxDecodeBytes(n int64) SessionOption {
	return func(s *Session) { s.maxDecode = n }
}

// WithHooks attaches operation observers.
func WithHooks(hooks ...Hook) SessionOption {
	return func(s *Session) { s.hooks = append(s.hooks, hooks...) }
}

// WithLogger attaches a structured logger.
func WithLogger(l Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func newSession(stream *Stream, opts []SessionOption) *Session {
	s := &Session{stream: stream, format: FormatUnknown, logger: nopLogger{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open detects the stream's format and binds a fresh engine handle to it.
// On failure the stream is closed if the session would have owned it.
func Open(reg *Registry, stream *Stream, opts ...SessionOption) (*Session, error) {
	const op = "session.open"
	if stream == nil {
		return nil, apperrors.Newf(apperrors.KindIO, op, "nil stream")
	}
	s := newSession(stream, opts)
	start := time.Now()
	s.notifyBefore(op)

	err := s.open(reg)
	s.notifyAfter(op, start, 0, err)
	if err != nil {
		s.release()
		s.state = StateClosed
		return nil, err
	}
	return s, nil
}

func (s *Session) open(reg *Registry) error {
	const op = "session.open"
	engine, err := reg.Detect(s.stream)
	if err != nil {
		return err
	}
	s.engine = engine
	s.format = engine.Format()
	s.img = engine.NewImage()
	s.logger.Debug("session.open.detected", "format", s.format)
	return s.call(op, func() apperrors.Status { return s.img.Open(s.stream) })
}

// Format returns the detected file format.
func (s *Session) Format() Format { return s.format }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// Inspect reads width, height, raw layout, the decoded-format hint and the
// colour profile from the engine. The result is cached; later calls return it
// without touching the engine, including after Decode.
func (s *Session) Inspect() (Metadata, error) {
	const op = "session.inspect"
	if s.state == StateClosed {
		return Metadata{}, s.closedErr(op)
	}
	if s.inspected {
		return s.meta, nil
	}
	if s.img == nil {
		return Metadata{}, apperrors.Newf(apperrors.KindInvalidSessionState, op, "engine state already released")
	}

	start := time.Now()
	s.notifyBefore(op)
	err := s.inspect()
	s.notifyAfter(op, start, 0, err)
	if err != nil {
		return Metadata{}, err
	}
	return s.meta, nil
}

func (s *Session) inspect() error {
	const op = "session.inspect"
	var info ImageInfo
	err := s.call(op, func() apperrors.Status {
		var st apperrors.Status
		info, st = s.img.Info()
		return st
	})
	if err != nil {
		return err
	}
	if info.Width <= 0 || info.Height <= 0 {
		return apperrors.Check(op, apperrors.StatusLoadFailedExternal, detailf("invalid dimensions %dx%d", info.Width, info.Height))
	}
	if info.DecodedFormat.Valid() {
		if err := s.checkSize(op, info.Width, info.Height, info.DecodedFormat); err != nil {
			return err
		}
	}

	meta := Metadata{
		Width:            info.Width,
		Height:           info.Height,
		Format:           s.format,
		Raw:              info.Raw,
		DecodedFormat:    info.DecodedFormat,
		ColourProfileLen: info.ColourProfileLen,
	}
	profile, err := s.readColourProfile()
	if err != nil {
		return err
	}
	if profile != nil {
		meta.ColourProfile = profile
		meta.ColourProfileLen = len(profile.Data)
	}

	s.meta = meta
	s.inspected = true
	if s.state == StateOpened {
		s.state = StateInspected
	}
	return nil
}

// readColourProfile runs the two-phase query: ask for the length, allocate
// exactly that much, then let the engine fill it.
func (s *Session) readColourProfile() (*ColourProfile, error) {
	const op = "session.colour_profile"
	var (
		name string
		n    int
	)
	err := s.call(op, func() apperrors.Status {
		var st apperrors.Status
		name, n, st = s.img.ColourProfile(nil)
		return st
	})
	if err != nil || n <= 0 {
		return nil, err
	}

	buf := make([]byte, n)
	var filled int
	err = s.call(op, func() apperrors.Status {
		var st apperrors.Status
		name, filled, st = s.img.ColourProfile(buf)
		return st
	})
	if err != nil {
		return nil, err
	}
	if filled != n {
		return nil, apperrors.Check(op, apperrors.StatusLoadFailedInternal,
			detailf("engine filled %d profile bytes, announced %d", filled, n))
	}
	return &ColourProfile{Name: name, Data: buf}, nil
}

// ColourProfile returns the embedded profile, or nil when the source has none.
func (s *Session) ColourProfile() (*ColourProfile, error) {
	meta, err := s.Inspect()
	if err != nil {
		return nil, err
	}
	return meta.ColourProfile, nil
}

// Decode fills dst with the whole image and returns dst. It may be called once
// per session; any later call fails with AlreadyDecoded whatever the first
// outcome was. The effective layout is force when it is a valid format, else
// the engine's decoded-format hint. A nil dst is allocated to fit. The buffer
// contract is checked before the engine sees the memory; on failure the
// contents of dst are undefined.
//
// Engine state is released afterwards, and an owned stream is closed.
func (s *Session) Decode(dst *BufferView, force PixelFormat) (*BufferView, error) {
	const op = "session.decode"
	if s.state == StateClosed {
		return nil, s.closedErr(op)
	}
	if s.decoded {
		return nil, apperrors.New(apperrors.KindAlreadyDecoded, op, apperrors.ErrAlreadyDecoded)
	}
	s.decoded = true

	start := time.Now()
	s.notifyBefore(op)
	out, err := s.decode(dst, force)
	var n int64
	if out != nil {
		n = int64(out.ByteLength())
	}
	s.notifyAfter(op, start, n, err)

	rerr := s.release()
	s.state = StateDecoded
	if err != nil {
		return nil, err
	}
	if rerr != nil {
		return nil, apperrors.New(apperrors.KindIO, op, rerr)
	}
	return out, nil
}

func (s *Session) decode(dst *BufferView, force PixelFormat) (*BufferView, error) {
	const op = "session.decode"
	if s.img == nil {
		return nil, apperrors.Newf(apperrors.KindInvalidSessionState, op, "engine state already released")
	}
	if !s.inspected {
		if err := s.inspect(); err != nil {
			return nil, err
		}
	}

	target := s.meta.DecodedFormat
	if force.Valid() {
		target = force
	}
	if !target.Valid() {
		return nil, apperrors.Newf(apperrors.KindUnsupportedFormat, op, "engine reported no decodable pixel format")
	}
	if dst == nil {
		if err := s.checkSize(op, s.meta.Width, s.meta.Height, target); err != nil {
			return nil, err
		}
		dst = NewBufferView(s.meta.Width, s.meta.Height, target)
	}
	if err := ValidateDecodeTarget(dst, s.meta.Width, s.meta.Height, target); err != nil {
		return nil, err
	}

	size := target.ImageBytes(s.meta.Width, s.meta.Height)
	if err := s.call(op, func() apperrors.Status { return s.img.Decode(dst.Data[:size], target) }); err != nil {
		return nil, err
	}
	s.logger.Debug("session.decode.done",
		"format", s.format, "width", s.meta.Width, "height", s.meta.Height, "pixel_format", target.String())
	return dst, nil
}

// checkSize rejects dimensions whose packed size in pf overflows or exceeds the
// session limit.
func (s *Session) checkSize(op string, width, height int, pf PixelFormat) error {
	n, ok := pf.ImageSize(width, height)
	if !ok {
		return apperrors.Check(op, apperrors.StatusLoadFailedExternal,
			detailf("%dx%d %s image is too large to address", width, height, pf))
	}
	if s.maxDecode > 0 && int64(n) > s.maxDecode {
		return apperrors.Check(op, apperrors.StatusLoadFailedExternal,
			detailf("%dx%d %s image needs %d bytes, limit is %d", width, height, pf, n, s.maxDecode))
	}
	return nil
}

// Close releases engine state and, when owned, the stream. It is idempotent.
func (s *Session) Close() error {
	if s.state == StateClosed {
		return nil
	}
	err := s.release()
	s.state = StateClosed
	if err != nil {
		return apperrors.New(apperrors.KindIO, "session.close", err)
	}
	return nil
}

// release frees the engine handle and closes an owned stream, each once.
func (s *Session) release() error {
	if s.img != nil {
		s.img.Close()
		s.img = nil
	}
	if s.ownsStream && s.stream != nil {
		st := s.stream
		s.stream = nil
		return st.Close()
	}
	return nil
}

// Write encodes src into stream as format f. The source pixel format is
// inferred from the view's shape and sample kind. profile and opts may be nil.
func Write(reg *Registry, stream *Stream, src *BufferView, f Format, profile *ColourProfile, opts EncodeOptions, sopts ...SessionOption) error {
	const op = "session.write"
	if stream == nil {
		return apperrors.Newf(apperrors.KindIO, op, "nil stream")
	}
	s := newSession(stream, sopts)
	s.format = f
	start := time.Now()
	s.notifyBefore(op)

	err := s.write(reg, src, profile, opts)
	var n int64
	if err == nil {
		n = int64(src.ByteLength())
	}
	s.notifyAfter(op, start, n, err)

	if cerr := s.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return err
}

func (s *Session) write(reg *Registry, src *BufferView, profile *ColourProfile, opts EncodeOptions) error {
	const op = "session.write"
	pf, err := ValidateEncodeSource(src)
	if err != nil {
		return err
	}
	engine, err := reg.Lookup(s.format)
	if err != nil {
		return err
	}
	if !engine.WriteFormatFor(pf).Valid() {
		return apperrors.Check(op, apperrors.StatusUnsupportedFiletype,
			detailf("the %q engine cannot write %s data", s.format, pf))
	}
	s.engine = engine
	s.img = engine.NewImage()

	opts = OptionsValue(opts)
	if opts != nil {
		if opts.Format() != s.format {
			return apperrors.Check(op, apperrors.StatusInvalidEncodeArgs,
				detailf("options for %q passed to the %q engine", opts.Format(), s.format))
		}
		if verr := opts.Validate(); verr != nil {
			return apperrors.Check(op, apperrors.StatusInvalidEncodeArgs, detailf("%v", verr))
		}
	}
	if err := s.call(op, func() apperrors.Status { return s.img.VerifyEncodeOptions(opts) }); err != nil {
		return err
	}

	if profile != nil && len(profile.Data) > 0 && profile.Name == "" {
		profile = &ColourProfile{Name: "empty", Data: profile.Data}
	}
	if profile != nil && len(profile.Data) == 0 {
		profile = nil
	}

	req := WriteRequest{
		Data:    src.Data[:pf.ImageBytes(src.Width, src.Height)],
		Width:   src.Width,
		Height:  src.Height,
		Format:  pf,
		Profile: profile,
		Options: opts,
	}
	if err := s.call(op, func() apperrors.Status { return s.img.Write(req, s.stream) }); err != nil {
		return err
	}
	s.state = StateEncoded
	s.logger.Debug("session.write.done",
		"format", s.format, "width", src.Width, "height", src.Height, "pixel_format", pf.String())
	return nil
}

// call runs one engine operation and routes its outcome through the error
// channel. A stream failure recorded during the call wins over the engine
// status. Engine panics become CodecInternalError.
func (s *Session) call(op string, fn func() apperrors.Status) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.Check(op, apperrors.StatusLoadFailedInternal, detailf("engine panic: %v", r))
		}
	}()
	status := fn()
	if s.stream != nil && s.stream.Err() != nil {
		return &apperrors.CodecError{Kind: apperrors.KindIO, Op: op, Status: apperrors.StatusIOFailed, Err: s.stream.Err()}
	}
	var src apperrors.DetailSource
	if s.img != nil {
		src = s.img
	}
	return apperrors.Check(op, status, src)
}

func (s *Session) closedErr(op string) error {
	return apperrors.New(apperrors.KindInvalidSessionState, op, fmt.Errorf("session is %s", s.state))
}

func (s *Session) notifyBefore(op string) {
	for _, h := range s.hooks {
		h.BeforeOp(op, s.format)
	}
}

func (s *Session) notifyAfter(op string, start time.Time, n int64, err error) {
	if err != nil {
		s.logger.Warn("session.op.failed", "op", op, "format", s.format, "error", err.Error())
	}
	if len(s.hooks) == 0 {
		return
	}
	ev := OpEvent{Op: op, Format: s.format, Bytes: n, Duration: time.Since(start), Err: err}
	if s.inspected {
		m := s.meta
		ev.Meta = &m
	}
	for _, h := range s.hooks {
		h.AfterOp(ev)
	}
}

// detailf builds a one-off diagnostic source for failures detected by the
// core rather than reported by an engine.
type detailText string

func (d detailText) ErrorDetails() string { return string(d) }

func detailf(format string, args ...any) apperrors.DetailSource {
	return detailText(fmt.Sprintf(format, args...))
}
