package errors

import (
	"errors"
	"fmt"
)

// Kind classifies failures surfaced by a codec session.
type Kind string

const (
	KindIO                  Kind = "io"
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindBufferTooSmall      Kind = "buffer_too_small"
	KindInvalidBufferFlags  Kind = "invalid_buffer_flags"
	KindAlreadyDecoded      Kind = "already_decoded"
	KindInvalidSessionState Kind = "invalid_session_state"
	KindCodecInternal       Kind = "codec_internal"
)

// CodecError is the structured error type used throughout the module.
type CodecError struct {
	Kind   Kind
	Op     string // operation name
	Status Status // engine status; StatusOK when the failure did not come from an engine
	Detail string // engine diagnostic text, if any
	Err    error
}

func (e *CodecError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Op)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CodecError) Unwrap() error { return e.Err }

// Is lets errors.Is match a CodecError against the sentinel for its kind.
func (e *CodecError) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// New creates a CodecError of the given kind.
func New(kind Kind, op string, err error) *CodecError {
	return &CodecError{Kind: kind, Op: op, Err: err}
}

// Newf creates a CodecError with a formatted cause.
func Newf(kind Kind, op, format string, args ...any) *CodecError {
	return &CodecError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap wraps an existing error with context. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CodecError
	if errors.As(err, &ce) {
		return err
	}
	return New(kind, op, err)
}

// IsKind reports whether err is a CodecError of the given kind.
func IsKind(err error, kind Kind) bool {
	var ce *CodecError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" when err is not a CodecError.
func KindOf(err error) Kind {
	var ce *CodecError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Sentinel errors, one per kind. errors.Is(err, ErrBufferTooSmall) holds for any
// CodecError of that kind.
var (
	ErrIO                  = errors.New("stream i/o failure")
	ErrUnsupportedFormat   = errors.New("unsupported image format")
	ErrBufferTooSmall      = errors.New("buffer too small")
	ErrInvalidBufferFlags  = errors.New("buffer does not meet flag requirements")
	ErrAlreadyDecoded      = errors.New("session has already been decoded")
	ErrInvalidSessionState = errors.New("invalid session state")
	ErrCodecInternal       = errors.New("codec engine failure")

	// ErrEmptyInput is the cause of the IO error Open returns for a stream
	// with no readable byte.
	ErrEmptyInput = errors.New("empty input")
)

var kindSentinels = map[Kind]error{
	KindIO:                  ErrIO,
	KindUnsupportedFormat:   ErrUnsupportedFormat,
	KindBufferTooSmall:      ErrBufferTooSmall,
	KindInvalidBufferFlags:  ErrInvalidBufferFlags,
	KindAlreadyDecoded:      ErrAlreadyDecoded,
	KindInvalidSessionState: ErrInvalidSessionState,
	KindCodecInternal:       ErrCodecInternal,
}
