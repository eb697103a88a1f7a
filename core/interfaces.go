package core

import (
	"context"
	"io"
	"reflect"
	"time"

	apperrors "github.com/Skryldev/imagecodec/errors"
)

// Engine is a per-format codec registered with a Registry. Engines are shared
// by every session and must be stateless; per-image state lives in Image.
// Implementations live in adapters/codec/ and adapters/vips/.
type Engine interface {
	// Format reports the file format this engine handles.
	Format() Format
	// CanLoad reports whether the stream starts with this engine's signature.
	// It may read from s but the registry restores the position afterwards.
	CanLoad(s *Stream) bool
	// NewImage allocates fresh engine state for one session.
	NewImage() Image
	// IsFormatSupported reports whether pf can be written without conversion.
	IsFormatSupported(pf PixelFormat) bool
	// WriteFormatFor returns the pixel format that will actually be written
	// for input data in pf.
	WriteFormatFor(pf PixelFormat) PixelFormat
}

// Image is the engine-held handle for one opened or to-be-written image. It
// is owned by exactly one Session and closed exactly once.
type Image interface {
	apperrors.DetailSource

	// Open reads the header from s. The engine keeps s for a later Decode.
	Open(s *Stream) apperrors.Status
	Info() (ImageInfo, apperrors.Status)
	// ColourProfile is queried twice: with dst == nil it reports the required
	// length; with a dst of that length it fills it.
	ColourProfile(dst []byte) (name string, n int, status apperrors.Status)
	// Decode writes the whole image into dst in the target layout. dst is
	// exactly target.ImageBytes(width, height) long.
	Decode(dst []byte, target PixelFormat) apperrors.Status
	VerifyEncodeOptions(opts EncodeOptions) apperrors.Status
	Write(req WriteRequest, s *Stream) apperrors.Status
	Close()
}

// OptionsValue returns opts with one level of pointer removed, so engines see
// PNGOptions whether the caller passed PNGOptions or *PNGOptions. A typed nil
// pointer becomes nil.
func OptionsValue(opts EncodeOptions) EncodeOptions {
	if opts == nil {
		return nil
	}
	v := reflect.ValueOf(opts)
	if v.Kind() != reflect.Pointer {
		return opts
	}
	if v.IsNil() {
		return nil
	}
	if e, ok := v.Elem().Interface().(EncodeOptions); ok {
		return e
	}
	return opts
}

// StorageAdapter persists encoded images and retrieves them later.
// Implementations live in adapters/storage/.
type StorageAdapter interface {
	Put(ctx context.Context, key StorageKey, r io.Reader, meta map[string]string) error
	Get(ctx context.Context, key StorageKey) (io.ReadCloser, error)
	Delete(ctx context.Context, key StorageKey) error
	Exists(ctx context.Context, key StorageKey) (bool, error)
}

// MetricsCollector receives performance observations from sessions.
type MetricsCollector interface {
	RecordProcessingTime(op string, d time.Duration)
	RecordThroughput(bytes int64)
	RecordMemory(bytes int64)
	RecordError(op string, kind string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// Hook is an optional observer invoked around session operations.
type Hook interface {
	BeforeOp(op string, format Format)
	AfterOp(ev OpEvent)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
