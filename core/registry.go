package core

import (
	apperrors "github.com/Skryldev/imagecodec/errors"
)

// Registry holds engines in a fixed registration order. Register engines
// during construction only; after that the registry is read-only and safe to
// share between goroutines.
type Registry struct {
	engines  []Engine
	byFormat map[Format]Engine
}

// NewRegistry returns a registry probing engines in the given order.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{byFormat: make(map[Format]Engine, len(engines))}
	for _, e := range engines {
		r.Register(e)
	}
	return r
}

// Register appends e to the detection order. A second engine for an already
// registered format is ignored.
func (r *Registry) Register(e Engine) {
	if e == nil {
		return
	}
	if _, dup := r.byFormat[e.Format()]; dup {
		return
	}
	r.engines = append(r.engines, e)
	r.byFormat[e.Format()] = e
}

// Formats lists registered formats in detection order.
func (r *Registry) Formats() []Format {
	out := make([]Format, len(r.engines))
	for i, e := range r.engines {
		out[i] = e.Format()
	}
	return out
}

// Lookup returns the engine registered for f.
func (r *Registry) Lookup(f Format) (Engine, error) {
	e, ok := r.byFormat[f]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindUnsupportedFormat, "registry.lookup", "no engine for %q", f)
	}
	return e, nil
}

// Detect resolves the engine for the stream's header. The stream is left at
// the position it had on entry, whether or not an engine matched. The first
// engine in registration order that claims the header wins.
func (r *Registry) Detect(s *Stream) (Engine, error) {
	const op = "registry.detect"

	start := s.Tell()
	if start < 0 {
		return nil, apperrors.New(apperrors.KindIO, op, s.Err())
	}

	var first [1]byte
	n := s.Read(first[:])
	if n < 0 || s.Seek(start, SeekStart) < 0 {
		return nil, apperrors.New(apperrors.KindIO, op, s.Err())
	}
	if n == 0 {
		return nil, &apperrors.CodecError{Kind: apperrors.KindIO, Op: op,
			Status: apperrors.StatusOpenFailedEmptyInput, Err: apperrors.ErrEmptyInput}
	}

	for _, e := range r.engines {
		claimed := e.CanLoad(s)
		if s.Err() != nil || s.Seek(start, SeekStart) < 0 {
			return nil, apperrors.New(apperrors.KindIO, op, s.Err())
		}
		if claimed {
			return e, nil
		}
	}
	return nil, apperrors.Check(op, apperrors.StatusUnsupportedFiletype, nil)
}

// IsFormatSupported reports whether f can store pf without conversion.
func (r *Registry) IsFormatSupported(f Format, pf PixelFormat) bool {
	e, ok := r.byFormat[f]
	return ok && e.IsFormatSupported(pf)
}

// WriteFormatFor reports which pixel format f will actually write for data in
// pf, or PixelFormatInvalid when f is not registered.
func (r *Registry) WriteFormatFor(f Format, pf PixelFormat) PixelFormat {
	e, ok := r.byFormat[f]
	if !ok {
		return PixelFormatInvalid
	}
	return e.WriteFormatFor(pf)
}
