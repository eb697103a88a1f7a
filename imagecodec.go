// Package imagecodec reads and writes images through pluggable per-format
// engines. A Codec detects the format of an input stream, hands back a
// Session that inspects and decodes it into caller-owned memory, and encodes
// pixel buffers into any registered format.
package imagecodec

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Skryldev/imagecodec/adapters/codec"
	"github.com/Skryldev/imagecodec/adapters/storage"
	"github.com/Skryldev/imagecodec/config"
	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
	"github.com/Skryldev/imagecodec/hooks"
	"github.com/Skryldev/imagecodec/utils"
)

// Re-export Format constants for convenience.
const (
	Raw  = core.FormatRaw
	PNG  = core.FormatPNG
	JPEG = core.FormatJPEG
	TIFF = core.FormatTIFF
	BMP  = core.FormatBMP
	WebP = core.FormatWebP
	QOI  = core.FormatQOI
	AVIF = core.FormatAVIF
	EXR  = core.FormatEXR
	HDR  = core.FormatHDR
	TGA  = core.FormatTGA
)

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Codec is the primary entry point. It is safe for concurrent use; each
// Session it returns is not.
type Codec struct {
	cfg      config.Config
	registry *core.Registry
	logger   core.Logger
	metrics  *hooks.InMemoryMetrics
	hooks    []core.Hook
	store    core.StorageAdapter
}

// Option customises a Codec at construction.
type Option func(*options)

type options struct {
	logger     core.Logger
	hooks      []core.Hook
	engines    []core.Engine
	store      core.StorageAdapter
	s3         storage.S3Client
	promReg    prometheus.Registerer
	promEnable bool
}

// WithLogger replaces the slog logger built from Config.LogLevel.
func WithLogger(l core.Logger) Option { return func(o *options) { o.logger = l } }

// WithHook registers an observer for session operations.
func WithHook(h core.Hook) Option { return func(o *options) { o.hooks = append(o.hooks, h) } }

// WithEngines replaces the configured engines; detection order is argument order.
func WithEngines(engines ...core.Engine) Option {
	return func(o *options) { o.engines = append(o.engines, engines...) }
}

// WithStorage sets the adapter OpenKey and WriteKey use.
func WithStorage(s core.StorageAdapter) Option { return func(o *options) { o.store = s } }

// WithS3Client builds the S3 storage adapter from Config.S3 around client.
func WithS3Client(client storage.S3Client) Option { return func(o *options) { o.s3 = client } }

// WithPrometheus exports session metrics to reg (nil: default registerer).
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(o *options) { o.promEnable, o.promReg = true, reg }
}

// New creates a fully wired Codec. Engines come from cfg.Engines in order,
// or every built-in engine when the list is empty.
func New(cfg config.Config, opts ...Option) (*Codec, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	engines := o.engines
	if len(engines) == 0 {
		rawCompression, err := codec.ParseRawCompression(cfg.RawCompression)
		if err != nil {
			return nil, err
		}
		exrCompression, err := codec.ParseEXRCompression(cfg.EXRCompression)
		if err != nil {
			return nil, err
		}
		formats := make([]core.Format, len(cfg.Engines))
		for i, name := range cfg.Engines {
			formats[i] = core.Format(name)
		}
		engines, err = codec.Engines(formats, codec.Defaults{
			JPEGQuality:    cfg.DefaultJPEGQuality,
			PNGCompression: cfg.DefaultPNGCompression,
			RawCompression: rawCompression,
			EXRCompression: exrCompression,
		})
		if err != nil {
			return nil, err
		}
	}

	c := &Codec{
		cfg:      cfg,
		registry: core.NewRegistry(engines...),
		logger:   o.logger,
		metrics:  hooks.NewInMemoryMetrics(),
	}
	if c.logger == nil {
		h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: hooks.ParseLevel(cfg.LogLevel)})
		c.logger = hooks.NewSlogLogger(slog.New(h))
	}
	c.hooks = append(c.hooks, hooks.NewLoggingHook(c.logger), hooks.NewMetricsHook(c.metrics))
	if o.promEnable {
		pm, err := hooks.NewPrometheusMetrics(cfg.MetricsNamespace, o.promReg)
		if err != nil {
			return nil, fmt.Errorf("imagecodec: prometheus: %w", err)
		}
		c.hooks = append(c.hooks, hooks.NewMetricsHook(pm))
	}
	c.hooks = append(c.hooks, o.hooks...)

	store, err := buildStorage(cfg, o)
	if err != nil {
		return nil, err
	}
	c.store = store
	return c, nil
}

func buildStorage(cfg config.Config, o options) (core.StorageAdapter, error) {
	switch {
	case o.store != nil:
		return o.store, nil
	case o.s3 != nil:
		return storage.NewS3(o.s3, cfg.S3.Bucket)
	case cfg.Storage == config.StorageLocal && cfg.Local.RootDir != "":
		return storage.NewLocal(cfg.Local.RootDir, os.FileMode(cfg.Local.Permissions))
	}
	return nil, nil
}

// Registry exposes the engine registry.
func (c *Codec) Registry() *core.Registry { return c.registry }

// Formats lists registered formats in detection order.
func (c *Codec) Formats() []core.Format { return c.registry.Formats() }

// IsFormatSupported reports whether f can store pf without conversion.
func (c *Codec) IsFormatSupported(f core.Format, pf core.PixelFormat) bool {
	return c.registry.IsFormatSupported(f, pf)
}

// WriteFormatFor reports the pixel format f actually writes for pf data.
func (c *Codec) WriteFormatFor(f core.Format, pf core.PixelFormat) core.PixelFormat {
	return c.registry.WriteFormatFor(f, pf)
}

// Stats returns the built-in metrics collected so far.
func (c *Codec) Stats() hooks.MetricsSnapshot { return c.metrics.Snapshot() }

func (c *Codec) sessionOptions(extra ...core.SessionOption) []core.SessionOption {
	return append([]core.SessionOption{
		core.WithLogger(c.logger),
		core.WithHooks(c.hooks...),
		core.WithMaxDecodeBytes(c.cfg.MaxDecodeBytes),
	}, extra...)
}

// ── Decoding ──────────────────────────────────────────────────────────────────

// Open detects the format of r and returns a session bound to it. r stays
// owned by the caller and must not be used until the session is closed.
func (c *Codec) Open(r io.ReadSeeker) (*core.Session, error) {
	return core.Open(c.registry, core.NewReadStream(r), c.sessionOptions()...)
}

// OpenBytes opens an in-memory encoded image.
func (c *Codec) OpenBytes(data []byte) (*core.Session, error) {
	return core.Open(c.registry, core.NewReadStream(utils.NewMemoryBuffer(data)),
		c.sessionOptions(core.WithOwnedStream())...)
}

// OpenFile opens the file at path. The session owns the file and closes it
// after Decode or Close.
func (c *Codec) OpenFile(path string) (*core.Session, error) {
	const op = "codec.open_file"
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIO, op, err)
	}
	if c.cfg.MaxImageBytes > 0 {
		if fi, err := f.Stat(); err == nil && fi.Size() > c.cfg.MaxImageBytes {
			f.Close()
			return nil, apperrors.Newf(apperrors.KindIO, op, "%s is %d bytes, limit is %d", path, fi.Size(), c.cfg.MaxImageBytes)
		}
	}
	return core.Open(c.registry, core.NewReadStream(f), c.sessionOptions(core.WithOwnedStream())...)
}

// OpenKey fetches key from the configured storage and opens it. Bodies that
// cannot seek are read into memory first, bounded by Config.MaxImageBytes.
func (c *Codec) OpenKey(ctx context.Context, key core.StorageKey) (*core.Session, error) {
	const op = "codec.open_key"
	if c.store == nil {
		return nil, apperrors.Newf(apperrors.KindIO, op, "no storage configured")
	}
	rc, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if rs, ok := rc.(io.ReadSeeker); ok {
		return core.Open(c.registry, core.NewReadStream(rs), c.sessionOptions(core.WithOwnedStream())...)
	}
	defer rc.Close()

	var r io.Reader = rc
	if c.cfg.MaxImageBytes > 0 {
		r = &utils.LimitedReader{R: rc, Max: c.cfg.MaxImageBytes + 1}
	}
	buf, err := utils.DrainReader(r, c.cfg.ChunkSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindIO, op, err)
	}
	data := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)
	if c.cfg.MaxImageBytes > 0 && int64(len(data)) > c.cfg.MaxImageBytes {
		return nil, apperrors.New(apperrors.KindIO, op, utils.ErrTooLarge)
	}
	return c.OpenBytes(data)
}

// ── Encoding ──────────────────────────────────────────────────────────────────

// Write encodes src as format f into w. profile and opts may be nil.
func (c *Codec) Write(w io.Writer, src *core.BufferView, f core.Format, profile *core.ColourProfile, opts core.EncodeOptions) error {
	return core.Write(c.registry, core.NewWriteStream(w), src, f, profile, opts, c.sessionOptions()...)
}

// Encode encodes src as format f and returns the encoded bytes.
func (c *Codec) Encode(src *core.BufferView, f core.Format, profile *core.ColourProfile, opts core.EncodeOptions) ([]byte, error) {
	mb := utils.NewMemoryBuffer(nil)
	if err := core.Write(c.registry, core.NewWriteStream(mb), src, f, profile, opts, c.sessionOptions()...); err != nil {
		return nil, err
	}
	return mb.Bytes(), nil
}

// WriteFile encodes src into a new file at path. A failed write removes the
// partial file.
func (c *Codec) WriteFile(path string, src *core.BufferView, f core.Format, profile *core.ColourProfile, opts core.EncodeOptions) error {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return apperrors.Wrap(apperrors.KindIO, "codec.write_file", err)
	}
	err = core.Write(c.registry, core.NewWriteStream(file), src, f, profile, opts,
		c.sessionOptions(core.WithOwnedStream())...)
	if err != nil {
		os.Remove(path)
	}
	return err
}

// WriteKey encodes src and stores it under key with content-type and layout
// metadata.
func (c *Codec) WriteKey(ctx context.Context, key core.StorageKey, src *core.BufferView, f core.Format, profile *core.ColourProfile, opts core.EncodeOptions) error {
	const op = "codec.write_key"
	if c.store == nil {
		return apperrors.Newf(apperrors.KindIO, op, "no storage configured")
	}
	data, err := c.Encode(src, f, profile, opts)
	if err != nil {
		return err
	}
	meta := map[string]string{
		"content-type": utils.ContentType(string(f)),
		"width":        strconv.Itoa(src.Width),
		"height":       strconv.Itoa(src.Height),
		"pixel-format": c.registry.WriteFormatFor(f, src.PixelFormat()).String(),
	}
	return c.store.Put(ctx, key, utils.NewMemoryBuffer(data), meta)
}

// ── Package-level helpers ─────────────────────────────────────────────────────

var (
	defaultOnce  sync.Once
	defaultCodec *Codec
	defaultErr   error
)

// Default returns a lazily built Codec using DefaultConfig.
func Default() (*Codec, error) {
	defaultOnce.Do(func() {
		defaultCodec, defaultErr = New(DefaultConfig())
	})
	return defaultCodec, defaultErr
}

// Open opens r with the default codec.
func Open(r io.ReadSeeker) (*core.Session, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return c.Open(r)
}

// Write encodes src with the default codec.
func Write(w io.Writer, src *core.BufferView, f core.Format, profile *core.ColourProfile, opts core.EncodeOptions) error {
	c, err := Default()
	if err != nil {
		return err
	}
	return c.Write(w, src, f, profile, opts)
}
