// Package hooks provides production-ready Hook and Logger implementations.
package hooks

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/imagecodec/core"
	apperrors "github.com/Skryldev/imagecodec/errors"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog. A nil logger uses slog.Default.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{log: l}
}

func (s *SlogLogger) Debug(msg string, fields ...interface{}) { s.log.Debug(msg, fields...) }
func (s *SlogLogger) Info(msg string, fields ...interface{})  { s.log.Info(msg, fields...) }
func (s *SlogLogger) Warn(msg string, fields ...interface{})  { s.log.Warn(msg, fields...) }
func (s *SlogLogger) Error(msg string, fields ...interface{}) { s.log.Error(msg, fields...) }

// ParseLevel maps a config level name to a slog level. Unknown names give Info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before and after each session operation.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeOp(op string, format core.Format) {
	h.logger.Debug(op+".start", "format", format)
}

func (h *LoggingHook) AfterOp(ev core.OpEvent) {
	fields := []interface{}{
		"format", ev.Format,
		"duration_ms", ev.Duration.Milliseconds(),
	}
	if ev.Meta != nil {
		fields = append(fields, "width", ev.Meta.Width, "height", ev.Meta.Height)
	}
	if ev.Err != nil {
		h.logger.Error(ev.Op+".error", append(fields,
			"kind", string(apperrors.KindOf(ev.Err)),
			"error", ev.Err.Error(),
		)...)
		return
	}
	h.logger.Debug(ev.Op+".done", append(fields, "bytes", ev.Bytes)...)
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics atomically; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	opDurations map[string]time.Duration // cumulative per op
	opCalls     map[string]int64
	opErrors    map[string]int64
	kindErrors  map[string]int64

	totalThroughputB int64
	totalMemoryB     int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		opDurations: make(map[string]time.Duration),
		opCalls:     make(map[string]int64),
		opErrors:    make(map[string]int64),
		kindErrors:  make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(op string, d time.Duration) {
	m.mu.Lock()
	m.opDurations[op] += d
	m.opCalls[op]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

func (m *InMemoryMetrics) RecordMemory(bytes int64) {
	atomic.AddInt64(&m.totalMemoryB, bytes)
}

func (m *InMemoryMetrics) RecordError(op string, kind string) {
	m.mu.Lock()
	m.opErrors[op]++
	m.kindErrors[kind]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		OpDurations:      make(map[string]time.Duration, len(m.opDurations)),
		OpCalls:          make(map[string]int64, len(m.opCalls)),
		OpErrors:         make(map[string]int64, len(m.opErrors)),
		KindErrors:       make(map[string]int64, len(m.kindErrors)),
		TotalThroughputB: atomic.LoadInt64(&m.totalThroughputB),
		TotalMemoryB:     atomic.LoadInt64(&m.totalMemoryB),
	}
	for k, v := range m.opDurations {
		snap.OpDurations[k] = v
	}
	for k, v := range m.opCalls {
		snap.OpCalls[k] = v
	}
	for k, v := range m.opErrors {
		snap.OpErrors[k] = v
	}
	for k, v := range m.kindErrors {
		snap.KindErrors[k] = v
	}
	return snap
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	OpDurations      map[string]time.Duration
	OpCalls          map[string]int64
	OpErrors         map[string]int64
	KindErrors       map[string]int64
	TotalThroughputB int64
	TotalMemoryB     int64
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds session events into a MetricsCollector.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeOp(string, core.Format) {}

func (h *MetricsHook) AfterOp(ev core.OpEvent) {
	h.collector.RecordProcessingTime(ev.Op, ev.Duration)
	if ev.Err != nil {
		kind := string(apperrors.KindOf(ev.Err))
		if kind == "" {
			kind = "unknown"
		}
		h.collector.RecordError(ev.Op, kind)
		return
	}
	if ev.Bytes > 0 {
		h.collector.RecordThroughput(ev.Bytes)
	}
	// decoded pixel buffers are the dominant allocation
	if ev.Op == "session.decode" {
		h.collector.RecordMemory(ev.Bytes)
	}
}
