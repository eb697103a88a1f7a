package hooks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics exports session metrics as Prometheus collectors.
type PrometheusMetrics struct {
	duration   *prometheus.HistogramVec
	errors     *prometheus.CounterVec
	throughput prometheus.Counter
	memory     prometheus.Counter
}

// NewPrometheusMetrics creates the collectors under namespace and registers
// them with reg. A nil reg uses the default registerer.
func NewPrometheusMetrics(namespace string, reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of codec session operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed codec session operations by error kind.",
		}, []string{"op", "kind"}),
		throughput: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pixel_bytes_total",
			Help:      "Pixel bytes decoded or encoded.",
		}),
		memory: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_buffer_bytes_total",
			Help:      "Bytes of pixel buffers filled by decode.",
		}),
	}
	for _, c := range []prometheus.Collector{m.duration, m.errors, m.throughput, m.memory} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) RecordProcessingTime(op string, d time.Duration) {
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordThroughput(bytes int64) { m.throughput.Add(float64(bytes)) }

func (m *PrometheusMetrics) RecordMemory(bytes int64) { m.memory.Add(float64(bytes)) }

func (m *PrometheusMetrics) RecordError(op string, kind string) {
	m.errors.WithLabelValues(op, kind).Inc()
}
