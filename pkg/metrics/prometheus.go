package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	activeSessions prometheus.Gauge
	payloadsSent   prometheus.Counter
	payloadBytes   prometheus.Histogram
	candlesSent    *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New creates a recorder registered on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates a recorder registered on reg. A nil reg leaves the
// collectors unregistered.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "mtbridge_active_sessions",
			Help: "Number of connected streaming sessions",
		}),
		payloadsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "mtbridge_payloads_sent_total",
			Help: "Total number of payload messages enqueued to clients",
		}),
		payloadBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mtbridge_payload_size_bytes",
			Help:    "Size of payload messages enqueued to clients",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		}),
		candlesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mtbridge_candles_sent_total",
				Help: "Total number of candles delivered to clients",
			},
			[]string{"timeframe"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mtbridge_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mtbridge_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) SetActiveSessions(n int) {
	r.activeSessions.Set(float64(n))
}

func (r *Recorder) RecordPayloadSent(bytes int) {
	r.payloadsSent.Inc()
	r.payloadBytes.Observe(float64(bytes))
}

func (r *Recorder) RecordCandlesSent(tf string, n int) {
	r.candlesSent.WithLabelValues(tf).Add(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
