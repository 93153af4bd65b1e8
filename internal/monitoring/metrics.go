package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "posemat"

// Frame outcome label values for FramesTotal.
const (
	OutcomeClassified     = "classified"
	OutcomeRejected       = "rejected"
	OutcomeDecodeError    = "decode_error"
	OutcomeInferenceError = "inference_error"
)

// Metrics holds the prometheus collectors for one running session. Each
// Metrics owns a private registry rather than using the global default
// registerer.
type Metrics struct {
	Registry *prometheus.Registry

	BytesRead         prometheus.Counter
	DiscardedBytes    prometheus.Counter
	ReadErrors        prometheus.Counter
	FramesTotal       *prometheus.CounterVec
	PredictionsTotal  *prometheus.CounterVec
	SinkErrors        *prometheus.CounterVec
	SinkDropped       *prometheus.CounterVec
	Panics            prometheus.Counter
	Confidence        prometheus.Histogram
	InferenceDuration prometheus.Histogram
	SessionRunning    prometheus.Gauge
}

// NewMetrics creates and registers all session metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "bytes_read_total",
			Help:      "Total bytes read from the stream source",
		}),
		DiscardedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "discarded_bytes_total",
			Help:      "Bytes dropped by the frame assembler after a marker",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "read_errors_total",
			Help:      "Transient read failures from the stream source",
		}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "total",
			Help:      "Raw frames processed, by outcome",
		}, []string{"outcome"}),
		PredictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "predictions_total",
			Help:      "Classification results, by label",
		}, []string{"label"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Sink consume failures, by sink",
		}, []string{"sink"}),
		SinkDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "dropped_total",
			Help:      "Events dropped by a full async sink queue, by sink",
		}, []string{"sink"}),
		Panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "recovered_panics_total",
			Help:      "Panics recovered inside a session iteration",
		}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "confidence",
			Help:      "Probability of the selected label",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		InferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Classifier invocation latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		SessionRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "running",
			Help:      "1 while the session loop is in the Running state",
		}),
	}

	m.Registry.MustRegister(
		m.BytesRead,
		m.DiscardedBytes,
		m.ReadErrors,
		m.FramesTotal,
		m.PredictionsTotal,
		m.SinkErrors,
		m.SinkDropped,
		m.Panics,
		m.Confidence,
		m.InferenceDuration,
		m.SessionRunning,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
