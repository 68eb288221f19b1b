// Package metrics exposes listener counters on a private prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the listener
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsOpened  prometheus.Counter
	SessionsClosed  prometheus.Counter
	SessionDuration prometheus.Histogram

	// Protocol metrics
	FramesReceived *prometheus.CounterVec
	FramesRejected *prometheus.CounterVec
	ResultsEmitted *prometheus.CounterVec

	// Audio metrics
	NormalizeFailures prometheus.Counter
	NormalizeDuration *prometheus.HistogramVec

	// Engine metrics
	EngineFailures *prometheus.CounterVec

	// Fan-out metrics
	BroadcastDeliveries prometheus.Counter
	TranscriptsDropped  prometheus.Counter
}

// New creates all metrics on a fresh registry so tests can build many instances
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "listener_active_sessions",
			Help: "Current number of registered recognition sessions",
		}),
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "listener_sessions_opened_total",
			Help: "Total number of sessions registered",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "listener_sessions_closed_total",
			Help: "Total number of sessions torn down",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "listener_session_duration_seconds",
			Help:    "Lifetime of sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		}),

		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "listener_frames_total",
			Help: "Inbound protocol frames by type",
		}, []string{"type"}),
		FramesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "listener_frames_rejected_total",
			Help: "Inbound frames answered with an error frame, by reason",
		}, []string{"reason"}),
		ResultsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "listener_results_total",
			Help: "Transcription results emitted to clients by kind",
		}, []string{"kind"}),

		NormalizeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "listener_normalize_failures_total",
			Help: "Audio chunks that could not be converted to canonical PCM",
		}),
		NormalizeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "listener_normalize_duration_seconds",
			Help:    "Time spent normalizing audio chunks",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"path"}),

		EngineFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "listener_engine_failures_total",
			Help: "Recognition engine failures by stage",
		}, []string{"stage"}),

		BroadcastDeliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "listener_broadcast_deliveries_total",
			Help: "Notice frames delivered by broadcast",
		}),
		TranscriptsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "listener_transcripts_dropped_total",
			Help: "Final transcripts dropped because the recording queue was full",
		}),
	}
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests that gather values directly
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
