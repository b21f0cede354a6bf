package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the capture pipeline and
// the observer. A nil *Metrics is valid and records nothing, so components
// can be wired without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	framesComposited    prometheus.Counter
	framesHeld          prometheus.Counter
	chunksEncoded       prometheus.Counter
	chunkBytes          prometheus.Counter
	liveFramesPublished prometheus.Counter
	liveFramesDropped   prometheus.Counter
	uploadAttempts      prometheus.Counter
	uploadFailures      prometheus.Counter
	sessionsByHealth    *prometheus.GaugeVec
}

// New creates and registers metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		framesComposited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_frames_composited_total",
			Help: "Total frames drawn onto the composited surface",
		}),
		framesHeld: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_frames_held_total",
			Help: "Render ticks where a source had no decodable frame",
		}),
		chunksEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_chunks_encoded_total",
			Help: "Total encoded chunks flushed",
		}),
		chunkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_chunk_bytes_total",
			Help: "Total encoded bytes across all chunks",
		}),
		liveFramesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_live_frames_published_total",
			Help: "Live preview frames published to the pub/sub channel",
		}),
		liveFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_live_frames_dropped_total",
			Help: "Live preview frames skipped due to publish failure",
		}),
		uploadAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_upload_attempts_total",
			Help: "Artifact upload attempts including retries",
		}),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "capture_upload_failures_total",
			Help: "Artifact uploads that exhausted all retries",
		}),
		sessionsByHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "observer_sessions_by_health",
			Help: "Observed sessions per stream health state",
		}, []string{"state"}),
	}

	registry.MustRegister(
		m.framesComposited,
		m.framesHeld,
		m.chunksEncoded,
		m.chunkBytes,
		m.liveFramesPublished,
		m.liveFramesDropped,
		m.uploadAttempts,
		m.uploadFailures,
		m.sessionsByHealth,
	)

	return m
}

func (m *Metrics) IncFramesComposited() {
	if m == nil {
		return
	}
	m.framesComposited.Inc()
}

func (m *Metrics) IncFramesHeld() {
	if m == nil {
		return
	}
	m.framesHeld.Inc()
}

func (m *Metrics) AddChunk(bytes int) {
	if m == nil {
		return
	}
	m.chunksEncoded.Inc()
	m.chunkBytes.Add(float64(bytes))
}

func (m *Metrics) IncLiveFramesPublished() {
	if m == nil {
		return
	}
	m.liveFramesPublished.Inc()
}

func (m *Metrics) IncLiveFramesDropped() {
	if m == nil {
		return
	}
	m.liveFramesDropped.Inc()
}

func (m *Metrics) IncUploadAttempts() {
	if m == nil {
		return
	}
	m.uploadAttempts.Inc()
}

func (m *Metrics) IncUploadFailures() {
	if m == nil {
		return
	}
	m.uploadFailures.Inc()
}

func (m *Metrics) SetSessionsByHealth(state string, n int) {
	if m == nil {
		return
	}
	m.sessionsByHealth.WithLabelValues(state).Set(float64(n))
}

// Handler returns an http.Handler serving the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
