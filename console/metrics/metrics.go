package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the console counters. Components bump the atomics directly;
// Prometheus collectors read them lazily on scrape.
type Metrics struct {
	FramesReceived        atomic.Uint64
	DetectionsTotal       atomic.Uint64
	Reconnects            atomic.Uint64
	HistoryAppends        atomic.Uint64
	HistoryAppendFailures atomic.Uint64
	UploadDetections      atomic.Uint64
	UploadFailures        atomic.Uint64
	ConnectionState       atomic.Uint64

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"console_frames_received_total", "Total detection frames received over the stream", m.FramesReceived.Load},
		{"console_detections_total", "Total targets detected on the live stream", m.DetectionsTotal.Load},
		{"console_stream_reconnects_total", "Total reconnect attempts after connection loss", m.Reconnects.Load},
		{"console_history_appends_total", "Detection events persisted to the history store", m.HistoryAppends.Load},
		{"console_history_append_failures_total", "Detection events dropped from durable history", m.HistoryAppendFailures.Load},
		{"console_upload_detections_total", "Upload images analyzed via the detection backend", m.UploadDetections.Load},
		{"console_upload_failures_total", "Upload detection requests that failed", m.UploadFailures.Load},
		{"console_connection_state", "Stream connection state (0=disconnected 1=connecting 2=connected 3=streaming 4=error)", m.ConnectionState.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// Handler returns the scrape endpoint for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
