// Package metrics declares the prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipflow_upload_sessions_started_total",
		Help: "Upload sessions opened, by upload mode",
	}, []string{"mode"})
	PartsAcknowledged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipflow_parts_acknowledged_total",
		Help: "Part completion callbacks accepted",
	})
	PartsAuthorized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipflow_parts_authorized_total",
		Help: "Per-part write URLs issued",
	})
	Finalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipflow_finalizations_total",
		Help: "Finalize outcomes",
	}, []string{"result"})
	TranscodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "clipflow_transcode_duration_seconds",
		Help:    "Time taken to transcode one session end to end",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	})
	RenditionsEncoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipflow_renditions_encoded_total",
		Help: "Rendition encodes by label and result",
	}, []string{"rendition", "result"})
	ActiveTranscodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clipflow_transcode_active_jobs",
		Help: "Transcodes currently holding a worker slot",
	})
	QueuedTranscodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clipflow_transcode_queued_jobs",
		Help: "Transcodes waiting for a worker slot",
	})
	PlaybackResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clipflow_playback_resolved_total",
		Help: "Playback URLs issued, by tier and delivery",
	}, []string{"tier", "delivery"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
