// Package metrics provides Prometheus-based metrics for the sync server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codefionn/devsync/internal/logger"
)

// Recorder holds the metrics of one worker process.
type Recorder struct {
	registry          *prometheus.Registry
	connectionsTotal  prometheus.Counter
	framesTotal       *prometheus.CounterVec
	filesSyncedTotal  prometheus.Counter
	buildsTotal       *prometheus.CounterVec
	buildDurationSecs prometheus.Histogram
}

// NewRecorder creates a recorder with its own registry, so each worker (and
// each test) registers independently.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "devsync_connections_total",
			Help: "Total number of accepted client connections",
		}),
		framesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devsync_frames_total",
				Help: "Total number of protocol frames by direction and type",
			},
			[]string{"direction", "type"},
		),
		filesSyncedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "devsync_files_synced_total",
			Help: "Total number of files written through file-change and file-sync",
		}),
		buildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devsync_builds_total",
				Help: "Total number of one-shot builds by status",
			},
			[]string{"status"},
		),
		buildDurationSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "devsync_build_duration_seconds",
			Help:    "Duration of one-shot builds in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// IncConnection records an accepted connection.
func (r *Recorder) IncConnection() {
	r.connectionsTotal.Inc()
}

// IncFrameIn records a decoded inbound frame.
func (r *Recorder) IncFrameIn(typeName string) {
	r.framesTotal.WithLabelValues("in", typeName).Inc()
}

// IncFrameOut records an encoded outbound frame.
func (r *Recorder) IncFrameOut(typeName string) {
	r.framesTotal.WithLabelValues("out", typeName).Inc()
}

// IncFileSynced records a file write driven by the client.
func (r *Recorder) IncFileSynced() {
	r.filesSyncedTotal.Inc()
}

// ObserveBuild records a completed one-shot build.
func (r *Recorder) ObserveBuild(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	r.buildsTotal.WithLabelValues(status).Inc()
	r.buildDurationSecs.Observe(duration.Seconds())
}

// Serve exposes the recorder's registry over HTTP at /metrics. It returns
// immediately; the listener runs until the process exits.
func (r *Recorder) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	go func() {
		logger.Info("metrics listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server error: %v", err)
		}
	}()
}
