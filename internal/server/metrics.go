package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/boxfuse/internal/pipeline"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxfuse_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boxfuse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Run metrics
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxfuse_runs_total",
			Help: "Total number of fusion runs",
		},
		[]string{"endpoint", "status"}, // endpoint: fuse, group, compose, ws
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boxfuse_run_duration_seconds",
			Help:    "Fusion run duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"endpoint"},
	)

	fusedBoxes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boxfuse_fused_boxes",
			Help:    "Number of boxes surviving fusion",
			Buckets: []float64{0, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"endpoint"},
	)

	discardedBoxes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxfuse_discarded_boxes_total",
			Help: "Boxes removed by fusion",
		},
		[]string{"reason"}, // reason: overlap, density
	)

	groupsFormed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boxfuse_groups",
			Help:    "Number of groups formed per run",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"endpoint"},
	)

	compositesRendered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxfuse_composites_total",
			Help: "Composite images rendered",
		},
	)

	detectorErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxfuse_detector_errors_total",
			Help: "Upstream detector failures",
		},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxfuse_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests, data
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boxfuse_upload_size_bytes",
			Help:    "Size of uploaded parts in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boxfuse_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxfuse_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)

func metricsHandler() http.Handler { return promhttp.Handler() }

// observeRun records the outcome of one run.
func observeRun(endpoint string, res *pipeline.Result, err error, seconds float64) {
	if err != nil {
		runsTotal.WithLabelValues(endpoint, "error").Inc()
		return
	}
	runsTotal.WithLabelValues(endpoint, "success").Inc()
	runDuration.WithLabelValues(endpoint).Observe(seconds)
	fusedBoxes.WithLabelValues(endpoint).Observe(float64(len(res.Fused)))
	discardedBoxes.WithLabelValues("overlap").Add(float64(res.FusionStats.OverlapDiscarded))
	discardedBoxes.WithLabelValues("density").Add(float64(res.FusionStats.DensityDiscarded))
	if res.Groups != nil {
		groupsFormed.WithLabelValues(endpoint).Observe(float64(res.Groups.Len()))
	}
	if res.Layout != nil {
		compositesRendered.Add(float64(len(res.Layout.Composites)))
	}
	if res.Stats.DetectorErrors > 0 {
		detectorErrors.Add(float64(res.Stats.DetectorErrors))
	}
}
