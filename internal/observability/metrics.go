package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhotosIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "racephoto",
		Name:      "photos_ingested_total",
		Help:      "Upload notifications by outcome (accepted, ignored, malformed)",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "racephoto",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"stage"})

	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "racephoto",
		Name:      "stage_errors_total",
		Help:      "Pipeline stage failures",
	}, []string{"stage"})

	FacesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "racephoto",
		Name:      "faces_indexed_total",
		Help:      "Total number of faces added to recognition collections",
	})

	BibsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "racephoto",
		Name:      "bibs_resolved_total",
		Help:      "Bib resolutions by source (ocr, face, disambiguated, none, deferred)",
	}, []string{"source"})

	SelfieSearches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "racephoto",
		Name:      "selfie_searches_total",
		Help:      "Selfie searches by outcome",
	}, []string{"outcome"})

	BatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "racephoto",
		Name:      "batch_item_failures_total",
		Help:      "Messages reported back to the queue as failed",
	})

	DeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "racephoto",
		Name:      "dead_lettered_total",
		Help:      "Messages moved to the dead-letter stream",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "racephoto",
		Name:      "queue_depth",
		Help:      "Number of pending pipeline messages",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "racephoto",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "racephoto",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
