package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesSampled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceindex",
		Name:      "frames_sampled_total",
		Help:      "Total number of frames sampled from videos",
	}, []string{"video_id"})

	FramesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceindex",
		Name:      "frames_skipped_total",
		Help:      "Total number of undecodable frames skipped",
	}, []string{"video_id"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceindex",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected and persisted",
	}, []string{"video_id"})

	PersonsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceindex",
		Name:      "persons_created_total",
		Help:      "Total number of person records created by clustering",
	}, []string{"video_id"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceindex",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceindex",
		Name:      "queue_depth",
		Help:      "Number of queued processing jobs",
	})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceindex",
		Name:      "active_runs",
		Help:      "Number of currently active processing runs",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceindex",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceindex",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
