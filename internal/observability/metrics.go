package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SightingsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facerec",
		Name:      "sightings_processed_total",
		Help:      "Total number of sightings processed, by subject kind",
	}, []string{"kind"})

	AmbiguousMatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facerec",
		Name:      "ambiguous_matches_total",
		Help:      "Sightings rejected by the identify margin rule",
	})

	FingerprintsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facerec",
		Name:      "fingerprints_created_total",
		Help:      "New unknown-person fingerprints registered",
	})

	AttendanceTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facerec",
		Name:      "attendance_transitions_total",
		Help:      "Attendance ledger outcomes",
	}, []string{"outcome"})

	OutOfOrderSightings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facerec",
		Name:      "out_of_order_sightings_total",
		Help:      "Sightings rejected for arriving behind last_seen_at",
	})

	PipelineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facerec",
		Name:      "pipeline_duration_seconds",
		Help:      "Duration of sighting pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"stage"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facerec",
		Name:      "queue_depth",
		Help:      "Number of pending sighting tasks in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facerec",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facerec",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
