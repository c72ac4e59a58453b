package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "job_duration_seconds",
		Help:      "Duration of engine jobs by type",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"job", "outcome"})

	FacesClustered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "faces_clustered_total",
		Help:      "Faces processed by clustering, by result",
	}, []string{"result"}) // assigned, grouped, noise

	CentroidBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "centroid_builds_total",
		Help:      "Centroid build attempts by final status",
	}, []string{"status"})

	SuggestionsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "suggestions_generated_total",
		Help:      "Suggestion candidates by strategy and tier",
	}, []string{"strategy", "tier"}) // tier: auto_assign, pending, discarded, duplicate

	DualWriteFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "dual_write_failures_total",
		Help:      "Failed writes during coordinated dual-store mutations",
	}, []string{"store", "op"})

	ReconcileDivergences = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "reconcile_divergences_total",
		Help:      "Record/index divergences repaired by reconciliation",
	})

	IndexOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "index_op_duration_seconds",
		Help:      "Duration of embedding index operations",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"op"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceid",
		Name:      "queue_depth",
		Help:      "Number of pending jobs in the queue",
	})
)
