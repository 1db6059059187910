// Package observability declares the Prometheus metrics exported on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eventphotos"

var (
	GuestSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "guest_sessions_total",
		Help:      "Guest match sessions by outcome kind",
	}, []string{"outcome"})

	SessionStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "session_stage_duration_seconds",
		Help:      "Duration of guest match session stages",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"stage"})

	MatchResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_results",
		Help:      "Number of photos returned per guest match",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100, 200},
	})

	ExtractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "extraction_duration_seconds",
		Help:      "Descriptor extraction duration",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"model", "result"})

	PhotosIndexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "photos_indexed_total",
		Help:      "Photos processed by the indexer",
	}, []string{"result"})

	IndexBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_builds_total",
		Help:      "Per-event index builds from storage",
	}, []string{"result"})

	IndexBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "index_build_duration_seconds",
		Help:      "Duration of per-event index builds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	IndexEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_evictions_total",
		Help:      "Per-event indexes evicted from memory",
	})

	IndexCorruptions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_corruptions_total",
		Help:      "Queries that detected a corrupted index entry",
	})

	ResidentIndexes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "resident_indexes",
		Help:      "Number of per-event indexes held in memory",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)
