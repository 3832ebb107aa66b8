// Package metrics 进程级Prometheus指标，由 GET /metrics 暴露
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cardkit"

var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "Scans processed by mode and outcome.",
	}, []string{"mode", "outcome"})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "End to end scan latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"mode"})

	RegionsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "regions_detected_total",
		Help:      "Card regions found by the detector.",
	})

	CardsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cards_matched_total",
		Help:      "Regions resolved to a reference card, by method.",
	}, []string{"method"})

	MatchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_distance_bits",
		Help:      "Hamming distance to the nearest reference fingerprint.",
		Buckets:   prometheus.LinearBuckets(0, 4, 16),
	})

	EnrichmentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_total",
		Help:      "Catalog enrichment outcomes (live, cached, unavailable, disabled).",
	}, []string{"outcome"})

	CatalogRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_requests_total",
		Help:      "HTTP requests issued to the card catalog, by status code.",
	}, []string{"code"})

	LimiterWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "catalog_limiter_wait_seconds",
		Help:      "Time spent waiting for a catalog rate limit token.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	})

	IndexCards = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_cards",
		Help:      "Records in the published reference index.",
	})

	QueueRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queue_rejected_total",
		Help:      "Scans rejected after waiting for a processing slot.",
	})
)
