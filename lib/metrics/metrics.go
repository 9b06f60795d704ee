// Package metrics holds the Prometheus instruments of the collector and the
// analysis endpoints.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "trendwatch"

var (
	CollectionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_runs_total",
			Help:      "Collection runs by plan and outcome",
		},
		[]string{"plan", "status"},
	)

	CollectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_duration_seconds",
			Help:      "Duration of collection runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"plan"},
	)

	ItemsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Catalog items fetched from sources, before de-duplication",
		},
		[]string{"plan"},
	)

	ItemsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_stored_total",
			Help:      "Snapshots written to the store",
		},
		[]string{"plan"},
	)

	TMDBRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tmdb_requests_total",
			Help:      "TMDB API requests by endpoint and HTTP status",
		},
		[]string{"endpoint", "status"},
	)

	TMDBRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tmdb_request_duration_seconds",
			Help:      "Latency of TMDB API requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	TrendComputations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trend_computations_total",
			Help:      "Trend analyses performed",
		},
	)

	SkippedObservations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_observations_total",
			Help:      "Observations rejected by trend analysis validation",
		},
	)
)

// RecordCollection records the outcome of one collection run.
func RecordCollection(plan string, duration time.Duration, fetched, stored int, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	CollectionRuns.WithLabelValues(plan, status).Inc()
	CollectionDuration.WithLabelValues(plan).Observe(duration.Seconds())
	ItemsFetched.WithLabelValues(plan).Add(float64(fetched))
	ItemsStored.WithLabelValues(plan).Add(float64(stored))
}

// RecordTMDBRequest records one HTTP round trip. A zero status means the
// request never got a response.
func RecordTMDBRequest(endpoint string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	TMDBRequests.WithLabelValues(endpoint, label).Inc()
	TMDBRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordTrendComputation records an analysis and how many inputs it skipped.
func RecordTrendComputation(skipped int) {
	TrendComputations.Inc()
	SkippedObservations.Add(float64(skipped))
}
