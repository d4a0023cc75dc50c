package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facepk",
		Name:      "submissions_total",
		Help:      "Scored submissions by dedupe outcome",
	}, []string{"outcome"})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facepk",
		Name:      "provider_errors_total",
		Help:      "Scoring provider failures",
	}, []string{"provider", "reason"})

	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facepk",
		Name:      "provider_duration_seconds",
		Help:      "Latency of scoring provider calls",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"provider"})

	DedupeComparisons = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facepk",
		Name:      "dedupe_comparisons_total",
		Help:      "Grid similarity comparisons performed against candidates",
	})

	Matches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facepk",
		Name:      "matches_total",
		Help:      "Resolved matches by challenger result",
	}, []string{"result"})

	TxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facepk",
		Name:      "tx_retries_total",
		Help:      "Transactions retried after a serialization failure",
	})

	EventsProjected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facepk",
		Name:      "events_projected_total",
		Help:      "Domain events consumed by the stats projector",
	}, []string{"kind", "status"})

	EventsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facepk",
		Name:      "events_pending",
		Help:      "Events not yet delivered to the stats projector",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facepk",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
