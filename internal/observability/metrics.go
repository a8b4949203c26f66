package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adserver_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adserver_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// serve requests that returned no sponsored content
	NoFillCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adserver_no_fill_total",
			Help: "Serve requests without an eligible campaign",
		},
		[]string{"endpoint"},
	)

	// candidates left after targeting, per serve request
	ServeCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adserver_serve_candidates",
			Help:    "Number of campaigns passing targeting per serve request",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50, 100},
		},
	)

	// number of events recorded, labelled by event kind and ad type
	EventCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adserver_events_total",
			Help: "Total events recorded",
		},
		[]string{"event", "type"},
	)

	// ledger results: billed, exhausted, counted, contention, not_found, error
	LedgerOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adserver_ledger_outcomes_total",
			Help: "Budget ledger operation outcomes",
		},
		[]string{"op", "outcome"},
	)

	// CAS attempts needed per ledger operation
	LedgerAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "adserver_ledger_attempts",
			Help:    "Compare-and-swap attempts per ledger operation",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16, 32},
		},
	)

	// spend tracked per campaign
	SpendTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "adserver_spend_total",
			Help: "Total spend recorded",
		},
		[]string{"campaign"},
	)

	// cache lookups by cache name and result (hit, miss, error)
	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adserver_cache_requests_total",
			Help: "Cache lookups by result",
		},
		[]string{"cache", "result"},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		NoFillCount,
		ServeCandidates,
		EventCount,
		LedgerOutcomes,
		LedgerAttempts,
		SpendTotal,
		CacheRequests,
	)
}
