package observability

import "time"

// MetricsRegistry records application metrics. Components receive it by
// injection instead of touching the Prometheus globals.
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Serving metrics
	IncrementNoFill(endpoint string)
	RecordServeCandidates(n int)

	// Event tracking metrics
	IncrementEvent(event, adType string)

	// Budget ledger metrics
	IncrementLedgerOutcome(op, outcome string)
	RecordLedgerAttempts(attempts int)
	SetSpendTotal(campaign string, amount float64)

	// Cache metrics
	IncrementCache(cache, result string)
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementNoFill(endpoint string) {
	NoFillCount.WithLabelValues(endpoint).Inc()
}

func (r *PrometheusRegistry) RecordServeCandidates(n int) {
	ServeCandidates.Observe(float64(n))
}

func (r *PrometheusRegistry) IncrementEvent(event, adType string) {
	EventCount.WithLabelValues(event, adType).Inc()
}

func (r *PrometheusRegistry) IncrementLedgerOutcome(op, outcome string) {
	LedgerOutcomes.WithLabelValues(op, outcome).Inc()
}

func (r *PrometheusRegistry) RecordLedgerAttempts(attempts int) {
	LedgerAttempts.Observe(float64(attempts))
}

func (r *PrometheusRegistry) SetSpendTotal(campaign string, amount float64) {
	SpendTotal.WithLabelValues(campaign).Set(amount)
}

func (r *PrometheusRegistry) IncrementCache(cache, result string) {
	CacheRequests.WithLabelValues(cache, result).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementNoFill(endpoint string)                                      {}
func (r *NoOpRegistry) RecordServeCandidates(n int)                                          {}
func (r *NoOpRegistry) IncrementEvent(event, adType string)                                  {}
func (r *NoOpRegistry) IncrementLedgerOutcome(op, outcome string)                            {}
func (r *NoOpRegistry) RecordLedgerAttempts(attempts int)                                    {}
func (r *NoOpRegistry) SetSpendTotal(campaign string, amount float64)                        {}
func (r *NoOpRegistry) IncrementCache(cache, result string)                                  {}
