package observability

import (
	"sync"
	"time"
)

// MockMetricsRegistry counts calls so tests can assert on emitted outcomes.
type MockMetricsRegistry struct {
	mu       sync.Mutex
	outcomes map[string]int
	cache    map[string]int
	events   map[string]int
	noFill   map[string]int
}

// NewMockMetricsRegistry returns an empty mock.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{
		outcomes: make(map[string]int),
		cache:    make(map[string]int),
		events:   make(map[string]int),
		noFill:   make(map[string]int),
	}
}

func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (m *MockMetricsRegistry) RecordServeCandidates(n int)                                          {}
func (m *MockMetricsRegistry) RecordLedgerAttempts(attempts int)                                    {}
func (m *MockMetricsRegistry) SetSpendTotal(campaign string, amount float64)                        {}

func (m *MockMetricsRegistry) IncrementNoFill(endpoint string) {
	m.inc(m.noFill, endpoint)
}

func (m *MockMetricsRegistry) IncrementEvent(event, adType string) {
	m.inc(m.events, event+"/"+adType)
}

func (m *MockMetricsRegistry) IncrementLedgerOutcome(op, outcome string) {
	m.inc(m.outcomes, op+"/"+outcome)
}

func (m *MockMetricsRegistry) IncrementCache(cache, result string) {
	m.inc(m.cache, cache+"/"+result)
}

// LedgerOutcome returns how often op finished with outcome.
func (m *MockMetricsRegistry) LedgerOutcome(op, outcome string) int {
	return m.get(m.outcomes, op+"/"+outcome)
}

// Cache returns how often cache reported result.
func (m *MockMetricsRegistry) Cache(cache, result string) int {
	return m.get(m.cache, cache+"/"+result)
}

// Events returns the count for an event kind and ad type.
func (m *MockMetricsRegistry) Events(event, adType string) int {
	return m.get(m.events, event+"/"+adType)
}

// NoFill returns the no-fill count for endpoint.
func (m *MockMetricsRegistry) NoFill(endpoint string) int {
	return m.get(m.noFill, endpoint)
}

func (m *MockMetricsRegistry) inc(bucket map[string]int, key string) {
	m.mu.Lock()
	bucket[key]++
	m.mu.Unlock()
}

func (m *MockMetricsRegistry) get(bucket map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bucket[key]
}
