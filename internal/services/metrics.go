package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the engine
type Metrics struct {
	// Search metrics
	Searches      *prometheus.CounterVec
	SearchLatency prometheus.Histogram
	SearchEmpty   prometheus.Counter

	// Learning loop metrics
	Outcomes      *prometheus.CounterVec
	StoreRequests *prometheus.CounterVec

	// Lifecycle metrics
	Promotions prometheus.Counter
	Evictions  *prometheus.CounterVec

	// Index health
	CircuitOpens *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		// Searches by confidence level
		Searches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zikaron_searches_total",
			Help: "Total number of memory searches by confidence",
		}, []string{"confidence", "cached"}),

		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "zikaron_search_duration_seconds",
			Help:    "Memory search latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),

		SearchEmpty: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zikaron_searches_empty_total",
			Help: "Total number of searches returning no results",
		}),

		// Outcomes by kind
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zikaron_outcomes_total",
			Help: "Total number of recorded outcomes by kind",
		}, []string{"outcome"}),

		// Stores by result: created, deduplicated
		StoreRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zikaron_store_requests_total",
			Help: "Total number of memory store requests by result",
		}, []string{"result"}),

		Promotions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "zikaron_promotions_total",
			Help: "Total number of tier promotions",
		}),

		// Evictions by reason: ttl_expired, low_quality
		Evictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zikaron_evictions_total",
			Help: "Total number of lifecycle evictions by reason",
		}, []string{"reason"}),

		// Circuit breaker trips by backend: vector, lexical
		CircuitOpens: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "zikaron_index_circuit_opens_total",
			Help: "Total number of index circuit breaker openings by backend",
		}, []string{"backend"}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordSearch records one search call
func (m *Metrics) RecordSearch(confidence string, cached bool, seconds float64, results int) {
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	m.Searches.WithLabelValues(confidence, cachedLabel).Inc()
	m.SearchLatency.Observe(seconds)
	if results == 0 {
		m.SearchEmpty.Inc()
	}
}

// RecordOutcome records one outcome application
func (m *Metrics) RecordOutcome(outcome string) {
	m.Outcomes.WithLabelValues(outcome).Inc()
}

// RecordStore records one store request
func (m *Metrics) RecordStore(deduped bool) {
	result := "created"
	if deduped {
		result = "deduplicated"
	}
	m.StoreRequests.WithLabelValues(result).Inc()
}

// RecordCycle records one lifecycle cycle's results
func (m *Metrics) RecordCycle(cycleStats *CycleStats) {
	m.Promotions.Add(float64(cycleStats.Promoted))
	m.Evictions.WithLabelValues("ttl_expired").Add(float64(cycleStats.Evicted))
	m.Evictions.WithLabelValues("low_quality").Add(float64(cycleStats.Cleaned))
}

// RecordCircuitOpen records an index circuit breaker opening
func (m *Metrics) RecordCircuitOpen(backend string) {
	m.CircuitOpens.WithLabelValues(backend).Inc()
}
