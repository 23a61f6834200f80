// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tubescribe_circuit_breaker_state",
		Help: "Circuit breaker state per model key (0=closed, 1=half-open, 2=open)",
	}, []string{"key"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubescribe_circuit_breaker_trips_total",
		Help: "Circuit breaker trips per model key",
	}, []string{"key", "reason"})

	// RateGateWaits tracks how long callers blocked on lease admission.
	RateGateWaits = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tubescribe_rategate_wait_seconds",
		Help:    "Time callers spent waiting for a rate gate lease",
		Buckets: prometheus.ExponentialBuckets(0.001, 4.0, 10), // 1ms to ~4.5min
	}, []string{"key"})

	// RateGateAdmissions counts admitted leases per model key.
	RateGateAdmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tubescribe_rategate_admissions_total",
		Help: "Leases admitted per model key",
	}, []string{"key"})
)

// SetCircuitBreakerState publishes the breaker state as a gauge.
func SetCircuitBreakerState(key, state string) {
	var v float64
	switch state {
	case "half-open":
		v = 1
	case "open":
		v = 2
	}
	circuitBreakerState.WithLabelValues(key).Set(v)
}

// RecordCircuitBreakerTrip counts a closed/half-open -> open transition.
func RecordCircuitBreakerTrip(key, reason string) {
	circuitBreakerTrips.WithLabelValues(key, reason).Inc()
}
