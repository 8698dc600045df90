package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsRecordedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provider_health",
			Name:      "requests_recorded_total",
			Help:      "Provider call outcomes recorded by the health monitor.",
		},
		[]string{"provider", "outcome"},
	)

	circuitTransitionsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "provider_health",
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state transitions.",
		},
		[]string{"provider", "to_state"},
	)
)
