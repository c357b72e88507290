package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leihsy",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leihsy",
			Name:      "booking_transitions_total",
			Help:      "Booking lifecycle transitions by action.",
		},
		[]string{"action"},
	)

	redemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "leihsy",
			Name:      "token_redemptions_total",
			Help:      "Transaction token redemptions by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, redemptions)
	})
}

// IncHTTP increments the request counter for an endpoint and status code.
func IncHTTP(endpoint, code string) {
	httpRequests.WithLabelValues(endpoint, code).Inc()
}

// IncTransition increments the counter for a lifecycle action.
func IncTransition(action string) {
	transitions.WithLabelValues(action).Inc()
}

// IncRedemption increments the counter for a token redemption outcome,
// e.g. "ok", "expired", "already_used".
func IncRedemption(outcome string) {
	redemptions.WithLabelValues(outcome).Inc()
}
