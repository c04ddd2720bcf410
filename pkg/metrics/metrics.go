package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records LINE callback outcomes by action (login|connect) and result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lineauth_auth_attempts_total",
			Help: "Total number of LINE authentication callbacks",
		},
		[]string{"action", "result"},
	)

	// AccountsCreated counts local accounts provisioned from LINE identities.
	AccountsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lineauth_accounts_created_total",
			Help: "Total number of accounts created from LINE logins",
		},
	)

	// TokenExchangeLatency measures round trips to the LINE token endpoint.
	TokenExchangeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lineauth_token_exchange_seconds",
			Help:    "LINE token endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lineauth_api_latency_seconds",
			Help:    "HTTP endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
