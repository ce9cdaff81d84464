package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records sign-in attempts by result (success|failure|two_factor).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_auth_attempts_total",
			Help: "Total number of sign-in attempts",
		},
		[]string{"result"},
	)

	// TokenVerification measures pending-token verification latency by class and outcome.
	// Kept for timing-anomaly analysis; verification timing is not normalised.
	TokenVerification = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hearth_token_verification_seconds",
			Help:    "Latency of email-verification and password-reset token checks",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"class", "result"},
	)

	// RefreshRotations counts refresh-token rotations (success|invalid|error).
	RefreshRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_refresh_rotations_total",
			Help: "Total number of refresh token rotations",
		},
		[]string{"result"},
	)

	// Notifications counts outbound email dispatches by kind and result.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_notifications_total",
			Help: "Total number of notification deliveries",
		},
		[]string{"kind", "result"},
	)

	// SweptTokens counts expired pending tokens cleared by the maintenance sweeper.
	SweptTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_swept_tokens_total",
			Help: "Expired pending tokens removed by maintenance",
		},
		[]string{"class"},
	)

	// MaintenanceRuns counts background job executions by outcome.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hearth_maintenance_runs_total",
			Help: "Maintenance job executions",
		},
		[]string{"job", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hearth_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
