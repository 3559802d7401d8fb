package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result
	// (success|bad_credentials|not_verified|error).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// Verifications counts email verification submissions by outcome
	// (success|invalid_or_expired|error).
	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_email_verifications_total",
			Help: "Total number of email verification submissions",
		},
		[]string{"result"},
	)

	// PasswordResets counts password reset completions by outcome
	// (success|invalid_or_expired|error).
	PasswordResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_password_resets_total",
			Help: "Total number of password reset submissions",
		},
		[]string{"result"},
	)

	// NotificationsSent counts outbound notification emails by kind and result.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_notifications_sent_total",
			Help: "Total number of outbound notification emails",
		},
		[]string{"kind", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authgate_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
