package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions tracks sessions that have not expired or been destroyed.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// InviteRedemptions counts redemption attempts by outcome
	// (success|expired|exhausted|invalid|conflict|error).
	InviteRedemptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_invite_redemptions_total",
			Help: "Total number of invite redemption attempts",
		},
		[]string{"result"},
	)

	// AdminStatusRefreshes counts read-through refreshes of the cached admin
	// flag against the media server.
	AdminStatusRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_admin_status_refreshes_total",
			Help: "Total number of admin flag refreshes against the media server",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
