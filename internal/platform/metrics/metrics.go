package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	SessionsCreated   *prometheus.CounterVec
	SessionsCompleted prometheus.Counter
	SessionsExpired   prometheus.Counter
	SessionsCancelled prometheus.Counter

	SignaturesVerified prometheus.Counter
	SignaturesRejected prometheus.Counter

	SubmitDurationMs prometheus.Histogram

	AccessChecks    *prometheus.CounterVec
	BroadcastErrors prometheus.Counter

	RequestDurationMs *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		SessionsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grouplock_sessions_created_total",
			Help: "Authentication sessions created, by group auth type",
		}, []string{"auth_type"}),
		SessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grouplock_sessions_completed_total",
			Help: "Authentication sessions that reached COMPLETED",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grouplock_sessions_expired_total",
			Help: "Authentication sessions that reached EXPIRED",
		}),
		SessionsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grouplock_sessions_cancelled_total",
			Help: "Authentication sessions that reached CANCELLED",
		}),
		SignaturesVerified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grouplock_signatures_verified_total",
			Help: "Biometric signatures accepted toward a quorum",
		}),
		SignaturesRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grouplock_signatures_rejected_total",
			Help: "Biometric signatures rejected by the verifier",
		}),
		SubmitDurationMs: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "grouplock_submit_signature_duration_ms",
			Help:    "Latency of signature submission in milliseconds",
			Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		AccessChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grouplock_access_checks_total",
			Help: "Access gate checks, by cache outcome (hit/miss)",
		}, []string{"outcome"}),
		BroadcastErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grouplock_broadcast_errors_total",
			Help: "Auth-state broadcasts that failed after retries",
		}),
		RequestDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "grouplock_http_request_duration_ms",
			Help:    "HTTP request latency in milliseconds",
			Buckets: []float64{1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"route", "method"}),
	}
}

// ObserveSubmit records a signature submission latency.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	m.SubmitDurationMs.Observe(float64(d.Microseconds()) / 1000.0)
}
