package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	DispatchAttempts    *prometheus.CounterVec
	RateLimitDenials    prometheus.Counter
	CredentialRefreshes *prometheus.CounterVec
	InboundRouted       *prometheus.CounterVec
	InterviewOutcomes   *prometheus.CounterVec
	DispatchDuration    prometheus.Histogram
	PollCycles          prometheus.Counter
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		DispatchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_dispatch_attempts_total",
			Help: "Dispatch attempts by terminal status",
		}, []string{"status"}),
		RateLimitDenials: promauto.NewCounter(prometheus.CounterOpts{
			Name: "outreach_rate_limit_denials_total",
			Help: "Send reservations denied by the rate limiter",
		}),
		CredentialRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_credential_refreshes_total",
			Help: "OAuth token refresh attempts by result",
		}, []string{"result"}),
		InboundRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_inbound_routed_total",
			Help: "Inbound messages routed by classification label",
		}, []string{"label"}),
		InterviewOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_interview_outcomes_total",
			Help: "Interview scheduling outcomes",
		}, []string{"outcome"}),
		DispatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "outreach_dispatch_duration_seconds",
			Help:    "Time spent in one dispatch attempt",
			Buckets: prometheus.DefBuckets,
		}),
		PollCycles: promauto.NewCounter(prometheus.CounterOpts{
			Name: "outreach_reply_poll_cycles_total",
			Help: "Inbound reply polling cycles",
		}),
	}
}
