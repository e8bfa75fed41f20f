package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Decision metrics
	DecisionsTotal    *prometheus.CounterVec
	DecisionLatency   prometheus.Histogram
	OverridesActive   prometheus.Gauge
	OverrideRequests  *prometheus.CounterVec
	ConsentChanges    *prometheus.CounterVec

	// Audit trail metrics. AuditAppendFailures is the operator-facing
	// alert signal for the fail-closed path.
	AuditAppendLatency  prometheus.Histogram
	AuditAppendFailures prometheus.Counter
	AuditChainBroken    *prometheus.CounterVec
}

// New creates and registers all application metrics
func New(namespace string) *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Access decisions by verdict and reason",
		}, []string{"verdict", "reason"}),
		DecisionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "End-to-end evaluate() latency including audit commit",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		OverridesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "overrides_active",
			Help:      "Break-the-glass grants currently in their access window",
		}),
		OverrideRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "override_requests_total",
			Help:      "Break-the-glass requests by outcome",
		}, []string{"outcome"}),
		ConsentChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consent_changes_total",
			Help:      "Consent status changes by scope and status",
		}, []string{"scope", "status"}),
		AuditAppendLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_append_duration_seconds",
			Help:      "Audit event append latency",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		AuditAppendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_append_failures_total",
			Help:      "Audit appends that failed or timed out, forcing a fail-closed DENY",
		}),
		AuditChainBroken: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_chain_broken_total",
			Help:      "Chain verification failures by tenant",
		}, []string{"tenant"}),
	}
}
