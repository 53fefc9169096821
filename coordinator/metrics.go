/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package coordinator

import "github.com/prometheus/client_golang/prometheus"

// Decision verdict label values.
const (
	DecisionVerdictAllowed = "allowed"
	DecisionVerdictLimited = "limited"
)

// Decision source label values.
const (
	DecisionSourceCache = "cache"
	DecisionSourceActor = "actor"
)

// MetricsCollector represents a collector of decision statistics.
type MetricsCollector interface {
	// ObserveDecision accounts one produced decision with its verdict and
	// where the decision came from.
	ObserveDecision(verdict, source string)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the coordinator.
type PrometheusMetrics struct {
	DecisionsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	return &PrometheusMetrics{
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   opts.Namespace,
				Name:        "rate_limit_decisions_total",
				Help:        "Number of produced admission decisions.",
				ConstLabels: opts.ConstLabels,
			},
			[]string{"verdict", "source"},
		),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.DecisionsTotal)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.DecisionsTotal)
}

// ObserveDecision accounts one produced decision.
func (pm *PrometheusMetrics) ObserveDecision(verdict, source string) {
	pm.DecisionsTotal.WithLabelValues(verdict, source).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) ObserveDecision(string, string) {}
