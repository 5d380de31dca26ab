// Package metrics exposes comparison counters and histograms in the
// Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diff_finder"

// ComparisonMetrics records one observation per comparison on its own registry.
type ComparisonMetrics struct {
	registry    *prometheus.Registry
	comparisons *prometheus.CounterVec
	duration    prometheus.Histogram
	significant prometheus.Histogram
}

// NewComparisonMetrics registers the comparison collectors together with the
// Go runtime and process collectors.
func NewComparisonMetrics() *ComparisonMetrics {
	m := &ComparisonMetrics{
		registry: prometheus.NewRegistry(),
		comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comparisons_total",
			Help:      "Image comparisons by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "comparison_duration_seconds",
			Help:      "Time spent running the difference pipeline.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		significant: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "significant_regions",
			Help:      "Significant difference regions per successful comparison.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
	m.registry.MustRegister(
		m.comparisons,
		m.duration,
		m.significant,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveComparison records the outcome and duration of a comparison. The
// region count is only recorded for successful ones.
func (m *ComparisonMetrics) ObserveComparison(outcome string, duration time.Duration, significant int) {
	m.comparisons.WithLabelValues(outcome).Inc()
	m.duration.Observe(duration.Seconds())
	if outcome == "success" {
		m.significant.Observe(float64(significant))
	}
}

// Registry returns the registry holding the collectors.
func (m *ComparisonMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry for scraping.
func (m *ComparisonMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
