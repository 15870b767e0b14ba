// Package metrics exposes Prometheus instrumentation for the forecasting
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bedcast Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ForecastsTotal   prometheus.Counter
	FitFailuresTotal prometheus.Counter
	FitDuration      prometheus.Histogram
	AlertsGenerated  prometheus.Counter
	RankingsTotal    prometheus.Counter
}

// New creates and registers the bedcast collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ForecastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bedcast_forecasts_total",
			Help: "Completed occupancy forecasts.",
		}),
		FitFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bedcast_fit_failures_total",
			Help: "Model fits that failed as degenerate or singular.",
		}),
		FitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bedcast_fit_duration_seconds",
			Help:    "Wall time of model fit plus projection.",
			Buckets: prometheus.DefBuckets,
		}),
		AlertsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bedcast_alerts_generated_total",
			Help: "Availability alerts emitted.",
		}),
		RankingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bedcast_rankings_total",
			Help: "Facility comparison rankings served.",
		}),
	}

	m.registry.MustRegister(
		m.ForecastsTotal,
		m.FitFailuresTotal,
		m.FitDuration,
		m.AlertsGenerated,
		m.RankingsTotal,
	)
	return m
}

// Handler returns the /metrics HTTP handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
