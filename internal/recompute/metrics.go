package recompute

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRecomputeTotal         = "ecoscore_recompute_total"
	MetricRecomputeErrors        = "ecoscore_recompute_errors_total"
	MetricRecomputeDuration      = "ecoscore_recompute_duration_seconds"
	MetricLastSuccessTimestamp   = "ecoscore_recompute_last_success_timestamp"
	MetricLastProductsScored     = "ecoscore_recompute_last_products_scored"
	MetricDirtyVerticals         = "ecoscore_recompute_dirty_verticals"
	MetricRankingsPublishedTotal = "ecoscore_rankings_published_total"
)

// Metrics contains Prometheus metrics for vertical recomputes.
type Metrics struct {
	recomputeTotal       *prometheus.CounterVec
	recomputeErrors      *prometheus.CounterVec
	recomputeDuration    *prometheus.HistogramVec
	lastSuccessTimestamp *prometheus.GaugeVec
	lastProductsScored   *prometheus.GaugeVec
	dirtyVerticals       prometheus.Gauge
	rankingsPublished    *prometheus.CounterVec
}

// NewMetrics creates unregistered recompute metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		recomputeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRecomputeTotal,
			Help: "Total number of vertical recomputes by status",
		}, []string{"vertical", "status"}),
		recomputeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRecomputeErrors,
			Help: "Total number of vertical recompute errors by stage",
		}, []string{"vertical", "error_type"}),
		recomputeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricRecomputeDuration,
			Help:    "Histogram of vertical recompute duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
		}, []string{"vertical"}),
		lastSuccessTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricLastSuccessTimestamp,
			Help: "Unix timestamp of the last successful recompute of a vertical",
		}, []string{"vertical"}),
		lastProductsScored: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: MetricLastProductsScored,
			Help: "Number of products scored by the last successful recompute of a vertical",
		}, []string{"vertical"}),
		dirtyVerticals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricDirtyVerticals,
			Help: "Number of verticals waiting for a recompute",
		}),
		rankingsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRankingsPublishedTotal,
			Help: "Total number of ranking snapshots published",
		}, []string{"vertical"}),
	}
}

// Register registers all metrics with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.recomputeTotal,
		m.recomputeErrors,
		m.recomputeDuration,
		m.lastSuccessTimestamp,
		m.lastProductsScored,
		m.dirtyVerticals,
		m.rankingsPublished,
	}
}

func (m *Metrics) observeSuccess(vertical string, seconds float64, products int, at float64) {
	if m == nil {
		return
	}
	m.recomputeTotal.WithLabelValues(vertical, statusSuccess).Inc()
	m.recomputeDuration.WithLabelValues(vertical).Observe(seconds)
	m.lastSuccessTimestamp.WithLabelValues(vertical).Set(at)
	m.lastProductsScored.WithLabelValues(vertical).Set(float64(products))
}

func (m *Metrics) observeFailure(vertical, errorType string, seconds float64) {
	if m == nil {
		return
	}
	m.recomputeTotal.WithLabelValues(vertical, statusFailure).Inc()
	m.recomputeErrors.WithLabelValues(vertical, errorType).Inc()
	m.recomputeDuration.WithLabelValues(vertical).Observe(seconds)
}

func (m *Metrics) setDirty(n int) {
	if m == nil {
		return
	}
	m.dirtyVerticals.Set(float64(n))
}

func (m *Metrics) incPublished(vertical string, n int) {
	if m == nil {
		return
	}
	m.rankingsPublished.WithLabelValues(vertical).Add(float64(n))
}
