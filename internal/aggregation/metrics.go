package aggregation

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricBatchRunsTotal        = "ecoscore_batch_runs_total"
	MetricBatchRunDuration      = "ecoscore_batch_run_duration_seconds"
	MetricScoresRecordedTotal   = "ecoscore_scores_recorded_total"
	MetricItemIssuesTotal       = "ecoscore_item_issues_total"
	MetricUnknownBrandsTotal    = "ecoscore_unknown_brands_total"
	MetricLegacyNormalizedTotal = "ecoscore_legacy_normalized_scores_total"
)

// Run status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for batch scoring runs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	scoresRecorded   *prometheus.CounterVec
	itemIssues       *prometheus.CounterVec
	unknownBrands    *prometheus.CounterVec
	legacyNormalized *prometheus.CounterVec
}

// NewMetrics creates the collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricBatchRunsTotal,
			Help: "Total number of batch scoring runs by vertical and status",
		}, []string{"vertical", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    MetricBatchRunDuration,
			Help:    "Duration of batch scoring runs in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"vertical"}),
		scoresRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricScoresRecordedTotal,
			Help: "Total number of raw scores recorded during the per-item pass",
		}, []string{"vertical", "score"}),
		itemIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricItemIssuesTotal,
			Help: "Total number of per-item warnings and failures by code",
		}, []string{"vertical", "code"}),
		unknownBrands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricUnknownBrandsTotal,
			Help: "Total number of products whose brand rating could not be resolved",
		}, []string{"vertical"}),
		legacyNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricLegacyNormalizedTotal,
			Help: "Total number of score names normalized with the legacy fallback",
		}, []string{"vertical"}),
	}
}

// Register registers all metrics with the given registry.
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
		m.runsTotal,
		m.runDuration,
		m.scoresRecorded,
		m.itemIssues,
		m.unknownBrands,
		m.legacyNormalized,
	}
}

func (m *Metrics) observeRun(vertical, status string, seconds float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(vertical, status).Inc()
	m.runDuration.WithLabelValues(vertical).Observe(seconds)
}

func (m *Metrics) incScore(vertical, score string) {
	if m == nil {
		return
	}
	m.scoresRecorded.WithLabelValues(vertical, score).Inc()
}

func (m *Metrics) incIssue(vertical string, code Code) {
	if m == nil {
		return
	}
	m.itemIssues.WithLabelValues(vertical, string(code)).Inc()
}

func (m *Metrics) incUnknownBrand(vertical string) {
	if m == nil {
		return
	}
	m.unknownBrands.WithLabelValues(vertical).Inc()
}

func (m *Metrics) incLegacy(vertical string) {
	if m == nil {
		return
	}
	m.legacyNormalized.WithLabelValues(vertical).Inc()
}
