package jobs

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(vec *prometheus.CounterVec, labels ...string) float64 {
	var m dto.Metric
	if err := vec.WithLabelValues(labels...).Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func histogram(vec *prometheus.HistogramVec, labels ...string) *dto.Histogram {
	var m dto.Metric
	if err := vec.WithLabelValues(labels...).(prometheus.Metric).Write(&m); err != nil {
		return nil
	}
	return m.GetHistogram()
}

func TestMetrics_Register(t *testing.T) {
	t.Run("gathers every family", func(t *testing.T) {
		m := NewMetrics()
		reg := prometheus.NewRegistry()
		if err := m.Register(reg); err != nil {
			t.Fatalf("Register() error = %v", err)
		}

		m.IncJobsTotal(JobTypeScoreRecompute, StatusSuccess)
		m.ObserveJobDuration(JobTypeScoreRecompute, 1.0)
		m.IncJobErrors(JobTypeScoreRecompute, ErrorTypeTimeout)

		families, err := reg.Gather()
		if err != nil {
			t.Fatalf("Gather() error = %v", err)
		}
		found := make(map[string]bool)
		for _, f := range families {
			found[f.GetName()] = true
		}
		for _, name := range []string{MetricBackgroundJobsTotal, MetricBackgroundJobsDuration, MetricBackgroundJobErrorsTotal} {
			if !found[name] {
				t.Errorf("metric %s not gathered", name)
			}
		}
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if err := NewMetrics().Register(reg); err != nil {
			t.Fatalf("first Register() error = %v", err)
		}
		if err := NewMetrics().Register(reg); err == nil {
			t.Error("second Register() should fail")
		}
	})
}

func TestMetrics_IncJobsTotal(t *testing.T) {
	m := NewMetrics()

	tests := []struct {
		jobType string
		status  string
		count   int
	}{
		{JobTypeScoreRecompute, StatusSuccess, 10},
		{JobTypeScoreRecompute, StatusFailure, 2},
		{JobTypeScorePersist, StatusSuccess, 5},
		{JobTypeRankingPublish, StatusSuccess, 20},
		{JobTypeCacheInvalidate, StatusFailure, 1},
	}

	for _, tt := range tests {
		for i := 0; i < tt.count; i++ {
			m.IncJobsTotal(tt.jobType, tt.status)
		}
		if got := counterValue(m.jobsTotal, tt.jobType, tt.status); got != float64(tt.count) {
			t.Errorf("%s/%s = %f, want %d", tt.jobType, tt.status, got, tt.count)
		}
	}
}

func TestMetrics_ObserveJobDuration(t *testing.T) {
	m := NewMetrics()
	durations := []float64{0.05, 0.5, 5.0, 30.0, 120.0}

	var want float64
	for _, d := range durations {
		m.ObserveJobDuration(JobTypeBatchScore, d)
		want += d
	}

	h := histogram(m.jobsDuration, JobTypeBatchScore)
	if h.GetSampleCount() != uint64(len(durations)) {
		t.Errorf("sample count = %d, want %d", h.GetSampleCount(), len(durations))
	}
	if got := h.GetSampleSum(); got < want*0.99 || got > want*1.01 {
		t.Errorf("sample sum = %f, want about %f", got, want)
	}
}

func TestMetrics_IncJobErrors(t *testing.T) {
	m := NewMetrics()

	m.IncJobErrors(JobTypeScoreRecompute, ErrorTypeTimeout)
	m.IncJobErrors(JobTypeScoreRecompute, ErrorTypeTimeout)
	m.IncJobErrors(JobTypeScoreRecompute, ErrorTypeLoad)

	if got := counterValue(m.jobErrors, JobTypeScoreRecompute, ErrorTypeTimeout); got != 2 {
		t.Errorf("timeout errors = %f, want 2", got)
	}
	if got := counterValue(m.jobErrors, JobTypeScoreRecompute, ErrorTypeLoad); got != 1 {
		t.Errorf("load errors = %f, want 1", got)
	}
	if got := counterValue(m.jobErrors, JobTypeScorePersist, ErrorTypeLoad); got != 0 {
		t.Errorf("untouched label = %f, want 0", got)
	}
}

func TestMetrics_JobTypesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, jt := range []string{
		JobTypeScoreRecompute,
		JobTypeScorePersist,
		JobTypeRankingPublish,
		JobTypeCacheInvalidate,
		JobTypeBatchScore,
	} {
		if jt == "" || seen[jt] {
			t.Errorf("job type %q is empty or duplicated", jt)
		}
		seen[jt] = true
	}
}

func TestMetrics_Concurrency(t *testing.T) {
	m := NewMetrics()
	const goroutines, iterations = 10, 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				m.IncJobsTotal(JobTypeScoreRecompute, StatusSuccess)
				m.ObserveJobDuration(JobTypeScoreRecompute, 1.5)
				m.IncJobErrors(JobTypeScoreRecompute, ErrorTypeSave)
			}
		}()
	}
	wg.Wait()

	want := float64(goroutines * iterations)
	if got := counterValue(m.jobsTotal, JobTypeScoreRecompute, StatusSuccess); got != want {
		t.Errorf("jobs total = %f, want %f", got, want)
	}
	if got := counterValue(m.jobErrors, JobTypeScoreRecompute, ErrorTypeSave); got != want {
		t.Errorf("job errors = %f, want %f", got, want)
	}
	if got := histogram(m.jobsDuration, JobTypeScoreRecompute).GetSampleCount(); got != uint64(want) {
		t.Errorf("duration samples = %d, want %f", got, want)
	}
}
