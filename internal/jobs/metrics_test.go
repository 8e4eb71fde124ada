package jobs

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()
	if m == nil {
		t.Fatal("NewMetrics() returned nil")
	}
	if got := len(m.Collectors()); got != 3 {
		t.Errorf("expected 3 collectors, got %d", got)
	}
}

func TestMetrics_Register(t *testing.T) {
	t.Run("successful registration", func(t *testing.T) {
		m := NewMetrics()
		reg := prometheus.NewRegistry()
		if err := m.Register(reg); err != nil {
			t.Fatalf("Register() returned error: %v", err)
		}

		m.IncJobsTotal(JobTypeRateLimitCleanup, StatusSuccess)
		m.ObserveJobDuration(JobTypeRateLimitCleanup, 0.01)
		m.IncJobErrors(JobTypeRateLimitCleanup, "error")

		families, err := reg.Gather()
		if err != nil {
			t.Fatalf("Gather() returned error: %v", err)
		}
		expected := map[string]bool{
			MetricBackgroundJobsTotal:      false,
			MetricBackgroundJobsDuration:   false,
			MetricBackgroundJobErrorsTotal: false,
		}
		for _, family := range families {
			if _, ok := expected[family.GetName()]; ok {
				expected[family.GetName()] = true
			}
		}
		for name, found := range expected {
			if !found {
				t.Errorf("metric %s not found in gathered metrics", name)
			}
		}
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if err := NewMetrics().Register(reg); err != nil {
			t.Fatalf("first Register() returned error: %v", err)
		}
		if err := NewMetrics().Register(reg); err == nil {
			t.Error("expected error on duplicate registration")
		}
	})
}

func getCounterVecValue(vec *prometheus.CounterVec, labels ...string) float64 {
	metric, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return -1
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		return -1
	}
	return m.GetCounter().GetValue()
}

func getHistogramVecSampleCount(vec *prometheus.HistogramVec, labels ...string) uint64 {
	metric, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		return 0
	}
	metricInterface, ok := metric.(prometheus.Metric)
	if !ok {
		return 0
	}
	var m dto.Metric
	if err := metricInterface.Write(&m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetrics_IncJobsTotal(t *testing.T) {
	m := NewMetrics()

	testCases := []struct {
		jobType string
		status  string
		count   int
	}{
		{JobTypeRateLimitCleanup, StatusSuccess, 10},
		{JobTypeRateLimitCleanup, StatusFailure, 2},
		{JobTypeFeedCacheWarm, StatusSuccess, 5},
		{JobTypeCatalogImport, StatusFailure, 1},
	}

	for _, tc := range testCases {
		if initial := getCounterVecValue(m.jobsTotal, tc.jobType, tc.status); initial != 0 {
			t.Errorf("initial value for %s/%s = %f, want 0", tc.jobType, tc.status, initial)
		}
		for i := 0; i < tc.count; i++ {
			m.IncJobsTotal(tc.jobType, tc.status)
		}
		if final := getCounterVecValue(m.jobsTotal, tc.jobType, tc.status); final != float64(tc.count) {
			t.Errorf("final value for %s/%s = %f, want %d", tc.jobType, tc.status, final, tc.count)
		}
	}
}

func TestMetrics_Concurrency(t *testing.T) {
	m := NewMetrics()
	const goroutines, perG = 10, 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.IncJobsTotal(JobTypeFeedCacheWarm, StatusSuccess)
				m.ObserveJobDuration(JobTypeFeedCacheWarm, 0.002)
			}
		}()
	}
	wg.Wait()

	if got := getCounterVecValue(m.jobsTotal, JobTypeFeedCacheWarm, StatusSuccess); got != goroutines*perG {
		t.Errorf("jobs total = %f, want %d", got, goroutines*perG)
	}
	if got := getHistogramVecSampleCount(m.jobsDuration, JobTypeFeedCacheWarm); got != goroutines*perG {
		t.Errorf("duration samples = %d, want %d", got, goroutines*perG)
	}
}
