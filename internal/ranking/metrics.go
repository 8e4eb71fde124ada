package ranking

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRankDuration       = "bento_rank_duration_seconds"
	MetricRankBatchSize      = "bento_rank_batch_size"
	MetricRankPersonalized   = "bento_rank_personalized_total"
	MetricRankInvalidBatches = "bento_rank_invalid_batches_total"
)

// Metrics contains Prometheus metrics for ranking passes.
// The engine itself is pure; callers record each pass with ObserveRank.
type Metrics struct {
	duration       prometheus.Histogram
	batchSize      prometheus.Histogram
	personalized   prometheus.Counter
	invalidBatches prometheus.Counter
}

// NewMetrics creates unregistered ranking metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRankDuration,
			Help:    "Histogram of ranking pass duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRankBatchSize,
			Help:    "Number of posts per ranking pass",
			Buckets: prometheus.ExponentialBuckets(1, 4, 7),
		}),
		personalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankPersonalized,
			Help: "Total number of ranking passes that applied personalization",
		}),
		invalidBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRankInvalidBatches,
			Help: "Total number of ranking passes rejected for invalid input",
		}),
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

// ObserveRank records one successful pass.
func (m *Metrics) ObserveRank(elapsed time.Duration, meta Meta) {
	m.duration.Observe(elapsed.Seconds())
	m.batchSize.Observe(float64(meta.TotalPosts))
	if meta.HasPersonalization {
		m.personalized.Inc()
	}
}

// IncInvalidBatch counts a pass rejected with ErrInvalidInput.
func (m *Metrics) IncInvalidBatch() {
	m.invalidBatches.Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.duration,
		m.batchSize,
		m.personalized,
		m.invalidBatches,
	}
}
