package feed

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricFeedBuilds       = "bento_feed_builds_total"
	MetricFeedCache        = "bento_feed_cache_requests_total"
	MetricScorerFailures   = "bento_feed_scorer_failures_total"
	MetricFeedBuildSeconds = "bento_feed_build_duration_seconds"
)

// Build path labels.
const (
	PathPersonalized = "personalized"
	PathCold         = "cold"
	PathDegraded     = "degraded"
)

// Cache result labels.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics contains Prometheus metrics for feed builds.
type Metrics struct {
	builds         *prometheus.CounterVec
	cache          *prometheus.CounterVec
	scorerFailures prometheus.Counter
	buildDuration  prometheus.Histogram
}

// NewMetrics creates unregistered feed metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricFeedBuilds,
			Help: "Total number of composed feeds by ranking path",
		}, []string{"path"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricFeedCache,
			Help: "Total number of feed cache lookups and writes by result",
		}, []string{"result"}),
		scorerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricScorerFailures,
			Help: "Total number of feeds built without personalization because the recommender failed",
		}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricFeedBuildSeconds,
			Help:    "Histogram of uncached feed build duration in seconds",
			Buckets: prometheus.DefBuckets,
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

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.builds,
		m.cache,
		m.scorerFailures,
		m.buildDuration,
	}
}

func (m *Metrics) incBuild(path string) {
	if m != nil {
		m.builds.WithLabelValues(path).Inc()
	}
}

func (m *Metrics) incCache(result string) {
	if m != nil {
		m.cache.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) incScorerFailure() {
	if m != nil {
		m.scorerFailures.Inc()
	}
}

func (m *Metrics) observeBuild(seconds float64) {
	if m != nil {
		m.buildDuration.Observe(seconds)
	}
}
