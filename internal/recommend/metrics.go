package recommend

import (
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricRecommenderRequests     = "bento_recommender_requests_total"
	MetricRecommenderCircuitState = "bento_recommender_circuit_state"
)

const (
	endpointScores  = "scores"
	endpointHistory = "history"

	outcomeSuccess  = "success"
	outcomeFailure  = "failure"
	outcomeRejected = "rejected"
)

// Metrics contains Prometheus metrics for recommender calls.
type Metrics struct {
	requests     *prometheus.CounterVec
	circuitState prometheus.Gauge
}

// NewMetrics creates unregistered recommender metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRecommenderRequests,
			Help: "Total number of recommender calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		circuitState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricRecommenderCircuitState,
			Help: "Recommender circuit breaker state (0=closed, 1=half-open, 2=open)",
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

// IncRequest counts one call.
func (m *Metrics) IncRequest(endpoint, outcome string) {
	m.requests.WithLabelValues(endpoint, outcome).Inc()
}

// SetCircuitState records the breaker state.
func (m *Metrics) SetCircuitState(state gobreaker.State) {
	switch state {
	case gobreaker.StateClosed:
		m.circuitState.Set(0)
	case gobreaker.StateHalfOpen:
		m.circuitState.Set(1)
	case gobreaker.StateOpen:
		m.circuitState.Set(2)
	}
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.requests, m.circuitState}
}
