package override

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/bentofeed/internal/post"
)

// Operation labels an override command.
type Operation string

const (
	OpReorder Operation = "reorder"
	OpSetSize Operation = "set_size"
	OpMove    Operation = "move"
)

// MetricOverrideWrites counts override commands by operation and outcome.
const MetricOverrideWrites = "bento_override_writes_total"

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Metrics contains Prometheus metrics for override writes.
type Metrics struct {
	writes *prometheus.CounterVec
}

// NewMetrics creates unregistered override metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricOverrideWrites,
			Help: "Total number of editor override commands by operation and outcome",
		}, []string{"op", "outcome"}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	return reg.Register(m.writes)
}

// Inc counts one command.
func (m *Metrics) Inc(op Operation, err error) {
	m.writes.WithLabelValues(string(op), outcome(err)).Inc()
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.writes}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, post.ErrPostNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrIndexOutOfRange), errors.Is(err, ErrEmptyPostID),
		errors.Is(err, post.ErrInvalidSize), errors.Is(err, post.ErrDuplicatePost):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}
