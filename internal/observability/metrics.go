package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lifeos"

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	Turns             *prometheus.CounterVec
	NodeDuration      *prometheus.HistogramVec
	NodeErrors        *prometheus.CounterVec
	GeneratorRequests *prometheus.CounterVec
	StorageFailures   *prometheus.CounterVec
	MemorySwept       prometheus.Counter
	WSMessages        *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the instruments on reg. Tests pass a fresh
// prometheus.NewRegistry() so instances never collide.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed conversation turns by intent.",
		}, []string{"intent"}),
		NodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Pipeline node execution time.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 3, 10, 30},
		}, []string{"node"}),
		NodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_errors_total",
			Help:      "Pipeline node failures, panics included.",
		}, []string{"node"}),
		GeneratorRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_requests_total",
			Help:      "Text generator calls by outcome.",
		}, []string{"outcome"}),
		StorageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_failures_total",
			Help:      "Failed storage operations by operation.",
		}, []string{"op"}),
		MemorySwept: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_swept_total",
			Help:      "Memory entries removed by sweeps.",
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction.",
		}, []string{"direction"}),
		gatherer: reg,
	}
}

// ObserveNode records one node execution. It matches the pipeline observer
// signature.
func (m *Metrics) ObserveNode(node string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.NodeDuration.WithLabelValues(node).Observe(elapsed.Seconds())
	if err != nil {
		m.NodeErrors.WithLabelValues(node).Inc()
	}
}

// ObserveGenerator records one generator call. It matches the llm.Observed
// callback signature.
func (m *Metrics) ObserveGenerator(err error, _ time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.GeneratorRequests.WithLabelValues(outcome).Inc()
}

// StorageFailed counts one failed storage operation.
func (m *Metrics) StorageFailed(op string) {
	if m == nil {
		return
	}
	m.StorageFailures.WithLabelValues(op).Inc()
}

// TurnCompleted counts one finished turn.
func (m *Metrics) TurnCompleted(intent string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(intent).Inc()
}

// Swept counts entries removed by a sweep.
func (m *Metrics) Swept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MemorySwept.Add(float64(n))
}

// WSMessage counts one WebSocket frame; direction is "in" or "out".
func (m *Metrics) WSMessage(direction string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
