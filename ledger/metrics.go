package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	adjustments *prometheus.CounterVec
	failures    *prometheus.CounterVec
	lockWait    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		adjustments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairledger",
			Name:      "adjustments_total",
			Help:      "Committed pair balance adjustments by reason.",
		}, []string{"reason"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pairledger",
			Name:      "adjustment_failures_total",
			Help:      "Aborted ledger transactions by failure kind.",
		}, []string{"kind"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pairledger",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for pair locks.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
	reg.MustRegister(m.adjustments, m.failures, m.lockWait)
	return m
}

func (m *Metrics) committed(entries []AuditEntry) {
	if m == nil {
		return
	}
	for _, e := range entries {
		m.adjustments.WithLabelValues(string(e.Reason)).Inc()
	}
}

func (m *Metrics) failed(err error) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(failureKind(err)).Inc()
}

func (m *Metrics) waited(seconds float64) {
	if m == nil {
		return
	}
	m.lockWait.Observe(seconds)
}
