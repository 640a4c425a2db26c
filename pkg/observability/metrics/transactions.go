package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Transaction outcomes used as the outcome label.
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
	OutcomeFailed     = "failed"
	// OutcomeOK marks a read that ran outside a transaction.
	OutcomeOK = "ok"
)

// TransactionMetrics counts and times the demo operations.
type TransactionMetrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewTransactionMetrics creates the transaction collectors and registers them.
func NewTransactionMetrics(reg *Registry) (*TransactionMetrics, error) {
	m := &TransactionMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "biblioteca_transactions_total",
				Help: "Total number of demo operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "biblioteca_transaction_duration_seconds",
				Help:    "Duration of demo operations in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
	}

	if reg != nil {
		if err := reg.Register(m.total); err != nil {
			return nil, err
		}
		if err := reg.Register(m.duration); err != nil {
			reg.Unregister(m.total)
			return nil, err
		}
	}
	return m, nil
}

// Observe records one finished operation. A nil receiver is a no-op.
func (m *TransactionMetrics) Observe(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.total.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
