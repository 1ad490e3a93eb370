package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Runtime holds the collectors of the receipt executor and the saga journal.
type Runtime struct {
	receipts        *prometheus.CounterVec
	receiptDuration *prometheus.HistogramVec
	pending         prometheus.Gauge
	sagaEvents      *prometheus.CounterVec
	transactions    *prometheus.CounterVec
}

var (
	runtimeOnce     sync.Once
	runtimeRegistry *Runtime
)

// Default returns the process-wide collectors, registering them on first use.
func Default() *Runtime {
	runtimeOnce.Do(func() {
		runtimeRegistry = &Runtime{
			receipts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapcore",
				Subsystem: "host",
				Name:      "receipts_total",
				Help:      "Executed receipts segmented by step kind, method and status.",
			}, []string{"kind", "method", "status"}),
			receiptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "swapcore",
				Subsystem: "host",
				Name:      "receipt_duration_seconds",
				Help:      "Wall time spent executing a receipt.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			}, []string{"method"}),
			pending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "swapcore",
				Subsystem: "host",
				Name:      "pending_receipts",
				Help:      "Receipts published but not yet executed.",
			}),
			sagaEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapcore",
				Subsystem: "saga",
				Name:      "events_total",
				Help:      "Saga transitions segmented by event kind.",
			}, []string{"kind"}),
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "swapcore",
				Subsystem: "host",
				Name:      "transactions_total",
				Help:      "Settled transactions segmented by final status.",
			}, []string{"status"}),
		}
		prometheus.MustRegister(
			runtimeRegistry.receipts,
			runtimeRegistry.receiptDuration,
			runtimeRegistry.pending,
			runtimeRegistry.sagaEvents,
			runtimeRegistry.transactions,
		)
	})
	return runtimeRegistry
}

// ObserveReceipt records one executed receipt.
func (m *Runtime) ObserveReceipt(kind, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "-"
	}
	m.receipts.WithLabelValues(kind, method, status).Inc()
	m.receiptDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Runtime) ReceiptQueued() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

func (m *Runtime) ReceiptDone() {
	if m == nil {
		return
	}
	m.pending.Dec()
}

// RecordSagaEvent counts a journaled saga transition.
func (m *Runtime) RecordSagaEvent(kind string) {
	if m == nil {
		return
	}
	m.sagaEvents.WithLabelValues(kind).Inc()
}

func (m *Runtime) RecordTransaction(status string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(status).Inc()
}
