package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ledgerMetrics struct {
	ops    *prometheus.CounterVec
	events *prometheus.CounterVec
}

type rpcMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *ledgerMetrics

	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics
)

func ledger() *ledgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &ledgerMetrics{
			ops: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merit",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merit",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Total ledger events emitted segmented by event type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(ledgerRegistry.ops, ledgerRegistry.events)
	})
	return ledgerRegistry
}

// RPCMetrics returns the lazily-initialised registry used to record JSON-RPC
// server activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "merit",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "merit",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records the outcome of a JSON-RPC request.
func (m *rpcMetrics) Observe(method string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.requests.WithLabelValues(method, strconv.FormatBool(ok)).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// LedgerOpProcessed counts a completed ledger operation by outcome.
func LedgerOpProcessed(operation string, ok bool) {
	if operation == "" {
		operation = "unknown"
	}
	ledger().ops.WithLabelValues(operation, strconv.FormatBool(ok)).Inc()
}

// LedgerEventEmitted counts a committed ledger event by type.
func LedgerEventEmitted(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	ledger().events.WithLabelValues(eventType).Inc()
}
