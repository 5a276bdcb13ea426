// Package metrics exposes Prometheus instrumentation for the signal
// execution pipeline:
//   - signalbridge_signals_total{result}        – signals by outcome (executed|duplicate|rate_limited|invalid|error)
//   - signalbridge_orders_total{broker,side}    – orders placed per venue
//   - signalbridge_order_failures_total{broker} – orders the venue rejected or errored
//   - signalbridge_trades_closed_total{result}  – closed trades by result (win|loss|flat)
//   - signalbridge_position_discrepancies_total – reconciliation mismatches against the broker
//   - signalbridge_execution_seconds            – end-to-end signal execution latency
//
// Registered in init() and served at /metrics in Prometheus text format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbridge_signals_total",
			Help: "Signals received, by processing outcome",
		},
		[]string{"result"},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbridge_orders_total",
			Help: "Orders placed, by venue and side",
		},
		[]string{"broker", "side"},
	)

	orderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbridge_order_failures_total",
			Help: "Order placements that failed at the venue",
		},
		[]string{"broker"},
	)

	tradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signalbridge_trades_closed_total",
			Help: "Closed trades, by realized result (win|loss|flat)",
		},
		[]string{"result"},
	)

	discrepancies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "signalbridge_position_discrepancies_total",
			Help: "Position ledger entries corrected from broker reconciliation",
		},
	)

	executionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "signalbridge_execution_seconds",
			Help:    "End-to-end signal execution latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(signals, orders, orderFailures)
	prometheus.MustRegister(tradesClosed, discrepancies, executionSeconds)
}

func IncSignal(result string)          { signals.WithLabelValues(result).Inc() }
func IncOrder(broker, side string)     { orders.WithLabelValues(broker, side).Inc() }
func IncOrderFailure(broker string)    { orderFailures.WithLabelValues(broker).Inc() }
func IncDiscrepancy()                  { discrepancies.Inc() }
func ObserveExecution(d time.Duration) { executionSeconds.Observe(d.Seconds()) }

// IncTradeClosed records a closed trade by its realized result.
func IncTradeClosed(realizedPnL float64) {
	switch {
	case realizedPnL > 0:
		tradesClosed.WithLabelValues("win").Inc()
	case realizedPnL < 0:
		tradesClosed.WithLabelValues("loss").Inc()
	default:
		tradesClosed.WithLabelValues("flat").Inc()
	}
}
