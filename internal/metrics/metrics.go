// Package metrics exposes the Prometheus collectors of the billing engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "readerline"

// Tick results.
const (
	TickApplied           = "applied"
	TickInsufficientFunds = "insufficient_funds"
	TickReplayed          = "replayed"
	TickDiscarded         = "discarded"
	TickFailed            = "failed"
)

// BillingTicks counts billing ticks by outcome.
var BillingTicks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "billing",
	Name:      "ticks_total",
	Help:      "Total billing ticks processed, by result.",
}, []string{"result"})

// LedgerRetries counts retried ledger writes.
var LedgerRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "billing",
	Name:      "ledger_retries_total",
	Help:      "Total ledger write attempts that were retried after a transient failure.",
})

// SessionsActive is the number of sessions with a running billing clock.
var SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "sessions",
	Name:      "active",
	Help:      "Current number of sessions with a running billing clock.",
})

var Settlements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "settlement",
	Name:      "total",
	Help:      "Total session settlements written, by end reason.",
}, []string{"end_reason"})

// SettlementAmount sums settled minor units by share (total, reader, platform).
var SettlementAmount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "settlement",
	Name:      "amount_minor_total",
	Help:      "Settled amount in minor currency units, by share.",
}, []string{"share"})

var WorkerSweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "worker",
	Name:      "sweep_duration_seconds",
	Help:      "Duration of settlement worker sweeps.",
	Buckets:   prometheus.DefBuckets,
}, []string{"sweep"})

var WorkerItems = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "worker",
	Name:      "items_total",
	Help:      "Items handled by settlement worker sweeps, by sweep and result.",
}, []string{"sweep", "result"})

// ObserveSettlement records a written settlement log.
func ObserveSettlement(endReason string, total, readerShare, platformShare int64) {
	Settlements.WithLabelValues(endReason).Inc()
	SettlementAmount.WithLabelValues("total").Add(float64(total))
	SettlementAmount.WithLabelValues("reader").Add(float64(readerShare))
	SettlementAmount.WithLabelValues("platform").Add(float64(platformShare))
}
