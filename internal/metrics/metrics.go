// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsIngested counts ingestion attempts by channel and outcome
	// (inserted, duplicate, unresolved, ignored, error).
	TransactionsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentrecon_transactions_ingested_total",
		Help: "Inbound payment signals processed by the ingestor.",
	}, []string{"channel", "outcome"})

	// ReconcileOutcomes counts per-transaction reconciliation decisions.
	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentrecon_reconcile_outcomes_total",
		Help: "Reconciliation decisions by outcome.",
	}, []string{"outcome"})

	// CallbackRejections counts callback requests refused before processing.
	CallbackRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentrecon_callback_rejections_total",
		Help: "Gateway callbacks rejected by source checks.",
	}, []string{"reason"})

	// GatewayRequests counts outbound gateway calls by stage and result.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rentrecon_gateway_requests_total",
		Help: "Outbound payment gateway requests.",
	}, []string{"stage", "result"})

	// LedgerRecompute observes the duration of a unit ledger recomputation.
	LedgerRecompute = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rentrecon_ledger_recompute_seconds",
		Help:    "Time spent recomputing a unit's balance chain.",
		Buckets: prometheus.DefBuckets,
	})
)

// ObserveSince records the time elapsed since start on h.
func ObserveSince(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}
