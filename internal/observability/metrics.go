// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Ledger metrics
	LedgerMutations    *prometheus.CounterVec
	TransferRejections *prometheus.CounterVec
	SaveLatency        prometheus.Histogram
	CorruptLoads       prometheus.Counter
	LedgerUTXOs        prometheus.Gauge
	LedgerTotalSupply  prometheus.Gauge

	// Replication metrics
	ReplicaWrites        *prometheus.CounterVec
	ReplicaWriteFailures *prometheus.CounterVec

	// Template metrics
	ContentStoreErrors *prometheus.CounterVec
	PendingTemplates   prometheus.Gauge

	// Reconciliation metrics
	ReconcileCycles       *prometheus.CounterVec
	ProjectionsEmitted    prometheus.Counter
	ReconcileCursor       prometheus.Gauge
	ReconcileCycleLatency prometheus.Histogram

	// Chain listener metrics
	BlocksProcessed  prometheus.Counter
	ChainEvents      *prometheus.CounterVec
	HighestBlockSeen prometheus.Gauge
	RPCCallLatency   *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dtl_ledger"
	}

	return &Metrics{
		LedgerMutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "mutations_total",
			Help:      "Total number of ledger mutations by operation and result",
		}, []string{"op", "result"}),
		TransferRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transfer_rejections_total",
			Help:      "Total number of rejected transfers by reason",
		}, []string{"reason"}),
		SaveLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "save_latency_seconds",
			Help:      "Latency of persisting the ledger document to all targets",
			Buckets:   prometheus.DefBuckets,
		}),
		CorruptLoads: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "corrupt_loads_total",
			Help:      "Total number of primary documents that failed to parse",
		}),
		LedgerUTXOs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "utxos",
			Help:      "Number of UTXOs in the last saved document",
		}),
		LedgerTotalSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "total_supply",
			Help:      "Sum of all balances in the last saved document",
		}),

		ReplicaWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "writes_total",
			Help:      "Total number of successful replica writes",
		}, []string{"replica"}),
		ReplicaWriteFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "write_failures_total",
			Help:      "Total number of failed replica writes",
		}, []string{"replica"}),

		ContentStoreErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "templates",
			Name:      "content_store_errors_total",
			Help:      "Total number of content store failures by operation",
		}, []string{"op"}),
		PendingTemplates: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "templates",
			Name:      "pending",
			Help:      "Number of templates waiting for content store upload",
		}),

		ReconcileCycles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cycles_total",
			Help:      "Total number of reconciliation cycles by result",
		}, []string{"result"}),
		ProjectionsEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "projections_total",
			Help:      "Total number of UTXO projections written to sinks",
		}),
		ReconcileCursor: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cursor",
			Help:      "Number of UTXOs already reconciled",
		}),
		ReconcileCycleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "cycle_latency_seconds",
			Help:      "Duration of reconciliation cycles",
			Buckets:   prometheus.DefBuckets,
		}),

		BlocksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "blocks_processed_total",
			Help:      "Total number of chain blocks scanned",
		}),
		ChainEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "events_total",
			Help:      "Total number of token transfer events by outcome",
		}, []string{"outcome"}),
		HighestBlockSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "highest_block_seen",
			Help:      "Highest chain block number seen",
		}),
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "listener",
			Name:      "rpc_call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of API requests by route and status",
		}, []string{"route", "status"}),
	}
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// Handler returns HTTP handler for Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordMutation records a ledger mutation outcome.
func (m *Metrics) RecordMutation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LedgerMutations.WithLabelValues(op, result).Inc()
}

// RecordTransferRejection records a rejected transfer.
func (m *Metrics) RecordTransferRejection(reason string) {
	if m == nil {
		return
	}
	m.TransferRejections.WithLabelValues(reason).Inc()
}

// RecordSave records save latency and document size gauges.
func (m *Metrics) RecordSave(seconds float64, utxos int, totalSupply float64) {
	if m == nil {
		return
	}
	m.SaveLatency.Observe(seconds)
	m.LedgerUTXOs.Set(float64(utxos))
	m.LedgerTotalSupply.Set(totalSupply)
}

// RecordCorruptLoad records a primary document that failed to parse.
func (m *Metrics) RecordCorruptLoad() {
	if m == nil {
		return
	}
	m.CorruptLoads.Inc()
}

// RecordReplicaWrite records a replica write outcome.
func (m *Metrics) RecordReplicaWrite(replica string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ReplicaWriteFailures.WithLabelValues(replica).Inc()
		return
	}
	m.ReplicaWrites.WithLabelValues(replica).Inc()
}

// RecordContentStoreError records a content store failure.
func (m *Metrics) RecordContentStoreError(op string) {
	if m == nil {
		return
	}
	m.ContentStoreErrors.WithLabelValues(op).Inc()
}

// SetPendingTemplates updates the pending template gauge.
func (m *Metrics) SetPendingTemplates(n int) {
	if m == nil {
		return
	}
	m.PendingTemplates.Set(float64(n))
}

// RecordReconcileCycle records a reconciliation cycle.
func (m *Metrics) RecordReconcileCycle(seconds float64, projected int, cursor int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ReconcileCycles.WithLabelValues(result).Inc()
	m.ReconcileCycleLatency.Observe(seconds)
	m.ProjectionsEmitted.Add(float64(projected))
	m.ReconcileCursor.Set(float64(cursor))
}

// RecordBlocks records scanned blocks and the highest block seen.
func (m *Metrics) RecordBlocks(count int, highest uint64) {
	if m == nil {
		return
	}
	m.BlocksProcessed.Add(float64(count))
	m.HighestBlockSeen.Set(float64(highest))
}

// RecordChainEvent records a chain event outcome (mint, transfer, duplicate, rejected, error).
func (m *Metrics) RecordChainEvent(outcome string) {
	if m == nil {
		return
	}
	m.ChainEvents.WithLabelValues(outcome).Inc()
}

// RecordRPCLatency records RPC call latency.
func (m *Metrics) RecordRPCLatency(method string, seconds float64) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordHTTPRequest records an API request.
func (m *Metrics) RecordHTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, http.StatusText(status)).Inc()
}
