// Package metrics exposes IronBase's runtime counters as Prometheus
// collectors backing Stats(), grounded on
// the idiom in warren's pkg/metrics (prometheus.New*Vec package-level
// collectors registered into a Registry, one Vec per concern) applied to
// a single embedded database instance instead of a clustered service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry groups every collector for one Database instance. A fresh
// Registry is created per Open call so two databases in the same process
// never collide on metric names.
type Registry struct {
	reg *prometheus.Registry

	DocumentsTotal    *prometheus.GaugeVec
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	WALSizeBytes      prometheus.Gauge
	StorageSizeBytes  *prometheus.GaugeVec
	IndexEntriesTotal *prometheus.GaugeVec
	CompactionsTotal  prometheus.Counter
	TransactionsTotal *prometheus.CounterVec
}

// New builds and registers a fresh collector set.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		DocumentsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ironbase_documents_total",
			Help: "Live document count per collection.",
		}, []string{"collection"}),
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ironbase_operations_total",
			Help: "Completed CRUD operations by collection and kind.",
		}, []string{"collection", "op"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ironbase_operation_duration_seconds",
			Help:    "Operation latency by collection and kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"collection", "op"}),
		WALSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ironbase_wal_size_bytes",
			Help: "Current size of the write-ahead log file.",
		}),
		StorageSizeBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ironbase_storage_size_bytes",
			Help: "Current size of the storage log per collection.",
		}, []string{"collection"}),
		IndexEntriesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ironbase_index_entries_total",
			Help: "Number of entries per secondary index.",
		}, []string{"collection", "index"}),
		CompactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ironbase_compactions_total",
			Help: "Total number of completed compaction runs.",
		}),
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ironbase_transactions_total",
			Help: "Completed transactions by outcome (commit/rollback).",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		r.DocumentsTotal, r.OperationsTotal, r.OperationDuration, r.WALSizeBytes,
		r.StorageSizeBytes, r.IndexEntriesTotal, r.CompactionsTotal, r.TransactionsTotal,
	)
	return r
}

// Prometheus exposes the underlying *prometheus.Registry for wiring into
// an HTTP /metrics handler (promhttp.HandlerFor), left to the embedding
// application rather than owned by IronBase itself.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}
