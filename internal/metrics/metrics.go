// Package metrics exposes prometheus counters for the record-access core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StatementsTotal counts SQL statements issued, by kind (select, insert, update, delete, other).
	StatementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordkit_sql_statements_total",
			Help: "Total number of SQL statements issued",
		},
		[]string{"kind"},
	)
	// CacheFetches counts browse-cache batch fetches by model.
	CacheFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordkit_cache_fetches_total",
			Help: "Total number of batch fetches triggered by cache misses",
		},
		[]string{"model"},
	)
	// CacheHits counts field reads served from the browse cache.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordkit_cache_hits_total",
			Help: "Total number of field reads served from cache",
		},
		[]string{"model"},
	)
	// Recomputes counts stored-compute units of work executed.
	Recomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordkit_recompute_total",
			Help: "Total number of stored computed field recomputations",
		},
		[]string{"model"},
	)
	// Operations counts CRUD operations by model, operation and status.
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordkit_operations_total",
			Help: "Total number of CRUD operations",
		},
		[]string{"model", "operation", "status"},
	)
)

// Status returns the status label for an operation result.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
