// Package metrics registers the Prometheus collectors shared by the
// HTTP layer and the ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventario_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inventario_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ReceiptsTotal counts committed inbound receipt items.
	ReceiptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventario_receipt_items_total",
			Help: "Total inbound receipt items committed to the ledger",
		},
	)

	// AllocationsTotal counts approved outbound source draws.
	AllocationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventario_allocations_total",
			Help: "Total per-lot draws applied by output approvals",
		},
	)

	// ReversalsTotal counts reversed outbound source draws.
	ReversalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventario_reversals_total",
			Help: "Total per-lot draws reinstated by returns",
		},
	)

	// InsufficientStockTotal counts allocations rejected for lack of stock.
	InsufficientStockTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventario_insufficient_stock_total",
			Help: "Total draws rejected because stock was insufficient",
		},
	)

	// RecomputeFailuresTotal counts background recompute jobs that failed.
	RecomputeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventario_recompute_failures_total",
			Help: "Total background recompute jobs that ended in error",
		},
	)
)
