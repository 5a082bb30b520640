package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersPosted counts orders accepted by the desk, by side and asset class.
var OrdersPosted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "otcx_orders_posted_total",
		Help: "Total number of orders accepted by the desk",
	},
	[]string{"side", "asset_class"},
)

// OrdersFilled counts fill operations (crypto fills and RWA fill records).
var OrdersFilled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "otcx_orders_filled_total",
		Help: "Total number of fill operations applied to the ledger",
	},
	[]string{"asset_class"},
)

// OrdersCancelled counts cancelled orders.
var OrdersCancelled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "otcx_orders_cancelled_total",
		Help: "Total number of orders cancelled",
	},
)

// SettlementReleases counts completed RWA settlement releases.
var SettlementReleases = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "otcx_settlement_releases_total",
		Help: "Total number of RWA settlements released by the escrow keeper",
	},
)

// FeesCollected accumulates treasury fees in 1e18-scaled units.
var FeesCollected = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "otcx_fees_collected_units_total",
		Help: "Cumulative fee value transferred to the treasury (fixed-point units)",
	},
)

// OperationLatency records latency distribution for ledger mutations.
var OperationLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "otcx_operation_latency_seconds",
		Help:    "Latency in seconds for settlement engine operations",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"op"},
)

// OpenOrders tracks the number of orders currently in the Open state.
var OpenOrders = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "otcx_open_orders",
		Help: "Number of orders currently open on the ledger",
	},
)

func init() {
	prometheus.MustRegister(OrdersPosted, OrdersFilled, OrdersCancelled)
	prometheus.MustRegister(SettlementReleases, FeesCollected)
	prometheus.MustRegister(OperationLatency, OpenOrders)
}
