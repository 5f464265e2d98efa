// Package metrics exposes the engine's operational state as Prometheus
// collectors, the observability surface the teacher's stack reserves for
// externally-facing components even where the spec's feature list doesn't
// call it out by name.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every collector the engine publishes.
type Registry struct {
	AlertsReceived   *prometheus.CounterVec
	AlertsDropped    *prometheus.CounterVec
	OrdersPlaced     *prometheus.CounterVec
	OrdersRejected   *prometheus.CounterVec
	PositionsOpen    *prometheus.GaugeVec
	RetriesStarted   *prometheus.CounterVec
	CapacityUsed     *prometheus.GaugeVec
	CapacityMax      *prometheus.GaugeVec
	TradesClosed     *prometheus.CounterVec
	RealizedPnL      *prometheus.GaugeVec
	WriteQueueDepth  prometheus.Gauge
	ReconcileOrphans *prometheus.CounterVec
}

// New builds and registers every collector against reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		AlertsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_alerts_received_total",
			Help: "Alerts consumed from the alert source, by symbol and action.",
		}, []string{"symbol", "action"}),
		AlertsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_alerts_dropped_total",
			Help: "Alerts discarded without opening or modifying a position, by reason.",
		}, []string{"symbol", "reason"}),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_placed_total",
			Help: "Orders submitted to the brokerage adapter, by symbol and order type.",
		}, []string{"symbol", "order_type"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_rejected_total",
			Help: "Orders rejected by the brokerage adapter, by symbol.",
		}, []string{"symbol"}),
		PositionsOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_positions_open",
			Help: "Currently non-terminal positions, by account.",
		}, []string{"account_id"}),
		RetriesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_retries_started_total",
			Help: "Retry-entry ladders started after a stop-out before any TP was hit, by symbol.",
		}, []string{"symbol"}),
		CapacityUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_capacity_used_micro_equivalent",
			Help: "Reserved micro-equivalent capacity units, by account.",
		}, []string{"account_id"}),
		CapacityMax: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_capacity_max_micro_equivalent",
			Help: "Configured micro-equivalent capacity budget, by account.",
		}, []string{"account_id"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trades_closed_total",
			Help: "Closed trades, by symbol and exit reason.",
		}, []string{"symbol", "exit_reason"}),
		RealizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_realized_pnl_cumulative",
			Help: "Cumulative realized net P&L, by symbol. A gauge since individual trades can be negative.",
		}, []string{"symbol"}),
		WriteQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_write_queue_depth",
			Help: "Pending state-change writes not yet flushed to Postgres.",
		}),
		ReconcileOrphans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_reconcile_orphans_total",
			Help: "Positions found open at the broker with no matching in-memory position during reconciliation.",
		}, []string{"account_id"}),
	}

	reg.MustRegister(
		m.AlertsReceived, m.AlertsDropped, m.OrdersPlaced, m.OrdersRejected,
		m.PositionsOpen, m.RetriesStarted, m.CapacityUsed, m.CapacityMax,
		m.TradesClosed, m.RealizedPnL, m.WriteQueueDepth, m.ReconcileOrphans,
	)
	return m
}
