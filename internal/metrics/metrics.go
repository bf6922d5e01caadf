package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============ Брокер ============

// BrokerCallLatency - время вызова брокера, включая ретраи
var BrokerCallLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "lifecycle",
		Subsystem: "broker",
		Name:      "call_latency_ms",
		Help:      "Broker call latency including retries in milliseconds",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	},
	[]string{"op"},
)

// BrokerRetries - количество повторов по операциям
var BrokerRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lifecycle",
		Subsystem: "broker",
		Name:      "retries_total",
		Help:      "Total number of retried broker calls",
	},
	[]string{"op"},
)

// ============ Ордеры и позиции ============

// OrdersPlaced - размещённые ордеры по роли и результату
var OrdersPlaced = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lifecycle",
		Subsystem: "orders",
		Name:      "placed_total",
		Help:      "Orders placement attempts by role and result",
	},
	[]string{"role", "result"}, // result: ok, failed, risk_rejected
)

// PositionsClosed - закрытые позиции по причине
var PositionsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lifecycle",
		Subsystem: "positions",
		Name:      "closed_total",
		Help:      "Closed positions by close reason",
	},
	[]string{"reason"},
)

// OpenPositions - открытые позиции по мнению бота
var OpenPositions = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "lifecycle",
		Subsystem: "positions",
		Name:      "open",
		Help:      "Positions the bot believes are open",
	},
)

// RealizedPnL - реализованный PnL (может быть отрицательным)
var RealizedPnL = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "lifecycle",
		Subsystem: "risk",
		Name:      "realized_pnl_usd",
		Help:      "Realized PnL since start in USD",
	},
)

// RiskRejections - отказы риск-гейта по причине
var RiskRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lifecycle",
		Subsystem: "risk",
		Name:      "rejections_total",
		Help:      "Risk gate rejections by reason kind",
	},
	[]string{"kind"},
)

// ============ Монитор и цепочки ============

// ActiveWatches - активные ожидания по типу
var ActiveWatches = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "lifecycle",
		Subsystem: "monitor",
		Name:      "active_watches",
		Help:      "Active recovery/continuation watches",
	},
	[]string{"kind"},
)

// MonitorTickDuration - длительность одного тика монитора
var MonitorTickDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "lifecycle",
		Subsystem: "monitor",
		Name:      "tick_duration_ms",
		Help:      "Price monitor tick duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000, 5000},
	},
)

// MonitorErrors - ошибки обработки ожиданий
var MonitorErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lifecycle",
		Subsystem: "monitor",
		Name:      "errors_total",
		Help:      "Per-watch evaluation errors",
	},
	[]string{"kind"}, // price, panic
)

// MonitorEvents - события монитора по типу
var MonitorEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lifecycle",
		Subsystem: "monitor",
		Name:      "events_total",
		Help:      "Events emitted by the price monitor",
	},
	[]string{"kind"},
)

// CircuitOpen - 1 если breaker монитора разомкнут
var CircuitOpen = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "lifecycle",
		Subsystem: "monitor",
		Name:      "circuit_open",
		Help:      "1 when the monitor circuit breaker is open",
	},
)

// Reentries - результаты перезаходов
var Reentries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lifecycle",
		Subsystem: "chains",
		Name:      "reentries_total",
		Help:      "Re-entry outcomes by chain kind",
	},
	[]string{"kind", "outcome"},
)

// DispatchQueueSize - размер очереди шарда диспетчера
var DispatchQueueSize = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "lifecycle",
		Subsystem: "events",
		Name:      "queue_size",
		Help:      "Pending events per dispatcher shard",
	},
	[]string{"shard"},
)

// ReconcileClosed - закрытия, найденные сверкой
var ReconcileClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lifecycle",
		Subsystem: "reconcile",
		Name:      "closed_total",
		Help:      "Positions closed by reconciliation by classification",
	},
	[]string{"reason"},
)

// NotificationsDropped - уведомления, выброшенные из-за переполнения очереди
var NotificationsDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "lifecycle",
		Subsystem: "notify",
		Name:      "dropped_total",
		Help:      "Notifications dropped on a full queue or send failure",
	},
)
