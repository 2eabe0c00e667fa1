package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queueDroppedTrades counts trades evicted from full trade queues.
	queueDroppedTrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlefeed_trade_queue_dropped_total",
		Help: "Trades evicted from a full trade queue.",
	}, []string{"market"})

	// connectorReconnects counts websocket reconnect cycles.
	connectorReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlefeed_connector_reconnects_total",
		Help: "Websocket reconnect cycles per connector.",
	}, []string{"exchange", "market"})

	// workerSoftResets counts soft resets fired by worker watchdogs.
	workerSoftResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlefeed_worker_soft_resets_total",
		Help: "Soft resets fired by exchange worker watchdogs.",
	}, []string{"exchange", "market"})

	// workerHardResets counts hard resets fired by worker watchdogs.
	workerHardResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "candlefeed_worker_hard_resets_total",
		Help: "Hard resets fired by exchange worker watchdogs.",
	}, []string{"exchange", "market"})
)
