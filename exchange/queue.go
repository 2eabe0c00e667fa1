package exchange

import (
	"context"
	"errors"

	"candlefeed/shared"
	"go.uber.org/atomic"
)

const (
	// DefaultQueueSize is the default trade queue capacity.
	DefaultQueueSize = 4096
)

// TradeQueue is a bounded FIFO between a connector and its trade
// interpreter. Single producer, single consumer. When full, the oldest
// trade is dropped and counted.
type TradeQueue struct {
	trades  chan shared.Trade
	dropped atomic.Int64
	market  shared.Market
}

// NewTradeQueue initializes a trade queue with the provided capacity.
func NewTradeQueue(market shared.Market, size int) (*TradeQueue, error) {
	if size <= 0 {
		return nil, errors.New("trade queue capacity must be positive")
	}

	return &TradeQueue{
		trades: make(chan shared.Trade, size),
		market: market,
	}, nil
}

// Push adds the provided trade to the queue, evicting the oldest entry
// when at capacity.
func (q *TradeQueue) Push(trade shared.Trade) {
	for {
		select {
		case q.trades <- trade:
			return
		default:
			// At capacity, evict the oldest entry and retry.
			select {
			case <-q.trades:
				q.dropped.Inc()
				queueDroppedTrades.WithLabelValues(q.market.String()).Inc()
			default:
			}
		}
	}
}

// Pop removes the oldest trade from the queue, blocking until one is
// available or the context is cancelled.
func (q *TradeQueue) Pop(ctx context.Context) (shared.Trade, bool) {
	select {
	case trade := <-q.trades:
		return trade, true
	case <-ctx.Done():
		return shared.Trade{}, false
	}
}

// Len returns the number of queued trades.
func (q *TradeQueue) Len() int {
	return len(q.trades)
}

// Dropped returns the number of trades evicted due to capacity.
func (q *TradeQueue) Dropped() int64 {
	return q.dropped.Load()
}
