package exchange

import (
	"context"
	"testing"
	"time"

	"candlefeed/shared"
	"github.com/peterldowns/testy/assert"
)

func TestTradeQueue(t *testing.T) {
	// Ensure queue creation can fail with invalid capacity.
	_, err := NewTradeQueue(shared.BTCUSDPerp, 0)
	assert.Error(t, err)

	queue, err := NewTradeQueue(shared.BTCUSDPerp, 2)
	assert.NoError(t, err)

	// Ensure trades pop in insertion order.
	queue.Push(shared.Trade{Price: 1})
	queue.Push(shared.Trade{Price: 2})
	assert.Equal(t, queue.Len(), 2)

	trade, ok := queue.Pop(context.Background())
	assert.True(t, ok)
	assert.Equal(t, trade.Price, 1.0)

	// Ensure pushing at capacity evicts the oldest trade.
	queue.Push(shared.Trade{Price: 3})
	queue.Push(shared.Trade{Price: 4})
	assert.Equal(t, queue.Len(), 2)
	assert.Equal(t, queue.Dropped(), int64(1))

	trade, ok = queue.Pop(context.Background())
	assert.True(t, ok)
	assert.Equal(t, trade.Price, 3.0)

	trade, ok = queue.Pop(context.Background())
	assert.True(t, ok)
	assert.Equal(t, trade.Price, 4.0)

	// Ensure pop honours context cancellation when empty.
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*20)
	defer cancel()
	_, ok = queue.Pop(ctx)
	assert.False(t, ok)
}
