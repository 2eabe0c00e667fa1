package exchange

import (
	"context"
	"testing"

	"candlefeed/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

// snapshotCall records the arguments of a candle snapshot request.
type snapshotCall struct {
	market   shared.Market
	interval shared.Interval
	start    int64
	end      int64
}

// fakeSnapshotClient serves deterministic candle snapshots and records
// every request.
type fakeSnapshotClient struct {
	calls []snapshotCall
	err   error
}

func (f *fakeSnapshotClient) CandleSnapshot(_ context.Context, market shared.Market, interval shared.Interval, start, end int64) ([]shared.Candle, error) {
	f.calls = append(f.calls, snapshotCall{market: market, interval: interval, start: start, end: end})
	if f.err != nil {
		return nil, f.err
	}

	ms := interval.Milliseconds()
	candles := make([]shared.Candle, 0, (end-start)/ms)
	for ts := start + ms; ts <= end; ts += ms {
		price := float64(ts / ms)
		candles = append(candles, shared.Candle{
			Time:   ts,
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price + 0.5,
			Volume: 2,
		})
	}

	return candles, nil
}

func newTestInterpreter(t *testing.T, snapshots *fakeSnapshotClient) *Interpreter {
	t.Helper()

	logger := zerolog.Nop()
	queue, err := NewTradeQueue(shared.BTCUSDPerp, DefaultQueueSize)
	assert.NoError(t, err)

	interpreter, err := NewInterpreter(&InterpreterConfig{
		Market:         shared.BTCUSDPerp,
		Intervals:      []shared.Interval{shared.OneMinute},
		Rows:           200,
		Queue:          queue,
		SnapshotClient: snapshots,
		Logger:         &logger,
	})
	assert.NoError(t, err)

	return interpreter
}

func TestInterpreterFirstTrade(t *testing.T) {
	ctx := context.Background()
	interpreter := newTestInterpreter(t, &fakeSnapshotClient{})
	store, err := interpreter.Store(shared.OneMinute)
	assert.NoError(t, err)

	// Ensure the first trade on an empty series seeds the in-progress
	// candle at the aligned open time.
	openTime := int64(1_700_000_040_000) - 1_700_000_040_000%60_000
	interpreter.processTrade(ctx, shared.Trade{Price: 100, Size: 1, Side: shared.Buy, Timestamp: openTime})

	assert.Equal(t, store.Time(), openTime)
	assert.Equal(t, store.Open(), 100.0)
	assert.Equal(t, store.High(), 100.0)
	assert.Equal(t, store.Low(), 100.0)

	closes := store.Closes()
	volumes := store.Volumes()
	buyerVolumes := store.BuyerVolumes()
	sellerVolumes := store.SellerVolumes()
	assert.Equal(t, closes[len(closes)-1], 100.0)
	assert.Equal(t, volumes[len(volumes)-1], 1.0)
	assert.Equal(t, buyerVolumes[len(buyerVolumes)-1], 1.0)
	assert.Equal(t, sellerVolumes[len(sellerVolumes)-1], 0.0)
	assert.True(t, store.Updated())
}

func TestInterpreterRollover(t *testing.T) {
	ctx := context.Background()
	interpreter := newTestInterpreter(t, &fakeSnapshotClient{})
	store, err := interpreter.Store(shared.OneMinute)
	assert.NoError(t, err)

	openTime := int64(1_700_000_040_000) - 1_700_000_040_000%60_000
	interpreter.processTrade(ctx, shared.Trade{Price: 100, Size: 1, Side: shared.Buy, Timestamp: openTime})
	interpreter.processTrade(ctx, shared.Trade{Price: 101, Size: 2, Side: shared.Sell, Timestamp: openTime + 59_999})
	interpreter.processTrade(ctx, shared.Trade{Price: 102, Size: 1, Side: shared.Buy, Timestamp: openTime + 60_000})

	// Ensure the previous candle closed with the last pre-boundary trade.
	rows := store.Rows()
	closes := store.Closes()
	highs := store.Highs()
	buyerVolumes := store.BuyerVolumes()
	sellerVolumes := store.SellerVolumes()
	assert.Equal(t, closes[rows-2], 101.0)
	assert.Equal(t, highs[rows-2], 101.0)
	assert.Equal(t, buyerVolumes[rows-2], 1.0)
	assert.Equal(t, sellerVolumes[rows-2], 2.0)

	// Ensure the new candle opened at the boundary trade.
	assert.Equal(t, store.Time(), openTime+60_000)
	assert.Equal(t, store.Open(), 102.0)
	assert.Equal(t, store.Low(), 102.0)
}

func TestInterpreterLateTrade(t *testing.T) {
	ctx := context.Background()
	interpreter := newTestInterpreter(t, &fakeSnapshotClient{})
	store, err := interpreter.Store(shared.OneMinute)
	assert.NoError(t, err)

	openTime := int64(1_700_000_040_000) - 1_700_000_040_000%60_000
	interpreter.processTrade(ctx, shared.Trade{Price: 100, Size: 1, Side: shared.Buy, Timestamp: openTime})

	// Ensure a trade predating the in-progress candle mutates nothing.
	interpreter.processTrade(ctx, shared.Trade{Price: 99, Size: 5, Side: shared.Buy, Timestamp: openTime - 1})

	volumes := store.Volumes()
	assert.Equal(t, store.Low(), 100.0)
	assert.Equal(t, volumes[len(volumes)-1], 1.0)
}

func TestInterpreterBootstrapGap(t *testing.T) {
	ctx := context.Background()
	snapshots := &fakeSnapshotClient{}
	interpreter := newTestInterpreter(t, snapshots)
	store, err := interpreter.Store(shared.OneMinute)
	assert.NoError(t, err)

	openTime := int64(1_700_000_040_000) - 1_700_000_040_000%60_000
	interpreter.processTrade(ctx, shared.Trade{Price: 100, Size: 1, Side: shared.Buy, Timestamp: openTime})

	// Ensure a trade beyond the next candle window triggers a back-fill
	// ending at its aligned timestamp.
	gapEnd := openTime + 5*60_000
	interpreter.processTrade(ctx, shared.Trade{Price: 105, Size: 1, Side: shared.Buy, Timestamp: gapEnd + 1})

	assert.Equal(t, len(snapshots.calls), 1)
	assert.Equal(t, snapshots.calls[0].market, shared.BTCUSDPerp)
	assert.Equal(t, snapshots.calls[0].interval, shared.OneMinute)
	assert.Equal(t, snapshots.calls[0].end, gapEnd)
	assert.Equal(t, snapshots.calls[0].start, gapEnd-200*60_000)

	// Ensure the gap candles carry the snapshot values and the new trade
	// populates the current candle.
	rows := store.Rows()
	times := store.Times()
	opens := store.Opens()
	assert.Equal(t, times[rows-1], gapEnd)
	assert.Equal(t, store.Open(), 105.0)
	assert.Equal(t, store.Low(), 105.0)

	for idx := 1; idx < 5; idx++ {
		ts := openTime + int64(idx)*60_000
		assert.Equal(t, times[rows-1-5+idx], ts)
		assert.Equal(t, opens[rows-1-5+idx], float64(ts/60_000))
	}
}

func TestInterpreterBootstrapIdempotence(t *testing.T) {
	ctx := context.Background()
	snapshots := &fakeSnapshotClient{}
	interpreter := newTestInterpreter(t, snapshots)
	store, err := interpreter.Store(shared.OneMinute)
	assert.NoError(t, err)

	end := int64(1_700_000_040_000) - 1_700_000_040_000%60_000

	// Ensure repeating a bootstrap with the same end time leaves the
	// series unchanged.
	err = interpreter.Bootstrap(ctx, shared.OneMinute, end)
	assert.NoError(t, err)
	first := store.Times()

	err = interpreter.Bootstrap(ctx, shared.OneMinute, end)
	assert.NoError(t, err)
	second := store.Times()

	assert.Equal(t, second, first)
	assert.Equal(t, store.Time(), end)
	assert.True(t, store.Updated())
}
