package service

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"candlefeed/exchange"
	"candlefeed/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

// stubConnector satisfies the connector interface without touching the
// network.
type stubConnector struct {
	last int64
}

func (c *stubConnector) Run(ctx context.Context) { <-ctx.Done() }
func (c *stubConnector) Reset()                  {}
func (c *stubConnector) Close()                  {}
func (c *stubConnector) State() exchange.State   { return exchange.StateOpen }
func (c *stubConnector) LastUpdate() int64       { return c.last }

// stubSnapshotClient serves deterministic candles for bootstraps.
type stubSnapshotClient struct{}

func (f *stubSnapshotClient) CandleSnapshot(_ context.Context, _ shared.Market, interval shared.Interval, start, end int64) ([]shared.Candle, error) {
	ms := interval.Milliseconds()
	candles := make([]shared.Candle, 0, (end-start)/ms)
	for ts := start + ms; ts <= end; ts += ms {
		price := float64(ts%97) + 1
		candles = append(candles, shared.Candle{
			Time: ts, Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 1,
		})
	}

	return candles, nil
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	logger := zerolog.Nop()
	manager, err := NewManager(&ManagerConfig{
		Network:            NetworkMainnet,
		Intervals:          []shared.Interval{shared.OneMinute},
		SoftResetThreshold: exchange.DefaultSoftResetThreshold,
		HardResetThreshold: exchange.DefaultHardResetThreshold,
		RestartThreshold:   DefaultRestartThreshold,
		SnapshotClient:     &stubSnapshotClient{},
		Logger:             &logger,
	})
	assert.NoError(t, err)

	return manager
}

// seedWorker installs a network-free worker for the pair.
func seedWorker(t *testing.T, manager *Manager, venue shared.Exchange, market shared.Market) *exchange.Worker {
	t.Helper()

	logger := zerolog.Nop()
	worker, err := exchange.NewWorker(&exchange.WorkerConfig{
		Exchange:  venue,
		Market:    market,
		Intervals: []shared.Interval{shared.OneMinute},
		NewConnector: func(queue *exchange.TradeQueue) (exchange.Connector, error) {
			return &stubConnector{last: time.Now().UnixMilli()}, nil
		},
		SnapshotClient:     &stubSnapshotClient{},
		SoftResetThreshold: exchange.DefaultSoftResetThreshold,
		HardResetThreshold: exchange.DefaultHardResetThreshold,
		Logger:             &logger,
	})
	assert.NoError(t, err)

	manager.workers[shared.MarketChannel(venue, market)] = &workerEntry{
		worker: worker,
		venue:  venue,
		market: market,
	}

	return worker
}

func TestManagerSubscribeIdempotence(t *testing.T) {
	manager := newTestManager(t)
	seedWorker(t, manager, shared.Hyperliquid, shared.BTCUSDPerp)

	// Ensure identical tuples return the same channel without recording
	// duplicates.
	sub := shared.NewSubscription(shared.Hyperliquid, shared.BTCUSDPerp, shared.Trades, 0, 0)
	channel, err := manager.Subscribe(sub)
	assert.NoError(t, err)
	assert.Equal(t, channel, "hyperliquid_btcusd_perp")

	again := shared.NewSubscription(shared.Hyperliquid, shared.BTCUSDPerp, shared.Trades, 0, 0)
	channel, err = manager.Subscribe(again)
	assert.NoError(t, err)
	assert.Equal(t, channel, "hyperliquid_btcusd_perp")
	assert.Equal(t, len(manager.subscriptions), 1)

	// Ensure an indicator subscription returns the deterministic sample
	// key and starts exactly one engine per family.
	rsi := shared.NewSubscription(shared.Hyperliquid, shared.BTCUSDPerp, shared.RSI, 14, shared.OneMinute)
	channel, err = manager.Subscribe(rsi)
	assert.NoError(t, err)
	assert.Equal(t, channel, "hyperliquid_btcusd_perp_1m_14")

	other := shared.NewSubscription(shared.Hyperliquid, shared.BTCUSDPerp, shared.RSI, 5, shared.OneMinute)
	_, err = manager.Subscribe(other)
	assert.NoError(t, err)
	assert.Equal(t, len(manager.engines), 1)
	assert.Equal(t, len(manager.subscriptions), 3)
}

func TestManagerSubscriptionOrderRetained(t *testing.T) {
	manager := newTestManager(t)
	seedWorker(t, manager, shared.Hyperliquid, shared.BTCUSDPerp)

	subs := []shared.Subscription{
		shared.NewSubscription(shared.Hyperliquid, shared.BTCUSDPerp, shared.Trades, 0, 0),
		shared.NewSubscription(shared.Hyperliquid, shared.BTCUSDPerp, shared.RSI, 14, shared.OneMinute),
		shared.NewSubscription(shared.Hyperliquid, shared.BTCUSDPerp, shared.RSI, 5, shared.OneMinute),
		shared.NewSubscription(shared.Hyperliquid, shared.BTCUSDPerp, shared.RSI, 10, shared.FiveMinute),
	}
	for idx := range subs {
		_, err := manager.Subscribe(subs[idx])
		assert.NoError(t, err)
	}

	// Ensure subscriptions are retained in issue order for replay.
	assert.Equal(t, len(manager.subscriptions), len(subs))
	for idx := range subs {
		assert.Equal(t, manager.subscriptions[idx].Key(), subs[idx].Key())
	}

	// Ensure replay re-issues without duplicating records or engines.
	manager.mtx.Lock()
	err := manager.replayLocked(shared.Hyperliquid, shared.BTCUSDPerp)
	manager.mtx.Unlock()
	assert.NoError(t, err)
	assert.Equal(t, len(manager.subscriptions), len(subs))
	assert.Equal(t, len(manager.engines), 1)
}

func TestManagerUnsupportedExchange(t *testing.T) {
	manager := newTestManager(t)

	// Ensure an unknown venue fails the worker factory.
	sub := shared.NewSubscription(shared.Exchange(99), shared.BTCUSDPerp, shared.Trades, 0, 0)
	_, err := manager.Subscribe(sub)
	assert.Error(t, err)
}

func TestManagerDeadMarket(t *testing.T) {
	manager := newTestManager(t)

	// Ensure subscriptions against a dead market are refused.
	manager.dead[shared.MarketChannel(shared.Hyperliquid, shared.BTCUSDPerp)] = struct{}{}
	sub := shared.NewSubscription(shared.Hyperliquid, shared.BTCUSDPerp, shared.Trades, 0, 0)
	_, err := manager.Subscribe(sub)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrMarketDead))
}

func TestManagerCandleData(t *testing.T) {
	manager := newTestManager(t)
	worker := seedWorker(t, manager, shared.Hyperliquid, shared.BTCUSDPerp)

	store, err := worker.Store(shared.OneMinute)
	assert.NoError(t, err)

	store.SetTime(60_000)
	store.SetOpen(1)
	store.SetHigh(2)
	store.SetLow(0.5)
	store.SetClose(1.5)
	store.SetVolume(3)

	// Ensure populated rows surface through the candle data lookup.
	candles, err := manager.CandleData(shared.Hyperliquid, shared.BTCUSDPerp, shared.OneMinute)
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 1)
	assert.Equal(t, candles[0].Time, int64(60_000))
	assert.Equal(t, candles[0].Close, 1.5)

	// Ensure an untracked pair errors.
	_, err = manager.CandleData(shared.Binance, shared.BTCUSD, shared.OneMinute)
	assert.Error(t, err)
}

func TestManagerStopTerminatesEngines(t *testing.T) {
	manager := newTestManager(t)
	seedWorker(t, manager, shared.Hyperliquid, shared.BTCUSDPerp)

	before := runtime.NumGoroutine()

	// A subscribe issued before Run still starts its engine on the
	// manager owned run context.
	sub := shared.NewSubscription(shared.Hyperliquid, shared.BTCUSDPerp, shared.RSI, 14, shared.OneMinute)
	_, err := manager.Subscribe(sub)
	assert.NoError(t, err)

	deadline := time.Now().Add(time.Second * 2)
	for runtime.NumGoroutine() <= before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond * 10)
	}
	assert.True(t, runtime.NumGoroutine() > before)

	// Ensure stopping the manager cancels the run context and winds the
	// engine goroutine down.
	manager.Stop()
	assert.Error(t, manager.runCtx.Err())

	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond * 10)
	}
	assert.True(t, runtime.NumGoroutine() <= before)
}
