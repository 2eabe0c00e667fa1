package exchange

import (
	"context"
	"testing"
	"time"

	"candlefeed/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// fakeConnector is a controllable connector for watchdog tests.
type fakeConnector struct {
	last   atomic.Int64
	state  atomic.Int32
	resets atomic.Int32
	closed atomic.Bool
}

func newFakeConnector() *fakeConnector {
	c := &fakeConnector{}
	c.last.Store(time.Now().UnixMilli())
	return c
}

func (c *fakeConnector) Run(ctx context.Context) {
	c.state.Store(int32(StateOpen))
	<-ctx.Done()
}

func (c *fakeConnector) Reset() {
	c.resets.Inc()
}

func (c *fakeConnector) Close() {
	c.closed.Store(true)
	c.state.Store(int32(StateStopped))
}

func (c *fakeConnector) State() State {
	return State(c.state.Load())
}

func (c *fakeConnector) LastUpdate() int64 {
	return c.last.Load()
}

func TestWorkerWatchdog(t *testing.T) {
	logger := zerolog.Nop()

	var connectors []*fakeConnector
	newConnector := func(queue *TradeQueue) (Connector, error) {
		c := newFakeConnector()
		connectors = append(connectors, c)
		return c, nil
	}

	worker, err := NewWorker(&WorkerConfig{
		Exchange:           shared.Hyperliquid,
		Market:             shared.BTCUSDPerp,
		Intervals:          []shared.Interval{shared.OneMinute},
		NewConnector:       newConnector,
		SnapshotClient:     &fakeSnapshotClient{},
		SoftResetThreshold: time.Second * 20,
		HardResetThreshold: time.Second * 30,
		Logger:             &logger,
	})
	assert.NoError(t, err)
	assert.Equal(t, len(connectors), 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	err = worker.WaitReady(ctx)
	assert.NoError(t, err)
	defer worker.Stop()

	store, err := worker.Store(shared.OneMinute)
	assert.NoError(t, err)

	// Ensure a live stream keeps the worker healthy.
	first := connectors[0]
	first.state.Store(int32(StateOpen))
	worker.watchdog()
	assert.Equal(t, first.resets.Load(), int32(0))
	assert.True(t, store.Updated())

	// Ensure idling past the soft threshold resets the connector and
	// flags the series unhealthy.
	first.last.Store(time.Now().Add(-time.Second * 25).UnixMilli())
	worker.watchdog()
	assert.Equal(t, first.resets.Load(), int32(1))
	assert.False(t, store.Updated())
	assert.False(t, worker.Failed())

	// Ensure recovery restores health.
	first.last.Store(time.Now().UnixMilli())
	worker.watchdog()
	assert.True(t, store.Updated())

	// Ensure idling past the hard threshold tears down the connector and
	// builds a replacement on the same queue.
	first.last.Store(time.Now().Add(-time.Second * 45).UnixMilli())
	worker.watchdog()
	assert.True(t, first.closed.Load())
	assert.Equal(t, len(connectors), 2)
	assert.False(t, worker.Failed())

	// Ensure a second consecutive stale breach still rebuilds the
	// connector rather than failing the worker outright.
	second := connectors[1]
	second.last.Store(time.Now().Add(-time.Second * 45).UnixMilli())
	worker.watchdog()
	assert.True(t, second.closed.Load())
	assert.Equal(t, len(connectors), 3)
	assert.False(t, worker.Failed())

	// Ensure the worker fails once both rebuilds ran without restoring
	// liveness, with no further replacement built.
	third := connectors[2]
	third.last.Store(time.Now().Add(-time.Second * 45).UnixMilli())
	worker.watchdog()
	assert.True(t, worker.Failed())
	assert.Equal(t, len(connectors), 3)
}

func TestWorkerHardResetStreakClears(t *testing.T) {
	logger := zerolog.Nop()

	var connectors []*fakeConnector
	newConnector := func(queue *TradeQueue) (Connector, error) {
		c := newFakeConnector()
		connectors = append(connectors, c)
		return c, nil
	}

	worker, err := NewWorker(&WorkerConfig{
		Exchange:           shared.Hyperliquid,
		Market:             shared.BTCUSDPerp,
		Intervals:          []shared.Interval{shared.OneMinute},
		NewConnector:       newConnector,
		SnapshotClient:     &fakeSnapshotClient{},
		SoftResetThreshold: time.Second * 20,
		HardResetThreshold: time.Second * 30,
		Logger:             &logger,
	})
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	err = worker.WaitReady(ctx)
	assert.NoError(t, err)
	defer worker.Stop()

	// Ensure a hard reset followed by a recovered open stream clears the
	// streak, so a later breach rebuilds instead of failing.
	connectors[0].last.Store(time.Now().Add(-time.Second * 45).UnixMilli())
	worker.watchdog()
	assert.Equal(t, len(connectors), 2)

	second := connectors[1]
	second.state.Store(int32(StateOpen))
	second.last.Store(time.Now().UnixMilli())
	worker.watchdog()

	second.last.Store(time.Now().Add(-time.Second * 45).UnixMilli())
	worker.watchdog()
	assert.Equal(t, len(connectors), 3)

	third := connectors[2]
	third.state.Store(int32(StateOpen))
	third.last.Store(time.Now().Add(-time.Second * 45).UnixMilli())
	worker.watchdog()
	assert.Equal(t, len(connectors), 4)
	assert.False(t, worker.Failed())
}
