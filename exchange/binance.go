package exchange

import (
	"context"
	"strconv"
	"sync"
	"time"

	"candlefeed/fetch"
	"candlefeed/shared"
	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// BinanceConfig represents the configuration for the binance connector.
type BinanceConfig struct {
	// Market is the tracked market.
	Market shared.Market
	// Testnet toggles the binance spot testnet stream.
	Testnet bool
	// Queue receives decoded trades.
	Queue *TradeQueue
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// BinanceConnector maintains an aggregate trade stream to binance and
// produces decoded trades into its trade queue. The stream lifecycle is
// managed by the binance sdk, the connector layers reconnect backoff
// and liveness tracking on top.
type BinanceConnector struct {
	cfg *BinanceConfig

	stopC     chan struct{}
	streamMtx sync.Mutex

	state          atomic.Int32
	lastUpdate     atomic.Int64
	reconnectDelay time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// Ensure the binance connector implements the Connector interface.
var _ Connector = (*BinanceConnector)(nil)

// NewBinanceConnector initializes a connector for the provided market.
func NewBinanceConnector(cfg *BinanceConfig) *BinanceConnector {
	c := &BinanceConnector{
		cfg:            cfg,
		reconnectDelay: ReconnectMinDelay,
		done:           make(chan struct{}),
	}
	c.touch()

	return c
}

// State returns the current lifecycle state.
func (c *BinanceConnector) State() State {
	return State(c.state.Load())
}

func (c *BinanceConnector) setState(state State) {
	// A stopped connector stays stopped.
	if c.State() == StateStopped {
		return
	}
	c.state.Store(int32(state))
}

// LastUpdate returns the wall clock unix millisecond timestamp of the
// last inbound event.
func (c *BinanceConnector) LastUpdate() int64 {
	return c.lastUpdate.Load()
}

func (c *BinanceConnector) touch() {
	c.lastUpdate.Store(time.Now().UnixMilli())
}

func (c *BinanceConnector) setStop(stopC chan struct{}) {
	c.streamMtx.Lock()
	defer c.streamMtx.Unlock()
	c.stopC = stopC
}

// handleAggTrade decodes an aggregate trade event and produces it into
// the queue.
func (c *BinanceConnector) handleAggTrade(event *binance.WsAggTradeEvent) {
	c.touch()

	price, err := strconv.ParseFloat(event.Price, 64)
	if err != nil {
		c.cfg.Logger.Error().Msgf("%s: skipping trade with price %q: %v",
			c.cfg.Market.String(), event.Price, err)
		return
	}

	size, err := strconv.ParseFloat(event.Quantity, 64)
	if err != nil {
		c.cfg.Logger.Error().Msgf("%s: skipping trade with quantity %q: %v",
			c.cfg.Market.String(), event.Quantity, err)
		return
	}

	// A buyer maker trade means the aggressor sold into the book.
	side := shared.Buy
	if event.IsBuyerMaker {
		side = shared.Sell
	}

	c.cfg.Queue.Push(shared.Trade{
		Price:     price,
		Size:      size,
		Side:      side,
		Timestamp: event.TradeTime,
	})
}

// stopped reports whether the connector should exit its run loop.
func (c *BinanceConnector) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

// awaitReconnect sleeps for the current backoff delay, honouring
// cancellation. It reports whether the run loop should continue.
func (c *BinanceConnector) awaitReconnect(ctx context.Context) bool {
	timer := time.NewTimer(c.reconnectDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	case <-timer.C:
		c.reconnectDelay = min(c.reconnectDelay*2, ReconnectMaxDelay)
		return true
	}
}

// Run drives the stream lifecycle until the context is cancelled or the
// connector is closed.
func (c *BinanceConnector) Run(ctx context.Context) {
	symbol, err := fetch.BinanceVenueSymbol(c.cfg.Market)
	if err != nil {
		c.cfg.Logger.Error().Msgf("%s: %v", c.cfg.Market.String(), err)
		c.setState(StateStopped)
		return
	}

	binance.UseTestnet = c.cfg.Testnet

	for {
		if c.stopped(ctx) {
			c.setState(StateStopped)
			return
		}

		c.setState(StateConnecting)
		errHandler := func(err error) {
			c.cfg.Logger.Error().Msgf("%s: stream error: %v", c.cfg.Market.String(), err)
		}

		doneC, stopC, err := binance.WsAggTradeServe(symbol, c.handleAggTrade, errHandler)
		if err != nil {
			c.cfg.Logger.Error().Msgf("%s: starting aggregate trade stream: %v",
				c.cfg.Market.String(), err)
			c.setState(StateReconnecting)
			connectorReconnects.WithLabelValues("binance", c.cfg.Market.String()).Inc()
			if !c.awaitReconnect(ctx) {
				c.setState(StateStopped)
				return
			}
			continue
		}

		c.setStop(stopC)
		c.touch()
		// A successful subscribe restarts the backoff ladder. Only the run
		// goroutine touches the delay.
		c.reconnectDelay = ReconnectMinDelay
		c.setState(StateOpen)
		c.cfg.Logger.Info().Msgf("%s: subscribed to aggregate trades", c.cfg.Market.String())

		select {
		case <-doneC:
			// Stream ended, fall through to the reconnect path.
		case <-ctx.Done():
		case <-c.done:
		}

		c.closeStream()

		if c.stopped(ctx) {
			c.setState(StateStopped)
			return
		}

		c.setState(StateReconnecting)
		connectorReconnects.WithLabelValues("binance", c.cfg.Market.String()).Inc()
		c.cfg.Logger.Info().Msgf("%s: reconnecting in %s", c.cfg.Market.String(), c.reconnectDelay)
		if !c.awaitReconnect(ctx) {
			c.setState(StateStopped)
			return
		}
	}
}

// closeStream terminates the active stream if one exists.
func (c *BinanceConnector) closeStream() {
	c.streamMtx.Lock()
	defer c.streamMtx.Unlock()
	if c.stopC != nil {
		select {
		case <-c.stopC:
		default:
			close(c.stopC)
		}
		c.stopC = nil
	}
}

// Reset forces a reconnect cycle by terminating the current stream. The
// run loop's backoff takes over from there.
func (c *BinanceConnector) Reset() {
	c.closeStream()
}

// Close stops the connector permanently.
func (c *BinanceConnector) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateStopped))
		close(c.done)
		c.closeStream()
	})
}
