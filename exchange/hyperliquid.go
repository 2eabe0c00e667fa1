package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"candlefeed/fetch"
	"candlefeed/shared"
	"github.com/davecgh/go-spew/spew"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
)

const (
	// HyperliquidMainnetWSURL is the hyperliquid mainnet websocket url.
	HyperliquidMainnetWSURL = "wss://api.hyperliquid.xyz/ws"
	// HyperliquidTestnetWSURL is the hyperliquid testnet websocket url.
	HyperliquidTestnetWSURL = "wss://api.hyperliquid-testnet.xyz/ws"

	// ReconnectMinDelay is the initial reconnect backoff delay.
	ReconnectMinDelay = time.Second * 2
	// ReconnectMaxDelay caps the reconnect backoff delay.
	ReconnectMaxDelay = time.Second * 20

	// pingInterval is the websocket ping cadence.
	pingInterval = time.Second * 20
	// pongTimeout bounds the wait for a pong after a ping.
	pongTimeout = time.Second * 10
)

// HyperliquidConfig represents the configuration for the hyperliquid
// connector.
type HyperliquidConfig struct {
	// Market is the tracked market.
	Market shared.Market
	// URL is the websocket url.
	URL string
	// Queue receives decoded trades.
	Queue *TradeQueue
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// HyperliquidConnector maintains a websocket session to hyperliquid and
// produces decoded trades into its trade queue.
type HyperliquidConnector struct {
	cfg *HyperliquidConfig

	conn    *websocket.Conn
	connMtx sync.Mutex

	state          atomic.Int32
	lastUpdate     atomic.Int64
	reconnectDelay time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// Ensure the hyperliquid connector implements the Connector interface.
var _ Connector = (*HyperliquidConnector)(nil)

// NewHyperliquidConnector initializes a connector for the provided market.
func NewHyperliquidConnector(cfg *HyperliquidConfig) *HyperliquidConnector {
	c := &HyperliquidConnector{
		cfg:            cfg,
		reconnectDelay: ReconnectMinDelay,
		done:           make(chan struct{}),
	}
	c.touch()

	return c
}

// State returns the current lifecycle state.
func (c *HyperliquidConnector) State() State {
	return State(c.state.Load())
}

func (c *HyperliquidConnector) setState(state State) {
	// A stopped connector stays stopped.
	if c.State() == StateStopped {
		return
	}
	c.state.Store(int32(state))
}

// LastUpdate returns the wall clock unix millisecond timestamp of the
// last inbound frame.
func (c *HyperliquidConnector) LastUpdate() int64 {
	return c.lastUpdate.Load()
}

// touch records frame activity for liveness tracking.
func (c *HyperliquidConnector) touch() {
	c.lastUpdate.Store(time.Now().UnixMilli())
}

func (c *HyperliquidConnector) setConn(conn *websocket.Conn) {
	c.connMtx.Lock()
	defer c.connMtx.Unlock()
	c.conn = conn
}

// Send writes the provided message to the websocket session.
func (c *HyperliquidConnector) Send(message interface{}) error {
	if c.State() != StateOpen {
		return shared.ErrNotConnected
	}

	c.connMtx.Lock()
	defer c.connMtx.Unlock()
	if c.conn == nil {
		return shared.ErrNotConnected
	}

	return c.conn.WriteJSON(message)
}

// subscribeTrades sends the trades channel subscription for the market.
func (c *HyperliquidConnector) subscribeTrades(conn *websocket.Conn) error {
	symbol, err := fetch.HyperliquidVenueSymbol(c.cfg.Market)
	if err != nil {
		return err
	}

	message := map[string]interface{}{
		"method": "subscribe",
		"subscription": map[string]interface{}{
			"type": "trades",
			"coin": symbol,
		},
	}

	err = conn.WriteJSON(message)
	if err != nil {
		return fmt.Errorf("subscribing to trades for %s: %w", c.cfg.Market.String(), err)
	}

	return nil
}

// stopped reports whether the connector should exit its run loop.
func (c *HyperliquidConnector) stopped(ctx context.Context) bool {
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
func (c *HyperliquidConnector) awaitReconnect(ctx context.Context) bool {
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

// Run drives the connect, subscribe and read cycle until the context is
// cancelled or the connector is closed.
func (c *HyperliquidConnector) Run(ctx context.Context) {
	for {
		if c.stopped(ctx) {
			c.setState(StateStopped)
			return
		}

		c.setState(StateConnecting)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			c.cfg.Logger.Error().Msgf("%s: dialing %s: %v", c.cfg.Market.String(), c.cfg.URL, err)
			c.setState(StateReconnecting)
			connectorReconnects.WithLabelValues("hyperliquid", c.cfg.Market.String()).Inc()
			if !c.awaitReconnect(ctx) {
				c.setState(StateStopped)
				return
			}
			continue
		}

		c.setState(StateSubscribing)
		err = c.subscribeTrades(conn)
		if err != nil {
			c.cfg.Logger.Error().Msgf("%s: %v", c.cfg.Market.String(), err)
			conn.Close()
			c.setState(StateReconnecting)
			if !c.awaitReconnect(ctx) {
				c.setState(StateStopped)
				return
			}
			continue
		}

		c.setConn(conn)
		c.touch()
		c.setState(StateOpen)
		c.cfg.Logger.Info().Msgf("%s: subscribed to trades", c.cfg.Market.String())

		heartbeatCtx, heartbeatCancel := context.WithCancel(ctx)
		go c.heartbeat(heartbeatCtx, conn)

		c.readLoop(conn)

		heartbeatCancel()
		c.setConn(nil)

		if c.stopped(ctx) {
			c.setState(StateStopped)
			return
		}

		c.setState(StateReconnecting)
		connectorReconnects.WithLabelValues("hyperliquid", c.cfg.Market.String()).Inc()
		c.cfg.Logger.Info().Msgf("%s: reconnecting in %s", c.cfg.Market.String(), c.reconnectDelay)
		if !c.awaitReconnect(ctx) {
			c.setState(StateStopped)
			return
		}
	}
}

// heartbeat pings the session on a fixed cadence, closing the connection
// to trigger a reconnect when the transport stops responding.
func (c *HyperliquidConnector) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongTimeout))
			if err != nil {
				conn.Close()
				return
			}
		}
	}
}

// readLoop consumes frames from the session until it errors.
func (c *HyperliquidConnector) readLoop(conn *websocket.Conn) {
	deadline := pingInterval + pongTimeout

	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		c.touch()
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})
	conn.SetPingHandler(func(payload string) error {
		c.touch()
		conn.WriteControl(websocket.PongMessage, []byte(payload), time.Now().Add(pongTimeout))
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	first := true
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}

		c.touch()
		if first {
			// A live session resets the backoff for the next fault.
			c.reconnectDelay = ReconnectMinDelay
			first = false
		}

		c.handleMessage(message)
		conn.SetReadDeadline(time.Now().Add(deadline))
	}
}

// handleMessage decodes an inbound frame and produces its trades into
// the queue. Malformed messages are logged and skipped.
func (c *HyperliquidConnector) handleMessage(raw []byte) {
	if !gjson.ValidBytes(raw) {
		c.cfg.Logger.Error().Msgf("%s: malformed message: %s", c.cfg.Market.String(), spew.Sdump(raw))
		return
	}

	message := gjson.ParseBytes(raw)
	switch message.Get("channel").String() {
	case "subscriptionResponse":
		// One shot acknowledgement, nothing to do.
	case "trades":
		data := message.Get("data").Array()
		for idx := range data {
			trade, err := parseHyperliquidTrade(data[idx])
			if err != nil {
				c.cfg.Logger.Error().Msgf("%s: skipping trade: %v", c.cfg.Market.String(), err)
				continue
			}

			c.cfg.Queue.Push(trade)
		}
	default:
		c.cfg.Logger.Debug().Msgf("%s: ignoring message on channel %q",
			c.cfg.Market.String(), message.Get("channel").String())
	}
}

// parseHyperliquidTrade decodes a single trade entry.
func parseHyperliquidTrade(data gjson.Result) (shared.Trade, error) {
	if !data.Get("px").Exists() || !data.Get("time").Exists() {
		return shared.Trade{}, fmt.Errorf("trade entry missing required fields: %s", data.Raw)
	}

	side := shared.Sell
	if data.Get("side").String() == "B" {
		side = shared.Buy
	}

	users := data.Get("users").Array()
	traders := make([]string, 0, len(users))
	for idx := range users {
		traders = append(traders, users[idx].String())
	}

	return shared.Trade{
		Price:     data.Get("px").Float(),
		Size:      data.Get("sz").Float(),
		Side:      side,
		Timestamp: data.Get("time").Int(),
		Traders:   traders,
	}, nil
}

// Reset forces a reconnect cycle by closing the current session. The run
// loop's backoff takes over from there.
func (c *HyperliquidConnector) Reset() {
	c.connMtx.Lock()
	defer c.connMtx.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

// Close stops the connector permanently.
func (c *HyperliquidConnector) Close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateStopped))
		close(c.done)
		c.connMtx.Lock()
		defer c.connMtx.Unlock()
		if c.conn != nil {
			c.conn.Close()
		}
	})
}
