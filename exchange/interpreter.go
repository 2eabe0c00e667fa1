package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"candlefeed/candle"
	"candlefeed/shared"
	"github.com/rs/zerolog"
)

// InterpreterConfig represents the configuration for the trade
// interpreter.
type InterpreterConfig struct {
	// Market is the tracked market.
	Market shared.Market
	// Intervals are the candle intervals maintained for the market.
	Intervals []shared.Interval
	// Rows is the candle series capacity per interval.
	Rows int
	// Queue is the trade queue consumed by the interpreter.
	Queue *TradeQueue
	// SnapshotClient fetches historical candles for bootstraps.
	SnapshotClient shared.SnapshotClient
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sanely initializes the interpreter.
func (cfg *InterpreterConfig) Validate() error {
	var errs error

	if len(cfg.Intervals) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no intervals provided for %s interpreter", cfg.Market.String()))
	}
	if cfg.Rows <= 0 {
		errs = errors.Join(errs, fmt.Errorf("candle series capacity must be positive"))
	}
	if cfg.Queue == nil {
		errs = errors.Join(errs, fmt.Errorf("trade queue cannot be nil"))
	}
	if cfg.SnapshotClient == nil {
		errs = errors.Join(errs, fmt.Errorf("snapshot client cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Interpreter consumes the trade queue for a market and folds trades
// into candle series for every configured interval. It is the sole
// writer of its candle stores.
type Interpreter struct {
	cfg    *InterpreterConfig
	stores map[shared.Interval]*candle.Store

	// traders tracks the unique trader set of the in-progress candle per
	// interval. Reset on every rollover, uniqueness is not cross-candle.
	traders map[shared.Interval]map[string]struct{}

	ready chan struct{}
}

// NewInterpreter initializes a trade interpreter from the provided
// config.
func NewInterpreter(cfg *InterpreterConfig) (*Interpreter, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	stores := make(map[shared.Interval]*candle.Store, len(cfg.Intervals))
	traders := make(map[shared.Interval]map[string]struct{}, len(cfg.Intervals))
	for _, interval := range cfg.Intervals {
		store, err := candle.NewStore(cfg.Market, interval, cfg.Rows)
		if err != nil {
			return nil, err
		}

		stores[interval] = store
		traders[interval] = make(map[string]struct{})
	}

	return &Interpreter{
		cfg:     cfg,
		stores:  stores,
		traders: traders,
		ready:   make(chan struct{}),
	}, nil
}

// Store returns the candle store for the provided interval.
func (i *Interpreter) Store(interval shared.Interval) (*candle.Store, error) {
	store, ok := i.stores[interval]
	if !ok {
		return nil, fmt.Errorf("no candle series for %s on interval %s",
			i.cfg.Market.String(), interval.String())
	}

	return store, nil
}

// WaitReady blocks until the interpreter completes its startup
// bootstrap or the context is cancelled.
func (i *Interpreter) WaitReady(ctx context.Context) error {
	select {
	case <-i.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RaiseUnhealthy flags every candle series unhealthy.
func (i *Interpreter) RaiseUnhealthy() {
	for _, store := range i.stores {
		store.ClearUpdated()
	}
}

// BackToHealthy flags every candle series healthy.
func (i *Interpreter) BackToHealthy() {
	for _, store := range i.stores {
		store.MarkUpdated()
	}
}

// Bootstrap back-fills the candle series for the provided interval from
// a historical snapshot ending at the provided aligned timestamp. Rows
// already present are never overwritten, re-running a bootstrap with
// the same end time is a no-op.
func (i *Interpreter) Bootstrap(ctx context.Context, interval shared.Interval, end int64) error {
	store, err := i.Store(interval)
	if err != nil {
		return err
	}

	start := end - int64(store.Rows())*interval.Milliseconds()
	candles, err := i.cfg.SnapshotClient.CandleSnapshot(ctx, i.cfg.Market, interval, start, end)
	if err != nil {
		return fmt.Errorf("fetching %s snapshot for %s: %w",
			interval.String(), i.cfg.Market.String(), err)
	}

	for idx := range candles {
		cdl := candles[idx]
		if cdl.Time == end {
			// The venue's own in-progress candle, skipped.
			continue
		}
		if cdl.Time <= store.Time() {
			// Already covered by the series.
			continue
		}

		store.CreateCandle()
		store.SetTime(cdl.Time)
		store.SetOpen(cdl.Open)
		store.SetHigh(cdl.High)
		store.SetLow(cdl.Low)
		store.SetClose(cdl.Close)
		store.SetVolume(cdl.Volume)
	}

	// Advance to an empty in-progress slot for the live stream.
	if store.Time() < end {
		store.CreateCandle()
		store.SetTime(end)
	}

	for trader := range i.traders[interval] {
		delete(i.traders[interval], trader)
	}

	store.MarkUpdated()

	return nil
}

// seedCandle primes a fresh in-progress candle with the provided trade
// price and resets the per-candle unique trader set.
func (i *Interpreter) seedCandle(interval shared.Interval, store *candle.Store, price float64) {
	store.SetOpen(price)
	store.SetHigh(price)
	store.SetLow(price)
	store.SetClose(price)

	for trader := range i.traders[interval] {
		delete(i.traders[interval], trader)
	}
}

// processTrade folds the provided trade into every interval's series.
func (i *Interpreter) processTrade(ctx context.Context, trade shared.Trade) {
	for _, interval := range i.cfg.Intervals {
		store := i.stores[interval]
		ms := interval.Milliseconds()
		lastCT := store.Time()

		switch {
		case lastCT == 0:
			// First trade on an empty series.
			store.SetTime(interval.AlignTime(trade.Timestamp))
			i.seedCandle(interval, store, trade.Price)
		case trade.Timestamp < lastCT:
			// Late trade, predates the in-progress candle.
			continue
		case trade.Timestamp-ms > lastCT:
			// At least one full candle was missed, back-fill the gap.
			end := interval.AlignTime(trade.Timestamp)
			err := i.Bootstrap(ctx, interval, end)
			if err != nil {
				i.cfg.Logger.Error().Msgf("%s: %v", i.cfg.Market.String(), err)
				continue
			}
			i.seedCandle(interval, store, trade.Price)
		case trade.Timestamp >= lastCT+ms:
			// Candle rollover.
			store.CreateCandle()
			store.SetTime(lastCT + ms)
			i.seedCandle(interval, store, trade.Price)
		case store.Open() == 0:
			// First trade into a freshly bootstrapped slot.
			i.seedCandle(interval, store, trade.Price)
		}

		store.SetClose(trade.Price)
		if trade.Price > store.High() {
			store.SetHigh(trade.Price)
		}
		if trade.Price < store.Low() {
			store.SetLow(trade.Price)
		}

		store.AddVolume(trade.Size)
		switch trade.Side {
		case shared.Buy:
			store.AddBuyerVolume(trade.Size)
		case shared.Sell:
			store.AddSellerVolume(trade.Size)
		}

		for _, trader := range trade.Traders {
			if _, seen := i.traders[interval][trader]; !seen {
				i.traders[interval][trader] = struct{}{}
				store.AddUniqueTraders(1)
			}
		}

		store.SetLastTrade(trade.Price)
		store.MarkUpdated()
	}
}

// Run bootstraps every interval's series then consumes the trade queue
// until the context is cancelled.
func (i *Interpreter) Run(ctx context.Context) {
	now := time.Now().UnixMilli()
	for _, interval := range i.cfg.Intervals {
		err := i.Bootstrap(ctx, interval, interval.AlignTime(now))
		if err != nil {
			// The series stays cold until the gap path back-fills it.
			i.cfg.Logger.Error().Msgf("%s: startup bootstrap: %v", i.cfg.Market.String(), err)
		}
	}

	close(i.ready)

	for {
		trade, ok := i.cfg.Queue.Pop(ctx)
		if !ok {
			return
		}

		i.processTrade(ctx, trade)
	}
}
