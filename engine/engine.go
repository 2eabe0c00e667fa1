package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"candlefeed/candle"
	"candlefeed/indicator"
	"candlefeed/shared"
	"github.com/rs/zerolog"
)

const (
	// DefaultTick is the default engine evaluation cadence.
	DefaultTick = time.Millisecond * 100

	// hmaPeriod is the hull moving average span published alongside the
	// relative strength family.
	hmaPeriod = 100

	// bufferSize is the per timeframe price buffer capacity.
	bufferSize = 200

	// slopeTolerance is the jump threshold splitting slope segments.
	slopeTolerance = 0.001

	// subscribeBuffer bounds pending subscribe requests.
	subscribeBuffer = 64
)

// EngineConfig represents the configuration for an indicator engine.
type EngineConfig struct {
	// Exchange is the venue the samples originate from.
	Exchange shared.Exchange
	// Market is the tracked market.
	Market shared.Market
	// Family is the indicator family the engine evaluates.
	Family shared.DataType
	// Store resolves the candle store for a timeframe.
	Store func(interval shared.Interval) (*candle.Store, error)
	// SnapshotClient fetches historical candles for buffer bootstraps.
	SnapshotClient shared.SnapshotClient
	// Sinks receive published samples.
	Sinks []Sink
	// Tick is the evaluation cadence.
	Tick time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sanely initializes the engine.
func (cfg *EngineConfig) Validate() error {
	var errs error

	if !cfg.Family.Indicator() {
		errs = errors.Join(errs, fmt.Errorf("%s is not an indicator family", cfg.Family.String()))
	}
	if cfg.Store == nil {
		errs = errors.Join(errs, fmt.Errorf("store resolver cannot be nil"))
	}
	if cfg.SnapshotClient == nil {
		errs = errors.Join(errs, fmt.Errorf("snapshot client cannot be nil"))
	}
	if len(cfg.Sinks) == 0 {
		errs = errors.Join(errs, fmt.Errorf("at least one sink is required"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// seriesBuffer is a per timeframe price history window used as kernel
// input. The final slot mirrors the live in-progress candle.
type seriesBuffer struct {
	times  []int64
	closes []float64
	highs  []float64
	lows   []float64
}

// append adds a row, trimming the oldest when at capacity.
func (b *seriesBuffer) append(t int64, c, h, l float64) {
	b.times = append(b.times, t)
	b.closes = append(b.closes, c)
	b.highs = append(b.highs, h)
	b.lows = append(b.lows, l)

	if len(b.times) > bufferSize {
		b.times = b.times[1:]
		b.closes = b.closes[1:]
		b.highs = b.highs[1:]
		b.lows = b.lows[1:]
	}
}

// overwrite replaces the final row in place.
func (b *seriesBuffer) overwrite(c, h, l float64) {
	idx := len(b.times) - 1
	b.closes[idx] = c
	b.highs[idx] = h
	b.lows[idx] = l
}

type subscribeRequest struct {
	period    int
	timeframe shared.Interval
}

// Engine evaluates one indicator family for a market on a fixed
// cadence, publishing samples to its sinks. Subscriptions arrive over a
// command queue so callers never block on the evaluation loop.
type Engine struct {
	cfg *EngineConfig

	buffers map[shared.Interval]*seriesBuffer
	periods map[shared.Interval]map[int]struct{}
	// ordered period list per timeframe, samples publish in subscribe
	// order.
	ordered map[shared.Interval][]int

	subscribeCh chan subscribeRequest
}

// NewEngine initializes an indicator engine from the provided config.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}

	return &Engine{
		cfg:         cfg,
		buffers:     make(map[shared.Interval]*seriesBuffer),
		periods:     make(map[shared.Interval]map[int]struct{}),
		ordered:     make(map[shared.Interval][]int),
		subscribeCh: make(chan subscribeRequest, subscribeBuffer),
	}, nil
}

// Subscribe registers a (period, timeframe) pair for evaluation. It
// never blocks, requests beyond the queue capacity are dropped and
// logged.
func (e *Engine) Subscribe(period int, timeframe shared.Interval) {
	select {
	case e.subscribeCh <- subscribeRequest{period: period, timeframe: timeframe}:
	default:
		e.cfg.Logger.Error().Msgf("%s %s engine: subscribe channel at capacity, dropping %s/%d",
			e.cfg.Market.String(), e.cfg.Family.String(), timeframe.String(), period)
	}
}

// handleSubscribe applies a subscribe request, bootstrapping the price
// buffer on first use of a timeframe.
func (e *Engine) handleSubscribe(ctx context.Context, req subscribeRequest) {
	if _, ok := e.buffers[req.timeframe]; !ok {
		buffer, err := e.bootstrapBuffer(ctx, req.timeframe)
		if err != nil {
			e.cfg.Logger.Error().Msgf("%s %s engine: %v",
				e.cfg.Market.String(), e.cfg.Family.String(), err)
			return
		}

		e.buffers[req.timeframe] = buffer
		e.periods[req.timeframe] = make(map[int]struct{})
	}

	if _, ok := e.periods[req.timeframe][req.period]; !ok {
		e.periods[req.timeframe][req.period] = struct{}{}
		e.ordered[req.timeframe] = append(e.ordered[req.timeframe], req.period)
	}
}

// bootstrapBuffer seeds a price buffer from a historical snapshot
// ending at the current aligned time.
func (e *Engine) bootstrapBuffer(ctx context.Context, timeframe shared.Interval) (*seriesBuffer, error) {
	end := timeframe.AlignTime(time.Now().UnixMilli())
	start := end - bufferSize*timeframe.Milliseconds()

	candles, err := e.cfg.SnapshotClient.CandleSnapshot(ctx, e.cfg.Market, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping %s buffer: %w", timeframe.String(), err)
	}

	buffer := &seriesBuffer{}
	for idx := range candles {
		cdl := candles[idx]
		buffer.append(cdl.Time, cdl.Close, cdl.High, cdl.Low)
	}

	return buffer, nil
}

// align folds the live in-progress candle into the buffer. A matching
// open time overwrites the final row, a later one appends, an earlier
// one is ignored.
func (e *Engine) align(buffer *seriesBuffer, store *candle.Store) {
	t := store.Time()
	if t == 0 {
		return
	}

	closes := store.Closes()
	c := closes[len(closes)-1]
	h := store.High()
	l := store.Low()

	if len(buffer.times) == 0 {
		buffer.append(t, c, h, l)
		return
	}

	last := buffer.times[len(buffer.times)-1]
	switch {
	case t == last:
		buffer.overwrite(c, h, l)
	case t > last:
		buffer.append(t, c, h, l)
	}
}

// publish fans the sample out to every sink.
func (e *Engine) publish(ctx context.Context, stat string, timeframe shared.Interval, period int, value float64) {
	sample := Sample{
		Exchange:   e.cfg.Exchange.String(),
		Market:     e.cfg.Market.String(),
		Stat:       stat,
		Timeframe:  timeframe.String(),
		Period:     period,
		Value:      value,
		ComputedAt: time.Now().UnixMilli(),
	}

	for _, sink := range e.cfg.Sinks {
		err := sink.Publish(ctx, sample)
		if err != nil {
			e.cfg.Logger.Error().Msgf("%s %s engine: %v",
				e.cfg.Market.String(), e.cfg.Family.String(), err)
		}
	}
}

// evaluate runs the family kernels for every subscribed timeframe and
// publishes the resulting samples.
func (e *Engine) evaluate(ctx context.Context) {
	for timeframe, buffer := range e.buffers {
		store, err := e.cfg.Store(timeframe)
		if err != nil {
			e.cfg.Logger.Error().Msgf("%s %s engine: %v",
				e.cfg.Market.String(), e.cfg.Family.String(), err)
			continue
		}

		// Stale series are skipped until the ingest side recovers.
		if !store.Updated() {
			continue
		}

		e.align(buffer, store)

		switch e.cfg.Family {
		case shared.RSI:
			e.evaluateRSI(ctx, timeframe, buffer)
		case shared.MACD:
			e.evaluateMACD(ctx, timeframe, buffer)
		case shared.SMA:
			e.evaluateSMA(ctx, timeframe, buffer, store)
		}
	}
}

// evaluateRSI publishes relative strength, true range and hull moving
// average samples.
func (e *Engine) evaluateRSI(ctx context.Context, timeframe shared.Interval, buffer *seriesBuffer) {
	for _, period := range e.ordered[timeframe] {
		value, err := indicator.RSI(buffer.closes, period)
		if err == nil {
			e.publish(ctx, StatRSI, timeframe, period, value)
		}

		value, err = indicator.ATR(buffer.highs, buffer.lows, buffer.closes, period)
		if err == nil {
			e.publish(ctx, StatATR, timeframe, period, value)
		}
	}

	value, err := indicator.HMA(buffer.closes, hmaPeriod)
	if err == nil {
		e.publish(ctx, StatHMA, timeframe, hmaPeriod, value)
	}
}

// evaluateMACD publishes moving average convergence divergence samples
// using the conventional 12/26/9 spans. Samples are labelled with the
// slow span.
func (e *Engine) evaluateMACD(ctx context.Context, timeframe shared.Interval, buffer *seriesBuffer) {
	macd, signal, hist, err := indicator.MACD(buffer.closes,
		indicator.DefaultMACDFast, indicator.DefaultMACDSlow, indicator.DefaultMACDSignal)
	if err != nil {
		return
	}

	e.publish(ctx, StatMACD, timeframe, indicator.DefaultMACDSlow, macd)
	e.publish(ctx, StatMACDSignal, timeframe, indicator.DefaultMACDSlow, signal)
	e.publish(ctx, StatMACDHist, timeframe, indicator.DefaultMACDSlow, hist)
}

// evaluateSMA publishes simple moving average, regression slope and
// volume weighted average price samples.
func (e *Engine) evaluateSMA(ctx context.Context, timeframe shared.Interval, buffer *seriesBuffer, store *candle.Store) {
	highs := store.Highs()
	lows := store.Lows()
	closes := store.Closes()
	volumes := store.Volumes()

	for _, period := range e.ordered[timeframe] {
		window := period
		if window > len(closes) {
			window = len(closes)
		}
		from := len(closes) - window
		vwap, err := indicator.VWAP(highs[from:], lows[from:], closes[from:], volumes[from:])
		if err == nil {
			e.publish(ctx, StatVWAP, timeframe, period, vwap)
		}
		averages, err := indicator.SMA(buffer.closes, period)
		if err != nil || len(averages) == 0 {
			continue
		}
		e.publish(ctx, StatSMA, timeframe, period, averages[len(averages)-1])

		slopes, err := indicator.RegressionSlope(averages, period)
		if err != nil || len(slopes) == 0 {
			continue
		}
		e.publish(ctx, StatSMASlope, timeframe, period, slopes[len(slopes)-1])

		segments := indicator.SlopeSegments(slopes, slopeTolerance)
		if len(segments) > 0 {
			e.publish(ctx, StatSMASlope+"_mean", timeframe, period, segments[len(segments)-1].Mean)
		}
	}
}

// Run drives the subscription queue and the evaluation loop until the
// context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.subscribeCh:
			e.handleSubscribe(ctx, req)
		case <-ticker.C:
			e.evaluate(ctx)
		}
	}
}
