package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"candlefeed/candle"
	"candlefeed/shared"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	// DefaultSoftResetThreshold is the stream idle time that triggers a
	// connector reset.
	DefaultSoftResetThreshold = time.Second * 20
	// DefaultHardResetThreshold is the stream idle time that triggers a
	// connector teardown and rebuild.
	DefaultHardResetThreshold = time.Second * 30

	// watchdogInterval is the worker watchdog cadence in seconds.
	watchdogInterval = 10

	// maxConsecutiveHardResets bounds hard resets before the worker
	// declares itself failed.
	maxConsecutiveHardResets = 2
)

// WorkerConfig represents the configuration for an exchange worker.
type WorkerConfig struct {
	// Exchange is the venue the worker streams from.
	Exchange shared.Exchange
	// Market is the tracked market.
	Market shared.Market
	// Intervals are the candle intervals maintained for the market.
	Intervals []shared.Interval
	// NewConnector builds a venue connector bound to the provided queue.
	// Invoked at startup and on every hard reset.
	NewConnector func(queue *TradeQueue) (Connector, error)
	// SnapshotClient fetches historical candles for bootstraps.
	SnapshotClient shared.SnapshotClient
	// SoftResetThreshold is the idle time before a connector reset.
	SoftResetThreshold time.Duration
	// HardResetThreshold is the idle time before a connector rebuild.
	HardResetThreshold time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sanely initializes the worker.
func (cfg *WorkerConfig) Validate() error {
	var errs error

	if cfg.NewConnector == nil {
		errs = errors.Join(errs, fmt.Errorf("connector factory cannot be nil"))
	}
	if cfg.SnapshotClient == nil {
		errs = errors.Join(errs, fmt.Errorf("snapshot client cannot be nil"))
	}
	if cfg.SoftResetThreshold <= 0 {
		errs = errors.Join(errs, fmt.Errorf("soft reset threshold must be positive"))
	}
	if cfg.HardResetThreshold <= cfg.SoftResetThreshold {
		errs = errors.Join(errs, fmt.Errorf("hard reset threshold must exceed the soft reset threshold"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Worker supervises the ingest pipeline for one (exchange, market)
// pair. It owns the trade queue, the venue connector and the trade
// interpreter, and runs a watchdog that resets or rebuilds the
// connector when the stream goes stale.
type Worker struct {
	cfg         *WorkerConfig
	queue       *TradeQueue
	interpreter *Interpreter

	connector    Connector
	connectorMtx sync.Mutex

	scheduler *gocron.Scheduler

	lastUpdate atomic.Int64
	unhealthy  atomic.Bool
	hardResets atomic.Int32
	failed     atomic.Bool

	runCtx    context.Context
	runCancel context.CancelFunc
	stopOnce  sync.Once
}

// NewWorker initializes an exchange worker from the provided config.
func NewWorker(cfg *WorkerConfig) (*Worker, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	queue, err := NewTradeQueue(cfg.Market, DefaultQueueSize)
	if err != nil {
		return nil, err
	}

	interpreter, err := NewInterpreter(&InterpreterConfig{
		Market:         cfg.Market,
		Intervals:      cfg.Intervals,
		Rows:           candle.DefaultRows,
		Queue:          queue,
		SnapshotClient: cfg.SnapshotClient,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	connector, err := cfg.NewConnector(queue)
	if err != nil {
		return nil, err
	}

	return &Worker{
		cfg:         cfg,
		queue:       queue,
		interpreter: interpreter,
		connector:   connector,
	}, nil
}

// Queue returns the worker's trade queue.
func (w *Worker) Queue() *TradeQueue {
	return w.queue
}

// Store returns the candle store for the provided interval.
func (w *Worker) Store(interval shared.Interval) (*candle.Store, error) {
	return w.interpreter.Store(interval)
}

// WaitReady blocks until the worker's interpreter completes its startup
// bootstrap or the context is cancelled.
func (w *Worker) WaitReady(ctx context.Context) error {
	return w.interpreter.WaitReady(ctx)
}

// LastUpdate returns the mirrored stream liveness timestamp.
func (w *Worker) LastUpdate() int64 {
	return w.lastUpdate.Load()
}

// Failed reports whether the worker gave up restoring its stream.
func (w *Worker) Failed() bool {
	return w.failed.Load()
}

func (w *Worker) currentConnector() Connector {
	w.connectorMtx.Lock()
	defer w.connectorMtx.Unlock()
	return w.connector
}

func (w *Worker) swapConnector(connector Connector) {
	w.connectorMtx.Lock()
	defer w.connectorMtx.Unlock()
	w.connector = connector
}

// watchdog checks stream liveness and escalates from connector reset to
// connector rebuild to worker failure.
func (w *Worker) watchdog() {
	if w.failed.Load() {
		return
	}

	connector := w.currentConnector()
	last := connector.LastUpdate()
	w.lastUpdate.Store(last)
	idle := time.Since(time.UnixMilli(last))

	market := w.cfg.Market.String()
	exchange := w.cfg.Exchange.String()

	switch {
	case idle > w.cfg.HardResetThreshold:
		w.unhealthy.Store(true)
		w.interpreter.RaiseUnhealthy()

		// Fail only once maxConsecutiveHardResets rebuilds have run without
		// restoring liveness.
		if w.hardResets.Inc() > maxConsecutiveHardResets {
			w.cfg.Logger.Error().Msgf("%s: stream dead after %d hard resets, failing worker",
				market, maxConsecutiveHardResets)
			w.failed.Store(true)
			return
		}

		workerHardResets.WithLabelValues(exchange, market).Inc()
		w.cfg.Logger.Error().Msgf("%s: stream idle for %s, hard resetting connector", market, idle)
		connector.Close()

		replacement, err := w.cfg.NewConnector(w.queue)
		if err != nil {
			w.cfg.Logger.Error().Msgf("%s: rebuilding connector: %v", market, err)
			w.failed.Store(true)
			return
		}

		w.swapConnector(replacement)
		go replacement.Run(w.runCtx)
	case idle > w.cfg.SoftResetThreshold:
		w.unhealthy.Store(true)
		w.interpreter.RaiseUnhealthy()
		workerSoftResets.WithLabelValues(exchange, market).Inc()

		w.cfg.Logger.Warn().Msgf("%s: stream idle for %s, resetting connector", market, idle)
		connector.Reset()
	default:
		// Clear the hard reset streak only once the stream is truly open.
		if connector.State() == StateOpen {
			w.hardResets.Store(0)
		}
		if w.unhealthy.CAS(true, false) {
			w.interpreter.BackToHealthy()
			w.cfg.Logger.Info().Msgf("%s: stream recovered", market)
		}
	}
}

// Run starts the connector, the interpreter and the watchdog, then
// blocks until the context is cancelled or the worker is stopped.
func (w *Worker) Run(ctx context.Context) {
	w.runCtx, w.runCancel = context.WithCancel(ctx)
	w.lastUpdate.Store(time.Now().UnixMilli())

	go w.currentConnector().Run(w.runCtx)
	go w.interpreter.Run(w.runCtx)

	err := w.interpreter.WaitReady(w.runCtx)
	if err != nil {
		return
	}

	w.scheduler = gocron.NewScheduler(time.UTC)
	w.scheduler.Every(watchdogInterval).Seconds().Do(w.watchdog)
	w.scheduler.StartAsync()

	<-w.runCtx.Done()
	w.Stop()
}

// Stop terminates the worker. Safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		if w.scheduler != nil {
			w.scheduler.Stop()
		}
		if w.runCancel != nil {
			w.runCancel()
		}
		w.currentConnector().Close()
	})
}
