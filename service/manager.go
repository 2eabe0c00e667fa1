package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"candlefeed/candle"
	"candlefeed/engine"
	"candlefeed/exchange"
	"candlefeed/fetch"
	"candlefeed/shared"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

const (
	// DefaultRestartThreshold is the outer watcher cadence and the stale
	// window that triggers a worker restart.
	DefaultRestartThreshold = time.Second * 10

	// NetworkMainnet and NetworkTestnet select the venue endpoints.
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// ManagerConfig represents the configuration for the subscription
// manager.
type ManagerConfig struct {
	// Network selects mainnet or testnet venue endpoints.
	Network string
	// Intervals are the candle intervals maintained per market.
	Intervals []shared.Interval
	// SoftResetThreshold is the stream idle time before a connector reset.
	SoftResetThreshold time.Duration
	// HardResetThreshold is the stream idle time before a connector
	// rebuild.
	HardResetThreshold time.Duration
	// RestartThreshold is the outer watcher cadence.
	RestartThreshold time.Duration
	// RedisAddr enables the redis pub/sub sink when set.
	RedisAddr string
	// SnapshotClient overrides the venue snapshot clients when set.
	SnapshotClient shared.SnapshotClient
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sanely initializes the manager.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if cfg.Network != NetworkMainnet && cfg.Network != NetworkTestnet {
		errs = errors.Join(errs, fmt.Errorf("unknown network provided: %s", cfg.Network))
	}
	if len(cfg.Intervals) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no intervals provided for manager"))
	}
	if cfg.SoftResetThreshold <= 0 || cfg.HardResetThreshold <= cfg.SoftResetThreshold {
		errs = errors.Join(errs, fmt.Errorf("reset thresholds must be positive and ordered"))
	}
	if cfg.RestartThreshold <= 0 {
		errs = errors.Join(errs, fmt.Errorf("restart threshold must be positive"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// workerEntry pairs a running worker with the identity it was built for.
type workerEntry struct {
	worker *exchange.Worker
	venue  shared.Exchange
	market shared.Market
}

// Manager owns the lifecycle of exchange workers and indicator engines.
// It deduplicates subscriptions, restarts failed workers and replays
// retained subscriptions in their original order after a restart.
type Manager struct {
	cfg *ManagerConfig

	mtx           sync.Mutex
	workers       map[string]*workerEntry
	engines       map[string]*engine.Engine
	subscriptions []shared.Subscription
	subKeys       map[string]struct{}
	dead          map[string]struct{}
	lastRestart   map[string]time.Time

	statTable *engine.StatTable
	sinks     []engine.Sink

	scheduler *gocron.Scheduler
	// runCtx parents every worker and engine goroutine the manager
	// starts, including those created by subscribes issued before Run.
	runCtx    context.Context
	runCancel context.CancelFunc
	stopOnce  sync.Once
}

// NewManager initializes a subscription manager from the provided
// config.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	statTable, err := engine.NewStatTable(candle.DefaultRows)
	if err != nil {
		return nil, err
	}

	sinks := []engine.Sink{statTable}
	if cfg.RedisAddr != "" {
		sinks = append(sinks, engine.NewRedisSink(cfg.RedisAddr))
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:         cfg,
		workers:     make(map[string]*workerEntry),
		engines:     make(map[string]*engine.Engine),
		subKeys:     make(map[string]struct{}),
		dead:        make(map[string]struct{}),
		lastRestart: make(map[string]time.Time),
		statTable:   statTable,
		sinks:       sinks,
		runCtx:      runCtx,
		runCancel:   runCancel,
	}, nil
}

// StatTable returns the in-process sample table.
func (m *Manager) StatTable() *engine.StatTable {
	return m.statTable
}

// snapshotClient builds the historical snapshot client for the venue.
func (m *Manager) snapshotClient(venue shared.Exchange) (shared.SnapshotClient, error) {
	if m.cfg.SnapshotClient != nil {
		return m.cfg.SnapshotClient, nil
	}

	testnet := m.cfg.Network == NetworkTestnet

	switch venue {
	case shared.Hyperliquid:
		base := fetch.HyperliquidMainnetURL
		if testnet {
			base = fetch.HyperliquidTestnetURL
		}
		return fetch.NewHyperliquidClient(&fetch.HyperliquidConfig{
			BaseURL: base,
			Logger:  m.cfg.Logger,
		}), nil
	case shared.Binance:
		return fetch.NewBinanceClient(&fetch.BinanceConfig{
			UseTestnet: testnet,
			Logger:     m.cfg.Logger,
		}), nil
	default:
		return nil, shared.ErrUnsupportedExchange
	}
}

// newConnectorFactory builds the connector factory for the venue. The
// factory is invoked by the worker at startup and on hard resets.
func (m *Manager) newConnectorFactory(venue shared.Exchange, market shared.Market) func(*exchange.TradeQueue) (exchange.Connector, error) {
	testnet := m.cfg.Network == NetworkTestnet

	return func(queue *exchange.TradeQueue) (exchange.Connector, error) {
		switch venue {
		case shared.Hyperliquid:
			url := exchange.HyperliquidMainnetWSURL
			if testnet {
				url = exchange.HyperliquidTestnetWSURL
			}
			return exchange.NewHyperliquidConnector(&exchange.HyperliquidConfig{
				Market: market,
				URL:    url,
				Queue:  queue,
				Logger: m.cfg.Logger,
			}), nil
		case shared.Binance:
			return exchange.NewBinanceConnector(&exchange.BinanceConfig{
				Market:  market,
				Testnet: testnet,
				Queue:   queue,
				Logger:  m.cfg.Logger,
			}), nil
		default:
			return nil, shared.ErrUnsupportedExchange
		}
	}
}

// createWorker builds a started worker for the (venue, market) pair.
func (m *Manager) createWorker(venue shared.Exchange, market shared.Market) (*workerEntry, error) {
	snapshots, err := m.snapshotClient(venue)
	if err != nil {
		return nil, err
	}

	worker, err := exchange.NewWorker(&exchange.WorkerConfig{
		Exchange:           venue,
		Market:             market,
		Intervals:          m.cfg.Intervals,
		NewConnector:       m.newConnectorFactory(venue, market),
		SnapshotClient:     snapshots,
		SoftResetThreshold: m.cfg.SoftResetThreshold,
		HardResetThreshold: m.cfg.HardResetThreshold,
		Logger:             m.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	entry := &workerEntry{worker: worker, venue: venue, market: market}
	go worker.Run(m.runCtx)

	return entry, nil
}

// ensureWorkerLocked returns the worker for the pair, creating and
// starting one if needed. Callers must hold the manager mutex.
func (m *Manager) ensureWorkerLocked(venue shared.Exchange, market shared.Market) (*workerEntry, error) {
	key := shared.MarketChannel(venue, market)
	if _, dead := m.dead[key]; dead {
		return nil, shared.ErrMarketDead
	}

	entry, ok := m.workers[key]
	if ok {
		return entry, nil
	}

	entry, err := m.createWorker(venue, market)
	if err != nil {
		return nil, err
	}

	m.workers[key] = entry
	m.cfg.Logger.Info().Msgf("started %s worker for %s", venue.String(), market.String())

	return entry, nil
}

// workerStore resolves the candle store for the pair and interval
// through the current worker, staying valid across worker restarts.
func (m *Manager) workerStore(venue shared.Exchange, market shared.Market, interval shared.Interval) (*candle.Store, error) {
	m.mtx.Lock()
	entry, ok := m.workers[shared.MarketChannel(venue, market)]
	m.mtx.Unlock()
	if !ok {
		return nil, fmt.Errorf("no worker for %s on %s", market.String(), venue.String())
	}

	return entry.worker.Store(interval)
}

// ensureEngineLocked returns the indicator engine for the family,
// creating and starting one if needed. Callers must hold the manager
// mutex.
func (m *Manager) ensureEngineLocked(venue shared.Exchange, market shared.Market, family shared.DataType) (*engine.Engine, error) {
	key := fmt.Sprintf("%s_%s_%s", venue.String(), market.String(), family.String())
	eng, ok := m.engines[key]
	if ok {
		return eng, nil
	}

	if !family.Indicator() {
		return nil, shared.ErrUnsupportedIndicator
	}

	snapshots, err := m.snapshotClient(venue)
	if err != nil {
		return nil, err
	}

	eng, err = engine.NewEngine(&engine.EngineConfig{
		Exchange: venue,
		Market:   market,
		Family:   family,
		Store: func(interval shared.Interval) (*candle.Store, error) {
			return m.workerStore(venue, market, interval)
		},
		SnapshotClient: snapshots,
		Sinks:          m.sinks,
		Logger:         m.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	m.engines[key] = eng
	go eng.Run(m.runCtx)
	m.cfg.Logger.Info().Msgf("started %s engine for %s", family.String(), market.String())

	return eng, nil
}

// Subscribe registers the provided subscription and returns its channel
// key. Identical tuples are idempotent and return the same channel
// without side effects.
func (m *Manager) Subscribe(sub shared.Subscription) (string, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if _, ok := m.subKeys[sub.Key()]; ok {
		return sub.Channel(), nil
	}

	_, err := m.ensureWorkerLocked(sub.Exchange, sub.Market)
	if err != nil {
		return "", err
	}

	if sub.DataType.Indicator() {
		eng, err := m.ensureEngineLocked(sub.Exchange, sub.Market, sub.DataType)
		if err != nil {
			return "", err
		}

		eng.Subscribe(sub.Period, sub.Timeframe)
	}

	m.subscriptions = append(m.subscriptions, sub)
	m.subKeys[sub.Key()] = struct{}{}

	return sub.Channel(), nil
}

// CandleData returns the current candle series for the pair and
// interval, oldest first. Rows not yet populated are omitted.
func (m *Manager) CandleData(venue shared.Exchange, market shared.Market, interval shared.Interval) ([]shared.Candle, error) {
	store, err := m.workerStore(venue, market, interval)
	if err != nil {
		return nil, err
	}

	times := store.Times()
	opens := store.Opens()
	highs := store.Highs()
	lows := store.Lows()
	closes := store.Closes()
	volumes := store.Volumes()

	candles := make([]shared.Candle, 0, len(times))
	for idx := range times {
		if times[idx] == 0 {
			continue
		}

		candles = append(candles, shared.Candle{
			Time:   times[idx],
			Open:   opens[idx],
			High:   highs[idx],
			Low:    lows[idx],
			Close:  closes[idx],
			Volume: volumes[idx],
		})
	}

	return candles, nil
}

// replayLocked re-issues the retained subscriptions for the pair in
// their original order. Callers must hold the manager mutex.
func (m *Manager) replayLocked(venue shared.Exchange, market shared.Market) error {
	key := shared.MarketChannel(venue, market)
	for idx := range m.subscriptions {
		sub := m.subscriptions[idx]
		if shared.MarketChannel(sub.Exchange, sub.Market) != key {
			continue
		}

		if sub.DataType.Indicator() {
			eng, err := m.ensureEngineLocked(sub.Exchange, sub.Market, sub.DataType)
			if err != nil {
				return err
			}

			eng.Subscribe(sub.Period, sub.Timeframe)
		}
	}

	return nil
}

// watchWorkers restarts workers whose inner watchdogs gave up. A second
// failure in quick succession declares the market dead.
func (m *Manager) watchWorkers() {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	for key, entry := range m.workers {
		if !entry.worker.Failed() {
			continue
		}

		entry.worker.Stop()

		if last, ok := m.lastRestart[key]; ok && time.Since(last) < 2*m.cfg.RestartThreshold {
			m.cfg.Logger.Error().Msgf("%s: worker failed twice in quick succession, declaring market dead", key)
			m.dead[key] = struct{}{}
			delete(m.workers, key)
			continue
		}

		m.cfg.Logger.Warn().Msgf("%s: restarting failed worker", key)
		m.lastRestart[key] = time.Now()

		replacement, err := m.createWorker(entry.venue, entry.market)
		if err != nil {
			m.cfg.Logger.Error().Msgf("%s: recreating worker: %v", key, err)
			m.dead[key] = struct{}{}
			delete(m.workers, key)
			continue
		}

		m.workers[key] = replacement

		err = m.replayLocked(entry.venue, entry.market)
		if err != nil {
			m.cfg.Logger.Error().Msgf("%s: replaying subscriptions: %v", key, err)
		}
	}
}

// Run starts the outer watcher and blocks until the context is
// cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.mtx.Lock()
	m.scheduler = gocron.NewScheduler(time.UTC)
	m.scheduler.Every(int(m.cfg.RestartThreshold.Seconds())).Seconds().Do(m.watchWorkers)
	m.scheduler.StartAsync()
	m.mtx.Unlock()

	<-ctx.Done()
	m.Stop()
}

// Stop cancels the run context so engines drain first, then stops every
// worker and finally the watcher. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mtx.Lock()
		defer m.mtx.Unlock()

		m.runCancel()
		for _, entry := range m.workers {
			entry.worker.Stop()
		}
		if m.scheduler != nil {
			m.scheduler.Stop()
		}
	})
}
