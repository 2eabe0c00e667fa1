package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"candlefeed/shared"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

// CandleFeedConfig represents the configuration struct for the candle
// feed service.
type CandleFeedConfig struct {
	// Network selects mainnet or testnet venue endpoints.
	Network string
	// Markets are the markets subscribed to at startup.
	Markets []shared.Market
	// Exchange is the venue streamed from at startup.
	Exchange shared.Exchange
	// Intervals are the candle intervals maintained per market.
	Intervals []shared.Interval
	// IndicatorPeriods are the periods subscribed for the relative
	// strength family at startup.
	IndicatorPeriods []int
	// SoftResetThreshold is the stream idle time before a connector reset.
	SoftResetThreshold time.Duration
	// HardResetThreshold is the stream idle time before a connector
	// rebuild.
	HardResetThreshold time.Duration
	// RestartThreshold is the outer watcher cadence.
	RestartThreshold time.Duration
	// RedisAddr enables the redis pub/sub sink when set.
	RedisAddr string
	// ListenAddr is the http surface bind address.
	ListenAddr string
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config sane inputs.
func (cfg *CandleFeedConfig) Validate() error {
	var errs error

	if len(cfg.Markets) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no markets provided for candle feed service"))
	}
	if len(cfg.Intervals) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no intervals provided for candle feed service"))
	}
	if cfg.ListenAddr == "" {
		errs = errors.Join(errs, fmt.Errorf("listen address cannot be an empty string"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}

	return errs
}

// CandleFeed represents a market data distribution service.
type CandleFeed struct {
	cfg     *CandleFeedConfig
	manager *Manager
	api     *API
	logger  *zerolog.Logger
	wg      sync.WaitGroup
}

// NewCandleFeed initializes a new candle feed service.
func NewCandleFeed(cfg *CandleFeedConfig) (*CandleFeed, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := log.With().Str("service", "candlefeed").Logger()

	managerLogger := logger.With().Str("component", "manager").Logger()
	manager, err := NewManager(&ManagerConfig{
		Network:            cfg.Network,
		Intervals:          cfg.Intervals,
		SoftResetThreshold: cfg.SoftResetThreshold,
		HardResetThreshold: cfg.HardResetThreshold,
		RestartThreshold:   cfg.RestartThreshold,
		RedisAddr:          cfg.RedisAddr,
		Logger:             &managerLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating manager: %v", err)
	}

	apiLogger := logger.With().Str("component", "api").Logger()
	api, err := NewAPI(&APIConfig{
		ListenAddr: cfg.ListenAddr,
		Subscribe:  manager.Subscribe,
		CandleData: manager.CandleData,
		Logger:     &apiLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating api: %v", err)
	}

	service := &CandleFeed{
		cfg:     cfg,
		manager: manager,
		api:     api,
		logger:  &logger,
	}

	return service, nil
}

// subscribeStartupMarkets issues the configured startup subscriptions.
func (c *CandleFeed) subscribeStartupMarkets() {
	for _, market := range c.cfg.Markets {
		_, err := c.manager.Subscribe(shared.NewSubscription(c.cfg.Exchange, market, shared.Trades, 0, 0))
		if err != nil {
			c.logger.Error().Msgf("subscribing %s trades: %v", market.String(), err)
			continue
		}

		for _, interval := range c.cfg.Intervals {
			for _, period := range c.cfg.IndicatorPeriods {
				_, err := c.manager.Subscribe(shared.NewSubscription(c.cfg.Exchange, market, shared.RSI, period, interval))
				if err != nil {
					c.logger.Error().Msgf("subscribing %s rsi %s/%d: %v",
						market.String(), interval.String(), period, err)
				}
			}
		}
	}
}

// Run handles the lifecycle processes of the candle feed service.
func (c *CandleFeed) Run(ctx context.Context) {
	c.wg.Add(2)

	go func() {
		c.manager.Run(ctx)
		c.wg.Done()
	}()

	go func() {
		c.api.Run(ctx)
		c.wg.Done()
	}()

	c.subscribeStartupMarkets()

	c.wg.Wait()
}
