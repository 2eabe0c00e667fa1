package fetch

import (
	"context"
	"fmt"
	"strconv"

	"candlefeed/shared"
	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// BinanceVenueSymbol translates a canonical market to binance's venue
// symbol.
func BinanceVenueSymbol(market shared.Market) (string, error) {
	switch market {
	case shared.BTCUSD, shared.BTCUSDPerp:
		return "BTCUSDT", nil
	default:
		return "", fmt.Errorf("no binance symbol for market %s", market.String())
	}
}

// BinanceConfig represents the configuration for the binance snapshot
// client.
type BinanceConfig struct {
	// UseTestnet routes requests at the binance testnet.
	UseTestnet bool
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// BinanceClient fetches historical kline snapshots from binance.
type BinanceClient struct {
	cfg     *BinanceConfig
	client  *binance.Client
	limiter *rate.Limiter
}

// Ensure the binance client implements the SnapshotClient interface.
var _ shared.SnapshotClient = (*BinanceClient)(nil)

// NewBinanceClient instantiates a new binance snapshot client. Snapshot
// access is public market data, no credentials are required.
func NewBinanceClient(cfg *BinanceConfig) *BinanceClient {
	binance.UseTestnet = cfg.UseTestnet

	return &BinanceClient{
		cfg:     cfg,
		client:  binance.NewClient("", ""),
		limiter: rate.NewLimiter(rate.Limit(snapshotRequestsPerSecond), snapshotRequestsPerSecond),
	}
}

// CandleSnapshot fetches klines for the provided market and interval with
// open times in [start, end), oldest first.
func (c *BinanceClient) CandleSnapshot(ctx context.Context, market shared.Market, interval shared.Interval, start int64, end int64) ([]shared.Candle, error) {
	err := c.limiter.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("awaiting snapshot rate limiter: %w", err)
	}

	symbol, err := BinanceVenueSymbol(market)
	if err != nil {
		return nil, err
	}

	klines, err := c.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval.String()).
		StartTime(start).
		EndTime(end).
		Limit(1000).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching klines (%s) for %s: %w",
			interval.String(), market.String(), err)
	}

	candles := make([]shared.Candle, 0, len(klines))
	for idx := range klines {
		candle, err := parseKline(klines[idx])
		if err != nil {
			return nil, fmt.Errorf("parsing kline %d: %w", idx, err)
		}

		candles = append(candles, candle)
	}

	return candles, nil
}

// parseKline converts a binance kline to a candle.
func parseKline(kline *binance.Kline) (shared.Candle, error) {
	open, err := strconv.ParseFloat(kline.Open, 64)
	if err != nil {
		return shared.Candle{}, fmt.Errorf("parsing open: %w", err)
	}
	high, err := strconv.ParseFloat(kline.High, 64)
	if err != nil {
		return shared.Candle{}, fmt.Errorf("parsing high: %w", err)
	}
	low, err := strconv.ParseFloat(kline.Low, 64)
	if err != nil {
		return shared.Candle{}, fmt.Errorf("parsing low: %w", err)
	}
	closePrice, err := strconv.ParseFloat(kline.Close, 64)
	if err != nil {
		return shared.Candle{}, fmt.Errorf("parsing close: %w", err)
	}
	volume, err := strconv.ParseFloat(kline.Volume, 64)
	if err != nil {
		return shared.Candle{}, fmt.Errorf("parsing volume: %w", err)
	}

	return shared.Candle{
		Time:   kline.OpenTime,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
	}, nil
}
