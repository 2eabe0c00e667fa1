package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"candlefeed/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	// HyperliquidMainnetURL is the hyperliquid mainnet REST base url.
	HyperliquidMainnetURL = "https://api.hyperliquid.xyz"
	// HyperliquidTestnetURL is the hyperliquid testnet REST base url.
	HyperliquidTestnetURL = "https://api.hyperliquid-testnet.xyz"

	// snapshotRequestsPerSecond caps REST snapshot calls per client.
	snapshotRequestsPerSecond = 5
)

// HyperliquidVenueSymbol translates a canonical market to hyperliquid's
// venue symbol.
func HyperliquidVenueSymbol(market shared.Market) (string, error) {
	switch market {
	case shared.BTCUSD:
		return "BTC/USDC", nil
	case shared.BTCUSDPerp:
		return "BTC", nil
	default:
		return "", fmt.Errorf("no hyperliquid symbol for market %s", market.String())
	}
}

// HyperliquidConfig represents the configuration for the hyperliquid
// snapshot client.
type HyperliquidConfig struct {
	// BaseURL is the REST base url.
	BaseURL string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// HyperliquidClient fetches historical candle snapshots from the
// hyperliquid info endpoint.
type HyperliquidClient struct {
	cfg     *HyperliquidConfig
	httpc   http.Client
	limiter *rate.Limiter
}

// Ensure the hyperliquid client implements the SnapshotClient interface.
var _ shared.SnapshotClient = (*HyperliquidClient)(nil)

// NewHyperliquidClient instantiates a new hyperliquid snapshot client.
func NewHyperliquidClient(cfg *HyperliquidConfig) *HyperliquidClient {
	return &HyperliquidClient{
		cfg:     cfg,
		httpc:   http.Client{Timeout: time.Second * 10},
		limiter: rate.NewLimiter(rate.Limit(snapshotRequestsPerSecond), snapshotRequestsPerSecond),
	}
}

// CandleSnapshot fetches candles for the provided market and interval
// with open times in [start, end), oldest first.
func (c *HyperliquidClient) CandleSnapshot(ctx context.Context, market shared.Market, interval shared.Interval, start int64, end int64) ([]shared.Candle, error) {
	err := c.limiter.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("awaiting snapshot rate limiter: %w", err)
	}

	symbol, err := HyperliquidVenueSymbol(market)
	if err != nil {
		return nil, err
	}

	payload := fmt.Sprintf(`{"type":"candleSnapshot","req":{"coin":%q,"interval":%q,"startTime":%d,"endTime":%d}}`,
		symbol, interval.String(), start, end)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/info",
		bytes.NewReader([]byte(payload)))
	if err != nil {
		return nil, fmt.Errorf("creating candle snapshot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching candle snapshot (%s) for %s: %w",
			interval.String(), market.String(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading candle snapshot response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("candle snapshot request failed with status %d: %s",
			resp.StatusCode, string(body))
	}

	return c.ParseCandles(gjson.ParseBytes(body).Array())
}

// ParseCandles parses candles from the provided json snapshot rows.
func (c *HyperliquidClient) ParseCandles(data []gjson.Result) ([]shared.Candle, error) {
	candles := make([]shared.Candle, 0, len(data))
	for idx := range data {
		row := data[idx]
		if !row.Get("t").Exists() {
			return nil, fmt.Errorf("candle snapshot row %d missing open time", idx)
		}

		candles = append(candles, shared.Candle{
			Time:   row.Get("t").Int(),
			Open:   row.Get("o").Float(),
			High:   row.Get("h").Float(),
			Low:    row.Get("l").Float(),
			Close:  row.Get("c").Float(),
			Volume: row.Get("v").Float(),
		})
	}

	return candles, nil
}
