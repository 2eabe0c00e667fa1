package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"candlefeed/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

func TestHyperliquidVenueSymbol(t *testing.T) {
	// Ensure canonical markets translate to hyperliquid venue symbols.
	symbol, err := HyperliquidVenueSymbol(shared.BTCUSDPerp)
	assert.NoError(t, err)
	assert.Equal(t, symbol, "BTC")

	symbol, err = HyperliquidVenueSymbol(shared.BTCUSD)
	assert.NoError(t, err)
	assert.Equal(t, symbol, "BTC/USDC")
}

func TestParseCandles(t *testing.T) {
	logger := zerolog.Nop()
	client := NewHyperliquidClient(&HyperliquidConfig{BaseURL: HyperliquidMainnetURL, Logger: &logger})

	// Ensure snapshot rows parse into candles, including string encoded
	// prices.
	payload := `[{"t":60000,"o":"100.5","h":"101","l":"99.5","c":"100.75","v":"12.5"},
		{"t":120000,"o":"100.75","h":"102","l":"100.5","c":"101.5","v":"8"}]`
	candles, err := client.ParseCandles(gjson.Parse(payload).Array())
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 2)
	assert.Equal(t, candles[0].Time, int64(60000))
	assert.Equal(t, candles[0].Open, 100.5)
	assert.Equal(t, candles[0].Volume, 12.5)
	assert.Equal(t, candles[1].Close, 101.5)

	// Ensure rows missing the open time error.
	_, err = client.ParseCandles(gjson.Parse(`[{"o":"1"}]`).Array())
	assert.Error(t, err)
}

func TestCandleSnapshot(t *testing.T) {
	interval := shared.OneMinute
	ms := interval.Milliseconds()

	// Serve a two candle snapshot and capture the request payload.
	var gotPayload string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotPayload = string(buf)
		fmt.Fprintf(w, `[{"t":%d,"o":"1","h":"2","l":"0.5","c":"1.5","v":"3"},{"t":%d,"o":"1.5","h":"2.5","l":"1","c":"2","v":"4"}]`,
			ms, 2*ms)
	}))
	defer server.Close()

	logger := zerolog.Nop()
	client := NewHyperliquidClient(&HyperliquidConfig{BaseURL: server.URL, Logger: &logger})

	candles, err := client.CandleSnapshot(context.Background(), shared.BTCUSDPerp, interval, ms, 3*ms)
	assert.NoError(t, err)
	assert.Equal(t, len(candles), 2)
	assert.Equal(t, candles[0].Time, ms)
	assert.Equal(t, candles[1].Close, 2.0)

	// Ensure the request targets the candle snapshot info endpoint with
	// the venue symbol and interval.
	assert.Equal(t, gjson.Get(gotPayload, "type").String(), "candleSnapshot")
	assert.Equal(t, gjson.Get(gotPayload, "req.coin").String(), "BTC")
	assert.Equal(t, gjson.Get(gotPayload, "req.interval").String(), "1m")
	assert.Equal(t, gjson.Get(gotPayload, "req.startTime").Int(), ms)
	assert.Equal(t, gjson.Get(gotPayload, "req.endTime").Int(), 3*ms)
}
