package engine

import (
	"context"
	"fmt"
)

// Stat tags published by indicator engines.
const (
	StatRSI        = "rsi"
	StatATR        = "atr"
	StatHMA        = "hma"
	StatMACD       = "macd"
	StatMACDSignal = "macd_signal"
	StatMACDHist   = "macd_hist"
	StatSMA        = "sma"
	StatSMASlope   = "sma_slope"
	StatVWAP       = "vwap"
)

// Sample is one published indicator value.
type Sample struct {
	Exchange   string  `json:"exchange"`
	Market     string  `json:"market"`
	Stat       string  `json:"stat"`
	Timeframe  string  `json:"timeframe"`
	Period     int     `json:"period"`
	Value      float64 `json:"value"`
	ComputedAt int64   `json:"computedAt"`
}

// Key returns the deterministic channel key for the sample. The primary
// stat of each indicator family uses the bare channel form, auxiliary
// stats carry their tag.
func (s *Sample) Key() string {
	switch s.Stat {
	case StatRSI, StatMACD, StatSMA:
		return fmt.Sprintf("%s_%s_%s_%d", s.Exchange, s.Market, s.Timeframe, s.Period)
	default:
		return fmt.Sprintf("%s_%s_%s_%s_%d", s.Exchange, s.Market, s.Stat, s.Timeframe, s.Period)
	}
}

// Sink receives published indicator samples. Publishing the same key
// again updates the previous value in place.
type Sink interface {
	Publish(ctx context.Context, sample Sample) error
}
