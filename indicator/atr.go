package indicator

import (
	"errors"
	"fmt"
	"math"

	"candlefeed/shared"
)

// ATR computes Wilder's average true range over the provided candle
// columns. True range is max(h-l, |h-prevClose|, |l-prevClose|), seeded
// with a simple mean over the first period ranges then Wilder smoothed.
func ATR(highs []float64, lows []float64, closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("atr period must be positive")
	}
	if len(highs) != len(lows) || len(highs) != len(closes) {
		return 0, errors.New("atr requires columns of equal length")
	}
	if len(highs) <= period {
		return 0, fmt.Errorf("%w: atr(%d) requires more than %d candles, got %d",
			shared.ErrInsufficientData, period, period, len(highs))
	}

	trueRange := func(idx int) float64 {
		hl := highs[idx] - lows[idx]
		hc := math.Abs(highs[idx] - closes[idx-1])
		lc := math.Abs(lows[idx] - closes[idx-1])
		return math.Max(hl, math.Max(hc, lc))
	}

	var atr float64
	for idx := 1; idx <= period; idx++ {
		atr += trueRange(idx)
	}
	atr /= float64(period)

	for idx := period + 1; idx < len(highs); idx++ {
		atr = (atr*float64(period-1) + trueRange(idx)) / float64(period)
	}

	return atr, nil
}
