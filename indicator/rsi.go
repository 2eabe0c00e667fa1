package indicator

import (
	"errors"
	"fmt"

	"candlefeed/shared"
)

// RSI computes Wilder's relative strength index over the provided prices.
// Gain and loss averages are seeded with simple means over the first
// period deltas, then smoothed with new = (prev*(period-1) + x) / period.
// The result is bounded to [0, 100]; an input with no losses returns 100.
func RSI(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("rsi period must be positive")
	}
	if len(prices) <= period {
		return 0, fmt.Errorf("%w: rsi(%d) requires more than %d prices, got %d",
			shared.ErrInsufficientData, period, period, len(prices))
	}

	var avgGain, avgLoss float64
	for idx := 0; idx < period; idx++ {
		delta := prices[idx+1] - prices[idx]
		switch {
		case delta > 0:
			avgGain += delta
		case delta < 0:
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for idx := period; idx < len(prices)-1; idx++ {
		delta := prices[idx+1] - prices[idx]
		var gain, loss float64
		switch {
		case delta > 0:
			gain = delta
		case delta < 0:
			loss = -delta
		}

		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0, nil
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), nil
}
