package indicator

import (
	"errors"
	"fmt"

	"candlefeed/shared"
)

const (
	// DefaultMACDFast is the default fast EMA period.
	DefaultMACDFast = 12
	// DefaultMACDSlow is the default slow EMA period.
	DefaultMACDSlow = 26
	// DefaultMACDSignal is the default signal EMA period.
	DefaultMACDSignal = 9
)

// EMA computes an exponential moving average series over the provided
// values with alpha = 2/(period+1), seeded with the first value.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, errors.New("ema period must be positive")
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: ema requires at least one value", shared.ErrInsufficientData)
	}

	alpha := 2 / float64(period+1)
	ema := make([]float64, len(values))
	ema[0] = values[0]
	for idx := 1; idx < len(values); idx++ {
		ema[idx] = alpha*values[idx] + (1-alpha)*ema[idx-1]
	}

	return ema, nil
}

// MACD computes the moving average convergence divergence at the last
// index of the provided prices, returning the macd line, signal line and
// histogram values.
func MACD(prices []float64, fast int, slow int, signal int) (float64, float64, float64, error) {
	emaFast, err := EMA(prices, fast)
	if err != nil {
		return 0, 0, 0, err
	}
	emaSlow, err := EMA(prices, slow)
	if err != nil {
		return 0, 0, 0, err
	}

	macdLine := make([]float64, len(prices))
	for idx := range macdLine {
		macdLine[idx] = emaFast[idx] - emaSlow[idx]
	}

	signalLine, err := EMA(macdLine, signal)
	if err != nil {
		return 0, 0, 0, err
	}

	last := len(prices) - 1
	return macdLine[last], signalLine[last], macdLine[last] - signalLine[last], nil
}
