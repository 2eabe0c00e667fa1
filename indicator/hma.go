package indicator

import (
	"errors"
	"fmt"
	"math"

	"candlefeed/shared"
)

// WMA computes a linearly weighted moving average over the provided
// values with weights 1..n. Kahan compensated summation preserves
// precision for large windows.
func WMA(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: wma requires at least one value", shared.ErrInsufficientData)
	}

	n := float64(len(values))
	weightSum := n * (n + 1) / 2

	var sum, comp float64
	for idx := range values {
		y := values[idx]*float64(idx+1) - comp
		t := sum + y
		comp = (t - sum) - y
		sum = t
	}

	return sum / weightSum, nil
}

// HMA computes the hull moving average at the last index of the provided
// prices. Rolling half and full period WMA series are combined as
// diff = 2*wmaHalf - wmaFull, then the result is the WMA of the last
// sqrt(period) diff values. The half window starts at
// max(0, end-period/2), the variant without the extra leading element.
func HMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("hma period must be positive")
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("%w: hma requires at least one price", shared.ErrInsufficientData)
	}

	diff := make([]float64, len(prices))
	for idx := range prices {
		end := idx + 1
		startHalf := max(0, end-period/2)
		startFull := max(0, end-period)

		wmaHalf, err := WMA(prices[startHalf:end])
		if err != nil {
			return 0, err
		}
		wmaFull, err := WMA(prices[startFull:end])
		if err != nil {
			return 0, err
		}

		diff[idx] = 2*wmaHalf - wmaFull
	}

	hmaPeriod := int(math.Sqrt(float64(period)))
	if hmaPeriod < 1 {
		hmaPeriod = 1
	}
	if hmaPeriod > len(diff) {
		hmaPeriod = len(diff)
	}

	return WMA(diff[len(diff)-hmaPeriod:])
}
