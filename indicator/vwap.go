package indicator

import (
	"errors"
	"fmt"

	"candlefeed/shared"
)

// VWAP computes the volume weighted average price over the provided
// candle columns, weighting each row's typical price by its volume.
func VWAP(highs []float64, lows []float64, closes []float64, volumes []float64) (float64, error) {
	if len(highs) != len(lows) || len(highs) != len(closes) || len(highs) != len(volumes) {
		return 0, errors.New("vwap input columns must have equal lengths")
	}
	if len(highs) == 0 {
		return 0, fmt.Errorf("%w: vwap requires at least one candle", shared.ErrInsufficientData)
	}

	var typicalPriceVolume, volume float64
	for idx := range closes {
		typicalPrice := (highs[idx] + lows[idx] + closes[idx]) / 3
		typicalPriceVolume += typicalPrice * volumes[idx]
		volume += volumes[idx]
	}

	if volume == 0 {
		return 0, fmt.Errorf("%w: vwap requires traded volume", shared.ErrInsufficientData)
	}

	return typicalPriceVolume / volume, nil
}
