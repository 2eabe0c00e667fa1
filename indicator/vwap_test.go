package indicator

import (
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestVWAP(t *testing.T) {
	// Ensure vwap weights typical prices by volume.
	highs := []float64{12, 22}
	lows := []float64{8, 18}
	closes := []float64{10, 20}
	volumes := []float64{1, 3}

	// Typical prices are 10 and 20, weighted 1:3.
	vwap, err := VWAP(highs, lows, closes, volumes)
	assert.NoError(t, err)
	assert.Equal(t, vwap, 17.5)

	// Ensure mismatched columns error.
	_, err = VWAP(highs, lows[:1], closes, volumes)
	assert.Error(t, err)

	// Ensure zero traded volume errors.
	_, err = VWAP(highs, lows, closes, []float64{0, 0})
	assert.Error(t, err)
}
