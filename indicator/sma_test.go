package indicator

import (
	"errors"
	"math"
	"testing"

	"candlefeed/shared"
	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
)

func TestSMA(t *testing.T) {
	// Ensure sma rejects a non-positive window.
	_, err := SMA([]float64{1, 2}, 0)
	assert.Error(t, err)

	// Ensure sma requires at least window values.
	_, err = SMA([]float64{1, 2}, 3)
	assert.True(t, errors.Is(err, shared.ErrInsufficientData))

	// Ensure known values for a small window.
	out, err := SMA([]float64{100, 102, 104, 103, 105}, 3)
	assert.NoError(t, err)
	want := []float64{102, 103, 104}
	if !cmp.Equal(out, want) {
		t.Errorf("mismatching sma series: %v", cmp.Diff(out, want))
	}

	// Ensure a long constant series does not drift across the reseed
	// boundary of the sliding sum.
	long := make([]float64, 1024)
	for idx := range long {
		long[idx] = 0.1
	}
	out, err = SMA(long, 5)
	assert.NoError(t, err)
	for idx := range out {
		assert.True(t, math.Abs(out[idx]-0.1) < 1e-12)
	}
}

func TestRegressionSlope(t *testing.T) {
	// Ensure the window must exceed one.
	_, err := RegressionSlope([]float64{1, 2, 3}, 1)
	assert.Error(t, err)

	// Ensure the series must cover the window.
	_, err = RegressionSlope([]float64{1, 2}, 3)
	assert.True(t, errors.Is(err, shared.ErrInsufficientData))

	// Ensure a linear series reports its exact slope in every window.
	linear := []float64{1, 3, 5, 7, 9, 11}
	slopes, err := RegressionSlope(linear, 3)
	assert.NoError(t, err)
	assert.Equal(t, len(slopes), 4)
	for idx := range slopes {
		assert.True(t, math.Abs(slopes[idx]-2) < 1e-12)
	}

	// Ensure a flat series reports zero slopes.
	flat := []float64{4, 4, 4, 4}
	slopes, err = RegressionSlope(flat, 2)
	assert.NoError(t, err)
	for idx := range slopes {
		assert.Equal(t, slopes[idx], 0.0)
	}
}

func TestSlopeSegments(t *testing.T) {
	// Ensure an empty input yields no segments.
	assert.Nil(t, SlopeSegments(nil, 1e-6))

	// Ensure a uniform run stays a single segment.
	segments := SlopeSegments([]float64{1, 1, 1}, 1e-6)
	assert.Equal(t, len(segments), 1)
	assert.Equal(t, segments[0].Start, 0)
	assert.Equal(t, segments[0].End, 2)
	assert.Equal(t, segments[0].Mean, 1.0)

	// Ensure a sign flip splits the run.
	segments = SlopeSegments([]float64{1, 1, -1, -1}, 10)
	assert.Equal(t, len(segments), 2)
	assert.Equal(t, segments[0].End, 1)
	assert.Equal(t, segments[1].Start, 2)
	assert.Equal(t, segments[1].Mean, -1.0)

	// Ensure a first order change beyond the tolerance splits the run
	// even without a sign flip.
	segments = SlopeSegments([]float64{1, 1.05, 3, 3.05}, 0.5)
	assert.Equal(t, len(segments), 2)
	assert.Equal(t, segments[0].Start, 0)
	assert.Equal(t, segments[0].End, 1)
	assert.Equal(t, segments[1].Start, 2)
	assert.Equal(t, segments[1].End, 3)
}
