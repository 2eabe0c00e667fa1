package indicator

import (
	"errors"
	"fmt"

	"candlefeed/shared"
)

const (
	// reseedSteps bounds error drift in the sliding window sum by
	// recomputing the sum from scratch at this cadence.
	reseedSteps = 256
)

// SMA computes a simple moving average series over the provided values,
// returning len(arr)-window+1 entries. An incremental sliding window sum
// is used, re-seeded with a full recomputation every reseedSteps entries
// to bound floating point drift.
func SMA(arr []float64, window int) ([]float64, error) {
	if window <= 0 {
		return nil, errors.New("sma window must be positive")
	}
	if len(arr) < window {
		return nil, fmt.Errorf("%w: sma(%d) requires at least %d values, got %d",
			shared.ErrInsufficientData, window, window, len(arr))
	}

	seed := func(start int) float64 {
		var sum float64
		for idx := start; idx < start+window; idx++ {
			sum += arr[idx]
		}
		return sum
	}

	out := make([]float64, len(arr)-window+1)
	sum := seed(0)
	out[0] = sum / float64(window)

	for idx := window; idx < len(arr); idx++ {
		pos := idx - window + 1
		if pos%reseedSteps == 0 {
			sum = seed(pos)
		} else {
			sum += arr[idx] - arr[idx-window]
		}
		out[pos] = sum / float64(window)
	}

	return out, nil
}

// RegressionSlope computes least squares regression slopes over rolling
// windows of the provided series, returning len(series)-window+1 entries.
func RegressionSlope(series []float64, window int) ([]float64, error) {
	if window <= 1 {
		return nil, errors.New("regression slope window must exceed one")
	}
	if len(series) < window {
		return nil, fmt.Errorf("%w: regression slope(%d) requires at least %d values, got %d",
			shared.ErrInsufficientData, window, window, len(series))
	}

	// The x axis is fixed per window, precompute its mean and spread.
	xMean := float64(window-1) / 2
	var denom float64
	for idx := 0; idx < window; idx++ {
		dx := float64(idx) - xMean
		denom += dx * dx
	}

	slopes := make([]float64, len(series)-window+1)
	for idx := range slopes {
		var yMean float64
		for j := 0; j < window; j++ {
			yMean += series[idx+j]
		}
		yMean /= float64(window)

		var numer float64
		for j := 0; j < window; j++ {
			numer += (float64(j) - xMean) * (series[idx+j] - yMean)
		}

		slopes[idx] = numer / denom
	}

	return slopes, nil
}

// SlopeSegment represents a run of slopes with consistent direction.
type SlopeSegment struct {
	Start int
	End   int
	Mean  float64
}

// SlopeSegments splits the provided slopes at indices where the sign
// flips or the first order change exceeds the tolerance. Each segment
// reports its bounds and mean slope.
func SlopeSegments(slopes []float64, tol float64) []SlopeSegment {
	if len(slopes) == 0 {
		return nil
	}

	mean := func(vals []float64) float64 {
		var sum float64
		for idx := range vals {
			sum += vals[idx]
		}
		return sum / float64(len(vals))
	}

	segments := make([]SlopeSegment, 0, 1)
	start := 0
	current := slopes[0]

	for idx := 1; idx < len(slopes); idx++ {
		signFlip := slopes[idx]*current < 0
		jump := slopes[idx]-current > tol || current-slopes[idx] > tol
		if signFlip || jump {
			segments = append(segments, SlopeSegment{
				Start: start,
				End:   idx - 1,
				Mean:  mean(slopes[start:idx]),
			})
			start = idx
			current = slopes[idx]
		}
	}

	segments = append(segments, SlopeSegment{
		Start: start,
		End:   len(slopes) - 1,
		Mean:  mean(slopes[start:]),
	})

	return segments
}
