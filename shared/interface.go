package shared

import "context"

// SnapshotClient fetches recent closed candles for a (market, interval)
// pair from a venue's historical REST surface.
type SnapshotClient interface {
	// CandleSnapshot returns candles with open times in [start, end),
	// aligned to the interval span, oldest first.
	CandleSnapshot(ctx context.Context, market Market, interval Interval, start int64, end int64) ([]Candle, error)
}
