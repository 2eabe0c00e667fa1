package candle

import (
	"errors"

	"candlefeed/shared"
	"go.uber.org/atomic"
)

const (
	// DefaultRows is the default candle series capacity.
	DefaultRows = 200
)

// Store is a fixed capacity ring of OHLCV rows for a (market, interval)
// pair. The trade interpreter is the sole writer; indicator engines and
// monitoring readers read concurrently. Cells are individually atomic,
// readers tolerate torn multi-cell snapshots and re-read on demand.
type Store struct {
	market   shared.Market
	interval shared.Interval
	rows     int

	times         []atomic.Int64
	opens         []atomic.Float64
	highs         []atomic.Float64
	lows          []atomic.Float64
	closes        []atomic.Float64
	volumes       []atomic.Float64
	buyerVolumes  []atomic.Float64
	sellerVolumes []atomic.Float64
	uniqueTraders []atomic.Int64

	lastTrade atomic.Float64
	head      atomic.Int32
	updated   atomic.Bool
}

// NewStore initializes a candle store with the provided capacity.
func NewStore(market shared.Market, interval shared.Interval, rows int) (*Store, error) {
	if rows <= 0 {
		return nil, errors.New("candle store capacity must be positive")
	}

	return &Store{
		market:        market,
		interval:      interval,
		rows:          rows,
		times:         make([]atomic.Int64, rows),
		opens:         make([]atomic.Float64, rows),
		highs:         make([]atomic.Float64, rows),
		lows:          make([]atomic.Float64, rows),
		closes:        make([]atomic.Float64, rows),
		volumes:       make([]atomic.Float64, rows),
		buyerVolumes:  make([]atomic.Float64, rows),
		sellerVolumes: make([]atomic.Float64, rows),
		uniqueTraders: make([]atomic.Int64, rows),
	}, nil
}

// Market returns the market the store tracks.
func (s *Store) Market() shared.Market {
	return s.market
}

// Interval returns the interval the store tracks.
func (s *Store) Interval() shared.Interval {
	return s.interval
}

// Rows returns the fixed capacity of the store.
func (s *Store) Rows() int {
	return s.rows
}

// physical translates a logical index counted from the oldest row to the
// backing slot. Logical index rows-1 is the in-progress candle.
func (s *Store) physical(logical int) int {
	head := int(s.head.Load())
	return (head + 1 + logical) % s.rows
}

// CreateCandle advances the ring one slot, discarding the oldest row and
// zero initialising the new in-progress slot.
func (s *Store) CreateCandle() {
	next := (int(s.head.Load()) + 1) % s.rows
	s.times[next].Store(0)
	s.opens[next].Store(0)
	s.highs[next].Store(0)
	s.lows[next].Store(0)
	s.closes[next].Store(0)
	s.volumes[next].Store(0)
	s.buyerVolumes[next].Store(0)
	s.sellerVolumes[next].Store(0)
	s.uniqueTraders[next].Store(0)
	s.head.Store(int32(next))
}

// Time returns the open time of the in-progress candle.
func (s *Store) Time() int64 {
	return s.times[s.head.Load()].Load()
}

// SetTime sets the open time of the in-progress candle.
func (s *Store) SetTime(openTime int64) {
	s.times[s.head.Load()].Store(openTime)
}

// SetOpen sets the open price of the in-progress candle.
func (s *Store) SetOpen(price float64) {
	s.opens[s.head.Load()].Store(price)
}

// SetHigh sets the high price of the in-progress candle.
func (s *Store) SetHigh(price float64) {
	s.highs[s.head.Load()].Store(price)
}

// SetLow sets the low price of the in-progress candle.
func (s *Store) SetLow(price float64) {
	s.lows[s.head.Load()].Store(price)
}

// SetClose sets the close price of the in-progress candle.
func (s *Store) SetClose(price float64) {
	s.closes[s.head.Load()].Store(price)
}

// SetVolume sets the volume of the in-progress candle.
func (s *Store) SetVolume(volume float64) {
	s.volumes[s.head.Load()].Store(volume)
}

// AddVolume accumulates volume on the in-progress candle.
func (s *Store) AddVolume(size float64) {
	s.volumes[s.head.Load()].Add(size)
}

// AddBuyerVolume accumulates buyer volume on the in-progress candle.
func (s *Store) AddBuyerVolume(size float64) {
	s.buyerVolumes[s.head.Load()].Add(size)
}

// AddSellerVolume accumulates seller volume on the in-progress candle.
func (s *Store) AddSellerVolume(size float64) {
	s.sellerVolumes[s.head.Load()].Add(size)
}

// AddUniqueTraders increments the unique trader count of the in-progress
// candle.
func (s *Store) AddUniqueTraders(n int64) {
	s.uniqueTraders[s.head.Load()].Add(n)
}

// Open returns the open price of the in-progress candle.
func (s *Store) Open() float64 {
	return s.opens[s.head.Load()].Load()
}

// High returns the high price of the in-progress candle.
func (s *Store) High() float64 {
	return s.highs[s.head.Load()].Load()
}

// Low returns the low price of the in-progress candle.
func (s *Store) Low() float64 {
	return s.lows[s.head.Load()].Load()
}

// SetLastTrade records the most recent trade price for the market.
func (s *Store) SetLastTrade(price float64) {
	s.lastTrade.Store(price)
}

// LastTrade returns the most recent trade price for the market.
func (s *Store) LastTrade() float64 {
	return s.lastTrade.Load()
}

// MarkUpdated flags the series healthy.
func (s *Store) MarkUpdated() {
	s.updated.Store(true)
}

// ClearUpdated flags the series unhealthy.
func (s *Store) ClearUpdated() {
	s.updated.Store(false)
}

// Updated reports whether the series is healthy.
func (s *Store) Updated() bool {
	return s.updated.Load()
}

// snapshotFloats copies a column oldest first.
func (s *Store) snapshotFloats(col []atomic.Float64) []float64 {
	out := make([]float64, s.rows)
	for idx := range out {
		out[idx] = col[s.physical(idx)].Load()
	}

	return out
}

// Times returns a copy of the open time column, oldest first.
func (s *Store) Times() []int64 {
	out := make([]int64, s.rows)
	for idx := range out {
		out[idx] = s.times[s.physical(idx)].Load()
	}

	return out
}

// Opens returns a copy of the open price column, oldest first.
func (s *Store) Opens() []float64 {
	return s.snapshotFloats(s.opens)
}

// Highs returns a copy of the high price column, oldest first.
func (s *Store) Highs() []float64 {
	return s.snapshotFloats(s.highs)
}

// Lows returns a copy of the low price column, oldest first.
func (s *Store) Lows() []float64 {
	return s.snapshotFloats(s.lows)
}

// Closes returns a copy of the close price column, oldest first.
func (s *Store) Closes() []float64 {
	return s.snapshotFloats(s.closes)
}

// Volumes returns a copy of the volume column, oldest first.
func (s *Store) Volumes() []float64 {
	return s.snapshotFloats(s.volumes)
}

// BuyerVolumes returns a copy of the buyer volume column, oldest first.
func (s *Store) BuyerVolumes() []float64 {
	return s.snapshotFloats(s.buyerVolumes)
}

// SellerVolumes returns a copy of the seller volume column, oldest first.
func (s *Store) SellerVolumes() []float64 {
	return s.snapshotFloats(s.sellerVolumes)
}

// UniqueTraders returns a copy of the unique trader column, oldest first.
func (s *Store) UniqueTraders() []int64 {
	out := make([]int64, s.rows)
	for idx := range out {
		out[idx] = s.uniqueTraders[s.physical(idx)].Load()
	}

	return out
}
