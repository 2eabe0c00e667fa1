package shared

// Side represents the aggressing side of a trade.
type Side int

const (
	Buy Side = iota
	Sell
)

// String stringifies the provided side.
func (s *Side) String() string {
	switch *s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Trade represents a unit trade for a market. Trades are immutable once
// received from a venue.
type Trade struct {
	Price     float64
	Size      float64
	Side      Side
	Timestamp int64
	Traders   []string
}

// Candle represents a closed exchange reported candle, used by snapshot
// clients and the HTTP candle endpoint.
type Candle struct {
	Time   int64   `json:"t"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}
