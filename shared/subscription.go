package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// DataType represents the kind of market data a caller can subscribe to.
type DataType int

const (
	Trades DataType = iota
	Orderbook
	CandleData
	RSI
	MACD
	SMA
)

// String stringifies the provided data type.
func (d *DataType) String() string {
	switch *d {
	case Trades:
		return "trades"
	case Orderbook:
		return "orderbook"
	case CandleData:
		return "candle"
	case RSI:
		return "rsi"
	case MACD:
		return "macd"
	case SMA:
		return "sma"
	default:
		return "unknown"
	}
}

// Indicator reports whether the data type is an indicator family rather
// than a raw market stream.
func (d *DataType) Indicator() bool {
	switch *d {
	case RSI, MACD, SMA:
		return true
	default:
		return false
	}
}

// ParseDataType parses a data type from the provided string.
func ParseDataType(name string) (DataType, error) {
	switch name {
	case "trades":
		return Trades, nil
	case "orderbook":
		return Orderbook, nil
	case "candle":
		return CandleData, nil
	case "rsi":
		return RSI, nil
	case "macd":
		return MACD, nil
	case "sma":
		return SMA, nil
	default:
		return 0, fmt.Errorf("unknown data type provided: %s", name)
	}
}

// Subscription represents a caller's interest in a (exchange, market,
// data type) tuple. Subscriptions are retained across worker restarts so
// they can be replayed in their original order.
type Subscription struct {
	ID        string
	Exchange  Exchange
	Market    Market
	DataType  DataType
	Period    int
	Timeframe Interval
}

// NewSubscription initializes a subscription with a unique id.
func NewSubscription(exchange Exchange, market Market, dataType DataType, period int, timeframe Interval) Subscription {
	return Subscription{
		ID:        uuid.NewString(),
		Exchange:  exchange,
		Market:    market,
		DataType:  dataType,
		Period:    period,
		Timeframe: timeframe,
	}
}

// Key returns the deduplication key for the subscription, covering the
// full tuple excluding the id.
func (s *Subscription) Key() string {
	return fmt.Sprintf("%s_%s_%s_%s_%d", s.Exchange.String(), s.Market.String(),
		s.DataType.String(), s.Timeframe.String(), s.Period)
}

// Channel returns the deterministic channel key the subscription's
// updates are published at.
func (s *Subscription) Channel() string {
	if s.DataType.Indicator() {
		return IndicatorChannel(s.Exchange, s.Market, s.Timeframe, s.Period)
	}

	return MarketChannel(s.Exchange, s.Market)
}
