package shared

import "fmt"

// Exchange represents a supported market data venue.
type Exchange int

const (
	Hyperliquid Exchange = iota
	Binance
)

// String stringifies the provided exchange.
func (e *Exchange) String() string {
	switch *e {
	case Hyperliquid:
		return "hyperliquid"
	case Binance:
		return "binance"
	default:
		return "unknown"
	}
}

// ParseExchange parses an exchange from the provided string.
func ParseExchange(name string) (Exchange, error) {
	switch name {
	case "hyperliquid", "HYPERLIQUID":
		return Hyperliquid, nil
	case "binance", "BINANCE":
		return Binance, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedExchange, name)
	}
}

// Market represents a canonical market identifier. Exchange specific market
// names are translated at the connector boundary.
type Market int

const (
	BTCUSD Market = iota
	BTCUSDPerp
)

// String stringifies the provided market.
func (m *Market) String() string {
	switch *m {
	case BTCUSD:
		return "btcusd"
	case BTCUSDPerp:
		return "btcusd_perp"
	default:
		return "unknown"
	}
}

// ParseMarket parses a market from the provided string.
func ParseMarket(name string) (Market, error) {
	switch name {
	case "btcusd", "BTCUSD":
		return BTCUSD, nil
	case "btcusd_perp", "BTCUSD_PERP":
		return BTCUSDPerp, nil
	default:
		return 0, fmt.Errorf("unknown market provided: %s", name)
	}
}

// MarketChannel returns the deterministic channel key for a market stream.
func MarketChannel(exchange Exchange, market Market) string {
	return fmt.Sprintf("%s_%s", exchange.String(), market.String())
}

// IndicatorChannel returns the deterministic channel key for an indicator
// sample stream.
func IndicatorChannel(exchange Exchange, market Market, timeframe Interval, period int) string {
	return fmt.Sprintf("%s_%s_%s_%d", exchange.String(), market.String(), timeframe.String(), period)
}
