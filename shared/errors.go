package shared

import "errors"

var (
	// ErrNotConnected is returned on send attempts while a connector's
	// websocket session is not open.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrInsufficientData is returned by indicator kernels when the input
	// is shorter than the requested period requires.
	ErrInsufficientData = errors.New("insufficient data for calculation")
	// ErrUnsupportedExchange is returned by the worker factory for venues
	// with no concrete connector.
	ErrUnsupportedExchange = errors.New("unsupported exchange")
	// ErrUnsupportedIndicator is returned by the engine factory for
	// unknown indicator families.
	ErrUnsupportedIndicator = errors.New("unsupported indicator")
	// ErrMarketDead marks a market that exhausted its restart escalation
	// and refuses further subscribes until operator intervention.
	ErrMarketDead = errors.New("market marked dead after failed restarts")
)
