package exchange

import "context"

// State represents the lifecycle state of a connector.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateSubscribing
	StateOpen
	StateReconnecting
	StateStopped
)

// String stringifies the provided state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Connector produces decoded trades from a venue stream into its trade
// queue, surviving transport faults via backed off reconnects.
type Connector interface {
	// Run drives the connect, subscribe and read cycle until the context
	// is cancelled or the connector is closed.
	Run(ctx context.Context)
	// Reset forces a reconnect cycle without stopping the connector.
	Reset()
	// Close stops the connector permanently.
	Close()
	// State returns the current lifecycle state.
	State() State
	// LastUpdate returns the wall clock unix millisecond timestamp of the
	// last inbound frame, pings included.
	LastUpdate() int64
}
