package shared

import "fmt"

// Interval represents the market data candle period.
type Interval int

const (
	OneMinute Interval = iota
	FiveMinute
	ThirtyMinute
	OneHour
	OneDay
	OneWeek
)

const minuteMs = int64(60 * 1000)

// String stringifies the provided interval.
func (i *Interval) String() string {
	switch *i {
	case OneMinute:
		return "1m"
	case FiveMinute:
		return "5m"
	case ThirtyMinute:
		return "30m"
	case OneHour:
		return "1h"
	case OneDay:
		return "1d"
	case OneWeek:
		return "1w"
	default:
		return "unknown"
	}
}

// Milliseconds returns the millisecond span of the provided interval.
func (i *Interval) Milliseconds() int64 {
	switch *i {
	case OneMinute:
		return minuteMs
	case FiveMinute:
		return 5 * minuteMs
	case ThirtyMinute:
		return 30 * minuteMs
	case OneHour:
		return 60 * minuteMs
	case OneDay:
		return 24 * 60 * minuteMs
	case OneWeek:
		return 7 * 24 * 60 * minuteMs
	default:
		return 0
	}
}

// ParseInterval parses an interval from the provided string.
func ParseInterval(name string) (Interval, error) {
	switch name {
	case "1m":
		return OneMinute, nil
	case "5m":
		return FiveMinute, nil
	case "30m":
		return ThirtyMinute, nil
	case "1h":
		return OneHour, nil
	case "1d":
		return OneDay, nil
	case "1w":
		return OneWeek, nil
	default:
		return 0, fmt.Errorf("unknown interval provided: %s", name)
	}
}

// AlignTime truncates the provided millisecond timestamp to the interval
// boundary at or before it.
func (i *Interval) AlignTime(timestamp int64) int64 {
	ms := i.Milliseconds()
	if ms == 0 {
		return timestamp
	}

	return timestamp - (timestamp % ms)
}
