package candle

import (
	"errors"
	"fmt"
)

// ErrInvalidInterval is returned when an unsupported time interval is provided.
var ErrInvalidInterval = errors.New("invalid time interval")

// Interval is a canonical bar interval label. The supported set mirrors
// what all four exchanges can serve: 1m, 5m, 15m, 30m, 1h, 4h, 1d.
type Interval string

// Supported canonical intervals.
const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

var intervalSeconds = map[Interval]int64{
	Interval1m:  60,
	Interval5m:  300,
	Interval15m: 900,
	Interval30m: 1800,
	Interval1h:  3600,
	Interval4h:  14400,
	Interval1d:  86400,
}

// Raw points thin out during boundary alignment and dedup, so historical
// fetches over-request by an interval-dependent factor to keep the final
// series at the caller's requested length.
var intervalMultipliers = map[Interval]float64{
	Interval1m:  1,
	Interval5m:  1.5,
	Interval15m: 2,
	Interval30m: 2.5,
	Interval1h:  3,
	Interval4h:  5,
	Interval1d:  10,
}

// ParseInterval validates a canonical interval label.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalSeconds[iv]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	return iv, nil
}

// Valid reports whether the interval is one of the supported labels.
func (iv Interval) Valid() bool {
	_, ok := intervalSeconds[iv]
	return ok
}

// Seconds returns the interval length in seconds, or 0 for an unknown label.
func (iv Interval) Seconds() int64 {
	return intervalSeconds[iv]
}

// LimitMultiplier returns the over-fetch factor applied to historical
// request limits for this interval.
func (iv Interval) LimitMultiplier() float64 {
	if m, ok := intervalMultipliers[iv]; ok {
		return m
	}
	return 1
}

// Intervals returns the supported intervals in ascending length order.
func Intervals() []Interval {
	return []Interval{Interval1m, Interval5m, Interval15m, Interval30m, Interval1h, Interval4h, Interval1d}
}
