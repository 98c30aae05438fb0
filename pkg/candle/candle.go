// Package candle defines the canonical OHLCV data model shared by every
// component of the library: the Candle value itself, the cache/subscription
// keys, supported intervals, and the normalizer that converts exchange wire
// payloads into the canonical shape.
package candle

import (
	"fmt"
	"strconv"
)

// Candle represents one OHLCV bar for a fixed time interval.
// Time is the bar's open time in whole epoch seconds, aligned to the
// interval boundary. Within one series, times are strictly increasing and
// unique; a stored candle is never mutated in place, only replaced.
type Candle struct {
	// Time is the bar open time, epoch seconds, interval-aligned
	Time int64

	// Open is the opening price for the interval
	Open float64

	// High is the highest price reached during the interval
	High float64

	// Low is the lowest price reached during the interval
	Low float64

	// Close is the closing price at the end of the interval
	Close float64

	// Volume is the base-asset volume traded during the interval, >= 0
	Volume float64
}

// Source identifies where a candle came from. When two candles collide on
// the same timestamp the higher source wins; within equal sources the
// candle with the larger volume wins.
type Source int

const (
	// SourceMock marks candles produced by the opt-in synthetic generator
	SourceMock Source = iota

	// SourceHistorical marks candles fetched over REST
	SourceHistorical

	// SourceRealtime marks candles received on a live stream
	SourceRealtime
)

// String returns the string representation of a candle source.
func (s Source) String() string {
	switch s {
	case SourceMock:
		return "mock"
	case SourceHistorical:
		return "historical"
	case SourceRealtime:
		return "realtime"
	default:
		return "unknown"
	}
}

// SeriesKey identifies one cached time series.
type SeriesKey struct {
	Exchange string
	Symbol   string
	Interval Interval
}

// String returns a stable textual form usable as a map or log key.
func (k SeriesKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Exchange, k.Symbol, k.Interval)
}

// SubscriptionKey identifies one live stream subscription. Stream is the
// exchange-level stream kind, e.g. "kline".
type SubscriptionKey struct {
	SeriesKey
	Stream string
}

// String returns a stable textual form usable as a map or log key.
func (k SubscriptionKey) String() string {
	return fmt.Sprintf("%s:%s", k.SeriesKey, k.Stream)
}

// RawCandle is a wire-format bar before normalization. TS may be epoch
// seconds or epoch milliseconds; price and volume fields are the raw
// string encodings most exchanges emit.
type RawCandle struct {
	TS     int64
	Open   string
	High   string
	Low    string
	Close  string
	Volume string
}

// Normalize converts a raw wire bar into the canonical Candle shape:
// timestamps are reduced to whole seconds, string-encoded numeric fields
// are coerced, and the open time is aligned to its interval boundary.
// Exchanges frequently emit bars slightly offset from the expected
// boundary; alignment is what makes series from different venues mergeable.
func Normalize(raw RawCandle, iv Interval) (Candle, error) {
	if raw.TS <= 0 {
		return Candle{}, fmt.Errorf("candle: non-positive timestamp %d", raw.TS)
	}

	c := Candle{Time: AlignTime(NormalizeTimestamp(raw.TS), iv)}

	for _, f := range []struct {
		name string
		src  string
		dst  *float64
	}{
		{"open", raw.Open, &c.Open},
		{"high", raw.High, &c.High},
		{"low", raw.Low, &c.Low},
		{"close", raw.Close, &c.Close},
		{"volume", raw.Volume, &c.Volume},
	} {
		v, err := strconv.ParseFloat(f.src, 64)
		if err != nil {
			return Candle{}, fmt.Errorf("candle: malformed %s field %q: %w", f.name, f.src, err)
		}
		*f.dst = v
	}

	if c.Volume < 0 {
		return Candle{}, fmt.Errorf("candle: negative volume %f", c.Volume)
	}

	return c, nil
}

// NormalizeTimestamp reduces an epoch timestamp to whole seconds.
// Values above 1e12 are treated as milliseconds (epoch seconds will not
// reach 1e12 for roughly thirty thousand years).
func NormalizeTimestamp(ts int64) int64 {
	if ts > 1_000_000_000_000 {
		return ts / 1000
	}
	return ts
}

// AlignTime snaps an epoch-second timestamp to its interval boundary.
// Intervals under one hour align by simple modulo of the interval length.
// Intervals of one hour and above align to the hour first, then to the
// sub-day boundary honoring hour-of-day, so a 4h bar always opens at
// 00/04/08/... UTC regardless of the offset the exchange emitted.
func AlignTime(sec int64, iv Interval) int64 {
	ivSec := iv.Seconds()
	if ivSec <= 0 {
		return sec
	}

	if ivSec < 3600 {
		return sec - sec%ivSec
	}

	hour := sec - sec%3600
	hourOfDay := (hour % 86400) / 3600
	return hour - (hourOfDay%(ivSec/3600))*3600
}

// ParseWireArray converts one positional kline array, as emitted by the
// Binance, OKX, Bybit and MEXC REST endpoints, into a canonical Candle.
// values[0] is the open timestamp (number or numeric string, seconds or
// milliseconds) and values[1..5] are open/high/low/close/volume (number or
// numeric string). Trailing elements are ignored.
func ParseWireArray(values []interface{}, iv Interval) (Candle, error) {
	if len(values) < 6 {
		return Candle{}, fmt.Errorf("candle: wire array has %d elements, want >= 6", len(values))
	}

	ts, err := wireInt(values[0])
	if err != nil {
		return Candle{}, fmt.Errorf("candle: wire timestamp: %w", err)
	}

	raw := RawCandle{TS: ts}
	for i, dst := range []*string{&raw.Open, &raw.High, &raw.Low, &raw.Close, &raw.Volume} {
		s, err := wireString(values[i+1])
		if err != nil {
			return Candle{}, fmt.Errorf("candle: wire field %d: %w", i+1, err)
		}
		*dst = s
	}

	return Normalize(raw, iv)
}

func wireInt(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	case int64:
		return t, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func wireString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unexpected type %T", v)
	}
}
