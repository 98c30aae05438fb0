// Package mock provides a synthetic exchange backed by a deterministic
// random-walk price generator. It is an explicit, opt-in test double:
// nothing registers it unless the caller asks for it, and candles it
// produces carry candle.SourceMock so a real candle on the same
// timestamp always wins in the cache.
package mock

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/veiloq/candlestream/pkg/candle"
	"github.com/veiloq/candlestream/pkg/exchanges/interfaces"
)

const name = "mock"

// Connector implements interfaces.ExchangeConnector with synthetic data.
// A fixed seed per (symbol, interval) keeps repeated fetches consistent
// within one process, which is what chart-level tests need.
type Connector struct {
	mu        sync.Mutex
	seeds     map[string]int64
	basePrice float64
	step      float64
	now       func() time.Time
}

// NewConnector creates a synthetic exchange. basePrice anchors the walk
// (e.g. 50000 for a BTC-like series); step is the per-bar move fraction.
func NewConnector(basePrice, step float64) *Connector {
	if basePrice <= 0 {
		basePrice = 50000
	}
	if step <= 0 {
		step = 0.002
	}
	return &Connector{
		seeds:     make(map[string]int64),
		basePrice: basePrice,
		step:      step,
		now:       time.Now,
	}
}

// Name implements interfaces.ExchangeConnector.
func (c *Connector) Name() string { return name }

// FormatSymbol implements interfaces.ExchangeConnector.
func (c *Connector) FormatSymbol(base, quote string) string {
	return strings.ToUpper(base + quote)
}

// GetHistoricalCandles generates a random-walk series ending at the
// current aligned bar.
func (c *Connector) GetHistoricalCandles(ctx context.Context, req interfaces.CandleRequest) ([]candle.Candle, error) {
	if !req.Interval.Valid() {
		return nil, candle.ErrInvalidInterval
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	c.mu.Lock()
	seedKey := req.Symbol + "|" + string(req.Interval)
	seed, ok := c.seeds[seedKey]
	if !ok {
		seed = int64(len(c.seeds) + 1)
		c.seeds[seedKey] = seed
	}
	c.mu.Unlock()

	rng := rand.New(rand.NewSource(seed))
	ivSec := req.Interval.Seconds()
	end := candle.AlignTime(c.now().Unix(), req.Interval)
	start := end - int64(req.Limit-1)*ivSec

	price := c.basePrice
	candles := make([]candle.Candle, 0, req.Limit)
	for ts := start; ts <= end; ts += ivSec {
		move := (rng.Float64()*2 - 1) * c.step * price
		open := price
		close := price + move
		high := open
		if close > high {
			high = close
		}
		high += rng.Float64() * c.step * price / 2
		low := open
		if close < low {
			low = close
		}
		low -= rng.Float64() * c.step * price / 2

		candles = append(candles, candle.Candle{
			Time:   ts,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  close,
			Volume: rng.Float64() * 100,
		})
		price = close
	}
	return candles, nil
}

// CheckStatus implements interfaces.ExchangeConnector.
func (c *Connector) CheckStatus(ctx context.Context) bool { return true }

// SocketURL implements interfaces.StreamProtocol. The mock exchange has
// no socket; the multiplexer never dials it because SubscribeFrames
// returns nothing and tests inject frames directly.
func (c *Connector) SocketURL(key candle.SubscriptionKey) string { return "ws://mock.invalid/ws" }

// SharedSocket implements interfaces.StreamProtocol.
func (c *Connector) SharedSocket() bool { return true }

// SubscribeFrames implements interfaces.StreamProtocol.
func (c *Connector) SubscribeFrames(keys []candle.SubscriptionKey) []interface{} { return nil }

// UnsubscribeFrames implements interfaces.StreamProtocol.
func (c *Connector) UnsubscribeFrames(keys []candle.SubscriptionKey) []interface{} { return nil }

// ParseFrame implements interfaces.StreamProtocol.
func (c *Connector) ParseFrame(message []byte) (candle.SubscriptionKey, candle.Candle, bool) {
	return candle.SubscriptionKey{}, candle.Candle{}, false
}
