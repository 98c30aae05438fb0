// Package binance implements the Binance spot integration: klines over
// REST and per-stream raw WebSocket endpoints.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/veiloq/candlestream/pkg/candle"
	"github.com/veiloq/candlestream/pkg/common"
	"github.com/veiloq/candlestream/pkg/exchanges/interfaces"
	"github.com/veiloq/candlestream/pkg/ratelimit"
)

const (
	name        = "binance"
	defaultREST = "https://api.binance.com"
	defaultWS   = "wss://stream.binance.com:9443"
)

// Binance accepts the canonical interval labels directly.
var wireIntervals = map[candle.Interval]string{
	candle.Interval1m:  "1m",
	candle.Interval5m:  "5m",
	candle.Interval15m: "15m",
	candle.Interval30m: "30m",
	candle.Interval1h:  "1h",
	candle.Interval4h:  "4h",
	candle.Interval1d:  "1d",
}

var canonicalIntervals = invert(wireIntervals)

func invert(m map[candle.Interval]string) map[string]candle.Interval {
	out := make(map[string]candle.Interval, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// Connector implements interfaces.ExchangeConnector for Binance spot.
type Connector struct {
	options  *interfaces.ExchangeOptions
	http     common.HTTPClient
	restBase string
	wsBase   string
}

// NewConnector creates a new Binance connector with the given options.
func NewConnector(options *interfaces.ExchangeOptions) *Connector {
	if options == nil {
		options = interfaces.NewExchangeOptions()
	}

	restBase := defaultREST
	if options.RESTBaseURL != "" {
		restBase = options.RESTBaseURL
	}
	wsBase := defaultWS
	if options.WSBaseURL != "" {
		wsBase = options.WSBaseURL
	}

	cfg := common.DefaultConfig()
	cfg.Timeout = options.HTTPTimeout
	cfg.RateLimit = ratelimit.Rate{Limit: options.MaxRequestsPerSecond, Interval: time.Second}

	return &Connector{
		options:  options,
		http:     common.NewHTTPClient(cfg),
		restBase: strings.TrimRight(restBase, "/"),
		wsBase:   strings.TrimRight(wsBase, "/"),
	}
}

// Name implements interfaces.ExchangeConnector.
func (c *Connector) Name() string { return name }

// FormatSymbol implements interfaces.ExchangeConnector. Binance
// concatenates base and quote: BTC/USDT -> BTCUSDT.
func (c *Connector) FormatSymbol(base, quote string) string {
	return strings.ToUpper(base + quote)
}

// GetHistoricalCandles fetches klines over REST. The response is an array
// of positional arrays: [openTimeMs, "o", "h", "l", "c", "v", ...].
func (c *Connector) GetHistoricalCandles(ctx context.Context, req interfaces.CandleRequest) ([]candle.Candle, error) {
	wire, ok := wireIntervals[req.Interval]
	if !ok {
		return nil, fmt.Errorf("%w: %q", candle.ErrInvalidInterval, req.Interval)
	}

	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		c.restBase, req.Symbol, wire, req.Limit)
	if !req.StartTime.IsZero() {
		url += fmt.Sprintf("&startTime=%d", req.StartTime.UnixMilli())
	}
	if !req.EndTime.IsZero() {
		url += fmt.Sprintf("&endTime=%d", req.EndTime.UnixMilli())
	}

	var rows [][]interface{}
	if err := c.http.GetJSON(ctx, url, &rows); err != nil {
		return nil, interfaces.NewTransportError(name, "klines", err)
	}

	candles := make([]candle.Candle, 0, len(rows))
	for _, row := range rows {
		cdl, err := candle.ParseWireArray(row, req.Interval)
		if err != nil {
			return nil, interfaces.NewValidationError(name, "kline row", err)
		}
		candles = append(candles, cdl)
	}
	return candles, nil
}

// CheckStatus pings the public REST endpoint.
func (c *Connector) CheckStatus(ctx context.Context) bool {
	resp, err := c.http.Get(ctx, c.restBase+"/api/v3/ping")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == 200
}

// SocketURL implements interfaces.StreamProtocol. Binance raw streams
// encode the subscription in the URL, one socket per stream.
func (c *Connector) SocketURL(key candle.SubscriptionKey) string {
	return fmt.Sprintf("%s/ws/%s@kline_%s",
		c.wsBase, strings.ToLower(key.Symbol), wireIntervals[key.Interval])
}

// SharedSocket implements interfaces.StreamProtocol.
func (c *Connector) SharedSocket() bool { return false }

// SubscribeFrames implements interfaces.StreamProtocol. Raw stream URLs
// are self-subscribing, no frame is needed.
func (c *Connector) SubscribeFrames(keys []candle.SubscriptionKey) []interface{} { return nil }

// UnsubscribeFrames implements interfaces.StreamProtocol.
func (c *Connector) UnsubscribeFrames(keys []candle.SubscriptionKey) []interface{} { return nil }

// klinePush is the Binance kline push frame. EventTime and CloseTime are
// declared so the exact-match tags claim "E" and "T"; without them
// encoding/json's case-insensitive fallback would feed those numbers into
// "e" and "t" and reject or corrupt every real frame.
type klinePush struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
	} `json:"k"`
}

// ParseFrame implements interfaces.StreamProtocol.
func (c *Connector) ParseFrame(message []byte) (candle.SubscriptionKey, candle.Candle, bool) {
	var push klinePush
	if err := json.Unmarshal(message, &push); err != nil || push.EventType != "kline" {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}

	iv, ok := canonicalIntervals[push.Kline.Interval]
	if !ok {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}

	cdl, err := candle.Normalize(candle.RawCandle{
		TS:     push.Kline.StartTime,
		Open:   push.Kline.Open,
		High:   push.Kline.High,
		Low:    push.Kline.Low,
		Close:  push.Kline.Close,
		Volume: push.Kline.Volume,
	}, iv)
	if err != nil {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}

	key := candle.SubscriptionKey{
		SeriesKey: candle.SeriesKey{Exchange: name, Symbol: push.Symbol, Interval: iv},
		Stream:    interfaces.StreamKline,
	}
	return key, cdl, true
}
