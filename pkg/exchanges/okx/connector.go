// Package okx implements the OKX spot integration. OKX hyphenates
// symbols, wraps REST payloads in a {code, msg, data} envelope, and
// serves candles on the business WebSocket endpoint with one connection
// per stream.
package okx

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
	name        = "okx"
	defaultREST = "https://www.okx.com"
	defaultWS   = "wss://ws.okx.com:8443"
)

// OKX uppercases hour and day units.
var wireIntervals = map[candle.Interval]string{
	candle.Interval1m:  "1m",
	candle.Interval5m:  "5m",
	candle.Interval15m: "15m",
	candle.Interval30m: "30m",
	candle.Interval1h:  "1H",
	candle.Interval4h:  "4H",
	candle.Interval1d:  "1D",
}

var canonicalIntervals = func() map[string]candle.Interval {
	out := make(map[string]candle.Interval, len(wireIntervals))
	for k, v := range wireIntervals {
		out[v] = k
	}
	return out
}()

// Connector implements interfaces.ExchangeConnector for OKX spot.
type Connector struct {
	options  *interfaces.ExchangeOptions
	http     common.HTTPClient
	restBase string
	wsBase   string
}

// NewConnector creates a new OKX connector with the given options.
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

// FormatSymbol implements interfaces.ExchangeConnector. OKX inserts a
// hyphen between base and quote: BTC/USDT -> BTC-USDT.
func (c *Connector) FormatSymbol(base, quote string) string {
	return strings.ToUpper(base) + "-" + strings.ToUpper(quote)
}

// restEnvelope is the {code, msg, data} wrapper on every OKX REST response.
type restEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data [][]interface{} `json:"data"`
}

// GetHistoricalCandles fetches candles over REST. Rows are positional
// string arrays: ["tsMs", "o", "h", "l", "c", "vol", ...].
func (c *Connector) GetHistoricalCandles(ctx context.Context, req interfaces.CandleRequest) ([]candle.Candle, error) {
	wire, ok := wireIntervals[req.Interval]
	if !ok {
		return nil, fmt.Errorf("%w: %q", candle.ErrInvalidInterval, req.Interval)
	}

	// OKX pagination: "after" returns rows older than the ts, "before"
	// rows newer than it
	url := fmt.Sprintf("%s/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
		c.restBase, req.Symbol, wire, req.Limit)
	if !req.StartTime.IsZero() {
		url += fmt.Sprintf("&before=%d", req.StartTime.UnixMilli())
	}
	if !req.EndTime.IsZero() {
		url += fmt.Sprintf("&after=%d", req.EndTime.UnixMilli())
	}

	var envelope restEnvelope
	if err := c.http.GetJSON(ctx, url, &envelope); err != nil {
		return nil, interfaces.NewTransportError(name, "candles", err)
	}
	if envelope.Code != "0" {
		return nil, interfaces.NewTransportError(name, "candles",
			fmt.Errorf("api error %s: %s", envelope.Code, envelope.Msg))
	}

	candles := make([]candle.Candle, 0, len(envelope.Data))
	for _, row := range envelope.Data {
		cdl, err := candle.ParseWireArray(row, req.Interval)
		if err != nil {
			return nil, interfaces.NewValidationError(name, "candle row", err)
		}
		candles = append(candles, cdl)
	}
	return candles, nil
}

// CheckStatus pings the public system time endpoint.
func (c *Connector) CheckStatus(ctx context.Context) bool {
	resp, err := c.http.Get(ctx, c.restBase+"/api/v5/public/time")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == 200
}

// SocketURL implements interfaces.StreamProtocol. Candle channels live on
// the business endpoint.
func (c *Connector) SocketURL(key candle.SubscriptionKey) string {
	return c.wsBase + "/ws/v5/business"
}

// SharedSocket implements interfaces.StreamProtocol. OKX reconnects are
// managed per stream.
func (c *Connector) SharedSocket() bool { return false }

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsOp struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

func frames(op string, keys []candle.SubscriptionKey) []interface{} {
	if len(keys) == 0 {
		return nil
	}
	args := make([]wsArg, 0, len(keys))
	for _, key := range keys {
		args = append(args, wsArg{
			Channel: "candle" + wireIntervals[key.Interval],
			InstID:  key.Symbol,
		})
	}
	return []interface{}{wsOp{Op: op, Args: args}}
}

// SubscribeFrames implements interfaces.StreamProtocol.
func (c *Connector) SubscribeFrames(keys []candle.SubscriptionKey) []interface{} {
	return frames("subscribe", keys)
}

// UnsubscribeFrames implements interfaces.StreamProtocol.
func (c *Connector) UnsubscribeFrames(keys []candle.SubscriptionKey) []interface{} {
	return frames("unsubscribe", keys)
}

// candlePush is the OKX candle push frame.
type candlePush struct {
	Arg  wsArg           `json:"arg"`
	Data [][]interface{} `json:"data"`
}

// ParseFrame implements interfaces.StreamProtocol. Subscribe acks carry an
// "event" field and no data; those are skipped.
func (c *Connector) ParseFrame(message []byte) (candle.SubscriptionKey, candle.Candle, bool) {
	var push candlePush
	if err := json.Unmarshal(message, &push); err != nil || len(push.Data) == 0 {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}

	wire, found := strings.CutPrefix(push.Arg.Channel, "candle")
	if !found {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}
	iv, ok := canonicalIntervals[wire]
	if !ok {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}

	// Pushes may batch several rows; the last row is the current bar.
	cdl, err := candle.ParseWireArray(push.Data[len(push.Data)-1], iv)
	if err != nil {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}

	key := candle.SubscriptionKey{
		SeriesKey: candle.SeriesKey{Exchange: name, Symbol: push.Arg.InstID, Interval: iv},
		Stream:    interfaces.StreamKline,
	}
	return key, cdl, true
}
