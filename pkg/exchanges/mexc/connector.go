// Package mexc implements the MEXC spot integration. MEXC shares one
// socket across subscriptions, addresses streams through protobuf-style
// channel strings, and emits kline open times in epoch seconds where the
// other venues use milliseconds.
package mexc

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
	name        = "mexc"
	defaultREST = "https://api.mexc.com"
	defaultWS   = "wss://wbs.mexc.com/ws"

	klineChannel = "spot@public.kline.v3.api"
)

// REST and WebSocket use different interval vocabularies.
var restIntervals = map[candle.Interval]string{
	candle.Interval1m:  "1m",
	candle.Interval5m:  "5m",
	candle.Interval15m: "15m",
	candle.Interval30m: "30m",
	candle.Interval1h:  "60m",
	candle.Interval4h:  "4h",
	candle.Interval1d:  "1d",
}

var wsIntervals = map[candle.Interval]string{
	candle.Interval1m:  "Min1",
	candle.Interval5m:  "Min5",
	candle.Interval15m: "Min15",
	candle.Interval30m: "Min30",
	candle.Interval1h:  "Min60",
	candle.Interval4h:  "Hour4",
	candle.Interval1d:  "Day1",
}

var canonicalWSIntervals = func() map[string]candle.Interval {
	out := make(map[string]candle.Interval, len(wsIntervals))
	for k, v := range wsIntervals {
		out[v] = k
	}
	return out
}()

// Connector implements interfaces.ExchangeConnector for MEXC spot.
type Connector struct {
	options  *interfaces.ExchangeOptions
	http     common.HTTPClient
	restBase string
	wsURL    string
}

// NewConnector creates a new MEXC connector with the given options.
func NewConnector(options *interfaces.ExchangeOptions) *Connector {
	if options == nil {
		options = interfaces.NewExchangeOptions()
	}

	restBase := defaultREST
	if options.RESTBaseURL != "" {
		restBase = options.RESTBaseURL
	}
	wsURL := defaultWS
	if options.WSBaseURL != "" {
		wsURL = options.WSBaseURL
	}

	cfg := common.DefaultConfig()
	cfg.Timeout = options.HTTPTimeout
	cfg.RateLimit = ratelimit.Rate{Limit: options.MaxRequestsPerSecond, Interval: time.Second}

	return &Connector{
		options:  options,
		http:     common.NewHTTPClient(cfg),
		restBase: strings.TrimRight(restBase, "/"),
		wsURL:    wsURL,
	}
}

// Name implements interfaces.ExchangeConnector.
func (c *Connector) Name() string { return name }

// FormatSymbol implements interfaces.ExchangeConnector. MEXC
// concatenates base and quote: BTC/USDT -> BTCUSDT.
func (c *Connector) FormatSymbol(base, quote string) string {
	return strings.ToUpper(base + quote)
}

// GetHistoricalCandles fetches klines over REST. Rows are positional
// arrays [t, o, h, l, c, v, ...] with t in epoch seconds.
func (c *Connector) GetHistoricalCandles(ctx context.Context, req interfaces.CandleRequest) ([]candle.Candle, error) {
	wire, ok := restIntervals[req.Interval]
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

// SocketURL implements interfaces.StreamProtocol.
func (c *Connector) SocketURL(key candle.SubscriptionKey) string { return c.wsURL }

// SharedSocket implements interfaces.StreamProtocol.
func (c *Connector) SharedSocket() bool { return true }

type wsCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
}

func param(key candle.SubscriptionKey) string {
	return fmt.Sprintf("%s@%s@%s", klineChannel, key.Symbol, wsIntervals[key.Interval])
}

// SubscribeFrames implements interfaces.StreamProtocol. All params are
// batched into one SUBSCRIPTION command.
func (c *Connector) SubscribeFrames(keys []candle.SubscriptionKey) []interface{} {
	if len(keys) == 0 {
		return nil
	}
	params := make([]string, 0, len(keys))
	for _, key := range keys {
		params = append(params, param(key))
	}
	return []interface{}{wsCommand{Method: "SUBSCRIPTION", Params: params}}
}

// UnsubscribeFrames implements interfaces.StreamProtocol.
func (c *Connector) UnsubscribeFrames(keys []candle.SubscriptionKey) []interface{} {
	if len(keys) == 0 {
		return nil
	}
	params := make([]string, 0, len(keys))
	for _, key := range keys {
		params = append(params, param(key))
	}
	return []interface{}{wsCommand{Method: "UNSUBSCRIPTION", Params: params}}
}

// klinePush is the MEXC kline push frame. s carries "<symbol>@<interval>"
// and d.t is in epoch seconds.
type klinePush struct {
	Channel string `json:"c"`
	Symbol  string `json:"s"`
	Data    struct {
		T int64       `json:"t"`
		O json.Number `json:"o"`
		H json.Number `json:"h"`
		L json.Number `json:"l"`
		C json.Number `json:"c"`
		V json.Number `json:"v"`
	} `json:"d"`
}

// ParseFrame implements interfaces.StreamProtocol.
func (c *Connector) ParseFrame(message []byte) (candle.SubscriptionKey, candle.Candle, bool) {
	var push klinePush
	if err := json.Unmarshal(message, &push); err != nil {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}
	if !strings.HasPrefix(push.Channel, klineChannel) || push.Data.T == 0 {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}

	symbol := push.Symbol
	wire := ""
	if at := strings.LastIndex(symbol, "@"); at >= 0 {
		wire = symbol[at+1:]
		symbol = symbol[:at]
	} else if at := strings.LastIndex(push.Channel, "@"); at >= 0 {
		// Some frames carry the interval on the channel instead.
		wire = push.Channel[at+1:]
	}
	iv, ok := canonicalWSIntervals[wire]
	if !ok {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}

	cdl, err := candle.Normalize(candle.RawCandle{
		TS:     push.Data.T,
		Open:   push.Data.O.String(),
		High:   push.Data.H.String(),
		Low:    push.Data.L.String(),
		Close:  push.Data.C.String(),
		Volume: push.Data.V.String(),
	}, iv)
	if err != nil {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}

	key := candle.SubscriptionKey{
		SeriesKey: candle.SeriesKey{Exchange: name, Symbol: symbol, Interval: iv},
		Stream:    interfaces.StreamKline,
	}
	return key, cdl, true
}
