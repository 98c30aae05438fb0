// Package bybit implements the Bybit spot integration. Bybit serves all
// kline topics over one shared public socket, and its REST kline list is
// ordered newest-first and must be reversed.
package bybit

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
	name        = "bybit"
	defaultREST = "https://api.bybit.com"
	defaultWS   = "wss://stream.bybit.com/v5/public/spot"
)

// Bybit encodes intervals as minute counts, with D for daily.
var wireIntervals = map[candle.Interval]string{
	candle.Interval1m:  "1",
	candle.Interval5m:  "5",
	candle.Interval15m: "15",
	candle.Interval30m: "30",
	candle.Interval1h:  "60",
	candle.Interval4h:  "240",
	candle.Interval1d:  "D",
}

var canonicalIntervals = func() map[string]candle.Interval {
	out := make(map[string]candle.Interval, len(wireIntervals))
	for k, v := range wireIntervals {
		out[v] = k
	}
	return out
}()

// Connector implements interfaces.ExchangeConnector for Bybit spot.
type Connector struct {
	options  *interfaces.ExchangeOptions
	http     common.HTTPClient
	restBase string
	wsURL    string
}

// NewConnector creates a new Bybit connector with the given options.
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

// FormatSymbol implements interfaces.ExchangeConnector. Bybit
// concatenates base and quote: BTC/USDT -> BTCUSDT.
func (c *Connector) FormatSymbol(base, quote string) string {
	return strings.ToUpper(base + quote)
}

// restEnvelope is Bybit's v5 REST response wrapper.
type restEnvelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]interface{} `json:"list"`
	} `json:"result"`
}

// GetHistoricalCandles fetches klines over REST. The result list is
// newest-first; it is reversed here so downstream consumers always see
// wire order ascending.
func (c *Connector) GetHistoricalCandles(ctx context.Context, req interfaces.CandleRequest) ([]candle.Candle, error) {
	wire, ok := wireIntervals[req.Interval]
	if !ok {
		return nil, fmt.Errorf("%w: %q", candle.ErrInvalidInterval, req.Interval)
	}

	url := fmt.Sprintf("%s/v5/market/kline?category=spot&symbol=%s&interval=%s&limit=%d",
		c.restBase, req.Symbol, wire, req.Limit)
	if !req.StartTime.IsZero() {
		url += fmt.Sprintf("&start=%d", req.StartTime.UnixMilli())
	}
	if !req.EndTime.IsZero() {
		url += fmt.Sprintf("&end=%d", req.EndTime.UnixMilli())
	}

	var envelope restEnvelope
	if err := c.http.GetJSON(ctx, url, &envelope); err != nil {
		return nil, interfaces.NewTransportError(name, "kline", err)
	}
	if envelope.RetCode != 0 {
		return nil, interfaces.NewTransportError(name, "kline",
			fmt.Errorf("api error %d: %s", envelope.RetCode, envelope.RetMsg))
	}

	list := envelope.Result.List
	candles := make([]candle.Candle, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		cdl, err := candle.ParseWireArray(list[i], req.Interval)
		if err != nil {
			return nil, interfaces.NewValidationError(name, "kline row", err)
		}
		candles = append(candles, cdl)
	}
	return candles, nil
}

// CheckStatus pings the public server time endpoint.
func (c *Connector) CheckStatus(ctx context.Context) bool {
	resp, err := c.http.Get(ctx, c.restBase+"/v5/market/time")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == 200
}

// SocketURL implements interfaces.StreamProtocol. One shared socket
// serves every kline topic.
func (c *Connector) SocketURL(key candle.SubscriptionKey) string { return c.wsURL }

// SharedSocket implements interfaces.StreamProtocol.
func (c *Connector) SharedSocket() bool { return true }

type wsOp struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

func topic(key candle.SubscriptionKey) string {
	return fmt.Sprintf("kline.%s.%s", wireIntervals[key.Interval], key.Symbol)
}

// SubscribeFrames implements interfaces.StreamProtocol. All topics are
// batched into one frame, which is what makes resubscribe-after-reconnect
// a single write.
func (c *Connector) SubscribeFrames(keys []candle.SubscriptionKey) []interface{} {
	if len(keys) == 0 {
		return nil
	}
	args := make([]string, 0, len(keys))
	for _, key := range keys {
		args = append(args, topic(key))
	}
	return []interface{}{wsOp{Op: "subscribe", Args: args}}
}

// UnsubscribeFrames implements interfaces.StreamProtocol.
func (c *Connector) UnsubscribeFrames(keys []candle.SubscriptionKey) []interface{} {
	if len(keys) == 0 {
		return nil
	}
	args := make([]string, 0, len(keys))
	for _, key := range keys {
		args = append(args, topic(key))
	}
	return []interface{}{wsOp{Op: "unsubscribe", Args: args}}
}

// klinePush is the Bybit kline push frame.
type klinePush struct {
	Topic string `json:"topic"`
	Data  []struct {
		Start  int64  `json:"start"`
		Open   string `json:"open"`
		High   string `json:"high"`
		Low    string `json:"low"`
		Close  string `json:"close"`
		Volume string `json:"volume"`
	} `json:"data"`
}

// ParseFrame implements interfaces.StreamProtocol. The topic encodes both
// interval and symbol: "kline.60.BTCUSDT".
func (c *Connector) ParseFrame(message []byte) (candle.SubscriptionKey, candle.Candle, bool) {
	var push klinePush
	if err := json.Unmarshal(message, &push); err != nil || len(push.Data) == 0 {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}

	parts := strings.SplitN(push.Topic, ".", 3)
	if len(parts) != 3 || parts[0] != "kline" {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}
	iv, ok := canonicalIntervals[parts[1]]
	if !ok {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}

	bar := push.Data[len(push.Data)-1]
	cdl, err := candle.Normalize(candle.RawCandle{
		TS:     bar.Start,
		Open:   bar.Open,
		High:   bar.High,
		Low:    bar.Low,
		Close:  bar.Close,
		Volume: bar.Volume,
	}, iv)
	if err != nil {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}

	key := candle.SubscriptionKey{
		SeriesKey: candle.SeriesKey{Exchange: name, Symbol: parts[2], Interval: iv},
		Stream:    interfaces.StreamKline,
	}
	return key, cdl, true
}
