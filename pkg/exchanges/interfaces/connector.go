package interfaces

import (
	"context"
	"time"

	"github.com/veiloq/candlestream/pkg/candle"
)

// StreamKline is the only stream kind the four public spot protocols
// currently expose through this library.
const StreamKline = "kline"

// ExchangeConnector defines the capability set one exchange integration
// must provide. All exchange-specific implementations satisfy this
// interface and are selected through the registry by name, never by
// probing a value's shape.
//
// Implementations handle:
// - Exchange-specific symbol formatting (e.g. OKX hyphenates base/quote)
// - Exchange-specific REST payload shapes, normalized to candle.Candle
// - Rate limiting according to exchange requirements
// - Describing the exchange's WebSocket framing to the stream multiplexer
type ExchangeConnector interface {
	// Name returns the lowercase exchange identifier, e.g. "binance".
	Name() string

	// FormatSymbol renders a base/quote asset pair in the exchange's
	// native symbol format, e.g. ("BTC", "USDT") -> "BTCUSDT" on Binance
	// but "BTC-USDT" on OKX.
	FormatSymbol(base, quote string) string

	// GetHistoricalCandles retrieves historical OHLCV data over REST.
	//
	// The returned candles are normalized and boundary-aligned but not
	// deduplicated or sorted; callers store them through the cache, which
	// owns both. Fails with *TransportError on socket/REST errors and
	// *ValidationError on malformed payloads.
	GetHistoricalCandles(ctx context.Context, req CandleRequest) ([]candle.Candle, error)

	// CheckStatus reports whether the exchange's public API is reachable.
	CheckStatus(ctx context.Context) bool

	// StreamProtocol describes the live WebSocket framing for the
	// connection multiplexer.
	StreamProtocol
}

// StreamProtocol describes one exchange's WebSocket protocol to the
// stream multiplexer, which owns the physical sockets. Implementations
// are stateless descriptions; all connection state lives in the
// multiplexer.
type StreamProtocol interface {
	// SocketURL returns the WebSocket endpoint serving the given
	// subscription. Shared-socket exchanges return one URL for every key.
	SocketURL(key candle.SubscriptionKey) string

	// SharedSocket reports whether the exchange multiplexes many
	// subscriptions over one socket (Bybit, MEXC) or dedicates a socket
	// per stream (Binance, OKX).
	SharedSocket() bool

	// SubscribeFrames returns the protocol frames that subscribe the
	// given keys. Shared-socket exchanges batch every key into a single
	// frame; raw-stream endpoints (Binance) return no frames because the
	// URL itself is the subscription.
	SubscribeFrames(keys []candle.SubscriptionKey) []interface{}

	// UnsubscribeFrames returns the protocol frames that unsubscribe the
	// given keys, or nil where the protocol has no unsubscribe support.
	UnsubscribeFrames(keys []candle.SubscriptionKey) []interface{}

	// ParseFrame parses one inbound message into a normalized candle and
	// the subscription key it belongs to. ok is false for heartbeats,
	// command acknowledgements and frames that are not candle pushes.
	ParseFrame(message []byte) (key candle.SubscriptionKey, c candle.Candle, ok bool)
}

// ExchangeOptions defines configuration options for exchange connectors.
type ExchangeOptions struct {
	// RESTBaseURL overrides the exchange's default REST endpoint.
	// Primarily used to point a connector at a test server.
	RESTBaseURL string

	// WSBaseURL overrides the exchange's default WebSocket endpoint.
	WSBaseURL string

	// HTTPTimeout bounds every REST call. An expired timeout is treated
	// as a fetch failure and triggers the stale-cache fallback upstream.
	HTTPTimeout time.Duration

	// MaxRequestsPerSecond controls REST rate limiting for this exchange.
	MaxRequestsPerSecond int

	// WSHeartbeatInterval is the ping frequency on live sockets.
	WSHeartbeatInterval time.Duration
}

// NewExchangeOptions returns default exchange options: 10 second HTTP
// timeout, 10 requests per second, 20 second heartbeat.
func NewExchangeOptions() *ExchangeOptions {
	return &ExchangeOptions{
		HTTPTimeout:          10 * time.Second,
		MaxRequestsPerSecond: 10,
		WSHeartbeatInterval:  20 * time.Second,
	}
}

// CandleRequest defines parameters for historical candle data requests.
type CandleRequest struct {
	// Symbol is the trading pair in exchange-native format
	Symbol string

	// Interval is the canonical bar interval
	Interval candle.Interval

	// Limit is the maximum number of candles to retrieve. Exchanges cap
	// this server-side (typically 1000).
	Limit int

	// StartTime optionally marks the beginning of the requested range
	StartTime time.Time

	// EndTime optionally marks the end of the requested range
	EndTime time.Time
}
