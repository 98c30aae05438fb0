// Package candlestream ingests OHLCV candles from cryptocurrency
// exchanges, normalizes them into one canonical form, caches them in
// memory and serves both single-exchange series and cross-exchange
// volume-weighted aggregates.
//
// The library speaks to four spot exchanges out of the box: Binance,
// OKX, Bybit and MEXC. Historical data comes in over each exchange's
// public REST API; live data streams in over WebSocket through a shared
// connection multiplexer that supervises reconnects and fans frames out
// to subscribers.
//
// Core features:
//
//   - Canonical candle model with epoch-second timestamps aligned to
//     interval boundaries, regardless of what the exchange sends
//   - In-memory cache with source-priority deduplication (realtime
//     beats historical beats mock) and freshness tracking
//   - Cache-first historical fetching with over-fetch multipliers per
//     interval and a stale-cache fallback when an exchange is down
//   - Cross-exchange VWAP aggregation with gap filling
//   - One multiplexer for all live sockets, with batched subscribes on
//     shared-socket exchanges and cancellable reconnect timers
//   - Background refresh scheduling with jitter for popular symbols
//
// Everything hangs off an explicit Hub instead of package-level state:
//
//	h := hub.New(nil)
//	defer h.Close()
//
//	candles, err := h.Fetch(ctx, fetcher.FetchOptions{
//	    Exchange: "binance",
//	    Symbol:   "BTCUSDT",
//	    Interval: candle.Interval1h,
//	    Limit:    100,
//	    TryCache: true,
//	})
//
// Cross-exchange aggregation collects the same market from several
// exchanges and quote assets and merges the series by volume-weighted
// average price:
//
//	series, err := h.FetchAggregated(ctx, fetcher.AggregateOptions{
//	    BaseAsset:   "BTC",
//	    QuoteAssets: []string{"USDT", "USDC"},
//	    Exchanges:   []string{"binance", "okx", "bybit"},
//	    Interval:    candle.Interval1h,
//	    Limit:       100,
//	})
//
// Live streaming delivers every closed and in-progress bar to a handler
// and keeps the cache current as a side effect:
//
//	sub, err := h.SubscribeLive(ctx, "bybit", "BTCUSDT", candle.Interval1m,
//	    func(key candle.SubscriptionKey, c candle.Candle) {
//	        fmt.Printf("%s close=%.2f vol=%.4f\n", key.Symbol, c.Close, c.Volume)
//	    })
//	defer h.UnsubscribeLive(sub)
//
// # Errors
//
// Failures surface through a small taxonomy in pkg/exchanges/interfaces:
//
//   - TransportError wraps network and REST failures and matches
//     errors.Is(err, interfaces.ErrExchangeUnavailable)
//   - ValidationError wraps malformed exchange payloads
//   - ErrUnsupportedExchange is returned for unknown exchange names
//   - ErrNoAggregationSources is returned when every aggregation source
//     failed or came back empty
//
// A fetch that fails against the exchange still succeeds when the cache
// holds data for the series; the stale candles are served and the
// failure is logged.
package candlestream
