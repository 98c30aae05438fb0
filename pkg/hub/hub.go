// Package hub wires the candle pipeline together behind one explicit
// object. A Hub owns the exchange registry, the in-memory candle cache,
// the WebSocket multiplexer, the historical fetcher and the refresh
// scheduler; callers construct one Hub and pass it around instead of
// reaching for package-level singletons.
package hub

import (
	"context"
	"time"

	"github.com/veiloq/candlestream/pkg/aggregate"
	"github.com/veiloq/candlestream/pkg/cache"
	"github.com/veiloq/candlestream/pkg/candle"
	"github.com/veiloq/candlestream/pkg/exchanges"
	"github.com/veiloq/candlestream/pkg/exchanges/interfaces"
	"github.com/veiloq/candlestream/pkg/fetcher"
	"github.com/veiloq/candlestream/pkg/logging"
	"github.com/veiloq/candlestream/pkg/scheduler"
	"github.com/veiloq/candlestream/pkg/stream"
)

// ExchangeStatus reports one exchange's live-data health.
type ExchangeStatus string

const (
	// StatusLive means a connected socket is delivering candles.
	StatusLive ExchangeStatus = "live"

	// StatusReconnecting means a socket dropped and a reopen is pending.
	StatusReconnecting ExchangeStatus = "reconnecting"

	// StatusNoData means no live subscription exists for the exchange.
	StatusNoData ExchangeStatus = "no data"
)

// Options configures a Hub. The zero value is usable; every field has a
// default.
type Options struct {
	// Exchange is passed through to every registered connector.
	Exchange *interfaces.ExchangeOptions

	// CacheExpiry overrides the cache's freshness window.
	CacheExpiry time.Duration

	// FetchTimeout bounds each historical REST request.
	FetchTimeout time.Duration

	// ReconnectBackoff is the wait before reopening a dropped socket.
	ReconnectBackoff time.Duration

	Logger logging.Logger
}

// Hub is the top-level context object tying the pipeline together.
type Hub struct {
	Registry  *exchanges.Registry
	Cache     *cache.Cache
	Mux       *stream.Multiplexer
	Fetcher   *fetcher.Service
	Scheduler *scheduler.Scheduler

	logger logging.Logger
}

// New constructs a fully wired Hub. The scheduler is created but not
// started; call Scheduler.Start after registering jobs.
func New(opts *Options) *Hub {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger()
	}
	exOpts := opts.Exchange
	if exOpts == nil {
		exOpts = interfaces.NewExchangeOptions()
	}

	registry := exchanges.NewRegistry(exOpts)
	c := cache.New(&cache.Options{
		Expiry: opts.CacheExpiry,
		Logger: opts.Logger,
	})
	mux := stream.NewMultiplexer(&stream.Options{
		ReconnectBackoff: opts.ReconnectBackoff,
		Heartbeat:        exOpts.WSHeartbeatInterval,
		Logger:           opts.Logger,
	})
	f := fetcher.New(registry, c, &fetcher.Options{
		RequestTimeout: opts.FetchTimeout,
		Logger:         opts.Logger,
	})
	sched := scheduler.New(c, &scheduler.Options{Logger: opts.Logger})

	return &Hub{
		Registry:  registry,
		Cache:     c,
		Mux:       mux,
		Fetcher:   f,
		Scheduler: sched,
		logger:    opts.Logger,
	}
}

// Fetch returns historical candles, cache-first. See fetcher.Service.Fetch.
func (h *Hub) Fetch(ctx context.Context, opts fetcher.FetchOptions) ([]candle.Candle, error) {
	return h.Fetcher.Fetch(ctx, opts)
}

// FetchAggregated returns a cross-exchange volume-weighted series. See
// fetcher.Service.FetchAggregated.
func (h *Hub) FetchAggregated(ctx context.Context, opts fetcher.AggregateOptions) (*aggregate.Series, error) {
	return h.Fetcher.FetchAggregated(ctx, opts)
}

// Subscription identifies one live kline subscription for later removal.
type Subscription struct {
	proto interfaces.StreamProtocol
	key   candle.SubscriptionKey
	id    stream.CallbackID
}

// SubscribeLive opens (or reuses) a live kline stream for the given
// series and registers handler on it. Every delivered candle is also
// written into the cache as realtime data, so subsequent Fetch calls on
// the same series see the freshest bar. The returned Subscription must
// be passed to UnsubscribeLive once the caller is done.
func (h *Hub) SubscribeLive(ctx context.Context, exchange, symbol string, interval candle.Interval, handler stream.Handler) (*Subscription, error) {
	if !interval.Valid() {
		return nil, candle.ErrInvalidInterval
	}
	conn, err := h.Registry.Get(exchange)
	if err != nil {
		return nil, err
	}

	key := candle.SubscriptionKey{
		SeriesKey: candle.SeriesKey{
			Exchange: conn.Name(),
			Symbol:   symbol,
			Interval: interval,
		},
		Stream: interfaces.StreamKline,
	}

	id, err := h.Mux.Subscribe(ctx, conn, key, func(k candle.SubscriptionKey, c candle.Candle) {
		h.Cache.Store(k.SeriesKey, []candle.Candle{c}, candle.SourceRealtime)
		handler(k, c)
	})
	if err != nil {
		return nil, err
	}
	return &Subscription{proto: conn, key: key, id: id}, nil
}

// UnsubscribeLive removes a live subscription. When it was the last
// handler on its stream the underlying socket interest is released, and
// when it was the last stream on its socket the socket is closed and any
// pending reconnect is cancelled.
func (h *Hub) UnsubscribeLive(sub *Subscription) error {
	if sub == nil {
		return interfaces.ErrSubscriptionNotFound
	}
	return h.Mux.Unsubscribe(sub.proto, sub.key, sub.id)
}

// Status reports live-data health for one exchange: live when a
// connected socket serves it, reconnecting when a reopen is pending, and
// no data when nothing is subscribed.
func (h *Hub) Status(exchange string) ExchangeStatus {
	conn, err := h.Registry.Get(exchange)
	if err != nil {
		return StatusNoData
	}
	name := conn.Name()

	reconnecting := false
	for _, st := range h.Mux.States() {
		if st.Exchange != name {
			continue
		}
		if st.Connected {
			return StatusLive
		}
		if st.Reconnecting {
			reconnecting = true
		}
	}
	if reconnecting {
		return StatusReconnecting
	}
	return StatusNoData
}

// Close stops the scheduler and tears down every live socket.
func (h *Hub) Close() error {
	h.Scheduler.Stop()
	return h.Mux.Close()
}
