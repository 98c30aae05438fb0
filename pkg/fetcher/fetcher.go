// Package fetcher orchestrates historical candle retrieval: cache-first
// reads with freshness checks, adaptive over-fetching so alignment and
// dedup do not thin the series below the caller's limit, stale-cache
// fallback when an exchange is down, and the parallel all-settled fan-out
// behind aggregated queries.
package fetcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/veiloq/candlestream/pkg/aggregate"
	"github.com/veiloq/candlestream/pkg/cache"
	"github.com/veiloq/candlestream/pkg/candle"
	"github.com/veiloq/candlestream/pkg/exchanges"
	"github.com/veiloq/candlestream/pkg/exchanges/interfaces"
	"github.com/veiloq/candlestream/pkg/logging"
)

// DefaultRequestTimeout bounds each REST fetch. Expiry counts as a fetch
// failure and triggers the stale-cache fallback.
const DefaultRequestTimeout = 10 * time.Second

// FetchOptions parameterizes a single-series fetch.
type FetchOptions struct {
	Exchange string
	Symbol   string
	Interval candle.Interval

	// Limit is the number of candles the caller wants back
	Limit int

	// StartTime optionally bounds the requested range. A ranged request
	// always goes to the exchange; the freshness-based cache read only
	// knows about the newest candles.
	StartTime time.Time

	// EndTime optionally bounds the requested range
	EndTime time.Time

	// TryCache allows serving from cache when the entry is fresh
	TryCache bool

	// ForceFresh bypasses the cache read even when TryCache is set
	ForceFresh bool
}

// AggregateOptions parameterizes an aggregated fetch across several
// exchange/quote sources for one base asset.
type AggregateOptions struct {
	BaseAsset   string
	QuoteAssets []string
	Exchanges   []string
	Interval    candle.Interval
	Limit       int
}

// Service is the historical candle fetcher.
type Service struct {
	registry *exchanges.Registry
	cache    *cache.Cache
	logger   logging.Logger
	timeout  time.Duration
}

// Options configures a Service.
type Options struct {
	// RequestTimeout overrides DefaultRequestTimeout
	RequestTimeout time.Duration

	Logger logging.Logger
}

// New creates a fetcher over the given registry and cache.
func New(registry *exchanges.Registry, c *cache.Cache, opts *Options) *Service {
	if opts == nil {
		opts = &Options{}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger()
	}

	return &Service{
		registry: registry,
		cache:    c,
		logger:   opts.Logger,
		timeout:  opts.RequestTimeout,
	}
}

// Fetch returns up to opts.Limit candles for one series, ascending by
// time. The cache is consulted first unless ForceFresh is set; a REST
// fetch that fails falls back to whatever the cache holds, stale or not,
// before surfacing an error.
func (s *Service) Fetch(ctx context.Context, opts FetchOptions) ([]candle.Candle, error) {
	if !opts.Interval.Valid() {
		return nil, fmt.Errorf("%w: %q", candle.ErrInvalidInterval, opts.Interval)
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	key := candle.SeriesKey{Exchange: opts.Exchange, Symbol: opts.Symbol, Interval: opts.Interval}
	ranged := !opts.StartTime.IsZero() || !opts.EndTime.IsZero()

	if opts.TryCache && !opts.ForceFresh && !ranged && s.cache.Fresh(key, opts.Limit) {
		s.logger.Debug("serving candles from cache", logging.String("key", key.String()))
		return s.cache.Get(key, opts.Limit), nil
	}

	connector, err := s.registry.Get(opts.Exchange)
	if err != nil {
		return nil, err
	}

	// Over-fetch so enough raw points survive alignment and dedup
	adjusted := int(float64(opts.Limit) * opts.Interval.LimitMultiplier())

	fetchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	candles, err := connector.GetHistoricalCandles(fetchCtx, interfaces.CandleRequest{
		Symbol:    opts.Symbol,
		Interval:  opts.Interval,
		Limit:     adjusted,
		StartTime: opts.StartTime,
		EndTime:   opts.EndTime,
	})
	if err == nil && len(candles) == 0 {
		err = interfaces.NewTransportError(opts.Exchange, "klines", interfaces.ErrEmptyResponse)
	}
	if err != nil {
		// Serving stale data beats serving an error, but the cache tail
		// cannot stand in for an explicit time range
		if !ranged && s.cache.Has(key) {
			s.logger.Warn("fetch failed, serving stale cache",
				logging.String("key", key.String()),
				logging.Error(err),
			)
			return s.cache.Get(key, opts.Limit), nil
		}
		return nil, err
	}

	s.cache.Store(key, candles, candle.SourceHistorical)
	if ranged {
		// the cache view is newest-limit across the whole series, which
		// is the wrong window here; answer with the ranged result itself
		sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
		return candles, nil
	}
	return s.cache.Get(key, opts.Limit), nil
}

// sourceResult is one slot of the aggregated fan-out.
type sourceResult struct {
	key     candle.SeriesKey
	candles []candle.Candle
	err     error
}

// FetchAggregated builds the (exchange x quote asset) cross product of
// candidate symbols, fetches every series in parallel, discards the
// failed and empty ones, and merges the rest into one volume-weighted
// series. All-settled semantics: one source's failure never fails the
// aggregation, only zero surviving sources does.
func (s *Service) FetchAggregated(ctx context.Context, opts AggregateOptions) (*aggregate.Series, error) {
	if !opts.Interval.Valid() {
		return nil, fmt.Errorf("%w: %q", candle.ErrInvalidInterval, opts.Interval)
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	type candidate struct {
		exchange string
		symbol   string
	}

	var candidates []candidate
	for _, exchange := range opts.Exchanges {
		connector, err := s.registry.Get(exchange)
		if err != nil {
			s.logger.Warn("skipping unknown exchange", logging.String("exchange", exchange))
			continue
		}
		for _, quote := range opts.QuoteAssets {
			candidates = append(candidates, candidate{
				exchange: exchange,
				symbol:   connector.FormatSymbol(opts.BaseAsset, quote),
			})
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidate sources for %s", interfaces.ErrNoAggregationSources, opts.BaseAsset)
	}

	results := make([]sourceResult, len(candidates))
	var wg sync.WaitGroup
	for i, cand := range candidates {
		wg.Add(1)
		go func(i int, cand candidate) {
			defer wg.Done()
			candles, err := s.Fetch(ctx, FetchOptions{
				Exchange: cand.exchange,
				Symbol:   cand.symbol,
				Interval: opts.Interval,
				Limit:    opts.Limit,
				TryCache: true,
			})
			results[i] = sourceResult{
				key:     candle.SeriesKey{Exchange: cand.exchange, Symbol: cand.symbol, Interval: opts.Interval},
				candles: candles,
				err:     err,
			}
		}(i, cand)
	}
	wg.Wait()

	sources := make([][]candle.Candle, 0, len(results))
	for _, res := range results {
		if res.err != nil {
			s.logger.Debug("aggregation source discarded",
				logging.String("key", res.key.String()),
				logging.Error(res.err),
			)
			continue
		}
		if len(res.candles) == 0 {
			continue
		}
		sources = append(sources, res.candles)
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: %s across %d candidates",
			interfaces.ErrNoAggregationSources, opts.BaseAsset, len(candidates))
	}

	series := aggregate.Merge(sources, opts.Interval, opts.Limit)
	s.logger.Info("aggregated series built",
		logging.String("base", opts.BaseAsset),
		logging.Int("sources", series.SourceCount),
		logging.Int("candles", len(series.Candles)),
		logging.Bool("aggregated", series.IsAggregated),
	)
	return &series, nil
}
