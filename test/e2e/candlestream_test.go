package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/avast/retry-go"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/candlestream/pkg/candle"
	"github.com/veiloq/candlestream/pkg/fetcher"
	"github.com/veiloq/candlestream/pkg/hub"
	"github.com/veiloq/candlestream/pkg/logging"
)

// TestCandleStream_E2E exercises the full pipeline against the real
// public exchange APIs: historical REST fetches, cache behavior,
// cross-exchange aggregation and a live kline subscription.
//
// To run this test:
// go test -v ./test/e2e
func TestCandleStream_E2E(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}

	logger := logging.NewLogger()
	logger.SetLevel(logging.DEBUG)

	runningInCI := os.Getenv("CI") != ""

	h := hub.New(&hub.Options{
		FetchTimeout: 30 * time.Second,
		Logger:       logger,
	})
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	t.Run("Fetch", func(t *testing.T) {
		candles, err := h.Fetch(ctx, fetcher.FetchOptions{
			Exchange: "binance",
			Symbol:   "BTCUSDT",
			Interval: candle.Interval1h,
			Limit:    24,
		})
		require.NoError(t, err, "failed to fetch candles")
		require.Len(t, candles, 24)

		for i, c := range candles {
			require.Greater(t, c.Close, float64(0))
			require.GreaterOrEqual(t, c.High, c.Low)
			if i > 0 {
				require.Greater(t, c.Time, candles[i-1].Time, "candles must be ascending")
			}
		}
	})

	t.Run("FetchCacheHit", func(t *testing.T) {
		// same series again, this time allowing the cache
		start := time.Now()
		candles, err := h.Fetch(ctx, fetcher.FetchOptions{
			Exchange: "binance",
			Symbol:   "BTCUSDT",
			Interval: candle.Interval1h,
			Limit:    24,
			TryCache: true,
		})
		require.NoError(t, err, "failed to fetch candles from cache")
		require.Len(t, candles, 24)
		require.Less(t, time.Since(start), 100*time.Millisecond, "fresh cache should answer without a REST round trip")
	})

	t.Run("FetchAggregated", func(t *testing.T) {
		series, err := h.FetchAggregated(ctx, fetcher.AggregateOptions{
			BaseAsset:   "BTC",
			QuoteAssets: []string{"USDT"},
			Exchanges:   []string{"binance", "bybit", "okx"},
			Interval:    candle.Interval1h,
			Limit:       12,
		})
		require.NoError(t, err, "failed to fetch aggregated series")
		require.NotEmpty(t, series.Candles)
		require.True(t, series.IsAggregated, "expected at least two exchanges to contribute")
		require.GreaterOrEqual(t, series.SourceCount, 2)
	})

	t.Run("Status", func(t *testing.T) {
		require.Equal(t, hub.StatusNoData, h.Status("binance"), "no live subscription yet")
	})

	t.Run("SubscribeLive", func(t *testing.T) {
		if runningInCI {
			t.Skip("skipping live subscription test in CI")
		}

		candleCh := make(chan candle.Candle, 10)
		sub, err := h.SubscribeLive(ctx, "bybit", "BTCUSDT", candle.Interval1m, func(k candle.SubscriptionKey, c candle.Candle) {
			select {
			case candleCh <- c:
			default:
			}
		})
		require.NoError(t, err, "failed to subscribe to live candles")
		defer func() {
			require.NoError(t, h.UnsubscribeLive(sub))
		}()

		require.Equal(t, hub.StatusLive, h.Status("bybit"))

		var received bool
		err = retry.Do(
			func() error {
				select {
				case c := <-candleCh:
					if c.Close > 0 {
						received = true
						return nil
					}
				default:
				}
				return fmt.Errorf("waiting for live candle")
			},
			retry.Attempts(30),
			retry.Delay(1*time.Second),
			retry.DelayType(retry.FixedDelay),
			retry.OnRetry(func(n uint, err error) {
				t.Logf("Retry %d: waiting for live candle", n+1)
			}),
		)
		require.NoError(t, err, "timeout waiting for live candle")
		require.True(t, received, "did not receive a live candle")

		// the live candle must also have landed in the cache
		key := candle.SeriesKey{Exchange: "bybit", Symbol: "BTCUSDT", Interval: candle.Interval1m}
		require.True(t, h.Cache.Has(key), "live candles should be cached")
	})
}
