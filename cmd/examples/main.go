package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veiloq/candlestream/pkg/candle"
	"github.com/veiloq/candlestream/pkg/fetcher"
	"github.com/veiloq/candlestream/pkg/hub"
	"github.com/veiloq/candlestream/pkg/logging"
	"github.com/veiloq/candlestream/pkg/scheduler"
)

func main() {
	// Create logger
	logger := logging.NewLogger()
	logger.SetLevel(logging.DEBUG)

	// Create the hub with default cache, fetcher and multiplexer settings
	h := hub.New(&hub.Options{
		FetchTimeout: 15 * time.Second,
		Logger:       logger,
	})
	defer h.Close()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fetch historical candles (cache-first)
	logger.Info("fetching historical candles")
	candles, err := h.Fetch(ctx, fetcher.FetchOptions{
		Exchange: "binance",
		Symbol:   "BTCUSDT",
		Interval: candle.Interval1h,
		Limit:    24,
		TryCache: true,
	})
	if err != nil {
		logger.Error("failed to fetch candles", logging.Error(err))
		os.Exit(1)
	}

	for _, c := range candles {
		logger.Info("historical candle",
			logging.String("time", time.Unix(c.Time, 0).UTC().Format(time.RFC3339)),
			logging.Float64("open", c.Open),
			logging.Float64("close", c.Close),
			logging.Float64("volume", c.Volume),
		)
	}

	// Fetch a cross-exchange volume-weighted series
	logger.Info("fetching aggregated candles")
	series, err := h.FetchAggregated(ctx, fetcher.AggregateOptions{
		BaseAsset:   "BTC",
		QuoteAssets: []string{"USDT", "USDC"},
		Exchanges:   []string{"binance", "okx", "bybit"},
		Interval:    candle.Interval1h,
		Limit:       24,
	})
	if err != nil {
		logger.Error("failed to fetch aggregated candles", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("aggregated series",
		logging.Int("candles", len(series.Candles)),
		logging.Int("sources", series.SourceCount),
		logging.Bool("aggregated", series.IsAggregated),
	)

	// Subscribe to live candle updates
	logger.Info("subscribing to live candles")
	sub, err := h.SubscribeLive(ctx, "bybit", "BTCUSDT", candle.Interval1m,
		func(key candle.SubscriptionKey, c candle.Candle) {
			logger.Info("live candle",
				logging.String("exchange", key.Exchange),
				logging.String("symbol", key.Symbol),
				logging.String("time", time.Unix(c.Time, 0).UTC().Format(time.RFC3339)),
				logging.Float64("close", c.Close),
				logging.Float64("volume", c.Volume),
			)
		})
	if err != nil {
		logger.Error("failed to subscribe", logging.Error(err))
		os.Exit(1)
	}
	defer func() {
		if err := h.UnsubscribeLive(sub); err != nil {
			logger.Warn("failed to unsubscribe", logging.Error(err))
		}
	}()

	// Keep popular series fresh in the background
	h.Scheduler.SchedulePopularSymbols(h.Fetcher, []scheduler.WatchEntry{
		{Exchange: "binance", Symbol: "BTCUSDT"},
		{Exchange: "bybit", Symbol: "ETHUSDT"},
	}, []candle.Interval{candle.Interval1m, candle.Interval1h}, 5*time.Minute)
	h.Scheduler.Start()

	// Report live-data status once the socket is up
	time.Sleep(2 * time.Second)
	logger.Info("exchange status", logging.String("bybit", string(h.Status("bybit"))))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
}
