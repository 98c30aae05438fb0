package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/candlestream/pkg/candle"
	"github.com/veiloq/candlestream/pkg/exchanges/interfaces"
)

func testConnector(t *testing.T, handler http.HandlerFunc) *Connector {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewConnector(&interfaces.ExchangeOptions{
		RESTBaseURL:          server.URL,
		HTTPTimeout:          2 * time.Second,
		MaxRequestsPerSecond: 100,
	})
}

func TestName(t *testing.T) {
	assert.Equal(t, "binance", NewConnector(nil).Name())
}

func TestFormatSymbol(t *testing.T) {
	c := NewConnector(nil)
	assert.Equal(t, "BTCUSDT", c.FormatSymbol("BTC", "USDT"))
	assert.Equal(t, "ETHUSDC", c.FormatSymbol("eth", "usdc"))
}

func TestGetHistoricalCandles(t *testing.T) {
	t.Run("parses kline rows", func(t *testing.T) {
		var gotPath, gotQuery string
		c := testConnector(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			w.Write([]byte(`[
				[1700000040000,"100.5","101.0","99.5","100.75","12.34",1700000099999,"0",0,"0","0","0"],
				[1700000100000,"100.75","102.0","100.5","101.5","8.1",1700000159999,"0",0,"0","0","0"]
			]`))
		})

		candles, err := c.GetHistoricalCandles(context.Background(), interfaces.CandleRequest{
			Symbol:   "BTCUSDT",
			Interval: candle.Interval1m,
			Limit:    2,
		})
		require.NoError(t, err)
		require.Len(t, candles, 2)

		assert.Equal(t, "/api/v3/klines", gotPath)
		assert.Contains(t, gotQuery, "symbol=BTCUSDT")
		assert.Contains(t, gotQuery, "interval=1m")
		assert.Contains(t, gotQuery, "limit=2")

		assert.Equal(t, int64(1700000040), candles[0].Time)
		assert.Equal(t, 100.5, candles[0].Open)
		assert.Equal(t, 100.75, candles[0].Close)
		assert.Equal(t, 12.34, candles[0].Volume)
		assert.Equal(t, int64(1700000100), candles[1].Time)
	})

	t.Run("passes time range in milliseconds", func(t *testing.T) {
		var gotQuery string
		c := testConnector(t, func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			w.Write([]byte(`[]`))
		})

		_, err := c.GetHistoricalCandles(context.Background(), interfaces.CandleRequest{
			Symbol:    "BTCUSDT",
			Interval:  candle.Interval1h,
			Limit:     10,
			StartTime: time.Unix(1700000000, 0),
			EndTime:   time.Unix(1700003600, 0),
		})
		require.NoError(t, err)
		assert.Contains(t, gotQuery, "startTime=1700000000000")
		assert.Contains(t, gotQuery, "endTime=1700003600000")
	})

	t.Run("unsupported interval", func(t *testing.T) {
		c := NewConnector(nil)
		_, err := c.GetHistoricalCandles(context.Background(), interfaces.CandleRequest{
			Symbol: "BTCUSDT", Interval: "2w", Limit: 10,
		})
		assert.ErrorIs(t, err, candle.ErrInvalidInterval)
	})

	t.Run("http error wrapped as transport error", func(t *testing.T) {
		c := testConnector(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})

		_, err := c.GetHistoricalCandles(context.Background(), interfaces.CandleRequest{
			Symbol: "BTCUSDT", Interval: candle.Interval1m, Limit: 10,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, interfaces.ErrExchangeUnavailable)
	})

	t.Run("malformed row wrapped as validation error", func(t *testing.T) {
		c := testConnector(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[[1700000040000,"not a number","1","1","1","1"]]`))
		})

		_, err := c.GetHistoricalCandles(context.Background(), interfaces.CandleRequest{
			Symbol: "BTCUSDT", Interval: candle.Interval1m, Limit: 10,
		})
		require.Error(t, err)
		var verr *interfaces.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestCheckStatus(t *testing.T) {
	t.Run("reachable", func(t *testing.T) {
		c := testConnector(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v3/ping", r.URL.Path)
			w.Write([]byte(`{}`))
		})
		assert.True(t, c.CheckStatus(context.Background()))
	})

	t.Run("unreachable", func(t *testing.T) {
		c := NewConnector(&interfaces.ExchangeOptions{
			RESTBaseURL: "http://127.0.0.1:1",
			HTTPTimeout: 200 * time.Millisecond,
		})
		assert.False(t, c.CheckStatus(context.Background()))
	})
}

func TestStreamProtocol(t *testing.T) {
	c := NewConnector(nil)
	key := candle.SubscriptionKey{
		SeriesKey: candle.SeriesKey{Exchange: "binance", Symbol: "BTCUSDT", Interval: candle.Interval1h},
		Stream:    interfaces.StreamKline,
	}

	t.Run("raw stream url", func(t *testing.T) {
		assert.Equal(t, "wss://stream.binance.com:9443/ws/btcusdt@kline_1h", c.SocketURL(key))
		assert.False(t, c.SharedSocket())
	})

	t.Run("no protocol frames", func(t *testing.T) {
		assert.Nil(t, c.SubscribeFrames([]candle.SubscriptionKey{key}))
		assert.Nil(t, c.UnsubscribeFrames([]candle.SubscriptionKey{key}))
	})
}

func TestParseFrame(t *testing.T) {
	c := NewConnector(nil)

	t.Run("kline push", func(t *testing.T) {
		message := []byte(`{
			"e":"kline","E":1700000050000,"s":"BTCUSDT",
			"k":{"t":1700000040000,"T":1700000099999,"s":"BTCUSDT","i":"1m",
				"o":"100.5","c":"100.75","h":"101.0","l":"99.5","v":"12.34"}
		}`)

		key, cdl, ok := c.ParseFrame(message)
		require.True(t, ok)
		assert.Equal(t, "binance", key.Exchange)
		assert.Equal(t, "BTCUSDT", key.Symbol)
		assert.Equal(t, candle.Interval1m, key.Interval)
		assert.Equal(t, interfaces.StreamKline, key.Stream)
		assert.Equal(t, int64(1700000040), cdl.Time)
		assert.Equal(t, 100.75, cdl.Close)
		assert.Equal(t, 12.34, cdl.Volume)
	})

	t.Run("open time wins over close time", func(t *testing.T) {
		// close time lands in the next bucket, so a field mixup between
		// "t" and "T" would survive alignment
		message := []byte(`{
			"e":"kline","E":1700000100123,"s":"BTCUSDT",
			"k":{"t":1700000040000,"T":1700000100000,"s":"BTCUSDT","i":"1m",
				"o":"100.5","c":"100.75","h":"101.0","l":"99.5","v":"12.34"}
		}`)

		_, cdl, ok := c.ParseFrame(message)
		require.True(t, ok)
		assert.Equal(t, int64(1700000040), cdl.Time)
	})

	t.Run("non-kline events skipped", func(t *testing.T) {
		_, _, ok := c.ParseFrame([]byte(`{"e":"trade","s":"BTCUSDT"}`))
		assert.False(t, ok)
	})

	t.Run("garbage skipped", func(t *testing.T) {
		_, _, ok := c.ParseFrame([]byte(`not json`))
		assert.False(t, ok)
	})

	t.Run("unknown interval skipped", func(t *testing.T) {
		_, _, ok := c.ParseFrame([]byte(`{"e":"kline","s":"BTCUSDT","k":{"t":1700000040000,"i":"3m","o":"1","h":"1","l":"1","c":"1","v":"1"}}`))
		assert.False(t, ok)
	})
}
