package bybit

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

func TestFormatSymbol(t *testing.T) {
	c := NewConnector(nil)
	assert.Equal(t, "bybit", c.Name())
	assert.Equal(t, "BTCUSDT", c.FormatSymbol("BTC", "USDT"))
	assert.Equal(t, "SOLUSDC", c.FormatSymbol("sol", "usdc"))
}

func TestGetHistoricalCandles(t *testing.T) {
	t.Run("reverses the newest-first list", func(t *testing.T) {
		var gotQuery string
		c := testConnector(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v5/market/kline", r.URL.Path)
			gotQuery = r.URL.RawQuery
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"category":"spot","symbol":"BTCUSDT","list":[
				["1700002800000","101.0","102.0","100.5","101.5","8.1","820000"],
				["1699999200000","100.5","101.0","99.5","101.0","12.34","1240000"]
			]}}`))
		})

		candles, err := c.GetHistoricalCandles(context.Background(), interfaces.CandleRequest{
			Symbol:   "BTCUSDT",
			Interval: candle.Interval1h,
			Limit:    2,
		})
		require.NoError(t, err)
		require.Len(t, candles, 2)

		assert.Contains(t, gotQuery, "category=spot")
		assert.Contains(t, gotQuery, "symbol=BTCUSDT")
		assert.Contains(t, gotQuery, "interval=60")

		// ascending after the reversal
		assert.Equal(t, int64(1699999200), candles[0].Time)
		assert.Equal(t, int64(1700002800), candles[1].Time)
		assert.Equal(t, 101.5, candles[1].Close)
	})

	t.Run("api error code", func(t *testing.T) {
		c := testConnector(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
		})

		_, err := c.GetHistoricalCandles(context.Background(), interfaces.CandleRequest{
			Symbol: "BTCUSDT", Interval: candle.Interval1h, Limit: 10,
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, interfaces.ErrExchangeUnavailable)
	})

	t.Run("unsupported interval", func(t *testing.T) {
		c := NewConnector(nil)
		_, err := c.GetHistoricalCandles(context.Background(), interfaces.CandleRequest{
			Symbol: "BTCUSDT", Interval: "2w", Limit: 10,
		})
		assert.ErrorIs(t, err, candle.ErrInvalidInterval)
	})

	t.Run("daily interval wire code", func(t *testing.T) {
		var gotQuery string
		c := testConnector(t, func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.RawQuery
			w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[]}}`))
		})

		_, err := c.GetHistoricalCandles(context.Background(), interfaces.CandleRequest{
			Symbol: "BTCUSDT", Interval: candle.Interval1d, Limit: 10,
		})
		require.NoError(t, err)
		assert.Contains(t, gotQuery, "interval=D")
	})
}

func TestStreamProtocol(t *testing.T) {
	c := NewConnector(nil)
	btc := candle.SubscriptionKey{
		SeriesKey: candle.SeriesKey{Exchange: "bybit", Symbol: "BTCUSDT", Interval: candle.Interval1h},
		Stream:    interfaces.StreamKline,
	}
	eth := candle.SubscriptionKey{
		SeriesKey: candle.SeriesKey{Exchange: "bybit", Symbol: "ETHUSDT", Interval: candle.Interval1m},
		Stream:    interfaces.StreamKline,
	}

	t.Run("one shared socket", func(t *testing.T) {
		assert.True(t, c.SharedSocket())
		assert.Equal(t, "wss://stream.bybit.com/v5/public/spot", c.SocketURL(btc))
		assert.Equal(t, c.SocketURL(btc), c.SocketURL(eth))
	})

	t.Run("topics batched into one frame", func(t *testing.T) {
		frames := c.SubscribeFrames([]candle.SubscriptionKey{btc, eth})
		require.Len(t, frames, 1)
		op := frames[0].(wsOp)
		assert.Equal(t, "subscribe", op.Op)
		assert.Equal(t, []string{"kline.60.BTCUSDT", "kline.1.ETHUSDT"}, op.Args)
	})

	t.Run("unsubscribe frame", func(t *testing.T) {
		frames := c.UnsubscribeFrames([]candle.SubscriptionKey{btc})
		require.Len(t, frames, 1)
		op := frames[0].(wsOp)
		assert.Equal(t, "unsubscribe", op.Op)
		assert.Equal(t, []string{"kline.60.BTCUSDT"}, op.Args)
	})
}

func TestParseFrame(t *testing.T) {
	c := NewConnector(nil)

	t.Run("kline push", func(t *testing.T) {
		message := []byte(`{
			"topic":"kline.60.BTCUSDT","type":"snapshot","ts":1700000050000,
			"data":[{"start":1699999200000,"end":1700002799999,"interval":"60",
				"open":"100.5","close":"100.75","high":"101.0","low":"99.5",
				"volume":"12.34","turnover":"1240000","confirm":false,"timestamp":1700000050000}]
		}`)

		key, cdl, ok := c.ParseFrame(message)
		require.True(t, ok)
		assert.Equal(t, "bybit", key.Exchange)
		assert.Equal(t, "BTCUSDT", key.Symbol)
		assert.Equal(t, candle.Interval1h, key.Interval)
		assert.Equal(t, int64(1699999200), cdl.Time)
		assert.Equal(t, 100.75, cdl.Close)
		assert.Equal(t, 12.34, cdl.Volume)
	})

	t.Run("subscribe ack skipped", func(t *testing.T) {
		_, _, ok := c.ParseFrame([]byte(`{"success":true,"op":"subscribe","conn_id":"abc"}`))
		assert.False(t, ok)
	})

	t.Run("other topic skipped", func(t *testing.T) {
		_, _, ok := c.ParseFrame([]byte(`{"topic":"tickers.BTCUSDT","data":[{"start":1}]}`))
		assert.False(t, ok)
	})

	t.Run("garbage skipped", func(t *testing.T) {
		_, _, ok := c.ParseFrame([]byte(`|||`))
		assert.False(t, ok)
	})
}
