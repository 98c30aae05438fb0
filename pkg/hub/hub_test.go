package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/candlestream/pkg/candle"
	"github.com/veiloq/candlestream/pkg/exchanges/interfaces"
	"github.com/veiloq/candlestream/pkg/fetcher"
	"github.com/veiloq/candlestream/pkg/logging"
	"github.com/veiloq/candlestream/pkg/stream"
	"github.com/veiloq/candlestream/pkg/websocket"
)

// fakeExchange is a minimal connector whose socket points at a local
// mock server, so live subscriptions run against scripted frames.
type fakeExchange struct {
	wsURL   string
	candles []candle.Candle
}

func (f *fakeExchange) Name() string { return "fakex" }

func (f *fakeExchange) FormatSymbol(base, quote string) string { return base + quote }

func (f *fakeExchange) GetHistoricalCandles(ctx context.Context, req interfaces.CandleRequest) ([]candle.Candle, error) {
	return f.candles, nil
}

func (f *fakeExchange) CheckStatus(ctx context.Context) bool { return true }

func (f *fakeExchange) SocketURL(key candle.SubscriptionKey) string { return f.wsURL }

func (f *fakeExchange) SharedSocket() bool { return true }

func (f *fakeExchange) SubscribeFrames(keys []candle.SubscriptionKey) []interface{} {
	return []interface{}{map[string]interface{}{"op": "subscribe"}}
}

func (f *fakeExchange) UnsubscribeFrames(keys []candle.SubscriptionKey) []interface{} {
	return []interface{}{map[string]interface{}{"op": "unsubscribe"}}
}

type fakePush struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	Time     int64   `json:"time"`
	Price    float64 `json:"price"`
	Volume   float64 `json:"volume"`
}

func (f *fakeExchange) ParseFrame(message []byte) (candle.SubscriptionKey, candle.Candle, bool) {
	var push fakePush
	if err := json.Unmarshal(message, &push); err != nil || push.Symbol == "" {
		return candle.SubscriptionKey{}, candle.Candle{}, false
	}
	key := candle.SubscriptionKey{
		SeriesKey: candle.SeriesKey{
			Exchange: f.Name(),
			Symbol:   push.Symbol,
			Interval: candle.Interval(push.Interval),
		},
		Stream: interfaces.StreamKline,
	}
	return key, candle.Candle{
		Time:   push.Time,
		Open:   push.Price,
		High:   push.Price,
		Low:    push.Price,
		Close:  push.Price,
		Volume: push.Volume,
	}, true
}

func newTestHub(t *testing.T, fake *fakeExchange) *Hub {
	t.Helper()
	h := New(&Options{Logger: logging.NewNopLogger()})
	h.Registry.Register(fake)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestNew(t *testing.T) {
	h := New(nil)
	defer h.Close()

	require.NotNil(t, h.Registry)
	require.NotNil(t, h.Cache)
	require.NotNil(t, h.Mux)
	require.NotNil(t, h.Fetcher)
	require.NotNil(t, h.Scheduler)

	// the four public connectors are registered out of the box
	assert.Equal(t, []string{"binance", "bybit", "mexc", "okx"}, h.Registry.Names())
}

func TestFetchDelegatesAndCaches(t *testing.T) {
	base := candle.AlignTime(time.Now().Unix(), candle.Interval1m)
	fake := &fakeExchange{candles: []candle.Candle{
		{Time: base - 60, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Time: base, Open: 1.5, High: 3, Low: 1, Close: 2, Volume: 20},
	}}
	h := newTestHub(t, fake)

	got, err := h.Fetch(context.Background(), fetcher.FetchOptions{
		Exchange: "fakex",
		Symbol:   "BTCUSDT",
		Interval: candle.Interval1m,
		Limit:    2,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	key := candle.SeriesKey{Exchange: "fakex", Symbol: "BTCUSDT", Interval: candle.Interval1m}
	assert.True(t, h.Cache.Has(key), "fetched candles should land in the cache")
}

func TestSubscribeLive(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()

	fake := &fakeExchange{wsURL: server.URL()}
	h := newTestHub(t, fake)

	received := make(chan candle.Candle, 4)
	sub, err := h.SubscribeLive(context.Background(), "fakex", "BTCUSDT", candle.Interval1m, func(k candle.SubscriptionKey, c candle.Candle) {
		received <- c
	})
	require.NoError(t, err)
	require.NotNil(t, sub)

	assert.Equal(t, StatusLive, h.Status("fakex"))

	frame, _ := json.Marshal(fakePush{
		Symbol:   "BTCUSDT",
		Interval: string(candle.Interval1m),
		Time:     1700000040,
		Price:    105.5,
		Volume:   3,
	})
	server.Broadcast(frame)

	select {
	case c := <-received:
		assert.Equal(t, int64(1700000040), c.Time)
		assert.Equal(t, 105.5, c.Close)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live candle")
	}

	t.Run("live candles are cached as realtime", func(t *testing.T) {
		key := candle.SeriesKey{Exchange: "fakex", Symbol: "BTCUSDT", Interval: candle.Interval1m}
		require.Eventually(t, func() bool {
			cached := h.Cache.Get(key, 1)
			return len(cached) == 1 && cached[0].Close == 105.5
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("unsubscribe releases the socket", func(t *testing.T) {
		require.NoError(t, h.UnsubscribeLive(sub))
		assert.Empty(t, h.Mux.States())
		assert.Equal(t, StatusNoData, h.Status("fakex"))
	})
}

func TestSubscribeLiveValidation(t *testing.T) {
	h := newTestHub(t, &fakeExchange{})
	nop := stream.Handler(func(k candle.SubscriptionKey, c candle.Candle) {})

	t.Run("invalid interval", func(t *testing.T) {
		_, err := h.SubscribeLive(context.Background(), "fakex", "BTCUSDT", candle.Interval("7m"), nop)
		assert.ErrorIs(t, err, candle.ErrInvalidInterval)
	})

	t.Run("unknown exchange", func(t *testing.T) {
		_, err := h.SubscribeLive(context.Background(), "kraken", "BTCUSDT", candle.Interval1m, nop)
		assert.ErrorIs(t, err, interfaces.ErrUnsupportedExchange)
	})
}

func TestUnsubscribeLiveNil(t *testing.T) {
	h := newTestHub(t, &fakeExchange{})
	assert.ErrorIs(t, h.UnsubscribeLive(nil), interfaces.ErrSubscriptionNotFound)
}

func TestStatus(t *testing.T) {
	h := newTestHub(t, &fakeExchange{})

	t.Run("unknown exchange", func(t *testing.T) {
		assert.Equal(t, StatusNoData, h.Status("kraken"))
	})

	t.Run("no subscriptions", func(t *testing.T) {
		assert.Equal(t, StatusNoData, h.Status("fakex"))
	})
}

func TestCloseTearsDownSockets(t *testing.T) {
	server := websocket.NewMockServer()
	defer server.Close()

	fake := &fakeExchange{wsURL: server.URL()}
	h := New(&Options{Logger: logging.NewNopLogger()})
	h.Registry.Register(fake)

	_, err := h.SubscribeLive(context.Background(), "fakex", "BTCUSDT", candle.Interval1m, func(k candle.SubscriptionKey, c candle.Candle) {})
	require.NoError(t, err)

	require.NoError(t, h.Close())
	assert.Empty(t, h.Mux.States())
}
