package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/candlestream/pkg/logging"
	"github.com/veiloq/candlestream/pkg/ratelimit"
)

func testClient(t *testing.T, handler http.HandlerFunc) (HTTPClient, string) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewHTTPClient(&ClientConfig{
		Timeout:    2 * time.Second,
		RateLimit:  ratelimit.Rate{Limit: 100, Interval: time.Second},
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		Logger:     logging.NewNopLogger(),
	}), server.URL
}

func TestDoRetries(t *testing.T) {
	t.Run("retries 5xx until success", func(t *testing.T) {
		var hits atomic.Int32
		c, url := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"upstream hiccup"}`))
				return
			}
			w.Write([]byte(`{"ok":true}`))
		})

		var out struct {
			OK bool `json:"ok"`
		}
		require.NoError(t, c.GetJSON(context.Background(), url, &out))
		assert.True(t, out.OK)
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("4xx not retried", func(t *testing.T) {
		var hits atomic.Int32
		c, url := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusNotFound)
		})

		var out map[string]interface{}
		err := c.GetJSON(context.Background(), url, &out)
		require.Error(t, err)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("429 retried", func(t *testing.T) {
		var hits atomic.Int32
		c, url := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"slow down"}`))
				return
			}
			w.Write([]byte(`{}`))
		})

		var out map[string]interface{}
		require.NoError(t, c.GetJSON(context.Background(), url, &out))
		assert.Equal(t, int32(2), hits.Load())
	})
}
