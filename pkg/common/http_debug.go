package common

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/veiloq/candlestream/pkg/logging"
	"github.com/veiloq/candlestream/pkg/ratelimit"
)

// DebugClientConfig holds configuration for the HTTP debug client
type DebugClientConfig struct {
	// Inherits the base client configuration
	*ClientConfig

	// Debug-specific settings
	LogRequestBody  bool
	LogResponseBody bool

	// Maximum size of request/response body to log. Exchange kline
	// responses can run to hundreds of kilobytes.
	MaxBodyLogSize int
}

// DefaultDebugConfig returns a default debug client configuration
func DefaultDebugConfig() *DebugClientConfig {
	return &DebugClientConfig{
		ClientConfig:    DefaultConfig(),
		LogRequestBody:  true,
		LogResponseBody: true,
		MaxBodyLogSize:  4096,
	}
}

// NewDebugHTTPClient creates an HTTP client that dumps every exchange
// request and response at debug level. Intended for protocol work against
// a new exchange endpoint, not for production traffic.
func NewDebugHTTPClient(config *DebugClientConfig) HTTPClient {
	if config == nil {
		config = DefaultDebugConfig()
	}

	_, isZapLogger := config.Logger.(*logging.ZapLogger)
	if !isZapLogger {
		config.Logger = logging.NewZapLogger(
			logging.WithDebugLevel(),
			logging.WithDevelopmentMode(),
		)
	}

	return &debugClient{
		client: NewHTTPClient(config.ClientConfig).(*client),
		config: config,
	}
}

// debugClient implements the HTTPClient interface with additional debug logging
type debugClient struct {
	client *client
	config *DebugClientConfig
}

// Do implements HTTPClient interface with debug logging
func (c *debugClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	start := time.Now()

	c.logRequest(req)

	resp, err := c.client.Do(ctx, req)

	duration := time.Since(start)
	if err != nil {
		c.logError(req, err, duration)
		return nil, err
	}

	c.logResponse(req, resp, duration)
	return resp, nil
}

// Get implements HTTPClient interface
func (c *debugClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	return c.Do(ctx, req)
}

// GetJSON implements HTTPClient interface
func (c *debugClient) GetJSON(ctx context.Context, url string, out interface{}) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response from %s: %w", url, err)
	}
	return nil
}

// Post implements HTTPClient interface
func (c *debugClient) Post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url,
		bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	return c.Do(ctx, req)
}

// SetRateLimit implements HTTPClient interface
func (c *debugClient) SetRateLimit(limit ratelimit.Rate) error {
	return c.client.SetRateLimit(limit)
}

// logRequest logs detailed information about the HTTP request
func (c *debugClient) logRequest(req *http.Request) {
	logger := c.client.logger

	var reqDump []byte
	var err error

	if c.config.LogRequestBody && req.Body != nil {
		bodyBytes, bodyErr := io.ReadAll(req.Body)
		if bodyErr != nil {
			logger.Warn("failed to read request body for logging", logging.Error(bodyErr))
		} else {
			logBody := c.truncate(bodyBytes)
			reqDump, err = httputil.DumpRequestOut(req, false)
			if err == nil {
				reqDump = append(reqDump, "\r\n"...)
				reqDump = append(reqDump, logBody...)
			}
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	} else {
		reqDump, err = httputil.DumpRequestOut(req, c.config.LogRequestBody)
	}

	if err != nil {
		logger.Warn("failed to dump request for logging", logging.Error(err))
	}

	logger.Debug("http request",
		logging.String("method", req.Method),
		logging.String("url", req.URL.String()),
		logging.String("host", req.Host),
		logging.Int("headers", len(req.Header)),
		logging.String("dump", string(reqDump)))
}

// logResponse logs detailed information about the HTTP response
func (c *debugClient) logResponse(req *http.Request, resp *http.Response, duration time.Duration) {
	logger := c.client.logger

	var respDump []byte
	var err error

	if c.config.LogResponseBody && resp.Body != nil {
		bodyBytes, bodyErr := io.ReadAll(resp.Body)
		if bodyErr != nil {
			logger.Warn("failed to read response body for logging", logging.Error(bodyErr))
		} else {
			logBody := c.truncate(bodyBytes)
			respDump, err = httputil.DumpResponse(resp, false)
			if err == nil {
				respDump = append(respDump, "\r\n"...)
				respDump = append(respDump, logBody...)
			}
			resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	} else {
		respDump, err = httputil.DumpResponse(resp, c.config.LogResponseBody)
	}

	if err != nil {
		logger.Warn("failed to dump response for logging", logging.Error(err))
	}

	logger.Debug("http response",
		logging.String("method", req.Method),
		logging.String("url", req.URL.String()),
		logging.Int("status", resp.StatusCode),
		logging.String("status_text", resp.Status),
		logging.Int("headers", len(resp.Header)),
		logging.Duration("duration", duration),
		logging.String("dump", string(respDump)))
}

func (c *debugClient) truncate(body []byte) []byte {
	if len(body) <= c.config.MaxBodyLogSize {
		return body
	}
	c.client.logger.Debug("body truncated for logging",
		logging.Int("original_size", len(body)),
		logging.Int("logged_size", c.config.MaxBodyLogSize))
	return body[:c.config.MaxBodyLogSize]
}

// logError logs detailed information about an HTTP error
func (c *debugClient) logError(req *http.Request, err error, duration time.Duration) {
	c.client.logger.Error("http request failed",
		logging.String("method", req.Method),
		logging.String("url", req.URL.String()),
		logging.Duration("duration", duration),
		logging.Error(err))
}
