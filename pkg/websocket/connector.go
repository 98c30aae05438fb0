// Package websocket manages a single physical WebSocket connection: dial
// with retry, read pump, ping heartbeat, serialized writes, and metrics.
// It deliberately does not decide what happens after a disconnect; the
// owner registers an OnDisconnect hook and drives the reconnect policy,
// which lets the stream multiplexer cancel a pending reconnect when the
// last subscriber leaves.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/gorilla/websocket"

	"github.com/veiloq/candlestream/pkg/logging"
)

// MessageHandler receives every inbound text message from the socket.
type MessageHandler func(message []byte)

// DisconnectHandler is invoked once when the socket drops for any reason
// other than an explicit Close. err is the read error that ended the pump.
type DisconnectHandler func(err error)

// Conn is one physical WebSocket connection.
type Conn interface {
	// Connect dials the configured URL and starts the read pump and
	// heartbeat. It may be called again after a disconnect.
	Connect(ctx context.Context) error

	// Close cleanly shuts down the connection. No DisconnectHandler is
	// fired for an explicit close.
	Close() error

	// Send writes a message to the socket. []byte payloads are sent
	// verbatim, everything else is marshaled to JSON.
	Send(message interface{}) error

	// IsConnected reports the current connection status.
	IsConnected() bool

	// Metrics returns connection and message statistics.
	Metrics() Metrics
}

// Config holds WebSocket connection configuration
type Config struct {
	URL               string
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	DialRetries       uint
	DialRetryDelay    time.Duration
}

// DefaultConfig returns connection defaults: 20s heartbeat, 10s handshake
// timeout, three dial attempts with one-second backoff.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		HeartbeatInterval: 20 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		DialRetries:       3,
		DialRetryDelay:    time.Second,
	}
}

// Metrics holds connection and message statistics
type Metrics struct {
	ConnectedTime time.Time
	MessageCount  int64
	ConnectCount  int64
	ErrorCount    int64
}

// conn implements the Conn interface
type conn struct {
	config       Config
	onMessage    MessageHandler
	onDisconnect DisconnectHandler

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	done      chan struct{}
	closed    bool

	writeMu sync.Mutex

	metrics   Metrics
	metricsMu sync.RWMutex

	logger logging.Logger
}

// NewConn creates a connection with the given configuration and handlers.
// onDisconnect may be nil when the owner does not care about drops.
func NewConn(config Config, onMessage MessageHandler, onDisconnect DisconnectHandler, logger logging.Logger) Conn {
	if logger == nil {
		logger = logging.NewLogger()
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 20 * time.Second
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.DialRetries == 0 {
		config.DialRetries = 3
	}
	if config.DialRetryDelay <= 0 {
		config.DialRetryDelay = time.Second
	}

	return &conn{
		config:       config,
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
		logger:       logger.WithFields(logging.String("url", config.URL)),
	}
}

// Connect implements the Conn interface.
func (c *conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("context already cancelled: %w", ctx.Err())
	}

	c.logger.Debug("dialing websocket",
		logging.Duration("heartbeat", c.config.HeartbeatInterval),
	)

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	var ws *websocket.Conn
	err := retry.Do(
		func() error {
			var err error
			ws, _, err = dialer.DialContext(ctx, c.config.URL, nil)
			return err
		},
		retry.Attempts(c.config.DialRetries),
		retry.Delay(c.config.DialRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.recordError()
			c.logger.Warn("dial attempt failed",
				logging.Int("attempt", int(n+1)),
				logging.Error(err),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	c.ws = ws
	c.connected = true
	c.closed = false
	c.done = make(chan struct{})

	c.metricsMu.Lock()
	c.metrics.ConnectedTime = time.Now()
	c.metrics.ConnectCount++
	c.metricsMu.Unlock()

	go c.readPump(c.ws, c.done)
	go c.heartbeat(c.ws, c.done)

	c.logger.Info("websocket connected")
	return nil
}

// readPump continuously reads messages until the socket drops or Close is
// called. The ws and done arguments pin the generation this pump serves,
// so a stale pump can never tear down a newer connection.
func (c *conn) readPump(ws *websocket.Conn, done chan struct{}) {
	var readErr error

	defer func() {
		_ = ws.Close()

		c.mu.Lock()
		explicit := c.closed
		if c.ws == ws {
			c.connected = false
			if !c.closed {
				close(done)
				c.closed = true
			}
		}
		c.mu.Unlock()

		c.logger.Debug("read pump stopped")

		if !explicit && c.onDisconnect != nil {
			c.onDisconnect(readErr)
		}
	}()

	deadline := c.config.HeartbeatInterval * 3
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		select {
		case <-done:
			return
		default:
		}

		_ = ws.SetReadDeadline(time.Now().Add(deadline))
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("read error", logging.Error(err))
				c.recordError()
			}
			readErr = err
			return
		}

		c.metricsMu.Lock()
		c.metrics.MessageCount++
		c.metricsMu.Unlock()

		c.dispatch(message)
	}
}

// dispatch hands one message to the owner, isolating handler panics from
// the read pump.
func (c *conn) dispatch(message []byte) {
	if c.onMessage == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panic recovered",
				logging.String("panic", fmt.Sprintf("%v", r)),
			)
		}
	}()
	c.onMessage(message)
}

// heartbeat sends periodic ping frames to keep the connection alive.
func (c *conn) heartbeat(ws *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// Send implements the Conn interface.
func (c *conn) Send(message interface{}) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.connected
	c.mu.Unlock()

	if !connected || ws == nil {
		return fmt.Errorf("websocket not connected")
	}

	data, ok := message.([]byte)
	if !ok {
		var err error
		data, err = json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteMessage(websocket.TextMessage, data)
}

// IsConnected implements the Conn interface.
func (c *conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Metrics implements the Conn interface.
func (c *conn) Metrics() Metrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

// Close implements the Conn interface.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed || c.ws == nil {
		c.mu.Unlock()
		return nil
	}
	close(c.done)
	c.closed = true
	c.connected = false
	ws := c.ws
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed connection"))
	c.writeMu.Unlock()

	err := ws.Close()
	if err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
		return err
	}
	return nil
}

func (c *conn) recordError() {
	c.metricsMu.Lock()
	c.metrics.ErrorCount++
	c.metricsMu.Unlock()
}
