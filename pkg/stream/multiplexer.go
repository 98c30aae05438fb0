// Package stream owns the physical WebSocket connections to the
// exchanges and fans inbound candle frames out to every interested
// subscriber. Subscribers are tracked by opaque callback IDs, so
// unsubscribe and equality are well-defined and no handler reference is
// retained past removal. Reconnection is supervised through cancellable
// timers: when the last subscriber of a connection leaves, any pending
// reconnect for it is cancelled rather than resurrecting a socket nobody
// wants.
package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veiloq/candlestream/pkg/candle"
	"github.com/veiloq/candlestream/pkg/exchanges/interfaces"
	"github.com/veiloq/candlestream/pkg/logging"
	"github.com/veiloq/candlestream/pkg/websocket"
)

// DefaultReconnectBackoff is the wait before reopening a dropped socket
// that still has subscribers.
const DefaultReconnectBackoff = 5 * time.Second

// Handler receives every live candle delivered for a subscription key.
// Handlers are invoked synchronously in wire order for one key; a panic
// in one handler is recovered and never blocks delivery to siblings.
type Handler func(key candle.SubscriptionKey, c candle.Candle)

// CallbackID identifies one registered handler.
type CallbackID uint64

// ConnState describes one managed connection for status reporting.
type ConnState struct {
	Exchange     string
	Connected    bool
	Reconnecting bool
	Subscribers  int
	Metrics      websocket.Metrics
}

// Options configures a Multiplexer.
type Options struct {
	// ReconnectBackoff overrides DefaultReconnectBackoff
	ReconnectBackoff time.Duration

	// Heartbeat is passed through to each socket
	Heartbeat time.Duration

	Logger logging.Logger
}

// Multiplexer owns the sockets and subscription tables for live candle
// streams across all exchanges.
type Multiplexer struct {
	mu            sync.Mutex
	connections   map[string]*managedConn
	subscriptions map[candle.SubscriptionKey]map[CallbackID]Handler
	nextID        CallbackID

	backoff   time.Duration
	heartbeat time.Duration
	logger    logging.Logger
	closed    bool

	// dial is swapped in tests to substitute mock connections
	dial func(cfg websocket.Config, onMessage websocket.MessageHandler, onDisconnect websocket.DisconnectHandler, logger logging.Logger) websocket.Conn
}

// managedConn is one physical socket plus the subscription keys bound to
// it.
type managedConn struct {
	id    string
	proto interfaces.StreamProtocol
	sock  websocket.Conn
	keys  map[candle.SubscriptionKey]struct{}

	// reconnect is the pending backoff timer, nil when none is scheduled
	reconnect *time.Timer
}

// NewMultiplexer creates an empty multiplexer.
func NewMultiplexer(opts *Options) *Multiplexer {
	if opts == nil {
		opts = &Options{}
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = DefaultReconnectBackoff
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 20 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger()
	}

	return &Multiplexer{
		connections:   make(map[string]*managedConn),
		subscriptions: make(map[candle.SubscriptionKey]map[CallbackID]Handler),
		nextID:        1,
		backoff:       opts.ReconnectBackoff,
		heartbeat:     opts.Heartbeat,
		logger:        opts.Logger,
		dial:          websocket.NewConn,
	}
}

// connID computes the arena key for the connection serving a
// subscription. Shared-socket protocols get one connection per exchange;
// the rest get one per stream.
func connID(proto interfaces.StreamProtocol, key candle.SubscriptionKey) string {
	if proto.SharedSocket() {
		return key.Exchange
	}
	return key.Exchange + "/" + key.Symbol + "/" + string(key.Interval) + "/" + key.Stream
}

// Subscribe registers a handler for live candles under key. If a usable
// connection already exists it is reused, with an incremental protocol
// subscribe sent on shared sockets; otherwise a socket is opened and the
// initial subscribe frames are sent once it is up. The returned
// CallbackID is the caller's handle for Unsubscribe.
func (m *Multiplexer) Subscribe(ctx context.Context, proto interfaces.StreamProtocol, key candle.SubscriptionKey, handler Handler) (CallbackID, error) {
	if handler == nil {
		return 0, fmt.Errorf("stream: nil handler")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, fmt.Errorf("stream: multiplexer closed")
	}

	id := m.nextID
	m.nextID++

	cbs, exists := m.subscriptions[key]
	if !exists {
		cbs = make(map[CallbackID]Handler)
		m.subscriptions[key] = cbs
	}
	cbs[id] = handler

	cid := connID(proto, key)
	mc, ok := m.connections[cid]
	if ok {
		if _, bound := mc.keys[key]; !bound {
			mc.keys[key] = struct{}{}
			if mc.sock.IsConnected() {
				// Incremental subscribe on an already-open shared socket
				m.sendFrames(mc, mc.proto.SubscribeFrames([]candle.SubscriptionKey{key}))
			}
		}
		return id, nil
	}

	mc = &managedConn{
		id:    cid,
		proto: proto,
		keys:  map[candle.SubscriptionKey]struct{}{key: {}},
	}
	mc.sock = m.dial(
		websocket.Config{
			URL:               proto.SocketURL(key),
			HeartbeatInterval: m.heartbeat,
		},
		func(message []byte) { m.fanOut(proto, message) },
		func(err error) { m.handleDisconnect(cid, err) },
		m.logger,
	)
	m.connections[cid] = mc

	if err := mc.sock.Connect(ctx); err != nil {
		delete(m.connections, cid)
		m.removeCallback(key, id)
		return 0, fmt.Errorf("stream: open connection %s: %w", cid, err)
	}
	m.sendFrames(mc, proto.SubscribeFrames([]candle.SubscriptionKey{key}))

	m.logger.Info("stream subscribed",
		logging.String("key", key.String()),
		logging.String("conn", cid),
	)
	return id, nil
}

// removeCallback drops one registration. Caller holds m.mu.
func (m *Multiplexer) removeCallback(key candle.SubscriptionKey, id CallbackID) {
	if cbs, ok := m.subscriptions[key]; ok {
		delete(cbs, id)
		if len(cbs) == 0 {
			delete(m.subscriptions, key)
		}
	}
}

// Unsubscribe removes one callback. When it was the last for its key, a
// protocol unsubscribe frame is sent where the protocol supports it; when
// the key was the last on its connection, the socket is closed and any
// pending reconnect is cancelled.
func (m *Multiplexer) Unsubscribe(proto interfaces.StreamProtocol, key candle.SubscriptionKey, id CallbackID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cbs, ok := m.subscriptions[key]
	if !ok {
		return interfaces.ErrSubscriptionNotFound
	}
	if _, ok := cbs[id]; !ok {
		return interfaces.ErrSubscriptionNotFound
	}
	delete(cbs, id)
	if len(cbs) > 0 {
		return nil
	}
	delete(m.subscriptions, key)

	cid := connID(proto, key)
	mc, ok := m.connections[cid]
	if !ok {
		return nil
	}
	delete(mc.keys, key)

	if mc.sock.IsConnected() {
		m.sendFrames(mc, mc.proto.UnsubscribeFrames([]candle.SubscriptionKey{key}))
	}

	if len(mc.keys) == 0 {
		m.dropConnLocked(mc)
	}
	return nil
}

// dropConnLocked closes a connection and cancels its pending reconnect.
// Caller holds m.mu.
func (m *Multiplexer) dropConnLocked(mc *managedConn) {
	if mc.reconnect != nil {
		mc.reconnect.Stop()
		mc.reconnect = nil
	}
	_ = mc.sock.Close()
	delete(m.connections, mc.id)
	m.logger.Info("stream connection closed", logging.String("conn", mc.id))
}

// fanOut parses one inbound frame and delivers the candle to every
// callback registered for the resolved key.
func (m *Multiplexer) fanOut(proto interfaces.StreamProtocol, message []byte) {
	key, cdl, ok := proto.ParseFrame(message)
	if !ok {
		return
	}

	m.mu.Lock()
	cbs := m.subscriptions[key]
	handlers := make([]Handler, 0, len(cbs))
	for _, h := range cbs {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		m.deliver(h, key, cdl)
	}
}

// deliver invokes one handler, isolating panics from sibling delivery.
func (m *Multiplexer) deliver(h Handler, key candle.SubscriptionKey, cdl candle.Candle) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscriber callback panic recovered",
				logging.String("key", key.String()),
				logging.String("panic", fmt.Sprintf("%v", r)),
			)
		}
	}()
	h(key, cdl)
}

// handleDisconnect reacts to a socket drop. If subscribers remain for the
// connection, a reconnect is scheduled after the fixed backoff; otherwise
// the connection is discarded.
func (m *Multiplexer) handleDisconnect(cid string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.connections[cid]
	if !ok || m.closed {
		return
	}
	if len(mc.keys) == 0 {
		m.dropConnLocked(mc)
		return
	}

	if err != nil {
		m.logger.Warn("stream connection lost",
			logging.String("conn", cid),
			logging.Error(err),
		)
	}
	m.scheduleReconnectLocked(mc)
}

// scheduleReconnectLocked arms the backoff timer for one connection.
// Caller holds m.mu.
func (m *Multiplexer) scheduleReconnectLocked(mc *managedConn) {
	if mc.reconnect != nil {
		return
	}
	mc.reconnect = time.AfterFunc(m.backoff, func() { m.redial(mc.id) })
	m.logger.Info("stream reconnect scheduled",
		logging.String("conn", mc.id),
		logging.Duration("backoff", m.backoff),
	)
}

// redial reopens a dropped connection and resubscribes every key bound to
// it. Shared-socket protocols batch all keys into one frame. On failure
// the backoff timer is re-armed, so reconnection retries indefinitely
// while subscribers remain.
func (m *Multiplexer) redial(cid string) {
	m.mu.Lock()
	mc, ok := m.connections[cid]
	if !ok || m.closed {
		m.mu.Unlock()
		return
	}
	mc.reconnect = nil
	if len(mc.keys) == 0 {
		m.dropConnLocked(mc)
		m.mu.Unlock()
		return
	}
	sock := mc.sock
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := sock.Connect(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok = m.connections[cid]
	if !ok || m.closed || mc.sock != sock {
		// the last subscriber left, or Close ran, or the connection was
		// rebuilt while the dial was in flight; the dialed socket has no
		// owner anymore and must not stay open
		_ = sock.Close()
		return
	}

	if err != nil {
		m.logger.Warn("stream reconnect failed",
			logging.String("conn", cid),
			logging.Error(err),
		)
		m.scheduleReconnectLocked(mc)
		return
	}

	keys := make([]candle.SubscriptionKey, 0, len(mc.keys))
	for key := range mc.keys {
		keys = append(keys, key)
	}
	m.sendFrames(mc, mc.proto.SubscribeFrames(keys))
	m.logger.Info("stream reconnected",
		logging.String("conn", cid),
		logging.Int("resubscribed", len(keys)),
	)
}

// sendFrames writes protocol frames to a connection, logging failures.
// Caller holds m.mu.
func (m *Multiplexer) sendFrames(mc *managedConn, frames []interface{}) {
	for _, frame := range frames {
		if err := mc.sock.Send(frame); err != nil {
			m.logger.Warn("failed to send protocol frame",
				logging.String("conn", mc.id),
				logging.Error(err),
			)
		}
	}
}

// States reports the current state of every managed connection.
func (m *Multiplexer) States() []ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make([]ConnState, 0, len(m.connections))
	for _, mc := range m.connections {
		subs := 0
		for key := range mc.keys {
			subs += len(m.subscriptions[key])
		}
		exchange := ""
		for key := range mc.keys {
			exchange = key.Exchange
			break
		}
		states = append(states, ConnState{
			Exchange:     exchange,
			Connected:    mc.sock.IsConnected(),
			Reconnecting: mc.reconnect != nil,
			Subscribers:  subs,
			Metrics:      mc.sock.Metrics(),
		})
	}
	return states
}

// StateFor reports the state of the connection serving key, if any.
func (m *Multiplexer) StateFor(proto interfaces.StreamProtocol, key candle.SubscriptionKey) (ConnState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.connections[connID(proto, key)]
	if !ok {
		return ConnState{}, false
	}
	return ConnState{
		Exchange:     key.Exchange,
		Connected:    mc.sock.IsConnected(),
		Reconnecting: mc.reconnect != nil,
		Subscribers:  len(m.subscriptions[key]),
		Metrics:      mc.sock.Metrics(),
	}, true
}

// Close tears down every connection and cancels all pending reconnects.
// The multiplexer cannot be reused afterwards.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	for _, mc := range m.connections {
		if mc.reconnect != nil {
			mc.reconnect.Stop()
			mc.reconnect = nil
		}
		_ = mc.sock.Close()
	}
	m.connections = make(map[string]*managedConn)
	m.subscriptions = make(map[candle.SubscriptionKey]map[CallbackID]Handler)
	return nil
}
