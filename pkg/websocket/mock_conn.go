package websocket

import (
	"context"
	"sync"
	"time"
)

// MockConn implements the Conn interface for testing. It records call
// counts, supports error injection, and can simulate inbound messages and
// disconnects through the handlers the owner registered.
type MockConn struct {
	mu sync.RWMutex

	connected    bool
	onMessage    MessageHandler
	onDisconnect DisconnectHandler
	sent         []interface{}

	// For verifying test expectations
	connectCalls int
	sendCalls    int
	closeCalls   int

	// For simulating errors
	connectError error
	sendError    error
	closeError   error
}

// NewMockConn creates a new mock connection for testing. The handlers are
// the same pair a real connection would be constructed with.
func NewMockConn(onMessage MessageHandler, onDisconnect DisconnectHandler) *MockConn {
	return &MockConn{
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
	}
}

// Connect implements the Conn interface.
func (m *MockConn) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connectCalls++
	if m.connectError != nil {
		return m.connectError
	}

	m.connected = true
	return nil
}

// Close implements the Conn interface.
func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeCalls++
	if m.closeError != nil {
		return m.closeError
	}

	m.connected = false
	return nil
}

// Send implements the Conn interface.
func (m *MockConn) Send(message interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendCalls++
	if m.sendError != nil {
		return m.sendError
	}

	m.sent = append(m.sent, message)
	return nil
}

// IsConnected implements the Conn interface.
func (m *MockConn) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Metrics implements the Conn interface.
func (m *MockConn) Metrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		ConnectedTime: time.Now(),
		ConnectCount:  int64(m.connectCalls),
	}
}

// SimulateMessage delivers a message as if it arrived on the wire.
func (m *MockConn) SimulateMessage(message []byte) {
	m.mu.RLock()
	handler := m.onMessage
	m.mu.RUnlock()

	if handler != nil {
		handler(message)
	}
}

// SimulateDisconnect drops the connection and fires the disconnect hook.
func (m *MockConn) SimulateDisconnect(err error) {
	m.mu.Lock()
	m.connected = false
	handler := m.onDisconnect
	m.mu.Unlock()

	if handler != nil {
		handler(err)
	}
}

// Error injection

func (m *MockConn) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectError = err
}

func (m *MockConn) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendError = err
}

func (m *MockConn) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeError = err
}

// Call-count accessors

func (m *MockConn) GetConnectCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectCalls
}

func (m *MockConn) GetSendCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sendCalls
}

func (m *MockConn) GetCloseCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closeCalls
}

// SentMessages returns a copy of everything passed to Send.
func (m *MockConn) SentMessages() []interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]interface{}, len(m.sent))
	copy(out, m.sent)
	return out
}
