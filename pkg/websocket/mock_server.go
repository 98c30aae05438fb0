package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// MockServer is an httptest-backed WebSocket server used to exercise the
// real connection against scripted exchange behavior: broadcast pushes,
// dropped connections, rejected upgrades.
type MockServer struct {
	server *httptest.Server
	url    string

	connections   map[*websocket.Conn]bool
	connectionsMu sync.RWMutex
	onConnect     func(*websocket.Conn)
	onDisconnect  func(*websocket.Conn)
	onMessage     func(*websocket.Conn, []byte)
	messageBuffer [][]byte

	// For simulating errors
	rejectConnections bool
	dropConnections   bool
	flagsMu           sync.Mutex
}

// NewMockServer creates a new mock WebSocket server
func NewMockServer() *MockServer {
	mock := &MockServer{
		connections:   make(map[*websocket.Conn]bool),
		messageBuffer: make([][]byte, 0),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handleConnection))
	mock.url = "ws" + strings.TrimPrefix(mock.server.URL, "http")

	return mock
}

// URL returns the WebSocket URL of the mock server
func (m *MockServer) URL() string {
	return m.url
}

// Close shuts down the mock server
func (m *MockServer) Close() {
	m.server.Close()
}

// SetRejectConnection configures whether the server should reject new connections
func (m *MockServer) SetRejectConnection(reject bool) {
	m.flagsMu.Lock()
	defer m.flagsMu.Unlock()
	m.rejectConnections = reject
}

// SetDropConnection configures whether the server should drop existing connections
func (m *MockServer) SetDropConnection(drop bool) {
	m.flagsMu.Lock()
	defer m.flagsMu.Unlock()
	m.dropConnections = drop
}

// OnConnect sets a callback for when a client connects
func (m *MockServer) OnConnect(callback func(*websocket.Conn)) {
	m.onConnect = callback
}

// OnDisconnect sets a callback for when a client disconnects
func (m *MockServer) OnDisconnect(callback func(*websocket.Conn)) {
	m.onDisconnect = callback
}

// OnMessage sets a callback for when a message is received
func (m *MockServer) OnMessage(callback func(*websocket.Conn, []byte)) {
	m.onMessage = callback
}

// Broadcast sends a message to all connected clients. Typically used to
// push a scripted kline frame at every subscriber.
func (m *MockServer) Broadcast(message []byte) {
	m.connectionsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(m.connections))
	for conn := range m.connections {
		conns = append(conns, conn)
	}
	m.connectionsMu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			m.removeConnection(conn)
		}
	}
}

// GetConnectionCount returns the number of active connections
func (m *MockServer) GetConnectionCount() int {
	m.connectionsMu.RLock()
	defer m.connectionsMu.RUnlock()
	return len(m.connections)
}

// GetMessageBuffer returns a copy of every message received so far
func (m *MockServer) GetMessageBuffer() [][]byte {
	m.connectionsMu.RLock()
	defer m.connectionsMu.RUnlock()

	messages := make([][]byte, len(m.messageBuffer))
	copy(messages, m.messageBuffer)
	return messages
}

// ClearMessageBuffer clears the message buffer
func (m *MockServer) ClearMessageBuffer() {
	m.connectionsMu.Lock()
	defer m.connectionsMu.Unlock()
	m.messageBuffer = make([][]byte, 0)
}

// handleConnection handles incoming WebSocket connections
func (m *MockServer) handleConnection(w http.ResponseWriter, r *http.Request) {
	m.flagsMu.Lock()
	reject := m.rejectConnections
	m.flagsMu.Unlock()
	if reject {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	m.addConnection(conn)
	if m.onConnect != nil {
		m.onConnect(conn)
	}

	defer func() {
		m.removeConnection(conn)
		if m.onDisconnect != nil {
			m.onDisconnect(conn)
		}
		conn.Close()
	}()

	for {
		m.flagsMu.Lock()
		drop := m.dropConnections
		m.flagsMu.Unlock()
		if drop {
			return
		}

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if messageType == websocket.TextMessage {
			m.connectionsMu.Lock()
			m.messageBuffer = append(m.messageBuffer, message)
			m.connectionsMu.Unlock()

			if m.onMessage != nil {
				m.onMessage(conn, message)
			}
		}
	}
}

// addConnection adds a connection to the tracking map
func (m *MockServer) addConnection(conn *websocket.Conn) {
	m.connectionsMu.Lock()
	defer m.connectionsMu.Unlock()
	m.connections[conn] = true
}

// removeConnection removes a connection from the tracking map
func (m *MockServer) removeConnection(conn *websocket.Conn) {
	m.connectionsMu.Lock()
	defer m.connectionsMu.Unlock()
	delete(m.connections, conn)
}

// setupMockServer creates a mock server scoped to one test.
func setupMockServer(t *testing.T) (*MockServer, string) {
	t.Helper()
	mock := NewMockServer()
	t.Cleanup(func() {
		mock.Close()
	})
	return mock, mock.URL()
}
