package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket is a Transport that holds a persistent full-duplex connection to the
// server and exchanges one JSON document per text frame. A background receive
// loop decodes inbound frames and pushes them through the OnMessage handler; a
// close signal from the peer terminates the loop and marks the transport
// disconnected.
//
// WebSocket is asynchronous: Send always returns a nil response. Instances
// should be created using NewWebSocket.
type WebSocket struct {
	url       string
	protocols []string
	headers   map[string]string
	logger    *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	handler    func(msg JSONRPCMessage)
	connected  bool
	readerDone chan struct{}
}

// WebSocketOption represents the options for the WebSocket transport.
type WebSocketOption func(*WebSocket)

// NewWebSocket creates a WebSocket transport dialing the given URL when Connect
// is called.
func NewWebSocket(url string, options ...WebSocketOption) *WebSocket {
	w := &WebSocket{
		url:    url,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

// WithWebSocketProtocols sets the subprotocols offered during connection
// negotiation.
func WithWebSocketProtocols(protocols []string) WebSocketOption {
	return func(w *WebSocket) {
		w.protocols = protocols
	}
}

// WithWebSocketHeaders sets additional headers sent with the connection upgrade
// request.
func WithWebSocketHeaders(headers map[string]string) WebSocketOption {
	return func(w *WebSocket) {
		w.headers = headers
	}
}

// WithWebSocketLogger sets the logger for the transport.
func WithWebSocketLogger(logger *slog.Logger) WebSocketOption {
	return func(w *WebSocket) {
		w.logger = logger
	}
}

// OnMessage registers the delivery callback invoked by the receive loop for
// every message decoded from an inbound frame.
func (w *WebSocket) OnMessage(handler func(msg JSONRPCMessage)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = handler
}

// Connect opens the connection, negotiating the configured subprotocols and
// headers, and starts the background receive loop.
func (w *WebSocket) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.connected {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
		Subprotocols:     w.protocols,
	}

	header := http.Header{}
	for k, v := range w.headers {
		header.Set(k, v)
	}

	conn, resp, err := dialer.DialContext(ctx, w.url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("failed to connect via WebSocket to %s: %w", w.url, err)
	}

	w.conn = conn
	w.connected = true
	w.readerDone = make(chan struct{})

	go w.readMessages(conn, w.readerDone)

	w.logger.Info("connected to MCP server via WebSocket", slog.String("url", w.url))
	return nil
}

// Send encodes the message and writes it as one text frame. WebSocket is
// asynchronous, so the returned response is always nil.
func (w *WebSocket) Send(_ context.Context, msg JSONRPCMessage) (*JSONRPCMessage, error) {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	// The connection permits a single concurrent writer, so writes stay under the lock.
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.connected {
		return nil, ErrNotConnected
	}

	if err := w.conn.WriteMessage(websocket.TextMessage, msgBs); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	return nil, nil
}

// Disconnect closes the connection and waits for the receive loop to finish with
// a bounded wait. It is safe to call when already disconnected.
func (w *WebSocket) Disconnect(_ context.Context) error {
	w.mu.Lock()

	w.connected = false
	if w.conn == nil {
		w.mu.Unlock()
		return nil
	}
	conn := w.conn
	readerDone := w.readerDone
	w.conn = nil
	w.mu.Unlock()

	if err := conn.Close(); err != nil {
		w.logger.Warn("failed to close WebSocket", slog.String("err", err.Error()))
	}

	if readerDone != nil {
		select {
		case <-readerDone:
		case <-time.After(time.Second):
		}
	}

	w.logger.Info("disconnected from MCP server via WebSocket")
	return nil
}

// Connected reports whether the connection is established and the receive loop
// is running.
func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

func (w *WebSocket) readMessages(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Error("failed to read from WebSocket", slog.String("err", err.Error()))
			} else {
				w.logger.Info("WebSocket connection closed")
			}

			w.mu.Lock()
			w.connected = false
			w.mu.Unlock()
			return
		}

		var msg JSONRPCMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// A malformed frame must not take down the session; drop it and keep reading.
			w.logger.Error("invalid JSON received via WebSocket", slog.String("err", err.Error()))
			continue
		}

		w.mu.Lock()
		handler := w.handler
		w.mu.Unlock()

		if handler != nil {
			handler(msg)
		}
	}
}
