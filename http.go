package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTP is a stateless Transport that carries one protocol message per POST request
// to a configured URL and reads the protocol message back from the response body.
//
// HTTP is the only synchronous transport: Send returns the decoded response
// directly and the OnMessage handler is never invoked, since there is no
// persistent channel the server could push messages through. For the same reason
// the Client suppresses the "initialized" notification over this transport.
//
// Instances should be created using NewHTTP.
type HTTP struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	handler   func(msg JSONRPCMessage)
	connected bool
}

// HTTPOption represents the options for the HTTP transport.
type HTTPOption func(*HTTP)

// NewHTTP creates an HTTP transport posting to the given URL. The URL is prefixed
// with "http://" when it carries no scheme.
func NewHTTP(url string, options ...HTTPOption) *HTTP {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}

	h := &HTTP{
		url:    url,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(h)
	}

	if h.httpClient == nil {
		h.httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return h
}

// WithHTTPHeaders sets additional headers carried by every request.
func WithHTTPHeaders(headers map[string]string) HTTPOption {
	return func(h *HTTP) {
		h.headers = headers
	}
}

// WithHTTPTimeout sets the per-request timeout. The default is 30 seconds.
func WithHTTPTimeout(timeout time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.httpClient = &http.Client{Timeout: timeout}
	}
}

// WithHTTPClient sets a custom HTTP client, overriding any timeout configured
// through WithHTTPTimeout.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.httpClient = client
	}
}

// WithHTTPLogger sets the logger for the transport.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(h *HTTP) {
		h.logger = logger
	}
}

// OnMessage registers the delivery callback. HTTP never delivers messages
// asynchronously, so the handler is retained only to satisfy the Transport
// contract.
func (h *HTTP) OnMessage(handler func(msg JSONRPCMessage)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Connect verifies the endpoint speaks the protocol by sending a synthetic
// initialize request and requiring a 200 response whose body is a
// version-tagged message carrying a result. Any other status or shape fails
// the connect and leaves the transport disconnected.
func (h *HTTP) Connect(ctx context.Context) error {
	preflight := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      "test_connection",
		Method:  methodInitialize,
		Params:  json.RawMessage(`{"protocolVersion":"` + ProtocolVersion + `","capabilities":{}}`),
	}

	res, status, err := h.post(ctx, preflight)
	if err != nil {
		return fmt.Errorf("failed to connect via HTTP to %s: %w", h.url, err)
	}

	// The preflight demands exactly 200; Send tolerates the whole 2xx range.
	if status != http.StatusOK {
		return fmt.Errorf("failed to connect via HTTP to %s: unexpected status code: %d", h.url, status)
	}

	if res.JSONRPC != JSONRPCVersion || len(res.Result) == 0 {
		return fmt.Errorf("%s did not return a valid MCP initialize response", h.url)
	}

	h.mu.Lock()
	h.connected = true
	h.mu.Unlock()

	h.logger.Info("connected to MCP server via HTTP", slog.String("url", h.url))
	return nil
}

// Send issues one POST carrying the encoded message and returns the decoded
// response body directly.
func (h *HTTP) Send(ctx context.Context, msg JSONRPCMessage) (*JSONRPCMessage, error) {
	h.mu.Lock()
	connected := h.connected
	h.mu.Unlock()

	if !connected {
		return nil, ErrNotConnected
	}

	res, _, err := h.post(ctx, msg)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Disconnect marks the transport disconnected and releases idle connections.
// There is no persistent session to tear down, so it is trivially idempotent.
func (h *HTTP) Disconnect(_ context.Context) error {
	h.mu.Lock()
	h.connected = false
	h.mu.Unlock()

	h.httpClient.CloseIdleConnections()
	h.logger.Info("disconnected from MCP server via HTTP")
	return nil
}

// Connected reports whether the preflight exchange has succeeded.
func (h *HTTP) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *HTTP) post(ctx context.Context, msg JSONRPCMessage) (*JSONRPCMessage, int, error) {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(msgBs))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var res JSONRPCMessage
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}

	return &res, resp.StatusCode, nil
}
