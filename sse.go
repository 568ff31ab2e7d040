package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"
)

// SSE is a Transport that receives server messages over a Server-Sent Events
// stream and sends client messages through HTTP POST requests. On Connect the
// server first emits an "endpoint" event carrying the session's POST URL; every
// subsequent "message" event carries one encoded protocol message.
//
// SSE is asynchronous: Send always returns a nil response and inbound messages
// arrive through the OnMessage handler. Instances should be created using
// NewSSE.
type SSE struct {
	connectURL     string
	headers        map[string]string
	httpClient     *http.Client
	logger         *slog.Logger
	maxPayloadSize int

	mu         sync.Mutex
	messageURL string
	handler    func(msg JSONRPCMessage)
	connected  bool
	cancel     context.CancelFunc
	readerDone chan struct{}
}

// SSEOption represents the options for the SSE transport.
type SSEOption func(*SSE)

// NewSSE creates an SSE transport that opens the event stream at connectURL when
// Connect is called.
func NewSSE(connectURL string, options ...SSEOption) *SSE {
	s := &SSE{
		connectURL: connectURL,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithSSEHeaders sets additional headers carried by the stream request and every
// message POST.
func WithSSEHeaders(headers map[string]string) SSEOption {
	return func(s *SSE) {
		s.headers = headers
	}
}

// WithSSEHTTPClient sets a custom HTTP client used for both the stream and the
// message POSTs.
func WithSSEHTTPClient(client *http.Client) SSEOption {
	return func(s *SSE) {
		s.httpClient = client
	}
}

// WithSSEMaxPayloadSize sets the maximum size of an event payload accepted from
// the server. Larger events terminate the stream.
func WithSSEMaxPayloadSize(size int) SSEOption {
	return func(s *SSE) {
		s.maxPayloadSize = size
	}
}

// WithSSELogger sets the logger for the transport.
func WithSSELogger(logger *slog.Logger) SSEOption {
	return func(s *SSE) {
		s.logger = logger
	}
}

// OnMessage registers the delivery callback invoked by the stream reader for
// every decoded "message" event.
func (s *SSE) OnMessage(handler func(msg JSONRPCMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Connect opens the event stream, waits for the "endpoint" event that carries the
// message POST URL, and leaves a background reader consuming the stream. The
// stream outlives ctx; it is closed by Disconnect.
func (s *SSE) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	streamCtx, cancel := context.WithCancel(context.Background())

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, s.connectURL, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	ready := make(chan error, 1)
	readerDone := make(chan struct{})
	go s.readEvents(resp.Body, ready, readerDone)

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			return fmt.Errorf("failed to establish SSE session: %w", err)
		}
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	s.mu.Lock()
	s.connected = true
	s.cancel = cancel
	s.readerDone = readerDone
	s.mu.Unlock()

	s.logger.Info("connected to MCP server via SSE", slog.String("url", s.connectURL))
	return nil
}

// Send encodes the message and POSTs it to the endpoint URL announced by the
// server. SSE is asynchronous, so the returned response is always nil.
func (s *SSE) Send(ctx context.Context, msg JSONRPCMessage) (*JSONRPCMessage, error) {
	s.mu.Lock()
	connected := s.connected
	messageURL := s.messageURL
	s.mu.Unlock()

	if !connected || messageURL == "" {
		return nil, ErrNotConnected
	}

	msgBs, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messageURL, bytes.NewReader(msgBs))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil, nil
}

// Disconnect closes the event stream and waits for the reader to finish with a
// bounded wait. It is safe to call when already disconnected.
func (s *SSE) Disconnect(_ context.Context) error {
	s.mu.Lock()

	s.connected = false
	cancel := s.cancel
	readerDone := s.readerDone
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if readerDone != nil {
		select {
		case <-readerDone:
		case <-time.After(time.Second):
		}
	}

	s.logger.Info("disconnected from MCP server via SSE")
	return nil
}

// Connected reports whether the event stream is established and the endpoint URL
// has been received.
func (s *SSE) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *SSE) readEvents(body io.ReadCloser, ready chan<- error, done chan struct{}) {
	defer func() {
		body.Close()
		close(done)

		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	var config *sse.ReadConfig
	if s.maxPayloadSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: s.maxPayloadSize,
		}
	}

	endpointReceived := false

	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.logger.Error("failed to read SSE message", slog.String("err", err.Error()))
			}
			if !endpointReceived {
				ready <- err
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			// Validate and resolve the endpoint URL so messages are routed to the
			// destination the server actually announced.
			u, err := url.Parse(ev.Data)
			if err != nil {
				ready <- fmt.Errorf("parse endpoint URL: %w", err)
				return
			}
			if u.String() == "" {
				ready <- errors.New("empty endpoint URL")
				return
			}
			if !u.IsAbs() {
				base, err := url.Parse(s.connectURL)
				if err != nil {
					ready <- fmt.Errorf("parse connect URL: %w", err)
					return
				}
				u = base.ResolveReference(u)
			}

			s.mu.Lock()
			s.messageURL = u.String()
			s.mu.Unlock()

			endpointReceived = true
			ready <- nil
		case "message":
			// Require the endpoint URL before processing any messages, so nothing is
			// handled on a half-established session.
			if !endpointReceived {
				s.logger.Error("received message before endpoint URL")
				continue
			}

			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				// A malformed event must not take down the session; drop it and keep reading.
				s.logger.Error("invalid JSON received via SSE", slog.String("err", err.Error()))
				continue
			}

			s.mu.Lock()
			handler := s.handler
			s.mu.Unlock()

			if handler != nil {
				handler(msg)
			}
		default:
			s.logger.Error("unhandled event type", slog.String("type", ev.Type))
		}
	}
}
