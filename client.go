package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotInitialized is returned by protocol operations invoked before a
// successful Initialize, without any transport I/O taking place.
var ErrNotInitialized = errors.New("MCP client not initialized")

// ErrAlreadyInitialized is returned by Initialize when the handshake has already
// occurred on this client.
var ErrAlreadyInitialized = errors.New("MCP client already initialized")

// ErrRequestTimeout is returned by a call that received no response within its
// deadline. It is distinct from a remote *Error: the remote side may still reply
// later, and that late reply is silently dropped.
var ErrRequestTimeout = errors.New("request timeout")

// Client implements a Model Context Protocol (MCP) client. It owns a Transport,
// performs the initialize handshake, assigns and correlates request identifiers,
// and exposes the typed protocol operations for tools, resources, and prompts.
//
// The Client reconciles the two transport delivery models behind one blocking
// call contract: when Send returns a response directly (HTTP) it is used as-is;
// otherwise the call blocks on a per-request waiter until the transport's
// receive loop delivers the matching response or the configured timeout elapses.
// Operations are safe for concurrent use; multiple calls may be in flight at
// once on asynchronous transports.
//
// A Client must be created using NewClient and requires Connect followed by
// Initialize before the typed operations can be performed.
//
// Example usage:
//
//	client := NewClient(mcp.Info{Name: "my-app", Version: "1.0.0"}, transport)
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect(ctx)
//
//	if _, err := client.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	tools, err := client.ListTools(ctx)
type Client struct {
	transport    Transport
	info         Info
	capabilities Capabilities
	timeout      time.Duration
	logger       *slog.Logger

	progressHandler func(params ProgressParams)
	logHandler      func(params LogParams)

	mu                 sync.Mutex
	idCounter          uint64
	pending            map[string]chan JSONRPCMessage
	serverCapabilities map[string]any
	initialized        bool
	initializing       bool
}

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// Status reports the live state of a client session as observed by external
// collaborators.
type Status struct {
	Capabilities map[string]any
	Initialized  bool
	Connected    bool
}

var defaultRequestTimeout = 30 * time.Second

// WithRequestTimeout sets how long a call waits for its response before failing
// with ErrRequestTimeout. The default is 30 seconds.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithProgressHandler sets the handler invoked for progress notifications pushed
// by the server.
func WithProgressHandler(handler func(params ProgressParams)) ClientOption {
	return func(c *Client) {
		c.progressHandler = handler
	}
}

// WithLogHandler sets the handler invoked for log notifications pushed by the
// server. When unset, server log messages are forwarded to the client's logger.
func WithLogHandler(handler func(params LogParams)) ClientOption {
	return func(c *Client) {
		c.logHandler = handler
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new MCP client around the given transport. The info
// parameter identifies this client during the initialize handshake. The client
// registers itself as the transport's delivery callback; the transport must not
// be shared with another client.
//
// The client is not connected until Connect is called, and the typed operations
// require a successful Initialize.
func NewClient(info Info, transport Transport, options ...ClientOption) *Client {
	c := &Client{
		transport:    transport,
		info:         info,
		capabilities: NewCapabilities(),
		logger:       slog.Default(),
		pending:      make(map[string]chan JSONRPCMessage),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.timeout == 0 {
		c.timeout = defaultRequestTimeout
	}

	transport.OnMessage(c.handleMessage)

	return c
}

// Connect establishes the transport's underlying channel.
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Disconnect releases the transport and clears the initialized flag. Pending
// calls are not failed explicitly; an in-flight call observes its own timeout.
func (c *Client) Disconnect(ctx context.Context) error {
	err := c.transport.Disconnect(ctx)

	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()

	return err
}

// Initialize performs the protocol handshake: it sends an initialize request
// with the client's declared capabilities and protocol version, stores the
// server's advertised capabilities, and marks the session initialized. For
// transports that maintain a persistent connection it then sends the
// "initialized" notification; the stateless HTTP transport answers the
// initialize synchronously and the notification is skipped.
//
// It fails with the remote *Error if the response carries an error, and with
// ErrAlreadyInitialized if the handshake already occurred.
func (c *Client) Initialize(ctx context.Context) (InitializeResult, error) {
	// The in-progress flag keeps a concurrent Initialize from running a second
	// handshake while the first is still in flight.
	c.mu.Lock()
	if c.initialized || c.initializing {
		c.mu.Unlock()
		return InitializeResult{}, ErrAlreadyInitialized
	}
	c.initializing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.initializing = false
		c.mu.Unlock()
	}()

	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
	}
	paramsBs, err := json.Marshal(params)
	if err != nil {
		return InitializeResult{}, fmt.Errorf("failed to marshal params: %w", err)
	}

	res, direct, err := c.sendRequest(ctx, methodInitialize, paramsBs)
	if err != nil {
		return InitializeResult{}, fmt.Errorf("failed to initialize MCP session: %w", err)
	}
	if res.Error != nil {
		return InitializeResult{}, remoteError(res.Error)
	}

	var result InitializeResult
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return InitializeResult{}, fmt.Errorf("failed to unmarshal initialize result: %w", err)
	}

	if err := ValidateCapabilities(result.Capabilities); err != nil {
		return InitializeResult{}, fmt.Errorf("invalid server capabilities: %w", err)
	}

	c.mu.Lock()
	c.serverCapabilities = result.Capabilities
	c.initialized = true
	c.mu.Unlock()

	if !direct {
		if err := c.sendNotification(ctx, methodNotificationsInitialized); err != nil {
			return InitializeResult{}, fmt.Errorf("failed to send initialized notification: %w", err)
		}
	} else {
		c.logger.Debug("skipping initialized notification for stateless transport")
	}

	c.logger.Info("MCP session initialized", slog.String("server", result.ServerInfo.Name))
	return result, nil
}

// ListTools retrieves the list of tools the server exposes.
func (c *Client) ListTools(ctx context.Context) (ListToolsResult, error) {
	res, err := c.call(ctx, MethodToolsList, json.RawMessage(`{}`))
	if err != nil {
		return ListToolsResult{}, err
	}

	var result ListToolsResult
	if err := json.Unmarshal(res, &result); err != nil {
		return ListToolsResult{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return result, nil
}

// CallTool executes the named tool with the given arguments and returns its
// result. The parameters are validated locally before any transport I/O.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (CallToolResult, error) {
	if err := ValidateToolCall(name, arguments); err != nil {
		return CallToolResult{}, err
	}

	paramsBs, err := json.Marshal(callToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return CallToolResult{}, fmt.Errorf("failed to marshal params: %w", err)
	}

	res, err := c.call(ctx, MethodToolsCall, paramsBs)
	if err != nil {
		return CallToolResult{}, err
	}

	var result CallToolResult
	if err := json.Unmarshal(res, &result); err != nil {
		return CallToolResult{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return result, nil
}

// ListResources retrieves the list of resources the server exposes.
func (c *Client) ListResources(ctx context.Context) (ListResourcesResult, error) {
	res, err := c.call(ctx, MethodResourcesList, json.RawMessage(`{}`))
	if err != nil {
		return ListResourcesResult{}, err
	}

	var result ListResourcesResult
	if err := json.Unmarshal(res, &result); err != nil {
		return ListResourcesResult{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return result, nil
}

// ReadResource retrieves the contents of the resource identified by uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (ReadResourceResult, error) {
	paramsBs, err := json.Marshal(readResourceParams{URI: uri})
	if err != nil {
		return ReadResourceResult{}, fmt.Errorf("failed to marshal params: %w", err)
	}

	res, err := c.call(ctx, MethodResourcesRead, paramsBs)
	if err != nil {
		return ReadResourceResult{}, err
	}

	var result ReadResourceResult
	if err := json.Unmarshal(res, &result); err != nil {
		return ReadResourceResult{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return result, nil
}

// ListPrompts retrieves the list of prompts the server exposes.
func (c *Client) ListPrompts(ctx context.Context) (ListPromptsResult, error) {
	res, err := c.call(ctx, MethodPromptsList, json.RawMessage(`{}`))
	if err != nil {
		return ListPromptsResult{}, err
	}

	var result ListPromptsResult
	if err := json.Unmarshal(res, &result); err != nil {
		return ListPromptsResult{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return result, nil
}

// GetPrompt retrieves the named prompt rendered with the given arguments, which
// may be nil when the prompt takes none.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]any) (GetPromptResult, error) {
	paramsBs, err := json.Marshal(getPromptParams{Name: name, Arguments: arguments})
	if err != nil {
		return GetPromptResult{}, fmt.Errorf("failed to marshal params: %w", err)
	}

	res, err := c.call(ctx, MethodPromptsGet, paramsBs)
	if err != nil {
		return GetPromptResult{}, err
	}

	var result GetPromptResult
	if err := json.Unmarshal(res, &result); err != nil {
		return GetPromptResult{}, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return result, nil
}

// Status returns the live connection and session state: the server's advertised
// capabilities, whether the handshake completed, and whether the transport is
// connected.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Capabilities: c.serverCapabilities,
		Initialized:  c.initialized,
		Connected:    c.transport.Connected(),
	}
}

// call runs one typed operation: it gates on the handshake, sends the request,
// and surfaces a remote error response as a remote *Error.
func (c *Client) call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()

	if !initialized {
		return nil, ErrNotInitialized
	}

	res, _, err := c.sendRequest(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if res.Error != nil {
		return nil, remoteError(res.Error)
	}

	return res.Result, nil
}

// sendRequest assigns a fresh id, transmits the request, and blocks until the
// response is available. The returned boolean reports whether the transport
// answered synchronously; otherwise the response came through the delivery
// callback and a per-request waiter.
func (c *Client) sendRequest(ctx context.Context, method string, params json.RawMessage) (JSONRPCMessage, bool, error) {
	reqID := c.nextRequestID()

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      MustString(reqID),
		Method:  method,
		Params:  params,
	}

	// The waiter must exist before the request goes out; an asynchronous
	// transport can deliver the response before Send returns.
	resChan := make(chan JSONRPCMessage, 1)

	c.mu.Lock()
	c.pending[reqID] = resChan
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	sCtx, sCancel := context.WithTimeout(ctx, c.timeout)
	defer sCancel()

	res, err := c.transport.Send(sCtx, msg)
	if err != nil {
		return JSONRPCMessage{}, false, err
	}

	// Synchronous transports hand the response back from Send itself.
	if res != nil {
		return *res, true, nil
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resMsg := <-resChan:
		return resMsg, false, nil
	case <-timer.C:
		return JSONRPCMessage{}, false, fmt.Errorf("%w: request %s after %s", ErrRequestTimeout, reqID, c.timeout)
	case <-ctx.Done():
		return JSONRPCMessage{}, false, ctx.Err()
	}
}

func (c *Client) sendNotification(ctx context.Context, method string) error {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}

	sCtx, sCancel := context.WithTimeout(ctx, c.timeout)
	defer sCancel()

	// A synchronous transport may answer even a notification; the reply carries
	// no meaning and is dropped.
	if _, err := c.transport.Send(sCtx, msg); err != nil {
		return err
	}

	return nil
}

// handleMessage is the delivery callback registered on the transport. It
// validates the inbound payload, resolves responses against the pending-call
// table, dispatches notifications by method name, and answers server-initiated
// requests with a MethodNotFound error.
func (c *Client) handleMessage(msg JSONRPCMessage) {
	if err := ValidateMessage(msg); err != nil {
		c.logger.Error("dropping invalid message", slog.String("err", err.Error()))
		return
	}

	switch {
	case msg.Method == "":
		c.handleResponse(msg)
	case msg.ID == "":
		c.handleNotification(msg)
	default:
		c.handleRequest(msg)
	}
}

func (c *Client) handleResponse(msg JSONRPCMessage) {
	reqID := string(msg.ID)

	c.mu.Lock()
	resChan, ok := c.pending[reqID]
	c.mu.Unlock()

	if !ok {
		// Late or duplicate delivery; the waiter is already gone.
		c.logger.Debug("dropping response with unmatched id", slog.String("id", reqID))
		return
	}

	resChan <- msg
}

func (c *Client) handleNotification(msg JSONRPCMessage) {
	switch msg.Method {
	case methodNotificationsProgress:
		var params ProgressParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Error("failed to unmarshal progress params", slog.String("err", err.Error()))
			return
		}
		if c.progressHandler != nil {
			c.progressHandler(params)
			return
		}
		c.logger.Info("progress", slog.Float64("progress", params.Progress), slog.Float64("total", params.Total))
	case methodNotificationsLogging:
		var params LogParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.logger.Error("failed to unmarshal log params", slog.String("err", err.Error()))
			return
		}
		if c.logHandler != nil {
			c.logHandler(params)
			return
		}
		c.logServerMessage(params)
	default:
		c.logger.Debug("unhandled notification", slog.String("method", msg.Method))
	}
}

func (c *Client) handleRequest(msg JSONRPCMessage) {
	// This client implements no server-initiated methods.
	c.logger.Info("received request from server", slog.String("method", msg.Method))

	res := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      msg.ID,
		Error: &Error{
			Code:    CodeMethodNotFound,
			Message: fmt.Sprintf("method %s not supported", msg.Method),
		},
	}

	sCtx, sCancel := context.WithTimeout(context.Background(), c.timeout)
	defer sCancel()

	if _, err := c.transport.Send(sCtx, res); err != nil {
		c.logger.Error("failed to reply to server request", slog.String("err", err.Error()))
	}
}

func (c *Client) logServerMessage(params LogParams) {
	switch params.Level {
	case "error":
		c.logger.Error("server log", slog.String("message", params.Message))
	case "warning":
		c.logger.Warn("server log", slog.String("message", params.Message))
	default:
		c.logger.Info("server log", slog.String("message", params.Message))
	}
}

// nextRequestID combines a monotonically increasing per-client counter with a
// random suffix, guaranteeing uniqueness within the client's lifetime even under
// concurrent callers.
func (c *Client) nextRequestID() string {
	c.mu.Lock()
	c.idCounter++
	counter := c.idCounter
	c.mu.Unlock()

	return fmt.Sprintf("req_%d_%s", counter, uuid.NewString()[:8])
}
