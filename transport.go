package mcp

import (
	"context"
	"errors"
)

// ErrNotConnected is returned when an operation requires an established channel
// but the transport is disconnected.
var ErrNotConnected = errors.New("not connected to MCP server")

// Transport provides the byte-level channel carrying encoded protocol messages
// between the Client and a server. Implementations do not interpret message
// semantics; they only frame, encode, and move payloads.
//
// A transport is either synchronous or asynchronous. Synchronous transports
// (HTTP) obtain the response within the Send call itself and return it.
// Asynchronous transports (StdIO, WebSocket, SSE) return nil from Send and
// later push every inbound message through the handler registered with
// OnMessage from their own receive loop.
//
// A Transport is exclusively owned by the Client that constructed it and must
// not be shared across Clients.
type Transport interface {
	// Connect establishes the underlying channel. A failed Connect leaves the
	// transport disconnected and surfaces the error to the caller; there is no
	// automatic retry.
	Connect(ctx context.Context) error

	// Disconnect releases the channel and its resources. It is idempotent and
	// safe to call after a failed Connect.
	Disconnect(ctx context.Context) error

	// Send transmits one encoded message. Synchronous transports return the
	// decoded response; asynchronous transports return nil and deliver
	// responses through the OnMessage handler.
	Send(ctx context.Context, msg JSONRPCMessage) (*JSONRPCMessage, error)

	// OnMessage registers the single delivery callback invoked by the
	// transport's receive path for inbound messages. It must be called before
	// Connect.
	OnMessage(handler func(msg JSONRPCMessage))

	// Connected reports whether the transport currently holds an established
	// channel.
	Connected() bool
}
