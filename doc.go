// Package mcp implements a client for the Model Context Protocol (MCP), a JSON-RPC
// flavored scheme that exposes remote tools, resources, and prompts to LLM
// applications, following the specification at https://spec.modelcontextprotocol.io/specification/.
//
// The package separates message semantics from message delivery: the Client performs
// the initialize handshake, correlates requests to responses, and exposes the typed
// protocol operations, while a Transport moves encoded messages over a child process's
// standard streams, stateless HTTP, a WebSocket, or a Server-Sent Events stream.
package mcp
