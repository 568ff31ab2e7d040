package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	mcp "github.com/oakline/go-mcp"
)

// newHTTPTestServer serves a minimal JSON-RPC endpoint and records every
// message it receives.
func newHTTPTestServer(t *testing.T) (*httptest.Server, func() []mcp.JSONRPCMessage) {
	t.Helper()

	var (
		mu       sync.Mutex
		received []mcp.JSONRPCMessage
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg mcp.JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		received = append(received, msg)
		mu.Unlock()

		var result json.RawMessage
		switch msg.Method {
		case "initialize":
			result = json.RawMessage(`{"protocolVersion":"2024-11-05","capabilities":{"tools":{}},"serverInfo":{"name":"http-server","version":"1.0.0"}}`)
		case mcp.MethodToolsList:
			result = json.RawMessage(`{"tools":[{"name":"echo"}]}`)
		default:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(mcp.JSONRPCMessage{
				JSONRPC: mcp.JSONRPCVersion,
				ID:      msg.ID,
				Error:   &mcp.Error{Code: mcp.CodeMethodNotFound, Message: "method not found"},
			})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mcp.JSONRPCMessage{
			JSONRPC: mcp.JSONRPCVersion,
			ID:      msg.ID,
			Result:  result,
		})
	}))
	t.Cleanup(srv.Close)

	return srv, func() []mcp.JSONRPCMessage {
		mu.Lock()
		defer mu.Unlock()
		out := make([]mcp.JSONRPCMessage, len(received))
		copy(out, received)
		return out
	}
}

func TestHTTPRoundTrip(t *testing.T) {
	srv, receivedMessages := newHTTPTestServer(t)

	transport := mcp.NewHTTP(srv.URL)
	client := mcp.NewClient(mcp.Info{Name: "test", Version: "0.1.0"}, transport)

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if !transport.Connected() {
		t.Fatal("expected transport to report connected")
	}

	result, err := client.Initialize(ctx)
	if err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if result.ServerInfo.Name != "http-server" {
		t.Errorf("wrong server name. Got %s, want http-server", result.ServerInfo.Name)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != "echo" {
		t.Errorf("unexpected tools: %+v", tools.Tools)
	}

	// The stateless transport must never carry the initialized notification.
	for _, msg := range receivedMessages() {
		if msg.Method == "initialized" {
			t.Error("initialized notification sent over HTTP transport")
		}
	}

	if err := client.Disconnect(ctx); err != nil {
		t.Fatalf("failed to disconnect: %v", err)
	}
	if transport.Connected() {
		t.Error("expected transport to report disconnected")
	}
}

func TestHTTPConnectRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	transport := mcp.NewHTTP(srv.URL)
	if err := transport.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail")
	}
	if transport.Connected() {
		t.Error("expected transport to report disconnected after failed connect")
	}
}

func TestHTTPConnectRequiresStatusOK(t *testing.T) {
	// A well-formed body behind a non-200 status must not pass the preflight,
	// even though Send accepts the whole 2xx range.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg mcp.JSONRPCMessage
		json.NewDecoder(r.Body).Decode(&msg)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(mcp.JSONRPCMessage{
			JSONRPC: mcp.JSONRPCVersion,
			ID:      msg.ID,
			Result:  json.RawMessage(`{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"s","version":"1"}}`),
		})
	}))
	t.Cleanup(srv.Close)

	transport := mcp.NewHTTP(srv.URL)
	if err := transport.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail on non-200 preflight status")
	}
	if transport.Connected() {
		t.Error("expected transport to report disconnected")
	}
}

func TestHTTPSendBeforeConnect(t *testing.T) {
	srv, _ := newHTTPTestServer(t)

	transport := mcp.NewHTTP(srv.URL)
	_, err := transport.Send(context.Background(), mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		ID:      "1",
		Method:  "ping",
	})
	if !errors.Is(err, mcp.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestHTTPSendServerError(t *testing.T) {
	var failing bool
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		fail := failing
		mu.Unlock()
		if fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		var msg mcp.JSONRPCMessage
		json.NewDecoder(r.Body).Decode(&msg)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mcp.JSONRPCMessage{
			JSONRPC: mcp.JSONRPCVersion,
			ID:      msg.ID,
			Result:  json.RawMessage(`{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"s","version":"1"}}`),
		})
	}))
	t.Cleanup(srv.Close)

	transport := mcp.NewHTTP(srv.URL)
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	mu.Lock()
	failing = true
	mu.Unlock()

	_, err := transport.Send(context.Background(), mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		ID:      "req_1_abcdef01",
		Method:  mcp.MethodToolsList,
	})
	if err == nil {
		t.Fatal("expected send to fail on server error")
	}
}

func TestHTTPSchemelessURL(t *testing.T) {
	srv, _ := newHTTPTestServer(t)

	// A bare host:port must be usable without an explicit scheme.
	transport := mcp.NewHTTP(srv.Listener.Addr().String())
	if err := transport.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect with schemeless url: %v", err)
	}
}
