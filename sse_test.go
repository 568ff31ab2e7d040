package mcp_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcp "github.com/oakline/go-mcp"
)

// sseTestServer announces a relative endpoint URL over the event stream and
// pushes replies to POSTed requests back through the stream.
type sseTestServer struct {
	srv    *httptest.Server
	events chan mcp.JSONRPCMessage
}

func newSSETestServer(t *testing.T) *sseTestServer {
	t.Helper()

	s := &sseTestServer{
		events: make(chan mcp.JSONRPCMessage, 16),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		fmt.Fprint(w, "event: endpoint\ndata: /message\n\n")
		flusher.Flush()

		for {
			select {
			case msg := <-s.events:
				data, err := json.Marshal(msg)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		var msg mcp.JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)

		if msg.ID == "" || msg.Method == "" {
			return
		}

		var result json.RawMessage
		switch msg.Method {
		case "initialize":
			result = json.RawMessage(`{"protocolVersion":"2024-11-05","capabilities":{"tools":{}},"serverInfo":{"name":"sse-server","version":"1.0.0"}}`)
		case mcp.MethodToolsList:
			result = json.RawMessage(`{"tools":[{"name":"echo"}]}`)
		default:
			s.events <- mcp.JSONRPCMessage{
				JSONRPC: mcp.JSONRPCVersion,
				ID:      msg.ID,
				Error:   &mcp.Error{Code: mcp.CodeMethodNotFound, Message: "method not found"},
			}
			return
		}
		s.events <- mcp.JSONRPCMessage{
			JSONRPC: mcp.JSONRPCVersion,
			ID:      msg.ID,
			Result:  result,
		}
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func TestSSERoundTrip(t *testing.T) {
	srv := newSSETestServer(t)

	transport := mcp.NewSSE(srv.srv.URL + "/sse")
	client := mcp.NewClient(mcp.Info{Name: "test", Version: "0.1.0"}, transport,
		mcp.WithRequestTimeout(5*time.Second))

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect(ctx)

	if !transport.Connected() {
		t.Fatal("expected transport to report connected")
	}

	result, err := client.Initialize(ctx)
	if err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if result.ServerInfo.Name != "sse-server" {
		t.Errorf("wrong server name. Got %s, want sse-server", result.ServerInfo.Name)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != "echo" {
		t.Errorf("unexpected tools: %+v", tools.Tools)
	}
}

func TestSSEConnectRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	transport := mcp.NewSSE(srv.URL + "/sse")
	if err := transport.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail")
	}
	if transport.Connected() {
		t.Error("expected transport to report disconnected after failed connect")
	}
}

func TestSSEConnectTimeout(t *testing.T) {
	// A stream that never announces its endpoint must not block Connect forever.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	transport := mcp.NewSSE(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := transport.Connect(ctx); err == nil {
		t.Fatal("expected connect to time out")
	}
}

func TestSSESendBeforeConnect(t *testing.T) {
	transport := mcp.NewSSE("http://127.0.0.1:0/sse")
	_, err := transport.Send(context.Background(), mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		ID:      "1",
		Method:  "ping",
	})
	if err == nil {
		t.Fatal("expected send to fail before connect")
	}
}
