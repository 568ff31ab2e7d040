package mcp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	mcp "github.com/oakline/go-mcp"
)

// helperTransport spawns the test binary itself as the child process. The
// GO_MCP_HELPER variable selects the server behavior in TestHelperProcess.
func helperTransport(mode string) *mcp.StdIO {
	return mcp.NewStdIO(os.Args[0], []string{"-test.run=TestHelperProcess$"},
		mcp.WithStdIOEnv(append(os.Environ(), "GO_MCP_HELPER="+mode)),
		mcp.WithStdIOTermGrace(time.Second),
	)
}

// TestHelperProcess is not a real test. It implements the child side of the
// stdio transport tests and only runs when GO_MCP_HELPER is set.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("GO_MCP_HELPER")
	if mode == "" {
		return
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var msg mcp.JSONRPCMessage
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			continue
		}
		if msg.Method == "" || msg.ID == "" {
			// Notifications need no reply.
			continue
		}

		switch msg.Method {
		case "initialize":
			fmt.Printf(`{"jsonrpc":"2.0","id":"%s","result":{"protocolVersion":"2024-11-05","capabilities":{"tools":{}},"serverInfo":{"name":"helper","version":"0.0.1"}}}`+"\n", msg.ID)
		case mcp.MethodToolsList:
			if mode == "mute" {
				// Accept but never answer, to exercise the request timeout.
				continue
			}
			if mode == "noisy" {
				// A garbage line before the real answer must be tolerated.
				fmt.Println("this is not json")
			}
			fmt.Printf(`{"jsonrpc":"2.0","id":"%s","result":{"tools":[{"name":"echo","description":"echoes input"}]}}`+"\n", msg.ID)
		case mcp.MethodToolsCall:
			fmt.Printf(`{"jsonrpc":"2.0","id":"%s","result":{"content":[{"type":"text","text":"hello"}]}}`+"\n", msg.ID)
		default:
			fmt.Printf(`{"jsonrpc":"2.0","id":"%s","error":{"code":-32601,"message":"method not found"}}`+"\n", msg.ID)
		}
	}
	os.Exit(0)
}

func TestStdIORoundTrip(t *testing.T) {
	transport := helperTransport("server")
	client := mcp.NewClient(mcp.Info{Name: "test", Version: "0.1.0"}, transport,
		mcp.WithRequestTimeout(5*time.Second))

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer func() {
		if err := client.Disconnect(ctx); err != nil {
			t.Errorf("failed to disconnect: %v", err)
		}
	}()

	result, err := client.Initialize(ctx)
	if err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if result.ServerInfo.Name != "helper" {
		t.Errorf("wrong server name. Got %s, want helper", result.ServerInfo.Name)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools.Tools) != 1 || tools.Tools[0].Name != "echo" {
		t.Errorf("unexpected tools: %+v", tools.Tools)
	}

	call, err := client.CallTool(ctx, "echo", map[string]any{"message": "hello"})
	if err != nil {
		t.Fatalf("failed to call tool: %v", err)
	}
	if len(call.Content) != 1 || call.Content[0].Text != "hello" {
		t.Errorf("unexpected call result: %+v", call)
	}
}

func TestStdIORequestTimeout(t *testing.T) {
	transport := helperTransport("mute")
	client := mcp.NewClient(mcp.Info{Name: "test", Version: "0.1.0"}, transport,
		mcp.WithRequestTimeout(200*time.Millisecond))

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect(ctx)

	if _, err := client.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	_, err := client.ListTools(ctx)
	if !errors.Is(err, mcp.ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
}

func TestStdIOToleratesMalformedLines(t *testing.T) {
	transport := helperTransport("noisy")
	client := mcp.NewClient(mcp.Info{Name: "test", Version: "0.1.0"}, transport,
		mcp.WithRequestTimeout(5*time.Second))

	ctx := context.Background()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Disconnect(ctx)

	if _, err := client.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}

	// The garbage line emitted before the answer must not break the call.
	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("failed to list tools: %v", err)
	}
	if len(tools.Tools) != 1 {
		t.Errorf("unexpected tools: %+v", tools.Tools)
	}
}

func TestStdIOSendBeforeConnect(t *testing.T) {
	transport := mcp.NewStdIO("true", nil)
	_, err := transport.Send(context.Background(), mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		ID:      "1",
		Method:  "ping",
	})
	if !errors.Is(err, mcp.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestStdIODisconnectIdempotent(t *testing.T) {
	transport := helperTransport("server")
	ctx := context.Background()
	if err := transport.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := transport.Disconnect(ctx); err != nil {
		t.Fatalf("failed to disconnect: %v", err)
	}
	if err := transport.Disconnect(ctx); err != nil {
		t.Errorf("second disconnect failed: %v", err)
	}
	if transport.Connected() {
		t.Error("expected transport to report disconnected")
	}
}
