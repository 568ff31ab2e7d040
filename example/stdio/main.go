// Command stdio demonstrates the client against a stdio MCP server. Without
// flags it spawns itself with -server as the child process, runs the initialize
// handshake, lists the server's tools, and calls the echo tool.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	mcp "github.com/oakline/go-mcp"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "-server" {
		runServer()
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate executable: %v\n", err)
		os.Exit(1)
	}

	transport := mcp.NewStdIO(self, []string{"-server"}, mcp.WithStdIOLogger(logger))
	client := mcp.NewClient(mcp.Info{Name: "example-client", Version: "0.1.0"}, transport,
		mcp.WithRequestTimeout(10*time.Second),
		mcp.WithClientLogger(logger),
	)

	ctx := context.Background()
	if err := run(ctx, client); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, client *mcp.Client) error {
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()

	result, err := client.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	fmt.Printf("Connected to %s %s (protocol %s)\n",
		result.ServerInfo.Name, result.ServerInfo.Version, result.ProtocolVersion)

	tools, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}
	fmt.Println("Tools:")
	for _, tool := range tools.Tools {
		fmt.Printf("  %s: %s\n", tool.Name, tool.Description)
	}

	call, err := client.CallTool(ctx, "echo", map[string]any{"message": "hello from the client"})
	if err != nil {
		return fmt.Errorf("failed to call tool: %w", err)
	}
	for _, content := range call.Content {
		fmt.Printf("echo returned: %s\n", content.Text)
	}

	return nil
}
