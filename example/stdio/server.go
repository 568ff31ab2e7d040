package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	mcp "github.com/oakline/go-mcp"
)

// runServer is a minimal newline-delimited JSON-RPC server for the demo. It
// answers initialize, tools/list, and tools/call for a single echo tool.
func runServer() {
	out := json.NewEncoder(os.Stdout)
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
		if msg.ID == "" || msg.Method == "" {
			continue
		}

		reply := mcp.JSONRPCMessage{
			JSONRPC: mcp.JSONRPCVersion,
			ID:      msg.ID,
		}

		switch msg.Method {
		case "initialize":
			reply.Result = mustMarshal(mcp.InitializeResult{
				ProtocolVersion: mcp.ProtocolVersion,
				Capabilities:    map[string]any{"tools": map[string]any{}},
				ServerInfo:      mcp.Info{Name: "example-server", Version: "0.1.0"},
			})
		case mcp.MethodToolsList:
			reply.Result = mustMarshal(mcp.ListToolsResult{
				Tools: []mcp.Tool{
					{Name: "echo", Description: "Echoes back the message it is given"},
				},
			})
		case mcp.MethodToolsCall:
			var params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}
			if err := json.Unmarshal(msg.Params, &params); err != nil || params.Name != "echo" {
				reply.Error = &mcp.Error{
					Code:    mcp.CodeMethodNotFound,
					Message: fmt.Sprintf("unknown tool: %v", params.Name),
				}
				break
			}
			message, _ := params.Arguments["message"].(string)
			reply.Result = mustMarshal(mcp.CallToolResult{
				Content: []mcp.Content{{Type: "text", Text: message}},
			})
		default:
			reply.Error = &mcp.Error{
				Code:    mcp.CodeMethodNotFound,
				Message: fmt.Sprintf("method %s not supported", msg.Method),
			}
		}

		if err := out.Encode(reply); err != nil {
			return
		}
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
