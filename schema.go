package mcp

import (
	"encoding/json"
	"fmt"
)

// MustString is a type that enforces string representation for fields that can be either
// string or integer in the protocol specification, such as request IDs and progress tokens.
// It handles automatic conversion during JSON marshaling/unmarshaling.
type MustString string

// JSONRPCMessage represents a JSON-RPC 2.0 message used for communication in the MCP protocol.
// It can represent either a request, response, or notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and either Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs and must be a string or number
	ID MustString `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *Error `json:"error,omitempty"`
}

// Error represents a protocol error carrying one of the standard JSON-RPC error codes.
// The same type is used for errors raised locally before any network activity and for
// errors decoded from a server response; Remote reports which side produced it.
type Error struct {
	// Code indicates the error type that occurred.
	// Must be one of the standard JSON-RPC error codes.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data any `json:"data,omitempty"`

	remote bool
}

// Capabilities is a record of named capability groups a side declares support for
// during the initialize handshake. Each group is an opaque object; its presence alone
// advertises the feature.
type Capabilities struct {
	Tools     map[string]any `json:"tools"`
	Resources map[string]any `json:"resources"`
	Prompts   map[string]any `json:"prompts"`
	Logging   map[string]any `json:"logging"`
}

// Tool defines a remotely invocable named operation with a declared input schema.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Resource describes a remotely addressable, URI-identified piece of content.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents represents either text or blob resource contents returned by ReadResource.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"` // For text resources
	Blob     string `json:"blob,omitempty"` // For binary resources
}

// Prompt describes a named, parameterizable template the server can render.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument defines a single argument that can be passed to a prompt.
// Required indicates whether the argument must be provided when rendering the prompt.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptMessage represents a rendered message in a prompt result.
type PromptMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content represents a message content with its type. Text is populated for "text"
// content; Data and MimeType for binary content types.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ListToolsResult represents the list of tools returned by ListTools.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolResult represents the outcome of a tool invocation via CallTool.
// IsError indicates whether the operation failed, with details in Content.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// ListResourcesResult represents the list of resources returned by ListResources.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// ReadResourceResult represents the contents returned by ReadResource.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// ListPromptsResult represents the list of prompts returned by ListPrompts.
type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

// GetPromptResult represents a rendered prompt returned by GetPrompt.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// Info contains metadata about a server or client instance including its name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult represents the server's half of the initialize handshake: the
// protocol version it speaks, the capability groups it advertises, and its identity.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      Info           `json:"serverInfo"`
}

// ProgressParams represents the progress status of a long-running operation.
type ProgressParams struct {
	// ProgressToken uniquely identifies the operation this progress update relates to
	ProgressToken MustString `json:"progressToken,omitempty"`
	// Progress represents the current progress value
	Progress float64 `json:"progress"`
	// Total represents the expected final value when known.
	// When non-zero, completion percentage can be calculated as (Progress/Total)*100
	Total float64 `json:"total,omitempty"`
}

// LogParams represents the parameters of a log message pushed by the server.
type LogParams struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type initializeParams struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ClientInfo      Info         `json:"clientInfo"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type getPromptParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	// ProtocolVersion is the MCP revision this client speaks, exchanged during the
	// initialize handshake.
	ProtocolVersion = "2024-11-05"

	// MethodToolsList is the method name for retrieving a list of available tools.
	MethodToolsList = "tools/list"
	// MethodToolsCall is the method name for invoking a specific tool.
	MethodToolsCall = "tools/call"

	// MethodResourcesList is the method name for listing available resources.
	MethodResourcesList = "resources/list"
	// MethodResourcesRead is the method name for reading the content of a specific resource.
	MethodResourcesRead = "resources/read"

	// MethodPromptsList is the method name for retrieving a list of available prompts.
	MethodPromptsList = "prompts/list"
	// MethodPromptsGet is the method name for retrieving a specific prompt by name.
	MethodPromptsGet = "prompts/get"

	methodInitialize = "initialize"

	methodNotificationsInitialized = "initialized"
	methodNotificationsProgress    = "progress"
	methodNotificationsLogging     = "logging"
)

// Standard JSON-RPC error codes used by the protocol.
const (
	// CodeParseError indicates the received payload was not valid JSON.
	CodeParseError = -32700
	// CodeInvalidRequest indicates the payload was not a well-formed protocol message.
	CodeInvalidRequest = -32600
	// CodeMethodNotFound indicates the requested method is not supported.
	CodeMethodNotFound = -32601
	// CodeInvalidParams indicates the method parameters were malformed.
	CodeInvalidParams = -32602
	// CodeInternalError indicates an internal failure on the answering side.
	CodeInternalError = -32603
)

// NewCapabilities returns a Capabilities record with every group declared as an
// empty object, the shape exchanged by the client during the initialize handshake.
func NewCapabilities() Capabilities {
	return Capabilities{
		Tools:     map[string]any{},
		Resources: map[string]any{},
		Prompts:   map[string]any{},
		Logging:   map[string]any{},
	}
}

// ValidateMessage checks that msg is a well-formed protocol message before any
// semantic handling. It returns an *Error with CodeInvalidRequest when the
// protocol-version tag is absent or wrong, or when a payload without a method
// does not carry an id plus exactly one of result and error; a request or
// notification whose params are not object-shaped fails with CodeInvalidParams.
func ValidateMessage(msg JSONRPCMessage) error {
	if msg.JSONRPC != JSONRPCVersion {
		return &Error{Code: CodeInvalidRequest, Message: "invalid jsonrpc version"}
	}

	if msg.Method != "" {
		// Request or notification.
		if len(msg.Params) > 0 && !isJSONObject(msg.Params) {
			return &Error{Code: CodeInvalidParams, Message: "params must be an object"}
		}
		return nil
	}

	hasResult := len(msg.Result) > 0
	hasError := msg.Error != nil

	switch {
	case !hasResult && !hasError:
		return &Error{Code: CodeInvalidRequest, Message: "invalid message format"}
	case hasResult && hasError:
		return &Error{Code: CodeInvalidRequest, Message: "response cannot have both result and error"}
	case msg.ID == "":
		return &Error{Code: CodeInvalidRequest, Message: "response must have an id"}
	}

	return nil
}

// ValidateCapabilities checks that every declared capability group in caps is
// object-shaped, returning an *Error with CodeInvalidParams otherwise.
func ValidateCapabilities(caps map[string]any) error {
	for _, group := range []string{"tools", "resources", "prompts", "logging"} {
		v, ok := caps[group]
		if !ok {
			continue
		}
		if _, ok := v.(map[string]any); !ok {
			return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("%s capability must be an object", group)}
		}
	}
	return nil
}

// ValidateToolCall checks tool invocation parameters before they are sent: name must
// be a non-empty string and arguments an object-shaped value. It returns an *Error
// with CodeInvalidParams on violation.
func ValidateToolCall(name string, arguments map[string]any) error {
	if name == "" {
		return &Error{Code: CodeInvalidParams, Message: "tool name must be a non-empty string"}
	}
	if arguments == nil {
		return &Error{Code: CodeInvalidParams, Message: "tool arguments must be an object"}
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	// A JSON null decodes into a nil map without error, and null is not an object.
	var m map[string]any
	return json.Unmarshal(raw, &m) == nil && m != nil
}

func remoteError(e *Error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Data: e.Data, remote: true}
}

// Remote reports whether the error was decoded from a server response rather than
// raised locally.
func (e *Error) Remote() bool {
	return e.remote
}

func (e *Error) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// UnmarshalJSON implements json.Unmarshaler to convert JSON data into MustString,
// handling both string and numeric input formats.
func (m *MustString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*m = MustString(v)
	case float64:
		*m = MustString(fmt.Sprintf("%d", int(v)))
	case int:
		*m = MustString(fmt.Sprintf("%d", v))
	default:
		return fmt.Errorf("invalid type: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler to convert MustString into its JSON representation,
// always encoding as a string value.
func (m MustString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}
