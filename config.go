package mcp

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Transport type names accepted in a ServerConfig.
const (
	TransportStdIO     = "stdio"
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportSSE       = "sse"
)

// ServerConfig describes how to reach one MCP server. Type selects the transport
// variant; Command, Args, and Dir apply to stdio servers, while URL, Headers,
// and Protocols apply to the network transports. The JSON shape matches what
// connection-management front ends exchange.
type ServerConfig struct {
	Name string `json:"name"`
	Type string `json:"transport_type"`

	// Fields for the stdio transport.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"cwd,omitempty"`

	// Fields for the http, websocket, and sse transports.
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Protocols []string          `json:"protocols,omitempty"`

	// Timeout applies to the http transport's requests. Zero means the
	// transport default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ClientConfig holds environment-tunable client defaults.
type ClientConfig struct {
	// Timeout is how long a call waits for its response.
	Timeout time.Duration `env:"MCP_TIMEOUT" envDefault:"30s"`
	// ClientName identifies this client during the initialize handshake.
	ClientName string `env:"MCP_CLIENT_NAME" envDefault:"go-mcp"`
	// ClientVersion is reported alongside ClientName.
	ClientVersion string `env:"MCP_CLIENT_VERSION" envDefault:"0.1.0"`
}

// LoadClientConfig reads client defaults from the environment.
func LoadClientConfig() (ClientConfig, error) {
	cfg, err := env.ParseAs[ClientConfig]()
	if err != nil {
		return ClientConfig{}, fmt.Errorf("failed to parse client config: %w", err)
	}
	return cfg, nil
}

// Info returns the handshake identity declared by the config.
func (c ClientConfig) Info() Info {
	return Info{Name: c.ClientName, Version: c.ClientVersion}
}

// NewTransport constructs the transport variant selected by cfg.Type. It returns
// an error for an unknown type or a config missing the variant's required
// fields.
func NewTransport(cfg ServerConfig) (Transport, error) {
	switch cfg.Type {
	case TransportStdIO:
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
		return NewStdIO(cfg.Command, cfg.Args, WithStdIODir(cfg.Dir)), nil
	case TransportHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("http transport requires a url")
		}
		opts := []HTTPOption{WithHTTPHeaders(cfg.Headers)}
		if cfg.Timeout > 0 {
			opts = append(opts, WithHTTPTimeout(cfg.Timeout))
		}
		return NewHTTP(cfg.URL, opts...), nil
	case TransportWebSocket:
		if cfg.URL == "" {
			return nil, fmt.Errorf("websocket transport requires a url")
		}
		return NewWebSocket(cfg.URL,
			WithWebSocketProtocols(cfg.Protocols),
			WithWebSocketHeaders(cfg.Headers),
		), nil
	case TransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("sse transport requires a url")
		}
		return NewSSE(cfg.URL, WithSSEHeaders(cfg.Headers)), nil
	default:
		return nil, fmt.Errorf("invalid transport type: %q", cfg.Type)
	}
}
