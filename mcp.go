// Package mcp ties the protocol stack together with convenience
// constructors for the common transport pairings. Applications needing
// finer control use the pkg/... packages directly.
package mcp

import (
	"github.com/toolwire/mcp-go/pkg/client"
	"github.com/toolwire/mcp-go/pkg/logging"
	"github.com/toolwire/mcp-go/pkg/server"
	"github.com/toolwire/mcp-go/pkg/transport"
)

// NewStdioServer creates a server speaking newline-delimited JSON-RPC over
// the current process's stdin/stdout. Logging goes to stderr; stdout is
// reserved for wire traffic.
func NewStdioServer(name, version string, options ...server.ServerOption) *Server {
	logger := logging.New(nil, logging.NewTextFormatter()).
		WithFields(logging.String("component", "server"))

	t := transport.NewStdioTransport(transport.StdioConfig{
		Config: transport.Config{Logger: logger},
	})

	options = append([]server.ServerOption{
		server.WithName(name),
		server.WithVersion(version),
		server.WithLogger(logger),
	}, options...)

	return server.New(t, options...)
}

// NewSubprocessClient creates a client that spawns the given command and
// speaks newline-delimited JSON-RPC over its stdio.
func NewSubprocessClient(command string, args []string, options ...client.ClientOption) *Client {
	logger := logging.New(nil, logging.NewTextFormatter()).
		WithFields(logging.String("component", "client"))

	t := transport.NewSubprocessTransport(transport.SubprocessConfig{
		Config:  transport.Config{Logger: logger},
		Command: command,
		Args:    args,
	})

	options = append([]client.ClientOption{
		client.WithLogger(logger),
	}, options...)

	return client.New(t, options...)
}

// NewWebSocketClient creates a client over a ws:// or wss:// endpoint.
func NewWebSocketClient(url string, options ...client.ClientOption) (*Client, error) {
	logger := logging.New(nil, logging.NewTextFormatter()).
		WithFields(logging.String("component", "client"))

	t, err := transport.NewWebSocketTransport(transport.WebSocketConfig{
		Config: transport.Config{Logger: logger},
		URL:    url,
	})
	if err != nil {
		return nil, err
	}

	options = append([]client.ClientOption{
		client.WithLogger(logger),
	}, options...)

	return client.New(t, options...), nil
}

// Server is re-exported for the convenience constructors.
type Server = server.Server

// Client is re-exported for the convenience constructors.
type Client = client.Client
