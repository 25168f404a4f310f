// Package client provides the typed client facade over a connection: the
// handshake, tool calls, resource reads, prompt expansion, and notification
// callbacks.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/toolwire/mcp-go/pkg/connection"
	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
	"github.com/toolwire/mcp-go/pkg/logging"
	"github.com/toolwire/mcp-go/pkg/protocol"
	"github.com/toolwire/mcp-go/pkg/transport"
)

// NotificationHandler receives one server notification's parameters.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// Client is the typed facade over a connection. All calls fail fast with a
// not-connected error unless the handshake has completed.
type Client struct {
	conn       *connection.Connection
	logger     logging.Logger
	info       protocol.Implementation
	caps       protocol.Capabilities
	negotiator *protocol.Negotiator

	requestTimeout time.Duration
	connConfig     connection.Config

	resultMu   sync.RWMutex
	initResult *protocol.InitializeResult

	notifMu       sync.RWMutex
	notifHandlers map[string][]NotificationHandler
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientInfo sets the implementation info sent during the handshake.
func WithClientInfo(name, version string) ClientOption {
	return func(c *Client) {
		c.info = protocol.Implementation{Name: name, Version: version}
	}
}

// WithCapabilities sets the capabilities advertised during the handshake.
func WithCapabilities(caps protocol.Capabilities) ClientOption {
	return func(c *Client) { c.caps = caps }
}

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRequestTimeout bounds each call that carries no context deadline.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.requestTimeout = timeout }
}

// WithNegotiator overrides the version negotiator, e.g. to enable legacy
// mode.
func WithNegotiator(n *protocol.Negotiator) ClientOption {
	return func(c *Client) { c.negotiator = n }
}

// WithConnectionConfig overrides the connection configuration.
func WithConnectionConfig(config connection.Config) ClientOption {
	return func(c *Client) { c.connConfig = config }
}

// New creates a client over the given transport. Connect must be called
// before any traffic flows.
func New(t transport.Transport, options ...ClientOption) *Client {
	c := &Client{
		logger:        logging.Nop(),
		info:          protocol.Implementation{Name: "mcp-go-client", Version: "0.1.0"},
		notifHandlers: make(map[string][]NotificationHandler),
	}
	for _, option := range options {
		option(c)
	}
	if c.negotiator == nil {
		c.negotiator = protocol.NewNegotiator(protocol.WithNegotiatorLogger(c.logger))
	}

	c.connConfig.Negotiator = c.negotiator
	if c.connConfig.Logger == nil {
		c.connConfig.Logger = c.logger
	}
	c.conn = connection.New(t, c, c.connConfig)
	return c
}

// Connection exposes the underlying connection for state inspection.
func (c *Client) Connection() *connection.Connection {
	return c.conn
}

// Connect establishes the transport and runs the initialize handshake. On
// return the client is ready for traffic.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Connect(ctx); err != nil {
		return err
	}

	result, err := c.conn.InitializeClient(ctx, c.caps, c.info)
	if err != nil {
		// Leave the transport in a defined state; the handshake failure is
		// the error that matters.
		_ = c.conn.Disconnect(context.Background())
		return err
	}

	c.resultMu.Lock()
	c.initResult = result
	c.resultMu.Unlock()
	return nil
}

// Close tears the connection down. Pending calls fail with a cancellation
// error, not a timeout.
func (c *Client) Close(ctx context.Context) error {
	return c.conn.Disconnect(ctx)
}

// ServerInfo returns the server implementation recorded at handshake.
func (c *Client) ServerInfo() protocol.Implementation {
	c.resultMu.RLock()
	defer c.resultMu.RUnlock()
	if c.initResult == nil {
		return protocol.Implementation{}
	}
	return c.initResult.ServerInfo
}

// ServerCapabilities returns the server capabilities recorded at handshake.
func (c *Client) ServerCapabilities() protocol.Capabilities {
	c.resultMu.RLock()
	defer c.resultMu.RUnlock()
	if c.initResult == nil {
		return protocol.Capabilities{}
	}
	return c.initResult.Capabilities
}

// NegotiatedVersion returns the protocol version agreed at handshake.
func (c *Client) NegotiatedVersion() string {
	return c.conn.NegotiatedVersion()
}

// OnNotification registers a callback for a notification method. Multiple
// callbacks per method run in registration order.
func (c *Client) OnNotification(method string, handler NotificationHandler) {
	c.notifMu.Lock()
	c.notifHandlers[method] = append(c.notifHandlers[method], handler)
	c.notifMu.Unlock()
}

// Ping checks liveness.
func (c *Client) Ping(ctx context.Context) error {
	params := &protocol.PingParams{Timestamp: time.Now().UnixMilli()}
	var result protocol.PingResult
	return c.call(ctx, protocol.MethodPing, params, &result)
}

// ListTools fetches one page of tools. An empty cursor fetches the first
// page.
func (c *Client) ListTools(ctx context.Context, cursor string) (*protocol.ListToolsResult, error) {
	params := &protocol.ListToolsParams{
		PaginationParams: protocol.PaginationParams{Cursor: cursor},
	}
	var result protocol.ListToolsResult
	if err := c.call(ctx, protocol.MethodListTools, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAllTools walks the cursor chain and returns every tool.
func (c *Client) ListAllTools(ctx context.Context) ([]protocol.Tool, error) {
	var tools []protocol.Tool
	cursor := ""
	for {
		page, err := c.ListTools(ctx, cursor)
		if err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes a tool. A tool-level failure comes back as a result with
// IsError set, not as a Go error; errors here mean the call itself failed.
func (c *Client) CallTool(ctx context.Context, name string, args interface{}) (*protocol.CallToolResult, error) {
	argsJSON, err := marshalArguments(args)
	if err != nil {
		return nil, mcperrors.InvalidParams(protocol.MethodCallTool, err.Error())
	}

	params := &protocol.CallToolParams{Name: name, Arguments: argsJSON}
	var result protocol.CallToolResult
	if err := c.call(ctx, protocol.MethodCallTool, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources fetches one page of resources.
func (c *Client) ListResources(ctx context.Context, cursor string) (*protocol.ListResourcesResult, error) {
	params := &protocol.ListResourcesParams{
		PaginationParams: protocol.PaginationParams{Cursor: cursor},
	}
	var result protocol.ListResourcesResult
	if err := c.call(ctx, protocol.MethodListResources, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListAllResources walks the cursor chain and returns every resource.
func (c *Client) ListAllResources(ctx context.Context) ([]protocol.Resource, error) {
	var resources []protocol.Resource
	cursor := ""
	for {
		page, err := c.ListResources(ctx, cursor)
		if err != nil {
			return nil, err
		}
		resources = append(resources, page.Resources...)
		if page.NextCursor == "" {
			return resources, nil
		}
		cursor = page.NextCursor
	}
}

// ReadResource reads the resource addressed by uri.
func (c *Client) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	params := &protocol.ReadResourceParams{URI: uri}
	var result protocol.ReadResourceResult
	if err := c.call(ctx, protocol.MethodReadResource, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPrompts fetches one page of prompts.
func (c *Client) ListPrompts(ctx context.Context, cursor string) (*protocol.ListPromptsResult, error) {
	params := &protocol.ListPromptsParams{
		PaginationParams: protocol.PaginationParams{Cursor: cursor},
	}
	var result protocol.ListPromptsResult
	if err := c.call(ctx, protocol.MethodListPrompts, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPrompt renders a prompt with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	params := &protocol.GetPromptParams{Name: name, Arguments: args}
	var result protocol.GetPromptResult
	if err := c.call(ctx, protocol.MethodGetPrompt, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelRequest tells the server the answer to a request is no longer
// wanted. Best-effort: the response may still arrive and is then dropped.
func (c *Client) CancelRequest(ctx context.Context, requestID interface{}, reason string) error {
	notif, err := protocol.NewNotification(protocol.MethodCancelled, &protocol.CancelledParams{
		RequestID: requestID,
		Reason:    reason,
	})
	if err != nil {
		return err
	}
	return c.conn.SendNotification(ctx, notif)
}

// call performs one request round trip and decodes the result.
func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	req, err := protocol.NewRequest(protocol.NewRequestID(), method, params)
	if err != nil {
		return mcperrors.InvalidParams(method, err.Error())
	}

	if c.requestTimeout > 0 {
		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
			defer cancel()
		}
	}

	resp, err := c.conn.SendRequest(ctx, req)
	if err != nil {
		if mcperrors.IsCancelled(err) {
			// Tell the server not to bother; ignore delivery failure since
			// the connection may already be gone.
			_ = c.CancelRequest(context.Background(), req.ID, "client cancelled")
		}
		return err
	}

	if resp.Error != nil {
		return mcperrors.FromWire(resp.Error.Code, resp.Error.Message, resp.Error.Data)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return mcperrors.Internal(err)
		}
	}
	return nil
}

// HandleRequest implements connection.MessageHandler. Clients answer ping
// and nothing else.
func (c *Client) HandleRequest(ctx context.Context, req *protocol.Request) (interface{}, error) {
	if req.Method == protocol.MethodPing {
		var params protocol.PingParams
		if len(req.Params) > 0 {
			_ = json.Unmarshal(req.Params, &params)
		}
		if params.Timestamp != 0 {
			return &protocol.PingResult{Timestamp: params.Timestamp}, nil
		}
		return &protocol.PingResult{Timestamp: time.Now().UnixMilli()}, nil
	}
	return nil, mcperrors.MethodNotFound(req.Method)
}

// HandleNotification implements connection.MessageHandler, dispatching to
// registered callbacks.
func (c *Client) HandleNotification(ctx context.Context, notif *protocol.Notification) error {
	c.notifMu.RLock()
	handlers := append([]NotificationHandler(nil), c.notifHandlers[notif.Method]...)
	c.notifMu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debug("ignoring notification with no callback",
			logging.String("method", notif.Method))
		return nil
	}
	for _, handler := range handlers {
		handler(ctx, notif.Params)
	}
	return nil
}

func marshalArguments(args interface{}) (json.RawMessage, error) {
	if args == nil {
		return nil, nil
	}
	if raw, ok := args.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return data, nil
}
