// Package server implements the server side of the protocol: feature
// registries, request routing, the initialize handshake, and cooperative
// cancellation.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/toolwire/mcp-go/pkg/connection"
	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
	"github.com/toolwire/mcp-go/pkg/logging"
	"github.com/toolwire/mcp-go/pkg/pagination"
	"github.com/toolwire/mcp-go/pkg/protocol"
	"github.com/toolwire/mcp-go/pkg/transport"
)

// Server routes inbound requests to registered tools, resources, and
// prompts. It implements connection.MessageHandler; the connection owns all
// transport and correlation concerns.
type Server struct {
	name    string
	version string

	tools     *toolRegistry
	resources *resourceRegistry
	prompts   *promptRegistry

	conn       *connection.Connection
	negotiator *protocol.Negotiator
	logger     logging.Logger
	pageSize   int

	connConfig connection.Config

	peerMu     sync.Mutex
	clientInfo protocol.Implementation
	clientCaps protocol.Capabilities
	negotiated string

	activeMu       sync.Mutex
	activeRequests map[string]context.CancelFunc
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithName sets the advertised server name.
func WithName(name string) ServerOption {
	return func(s *Server) { s.name = name }
}

// WithVersion sets the advertised server version.
func WithVersion(version string) ServerOption {
	return func(s *Server) { s.version = version }
}

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithPageSize sets the page size for the list operations.
func WithPageSize(size int) ServerOption {
	return func(s *Server) { s.pageSize = size }
}

// WithNegotiator overrides the version negotiator, e.g. to enable legacy
// mode.
func WithNegotiator(n *protocol.Negotiator) ServerOption {
	return func(s *Server) { s.negotiator = n }
}

// WithConnectionConfig overrides the connection configuration (timeouts,
// handler concurrency, observer).
func WithConnectionConfig(config connection.Config) ServerOption {
	return func(s *Server) { s.connConfig = config }
}

// New creates a server bound to the given transport. Features are registered
// afterwards with RegisterTool, RegisterResource, and RegisterPrompt.
func New(t transport.Transport, options ...ServerOption) *Server {
	s := &Server{
		name:           "mcp-go-server",
		version:        "0.1.0",
		tools:          newToolRegistry(),
		resources:      newResourceRegistry(),
		prompts:        newPromptRegistry(),
		logger:         logging.Nop(),
		pageSize:       pagination.DefaultPageSize,
		activeRequests: make(map[string]context.CancelFunc),
	}
	for _, option := range options {
		option(s)
	}
	if s.negotiator == nil {
		s.negotiator = protocol.NewNegotiator(protocol.WithNegotiatorLogger(s.logger))
	}

	s.connConfig.Negotiator = s.negotiator
	if s.connConfig.Logger == nil {
		s.connConfig.Logger = s.logger
	}
	s.conn = connection.New(t, s, s.connConfig)
	return s
}

// Connection exposes the underlying connection for state inspection.
func (s *Server) Connection() *connection.Connection {
	return s.conn
}

// ClientInfo returns the peer implementation recorded at handshake.
func (s *Server) ClientInfo() protocol.Implementation {
	s.peerMu.Lock()
	defer s.peerMu.Unlock()
	return s.clientInfo
}

// RegisterTool adds a tool. A registration after the handshake triggers a
// tools/list_changed notification.
func (s *Server) RegisterTool(tool protocol.Tool, handler ToolHandler) {
	s.tools.register(tool, handler)
	s.notifyListChanged(protocol.MethodToolListChanged)
}

// UnregisterTool removes a tool by name.
func (s *Server) UnregisterTool(name string) bool {
	ok := s.tools.unregister(name)
	if ok {
		s.notifyListChanged(protocol.MethodToolListChanged)
	}
	return ok
}

// RegisterResource adds a resource. Resources carrying a URITemplate match
// any URI the template covers; exact URIs win over templates.
func (s *Server) RegisterResource(resource protocol.Resource, handler ResourceHandler) error {
	if err := s.resources.register(resource, handler); err != nil {
		return err
	}
	s.notifyListChanged(protocol.MethodResourceListChanged)
	return nil
}

// RegisterPrompt adds a prompt.
func (s *Server) RegisterPrompt(prompt protocol.Prompt, handler PromptHandler) {
	s.prompts.register(prompt, handler)
	s.notifyListChanged(protocol.MethodPromptListChanged)
}

func (s *Server) notifyListChanged(method string) {
	if s.conn == nil || !s.conn.Initialized() {
		return
	}
	notif, err := protocol.NewNotification(method, nil)
	if err != nil {
		return
	}
	if err := s.conn.SendNotification(context.Background(), notif); err != nil {
		s.logger.Debug("failed to send list_changed notification",
			logging.String("method", method),
			logging.ErrorField(err))
	}
}

// Start connects the transport and begins serving. It returns once the
// connection is ready for the client's handshake.
func (s *Server) Start(ctx context.Context) error {
	return s.conn.Connect(ctx)
}

// Serve runs the server until the context is cancelled, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown disconnects the transport and cancels in-flight handlers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelAllActive()
	return s.conn.Disconnect(ctx)
}

// capabilities describes what this server advertises during the handshake.
func (s *Server) capabilities() protocol.Capabilities {
	return protocol.Capabilities{
		Tools:     &protocol.ToolsCapability{ListChanged: true},
		Resources: &protocol.ResourcesCapability{ListChanged: true},
		Prompts:   &protocol.PromptsCapability{ListChanged: true},
	}
}

// HandleRequest implements connection.MessageHandler.
func (s *Server) HandleRequest(ctx context.Context, req *protocol.Request) (interface{}, error) {
	switch req.Method {
	case protocol.MethodInitialize:
		return s.handleInitialize(req)
	case protocol.MethodPing:
		return s.handlePing(req)
	}

	// Feature methods require a completed handshake.
	if !s.conn.Initialized() {
		return nil, mcperrors.InvalidRequest(
			fmt.Sprintf("method %s requires an initialized connection", req.Method))
	}

	ctx, finish := s.trackRequest(ctx, req.ID)
	defer finish()

	switch req.Method {
	case protocol.MethodListTools:
		return s.handleListTools(req)
	case protocol.MethodCallTool:
		return s.handleCallTool(ctx, req)
	case protocol.MethodListResources:
		return s.handleListResources(req)
	case protocol.MethodReadResource:
		return s.handleReadResource(ctx, req)
	case protocol.MethodListPrompts:
		return s.handleListPrompts(req)
	case protocol.MethodGetPrompt:
		return s.handleGetPrompt(ctx, req)
	default:
		return nil, mcperrors.MethodNotFound(req.Method)
	}
}

// HandleNotification implements connection.MessageHandler.
func (s *Server) HandleNotification(ctx context.Context, notif *protocol.Notification) error {
	switch notif.Method {
	case protocol.MethodInitialized:
		return s.handleInitialized()
	case protocol.MethodCancelled:
		return s.handleCancelled(notif)
	default:
		s.logger.Debug("ignoring unknown notification",
			logging.String("method", notif.Method))
		return nil
	}
}

func (s *Server) handleInitialize(req *protocol.Request) (interface{}, error) {
	var params protocol.InitializeParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}

	if err := s.negotiator.CheckVersion(params.ProtocolVersion); err != nil {
		// Surface the rejection with a wire-visible code; the supported set
		// tells the client what to offer instead.
		return nil, mcperrors.InitializationFailed(
			fmt.Sprintf("unsupported protocol version %q", params.ProtocolVersion)).
			WithData(map[string]interface{}{
				"offered":   params.ProtocolVersion,
				"supported": s.negotiator.SupportedVersions(),
			})
	}

	s.peerMu.Lock()
	s.clientInfo = params.ClientInfo
	s.clientCaps = params.Capabilities
	s.negotiated = params.ProtocolVersion
	s.peerMu.Unlock()

	s.logger.Info("client initializing",
		logging.String("client", params.ClientInfo.Name),
		logging.String("client_version", params.ClientInfo.Version),
		logging.String("protocol_version", params.ProtocolVersion))

	return &protocol.InitializeResult{
		ProtocolVersion: params.ProtocolVersion,
		Capabilities:    s.capabilities(),
		ServerInfo:      protocol.Implementation{Name: s.name, Version: s.version},
	}, nil
}

func (s *Server) handleInitialized() error {
	s.peerMu.Lock()
	info := s.clientInfo
	caps := s.clientCaps
	version := s.negotiated
	s.peerMu.Unlock()

	if version == "" {
		return mcperrors.InvalidRequest("initialized received before initialize")
	}
	if err := s.conn.CompleteInitialization(info, caps, version); err != nil {
		return err
	}
	s.logger.Info("handshake complete", logging.String("client", info.Name))
	return nil
}

func (s *Server) handlePing(req *protocol.Request) (interface{}, error) {
	var params protocol.PingParams
	if len(req.Params) > 0 {
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
	}
	if params.Timestamp != 0 {
		return &protocol.PingResult{Timestamp: params.Timestamp}, nil
	}
	return &protocol.PingResult{Timestamp: time.Now().UnixMilli()}, nil
}

func (s *Server) handleListTools(req *protocol.Request) (interface{}, error) {
	var params protocol.ListToolsParams
	if len(req.Params) > 0 {
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
	}

	tools := s.tools.list()
	start, end, next, err := s.page(req.Method, len(tools), params.Cursor)
	if err != nil {
		return nil, err
	}
	return &protocol.ListToolsResult{Tools: tools[start:end], NextCursor: next}, nil
}

func (s *Server) handleCallTool(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.CallToolParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, mcperrors.MissingParam(req.Method, "name")
	}

	entry, ok := s.tools.get(params.Name)
	if !ok {
		return nil, mcperrors.ToolNotFound(params.Name)
	}

	if err := validateArguments(entry.tool.InputSchema, params.Arguments); err != nil {
		return nil, mcperrors.InvalidParams(req.Method, err.Error())
	}

	result := s.runTool(ctx, entry, params.Arguments)
	return result, nil
}

// runTool executes the handler with panic containment. A panicking tool is a
// failing tool, not a broken connection.
func (s *Server) runTool(ctx context.Context, entry toolEntry, args json.RawMessage) (result *protocol.CallToolResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tool panic",
				logging.String("tool", entry.tool.Name),
				logging.Any("panic", r))
			result = normalizeToolResult(nil, fmt.Errorf("tool %s panicked: %v", entry.tool.Name, r))
		}
	}()

	value, err := entry.handler(ctx, args)
	if err != nil {
		s.logger.Debug("tool returned error",
			logging.String("tool", entry.tool.Name),
			logging.ErrorField(err))
	}
	return normalizeToolResult(value, err)
}

func (s *Server) handleListResources(req *protocol.Request) (interface{}, error) {
	var params protocol.ListResourcesParams
	if len(req.Params) > 0 {
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
	}

	resources := s.resources.list()
	start, end, next, err := s.page(req.Method, len(resources), params.Cursor)
	if err != nil {
		return nil, err
	}
	return &protocol.ListResourcesResult{Resources: resources[start:end], NextCursor: next}, nil
}

func (s *Server) handleReadResource(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.ReadResourceParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}
	if params.URI == "" {
		return nil, mcperrors.MissingParam(req.Method, "uri")
	}

	entry, templateParams, ok := s.resources.match(params.URI)
	if !ok {
		return nil, mcperrors.ResourceNotFound(params.URI)
	}

	value, err := entry.handler(ctx, params.URI, templateParams)
	if err != nil {
		if _, isProtocol := mcperrors.AsProtocolError(err); isProtocol {
			return nil, err
		}
		return nil, mcperrors.Internal(err)
	}

	return &protocol.ReadResourceResult{
		Contents: []protocol.ResourceContents{{
			URI:      params.URI,
			MimeType: entry.resource.MimeType,
			Contents: normalizeResourceContents(value),
		}},
	}, nil
}

func (s *Server) handleListPrompts(req *protocol.Request) (interface{}, error) {
	var params protocol.ListPromptsParams
	if len(req.Params) > 0 {
		if err := unmarshalParams(req, &params); err != nil {
			return nil, err
		}
	}

	prompts := s.prompts.list()
	start, end, next, err := s.page(req.Method, len(prompts), params.Cursor)
	if err != nil {
		return nil, err
	}
	return &protocol.ListPromptsResult{Prompts: prompts[start:end], NextCursor: next}, nil
}

func (s *Server) handleGetPrompt(ctx context.Context, req *protocol.Request) (interface{}, error) {
	var params protocol.GetPromptParams
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, mcperrors.MissingParam(req.Method, "name")
	}

	entry, ok := s.prompts.get(params.Name)
	if !ok {
		return nil, mcperrors.PromptNotFound(params.Name)
	}

	for _, arg := range entry.prompt.Arguments {
		if arg.Required {
			if _, present := params.Arguments[arg.Name]; !present {
				return nil, mcperrors.MissingParam(req.Method, arg.Name)
			}
		}
	}

	result, err := entry.handler(ctx, params.Arguments)
	if err != nil {
		if _, isProtocol := mcperrors.AsProtocolError(err); isProtocol {
			return nil, err
		}
		return nil, mcperrors.Internal(err)
	}
	return result, nil
}

func (s *Server) handleCancelled(notif *protocol.Notification) error {
	var params protocol.CancelledParams
	if len(notif.Params) > 0 {
		if err := json.Unmarshal(notif.Params, &params); err != nil {
			return mcperrors.InvalidParams(notif.Method, err.Error())
		}
	}
	if params.RequestID == nil {
		return mcperrors.MissingParam(notif.Method, "requestId")
	}

	key := fmt.Sprintf("%v", params.RequestID)
	s.activeMu.Lock()
	cancel, ok := s.activeRequests[key]
	s.activeMu.Unlock()

	if !ok {
		// Already finished, or never ours. Cancellation is best-effort.
		s.logger.Debug("cancellation for unknown request",
			logging.String("request_id", key))
		return nil
	}

	s.logger.Debug("cancelling request",
		logging.String("request_id", key),
		logging.String("reason", params.Reason))
	cancel()
	return nil
}

// trackRequest registers a cancel function for the request so that a
// notifications/cancelled can interrupt its handler. The returned finish
// removes the registration.
func (s *Server) trackRequest(ctx context.Context, id interface{}) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	key := fmt.Sprintf("%v", id)

	s.activeMu.Lock()
	s.activeRequests[key] = cancel
	s.activeMu.Unlock()

	return ctx, func() {
		s.activeMu.Lock()
		delete(s.activeRequests, key)
		s.activeMu.Unlock()
		cancel()
	}
}

func (s *Server) cancelAllActive() {
	s.activeMu.Lock()
	for key, cancel := range s.activeRequests {
		cancel()
		delete(s.activeRequests, key)
	}
	s.activeMu.Unlock()
}

func (s *Server) page(method string, total int, cursor string) (int, int, string, error) {
	offset, err := pagination.DecodeCursor(cursor)
	if err != nil {
		return 0, 0, "", mcperrors.InvalidParams(method, err.Error())
	}
	start, end, next, err := pagination.Page(total, offset, s.pageSize)
	if err != nil {
		return 0, 0, "", mcperrors.InvalidParams(method, err.Error())
	}
	return start, end, next, nil
}

func unmarshalParams(req *protocol.Request, target interface{}) error {
	if len(req.Params) == 0 {
		return mcperrors.InvalidParams(req.Method, "params are required")
	}
	if err := json.Unmarshal(req.Params, target); err != nil {
		return mcperrors.InvalidParams(req.Method, err.Error())
	}
	return nil
}
