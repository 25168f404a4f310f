// Package connection implements the transport-independent session layer:
// lifecycle state, the initialize handshake, request/response correlation,
// and concurrent inbound dispatch. It owns every rule that must hold no
// matter which transport carries the bytes.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
	"github.com/toolwire/mcp-go/pkg/logging"
	"github.com/toolwire/mcp-go/pkg/protocol"
	"github.com/toolwire/mcp-go/pkg/transport"
)

const (
	// DefaultRequestTimeout bounds a single outbound request.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultPollInterval is the receive-loop wakeup interval. It bounds how
	// long shutdown can lag behind a Disconnect call.
	DefaultPollInterval = 250 * time.Millisecond

	// DefaultMaxConcurrentHandlers caps concurrently running inbound handlers.
	DefaultMaxConcurrentHandlers = 64
)

// MessageHandler processes inbound traffic. HandleRequest's result is
// marshalled into a success response; a returned error becomes a wire error
// response. Notifications produce no response; a returned error is only
// logged.
type MessageHandler interface {
	HandleRequest(ctx context.Context, req *protocol.Request) (interface{}, error)
	HandleNotification(ctx context.Context, notif *protocol.Notification) error
}

// Observer receives connection telemetry. All methods may be called
// concurrently and must not block.
type Observer interface {
	OnStateChange(from, to State)
	OnOutboundRequest(method string, duration time.Duration, err error)
	OnInboundRequest(method string, duration time.Duration, err error)
}

// Config configures a Connection. The zero value is usable; zero fields take
// the package defaults.
type Config struct {
	// DefaultRequestTimeout applies to SendRequest calls whose context
	// carries no deadline.
	DefaultRequestTimeout time.Duration

	// PollInterval is the receive-loop wakeup interval.
	PollInterval time.Duration

	// MaxConcurrentHandlers caps concurrently running inbound handlers.
	MaxConcurrentHandlers int

	// Negotiator drives version negotiation; nil means a default one
	// supporting only the current protocol revision.
	Negotiator *protocol.Negotiator

	// Observer, when set, receives state changes and request telemetry.
	Observer Observer

	Logger logging.Logger
}

func (c *Config) applyDefaults() {
	if c.DefaultRequestTimeout <= 0 {
		c.DefaultRequestTimeout = DefaultRequestTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxConcurrentHandlers <= 0 {
		c.MaxConcurrentHandlers = DefaultMaxConcurrentHandlers
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
	if c.Negotiator == nil {
		c.Negotiator = protocol.NewNegotiator()
	}
}

// Connection binds a Transport to a MessageHandler and enforces the session
// rules: requests flow only while OPERATING, every outbound request is
// correlated with exactly one terminal outcome, and inbound messages are
// dispatched concurrently under a bounded handler pool.
type Connection struct {
	transport  transport.Transport
	handler    MessageHandler
	config     Config
	logger     logging.Logger
	negotiator *protocol.Negotiator
	observer   Observer

	stateMu sync.Mutex
	state   State

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.Response

	peerMu            sync.RWMutex
	peerInfo          protocol.Implementation
	peerCapabilities  protocol.Capabilities
	negotiatedVersion string

	failMu  sync.Mutex
	failure error

	sem      chan struct{}
	loopStop context.CancelFunc
	loop     sync.WaitGroup
	handlers sync.WaitGroup
}

// New creates a Connection over the given transport. The handler may be nil
// for pure clients that never serve requests; inbound requests then receive
// a method-not-found error response.
func New(t transport.Transport, handler MessageHandler, config Config) *Connection {
	config.applyDefaults()
	return &Connection{
		transport:  t,
		handler:    handler,
		config:     config,
		logger:     config.Logger.WithFields(logging.String("component", "connection")),
		negotiator: config.Negotiator,
		observer:   config.Observer,
		state:      StateDisconnected,
		pending:    make(map[string]chan *protocol.Response),
		sem:        make(chan struct{}, config.MaxConcurrentHandlers),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Initialized reports whether the handshake has completed.
func (c *Connection) Initialized() bool {
	return c.State() == StateOperating
}

func (c *Connection) setState(to State) {
	c.stateMu.Lock()
	from := c.state
	c.state = to
	c.stateMu.Unlock()

	if from == to {
		return
	}
	c.logger.Debug("state change",
		logging.String("from", from.String()),
		logging.String("to", to.String()))
	if c.observer != nil {
		c.observer.OnStateChange(from, to)
	}
}

// transition moves from one specific state to another, failing if the
// connection is not in the expected state.
func (c *Connection) transition(from, to State) error {
	c.stateMu.Lock()
	if c.state != from {
		current := c.state
		c.stateMu.Unlock()
		return mcperrors.NotConnected(current.String()).
			WithDetail(fmt.Sprintf("expected state %s for transition to %s", from, to))
	}
	c.state = to
	c.stateMu.Unlock()

	c.logger.Debug("state change",
		logging.String("from", from.String()),
		logging.String("to", to.String()))
	if c.observer != nil {
		c.observer.OnStateChange(from, to)
	}
	return nil
}

// Connect establishes the transport and starts the receive loop. On success
// the connection is INITIALIZING and the handshake may proceed.
func (c *Connection) Connect(ctx context.Context) error {
	if err := c.transition(StateDisconnected, StateConnecting); err != nil {
		return err
	}

	if err := c.transport.Connect(ctx); err != nil {
		c.setState(StateError)
		c.recordFailure(err)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.loopStop = cancel
	c.loop.Add(1)
	go c.receiveLoop(loopCtx)

	c.setState(StateInitializing)
	return nil
}

// InitializeClient runs the client side of the handshake: send initialize,
// validate the negotiated version, send initialized. On success the
// connection is OPERATING. A version the negotiator rejects moves the
// connection to ERROR; it never reaches OPERATING.
func (c *Connection) InitializeClient(ctx context.Context, capabilities protocol.Capabilities, clientInfo protocol.Implementation) (*protocol.InitializeResult, error) {
	if state := c.State(); state != StateInitializing {
		return nil, mcperrors.NotConnected(state.String()).
			WithDetail("initialize requires a freshly connected session")
	}

	req, err := c.negotiator.CreateInitializeRequest(capabilities, clientInfo)
	if err != nil {
		return nil, mcperrors.InitializationFailed(err.Error())
	}

	resp, err := c.sendAndAwait(ctx, req)
	if err != nil {
		c.setState(StateError)
		c.recordFailure(err)
		return nil, err
	}

	result, err := c.negotiator.HandleInitializeResponse(resp)
	if err != nil {
		c.setState(StateError)
		c.recordFailure(err)
		return nil, err
	}

	c.peerMu.Lock()
	c.peerInfo = result.ServerInfo
	c.peerCapabilities = result.Capabilities
	c.negotiatedVersion = result.ProtocolVersion
	c.peerMu.Unlock()

	notif, err := c.negotiator.CreateInitializedNotification()
	if err != nil {
		c.setState(StateError)
		c.recordFailure(err)
		return nil, mcperrors.InitializationFailed(err.Error())
	}
	if err := c.sendMessage(ctx, notif); err != nil {
		c.setState(StateError)
		c.recordFailure(err)
		return nil, err
	}

	c.setState(StateOperating)
	c.logger.Info("initialized",
		logging.String("peer", result.ServerInfo.Name),
		logging.String("protocol_version", result.ProtocolVersion))
	return result, nil
}

// CompleteInitialization is the server-side handshake completion, called by
// the handler once the peer's initialized notification arrives.
func (c *Connection) CompleteInitialization(peerInfo protocol.Implementation, capabilities protocol.Capabilities, version string) error {
	c.peerMu.Lock()
	c.peerInfo = peerInfo
	c.peerCapabilities = capabilities
	c.negotiatedVersion = version
	c.peerMu.Unlock()

	return c.transition(StateInitializing, StateOperating)
}

// WaitForInitialization blocks until the connection reaches OPERATING, the
// connection fails, or the context expires. It polls rather than busy-waits.
func (c *Connection) WaitForInitialization(ctx context.Context) error {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		switch state := c.State(); state {
		case StateOperating:
			return nil
		case StateError:
			if failure := c.terminalFailure(); failure != nil {
				return failure
			}
			return mcperrors.InitializationFailed("connection entered error state")
		case StateDisconnected, StateShuttingDown:
			return mcperrors.NotConnected(state.String())
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PeerInfo returns the peer's implementation info recorded at handshake.
func (c *Connection) PeerInfo() protocol.Implementation {
	c.peerMu.RLock()
	defer c.peerMu.RUnlock()
	return c.peerInfo
}

// PeerCapabilities returns the peer's capabilities recorded at handshake.
func (c *Connection) PeerCapabilities() protocol.Capabilities {
	c.peerMu.RLock()
	defer c.peerMu.RUnlock()
	return c.peerCapabilities
}

// NegotiatedVersion returns the protocol version agreed at handshake.
func (c *Connection) NegotiatedVersion() string {
	c.peerMu.RLock()
	defer c.peerMu.RUnlock()
	return c.negotiatedVersion
}

// SendRequest sends a request and blocks until its response, a timeout, or
// cancellation. Requests flow only while OPERATING. A context deadline takes
// precedence over the configured default timeout; the two produce distinct
// error categories (timeout vs cancelled) so callers can tell a slow peer
// from their own teardown.
func (c *Connection) SendRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if state := c.State(); state != StateOperating {
		return nil, mcperrors.NotConnected(state.String())
	}
	return c.sendAndAwait(ctx, req)
}

// SendNotification sends a notification. No response is ever awaited.
func (c *Connection) SendNotification(ctx context.Context, notif *protocol.Notification) error {
	if state := c.State(); state != StateOperating {
		return mcperrors.NotConnected(state.String())
	}
	return c.sendMessage(ctx, notif)
}

// sendAndAwait registers a pending entry keyed by the request ID, sends, and
// waits for the correlated response. The entry is always removed, whatever
// the outcome. Used both for regular traffic and for the handshake, which
// runs before OPERATING.
func (c *Connection) sendAndAwait(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	key := idKey(req.ID)

	ch := make(chan *protocol.Response, 1)
	c.pendingMu.Lock()
	if _, exists := c.pending[key]; exists {
		c.pendingMu.Unlock()
		return nil, mcperrors.InvalidRequest(fmt.Sprintf("request ID %s is already in flight", key))
	}
	c.pending[key] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, key)
		c.pendingMu.Unlock()
	}()

	// The default timer backs only calls that carry no deadline of their
	// own; a caller deadline takes precedence. A nil channel never fires.
	var timerC <-chan time.Time
	timeout := c.config.DefaultRequestTimeout
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	started := time.Now()
	if err := c.sendMessage(ctx, req); err != nil {
		c.observeOutbound(req.Method, started, err)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			// Entry was cancelled by teardown or a transport failure.
			err := mcperrors.RequestCancelled(key, c.cancelReason())
			c.observeOutbound(req.Method, started, err)
			return nil, err
		}
		c.observeOutbound(req.Method, started, nil)
		return resp, nil
	case <-timerC:
		err := mcperrors.RequestTimeout(key, timeout)
		c.observeOutbound(req.Method, started, err)
		return nil, err
	case <-ctx.Done():
		var err error
		if ctx.Err() == context.DeadlineExceeded {
			err = mcperrors.RequestTimeout(key, time.Since(started))
		} else {
			err = mcperrors.RequestCancelled(key, "context cancelled")
		}
		c.observeOutbound(req.Method, started, err)
		return nil, err
	}
}

func (c *Connection) observeOutbound(method string, started time.Time, err error) {
	if c.observer != nil {
		c.observer.OnOutboundRequest(method, time.Since(started), err)
	}
}

func (c *Connection) sendMessage(ctx context.Context, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return mcperrors.Internal(err)
	}
	return c.transport.Send(ctx, data)
}

// cancelPending fails every in-flight request. Closing the entry channel is
// the cancellation signal; the waiter converts it into a cancelled error.
func (c *Connection) cancelPending() {
	c.pendingMu.Lock()
	for key, ch := range c.pending {
		close(ch)
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()
}

func (c *Connection) recordFailure(err error) {
	c.failMu.Lock()
	if c.failure == nil {
		c.failure = err
	}
	c.failMu.Unlock()
}

func (c *Connection) terminalFailure() error {
	c.failMu.Lock()
	defer c.failMu.Unlock()
	return c.failure
}

func (c *Connection) cancelReason() string {
	if failure := c.terminalFailure(); failure != nil {
		return failure.Error()
	}
	return "connection shutting down"
}

// receiveLoop pulls raw messages off the transport and dispatches them. It
// wakes at the poll interval so shutdown is observed promptly even when the
// transport is idle.
func (c *Connection) receiveLoop(ctx context.Context) {
	defer c.loop.Done()

	for {
		recvCtx, cancel := context.WithTimeout(ctx, c.config.PollInterval)
		data, err := c.transport.Receive(recvCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if recvCtx.Err() == context.DeadlineExceeded {
				continue
			}
			// Transport failure: fail the session and every pending request.
			c.logger.Error("transport failure", logging.ErrorField(err))
			c.recordFailure(err)
			c.setState(StateError)
			c.cancelPending()
			return
		}

		c.dispatch(ctx, data)
	}
}

// dispatch routes one raw payload. Batch elements are dispatched as
// independent units: a malformed or failing element never affects its
// siblings, and their responses may interleave in any order.
func (c *Connection) dispatch(ctx context.Context, data []byte) {
	if protocol.IsBatch(data) {
		elements, err := protocol.SplitBatch(data)
		if err != nil {
			c.logger.Warn("dropping malformed batch", logging.ErrorField(err))
			return
		}
		for _, element := range elements {
			c.dispatchOne(ctx, element)
		}
		return
	}
	c.dispatchOne(ctx, data)
}

func (c *Connection) dispatchOne(ctx context.Context, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		c.logger.Warn("dropping malformed message",
			logging.ErrorField(err),
			logging.Int("size", len(data)))
		return
	}

	switch m := msg.(type) {
	case *protocol.Response:
		c.resolveResponse(m)
	case *protocol.Request:
		c.spawnHandler(ctx, func(hctx context.Context) { c.handleRequest(hctx, m) })
	case *protocol.Notification:
		c.spawnHandler(ctx, func(hctx context.Context) { c.handleNotification(hctx, m) })
	}
}

// spawnHandler runs fn on the bounded handler pool. When the pool is
// saturated, dispatch blocks until a slot frees; shutdown unblocks it.
func (c *Connection) spawnHandler(ctx context.Context, fn func(context.Context)) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	c.handlers.Add(1)
	go func() {
		defer c.handlers.Done()
		defer func() { <-c.sem }()
		fn(ctx)
	}()
}

// resolveResponse matches a response to its pending request. A response with
// no pending entry (already timed out, or never sent by us) is logged at
// debug and dropped rather than treated as an error.
func (c *Connection) resolveResponse(resp *protocol.Response) {
	if err := resp.Validate(); err != nil {
		c.logger.Warn("dropping invalid response", logging.ErrorField(err))
		return
	}

	key := idKey(resp.ID)
	c.pendingMu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("dropping response with no pending request",
			logging.String("id", key))
		return
	}
	ch <- resp
}

func (c *Connection) handleRequest(ctx context.Context, req *protocol.Request) {
	started := time.Now()
	var handlerErr error

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic",
				logging.String("method", req.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
			handlerErr = mcperrors.Internal(fmt.Errorf("handler panic: %v", r))
			c.respondError(ctx, req, handlerErr)
		}
		if c.observer != nil {
			c.observer.OnInboundRequest(req.Method, time.Since(started), handlerErr)
		}
	}()

	if c.handler == nil {
		handlerErr = mcperrors.MethodNotFound(req.Method)
		c.respondError(ctx, req, handlerErr)
		return
	}

	result, err := c.handler.HandleRequest(logging.ContextWithRequestID(ctx, idKey(req.ID)), req)
	if err != nil {
		handlerErr = err
		c.respondError(ctx, req, err)
		return
	}

	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		handlerErr = err
		c.respondError(ctx, req, mcperrors.Internal(err))
		return
	}
	if err := c.sendMessage(ctx, resp); err != nil {
		c.logger.Error("failed to send response",
			logging.String("method", req.Method),
			logging.ErrorField(err))
	}
}

func (c *Connection) respondError(ctx context.Context, req *protocol.Request, err error) {
	code, message, data := mcperrors.ToWire(err)
	resp, buildErr := protocol.NewErrorResponse(req.ID, code, message, data)
	if buildErr != nil {
		c.logger.Error("failed to build error response", logging.ErrorField(buildErr))
		return
	}
	if sendErr := c.sendMessage(ctx, resp); sendErr != nil {
		c.logger.Error("failed to send error response",
			logging.String("method", req.Method),
			logging.ErrorField(sendErr))
	}
}

func (c *Connection) handleNotification(ctx context.Context, notif *protocol.Notification) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("notification handler panic",
				logging.String("method", notif.Method),
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())))
		}
	}()

	if c.handler == nil {
		c.logger.Debug("ignoring notification with no handler",
			logging.String("method", notif.Method))
		return
	}
	if err := c.handler.HandleNotification(ctx, notif); err != nil {
		// Notifications have no response channel to report through.
		c.logger.Warn("notification handler failed",
			logging.String("method", notif.Method),
			logging.ErrorField(err))
	}
}

// Disconnect tears the session down: pending requests are cancelled (not
// timed out), the receive loop is stopped, and the transport is released.
// Safe to call in any state; disconnecting twice is a no-op.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state == StateDisconnected || c.state == StateShuttingDown {
		c.stateMu.Unlock()
		return nil
	}
	from := c.state
	c.state = StateShuttingDown
	c.stateMu.Unlock()
	if c.observer != nil {
		c.observer.OnStateChange(from, StateShuttingDown)
	}

	c.cancelPending()
	if c.loopStop != nil {
		c.loopStop()
	}

	err := c.transport.Disconnect(ctx)

	c.loop.Wait()
	c.handlers.Wait()
	c.setState(StateDisconnected)
	c.logger.Debug("disconnected")
	return err
}

// idKey normalizes a request ID for correlation. Stringifying makes a
// numeric ID sent as int match the float64 the JSON decoder hands back.
func idKey(id interface{}) string {
	switch v := id.(type) {
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", v)
	}
}
