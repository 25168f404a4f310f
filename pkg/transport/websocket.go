package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
	"github.com/toolwire/mcp-go/pkg/logging"
)

// WebSocketConfig configures a WebSocketTransport.
type WebSocketConfig struct {
	Config

	// URL is the ws:// or wss:// endpoint.
	URL string

	// BearerToken, when set, is sent as an Authorization: Bearer header
	// during the handshake.
	BearerToken string

	// APIKey, when set, is sent in APIKeyHeader (default "X-API-Key").
	APIKey string

	// APIKeyHeader overrides the API key header name.
	APIKeyHeader string

	// Headers are additional static headers for the handshake.
	Headers map[string]string

	// HandshakeTimeout bounds the dial; zero means 10s.
	HandshakeTimeout time.Duration
}

// WebSocketTransport carries JSON-RPC messages as text frames over a single
// long-lived socket. A background pump reads frames into a queue consumed by
// Receive; a socket-level error terminates the pump and is reported to the
// next Receive caller.
type WebSocketTransport struct {
	config WebSocketConfig
	logger logging.Logger

	mu   sync.Mutex // guards conn and the write path
	conn *websocket.Conn

	frames  chan []byte
	readErr chan error
	done    chan struct{}
	pump    sync.WaitGroup

	connected atomic.Bool
	stopOnce  sync.Once
}

// NewWebSocketTransport creates a WebSocket transport for the given URL.
func NewWebSocketTransport(config WebSocketConfig) (*WebSocketTransport, error) {
	config.applyDefaults()
	if config.URL == "" {
		return nil, mcperrors.ConnectionFailed("websocket", "", fmt.Errorf("URL is required"))
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = "X-API-Key"
	}

	return &WebSocketTransport{
		config:  config,
		logger:  config.Logger.WithFields(logging.String("component", "websocket-transport")),
		frames:  make(chan []byte, frameQueueSize),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
	}, nil
}

// Connect performs the WebSocket handshake and starts the read pump.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	header := http.Header{}
	if t.config.BearerToken != "" {
		header.Set("Authorization", "Bearer "+t.config.BearerToken)
	}
	if t.config.APIKey != "" {
		header.Set(t.config.APIKeyHeader, t.config.APIKey)
	}
	for k, v := range t.config.Headers {
		header.Set(k, v)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: t.config.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, t.config.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return mcperrors.AuthenticationFailed(fmt.Sprintf("handshake rejected with status %d", resp.StatusCode))
		}
		return mcperrors.ConnectionFailed("websocket", t.config.URL, err)
	}
	conn.SetReadLimit(int64(t.config.MaxFrameSize))

	t.conn = conn
	t.connected.Store(true)

	t.pump.Add(1)
	go t.readPump(conn)

	t.logger.Debug("websocket connected", logging.String("url", t.config.URL))
	return nil
}

func (t *WebSocketTransport) readPump(conn *websocket.Conn) {
	defer t.pump.Done()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				// Expected close during shutdown.
			default:
				t.connected.Store(false)
				select {
				case t.readErr <- mcperrors.ConnectionLost("websocket", err):
				default:
				}
			}
			return
		}

		if messageType != websocket.TextMessage {
			t.logger.Debug("ignoring non-text frame", logging.Int("type", messageType))
			continue
		}

		select {
		case t.frames <- data:
		case <-t.done:
			return
		}
	}
}

// Send writes one message as a text frame. Concurrent writers are
// serialized.
func (t *WebSocketTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || !t.connected.Load() {
		return mcperrors.TransportError("websocket", "send", ErrClosed)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	} else {
		_ = t.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	}

	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.connected.Store(false)
		return mcperrors.ConnectionLost("websocket", err)
	}
	return nil
}

// Receive returns the next text frame.
func (t *WebSocketTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-t.frames:
		return frame, nil
	default:
	}

	select {
	case frame := <-t.frames:
		return frame, nil
	case err := <-t.readErr:
		// Re-queue so later callers observe the failure too.
		select {
		case t.readErr <- err:
		default:
		}
		return nil, err
	case <-t.done:
		return nil, mcperrors.TransportError("websocket", "receive", ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connected reports whether the socket is usable.
func (t *WebSocketTransport) Connected() bool {
	return t.connected.Load()
}

// Disconnect sends a close frame and tears the socket down.
func (t *WebSocketTransport) Disconnect(ctx context.Context) error {
	t.stopOnce.Do(func() {
		t.connected.Store(false)
		close(t.done)

		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()

		if conn != nil {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
		}
		t.pump.Wait()
	})
	return nil
}
