package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
	"github.com/toolwire/mcp-go/pkg/logging"
)

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	Config

	// BaseURL is the server's base endpoint, e.g. "https://host/mcp".
	BaseURL string

	// BearerToken, when set, is sent as an Authorization: Bearer header.
	BearerToken string

	// APIKey, when set, is sent in APIKeyHeader (default "X-API-Key").
	APIKey string

	// APIKeyHeader overrides the API key header name.
	APIKeyHeader string

	// Headers are additional static headers attached to every request.
	Headers map[string]string

	// RequestTimeout bounds a single POST round trip; zero means 30s.
	RequestTimeout time.Duration

	// HTTPClient overrides the underlying client (for testing).
	HTTPClient *http.Client
}

// HTTPTransport maps each JSON-RPC method onto a logical endpoint suffix
// under a base URL. Send POSTs the message body and queues the parsed
// response body for Receive, so a send/receive pair is coupled per call
// rather than forming fully decoupled streams.
type HTTPTransport struct {
	config HTTPConfig
	logger logging.Logger
	client *http.Client

	responses chan []byte
	connected atomic.Bool
}

// NewHTTPTransport creates an HTTP transport for the given base URL.
func NewHTTPTransport(config HTTPConfig) (*HTTPTransport, error) {
	config.applyDefaults()
	if config.BaseURL == "" {
		return nil, mcperrors.ConnectionFailed("http", "", fmt.Errorf("base URL is required"))
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = "X-API-Key"
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout}
	}

	return &HTTPTransport{
		config:    config,
		logger:    config.Logger.WithFields(logging.String("component", "http-transport")),
		client:    client,
		responses: make(chan []byte, frameQueueSize),
	}, nil
}

// Connect probes the server's health endpoint. Probe failure does not
// prevent connecting, since not all servers implement it.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet,
		strings.TrimSuffix(t.config.BaseURL, "/")+"/health", nil)
	if err == nil {
		t.applyHeaders(req)
		resp, probeErr := t.client.Do(req)
		if probeErr != nil {
			t.logger.Debug("health probe failed", logging.ErrorField(probeErr))
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode >= 400 {
				t.logger.Debug("health probe returned error status",
					logging.Int("status", resp.StatusCode))
			}
		}
	}

	t.connected.Store(true)
	return nil
}

// endpointFor maps a JSON-RPC method to its endpoint suffix.
func endpointFor(method string) string {
	switch {
	case method == "initialize" || method == "initialized":
		return "/initialize"
	case strings.HasPrefix(method, "tools/"):
		return "/tools"
	case strings.HasPrefix(method, "resources/"):
		return "/resources"
	case strings.HasPrefix(method, "prompts/"):
		return "/prompts"
	default:
		return "/rpc"
	}
}

func (t *HTTPTransport) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if t.config.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.BearerToken)
	}
	if t.config.APIKey != "" {
		req.Header.Set(t.config.APIKeyHeader, t.config.APIKey)
	}
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
}

// Send POSTs one message to the endpoint derived from its method and queues
// any response body for Receive.
func (t *HTTPTransport) Send(ctx context.Context, data []byte) error {
	if !t.connected.Load() {
		return mcperrors.TransportError("http", "send", ErrClosed)
	}

	var probe struct {
		Method string `json:"method"`
	}
	// Batches and responses have no top-level method and go to the default
	// endpoint.
	_ = json.Unmarshal(data, &probe)

	url := strings.TrimSuffix(t.config.BaseURL, "/") + endpointFor(probe.Method)

	reqCtx, cancel := context.WithTimeout(ctx, t.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return mcperrors.TransportError("http", "send", err)
	}
	t.applyHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return mcperrors.TransportError("http", "send", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return mcperrors.AuthenticationFailed(fmt.Sprintf("server returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return mcperrors.TransportError("http", "send",
			fmt.Errorf("server returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.config.MaxFrameSize)+1))
	if err != nil {
		return mcperrors.TransportError("http", "receive_body", err)
	}
	if len(body) > t.config.MaxFrameSize {
		return mcperrors.MessageTooLarge(len(body), t.config.MaxFrameSize)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		// Notifications produce no response body.
		return nil
	}
	if !json.Valid(body) {
		t.logger.Warn("dropping non-JSON response body", logging.Int("size", len(body)))
		return nil
	}

	select {
	case t.responses <- body:
	default:
		t.logger.Warn("response queue full, dropping response")
	}
	return nil
}

// Receive returns the next queued response body.
func (t *HTTPTransport) Receive(ctx context.Context) ([]byte, error) {
	if !t.connected.Load() {
		select {
		case body := <-t.responses:
			return body, nil
		default:
			return nil, mcperrors.TransportError("http", "receive", ErrClosed)
		}
	}

	select {
	case body := <-t.responses:
		return body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connected reports whether the transport is usable.
func (t *HTTPTransport) Connected() bool {
	return t.connected.Load()
}

// Disconnect marks the transport closed. In-flight POSTs run to completion
// under their own timeouts.
func (t *HTTPTransport) Disconnect(ctx context.Context) error {
	t.connected.Store(false)
	t.client.CloseIdleConnections()
	return nil
}
