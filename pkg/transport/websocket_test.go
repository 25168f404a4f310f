package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
)

var testUpgrader = websocket.Upgrader{}

// echoServer upgrades each connection and echoes text frames back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketTransportEcho(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr, err := NewWebSocketTransport(WebSocketConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))
	defer func() { _ = tr.Disconnect(context.Background()) }()

	msg := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.NoError(t, tr.Send(context.Background(), msg))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	frame, err := tr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(msg), string(frame))
}

func TestWebSocketTransportHandshakeHeaders(t *testing.T) {
	headerCh := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headerCh <- r.Header.Clone()
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	tr, err := NewWebSocketTransport(WebSocketConfig{
		URL:         wsURL(srv),
		BearerToken: "tok-1",
		APIKey:      "key-2",
	})
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))
	defer func() { _ = tr.Disconnect(context.Background()) }()

	header := <-headerCh
	assert.Equal(t, "Bearer tok-1", header.Get("Authorization"))
	assert.Equal(t, "key-2", header.Get("X-API-Key"))
}

func TestWebSocketTransportAuthRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr, err := NewWebSocketTransport(WebSocketConfig{URL: wsURL(srv)})
	require.NoError(t, err)

	err = tr.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeAuthenticationFailed))
}

func TestWebSocketTransportServerClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	tr, err := NewWebSocketTransport(WebSocketConfig{URL: wsURL(srv)})
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))
	defer func() { _ = tr.Disconnect(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = tr.Receive(ctx)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeConnectionLost))
	assert.False(t, tr.Connected())
}

func TestWebSocketTransportRequiresURL(t *testing.T) {
	_, err := NewWebSocketTransport(WebSocketConfig{})
	assert.Error(t, err)
}
