package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolwire/mcp-go/pkg/connection"
	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
	"github.com/toolwire/mcp-go/pkg/observability"
	"github.com/toolwire/mcp-go/pkg/protocol"
	"github.com/toolwire/mcp-go/pkg/server"
	"github.com/toolwire/mcp-go/pkg/testutil"
)

// pipeTransport is one end of an in-memory duplex pipe. Send delivers to the
// peer's inbound queue; Receive drains this end's queue.
type pipeTransport struct {
	inbound chan []byte
	peer    *pipeTransport

	mu        sync.Mutex
	connected bool
	done      chan struct{}
}

// newPipePair returns two cross-wired transports.
func newPipePair() (*pipeTransport, *pipeTransport) {
	a := &pipeTransport{inbound: make(chan []byte, 64), done: make(chan struct{})}
	b := &pipeTransport{inbound: make(chan []byte, 64), done: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *pipeTransport) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *pipeTransport) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		p.connected = false
		close(p.done)
	}
	return nil
}

func (p *pipeTransport) Send(ctx context.Context, data []byte) error {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected {
		return mcperrors.NotConnected("DISCONNECTED")
	}

	frame := append([]byte(nil), data...)
	select {
	case p.peer.inbound <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.inbound:
		return frame, nil
	case <-p.done:
		return nil, mcperrors.ConnectionLost("pipe", nil)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func quickConfig() connection.Config {
	return connection.Config{PollInterval: 10 * time.Millisecond}
}

// startPair wires a real server and client over an in-memory pipe and runs
// the handshake.
func startPair(t *testing.T, serverOptions ...server.ServerOption) (*Client, *server.Server) {
	t.Helper()

	clientEnd, serverEnd := newPipePair()

	serverOptions = append([]server.ServerOption{
		server.WithName("pipe-server"),
		server.WithVersion("1.2.3"),
		server.WithConnectionConfig(quickConfig()),
	}, serverOptions...)
	srv := server.New(serverEnd, serverOptions...)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	cli := New(clientEnd,
		WithClientInfo("pipe-client", "0.0.1"),
		WithConnectionConfig(quickConfig()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, cli.Connect(ctx))
	t.Cleanup(func() { _ = cli.Close(context.Background()) })

	return cli, srv
}

func TestCallsFailFastBeforeConnect(t *testing.T) {
	clientEnd, _ := newPipePair()
	cli := New(clientEnd, WithConnectionConfig(quickConfig()))

	err := cli.Ping(context.Background())
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeNotConnected))

	_, err = cli.ListTools(context.Background(), "")
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeNotConnected))
}

func TestHandshake(t *testing.T) {
	cli, _ := startPair(t)

	assert.Equal(t, "pipe-server", cli.ServerInfo().Name)
	assert.Equal(t, "1.2.3", cli.ServerInfo().Version)
	assert.Equal(t, protocol.CurrentProtocolVersion, cli.NegotiatedVersion())
	require.NotNil(t, cli.ServerCapabilities().Tools)
	assert.True(t, cli.ServerCapabilities().Tools.ListChanged)
	assert.Equal(t, connection.StateOperating, cli.Connection().State())
}

func TestPingRoundTrip(t *testing.T) {
	cli, _ := startPair(t)
	assert.NoError(t, cli.Ping(context.Background()))
}

func TestCallToolEndToEnd(t *testing.T) {
	cli, srv := startPair(t)
	srv.RegisterTool(protocol.Tool{
		Name: "add",
		InputSchema: json.RawMessage(`{
			"type":"object",
			"properties":{"a":{"type":"number"},"b":{"type":"number"}},
			"required":["a","b"]
		}`),
	}, func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var in struct{ A, B float64 }
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return fmt.Sprintf("%g", in.A+in.B), nil
	})

	result, err := cli.CallTool(context.Background(), "add",
		map[string]float64{"a": 2, "b": 3})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "5", result.Content[0].(protocol.TextContent).Text)
}

func TestCallToolFailureComesBackAsIsError(t *testing.T) {
	cli, srv := startPair(t)
	srv.RegisterTool(protocol.Tool{Name: "broken"},
		func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			return nil, fmt.Errorf("out of cheese")
		})

	result, err := cli.CallTool(context.Background(), "broken", nil)
	require.NoError(t, err, "tool failure travels as data, not as a call error")
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Contains(t, result.Content[0].(protocol.TextContent).Text, "out of cheese")
}

func TestCallToolUnknownToolIsWireError(t *testing.T) {
	cli, _ := startPair(t)

	_, err := cli.CallTool(context.Background(), "no-such-tool", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeToolNotFound))
}

func TestListAllToolsWalksCursorChain(t *testing.T) {
	cli, srv := startPair(t)
	for i := 0; i < 250; i++ {
		srv.RegisterTool(protocol.Tool{Name: fmt.Sprintf("tool-%03d", i)},
			func(ctx context.Context, args json.RawMessage) (interface{}, error) {
				return "ok", nil
			})
	}

	// One page is capped, so the walk needs several round trips.
	page, err := cli.ListTools(context.Background(), "")
	require.NoError(t, err)
	assert.Less(t, len(page.Tools), 250)
	assert.NotEmpty(t, page.NextCursor)

	tools, err := cli.ListAllTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 250)
}

func TestReadResourceTemplate(t *testing.T) {
	cli, srv := startPair(t)
	require.NoError(t, srv.RegisterResource(protocol.Resource{
		URITemplate: "data://weather/{city}",
		Name:        "weather",
		MimeType:    "text/plain",
	}, func(ctx context.Context, uri string, params map[string]string) (interface{}, error) {
		return "sunny in " + params["city"], nil
	}))

	result, err := cli.ReadResource(context.Background(), "data://weather/london")
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "data://weather/london", result.Contents[0].URI)
	assert.Equal(t, "text/plain", result.Contents[0].MimeType)
	require.Len(t, result.Contents[0].Contents, 1)
	assert.Equal(t, "sunny in london",
		result.Contents[0].Contents[0].(protocol.TextContent).Text)

	_, err = cli.ReadResource(context.Background(), "data://weather")
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeResourceNotFound))
}

func TestGetPromptEndToEnd(t *testing.T) {
	cli, srv := startPair(t)
	srv.RegisterPrompt(protocol.Prompt{
		Name:      "greet",
		Arguments: []protocol.PromptArgument{{Name: "name", Required: true}},
	}, func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
		return &protocol.GetPromptResult{
			Messages: []protocol.PromptMessage{{
				Role:    "user",
				Content: protocol.NewTextContent("Hello " + args["name"]),
			}},
		}, nil
	})

	result, err := cli.GetPrompt(context.Background(), "greet", map[string]string{"name": "Ada"})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "user", result.Messages[0].Role)
	assert.Equal(t, "Hello Ada", result.Messages[0].Content.(protocol.TextContent).Text)

	_, err = cli.GetPrompt(context.Background(), "greet", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))
}

func TestListChangedNotificationReachesCallback(t *testing.T) {
	cli, srv := startPair(t)

	notified := make(chan struct{}, 1)
	cli.OnNotification(protocol.MethodToolListChanged,
		func(ctx context.Context, params json.RawMessage) {
			select {
			case notified <- struct{}{}:
			default:
			}
		})

	srv.RegisterTool(protocol.Tool{Name: "late-arrival"},
		func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			return "ok", nil
		})

	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("tools/list_changed never reached the callback")
	}
}

func TestCloseCancelsPendingCalls(t *testing.T) {
	cli, srv := startPair(t)

	started := make(chan struct{})
	srv.RegisterTool(protocol.Tool{Name: "slow"},
		func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})

	errCh := make(chan error, 1)
	go func() {
		_, err := cli.CallTool(context.Background(), "slow", nil)
		errCh <- err
	}()

	<-started
	require.NoError(t, cli.Close(context.Background()))

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, mcperrors.IsCancelled(err), "teardown cancels, it does not time out")
		assert.False(t, mcperrors.IsTimeout(err))
	case <-time.After(2 * time.Second):
		t.Fatal("pending call survived Close")
	}
}

func TestObserverSeesTrafficOnBothEnds(t *testing.T) {
	metrics, err := observability.NewMetrics(observability.MetricsConfig{})
	require.NoError(t, err)
	obs := observability.NewConnectionObserver(metrics)
	observed := connection.Config{
		PollInterval: 10 * time.Millisecond,
		Observer:     obs,
	}

	clientEnd, serverEnd := newPipePair()
	srv := server.New(serverEnd,
		server.WithName("observed-server"),
		server.WithConnectionConfig(observed))
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	srv.RegisterTool(protocol.Tool{Name: "echo"},
		func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			return string(args), nil
		})

	cli := New(clientEnd, WithConnectionConfig(observed))
	require.NoError(t, cli.Connect(context.Background()))
	t.Cleanup(func() { _ = cli.Close(context.Background()) })

	_, err = cli.CallTool(context.Background(), "echo", map[string]string{"k": "v"})
	require.NoError(t, err)

	scrapeBody := func() string {
		rec := httptest.NewRecorder()
		metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		return rec.Body.String()
	}

	// The server records its side after the response is already on the
	// wire, so poll for it.
	require.Eventually(t, func() bool {
		return strings.Contains(scrapeBody(),
			`mcp_inbound_request_total{method="tools/call",status="success"} 1`)
	}, 2*time.Second, 20*time.Millisecond)

	// Both directions of the same call land in the shared registry, and so
	// does the handshake.
	body := scrapeBody()
	assert.Contains(t, body, `mcp_outbound_request_total{method="tools/call",status="success"} 1`)
	assert.Contains(t, body, `mcp_outbound_request_total{method="initialize",status="success"} 1`)
	assert.Contains(t, body, `mcp_active_connections 2`)
}

func TestLifecycleLeavesNoGoroutines(t *testing.T) {
	// Cleanups run in reverse order, so the leak check fires after both ends
	// have shut down.
	testutil.VerifyGoroutines(t, 2)

	cli, srv := startPair(t)
	srv.RegisterTool(protocol.Tool{Name: "echo"},
		func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			return string(args), nil
		})

	for i := 0; i < 5; i++ {
		_, err := cli.CallTool(context.Background(), "echo",
			map[string]int{"i": i})
		require.NoError(t, err)
	}
}

func TestCallDeadlineBecomesTimeout(t *testing.T) {
	cli, srv := startPair(t)

	srv.RegisterTool(protocol.Tool{Name: "stuck"},
		func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := cli.CallTool(ctx, "stuck", nil)
	require.Error(t, err)
	assert.True(t, mcperrors.IsTimeout(err))
}
