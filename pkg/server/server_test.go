package server

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolwire/mcp-go/pkg/connection"
	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
	"github.com/toolwire/mcp-go/pkg/pagination"
	"github.com/toolwire/mcp-go/pkg/protocol"
)

// idleTransport satisfies transport.Transport without carrying traffic; the
// tests drive the server's handler directly.
type idleTransport struct{}

func (idleTransport) Connect(ctx context.Context) error    { return nil }
func (idleTransport) Disconnect(ctx context.Context) error { return nil }
func (idleTransport) Send(ctx context.Context, data []byte) error {
	return nil
}
func (idleTransport) Receive(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (idleTransport) Connected() bool { return true }

func newRequest(t *testing.T, id interface{}, method string, params interface{}) *protocol.Request {
	t.Helper()
	req, err := protocol.NewRequest(id, method, params)
	require.NoError(t, err)
	return req
}

// newTestServer starts a server and walks it through the handshake so
// feature methods are reachable.
func newTestServer(t *testing.T, options ...ServerOption) *Server {
	t.Helper()

	options = append([]ServerOption{
		WithName("test-server"),
		WithVersion("0.0.1"),
		WithConnectionConfig(connection.Config{PollInterval: 10 * time.Millisecond}),
	}, options...)
	srv := New(idleTransport{}, options...)

	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	result, err := srv.HandleRequest(context.Background(), newRequest(t, "init", protocol.MethodInitialize,
		&protocol.InitializeParams{
			ProtocolVersion: protocol.CurrentProtocolVersion,
			ClientInfo:      protocol.Implementation{Name: "test-client", Version: "1"},
		}))
	require.NoError(t, err)
	require.IsType(t, &protocol.InitializeResult{}, result)

	notif, err := protocol.NewNotification(protocol.MethodInitialized, nil)
	require.NoError(t, err)
	require.NoError(t, srv.HandleNotification(context.Background(), notif))
	require.Equal(t, connection.StateOperating, srv.Connection().State())
	return srv
}

func registerAddTool(t *testing.T, srv *Server) {
	t.Helper()
	srv.RegisterTool(protocol.Tool{
		Name:        "add",
		Description: "Add two numbers",
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
}

func TestInitializeRejectsUnsupportedVersion(t *testing.T) {
	srv := New(idleTransport{},
		WithConnectionConfig(connection.Config{PollInterval: 10 * time.Millisecond}))
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	_, err := srv.HandleRequest(context.Background(), newRequest(t, 1, protocol.MethodInitialize,
		&protocol.InitializeParams{ProtocolVersion: "1999-01-01"}))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInitializationFailed))

	// The handshake never completed, so feature methods stay gated.
	_, err = srv.HandleRequest(context.Background(), newRequest(t, 2, protocol.MethodListTools, nil))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidRequest))
}

func TestInitializeLegacyMode(t *testing.T) {
	srv := New(idleTransport{},
		WithNegotiator(protocol.NewNegotiator(protocol.WithLegacyMode())),
		WithConnectionConfig(connection.Config{PollInterval: 10 * time.Millisecond}))
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	result, err := srv.HandleRequest(context.Background(), newRequest(t, 1, protocol.MethodInitialize,
		&protocol.InitializeParams{ProtocolVersion: protocol.PreviousProtocolVersion}))
	require.NoError(t, err)
	assert.Equal(t, protocol.PreviousProtocolVersion,
		result.(*protocol.InitializeResult).ProtocolVersion)
}

func TestPing(t *testing.T) {
	srv := newTestServer(t)

	result, err := srv.HandleRequest(context.Background(),
		newRequest(t, 1, protocol.MethodPing, &protocol.PingParams{Timestamp: 12345}))
	require.NoError(t, err)
	assert.EqualValues(t, 12345, result.(*protocol.PingResult).Timestamp)

	// Ping works without params too.
	result, err = srv.HandleRequest(context.Background(), newRequest(t, 2, protocol.MethodPing, nil))
	require.NoError(t, err)
	assert.NotZero(t, result.(*protocol.PingResult).Timestamp)
}

func TestCallTool(t *testing.T) {
	srv := newTestServer(t)
	registerAddTool(t, srv)

	result, err := srv.HandleRequest(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
		&protocol.CallToolParams{
			Name:      "add",
			Arguments: json.RawMessage(`{"a":2,"b":3}`),
		}))
	require.NoError(t, err)

	callResult := result.(*protocol.CallToolResult)
	assert.False(t, callResult.IsError)
	require.Len(t, callResult.Content, 1)
	assert.Equal(t, "5", callResult.Content[0].(protocol.TextContent).Text)
}

func TestCallToolFailureIsApplicationData(t *testing.T) {
	srv := newTestServer(t)
	srv.RegisterTool(protocol.Tool{Name: "broken"},
		func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			return nil, fmt.Errorf("division by zero")
		})

	result, err := srv.HandleRequest(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
		&protocol.CallToolParams{Name: "broken"}))
	require.NoError(t, err, "a failing tool is a successful call carrying IsError")

	callResult := result.(*protocol.CallToolResult)
	assert.True(t, callResult.IsError)
	require.Len(t, callResult.Content, 1)
	assert.Contains(t, callResult.Content[0].(protocol.TextContent).Text, "division by zero")
}

func TestCallToolPanicIsApplicationData(t *testing.T) {
	srv := newTestServer(t)
	srv.RegisterTool(protocol.Tool{Name: "volatile"},
		func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			panic("kaboom")
		})

	result, err := srv.HandleRequest(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
		&protocol.CallToolParams{Name: "volatile"}))
	require.NoError(t, err)
	assert.True(t, result.(*protocol.CallToolResult).IsError)
}

func TestCallToolUnknownTool(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.HandleRequest(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
		&protocol.CallToolParams{Name: "no-such-tool"}))
	require.Error(t, err, "an unknown tool is a wire error, not a tool failure")
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeToolNotFound))
}

func TestCallToolSchemaValidation(t *testing.T) {
	srv := newTestServer(t)
	registerAddTool(t, srv)

	// Missing required argument.
	_, err := srv.HandleRequest(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
		&protocol.CallToolParams{Name: "add", Arguments: json.RawMessage(`{"a":1}`)}))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))

	// Wrong argument type.
	_, err = srv.HandleRequest(context.Background(), newRequest(t, 2, protocol.MethodCallTool,
		&protocol.CallToolParams{Name: "add", Arguments: json.RawMessage(`{"a":"x","b":2}`)}))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))
}

func TestListToolsPagination(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 150; i++ {
		srv.RegisterTool(protocol.Tool{Name: fmt.Sprintf("tool-%03d", i)},
			func(ctx context.Context, args json.RawMessage) (interface{}, error) {
				return "ok", nil
			})
	}

	result, err := srv.HandleRequest(context.Background(),
		newRequest(t, 1, protocol.MethodListTools, &protocol.ListToolsParams{}))
	require.NoError(t, err)

	page1 := result.(*protocol.ListToolsResult)
	assert.Len(t, page1.Tools, pagination.DefaultPageSize)
	require.NotEmpty(t, page1.NextCursor)

	result, err = srv.HandleRequest(context.Background(),
		newRequest(t, 2, protocol.MethodListTools, &protocol.ListToolsParams{
			PaginationParams: protocol.PaginationParams{Cursor: page1.NextCursor},
		}))
	require.NoError(t, err)

	page2 := result.(*protocol.ListToolsResult)
	assert.Len(t, page2.Tools, 50)
	assert.Empty(t, page2.NextCursor)

	// The two pages never overlap.
	seen := make(map[string]bool)
	for _, tool := range append(page1.Tools, page2.Tools...) {
		require.False(t, seen[tool.Name], "tool %s appeared twice", tool.Name)
		seen[tool.Name] = true
	}
	assert.Len(t, seen, 150)
}

func TestListToolsInvalidCursor(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.HandleRequest(context.Background(),
		newRequest(t, 1, protocol.MethodListTools, &protocol.ListToolsParams{
			PaginationParams: protocol.PaginationParams{Cursor: "!!!not-base64!!!"},
		}))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))
}

func TestReadResourceExactAndTemplate(t *testing.T) {
	srv := newTestServer(t)

	require.NoError(t, srv.RegisterResource(protocol.Resource{
		URI:      "data://config",
		Name:     "config",
		MimeType: "application/json",
	}, func(ctx context.Context, uri string, params map[string]string) (interface{}, error) {
		return `{"env":"test"}`, nil
	}))

	require.NoError(t, srv.RegisterResource(protocol.Resource{
		URITemplate: "data://location/{id}",
		Name:        "location",
		MimeType:    "text/plain",
	}, func(ctx context.Context, uri string, params map[string]string) (interface{}, error) {
		return "location " + params["id"], nil
	}))

	// Exact match.
	result, err := srv.HandleRequest(context.Background(), newRequest(t, 1, protocol.MethodReadResource,
		&protocol.ReadResourceParams{URI: "data://config"}))
	require.NoError(t, err)
	read := result.(*protocol.ReadResourceResult)
	require.Len(t, read.Contents, 1)
	assert.Equal(t, "data://config", read.Contents[0].URI)
	assert.Equal(t, "application/json", read.Contents[0].MimeType)

	// Template match captures the parameter.
	result, err = srv.HandleRequest(context.Background(), newRequest(t, 2, protocol.MethodReadResource,
		&protocol.ReadResourceParams{URI: "data://location/london"}))
	require.NoError(t, err)
	read = result.(*protocol.ReadResourceResult)
	require.Len(t, read.Contents, 1)
	assert.Equal(t, "location london",
		read.Contents[0].Contents[0].(protocol.TextContent).Text)

	// The template does not match its own prefix.
	_, err = srv.HandleRequest(context.Background(), newRequest(t, 3, protocol.MethodReadResource,
		&protocol.ReadResourceParams{URI: "data://location"}))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeResourceNotFound))

	// Nor a longer path.
	_, err = srv.HandleRequest(context.Background(), newRequest(t, 4, protocol.MethodReadResource,
		&protocol.ReadResourceParams{URI: "data://location/a/b"}))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeResourceNotFound))
}

func TestGetPrompt(t *testing.T) {
	srv := newTestServer(t)
	srv.RegisterPrompt(protocol.Prompt{
		Name: "greet",
		Arguments: []protocol.PromptArgument{
			{Name: "name", Required: true},
			{Name: "tone", Required: false},
		},
	}, func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
		return &protocol.GetPromptResult{
			Messages: []protocol.PromptMessage{{
				Role:    "user",
				Content: protocol.NewTextContent("Hello " + args["name"]),
			}},
		}, nil
	})

	result, err := srv.HandleRequest(context.Background(), newRequest(t, 1, protocol.MethodGetPrompt,
		&protocol.GetPromptParams{Name: "greet", Arguments: map[string]string{"name": "Ada"}}))
	require.NoError(t, err)
	prompt := result.(*protocol.GetPromptResult)
	require.Len(t, prompt.Messages, 1)
	assert.Equal(t, "Hello Ada", prompt.Messages[0].Content.(protocol.TextContent).Text)

	// Missing required argument.
	_, err = srv.HandleRequest(context.Background(), newRequest(t, 2, protocol.MethodGetPrompt,
		&protocol.GetPromptParams{Name: "greet"}))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeInvalidParams))

	// Unknown prompt.
	_, err = srv.HandleRequest(context.Background(), newRequest(t, 3, protocol.MethodGetPrompt,
		&protocol.GetPromptParams{Name: "missing"}))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodePromptNotFound))
}

func TestUnknownMethod(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.HandleRequest(context.Background(), newRequest(t, 1, "tools/destroy", nil))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeMethodNotFound))
}

func TestCancelledNotification(t *testing.T) {
	srv := newTestServer(t)

	started := make(chan struct{})
	finished := make(chan error, 1)
	srv.RegisterTool(protocol.Tool{Name: "slow"},
		func(ctx context.Context, args json.RawMessage) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})

	req := newRequest(t, "slow-1", protocol.MethodCallTool,
		&protocol.CallToolParams{Name: "slow"})
	go func() {
		result, err := srv.HandleRequest(context.Background(), req)
		if err != nil {
			finished <- err
			return
		}
		if result.(*protocol.CallToolResult).IsError {
			finished <- nil
			return
		}
		finished <- fmt.Errorf("tool completed despite cancellation")
	}()

	<-started
	notif, err := protocol.NewNotification(protocol.MethodCancelled,
		&protocol.CancelledParams{RequestID: "slow-1", Reason: "user gave up"})
	require.NoError(t, err)
	require.NoError(t, srv.HandleNotification(context.Background(), notif))

	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation never reached the tool handler")
	}
}

func TestCancelledUnknownRequestIsNoOp(t *testing.T) {
	srv := newTestServer(t)

	notif, err := protocol.NewNotification(protocol.MethodCancelled,
		&protocol.CancelledParams{RequestID: "never-seen"})
	require.NoError(t, err)
	assert.NoError(t, srv.HandleNotification(context.Background(), notif))
}

func TestUnregisterTool(t *testing.T) {
	srv := newTestServer(t)
	registerAddTool(t, srv)

	assert.True(t, srv.UnregisterTool("add"))
	assert.False(t, srv.UnregisterTool("add"))

	_, err := srv.HandleRequest(context.Background(), newRequest(t, 1, protocol.MethodCallTool,
		&protocol.CallToolParams{Name: "add"}))
	require.Error(t, err)
	assert.True(t, mcperrors.IsCode(err, mcperrors.CodeToolNotFound))
}
