// Package transport provides the byte-level channels that carry framed
// JSON-RPC messages: subprocess stdio (client side), the current process's
// stdio (server side), HTTP, and WebSocket. Transports know framing and
// delivery, never message semantics.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/toolwire/mcp-go/pkg/logging"
)

// DefaultMaxFrameSize bounds a single framed message. Large enough for
// payloads like base64-encoded screenshots, small enough to keep a
// misbehaving peer from growing the read buffer without bound.
const DefaultMaxFrameSize = 32 * 1024 * 1024

// DefaultTerminateGrace is how long a subprocess gets to exit after a
// termination signal before it is killed.
const DefaultTerminateGrace = 5 * time.Second

// ErrClosed is returned by Receive and Send after the transport has been
// disconnected.
var ErrClosed = errors.New("transport is closed")

// Transport is the byte-level send/receive abstraction a Connection drives.
// Send must serialize concurrent writers so in-flight messages never
// interleave partial frames. Receive blocks until a complete frame arrives,
// the context is done, or the transport fails.
type Transport interface {
	// Connect establishes the underlying channel
	Connect(ctx context.Context) error

	// Disconnect tears the channel down and releases its resources
	Disconnect(ctx context.Context) error

	// Send writes one framed message
	Send(ctx context.Context, data []byte) error

	// Receive returns the next framed message
	Receive(ctx context.Context) ([]byte, error)

	// Connected reports whether the channel is usable
	Connected() bool
}

// Config carries the options shared by every transport implementation.
type Config struct {
	// MaxFrameSize bounds a single message; zero means DefaultMaxFrameSize
	MaxFrameSize int

	// Logger receives framing diagnostics; nil means no logging
	Logger logging.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Logger == nil {
		c.Logger = logging.Nop()
	}
}

// frameQueueSize is the capacity of the buffered channel between a
// transport's read pump and Receive callers.
const frameQueueSize = 64
