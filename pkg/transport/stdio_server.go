package transport

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
	"github.com/toolwire/mcp-go/pkg/logging"
)

// StdioConfig configures a StdioTransport.
type StdioConfig struct {
	Config

	// Reader overrides the read source; nil means os.Stdin.
	Reader io.Reader

	// Writer overrides the write sink; nil means os.Stdout.
	Writer io.Writer

	// EOFBackoff is the pause after an EOF-looking read before retrying;
	// zero means 50ms.
	EOFBackoff time.Duration

	// EOFRetries is how many consecutive EOF-looking reads are tolerated
	// before the peer is considered gone; zero means 3.
	EOFRetries int
}

// StdioTransport is the server-side mirror of SubprocessTransport: the
// current process's stdin is the read source and its stdout the write sink,
// with the same line framing and size guard. Transient empty reads are
// retried with a brief backoff since some platforms surface them without the
// peer having closed the pipe.
type StdioTransport struct {
	config StdioConfig
	logger logging.Logger

	reader io.Reader
	writer io.Writer

	writeMu sync.Mutex

	frames  chan []byte
	readErr chan error
	done    chan struct{}
	pump    sync.WaitGroup

	connected atomic.Bool
	stopOnce  sync.Once
}

// NewStdioTransport creates a transport over the current process's stdio.
func NewStdioTransport(config StdioConfig) *StdioTransport {
	config.applyDefaults()
	if config.Reader == nil {
		config.Reader = os.Stdin
	}
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	if config.EOFBackoff <= 0 {
		config.EOFBackoff = 50 * time.Millisecond
	}
	if config.EOFRetries <= 0 {
		config.EOFRetries = 3
	}

	return &StdioTransport{
		config:  config,
		logger:  config.Logger.WithFields(logging.String("component", "stdio-transport")),
		reader:  config.Reader,
		writer:  config.Writer,
		frames:  make(chan []byte, frameQueueSize),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// Connect starts the read pump. stdio needs no channel establishment.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return nil
	}
	t.connected.Store(true)
	t.pump.Add(1)
	go t.readPump()
	return nil
}

func (t *StdioTransport) readPump() {
	defer t.pump.Done()

	fb := newFrameBuffer(t.config.MaxFrameSize, t.logger)
	chunk := make([]byte, 64*1024)
	eofStreak := 0

	for {
		select {
		case <-t.done:
			return
		default:
		}

		n, err := t.reader.Read(chunk)
		if n > 0 {
			eofStreak = 0
			for _, frame := range fb.Append(chunk[:n]) {
				select {
				case t.frames <- frame:
				case <-t.done:
					return
				}
			}
		}

		switch {
		case err == nil:
			if n == 0 {
				// Transient empty read; back off rather than spin.
				time.Sleep(t.config.EOFBackoff)
			}
		case err == io.EOF:
			eofStreak++
			if eofStreak >= t.config.EOFRetries {
				t.fail(mcperrors.ConnectionLost("stdio", io.EOF))
				return
			}
			time.Sleep(t.config.EOFBackoff)
		default:
			select {
			case <-t.done:
			default:
				t.fail(mcperrors.ConnectionLost("stdio", err))
			}
			return
		}
	}
}

func (t *StdioTransport) fail(err error) {
	t.connected.Store(false)
	select {
	case t.readErr <- err:
	default:
	}
}

// Send writes one framed message to stdout.
func (t *StdioTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if !t.connected.Load() {
		return mcperrors.TransportError("stdio", "send", ErrClosed)
	}

	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		return mcperrors.TransportError("stdio", "send", err)
	}
	return nil
}

// Receive returns the next framed message from stdin.
func (t *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-t.frames:
		return frame, nil
	default:
	}

	select {
	case frame := <-t.frames:
		return frame, nil
	case err := <-t.readErr:
		// Put the failure back so later callers observe it too.
		t.fail(err)
		return nil, err
	case <-t.done:
		return nil, mcperrors.TransportError("stdio", "receive", ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connected reports whether the transport is usable.
func (t *StdioTransport) Connected() bool {
	return t.connected.Load()
}

// Disconnect stops the read pump. The process's stdio itself is left open.
func (t *StdioTransport) Disconnect(ctx context.Context) error {
	t.stopOnce.Do(func() {
		t.connected.Store(false)
		close(t.done)
		if closer, ok := t.reader.(io.Closer); ok && t.reader != os.Stdin {
			_ = closer.Close()
		}
	})
	return nil
}
