package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
	"github.com/toolwire/mcp-go/pkg/logging"
)

// SubprocessConfig configures a SubprocessTransport.
type SubprocessConfig struct {
	Config

	// Command is the executable to spawn. It is resolved and checked for
	// existence and execute permission before spawning.
	Command string

	// Args are passed to the command.
	Args []string

	// Env entries are appended to the current process environment.
	Env []string

	// Dir is the working directory for the subprocess.
	Dir string

	// TerminateGrace is how long the subprocess gets after SIGTERM before it
	// is killed; zero means DefaultTerminateGrace.
	TerminateGrace time.Duration
}

// SubprocessTransport spawns a server as a child process and exchanges
// newline-delimited JSON-RPC messages over its stdin/stdout. stderr is
// drained into the logger for diagnostics.
type SubprocessTransport struct {
	config SubprocessConfig
	logger logging.Logger

	mu    sync.Mutex // guards cmd, stdin, and the write path
	cmd   *exec.Cmd
	stdin io.WriteCloser

	frames  chan []byte
	readErr chan error
	done    chan struct{}
	pumps   errgroup.Group

	connected atomic.Bool
	stopOnce  sync.Once

	failMu  sync.Mutex
	failure error
}

// NewSubprocessTransport creates a subprocess stdio transport. The command
// is not spawned until Connect.
func NewSubprocessTransport(config SubprocessConfig) *SubprocessTransport {
	config.applyDefaults()
	if config.TerminateGrace <= 0 {
		config.TerminateGrace = DefaultTerminateGrace
	}
	return &SubprocessTransport{
		config:  config,
		logger:  config.Logger.WithFields(logging.String("component", "subprocess-transport")),
		frames:  make(chan []byte, frameQueueSize),
		readErr: make(chan error, 1),
		done:    make(chan struct{}),
	}
}

// Connect validates the executable, spawns it with piped stdio, and starts
// the read pumps.
func (t *SubprocessTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil {
		return mcperrors.TransportError("subprocess", "connect", errors.New("already connected"))
	}

	// Fail fast on a missing or non-executable command rather than letting
	// the spawn produce a less useful error.
	path, err := exec.LookPath(t.config.Command)
	if err != nil {
		return mcperrors.SpawnFailed(t.config.Command, err)
	}

	cmd := exec.CommandContext(context.WithoutCancel(ctx), path, t.config.Args...)
	cmd.Dir = t.config.Dir
	if len(t.config.Env) > 0 {
		cmd.Env = append(os.Environ(), t.config.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return mcperrors.SpawnFailed(t.config.Command, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return mcperrors.SpawnFailed(t.config.Command, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return mcperrors.SpawnFailed(t.config.Command, err)
	}

	if err := cmd.Start(); err != nil {
		return mcperrors.SpawnFailed(t.config.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.connected.Store(true)

	t.pumps.Go(func() error { return t.readPump(stdout) })
	t.pumps.Go(func() error { t.stderrPump(stderr); return nil })

	t.logger.Debug("subprocess started",
		logging.String("command", path),
		logging.Int("pid", cmd.Process.Pid))
	return nil
}

func (t *SubprocessTransport) readPump(stdout io.Reader) error {
	fb := newFrameBuffer(t.config.MaxFrameSize, t.logger)
	chunk := make([]byte, 64*1024)

	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			for _, frame := range fb.Append(chunk[:n]) {
				select {
				case t.frames <- frame:
				case <-t.done:
					return nil
				}
			}
		}
		if err != nil {
			select {
			case <-t.done:
				// Expected EOF during shutdown.
				return nil
			default:
			}
			failure := mcperrors.ConnectionLost("subprocess", err)
			t.reportFailure(failure)
			return failure
		}
	}
}

func (t *SubprocessTransport) stderrPump(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.logger.Debug("subprocess stderr", logging.String("line", scanner.Text()))
	}
}

func (t *SubprocessTransport) reportFailure(err error) {
	t.failMu.Lock()
	if t.failure == nil {
		t.failure = err
	}
	t.failMu.Unlock()

	t.connected.Store(false)
	select {
	case t.readErr <- err:
	default:
	}
}

// Send writes one framed message to the subprocess's stdin.
func (t *SubprocessTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil || !t.connected.Load() {
		return mcperrors.TransportError("subprocess", "send", ErrClosed)
	}

	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return mcperrors.TransportError("subprocess", "send", err)
	}
	return nil
}

// Receive returns the next framed message from the subprocess's stdout.
func (t *SubprocessTransport) Receive(ctx context.Context) ([]byte, error) {
	// Drain already-queued frames before reporting a failure so nothing the
	// peer managed to write gets lost.
	select {
	case frame := <-t.frames:
		return frame, nil
	default:
	}

	t.failMu.Lock()
	failure := t.failure
	t.failMu.Unlock()
	if failure != nil {
		return nil, failure
	}

	select {
	case frame := <-t.frames:
		return frame, nil
	case err := <-t.readErr:
		return nil, err
	case <-t.done:
		return nil, mcperrors.TransportError("subprocess", "receive", ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connected reports whether the subprocess is running and usable.
func (t *SubprocessTransport) Connected() bool {
	return t.connected.Load()
}

// Disconnect closes stdin, asks the subprocess to terminate, and escalates
// to a kill if it outlives the grace period. Safe to call more than once.
func (t *SubprocessTransport) Disconnect(ctx context.Context) error {
	var err error
	t.stopOnce.Do(func() {
		t.connected.Store(false)
		close(t.done)

		t.mu.Lock()
		cmd := t.cmd
		stdin := t.stdin
		t.mu.Unlock()

		if stdin != nil {
			_ = stdin.Close()
		}
		if cmd == nil || cmd.Process == nil {
			return
		}

		if sigErr := cmd.Process.Signal(syscall.SIGTERM); sigErr != nil {
			t.logger.Debug("failed to signal subprocess", logging.ErrorField(sigErr))
		}

		waitCh := make(chan error, 1)
		go func() { waitCh <- cmd.Wait() }()

		select {
		case waitErr := <-waitCh:
			if waitErr != nil {
				t.logger.Debug("subprocess exited", logging.ErrorField(waitErr))
			}
		case <-time.After(t.config.TerminateGrace):
			t.logger.Warn("subprocess did not exit within grace period, killing",
				logging.Duration("grace", t.config.TerminateGrace))
			if killErr := cmd.Process.Kill(); killErr != nil {
				err = mcperrors.TransportError("subprocess", "kill", killErr)
			}
			<-waitCh
		}

		// Residual stderr is drained by the pump before it exits.
		if pumpErr := t.pumps.Wait(); pumpErr != nil {
			t.logger.Debug("read pump stopped with error", logging.ErrorField(pumpErr))
		}
	})
	return err
}
