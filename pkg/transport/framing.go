package transport

import (
	"bytes"
	"encoding/json"

	"github.com/toolwire/mcp-go/pkg/logging"
)

// frameBuffer accumulates raw bytes from a stream and splits them into
// newline-delimited frames. Each candidate line is JSON-validated before
// being handed out, so an invalid line is dropped without corrupting the
// framing of everything after it.
type frameBuffer struct {
	buf          bytes.Buffer
	maxFrameSize int
	logger       logging.Logger
}

func newFrameBuffer(maxFrameSize int, logger logging.Logger) *frameBuffer {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &frameBuffer{
		maxFrameSize: maxFrameSize,
		logger:       logger,
	}
}

// Append adds raw bytes and returns every complete, valid frame now
// available. Oversized lines are dropped; if the entire buffer exceeds the
// frame limit without a newline, the buffer is reset so memory stays
// bounded.
func (b *frameBuffer) Append(data []byte) [][]byte {
	b.buf.Write(data)

	var frames [][]byte
	for {
		raw := b.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			if b.buf.Len() > b.maxFrameSize {
				b.logger.Warn("frame buffer exceeded maximum size without a newline, resetting",
					logging.Int("size", b.buf.Len()),
					logging.Int("limit", b.maxFrameSize))
				b.buf.Reset()
			}
			return frames
		}

		line := make([]byte, idx)
		copy(line, raw[:idx])
		b.buf.Next(idx + 1)

		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 {
			continue
		}

		if len(line) > b.maxFrameSize {
			b.logger.Warn("dropping oversized frame",
				logging.Int("size", len(line)),
				logging.Int("limit", b.maxFrameSize))
			continue
		}

		if !json.Valid(line) {
			b.logger.Warn("dropping non-JSON frame",
				logging.Int("size", len(line)))
			continue
		}

		frames = append(frames, line)
	}
}

// Len returns the number of buffered bytes not yet split into a frame.
func (b *frameBuffer) Len() int {
	return b.buf.Len()
}
