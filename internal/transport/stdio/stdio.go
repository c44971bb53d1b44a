// Package stdio implements the line-delimited stdio MCP transport, reading
// JSON-RPC frames from an io.Reader and writing them newline-terminated to
// an io.Writer. Built around jsonrpc.ReadBuffer framing on top of a
// bufio-based read loop, and generalized to the symmetric
// transport.MCPTransport interface (read and write, not request/response
// only).
package stdio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/mcpcore/go-mcp/internal/jsonrpc"
	"github.com/mcpcore/go-mcp/internal/transport"
)

// Transport is a line-delimited stdio transport. The zero value is not
// usable; construct with New.
type Transport struct {
	in  io.Reader
	out io.Writer

	maxMessageSize int
	logger         *slog.Logger

	mu       sync.Mutex
	writer   *bufio.Writer
	started  bool
	closed   bool
	closeCh  chan struct{}
	wg       sync.WaitGroup

	onMessage transport.MessageHandler
	onClose   transport.CloseHandler
	onError   transport.ErrorHandler
}

// New constructs a stdio transport reading from in and writing to out
// (typically os.Stdin and os.Stdout). maxMessageSize of 0 uses
// jsonrpc.DefaultMaxMessageSize.
func New(in io.Reader, out io.Writer, maxMessageSize int, logger *slog.Logger) *Transport {
	if maxMessageSize <= 0 {
		maxMessageSize = jsonrpc.DefaultMaxMessageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		in:             in,
		out:            out,
		maxMessageSize: maxMessageSize,
		logger:         logger,
		writer:         bufio.NewWriter(out),
		closeCh:        make(chan struct{}),
	}
}

func (t *Transport) SetMessageHandler(h transport.MessageHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMessage = h
}

func (t *Transport) SetCloseHandler(h transport.CloseHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onClose = h
}

func (t *Transport) SetErrorHandler(h transport.ErrorHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = h
}

// Start launches the read loop in a background goroutine and returns
// immediately; the loop runs until EOF, a read error, or Close.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return transport.ErrAlreadyStarted
	}
	t.started = true
	t.mu.Unlock()

	t.wg.Add(1)
	go t.readLoop(ctx)
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	defer t.wg.Done()
	defer t.fireClose()

	reader := bufio.NewReaderSize(t.in, 64*1024)
	var rb jsonrpc.ReadBuffer

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closeCh:
			return
		default:
		}

		chunk := make([]byte, 64*1024)
		n, err := reader.Read(chunk)
		if n > 0 {
			rb.Feed(chunk[:n])
			for {
				frame, ok := rb.Next()
				if !ok {
					break
				}
				if len(frame) == 0 {
					continue
				}
				msg, decErr := jsonrpc.Decode(frame)
				if decErr != nil {
					t.logger.Warn("stdio: discarding malformed frame", "error", decErr)
					t.fireError(decErr)
					continue
				}
				t.fireMessage(ctx, msg)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Error("stdio: read error", "error", err)
				t.fireError(err)
			}
			return
		}
	}
}

// Send writes msg newline-terminated to the output stream.
func (t *Transport) Send(ctx context.Context, msg *jsonrpc.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("stdio: transport closed")
	}

	body, err := jsonrpc.Encode(msg, t.maxMessageSize)
	if err != nil {
		return err
	}
	if _, err := t.writer.Write(body); err != nil {
		return fmt.Errorf("stdio: write: %w", err)
	}
	return t.writer.Flush()
}

// Close stops the read loop and marks the transport closed. It is
// idempotent: repeated calls return nil.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.closeCh)
	t.mu.Unlock()
	return nil
}

func (t *Transport) fireMessage(ctx context.Context, msg *jsonrpc.Message) {
	t.mu.Lock()
	h := t.onMessage
	t.mu.Unlock()
	if h != nil {
		h(ctx, msg)
	}
}

func (t *Transport) fireError(err error) {
	t.mu.Lock()
	h := t.onError
	t.mu.Unlock()
	if h != nil {
		h(err)
	}
}

func (t *Transport) fireClose() {
	t.mu.Lock()
	already := t.closed
	t.closed = true
	h := t.onClose
	t.mu.Unlock()
	_ = already
	if h != nil {
		h()
	}
}

var _ transport.MCPTransport = (*Transport)(nil)
