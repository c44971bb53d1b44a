package transport

import (
	"context"
	"errors"

	"github.com/mcpcore/go-mcp/internal/jsonrpc"
)

// ErrAlreadyStarted is returned by a second call to Transport.Start.
var ErrAlreadyStarted = errors.New("transport: already started")

// MessageHandler receives one decoded JSON-RPC message from a Transport. ctx
// carries the session id (see ContextWithSessionID) when the transport
// multiplexes multiple sessions over one Transport value (Streamable-HTTP);
// stdio passes the context given to Start, and WebSocket passes the context
// of the HTTP request that opened the connection, neither with a session id.
type MessageHandler func(ctx context.Context, msg *jsonrpc.Message)

// CloseHandler is invoked when a Transport ends. stdio invokes it when its
// read loop stops (EOF, a read error, or Close); Streamable-HTTP and
// WebSocket invoke it on the first Close only, not when a single client
// disconnects.
type CloseHandler func()

// ErrorHandler is invoked for transport-level errors that are not fatal to
// the whole connection (for example a single malformed frame on a
// multi-connection transport).
type ErrorHandler func(error)

// MCPTransport is the symmetric message-transport abstraction: something
// that can start, exchange jsonrpc.Message values, and close, regardless
// of whether the underlying channel is stdio, an HTTP request/SSE stream,
// or a WebSocket connection.
//
// Start is idempotent-fail: a second call returns ErrAlreadyStarted. Close
// is idempotent-succeed: repeated calls after the first return nil.
// SetMessageHandler/SetCloseHandler/SetErrorHandler each hold a single
// callback slot; registering again replaces the previous one. Handlers must
// be set before Start to avoid racing the first inbound message.
type MCPTransport interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, msg *jsonrpc.Message) error
	Close() error

	SetMessageHandler(MessageHandler)
	SetCloseHandler(CloseHandler)
	SetErrorHandler(ErrorHandler)
}
