// Package ws implements the WebSocket MCP transport atop
// github.com/gorilla/websocket: upgrade with origin/host allow-lists, a
// connection cap, per-connection heartbeat pings, and a broadcast Send
// whose per-connection write failures don't affect sibling connections.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcpcore/go-mcp/internal/jsonrpc"
	"github.com/mcpcore/go-mcp/internal/transport"
)

// Config configures a Transport.
type Config struct {
	MaxMessageSize    int64
	HeartbeatInterval time.Duration
	MaxConnections    int
	AllowedOrigins    []string
	Logger            *slog.Logger
}

type conn struct {
	ws   *websocket.Conn
	mu   sync.Mutex // guards writes; gorilla conns are not write-concurrent-safe
	done chan struct{}

	pongMu   sync.Mutex
	lastPong time.Time
}

// Transport implements transport.MCPTransport as an http.Handler that
// upgrades each incoming request to a WebSocket connection and treats every
// connection as a peer of the same logical endpoint: Send broadcasts to
// all connections, since per-connection addressing isn't required for
// this transport.
type Transport struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	conns   map[*conn]struct{}
	started bool
	closed  bool

	onMessage transport.MessageHandler
	onClose   transport.CloseHandler
	onError   transport.ErrorHandler
}

// New constructs a WebSocket transport.
func New(cfg Config) *Transport {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = jsonrpc.DefaultMaxMessageSize
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Transport{
		cfg:   cfg,
		conns: make(map[*conn]struct{}),
	}
	t.upgrader = websocket.Upgrader{
		CheckOrigin: t.checkOrigin,
	}
	return t
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if len(t.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range t.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
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

// Start marks the transport ready; actual connections arrive through
// ServeHTTP as requests come in, so Start only enforces idempotent-fail.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return transport.ErrAlreadyStarted
	}
	t.started = true
	return nil
}

// Close terminates every open WebSocket connection. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[*conn]struct{})
	onClose := t.onClose
	t.mu.Unlock()

	for _, c := range conns {
		t.closeConn(c)
	}
	if onClose != nil {
		onClose()
	}
	return nil
}

// Send broadcasts msg to every open connection. A write failure on one
// connection is logged and that connection is torn down; it does not
// prevent delivery to the others.
func (t *Transport) Send(ctx context.Context, msg *jsonrpc.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("ws: marshal: %w", err)
	}

	t.mu.RLock()
	conns := make([]*conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.RUnlock()

	for _, c := range conns {
		if err := t.writeConn(c, body); err != nil {
			t.cfg.Logger.Warn("ws: write failed, closing connection", "error", err)
			t.fireError(err)
			t.closeConn(c)
		}
	}
	return nil
}

func (t *Transport) writeConn(c *conn, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, body)
}

// ServeHTTP upgrades the request to a WebSocket connection, subject to the
// connection cap and origin allow-list, then runs its read loop until the
// client disconnects or the transport is closed.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.mu.RLock()
	atCapacity := t.cfg.MaxConnections > 0 && len(t.conns) >= t.cfg.MaxConnections
	t.mu.RUnlock()
	if atCapacity {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.cfg.Logger.Warn("ws: upgrade failed", "error", err)
		return
	}
	wsConn.SetReadLimit(t.cfg.MaxMessageSize)

	c := &conn{ws: wsConn, done: make(chan struct{}), lastPong: time.Now()}
	pongWait := 2 * t.cfg.HeartbeatInterval
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		c.pongMu.Lock()
		c.lastPong = time.Now()
		c.pongMu.Unlock()
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()

	go t.heartbeat(c, pongWait)
	t.readLoop(r.Context(), c)
}

// heartbeat pings c on a fixed interval and drops the connection if no pong
// (tracked by c.lastPong, updated from the SetPongHandler installed in
// ServeHTTP) has arrived within pongWait of the last one. ReadMessage's
// deadline, reset by the same pong handler, provides a second, independent
// backstop that unblocks readLoop if the peer stops responding entirely.
func (t *Transport) heartbeat(c *conn, pongWait time.Duration) {
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.pongMu.Lock()
			sincePong := time.Since(c.lastPong)
			c.pongMu.Unlock()
			if sincePong > pongWait {
				t.cfg.Logger.Warn("ws: peer unresponsive to ping, closing connection", "since_last_pong", sincePong)
				t.closeConn(c)
				return
			}

			c.mu.Lock()
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				t.closeConn(c)
				return
			}
		}
	}
}

func (t *Transport) readLoop(ctx context.Context, c *conn) {
	defer t.closeConn(c)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.fireError(err)
			}
			return
		}
		msg, decErr := jsonrpc.Decode(data)
		if decErr != nil {
			t.fireError(decErr)
			continue
		}
		t.fireMessage(ctx, msg)
	}
}

func (t *Transport) closeConn(c *conn) {
	t.mu.Lock()
	_, present := t.conns[c]
	delete(t.conns, c)
	t.mu.Unlock()
	if !present {
		return
	}
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	_ = c.ws.Close()
}

func (t *Transport) fireMessage(ctx context.Context, msg *jsonrpc.Message) {
	t.mu.RLock()
	h := t.onMessage
	t.mu.RUnlock()
	if h != nil {
		h(ctx, msg)
	}
}

func (t *Transport) fireError(err error) {
	t.mu.RLock()
	h := t.onError
	t.mu.RUnlock()
	if h != nil {
		h(err)
	}
}

var _ transport.MCPTransport = (*Transport)(nil)
var _ http.Handler = (*Transport)(nil)
