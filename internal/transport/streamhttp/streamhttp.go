// Package streamhttp implements the Streamable-HTTP MCP transport: a
// single endpoint accepting POST (client-to-server messages, with a JSON
// or SSE response), GET (a standalone SSE stream for server-initiated
// messages), and DELETE (session teardown). Built on the
// internal/transport/internal/http server/router idiom already used for
// the OAuth metadata/health endpoints, extended with SSE streaming and
// google/uuid session ids.
package streamhttp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcpcore/go-mcp/internal/jsonrpc"
	"github.com/mcpcore/go-mcp/internal/transport"
)

// Header names used by the Streamable-HTTP transport.
const (
	HeaderSessionID      = "Mcp-Session-Id"
	HeaderProtocolVer    = "Mcp-Protocol-Version"
	HeaderLastEventID    = "Last-Event-ID"
	ProtocolVersion      = "2025-06-18"
	contentTypeJSON      = "application/json"
	contentTypeEventSSE  = "text/event-stream"
	defaultResponseWait  = 60 * time.Second
)

// Config configures a Transport.
type Config struct {
	MaxBodyBytes   int
	AllowedHosts   []string
	AllowedOrigins []string
	EventStore     EventStore
	Logger         *slog.Logger

	// ProtocolVersions lists the Mcp-Protocol-Version values this server
	// accepts on non-initialize requests. Defaults to []string{ProtocolVersion}.
	ProtocolVersions []string

	// JSONMode selects the POST response mode: buffer every response for a
	// request (or batch) into one JSON body. The default, false, is SSE
	// mode: once every response for the POST is in, they are written as
	// SSE events, in input order, on a short-lived SSE response to the same
	// POST. Neither mode writes a response before all of them are collected.
	JSONMode bool
}

type clientStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

type sessionState struct {
	id      string
	mu      sync.Mutex
	streams []*clientStream
}

// Transport implements transport.MCPTransport as an http.Handler multiplexing
// many MCP sessions over a single POST/GET/DELETE endpoint.
type Transport struct {
	cfg Config

	mu       sync.RWMutex
	started  bool
	closed   bool
	sessions map[string]*sessionState
	pending  map[string]chan *jsonrpc.Message // requestID string -> response channel, for in-flight POSTs

	onMessage transport.MessageHandler
	onClose   transport.CloseHandler
	onError   transport.ErrorHandler
}

// New constructs a Streamable-HTTP transport. Register it on a Router with
// Router.Handle(pattern, transport) for all three methods on one pattern.
func New(cfg Config) *Transport {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = jsonrpc.DefaultMaxMessageSize
	}
	if cfg.EventStore == nil {
		cfg.EventStore = NewMemoryEventStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.ProtocolVersions) == 0 {
		cfg.ProtocolVersions = []string{ProtocolVersion}
	}
	return &Transport{
		cfg:      cfg,
		sessions: make(map[string]*sessionState),
		pending:  make(map[string]chan *jsonrpc.Message),
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

// Start marks the transport ready to accept HTTP requests; the transport
// does no listening of its own (the caller's Router/Server does), so Start
// only enforces the idempotent-fail contract.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return transport.ErrAlreadyStarted
	}
	t.started = true
	return nil
}

// Close tears down every session's standalone SSE streams. Idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sessions := make([]*sessionState, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.sessions = make(map[string]*sessionState)
	onClose := t.onClose
	t.mu.Unlock()

	for _, s := range sessions {
		t.closeSession(s)
	}
	if onClose != nil {
		onClose()
	}
	return nil
}

// Send routes msg to the session named by transport.SessionIDFromContext
// in ctx: a request pending an HTTP response is resolved directly; anything
// else is fanned out to that session's standalone SSE stream(s), recorded
// in the EventStore for resumability.
func (t *Transport) Send(ctx context.Context, msg *jsonrpc.Message) error {
	if msg.Kind == jsonrpc.KindResponse || msg.Kind == jsonrpc.KindError {
		if ch, ok := t.takePending(string(msg.ID)); ok {
			ch <- msg
			return nil
		}
	}

	sessionID, ok := transport.SessionIDFromContext(ctx)
	if !ok {
		return fmt.Errorf("streamhttp: Send requires a session id in context")
	}

	t.mu.RLock()
	sess, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("streamhttp: unknown session %q", sessionID)
	}

	eventID, err := t.cfg.EventStore.StoreEvent(sessionID, msg)
	if err != nil {
		return fmt.Errorf("streamhttp: store event: %w", err)
	}
	t.broadcast(sess, eventID, msg)
	return nil
}

func (t *Transport) takePending(id string) (chan *jsonrpc.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return ch, ok
}

// ServeHTTP dispatches the three Streamable-HTTP methods.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !t.hostAndOriginAllowed(r) {
		http.Error(w, "host/origin not allowed", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodPost:
		t.handlePost(w, r)
	case http.MethodGet:
		t.handleGet(w, r)
	case http.MethodDelete:
		t.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (t *Transport) hostAndOriginAllowed(r *http.Request) bool {
	if len(t.cfg.AllowedHosts) > 0 && !contains(t.cfg.AllowedHosts, r.Host) {
		return false
	}
	if origin := r.Header.Get("Origin"); origin != "" && len(t.cfg.AllowedOrigins) > 0 {
		return contains(t.cfg.AllowedOrigins, origin)
	}
	return true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// handlePost accepts one JSON-RPC message or a JSON-array batch of them. It
// enforces the Streamable-HTTP content-negotiation and protocol-version
// contracts before dispatching, then collects per-request responses (a
// notification, or a response/error the client sent, contributes nothing to
// the reply; a malformed batch element contributes its error) and writes
// them back as a single object (non-batch) or, for a
// batch, an array in input order; a batch containing no requests at all is
// acknowledged with 202 instead.
func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.Contains(ct, contentTypeJSON) {
		http.Error(w, "Content-Type must be "+contentTypeJSON, http.StatusUnsupportedMediaType)
		return
	}
	if accept := r.Header.Get("Accept"); !strings.Contains(accept, contentTypeJSON) || !strings.Contains(accept, contentTypeEventSSE) {
		http.Error(w, "Accept must include "+contentTypeJSON+" and "+contentTypeEventSSE, http.StatusNotAcceptable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(t.cfg.MaxBodyBytes))
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.writeJSONRPCError(w, nil, jsonrpc.CodeServerError, "request body too large or unreadable", http.StatusRequestEntityTooLarge)
		return
	}

	msgs, isBatch, err := jsonrpc.DecodeBatch(body)
	if err != nil {
		code := jsonrpc.CodeParseError
		if errObj, ok := err.(*jsonrpc.ErrorObject); ok {
			code = errObj.Code
		}
		t.writeJSONRPCError(w, nil, code, err.Error(), http.StatusOK)
		return
	}

	sessionID := r.Header.Get(HeaderSessionID)
	isInitialize := !isBatch && len(msgs) == 1 && msgs[0].Method == "initialize"
	if sessionID == "" && isInitialize {
		sessionID = uuid.NewString()
		t.mu.Lock()
		t.sessions[sessionID] = &sessionState{id: sessionID}
		t.mu.Unlock()
	}

	if !isInitialize {
		version := r.Header.Get(HeaderProtocolVer)
		if version == "" || !contains(t.cfg.ProtocolVersions, version) {
			if sessionID != "" {
				w.Header().Set(HeaderSessionID, sessionID)
			}
			t.writeJSONRPCError(w, nil, jsonrpc.CodeServerError, "missing or unsupported "+HeaderProtocolVer, http.StatusBadRequest)
			return
		}
	}

	type pendingReq struct {
		idx int
		id  string
		ch  chan *jsonrpc.Message
	}

	results := make([]*jsonrpc.Message, len(msgs))
	pendings := make([]pendingReq, 0, len(msgs))

	for i, msg := range msgs {
		switch msg.Kind {
		case jsonrpc.KindError:
			if len(msg.ID) > 0 {
				// An error response the client sent us.
				t.dispatchInbound(r.Context(), sessionID, r.Header, msg)
				continue
			}
			// A malformed element inside an otherwise well-formed batch.
			results[i] = msg
		case jsonrpc.KindRequest:
			respCh := make(chan *jsonrpc.Message, 1)
			t.mu.Lock()
			t.pending[string(msg.ID)] = respCh
			t.mu.Unlock()
			t.dispatchInbound(r.Context(), sessionID, r.Header, msg)
			pendings = append(pendings, pendingReq{idx: i, id: string(msg.ID), ch: respCh})
		default:
			// Notification, or a response/error the client sent us.
			t.dispatchInbound(r.Context(), sessionID, r.Header, msg)
		}
	}

	if sessionID != "" {
		w.Header().Set(HeaderSessionID, sessionID)
	}

	if len(pendings) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	deadline := time.Now().Add(defaultResponseWait)
	for _, p := range pendings {
		select {
		case resp := <-p.ch:
			results[p.idx] = resp
		case <-r.Context().Done():
			for _, rest := range pendings {
				t.takePending(rest.id)
			}
			return
		case <-time.After(time.Until(deadline)):
			t.takePending(p.id)
			results[p.idx] = jsonrpc.NewErrorResponse(jsonrpc.ID(p.id), jsonrpc.CodeRequestTimeout, "request timed out", nil)
		}
	}

	out := make([]*jsonrpc.Message, 0, len(results))
	for _, res := range results {
		if res != nil {
			out = append(out, res)
		}
	}

	if !isBatch {
		t.writeResult(w, out[0])
		return
	}
	t.writeBatchResult(w, out)
}

// writeResult writes a single response, in the transport's configured mode
// (buffered JSON or a short SSE response to the POST).
func (t *Transport) writeResult(w http.ResponseWriter, msg *jsonrpc.Message) {
	if t.cfg.JSONMode {
		t.writeJSONMessage(w, msg, http.StatusOK)
		return
	}
	t.writeSingleSSEResponse(w, msg)
}

// writeBatchResult writes every response from a batch POST, in the
// transport's configured mode: one JSON array, or one SSE event per
// response before the stream closes.
func (t *Transport) writeBatchResult(w http.ResponseWriter, msgs []*jsonrpc.Message) {
	if t.cfg.JSONMode {
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(msgs); err != nil {
			t.fireError(err)
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.Header().Set("Content-Type", contentTypeJSON)
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(msgs); err != nil {
			t.fireError(err)
		}
		return
	}
	w.Header().Set("Content-Type", contentTypeEventSSE)
	w.WriteHeader(http.StatusOK)
	for _, msg := range msgs {
		if err := writeSSEEvent(w, flusher, "", msg); err != nil {
			t.fireError(err)
			return
		}
	}
}

func (t *Transport) dispatchInbound(ctx context.Context, sessionID string, headers http.Header, msg *jsonrpc.Message) {
	t.mu.RLock()
	h := t.onMessage
	t.mu.RUnlock()
	if h == nil {
		return
	}
	if sessionID != "" {
		ctx = transport.ContextWithSessionID(ctx, sessionID)
	}
	if len(headers) > 0 {
		ctx = transport.ContextWithHeaders(ctx, map[string][]string(headers))
	}
	h(ctx, msg)
}

// handleGet opens the standalone SSE stream a session uses for
// server-initiated messages. Only one such stream may be open per session
// at a time; a second concurrent attempt is rejected with 409.
func (t *Transport) handleGet(w http.ResponseWriter, r *http.Request) {
	if accept := r.Header.Get("Accept"); !strings.Contains(accept, contentTypeEventSSE) {
		http.Error(w, "Accept must include "+contentTypeEventSSE, http.StatusNotAcceptable)
		return
	}

	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		http.Error(w, "missing "+HeaderSessionID, http.StatusBadRequest)
		return
	}

	version := r.Header.Get(HeaderProtocolVer)
	if version == "" || !contains(t.cfg.ProtocolVersions, version) {
		t.writeJSONRPCError(w, nil, jsonrpc.CodeServerError, "missing or unsupported "+HeaderProtocolVer, http.StatusBadRequest)
		return
	}

	t.mu.RLock()
	sess, ok := t.sessions[sessionID]
	t.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	stream := &clientStream{w: w, flusher: flusher, done: make(chan struct{})}
	sess.mu.Lock()
	if len(sess.streams) > 0 {
		sess.mu.Unlock()
		http.Error(w, "a standalone stream is already open for this session", http.StatusConflict)
		return
	}
	sess.streams = append(sess.streams, stream)
	sess.mu.Unlock()

	w.Header().Set("Content-Type", contentTypeEventSSE)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	if lastEventID := r.Header.Get(HeaderLastEventID); lastEventID != "" {
		_, _ = t.cfg.EventStore.ReplayEventsAfter(lastEventID, func(eventID string, msg *jsonrpc.Message) error {
			return writeSSEEvent(w, flusher, eventID, msg)
		})
	}

	select {
	case <-r.Context().Done():
	case <-stream.done:
	}

	sess.mu.Lock()
	for i, s := range sess.streams {
		if s == stream {
			sess.streams = append(sess.streams[:i], sess.streams[i+1:]...)
			break
		}
	}
	sess.mu.Unlock()
}

func (t *Transport) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		http.Error(w, "missing "+HeaderSessionID, http.StatusBadRequest)
		return
	}

	t.mu.Lock()
	sess, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	t.closeSession(sess)
	w.WriteHeader(http.StatusNoContent)
}

func (t *Transport) closeSession(sess *sessionState) {
	sess.mu.Lock()
	streams := sess.streams
	sess.streams = nil
	sess.mu.Unlock()
	for _, s := range streams {
		close(s.done)
	}
}

func (t *Transport) broadcast(sess *sessionState, eventID string, msg *jsonrpc.Message) {
	sess.mu.Lock()
	streams := append([]*clientStream(nil), sess.streams...)
	sess.mu.Unlock()
	for _, s := range streams {
		if err := writeSSEEvent(s.w, s.flusher, eventID, msg); err != nil {
			t.fireError(err)
		}
	}
}

func writeSSEEvent(w io.Writer, flusher http.Flusher, eventID string, msg *jsonrpc.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "id: %s\n", eventID)
	fmt.Fprintf(bw, "data: %s\n\n", body)
	if err := bw.Flush(); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (t *Transport) writeSingleSSEResponse(w http.ResponseWriter, msg *jsonrpc.Message) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.writeJSONMessage(w, msg, http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", contentTypeEventSSE)
	w.WriteHeader(http.StatusOK)
	_ = writeSSEEvent(w, flusher, "", msg)
}

func (t *Transport) writeJSONMessage(w http.ResponseWriter, msg *jsonrpc.Message, status int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(msg); err != nil {
		t.fireError(err)
	}
}

func (t *Transport) writeJSONRPCError(w http.ResponseWriter, id jsonrpc.ID, code int, message string, status int) {
	resp := jsonrpc.NewErrorResponse(id, code, message, nil)
	t.writeJSONMessage(w, resp, status)
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
