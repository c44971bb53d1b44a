// Package protocol implements the symmetric JSON-RPC protocol engine at the
// core of the MCP connection: a single Endpoint type that sends requests
// and dispatches inbound requests/notifications/responses over an attached
// transport.MCPTransport, generalized from a fixed method switch into a
// registerable handler table, and extended with the send/receive halves
// and connection state machine a server-only handler would not need.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcpcore/go-mcp/internal/jsonrpc"
	"github.com/mcpcore/go-mcp/internal/transport"
)

// DefaultRequestTimeout is the timeout applied to SendRequest when the
// caller does not override it.
const DefaultRequestTimeout = 60 * time.Second

// State is the connection lifecycle state of an Endpoint.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingInitialize
	StateInitialized
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingInitialize:
		return "awaiting-initialize"
	case StateInitialized:
		return "initialized"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// RequestHandlerExtra accompanies every inbound request dispatched to a
// RequestHandler.
type RequestHandlerExtra struct {
	SessionID string
	Headers   map[string][]string
	Claims    any // *oauth.TokenClaims when present; any to avoid an import cycle with internal/oauth
	Cancelled <-chan struct{}
}

// RequestHandler handles one inbound JSON-RPC request and returns a result
// (marshaled as the response's "result") or an error.
type RequestHandler func(ctx context.Context, params json.RawMessage, extra RequestHandlerExtra) (any, error)

// NotificationHandler handles one inbound JSON-RPC notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// ProgressHandler receives progress updates for an outstanding request this
// endpoint sent, correlated by progress token.
type ProgressHandler func(progress, total float64, message string)

// MethodError is a JSON-RPC error with an explicit code, for handlers that
// need to signal something other than InternalError.
type MethodError struct {
	Code    int
	Message string
	Data    any
}

func (e *MethodError) Error() string { return e.Message }

// pendingRequest tracks one outstanding request this endpoint sent.
type pendingRequest struct {
	resultCh chan requestOutcome
	timer    *time.Timer
	cancel   context.CancelFunc
}

type requestOutcome struct {
	result json.RawMessage
	err    *jsonrpc.ErrorObject
}

// Endpoint is a symmetric JSON-RPC endpoint: it can be embedded by a server
// to dispatch inbound requests, and/or used to send requests and await
// responses, over one attached transport.MCPTransport.
type Endpoint struct {
	transport transport.MCPTransport
	logger    *slog.Logger

	idCounter int64

	mu                   sync.Mutex
	state                State
	outstanding          map[string]*pendingRequest
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	progressHandlers     map[string]ProgressHandler
	cancellationTokens   map[string]context.CancelFunc
	debouncePending      map[string]bool
	debounceBuild        map[string]func() any
	debounceDelay        time.Duration

	onInitialized func()

	assertRequestCapability      func(method string) error
	assertNotificationCapability func(method string) error
	assertHandlerCapability      func(method string) error
}

// New constructs an Endpoint attached to t. Call Attach to wire the
// transport's message/close handlers before calling Connect.
func New(t transport.MCPTransport, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Endpoint{
		transport:            t,
		logger:               logger,
		state:                StateDisconnected,
		outstanding:          make(map[string]*pendingRequest),
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		progressHandlers:     make(map[string]ProgressHandler),
		cancellationTokens:   make(map[string]context.CancelFunc),
		debouncePending:      make(map[string]bool),
		debounceBuild:        make(map[string]func() any),
	}
	e.RegisterRequestHandler("ping", func(ctx context.Context, params json.RawMessage, extra RequestHandlerExtra) (any, error) {
		return map[string]any{}, nil
	})
	e.RegisterNotificationHandler("notifications/cancelled", e.handleCancelled)
	t.SetMessageHandler(e.HandleMessage)
	t.SetCloseHandler(e.handleTransportClose)
	return e
}

// SetOnInitialized registers the callback invoked when this endpoint
// receives the client's "notifications/initialized" notification.
func (e *Endpoint) SetOnInitialized(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onInitialized = fn
}

// SetCapabilityHooks installs the three capability-gating hooks checked
// before sending a request, notification, or dispatching to a registered
// handler. A nil hook always succeeds.
func (e *Endpoint) SetCapabilityHooks(request, notification, handler func(method string) error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assertRequestCapability = request
	e.assertNotificationCapability = notification
	e.assertHandlerCapability = handler
}

// SetDebounceDelay overrides the delay NotifyDebounced waits before
// emitting a collapsed notification. The zero value (the default) means
// "next scheduler tick".
func (e *Endpoint) SetDebounceDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.debounceDelay = d
}

// RegisterRequestHandler registers fn for method, subject to the
// assertHandlerCapability hook.
func (e *Endpoint) RegisterRequestHandler(method string, fn RequestHandler) error {
	e.mu.Lock()
	hook := e.assertHandlerCapability
	e.mu.Unlock()
	if hook != nil {
		if err := hook(method); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requestHandlers[method] = fn
	return nil
}

// RegisterNotificationHandler registers fn for a notification method name.
func (e *Endpoint) RegisterNotificationHandler(method string, fn NotificationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notificationHandlers[method] = fn
}

// RegisterProgressHandler arms fn to receive progress updates for token,
// until the owning request completes (call UnregisterProgressHandler, or
// rely on SendRequest to clean it up automatically).
func (e *Endpoint) RegisterProgressHandler(token string, fn ProgressHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progressHandlers[token] = fn
}

func (e *Endpoint) UnregisterProgressHandler(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.progressHandlers, token)
}

// State returns the current connection state.
func (e *Endpoint) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Endpoint) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Connect transitions disconnected → connecting → awaiting-initialize and
// starts the transport.
func (e *Endpoint) Connect(ctx context.Context) error {
	e.setState(StateConnecting)
	if err := e.transport.Start(ctx); err != nil {
		e.setState(StateDisconnected)
		return err
	}
	e.setState(StateAwaitingInitialize)
	return nil
}

// MarkInitialized transitions awaiting-initialize → initialized; the
// server registry calls this once it has handled an "initialize" request.
func (e *Endpoint) MarkInitialized() {
	e.setState(StateInitialized)
}

// SendRequestOption configures a single SendRequest call.
type SendRequestOption func(*sendRequestOpts)

type sendRequestOpts struct {
	timeout    time.Duration
	onProgress ProgressHandler
}

// WithTimeout overrides the default 60s request timeout.
func WithTimeout(d time.Duration) SendRequestOption {
	return func(o *sendRequestOpts) { o.timeout = d }
}

// WithProgress arms a progress handler for this request's progress token.
func WithProgress(fn ProgressHandler) SendRequestOption {
	return func(o *sendRequestOpts) { o.onProgress = fn }
}

// SendRequest allocates an id, injects _meta.progressToken when a progress
// handler is supplied, arms a timeout, writes the request via the attached
// transport, and blocks until the response arrives, the request is
// cancelled, the timeout fires, or the endpoint closes.
func (e *Endpoint) SendRequest(ctx context.Context, method string, params any, opts ...SendRequestOption) (json.RawMessage, error) {
	e.mu.Lock()
	hook := e.assertRequestCapability
	e.mu.Unlock()
	if hook != nil {
		if err := hook(method); err != nil {
			return nil, err
		}
	}

	o := sendRequestOpts{timeout: DefaultRequestTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	id := e.nextID()
	idKey := string(id)

	paramsDoc := map[string]any{}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal params: %w", err)
		}
		if err := json.Unmarshal(raw, &paramsDoc); err != nil {
			paramsDoc = map[string]any{"value": params}
		}
	}
	if o.onProgress != nil {
		meta, _ := paramsDoc["_meta"].(map[string]any)
		if meta == nil {
			meta = map[string]any{}
		}
		meta["progressToken"] = idKey
		paramsDoc["_meta"] = meta
		e.RegisterProgressHandler(idKey, o.onProgress)
	}

	msg, err := jsonrpc.NewRequest(id, method, paramsDoc)
	if err != nil {
		return nil, err
	}

	pending := &pendingRequest{resultCh: make(chan requestOutcome, 1)}
	e.mu.Lock()
	e.outstanding[idKey] = pending
	e.mu.Unlock()

	pending.timer = time.AfterFunc(o.timeout, func() {
		e.resolveOutstanding(idKey, requestOutcome{err: &jsonrpc.ErrorObject{
			Code:    jsonrpc.CodeRequestTimeout,
			Message: fmt.Sprintf("request %q timed out after %s", method, o.timeout),
		}})
	})

	defer func() {
		e.UnregisterProgressHandler(idKey)
	}()

	if err := e.transport.Send(ctx, msg); err != nil {
		e.resolveOutstanding(idKey, requestOutcome{err: &jsonrpc.ErrorObject{
			Code:    jsonrpc.CodeInternalError,
			Message: err.Error(),
		}})
	}

	select {
	case outcome := <-pending.resultCh:
		if outcome.err != nil {
			return nil, outcome.err
		}
		return outcome.result, nil
	case <-ctx.Done():
		e.resolveOutstanding(idKey, requestOutcome{err: &jsonrpc.ErrorObject{
			Code:    jsonrpc.CodeServerError,
			Message: "request cancelled by caller",
		}})
		_ = e.transport.Send(context.Background(), cancelledNotification(idKey))
		return nil, ctx.Err()
	}
}

func (e *Endpoint) nextID() jsonrpc.ID {
	n := atomic.AddInt64(&e.idCounter, 1)
	return jsonrpc.ID(strconv.FormatInt(n, 10))
}

func (e *Endpoint) resolveOutstanding(idKey string, outcome requestOutcome) {
	e.mu.Lock()
	pending, ok := e.outstanding[idKey]
	if ok {
		delete(e.outstanding, idKey)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	if pending.timer != nil {
		pending.timer.Stop()
	}
	select {
	case pending.resultCh <- outcome:
	default:
	}
}

func cancelledNotification(requestID string) *jsonrpc.Message {
	msg, _ := jsonrpc.NewNotification("notifications/cancelled", map[string]any{"requestId": requestID})
	return msg
}

// HandleMessage is the receive half: it classifies msg and dispatches it to
// the response-correlation table, a request handler, or a notification
// handler.
func (e *Endpoint) HandleMessage(ctx context.Context, msg *jsonrpc.Message) {
	switch msg.Kind {
	case jsonrpc.KindResponse:
		e.resolveOutstanding(string(msg.ID), requestOutcome{result: msg.Result})
	case jsonrpc.KindError:
		e.resolveOutstanding(string(msg.ID), requestOutcome{err: msg.Error})
	case jsonrpc.KindRequest:
		go e.dispatchRequest(ctx, msg)
	case jsonrpc.KindNotification:
		e.dispatchNotification(ctx, msg)
	}
}

func (e *Endpoint) dispatchRequest(ctx context.Context, msg *jsonrpc.Message) {
	e.mu.Lock()
	fn, ok := e.requestHandlers[msg.Method]
	e.mu.Unlock()

	if !ok {
		e.sendError(ctx, msg.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method))
		return
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	idKey := string(msg.ID)
	e.mu.Lock()
	e.cancellationTokens[idKey] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancellationTokens, idKey)
		e.mu.Unlock()
		cancel()
	}()

	extra := RequestHandlerExtra{Cancelled: cancelCtx.Done()}
	if sessionID, ok := transport.SessionIDFromContext(ctx); ok {
		extra.SessionID = sessionID
	}
	if claims, ok := transport.ClaimsFromContext(ctx); ok {
		extra.Claims = claims
	}
	if headers, ok := transport.HeadersFromContext(ctx); ok {
		extra.Headers = headers
	}

	result, err := fn(cancelCtx, msg.Params, extra)
	if err != nil {
		if methodErr, ok := err.(*MethodError); ok {
			e.sendErrorData(ctx, msg.ID, methodErr.Code, methodErr.Message, methodErr.Data)
			return
		}
		e.sendError(ctx, msg.ID, jsonrpc.CodeInternalError, err.Error())
		return
	}

	resp, err := jsonrpc.NewResponse(msg.ID, result)
	if err != nil {
		e.sendError(ctx, msg.ID, jsonrpc.CodeInternalError, err.Error())
		return
	}
	if sendErr := e.transport.Send(ctx, resp); sendErr != nil {
		e.logger.Error("protocol: failed to send response", "method", msg.Method, "error", sendErr)
	}
}

func (e *Endpoint) dispatchNotification(ctx context.Context, msg *jsonrpc.Message) {
	if msg.Method == "notifications/initialized" {
		e.mu.Lock()
		cb := e.onInitialized
		e.mu.Unlock()
		if cb != nil {
			cb()
		}
	}
	if msg.Method == "notifications/progress" {
		e.dispatchProgress(msg.Params)
		return
	}

	e.mu.Lock()
	fn, ok := e.notificationHandlers[msg.Method]
	e.mu.Unlock()
	if ok {
		fn(ctx, msg.Params)
	}
}

func (e *Endpoint) dispatchProgress(params json.RawMessage) {
	var p struct {
		ProgressToken string  `json:"progressToken"`
		Progress      float64 `json:"progress"`
		Total         float64 `json:"total"`
		Message       string  `json:"message"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	e.mu.Lock()
	fn, ok := e.progressHandlers[p.ProgressToken]
	e.mu.Unlock()
	if ok {
		fn(p.Progress, p.Total, p.Message)
	}
}

func (e *Endpoint) handleCancelled(ctx context.Context, params json.RawMessage) {
	var p struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}

	e.mu.Lock()
	cancel, ok := e.cancellationTokens[p.RequestID]
	e.mu.Unlock()
	if ok {
		cancel()
	}

	e.resolveOutstanding(p.RequestID, requestOutcome{err: &jsonrpc.ErrorObject{
		Code:    jsonrpc.CodeServerError,
		Message: "request cancelled by peer",
	}})
}

func (e *Endpoint) sendError(ctx context.Context, id jsonrpc.ID, code int, message string) {
	e.sendErrorData(ctx, id, code, message, nil)
}

func (e *Endpoint) sendErrorData(ctx context.Context, id jsonrpc.ID, code int, message string, data any) {
	resp := jsonrpc.NewErrorResponse(id, code, message, data)
	if err := e.transport.Send(ctx, resp); err != nil {
		e.logger.Error("protocol: failed to send error response", "error", err)
	}
}

// Notify sends method immediately, without debouncing. Use for notifications
// that must not be collapsed, such as a resources/updated fan-out to a
// specific subscriber: callers target a session by attaching a session id
// to ctx with transport.ContextWithSessionID before calling Notify.
func (e *Endpoint) Notify(ctx context.Context, method string, params any) error {
	hook := e.notificationCapabilityHook()
	if hook != nil {
		if err := hook(method); err != nil {
			return err
		}
	}
	msg, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	return e.transport.Send(ctx, msg)
}

// NotifyDebounced schedules a single emission of method on the next tick,
// collapsing rapid successive calls into one notification. An unspecified
// debounce window resolves to zero-delay.
func (e *Endpoint) NotifyDebounced(method string, build func() any) {
	e.mu.Lock()
	if e.debouncePending[method] {
		e.debounceBuild[method] = build
		e.mu.Unlock()
		return
	}
	e.debouncePending[method] = true
	e.debounceBuild[method] = build
	delay := e.debounceDelay
	e.mu.Unlock()

	time.AfterFunc(delay, func() {
		e.mu.Lock()
		fn := e.debounceBuild[method]
		delete(e.debouncePending, method)
		delete(e.debounceBuild, method)
		e.mu.Unlock()

		var params any
		if fn != nil {
			params = fn()
		}
		msg, err := jsonrpc.NewNotification(method, params)
		if err != nil {
			return
		}
		hook := e.notificationCapabilityHook()
		if hook != nil {
			if err := hook(method); err != nil {
				return
			}
		}
		if err := e.transport.Send(context.Background(), msg); err != nil {
			e.logger.Error("protocol: failed to send debounced notification", "method", method, "error", err)
		}
	})
}

func (e *Endpoint) notificationCapabilityHook() func(string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.assertNotificationCapability
}

// Close transitions to closing, rejects every outstanding request future
// with ConnectionClosed, closes the transport, then transitions to
// disconnected.
func (e *Endpoint) Close() error {
	e.setState(StateClosing)

	e.mu.Lock()
	outstanding := make(map[string]*pendingRequest, len(e.outstanding))
	for k, v := range e.outstanding {
		outstanding[k] = v
	}
	e.mu.Unlock()

	for idKey := range outstanding {
		e.resolveOutstanding(idKey, requestOutcome{err: &jsonrpc.ErrorObject{
			Code:    jsonrpc.CodeServerError,
			Message: "connection closed",
		}})
	}

	err := e.transport.Close()
	e.setState(StateDisconnected)
	return err
}

func (e *Endpoint) handleTransportClose() {
	if e.State() != StateClosing {
		_ = e.Close()
	}
}
