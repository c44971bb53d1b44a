package protocol

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mcpcore/go-mcp/internal/jsonrpc"
	"github.com/mcpcore/go-mcp/internal/transport"
)

// loopbackTransport connects two Endpoints in-process: anything sent on one
// side is delivered to the other side's message handler, so the pair
// exercises real request/response correlation without a network.
type loopbackTransport struct {
	peer *loopbackTransport

	onMessage transport.MessageHandler
	onClose   transport.CloseHandler
	onError   transport.ErrorHandler

	started bool
	closed  bool
}

func newLoopbackPair() (a, b *loopbackTransport) {
	a = &loopbackTransport{}
	b = &loopbackTransport{}
	a.peer = b
	b.peer = a
	return a, b
}

func (t *loopbackTransport) Start(ctx context.Context) error {
	if t.started {
		return transport.ErrAlreadyStarted
	}
	t.started = true
	return nil
}

func (t *loopbackTransport) Send(ctx context.Context, msg *jsonrpc.Message) error {
	if t.peer.onMessage != nil {
		go t.peer.onMessage(ctx, msg)
	}
	return nil
}

func (t *loopbackTransport) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}

func (t *loopbackTransport) SetMessageHandler(h transport.MessageHandler) { t.onMessage = h }
func (t *loopbackTransport) SetCloseHandler(h transport.CloseHandler)     { t.onClose = h }
func (t *loopbackTransport) SetErrorHandler(h transport.ErrorHandler)     { t.onError = h }

func TestEndpoint_SendRequest_RoundTrip(t *testing.T) {
	t.Parallel()

	clientTr, serverTr := newLoopbackPair()
	client := New(clientTr, nil)
	server := New(serverTr, nil)

	server.RegisterRequestHandler("echo", func(ctx context.Context, params json.RawMessage, extra RequestHandlerExtra) (any, error) {
		var p map[string]any
		_ = json.Unmarshal(params, &p)
		return p, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := client.SendRequest(ctx, "echo", map[string]any{"hello": "world"})
	if err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(result, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got["hello"] != "world" {
		t.Errorf("result = %v, want hello=world", got)
	}
}

func TestEndpoint_SendRequest_MethodNotFound(t *testing.T) {
	t.Parallel()

	clientTr, serverTr := newLoopbackPair()
	client := New(clientTr, nil)
	_ = New(serverTr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.SendRequest(ctx, "nonexistent", nil)
	if err == nil {
		t.Fatal("expected error for unknown method")
	}
	errObj, ok := err.(*jsonrpc.ErrorObject)
	if !ok {
		t.Fatalf("error type = %T, want *jsonrpc.ErrorObject", err)
	}
	if errObj.Code != jsonrpc.CodeMethodNotFound {
		t.Errorf("code = %d, want %d", errObj.Code, jsonrpc.CodeMethodNotFound)
	}
}

func TestEndpoint_Ping(t *testing.T) {
	t.Parallel()

	clientTr, serverTr := newLoopbackPair()
	client := New(clientTr, nil)
	_ = New(serverTr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := client.SendRequest(ctx, "ping", nil); err != nil {
		t.Fatalf("SendRequest(ping) error = %v", err)
	}
}

func TestEndpoint_SendRequest_Timeout(t *testing.T) {
	t.Parallel()

	clientTr, serverTr := newLoopbackPair()
	client := New(clientTr, nil)
	server := New(serverTr, nil)

	block := make(chan struct{})
	server.RegisterRequestHandler("slow", func(ctx context.Context, params json.RawMessage, extra RequestHandlerExtra) (any, error) {
		<-block
		return map[string]any{}, nil
	})
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.SendRequest(ctx, "slow", nil, WithTimeout(50*time.Millisecond))
	if err == nil {
		t.Fatal("expected timeout error")
	}
	errObj, ok := err.(*jsonrpc.ErrorObject)
	if !ok {
		t.Fatalf("error type = %T, want *jsonrpc.ErrorObject", err)
	}
	if errObj.Code != jsonrpc.CodeRequestTimeout {
		t.Errorf("code = %d, want %d", errObj.Code, jsonrpc.CodeRequestTimeout)
	}
}

func TestEndpoint_MethodError_PropagatesCode(t *testing.T) {
	t.Parallel()

	clientTr, serverTr := newLoopbackPair()
	client := New(clientTr, nil)
	server := New(serverTr, nil)

	server.RegisterRequestHandler("denied", func(ctx context.Context, params json.RawMessage, extra RequestHandlerExtra) (any, error) {
		return nil, &MethodError{Code: jsonrpc.CodeInvalidParams, Message: "bad params"}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.SendRequest(ctx, "denied", nil)
	errObj, ok := err.(*jsonrpc.ErrorObject)
	if !ok {
		t.Fatalf("error type = %T, want *jsonrpc.ErrorObject", err)
	}
	if errObj.Code != jsonrpc.CodeInvalidParams {
		t.Errorf("code = %d, want %d", errObj.Code, jsonrpc.CodeInvalidParams)
	}
}

func TestEndpoint_NotificationHandler(t *testing.T) {
	t.Parallel()

	clientTr, serverTr := newLoopbackPair()
	client := New(clientTr, nil)
	server := New(serverTr, nil)

	received := make(chan string, 1)
	server.RegisterNotificationHandler("notifications/message", func(ctx context.Context, params json.RawMessage) {
		received <- string(params)
	})

	notif, err := jsonrpc.NewNotification("notifications/message", map[string]any{"level": "info"})
	if err != nil {
		t.Fatalf("NewNotification() error = %v", err)
	}
	if err := client.transport.Send(context.Background(), notif); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestEndpoint_CapabilityHook_RejectsRequest(t *testing.T) {
	t.Parallel()

	clientTr, serverTr := newLoopbackPair()
	client := New(clientTr, nil)
	_ = New(serverTr, nil)

	client.SetCapabilityHooks(func(method string) error {
		return &MethodError{Code: jsonrpc.CodeInvalidRequest, Message: "capability not negotiated"}
	}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.SendRequest(ctx, "ping", nil)
	if err == nil {
		t.Fatal("expected capability hook to reject the request")
	}
}

func TestEndpoint_StateMachine(t *testing.T) {
	t.Parallel()

	tr, peerTr := newLoopbackPair()
	_ = peerTr
	e := New(tr, nil)

	if got := e.State(); got != StateDisconnected {
		t.Fatalf("initial state = %v, want disconnected", got)
	}
	if err := e.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := e.State(); got != StateAwaitingInitialize {
		t.Fatalf("state after Connect = %v, want awaiting-initialize", got)
	}
	e.MarkInitialized()
	if got := e.State(); got != StateInitialized {
		t.Fatalf("state after MarkInitialized = %v, want initialized", got)
	}
}

func TestEndpoint_NotifyDebounced_CollapsesRapidCalls(t *testing.T) {
	t.Parallel()

	clientTr, serverTr := newLoopbackPair()
	client := New(clientTr, nil)
	server := New(serverTr, nil)

	received := make(chan json.RawMessage, 8)
	server.RegisterNotificationHandler("notifications/tools/list_changed", func(ctx context.Context, params json.RawMessage) {
		received <- params
	})

	for i := 0; i < 5; i++ {
		client.NotifyDebounced("notifications/tools/list_changed", func() any { return map[string]any{} })
	}

	time.Sleep(200 * time.Millisecond)

	count := 0
drain:
	for {
		select {
		case <-received:
			count++
		default:
			break drain
		}
	}
	if count != 1 {
		t.Errorf("notification count = %d, want 1", count)
	}
}
