package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mcpcore/go-mcp/internal/jsonrpc"
	"github.com/mcpcore/go-mcp/internal/protocol"
	"github.com/mcpcore/go-mcp/internal/session"
	"github.com/mcpcore/go-mcp/internal/transport"
)

// discardTransport is a minimal transport.MCPTransport that swallows every
// outbound message, enough to host a protocol.Endpoint for dispatcher
// unit tests that call handlers directly.
type discardTransport struct {
	sent []*jsonrpc.Message
}

func (t *discardTransport) Start(ctx context.Context) error { return nil }
func (t *discardTransport) Send(ctx context.Context, msg *jsonrpc.Message) error {
	t.sent = append(t.sent, msg)
	return nil
}
func (t *discardTransport) Close() error                               { return nil }
func (t *discardTransport) SetMessageHandler(transport.MessageHandler) {}
func (t *discardTransport) SetCloseHandler(transport.CloseHandler)     {}
func (t *discardTransport) SetErrorHandler(transport.ErrorHandler)     {}

func newTestDispatcher() (*Dispatcher, *protocol.Endpoint) {
	tr := &discardTransport{}
	endpoint := protocol.New(tr, nil)
	tools := NewToolRegistry(nil)
	resources := NewResourceRegistry(nil)
	prompts := NewPromptRegistry(nil)
	subs := NewSubscriptions(nil)
	completion := NewCompletionService(prompts, resources)
	sessions := session.NewManager(nil)
	d := NewDispatcher(endpoint, tools, resources, prompts, subs, completion, Implementation{Name: "test", Version: "0.0.1"}, sessions)
	if err := d.Register(); err != nil {
		panic(err)
	}
	return d, endpoint
}

func TestDispatcher_Initialize_NegotiatesVersion(t *testing.T) {
	t.Parallel()

	d, endpoint := newTestDispatcher()
	params, _ := json.Marshal(map[string]any{"protocolVersion": "2025-06-18", "clientInfo": map[string]any{"name": "c", "version": "1"}})

	result, err := d.handleInitialize(context.Background(), params, protocol.RequestHandlerExtra{})
	if err != nil {
		t.Fatalf("handleInitialize() error = %v", err)
	}
	resp := result.(map[string]any)
	if resp["protocolVersion"] != "2025-06-18" {
		t.Errorf("protocolVersion = %v", resp["protocolVersion"])
	}
	if endpoint.State() != protocol.StateInitialized {
		t.Errorf("state = %v, want initialized", endpoint.State())
	}
}

func TestDispatcher_Initialize_FallsBackToLatestSupported(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher()
	params, _ := json.Marshal(map[string]any{"protocolVersion": "1999-01-01"})

	result, err := d.handleInitialize(context.Background(), params, protocol.RequestHandlerExtra{})
	if err != nil {
		t.Fatalf("handleInitialize() error = %v", err)
	}
	resp := result.(map[string]any)
	if resp["protocolVersion"] != SupportedProtocolVersions[0] {
		t.Errorf("protocolVersion = %v, want %v", resp["protocolVersion"], SupportedProtocolVersions[0])
	}
}

func TestDispatcher_ToolsCallRoundTrip(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher()
	_ = d.tools.Register(ToolDefinition{Name: "echo"}, func(ctx context.Context, args map[string]any, extra protocol.RequestHandlerExtra) (*ToolResult, error) {
		return &ToolResult{Content: []ContentBlock{TextContent("ok")}}, nil
	})

	params, _ := json.Marshal(map[string]any{"name": "echo", "arguments": map[string]any{}})
	result, err := d.handleToolsCall(context.Background(), params, protocol.RequestHandlerExtra{})
	if err != nil {
		t.Fatalf("handleToolsCall() error = %v", err)
	}
	resp := result.(map[string]any)
	if resp["isError"] != false {
		t.Errorf("isError = %v", resp["isError"])
	}
}

func TestDispatcher_ResourcesSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher()
	var notifiedURI string
	d.subs = NewSubscriptions(func(sessionID, uri string) { notifiedURI = uri })

	params, _ := json.Marshal(map[string]any{"uri": "file:///a.txt"})
	if _, err := d.handleResourcesSubscribe(context.Background(), params, protocol.RequestHandlerExtra{SessionID: "s1"}); err != nil {
		t.Fatalf("handleResourcesSubscribe() error = %v", err)
	}

	d.subs.NotifyUpdated("file:///a.txt")
	if notifiedURI != "file:///a.txt" {
		t.Errorf("notifiedURI = %q", notifiedURI)
	}

	if _, err := d.handleResourcesUnsubscribe(context.Background(), params, protocol.RequestHandlerExtra{SessionID: "s1"}); err != nil {
		t.Fatalf("handleResourcesUnsubscribe() error = %v", err)
	}
	notifiedURI = ""
	d.subs.NotifyUpdated("file:///a.txt")
	if notifiedURI != "" {
		t.Error("expected no notification after unsubscribe")
	}
}

func TestDispatcher_CompletionComplete(t *testing.T) {
	t.Parallel()

	d, _ := newTestDispatcher()
	_ = d.prompts.Register(PromptDefinition{Name: "p"}, noopPromptCallback, map[string]CompletionCallback{
		"arg": func(ctx context.Context, value string, ctxArgs map[string]string) ([]string, bool) {
			return []string{"a", "b"}, false
		},
	})

	params, _ := json.Marshal(map[string]any{
		"ref":      map[string]any{"type": "ref/prompt", "name": "p"},
		"argument": map[string]any{"name": "arg", "value": ""},
	})
	result, err := d.handleCompletionComplete(context.Background(), params, protocol.RequestHandlerExtra{})
	if err != nil {
		t.Fatalf("handleCompletionComplete() error = %v", err)
	}
	completion := result.(map[string]any)["completion"].(map[string]any)
	if completion["total"] != 2 {
		t.Errorf("total = %v", completion["total"])
	}
}
