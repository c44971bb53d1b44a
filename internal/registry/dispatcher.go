package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcpcore/go-mcp/internal/protocol"
	"github.com/mcpcore/go-mcp/internal/session"
)

// Implementation identifies a client or server for the initialize
// handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SupportedProtocolVersions lists versions this server understands, newest
// first; the first entry is offered when the client's requested version is
// unsupported.
var SupportedProtocolVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

// Dispatcher wires the tool/resource/prompt registries and the
// subscription/completion services to a protocol.Endpoint as request
// handlers for every MCP method, and schedules debounced list_changed
// notifications.
type Dispatcher struct {
	endpoint   *protocol.Endpoint
	tools      *ToolRegistry
	resources  *ResourceRegistry
	prompts    *PromptRegistry
	subs       *Subscriptions
	completion *CompletionService
	serverInfo Implementation
	sessions   *session.Manager

	logMu    sync.Mutex
	logLevel string
}

// NewDispatcher builds a Dispatcher. Call Register to wire it into
// endpoint. sessions may be nil, in which case initialize never tracks
// per-session state and logging/setLevel falls back to a single
// dispatcher-wide level (suitable for stdio, which is always one session).
func NewDispatcher(endpoint *protocol.Endpoint, tools *ToolRegistry, resources *ResourceRegistry, prompts *PromptRegistry, subs *Subscriptions, completion *CompletionService, serverInfo Implementation, sessions *session.Manager) *Dispatcher {
	return &Dispatcher{
		endpoint:   endpoint,
		tools:      tools,
		resources:  resources,
		prompts:    prompts,
		subs:       subs,
		completion: completion,
		serverInfo: serverInfo,
		sessions:   sessions,
		logLevel:   "info",
	}
}

// Register installs every MCP method handler on the dispatcher's endpoint.
func (d *Dispatcher) Register() error {
	handlers := map[string]protocol.RequestHandler{
		"initialize":               d.handleInitialize,
		"tools/list":               d.handleToolsList,
		"tools/call":               d.handleToolsCall,
		"resources/list":           d.handleResourcesList,
		"resources/read":           d.handleResourcesRead,
		"resources/templates/list": d.handleResourceTemplatesList,
		"resources/subscribe":      d.handleResourcesSubscribe,
		"resources/unsubscribe":    d.handleResourcesUnsubscribe,
		"prompts/list":             d.handlePromptsList,
		"prompts/get":              d.handlePromptsGet,
		"completion/complete":      d.handleCompletionComplete,
		"logging/setLevel":         d.handleLoggingSetLevel,
	}
	for method, fn := range handlers {
		if err := d.endpoint.RegisterRequestHandler(method, fn); err != nil {
			return fmt.Errorf("registry: register handler for %s: %w", method, err)
		}
	}
	return nil
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

func (d *Dispatcher) handleInitialize(ctx context.Context, params json.RawMessage, extra protocol.RequestHandlerExtra) (any, error) {
	var p initializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(fmt.Sprintf("invalid initialize params: %v", err))
		}
	}

	negotiated := SupportedProtocolVersions[0]
	for _, v := range SupportedProtocolVersions {
		if v == p.ProtocolVersion {
			negotiated = p.ProtocolVersion
			break
		}
	}

	d.endpoint.MarkInitialized()

	if d.sessions != nil {
		sess, ok := d.sessions.Get(extra.SessionID)
		if !ok {
			sess = d.sessions.CreateWithID(extra.SessionID)
		}
		sess.SetNegotiated(p.Capabilities, map[string]any{"name": p.ClientInfo.Name, "version": p.ClientInfo.Version}, negotiated)
	}

	return map[string]any{
		"protocolVersion": negotiated,
		"capabilities": map[string]any{
			"tools":       map[string]any{"listChanged": true},
			"resources":   map[string]any{"subscribe": true, "listChanged": true},
			"prompts":     map[string]any{"listChanged": true},
			"logging":     map[string]any{},
			"completions": map[string]any{},
		},
		"serverInfo": d.serverInfo,
	}, nil
}

func (d *Dispatcher) handleToolsList(ctx context.Context, params json.RawMessage, extra protocol.RequestHandlerExtra) (any, error) {
	defs := d.tools.List()
	tools := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		entry := map[string]any{"name": def.Name}
		if def.Title != "" {
			entry["title"] = def.Title
		}
		if def.Description != "" {
			entry["description"] = def.Description
		}
		if len(def.InputSchema) > 0 {
			entry["inputSchema"] = json.RawMessage(def.InputSchema)
		}
		if len(def.OutputSchema) > 0 {
			entry["outputSchema"] = json.RawMessage(def.OutputSchema)
		}
		if len(def.Annotations) > 0 {
			entry["annotations"] = def.Annotations
		}
		tools = append(tools, entry)
	}
	return map[string]any{"tools": tools}, nil
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, params json.RawMessage, extra protocol.RequestHandlerExtra) (any, error) {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid tools/call params: %v", err))
	}

	args := map[string]any{}
	if len(p.Arguments) > 0 {
		if err := json.Unmarshal(p.Arguments, &args); err != nil {
			return nil, invalidParams(fmt.Sprintf("invalid tool arguments: %v", err))
		}
	}

	result, err := d.tools.Call(ctx, p.Name, args, extra)
	if err != nil {
		return nil, err
	}

	resp := map[string]any{"content": result.Content, "isError": result.IsError}
	if result.StructuredContent != nil {
		resp["structuredContent"] = result.StructuredContent
	}
	return resp, nil
}

func (d *Dispatcher) handleResourcesList(ctx context.Context, params json.RawMessage, extra protocol.RequestHandlerExtra) (any, error) {
	defs := d.resources.ListResources()
	out := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		entry := map[string]any{"uri": def.URI, "name": def.Name}
		if def.Title != "" {
			entry["title"] = def.Title
		}
		if def.Description != "" {
			entry["description"] = def.Description
		}
		if def.MimeType != "" {
			entry["mimeType"] = def.MimeType
		}
		out = append(out, entry)
	}
	return map[string]any{"resources": out}, nil
}

func (d *Dispatcher) handleResourceTemplatesList(ctx context.Context, params json.RawMessage, extra protocol.RequestHandlerExtra) (any, error) {
	defs := d.resources.ListTemplates()
	out := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		entry := map[string]any{"uriTemplate": def.URITemplate, "name": def.Name}
		if def.Title != "" {
			entry["title"] = def.Title
		}
		if def.Description != "" {
			entry["description"] = def.Description
		}
		if def.MimeType != "" {
			entry["mimeType"] = def.MimeType
		}
		out = append(out, entry)
	}
	return map[string]any{"resourceTemplates": out}, nil
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, params json.RawMessage, extra protocol.RequestHandlerExtra) (any, error) {
	var p resourcesReadParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid resources/read params: %v", err))
	}

	result, err := d.resources.Read(ctx, p.URI, extra)
	if err != nil {
		return nil, err
	}

	contents := make([]map[string]any, 0, len(result.Contents))
	for _, c := range result.Contents {
		entry := map[string]any{"uri": c.URI}
		if c.MimeType != "" {
			entry["mimeType"] = c.MimeType
		}
		if c.Blob != nil {
			entry["blob"] = c.Blob
		} else {
			entry["text"] = c.Text
		}
		contents = append(contents, entry)
	}
	return map[string]any{"contents": contents}, nil
}

type resourcesSubscribeParams struct {
	URI string `json:"uri"`
}

func (d *Dispatcher) handleResourcesSubscribe(ctx context.Context, params json.RawMessage, extra protocol.RequestHandlerExtra) (any, error) {
	var p resourcesSubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid resources/subscribe params: %v", err))
	}
	d.subs.Subscribe(extra.SessionID, p.URI)
	return map[string]any{}, nil
}

func (d *Dispatcher) handleResourcesUnsubscribe(ctx context.Context, params json.RawMessage, extra protocol.RequestHandlerExtra) (any, error) {
	var p resourcesSubscribeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid resources/unsubscribe params: %v", err))
	}
	d.subs.Unsubscribe(extra.SessionID, p.URI)
	return map[string]any{}, nil
}

func (d *Dispatcher) handlePromptsList(ctx context.Context, params json.RawMessage, extra protocol.RequestHandlerExtra) (any, error) {
	entries := d.prompts.List()
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		entry := map[string]any{"name": e.Name}
		if e.Title != "" {
			entry["title"] = e.Title
		}
		if e.Description != "" {
			entry["description"] = e.Description
		}
		if len(e.Arguments) > 0 {
			entry["arguments"] = e.Arguments
		}
		out = append(out, entry)
	}
	return map[string]any{"prompts": out}, nil
}

type promptsGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments"`
}

func (d *Dispatcher) handlePromptsGet(ctx context.Context, params json.RawMessage, extra protocol.RequestHandlerExtra) (any, error) {
	var p promptsGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid prompts/get params: %v", err))
	}

	result, err := d.prompts.Get(ctx, p.Name, p.Arguments, extra)
	if err != nil {
		return nil, err
	}

	messages := make([]map[string]any, 0, len(result.Messages))
	for _, m := range result.Messages {
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
	}
	resp := map[string]any{"messages": messages}
	if result.Description != "" {
		resp["description"] = result.Description
	}
	return resp, nil
}

type completionCompleteParams struct {
	Ref      json.RawMessage `json:"ref"`
	Argument struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"argument"`
	Context struct {
		Arguments map[string]string `json:"arguments"`
	} `json:"context"`
}

func (d *Dispatcher) handleCompletionComplete(ctx context.Context, params json.RawMessage, extra protocol.RequestHandlerExtra) (any, error) {
	var p completionCompleteParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid completion/complete params: %v", err))
	}

	var rawRef struct {
		Type string `json:"type"`
		Name string `json:"name"`
		URI  string `json:"uri"`
	}
	if err := json.Unmarshal(p.Ref, &rawRef); err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid completion reference: %v", err))
	}
	ref := Reference{Kind: rawRef.Type, Name: rawRef.Name}
	if ref.Kind == "ref/resource" {
		ref.Name = rawRef.URI
	}

	result, err := d.completion.Complete(ctx, ref, p.Argument.Name, p.Argument.Value, p.Context.Arguments)
	if err != nil {
		return nil, err
	}

	return map[string]any{"completion": map[string]any{
		"values":  result.Values,
		"total":   len(result.Values),
		"hasMore": result.HasMore,
	}}, nil
}

type loggingSetLevelParams struct {
	Level string `json:"level"`
}

func (d *Dispatcher) handleLoggingSetLevel(ctx context.Context, params json.RawMessage, extra protocol.RequestHandlerExtra) (any, error) {
	var p loggingSetLevelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams(fmt.Sprintf("invalid logging/setLevel params: %v", err))
	}
	if d.sessions != nil && extra.SessionID != "" {
		if sess, ok := d.sessions.Get(extra.SessionID); ok {
			sess.SetLoggingLevel(p.Level)
			return map[string]any{}, nil
		}
	}
	d.logMu.Lock()
	d.logLevel = p.Level
	d.logMu.Unlock()
	return map[string]any{}, nil
}
