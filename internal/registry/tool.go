package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	internalerrors "github.com/mcpcore/go-mcp/internal/errors"
	"github.com/mcpcore/go-mcp/internal/protocol"
	"github.com/mcpcore/go-mcp/internal/schema"
)

// ToolDefinition is the static, advertised shape of a registered tool.
type ToolDefinition struct {
	Name         string
	Title        string
	Description  string
	InputSchema  json.RawMessage
	OutputSchema json.RawMessage
	Annotations  map[string]any
}

// ToolResult is the CallToolResult a tool callback returns. A callback that
// fails reports IsError on the result rather than returning a Go error, so
// the failure reaches the caller as a normal response.
type ToolResult struct {
	Content           []ContentBlock
	StructuredContent map[string]any
	IsError           bool
}

// ToolCallback implements a tool's behavior given validated arguments.
type ToolCallback func(ctx context.Context, args map[string]any, extra protocol.RequestHandlerExtra) (*ToolResult, error)

type toolEntry struct {
	def      ToolDefinition
	callback ToolCallback
	enabled  bool
}

// ToolRegistry is a thread-safe table of tools, keyed by name.
type ToolRegistry struct {
	mu       sync.RWMutex
	tools    map[string]*toolEntry
	onChange func()
}

// NewToolRegistry creates an empty tool registry. onChange, if non-nil, is
// invoked (outside the registry lock) after every register/enable/disable/
// update/remove, to schedule a "tools/list_changed" notification.
func NewToolRegistry(onChange func()) *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*toolEntry), onChange: onChange}
}

// Register adds a new, enabled tool. Returns ErrAlreadyRegistered if name
// is already in use.
func (r *ToolRegistry) Register(def ToolDefinition, cb ToolCallback) error {
	if def.Name == "" {
		return domainErr("Register", internalerrors.ErrBadRequest, fmt.Errorf("tool name cannot be empty"), def.Name)
	}
	if cb == nil {
		return domainErr("Register", internalerrors.ErrBadRequest, fmt.Errorf("tool callback cannot be nil"), def.Name)
	}

	r.mu.Lock()
	if _, exists := r.tools[def.Name]; exists {
		r.mu.Unlock()
		return domainErr("Register", internalerrors.ErrBadRequest, ErrAlreadyRegistered, def.Name)
	}
	r.tools[def.Name] = &toolEntry{def: def, callback: cb, enabled: true}
	r.mu.Unlock()

	r.fireChange()
	return nil
}

// Enable marks name enabled, re-advertising it in tools/list.
func (r *ToolRegistry) Enable(name string) error { return r.setEnabled(name, true) }

// Disable marks name disabled: tools/list omits it and tools/call answers
// InvalidParams for it, without removing its registration.
func (r *ToolRegistry) Disable(name string) error { return r.setEnabled(name, false) }

func (r *ToolRegistry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	entry, ok := r.tools[name]
	if !ok {
		r.mu.Unlock()
		return domainErr("setEnabled", internalerrors.ErrNotFound, ErrNotFound, name)
	}
	entry.enabled = enabled
	r.mu.Unlock()

	r.fireChange()
	return nil
}

// Update replaces the definition and/or callback for an existing tool. A
// nil cb leaves the existing callback in place.
func (r *ToolRegistry) Update(name string, def ToolDefinition, cb ToolCallback) error {
	r.mu.Lock()
	entry, ok := r.tools[name]
	if !ok {
		r.mu.Unlock()
		return domainErr("Update", internalerrors.ErrNotFound, ErrNotFound, name)
	}
	entry.def = def
	if cb != nil {
		entry.callback = cb
	}
	r.mu.Unlock()

	r.fireChange()
	return nil
}

// Remove deletes a tool's registration entirely.
func (r *ToolRegistry) Remove(name string) error {
	r.mu.Lock()
	if _, ok := r.tools[name]; !ok {
		r.mu.Unlock()
		return domainErr("Remove", internalerrors.ErrNotFound, ErrNotFound, name)
	}
	delete(r.tools, name)
	r.mu.Unlock()

	r.fireChange()
	return nil
}

// List returns definitions for every enabled tool, sorted by name for
// deterministic tools/list responses.
func (r *ToolRegistry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	for _, entry := range r.tools {
		if entry.enabled {
			defs = append(defs, entry.def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Call validates args against the tool's input schema, invokes its
// callback, and (when the tool declares an output schema) validates the
// result's StructuredContent. Schema/lookup failures return a
// *protocol.MethodError (InvalidParams); callback errors are absorbed into
// the returned ToolResult's IsError instead.
func (r *ToolRegistry) Call(ctx context.Context, name string, args map[string]any, extra protocol.RequestHandlerExtra) (*ToolResult, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok || !entry.enabled {
		return nil, invalidParams(fmt.Sprintf("unknown or disabled tool: %s", name))
	}

	if len(entry.def.InputSchema) > 0 {
		doc, err := schema.DecodeSchemaDoc(entry.def.InputSchema)
		if err != nil {
			return nil, invalidParams(err.Error())
		}
		if verr := schema.Validate(args, doc); verr != nil {
			return nil, invalidParams(verr.Error())
		}
	}

	result, err := entry.callback(ctx, args, extra)
	if err != nil {
		return &ToolResult{Content: []ContentBlock{TextContent(err.Error())}, IsError: true}, nil
	}
	if result == nil {
		result = &ToolResult{}
	}

	if len(entry.def.OutputSchema) > 0 && !result.IsError {
		doc, err := schema.DecodeSchemaDoc(entry.def.OutputSchema)
		if err != nil {
			return nil, invalidParams(err.Error())
		}
		if result.StructuredContent == nil {
			return nil, invalidParams(fmt.Sprintf("tool %s declares an output schema but returned no structured content", name))
		}
		if verr := schema.Validate(result.StructuredContent, doc); verr != nil {
			return nil, invalidParams(fmt.Sprintf("tool %s structured content: %s", name, verr.Error()))
		}
	}

	return result, nil
}

func (r *ToolRegistry) fireChange() {
	if r.onChange != nil {
		r.onChange()
	}
}
