package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	internalerrors "github.com/mcpcore/go-mcp/internal/errors"
	"github.com/mcpcore/go-mcp/internal/protocol"
	"github.com/mcpcore/go-mcp/internal/schema"
)

// PromptDefinition is the static, advertised shape of a registered prompt.
// ArgsSchema is a JSON Schema document whose top-level properties describe
// the prompt's arguments; prompts/list derives each argument's {name,
// description, required} from it.
type PromptDefinition struct {
	Name        string
	Title       string
	Description string
	ArgsSchema  map[string]any
}

// PromptMessage is one message in a PromptResult.
type PromptMessage struct {
	Role    string
	Content ContentBlock
}

// PromptResult is what a prompt's callback returns.
type PromptResult struct {
	Description string
	Messages    []PromptMessage
}

// PromptCallback resolves a prompt invocation given validated arguments.
type PromptCallback func(ctx context.Context, args map[string]string, extra protocol.RequestHandlerExtra) (*PromptResult, error)

type promptEntry struct {
	def         PromptDefinition
	callback    PromptCallback
	completions map[string]CompletionCallback
	enabled     bool
}

// PromptListEntry is one entry of a prompts/list response.
type PromptListEntry struct {
	Name        string
	Title       string
	Description string
	Arguments   []schema.PromptArgument
}

// PromptRegistry is a thread-safe table of prompts, keyed by name.
type PromptRegistry struct {
	mu       sync.RWMutex
	prompts  map[string]*promptEntry
	onChange func()
}

// NewPromptRegistry creates an empty prompt registry.
func NewPromptRegistry(onChange func()) *PromptRegistry {
	return &PromptRegistry{prompts: make(map[string]*promptEntry), onChange: onChange}
}

// Register adds a new, enabled prompt. completions maps argument name to
// its Completable callback.
func (r *PromptRegistry) Register(def PromptDefinition, cb PromptCallback, completions map[string]CompletionCallback) error {
	if def.Name == "" {
		return domainErr("Register", internalerrors.ErrBadRequest, fmt.Errorf("prompt name cannot be empty"), def.Name)
	}
	if cb == nil {
		return domainErr("Register", internalerrors.ErrBadRequest, fmt.Errorf("prompt callback cannot be nil"), def.Name)
	}

	r.mu.Lock()
	if _, exists := r.prompts[def.Name]; exists {
		r.mu.Unlock()
		return domainErr("Register", internalerrors.ErrBadRequest, ErrAlreadyRegistered, def.Name)
	}
	r.prompts[def.Name] = &promptEntry{def: def, callback: cb, completions: completions, enabled: true}
	r.mu.Unlock()

	r.fireChange()
	return nil
}

func (r *PromptRegistry) Enable(name string) error  { return r.setEnabled(name, true) }
func (r *PromptRegistry) Disable(name string) error { return r.setEnabled(name, false) }

func (r *PromptRegistry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	entry, ok := r.prompts[name]
	if !ok {
		r.mu.Unlock()
		return domainErr("setEnabled", internalerrors.ErrNotFound, ErrNotFound, name)
	}
	entry.enabled = enabled
	r.mu.Unlock()

	r.fireChange()
	return nil
}

func (r *PromptRegistry) Update(name string, def PromptDefinition, cb PromptCallback) error {
	r.mu.Lock()
	entry, ok := r.prompts[name]
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

func (r *PromptRegistry) Remove(name string) error {
	r.mu.Lock()
	if _, ok := r.prompts[name]; !ok {
		r.mu.Unlock()
		return domainErr("Remove", internalerrors.ErrNotFound, ErrNotFound, name)
	}
	delete(r.prompts, name)
	r.mu.Unlock()

	r.fireChange()
	return nil
}

// List returns every enabled prompt's advertised shape, sorted by name.
func (r *PromptRegistry) List() []PromptListEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PromptListEntry, 0, len(r.prompts))
	for _, entry := range r.prompts {
		if !entry.enabled {
			continue
		}
		out = append(out, PromptListEntry{
			Name:        entry.def.Name,
			Title:       entry.def.Title,
			Description: entry.def.Description,
			Arguments:   schema.ExtractPromptArguments(entry.def.ArgsSchema),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get validates args against the prompt's argument schema and invokes its
// callback.
func (r *PromptRegistry) Get(ctx context.Context, name string, args map[string]string, extra protocol.RequestHandlerExtra) (*PromptResult, error) {
	r.mu.RLock()
	entry, ok := r.prompts[name]
	r.mu.RUnlock()
	if !ok || !entry.enabled {
		return nil, invalidParams(fmt.Sprintf("unknown or disabled prompt: %s", name))
	}

	if len(entry.def.ArgsSchema) > 0 {
		asAny := make(map[string]any, len(args))
		for k, v := range args {
			asAny[k] = v
		}
		if verr := schema.Validate(asAny, entry.def.ArgsSchema); verr != nil {
			return nil, invalidParams(verr.Error())
		}
	}

	return entry.callback(ctx, args, extra)
}

func (r *PromptRegistry) completion(name, argName string) (CompletionCallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.prompts[name]
	if !ok {
		return nil, false
	}
	cb, ok := entry.completions[argName]
	return cb, ok
}

func (r *PromptRegistry) fireChange() {
	if r.onChange != nil {
		r.onChange()
	}
}
