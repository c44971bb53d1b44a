package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	internalerrors "github.com/mcpcore/go-mcp/internal/errors"
	"github.com/mcpcore/go-mcp/internal/protocol"
	"github.com/mcpcore/go-mcp/internal/uritemplate"
)

// ResourceDefinition is the static, advertised shape of a registered
// exact-URI resource.
type ResourceDefinition struct {
	URI         string
	Name        string
	Title       string
	Description string
	MimeType    string
}

// ResourceTemplateDefinition is the static, advertised shape of a
// registered URI-templated resource family.
type ResourceTemplateDefinition struct {
	URITemplate string
	Name        string
	Title       string
	Description string
	MimeType    string
}

// ResourceContent is one item of a resource read result.
type ResourceContent struct {
	URI      string
	MimeType string
	Text     string
	Blob     []byte
}

// ResourceReadResult is what a resource/template callback returns.
type ResourceReadResult struct {
	Contents []ResourceContent
}

// ResourceCallback reads the content for uri (vars is nil for exact-URI
// resources, populated with the template's captured variables otherwise).
type ResourceCallback func(ctx context.Context, uri string, vars map[string]string, extra protocol.RequestHandlerExtra) (*ResourceReadResult, error)

// CompletionCallback suggests completions for a prompt/template argument
// given its partial value.
type CompletionCallback func(ctx context.Context, value string, ctxArgs map[string]string) (values []string, hasMore bool)

type resourceEntry struct {
	def      ResourceDefinition
	callback ResourceCallback
	enabled  bool
}

type templateEntry struct {
	def         ResourceTemplateDefinition
	tmpl        *uritemplate.Template
	callback    ResourceCallback
	completions map[string]CompletionCallback
	enabled     bool
}

// ResourceRegistry is a thread-safe table of exact-URI resources plus
// URI-templated resource families, in registration order.
type ResourceRegistry struct {
	mu        sync.RWMutex
	resources map[string]*resourceEntry
	templates []*templateEntry // registration order, matched in order on resource reads
	byName    map[string]*templateEntry
	onChange  func()
}

// NewResourceRegistry creates an empty resource registry.
func NewResourceRegistry(onChange func()) *ResourceRegistry {
	return &ResourceRegistry{
		resources: make(map[string]*resourceEntry),
		byName:    make(map[string]*templateEntry),
		onChange:  onChange,
	}
}

// Register adds an exact-URI resource.
func (r *ResourceRegistry) Register(def ResourceDefinition, cb ResourceCallback) error {
	if def.URI == "" {
		return domainErr("Register", internalerrors.ErrBadRequest, fmt.Errorf("resource uri cannot be empty"), def.URI)
	}
	if cb == nil {
		return domainErr("Register", internalerrors.ErrBadRequest, fmt.Errorf("resource callback cannot be nil"), def.URI)
	}

	r.mu.Lock()
	if _, exists := r.resources[def.URI]; exists {
		r.mu.Unlock()
		return domainErr("Register", internalerrors.ErrBadRequest, ErrAlreadyRegistered, def.URI)
	}
	r.resources[def.URI] = &resourceEntry{def: def, callback: cb, enabled: true}
	r.mu.Unlock()

	r.fireChange()
	return nil
}

// RegisterTemplate adds a URI-templated resource family. completions maps
// variable name to its Completable callback.
func (r *ResourceRegistry) RegisterTemplate(def ResourceTemplateDefinition, cb ResourceCallback, completions map[string]CompletionCallback) error {
	if def.Name == "" {
		return domainErr("RegisterTemplate", internalerrors.ErrBadRequest, fmt.Errorf("template name cannot be empty"), def.Name)
	}
	if cb == nil {
		return domainErr("RegisterTemplate", internalerrors.ErrBadRequest, fmt.Errorf("template callback cannot be nil"), def.Name)
	}

	tmpl, err := uritemplate.New(def.URITemplate)
	if err != nil {
		return domainErr("RegisterTemplate", internalerrors.ErrBadRequest, err, def.Name)
	}

	r.mu.Lock()
	if _, exists := r.byName[def.Name]; exists {
		r.mu.Unlock()
		return domainErr("RegisterTemplate", internalerrors.ErrBadRequest, ErrAlreadyRegistered, def.Name)
	}
	entry := &templateEntry{def: def, tmpl: tmpl, callback: cb, completions: completions, enabled: true}
	r.templates = append(r.templates, entry)
	r.byName[def.Name] = entry
	r.mu.Unlock()

	r.fireChange()
	return nil
}

// Enable/Disable/Update/Remove operate on an exact-URI resource.
func (r *ResourceRegistry) Enable(uri string) error  { return r.setResourceEnabled(uri, true) }
func (r *ResourceRegistry) Disable(uri string) error { return r.setResourceEnabled(uri, false) }

func (r *ResourceRegistry) setResourceEnabled(uri string, enabled bool) error {
	r.mu.Lock()
	entry, ok := r.resources[uri]
	if !ok {
		r.mu.Unlock()
		return domainErr("setResourceEnabled", internalerrors.ErrNotFound, ErrNotFound, uri)
	}
	entry.enabled = enabled
	r.mu.Unlock()

	r.fireChange()
	return nil
}

func (r *ResourceRegistry) Update(uri string, def ResourceDefinition, cb ResourceCallback) error {
	r.mu.Lock()
	entry, ok := r.resources[uri]
	if !ok {
		r.mu.Unlock()
		return domainErr("Update", internalerrors.ErrNotFound, ErrNotFound, uri)
	}
	entry.def = def
	if cb != nil {
		entry.callback = cb
	}
	r.mu.Unlock()

	r.fireChange()
	return nil
}

func (r *ResourceRegistry) Remove(uri string) error {
	r.mu.Lock()
	if _, ok := r.resources[uri]; !ok {
		r.mu.Unlock()
		return domainErr("Remove", internalerrors.ErrNotFound, ErrNotFound, uri)
	}
	delete(r.resources, uri)
	r.mu.Unlock()

	r.fireChange()
	return nil
}

// EnableTemplate/DisableTemplate/RemoveTemplate operate on a registered
// template, by its Name.
func (r *ResourceRegistry) EnableTemplate(name string) error  { return r.setTemplateEnabled(name, true) }
func (r *ResourceRegistry) DisableTemplate(name string) error { return r.setTemplateEnabled(name, false) }

func (r *ResourceRegistry) setTemplateEnabled(name string, enabled bool) error {
	r.mu.Lock()
	entry, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return domainErr("setTemplateEnabled", internalerrors.ErrNotFound, ErrNotFound, name)
	}
	entry.enabled = enabled
	r.mu.Unlock()

	r.fireChange()
	return nil
}

func (r *ResourceRegistry) RemoveTemplate(name string) error {
	r.mu.Lock()
	entry, ok := r.byName[name]
	if !ok {
		r.mu.Unlock()
		return domainErr("RemoveTemplate", internalerrors.ErrNotFound, ErrNotFound, name)
	}
	delete(r.byName, name)
	for i, t := range r.templates {
		if t == entry {
			r.templates = append(r.templates[:i], r.templates[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.fireChange()
	return nil
}

// ListResources returns definitions for every enabled exact-URI resource,
// sorted by URI for deterministic resources/list responses.
func (r *ResourceRegistry) ListResources() []ResourceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ResourceDefinition, 0, len(r.resources))
	for _, entry := range r.resources {
		if entry.enabled {
			defs = append(defs, entry.def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].URI < defs[j].URI })
	return defs
}

// ListTemplates returns definitions for every enabled template, in
// registration order.
func (r *ResourceRegistry) ListTemplates() []ResourceTemplateDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ResourceTemplateDefinition, 0, len(r.templates))
	for _, entry := range r.templates {
		if entry.enabled {
			defs = append(defs, entry.def)
		}
	}
	return defs
}

// Read resolves uri against the exact-URI table first, then each enabled
// template in registration order.
func (r *ResourceRegistry) Read(ctx context.Context, uri string, extra protocol.RequestHandlerExtra) (*ResourceReadResult, error) {
	r.mu.RLock()
	if entry, ok := r.resources[uri]; ok {
		r.mu.RUnlock()
		if !entry.enabled {
			return nil, invalidParams(fmt.Sprintf("resource disabled: %s", uri))
		}
		return entry.callback(ctx, uri, nil, extra)
	}

	var match *templateEntry
	var vars map[string]string
	for _, entry := range r.templates {
		if !entry.enabled {
			continue
		}
		if v, ok := entry.tmpl.Match(uri); ok {
			match = entry
			vars = v
			break
		}
	}
	r.mu.RUnlock()

	if match == nil {
		return nil, invalidParams(fmt.Sprintf("unknown resource: %s", uri))
	}
	return match.callback(ctx, uri, vars, extra)
}

// templateCompletion returns the Completable callback for argName on the
// template whose raw URI template string equals uriTemplate, for use by
// CompletionService.
func (r *ResourceRegistry) templateCompletion(uriTemplate string, argName string) (CompletionCallback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, entry := range r.templates {
		if entry.tmpl.Raw() == uriTemplate {
			cb, ok := entry.completions[argName]
			return cb, ok
		}
	}
	return nil, false
}

func (r *ResourceRegistry) fireChange() {
	if r.onChange != nil {
		r.onChange()
	}
}
