package server

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	mcperrors "github.com/toolwire/mcp-go/pkg/errors"
	"github.com/toolwire/mcp-go/pkg/protocol"
)

// ToolHandler executes one tool call. The returned value is normalized into
// a CallToolResult; a returned error becomes a tool-level failure (IsError),
// never a wire error.
type ToolHandler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// ResourceHandler produces the contents for one resource read. For templated
// resources params carries the values captured from the URI.
type ResourceHandler func(ctx context.Context, uri string, params map[string]string) (interface{}, error)

// PromptHandler renders one prompt with the given arguments.
type PromptHandler func(ctx context.Context, args map[string]string) (*protocol.GetPromptResult, error)

type toolEntry struct {
	tool    protocol.Tool
	handler ToolHandler
}

// toolRegistry holds registered tools keyed by name. Listing order is sorted
// by name so pagination cursors stay stable across calls.
type toolRegistry struct {
	mu    sync.RWMutex
	tools map[string]toolEntry
}

func newToolRegistry() *toolRegistry {
	return &toolRegistry{tools: make(map[string]toolEntry)}
}

func (r *toolRegistry) register(tool protocol.Tool, handler ToolHandler) {
	r.mu.Lock()
	r.tools[tool.Name] = toolEntry{tool: tool, handler: handler}
	r.mu.Unlock()
}

func (r *toolRegistry) unregister(name string) bool {
	r.mu.Lock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	r.mu.Unlock()
	return ok
}

func (r *toolRegistry) get(name string) (toolEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	return entry, ok
}

func (r *toolRegistry) list() []protocol.Tool {
	r.mu.RLock()
	tools := make([]protocol.Tool, 0, len(r.tools))
	for _, entry := range r.tools {
		tools = append(tools, entry.tool)
	}
	r.mu.RUnlock()

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

type resourceEntry struct {
	resource protocol.Resource
	template *uriTemplate // nil for exact-URI resources
	handler  ResourceHandler
}

// resourceRegistry holds registered resources. Exact URIs are matched first;
// templates are tried in registration order.
type resourceRegistry struct {
	mu      sync.RWMutex
	exact   map[string]resourceEntry
	ordered []resourceEntry // template entries, in registration order
}

func newResourceRegistry() *resourceRegistry {
	return &resourceRegistry{exact: make(map[string]resourceEntry)}
}

func (r *resourceRegistry) register(resource protocol.Resource, handler ResourceHandler) error {
	entry := resourceEntry{resource: resource, handler: handler}

	if resource.URITemplate != "" {
		tmpl, err := parseURITemplate(resource.URITemplate)
		if err != nil {
			return mcperrors.InvalidParams("resources/register", err.Error())
		}
		entry.template = tmpl
		r.mu.Lock()
		r.ordered = append(r.ordered, entry)
		r.mu.Unlock()
		return nil
	}

	r.mu.Lock()
	r.exact[resource.URI] = entry
	r.mu.Unlock()
	return nil
}

// match finds the entry serving a concrete URI. Exact matches win over
// templates.
func (r *resourceRegistry) match(uri string) (resourceEntry, map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, ok := r.exact[uri]; ok {
		return entry, nil, true
	}
	for _, entry := range r.ordered {
		if params, ok := entry.template.match(uri); ok {
			return entry, params, true
		}
	}
	return resourceEntry{}, nil, false
}

func (r *resourceRegistry) list() []protocol.Resource {
	r.mu.RLock()
	resources := make([]protocol.Resource, 0, len(r.exact)+len(r.ordered))
	for _, entry := range r.exact {
		resources = append(resources, entry.resource)
	}
	for _, entry := range r.ordered {
		resources = append(resources, entry.resource)
	}
	r.mu.RUnlock()

	sort.Slice(resources, func(i, j int) bool {
		ki := resources[i].URI + resources[i].URITemplate
		kj := resources[j].URI + resources[j].URITemplate
		return ki < kj
	})
	return resources
}

type promptEntry struct {
	prompt  protocol.Prompt
	handler PromptHandler
}

type promptRegistry struct {
	mu      sync.RWMutex
	prompts map[string]promptEntry
}

func newPromptRegistry() *promptRegistry {
	return &promptRegistry{prompts: make(map[string]promptEntry)}
}

func (r *promptRegistry) register(prompt protocol.Prompt, handler PromptHandler) {
	r.mu.Lock()
	r.prompts[prompt.Name] = promptEntry{prompt: prompt, handler: handler}
	r.mu.Unlock()
}

func (r *promptRegistry) get(name string) (promptEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.prompts[name]
	return entry, ok
}

func (r *promptRegistry) list() []protocol.Prompt {
	r.mu.RLock()
	prompts := make([]protocol.Prompt, 0, len(r.prompts))
	for _, entry := range r.prompts {
		prompts = append(prompts, entry.prompt)
	}
	r.mu.RUnlock()

	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return prompts
}
