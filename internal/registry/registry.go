package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolProvider resolves MCP tool definitions for discovery.
type ToolProvider interface {
	Tools(context.Context) ([]mcp.Tool, error)
}

type entry struct {
	tool     mcp.Tool
	mutating bool
}

// Registry records the tools a server exposes and whether each one changes
// loaded datasets.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// New constructs an empty Registry ready for tool population.
func New() *Registry {
	return &Registry{tools: map[string]entry{}}
}

// Register stores a read-only tool definition.
func (r *Registry) Register(tool mcp.Tool) {
	r.put(tool, false)
}

// RegisterMutating stores a tool that alters or drops a loaded dataset.
func (r *Registry) RegisterMutating(tool mcp.Tool) {
	r.put(tool, true)
}

func (r *Registry) put(tool mcp.Tool, mutating bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = entry{tool: tool, mutating: mutating}
}

// Get returns a tool by name when present.
func (r *Registry) Get(name string) (mcp.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.tool, ok
}

// Mutating reports whether name was registered with RegisterMutating.
func (r *Registry) Mutating(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name].mutating
}

// Tools returns registered tool definitions sorted by name.
func (r *Registry) Tools(_ context.Context) ([]mcp.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]mcp.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		tools = append(tools, e.tool)
	}
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})
	return tools, nil
}
