// Package tools is the controller-side tool registry behind the reverse
// bridge: when the worker asks for the available tool set or executes a
// tool mid-generation, the answers come from here.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// Handler executes one tool call. Params is the raw JSON argument object.
type Handler func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// Registry holds named tools. It implements the proxy's ToolProvider.
// An empty registry is valid: generations simply run without tools.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]domain.MCPTool
	handlers map[string]Handler
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]domain.MCPTool),
		handlers: make(map[string]Handler),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool domain.MCPTool, handler Handler) error {
	if tool.Name == "" {
		return fmt.Errorf("%w: tool without a name", domain.ErrInvalidOptions)
	}
	if handler == nil {
		return fmt.Errorf("%w: tool %s without a handler", domain.ErrInvalidOptions, tool.Name)
	}
	r.mu.Lock()
	r.tools[tool.Name] = tool
	r.handlers[tool.Name] = handler
	r.mu.Unlock()
	return nil
}

// Unregister removes a tool. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	delete(r.handlers, name)
	r.mu.Unlock()
}

// Tools lists the registered tools sorted by name.
func (r *Registry) Tools(ctx context.Context) ([]domain.MCPTool, error) {
	r.mu.RLock()
	out := make([]domain.MCPTool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Execute runs a registered tool.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	handler := r.handlers[name]
	r.mu.RUnlock()

	if handler == nil {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return handler(ctx, params)
}
