// Package tools holds the agent's tool surface: the Tool interface, the
// Registry that executes tools by name, the Slack approval gate, and the
// built-in tools (filesystem, shell, web search, memory notes).
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/ian/internal/providers"
)

// Tool is one capability the model may invoke during the tool-use loop.
type Tool interface {
	// Name is the unique tool identifier, e.g. "filesystem_read".
	Name() string

	// Description is shown to the model in the tool definition.
	Description() string

	// Parameters returns the JSON Schema for the tool's arguments.
	Parameters() map[string]interface{}

	// RequiresApproval reports whether the owner must approve each call
	// before the tool executes.
	RequiresApproval() bool

	// Execute runs the tool. Expected failures come back as an error
	// Result, never a panic.
	Execute(ctx context.Context, args map[string]interface{}) *Result
}

// Registry is the central tool table. Execution never panics the caller:
// unknown names and tool panics both come back as error Results.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %q", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	slog.Debug("tool registered", "tool", name, "approval", t.RequiresApproval())
	return nil
}

// Unregister removes a tool by name. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// RequiresApproval reports whether the named tool needs owner approval.
// Unknown tools do not.
func (r *Registry) RequiresApproval(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return ok && t.RequiresApproval()
}

// ProviderDefs returns the tool definitions for the model API, restricted
// to the allowed set when non-nil. Definitions are sorted by name so the
// request body is stable across calls (prompt caching cares).
func (r *Registry) ProviderDefs(allowed map[string]bool) []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var defs []providers.ToolDefinition
	for name, t := range r.tools {
		if allowed != nil && !allowed[name] {
			continue
		}
		defs = append(defs, providers.ToolDefinition{
			Name:        name,
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs a tool by name. Unknown tools and panics become error
// Results; Execute itself never panics or returns nil.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (result *Result) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult(fmt.Sprintf("Error: unknown tool %q", name))
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool panicked", "tool", name, "panic", rec)
			result = ErrorResult(fmt.Sprintf("Unexpected error in %s: %v", name, rec))
		}
	}()

	result = t.Execute(ctx, args)
	if result == nil {
		result = ErrorResult(fmt.Sprintf("Tool %s returned no result", name))
	}
	if result.IsError {
		slog.Warn("tool failed", "tool", name, "error", result.ForLLM)
	} else {
		slog.Info("tool executed", "tool", name)
	}
	return result
}
