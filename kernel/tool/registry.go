package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

type registration struct {
	tool Tool
	perm Permission
}

// Registry maps tool names to handlers and permission classes. It is
// safe for concurrent lookup; registration normally happens once at
// session start.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]registration{}}
}

// Register adds t under its name with the given permission class.
// Duplicate names are rejected.
func (r *Registry) Register(t Tool, perm Permission) error {
	if t == nil {
		return fmt.Errorf("tool: register nil tool")
	}
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool: duplicate tool %q", name)
	}
	r.tools[name] = registration{tool: t, perm: perm}
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.tool, ok
}

// Permission returns the permission class for name. Unregistered names
// are denied.
func (r *Registry) Permission(name string) Permission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return PermissionDeny
	}
	return reg.perm
}

// Declarations returns model-visible declarations for all registered
// tools in name order.
func (r *Registry) Declarations() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	decls := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		decls = append(decls, r.tools[name].tool.Declaration())
	}
	return decls
}

// Len reports the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
