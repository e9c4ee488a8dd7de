package tools

import (
	"sort"
	"sync"

	"google.golang.org/adk/tool"

	"finanalyst/pkg/errors"
)

// Registry holds the built tools agents can be granted. Agent and task
// definitions refer to tools by name only.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool.Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool.Tool)}
}

// Register replaces any tool already registered as name.
func (r *Registry) Register(name string, t tool.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = t
}

func (r *Registry) Get(name string) (tool.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve keeps the order of names. An unregistered name fails with
// ErrUnknownTool.
func (r *Registry) Resolve(names []string) ([]tool.Tool, error) {
	out := make([]tool.Tool, 0, len(names))
	for _, name := range names {
		t, ok := r.Get(name)
		if !ok {
			return nil, errors.Wrapf(errors.ErrUnknownTool, "%s", name)
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *Registry) GetMetadata(name string) (Definition, bool) {
	return Lookup(name)
}

func (r *Registry) ListByCategory(category Category) []string {
	var names []string
	for _, name := range r.List() {
		if def, ok := Lookup(name); ok && def.Category == category {
			names = append(names, name)
		}
	}
	return names
}
