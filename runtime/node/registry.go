package node

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the node definitions available to the engine, keyed by type.
// Registration happens once at startup; lookups are concurrent-safe.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a definition to the registry. It fails on empty or duplicate
// type keys and on definitions without an Execute function.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Type == "" {
		return fmt.Errorf("node definition requires a type")
	}
	if def.Execute == nil {
		return fmt.Errorf("node definition %q requires an execute function", def.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Type]; ok {
		return fmt.Errorf("node type %q already registered", def.Type)
	}
	r.defs[def.Type] = def
	return nil
}

// MustRegister registers the definition and panics on error. Intended for
// built-in node sets wired at startup.
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Lookup returns the definition for the given type key.
func (r *Registry) Lookup(nodeType string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[nodeType]
	if !ok {
		return nil, fmt.Errorf("unknown node type %q", nodeType)
	}
	return def, nil
}

// Types returns the registered type keys in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
