package source

import "fmt"

// Registry resolves a configured connection name to its Adapter.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a Registry from a set of adapters, keyed by
// Adapter.Name().
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get looks up an adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("source: no connection named %q configured", name)
	}
	return a, nil
}
