package providers

import "fmt"

// Registry holds the set of LLM providers configured for this process,
// keyed by provider name ("anthropic", "openai", "dashscope", ...).
type Registry struct {
	providers map[string]Provider
	order     []string // registration order, for List()
}

// NewRegistry returns an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider, keyed by its Name(). Re-registering the same
// name overwrites the previous entry without disturbing List() order.
func (r *Registry) Register(p Provider) {
	name := p.Name()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
}

// Get returns the named provider, or an error if it isn't registered.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", name)
	}
	return p, nil
}

// List returns registered provider names in registration order.
func (r *Registry) List() []string {
	return append([]string{}, r.order...)
}
