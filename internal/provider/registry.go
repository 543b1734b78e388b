package provider

import (
	"github.com/rotisserie/eris"

	"github.com/mediagraph/catalog-cli/internal/config"
)

// Registry maps provider names to their implementations.
type Registry struct {
	providers map[string]Provider
	order     []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with every supported catalog.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{providers: make(map[string]Provider)}

	r.Register(NewIMDb())
	r.Register(NewTMDb(TMDbMovie, cfg.TMDb))
	r.Register(NewTMDb(TMDbTV, cfg.TMDb))
	r.Register(NewTMDb(TMDbPerson, cfg.TMDb))
	r.Register(NewITunes(cfg.ITunes))
	r.Register(NewAppleTV())
	r.Register(NewOpenCritic(cfg.OpenCritic))
	r.Register(NewPlex(cfg.Plex))

	return r
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	if r.providers == nil {
		r.providers = make(map[string]Provider)
	}
	name := p.Name()
	r.providers[name] = p
	r.order = append(r.order, name)
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, eris.Errorf("provider: unknown provider %q", name)
	}
	return p, nil
}

// Select returns the named providers, or all of them when names is empty,
// in registration order.
func (r *Registry) Select(names []string) ([]Provider, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	result := make([]Provider, 0, len(names))
	for _, name := range names {
		p, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

// All returns all providers in registration order.
func (r *Registry) All() []Provider {
	result := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.providers[name])
	}
	return result
}

// Names returns all registered provider names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
