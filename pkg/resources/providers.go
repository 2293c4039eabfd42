package resources

import (
	"sort"
	"sync"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// ProviderSet maps provider names to providers.
type ProviderSet struct {
	mu        sync.RWMutex
	providers map[string]engine.Provider
}

// NewProviderSet creates a set with the given providers.
func NewProviderSet(providers ...engine.Provider) *ProviderSet {
	ps := &ProviderSet{providers: make(map[string]engine.Provider)}
	for _, p := range providers {
		ps.Register(p)
	}
	return ps
}

// Register adds or replaces a provider.
func (ps *ProviderSet) Register(p engine.Provider) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.providers[p.Name()] = p
}

// Get returns the provider with the given name.
func (ps *ProviderSet) Get(name string) (engine.Provider, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	p, ok := ps.providers[name]
	if !ok {
		return nil, engine.NewPermanentError("no provider registered", nil).
			WithCode(engine.ErrCodeNotFound).
			WithDetail("provider", name)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (ps *ProviderSet) Names() []string {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	names := make([]string, 0, len(ps.providers))
	for name := range ps.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
