package llm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNoCredentials is returned when a provider is registered without the
// credentials its backend needs. Credential presence is checked eagerly at
// registration, not discovered at call time.
var ErrNoCredentials = errors.New("provider has no credentials")

// ErrNoProviders is returned when the registry has nothing usable.
var ErrNoProviders = errors.New("no usable text-generation provider configured")

type entry struct {
	provider Provider
	priority int
	order    int // registration order, tie-break for equal priorities
}

// Registry holds the configured providers ordered by ascending priority
// (lower is preferred).
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	nextOrd int
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a provider at the given priority. It fails when credentials
// are missing so misconfiguration surfaces at startup.
func (r *Registry) Register(p Provider, priority int, hasCredentials bool) error {
	if !hasCredentials {
		return fmt.Errorf("%w: %s", ErrNoCredentials, p.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{provider: p, priority: priority, order: r.nextOrd})
	r.nextOrd++
	sort.SliceStable(r.entries, func(i, j int) bool {
		if r.entries[i].priority != r.entries[j].priority {
			return r.entries[i].priority < r.entries[j].priority
		}
		return r.entries[i].order < r.entries[j].order
	})

	log.Info().Str("provider", p.Name()).Int("priority", priority).Msg("registered AI provider")
	return nil
}

// Active returns the registered providers in priority order.
func (r *Registry) Active() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]Provider, len(r.entries))
	for i, e := range r.entries {
		providers[i] = e.provider
	}
	return providers
}

// Get returns the registered provider with the given name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.provider.Name() == name {
			return e.provider, nil
		}
	}
	return nil, fmt.Errorf("%w: %q not registered", ErrNoProviders, name)
}

// Len reports the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
