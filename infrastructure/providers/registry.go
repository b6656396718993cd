package providers

import (
	"fmt"
	"sync"

	"github.com/iliarafa/llmarena/internal/domain"
	"github.com/iliarafa/llmarena/internal/ports"
)

// Registry holds the configured backend clients and hands them out by
// provider ID. Backends without an API key are simply absent; asking
// for one yields domain.ErrUnknownProvider so callers can surface a
// per-provider error instead of failing the whole comparison.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.ProviderID]ports.LLMClient
}

var _ ports.ClientRegistry = (*Registry)(nil)

// NewRegistry builds a registry from per-provider configurations.
// Providers with an empty API key are skipped. A provider whose
// factory fails aborts construction; misconfiguration should be loud
// at startup rather than at request time.
func NewRegistry(configs map[domain.ProviderID]ClientConfig) (*Registry, error) {
	r := &Registry{clients: make(map[domain.ProviderID]ports.LLMClient, len(configs))}

	for id, config := range configs {
		if !id.Valid() {
			return nil, fmt.Errorf("configure provider: %w: %s", domain.ErrUnknownProvider, id)
		}
		if config.APIKey == "" {
			continue
		}

		client, err := NewClient(string(id), config)
		if err != nil {
			return nil, fmt.Errorf("configure provider %s: %w", id, err)
		}
		r.clients[id] = client
	}

	return r, nil
}

// Client returns the configured client for the given backend.
func (r *Registry) Client(id domain.ProviderID) (ports.LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, id)
	}
	return client, nil
}

// Register adds or replaces a client for a backend. Used by tests to
// install mock clients.
func (r *Registry) Register(id domain.ProviderID, client ports.LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[id] = client
}

// Configured lists the provider IDs with a usable client, for startup
// logging.
func (r *Registry) Configured() []domain.ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.ProviderID, 0, len(r.clients))
	for _, id := range domain.AllProviders() {
		if _, ok := r.clients[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
