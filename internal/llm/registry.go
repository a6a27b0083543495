package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ProviderFactory builds a provider for one (model, apiKey) pair. The key is
// the caller's decrypted BYOK credential; keyless backends ignore it.
type ProviderFactory func(ctx context.Context, model, apiKey string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
	keyless   map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]ProviderFactory),
		keyless:   make(map[string]bool),
	}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// RegisterKeyless marks a provider as not requiring a stored credential
// (local backends such as ollama).
func (r *Registry) RegisterKeyless(name string, f ProviderFactory) {
	r.Register(name, f)
	r.mu.Lock()
	r.keyless[strings.ToLower(strings.TrimSpace(name))] = true
	r.mu.Unlock()
}

func (r *Registry) Keyless(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keyless[strings.ToLower(strings.TrimSpace(name))]
}

func (r *Registry) Get(ctx context.Context, name, model, apiKey string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s", name)
	}
	return f(ctx, model, apiKey)
}
