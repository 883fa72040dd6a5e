package payment

import (
	"fmt"
	"sync"

	"github.com/egovpay/server/internal/module/payment/provider"
)

// ProviderRegistry maps payment methods to their network adapters. It is
// built once at process start and injected into the service.
type ProviderRegistry struct {
	mu       sync.RWMutex
	adapters map[Method]provider.Adapter
}

// NewProviderRegistry creates an empty provider registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		adapters: make(map[Method]provider.Adapter),
	}
}

// Register registers an adapter under its method. The adapter's Name must
// match a known Method constant.
func (r *ProviderRegistry) Register(adapter provider.Adapter) error {
	method, ok := ParseMethod(adapter.Name())
	if !ok {
		return fmt.Errorf("register adapter: unknown method %q", adapter.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[method] = adapter
	return nil
}

// Get returns the adapter for the given method.
func (r *ProviderRegistry) Get(method Method) (provider.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, method)
	}
	return adapter, nil
}

// GetByName returns the adapter whose name matches the webhook route slug.
func (r *ProviderRegistry) GetByName(name string) (provider.Adapter, error) {
	method, ok := ParseMethod(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return r.Get(method)
}

// List returns all registered method names.
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for method := range r.adapters {
		names = append(names, string(method))
	}
	return names
}
