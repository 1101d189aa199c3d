package gateway

import (
	"fmt"
	"sync"

	"payment-orchestrator/internal/models"
)

// Credentials holds the secrets needed to construct a provider adapter
type Credentials struct {
	APIKey        string
	APISecret     string
	WebhookSecret string
}

// Registry creates and caches provider adapter instances
type Registry struct {
	mu          sync.RWMutex
	providers   map[models.ProviderName]Provider
	credentials map[models.ProviderName]Credentials
}

// NewRegistry creates a registry over the configured provider credentials
func NewRegistry(credentials map[models.ProviderName]Credentials) *Registry {
	return &Registry{
		providers:   make(map[models.ProviderName]Provider),
		credentials: credentials,
	}
}

// Get returns the adapter for a provider, constructing it on first use
func (r *Registry) Get(name models.ProviderName) (Provider, error) {
	r.mu.RLock()
	if p, exists := r.providers[name]; exists {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	creds, ok := r.credentials[name]
	if !ok {
		return nil, fmt.Errorf("provider %s is not configured", name)
	}

	var p Provider
	var err error

	switch name {
	case models.ProviderStripe:
		p, err = NewStripeProvider(creds.APISecret, creds.WebhookSecret)
	case models.ProviderRazorpay:
		p, err = NewRazorpayProvider(creds.APIKey, creds.APISecret, creds.WebhookSecret)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", name, err)
	}

	r.mu.Lock()
	r.providers[name] = p
	r.mu.Unlock()

	return p, nil
}

// Register installs a pre-built adapter, replacing any cached instance.
// Tests use this to inject fakes.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	r.providers[p.Name()] = p
	r.mu.Unlock()
}

// Configured reports whether credentials exist for a provider
func (r *Registry) Configured(name models.ProviderName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, exists := r.providers[name]; exists {
		return true
	}
	_, ok := r.credentials[name]
	return ok
}

// SupportedProviders returns all provider names the registry can construct
func SupportedProviders() []models.ProviderName {
	return []models.ProviderName{
		models.ProviderStripe,
		models.ProviderRazorpay,
	}
}
