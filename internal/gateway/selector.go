package gateway

import (
	"fmt"
	"strings"

	"payment-orchestrator/internal/models"
)

// Selector picks the provider to route an authorization through based on
// the order currency, falling back to a default for unmapped currencies.
type Selector struct {
	registry        *Registry
	currencyRouting map[string]models.ProviderName
	defaultProvider models.ProviderName
}

// NewSelector creates a selector over the registry and routing table
func NewSelector(registry *Registry, currencyRouting map[string]models.ProviderName, defaultProvider models.ProviderName) *Selector {
	normalized := make(map[string]models.ProviderName, len(currencyRouting))
	for currency, provider := range currencyRouting {
		normalized[strings.ToUpper(currency)] = provider
	}
	return &Selector{
		registry:        registry,
		currencyRouting: normalized,
		defaultProvider: defaultProvider,
	}
}

// Select returns the adapter for a currency. A currency mapped to an
// unconfigured provider is an error rather than a silent fallback, so a
// misconfigured routing table fails loudly.
func (s *Selector) Select(currency string) (Provider, error) {
	currency = strings.ToUpper(currency)

	name, mapped := s.currencyRouting[currency]
	if !mapped {
		name = s.defaultProvider
	}

	if !s.registry.Configured(name) {
		return nil, fmt.Errorf("provider %s selected for currency %s is not configured", name, currency)
	}

	return s.registry.Get(name)
}

// ForProvider returns the adapter for a specific provider regardless of
// routing. Webhook handling and status refresh use this.
func (s *Selector) ForProvider(name models.ProviderName) (Provider, error) {
	return s.registry.Get(name)
}
