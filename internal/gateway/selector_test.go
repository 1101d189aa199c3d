package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/models"
)

type stubProvider struct {
	name models.ProviderName
}

func (s *stubProvider) Name() models.ProviderName { return s.name }
func (s *stubProvider) CreateIntent(ctx context.Context, req *IntentRequest) (*IntentResult, error) {
	return &IntentResult{IntentID: "stub_intent"}, nil
}
func (s *stubProvider) Capture(ctx context.Context, intentID string, amountMinor int64, currency string) (*CaptureResult, error) {
	return &CaptureResult{Success: true}, nil
}
func (s *stubProvider) Refund(ctx context.Context, intentID string, amountMinor int64, currency, reason string) (*RefundResult, error) {
	return &RefundResult{Success: true}, nil
}
func (s *stubProvider) GetStatus(ctx context.Context, intentID string) (string, error) {
	return "requires_capture", nil
}
func (s *stubProvider) Cancel(ctx context.Context, intentID string) error     { return nil }
func (s *stubProvider) VerifySignature(payload []byte, signature string) error { return nil }
func (s *stubProvider) ParseEvent(payload []byte) (*Event, error) {
	return &Event{Type: EventUnknown}, nil
}

func newTestRegistry(names ...models.ProviderName) *Registry {
	r := NewRegistry(nil)
	for _, n := range names {
		r.Register(&stubProvider{name: n})
	}
	return r
}

func TestSelectorRoutesByCurrency(t *testing.T) {
	registry := newTestRegistry(models.ProviderStripe, models.ProviderRazorpay)
	selector := NewSelector(registry, map[string]models.ProviderName{
		"INR": models.ProviderRazorpay,
	}, models.ProviderStripe)

	p, err := selector.Select("INR")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderRazorpay, p.Name())

	p, err = selector.Select("inr")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderRazorpay, p.Name(), "currency matching should be case insensitive")
}

func TestSelectorFallsBackToDefault(t *testing.T) {
	registry := newTestRegistry(models.ProviderStripe, models.ProviderRazorpay)
	selector := NewSelector(registry, map[string]models.ProviderName{
		"INR": models.ProviderRazorpay,
	}, models.ProviderStripe)

	for _, currency := range []string{"USD", "EUR", "GBP"} {
		p, err := selector.Select(currency)
		require.NoError(t, err)
		assert.Equal(t, models.ProviderStripe, p.Name())
	}
}

func TestSelectorRejectsUnconfiguredProvider(t *testing.T) {
	registry := newTestRegistry(models.ProviderStripe)
	selector := NewSelector(registry, map[string]models.ProviderName{
		"INR": models.ProviderRazorpay,
	}, models.ProviderStripe)

	_, err := selector.Select("INR")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestRegistryCachesInstances(t *testing.T) {
	registry := newTestRegistry(models.ProviderStripe)

	first, err := registry.Get(models.ProviderStripe)
	require.NoError(t, err)
	second, err := registry.Get(models.ProviderStripe)
	require.NoError(t, err)
	assert.Same(t, first.(*stubProvider), second.(*stubProvider))
}

func TestRegistryUnknownProvider(t *testing.T) {
	registry := NewRegistry(map[models.ProviderName]Credentials{})
	_, err := registry.Get(models.ProviderStripe)
	require.Error(t, err)
}
