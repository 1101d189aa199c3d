package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"payment-orchestrator/internal/clients"
	"payment-orchestrator/internal/gateway"
	"payment-orchestrator/internal/models"
	"payment-orchestrator/internal/repository"
)

// MockLedgerRepository is a mock implementation of LedgerRepositoryInterface
type MockLedgerRepository struct {
	mock.Mock
}

var _ repository.LedgerRepositoryInterface = (*MockLedgerRepository)(nil)

// WithTransaction executes the callback against the mock itself, simulating
// a transaction without a database.
func (m *MockLedgerRepository) WithTransaction(ctx context.Context, fn func(txRepo repository.LedgerRepositoryInterface) error) error {
	return fn(m)
}

func (m *MockLedgerRepository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	args := m.Called(ctx, payment)
	if args.Error(0) == nil && payment.ID == uuid.Nil {
		payment.ID = uuid.New()
		payment.CreatedAt = time.Now()
	}
	return args.Error(0)
}

func (m *MockLedgerRepository) GetPaymentByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockLedgerRepository) GetPaymentByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockLedgerRepository) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockLedgerRepository) GetPaymentByProviderIntent(ctx context.Context, provider models.ProviderName, intentID string) (*models.Payment, error) {
	args := m.Called(ctx, provider, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *MockLedgerRepository) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *MockLedgerRepository) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).([]models.Payment), args.Error(1)
}

func (m *MockLedgerRepository) CreateSplits(ctx context.Context, splits []models.PaymentSplit) error {
	args := m.Called(ctx, splits)
	return args.Error(0)
}

func (m *MockLedgerRepository) UpdateSplit(ctx context.Context, split *models.PaymentSplit) error {
	args := m.Called(ctx, split)
	return args.Error(0)
}

func (m *MockLedgerRepository) UpdateSplitStatusForPayment(ctx context.Context, paymentID uuid.UUID, status models.SplitStatus) error {
	args := m.Called(ctx, paymentID, status)
	return args.Error(0)
}

func (m *MockLedgerRepository) ListSplitsDueForRelease(ctx context.Context, before time.Time, limit int) ([]models.PaymentSplit, error) {
	args := m.Called(ctx, before, limit)
	return args.Get(0).([]models.PaymentSplit), args.Error(1)
}

func (m *MockLedgerRepository) CreateRefund(ctx context.Context, refund *models.Refund) error {
	args := m.Called(ctx, refund)
	if args.Error(0) == nil && refund.ID == uuid.Nil {
		refund.ID = uuid.New()
		refund.CreatedAt = time.Now()
	}
	return args.Error(0)
}

func (m *MockLedgerRepository) UpdateRefund(ctx context.Context, refund *models.Refund) error {
	args := m.Called(ctx, refund)
	return args.Error(0)
}

func (m *MockLedgerRepository) GetRefundByProviderRefundID(ctx context.Context, providerRefundID string) (*models.Refund, error) {
	args := m.Called(ctx, providerRefundID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Refund), args.Error(1)
}

func (m *MockLedgerRepository) ListRefundsByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error) {
	args := m.Called(ctx, paymentID)
	return args.Get(0).([]models.Refund), args.Error(1)
}

func (m *MockLedgerRepository) CreateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	args := m.Called(ctx, event)
	if args.Error(0) == nil && event.ID == uuid.Nil {
		event.ID = uuid.New()
		event.CreatedAt = time.Now()
	}
	return args.Error(0)
}

func (m *MockLedgerRepository) UpdateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockLedgerRepository) ListUnprocessedWebhookEvents(ctx context.Context, maxRetries, limit int) ([]models.WebhookEvent, error) {
	args := m.Called(ctx, maxRetries, limit)
	return args.Get(0).([]models.WebhookEvent), args.Error(1)
}

func (m *MockLedgerRepository) CreateOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockLedgerRepository) ListUnpublishedOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.OutboxEvent), args.Error(1)
}

func (m *MockLedgerRepository) MarkOutboxPublished(ctx context.Context, ids []uuid.UUID) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockLedgerRepository) GetMerchantFeeConfigs(ctx context.Context, merchantIDs []uuid.UUID) (map[uuid.UUID]models.MerchantFeeConfig, error) {
	args := m.Called(ctx, merchantIDs)
	return args.Get(0).(map[uuid.UUID]models.MerchantFeeConfig), args.Error(1)
}

func (m *MockLedgerRepository) UpsertMerchantFeeConfig(ctx context.Context, config *models.MerchantFeeConfig) error {
	args := m.Called(ctx, config)
	return args.Error(0)
}

// MockProvider is a mock implementation of gateway.Provider
type MockProvider struct {
	mock.Mock
	name models.ProviderName
}

var _ gateway.Provider = (*MockProvider)(nil)

func NewMockProvider(name models.ProviderName) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() models.ProviderName {
	return m.name
}

func (m *MockProvider) CreateIntent(ctx context.Context, req *gateway.IntentRequest) (*gateway.IntentResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.IntentResult), args.Error(1)
}

func (m *MockProvider) Capture(ctx context.Context, intentID string, amountMinor int64, currency string) (*gateway.CaptureResult, error) {
	args := m.Called(ctx, intentID, amountMinor, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.CaptureResult), args.Error(1)
}

func (m *MockProvider) Refund(ctx context.Context, intentID string, amountMinor int64, currency, reason string) (*gateway.RefundResult, error) {
	args := m.Called(ctx, intentID, amountMinor, currency, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.RefundResult), args.Error(1)
}

func (m *MockProvider) GetStatus(ctx context.Context, intentID string) (string, error) {
	args := m.Called(ctx, intentID)
	return args.String(0), args.Error(1)
}

func (m *MockProvider) Cancel(ctx context.Context, intentID string) error {
	args := m.Called(ctx, intentID)
	return args.Error(0)
}

func (m *MockProvider) VerifySignature(payload []byte, signature string) error {
	args := m.Called(payload, signature)
	return args.Error(0)
}

func (m *MockProvider) ParseEvent(payload []byte) (*gateway.Event, error) {
	args := m.Called(payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Event), args.Error(1)
}

// fakeOrderReader serves canned orders without HTTP
type fakeOrderReader struct {
	orders map[uuid.UUID]*models.Order
}

var _ clients.OrderReader = (*fakeOrderReader)(nil)

func newFakeOrderReader(orders ...*models.Order) *fakeOrderReader {
	f := &fakeOrderReader{orders: make(map[uuid.UUID]*models.Order)}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrderReader) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if o, ok := f.orders[orderID]; ok {
		return o, nil
	}
	return nil, clients.ErrOrderNotFound
}

// newTestSelector wires mock providers into a selector the way main does
func newTestSelector(defaultProvider models.ProviderName, routing map[string]models.ProviderName, providers ...gateway.Provider) *gateway.Selector {
	registry := gateway.NewRegistry(nil)
	for _, p := range providers {
		registry.Register(p)
	}
	return gateway.NewSelector(registry, routing, defaultProvider)
}
