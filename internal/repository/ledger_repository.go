package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-orchestrator/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate record")
)

// LedgerRepositoryInterface is the persistence surface for the payment
// ledger. Services depend on this so state transitions can be tested with a
// mock and composed into transactions.
type LedgerRepositoryInterface interface {
	WithTransaction(ctx context.Context, fn func(txRepo LedgerRepositoryInterface) error) error

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetPaymentByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error)
	GetPaymentByProviderIntent(ctx context.Context, provider models.ProviderName, intentID string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, payment *models.Payment) error
	ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)

	CreateSplits(ctx context.Context, splits []models.PaymentSplit) error
	UpdateSplit(ctx context.Context, split *models.PaymentSplit) error
	UpdateSplitStatusForPayment(ctx context.Context, paymentID uuid.UUID, status models.SplitStatus) error
	ListSplitsDueForRelease(ctx context.Context, before time.Time, limit int) ([]models.PaymentSplit, error)

	CreateRefund(ctx context.Context, refund *models.Refund) error
	UpdateRefund(ctx context.Context, refund *models.Refund) error
	GetRefundByProviderRefundID(ctx context.Context, providerRefundID string) (*models.Refund, error)
	ListRefundsByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error)

	CreateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
	UpdateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
	ListUnprocessedWebhookEvents(ctx context.Context, maxRetries, limit int) ([]models.WebhookEvent, error)

	CreateOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
	ListUnpublishedOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, ids []uuid.UUID) error

	GetMerchantFeeConfigs(ctx context.Context, merchantIDs []uuid.UUID) (map[uuid.UUID]models.MerchantFeeConfig, error)
	UpsertMerchantFeeConfig(ctx context.Context, config *models.MerchantFeeConfig) error
}

// LedgerRepository is the GORM implementation over Postgres
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new LedgerRepository
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// WithTransaction runs fn against a transaction-scoped repository. The
// transaction commits when fn returns nil and rolls back otherwise.
func (r *LedgerRepository) WithTransaction(ctx context.Context, fn func(txRepo LedgerRepositoryInterface) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&LedgerRepository{db: tx})
	})
}

// --- Payment Methods ---

// CreatePayment inserts a payment row. A concurrent insert with the same
// idempotency key surfaces as ErrDuplicate so callers can refetch the winner.
func (r *LedgerRepository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	err := r.db.WithContext(ctx).Create(payment).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// GetPaymentByID retrieves a payment with its splits and refunds
func (r *LedgerRepository) GetPaymentByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Preload("Splits").
		Preload("Refunds").
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByIDForUpdate retrieves a payment under a row lock. Must be
// called inside WithTransaction; the lock serializes concurrent capture and
// refund attempts against the same payment.
func (r *LedgerRepository) GetPaymentByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// Associations are loaded outside the locking clause; FOR UPDATE with a
	// joined preload is not valid Postgres.
	if err := r.db.WithContext(ctx).Where("payment_id = ?", id).Find(&payment.Splits).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where("payment_id = ?", id).Find(&payment.Refunds).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByIdempotencyKey retrieves a payment by its idempotency key
func (r *LedgerRepository) GetPaymentByIdempotencyKey(ctx context.Context, key string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Preload("Splits").
		Preload("Refunds").
		Where("idempotency_key = ?", key).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// GetPaymentByProviderIntent retrieves a payment by its provider reference
func (r *LedgerRepository) GetPaymentByProviderIntent(ctx context.Context, provider models.ProviderName, intentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_intent_id = ?", provider, intentID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// UpdatePayment persists all payment fields
func (r *LedgerRepository) UpdatePayment(ctx context.Context, payment *models.Payment) error {
	payment.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).
		Omit("Splits", "Refunds").
		Save(payment).Error
}

// ListPaymentsByOrder retrieves all payments for an order, newest first
func (r *LedgerRepository) ListPaymentsByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Preload("Splits").
		Preload("Refunds").
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&payments).Error
	return payments, err
}

// --- Split Methods ---

// CreateSplits inserts the per-merchant split rows for a payment
func (r *LedgerRepository) CreateSplits(ctx context.Context, splits []models.PaymentSplit) error {
	if len(splits) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&splits).Error
}

// UpdateSplit persists one split's amounts and status
func (r *LedgerRepository) UpdateSplit(ctx context.Context, split *models.PaymentSplit) error {
	split.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(split).Error
}

// UpdateSplitStatusForPayment moves every split of a payment to status
func (r *LedgerRepository) UpdateSplitStatusForPayment(ctx context.Context, paymentID uuid.UUID, status models.SplitStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentSplit{}).
		Where("payment_id = ?", paymentID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

// ListSplitsDueForRelease returns captured splits whose escrow window has
// elapsed, oldest first
func (r *LedgerRepository) ListSplitsDueForRelease(ctx context.Context, before time.Time, limit int) ([]models.PaymentSplit, error) {
	var splits []models.PaymentSplit
	err := r.db.WithContext(ctx).
		Where("status = ? AND escrow_release_at <= ?", models.SplitCaptured, before).
		Order("escrow_release_at ASC").
		Limit(limit).
		Find(&splits).Error
	return splits, err
}

// --- Refund Methods ---

// CreateRefund inserts a refund attempt row
func (r *LedgerRepository) CreateRefund(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

// UpdateRefund persists refund status and provider reference fields
func (r *LedgerRepository) UpdateRefund(ctx context.Context, refund *models.Refund) error {
	refund.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Save(refund).Error
}

// GetRefundByProviderRefundID retrieves a refund by the provider's refund ID
func (r *LedgerRepository) GetRefundByProviderRefundID(ctx context.Context, providerRefundID string) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).
		Where("provider_refund_id = ?", providerRefundID).
		First(&refund).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &refund, nil
}

// ListRefundsByPayment retrieves all refund attempts for a payment
func (r *LedgerRepository) ListRefundsByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error) {
	var refunds []models.Refund
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&refunds).Error
	return refunds, err
}

// --- Webhook Event Methods ---

// CreateWebhookEvent inserts the dedup row for a provider notification.
// The unique (provider, provider_event_id) index makes a concurrent duplicate
// delivery fail here with ErrDuplicate instead of double-processing.
func (r *LedgerRepository) CreateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	err := r.db.WithContext(ctx).Create(event).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// UpdateWebhookEvent persists processing outcome fields
func (r *LedgerRepository) UpdateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Save(event).Error
}

// ListUnprocessedWebhookEvents returns events that failed processing and are
// still under the retry budget, oldest first
func (r *LedgerRepository) ListUnprocessedWebhookEvents(ctx context.Context, maxRetries, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed = false AND retry_count < ?", maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// --- Outbox Methods ---

// CreateOutboxEvent enqueues a domain event in the current transaction
func (r *LedgerRepository) CreateOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// ListUnpublishedOutboxEvents returns pending outbox rows in commit order
func (r *LedgerRepository) ListUnpublishedOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("published = false").
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// MarkOutboxPublished flags outbox rows as delivered to the broker
func (r *LedgerRepository) MarkOutboxPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now()
	return r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"published":    true,
			"published_at": now,
		}).Error
}

// --- Merchant Fee Config Methods ---

// GetMerchantFeeConfigs returns the active commission overrides for a set of
// merchants, keyed by merchant ID. Merchants without an override are absent.
func (r *LedgerRepository) GetMerchantFeeConfigs(ctx context.Context, merchantIDs []uuid.UUID) (map[uuid.UUID]models.MerchantFeeConfig, error) {
	result := make(map[uuid.UUID]models.MerchantFeeConfig)
	if len(merchantIDs) == 0 {
		return result, nil
	}

	var configs []models.MerchantFeeConfig
	err := r.db.WithContext(ctx).
		Where("merchant_id IN ? AND is_active = true", merchantIDs).
		Find(&configs).Error
	if err != nil {
		return nil, err
	}

	for _, c := range configs {
		result[c.MerchantID] = c
	}
	return result, nil
}

// UpsertMerchantFeeConfig creates or replaces a merchant's commission override
func (r *LedgerRepository) UpsertMerchantFeeConfig(ctx context.Context, config *models.MerchantFeeConfig) error {
	config.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"commission_rate", "is_active", "updated_at"}),
		}).
		Create(config).Error
}
