package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ProviderName identifies a configured payment provider
type ProviderName string

const (
	ProviderStripe   ProviderName = "STRIPE"
	ProviderRazorpay ProviderName = "RAZORPAY"
)

// PaymentStatus represents the payment lifecycle state
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "PENDING"
	PaymentAuthorized        PaymentStatus = "AUTHORIZED"
	PaymentCaptured          PaymentStatus = "CAPTURED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentFailed            PaymentStatus = "FAILED"
	PaymentCancelled         PaymentStatus = "CANCELLED"
)

// CanTransitionTo reports whether moving to next is a legal transition.
// Transitions are one-directional; terminal states never return to a prior one.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	switch s {
	case PaymentPending:
		return next == PaymentAuthorized || next == PaymentFailed || next == PaymentCancelled
	case PaymentAuthorized:
		return next == PaymentCaptured || next == PaymentFailed || next == PaymentCancelled
	case PaymentCaptured:
		return next == PaymentPartiallyRefunded || next == PaymentRefunded || next == PaymentFailed
	case PaymentPartiallyRefunded:
		return next == PaymentPartiallyRefunded || next == PaymentRefunded
	case PaymentRefunded, PaymentFailed, PaymentCancelled:
		return false
	default:
		return false
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentRefunded, PaymentFailed, PaymentCancelled:
		return true
	default:
		return false
	}
}

// SplitStatus mirrors the owning payment's capture/refund lifecycle
type SplitStatus string

const (
	SplitPending           SplitStatus = "PENDING"
	SplitCaptured          SplitStatus = "CAPTURED"
	SplitReleased          SplitStatus = "RELEASED"
	SplitPartiallyRefunded SplitStatus = "PARTIALLY_REFUNDED"
	SplitRefunded          SplitStatus = "REFUNDED"
)

// RefundStatus represents the refund attempt state
type RefundStatus string

const (
	RefundPending   RefundStatus = "PENDING"
	RefundCompleted RefundStatus = "COMPLETED"
	RefundFailed    RefundStatus = "FAILED"
)

// Payment is the order-level money movement record. It is created by
// authorize, mutated only by capture/refund/webhook reconciliation, and never
// deleted. All monetary fields are minor currency units.
//
// Invariant: refunded <= captured <= authorized <= amount.
type Payment struct {
	ID               uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OrderID          uuid.UUID     `gorm:"type:uuid;not null;index:idx_payments_order" json:"orderId"`
	Provider         ProviderName  `gorm:"type:varchar(50);not null" json:"provider"`
	ProviderIntentID string        `gorm:"type:varchar(255);index:idx_payments_provider_intent" json:"providerIntentId,omitempty"`
	Status           PaymentStatus `gorm:"type:varchar(50);not null;index:idx_payments_status" json:"status"`

	AmountMinor     int64  `gorm:"not null" json:"amountMinor"`
	Currency        string `gorm:"type:varchar(3);not null" json:"currency"`
	AuthorizedMinor int64  `gorm:"default:0" json:"authorizedMinor"`
	CapturedMinor   int64  `gorm:"default:0" json:"capturedMinor"`
	RefundedMinor   int64  `gorm:"default:0" json:"refundedMinor"`
	PlatformFee     int64  `gorm:"default:0" json:"platformFeeMinor"`

	IdempotencyKey string `gorm:"type:varchar(255);not null;uniqueIndex:idx_payments_idempotency" json:"idempotencyKey"`

	RequiresAction bool   `gorm:"default:false" json:"requiresAction"`
	ActionURL      string `gorm:"type:varchar(500)" json:"actionUrl,omitempty"`
	ErrorMessage   string `gorm:"type:text" json:"errorMessage,omitempty"`

	AuthorizedAt *time.Time `json:"authorizedAt,omitempty"`
	CapturedAt   *time.Time `json:"capturedAt,omitempty"`
	RefundedAt   *time.Time `json:"refundedAt,omitempty"`
	FailedAt     *time.Time `json:"failedAt,omitempty"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`

	Splits  []PaymentSplit `gorm:"foreignKey:PaymentID" json:"splits,omitempty"`
	Refunds []Refund       `gorm:"foreignKey:PaymentID" json:"refunds,omitempty"`
}

func (Payment) TableName() string {
	return "payments"
}

// RemainingRefundable returns the amount still available for refund.
func (p *Payment) RemainingRefundable() int64 {
	return p.CapturedMinor - p.RefundedMinor
}

// PaymentSplit is one merchant's share of a payment.
//
// Invariants: sum of split gross amounts equals the payment amount, and
// net + platform fee + processing fee equals gross per split.
type PaymentSplit struct {
	ID         uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PaymentID  uuid.UUID   `gorm:"type:uuid;not null;index:idx_splits_payment" json:"paymentId"`
	MerchantID uuid.UUID   `gorm:"type:uuid;not null;index:idx_splits_merchant" json:"merchantId"`
	Status     SplitStatus `gorm:"type:varchar(50);not null" json:"status"`

	GrossMinor         int64 `gorm:"not null" json:"grossMinor"`
	PlatformFeeMinor   int64 `gorm:"not null" json:"platformFeeMinor"`
	ProcessingFeeMinor int64 `gorm:"not null" json:"processingFeeMinor"`
	NetMinor           int64 `gorm:"not null" json:"netMinor"`

	EscrowReleaseAt time.Time  `gorm:"not null" json:"escrowReleaseAt"`
	ReleasedAt      *time.Time `json:"releasedAt,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

func (PaymentSplit) TableName() string {
	return "payment_splits"
}

// Refund is one refund attempt against a captured payment, full or partial,
// order-wide or scoped to a single line item. Append-only.
type Refund struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	PaymentID  uuid.UUID    `gorm:"type:uuid;not null;index:idx_refunds_payment" json:"paymentId"`
	LineItemID *uuid.UUID   `gorm:"type:uuid" json:"lineItemId,omitempty"`
	Status     RefundStatus `gorm:"type:varchar(50);not null;index:idx_refunds_status" json:"status"`

	AmountMinor int64  `gorm:"not null" json:"amountMinor"`
	Currency    string `gorm:"type:varchar(3);not null" json:"currency"`
	Reason      string `gorm:"type:varchar(255)" json:"reason,omitempty"`

	// Proportional fee shares of this refund. Computed for reporting; not
	// currently re-collected from the gateway or the platform.
	PlatformFeeRefundMinor   int64 `gorm:"default:0" json:"platformFeeRefundMinor"`
	ProcessingFeeRefundMinor int64 `gorm:"default:0" json:"processingFeeRefundMinor"`

	ProviderRefundID string     `gorm:"type:varchar(255);index:idx_refunds_provider_ref" json:"providerRefundId,omitempty"`
	ErrorMessage     string     `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedBy        *uuid.UUID `gorm:"type:uuid" json:"createdBy,omitempty"`
	ProcessedAt      *time.Time `json:"processedAt,omitempty"`
	FailedAt         *time.Time `json:"failedAt,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

func (Refund) TableName() string {
	return "refunds"
}

// WebhookEvent is the append-only audit and dedup record for provider
// notifications. The (provider, provider_event_id) pair is unique so
// concurrent duplicate deliveries race on the insert, not on a read check.
type WebhookEvent struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Provider        ProviderName   `gorm:"type:varchar(50);not null;uniqueIndex:idx_webhook_events_provider_event" json:"provider"`
	ProviderEventID string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_webhook_events_provider_event" json:"providerEventId"`
	EventType       string         `gorm:"type:varchar(100);not null;index:idx_webhook_events_type" json:"eventType"`
	Payload         datatypes.JSON `gorm:"not null" json:"payload"`

	Processed       bool       `gorm:"default:false;index:idx_webhook_events_processed" json:"processed"`
	ProcessedAt     *time.Time `json:"processedAt,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processingError,omitempty"`
	RetryCount      int        `gorm:"default:0" json:"retryCount"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_webhook_events_created" json:"createdAt"`
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// OutboxEvent is a domain event row written in the same transaction as the
// ledger mutation that produced it. A dispatcher drains unpublished rows
// at-least-once; the core only guarantees the enqueue.
type OutboxEvent struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	AggregateID   uuid.UUID      `gorm:"type:uuid;not null;index:idx_outbox_aggregate" json:"aggregateId"`
	AggregateType string         `gorm:"type:varchar(50);not null" json:"aggregateType"`
	EventType     string         `gorm:"type:varchar(100);not null" json:"eventType"`
	Payload       datatypes.JSON `gorm:"not null" json:"payload"`

	Published   bool       `gorm:"default:false;index:idx_outbox_published" json:"published"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_outbox_created" json:"createdAt"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// Domain event types written to the outbox.
const (
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentCaptured   = "payment.captured"
	EventPaymentRefunded   = "payment.refunded"
	EventSplitReleased     = "payment.split.released"
)

// MerchantFeeConfig holds a per-merchant commission override. When present
// and active, it replaces the item-type fee table for that merchant.
type MerchantFeeConfig struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	MerchantID     uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_merchant_fee_merchant" json:"merchantId"`
	CommissionRate float64   `gorm:"type:decimal(6,5);not null" json:"commissionRate"`
	IsActive       bool      `gorm:"default:true" json:"isActive"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

func (MerchantFeeConfig) TableName() string {
	return "merchant_fee_configs"
}
