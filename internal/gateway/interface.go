package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-orchestrator/internal/models"
)

// ErrSignatureVerification is returned when a webhook signature does not
// verify. Webhook processing fails closed on it before anything is persisted.
var ErrSignatureVerification = errors.New("webhook signature verification failed")

// Provider is the capability interface implemented once per external gateway.
// It carries no business logic; the orchestrator and reconciler never see
// gateway-specific request or response shapes beyond these records.
type Provider interface {
	// Name returns the provider identifier used for selection and routing
	Name() models.ProviderName

	// CreateIntent reserves funds with the gateway without transferring them
	CreateIntent(ctx context.Context, req *IntentRequest) (*IntentResult, error)

	// Capture converts a reserved authorization into an actual funds transfer.
	// amountMinor may be less than the authorized amount for partial capture.
	Capture(ctx context.Context, intentID string, amountMinor int64, currency string) (*CaptureResult, error)

	// Refund returns captured funds, fully or partially
	Refund(ctx context.Context, intentID string, amountMinor int64, currency, reason string) (*RefundResult, error)

	// GetStatus fetches the gateway-side status of an intent
	GetStatus(ctx context.Context, intentID string) (string, error)

	// Cancel voids a not-yet-captured intent
	Cancel(ctx context.Context, intentID string) error

	// VerifySignature checks a webhook payload against its signature header
	VerifySignature(payload []byte, signature string) error

	// ParseEvent decodes a verified webhook payload into a typed Event
	ParseEvent(payload []byte) (*Event, error)
}

// IntentRequest carries everything a gateway needs to create a payment intent.
type IntentRequest struct {
	OrderID        string
	AmountMinor    int64
	Currency       string
	CustomerEmail  string
	CustomerName   string
	MerchantIDs    []string
	Description    string
	IdempotencyKey string
	ReturnURL      string
}

// IntentResult is the typed outcome of CreateIntent.
type IntentResult struct {
	IntentID       string
	Status         string
	RequiresAction bool
	ActionURL      string
	// ClientHandle is the client secret or redirect handle the storefront
	// needs to complete the flow, depending on the gateway.
	ClientHandle string
}

// CaptureResult is the typed outcome of Capture.
type CaptureResult struct {
	Success     bool
	AmountMinor int64
	Status      string
	ErrorCode   string
}

// RefundResult is the typed outcome of Refund.
type RefundResult struct {
	Success     bool
	RefundID    string
	AmountMinor int64
	Status      string
	ErrorCode   string
}

// EventType is the normalized webhook event type shared across providers.
// Each adapter maps its gateway's native types onto this set; the reconciler
// only ever dispatches on these.
type EventType string

const (
	EventIntentSucceeded EventType = "intent.succeeded"
	EventIntentCaptured  EventType = "intent.captured"
	EventIntentFailed    EventType = "intent.failed"
	EventIntentCancelled EventType = "intent.cancelled"
	EventRefundSucceeded EventType = "refund.succeeded"
	EventRefundFailed    EventType = "refund.failed"
	EventUnknown         EventType = "unknown"
)

// Event is the fully-typed intermediate record an adapter produces from a raw
// webhook payload. The raw payload itself is retained only in the WebhookEvent
// audit row.
type Event struct {
	ID          string
	Type        EventType
	IntentID    string
	RefundID    string
	AmountMinor int64
	Currency    string
	ErrorCode   string
	ErrorDesc   string
	CreatedAt   time.Time
}

// GatewayError wraps a failure reported by a payment gateway.
type GatewayError struct {
	Provider  models.ProviderName
	Code      string
	Message   string
	Retryable bool
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s gateway error %s: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s gateway error: %s", e.Provider, e.Message)
}

// NewGatewayError creates a GatewayError for the given provider.
func NewGatewayError(provider models.ProviderName, code, message string, retryable bool) *GatewayError {
	return &GatewayError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Retryable: retryable,
	}
}
