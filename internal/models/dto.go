package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthorizeRequest is the payload for POST /api/v1/payments/authorize
type AuthorizeRequest struct {
	OrderID        string `json:"orderId" binding:"required,uuid"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	ReturnURL      string `json:"returnUrl,omitempty"`
}

// RefundRequest is the payload for POST /api/v1/payments/:id/refund
type RefundRequest struct {
	AmountMinor int64  `json:"amountMinor" binding:"required,gt=0"`
	Reason      string `json:"reason" binding:"required"`
	LineItemID  string `json:"lineItemId,omitempty"`
	ActorID     string `json:"actorId,omitempty"`
}

// PaymentResponse is the external shape of a payment.
type PaymentResponse struct {
	ID               string        `json:"id"`
	OrderID          string        `json:"orderId"`
	Provider         ProviderName  `json:"provider"`
	ProviderIntentID string        `json:"providerIntentId,omitempty"`
	Status           PaymentStatus `json:"status"`
	AmountMinor      int64         `json:"amountMinor"`
	Currency         string        `json:"currency"`
	AuthorizedMinor  int64         `json:"authorizedMinor"`
	CapturedMinor    int64         `json:"capturedMinor"`
	RefundedMinor    int64         `json:"refundedMinor"`
	PlatformFeeMinor int64         `json:"platformFeeMinor"`
	RequiresAction   bool          `json:"requiresAction"`
	ActionURL        string        `json:"actionUrl,omitempty"`
	ErrorMessage     string        `json:"errorMessage,omitempty"`
	CreatedAt        string        `json:"createdAt"`
}

// NewPaymentResponse maps a Payment row to its external shape.
func NewPaymentResponse(p *Payment) *PaymentResponse {
	return &PaymentResponse{
		ID:               p.ID.String(),
		OrderID:          p.OrderID.String(),
		Provider:         p.Provider,
		ProviderIntentID: p.ProviderIntentID,
		Status:           p.Status,
		AmountMinor:      p.AmountMinor,
		Currency:         p.Currency,
		AuthorizedMinor:  p.AuthorizedMinor,
		CapturedMinor:    p.CapturedMinor,
		RefundedMinor:    p.RefundedMinor,
		PlatformFeeMinor: p.PlatformFee,
		RequiresAction:   p.RequiresAction,
		ActionURL:        p.ActionURL,
		ErrorMessage:     p.ErrorMessage,
		CreatedAt:        p.CreatedAt.Format(time.RFC3339),
	}
}

// RefundResponse is the external shape of a refund.
type RefundResponse struct {
	ID               string       `json:"id"`
	PaymentID        string       `json:"paymentId"`
	AmountMinor      int64        `json:"amountMinor"`
	Currency         string       `json:"currency"`
	Status           RefundStatus `json:"status"`
	Reason           string       `json:"reason,omitempty"`
	ProviderRefundID string       `json:"providerRefundId,omitempty"`
	CreatedAt        string       `json:"createdAt"`
}

// NewRefundResponse maps a Refund row to its external shape.
func NewRefundResponse(r *Refund) *RefundResponse {
	return &RefundResponse{
		ID:               r.ID.String(),
		PaymentID:        r.PaymentID.String(),
		AmountMinor:      r.AmountMinor,
		Currency:         r.Currency,
		Status:           r.Status,
		Reason:           r.Reason,
		ProviderRefundID: r.ProviderRefundID,
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
	}
}

// PaymentEventPayload is the body of outbox events about a payment.
type PaymentEventPayload struct {
	PaymentID   uuid.UUID    `json:"paymentId"`
	OrderID     uuid.UUID    `json:"orderId"`
	AmountMinor int64        `json:"amountMinor"`
	Currency    string       `json:"currency"`
	Provider    ProviderName `json:"provider"`
}

// SplitReleasedPayload is the body of outbox events announcing that a
// merchant split cleared its escrow window.
type SplitReleasedPayload struct {
	SplitID    uuid.UUID `json:"splitId"`
	PaymentID  uuid.UUID `json:"paymentId"`
	MerchantID uuid.UUID `json:"merchantId"`
	NetMinor   int64     `json:"netMinor"`
	ReleasedAt time.Time `json:"releasedAt"`
}

// ErrorResponse is the uniform error body
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
