package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	razorpayLib "github.com/razorpay/razorpay-go"

	"payment-orchestrator/internal/models"
)

// RazorpayProvider implements the Provider interface for Razorpay.
// The provider intent reference we persist is the Razorpay order ID;
// the underlying payment entity is resolved from it when needed.
type RazorpayProvider struct {
	client        *razorpayLib.Client
	keyID         string
	keySecret     string
	webhookSecret string
}

// NewRazorpayProvider creates a Razorpay provider instance
func NewRazorpayProvider(keyID, keySecret, webhookSecret string) (*RazorpayProvider, error) {
	if keyID == "" || keySecret == "" {
		return nil, fmt.Errorf("razorpay key ID and secret are required")
	}

	return &RazorpayProvider{
		client:        razorpayLib.NewClient(keyID, keySecret),
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
	}, nil
}

// Name returns the provider identifier
func (p *RazorpayProvider) Name() models.ProviderName {
	return models.ProviderRazorpay
}

// CreateIntent creates a Razorpay order with manual capture so the
// authorization is held until we explicitly capture it.
func (p *RazorpayProvider) CreateIntent(ctx context.Context, req *IntentRequest) (*IntentResult, error) {
	orderData := map[string]interface{}{
		"amount":          req.AmountMinor,
		"currency":        strings.ToUpper(req.Currency),
		"receipt":         req.OrderID,
		"payment_capture": 0,
		"notes": map[string]string{
			"order_id": req.OrderID,
		},
	}

	order, err := p.client.Order.Create(orderData, nil)
	if err != nil {
		return nil, p.wrapError(err)
	}

	orderID, _ := order["id"].(string)
	status, _ := order["status"].(string)

	return &IntentResult{
		IntentID: orderID,
		Status:   status,
		// Razorpay always completes authorization through its checkout modal
		RequiresAction: true,
		ClientHandle:   p.keyID,
	}, nil
}

// Capture captures the authorized payment behind a Razorpay order
func (p *RazorpayProvider) Capture(ctx context.Context, intentID string, amountMinor int64, currency string) (*CaptureResult, error) {
	paymentID, err := p.resolvePayment(intentID, "authorized")
	if err != nil {
		return nil, err
	}

	payment, err := p.client.Payment.Capture(paymentID, int(amountMinor), map[string]interface{}{
		"currency": strings.ToUpper(currency),
	}, nil)
	if err != nil {
		return nil, p.wrapError(err)
	}

	status, _ := payment["status"].(string)
	amount, _ := payment["amount"].(float64)

	return &CaptureResult{
		Success:     status == "captured",
		AmountMinor: int64(amount),
		Status:      status,
	}, nil
}

// Refund refunds the captured payment behind a Razorpay order
func (p *RazorpayProvider) Refund(ctx context.Context, intentID string, amountMinor int64, currency, reason string) (*RefundResult, error) {
	paymentID, err := p.resolvePayment(intentID, "captured")
	if err != nil {
		return nil, err
	}

	refundData := map[string]interface{}{}
	if reason != "" {
		refundData["notes"] = map[string]string{
			"reason": reason,
		}
	}

	refundResp, err := p.client.Payment.Refund(paymentID, int(amountMinor), refundData, nil)
	if err != nil {
		return nil, p.wrapError(err)
	}

	refundID, _ := refundResp["id"].(string)
	status, _ := refundResp["status"].(string)
	amount, _ := refundResp["amount"].(float64)

	return &RefundResult{
		Success:     status == "processed" || status == "pending",
		RefundID:    refundID,
		AmountMinor: int64(amount),
		Status:      status,
	}, nil
}

// GetStatus fetches the Razorpay order status
func (p *RazorpayProvider) GetStatus(ctx context.Context, intentID string) (string, error) {
	order, err := p.client.Order.Fetch(intentID, nil, nil)
	if err != nil {
		return "", p.wrapError(err)
	}
	status, _ := order["status"].(string)
	return status, nil
}

// Cancel is a no-op for Razorpay. Uncaptured authorizations expire and
// auto-refund on their own, so there is nothing to void server-side.
func (p *RazorpayProvider) Cancel(ctx context.Context, intentID string) error {
	return nil
}

// VerifySignature validates the X-Razorpay-Signature header against the payload
func (p *RazorpayProvider) VerifySignature(payload []byte, signature string) error {
	if p.webhookSecret == "" {
		return fmt.Errorf("%w: webhook secret not configured", ErrSignatureVerification)
	}

	expected := p.computeHMAC(payload, p.webhookSecret)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("%w: signature mismatch", ErrSignatureVerification)
	}
	return nil
}

// ParseEvent decodes a verified Razorpay webhook payload into a typed Event.
// Razorpay does not carry an event ID in the body, so a deterministic ID is
// derived from the event type and entity so redeliveries dedupe to one row.
func (p *RazorpayProvider) ParseEvent(payload []byte) (*Event, error) {
	var envelope struct {
		Event     string `json:"event"`
		CreatedAt int64  `json:"created_at"`
		Payload   struct {
			Payment struct {
				Entity struct {
					ID               string `json:"id"`
					OrderID          string `json:"order_id"`
					Amount           int64  `json:"amount"`
					Currency         string `json:"currency"`
					ErrorCode        string `json:"error_code"`
					ErrorDescription string `json:"error_description"`
				} `json:"entity"`
			} `json:"payment"`
			Refund struct {
				Entity struct {
					ID        string `json:"id"`
					PaymentID string `json:"payment_id"`
					Amount    int64  `json:"amount"`
					Currency  string `json:"currency"`
				} `json:"entity"`
			} `json:"refund"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse razorpay event: %w", err)
	}

	out := &Event{
		Type:      mapRazorpayEventType(envelope.Event),
		CreatedAt: time.Unix(envelope.CreatedAt, 0),
	}

	pay := envelope.Payload.Payment.Entity
	ref := envelope.Payload.Refund.Entity

	switch out.Type {
	case EventRefundSucceeded, EventRefundFailed:
		out.ID = fmt.Sprintf("%s:%s", envelope.Event, ref.ID)
		out.RefundID = ref.ID
		out.AmountMinor = ref.Amount
		out.Currency = strings.ToUpper(ref.Currency)
		out.IntentID = pay.OrderID
	default:
		out.ID = fmt.Sprintf("%s:%s", envelope.Event, pay.ID)
		out.IntentID = pay.OrderID
		out.AmountMinor = pay.Amount
		out.Currency = strings.ToUpper(pay.Currency)
		out.ErrorCode = pay.ErrorCode
		out.ErrorDesc = pay.ErrorDescription
	}

	return out, nil
}

func mapRazorpayEventType(t string) EventType {
	switch t {
	case "payment.authorized":
		return EventIntentSucceeded
	case "payment.captured":
		return EventIntentCaptured
	case "payment.failed":
		return EventIntentFailed
	case "refund.processed":
		return EventRefundSucceeded
	case "refund.failed":
		return EventRefundFailed
	default:
		return EventUnknown
	}
}

// resolvePayment finds the payment entity in the wanted state for an order
func (p *RazorpayProvider) resolvePayment(orderID, wantStatus string) (string, error) {
	payments, err := p.client.Order.Payments(orderID, nil, nil)
	if err != nil {
		return "", p.wrapError(err)
	}

	items, _ := payments["items"].([]interface{})
	for _, item := range items {
		entity, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		status, _ := entity["status"].(string)
		if status == wantStatus {
			id, _ := entity["id"].(string)
			return id, nil
		}
	}

	return "", NewGatewayError(models.ProviderRazorpay, "payment_not_found",
		fmt.Sprintf("no %s payment found for order %s", wantStatus, orderID), false)
}

func (p *RazorpayProvider) computeHMAC(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (p *RazorpayProvider) wrapError(err error) error {
	return NewGatewayError(models.ProviderRazorpay, "razorpay_error", err.Error(), false)
}
