package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
	"github.com/stripe/stripe-go/v76/webhook"

	"payment-orchestrator/internal/models"
)

// StripeProvider implements the Provider interface for Stripe using
// manual-capture PaymentIntents.
type StripeProvider struct {
	secretKey     string
	webhookSecret string
}

// NewStripeProvider creates a Stripe provider instance
func NewStripeProvider(secretKey, webhookSecret string) (*StripeProvider, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	return &StripeProvider{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
	}, nil
}

// Name returns the provider identifier
func (p *StripeProvider) Name() models.ProviderName {
	return models.ProviderStripe
}

// CreateIntent creates a manual-capture PaymentIntent so funds are reserved
// until the fulfillment event triggers capture.
func (p *StripeProvider) CreateIntent(ctx context.Context, req *IntentRequest) (*IntentResult, error) {
	stripe.Key = p.secretKey

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountMinor),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Description:   stripe.String(req.Description),
		Metadata: map[string]string{
			"order_id": req.OrderID,
		},
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	result := &IntentResult{
		IntentID:     pi.ID,
		Status:       string(pi.Status),
		ClientHandle: pi.ClientSecret,
	}
	if pi.Status == stripe.PaymentIntentStatusRequiresAction && pi.NextAction != nil {
		result.RequiresAction = true
		if pi.NextAction.RedirectToURL != nil {
			result.ActionURL = pi.NextAction.RedirectToURL.URL
		}
	}
	if pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod {
		// The storefront completes the flow with the client secret
		result.RequiresAction = true
	}
	return result, nil
}

// Capture captures an authorized PaymentIntent
func (p *StripeProvider) Capture(ctx context.Context, intentID string, amountMinor int64, currency string) (*CaptureResult, error) {
	stripe.Key = p.secretKey

	params := &stripe.PaymentIntentCaptureParams{}
	if amountMinor > 0 {
		params.AmountToCapture = stripe.Int64(amountMinor)
	}

	pi, err := paymentintent.Capture(intentID, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	return &CaptureResult{
		Success:     pi.Status == stripe.PaymentIntentStatusSucceeded,
		AmountMinor: pi.AmountReceived,
		Status:      string(pi.Status),
	}, nil
}

// Refund refunds a captured PaymentIntent, fully or partially
func (p *StripeProvider) Refund(ctx context.Context, intentID string, amountMinor int64, currency, reason string) (*RefundResult, error) {
	stripe.Key = p.secretKey

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amountMinor),
		Metadata: map[string]string{
			"reason": reason,
		},
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	return &RefundResult{
		Success:     r.Status == stripe.RefundStatusSucceeded || r.Status == stripe.RefundStatusPending,
		RefundID:    r.ID,
		AmountMinor: r.Amount,
		Status:      string(r.Status),
	}, nil
}

// GetStatus fetches the PaymentIntent status
func (p *StripeProvider) GetStatus(ctx context.Context, intentID string) (string, error) {
	stripe.Key = p.secretKey

	pi, err := paymentintent.Get(intentID, nil)
	if err != nil {
		return "", p.wrapError(err)
	}
	return string(pi.Status), nil
}

// Cancel voids a not-yet-captured PaymentIntent
func (p *StripeProvider) Cancel(ctx context.Context, intentID string) error {
	stripe.Key = p.secretKey

	if _, err := paymentintent.Cancel(intentID, nil); err != nil {
		return p.wrapError(err)
	}
	return nil
}

// VerifySignature validates the Stripe-Signature header against the payload
func (p *StripeProvider) VerifySignature(payload []byte, signature string) error {
	if err := webhook.ValidatePayload(payload, signature, p.webhookSecret); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	return nil
}

// ParseEvent decodes a verified Stripe webhook payload into a typed Event
func (p *StripeProvider) ParseEvent(payload []byte) (*Event, error) {
	var evt stripe.Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse stripe event: %w", err)
	}

	out := &Event{
		ID:        evt.ID,
		Type:      mapStripeEventType(string(evt.Type)),
		CreatedAt: time.Unix(evt.Created, 0),
	}

	switch out.Type {
	case EventIntentSucceeded, EventIntentCaptured, EventIntentFailed, EventIntentCancelled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to parse payment intent from event: %w", err)
		}
		out.IntentID = pi.ID
		out.AmountMinor = pi.Amount
		out.Currency = strings.ToUpper(string(pi.Currency))
		if pi.LastPaymentError != nil {
			out.ErrorCode = string(pi.LastPaymentError.Code)
			out.ErrorDesc = pi.LastPaymentError.Msg
		}
	case EventRefundSucceeded:
		var charge stripe.Charge
		if err := json.Unmarshal(evt.Data.Raw, &charge); err != nil {
			return nil, fmt.Errorf("failed to parse charge from event: %w", err)
		}
		if charge.PaymentIntent != nil {
			out.IntentID = charge.PaymentIntent.ID
		}
		out.AmountMinor = charge.AmountRefunded
		out.Currency = strings.ToUpper(string(charge.Currency))
		if charge.Refunds != nil && len(charge.Refunds.Data) > 0 {
			latest := charge.Refunds.Data[0]
			out.RefundID = latest.ID
			out.AmountMinor = latest.Amount
		}
	}

	return out, nil
}

func mapStripeEventType(t string) EventType {
	switch t {
	case "payment_intent.amount_capturable_updated":
		return EventIntentSucceeded
	case "payment_intent.succeeded":
		return EventIntentCaptured
	case "payment_intent.payment_failed":
		return EventIntentFailed
	case "payment_intent.canceled":
		return EventIntentCancelled
	case "charge.refunded":
		return EventRefundSucceeded
	default:
		return EventUnknown
	}
}

func (p *StripeProvider) wrapError(err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		retryable := stripeErr.Type == stripe.ErrorTypeAPI
		return NewGatewayError(models.ProviderStripe, string(stripeErr.Code), stripeErr.Msg, retryable)
	}
	return NewGatewayError(models.ProviderStripe, "", err.Error(), true)
}
