package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStripeEventType(t *testing.T) {
	cases := map[string]EventType{
		"payment_intent.amount_capturable_updated": EventIntentSucceeded,
		"payment_intent.succeeded":                 EventIntentCaptured,
		"payment_intent.payment_failed":            EventIntentFailed,
		"payment_intent.canceled":                  EventIntentCancelled,
		"charge.refunded":                          EventRefundSucceeded,
		"customer.created":                         EventUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapStripeEventType(in), in)
	}
}

func TestRazorpayParsePaymentEvent(t *testing.T) {
	p := &RazorpayProvider{}

	payload := []byte(`{
		"event": "payment.captured",
		"created_at": 1724800000,
		"payload": {
			"payment": {
				"entity": {
					"id": "pay_abc123",
					"order_id": "order_xyz",
					"amount": 6000,
					"currency": "INR",
					"status": "captured"
				}
			}
		}
	}`)

	evt, err := p.ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, EventIntentCaptured, evt.Type)
	assert.Equal(t, "payment.captured:pay_abc123", evt.ID)
	assert.Equal(t, "order_xyz", evt.IntentID)
	assert.Equal(t, int64(6000), evt.AmountMinor)
	assert.Equal(t, "INR", evt.Currency)
}

func TestRazorpayParseRefundEvent(t *testing.T) {
	p := &RazorpayProvider{}

	payload := []byte(`{
		"event": "refund.processed",
		"created_at": 1724800000,
		"payload": {
			"refund": {
				"entity": {
					"id": "rfnd_def456",
					"payment_id": "pay_abc123",
					"amount": 1500,
					"currency": "INR"
				}
			}
		}
	}`)

	evt, err := p.ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, EventRefundSucceeded, evt.Type)
	assert.Equal(t, "refund.processed:rfnd_def456", evt.ID)
	assert.Equal(t, "rfnd_def456", evt.RefundID)
	assert.Equal(t, int64(1500), evt.AmountMinor)
}

func TestRazorpayParseEventDeterministicID(t *testing.T) {
	p := &RazorpayProvider{}
	payload := []byte(`{"event":"payment.authorized","payload":{"payment":{"entity":{"id":"pay_1"}}}}`)

	first, err := p.ParseEvent(payload)
	require.NoError(t, err)
	second, err := p.ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "redeliveries must dedupe to the same event ID")
}

func TestRazorpayVerifySignature(t *testing.T) {
	p := &RazorpayProvider{webhookSecret: "whsec_test"}
	payload := []byte(`{"event":"payment.captured"}`)

	mac := hmac.New(sha256.New, []byte("whsec_test"))
	mac.Write(payload)
	valid := hex.EncodeToString(mac.Sum(nil))

	assert.NoError(t, p.VerifySignature(payload, valid))

	err := p.VerifySignature(payload, "bogus")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignatureVerification)
}

func TestRazorpayVerifySignatureFailsClosedWithoutSecret(t *testing.T) {
	p := &RazorpayProvider{}
	err := p.VerifySignature([]byte(`{}`), "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSignatureVerification)
}
