package services

import (
	"errors"
	"fmt"
	"strings"

	"payment-orchestrator/internal/models"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrRefundNotFound  = errors.New("refund not found")

	// ErrWebhookDeferred marks a webhook whose event row is durable but whose
	// ledger transition failed. The endpoint still acks the delivery; the
	// retry loop owns the row from here.
	ErrWebhookDeferred = errors.New("webhook recorded, processing deferred")
)

// InvalidStateError is returned when an operation is attempted against a
// payment whose status does not admit it. Required lists the statuses the
// operation starts from, so callers see what the payment needed to be in.
type InvalidStateError struct {
	PaymentID string
	Current   models.PaymentStatus
	Attempted models.PaymentStatus
	Required  []models.PaymentStatus
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("payment %s cannot move from %s to %s", e.PaymentID, e.Current, e.Attempted)
	if len(e.Required) > 0 {
		names := make([]string, len(e.Required))
		for i, s := range e.Required {
			names[i] = string(s)
		}
		msg += fmt.Sprintf(", requires %s", strings.Join(names, " or "))
	}
	return msg
}

// NewInvalidStateError creates an InvalidStateError
func NewInvalidStateError(paymentID string, current, attempted models.PaymentStatus, required ...models.PaymentStatus) *InvalidStateError {
	return &InvalidStateError{PaymentID: paymentID, Current: current, Attempted: attempted, Required: required}
}

// ValidationError is returned for requests that are well-formed but violate
// a business rule, such as a refund exceeding the refundable balance.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
