package subscribers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"payment-orchestrator/internal/models"
)

// OrderFulfilledEvent is the event the fulfillment state machine emits when
// an order ships and its authorized payment should be captured.
type OrderFulfilledEvent struct {
	EventType string    `json:"event_type"`
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentCapturer is the slice of the orchestrator the subscriber needs
type PaymentCapturer interface {
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	Capture(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
}

// FulfillmentSubscriber captures payments when orders are fulfilled
type FulfillmentSubscriber struct {
	conn     *nats.Conn
	payments PaymentCapturer
	logger   *logrus.Entry
}

// NewFulfillmentSubscriber creates a new fulfillment event subscriber
func NewFulfillmentSubscriber(natsURL string, payments PaymentCapturer, logger *logrus.Logger) (*FulfillmentSubscriber, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	conn, err := nats.Connect(natsURL,
		nats.Name("payment-orchestrator-fulfillment"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &FulfillmentSubscriber{
		conn:     conn,
		payments: payments,
		logger:   logger.WithField("component", "fulfillment_subscriber"),
	}, nil
}

// Start begins listening for order.fulfilled events
func (s *FulfillmentSubscriber) Start() error {
	_, err := s.conn.Subscribe("order.fulfilled", func(msg *nats.Msg) {
		s.handleOrderFulfilled(msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to order.fulfilled: %w", err)
	}

	s.logger.Info("Subscribed to order.fulfilled events for automatic capture")
	return nil
}

// handleOrderFulfilled captures the order's authorized payments. Capture is
// idempotent through the payment state machine, so a redelivered event finds
// no AUTHORIZED payment and does nothing.
func (s *FulfillmentSubscriber) handleOrderFulfilled(msg *nats.Msg) {
	var event OrderFulfilledEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		s.logger.WithError(err).Error("Failed to unmarshal order.fulfilled event")
		return
	}

	orderID, err := uuid.Parse(event.OrderID)
	if err != nil {
		s.logger.WithField("order_id", event.OrderID).Error("Invalid order id in order.fulfilled event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	payments, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderID).Error("Failed to list payments for fulfilled order")
		return
	}

	for i := range payments {
		payment := &payments[i]
		if payment.Status != models.PaymentAuthorized {
			continue
		}

		if _, err := s.payments.Capture(ctx, payment.ID); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"order_id":   orderID,
				"payment_id": payment.ID,
			}).Error("Failed to capture payment for fulfilled order")
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"order_id":   orderID,
			"payment_id": payment.ID,
		}).Info("Captured payment for fulfilled order")
	}
}

// Close closes the subscriber connection
func (s *FulfillmentSubscriber) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
