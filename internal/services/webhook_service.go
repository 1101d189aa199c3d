package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"payment-orchestrator/internal/gateway"
	"payment-orchestrator/internal/models"
	"payment-orchestrator/internal/repository"
)

// WebhookService reconciles asynchronous provider notifications into the
// ledger, driving the same state transitions the orchestrator drives
// synchronously.
type WebhookService struct {
	repo       repository.LedgerRepositoryInterface
	selector   *gateway.Selector
	calculator *SplitCalculator
	handlers   map[gateway.EventType]eventHandler
	logger     *logrus.Entry
}

type eventHandler func(ctx context.Context, txRepo repository.LedgerRepositoryInterface, provider models.ProviderName, evt *gateway.Event) error

// NewWebhookService creates the reconciler with its event dispatch table
func NewWebhookService(
	repo repository.LedgerRepositoryInterface,
	selector *gateway.Selector,
	calculator *SplitCalculator,
	logger *logrus.Logger,
) *WebhookService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &WebhookService{
		repo:       repo,
		selector:   selector,
		calculator: calculator,
		logger:     logger.WithField("component", "webhook_reconciler"),
	}
	s.handlers = map[gateway.EventType]eventHandler{
		gateway.EventIntentSucceeded: s.handleIntentSucceeded,
		gateway.EventIntentCaptured:  s.handleIntentCaptured,
		gateway.EventIntentFailed:    s.handleIntentFailed,
		gateway.EventIntentCancelled: s.handleIntentCancelled,
		gateway.EventRefundSucceeded: s.handleRefundSucceeded,
		gateway.EventRefundFailed:    s.handleRefundFailed,
	}
	return s
}

// ProcessWebhook verifies, deduplicates, and applies one provider
// notification. Delivering the same (provider, event id) twice applies the
// ledger transition exactly once; the duplicate is a successful no-op.
//
// Signature failures are rejected before anything is persisted. Processing
// errors after the event row is durable are recorded on the row and
// re-raised; the row stays unprocessed for the retry loop.
func (s *WebhookService) ProcessWebhook(ctx context.Context, providerName models.ProviderName, payload []byte, signature string) error {
	provider, err := s.selector.ForProvider(providerName)
	if err != nil {
		return fmt.Errorf("unknown webhook provider %s: %w", providerName, err)
	}

	if err := provider.VerifySignature(payload, signature); err != nil {
		s.logger.WithField("provider", providerName).Warn("Rejected webhook with invalid signature")
		return err
	}

	evt, err := provider.ParseEvent(payload)
	if err != nil {
		return fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	if evt.ID == "" {
		return fmt.Errorf("webhook event has no provider event id")
	}

	record := &models.WebhookEvent{
		Provider:        providerName,
		ProviderEventID: evt.ID,
		EventType:       string(evt.Type),
		Payload:         datatypes.JSON(payload),
	}

	if err := s.repo.CreateWebhookEvent(ctx, record); err != nil {
		if !errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("failed to record webhook event: %w", err)
		}
		// Duplicate delivery raced on the unique index. The losing insert must
		// not reapply: the stored row is either already processed, in flight
		// under the winning delivery, or queued for the retry loop.
		s.logger.WithFields(logrus.Fields{
			"provider": providerName,
			"event_id": evt.ID,
		}).Info("Ignoring duplicate webhook delivery")
		return nil
	}

	return s.applyEvent(ctx, record, evt)
}

// applyEvent runs the event's ledger transition and marks the row processed
// in one transaction. Errors are recorded on the row and re-raised.
func (s *WebhookService) applyEvent(ctx context.Context, record *models.WebhookEvent, evt *gateway.Event) error {
	err := s.repo.WithTransaction(ctx, func(txRepo repository.LedgerRepositoryInterface) error {
		if handler, ok := s.handlers[evt.Type]; ok {
			if err := handler(ctx, txRepo, record.Provider, evt); err != nil {
				return err
			}
		} else {
			s.logger.WithFields(logrus.Fields{
				"provider":   record.Provider,
				"event_type": record.EventType,
			}).Info("Ignoring unmapped webhook event type")
		}

		now := time.Now()
		record.Processed = true
		record.ProcessedAt = &now
		record.ProcessingError = ""
		return txRepo.UpdateWebhookEvent(ctx, record)
	})
	if err != nil {
		record.Processed = false
		record.ProcessedAt = nil
		record.ProcessingError = err.Error()
		record.RetryCount++
		if updateErr := s.repo.UpdateWebhookEvent(ctx, record); updateErr != nil {
			s.logger.WithError(updateErr).Error("Failed to record webhook processing error")
		}
		return fmt.Errorf("%w: %v", ErrWebhookDeferred, err)
	}

	s.logger.WithFields(logrus.Fields{
		"provider":   record.Provider,
		"event_id":   record.ProviderEventID,
		"event_type": record.EventType,
	}).Info("Webhook event applied")
	return nil
}

// RetryUnprocessed re-runs stored events that failed processing. A webhook
// response is acked once the event row is durable, so redeliveries cannot be
// relied on; this loop is the retry path.
func (s *WebhookService) RetryUnprocessed(ctx context.Context, maxRetries, limit int) (int, error) {
	events, err := s.repo.ListUnprocessedWebhookEvents(ctx, maxRetries, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list unprocessed webhook events: %w", err)
	}

	applied := 0
	for i := range events {
		record := &events[i]

		provider, err := s.selector.ForProvider(record.Provider)
		if err != nil {
			s.logger.WithError(err).WithField("provider", record.Provider).
				Warn("Skipping stored event for unconfigured provider")
			continue
		}

		evt, err := provider.ParseEvent(record.Payload)
		if err != nil {
			record.ProcessingError = err.Error()
			record.RetryCount++
			if updateErr := s.repo.UpdateWebhookEvent(ctx, record); updateErr != nil {
				s.logger.WithError(updateErr).Error("Failed to record parse error on stored event")
			}
			continue
		}

		if err := s.applyEvent(ctx, record, evt); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"provider": record.Provider,
				"event_id": record.ProviderEventID,
			}).Warn("Stored webhook event failed again")
			continue
		}
		applied++
	}
	return applied, nil
}

// --- Event handlers ---

// handleIntentSucceeded confirms an authorization the provider completed
// asynchronously, typically after a required customer action.
func (s *WebhookService) handleIntentSucceeded(ctx context.Context, txRepo repository.LedgerRepositoryInterface, provider models.ProviderName, evt *gateway.Event) error {
	payment, err := s.lockPaymentByIntent(ctx, txRepo, provider, evt)
	if err != nil || payment == nil {
		return err
	}

	if payment.Status != models.PaymentPending {
		// Authorize already advanced the row synchronously
		return nil
	}

	now := time.Now()
	payment.Status = models.PaymentAuthorized
	payment.AuthorizedMinor = payment.AmountMinor
	payment.RequiresAction = false
	payment.AuthorizedAt = &now

	if err := txRepo.UpdatePayment(ctx, payment); err != nil {
		return err
	}
	return enqueuePaymentEvent(ctx, txRepo, payment, models.EventPaymentAuthorized)
}

// handleIntentCaptured converges the ledger when the gateway reports a
// capture the orchestrator has not recorded, e.g. a capture confirmed after
// a local timeout.
func (s *WebhookService) handleIntentCaptured(ctx context.Context, txRepo repository.LedgerRepositoryInterface, provider models.ProviderName, evt *gateway.Event) error {
	payment, err := s.lockPaymentByIntent(ctx, txRepo, provider, evt)
	if err != nil || payment == nil {
		return err
	}

	if !payment.Status.CanTransitionTo(models.PaymentCaptured) {
		return nil
	}

	now := time.Now()
	payment.Status = models.PaymentCaptured
	payment.CapturedMinor = evt.AmountMinor
	if payment.CapturedMinor == 0 {
		payment.CapturedMinor = payment.AmountMinor
	}
	payment.CapturedAt = &now

	if err := txRepo.UpdatePayment(ctx, payment); err != nil {
		return err
	}
	if err := txRepo.UpdateSplitStatusForPayment(ctx, payment.ID, models.SplitCaptured); err != nil {
		return err
	}
	return enqueuePaymentEvent(ctx, txRepo, payment, models.EventPaymentCaptured)
}

func (s *WebhookService) handleIntentFailed(ctx context.Context, txRepo repository.LedgerRepositoryInterface, provider models.ProviderName, evt *gateway.Event) error {
	payment, err := s.lockPaymentByIntent(ctx, txRepo, provider, evt)
	if err != nil || payment == nil {
		return err
	}

	if !payment.Status.CanTransitionTo(models.PaymentFailed) {
		return nil
	}

	now := time.Now()
	payment.Status = models.PaymentFailed
	payment.FailedAt = &now
	if evt.ErrorDesc != "" {
		payment.ErrorMessage = evt.ErrorDesc
	} else if evt.ErrorCode != "" {
		payment.ErrorMessage = evt.ErrorCode
	} else {
		payment.ErrorMessage = "payment failed at provider"
	}
	return txRepo.UpdatePayment(ctx, payment)
}

func (s *WebhookService) handleIntentCancelled(ctx context.Context, txRepo repository.LedgerRepositoryInterface, provider models.ProviderName, evt *gateway.Event) error {
	payment, err := s.lockPaymentByIntent(ctx, txRepo, provider, evt)
	if err != nil || payment == nil {
		return err
	}

	if !payment.Status.CanTransitionTo(models.PaymentCancelled) {
		return nil
	}

	now := time.Now()
	payment.Status = models.PaymentCancelled
	payment.CancelledAt = &now
	return txRepo.UpdatePayment(ctx, payment)
}

// handleRefundSucceeded completes a pending refund, or records a
// gateway-initiated refund the core never requested.
func (s *WebhookService) handleRefundSucceeded(ctx context.Context, txRepo repository.LedgerRepositoryInterface, provider models.ProviderName, evt *gateway.Event) error {
	now := time.Now()

	if evt.RefundID != "" {
		refund, err := txRepo.GetRefundByProviderRefundID(ctx, evt.RefundID)
		if err == nil {
			if refund.Status == models.RefundCompleted {
				return nil
			}
			// A refund the orchestrator issued but could not confirm
			payment, err := txRepo.GetPaymentByIDForUpdate(ctx, refund.PaymentID)
			if err != nil {
				return err
			}
			refund.Status = models.RefundCompleted
			refund.ProcessedAt = &now
			refund.ErrorMessage = ""
			if err := txRepo.UpdateRefund(ctx, refund); err != nil {
				return err
			}
			return applyRefundToLedger(ctx, txRepo, s.calculator, payment, refund.AmountMinor, now)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
	}

	payment, err := s.lockPaymentByIntent(ctx, txRepo, provider, evt)
	if err != nil || payment == nil {
		return err
	}
	if payment.Status != models.PaymentCaptured && payment.Status != models.PaymentPartiallyRefunded {
		return nil
	}

	amount := evt.AmountMinor
	if remaining := payment.RemainingRefundable(); amount > remaining {
		amount = remaining
	}
	if amount <= 0 {
		return nil
	}

	refund := &models.Refund{
		PaymentID:        payment.ID,
		Status:           models.RefundCompleted,
		AmountMinor:      amount,
		Currency:         payment.Currency,
		Reason:           "gateway initiated refund",
		ProviderRefundID: evt.RefundID,
		ProcessedAt:      &now,
	}
	if err := txRepo.CreateRefund(ctx, refund); err != nil {
		return err
	}
	return applyRefundToLedger(ctx, txRepo, s.calculator, payment, amount, now)
}

func (s *WebhookService) handleRefundFailed(ctx context.Context, txRepo repository.LedgerRepositoryInterface, provider models.ProviderName, evt *gateway.Event) error {
	if evt.RefundID == "" {
		return nil
	}

	refund, err := txRepo.GetRefundByProviderRefundID(ctx, evt.RefundID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if refund.Status == models.RefundFailed {
		return nil
	}

	now := time.Now()
	refund.Status = models.RefundFailed
	refund.FailedAt = &now
	if evt.ErrorDesc != "" {
		refund.ErrorMessage = evt.ErrorDesc
	} else {
		refund.ErrorMessage = "refund failed at provider"
	}
	return txRepo.UpdateRefund(ctx, refund)
}

// lockPaymentByIntent resolves the payment for an event under a row lock.
// Events for intents the ledger does not know are ignored, not errors, so a
// foreign or stale notification cannot wedge the retry loop.
func (s *WebhookService) lockPaymentByIntent(ctx context.Context, txRepo repository.LedgerRepositoryInterface, provider models.ProviderName, evt *gateway.Event) (*models.Payment, error) {
	if evt.IntentID == "" {
		return nil, nil
	}

	// Resolve the ID without a lock first; the lock is taken on the row.
	payment, err := txRepo.GetPaymentByProviderIntent(ctx, provider, evt.IntentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.WithField("intent_id", evt.IntentID).Info("Ignoring event for unknown intent")
			return nil, nil
		}
		return nil, err
	}
	return txRepo.GetPaymentByIDForUpdate(ctx, payment.ID)
}
