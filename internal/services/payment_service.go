package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"payment-orchestrator/internal/clients"
	"payment-orchestrator/internal/gateway"
	"payment-orchestrator/internal/models"
	"payment-orchestrator/internal/repository"
)

// PaymentService is the payment orchestrator. It composes the split
// calculator, provider selector, and ledger repository to run the
// authorize/capture/refund use-cases.
type PaymentService struct {
	repo       repository.LedgerRepositoryInterface
	orders     clients.OrderReader
	selector   *gateway.Selector
	calculator *SplitCalculator
	logger     *logrus.Entry
}

// NewPaymentService creates the orchestrator
func NewPaymentService(
	repo repository.LedgerRepositoryInterface,
	orders clients.OrderReader,
	selector *gateway.Selector,
	calculator *SplitCalculator,
	logger *logrus.Logger,
) *PaymentService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PaymentService{
		repo:       repo,
		orders:     orders,
		selector:   selector,
		calculator: calculator,
		logger:     logger.WithField("component", "payment_orchestrator"),
	}
}

// Authorize reserves funds for an order. Retries with the same idempotency
// key return the existing payment without touching the provider again.
//
// The PENDING row and its splits commit before the provider call so a
// provider failure leaves an auditable record the caller can retry or cancel.
func (s *PaymentService) Authorize(ctx context.Context, orderID uuid.UUID, idempotencyKey, returnURL string) (*models.Payment, error) {
	if idempotencyKey == "" {
		idempotencyKey = fmt.Sprintf("auth-%s-%d", orderID, time.Now().UnixNano())
	}

	if existing, err := s.repo.GetPaymentByIdempotencyKey(ctx, idempotencyKey); err == nil {
		s.logger.WithFields(logrus.Fields{
			"payment_id":      existing.ID,
			"idempotency_key": idempotencyKey,
		}).Info("Returning existing payment for idempotency key")
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, clients.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if len(order.Items) == 0 {
		return nil, NewValidationError("order", "order has no line items")
	}

	merchantIDs := make([]uuid.UUID, 0, len(order.Items))
	seen := make(map[uuid.UUID]bool)
	for _, item := range order.Items {
		if !seen[item.MerchantID] {
			seen[item.MerchantID] = true
			merchantIDs = append(merchantIDs, item.MerchantID)
		}
	}
	overrides, err := s.repo.GetMerchantFeeConfigs(ctx, merchantIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant fee configs: %w", err)
	}

	splits := s.calculator.Calculate(order.Items, overrides, time.Now())

	var totalPlatformFee, splitGross int64
	for _, sp := range splits {
		totalPlatformFee += sp.PlatformFeeMinor
		splitGross += sp.GrossMinor
	}
	if splitGross != order.TotalMinor {
		return nil, NewValidationError("order",
			fmt.Sprintf("line item totals %d do not match order total %d", splitGross, order.TotalMinor))
	}

	provider, err := s.selector.Select(order.Currency)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		OrderID:        orderID,
		Provider:       provider.Name(),
		Status:         models.PaymentPending,
		AmountMinor:    order.TotalMinor,
		Currency:       order.Currency,
		PlatformFee:    totalPlatformFee,
		IdempotencyKey: idempotencyKey,
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repository.LedgerRepositoryInterface) error {
		if err := txRepo.CreatePayment(ctx, payment); err != nil {
			return err
		}
		for i := range splits {
			splits[i].PaymentID = payment.ID
		}
		return txRepo.CreateSplits(ctx, splits)
	})
	if err != nil {
		// A concurrent authorize with the same key won the insert race;
		// its row is the payment.
		if errors.Is(err, repository.ErrDuplicate) {
			return s.repo.GetPaymentByIdempotencyKey(ctx, idempotencyKey)
		}
		return nil, fmt.Errorf("failed to persist payment: %w", err)
	}

	intent, err := provider.CreateIntent(ctx, &gateway.IntentRequest{
		OrderID:        orderID.String(),
		AmountMinor:    order.TotalMinor,
		Currency:       order.Currency,
		CustomerEmail:  order.CustomerEmail,
		CustomerName:   order.CustomerName,
		MerchantIDs:    merchantIDStrings(merchantIDs),
		Description:    fmt.Sprintf("Order %s", orderID),
		IdempotencyKey: idempotencyKey,
		ReturnURL:      returnURL,
	})
	if err != nil {
		// The PENDING row stays so the attempt is auditable and retryable
		payment.ErrorMessage = err.Error()
		if updateErr := s.repo.UpdatePayment(ctx, payment); updateErr != nil {
			s.logger.WithError(updateErr).WithField("payment_id", payment.ID).
				Error("Failed to record provider error on pending payment")
		}
		return nil, fmt.Errorf("provider intent creation failed: %w", err)
	}

	now := time.Now()
	payment.Status = models.PaymentAuthorized
	payment.ProviderIntentID = intent.IntentID
	payment.AuthorizedMinor = order.TotalMinor
	payment.RequiresAction = intent.RequiresAction
	payment.ActionURL = intent.ActionURL
	payment.AuthorizedAt = &now

	err = s.repo.WithTransaction(ctx, func(txRepo repository.LedgerRepositoryInterface) error {
		if err := txRepo.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		return enqueuePaymentEvent(ctx, txRepo, payment, models.EventPaymentAuthorized)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist authorization: %w", err)
	}

	payment.Splits = splits
	s.logger.WithFields(logrus.Fields{
		"payment_id":   payment.ID,
		"order_id":     orderID,
		"provider":     payment.Provider,
		"amount_minor": payment.AmountMinor,
		"splits":       len(splits),
	}).Info("Payment authorized")

	return payment, nil
}

// Capture converts an authorized payment into an actual funds transfer. The
// payment row is locked for the duration so a concurrent capture or refund
// on the same payment serializes behind it.
func (s *PaymentService) Capture(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var payment *models.Payment
	var providerErr error

	err := s.repo.WithTransaction(ctx, func(txRepo repository.LedgerRepositoryInterface) error {
		var err error
		payment, err = txRepo.GetPaymentByIDForUpdate(ctx, paymentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}

		if payment.Status != models.PaymentAuthorized {
			return NewInvalidStateError(payment.ID.String(), payment.Status, models.PaymentCaptured, models.PaymentAuthorized)
		}

		provider, err := s.selector.ForProvider(payment.Provider)
		if err != nil {
			return err
		}

		result, err := provider.Capture(ctx, payment.ProviderIntentID, payment.AuthorizedMinor, payment.Currency)
		now := time.Now()
		if err != nil || !result.Success {
			if err == nil {
				err = gateway.NewGatewayError(payment.Provider, result.ErrorCode,
					fmt.Sprintf("capture returned status %s", result.Status), false)
			}
			payment.Status = models.PaymentFailed
			payment.ErrorMessage = err.Error()
			payment.FailedAt = &now
			if updateErr := txRepo.UpdatePayment(ctx, payment); updateErr != nil {
				return updateErr
			}
			// Commit the FAILED state, then surface the provider error
			providerErr = err
			return nil
		}

		payment.Status = models.PaymentCaptured
		payment.CapturedMinor = result.AmountMinor
		if payment.CapturedMinor == 0 {
			payment.CapturedMinor = payment.AuthorizedMinor
		}
		payment.CapturedAt = &now

		if err := txRepo.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		if err := txRepo.UpdateSplitStatusForPayment(ctx, payment.ID, models.SplitCaptured); err != nil {
			return err
		}
		return enqueuePaymentEvent(ctx, txRepo, payment, models.EventPaymentCaptured)
	})
	if err != nil {
		return nil, err
	}
	if providerErr != nil {
		s.logger.WithError(providerErr).WithField("payment_id", paymentID).Warn("Capture failed at provider")
		return payment, fmt.Errorf("capture failed: %w", providerErr)
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id":     payment.ID,
		"captured_minor": payment.CapturedMinor,
	}).Info("Payment captured")

	return payment, nil
}

// Refund returns captured funds, fully or partially. The refund attempt row
// is persisted whether the provider call succeeds or not.
func (s *PaymentService) Refund(ctx context.Context, paymentID uuid.UUID, amountMinor int64, reason string, lineItemID, actorID *uuid.UUID) (*models.Refund, error) {
	if amountMinor <= 0 {
		return nil, NewValidationError("amountMinor", "refund amount must be positive")
	}
	if reason == "" {
		return nil, NewValidationError("reason", "refund reason is required")
	}

	var refund *models.Refund
	var providerErr error

	err := s.repo.WithTransaction(ctx, func(txRepo repository.LedgerRepositoryInterface) error {
		payment, err := txRepo.GetPaymentByIDForUpdate(ctx, paymentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}

		if payment.Status != models.PaymentCaptured && payment.Status != models.PaymentPartiallyRefunded {
			return NewInvalidStateError(payment.ID.String(), payment.Status, models.PaymentRefunded, models.PaymentCaptured, models.PaymentPartiallyRefunded)
		}

		remaining := payment.RemainingRefundable()
		if amountMinor > remaining {
			return NewValidationError("amountMinor",
				fmt.Sprintf("refund amount %d exceeds maximum refundable %d", amountMinor, remaining))
		}

		// Fee shares across all splits are informational per refund
		var platformFeeRefund, processingFeeRefund int64
		for i := range payment.Splits {
			share := s.calculator.RefundShare(&payment.Splits[i], amountMinor, payment.AmountMinor)
			platformFeeRefund += share.PlatformFeeRefundMinor
			processingFeeRefund += share.ProcessingFeeRefundMinor
		}

		refund = &models.Refund{
			PaymentID:                payment.ID,
			LineItemID:               lineItemID,
			Status:                   models.RefundPending,
			AmountMinor:              amountMinor,
			Currency:                 payment.Currency,
			Reason:                   reason,
			PlatformFeeRefundMinor:   platformFeeRefund,
			ProcessingFeeRefundMinor: processingFeeRefund,
			CreatedBy:                actorID,
		}
		if err := txRepo.CreateRefund(ctx, refund); err != nil {
			return err
		}

		provider, err := s.selector.ForProvider(payment.Provider)
		if err != nil {
			return err
		}

		result, err := provider.Refund(ctx, payment.ProviderIntentID, amountMinor, payment.Currency, reason)
		now := time.Now()
		if err != nil || !result.Success {
			if err == nil {
				err = gateway.NewGatewayError(payment.Provider, result.ErrorCode,
					fmt.Sprintf("refund returned status %s", result.Status), false)
			}
			refund.Status = models.RefundFailed
			refund.ErrorMessage = err.Error()
			refund.FailedAt = &now
			if updateErr := txRepo.UpdateRefund(ctx, refund); updateErr != nil {
				return updateErr
			}
			// Payment state is untouched; commit the FAILED refund row
			providerErr = err
			return nil
		}

		refund.Status = models.RefundCompleted
		refund.ProviderRefundID = result.RefundID
		refund.ProcessedAt = &now
		if err := txRepo.UpdateRefund(ctx, refund); err != nil {
			return err
		}

		return applyRefundToLedger(ctx, txRepo, s.calculator, payment, amountMinor, now)
	})
	if err != nil {
		return nil, err
	}
	if providerErr != nil {
		s.logger.WithError(providerErr).WithField("payment_id", paymentID).Warn("Refund failed at provider")
		return refund, fmt.Errorf("refund failed: %w", providerErr)
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id":   paymentID,
		"refund_id":    refund.ID,
		"amount_minor": amountMinor,
	}).Info("Refund completed")

	return refund, nil
}

// applyRefundToLedger increments the payment's refunded amount, moves its
// status, and proportionally reduces each split's net. The webhook reconciler
// drives the same transition for gateway-initiated refunds. Caller holds the
// row lock and the transaction.
func applyRefundToLedger(ctx context.Context, txRepo repository.LedgerRepositoryInterface, calculator *SplitCalculator, payment *models.Payment, amountMinor int64, now time.Time) error {
	payment.RefundedMinor += amountMinor
	if payment.RefundedMinor >= payment.CapturedMinor {
		payment.Status = models.PaymentRefunded
	} else {
		payment.Status = models.PaymentPartiallyRefunded
	}
	payment.RefundedAt = &now

	if err := txRepo.UpdatePayment(ctx, payment); err != nil {
		return err
	}

	splitStatus := models.SplitPartiallyRefunded
	if payment.Status == models.PaymentRefunded {
		splitStatus = models.SplitRefunded
	}
	for i := range payment.Splits {
		split := &payment.Splits[i]
		share := calculator.RefundShare(split, amountMinor, payment.AmountMinor)
		split.NetMinor -= share.MerchantRefundMinor
		if split.NetMinor < 0 || splitStatus == models.SplitRefunded {
			// Rounding per partial refund can leave a stray minor unit.
			split.NetMinor = 0
		}
		split.Status = splitStatus
		if err := txRepo.UpdateSplit(ctx, split); err != nil {
			return err
		}
	}

	return enqueuePaymentEvent(ctx, txRepo, payment, models.EventPaymentRefunded)
}

// Cancel voids a payment that has not been captured yet
func (s *PaymentService) Cancel(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	var payment *models.Payment

	err := s.repo.WithTransaction(ctx, func(txRepo repository.LedgerRepositoryInterface) error {
		var err error
		payment, err = txRepo.GetPaymentByIDForUpdate(ctx, paymentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}

		if payment.Status != models.PaymentPending && payment.Status != models.PaymentAuthorized {
			return NewInvalidStateError(payment.ID.String(), payment.Status, models.PaymentCancelled, models.PaymentPending, models.PaymentAuthorized)
		}

		if payment.ProviderIntentID != "" {
			provider, err := s.selector.ForProvider(payment.Provider)
			if err != nil {
				return err
			}
			if err := provider.Cancel(ctx, payment.ProviderIntentID); err != nil {
				return fmt.Errorf("provider cancel failed: %w", err)
			}
		}

		now := time.Now()
		payment.Status = models.PaymentCancelled
		payment.CancelledAt = &now
		return txRepo.UpdatePayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithField("payment_id", paymentID).Info("Payment cancelled")
	return payment, nil
}

// Get retrieves a payment with its splits and refunds
func (s *PaymentService) Get(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.GetPaymentByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// ListByOrder retrieves all payments for an order
func (s *PaymentService) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	return s.repo.ListPaymentsByOrder(ctx, orderID)
}

// ListRefunds retrieves all refund attempts for a payment
func (s *PaymentService) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error) {
	if _, err := s.Get(ctx, paymentID); err != nil {
		return nil, err
	}
	return s.repo.ListRefundsByPayment(ctx, paymentID)
}

// enqueuePaymentEvent writes a domain event into the outbox inside the caller's
// transaction so the event exists if and only if the mutation committed.
func enqueuePaymentEvent(ctx context.Context, txRepo repository.LedgerRepositoryInterface, payment *models.Payment, eventType string) error {
	body, err := json.Marshal(models.PaymentEventPayload{
		PaymentID:   payment.ID,
		OrderID:     payment.OrderID,
		AmountMinor: payment.AmountMinor,
		Currency:    payment.Currency,
		Provider:    payment.Provider,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return txRepo.CreateOutboxEvent(ctx, &models.OutboxEvent{
		AggregateID:   payment.ID,
		AggregateType: "payment",
		EventType:     eventType,
		Payload:       datatypes.JSON(body),
	})
}

func merchantIDStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
