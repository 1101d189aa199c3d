package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"payment-orchestrator/internal/models"
	"payment-orchestrator/internal/repository"
)

// EscrowService releases merchant splits whose hold window has elapsed.
// Release only marks the split and announces it on the outbox; moving money
// to the merchant is downstream's job.
type EscrowService struct {
	repo   repository.LedgerRepositoryInterface
	logger *logrus.Entry
}

func NewEscrowService(repo repository.LedgerRepositoryInterface, logger *logrus.Logger) *EscrowService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EscrowService{
		repo:   repo,
		logger: logger.WithField("component", "escrow_release"),
	}
}

// Run releases due splits on a fixed interval until the context is cancelled
func (s *EscrowService) Run(ctx context.Context, interval time.Duration, batchSize int) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.WithField("interval", interval.String()).Info("Escrow release worker started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Escrow release worker stopped")
			return
		case <-ticker.C:
			if _, err := s.ReleaseDue(ctx, batchSize); err != nil {
				s.logger.WithError(err).Error("Escrow release pass failed")
			}
		}
	}
}

// ReleaseDue moves one batch of captured splits past their escrow window to
// RELEASED and writes a payment.split.released outbox event per split, all in
// one transaction. Splits refunded in the meantime no longer match the
// CAPTURED filter and are skipped.
func (s *EscrowService) ReleaseDue(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	released := 0
	err := s.repo.WithTransaction(ctx, func(txRepo repository.LedgerRepositoryInterface) error {
		now := time.Now()
		splits, err := txRepo.ListSplitsDueForRelease(ctx, now, batchSize)
		if err != nil {
			return err
		}

		for i := range splits {
			split := &splits[i]
			split.Status = models.SplitReleased
			split.ReleasedAt = &now
			if err := txRepo.UpdateSplit(ctx, split); err != nil {
				return err
			}

			body, err := json.Marshal(models.SplitReleasedPayload{
				SplitID:    split.ID,
				PaymentID:  split.PaymentID,
				MerchantID: split.MerchantID,
				NetMinor:   split.NetMinor,
				ReleasedAt: now,
			})
			if err != nil {
				return err
			}
			outbox := &models.OutboxEvent{
				AggregateType: "payment_split",
				AggregateID:   split.ID,
				EventType:     models.EventSplitReleased,
				Payload:       datatypes.JSON(body),
			}
			if err := txRepo.CreateOutboxEvent(ctx, outbox); err != nil {
				return err
			}
			released++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if released > 0 {
		s.logger.WithField("count", released).Info("Released merchant splits from escrow")
	}
	return released, nil
}
