package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"payment-orchestrator/internal/models"
)

// EventPublisher is the transport the dispatcher drains the outbox into
type EventPublisher interface {
	Publish(ctx context.Context, subject, msgID string, data []byte) error
}

// OutboxStore is the slice of the ledger repository the dispatcher needs
type OutboxStore interface {
	ListUnpublishedOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkOutboxPublished(ctx context.Context, ids []uuid.UUID) error
}

// OutboxDispatcher relays committed outbox rows to NATS. Rows are written in
// the same transaction as the ledger change, so an event is published only if
// its payment state committed, and at least once.
type OutboxDispatcher struct {
	repo      OutboxStore
	publisher EventPublisher
	interval  time.Duration
	batchSize int
	logger    *logrus.Entry
}

func NewOutboxDispatcher(repo OutboxStore, publisher EventPublisher, interval time.Duration, batchSize int, logger *logrus.Logger) *OutboxDispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxDispatcher{
		repo:      repo,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.WithField("component", "outbox_dispatcher"),
	}
}

// Run drains the outbox on a fixed interval until the context is cancelled
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.WithField("interval", d.interval.String()).Info("Outbox dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox dispatcher stopped")
			return
		case <-ticker.C:
			if _, err := d.DrainOnce(ctx); err != nil {
				d.logger.WithError(err).Error("Outbox drain failed")
			}
		}
	}
}

// DrainOnce publishes one batch of unpublished rows and marks the published
// ones. A row that fails to publish stays unpublished and is retried on the
// next tick; consumers must tolerate duplicates.
func (d *OutboxDispatcher) DrainOnce(ctx context.Context) (int, error) {
	rows, err := d.repo.ListUnpublishedOutboxEvents(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	published := make([]uuid.UUID, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		if err := d.publisher.Publish(ctx, row.EventType, row.ID.String(), row.Payload); err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"outbox_id":  row.ID,
				"event_type": row.EventType,
			}).Warn("Failed to publish outbox event")
			break
		}
		published = append(published, row.ID)
	}

	if len(published) == 0 {
		return 0, nil
	}
	if err := d.repo.MarkOutboxPublished(ctx, published); err != nil {
		return len(published), err
	}

	d.logger.WithField("count", len(published)).Debug("Outbox events published")
	return len(published), nil
}
