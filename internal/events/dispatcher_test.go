package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"payment-orchestrator/internal/models"
)

type mockOutboxStore struct {
	mock.Mock
}

func (m *mockOutboxStore) ListUnpublishedOutboxEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.OutboxEvent), args.Error(1)
}

func (m *mockOutboxStore) MarkOutboxPublished(ctx context.Context, ids []uuid.UUID) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	args := m.Called(ctx, subject, msgID, data)
	return args.Error(0)
}

func outboxRow(eventType string) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		AggregateID:   uuid.New(),
		AggregateType: "payment",
		EventType:     eventType,
		Payload:       datatypes.JSON([]byte(`{"amountMinor":100}`)),
	}
}

func TestDrainOncePublishesAndMarksRows(t *testing.T) {
	store := new(mockOutboxStore)
	pub := new(mockPublisher)
	d := NewOutboxDispatcher(store, pub, 0, 0, nil)

	rows := []models.OutboxEvent{
		outboxRow(models.EventPaymentAuthorized),
		outboxRow(models.EventPaymentCaptured),
	}
	store.On("ListUnpublishedOutboxEvents", mock.Anything, 100).Return(rows, nil)
	pub.On("Publish", mock.Anything, models.EventPaymentAuthorized, rows[0].ID.String(), []byte(rows[0].Payload)).Return(nil)
	pub.On("Publish", mock.Anything, models.EventPaymentCaptured, rows[1].ID.String(), []byte(rows[1].Payload)).Return(nil)
	store.On("MarkOutboxPublished", mock.Anything, []uuid.UUID{rows[0].ID, rows[1].ID}).Return(nil)

	n, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	store.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestDrainOnceStopsAtFirstPublishFailure(t *testing.T) {
	store := new(mockOutboxStore)
	pub := new(mockPublisher)
	d := NewOutboxDispatcher(store, pub, 0, 0, nil)

	rows := []models.OutboxEvent{
		outboxRow(models.EventPaymentAuthorized),
		outboxRow(models.EventPaymentCaptured),
		outboxRow(models.EventPaymentRefunded),
	}
	store.On("ListUnpublishedOutboxEvents", mock.Anything, 100).Return(rows, nil)
	pub.On("Publish", mock.Anything, models.EventPaymentAuthorized, rows[0].ID.String(), mock.Anything).Return(nil)
	pub.On("Publish", mock.Anything, models.EventPaymentCaptured, rows[1].ID.String(), mock.Anything).Return(assert.AnError)
	store.On("MarkOutboxPublished", mock.Anything, []uuid.UUID{rows[0].ID}).Return(nil)

	n, err := d.DrainOnce(context.Background())

	require.NoError(t, err, "a publish failure is retried next tick, not raised")
	assert.Equal(t, 1, n, "only rows published before the failure are marked")
	pub.AssertNotCalled(t, "Publish", mock.Anything, models.EventPaymentRefunded, rows[2].ID.String(), mock.Anything)
}

func TestDrainOnceEmptyOutbox(t *testing.T) {
	store := new(mockOutboxStore)
	pub := new(mockPublisher)
	d := NewOutboxDispatcher(store, pub, 0, 0, nil)

	store.On("ListUnpublishedOutboxEvents", mock.Anything, 100).Return([]models.OutboxEvent{}, nil)

	n, err := d.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	store.AssertNotCalled(t, "MarkOutboxPublished", mock.Anything, mock.Anything)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
