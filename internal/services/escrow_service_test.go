package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/models"
)

func TestReleaseDueMarksSplitsAndAnnounces(t *testing.T) {
	repo := new(MockLedgerRepository)
	svc := NewEscrowService(repo, nil)

	due := []models.PaymentSplit{
		{
			ID:              uuid.New(),
			PaymentID:       uuid.New(),
			MerchantID:      uuid.New(),
			Status:          models.SplitCaptured,
			NetMinor:        4896,
			EscrowReleaseAt: time.Now().Add(-time.Hour),
		},
		{
			ID:              uuid.New(),
			PaymentID:       uuid.New(),
			MerchantID:      uuid.New(),
			Status:          models.SplitCaptured,
			NetMinor:        1200,
			EscrowReleaseAt: time.Now().Add(-time.Minute),
		},
	}

	repo.On("ListSplitsDueForRelease", mock.Anything, mock.Anything, 50).Return(due, nil)
	repo.On("UpdateSplit", mock.Anything, mock.MatchedBy(func(s *models.PaymentSplit) bool {
		return s.Status == models.SplitReleased && s.ReleasedAt != nil
	})).Return(nil).Twice()
	repo.On("CreateOutboxEvent", mock.Anything, mock.MatchedBy(func(e *models.OutboxEvent) bool {
		return e.EventType == models.EventSplitReleased && e.AggregateType == "payment_split"
	})).Return(nil).Twice()

	n, err := svc.ReleaseDue(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	repo.AssertExpectations(t)
}

func TestReleaseDueNothingDue(t *testing.T) {
	repo := new(MockLedgerRepository)
	svc := NewEscrowService(repo, nil)

	repo.On("ListSplitsDueForRelease", mock.Anything, mock.Anything, 100).
		Return([]models.PaymentSplit{}, nil)

	n, err := svc.ReleaseDue(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	repo.AssertNotCalled(t, "UpdateSplit", mock.Anything, mock.Anything)
}

func TestReleaseDueRollsBackOnOutboxFailure(t *testing.T) {
	repo := new(MockLedgerRepository)
	svc := NewEscrowService(repo, nil)

	due := []models.PaymentSplit{{
		ID:              uuid.New(),
		PaymentID:       uuid.New(),
		MerchantID:      uuid.New(),
		Status:          models.SplitCaptured,
		NetMinor:        900,
		EscrowReleaseAt: time.Now().Add(-time.Hour),
	}}

	repo.On("ListSplitsDueForRelease", mock.Anything, mock.Anything, 100).Return(due, nil)
	repo.On("UpdateSplit", mock.Anything, mock.Anything).Return(nil)
	repo.On("CreateOutboxEvent", mock.Anything, mock.Anything).Return(assert.AnError)

	n, err := svc.ReleaseDue(context.Background(), 0)
	require.Error(t, err)
	assert.Zero(t, n)
}
