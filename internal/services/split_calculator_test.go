package services

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment-orchestrator/internal/models"
)

func item(merchant uuid.UUID, itemType models.ItemType, unitPrice, qty int64) models.OrderLineItem {
	return models.OrderLineItem{
		ID:             uuid.New(),
		MerchantID:     merchant,
		Type:           itemType,
		UnitPriceMinor: unitPrice,
		Quantity:       qty,
	}
}

func TestCalculateSingleMerchantDigital(t *testing.T) {
	calc := NewSplitCalculator()
	merchant := uuid.New()
	now := time.Now()

	splits := calc.Calculate([]models.OrderLineItem{
		item(merchant, models.ItemDigital, 6000, 1),
	}, nil, now)

	require.Len(t, splits, 1)
	s := splits[0]
	assert.Equal(t, int64(6000), s.GrossMinor)
	assert.Equal(t, int64(900), s.PlatformFeeMinor, "15%% of 6000")
	assert.Equal(t, int64(204), s.ProcessingFeeMinor, "2.9%% of 6000 plus fixed 30")
	assert.Equal(t, int64(4896), s.NetMinor)
	assert.Equal(t, models.SplitPending, s.Status)
	assert.WithinDuration(t, now.Add(7*24*time.Hour), s.EscrowReleaseAt, time.Second)
}

func TestCalculateFeeRatesByItemType(t *testing.T) {
	calc := NewSplitCalculator()
	now := time.Now()

	cases := []struct {
		itemType    models.ItemType
		platformFee int64
		hold        time.Duration
	}{
		{models.ItemPhysical, 1000, 14 * 24 * time.Hour},
		{models.ItemService, 1200, 3 * 24 * time.Hour},
		{models.ItemDigital, 1500, 7 * 24 * time.Hour},
	}

	for _, tc := range cases {
		splits := calc.Calculate([]models.OrderLineItem{
			item(uuid.New(), tc.itemType, 10000, 1),
		}, nil, now)
		require.Len(t, splits, 1)
		assert.Equal(t, tc.platformFee, splits[0].PlatformFeeMinor, string(tc.itemType))
		assert.WithinDuration(t, now.Add(tc.hold), splits[0].EscrowReleaseAt, time.Second, string(tc.itemType))
	}
}

func TestCalculateMerchantOverrideReplacesFeeTable(t *testing.T) {
	calc := NewSplitCalculator()
	merchant := uuid.New()

	overrides := map[uuid.UUID]models.MerchantFeeConfig{
		merchant: {MerchantID: merchant, CommissionRate: 0.20, IsActive: true},
	}

	splits := calc.Calculate([]models.OrderLineItem{
		item(merchant, models.ItemPhysical, 3000, 1),
		item(merchant, models.ItemDigital, 3000, 1),
	}, overrides, time.Now())

	require.Len(t, splits, 1)
	assert.Equal(t, int64(6000), splits[0].GrossMinor)
	assert.Equal(t, int64(1200), splits[0].PlatformFeeMinor, "flat 20%% on gross, fee table ignored")
}

func TestCalculateGroupsByMerchantPreservingOrder(t *testing.T) {
	calc := NewSplitCalculator()
	first := uuid.New()
	second := uuid.New()

	splits := calc.Calculate([]models.OrderLineItem{
		item(first, models.ItemPhysical, 1000, 2),
		item(second, models.ItemService, 500, 1),
		item(first, models.ItemDigital, 700, 1),
	}, nil, time.Now())

	require.Len(t, splits, 2)
	assert.Equal(t, first, splits[0].MerchantID)
	assert.Equal(t, int64(2700), splits[0].GrossMinor)
	assert.Equal(t, second, splits[1].MerchantID)
	assert.Equal(t, int64(500), splits[1].GrossMinor)
}

func TestCalculateMixedTypesUseFirstItemEscrow(t *testing.T) {
	calc := NewSplitCalculator()
	merchant := uuid.New()
	now := time.Now()

	splits := calc.Calculate([]models.OrderLineItem{
		item(merchant, models.ItemService, 1000, 1),
		item(merchant, models.ItemPhysical, 1000, 1),
	}, nil, now)

	require.Len(t, splits, 1)
	assert.WithinDuration(t, now.Add(3*24*time.Hour), splits[0].EscrowReleaseAt, time.Second,
		"merchant with mixed items uses the first item's hold period")
}

func TestCalculateSplitSumInvariant(t *testing.T) {
	calc := NewSplitCalculator()
	rng := rand.New(rand.NewSource(42))
	types := []models.ItemType{models.ItemPhysical, models.ItemService, models.ItemDigital}

	for trial := 0; trial < 200; trial++ {
		merchants := make([]uuid.UUID, 1+rng.Intn(5))
		for i := range merchants {
			merchants[i] = uuid.New()
		}

		var items []models.OrderLineItem
		var orderTotal int64
		for i := 0; i < 1+rng.Intn(10); i++ {
			it := item(
				merchants[rng.Intn(len(merchants))],
				types[rng.Intn(len(types))],
				int64(1+rng.Intn(100000)),
				int64(1+rng.Intn(5)),
			)
			items = append(items, it)
			orderTotal += it.TotalMinor()
		}

		splits := calc.Calculate(items, nil, time.Now())

		var grossSum, reassembled int64
		for _, s := range splits {
			grossSum += s.GrossMinor
			reassembled += s.NetMinor + s.PlatformFeeMinor + s.ProcessingFeeMinor
		}
		require.Equal(t, orderTotal, grossSum, "gross amounts must sum to the order total")
		require.Equal(t, orderTotal, reassembled, "net plus fees must reassemble each gross")
	}
}

func TestRefundShareProportionalMath(t *testing.T) {
	calc := NewSplitCalculator()

	split := &models.PaymentSplit{
		GrossMinor:         6000,
		PlatformFeeMinor:   900,
		ProcessingFeeMinor: 204,
		NetMinor:           4896,
	}

	share := calc.RefundShare(split, 2000, 10000)
	assert.Equal(t, int64(979), share.MerchantRefundMinor, "round(4896 x 0.2)")
	assert.Equal(t, int64(180), share.PlatformFeeRefundMinor)
	assert.Equal(t, int64(41), share.ProcessingFeeRefundMinor)
	assert.Equal(t, int64(4896-979), split.NetMinor-share.MerchantRefundMinor)
}

// Shares are computed against the split's original amounts even after earlier
// refunds reduced its net, so a full refund taken in steps exhausts the net
// instead of leaving a residual from a shrinking base.
func TestRefundShareDoesNotCompoundAcrossPartials(t *testing.T) {
	calc := NewSplitCalculator()

	split := &models.PaymentSplit{
		GrossMinor:         3799,
		PlatformFeeMinor:   380,
		ProcessingFeeMinor: 140,
		NetMinor:           3279,
	}

	first := calc.RefundShare(split, 1000, 3799)
	split.NetMinor -= first.MerchantRefundMinor

	second := calc.RefundShare(split, 2799, 3799)
	split.NetMinor -= second.MerchantRefundMinor

	assert.Equal(t, int64(863), first.MerchantRefundMinor)
	assert.Equal(t, int64(2416), second.MerchantRefundMinor, "second share ignores the already reduced net")
	assert.LessOrEqual(t, split.NetMinor, int64(1), "full refund in two steps exhausts the net up to rounding")
}

func TestRefundShareZeroTotal(t *testing.T) {
	calc := NewSplitCalculator()
	share := calc.RefundShare(&models.PaymentSplit{NetMinor: 100}, 50, 0)
	assert.Zero(t, share.MerchantRefundMinor)
}
