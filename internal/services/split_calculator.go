package services

import (
	"math"
	"time"

	"github.com/google/uuid"

	"payment-orchestrator/internal/models"
)

// Platform commission rates by item type. A merchant-level override, when
// active, replaces this table entirely for that merchant.
const (
	feeRatePhysical = 0.10
	feeRateService  = 0.12
	feeRateDigital  = 0.15
)

// Processing fee charged per merchant split: a percentage of the split gross
// plus a fixed amount in minor units.
const (
	processingFeeRate  = 0.029
	processingFeeFixed = 30
)

// Escrow hold periods by item type. Physical goods are held longest to cover
// the return window; services clear fastest.
const (
	escrowHoldPhysical = 14 * 24 * time.Hour
	escrowHoldDigital  = 7 * 24 * time.Hour
	escrowHoldService  = 3 * 24 * time.Hour
)

// SplitCalculator computes per-merchant monetary splits for an order.
// It is pure: fee overrides are passed in, and no I/O happens here.
type SplitCalculator struct{}

// NewSplitCalculator creates a split calculator
func NewSplitCalculator() *SplitCalculator {
	return &SplitCalculator{}
}

// merchantGroup collects a merchant's line items in order of appearance
type merchantGroup struct {
	merchantID uuid.UUID
	items      []models.OrderLineItem
}

// Calculate groups line items by merchant and computes each merchant's gross,
// platform fee, processing fee, net, and escrow release date.
//
// Rounding is standard (half away from zero) to the minor unit, applied
// independently per merchant. Gross amounts are integer sums so they always
// total the order amount exactly; the sum of nets may differ from a
// whole-order calculation by at most one minor unit per merchant.
func (c *SplitCalculator) Calculate(items []models.OrderLineItem, overrides map[uuid.UUID]models.MerchantFeeConfig, now time.Time) []models.PaymentSplit {
	groups := groupByMerchant(items)

	splits := make([]models.PaymentSplit, 0, len(groups))
	for _, g := range groups {
		var gross int64
		var platformFeeRaw float64

		override, hasOverride := overrides[g.merchantID]
		for _, item := range g.items {
			itemTotal := item.TotalMinor()
			gross += itemTotal
			if !hasOverride {
				platformFeeRaw += float64(itemTotal) * feeRateForType(item.Type)
			}
		}
		if hasOverride {
			platformFeeRaw = float64(gross) * override.CommissionRate
		}

		platformFee := roundMinor(platformFeeRaw)
		processingFee := roundMinor(float64(gross)*processingFeeRate) + processingFeeFixed

		// Escrow window follows the merchant's first line item's type even
		// when the merchant ships mixed types. Known simplification.
		releaseAt := now.Add(escrowHoldForType(g.items[0].Type))

		splits = append(splits, models.PaymentSplit{
			MerchantID:         g.merchantID,
			Status:             models.SplitPending,
			GrossMinor:         gross,
			PlatformFeeMinor:   platformFee,
			ProcessingFeeMinor: processingFee,
			NetMinor:           gross - platformFee - processingFee,
			EscrowReleaseAt:    releaseAt,
		})
	}

	return splits
}

// SplitRefundShare is the proportional share of one refund attributed to a
// single merchant split.
type SplitRefundShare struct {
	MerchantRefundMinor      int64
	PlatformFeeRefundMinor   int64
	ProcessingFeeRefundMinor int64
}

// RefundShare computes the proportional reduction of a split for a refund of
// refundMinor against a payment that originally totalled paymentTotalMinor.
// The merchant share reduces the split's net; the fee shares are informational.
// Shares are taken from the split's original amounts, not its current net, so
// successive partial refunds do not compound against an already reduced base.
func (c *SplitCalculator) RefundShare(split *models.PaymentSplit, refundMinor, paymentTotalMinor int64) SplitRefundShare {
	if paymentTotalMinor <= 0 {
		return SplitRefundShare{}
	}
	ratio := float64(refundMinor) / float64(paymentTotalMinor)
	originalNet := split.GrossMinor - split.PlatformFeeMinor - split.ProcessingFeeMinor

	return SplitRefundShare{
		MerchantRefundMinor:      roundMinor(float64(originalNet) * ratio),
		PlatformFeeRefundMinor:   roundMinor(float64(split.PlatformFeeMinor) * ratio),
		ProcessingFeeRefundMinor: roundMinor(float64(split.ProcessingFeeMinor) * ratio),
	}
}

func groupByMerchant(items []models.OrderLineItem) []merchantGroup {
	index := make(map[uuid.UUID]int)
	var groups []merchantGroup

	for _, item := range items {
		i, seen := index[item.MerchantID]
		if !seen {
			index[item.MerchantID] = len(groups)
			groups = append(groups, merchantGroup{merchantID: item.MerchantID})
			i = len(groups) - 1
		}
		groups[i].items = append(groups[i].items, item)
	}
	return groups
}

func feeRateForType(t models.ItemType) float64 {
	switch t {
	case models.ItemPhysical:
		return feeRatePhysical
	case models.ItemService:
		return feeRateService
	case models.ItemDigital:
		return feeRateDigital
	default:
		return feeRatePhysical
	}
}

func escrowHoldForType(t models.ItemType) time.Duration {
	switch t {
	case models.ItemPhysical:
		return escrowHoldPhysical
	case models.ItemService:
		return escrowHoldService
	case models.ItemDigital:
		return escrowHoldDigital
	default:
		return escrowHoldPhysical
	}
}

func roundMinor(x float64) int64 {
	return int64(math.Round(x))
}
