package models

import (
	"github.com/google/uuid"
)

// ItemType classifies a line item for fee and escrow purposes
type ItemType string

const (
	ItemPhysical ItemType = "PHYSICAL"
	ItemService  ItemType = "SERVICE"
	ItemDigital  ItemType = "DIGITAL"
)

// Order is the read-only view of an order served by the orders service.
// The payment core never mutates it.
type Order struct {
	ID            uuid.UUID       `json:"id"`
	Currency      string          `json:"currency"`
	TotalMinor    int64           `json:"totalMinor"`
	CustomerEmail string          `json:"customerEmail,omitempty"`
	CustomerName  string          `json:"customerName,omitempty"`
	Items         []OrderLineItem `json:"items"`
}

// OrderLineItem is one line of an order with its owning merchant.
type OrderLineItem struct {
	ID             uuid.UUID `json:"id"`
	MerchantID     uuid.UUID `json:"merchantId"`
	Type           ItemType  `json:"type"`
	UnitPriceMinor int64     `json:"unitPriceMinor"`
	Quantity       int64     `json:"quantity"`
}

// TotalMinor returns the line total in minor units.
func (i OrderLineItem) TotalMinor() int64 {
	return i.UnitPriceMinor * i.Quantity
}
