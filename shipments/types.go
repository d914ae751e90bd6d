/*
Package shipments tracks inbound stock and turns delivered shipments into
cost layers.

PURPOSE:
  A shipment is the unit of restocking: a supplier sends a batch of
  variants, each line with its own quantity and per-unit manufacturing
  cost, and the shipment as a whole carries freight, customs duty, and
  other fees. When the shipment is marked received, every line becomes a
  cost layer in the ledger - at its LANDED cost, meaning the per-unit
  manufacturing cost plus this unit's share of the shipment-level fees.

KEY CONCEPTS IN THIS FILE (types.go):
  - Shipment: header with status, dates, and shipment-level fees
  - Item: one variant line (quantity ordered vs. actually received)

LIFECYCLE:
  pending -> in-transit -> delivered (layers created exactly once)
                       \-> delayed (no costing effect)

SEE ALSO:
  - landedcost.go: Fee apportionment across units
  - receiver.go: Marking a shipment received
*/
package shipments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/costing-engine/costing"
)

// =============================================================================
// SHIPMENT STATUS
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusInTransit Status = "in-transit"
	StatusDelivered Status = "delivered"
	StatusDelayed   Status = "delayed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInTransit, StatusDelivered, StatusDelayed:
		return true
	}
	return false
}

// =============================================================================
// SHIPMENT
// =============================================================================

// Shipment is an incoming restocking batch from a supplier.
type Shipment struct {
	ID             string
	Name           string // friendly name, e.g. "Spring 2025 Restock"
	TrackingNumber string
	Supplier       string
	Status         Status

	DateShipped  *time.Time // when it left the supplier
	ExpectedDate time.Time
	DateReceived *time.Time // set when marked delivered

	// Shipment-level fees, apportioned across units at receipt.
	ShippingCost decimal.Decimal
	CustomsDuty  decimal.Decimal
	OtherFees    decimal.Decimal

	Notes string
	Items []Item

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is one variant line within a shipment.
type Item struct {
	ID  string
	SKU costing.SKU

	Quantity         int64 // ordered
	ReceivedQuantity int64 // actual; 0 means "as ordered"

	// UnitCost is the per-unit manufacturing cost for this line,
	// before any fee apportionment.
	UnitCost decimal.Decimal
}

// EffectiveQuantity is the quantity that actually arrived.
func (i Item) EffectiveQuantity() int64 {
	if i.ReceivedQuantity > 0 {
		return i.ReceivedQuantity
	}
	return i.Quantity
}

// ItemCount is the total units across all lines (as received).
func (s *Shipment) ItemCount() int64 {
	var total int64
	for _, item := range s.Items {
		total += item.EffectiveQuantity()
	}
	return total
}

// VariantCount is the number of distinct lines.
func (s *Shipment) VariantCount() int { return len(s.Items) }

// Overhead is the shipment-level cost to spread across units.
func (s *Shipment) Overhead() decimal.Decimal {
	return s.ShippingCost.Add(s.CustomsDuty).Add(s.OtherFees)
}

// ItemsSubtotal is the sum of quantity * unit cost across lines,
// before fees.
func (s *Shipment) ItemsSubtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range s.Items {
		total = total.Add(item.UnitCost.Mul(decimal.NewFromInt(item.EffectiveQuantity())))
	}
	return total
}

// TotalCost is the fully landed shipment cost.
func (s *Shipment) TotalCost() decimal.Decimal {
	return s.ItemsSubtotal().Add(s.Overhead())
}
