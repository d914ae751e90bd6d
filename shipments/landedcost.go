/*
landedcost.go - Apportioning shipment-level fees across units

PURPOSE:
  Freight, customs, and other fees belong to the shipment, but cost layers
  need a per-unit cost. This file spreads the overhead across every unit
  in the shipment and emits the layer specs to create on receipt.

ROUNDING POLICY:
  The per-unit share is truncated to the cent. Whatever fractional-cent
  remainder that leaves is assigned to the LAST unit of the last line -
  as its own one-unit layer - so the layers always sum to exactly the
  shipment total and no sub-cent value is distributed invisibly. Across
  thousands of receipts this keeps valuation drift at exactly zero.

EXAMPLE:
  $1.00 freight over 3 units at $5.00 is not representable per-unit in
  cents: the per-unit share is $0.33 and the final unit carries $0.34,
  so the layers are 2 x $5.33 and 1 x $5.34 ($16.00 exactly).
*/
package shipments

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/costing-engine/costing"
)

// LayerSpec is one cost layer to create when a shipment is received.
type LayerSpec struct {
	SKU      costing.SKU
	Quantity int64
	UnitCost decimal.Decimal

	// ItemID links the layer back to the shipment line it came from.
	ItemID string
}

// Value returns Quantity * UnitCost.
func (s LayerSpec) Value() decimal.Decimal {
	return s.UnitCost.Mul(decimal.NewFromInt(s.Quantity))
}

// LandedLayers computes the layers a shipment produces: each line's unit
// cost plus the per-unit overhead share, with the fractional-cent
// remainder carried by a one-unit layer at the end.
//
// The sum of spec values always equals Shipment.TotalCost exactly.
func LandedLayers(s *Shipment) ([]LayerSpec, error) {
	if s.Overhead().IsNegative() || s.ShippingCost.IsNegative() || s.CustomsDuty.IsNegative() || s.OtherFees.IsNegative() {
		return nil, fmt.Errorf("negative fees on %s: %w", s.TrackingNumber, ErrInvalidShipment)
	}
	for _, item := range s.Items {
		if item.UnitCost.IsNegative() {
			return nil, fmt.Errorf("negative unit cost for %s: %w", item.SKU, ErrInvalidShipment)
		}
		if item.EffectiveQuantity() < 0 {
			return nil, fmt.Errorf("negative quantity for %s: %w", item.SKU, ErrInvalidShipment)
		}
	}

	totalUnits := s.ItemCount()
	if totalUnits == 0 {
		return nil, fmt.Errorf("%s: %w", s.TrackingNumber, ErrNoReceivedUnits)
	}

	// Per-unit overhead share, truncated to the cent.
	perUnit := s.Overhead().Div(decimal.NewFromInt(totalUnits)).Truncate(2)
	remainder := s.Overhead().Sub(perUnit.Mul(decimal.NewFromInt(totalUnits)))

	var specs []LayerSpec
	lastWithUnits := -1
	for i, item := range s.Items {
		if item.EffectiveQuantity() > 0 {
			lastWithUnits = i
		}
	}

	for i, item := range s.Items {
		qty := item.EffectiveQuantity()
		if qty == 0 {
			continue
		}
		landed := item.UnitCost.Add(perUnit)

		if i == lastWithUnits && remainder.IsPositive() {
			// The final unit carries the remainder as its own layer.
			if qty > 1 {
				specs = append(specs, LayerSpec{SKU: item.SKU, Quantity: qty - 1, UnitCost: landed, ItemID: item.ID})
			}
			specs = append(specs, LayerSpec{SKU: item.SKU, Quantity: 1, UnitCost: landed.Add(remainder), ItemID: item.ID})
			continue
		}
		specs = append(specs, LayerSpec{SKU: item.SKU, Quantity: qty, UnitCost: landed, ItemID: item.ID})
	}
	return specs, nil
}
