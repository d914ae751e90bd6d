package shipments_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/costing-engine/costing"
	"github.com/warp/costing-engine/shipments"
)

func d(s string) decimal.Decimal {
	return costing.MustDecimal(s)
}

func specsTotal(specs []shipments.LayerSpec) decimal.Decimal {
	total := decimal.Zero
	for _, spec := range specs {
		total = total.Add(spec.Value())
	}
	return total
}

// =============================================================================
// FEE APPORTIONMENT
// =============================================================================

func TestLandedLayers_EvenSplit(t *testing.T) {
	// GIVEN: 10 units at $5.00 with $10.00 total fees
	// WHEN: Computing landed layers
	// THEN: One layer, 10 units at $6.00

	s := &shipments.Shipment{
		TrackingNumber: "TRK-1",
		ShippingCost:   d("10.00"),
		Items: []shipments.Item{
			{ID: "item-1", SKU: "TEE-BLK-M", Quantity: 10, UnitCost: d("5.00")},
		},
	}

	specs, err := shipments.LandedLayers(s)
	if err != nil {
		t.Fatalf("landed layers failed: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("got %d specs, want 1", len(specs))
	}
	if !specs[0].UnitCost.Equal(d("6.00")) {
		t.Errorf("got unit cost %s, want 6.00", specs[0].UnitCost)
	}
	if !specsTotal(specs).Equal(s.TotalCost()) {
		t.Errorf("specs sum to %s, shipment total is %s", specsTotal(specs), s.TotalCost())
	}
}

func TestLandedLayers_RemainderOnFinalUnit(t *testing.T) {
	// GIVEN: 3 units at $5.00 with $1.00 freight ($0.33... per unit)
	// WHEN: Computing landed layers
	// THEN: 2 units at $5.33 plus 1 unit at $5.34; total exactly $16.00

	s := &shipments.Shipment{
		TrackingNumber: "TRK-1",
		ShippingCost:   d("1.00"),
		Items: []shipments.Item{
			{ID: "item-1", SKU: "TEE-BLK-M", Quantity: 3, UnitCost: d("5.00")},
		},
	}

	specs, err := shipments.LandedLayers(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2 (bulk + remainder unit)", len(specs))
	}
	if specs[0].Quantity != 2 || !specs[0].UnitCost.Equal(d("5.33")) {
		t.Errorf("bulk spec: got %d at %s, want 2 at 5.33", specs[0].Quantity, specs[0].UnitCost)
	}
	if specs[1].Quantity != 1 || !specs[1].UnitCost.Equal(d("5.34")) {
		t.Errorf("remainder spec: got %d at %s, want 1 at 5.34", specs[1].Quantity, specs[1].UnitCost)
	}
	if !specsTotal(specs).Equal(d("16.00")) {
		t.Errorf("specs sum to %s, want exactly 16.00", specsTotal(specs))
	}
}

func TestLandedLayers_MultiLineFeesSpreadPerUnit(t *testing.T) {
	// GIVEN: Two lines (2 + 2 units) and $2.00 total fees
	// THEN: Every unit carries $0.50 overhead, no remainder

	s := &shipments.Shipment{
		TrackingNumber: "TRK-1",
		CustomsDuty:    d("2.00"),
		Items: []shipments.Item{
			{ID: "item-1", SKU: "TEE-BLK-M", Quantity: 2, UnitCost: d("5.00")},
			{ID: "item-2", SKU: "TEE-BLK-L", Quantity: 2, UnitCost: d("7.00")},
		},
	}

	specs, err := shipments.LandedLayers(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
	if !specs[0].UnitCost.Equal(d("5.50")) || !specs[1].UnitCost.Equal(d("7.50")) {
		t.Errorf("got costs %s/%s, want 5.50/7.50", specs[0].UnitCost, specs[1].UnitCost)
	}
	if !specsTotal(specs).Equal(s.TotalCost()) {
		t.Errorf("specs sum to %s, shipment total is %s", specsTotal(specs), s.TotalCost())
	}
}

func TestLandedLayers_ReceivedQuantityWins(t *testing.T) {
	// Short-shipped line: 10 ordered, 7 arrived. Fees spread over the 7.

	s := &shipments.Shipment{
		TrackingNumber: "TRK-1",
		ShippingCost:   d("7.00"),
		Items: []shipments.Item{
			{ID: "item-1", SKU: "TEE-BLK-M", Quantity: 10, ReceivedQuantity: 7, UnitCost: d("5.00")},
		},
	}

	specs, err := shipments.LandedLayers(s)
	if err != nil {
		t.Fatal(err)
	}
	var units int64
	for _, spec := range specs {
		units += spec.Quantity
	}
	if units != 7 {
		t.Errorf("got %d units, want the 7 that arrived", units)
	}
	if !specs[0].UnitCost.Equal(d("6.00")) {
		t.Errorf("got unit cost %s, want 6.00", specs[0].UnitCost)
	}
}

func TestLandedLayers_ZeroUnitsRejected(t *testing.T) {
	s := &shipments.Shipment{TrackingNumber: "TRK-1"}

	_, err := shipments.LandedLayers(s)
	if !errors.Is(err, shipments.ErrNoReceivedUnits) {
		t.Fatalf("got %v, want ErrNoReceivedUnits", err)
	}
}

func TestLandedLayers_NegativeFeesRejected(t *testing.T) {
	s := &shipments.Shipment{
		TrackingNumber: "TRK-1",
		ShippingCost:   d("-1.00"),
		Items: []shipments.Item{
			{ID: "item-1", SKU: "TEE-BLK-M", Quantity: 1, UnitCost: d("5.00")},
		},
	}

	_, err := shipments.LandedLayers(s)
	if !errors.Is(err, shipments.ErrInvalidShipment) {
		t.Fatalf("got %v, want ErrInvalidShipment", err)
	}
}

func TestLandedLayers_NoFeesNoExtraLayers(t *testing.T) {
	s := &shipments.Shipment{
		TrackingNumber: "TRK-1",
		Items: []shipments.Item{
			{ID: "item-1", SKU: "TEE-BLK-M", Quantity: 5, UnitCost: d("5.00")},
		},
	}

	specs, err := shipments.LandedLayers(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 1 || specs[0].Quantity != 5 || !specs[0].UnitCost.Equal(d("5.00")) {
		t.Errorf("unexpected specs %+v", specs)
	}
}
