package costing_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/warp/costing-engine/costing"
)

func newTestAdjuster() (*costing.Adjuster, costing.Ledger, *costing.Reader) {
	engine, ledger, s := newTestEngine()
	return costing.NewAdjuster(ledger, engine), ledger, costing.NewReader(s)
}

func TestWriteOff_ConsumesFIFOAtCost(t *testing.T) {
	// GIVEN: 10 units at $5.00 then 10 at $7.00
	// WHEN: Writing off 12 damaged units
	// THEN: The write-off costs 10*5 + 2*7 = $64.00, stock drops to 8

	adjuster, ledger, _ := newTestAdjuster()
	seedTwoLayers(t, ledger)
	ctx := context.Background()

	result, err := adjuster.WriteOff(ctx, "TEE-BLK-M", 12, "water-damage", at(5))
	if err != nil {
		t.Fatalf("write-off failed: %v", err)
	}
	if !result.TotalCost.Equal(d("64.00")) {
		t.Errorf("got cost %s, want 64.00", result.TotalCost)
	}
	if !strings.HasPrefix(string(result.SaleRef), costing.AdjustmentRefPrefix) {
		t.Errorf("reference %q not marked as an adjustment", result.SaleRef)
	}

	onHand, _ := ledger.OnHand(ctx, "TEE-BLK-M")
	if onHand != 8 {
		t.Errorf("got on-hand %d, want 8", onHand)
	}
}

func TestWriteOff_CannotExceedOnHand(t *testing.T) {
	adjuster, ledger, _ := newTestAdjuster()
	seedTwoLayers(t, ledger)

	_, err := adjuster.WriteOff(context.Background(), "TEE-BLK-M", 25, "recount", at(5))
	if !errors.Is(err, costing.ErrInsufficientStock) {
		t.Fatalf("got %v, want ErrInsufficientStock", err)
	}
}

func TestFoundStock_ZeroCostLayer(t *testing.T) {
	// GIVEN: Existing stock worth $50.00
	// WHEN: A recount finds 3 extra units
	// THEN: On-hand goes up, valuation does not

	adjuster, ledger, reader := newTestAdjuster()
	ctx := context.Background()
	if _, err := ledger.Receive(ctx, "TEE-BLK-M", 10, d("5.00"), at(1), "ship-1"); err != nil {
		t.Fatal(err)
	}

	layer, err := adjuster.FoundStock(ctx, "TEE-BLK-M", 3, "recount", at(5))
	if err != nil {
		t.Fatalf("found-stock failed: %v", err)
	}
	if !layer.UnitCost.IsZero() {
		t.Errorf("found stock has unit cost %s, want 0", layer.UnitCost)
	}

	onHand, _ := ledger.OnHand(ctx, "TEE-BLK-M")
	if onHand != 13 {
		t.Errorf("got on-hand %d, want 13", onHand)
	}

	report, err := reader.InventoryValuation(ctx, at(10))
	if err != nil {
		t.Fatal(err)
	}
	if !report.Total.Equal(d("50.00")) {
		t.Errorf("found stock changed valuation: got %s, want 50.00", report.Total)
	}
}

func TestFoundStock_SellingItCostsNothing(t *testing.T) {
	// Found units carry no cost basis; once the real layers drain,
	// selling them contributes zero to COGS.

	adjuster, _, _ := newTestAdjuster()
	engine := adjuster.Engine
	ctx := context.Background()

	if _, err := adjuster.FoundStock(ctx, "TEE-BLK-M", 5, "recount", at(1)); err != nil {
		t.Fatal(err)
	}

	result, err := engine.Allocate(ctx, "TEE-BLK-M", 2, "order-1", at(5))
	if err != nil {
		t.Fatal(err)
	}
	if !result.TotalCost.IsZero() {
		t.Errorf("got COGS %s, want 0", result.TotalCost)
	}
}
