/*
ledger.go - Cost-layer ledger: record of truth for inventory and its cost

PURPOSE:
  The Ledger answers "what inventory exists and at what cost". Every
  receipt creates a new immutable-identity layer; on-hand stock is always
  derived by summing remaining quantities - there is no separate stock
  counter that can drift out of sync.

CRITICAL INVARIANTS:
  1. A receipt ALWAYS creates a new layer. No restocking into an old one.
  2. Layers are never deleted. An exhausted layer stays for audit.
  3. FIFO order is (ReceivedAt, Sequence) ascending, deterministic even
     when two shipments land in the same instant.

WHY DERIVED ON-HAND?
  - Any stock number can be explained by walking the layers
  - Damage/recount adjustments must go through receive or allocate
    (see adjustments.go), never a silent counter edit

SEE ALSO:
  - engine.go: Consumes layers in FIFO order
  - adjustments.go: Shrinkage/recount via the sanctioned paths
*/
package costing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Layer creation and stock queries
// =============================================================================

// Ledger is the record of truth for what inventory exists and at what cost.
type Ledger interface {
	// Receive creates a new cost layer for a shipment line.
	// Fails with ErrInvalidQuantity if qty <= 0, ErrInvalidCost if
	// unitCost < 0. On success, on-hand for the SKU increases by qty.
	Receive(ctx context.Context, sku SKU, qty int64, unitCost decimal.Decimal, receivedAt time.Time, referenceID string) (CostLayer, error)

	// Layers returns the SKU's layers in FIFO order.
	Layers(ctx context.Context, sku SKU) ([]CostLayer, error)

	// OnHand returns the sum of remaining quantities for the SKU.
	// Never negative.
	OnHand(ctx context.Context, sku SKU) (int64, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Receive(ctx context.Context, sku SKU, qty int64, unitCost decimal.Decimal, receivedAt time.Time, referenceID string) (CostLayer, error) {
	if sku == "" {
		return CostLayer{}, fmt.Errorf("receive: empty sku: %w", ErrInvalidQuantity)
	}
	if qty <= 0 {
		return CostLayer{}, fmt.Errorf("receive %s: quantity %d: %w", sku, qty, ErrInvalidQuantity)
	}
	if unitCost.IsNegative() {
		return CostLayer{}, fmt.Errorf("receive %s: unit cost %s: %w", sku, unitCost, ErrInvalidCost)
	}

	layer := CostLayer{
		ID:                LayerID(uuid.NewString()),
		SKU:               sku,
		UnitCost:          unitCost,
		QuantityReceived:  qty,
		QuantityRemaining: qty,
		ReceivedAt:        receivedAt.UTC(),
		ReferenceID:       referenceID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := l.Store.CreateLayer(ctx, &layer); err != nil {
		return CostLayer{}, fmt.Errorf("receive %s: %w", sku, err)
	}
	return layer, nil
}

func (l *DefaultLedger) Layers(ctx context.Context, sku SKU) ([]CostLayer, error) {
	return l.Store.Layers(ctx, sku)
}

func (l *DefaultLedger) OnHand(ctx context.Context, sku SKU) (int64, error) {
	layers, err := l.Store.Layers(ctx, sku)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, layer := range layers {
		total += layer.QuantityRemaining
	}
	return total, nil
}
