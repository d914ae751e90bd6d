/*
Package costing provides the core FIFO inventory costing engine.

PURPOSE:
  This package contains the domain types and algorithms for first-in-first-out
  inventory cost accounting: cost layers record what stock was acquired at
  what cost, allocations record what stock each sale consumed, and the reader
  answers "what did the goods sold actually cost" even when unit costs vary
  between shipments.

KEY CONCEPTS IN THIS FILE (types.go):
  - CostLayer: A quantity of stock acquired at a specific unit cost and time
  - Allocation: An immutable record of a sale consuming part of a layer
  - AllocationResult: The cost outcome of a single sale
  - SKU/LayerID/SaleRef: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Allocations are never modified, only compensated
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Determinism: Layers drain in (ReceivedAt, Sequence) order, always
  4. Auditability: Exhausted layers and reversed allocations are retained

USAGE:
  layer, err := ledger.Receive(ctx, "TEE-BLK-M", 10, costing.MustDecimal("5.00"), now, "ship-1")
  result, err := engine.Allocate(ctx, "TEE-BLK-M", 3, "order-42", now)
  // result.TotalCost == 15.00

SEE ALSO:
  - ledger.go: Layer creation and on-hand queries
  - engine.go: FIFO allocation and reversal
  - reporting.go: Valuation, COGS, and margin queries
*/
package costing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// SKU identifies a product variant (e.g., a size/color combination).
type SKU string

// LayerID identifies a cost layer.
type LayerID string

// AllocationID identifies a single allocation record.
type AllocationID string

// SaleRef identifies the originating sale (order item, adjustment, ...).
// One sale may draw from multiple layers, so multiple allocations can share
// a SaleRef.
type SaleRef string

// MustDecimal parses a decimal literal, panicking on failure.
// Intended for constants and tests, not for untrusted input.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("costing: MustDecimal(%q): %v", s, err))
	}
	return d
}

// =============================================================================
// COST LAYER - Stock acquired at a specific cost and time
// =============================================================================

// CostLayer records a quantity of stock acquired at a specific unit cost.
//
// INVARIANTS:
//   - 0 <= QuantityRemaining <= QuantityReceived
//   - QuantityRemaining changes only via allocation (down) or reversal
//     re-credit (up, never above QuantityReceived)
//   - A new shipment always creates a new layer; there is no restocking
//     into an existing one
//   - Exhausted layers (QuantityRemaining == 0) are retained for audit
type CostLayer struct {
	ID  LayerID
	SKU SKU

	// Sequence is a store-assigned monotonic counter. It is the tie-break
	// when two layers share a ReceivedAt, making FIFO order deterministic.
	Sequence int64

	UnitCost          decimal.Decimal
	QuantityReceived  int64
	QuantityRemaining int64
	ReceivedAt        time.Time

	// ReferenceID links back to the receiving event (shipment line,
	// stock recount, ...).
	ReferenceID string

	CreatedAt time.Time
}

// Exhausted reports whether the layer has no remaining stock.
func (l CostLayer) Exhausted() bool { return l.QuantityRemaining == 0 }

// RemainingValue returns QuantityRemaining * UnitCost.
func (l CostLayer) RemainingValue() decimal.Decimal {
	return l.UnitCost.Mul(decimal.NewFromInt(l.QuantityRemaining))
}

// ReceivedValue returns QuantityReceived * UnitCost.
func (l CostLayer) ReceivedValue() decimal.Decimal {
	return l.UnitCost.Mul(decimal.NewFromInt(l.QuantityReceived))
}

// =============================================================================
// ALLOCATION - Immutable record of a sale consuming a layer
// =============================================================================

// Allocation is an immutable snapshot of a sale consuming part of a layer.
// UnitCost is copied from the layer at consumption time, NOT referenced,
// so later layer edits can never retroactively change historical COGS.
//
// A reversal appends compensating rows (negative Quantity, Reversal=true)
// rather than mutating or deleting the originals.
type Allocation struct {
	ID      AllocationID
	SKU     SKU
	LayerID LayerID
	SaleRef SaleRef

	// Quantity is positive for consumption, negative for a reversal
	// compensation row.
	Quantity int64

	UnitCost    decimal.Decimal
	Reversal    bool
	AllocatedAt time.Time
	CreatedAt   time.Time
}

// Cost returns Quantity * UnitCost (negative for compensation rows).
func (a Allocation) Cost() decimal.Decimal {
	return a.UnitCost.Mul(decimal.NewFromInt(a.Quantity))
}

// Reversed marks a sale reference whose allocations have been reversed.
// One row per SaleRef; this is the idempotency guard for Reverse.
type Reversed struct {
	SaleRef    SaleRef
	ReversedAt time.Time
}

// =============================================================================
// ALLOCATION RESULT - Cost outcome of one sale
// =============================================================================

// AllocationResult is what the checkout flow gets back: the layers the sale
// drew from and the total cost of goods sold for it.
type AllocationResult struct {
	SaleRef     SaleRef
	SKU         SKU
	Quantity    int64
	TotalCost   decimal.Decimal
	Allocations []Allocation
}

// =============================================================================
// REPORTING TYPES
// =============================================================================

// MarginReport is the gross-margin triple for a period. Revenue is supplied
// by the sales subsystem; this module only contributes COGS and the
// subtraction.
type MarginReport struct {
	From    time.Time
	To      time.Time
	Revenue decimal.Decimal
	COGS    decimal.Decimal
	Margin  decimal.Decimal
}

// SKUValuation is one SKU's contribution to an inventory valuation.
type SKUValuation struct {
	SKU    SKU
	OnHand int64
	Value  decimal.Decimal
}

// ValuationReport is a point-in-time inventory valuation across all SKUs.
type ValuationReport struct {
	AsOf  time.Time
	Total decimal.Decimal
	SKUs  []SKUValuation
}
