/*
engine.go - FIFO allocation engine: deterministic consumption and COGS

PURPOSE:
  Given "an order sold N units of SKU S", consume the oldest layers first,
  splitting a layer when the sale does not consume it exactly, and return
  the weighted cost of goods sold for that sale.

ATOMICITY:
  The whole walk runs inside one store transaction. Either every touched
  layer is decremented and every allocation row persists together, or
  nothing does. Partial allocation is never observable.

CONCURRENCY:
  Two simultaneous sales against the same SKU must not both take the same
  units. Each layer decrement carries the remaining quantity the walk
  observed; a mismatch means a concurrent writer got there first, the
  transaction rolls back, and the caller sees ErrContention (retryable).
  Allocations never touch more than one SKU, so no cross-SKU locking
  exists.

REVERSALS:
  A refund re-credits the EXACT layers the sale drew from, by replaying
  the recorded allocation rows backwards - not by creating a new layer at
  current cost. That preserves FIFO fairness for subsequent sales. The
  original rows stay untouched; compensating rows (negative quantity) are
  appended, and a reversal mark guards idempotency.

SEE ALSO:
  - ledger.go: Where layers come from
  - store.go: The transactional boundary
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
// ENGINE
// =============================================================================

// Engine performs FIFO allocation and reversal against a transactional store.
type Engine struct {
	Store TxStore
}

func NewEngine(store TxStore) *Engine {
	return &Engine{Store: store}
}

// Allocate consumes qty units of sku from the oldest layers first and
// returns the total cost of goods sold for the sale.
//
// Fails with:
//   - ErrInvalidQuantity    if qty <= 0
//   - ErrDuplicateSaleRef   if saleRef was already allocated (retry guard)
//   - ErrInsufficientStock  if qty exceeds on-hand (never oversells;
//     reserving stock beforehand is the caller's job, there is no
//     implicit backorder)
//   - ErrContention         on a concurrent conflict (retryable)
func (e *Engine) Allocate(ctx context.Context, sku SKU, qty int64, saleRef SaleRef, at time.Time) (AllocationResult, error) {
	if qty <= 0 {
		return AllocationResult{}, fmt.Errorf("allocate %s: quantity %d: %w", sku, qty, ErrInvalidQuantity)
	}
	if saleRef == "" {
		return AllocationResult{}, fmt.Errorf("allocate %s: empty sale reference: %w", sku, ErrInvalidQuantity)
	}

	var result AllocationResult
	err := e.Store.WithTx(ctx, func(s Store) error {
		existing, err := s.AllocationsBySale(ctx, saleRef)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("allocate %s for %s: %w", sku, saleRef, ErrDuplicateSaleRef)
		}

		layers, err := s.Layers(ctx, sku)
		if err != nil {
			return err
		}

		var onHand int64
		for _, layer := range layers {
			onHand += layer.QuantityRemaining
		}
		if qty > onHand {
			return &InsufficientStockError{SKU: sku, OnHand: onHand, Requested: qty}
		}

		now := time.Now().UTC()
		needed := qty
		var allocs []Allocation
		for _, layer := range layers {
			if needed == 0 {
				break
			}
			if layer.QuantityRemaining == 0 {
				continue
			}
			take := needed
			if layer.QuantityRemaining < take {
				take = layer.QuantityRemaining
			}
			if err := s.ConsumeLayer(ctx, layer.ID, take, layer.QuantityRemaining); err != nil {
				return fmt.Errorf("allocate %s for %s: %w", sku, saleRef, err)
			}
			allocs = append(allocs, Allocation{
				ID:          AllocationID(uuid.NewString()),
				SKU:         sku,
				LayerID:     layer.ID,
				SaleRef:     saleRef,
				Quantity:    take,
				UnitCost:    layer.UnitCost,
				AllocatedAt: at.UTC(),
				CreatedAt:   now,
			})
			needed -= take
		}
		if needed != 0 {
			// Layers changed underneath the on-hand check.
			return &LayerConflictError{SKU: sku}
		}

		if err := s.AppendAllocations(ctx, allocs); err != nil {
			return err
		}

		total := decimal.Zero
		for _, a := range allocs {
			total = total.Add(a.Cost())
		}
		result = AllocationResult{
			SaleRef:     saleRef,
			SKU:         sku,
			Quantity:    qty,
			TotalCost:   total,
			Allocations: allocs,
		}
		return nil
	})
	if err != nil {
		return AllocationResult{}, err
	}
	return result, nil
}

// Reverse re-credits the exact layers a sale was allocated from, for a
// refund or return. Fails with ErrNothingToReverse if no allocations exist
// for the reference, ErrAlreadyReversed if a reversal already ran for it.
func (e *Engine) Reverse(ctx context.Context, saleRef SaleRef, at time.Time) error {
	if saleRef == "" {
		return fmt.Errorf("reverse: empty sale reference: %w", ErrNothingToReverse)
	}

	return e.Store.WithTx(ctx, func(s Store) error {
		done, err := s.IsReversed(ctx, saleRef)
		if err != nil {
			return err
		}
		if done {
			return fmt.Errorf("reverse %s: %w", saleRef, ErrAlreadyReversed)
		}

		allocs, err := s.AllocationsBySale(ctx, saleRef)
		if err != nil {
			return err
		}
		if len(allocs) == 0 {
			return fmt.Errorf("reverse %s: %w", saleRef, ErrNothingToReverse)
		}

		now := time.Now().UTC()
		var compensations []Allocation
		for _, a := range allocs {
			if a.Reversal || a.Quantity <= 0 {
				continue
			}
			if err := s.RestoreLayer(ctx, a.LayerID, a.Quantity); err != nil {
				return fmt.Errorf("reverse %s: layer %s: %w", saleRef, a.LayerID, err)
			}
			compensations = append(compensations, Allocation{
				ID:          AllocationID(uuid.NewString()),
				SKU:         a.SKU,
				LayerID:     a.LayerID,
				SaleRef:     saleRef,
				Quantity:    -a.Quantity,
				UnitCost:    a.UnitCost,
				Reversal:    true,
				AllocatedAt: at.UTC(),
				CreatedAt:   now,
			})
		}
		if len(compensations) == 0 {
			return fmt.Errorf("reverse %s: %w", saleRef, ErrNothingToReverse)
		}

		if err := s.AppendAllocations(ctx, compensations); err != nil {
			return err
		}
		return s.MarkReversed(ctx, Reversed{SaleRef: saleRef, ReversedAt: at.UTC()})
	})
}
