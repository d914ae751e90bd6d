/*
adjustments.go - Stock adjustments through the sanctioned mutation paths

PURPOSE:
  Physical stock drifts: units get damaged, recounts find extras. The
  invariant is that on-hand always equals the sum of layer remainders, so
  an adjustment is NEVER a silent edit to a layer. It is expressed as one
  of the two defined mutations:

    - Shrinkage (damage, loss):  an allocation against a synthetic
      reference, consuming FIFO like a sale would. The write-off cost is
      the FIFO cost of the lost units.
    - Found stock (recount up):  a zero-cost layer. Found units carry no
      cost basis, so selling them later contributes nothing to COGS.

  Both paths leave the full audit trail any other receipt or sale would.
*/
package costing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AdjustmentRefPrefix marks sale references that are stock adjustments
// rather than real sales.
const AdjustmentRefPrefix = "adjust-"

// Adjuster records stock corrections without breaking ledger invariants.
type Adjuster struct {
	Ledger Ledger
	Engine *Engine
}

func NewAdjuster(ledger Ledger, engine *Engine) *Adjuster {
	return &Adjuster{Ledger: ledger, Engine: engine}
}

// WriteOff removes qty units (damage, loss) by allocating them against a
// synthetic reference. Returns the FIFO cost of the written-off units and
// the reference under which they were recorded.
func (a *Adjuster) WriteOff(ctx context.Context, sku SKU, qty int64, reason string, at time.Time) (AllocationResult, error) {
	if reason == "" {
		reason = "write-off"
	}
	ref := SaleRef(fmt.Sprintf("%s%s-%s", AdjustmentRefPrefix, reason, uuid.NewString()))
	return a.Engine.Allocate(ctx, sku, qty, ref, at)
}

// FoundStock records qty units discovered in a recount as a zero-cost
// layer. On-hand increases; inventory valuation does not.
func (a *Adjuster) FoundStock(ctx context.Context, sku SKU, qty int64, reason string, at time.Time) (CostLayer, error) {
	if reason == "" {
		reason = "recount"
	}
	ref := fmt.Sprintf("%s%s-%s", AdjustmentRefPrefix, reason, uuid.NewString())
	return a.Ledger.Receive(ctx, sku, qty, decimal.Zero, at, ref)
}
