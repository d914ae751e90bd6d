/*
reporting.go - Valuation, COGS, and gross margin reader

PURPOSE:
  Read-only aggregation over the layer/allocation history. Answers the two
  questions the back office actually asks:
    - "What is the inventory worth right now (or on any past date)?"
    - "What did the goods we sold between X and Y actually cost?"

HISTORICAL RECONSTRUCTION:
  The live QuantityRemaining on a layer reflects only the present. For a
  valuation as of a past instant, remaining quantity is reconstructed from
  the allocation log: received minus the net of all allocations stamped at
  or before that instant. Reversal compensation rows are negative, so a
  reversal that already happened by asOf credits the stock back, and one
  that happened later does not.

COGS RANGE SEMANTICS:
  COGS(from, to) sums over allocations with AllocatedAt in [from, to),
  half-open. A reversal nets COGS in the period the reversal happened,
  not the period of the original sale.

This component never mutates anything.
*/
package costing

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// READER
// =============================================================================

// Reader serves point-in-time and range queries over the ledger history.
type Reader struct {
	Store Store
}

func NewReader(store Store) *Reader {
	return &Reader{Store: store}
}

// InventoryValuation returns, per SKU and in total, the value of stock on
// hand as of the given instant: sum over layers received at or before asOf
// of reconstructed-remaining * unit cost.
func (r *Reader) InventoryValuation(ctx context.Context, asOf time.Time) (ValuationReport, error) {
	layers, err := r.Store.AllLayers(ctx)
	if err != nil {
		return ValuationReport{}, err
	}
	allocs, err := r.Store.AllocationsThrough(ctx, asOf)
	if err != nil {
		return ValuationReport{}, err
	}

	// Net units consumed per layer as of asOf. Compensation rows are
	// negative, so reversals that already ran credit the layer back.
	consumed := make(map[LayerID]int64, len(allocs))
	for _, a := range allocs {
		consumed[a.LayerID] += a.Quantity
	}

	perSKU := make(map[SKU]*SKUValuation)
	report := ValuationReport{AsOf: asOf, Total: decimal.Zero}
	for _, layer := range layers {
		if layer.ReceivedAt.After(asOf) {
			continue
		}
		remaining := layer.QuantityReceived - consumed[layer.ID]
		if remaining <= 0 {
			continue
		}
		value := layer.UnitCost.Mul(decimal.NewFromInt(remaining))
		sv, ok := perSKU[layer.SKU]
		if !ok {
			sv = &SKUValuation{SKU: layer.SKU, Value: decimal.Zero}
			perSKU[layer.SKU] = sv
		}
		sv.OnHand += remaining
		sv.Value = sv.Value.Add(value)
		report.Total = report.Total.Add(value)
	}

	for _, sv := range perSKU {
		report.SKUs = append(report.SKUs, *sv)
	}
	sort.Slice(report.SKUs, func(i, j int) bool { return report.SKUs[i].SKU < report.SKUs[j].SKU })
	return report, nil
}

// COGS returns the cost of goods sold over [from, to): the sum of
// quantity * snapshot unit cost across allocations in the range,
// reversal compensations netted out.
func (r *Reader) COGS(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	allocs, err := r.Store.AllocationsInRange(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Cost())
	}
	return total, nil
}

// GrossMargin returns (revenue, cogs, margin) for [from, to). Revenue is
// supplied by the sales subsystem; this reader contributes the COGS term
// and the subtraction.
func (r *Reader) GrossMargin(ctx context.Context, from, to time.Time, revenue decimal.Decimal) (MarginReport, error) {
	cogs, err := r.COGS(ctx, from, to)
	if err != nil {
		return MarginReport{}, err
	}
	return MarginReport{
		From:    from,
		To:      to,
		Revenue: revenue,
		COGS:    cogs,
		Margin:  revenue.Sub(cogs),
	}, nil
}
