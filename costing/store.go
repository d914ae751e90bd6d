/*
store.go - Persistence interface for layers, allocations, and reversals

PURPOSE:
  Defines the interface between the costing domain and the database. The
  domain packages never touch SQL; different implementations can use
  SQLite, PostgreSQL, or in-memory storage.

MUTATION CONTRACT:
  The only sanctioned mutation paths are:
  - CreateLayer:  a receipt creates a new layer (never restocks an old one)
  - ConsumeLayer: the allocation engine decrements remaining stock
  - RestoreLayer: a reversal re-credits exactly what was taken
  Allocations are append-only; there is no update or delete for them.

OPTIMISTIC DECREMENT:
  ConsumeLayer takes the remaining quantity the caller observed. If the
  stored value no longer matches, the store returns ErrContention and the
  enclosing transaction rolls back. This is how two simultaneous sales
  against the same SKU are prevented from both taking the same units.

IMPLEMENTATIONS:
  - store/sqlite:       production store (SQLite, WAL)
  - costing/store:      in-memory store for tests and dev

SEE ALSO:
  - engine.go: Runs the FIFO walk inside TxStore.WithTx
  - reporting.go: Read-only queries over the same interface
*/
package costing

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Persistence for the costing domain
// =============================================================================

// Store handles persistence of cost layers, allocations, and reversal marks.
type Store interface {
	// CreateLayer persists a new layer and assigns its Sequence.
	// Sequence is monotonic across all layers in the store.
	CreateLayer(ctx context.Context, layer *CostLayer) error

	// Layers returns all layers for a SKU, exhausted ones included,
	// ordered by (ReceivedAt, Sequence) ascending. This ordering is the
	// FIFO contract.
	Layers(ctx context.Context, sku SKU) ([]CostLayer, error)

	// AllLayers returns every layer in the store in FIFO order,
	// for valuation across SKUs.
	AllLayers(ctx context.Context) ([]CostLayer, error)

	// ConsumeLayer decrements a layer's remaining quantity by qty.
	// expectedRemaining is the value the caller observed; if the stored
	// value differs, the store returns an error wrapping ErrContention
	// and leaves the layer untouched.
	ConsumeLayer(ctx context.Context, id LayerID, qty, expectedRemaining int64) error

	// RestoreLayer re-credits qty units to a layer. Fails if the result
	// would exceed the layer's received quantity.
	RestoreLayer(ctx context.Context, id LayerID, qty int64) error

	// AppendAllocations persists allocation records. Append-only.
	AppendAllocations(ctx context.Context, allocs []Allocation) error

	// AllocationsBySale returns all allocation rows for a sale reference,
	// compensating rows included, in creation order.
	AllocationsBySale(ctx context.Context, ref SaleRef) ([]Allocation, error)

	// AllocationsInRange returns allocations with AllocatedAt in [from, to).
	AllocationsInRange(ctx context.Context, from, to time.Time) ([]Allocation, error)

	// AllocationsThrough returns allocations with AllocatedAt <= asOf.
	// Used to reconstruct remaining quantities at a historical instant.
	AllocationsThrough(ctx context.Context, asOf time.Time) ([]Allocation, error)

	// IsReversed reports whether a reversal already ran for the reference.
	IsReversed(ctx context.Context, ref SaleRef) (bool, error)

	// MarkReversed records that a reversal ran for the reference.
	MarkReversed(ctx context.Context, rev Reversed) error
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic multi-write operations
// =============================================================================

// TxStore wraps Store with transaction support. The allocation engine
// requires it: a FIFO walk decrements several layers and appends several
// allocation rows, and either all of that persists or none of it does.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
