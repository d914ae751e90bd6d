/*
errors.go - Centralized error types for the costing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (checkout flow, admin screens) match with errors.Is().

ERROR CATEGORIES:
  1. Input validation - rejected before any mutation
  2. Business rules - oversell, reversal misuse
  3. Concurrency - transient conflicts, retryable

PROPAGATION POLICY:
  Every failure path returns a typed error; nothing is silently swallowed.
  All mutation errors are fail-fast and leave state unchanged - no partial
  layer decrements are ever observable.

USAGE:
  if errors.Is(err, costing.ErrInsufficientStock) {
      // surface "out of stock" to the shopper
  }
  if costing.IsRetryable(err) {
      // bounded retry, then surface as transient failure
  }
*/
package costing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidQuantity is returned when a receive or allocate quantity
	// is not strictly positive.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrInvalidCost is returned when a unit cost is negative.
	ErrInvalidCost = errors.New("invalid cost")

	// ErrInsufficientStock is returned when an allocation asks for more
	// than is on hand. The engine never oversells and never backorders.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrContention is returned when the transactional boundary around an
	// allocation could not be acquired in time, or a concurrent writer
	// touched a layer mid-walk. Retryable.
	ErrContention = errors.New("contention on cost layers")

	// ErrNothingToReverse is returned when Reverse finds no allocations
	// for the given sale reference.
	ErrNothingToReverse = errors.New("nothing to reverse")

	// ErrAlreadyReversed is returned when a reversal already ran for the
	// sale reference. This is the idempotency guard.
	ErrAlreadyReversed = errors.New("sale already reversed")

	// ErrDuplicateSaleRef is returned when Allocate is called twice with
	// the same sale reference. Expected behavior for checkout retries.
	ErrDuplicateSaleRef = errors.New("duplicate sale reference")

	// ErrLayerNotFound is returned when a referenced layer doesn't exist.
	ErrLayerNotFound = errors.New("cost layer not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	SKU       SKU
	OnHand    int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: on hand %d, requested %d, short %d",
		e.SKU, e.OnHand, e.Requested, e.Requested-e.OnHand)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// LayerConflictError reports a concurrent modification of a specific layer
// detected during the FIFO walk.
type LayerConflictError struct {
	SKU     SKU
	LayerID LayerID
}

func (e *LayerConflictError) Error() string {
	return fmt.Sprintf("layer %s for %s modified concurrently", e.LayerID, e.SKU)
}

func (e *LayerConflictError) Unwrap() error {
	return ErrContention
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}

// IsClientError returns true if the error is due to invalid caller input
// or a business-rule violation, as opposed to an infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidCost) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrNothingToReverse) ||
		errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrDuplicateSaleRef)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLayerNotFound)
}
