package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/costing-engine/costing"
	"github.com/warp/costing-engine/shipments"
	"github.com/warp/costing-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func d(s string) decimal.Decimal {
	return costing.MustDecimal(s)
}

func newLayer(sku costing.SKU, qty int64, cost string, receivedAt time.Time) *costing.CostLayer {
	return &costing.CostLayer{
		ID:                costing.LayerID(uuid.NewString()),
		SKU:               sku,
		UnitCost:          d(cost),
		QuantityReceived:  qty,
		QuantityRemaining: qty,
		ReceivedAt:        receivedAt,
		CreatedAt:         time.Now().UTC(),
	}
}

func day(n int) time.Time {
	return time.Date(2026, time.March, n, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// LAYERS
// =============================================================================

func TestCreateLayer_AssignsMonotonicSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := newLayer("TEE-BLK-M", 10, "5.00", day(1))
	b := newLayer("TEE-BLK-M", 10, "7.00", day(2))
	require.NoError(t, store.CreateLayer(ctx, a))
	require.NoError(t, store.CreateLayer(ctx, b))

	assert.Greater(t, a.Sequence, int64(0))
	assert.Greater(t, b.Sequence, a.Sequence)
}

func TestLayers_FIFOOrderWithTimestampTie(t *testing.T) {
	// Same ReceivedAt: creation order (seq) decides.
	store := newTestStore(t)
	ctx := context.Background()

	same := day(1)
	first := newLayer("TEE-BLK-M", 1, "5.00", same)
	second := newLayer("TEE-BLK-M", 1, "7.00", same)
	require.NoError(t, store.CreateLayer(ctx, first))
	require.NoError(t, store.CreateLayer(ctx, second))

	layers, err := store.Layers(ctx, "TEE-BLK-M")
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, first.ID, layers[0].ID)
	assert.Equal(t, second.ID, layers[1].ID)
}

func TestLayers_RoundTripPreservesFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := newLayer("TEE-BLK-M", 10, "5.37", day(1))
	in.ReferenceID = "ship-line-9"
	require.NoError(t, store.CreateLayer(ctx, in))

	layers, err := store.Layers(ctx, "TEE-BLK-M")
	require.NoError(t, err)
	require.Len(t, layers, 1)

	out := layers[0]
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, out.UnitCost.Equal(d("5.37")), "got %s", out.UnitCost)
	assert.Equal(t, int64(10), out.QuantityRemaining)
	assert.Equal(t, "ship-line-9", out.ReferenceID)
	assert.True(t, out.ReceivedAt.Equal(day(1)))
}

func TestLayers_FIFOOrderSubSecond(t *testing.T) {
	// GIVEN: Two layers half a second apart, inserted newest first
	// WHEN: Listing them
	// THEN: The whole-second layer still drains first; the stored text
	//       encoding must keep "...00.000Z" below "...00.500Z"

	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	older := newLayer("TEE-BLK-M", 10, "5.00", base)
	newer := newLayer("TEE-BLK-M", 10, "7.00", base.Add(500*time.Millisecond))

	// Newest first, so creation order cannot mask a broken sort.
	require.NoError(t, store.CreateLayer(ctx, newer))
	require.NoError(t, store.CreateLayer(ctx, older))

	layers, err := store.Layers(ctx, "TEE-BLK-M")
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, older.ID, layers[0].ID, "whole-second layer must come first")
	assert.Equal(t, newer.ID, layers[1].ID)
	assert.True(t, layers[1].ReceivedAt.Equal(base.Add(500*time.Millisecond)),
		"sub-second precision must survive the round trip")
}

// =============================================================================
// OPTIMISTIC DECREMENT
// =============================================================================

func TestConsumeLayer_DecrementsWhenExpectationHolds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	layer := newLayer("TEE-BLK-M", 10, "5.00", day(1))
	require.NoError(t, store.CreateLayer(ctx, layer))

	require.NoError(t, store.ConsumeLayer(ctx, layer.ID, 3, 10))

	layers, err := store.Layers(ctx, "TEE-BLK-M")
	require.NoError(t, err)
	assert.Equal(t, int64(7), layers[0].QuantityRemaining)
}

func TestConsumeLayer_StaleExpectationIsContention(t *testing.T) {
	// GIVEN: A layer whose remaining moved since it was read
	// WHEN: Consuming against the stale value
	// THEN: Retryable contention error, and the layer is untouched

	store := newTestStore(t)
	ctx := context.Background()

	layer := newLayer("TEE-BLK-M", 10, "5.00", day(1))
	require.NoError(t, store.CreateLayer(ctx, layer))
	require.NoError(t, store.ConsumeLayer(ctx, layer.ID, 3, 10))

	err := store.ConsumeLayer(ctx, layer.ID, 3, 10) // stale: remaining is 7
	require.Error(t, err)
	assert.True(t, costing.IsRetryable(err), "got %v, want contention", err)

	var conflict *costing.LayerConflictError
	assert.True(t, errors.As(err, &conflict))

	layers, _ := store.Layers(ctx, "TEE-BLK-M")
	assert.Equal(t, int64(7), layers[0].QuantityRemaining, "failed consume must not change state")
}

func TestConsumeLayer_UnknownLayer(t *testing.T) {
	store := newTestStore(t)

	err := store.ConsumeLayer(context.Background(), "no-such-layer", 1, 1)
	assert.ErrorIs(t, err, costing.ErrLayerNotFound)
}

func TestRestoreLayer_CannotExceedReceived(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	layer := newLayer("TEE-BLK-M", 10, "5.00", day(1))
	require.NoError(t, store.CreateLayer(ctx, layer))
	require.NoError(t, store.ConsumeLayer(ctx, layer.ID, 4, 10))

	require.NoError(t, store.RestoreLayer(ctx, layer.ID, 4))
	err := store.RestoreLayer(ctx, layer.ID, 1) // would make 11 of 10
	assert.ErrorIs(t, err, costing.ErrInvalidQuantity)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that consumes a layer and appends an allocation
	// WHEN: The function returns an error
	// THEN: Neither write is visible afterwards

	store := newTestStore(t)
	ctx := context.Background()

	layer := newLayer("TEE-BLK-M", 10, "5.00", day(1))
	require.NoError(t, store.CreateLayer(ctx, layer))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s costing.Store) error {
		if err := s.ConsumeLayer(ctx, layer.ID, 5, 10); err != nil {
			return err
		}
		if err := s.AppendAllocations(ctx, []costing.Allocation{{
			ID:          costing.AllocationID(uuid.NewString()),
			SKU:         "TEE-BLK-M",
			LayerID:     layer.ID,
			SaleRef:     "order-1",
			Quantity:    5,
			UnitCost:    d("5.00"),
			AllocatedAt: day(5),
			CreatedAt:   time.Now().UTC(),
		}}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	layers, _ := store.Layers(ctx, "TEE-BLK-M")
	assert.Equal(t, int64(10), layers[0].QuantityRemaining, "consume must roll back")

	allocs, _ := store.AllocationsBySale(ctx, "order-1")
	assert.Empty(t, allocs, "allocation append must roll back")
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	layer := newLayer("TEE-BLK-M", 10, "5.00", day(1))
	require.NoError(t, store.CreateLayer(ctx, layer))

	err := store.WithTx(ctx, func(s costing.Store) error {
		return s.ConsumeLayer(ctx, layer.ID, 5, 10)
	})
	require.NoError(t, err)

	layers, _ := store.Layers(ctx, "TEE-BLK-M")
	assert.Equal(t, int64(5), layers[0].QuantityRemaining)
}

// =============================================================================
// ALLOCATION QUERIES
// =============================================================================

func TestAllocations_RangeIsHalfOpen(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	layer := newLayer("TEE-BLK-M", 10, "5.00", day(1))
	require.NoError(t, store.CreateLayer(ctx, layer))

	mk := func(ref string, at time.Time) costing.Allocation {
		return costing.Allocation{
			ID:          costing.AllocationID(uuid.NewString()),
			SKU:         "TEE-BLK-M",
			LayerID:     layer.ID,
			SaleRef:     costing.SaleRef(ref),
			Quantity:    1,
			UnitCost:    d("5.00"),
			AllocatedAt: at,
			CreatedAt:   time.Now().UTC(),
		}
	}
	require.NoError(t, store.AppendAllocations(ctx, []costing.Allocation{
		mk("order-before", day(4)),
		mk("order-from", day(5)),
		mk("order-mid", day(7)),
		mk("order-to", day(10)),
	}))

	rows, err := store.AllocationsInRange(ctx, day(5), day(10))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, costing.SaleRef("order-from"), rows[0].SaleRef)
	assert.Equal(t, costing.SaleRef("order-mid"), rows[1].SaleRef)

	// AllocationsThrough is inclusive of asOf.
	rows, err = store.AllocationsThrough(ctx, day(5))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestAllocations_RangeWithSubSecondBounds(t *testing.T) {
	// GIVEN: An allocation stamped at a whole second
	// WHEN: Querying the window [t-0.5s, t+0.5s)
	// THEN: The row is inside it; "...05.000Z" must sort below "...05.500Z"

	store := newTestStore(t)
	ctx := context.Background()

	layer := newLayer("TEE-BLK-M", 10, "5.00", day(1))
	require.NoError(t, store.CreateLayer(ctx, layer))

	at := time.Date(2026, time.March, 5, 12, 0, 5, 0, time.UTC)
	require.NoError(t, store.AppendAllocations(ctx, []costing.Allocation{{
		ID:          costing.AllocationID(uuid.NewString()),
		SKU:         "TEE-BLK-M",
		LayerID:     layer.ID,
		SaleRef:     "order-1",
		Quantity:    2,
		UnitCost:    d("5.00"),
		AllocatedAt: at,
		CreatedAt:   time.Now().UTC(),
	}}))

	rows, err := store.AllocationsInRange(ctx, at.Add(-500*time.Millisecond), at.Add(500*time.Millisecond))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, costing.SaleRef("order-1"), rows[0].SaleRef)

	rows, err = store.AllocationsThrough(ctx, at.Add(-500*time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, rows, "half a second before the allocation it must not count")
}

// =============================================================================
// REVERSAL MARKS
// =============================================================================

func TestMarkReversed_SecondMarkRejected(t *testing.T) {
	// The PRIMARY KEY on sale_ref is the cross-process idempotency guard.
	store := newTestStore(t)
	ctx := context.Background()

	rev := costing.Reversed{SaleRef: "order-1", ReversedAt: day(5)}
	require.NoError(t, store.MarkReversed(ctx, rev))

	err := store.MarkReversed(ctx, rev)
	assert.ErrorIs(t, err, costing.ErrAlreadyReversed)

	done, err := store.IsReversed(ctx, "order-1")
	require.NoError(t, err)
	assert.True(t, done)
}

// =============================================================================
// SHIPMENT RECEIPT
// =============================================================================

func TestReceiveShipment_ClaimRollsBackWithLayers(t *testing.T) {
	// GIVEN: A pending shipment
	// WHEN: The receipt callback fails after creating a layer
	// THEN: The delivered claim and the layer both roll back, and a retry
	//       receives the shipment from scratch

	store := newTestStore(t)
	ctx := context.Background()

	sh := &shipments.Shipment{
		ID:             uuid.NewString(),
		TrackingNumber: "TRK-9001",
		Status:         shipments.StatusPending,
		ExpectedDate:   day(10),
		Items: []shipments.Item{
			{ID: uuid.NewString(), SKU: "TEE-BLK-M", Quantity: 3, UnitCost: d("5.00")},
		},
	}
	require.NoError(t, store.CreateShipment(ctx, sh))

	boom := errors.New("boom")
	err := store.ReceiveShipment(ctx, sh.ID, day(12), func(cs costing.Store) error {
		if err := cs.CreateLayer(ctx, newLayer("TEE-BLK-M", 3, "5.00", day(12))); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	loaded, err := store.Shipment(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, shipments.StatusPending, loaded.Status, "failed receipt must not leave the claim behind")

	layers, _ := store.Layers(ctx, "TEE-BLK-M")
	assert.Empty(t, layers, "layers must roll back with the claim")

	// The retry starts clean and wins the claim.
	err = store.ReceiveShipment(ctx, sh.ID, day(12), func(cs costing.Store) error {
		return cs.CreateLayer(ctx, newLayer("TEE-BLK-M", 3, "5.00", day(12)))
	})
	require.NoError(t, err)

	err = store.ReceiveShipment(ctx, sh.ID, day(13), func(cs costing.Store) error { return nil })
	assert.ErrorIs(t, err, shipments.ErrAlreadyReceived)
}

// =============================================================================
// END-TO-END THROUGH THE ENGINE
// =============================================================================

func TestEngine_AllocateAndReverseOnSQLite(t *testing.T) {
	// The same FIFO semantics the memory store provides must hold on the
	// production store.

	store := newTestStore(t)
	ctx := context.Background()
	ledger := costing.NewLedger(store)
	engine := costing.NewEngine(store)

	_, err := ledger.Receive(ctx, "TEE-BLK-M", 10, d("5.00"), day(1), "ship-1")
	require.NoError(t, err)
	_, err = ledger.Receive(ctx, "TEE-BLK-M", 10, d("7.00"), day(2), "ship-2")
	require.NoError(t, err)

	result, err := engine.Allocate(ctx, "TEE-BLK-M", 15, "order-1", day(5))
	require.NoError(t, err)
	assert.True(t, result.TotalCost.Equal(d("85.00")), "got %s", result.TotalCost)

	require.NoError(t, engine.Reverse(ctx, "order-1", day(6)))

	onHand, err := ledger.OnHand(ctx, "TEE-BLK-M")
	require.NoError(t, err)
	assert.Equal(t, int64(20), onHand)

	err = engine.Reverse(ctx, "order-1", day(7))
	assert.ErrorIs(t, err, costing.ErrAlreadyReversed)
}
