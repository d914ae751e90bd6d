// Package store provides an in-memory Store implementation (for testing/dev).
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/costing-engine/costing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	seq      int64
	layers   map[costing.LayerID]*costing.CostLayer
	bySKU    map[costing.SKU][]costing.LayerID
	allocs   []costing.Allocation
	reversed map[costing.SaleRef]costing.Reversed
}

func NewMemory() *Memory {
	return &Memory{
		layers:   make(map[costing.LayerID]*costing.CostLayer),
		bySKU:    make(map[costing.SKU][]costing.LayerID),
		reversed: make(map[costing.SaleRef]costing.Reversed),
	}
}

func (m *Memory) CreateLayer(_ context.Context, layer *costing.CostLayer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLayerLocked(layer)
}

func (m *Memory) createLayerLocked(layer *costing.CostLayer) error {
	m.seq++
	layer.Sequence = m.seq
	stored := *layer
	m.layers[layer.ID] = &stored
	m.bySKU[layer.SKU] = append(m.bySKU[layer.SKU], layer.ID)
	return nil
}

func (m *Memory) Layers(_ context.Context, sku costing.SKU) ([]costing.CostLayer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.layersLocked(sku), nil
}

func (m *Memory) layersLocked(sku costing.SKU) []costing.CostLayer {
	ids := m.bySKU[sku]
	result := make([]costing.CostLayer, 0, len(ids))
	for _, id := range ids {
		result = append(result, *m.layers[id])
	}
	sortFIFO(result)
	return result
}

func (m *Memory) AllLayers(_ context.Context) ([]costing.CostLayer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]costing.CostLayer, 0, len(m.layers))
	for _, layer := range m.layers {
		result = append(result, *layer)
	}
	sortFIFO(result)
	return result, nil
}

// sortFIFO orders layers by (ReceivedAt, Sequence) ascending - the FIFO
// contract. Sequence breaks timestamp ties deterministically.
func sortFIFO(layers []costing.CostLayer) {
	sort.Slice(layers, func(i, j int) bool {
		if !layers[i].ReceivedAt.Equal(layers[j].ReceivedAt) {
			return layers[i].ReceivedAt.Before(layers[j].ReceivedAt)
		}
		return layers[i].Sequence < layers[j].Sequence
	})
}

func (m *Memory) ConsumeLayer(_ context.Context, id costing.LayerID, qty, expectedRemaining int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumeLayerLocked(id, qty, expectedRemaining)
}

func (m *Memory) consumeLayerLocked(id costing.LayerID, qty, expectedRemaining int64) error {
	layer, ok := m.layers[id]
	if !ok {
		return fmt.Errorf("consume %s: %w", id, costing.ErrLayerNotFound)
	}
	if layer.QuantityRemaining != expectedRemaining {
		return &costing.LayerConflictError{SKU: layer.SKU, LayerID: id}
	}
	if qty <= 0 || qty > layer.QuantityRemaining {
		return fmt.Errorf("consume %s: take %d of %d: %w", id, qty, layer.QuantityRemaining, costing.ErrInvalidQuantity)
	}
	layer.QuantityRemaining -= qty
	return nil
}

func (m *Memory) RestoreLayer(_ context.Context, id costing.LayerID, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restoreLayerLocked(id, qty)
}

func (m *Memory) restoreLayerLocked(id costing.LayerID, qty int64) error {
	layer, ok := m.layers[id]
	if !ok {
		return fmt.Errorf("restore %s: %w", id, costing.ErrLayerNotFound)
	}
	if qty <= 0 || layer.QuantityRemaining+qty > layer.QuantityReceived {
		return fmt.Errorf("restore %s: credit %d onto %d/%d: %w",
			id, qty, layer.QuantityRemaining, layer.QuantityReceived, costing.ErrInvalidQuantity)
	}
	layer.QuantityRemaining += qty
	return nil
}

func (m *Memory) AppendAllocations(_ context.Context, allocs []costing.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAllocationsLocked(allocs)
}

func (m *Memory) appendAllocationsLocked(allocs []costing.Allocation) error {
	m.allocs = append(m.allocs, allocs...)
	return nil
}

func (m *Memory) AllocationsBySale(_ context.Context, ref costing.SaleRef) ([]costing.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocationsBySaleLocked(ref), nil
}

func (m *Memory) allocationsBySaleLocked(ref costing.SaleRef) []costing.Allocation {
	var result []costing.Allocation
	for _, a := range m.allocs {
		if a.SaleRef == ref {
			result = append(result, a)
		}
	}
	return result
}

func (m *Memory) AllocationsInRange(_ context.Context, from, to time.Time) ([]costing.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocationsInRangeLocked(from, to), nil
}

func (m *Memory) allocationsInRangeLocked(from, to time.Time) []costing.Allocation {
	var result []costing.Allocation
	for _, a := range m.allocs {
		if !a.AllocatedAt.Before(from) && a.AllocatedAt.Before(to) {
			result = append(result, a)
		}
	}
	return result
}

func (m *Memory) AllocationsThrough(_ context.Context, asOf time.Time) ([]costing.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []costing.Allocation
	for _, a := range m.allocs {
		if !a.AllocatedAt.After(asOf) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (m *Memory) IsReversed(_ context.Context, ref costing.SaleRef) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.reversed[ref]
	return ok, nil
}

func (m *Memory) MarkReversed(_ context.Context, rev costing.Reversed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markReversedLocked(rev)
}

func (m *Memory) markReversedLocked(rev costing.Reversed) error {
	if _, ok := m.reversed[rev.SaleRef]; ok {
		return fmt.Errorf("mark reversed %s: %w", rev.SaleRef, costing.ErrAlreadyReversed)
	}
	m.reversed[rev.SaleRef] = rev
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot and a rollback on error. The lock is held for
// the duration, which also gives the serializable boundary Allocate needs.
func (tm *TxMemory) WithTx(_ context.Context, fn func(costing.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snap := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm}); err != nil {
		tm.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	seq      int64
	layers   map[costing.LayerID]*costing.CostLayer
	bySKU    map[costing.SKU][]costing.LayerID
	allocs   []costing.Allocation
	reversed map[costing.SaleRef]costing.Reversed
}

func (tm *TxMemory) snapshot() memorySnapshot {
	layers := make(map[costing.LayerID]*costing.CostLayer, len(tm.layers))
	for id, layer := range tm.layers {
		cp := *layer
		layers[id] = &cp
	}
	bySKU := make(map[costing.SKU][]costing.LayerID, len(tm.bySKU))
	for sku, ids := range tm.bySKU {
		bySKU[sku] = append([]costing.LayerID{}, ids...)
	}
	reversed := make(map[costing.SaleRef]costing.Reversed, len(tm.reversed))
	for ref, rev := range tm.reversed {
		reversed[ref] = rev
	}
	return memorySnapshot{
		seq:      tm.seq,
		layers:   layers,
		bySKU:    bySKU,
		allocs:   append([]costing.Allocation{}, tm.allocs...),
		reversed: reversed,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.seq = s.seq
	tm.layers = s.layers
	tm.bySKU = s.bySKU
	tm.allocs = s.allocs
	tm.reversed = s.reversed
}

// txMemoryView routes Store calls to the locked parent without re-locking.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) CreateLayer(_ context.Context, layer *costing.CostLayer) error {
	return tv.parent.createLayerLocked(layer)
}

func (tv *txMemoryView) Layers(_ context.Context, sku costing.SKU) ([]costing.CostLayer, error) {
	return tv.parent.layersLocked(sku), nil
}

func (tv *txMemoryView) AllLayers(_ context.Context) ([]costing.CostLayer, error) {
	result := make([]costing.CostLayer, 0, len(tv.parent.layers))
	for _, layer := range tv.parent.layers {
		result = append(result, *layer)
	}
	sortFIFO(result)
	return result, nil
}

func (tv *txMemoryView) ConsumeLayer(_ context.Context, id costing.LayerID, qty, expectedRemaining int64) error {
	return tv.parent.consumeLayerLocked(id, qty, expectedRemaining)
}

func (tv *txMemoryView) RestoreLayer(_ context.Context, id costing.LayerID, qty int64) error {
	return tv.parent.restoreLayerLocked(id, qty)
}

func (tv *txMemoryView) AppendAllocations(_ context.Context, allocs []costing.Allocation) error {
	return tv.parent.appendAllocationsLocked(allocs)
}

func (tv *txMemoryView) AllocationsBySale(_ context.Context, ref costing.SaleRef) ([]costing.Allocation, error) {
	return tv.parent.allocationsBySaleLocked(ref), nil
}

func (tv *txMemoryView) AllocationsInRange(_ context.Context, from, to time.Time) ([]costing.Allocation, error) {
	return tv.parent.allocationsInRangeLocked(from, to), nil
}

func (tv *txMemoryView) AllocationsThrough(_ context.Context, asOf time.Time) ([]costing.Allocation, error) {
	var result []costing.Allocation
	for _, a := range tv.parent.allocs {
		if !a.AllocatedAt.After(asOf) {
			result = append(result, a)
		}
	}
	return result, nil
}

func (tv *txMemoryView) IsReversed(_ context.Context, ref costing.SaleRef) (bool, error) {
	_, ok := tv.parent.reversed[ref]
	return ok, nil
}

func (tv *txMemoryView) MarkReversed(_ context.Context, rev costing.Reversed) error {
	return tv.parent.markReversedLocked(rev)
}

// Interface compliance.
var (
	_ costing.Store   = (*Memory)(nil)
	_ costing.TxStore = (*TxMemory)(nil)
	_ costing.Store   = (*txMemoryView)(nil)
)
