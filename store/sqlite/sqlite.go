/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements costing.TxStore and shipments.TxStore using SQLite. In
  production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

MUTATION ENFORCEMENT:
  The schema mirrors the domain contract:
  - allocations has no UPDATE or DELETE path; reversals append rows
  - cost_layers only ever changes quantity_remaining, guarded by CHECK
    constraints (0 <= remaining <= received)
  - reversals has a PRIMARY KEY on sale_ref, so the idempotency guard
    holds even across processes

OPTIMISTIC DECREMENT:
  ConsumeLayer compares-and-decrements in one UPDATE:
    SET quantity_remaining = quantity_remaining - ?
    WHERE id = ? AND quantity_remaining = ?
  Zero rows affected means a concurrent writer moved the layer since it
  was read; that surfaces as costing.ErrContention and the enclosing
  transaction rolls back.

CONTENTION:
  SQLITE_BUSY / SQLITE_LOCKED (lock not acquired within busy_timeout)
  also map to costing.ErrContention so callers have a single retry signal.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer at a time, better crash recovery.

USAGE:
  st, err := sqlite.New("./data/costing.db")
  defer st.Close()
  engine := costing.NewEngine(st)

SEE ALSO:
  - costing/store.go: Interface definitions
  - costing/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/costing-engine/costing"
	"github.com/warp/costing-engine/shipments"
)

// timeLayout is a fixed-width UTC encoding. Timestamps live in TEXT
// columns and are ordered and range-filtered lexically in SQL, so every
// instant must render at the same width. RFC3339Nano would trim trailing
// zeros ("...05.5Z" vs "...05Z") and break that ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements costing.TxStore and shipments.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single connection: writes are serialized by the mutex anyway, and
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Cost layers: stock acquired at a specific cost and time.
	-- quantity_remaining is the ONLY mutable column.
	CREATE TABLE IF NOT EXISTS cost_layers (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL,
		seq INTEGER NOT NULL UNIQUE,
		unit_cost TEXT NOT NULL,
		quantity_received INTEGER NOT NULL CHECK (quantity_received > 0),
		quantity_remaining INTEGER NOT NULL
			CHECK (quantity_remaining >= 0 AND quantity_remaining <= quantity_received),
		received_at TEXT NOT NULL,
		reference_id TEXT,
		created_at TEXT NOT NULL
	);

	-- The FIFO walk (hot path)
	CREATE INDEX IF NOT EXISTS idx_cost_layers_sku_fifo
		ON cost_layers(sku, received_at, seq);

	-- Allocations: append-only consumption log. Negative quantities are
	-- reversal compensation rows.
	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL,
		layer_id TEXT NOT NULL REFERENCES cost_layers(id),
		sale_ref TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity != 0),
		unit_cost TEXT NOT NULL,
		reversal BOOLEAN NOT NULL DEFAULT FALSE,
		allocated_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_sale_ref
		ON allocations(sale_ref);
	CREATE INDEX IF NOT EXISTS idx_allocations_allocated_at
		ON allocations(allocated_at);
	CREATE INDEX IF NOT EXISTS idx_allocations_layer
		ON allocations(layer_id);

	-- Reversal marks: one per sale_ref, the idempotency guard.
	CREATE TABLE IF NOT EXISTS reversals (
		sale_ref TEXT PRIMARY KEY,
		reversed_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Shipments (inbound restocking)
	CREATE TABLE IF NOT EXISTS shipments (
		id TEXT PRIMARY KEY,
		name TEXT,
		tracking_number TEXT NOT NULL UNIQUE,
		supplier TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		date_shipped TEXT,
		expected_date TEXT NOT NULL,
		date_received TEXT,
		shipping_cost TEXT NOT NULL DEFAULT '0',
		customs_duty TEXT NOT NULL DEFAULT '0',
		other_fees TEXT NOT NULL DEFAULT '0',
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_shipments_status
		ON shipments(status);

	CREATE TABLE IF NOT EXISTS shipment_items (
		id TEXT PRIMARY KEY,
		shipment_id TEXT NOT NULL REFERENCES shipments(id),
		sku TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		received_quantity INTEGER NOT NULL DEFAULT 0,
		unit_cost TEXT NOT NULL,
		UNIQUE(shipment_id, sku)
	);

	CREATE INDEX IF NOT EXISTS idx_shipment_items_shipment
		ON shipment_items(shipment_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// COSTING STORE (costing.Store interface)
// =============================================================================

func (s *Store) CreateLayer(ctx context.Context, layer *costing.CostLayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLayer(ctx, s.db, layer)
}

func (s *Store) createLayer(ctx context.Context, q querier, layer *costing.CostLayer) error {
	// seq is assigned here; monotonic across all layers in the store.
	query := `
		INSERT INTO cost_layers
		(id, sku, seq, unit_cost, quantity_received, quantity_remaining, received_at, reference_id, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM cost_layers), ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, query,
		layer.ID,
		layer.SKU,
		layer.UnitCost.String(),
		layer.QuantityReceived,
		layer.QuantityRemaining,
		layer.ReceivedAt.UTC().Format(timeLayout),
		nullString(layer.ReferenceID),
		layer.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return mapSQLiteErr("create layer", err)
	}
	return q.QueryRowContext(ctx, "SELECT seq FROM cost_layers WHERE id = ?", layer.ID).Scan(&layer.Sequence)
}

func (s *Store) Layers(ctx context.Context, sku costing.SKU) ([]costing.CostLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layers(ctx, s.db, sku)
}

func (s *Store) layers(ctx context.Context, q querier, sku costing.SKU) ([]costing.CostLayer, error) {
	query := `
		SELECT id, sku, seq, unit_cost, quantity_received, quantity_remaining, received_at, reference_id, created_at
		FROM cost_layers
		WHERE sku = ?
		ORDER BY received_at ASC, seq ASC
	`
	return queryLayers(ctx, q, query, sku)
}

func (s *Store) AllLayers(ctx context.Context) ([]costing.CostLayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allLayers(ctx, s.db)
}

func (s *Store) allLayers(ctx context.Context, q querier) ([]costing.CostLayer, error) {
	query := `
		SELECT id, sku, seq, unit_cost, quantity_received, quantity_remaining, received_at, reference_id, created_at
		FROM cost_layers
		ORDER BY received_at ASC, seq ASC
	`
	return queryLayers(ctx, q, query)
}

func (s *Store) ConsumeLayer(ctx context.Context, id costing.LayerID, qty, expectedRemaining int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumeLayer(ctx, s.db, id, qty, expectedRemaining)
}

func (s *Store) consumeLayer(ctx context.Context, q querier, id costing.LayerID, qty, expectedRemaining int64) error {
	if qty <= 0 || qty > expectedRemaining {
		return fmt.Errorf("consume %s: take %d of %d: %w", id, qty, expectedRemaining, costing.ErrInvalidQuantity)
	}

	// Compare-and-decrement: zero rows affected means a concurrent writer
	// moved the layer since it was read.
	res, err := q.ExecContext(ctx, `
		UPDATE cost_layers
		SET quantity_remaining = quantity_remaining - ?
		WHERE id = ? AND quantity_remaining = ?
	`, qty, id, expectedRemaining)
	if err != nil {
		return mapSQLiteErr("consume layer", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var sku costing.SKU
		scanErr := q.QueryRowContext(ctx, "SELECT sku FROM cost_layers WHERE id = ?", id).Scan(&sku)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return fmt.Errorf("consume %s: %w", id, costing.ErrLayerNotFound)
		}
		return &costing.LayerConflictError{SKU: sku, LayerID: id}
	}
	return nil
}

func (s *Store) RestoreLayer(ctx context.Context, id costing.LayerID, qty int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restoreLayer(ctx, s.db, id, qty)
}

func (s *Store) restoreLayer(ctx context.Context, q querier, id costing.LayerID, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("restore %s: credit %d: %w", id, qty, costing.ErrInvalidQuantity)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE cost_layers
		SET quantity_remaining = quantity_remaining + ?
		WHERE id = ? AND quantity_remaining + ? <= quantity_received
	`, qty, id, qty)
	if err != nil {
		return mapSQLiteErr("restore layer", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var sku costing.SKU
		scanErr := q.QueryRowContext(ctx, "SELECT sku FROM cost_layers WHERE id = ?", id).Scan(&sku)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return fmt.Errorf("restore %s: %w", id, costing.ErrLayerNotFound)
		}
		return fmt.Errorf("restore %s: credit %d exceeds received: %w", id, qty, costing.ErrInvalidQuantity)
	}
	return nil
}

func (s *Store) AppendAllocations(ctx context.Context, allocs []costing.Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAllocations(ctx, s.db, allocs)
}

func (s *Store) appendAllocations(ctx context.Context, q querier, allocs []costing.Allocation) error {
	query := `
		INSERT INTO allocations
		(id, sku, layer_id, sale_ref, quantity, unit_cost, reversal, allocated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, a := range allocs {
		_, err := q.ExecContext(ctx, query,
			a.ID,
			a.SKU,
			a.LayerID,
			a.SaleRef,
			a.Quantity,
			a.UnitCost.String(),
			a.Reversal,
			a.AllocatedAt.UTC().Format(timeLayout),
			a.CreatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return mapSQLiteErr("append allocation", err)
		}
	}
	return nil
}

func (s *Store) AllocationsBySale(ctx context.Context, ref costing.SaleRef) ([]costing.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocationsBySale(ctx, s.db, ref)
}

func (s *Store) allocationsBySale(ctx context.Context, q querier, ref costing.SaleRef) ([]costing.Allocation, error) {
	query := `
		SELECT id, sku, layer_id, sale_ref, quantity, unit_cost, reversal, allocated_at, created_at
		FROM allocations
		WHERE sale_ref = ?
		ORDER BY created_at ASC
	`
	return queryAllocations(ctx, q, query, ref)
}

func (s *Store) AllocationsInRange(ctx context.Context, from, to time.Time) ([]costing.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocationsInRange(ctx, s.db, from, to)
}

func (s *Store) allocationsInRange(ctx context.Context, q querier, from, to time.Time) ([]costing.Allocation, error) {
	query := `
		SELECT id, sku, layer_id, sale_ref, quantity, unit_cost, reversal, allocated_at, created_at
		FROM allocations
		WHERE allocated_at >= ? AND allocated_at < ?
		ORDER BY allocated_at ASC, created_at ASC
	`
	return queryAllocations(ctx, q, query,
		from.UTC().Format(timeLayout), to.UTC().Format(timeLayout))
}

func (s *Store) AllocationsThrough(ctx context.Context, asOf time.Time) ([]costing.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allocationsThrough(ctx, s.db, asOf)
}

func (s *Store) allocationsThrough(ctx context.Context, q querier, asOf time.Time) ([]costing.Allocation, error) {
	query := `
		SELECT id, sku, layer_id, sale_ref, quantity, unit_cost, reversal, allocated_at, created_at
		FROM allocations
		WHERE allocated_at <= ?
		ORDER BY allocated_at ASC, created_at ASC
	`
	return queryAllocations(ctx, q, query, asOf.UTC().Format(timeLayout))
}

func (s *Store) IsReversed(ctx context.Context, ref costing.SaleRef) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isReversed(ctx, s.db, ref)
}

func (s *Store) isReversed(ctx context.Context, q querier, ref costing.SaleRef) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM reversals WHERE sale_ref = ?", ref).Scan(&count)
	return count > 0, err
}

func (s *Store) MarkReversed(ctx context.Context, rev costing.Reversed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markReversed(ctx, s.db, rev)
}

func (s *Store) markReversed(ctx context.Context, q querier, rev costing.Reversed) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO reversals (sale_ref, reversed_at, created_at) VALUES (?, ?, ?)",
		rev.SaleRef,
		rev.ReversedAt.UTC().Format(timeLayout),
		time.Now().UTC().Format(timeLayout),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("mark reversed %s: %w", rev.SaleRef, costing.ErrAlreadyReversed)
	}
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (costing.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store costing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapSQLiteErr("commit", err)
	}
	return nil
}

// txStore routes Store calls through the open transaction.
// It must not take the parent mutex; WithTx already holds it.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) CreateLayer(ctx context.Context, layer *costing.CostLayer) error {
	return ts.parent.createLayer(ctx, ts.tx, layer)
}

func (ts *txStore) Layers(ctx context.Context, sku costing.SKU) ([]costing.CostLayer, error) {
	return ts.parent.layers(ctx, ts.tx, sku)
}

func (ts *txStore) AllLayers(ctx context.Context) ([]costing.CostLayer, error) {
	return ts.parent.allLayers(ctx, ts.tx)
}

func (ts *txStore) ConsumeLayer(ctx context.Context, id costing.LayerID, qty, expectedRemaining int64) error {
	return ts.parent.consumeLayer(ctx, ts.tx, id, qty, expectedRemaining)
}

func (ts *txStore) RestoreLayer(ctx context.Context, id costing.LayerID, qty int64) error {
	return ts.parent.restoreLayer(ctx, ts.tx, id, qty)
}

func (ts *txStore) AppendAllocations(ctx context.Context, allocs []costing.Allocation) error {
	return ts.parent.appendAllocations(ctx, ts.tx, allocs)
}

func (ts *txStore) AllocationsBySale(ctx context.Context, ref costing.SaleRef) ([]costing.Allocation, error) {
	return ts.parent.allocationsBySale(ctx, ts.tx, ref)
}

func (ts *txStore) AllocationsInRange(ctx context.Context, from, to time.Time) ([]costing.Allocation, error) {
	return ts.parent.allocationsInRange(ctx, ts.tx, from, to)
}

func (ts *txStore) AllocationsThrough(ctx context.Context, asOf time.Time) ([]costing.Allocation, error) {
	return ts.parent.allocationsThrough(ctx, ts.tx, asOf)
}

func (ts *txStore) IsReversed(ctx context.Context, ref costing.SaleRef) (bool, error) {
	return ts.parent.isReversed(ctx, ts.tx, ref)
}

func (ts *txStore) MarkReversed(ctx context.Context, rev costing.Reversed) error {
	return ts.parent.markReversed(ctx, ts.tx, rev)
}

// =============================================================================
// SHIPMENT STORE (shipments.Store interface)
// =============================================================================

func (s *Store) CreateShipment(ctx context.Context, sh *shipments.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO shipments
		(id, name, tracking_number, supplier, status, date_shipped, expected_date, date_received,
		 shipping_cost, customs_duty, other_fees, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sh.ID,
		nullString(sh.Name),
		sh.TrackingNumber,
		nullString(sh.Supplier),
		string(sh.Status),
		nullTime(sh.DateShipped),
		sh.ExpectedDate.UTC().Format(timeLayout),
		nullTime(sh.DateReceived),
		sh.ShippingCost.String(),
		sh.CustomsDuty.String(),
		sh.OtherFees.String(),
		nullString(sh.Notes),
		sh.CreatedAt.UTC().Format(timeLayout),
		sh.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return mapSQLiteErr("create shipment", err)
	}

	for _, item := range sh.Items {
		_, err = sqlTx.ExecContext(ctx, `
			INSERT INTO shipment_items (id, shipment_id, sku, quantity, received_quantity, unit_cost)
			VALUES (?, ?, ?, ?, ?, ?)
		`, item.ID, sh.ID, item.SKU, item.Quantity, item.ReceivedQuantity, item.UnitCost.String())
		if err != nil {
			return mapSQLiteErr("create shipment item", err)
		}
	}
	return sqlTx.Commit()
}

func (s *Store) Shipment(ctx context.Context, id string) (*shipments.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, tracking_number, supplier, status, date_shipped, expected_date, date_received,
		       shipping_cost, customs_duty, other_fees, notes, created_at, updated_at
		FROM shipments WHERE id = ?
	`, id)
	sh, err := scanShipment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("shipment %s: %w", id, shipments.ErrShipmentNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, sh); err != nil {
		return nil, err
	}
	return sh, nil
}

func (s *Store) Shipments(ctx context.Context) ([]shipments.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, tracking_number, supplier, status, date_shipped, expected_date, date_received,
		       shipping_cost, customs_duty, other_fees, notes, created_at, updated_at
		FROM shipments
		ORDER BY expected_date DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query shipments: %w", err)
	}
	defer rows.Close()

	var result []shipments.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range result {
		if err := s.loadItems(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) loadItems(ctx context.Context, sh *shipments.Shipment) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, quantity, received_quantity, unit_cost
		FROM shipment_items WHERE shipment_id = ?
		ORDER BY sku ASC
	`, sh.ID)
	if err != nil {
		return fmt.Errorf("failed to query shipment items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item     shipments.Item
			unitCost string
		)
		if err := rows.Scan(&item.ID, &item.SKU, &item.Quantity, &item.ReceivedQuantity, &unitCost); err != nil {
			return fmt.Errorf("failed to scan shipment item: %w", err)
		}
		item.UnitCost = parseDecimal(unitCost)
		sh.Items = append(sh.Items, item)
	}
	return rows.Err()
}

// ReceiveShipment claims the shipment for receipt and runs fn against the
// costing store in the same transaction: the delivered flip and the cost
// layers commit or roll back together. A shipment already delivered (or
// claimed by a concurrent caller) yields ErrAlreadyReceived before any
// layer is written.
func (s *Store) ReceiveShipment(ctx context.Context, id string, receivedAt time.Time, fn func(cs costing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapSQLiteErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE shipments SET status = ?, date_received = ?, updated_at = ?
		WHERE id = ? AND status != ?
	`,
		string(shipments.StatusDelivered),
		receivedAt.UTC().Format(timeLayout),
		time.Now().UTC().Format(timeLayout),
		id,
		string(shipments.StatusDelivered),
	)
	if err != nil {
		return mapSQLiteErr("receive shipment", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		scanErr := sqlTx.QueryRowContext(ctx, "SELECT status FROM shipments WHERE id = ?", id).Scan(&status)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return fmt.Errorf("shipment %s: %w", id, shipments.ErrShipmentNotFound)
		}
		if scanErr != nil {
			return scanErr
		}
		return fmt.Errorf("shipment %s: %w", id, shipments.ErrAlreadyReceived)
	}

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapSQLiteErr("commit", err)
	}
	return nil
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

func queryLayers(ctx context.Context, q querier, query string, args ...any) ([]costing.CostLayer, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query layers: %w", err)
	}
	defer rows.Close()

	var layers []costing.CostLayer
	for rows.Next() {
		var (
			layer       costing.CostLayer
			unitCost    string
			receivedAt  string
			referenceID sql.NullString
			createdAt   string
		)
		err := rows.Scan(&layer.ID, &layer.SKU, &layer.Sequence, &unitCost,
			&layer.QuantityReceived, &layer.QuantityRemaining, &receivedAt, &referenceID, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan layer: %w", err)
		}
		layer.UnitCost = parseDecimal(unitCost)
		layer.ReceivedAt = parseTime(receivedAt)
		layer.ReferenceID = referenceID.String
		layer.CreatedAt = parseTime(createdAt)
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func queryAllocations(ctx context.Context, q querier, query string, args ...any) ([]costing.Allocation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocs []costing.Allocation
	for rows.Next() {
		var (
			a           costing.Allocation
			unitCost    string
			allocatedAt string
			createdAt   string
		)
		err := rows.Scan(&a.ID, &a.SKU, &a.LayerID, &a.SaleRef, &a.Quantity,
			&unitCost, &a.Reversal, &allocatedAt, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.UnitCost = parseDecimal(unitCost)
		a.AllocatedAt = parseTime(allocatedAt)
		a.CreatedAt = parseTime(createdAt)
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

func scanShipment(row interface{ Scan(...any) error }) (*shipments.Shipment, error) {
	var (
		sh                                   shipments.Shipment
		name, supplier, notes                sql.NullString
		dateShipped, dateReceived            sql.NullString
		expectedDate, createdAt, updatedAt   string
		shippingCost, customsDuty, otherFees string
	)
	err := row.Scan(&sh.ID, &name, &sh.TrackingNumber, &supplier, &sh.Status,
		&dateShipped, &expectedDate, &dateReceived,
		&shippingCost, &customsDuty, &otherFees, &notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	sh.Name = name.String
	sh.Supplier = supplier.String
	sh.Notes = notes.String
	sh.ExpectedDate = parseTime(expectedDate)
	sh.CreatedAt = parseTime(createdAt)
	sh.UpdatedAt = parseTime(updatedAt)
	if dateShipped.Valid {
		t := parseTime(dateShipped.String)
		sh.DateShipped = &t
	}
	if dateReceived.Valid {
		t := parseTime(dateReceived.String)
		sh.DateReceived = &t
	}
	sh.ShippingCost = parseDecimal(shippingCost)
	sh.CustomsDuty = parseDecimal(customsDuty)
	sh.OtherFees = parseDecimal(otherFees)
	return &sh, nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func mapSQLiteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isBusyError(err) {
		return fmt.Errorf("%s: %v: %w", op, err, costing.ErrContention)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isBusyError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Interface compliance.
var (
	_ costing.TxStore   = (*Store)(nil)
	_ costing.Store     = (*txStore)(nil)
	_ shipments.TxStore = (*Store)(nil)
)
