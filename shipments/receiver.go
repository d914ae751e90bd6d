/*
receiver.go - Turning a delivered shipment into cost layers

PURPOSE:
  The bridge between shipment tracking and the costing ledger. Marking a
  shipment received claims the delivered status and writes the landed
  layers through the ledger in ONE store transaction: either the status
  flips and every line becomes a layer, or nothing changes. The claim is
  conditional on the shipment not being delivered yet, so a retry or a
  concurrent receive cannot double the stock.

SEE ALSO:
  - landedcost.go: How per-unit costs are computed
  - costing/ledger.go: Layer creation rules
*/
package shipments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/costing-engine/costing"
)

// =============================================================================
// SHIPMENT STORE
// =============================================================================

// Store persists shipments. Implemented by store/sqlite alongside the
// costing tables so receipt and layers share one database.
type Store interface {
	CreateShipment(ctx context.Context, s *Shipment) error
	Shipment(ctx context.Context, id string) (*Shipment, error)
	Shipments(ctx context.Context) ([]Shipment, error)
}

// TxStore is a Store that can receive a shipment atomically.
type TxStore interface {
	Store

	// ReceiveShipment flips the shipment to delivered and runs fn against
	// the costing store in the same transaction, so the status claim and
	// the layers fn creates commit or roll back together. Returns
	// ErrAlreadyReceived if the shipment is already delivered (including
	// one claimed by a concurrent caller) without invoking fn.
	ReceiveShipment(ctx context.Context, id string, receivedAt time.Time, fn func(cs costing.Store) error) error
}

// =============================================================================
// RECEIVER
// =============================================================================

// Receiver marks shipments received and creates their cost layers.
type Receiver struct {
	Shipments TxStore
}

func NewReceiver(store TxStore) *Receiver {
	return &Receiver{Shipments: store}
}

// Create validates and persists a new shipment in pending status.
func (r *Receiver) Create(ctx context.Context, s *Shipment) error {
	if s.TrackingNumber == "" {
		return fmt.Errorf("missing tracking number: %w", ErrInvalidShipment)
	}
	if s.Status == "" {
		s.Status = StatusPending
	}
	if !s.Status.Valid() {
		return fmt.Errorf("status %q: %w", s.Status, ErrInvalidShipment)
	}
	if s.Status == StatusDelivered {
		return fmt.Errorf("cannot create a shipment already delivered: %w", ErrInvalidShipment)
	}
	for i := range s.Items {
		if s.Items[i].ID == "" {
			s.Items[i].ID = uuid.NewString()
		}
		if s.Items[i].SKU == "" || s.Items[i].Quantity <= 0 {
			return fmt.Errorf("line %d: %w", i, ErrInvalidShipment)
		}
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	return r.Shipments.CreateShipment(ctx, s)
}

// Receive marks the shipment delivered and creates one cost layer per
// landed-layer spec. The delivered claim and the layers share one store
// transaction; ErrAlreadyReceived if the shipment is already delivered.
func (r *Receiver) Receive(ctx context.Context, shipmentID string, receivedAt time.Time) ([]costing.CostLayer, error) {
	s, err := r.Shipments.Shipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	if s.Status == StatusDelivered {
		return nil, fmt.Errorf("shipment %s: %w", s.TrackingNumber, ErrAlreadyReceived)
	}

	specs, err := LandedLayers(s)
	if err != nil {
		return nil, err
	}

	// The status check above is only a fast path; the store's conditional
	// claim inside the transaction is what makes a lost race surface as
	// ErrAlreadyReceived instead of duplicate layers.
	var layers []costing.CostLayer
	err = r.Shipments.ReceiveShipment(ctx, shipmentID, receivedAt, func(cs costing.Store) error {
		ledger := costing.NewLedger(cs)
		layers = layers[:0]
		for _, spec := range specs {
			layer, err := ledger.Receive(ctx, spec.SKU, spec.Quantity, spec.UnitCost, receivedAt, spec.ItemID)
			if err != nil {
				return err
			}
			layers = append(layers, layer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return layers, nil
}
