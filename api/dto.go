/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY FIELDS:
  All costs are decimal strings on the wire ("12.34"), decoded straight
  into decimal.Decimal - no floats anywhere between the client and the
  ledger.

VALIDATION:
  Validation is done in handlers and the domain, not in DTOs. DTOs are
  pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/costing-engine/costing"
	"github.com/warp/costing-engine/shipments"
)

// =============================================================================
// SHIPMENTS
// =============================================================================

type ShipmentItemRequest struct {
	SKU              string          `json:"sku"`
	Quantity         int64           `json:"quantity"`
	ReceivedQuantity int64           `json:"received_quantity,omitempty"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
}

type CreateShipmentRequest struct {
	Name           string                `json:"name,omitempty"`
	TrackingNumber string                `json:"tracking_number"`
	Supplier       string                `json:"supplier,omitempty"`
	Status         string                `json:"status,omitempty"`
	DateShipped    *time.Time            `json:"date_shipped,omitempty"`
	ExpectedDate   time.Time             `json:"expected_date"`
	ShippingCost   decimal.Decimal       `json:"shipping_cost"`
	CustomsDuty    decimal.Decimal       `json:"customs_duty"`
	OtherFees      decimal.Decimal       `json:"other_fees"`
	Notes          string                `json:"notes,omitempty"`
	Items          []ShipmentItemRequest `json:"items"`
}

type ShipmentItemDTO struct {
	ID               string          `json:"id"`
	SKU              string          `json:"sku"`
	Quantity         int64           `json:"quantity"`
	ReceivedQuantity int64           `json:"received_quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
}

type ShipmentDTO struct {
	ID             string            `json:"id"`
	Name           string            `json:"name,omitempty"`
	TrackingNumber string            `json:"tracking_number"`
	Supplier       string            `json:"supplier,omitempty"`
	Status         string            `json:"status"`
	DateShipped    *time.Time        `json:"date_shipped,omitempty"`
	ExpectedDate   time.Time         `json:"expected_date"`
	DateReceived   *time.Time        `json:"date_received,omitempty"`
	ShippingCost   decimal.Decimal   `json:"shipping_cost"`
	CustomsDuty    decimal.Decimal   `json:"customs_duty"`
	OtherFees      decimal.Decimal   `json:"other_fees"`
	TotalCost      decimal.Decimal   `json:"total_cost"`
	ItemCount      int64             `json:"item_count"`
	Notes          string            `json:"notes,omitempty"`
	Items          []ShipmentItemDTO `json:"items"`
}

type ReceiveShipmentRequest struct {
	// ReceivedAt defaults to now when omitted.
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

func toShipmentDTO(sh *shipments.Shipment) ShipmentDTO {
	dto := ShipmentDTO{
		ID:             sh.ID,
		Name:           sh.Name,
		TrackingNumber: sh.TrackingNumber,
		Supplier:       sh.Supplier,
		Status:         string(sh.Status),
		DateShipped:    sh.DateShipped,
		ExpectedDate:   sh.ExpectedDate,
		DateReceived:   sh.DateReceived,
		ShippingCost:   sh.ShippingCost,
		CustomsDuty:    sh.CustomsDuty,
		OtherFees:      sh.OtherFees,
		TotalCost:      sh.TotalCost(),
		ItemCount:      sh.ItemCount(),
		Notes:          sh.Notes,
	}
	for _, item := range sh.Items {
		dto.Items = append(dto.Items, ShipmentItemDTO{
			ID:               item.ID,
			SKU:              string(item.SKU),
			Quantity:         item.Quantity,
			ReceivedQuantity: item.ReceivedQuantity,
			UnitCost:         item.UnitCost,
		})
	}
	return dto
}

// =============================================================================
// LAYERS AND STOCK
// =============================================================================

type LayerDTO struct {
	ID                string          `json:"id"`
	SKU               string          `json:"sku"`
	Sequence          int64           `json:"sequence"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	QuantityReceived  int64           `json:"quantity_received"`
	QuantityRemaining int64           `json:"quantity_remaining"`
	ReceivedAt        time.Time       `json:"received_at"`
	ReferenceID       string          `json:"reference_id,omitempty"`
	Exhausted         bool            `json:"exhausted"`
}

type OnHandDTO struct {
	SKU    string `json:"sku"`
	OnHand int64  `json:"on_hand"`
}

func toLayerDTO(l costing.CostLayer) LayerDTO {
	return LayerDTO{
		ID:                string(l.ID),
		SKU:               string(l.SKU),
		Sequence:          l.Sequence,
		UnitCost:          l.UnitCost,
		QuantityReceived:  l.QuantityReceived,
		QuantityRemaining: l.QuantityRemaining,
		ReceivedAt:        l.ReceivedAt,
		ReferenceID:       l.ReferenceID,
		Exhausted:         l.Exhausted(),
	}
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

type AllocateRequest struct {
	SKU      string     `json:"sku"`
	Quantity int64      `json:"quantity"`
	SaleRef  string     `json:"sale_ref"`
	At       *time.Time `json:"at,omitempty"` // defaults to now
}

type AllocationDTO struct {
	ID          string          `json:"id"`
	LayerID     string          `json:"layer_id"`
	Quantity    int64           `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Reversal    bool            `json:"reversal,omitempty"`
	AllocatedAt time.Time       `json:"allocated_at"`
}

type AllocationResultDTO struct {
	SaleRef     string          `json:"sale_ref"`
	SKU         string          `json:"sku"`
	Quantity    int64           `json:"quantity"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	Allocations []AllocationDTO `json:"allocations"`
}

type ReverseRequest struct {
	At *time.Time `json:"at,omitempty"` // defaults to now
}

type WriteOffRequest struct {
	SKU      string     `json:"sku"`
	Quantity int64      `json:"quantity"`
	Reason   string     `json:"reason,omitempty"`
	At       *time.Time `json:"at,omitempty"`
}

type FoundStockRequest struct {
	SKU      string     `json:"sku"`
	Quantity int64      `json:"quantity"`
	Reason   string     `json:"reason,omitempty"`
	At       *time.Time `json:"at,omitempty"`
}

func toAllocationResultDTO(r costing.AllocationResult) AllocationResultDTO {
	dto := AllocationResultDTO{
		SaleRef:   string(r.SaleRef),
		SKU:       string(r.SKU),
		Quantity:  r.Quantity,
		TotalCost: r.TotalCost,
	}
	for _, a := range r.Allocations {
		dto.Allocations = append(dto.Allocations, AllocationDTO{
			ID:          string(a.ID),
			LayerID:     string(a.LayerID),
			Quantity:    a.Quantity,
			UnitCost:    a.UnitCost,
			Reversal:    a.Reversal,
			AllocatedAt: a.AllocatedAt,
		})
	}
	return dto
}

// =============================================================================
// REPORTS
// =============================================================================

type SKUValuationDTO struct {
	SKU    string          `json:"sku"`
	OnHand int64           `json:"on_hand"`
	Value  decimal.Decimal `json:"value"`
}

type ValuationDTO struct {
	AsOf  time.Time         `json:"as_of"`
	Total decimal.Decimal   `json:"total"`
	SKUs  []SKUValuationDTO `json:"skus"`
}

type COGSDTO struct {
	From time.Time       `json:"from"`
	To   time.Time       `json:"to"`
	COGS decimal.Decimal `json:"cogs"`
}

type MarginDTO struct {
	From    time.Time       `json:"from"`
	To      time.Time       `json:"to"`
	Revenue decimal.Decimal `json:"revenue"`
	COGS    decimal.Decimal `json:"cogs"`
	Margin  decimal.Decimal `json:"margin"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
