/*
handlers.go - HTTP API handlers for the costing engine

PURPOSE:
  Exposes the FIFO costing engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Shipments:
    GET    /api/shipments                 List shipments
    POST   /api/shipments                 Create shipment
    GET    /api/shipments/{id}           Get shipment details
    POST   /api/shipments/{id}/receive   Mark received, create cost layers

  Stock:
    GET    /api/skus/{sku}/layers        Cost layers in FIFO order
    GET    /api/skus/{sku}/on-hand       Derived on-hand quantity

  Allocations:
    POST   /api/allocations                       Allocate a sale (FIFO)
    GET    /api/allocations/{saleRef}             Allocation rows for a sale
    POST   /api/allocations/{saleRef}/reverse     Reverse a sale's allocation

  Adjustments:
    POST   /api/adjustments/write-off    Shrinkage at FIFO cost
    POST   /api/adjustments/found-stock  Recount surplus as zero-cost layer

  Reports:
    GET    /api/reports/valuation?as_of=            Inventory valuation
    GET    /api/reports/cogs?from=&to=              COGS over [from, to)
    GET    /api/reports/margin?from=&to=&revenue=   Gross margin

ERROR HANDLING:
  Domain errors map to HTTP status by kind, not by string matching:
  - 400: validation (bad quantity, bad cost, malformed shipment)
  - 404: unknown shipment / nothing to reverse
  - 409: conflicts (oversell, duplicate sale ref, already reversed/received)
  - 503: contention that outlasted local retries (Retry-After set)
  - 500: everything else

  Allocation contention is retried here a few times before surfacing;
  the engine itself never loops.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/costing-engine/costing"
	"github.com/warp/costing-engine/shipments"
	"github.com/warp/costing-engine/store/sqlite"
)

// allocateRetries bounds the local retry loop on contention. Each retry
// re-reads the layers, so a retry after a concurrent sale allocates from
// whatever stock that sale left behind.
const allocateRetries = 3

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Ledger   costing.Ledger
	Engine   *costing.Engine
	Reader   *costing.Reader
	Adjuster *costing.Adjuster
	Receiver *shipments.Receiver
	Log      zerolog.Logger
}

// NewHandler wires the domain components around a single store.
func NewHandler(store *sqlite.Store, log zerolog.Logger) *Handler {
	ledger := costing.NewLedger(store)
	engine := costing.NewEngine(store)
	return &Handler{
		Store:    store,
		Ledger:   ledger,
		Engine:   engine,
		Reader:   costing.NewReader(store),
		Adjuster: costing.NewAdjuster(ledger, engine),
		Receiver: shipments.NewReceiver(store),
		Log:      log,
	}
}

// =============================================================================
// SHIPMENT HANDLERS
// =============================================================================

// ListShipments returns all shipments, newest first.
func (h *Handler) ListShipments(w http.ResponseWriter, r *http.Request) {
	all, err := h.Store.Shipments(r.Context())
	if err != nil {
		h.writeError(w, "Failed to list shipments", err)
		return
	}

	dtos := make([]ShipmentDTO, len(all))
	for i := range all {
		dtos[i] = toShipmentDTO(&all[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateShipment creates a new shipment in pending status.
func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var req CreateShipmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}

	s := &shipments.Shipment{
		Name:           req.Name,
		TrackingNumber: req.TrackingNumber,
		Supplier:       req.Supplier,
		Status:         shipments.Status(req.Status),
		DateShipped:    req.DateShipped,
		ExpectedDate:   req.ExpectedDate,
		ShippingCost:   req.ShippingCost,
		CustomsDuty:    req.CustomsDuty,
		OtherFees:      req.OtherFees,
		Notes:          req.Notes,
	}
	for _, item := range req.Items {
		s.Items = append(s.Items, shipments.Item{
			SKU:              costing.SKU(item.SKU),
			Quantity:         item.Quantity,
			ReceivedQuantity: item.ReceivedQuantity,
			UnitCost:         item.UnitCost,
		})
	}

	if err := h.Receiver.Create(r.Context(), s); err != nil {
		h.writeError(w, "Failed to create shipment", err)
		return
	}

	h.Log.Info().Str("shipment", s.ID).Str("tracking", s.TrackingNumber).
		Int("lines", len(s.Items)).Msg("shipment created")
	writeJSON(w, http.StatusCreated, toShipmentDTO(s))
}

// GetShipment returns a single shipment with its lines.
func (h *Handler) GetShipment(w http.ResponseWriter, r *http.Request) {
	s, err := h.Store.Shipment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "Failed to get shipment", err)
		return
	}
	writeJSON(w, http.StatusOK, toShipmentDTO(s))
}

// ReceiveShipment marks the shipment delivered and creates its cost
// layers, fees apportioned per unit. Receiving twice is a 409.
func (h *Handler) ReceiveShipment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ReceiveShipmentRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "Invalid request body", err)
			return
		}
	}
	receivedAt := time.Now().UTC()
	if req.ReceivedAt != nil {
		receivedAt = req.ReceivedAt.UTC()
	}

	layers, err := h.Receiver.Receive(r.Context(), id, receivedAt)
	if err != nil {
		h.writeError(w, "Failed to receive shipment", err)
		return
	}

	h.Log.Info().Str("shipment", id).Int("layers", len(layers)).
		Time("received_at", receivedAt).Msg("shipment received")

	dtos := make([]LayerDTO, len(layers))
	for i, l := range layers {
		dtos[i] = toLayerDTO(l)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// ListLayers returns the SKU's cost layers in FIFO order, exhausted
// layers included.
func (h *Handler) ListLayers(w http.ResponseWriter, r *http.Request) {
	sku := costing.SKU(chi.URLParam(r, "sku"))

	layers, err := h.Ledger.Layers(r.Context(), sku)
	if err != nil {
		h.writeError(w, "Failed to list layers", err)
		return
	}

	dtos := make([]LayerDTO, len(layers))
	for i, l := range layers {
		dtos[i] = toLayerDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetOnHand returns the derived on-hand quantity for a SKU.
func (h *Handler) GetOnHand(w http.ResponseWriter, r *http.Request) {
	sku := costing.SKU(chi.URLParam(r, "sku"))

	onHand, err := h.Ledger.OnHand(r.Context(), sku)
	if err != nil {
		h.writeError(w, "Failed to get on-hand", err)
		return
	}
	writeJSON(w, http.StatusOK, OnHandDTO{SKU: string(sku), OnHand: onHand})
}

// =============================================================================
// ALLOCATION HANDLERS
// =============================================================================

// Allocate consumes stock FIFO for a sale and returns the COGS breakdown.
func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}

	at := time.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}

	var result costing.AllocationResult
	var err error
	for attempt := 0; attempt <= allocateRetries; attempt++ {
		result, err = h.Engine.Allocate(r.Context(), costing.SKU(req.SKU), req.Quantity, costing.SaleRef(req.SaleRef), at)
		if err == nil || !costing.IsRetryable(err) {
			break
		}
		h.Log.Warn().Str("sku", req.SKU).Str("sale_ref", req.SaleRef).
			Int("attempt", attempt+1).Msg("allocation contention, retrying")
	}
	if err != nil {
		h.writeError(w, "Failed to allocate", err)
		return
	}

	h.Log.Info().Str("sku", req.SKU).Str("sale_ref", req.SaleRef).
		Int64("quantity", req.Quantity).Str("cogs", result.TotalCost.String()).
		Msg("sale allocated")
	writeJSON(w, http.StatusCreated, toAllocationResultDTO(result))
}

// GetAllocations returns every allocation row recorded for a sale
// reference, compensating rows included.
func (h *Handler) GetAllocations(w http.ResponseWriter, r *http.Request) {
	saleRef := costing.SaleRef(chi.URLParam(r, "saleRef"))

	allocs, err := h.Store.AllocationsBySale(r.Context(), saleRef)
	if err != nil {
		h.writeError(w, "Failed to get allocations", err)
		return
	}
	if len(allocs) == 0 {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "No allocations for sale reference"})
		return
	}

	dtos := make([]AllocationDTO, len(allocs))
	for i, a := range allocs {
		dtos[i] = AllocationDTO{
			ID:          string(a.ID),
			LayerID:     string(a.LayerID),
			Quantity:    a.Quantity,
			UnitCost:    a.UnitCost,
			Reversal:    a.Reversal,
			AllocatedAt: a.AllocatedAt,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Reverse re-credits the exact layers a sale drew from. Idempotency is
// enforced in the engine; a second reversal is a 409.
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	saleRef := costing.SaleRef(chi.URLParam(r, "saleRef"))

	var req ReverseRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "Invalid request body", err)
			return
		}
	}
	at := time.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}

	if err := h.Engine.Reverse(r.Context(), saleRef, at); err != nil {
		h.writeError(w, "Failed to reverse", err)
		return
	}

	h.Log.Info().Str("sale_ref", string(saleRef)).Msg("sale reversed")
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "reversed",
		"sale_ref": string(saleRef),
	})
}

// =============================================================================
// ADJUSTMENT HANDLERS
// =============================================================================

// WriteOff records shrinkage (damage, loss) at FIFO cost.
func (h *Handler) WriteOff(w http.ResponseWriter, r *http.Request) {
	var req WriteOffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}

	at := time.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}

	result, err := h.Adjuster.WriteOff(r.Context(), costing.SKU(req.SKU), req.Quantity, req.Reason, at)
	if err != nil {
		h.writeError(w, "Failed to write off stock", err)
		return
	}

	h.Log.Info().Str("sku", req.SKU).Int64("quantity", req.Quantity).
		Str("cost", result.TotalCost.String()).Msg("stock written off")
	writeJSON(w, http.StatusCreated, toAllocationResultDTO(result))
}

// FoundStock records recount surplus as a zero-cost layer.
func (h *Handler) FoundStock(w http.ResponseWriter, r *http.Request) {
	var req FoundStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body", err)
		return
	}

	at := time.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}

	layer, err := h.Adjuster.FoundStock(r.Context(), costing.SKU(req.SKU), req.Quantity, req.Reason, at)
	if err != nil {
		h.writeError(w, "Failed to record found stock", err)
		return
	}

	h.Log.Info().Str("sku", req.SKU).Int64("quantity", req.Quantity).Msg("found stock recorded")
	writeJSON(w, http.StatusCreated, toLayerDTO(layer))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetValuation returns inventory valuation as of a given instant
// (default: now). Past instants are reconstructed from the allocation log.
func (h *Handler) GetValuation(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()
	if s := r.URL.Query().Get("as_of"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeBadRequest(w, "Invalid as_of (use RFC 3339)", err)
			return
		}
		asOf = t
	}

	report, err := h.Reader.InventoryValuation(r.Context(), asOf)
	if err != nil {
		h.writeError(w, "Failed to compute valuation", err)
		return
	}

	dto := ValuationDTO{AsOf: report.AsOf, Total: report.Total, SKUs: []SKUValuationDTO{}}
	for _, sv := range report.SKUs {
		dto.SKUs = append(dto.SKUs, SKUValuationDTO{SKU: string(sv.SKU), OnHand: sv.OnHand, Value: sv.Value})
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetCOGS returns cost of goods sold over [from, to).
func (h *Handler) GetCOGS(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}

	cogs, err := h.Reader.COGS(r.Context(), from, to)
	if err != nil {
		h.writeError(w, "Failed to compute COGS", err)
		return
	}
	writeJSON(w, http.StatusOK, COGSDTO{From: from, To: to, COGS: cogs})
}

// GetMargin returns gross margin for [from, to). Revenue comes from the
// sales system via the query string; COGS comes from the allocation log.
func (h *Handler) GetMargin(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}

	revenue, err := parseDecimalParam(r, "revenue")
	if err != nil {
		writeBadRequest(w, "Invalid revenue", err)
		return
	}

	report, err := h.Reader.GrossMargin(r.Context(), from, to, revenue)
	if err != nil {
		h.writeError(w, "Failed to compute margin", err)
		return
	}
	writeJSON(w, http.StatusOK, MarginDTO{
		From:    report.From,
		To:      report.To,
		Revenue: report.Revenue,
		COGS:    report.COGS,
		Margin:  report.Margin,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeBadRequest(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

// writeError maps a domain error to an HTTP status and logs server-side
// failures. Client errors are the caller's problem and logged at debug.
func (h *Handler) writeError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.Log.Error().Err(err).Msg(message)
	} else {
		h.Log.Debug().Err(err).Int("status", status).Msg(message)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, ErrorResponse{Error: message, Details: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, costing.ErrLayerNotFound),
		errors.Is(err, costing.ErrNothingToReverse),
		errors.Is(err, shipments.ErrShipmentNotFound):
		return http.StatusNotFound
	case errors.Is(err, costing.ErrInsufficientStock),
		errors.Is(err, costing.ErrDuplicateSaleRef),
		errors.Is(err, costing.ErrAlreadyReversed),
		errors.Is(err, shipments.ErrAlreadyReceived):
		return http.StatusConflict
	case errors.Is(err, costing.ErrInvalidQuantity),
		errors.Is(err, costing.ErrInvalidCost),
		errors.Is(err, shipments.ErrInvalidShipment),
		errors.Is(err, shipments.ErrNoReceivedUnits):
		return http.StatusBadRequest
	case costing.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func parseRange(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	var err error
	from, err = time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		writeBadRequest(w, "Invalid from (use RFC 3339)", err)
		return
	}
	to, err = time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		writeBadRequest(w, "Invalid to (use RFC 3339)", err)
		return
	}
	if !to.After(from) {
		writeBadRequest(w, "to must be after from", nil)
		return
	}
	return from, to, true
}

func parseDecimalParam(r *http.Request, name string) (decimal.Decimal, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
