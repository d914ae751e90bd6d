/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. zerolog:    Structured request logging
  4. CORS:       Cross-origin requests for admin frontends

ROUTE GROUPS:
  /api/shipments/*     Inbound shipment tracking and receipt
  /api/skus/*          Layer and stock queries
  /api/allocations/*   Sale allocation and reversal
  /api/adjustments/*   Shrinkage and recount corrections
  /api/reports/*       Valuation, COGS, margin

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.
  Front with a gateway before exposing beyond the back office.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Shipment routes
		r.Route("/shipments", func(r chi.Router) {
			r.Get("/", h.ListShipments)
			r.Post("/", h.CreateShipment)
			r.Get("/{id}", h.GetShipment)
			r.Post("/{id}/receive", h.ReceiveShipment)
		})

		// Stock routes
		r.Route("/skus/{sku}", func(r chi.Router) {
			r.Get("/layers", h.ListLayers)
			r.Get("/on-hand", h.GetOnHand)
		})

		// Allocation routes
		r.Route("/allocations", func(r chi.Router) {
			r.Post("/", h.Allocate)
			r.Get("/{saleRef}", h.GetAllocations)
			r.Post("/{saleRef}/reverse", h.Reverse)
		})

		// Adjustment routes
		r.Route("/adjustments", func(r chi.Router) {
			r.Post("/write-off", h.WriteOff)
			r.Post("/found-stock", h.FoundStock)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/valuation", h.GetValuation)
			r.Get("/cogs", h.GetCOGS)
			r.Get("/margin", h.GetMargin)
		})
	})

	return r
}

// requestLogger logs one line per request with method, path, status,
// duration, and the chi request ID.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("request")
		})
	}
}
