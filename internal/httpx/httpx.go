// Package httpx contains the HTTP delivery layer for the proxy. It binds and
// validates query parameters, calls the application service, applies cache
// headers and translates errors into JSON responses.
// Handlers are split across files (routes.go, status.go, health.go, errors.go).
package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/haukened/caspio-proxy/internal/app"
	"github.com/haukened/caspio-proxy/internal/auth"
	"github.com/haukened/caspio-proxy/internal/cache"
	"github.com/haukened/caspio-proxy/internal/domain"
	"github.com/haukened/caspio-proxy/internal/janitor"
)

// ServicePort abstracts the subset of app.Service used by the HTTP layer.
// It is satisfied by *app.Service in production and mocked in tests.
type ServicePort interface {
	PricingTiers(ctx context.Context, method string, refresh bool) (app.Lookup[[]app.PricingTier], error)
	EmbroideryCost(ctx context.Context, itemType string, stitchCount int, refresh bool) (app.Lookup[app.EmbroideryCost], error)
	BaseItemCosts(ctx context.Context, style string, refresh bool) (app.Lookup[map[string]float64], error)
	SizesByStyleColor(ctx context.Context, style, color string, refresh bool) (app.Lookup[[]app.SizePrice], error)
	ProductDetails(ctx context.Context, style, color string, refresh bool) (app.Lookup[domain.Record], error)
	Inventory(ctx context.Context, style, color string, refresh bool) (app.Lookup[[]domain.Record], error)
	SearchProducts(ctx context.Context, q app.SearchQuery, refresh bool) (app.Lookup[app.SearchResult], error)
	OrderRecords(ctx context.Context, q app.PassQuery) (app.Records, error)
	ProductionSchedules(ctx context.Context, q app.PassQuery) (app.Records, error)
	OrderDashboard(ctx context.Context, q app.DashboardQuery, refresh bool) (app.Lookup[app.Dashboard], error)
	Order(ctx context.Context, orderNo string, refresh bool) (app.Lookup[app.Order], error)
	Customers(ctx context.Context, days int, refresh bool) (app.Lookup[[]app.Customer], error)
	Caches() []cache.Admin
	ClearCaches() int
}

// TokenState reports a token provider's expiry. *auth.Provider satisfies it.
type TokenState interface {
	State() auth.State
}

// Recorder receives request metrics. *metrics.Manager satisfies it.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, v int64)
}

// Handler wires HTTP endpoints to the application service.
// It is safe for concurrent use. Zero-value is not valid; construct via New.
type Handler struct {
	Service    ServicePort
	Readiness  func(context.Context) error // optional readiness check
	Tokens     map[string]TokenState       // upstream name -> provider, for /api/status
	Janitor    func() janitor.MetricsView  // optional sweep stats for /api/status
	Metrics    http.Handler                // optional /metrics endpoint
	Recorder   Recorder                    // optional request metrics sink
	CORSOrigin string                      // Access-Control-Allow-Origin value; empty disables CORS
	Logger     *slog.Logger
	Started    time.Time
}

// New returns a configured Handler.
// svc: application service port implementation.
// readiness: optional check function for /readyz (nil => always ready).
func New(svc ServicePort, readiness func(context.Context) error) *Handler {
	return &Handler{Service: svc, Readiness: readiness, Logger: slog.Default(), Started: time.Now()}
}

func (h *Handler) log() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Router constructs and returns an http.Handler with all routes mounted and
// the middleware chain applied.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(CorrelationIDMiddleware)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(h.secureHeaders)
	r.Use(h.cors)

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/pricing-tiers", h.handlePricingTiers)
		r.Get("/embroidery-costs", h.handleEmbroideryCosts)
		r.Get("/base-item-costs", h.handleBaseItemCosts)
		r.Get("/sizes-by-style-color", h.handleSizesByStyleColor)
		r.Get("/product-details", h.handleProductDetails)
		r.Get("/inventory", h.handleInventory)
		r.Get("/products/search", h.handleProductSearch)
		r.Get("/order-odbc", h.handleOrderODBC)
		r.Get("/production-schedules", h.handleProductionSchedules)
		r.Get("/order-dashboard", h.handleOrderDashboard)
		r.Route("/manageorders", func(r chi.Router) {
			r.Get("/orders/{orderNo}", h.handleOrder)
			r.Get("/customers", h.handleCustomers)
		})
		r.Get("/status", h.handleStatus)
		r.Delete("/cache", h.handleClearCache)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(r.Context(), w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(r.Context(), w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
