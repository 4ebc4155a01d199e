package httpx

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/haukened/caspio-proxy/internal/app"
	"github.com/haukened/caspio-proxy/internal/domain"
)

// Response headers describing how a result was produced.
const (
	CacheHeader    = "X-Cache"
	CompleteHeader = "X-Result-Complete"
	ReasonHeader   = "X-Stop-Reason"
)

// CacheParams holds parameters shared by every cached route.
type CacheParams struct {
	Refresh bool `query:"refresh"`
}

type pricingTiersQuery struct {
	CacheParams `query:",squash"`
	Method      string `query:"method" validate:"required"`
}

type embroideryQuery struct {
	CacheParams `query:",squash"`
	ItemType    string `query:"itemType" validate:"required"`
	StitchCount int    `query:"stitchCount" validate:"required,min=1"`
}

type styleQuery struct {
	CacheParams `query:",squash"`
	Style       string `query:"styleNumber" validate:"required"`
}

type styleColorQuery struct {
	CacheParams `query:",squash"`
	Style       string `query:"styleNumber" validate:"required"`
	Color       string `query:"color"`
}

type styleColorRequiredQuery struct {
	CacheParams `query:",squash"`
	Style       string `query:"styleNumber" validate:"required"`
	Color       string `query:"color" validate:"required"`
}

type searchQuery struct {
	CacheParams   `query:",squash"`
	Text          string   `query:"q"`
	Categories    []string `query:"category"`
	Brands        []string `query:"brand"`
	MinPrice      string   `query:"minPrice"`
	MaxPrice      string   `query:"maxPrice"`
	Sort          string   `query:"sort" validate:"omitempty,oneof=price_asc price_desc name_asc name_desc style"`
	Page          int      `query:"page" validate:"min=0,max=10000"`
	Limit         int      `query:"limit" validate:"min=0"`
	IncludeFacets bool     `query:"includeFacets"`
}

type passQuery struct {
	Where   string `query:"q.where"`
	OrderBy string `query:"q.orderBy"`
	Limit   int    `query:"q.limit" validate:"min=0"`
}

type dashboardQuery struct {
	CacheParams    `query:",squash"`
	Days           int  `query:"days" validate:"min=0,max=365"`
	IncludeDetails bool `query:"includeDetails"`
	CompareYoY     bool `query:"compareYoY"`
}

type customersQuery struct {
	CacheParams `query:",squash"`
	Days        int `query:"days" validate:"min=0,max=365"`
}

// writeLookup writes a cached result with its X-Cache header.
func writeLookup[T any](h *Handler, w http.ResponseWriter, r *http.Request, l app.Lookup[T]) {
	if l.Hit {
		w.Header().Set(CacheHeader, "HIT")
	} else {
		w.Header().Set(CacheHeader, "MISS")
	}
	h.writeJSON(r.Context(), w, http.StatusOK, l.Value)
}

// serveLookup binds q, runs fn and writes the cached result or the mapped error.
func serveLookup[Q, T any](h *Handler, w http.ResponseWriter, r *http.Request, q *Q, fn func(*Q) (app.Lookup[T], error)) {
	if err := bindQuery(r.URL.Query(), q); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	l, err := fn(q)
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	writeLookup(h, w, r, l)
}

func (h *Handler) handlePricingTiers(w http.ResponseWriter, r *http.Request) {
	serveLookup(h, w, r, &pricingTiersQuery{}, func(q *pricingTiersQuery) (app.Lookup[[]app.PricingTier], error) {
		return h.Service.PricingTiers(r.Context(), q.Method, q.Refresh)
	})
}

func (h *Handler) handleEmbroideryCosts(w http.ResponseWriter, r *http.Request) {
	serveLookup(h, w, r, &embroideryQuery{}, func(q *embroideryQuery) (app.Lookup[app.EmbroideryCost], error) {
		return h.Service.EmbroideryCost(r.Context(), q.ItemType, q.StitchCount, q.Refresh)
	})
}

func (h *Handler) handleBaseItemCosts(w http.ResponseWriter, r *http.Request) {
	serveLookup(h, w, r, &styleQuery{}, func(q *styleQuery) (app.Lookup[map[string]float64], error) {
		return h.Service.BaseItemCosts(r.Context(), q.Style, q.Refresh)
	})
}

func (h *Handler) handleSizesByStyleColor(w http.ResponseWriter, r *http.Request) {
	serveLookup(h, w, r, &styleColorRequiredQuery{}, func(q *styleColorRequiredQuery) (app.Lookup[[]app.SizePrice], error) {
		return h.Service.SizesByStyleColor(r.Context(), q.Style, q.Color, q.Refresh)
	})
}

func (h *Handler) handleProductDetails(w http.ResponseWriter, r *http.Request) {
	serveLookup(h, w, r, &styleColorQuery{}, func(q *styleColorQuery) (app.Lookup[domain.Record], error) {
		return h.Service.ProductDetails(r.Context(), q.Style, q.Color, q.Refresh)
	})
}

func (h *Handler) handleInventory(w http.ResponseWriter, r *http.Request) {
	serveLookup(h, w, r, &styleColorQuery{}, func(q *styleColorQuery) (app.Lookup[[]domain.Record], error) {
		return h.Service.Inventory(r.Context(), q.Style, q.Color, q.Refresh)
	})
}

func (h *Handler) handleProductSearch(w http.ResponseWriter, r *http.Request) {
	serveLookup(h, w, r, &searchQuery{}, func(q *searchQuery) (app.Lookup[app.SearchResult], error) {
		return h.Service.SearchProducts(r.Context(), app.SearchQuery{
			Text:          q.Text,
			Categories:    q.Categories,
			Brands:        q.Brands,
			MinPrice:      q.MinPrice,
			MaxPrice:      q.MaxPrice,
			Sort:          q.Sort,
			Page:          q.Page,
			Limit:         q.Limit,
			IncludeFacets: q.IncludeFacets,
		}, q.Refresh)
	})
}

func (h *Handler) handleOrderDashboard(w http.ResponseWriter, r *http.Request) {
	serveLookup(h, w, r, &dashboardQuery{}, func(q *dashboardQuery) (app.Lookup[app.Dashboard], error) {
		return h.Service.OrderDashboard(r.Context(), app.DashboardQuery{
			Days:           q.Days,
			IncludeDetails: q.IncludeDetails,
			CompareYoY:     q.CompareYoY,
		}, q.Refresh)
	})
}

func (h *Handler) handleOrder(w http.ResponseWriter, r *http.Request) {
	serveLookup(h, w, r, &CacheParams{}, func(q *CacheParams) (app.Lookup[app.Order], error) {
		return h.Service.Order(r.Context(), chi.URLParam(r, "orderNo"), q.Refresh)
	})
}

func (h *Handler) handleCustomers(w http.ResponseWriter, r *http.Request) {
	serveLookup(h, w, r, &customersQuery{}, func(q *customersQuery) (app.Lookup[[]app.Customer], error) {
		return h.Service.Customers(r.Context(), q.Days, q.Refresh)
	})
}

func (h *Handler) handleOrderODBC(w http.ResponseWriter, r *http.Request) {
	h.servePassThrough(w, r, h.Service.OrderRecords)
}

func (h *Handler) handleProductionSchedules(w http.ResponseWriter, r *http.Request) {
	h.servePassThrough(w, r, h.Service.ProductionSchedules)
}

// servePassThrough writes uncached records as a JSON array. Completeness is
// reported in headers so the body keeps the upstream row shape.
func (h *Handler) servePassThrough(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, q app.PassQuery) (app.Records, error)) {
	var q passQuery
	if err := bindQuery(r.URL.Query(), &q); err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	res, err := fn(r.Context(), app.PassQuery{Where: q.Where, OrderBy: q.OrderBy, Limit: q.Limit})
	if err != nil {
		h.mapServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set(CompleteHeader, strconv.FormatBool(res.Complete))
	if res.Reason != "" {
		w.Header().Set(ReasonHeader, string(res.Reason))
	}
	rows := res.Records
	if rows == nil {
		rows = []domain.Record{}
	}
	h.writeJSON(r.Context(), w, http.StatusOK, rows)
}
