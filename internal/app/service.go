package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/haukened/caspio-proxy/internal/cache"
	"github.com/haukened/caspio-proxy/internal/config"
	"github.com/haukened/caspio-proxy/internal/domain"
	"github.com/haukened/caspio-proxy/internal/janitor"
)

// Deps wires a Service. ManageOrders may be nil when that upstream is not
// configured; its routes then fail with domain.ErrUnavailable.
type Deps struct {
	Caspio       Fetcher
	ManageOrders Fetcher
	Clock        Clock
	Cache        config.Cache
	Metrics      cache.Recorder
	Logger       *slog.Logger
}

// Service implements every proxy route.
type Service struct {
	caspio       Fetcher
	manageOrders Fetcher
	clock        Clock
	log          *slog.Logger

	pricingTiers    *cache.Cache[string, []PricingTier]
	embroideryCosts *cache.Cache[string, EmbroideryCost]
	baseCosts       *cache.Cache[string, map[string]float64]
	sizes           *cache.Cache[string, []SizePrice]
	productDetails  *cache.Cache[string, domain.Record]
	inventory       *cache.Cache[string, []domain.Record]
	search          *cache.Cache[string, []Product]
	dashboard       *cache.Cache[string, Dashboard]
	orders          *cache.Cache[string, Order]
	customers       *cache.Cache[string, []Customer]
}

// New builds a Service and its caches.
func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	opts := func(name string, ttl time.Duration, capacity int) cache.Options {
		return cache.Options{Name: name, TTL: ttl, Capacity: capacity, Now: d.Clock.Now, Metrics: d.Metrics}
	}
	c := d.Cache
	return &Service{
		caspio:          d.Caspio,
		manageOrders:    d.ManageOrders,
		clock:           d.Clock,
		log:             d.Logger.With("domain", "app"),
		pricingTiers:    cache.New[string, []PricingTier](opts("pricing_tiers", c.PricingTTL, 0)),
		embroideryCosts: cache.New[string, EmbroideryCost](opts("embroidery_costs", c.PricingTTL, 0)),
		baseCosts:       cache.New[string, map[string]float64](opts("base_item_costs", c.CostsTTL, 0)),
		sizes:           cache.New[string, []SizePrice](opts("sizes", c.CostsTTL, 0)),
		productDetails:  cache.New[string, domain.Record](opts("product_details", c.CostsTTL, 0)),
		inventory:       cache.New[string, []domain.Record](opts("inventory", c.InventoryTTL, c.InventoryCapacity)),
		search:          cache.New[string, []Product](opts("product_search", c.SearchTTL, c.SearchCapacity)),
		dashboard:       cache.New[string, Dashboard](opts("order_dashboard", c.DashboardTTL, 0)),
		orders:          cache.New[string, Order](opts("orders", c.OrderTTL, c.OrderCapacity)),
		customers:       cache.New[string, []Customer](opts("customers", c.CustomersTTL, 0)),
	}
}

// Caches lists every cache for status reporting and bulk clearing.
func (s *Service) Caches() []cache.Admin {
	return []cache.Admin{
		s.pricingTiers, s.embroideryCosts, s.baseCosts, s.sizes, s.productDetails,
		s.inventory, s.search, s.dashboard, s.orders, s.customers,
	}
}

// SweepTargets lists the caches the janitor sweeps. Only the bounded,
// high-cardinality caches need it; the rest hold a handful of keys.
func (s *Service) SweepTargets() []janitor.Target {
	return []janitor.Target{s.inventory, s.search, s.orders}
}

// ClearCaches drops every cached entry and returns how many were removed.
func (s *Service) ClearCaches() int {
	n := 0
	for _, c := range s.Caches() {
		n += c.Stats().Entries
		c.Clear()
	}
	s.log.Info("caches cleared", "entries", n)
	return n
}

// Lookup is a route result plus whether it was served from cache.
type Lookup[T any] struct {
	Value T
	Hit   bool
}

func lookup[T any](ctx context.Context, c *cache.Cache[string, T], key string, refresh bool, load func(context.Context) (T, error)) (Lookup[T], error) {
	v, hit, err := c.GetOrLoad(ctx, key, refresh, load)
	if err != nil {
		return Lookup[T]{}, err
	}
	return Lookup[T]{Value: v, Hit: hit}, nil
}

func (s *Service) requireManageOrders() (Fetcher, error) {
	if s.manageOrders == nil {
		return nil, domain.ErrUnavailable
	}
	return s.manageOrders, nil
}
