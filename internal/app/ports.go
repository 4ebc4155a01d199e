// Package app defines the ports the proxy's use-cases depend on and the
// service that implements every route: building upstream queries, running
// them through the paginated harness, reshaping records and caching results.
// No HTTP or wire-format concerns belong here.
package app

import (
	"context"
	"net/url"
	"time"

	"github.com/haukened/caspio-proxy/internal/domain"
	"github.com/haukened/caspio-proxy/internal/upstream"
)

// Fetcher is the upstream port. *upstream.Client satisfies it.
type Fetcher interface {
	// FetchAll walks every page of resource and returns the accumulated
	// records with a completeness flag.
	FetchAll(ctx context.Context, resource string, params url.Values, opts upstream.Options) (upstream.Result, error)
	// FetchOne issues a single unpaginated GET.
	FetchOne(ctx context.Context, resource string, params url.Values) ([]domain.Record, error)
}

// Clock abstracts time to enable deterministic testing of date windows.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Caspio table resources.
const (
	TablePricingTiers       = "tables/Pricing_Tiers/records"
	TableEmbroideryCosts    = "tables/Embroidery_Costs/records"
	TableSanmarBulk         = "tables/Sanmar_Bulk_251816_Feb2024/records"
	TableInventory          = "tables/Inventory/records"
	TableOrderODBC          = "tables/ORDER_ODBC/records"
	TableProductionSchedule = "tables/Production_Schedule/records"
)

// ManageOrders resources.
const (
	ResourceOrders = "orders"
)
