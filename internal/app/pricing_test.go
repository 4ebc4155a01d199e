package app

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/haukened/caspio-proxy/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingTiers(t *testing.T) {
	f := newFakeFetcher()
	f.records[TablePricingTiers] = []domain.Record{
		{"TierLabel": "48-71", "DecorationMethod": "DTG", "MinQuantity": 48, "MaxQuantity": 71},
		{"TierLabel": "24-47", "DecorationMethod": "DTG", "MinQuantity": 24, "MaxQuantity": 47, "LTM_Fee": "50"},
	}
	svc, clk := newTestService(t, f, nil)
	ctx := context.Background()

	got, err := svc.PricingTiers(ctx, " dtg ", false)
	require.NoError(t, err)
	assert.False(t, got.Hit)
	require.Len(t, got.Value, 2)
	assert.Equal(t, "24-47", got.Value[0].TierLabel, "tiers sorted by minimum quantity")
	assert.Equal(t, 50.0, got.Value[0].LTMFee)
	assert.Equal(t, "DecorationMethod='DTG'", f.lastCall().params.Get("q.where"))

	got, err = svc.PricingTiers(ctx, "DTG", false)
	require.NoError(t, err)
	assert.True(t, got.Hit, "normalized method shares the cache entry")
	assert.Equal(t, 1, f.callCount())

	_, err = svc.PricingTiers(ctx, "DTG", true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.callCount(), "refresh must refetch")

	clk.Advance(time.Hour)
	got, err = svc.PricingTiers(ctx, "DTG", false)
	require.NoError(t, err)
	assert.False(t, got.Hit, "entry expires after the pricing TTL")
}

func TestPricingTiersUnknownMethodPassesThrough(t *testing.T) {
	f := newFakeFetcher()
	svc, _ := newTestService(t, f, nil)
	got, err := svc.PricingTiers(context.Background(), "Sublimation", false)
	require.NoError(t, err)
	assert.Empty(t, got.Value)
	assert.Equal(t, "DecorationMethod='Sublimation'", f.lastCall().params.Get("q.where"))
}

func TestPricingTiersRequiresMethod(t *testing.T) {
	svc, _ := newTestService(t, newFakeFetcher(), nil)
	_, err := svc.PricingTiers(context.Background(), "  ", false)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestPricingTiersUpstreamErrorNotCached(t *testing.T) {
	f := newFakeFetcher()
	f.err = domain.ErrUpstreamRequest
	svc, _ := newTestService(t, f, nil)
	_, err := svc.PricingTiers(context.Background(), "DTG", false)
	require.ErrorIs(t, err, domain.ErrUpstreamRequest)

	f.err = nil
	got, err := svc.PricingTiers(context.Background(), "DTG", false)
	require.NoError(t, err)
	assert.False(t, got.Hit)
}

func TestEmbroideryCost(t *testing.T) {
	f := newFakeFetcher()
	f.records[TableEmbroideryCosts] = []domain.Record{
		{"ItemType": "Shirt", "StitchCount": 5000, "EmbroideryCost": "$4.25"},
		{"ItemType": "Shirt", "StitchCount": 5000, "EmbroideryCost": 9.99},
	}
	svc, _ := newTestService(t, f, nil)

	got, err := svc.EmbroideryCost(context.Background(), "Shirt", 5000, false)
	require.NoError(t, err)
	assert.Equal(t, EmbroideryCost{ItemType: "Shirt", StitchCount: 5000, Cost: 4.25}, got.Value)
	assert.Equal(t, "ItemType='Shirt' AND StitchCount=5000", f.lastCall().params.Get("q.where"))
	assert.NotNil(t, f.lastCall().opts.EarlyExit)
}

func TestEmbroideryCostErrors(t *testing.T) {
	f := newFakeFetcher()
	svc, _ := newTestService(t, f, nil)
	ctx := context.Background()

	_, err := svc.EmbroideryCost(ctx, "", 5000, false)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
	_, err = svc.EmbroideryCost(ctx, "Cap", 0, false)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
	_, err = svc.EmbroideryCost(ctx, "Cap", 8000, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEmbroideryCostQuotesInput(t *testing.T) {
	f := newFakeFetcher()
	svc, _ := newTestService(t, f, nil)
	_, _ = svc.EmbroideryCost(context.Background(), "Men's Shirt", 100, false)
	assert.Equal(t, "ItemType='Men''s Shirt' AND StitchCount=100", f.lastCall().params.Get("q.where"))
}

func TestBaseItemCosts(t *testing.T) {
	f := newFakeFetcher()
	f.records[TableSanmarBulk] = []domain.Record{
		{"SIZE": "S", "CASE_PRICE": 3.50},
		{"SIZE": "S", "CASE_PRICE": "4.10"},
		{"SIZE": "2XL", "CASE_PRICE": 5.0},
		{"SIZE": "2XL", "CASE_PRICE": 4.0},
		{"SIZE": "", "CASE_PRICE": 99.0},
		{"SIZE": "M", "CASE_PRICE": nil},
	}
	svc, _ := newTestService(t, f, nil)
	got, err := svc.BaseItemCosts(context.Background(), "PC61", false)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"S": 4.10, "2XL": 5.0}, got.Value)
	call := f.lastCall()
	assert.Equal(t, "STYLE='PC61'", call.params.Get("q.where"))
	assert.Equal(t, "SIZE,CASE_PRICE", call.params.Get("q.select"))
}

func TestBaseItemCostsUnknownStyle(t *testing.T) {
	svc, _ := newTestService(t, newFakeFetcher(), nil)
	_, err := svc.BaseItemCosts(context.Background(), "NOPE", false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.BaseItemCosts(context.Background(), "", false)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestSizesByStyleColor(t *testing.T) {
	f := newFakeFetcher()
	f.records[TableSanmarBulk] = []domain.Record{
		{"SIZE": "XL", "CASE_PRICE": 4.0},
		{"SIZE": "S", "CASE_PRICE": 3.0},
		{"SIZE": "2XL", "CASE_PRICE": 6.0},
		{"SIZE": "M", "CASE_PRICE": 3.0},
		{"SIZE": "S", "CASE_PRICE": 3.2},
		{"SIZE": "Tall", "CASE_PRICE": 7.0},
	}
	svc, _ := newTestService(t, f, nil)
	got, err := svc.SizesByStyleColor(context.Background(), "PC61", "Navy", false)
	require.NoError(t, err)
	assert.Equal(t, []SizePrice{
		{"S", 3.2}, {"M", 3.0}, {"XL", 4.0}, {"2XL", 6.0}, {"Tall", 7.0},
	}, got.Value)
	assert.Equal(t, "STYLE='PC61' AND (COLOR_NAME='Navy' OR CATALOG_COLOR='Navy')", f.lastCall().params.Get("q.where"))
}

func TestSizesByStyleColorErrors(t *testing.T) {
	svc, _ := newTestService(t, newFakeFetcher(), nil)
	_, err := svc.SizesByStyleColor(context.Background(), "PC61", "", false)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
	_, err = svc.SizesByStyleColor(context.Background(), "PC61", "Navy", false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, errors.Is(err, domain.ErrInvalidQuery))
}

func TestCompareSizes(t *testing.T) {
	sizes := []string{"3XL", "zz", "XS", "OSFA", "xl", "M", "aa", "XXL", "2XL"}
	slices.SortFunc(sizes, compareSizes)
	assert.Equal(t, []string{"XS", "M", "xl", "2XL", "XXL", "3XL", "OSFA", "aa", "zz"}, sizes)
}
