package app

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/haukened/caspio-proxy/internal/domain"
	"github.com/haukened/caspio-proxy/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogRows() []domain.Record {
	return []domain.Record{
		{"STYLE": "PC61", "PRODUCT_TITLE": "Essential Tee", "BRAND_NAME": "Port & Company", "CATEGORY_NAME": "T-Shirts", "COLOR_NAME": "Navy", "SIZE": "L", "CASE_PRICE": 3.5},
		{"STYLE": "PC61", "PRODUCT_TITLE": "Essential Tee", "BRAND_NAME": "Port & Company", "CATEGORY_NAME": "T-Shirts", "COLOR_NAME": "Navy", "SIZE": "S", "CASE_PRICE": 3.0},
		{"STYLE": "PC61", "PRODUCT_TITLE": "Essential Tee", "BRAND_NAME": "Port & Company", "CATEGORY_NAME": "T-Shirts", "COLOR_NAME": "Red", "SIZE": "2XL", "CASE_PRICE": "$5.00"},
		{"STYLE": "K500", "PRODUCT_TITLE": "Silk Touch Polo", "BRAND_NAME": "Port Authority", "CATEGORY_NAME": "Polos", "COLOR_NAME": "Black", "SIZE": "M", "CASE_PRICE": 12.0},
		{"STYLE": "DT6000", "PRODUCT_TITLE": "Very Important Tee", "BRAND_NAME": "District", "CATEGORY_NAME": "T-Shirts", "COLOR_NAME": "White", "SIZE": "M", "CASE_PRICE": 4.0},
		{"STYLE": "", "PRODUCT_TITLE": "orphan"},
	}
}

func TestSearchProductsGroupsByStyle(t *testing.T) {
	f := newFakeFetcher()
	f.records[TableSanmarBulk] = catalogRows()
	svc, _ := newTestService(t, f, nil)

	got, err := svc.SearchProducts(context.Background(), SearchQuery{Text: "tee"}, false)
	require.NoError(t, err)
	res := got.Value
	require.Len(t, res.Products, 3)
	pc61 := res.Products[0]
	assert.Equal(t, "PC61", pc61.Style)
	assert.Equal(t, []string{"Navy", "Red"}, pc61.Colors)
	assert.Equal(t, []string{"S", "L", "2XL"}, pc61.Sizes)
	assert.Equal(t, 3.0, pc61.MinPrice)
	assert.Equal(t, 5.0, pc61.MaxPrice)
	assert.Equal(t, Pagination{Page: 1, Limit: 24, Total: 3, TotalPages: 1}, res.Pagination)
	assert.Nil(t, res.Facets)

	where := f.lastCall().params.Get("q.where")
	assert.True(t, strings.HasPrefix(where, "(STYLE LIKE '%tee%' OR PRODUCT_TITLE LIKE '%tee%'"), where)
	assert.True(t, strings.HasSuffix(where, "PRODUCT_STATUS<>'Discontinued'"), where)
}

func TestSearchProductsFilters(t *testing.T) {
	f := newFakeFetcher()
	svc, _ := newTestService(t, f, nil)
	_, err := svc.SearchProducts(context.Background(), SearchQuery{
		Categories: []string{"T-Shirts, Polos", "Polos"},
		Brands:     []string{"Port & Company"},
		MinPrice:   "10",
		MaxPrice:   "50.5",
	}, false)
	require.NoError(t, err)
	assert.Equal(t,
		"CATEGORY_NAME IN ('T-Shirts','Polos') AND BRAND_NAME='Port & Company' AND CASE_PRICE>=10 AND CASE_PRICE<=50.5 AND PRODUCT_STATUS<>'Discontinued'",
		f.lastCall().params.Get("q.where"))
}

func TestSearchProductsInvalidPrice(t *testing.T) {
	f := newFakeFetcher()
	svc, _ := newTestService(t, f, nil)
	ctx := context.Background()
	for _, q := range []SearchQuery{
		{MinPrice: "cheap"},
		{MaxPrice: "NaN"},
		{MinPrice: "20", MaxPrice: "10"},
	} {
		_, err := svc.SearchProducts(ctx, q, false)
		assert.ErrorIs(t, err, domain.ErrInvalidQuery, "%+v", q)
	}
	assert.Zero(t, f.callCount(), "invalid filters must not reach the upstream")
}

func TestSearchProductsPagingSortingAndCache(t *testing.T) {
	f := newFakeFetcher()
	f.records[TableSanmarBulk] = catalogRows()
	svc, _ := newTestService(t, f, nil)
	ctx := context.Background()

	got, err := svc.SearchProducts(ctx, SearchQuery{Sort: SortPriceDesc, Limit: 2, Page: 1}, false)
	require.NoError(t, err)
	assert.False(t, got.Hit)
	require.Len(t, got.Value.Products, 2)
	assert.Equal(t, "K500", got.Value.Products[0].Style)
	assert.Equal(t, 2, got.Value.Pagination.TotalPages)

	got, err = svc.SearchProducts(ctx, SearchQuery{Sort: SortPriceDesc, Limit: 2, Page: 2}, false)
	require.NoError(t, err)
	assert.True(t, got.Hit, "paging reuses the cached grouped list")
	require.Len(t, got.Value.Products, 1)
	assert.Equal(t, "PC61", got.Value.Products[0].Style)

	got, err = svc.SearchProducts(ctx, SearchQuery{Sort: SortNameAsc, Page: 9}, false)
	require.NoError(t, err)
	assert.NotNil(t, got.Value.Products)
	assert.Empty(t, got.Value.Products)
	assert.Equal(t, 1, f.callCount())

	got, err = svc.SearchProducts(ctx, SearchQuery{Sort: SortNameAsc, Limit: 500}, false)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Value.Pagination.Limit)
	assert.Equal(t, "Essential Tee", got.Value.Products[0].Title)
}

func TestSearchProductsHugePageIsEmpty(t *testing.T) {
	f := newFakeFetcher()
	f.records[TableSanmarBulk] = catalogRows()
	svc, _ := newTestService(t, f, nil)
	got, err := svc.SearchProducts(context.Background(), SearchQuery{Page: math.MaxInt64/24 + 2}, false)
	require.NoError(t, err)
	assert.NotNil(t, got.Value.Products)
	assert.Empty(t, got.Value.Products)
	assert.Equal(t, 3, got.Value.Pagination.Total)
}

func TestSearchProductsFacets(t *testing.T) {
	f := newFakeFetcher()
	f.records[TableSanmarBulk] = catalogRows()
	svc, _ := newTestService(t, f, nil)
	got, err := svc.SearchProducts(context.Background(), SearchQuery{IncludeFacets: true}, false)
	require.NoError(t, err)
	assert.Equal(t, []Facet{{"T-Shirts", 2}, {"Polos", 1}}, got.Value.Facets["categories"])
	assert.Len(t, got.Value.Facets["brands"], 3)
}

func TestSearchProductsPartialUpstreamStillServes(t *testing.T) {
	f := newFakeFetcher()
	f.records[TableSanmarBulk] = catalogRows()
	f.complete = false
	f.reason = upstream.StopPageCap
	svc, _ := newTestService(t, f, nil)
	got, err := svc.SearchProducts(context.Background(), SearchQuery{}, false)
	require.NoError(t, err)
	assert.Len(t, got.Value.Products, 3)
}

func TestInventory(t *testing.T) {
	f := newFakeFetcher()
	f.records[TableInventory] = []domain.Record{{"SIZE": "M", "QTY_AVAILABLE": 12}}
	svc, _ := newTestService(t, f, nil)
	ctx := context.Background()

	got, err := svc.Inventory(ctx, "PC61", "Navy", false)
	require.NoError(t, err)
	assert.Equal(t, "catalog_no='PC61' AND catalog_color='Navy'", f.lastCall().params.Get("q.where"))
	assert.Equal(t, 12, got.Value[0]["QTY_AVAILABLE"])

	_, err = svc.Inventory(ctx, "PC61", "", false)
	require.NoError(t, err)
	assert.Equal(t, "catalog_no='PC61'", f.lastCall().params.Get("q.where"))

	got, err = svc.Inventory(ctx, "PC61", "Navy", false)
	require.NoError(t, err)
	assert.True(t, got.Hit)

	_, err = svc.Inventory(ctx, "", "Navy", false)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestInventoryEmptyIsNotNil(t *testing.T) {
	svc, _ := newTestService(t, newFakeFetcher(), nil)
	got, err := svc.Inventory(context.Background(), "PC61", "", false)
	require.NoError(t, err)
	assert.NotNil(t, got.Value)
}

func TestProductDetails(t *testing.T) {
	f := newFakeFetcher()
	f.records[TableSanmarBulk] = catalogRows()[:2]
	svc, _ := newTestService(t, f, nil)
	got, err := svc.ProductDetails(context.Background(), "PC61", "Navy", false)
	require.NoError(t, err)
	assert.Equal(t, "L", got.Value.String("SIZE"))

	f.records[TableSanmarBulk] = nil
	_, err = svc.ProductDetails(context.Background(), "PC61", "Green", false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
