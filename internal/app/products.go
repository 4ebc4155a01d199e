package app

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strings"

	"github.com/haukened/caspio-proxy/internal/cache"
	"github.com/haukened/caspio-proxy/internal/domain"
	"github.com/haukened/caspio-proxy/internal/upstream"
)

// Inventory field names.
const (
	fieldInvStyle = "catalog_no"
	fieldInvColor = "catalog_color"
)

// Inventory returns warehouse stock rows for a style, optionally narrowed to a
// color. Rows are passed through with upstream field names.
func (s *Service) Inventory(ctx context.Context, style, color string, refresh bool) (Lookup[[]domain.Record], error) {
	style, color = strings.TrimSpace(style), strings.TrimSpace(color)
	if style == "" {
		return Lookup[[]domain.Record]{}, fmt.Errorf("%w: styleNumber is required", domain.ErrInvalidQuery)
	}
	return lookup(ctx, s.inventory, style+"|"+color, refresh, func(ctx context.Context) ([]domain.Record, error) {
		var w domain.Where
		w.Eq(fieldInvStyle, style).Eq(fieldInvColor, color)
		res, err := s.caspio.FetchAll(ctx, TableInventory, url.Values{"q.where": {w.String()}}, upstream.Options{})
		if err != nil {
			return nil, err
		}
		return nonNil(res.Records), nil
	})
}

// ProductDetails returns the first catalog row for a style and color.
func (s *Service) ProductDetails(ctx context.Context, style, color string, refresh bool) (Lookup[domain.Record], error) {
	style, color = strings.TrimSpace(style), strings.TrimSpace(color)
	if style == "" {
		return Lookup[domain.Record]{}, fmt.Errorf("%w: styleNumber is required", domain.ErrInvalidQuery)
	}
	return lookup(ctx, s.productDetails, style+"|"+color, refresh, func(ctx context.Context) (domain.Record, error) {
		var w domain.Where
		w.Eq(fieldStyle, style)
		if color != "" {
			w.Raw(colorMatch(color))
		}
		res, err := s.caspio.FetchAll(ctx, TableSanmarBulk, url.Values{"q.where": {w.String()}}, upstream.Options{
			EarlyExit: func(page, _ []domain.Record) bool { return len(page) > 0 },
		})
		if err != nil {
			return nil, err
		}
		if len(res.Records) == 0 {
			return nil, fmt.Errorf("%w: product %s %s", domain.ErrNotFound, style, color)
		}
		return res.Records[0], nil
	})
}

// Product is one style with its catalog rows folded together.
type Product struct {
	Style       string   `json:"style"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Brand       string   `json:"brand"`
	Category    string   `json:"category"`
	Image       string   `json:"image,omitempty"`
	Colors      []string `json:"colors"`
	Sizes       []string `json:"sizes"`
	MinPrice    float64  `json:"minPrice"`
	MaxPrice    float64  `json:"maxPrice"`
}

// SearchQuery holds product search filters. Categories and Brands match any
// of their values.
type SearchQuery struct {
	Text          string
	Categories    []string
	Brands        []string
	MinPrice      string
	MaxPrice      string
	Sort          string
	Page          int
	Limit         int
	IncludeFacets bool
}

// Facet is one filter value and how many products carry it.
type Facet struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Pagination describes the returned window of a locally paged result.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// SearchResult is the product search response.
type SearchResult struct {
	Products   []Product          `json:"products"`
	Pagination Pagination         `json:"pagination"`
	Facets     map[string][]Facet `json:"facets,omitempty"`
}

const (
	defaultSearchLimit = 24
	maxSearchLimit     = 100
)

// Sort orders accepted by SearchProducts. Anything else keeps upstream order.
const (
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortNameAsc   = "name_asc"
	SortNameDesc  = "name_desc"
	SortStyle     = "style"
)

// SearchProducts filters the catalog upstream, groups rows by style and pages
// the grouped list locally. The grouped list is cached per filter set so
// paging and re-sorting do not refetch.
func (s *Service) SearchProducts(ctx context.Context, q SearchQuery, refresh bool) (Lookup[SearchResult], error) {
	minP, hasMin, err := domain.ParseNumber(q.MinPrice)
	if err != nil {
		return Lookup[SearchResult]{}, err
	}
	maxP, hasMax, err := domain.ParseNumber(q.MaxPrice)
	if err != nil {
		return Lookup[SearchResult]{}, err
	}
	if hasMin && hasMax && minP > maxP {
		return Lookup[SearchResult]{}, fmt.Errorf("%w: minPrice exceeds maxPrice", domain.ErrInvalidQuery)
	}
	text := strings.TrimSpace(q.Text)
	cats, brands := compact(q.Categories), compact(q.Brands)

	var w domain.Where
	w.AnyLike(text, fieldStyle, fieldTitle, fieldDescription, fieldBrand)
	inOrEq(&w, fieldCategory, cats)
	inOrEq(&w, fieldBrand, brands)
	if hasMin {
		w.Cmp(fieldCasePrice, ">=", minP)
	}
	if hasMax {
		w.Cmp(fieldCasePrice, "<=", maxP)
	}
	w.Raw(fieldStatus + "<>'Discontinued'")

	params := url.Values{"q.where": {w.String()}}
	key := cache.Key(url.Values{"q": {text}, "category": cats, "brand": brands, "minPrice": {q.MinPrice}, "maxPrice": {q.MaxPrice}})

	grouped, err := lookup(ctx, s.search, key, refresh, func(ctx context.Context) ([]Product, error) {
		res, err := s.caspio.FetchAll(ctx, TableSanmarBulk, params, upstream.Options{})
		if err != nil {
			return nil, err
		}
		if !res.Complete {
			s.log.Warn("product search served from partial upstream result", "reason", res.Reason, "rows", len(res.Records))
		}
		return groupProducts(res.Records), nil
	})
	if err != nil {
		return Lookup[SearchResult]{}, err
	}

	products := slices.Clone(grouped.Value)
	sortProducts(products, q.Sort)

	limit := domain.ClampInt(q.Limit, defaultSearchLimit, 1, maxSearchLimit)
	page := max(q.Page, 1)
	start, end := domain.PageBounds(page, limit, len(products))
	out := SearchResult{
		Products: nonNil(products[start:end]),
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      len(products),
			TotalPages: int(math.Ceil(float64(len(products)) / float64(limit))),
		},
	}
	if q.IncludeFacets {
		out.Facets = map[string][]Facet{
			"categories": facetCounts(products, func(p Product) string { return p.Category }),
			"brands":     facetCounts(products, func(p Product) string { return p.Brand }),
		}
	}
	return Lookup[SearchResult]{Value: out, Hit: grouped.Hit}, nil
}

func inOrEq(w *domain.Where, field string, vals []string) {
	switch len(vals) {
	case 0:
	case 1:
		w.Eq(field, vals[0])
	default:
		w.In(field, vals...)
	}
}

// groupProducts folds catalog rows into one Product per style, keeping the
// order in which styles first appear.
func groupProducts(recs []domain.Record) []Product {
	idx := make(map[string]int)
	colorSeen := make(map[string]map[string]bool)
	sizeSeen := make(map[string]map[string]bool)
	var out []Product
	for _, r := range recs {
		style := r.String(fieldStyle)
		if style == "" {
			continue
		}
		i, ok := idx[style]
		if !ok {
			i = len(out)
			idx[style] = i
			out = append(out, Product{
				Style:       style,
				Title:       r.String(fieldTitle),
				Description: r.String(fieldDescription),
				Brand:       r.String(fieldBrand),
				Category:    r.String(fieldCategory),
				Image:       r.String(fieldImage),
				Colors:      []string{},
				Sizes:       []string{},
				MinPrice:    math.Inf(1),
			})
			colorSeen[style] = map[string]bool{}
			sizeSeen[style] = map[string]bool{}
		}
		p := &out[i]
		if c := r.String(fieldColorName); c != "" && !colorSeen[style][c] {
			colorSeen[style][c] = true
			p.Colors = append(p.Colors, c)
		}
		if sz := r.String(fieldSize); sz != "" && !sizeSeen[style][sz] {
			sizeSeen[style][sz] = true
			p.Sizes = append(p.Sizes, sz)
		}
		if price, ok := r.Float(fieldCasePrice); ok && price > 0 {
			p.MinPrice = min(p.MinPrice, price)
			p.MaxPrice = max(p.MaxPrice, price)
		}
	}
	for i := range out {
		if math.IsInf(out[i].MinPrice, 1) {
			out[i].MinPrice = 0
		}
		slices.SortFunc(out[i].Sizes, compareSizes)
	}
	return out
}

func sortProducts(ps []Product, order string) {
	var f func(a, b Product) int
	switch order {
	case SortPriceAsc:
		f = func(a, b Product) int { return cmp.Compare(a.MinPrice, b.MinPrice) }
	case SortPriceDesc:
		f = func(a, b Product) int { return cmp.Compare(b.MinPrice, a.MinPrice) }
	case SortNameAsc:
		f = func(a, b Product) int { return cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)) }
	case SortNameDesc:
		f = func(a, b Product) int { return cmp.Compare(strings.ToLower(b.Title), strings.ToLower(a.Title)) }
	case SortStyle:
		f = func(a, b Product) int { return cmp.Compare(a.Style, b.Style) }
	default:
		return
	}
	slices.SortStableFunc(ps, f)
}

func facetCounts(ps []Product, value func(Product) string) []Facet {
	counts := make(map[string]int)
	for _, p := range ps {
		if v := value(p); v != "" {
			counts[v]++
		}
	}
	out := make([]Facet, 0, len(counts))
	for v, n := range counts {
		out = append(out, Facet{Value: v, Count: n})
	}
	slices.SortFunc(out, func(a, b Facet) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Value, b.Value)
	})
	return out
}

// compact trims values, splits comma lists and drops blanks and duplicates.
func compact(vals []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" && !seen[part] {
				seen[part] = true
				out = append(out, part)
			}
		}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
