package app

import (
	"cmp"
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/haukened/caspio-proxy/internal/domain"
	"github.com/haukened/caspio-proxy/internal/upstream"
)

// PricingTier is one quantity band of a decoration method.
type PricingTier struct {
	TierLabel         string  `mapstructure:"TierLabel" json:"tierLabel"`
	DecorationMethod  string  `mapstructure:"DecorationMethod" json:"decorationMethod"`
	MinQuantity       int     `mapstructure:"MinQuantity" json:"minQuantity"`
	MaxQuantity       int     `mapstructure:"MaxQuantity" json:"maxQuantity"`
	MarginDenominator float64 `mapstructure:"MarginDenominator" json:"marginDenominator"`
	TargetMargin      float64 `mapstructure:"TargetMargin" json:"targetMargin"`
	LTMFee            float64 `mapstructure:"LTM_Fee" json:"ltmFee"`
}

// EmbroideryCost is the per-item cost for a stitch count.
type EmbroideryCost struct {
	ItemType    string  `mapstructure:"ItemType" json:"itemType"`
	StitchCount int     `mapstructure:"StitchCount" json:"stitchCount"`
	Cost        float64 `mapstructure:"EmbroideryCost" json:"cost"`
}

// SizePrice pairs a garment size with its case price.
type SizePrice struct {
	Size  string  `json:"size"`
	Price float64 `json:"price"`
}

// Sanmar_Bulk field names.
const (
	fieldStyle       = "STYLE"
	fieldColorName   = "COLOR_NAME"
	fieldCatalogClr  = "CATALOG_COLOR"
	fieldSize        = "SIZE"
	fieldCasePrice   = "CASE_PRICE"
	fieldTitle       = "PRODUCT_TITLE"
	fieldDescription = "PRODUCT_DESCRIPTION"
	fieldBrand       = "BRAND_NAME"
	fieldCategory    = "CATEGORY_NAME"
	fieldImage       = "FRONT_MODEL"
	fieldStatus      = "PRODUCT_STATUS"
)

var decorationMethods = map[string]string{
	"dtg":          "DTG",
	"screenprint":  "ScreenPrint",
	"screen-print": "ScreenPrint",
	"embroidery":   "Embroidery",
	"cap":          "EmbroideryCaps",
	"dtf":          "DTF",
}

// canonicalMethod normalizes a decoration method name. Unknown names pass
// through unchanged so new upstream methods need no code change.
func canonicalMethod(m string) string {
	if c, ok := decorationMethods[strings.ToLower(strings.TrimSpace(m))]; ok {
		return c
	}
	return strings.TrimSpace(m)
}

// PricingTiers returns the quantity tiers for a decoration method ordered by
// minimum quantity.
func (s *Service) PricingTiers(ctx context.Context, method string, refresh bool) (Lookup[[]PricingTier], error) {
	method = canonicalMethod(method)
	if method == "" {
		return Lookup[[]PricingTier]{}, fmt.Errorf("%w: method is required", domain.ErrInvalidQuery)
	}
	return lookup(ctx, s.pricingTiers, method, refresh, func(ctx context.Context) ([]PricingTier, error) {
		var w domain.Where
		w.Eq("DecorationMethod", method)
		res, err := s.caspio.FetchAll(ctx, TablePricingTiers, url.Values{"q.where": {w.String()}}, upstream.Options{})
		if err != nil {
			return nil, err
		}
		tiers, err := decodeRecords[PricingTier](res.Records)
		if err != nil {
			return nil, err
		}
		slices.SortStableFunc(tiers, func(a, b PricingTier) int { return cmp.Compare(a.MinQuantity, b.MinQuantity) })
		return tiers, nil
	})
}

// EmbroideryCost returns the cost row for an item type and exact stitch count.
func (s *Service) EmbroideryCost(ctx context.Context, itemType string, stitchCount int, refresh bool) (Lookup[EmbroideryCost], error) {
	itemType = strings.TrimSpace(itemType)
	if itemType == "" || stitchCount <= 0 {
		return Lookup[EmbroideryCost]{}, fmt.Errorf("%w: itemType and a positive stitchCount are required", domain.ErrInvalidQuery)
	}
	key := itemType + "|" + strconv.Itoa(stitchCount)
	return lookup(ctx, s.embroideryCosts, key, refresh, func(ctx context.Context) (EmbroideryCost, error) {
		var w domain.Where
		w.Eq("ItemType", itemType).Cmp("StitchCount", "=", float64(stitchCount))
		res, err := s.caspio.FetchAll(ctx, TableEmbroideryCosts, url.Values{"q.where": {w.String()}}, upstream.Options{
			EarlyExit: func(page, _ []domain.Record) bool { return len(page) > 0 },
		})
		if err != nil {
			return EmbroideryCost{}, err
		}
		if len(res.Records) == 0 {
			return EmbroideryCost{}, fmt.Errorf("%w: no embroidery cost for %s at %d stitches", domain.ErrNotFound, itemType, stitchCount)
		}
		var out EmbroideryCost
		err = decodeRecord(res.Records[0], &out)
		return out, err
	})
}

// BaseItemCosts returns, per size, the highest case price seen across every
// color of a style.
func (s *Service) BaseItemCosts(ctx context.Context, style string, refresh bool) (Lookup[map[string]float64], error) {
	style = strings.TrimSpace(style)
	if style == "" {
		return Lookup[map[string]float64]{}, fmt.Errorf("%w: styleNumber is required", domain.ErrInvalidQuery)
	}
	return lookup(ctx, s.baseCosts, style, refresh, func(ctx context.Context) (map[string]float64, error) {
		var w domain.Where
		w.Eq(fieldStyle, style)
		params := url.Values{"q.where": {w.String()}, "q.select": {fieldSize + "," + fieldCasePrice}}
		res, err := s.caspio.FetchAll(ctx, TableSanmarBulk, params, upstream.Options{})
		if err != nil {
			return nil, err
		}
		if len(res.Records) == 0 {
			return nil, fmt.Errorf("%w: style %s", domain.ErrNotFound, style)
		}
		out := make(map[string]float64)
		for _, r := range res.Records {
			size := r.String(fieldSize)
			price, ok := r.Float(fieldCasePrice)
			if size == "" || !ok {
				continue
			}
			if cur, seen := out[size]; !seen || price > cur {
				out[size] = price
			}
		}
		return out, nil
	})
}

// SizesByStyleColor returns the distinct sizes offered for a style and color
// in garment size order with the highest case price for each.
func (s *Service) SizesByStyleColor(ctx context.Context, style, color string, refresh bool) (Lookup[[]SizePrice], error) {
	style, color = strings.TrimSpace(style), strings.TrimSpace(color)
	if style == "" || color == "" {
		return Lookup[[]SizePrice]{}, fmt.Errorf("%w: styleNumber and color are required", domain.ErrInvalidQuery)
	}
	return lookup(ctx, s.sizes, style+"|"+color, refresh, func(ctx context.Context) ([]SizePrice, error) {
		var w domain.Where
		w.Eq(fieldStyle, style).Raw(colorMatch(color))
		params := url.Values{"q.where": {w.String()}, "q.select": {fieldSize + "," + fieldCasePrice}}
		res, err := s.caspio.FetchAll(ctx, TableSanmarBulk, params, upstream.Options{})
		if err != nil {
			return nil, err
		}
		best := make(map[string]float64)
		for _, r := range res.Records {
			size := r.String(fieldSize)
			if size == "" {
				continue
			}
			price, _ := r.Float(fieldCasePrice)
			if cur, seen := best[size]; !seen || price > cur {
				best[size] = price
			}
		}
		if len(best) == 0 {
			return nil, fmt.Errorf("%w: no sizes for %s in %s", domain.ErrNotFound, style, color)
		}
		out := make([]SizePrice, 0, len(best))
		for size, price := range best {
			out = append(out, SizePrice{Size: size, Price: price})
		}
		slices.SortFunc(out, func(a, b SizePrice) int { return compareSizes(a.Size, b.Size) })
		return out, nil
	})
}

// colorMatch matches either the display color name or the catalog color code.
func colorMatch(color string) string {
	q := domain.Quote(color)
	return "(" + fieldColorName + "=" + q + " OR " + fieldCatalogClr + "=" + q + ")"
}

var sizeRank = func() map[string]int {
	order := []string{
		"NB", "06M", "12M", "18M", "24M", "2T", "3T", "4T", "5T", "5/6", "6T",
		"XXS", "XS", "S", "M", "L", "XL", "2XL", "3XL", "4XL", "5XL", "6XL", "7XL", "8XL", "9XL", "10XL",
		"LT", "XLT", "2XLT", "3XLT", "4XLT", "5XLT",
		"S/M", "M/L", "L/XL", "XL/2XL", "OSFA",
	}
	m := make(map[string]int, len(order))
	for i, s := range order {
		m[s] = i
	}
	m["XXL"] = m["2XL"]
	m["XXXL"] = m["3XL"]
	return m
}()

// compareSizes orders known garment sizes by rank and everything else after
// them alphabetically.
func compareSizes(a, b string) int {
	ra, okA := sizeRank[strings.ToUpper(a)]
	rb, okB := sizeRank[strings.ToUpper(b)]
	switch {
	case okA && okB:
		if c := cmp.Compare(ra, rb); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	case okA:
		return -1
	case okB:
		return 1
	default:
		return cmp.Compare(a, b)
	}
}
