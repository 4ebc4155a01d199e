package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/haukened/caspio-proxy/internal/domain"
	"github.com/haukened/caspio-proxy/internal/upstream"
)

// PassQuery carries Caspio query parameters forwarded verbatim.
type PassQuery struct {
	Where   string
	OrderBy string
	Limit   int
}

// Records is an uncached pass-through result.
type Records struct {
	Records  []domain.Record
	Complete bool
	Reason   upstream.StopReason
}

// OrderRecords forwards an ORDER_ODBC query.
func (s *Service) OrderRecords(ctx context.Context, q PassQuery) (Records, error) {
	return s.passthrough(ctx, TableOrderODBC, q)
}

// ProductionSchedules forwards a Production_Schedule query.
func (s *Service) ProductionSchedules(ctx context.Context, q PassQuery) (Records, error) {
	return s.passthrough(ctx, TableProductionSchedule, q)
}

// minPageSize is the smallest q.pageSize Caspio accepts.
const minPageSize = 5

func (s *Service) passthrough(ctx context.Context, table string, q PassQuery) (Records, error) {
	if q.Limit < 0 {
		return Records{}, fmt.Errorf("%w: q.limit must not be negative", domain.ErrInvalidQuery)
	}
	params := url.Values{}
	if w := strings.TrimSpace(q.Where); w != "" {
		params.Set("q.where", w)
	}
	if o := strings.TrimSpace(q.OrderBy); o != "" {
		params.Set("q.orderBy", o)
	}
	var opts upstream.Options
	if q.Limit > 0 {
		opts.EarlyExit = func(_, all []domain.Record) bool { return len(all) >= q.Limit }
		if q.Limit < 1000 {
			opts.PageSize = max(q.Limit, minPageSize)
		}
	}
	res, err := s.caspio.FetchAll(ctx, table, params, opts)
	if err != nil {
		return Records{}, err
	}
	recs := res.Records
	if q.Limit > 0 && len(recs) > q.Limit {
		recs = recs[:q.Limit]
	}
	return Records{Records: nonNil(recs), Complete: res.Complete, Reason: res.Reason}, nil
}

// DashboardOrder is one ORDER_ODBC row as the dashboard reports it.
type DashboardOrder struct {
	ID         int     `mapstructure:"ID_Order" json:"orderId"`
	CustomerID int     `mapstructure:"id_Customer" json:"customerId"`
	Company    string  `mapstructure:"CompanyName" json:"companyName"`
	CSR        string  `mapstructure:"CustomerServiceRep" json:"csr"`
	OrderType  string  `mapstructure:"ORDER_TYPE" json:"orderType"`
	PlacedAt   string  `mapstructure:"date_OrderPlaced" json:"orderPlaced"`
	ShippedAt  string  `mapstructure:"date_Shipped" json:"shipped,omitempty"`
	Subtotal   float64 `mapstructure:"cur_Subtotal" json:"subtotal"`
	Invoiced   bool    `mapstructure:"sts_Invoiced" json:"invoiced"`
	Shipped    bool    `mapstructure:"sts_Shipped" json:"isShipped"`
}

// DashboardQuery selects the dashboard window and optional sections.
type DashboardQuery struct {
	Days           int
	IncludeDetails bool
	CompareYoY     bool
}

// Summary aggregates a window of orders.
type Summary struct {
	TotalOrders   int     `json:"totalOrders"`
	TotalSales    float64 `json:"totalSales"`
	AvgOrderValue float64 `json:"avgOrderValue"`
	NotInvoiced   int     `json:"notInvoiced"`
	NotShipped    int     `json:"notShipped"`
}

// Breakdown is orders and sales grouped by one attribute.
type Breakdown struct {
	Name   string  `json:"name"`
	Orders int     `json:"orders"`
	Sales  float64 `json:"sales"`
}

// TodayStats covers orders placed or shipped on the current date.
type TodayStats struct {
	OrdersToday  int     `json:"ordersToday"`
	SalesToday   float64 `json:"salesToday"`
	ShippedToday int     `json:"shippedToday"`
}

// PeriodTotals is one side of a year-over-year comparison.
type PeriodTotals struct {
	Orders int     `json:"orders"`
	Sales  float64 `json:"sales"`
}

// YoYComparison compares the window with the same dates a year earlier.
type YoYComparison struct {
	Current             PeriodTotals `json:"currentPeriod"`
	PreviousYear        PeriodTotals `json:"previousYearPeriod"`
	SalesGrowthPercent  float64      `json:"salesGrowthPercent"`
	OrdersGrowthPercent float64      `json:"ordersGrowthPercent"`
}

// DateRange bounds a dashboard window; End is exclusive.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Days  int    `json:"days"`
}

// Dashboard is the order dashboard response. Complete is false when the
// upstream walk stopped early and the totals cover only a prefix.
type Dashboard struct {
	Summary      Summary          `json:"summary"`
	DateRange    DateRange        `json:"dateRange"`
	ByCSR        []Breakdown      `json:"byCsr"`
	ByOrderType  []Breakdown      `json:"byOrderType"`
	TodayStats   TodayStats       `json:"todayStats"`
	RecentOrders []DashboardOrder `json:"recentOrders,omitempty"`
	YoY          *YoYComparison   `json:"yoyComparison,omitempty"`
	Complete     bool             `json:"complete"`
	LastUpdated  time.Time        `json:"lastUpdated"`
}

const (
	defaultDashboardDays = 7
	maxDashboardDays     = 365
	recentOrderCount     = 10
	dateLayout           = "2006-01-02"
)

// OrderDashboard summarizes orders placed in the last q.Days days.
func (s *Service) OrderDashboard(ctx context.Context, q DashboardQuery, refresh bool) (Lookup[Dashboard], error) {
	if q.Days < 0 || q.Days > maxDashboardDays {
		return Lookup[Dashboard]{}, fmt.Errorf("%w: days must be between 1 and %d", domain.ErrInvalidQuery, maxDashboardDays)
	}
	days := domain.ClampInt(q.Days, defaultDashboardDays, 1, maxDashboardDays)
	key := fmt.Sprintf("%d|%t|%t", days, q.IncludeDetails, q.CompareYoY)
	return lookup(ctx, s.dashboard, key, refresh, func(ctx context.Context) (Dashboard, error) {
		now := s.clock.Now()
		today := now.Format(dateLayout)
		start := now.AddDate(0, 0, -days)
		end := now.AddDate(0, 0, 1)

		orders, complete, err := s.ordersBetween(ctx, start, end)
		if err != nil {
			return Dashboard{}, err
		}
		d := Dashboard{
			Summary:     summarize(orders),
			DateRange:   DateRange{Start: start.Format(dateLayout), End: end.Format(dateLayout), Days: days},
			ByCSR:       breakdown(orders, func(o DashboardOrder) string { return o.CSR }),
			ByOrderType: breakdown(orders, func(o DashboardOrder) string { return o.OrderType }),
			Complete:    complete,
			LastUpdated: now.UTC(),
		}
		for _, o := range orders {
			if strings.HasPrefix(o.PlacedAt, today) {
				d.TodayStats.OrdersToday++
				d.TodayStats.SalesToday += o.Subtotal
			}
			if strings.HasPrefix(o.ShippedAt, today) {
				d.TodayStats.ShippedToday++
			}
		}
		d.TodayStats.SalesToday = round2(d.TodayStats.SalesToday)
		if q.IncludeDetails {
			recent := slices.Clone(orders)
			slices.SortStableFunc(recent, func(a, b DashboardOrder) int { return cmp.Compare(b.PlacedAt, a.PlacedAt) })
			d.RecentOrders = recent[:min(recentOrderCount, len(recent))]
		}
		if q.CompareYoY {
			prev, prevComplete, err := s.ordersBetween(ctx, start.AddDate(-1, 0, 0), end.AddDate(-1, 0, 0))
			if err != nil {
				return Dashboard{}, err
			}
			d.Complete = d.Complete && prevComplete
			d.YoY = compareYears(d.Summary, summarize(prev))
		}
		return d, nil
	})
}

func (s *Service) ordersBetween(ctx context.Context, start, end time.Time) ([]DashboardOrder, bool, error) {
	var w domain.Where
	w.Raw("date_OrderPlaced>=" + domain.Quote(start.Format(dateLayout)))
	w.Raw("date_OrderPlaced<" + domain.Quote(end.Format(dateLayout)))
	res, err := s.caspio.FetchAll(ctx, TableOrderODBC, url.Values{"q.where": {w.String()}}, upstream.Options{})
	if err != nil {
		return nil, false, err
	}
	orders, err := decodeRecords[DashboardOrder](res.Records)
	if err != nil {
		return nil, false, err
	}
	return orders, res.Complete, nil
}

func summarize(orders []DashboardOrder) Summary {
	var s Summary
	for _, o := range orders {
		s.TotalOrders++
		s.TotalSales += o.Subtotal
		if !o.Invoiced {
			s.NotInvoiced++
		}
		if !o.Shipped {
			s.NotShipped++
		}
	}
	if s.TotalOrders > 0 {
		s.AvgOrderValue = round2(s.TotalSales / float64(s.TotalOrders))
	}
	s.TotalSales = round2(s.TotalSales)
	return s
}

func breakdown(orders []DashboardOrder, key func(DashboardOrder) string) []Breakdown {
	idx := map[string]int{}
	out := []Breakdown{}
	for _, o := range orders {
		name := strings.TrimSpace(key(o))
		if name == "" {
			name = "Unknown"
		}
		i, ok := idx[name]
		if !ok {
			i = len(out)
			idx[name] = i
			out = append(out, Breakdown{Name: name})
		}
		out[i].Orders++
		out[i].Sales += o.Subtotal
	}
	for i := range out {
		out[i].Sales = round2(out[i].Sales)
	}
	slices.SortStableFunc(out, func(a, b Breakdown) int { return cmp.Compare(b.Sales, a.Sales) })
	return out
}

func compareYears(cur, prev Summary) *YoYComparison {
	return &YoYComparison{
		Current:             PeriodTotals{Orders: cur.TotalOrders, Sales: cur.TotalSales},
		PreviousYear:        PeriodTotals{Orders: prev.TotalOrders, Sales: prev.TotalSales},
		SalesGrowthPercent:  growth(cur.TotalSales, prev.TotalSales),
		OrdersGrowthPercent: growth(float64(cur.TotalOrders), float64(prev.TotalOrders)),
	}
}

func growth(cur, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	return round2((cur - prev) / prev * 100)
}

func round2(f float64) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'f', 2, 64), 64)
	return v
}

// Order is a ManageOrders order header.
type Order struct {
	OrderNo      string  `mapstructure:"order_no" json:"orderNo"`
	ExtOrderID   string  `mapstructure:"ext_order_id" json:"extOrderId,omitempty"`
	CustomerID   int     `mapstructure:"id_Customer" json:"customerId"`
	CustomerName string  `mapstructure:"CustomerName" json:"customerName"`
	ContactName  string  `mapstructure:"ContactName" json:"contactName,omitempty"`
	ContactEmail string  `mapstructure:"ContactEmail" json:"contactEmail,omitempty"`
	ContactPhone string  `mapstructure:"ContactPhone" json:"contactPhone,omitempty"`
	DateOrdered  string  `mapstructure:"date_Ordered" json:"dateOrdered"`
	DateShipped  string  `mapstructure:"date_Shipped" json:"dateShipped,omitempty"`
	Status       string  `mapstructure:"status" json:"status,omitempty"`
	Subtotal     float64 `mapstructure:"cur_SubTotal" json:"subtotal"`
	Total        float64 `mapstructure:"cur_TotalInvoice" json:"total"`
	Balance      float64 `mapstructure:"cur_Balance" json:"balance"`
}

var orderNoPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,32}$`)

// Order looks up one ManageOrders order by number.
func (s *Service) Order(ctx context.Context, orderNo string, refresh bool) (Lookup[Order], error) {
	mo, err := s.requireManageOrders()
	if err != nil {
		return Lookup[Order]{}, err
	}
	orderNo = strings.TrimSpace(orderNo)
	if !orderNoPattern.MatchString(orderNo) {
		return Lookup[Order]{}, fmt.Errorf("%w: malformed order number", domain.ErrInvalidQuery)
	}
	return lookup(ctx, s.orders, orderNo, refresh, func(ctx context.Context) (Order, error) {
		recs, err := mo.FetchOne(ctx, ResourceOrders+"/"+url.PathEscape(orderNo), nil)
		var re *upstream.RequestError
		if errors.As(err, &re) && re.Status == http.StatusNotFound {
			return Order{}, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderNo)
		}
		if err != nil {
			return Order{}, err
		}
		if len(recs) == 0 {
			return Order{}, fmt.Errorf("%w: order %s", domain.ErrNotFound, orderNo)
		}
		var o Order
		if err := decodeRecord(recs[0], &o); err != nil {
			return Order{}, err
		}
		if o.OrderNo == "" {
			o.OrderNo = orderNo
		}
		return o, nil
	})
}

// Customer is a distinct customer seen in recent ManageOrders orders.
type Customer struct {
	ID            int     `json:"customerId"`
	Name          string  `json:"customerName"`
	ContactName   string  `json:"contactName,omitempty"`
	ContactEmail  string  `json:"contactEmail,omitempty"`
	ContactPhone  string  `json:"contactPhone,omitempty"`
	OrderCount    int     `json:"orderCount"`
	TotalSales    float64 `json:"totalSales"`
	LastOrderDate string  `json:"lastOrderDate"`
}

const (
	defaultCustomerDays = 60
	maxCustomerDays     = 365
)

// Customers returns the distinct customers with orders in the last days days,
// most recent first. Contact details come from each customer's latest order.
func (s *Service) Customers(ctx context.Context, days int, refresh bool) (Lookup[[]Customer], error) {
	mo, err := s.requireManageOrders()
	if err != nil {
		return Lookup[[]Customer]{}, err
	}
	if days < 0 || days > maxCustomerDays {
		return Lookup[[]Customer]{}, fmt.Errorf("%w: days must be between 1 and %d", domain.ErrInvalidQuery, maxCustomerDays)
	}
	days = domain.ClampInt(days, defaultCustomerDays, 1, maxCustomerDays)
	return lookup(ctx, s.customers, strconv.Itoa(days), refresh, func(ctx context.Context) ([]Customer, error) {
		now := s.clock.Now()
		params := url.Values{
			"date_Ordered_start": {now.AddDate(0, 0, -days).Format(dateLayout)},
			"date_Ordered_end":   {now.Format(dateLayout)},
		}
		res, err := mo.FetchAll(ctx, ResourceOrders, params, upstream.Options{})
		if err != nil {
			return nil, err
		}
		orders, err := decodeRecords[Order](res.Records)
		if err != nil {
			return nil, err
		}
		return dedupeCustomers(orders), nil
	})
}

func dedupeCustomers(orders []Order) []Customer {
	idx := map[int]int{}
	out := []Customer{}
	for _, o := range orders {
		if o.CustomerID == 0 {
			continue
		}
		i, ok := idx[o.CustomerID]
		if !ok {
			i = len(out)
			idx[o.CustomerID] = i
			out = append(out, Customer{ID: o.CustomerID})
		}
		c := &out[i]
		c.OrderCount++
		c.TotalSales = round2(c.TotalSales + o.Total)
		if o.DateOrdered >= c.LastOrderDate {
			c.LastOrderDate = o.DateOrdered
			c.Name = o.CustomerName
			c.ContactName = o.ContactName
			c.ContactEmail = o.ContactEmail
			c.ContactPhone = o.ContactPhone
		}
	}
	slices.SortStableFunc(out, func(a, b Customer) int { return cmp.Compare(b.LastOrderDate, a.LastOrderDate) })
	return out
}
