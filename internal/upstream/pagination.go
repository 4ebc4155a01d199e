package upstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/haukened/caspio-proxy/internal/domain"
)

// Shape names the response fields and query parameters an upstream uses for
// paging.
type Shape struct {
	RecordsField    string
	TotalField      string
	NextField       string
	PageNumberParam string
	PageSizeParam   string
}

// CaspioShape matches the Caspio REST v2 table API.
var CaspioShape = Shape{
	RecordsField:    "Result",
	TotalField:      "TotalRecords",
	NextField:       "NextPageUrl",
	PageNumberParam: "q.pageNumber",
	PageSizeParam:   "q.pageSize",
}

// ManageOrdersShape matches the ManageOrders API. Bare JSON arrays are also
// accepted from it.
var ManageOrdersShape = Shape{
	RecordsField:    "result",
	TotalField:      "total",
	NextField:       "next",
	PageNumberParam: "page",
	PageSizeParam:   "pageSize",
}

// Pagination is the paging signal carried by one page response. The set is
// closed: NextCursor, TotalCount and Heuristic.
type Pagination interface {
	// Exhausted reports whether no further page should be requested given
	// the number of records accumulated so far, the length of the page just
	// received and the requested page size.
	Exhausted(accumulated, pageLen, pageSize int) bool
	// Reason is the stop reason recorded when Exhausted is true.
	Reason() StopReason
	sealed()
}

// NextCursor is an upstream-provided next page pointer. An empty URL means
// the upstream has no further pages.
type NextCursor struct{ URL string }

// TotalCount is an upstream-reported total record count.
type TotalCount struct{ N int }

// Heuristic applies when the response carries neither a cursor nor a total:
// a page shorter than requested is taken to be the last one.
type Heuristic struct{}

func (c NextCursor) Exhausted(_, _, _ int) bool { return c.URL == "" }
func (NextCursor) Reason() StopReason           { return StopExhaustedCursor }
func (NextCursor) sealed()                      {}

func (t TotalCount) Exhausted(accumulated, pageLen, _ int) bool {
	return accumulated >= t.N || pageLen == 0
}
func (TotalCount) Reason() StopReason { return StopExhaustedTotal }
func (TotalCount) sealed()            {}

func (Heuristic) Exhausted(_, pageLen, pageSize int) bool { return pageLen < pageSize }
func (Heuristic) Reason() StopReason                      { return StopExhaustedShortPage }
func (Heuristic) sealed()                                 {}

// page is one decoded response.
type page struct {
	Records    []domain.Record
	Pagination Pagination
}

// decodePage extracts records and selects the pagination strategy. A present
// next-page field wins over a total, which wins over the heuristic.
func decodePage(body []byte, shape Shape) (page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return page{}, errors.New("empty response body")
	}
	if trimmed[0] == '[' {
		var recs []domain.Record
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return page{}, fmt.Errorf("decode records: %w", err)
		}
		return page{Records: recs, Pagination: Heuristic{}}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return page{}, fmt.Errorf("decode response: %w", err)
	}
	raw, ok := fields[shape.RecordsField]
	if !ok {
		return page{}, fmt.Errorf("response has no %q field", shape.RecordsField)
	}
	var recs []domain.Record
	if !isNull(raw) {
		if err := json.Unmarshal(raw, &recs); err != nil {
			return page{}, fmt.Errorf("decode %q: %w", shape.RecordsField, err)
		}
	}

	p := page{Records: recs, Pagination: Heuristic{}}
	if rawNext, ok := fields[shape.NextField]; ok && shape.NextField != "" {
		var next string
		if !isNull(rawNext) {
			if err := json.Unmarshal(rawNext, &next); err != nil {
				return page{}, fmt.Errorf("decode %q: %w", shape.NextField, err)
			}
		}
		p.Pagination = NextCursor{URL: next}
		return p, nil
	}
	if rawTotal, ok := fields[shape.TotalField]; ok && shape.TotalField != "" && !isNull(rawTotal) {
		n, err := parseCount(rawTotal)
		if err != nil {
			return page{}, fmt.Errorf("decode %q: %w", shape.TotalField, err)
		}
		p.Pagination = TotalCount{N: n}
	}
	return p, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// parseCount accepts a JSON number or a numeric string.
func parseCount(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
