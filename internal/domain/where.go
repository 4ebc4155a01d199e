// Package domain where.go contains a small builder for upstream WHERE clauses.
package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Where accumulates conditions that are joined with AND. The zero value is
// ready to use and renders as an empty string.
type Where struct {
	conds []string
}

// Quote renders s as a SQL string literal, doubling embedded single quotes.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Eq adds field='value'. Empty values are skipped so optional filters can be
// chained without branching at the call site.
func (w *Where) Eq(field, value string) *Where {
	if value == "" {
		return w
	}
	w.conds = append(w.conds, field+"="+Quote(value))
	return w
}

// Like adds field LIKE '%value%'.
func (w *Where) Like(field, value string) *Where {
	if value == "" {
		return w
	}
	w.conds = append(w.conds, field+" LIKE "+Quote("%"+value+"%"))
	return w
}

// AnyLike adds (f1 LIKE '%v%' OR f2 LIKE '%v%' ...).
func (w *Where) AnyLike(value string, fields ...string) *Where {
	if value == "" || len(fields) == 0 {
		return w
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+" LIKE "+Quote("%"+value+"%"))
	}
	w.conds = append(w.conds, "("+strings.Join(parts, " OR ")+")")
	return w
}

// In adds field IN ('a','b'). Empty slices are skipped.
func (w *Where) In(field string, values ...string) *Where {
	if len(values) == 0 {
		return w
	}
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, Quote(v))
	}
	w.conds = append(w.conds, field+" IN ("+strings.Join(quoted, ",")+")")
	return w
}

// Cmp adds a numeric comparison such as field>=10. op must be one of
// =, <, <=, >, >=, <>.
func (w *Where) Cmp(field, op string, n float64) *Where {
	switch op {
	case "=", "<", "<=", ">", ">=", "<>":
	default:
		panic(fmt.Sprintf("domain: unsupported comparison %q", op))
	}
	w.conds = append(w.conds, field+op+strconv.FormatFloat(n, 'f', -1, 64))
	return w
}

// Raw adds a pre-built condition verbatim.
func (w *Where) Raw(cond string) *Where {
	if strings.TrimSpace(cond) == "" {
		return w
	}
	w.conds = append(w.conds, cond)
	return w
}

// Empty reports whether no condition was added.
func (w *Where) Empty() bool { return len(w.conds) == 0 }

// String renders all conditions joined with AND.
func (w *Where) String() string { return strings.Join(w.conds, " AND ") }

// ParseNumber parses a user supplied numeric filter. Blank input returns
// (0, false, nil); anything that is not a finite number yields ErrInvalidQuery.
func ParseNumber(raw string) (float64, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, fmt.Errorf("%w: %q is not a number", ErrInvalidQuery, raw)
	}
	return f, true, nil
}
