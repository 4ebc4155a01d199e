// Package domain record.go contains the loosely typed upstream record and accessors.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is one row returned by an upstream collection endpoint. Field names
// are whatever the upstream uses; reshaping into API names happens in the
// app layer.
type Record map[string]any

// String returns the field rendered as a string, or "" when absent or null.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Float returns the field as a float64. Strings are parsed leniently (a leading
// "$" and thousands separators are ignored). The bool reports whether a number
// could be extracted.
func (r Record) Float(field string) (float64, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(t), "$"), ",", "")
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Int is Float truncated toward zero.
func (r Record) Int(field string) (int, bool) {
	f, ok := r.Float(field)
	return int(f), ok
}
