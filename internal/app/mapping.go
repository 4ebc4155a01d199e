package app

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/haukened/caspio-proxy/internal/domain"
	"github.com/mitchellh/mapstructure"
)

// decodeRecord maps upstream field names onto out using its mapstructure tags.
// Numeric fields accept numbers, numeric strings and currency strings such as
// "$1,234.50". Fields the struct does not name are ignored.
func decodeRecord(rec domain.Record, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       currencyHook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(rec)); err != nil {
		return fmt.Errorf("%w: decode record: %v", domain.ErrUpstreamRequest, err)
	}
	return nil
}

// decodeRecords maps every record, failing on the first malformed one.
func decodeRecords[T any](recs []domain.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		var v T
		if err := decodeRecord(r, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

var floatKinds = map[reflect.Kind]bool{
	reflect.Float32: true, reflect.Float64: true,
	reflect.Int: true, reflect.Int64: true, reflect.Int32: true,
}

// currencyHook strips "$", thousands separators and whitespace from strings
// (json.Number included) bound for numeric fields. Blank strings decode as zero.
func currencyHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || !floatKinds[to.Kind()] {
		return data, nil
	}
	s := strings.TrimSpace(reflect.ValueOf(data).String())
	s = strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", "")
	if s == "" {
		return "0", nil
	}
	return s, nil
}
