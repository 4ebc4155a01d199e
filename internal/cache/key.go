package cache

import (
	"net/url"
	"strings"
)

// Key renders query parameters as a canonical cache key. url.Values.Encode
// sorts by parameter name, so two requests that differ only in parameter order
// share an entry. Blank values are dropped and the refresh flag never takes
// part in the key.
func Key(params url.Values) string {
	clean := make(url.Values, len(params))
	for k, vals := range params {
		if k == "refresh" {
			continue
		}
		for _, v := range vals {
			if v = strings.TrimSpace(v); v != "" {
				clean.Add(k, v)
			}
		}
	}
	return clean.Encode()
}

// Admin is the type-erased view of a cache used by status and clear endpoints.
type Admin interface {
	Name() string
	Stats() Stats
	Clear()
}

var _ Admin = (*Cache[string, struct{}])(nil)
