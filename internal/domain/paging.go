// Package domain paging.go contains helpers to bound caller supplied paging values.
package domain

// ClampInt returns v constrained to the inclusive range [lo, hi]. A
// non-positive v is replaced by def before clamping.
func ClampInt(v, def, lo, hi int) int {
	if v <= 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PageBounds converts a 1-based page number and page size into slice bounds
// over a collection of length n. Out of range pages yield an empty window.
func PageBounds(page, size, n int) (start, end int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		return 0, 0
	}
	if n <= 0 || page-1 >= (n+size-1)/size {
		return n, n
	}
	start = (page - 1) * size
	end = start + size
	if end > n {
		end = n
	}
	return start, end
}
