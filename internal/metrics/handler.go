package metrics

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

// SnapshotProvider abstracts Manager for testing.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Handler returns an http.HandlerFunc that writes the metrics snapshot as JSON,
// or as a plain text table when the query has format=text.
// If token is non-empty, requests must include Authorization: Bearer <token>.
func Handler(provider SnapshotProvider, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" && !bearerMatches(r.Header.Get("Authorization"), token) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="metrics"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		snap, err := provider.Snapshot(r.Context())
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.URL.Query().Get("format") == "text" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			_, _ = fmt.Fprintln(w, RenderTable(snap))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	}
}

func bearerMatches(hdr, token string) bool {
	const prefix = "Bearer "
	got, ok := strings.CutPrefix(hdr, prefix)
	if !ok || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

// RenderTable formats a snapshot as a sorted text table.
func RenderTable(snap Snapshot) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Metric", "Value", "Count", "Mean", "Min", "Max"})

	names := make([]string, 0, len(snap.Counters))
	for n := range snap.Counters {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		t.AppendRow(table.Row{n, snap.Counters[n], "", "", "", ""})
	}

	names = names[:0]
	for n := range snap.Summaries {
		names = append(names, n)
	}
	slices.Sort(names)
	if len(names) > 0 && len(snap.Counters) > 0 {
		t.AppendSeparator()
	}
	for _, n := range names {
		s := snap.Summaries[n]
		t.AppendRow(table.Row{n, s.Sum, s.Count, fmt.Sprintf("%.1f", s.Mean()), s.Min, s.Max})
	}
	return t.Render()
}
