package httpx

import (
	"net/http"
	"time"

	"github.com/haukened/caspio-proxy/internal/auth"
	"github.com/haukened/caspio-proxy/internal/cache"
	"github.com/haukened/caspio-proxy/internal/janitor"
)

type statusResponse struct {
	Status  string                `json:"status"`
	Uptime  string                `json:"uptime"`
	Tokens  map[string]auth.State `json:"tokens"`
	Caches  []cache.Stats         `json:"caches"`
	Janitor *janitor.MetricsView  `json:"janitor,omitempty"`
}

// handleStatus reports token expiry, cache occupancy and sweep counters.
// Token values are never included.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status: "ok",
		Tokens: make(map[string]auth.State, len(h.Tokens)),
		Caches: []cache.Stats{},
	}
	if !h.Started.IsZero() {
		resp.Uptime = time.Since(h.Started).Truncate(time.Second).String()
	}
	for name, t := range h.Tokens {
		resp.Tokens[name] = t.State()
	}
	for _, c := range h.Service.Caches() {
		resp.Caches = append(resp.Caches, c.Stats())
	}
	if h.Janitor != nil {
		v := h.Janitor()
		resp.Janitor = &v
	}
	h.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// handleClearCache empties every response cache.
func (h *Handler) handleClearCache(w http.ResponseWriter, r *http.Request) {
	n := h.Service.ClearCaches()
	cid, _ := GetCorrelationID(r.Context())
	h.log().Info("caches cleared", "domain", "http", "cid", cid, "entries", n)
	h.writeJSON(r.Context(), w, http.StatusOK, struct {
		Cleared int `json:"cleared"`
	}{Cleared: n})
}
