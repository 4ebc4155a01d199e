package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haukened/caspio-proxy/internal/domain"
)

// writeJSON writes v as a JSON body with the given status code.
func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		cid, _ := GetCorrelationID(ctx)
		h.log().Warn("encode response", "domain", "http", "cid", cid, "err", err)
	}
}

// writeError writes a JSON error body with given status code.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg})
	if cid, ok := GetCorrelationID(ctx); ok {
		h.log().Debug("wrote error response", "cid", cid, "status", code, "msg", msg)
	}
}

// mapServiceError maps domain and upstream errors to HTTP responses.
// Validation messages are returned to the caller; upstream details are only
// logged.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	log := h.log().With("domain", "http", "cid", cid)
	switch {
	case errors.Is(err, domain.ErrInvalidQuery):
		log.Info("service error", "code", "invalid_query", "err", err)
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		log.Info("service error", "code", "not_found")
		h.writeError(ctx, w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrUnavailable):
		log.Warn("service error", "code", "unavailable", "err", err)
		h.writeError(ctx, w, http.StatusServiceUnavailable, "upstream not configured")
	case errors.Is(err, domain.ErrAuthentication):
		log.Error("service error", "code", "upstream_auth", "err", err)
		h.writeError(ctx, w, http.StatusBadGateway, "upstream authentication failed")
	case errors.Is(err, domain.ErrUpstreamTimeout), errors.Is(err, context.DeadlineExceeded):
		log.Warn("service error", "code", "upstream_timeout", "err", err)
		h.writeError(ctx, w, http.StatusGatewayTimeout, "upstream timed out")
	case errors.Is(err, domain.ErrUpstreamRequest):
		log.Error("service error", "code", "upstream_request", "err", err)
		h.writeError(ctx, w, http.StatusBadGateway, "upstream request failed")
	case errors.Is(err, context.Canceled):
		log.Info("service error", "code", "canceled")
		h.writeError(ctx, w, http.StatusServiceUnavailable, "request canceled")
	default:
		// Unknown errors may carry upstream payloads; log the type only.
		log.Error("unhandled service error", "code", "unhandled", "err_type", "unknown")
		h.writeError(ctx, w, http.StatusInternalServerError, "internal")
	}
}
