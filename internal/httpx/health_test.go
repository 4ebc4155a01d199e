package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	(&Handler{}).handleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestHandleReady(t *testing.T) {
	dbDown := errors.New("metrics db unavailable")
	cases := []struct {
		name  string
		check func(context.Context) error
		code  int
		body  string
	}{
		{"no check", nil, http.StatusOK, "ready"},
		{"check passes", func(context.Context) error { return nil }, http.StatusOK, "ready"},
		{"check fails", func(context.Context) error { return dbDown }, http.StatusServiceUnavailable, `{"error":"not ready"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := &Handler{Readiness: tc.check}
			rr := httptest.NewRecorder()
			h.handleReady(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			assert.Equal(t, tc.code, rr.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, tc.body, rr.Body.String())
			} else {
				assert.JSONEq(t, tc.body, rr.Body.String())
				assert.NotContains(t, rr.Body.String(), dbDown.Error(), "check detail stays in logs")
			}
		})
	}
}
