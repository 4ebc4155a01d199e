package httpx

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestSecureHeadersMiddleware ensures the security headers are consistently applied.
func TestSecureHeadersMiddleware(t *testing.T) {
	h := &Handler{}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rw := httptest.NewRecorder()
	h.secureHeaders(final).ServeHTTP(rw, req)
	res := rw.Result()
	checks := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
	}
	for k, expect := range checks {
		got := res.Header.Get(k)
		if got == "" {
			t.Fatalf("missing header %s", k)
		}
		if got != expect {
			t.Fatalf("header %s mismatch\nexpected: %s\nactual:   %s", k, expect, got)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	h := &Handler{CORSOrigin: "https://shop.example.com"}
	called := false
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodOptions, "/api/pricing-tiers", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rw := httptest.NewRecorder()
	h.cors(final).ServeHTTP(rw, req)

	if called {
		t.Fatalf("preflight must not reach the route")
	}
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rw.Code)
	}
	if got := rw.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Fatalf("allow origin %q", got)
	}
	if got := rw.Header().Get("Vary"); got != "Origin" {
		t.Fatalf("vary %q", got)
	}
	if got := rw.Header().Get("Access-Control-Allow-Methods"); got != "GET, DELETE, OPTIONS" {
		t.Fatalf("allow methods %q", got)
	}
}

func TestCORSDisabled(t *testing.T) {
	h := &Handler{}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rw := httptest.NewRecorder()
	h.cors(final).ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusTeapot {
		t.Fatalf("expected pass through got %d", rw.Code)
	}
	if got := rw.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}
