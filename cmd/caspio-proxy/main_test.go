package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/caspio-proxy/internal/config"
	"github.com/haukened/caspio-proxy/internal/domain"
	"github.com/haukened/caspio-proxy/internal/upstream"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultAppConfig
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Caspio.ClientID = "id"
	cfg.Caspio.ClientSecret = "secret"
	return &cfg
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	require.NoError(t, ensureDataDir(dir))
	st, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, st.IsDir())
	require.NoError(t, ensureDataDir(dir), "existing directory is accepted")

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	assert.Error(t, ensureDataDir(file))
}

func TestBuildComponents(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, ensureDataDir(cfg.DataDir))
	ctx := context.Background()
	db, mgr, err := openMetrics(ctx, cfg, newLogger("error"))
	require.NoError(t, err)
	defer db.Close()

	c, err := buildComponents(cfg, db, mgr, newLogger("error"))
	require.NoError(t, err)
	assert.Len(t, c.handler.Tokens, 1, "manageorders stays disabled without credentials")
	assert.Len(t, c.svc.SweepTargets(), 3)

	router := c.handler.Router()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/manageorders/customers", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"caspio"`)
}

func TestBuildComponentsWithManageOrders(t *testing.T) {
	cfg := testConfig(t)
	cfg.ManageOrders.ClientID = "user"
	cfg.ManageOrders.ClientSecret = "pass"
	require.NoError(t, ensureDataDir(cfg.DataDir))
	db, mgr, err := openMetrics(context.Background(), cfg, newLogger("error"))
	require.NoError(t, err)
	defer db.Close()

	c, err := buildComponents(cfg, db, mgr, newLogger("error"))
	require.NoError(t, err)
	assert.Contains(t, c.handler.Tokens, "manageorders")
}

func TestReadinessFailsWithoutCaspioCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Caspio.ClientID = ""
	require.NoError(t, ensureDataDir(cfg.DataDir))
	db, mgr, err := openMetrics(context.Background(), cfg, newLogger("error"))
	require.NoError(t, err)
	defer db.Close()

	c, err := buildComponents(cfg, db, mgr, newLogger("error"))
	require.NoError(t, err)
	w := httptest.NewRecorder()
	c.handler.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestNewServerTimeouts(t *testing.T) {
	cfg := testConfig(t)
	srv := newServer(cfg, http.NotFoundHandler())
	assert.Equal(t, cfg.Addr, srv.Addr)
	assert.Greater(t, srv.WriteTimeout, cfg.Pagination.TotalTimeout)
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Addr = "127.0.0.1:0"
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, newLogger("error")) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	_, err := os.Stat(filepath.Join(cfg.DataDir, "metrics.db"))
	assert.NoError(t, err)
}

func TestFetchFlagValues(t *testing.T) {
	f := fetchFlags{where: "STYLE='PC61'", params: []string{"q.limit=5", "x=a=b"}}
	v, err := f.values()
	require.NoError(t, err)
	assert.Equal(t, "STYLE='PC61'", v.Get("q.where"))
	assert.Equal(t, "5", v.Get("q.limit"))
	assert.Equal(t, "a=b", v.Get("x"))
	assert.Empty(t, v.Get("q.orderBy"))

	_, err = fetchFlags{params: []string{"novalue"}}.values()
	assert.Error(t, err)
}

func TestRenderResult(t *testing.T) {
	var buf bytes.Buffer
	renderResult(&buf, upstream.Result{
		Records: []domain.Record{{"STYLE": "PC61", "SIZE": "S"}, {"STYLE": "PC61", "SIZE": "M", "CASE_PRICE": 3.5}},
		Pages:   1, Complete: false, Reason: upstream.StopPageCap,
	}, 1)
	out := buf.String()
	assert.Contains(t, out, "PC61")
	assert.Contains(t, out, "2 records (1 shown) from 1 pages")
	assert.Contains(t, out, "page_cap")
	assert.NotContains(t, out, "CASE_PRICE", "columns come from shown rows only")
}

func TestColumns(t *testing.T) {
	cols := columns([]domain.Record{{"b": 1, "a": 2}, {"c": 3, "a": 4}})
	assert.Equal(t, []string{"a", "b", "c"}, cols)
}
