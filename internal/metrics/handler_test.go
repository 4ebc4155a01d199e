package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshot struct {
	snap Snapshot
	err  error
}

func (f *fakeSnapshot) Snapshot(ctx context.Context) (Snapshot, error) {
	return f.snap, f.err
}

func sampleSnapshot() Snapshot {
	return Snapshot{
		Counters:  map[string]int64{"a": 1},
		Summaries: map[string]Summary{"x": {Count: 2, Sum: 5, Min: 2, Max: 3}},
	}
}

func TestHandlerAuth(t *testing.T) {
	h := Handler(&fakeSnapshot{snap: sampleSnapshot()}, "tok")

	for _, hdr := range []string{"", "Bearer", "Bearer ", "Bearer nope", "Basic tok"} {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		if hdr != "" {
			req.Header.Set("Authorization", hdr)
		}
		rw := httptest.NewRecorder()
		h(rw, req)
		assert.Equal(t, http.StatusUnauthorized, rw.Code, "header %q", hdr)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rw := httptest.NewRecorder()
	h(rw, req)
	require.Equal(t, http.StatusOK, rw.Code)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &decoded))
	assert.Equal(t, int64(1), decoded.Counters["a"])
	assert.Equal(t, Summary{Count: 2, Sum: 5, Min: 2, Max: 3}, decoded.Summaries["x"])
}

func TestHandlerNoToken(t *testing.T) {
	h := Handler(&fakeSnapshot{snap: Snapshot{Counters: map[string]int64{"c": 10}}}, "")
	rw := httptest.NewRecorder()
	h(rw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "application/json", rw.Header().Get("Content-Type"))
}

func TestHandlerSnapshotError(t *testing.T) {
	h := Handler(&fakeSnapshot{err: errors.New("db gone")}, "")
	rw := httptest.NewRecorder()
	h(rw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusInternalServerError, rw.Code)
}

func TestHandlerTextFormat(t *testing.T) {
	h := Handler(&fakeSnapshot{snap: sampleSnapshot()}, "")
	rw := httptest.NewRecorder()
	h(rw, httptest.NewRequest(http.MethodGet, "/metrics?format=text", nil))
	require.Equal(t, http.StatusOK, rw.Code)
	body := rw.Body.String()
	assert.True(t, strings.HasPrefix(rw.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, strings.ToLower(body), "metric")
	assert.Contains(t, body, "a")
	assert.Contains(t, body, "2.5")
}
