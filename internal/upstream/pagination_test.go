package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePageSelectsStrategy(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Pagination
		n    int
	}{
		{"bare array", `[{"a":1},{"a":2}]`, Heuristic{}, 2},
		{"records only", `{"Result":[{"a":1}]}`, Heuristic{}, 1},
		{"total count", `{"Result":[{"a":1}],"TotalRecords":40}`, TotalCount{N: 40}, 1},
		{"total as string", `{"Result":[],"TotalRecords":"7"}`, TotalCount{N: 7}, 0},
		{"null total ignored", `{"Result":[],"TotalRecords":null}`, Heuristic{}, 0},
		{"cursor wins over total", `{"Result":[{"a":1}],"TotalRecords":40,"NextPageUrl":"/next"}`, NextCursor{URL: "/next"}, 1},
		{"null cursor means done", `{"Result":[{"a":1}],"NextPageUrl":null}`, NextCursor{}, 1},
		{"null records", `{"Result":null}`, Heuristic{}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := decodePage([]byte(tc.body), CaspioShape)
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Pagination)
			assert.Len(t, p.Records, tc.n)
		})
	}
}

func TestDecodePageErrors(t *testing.T) {
	for _, body := range []string{"", "   ", "<html>", `{"Other":[]}`, `{"Result":{"a":1}}`, `{"Result":[],"TotalRecords":"lots"}`} {
		if _, err := decodePage([]byte(body), CaspioShape); err == nil {
			t.Fatalf("expected error for %q", body)
		}
	}
}

func TestStrategiesExhaustion(t *testing.T) {
	assert.True(t, NextCursor{}.Exhausted(0, 10, 10))
	assert.False(t, NextCursor{URL: "/n"}.Exhausted(0, 0, 10))

	assert.False(t, TotalCount{N: 25}.Exhausted(20, 10, 10))
	assert.True(t, TotalCount{N: 25}.Exhausted(25, 5, 10))
	assert.True(t, TotalCount{N: 25}.Exhausted(20, 0, 10), "an empty page must end the walk")

	assert.False(t, Heuristic{}.Exhausted(10, 10, 10))
	assert.True(t, Heuristic{}.Exhausted(14, 4, 10))
}

func TestStopReasonComplete(t *testing.T) {
	for _, r := range []StopReason{StopExhaustedCursor, StopExhaustedTotal, StopExhaustedShortPage, StopEarlyExit} {
		assert.True(t, r.Complete(), r)
	}
	for _, r := range []StopReason{StopPageCap, StopTotalTimeout, StopPageTimeout, StopPartialError, StopCanceled} {
		assert.False(t, r.Complete(), r)
	}
}
