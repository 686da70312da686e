package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatencyTracker_Empty(t *testing.T) {
	p50, p95, p99 := NewLatencyTracker(100).Percentiles()
	assert.Zero(t, p50)
	assert.Zero(t, p95)
	assert.Zero(t, p99)
}

func TestLatencyTracker_SingleSample(t *testing.T) {
	lt := NewLatencyTracker(100)
	lt.Record(42.5)

	p50, p95, p99 := lt.Percentiles()
	assert.Equal(t, 42.5, p50)
	assert.Equal(t, 42.5, p95)
	assert.Equal(t, 42.5, p99)
}

func TestLatencyTracker_Percentiles(t *testing.T) {
	lt := NewLatencyTracker(10000)
	for i := 1; i <= 100; i++ {
		lt.Record(float64(i))
	}

	p50, p95, p99 := lt.Percentiles()
	assert.Equal(t, 50.0, p50)
	assert.Equal(t, 95.0, p95)
	assert.Equal(t, 99.0, p99)
}

func TestLatencyTracker_Wraparound(t *testing.T) {
	lt := NewLatencyTracker(10)
	for i := 1; i <= 20; i++ {
		lt.Record(float64(i))
	}

	assert.Equal(t, 10, lt.Count())
	p50, _, p99 := lt.Percentiles()
	assert.Equal(t, 15.0, p50, "buffer holds 11..20")
	assert.Equal(t, 20.0, p99)
}

func TestLatencyTracker_Middleware(t *testing.T) {
	lt := NewLatencyTracker(10)
	h := lt.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, lt.Count())
}
