package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"tradedash/internal/ringbuf"
)

// LatencyTracker records API handler latencies in a circular buffer and
// reports nearest-rank percentiles for /api/status.
type LatencyTracker struct {
	mu      sync.Mutex
	samples *ringbuf.Ring[float64] // ms
}

// NewLatencyTracker creates a tracker that holds the last capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	return &LatencyTracker{samples: ringbuf.New[float64](capacity)}
}

// Record adds a latency sample in milliseconds.
func (lt *LatencyTracker) Record(ms float64) {
	lt.mu.Lock()
	lt.samples.Push(ms)
	lt.mu.Unlock()
}

// Percentiles returns p50, p95, p99 in milliseconds, zero when empty.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	lt.mu.Lock()
	data := stats.Float64Data(lt.samples.Snapshot())
	lt.mu.Unlock()

	if len(data) == 0 {
		return 0, 0, 0
	}
	p50, _ = stats.PercentileNearestRank(data, 50)
	p95, _ = stats.PercentileNearestRank(data, 95)
	p99, _ = stats.PercentileNearestRank(data, 99)
	return p50, p95, p99
}

// Count returns the number of samples held (up to capacity).
func (lt *LatencyTracker) Count() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.samples.Len()
}

// Middleware records the handling time of every request.
func (lt *LatencyTracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		lt.Record(float64(time.Since(start).Microseconds()) / 1000)
	})
}
