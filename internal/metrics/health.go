package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Probe checks one dependency. A nil error means reachable.
type Probe func(ctx context.Context) error

// ProbeResult is the outcome of the latest run of a probe.
type ProbeResult struct {
	OK        bool      `json:"ok"`
	LatencyMs float64   `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// HealthStatus aggregates feed state and store probes for /healthz.
type HealthStatus struct {
	mu       sync.RWMutex
	feed     string
	lastTick time.Time
	started  time.Time
	probes   map[string]Probe
	results  map[string]ProbeResult
}

// NewHealthStatus returns a status with no probes and no feed yet.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		started: time.Now(),
		probes:  make(map[string]Probe),
		results: make(map[string]ProbeResult),
	}
}

// feedUp treats a connected feed outside market hours as healthy.
func feedUp(status string) bool {
	return status == "connected" || status == "market closed"
}

// SetFeedStatus records the latest feed status string.
func (h *HealthStatus) SetFeedStatus(s string) {
	h.mu.Lock()
	h.feed = s
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.lastTick = t
	h.mu.Unlock()
}

// Feed returns the latest feed status and last tick time.
func (h *HealthStatus) Feed() (status string, lastTick time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.feed, h.lastTick
}

// AddProbe registers a named dependency check run by Check.
func (h *HealthStatus) AddProbe(name string, p Probe) {
	h.mu.Lock()
	h.probes[name] = p
	h.mu.Unlock()
}

// Check runs every probe once and records the results.
func (h *HealthStatus) Check(ctx context.Context) {
	h.mu.RLock()
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.RUnlock()

	for name, p := range probes {
		start := time.Now()
		err := p(ctx)
		res := ProbeResult{
			OK:        err == nil,
			LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
			CheckedAt: time.Now().UTC(),
		}
		if err != nil {
			res.Error = err.Error()
		}
		h.mu.Lock()
		h.results[name] = res
		h.mu.Unlock()
	}
}

// StartLivenessChecker probes Redis and SQLite every interval until ctx is
// done. Nil clients are not probed and do not count against health.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	if rdb != nil {
		h.AddProbe("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	if sqlDB != nil {
		h.AddProbe("sqlite", sqlDB.PingContext)
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				h.Check(probeCtx)
				cancel()
			}
		}
	}()
}

type healthBody struct {
	Status        string                 `json:"status"`
	Uptime        string                 `json:"uptime"`
	FeedStatus    string                 `json:"feed_status"`
	FeedConnected bool                   `json:"feed_connected"`
	LastTickTime  *time.Time             `json:"last_tick_time,omitempty"`
	TickAge       string                 `json:"tick_age,omitempty"`
	Stores        map[string]ProbeResult `json:"stores"`
	Down          []string               `json:"down,omitempty"`
}

// ServeHTTP serves /healthz: "healthy" with 200, otherwise 503 with
// "degraded" (feed down or some store down) or "unhealthy" (every store
// down).
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	body := healthBody{
		Status:        "healthy",
		Uptime:        time.Since(h.started).Round(time.Second).String(),
		FeedStatus:    h.feed,
		FeedConnected: feedUp(h.feed),
		Stores:        make(map[string]ProbeResult, len(h.results)),
	}
	if !h.lastTick.IsZero() {
		lt := h.lastTick.UTC()
		body.LastTickTime = &lt
		body.TickAge = time.Since(h.lastTick).Round(time.Millisecond).String()
	}
	for name, res := range h.results {
		body.Stores[name] = res
		if !res.OK {
			body.Down = append(body.Down, name)
		}
	}
	h.mu.RUnlock()
	sort.Strings(body.Down)

	code := http.StatusOK
	switch {
	case len(body.Down) > 0 && len(body.Down) == len(body.Stores):
		body.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case len(body.Down) > 0 || !body.FeedConnected:
		body.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
