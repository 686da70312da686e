package gateway

import (
	"runtime"
	"time"
)

// SystemStats is the process snapshot included in /api/status.
type SystemStats struct {
	Goroutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	SysMB       float64 `json:"sys_mb"`
	GCRuns      uint32  `json:"gc_runs"`
	CPUCores    int     `json:"cpu_cores"`
	UptimeSec   int64   `json:"uptime_sec"`
}

// CollectSystemStats reads Go runtime statistics.
func CollectSystemStats(start time.Time) SystemStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return SystemStats{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		SysMB:       float64(ms.Sys) / 1024 / 1024,
		GCRuns:      ms.NumGC,
		CPUCores:    runtime.NumCPU(),
		UptimeSec:   int64(time.Since(start).Seconds()),
	}
}
