package services

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// ResourceStats is the process and host resource snapshot exposed by the
// status endpoint.
type ResourceStats struct {
	Goroutines     int     `json:"goroutines"`
	HeapAllocMB    float64 `json:"heap_alloc_mb"`
	HeapSysMB      float64 `json:"heap_sys_mb"`
	NumGC          uint32  `json:"num_gc"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	MemTotalGB     float64 `json:"mem_total_gb"`
	Uptime         string  `json:"uptime"`
}

// PerformanceMonitor samples runtime and host metrics on demand.
type PerformanceMonitor struct {
	startedAt time.Time
	logger    *logrus.Logger
}

// NewPerformanceMonitor records the process start time for uptime reporting.
func NewPerformanceMonitor(logger *logrus.Logger) *PerformanceMonitor {
	return &PerformanceMonitor{startedAt: time.Now().UTC(), logger: logger}
}

// Stats samples the current resource usage. Host probes that fail leave
// their fields zero rather than failing the snapshot.
func (p *PerformanceMonitor) Stats() ResourceStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := ResourceStats{
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / (1024 * 1024),
		HeapSysMB:   float64(ms.HeapSys) / (1024 * 1024),
		NumGC:       ms.NumGC,
		Uptime:      time.Since(p.startedAt).Round(time.Second).String(),
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		stats.MemUsedPercent = memInfo.UsedPercent
		stats.MemTotalGB = float64(memInfo.Total) / (1024 * 1024 * 1024)
	} else {
		p.logger.WithError(err).Debug("Could not read host memory info")
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	} else if err != nil {
		p.logger.WithError(err).Debug("Could not read host CPU usage")
	}

	return stats
}
