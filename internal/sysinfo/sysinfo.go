package sysinfo

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Metrics is the resource usage snapshot reported in heartbeats.
type Metrics struct {
	CPUUsage        float64 `json:"cpuUsage"`
	MemoryUsage     float64 `json:"memoryUsage"`
	DiskUsage       float64 `json:"diskUsage"`
	ActiveEndpoints int     `json:"activeEndpoints"`
}

var startedAt = time.Now()

// Uptime returns seconds since this process started.
func Uptime() float64 {
	return time.Since(startedAt).Seconds()
}

// Describe returns the static host description sent at registration.
func Describe(ctx context.Context) map[string]any {
	info := map[string]any{
		"platform": runtime.GOOS,
		"arch":     runtime.GOARCH,
		"version":  runtime.Version(),
		"uptime":   Uptime(),
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info["memory"] = vm.Total
	}
	if counts, err := cpu.CountsWithContext(ctx, true); err == nil {
		info["cpu"] = counts
	}
	if h, err := host.InfoWithContext(ctx); err == nil {
		info["hostname"] = h.Hostname
	}

	return info
}

// Collect samples current CPU, memory and disk usage. Sampling errors leave
// the corresponding field at zero; a heartbeat with partial metrics is still
// useful.
func Collect(ctx context.Context) Metrics {
	var m Metrics

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		m.CPUUsage = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		m.MemoryUsage = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		m.DiskUsage = du.UsedPercent
	}

	return m
}
