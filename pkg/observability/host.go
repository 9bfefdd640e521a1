package observability

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Thresholds above which the host is reported as degraded.
const (
	cpuWarnPercent  = 90.0
	memWarnPercent  = 90.0
	diskWarnPercent = 95.0
)

// HostSnapshot gathers a point-in-time view of host resources.
func HostSnapshot(ctx context.Context) map[string]any {
	snapshot := map[string]any{
		"collected_at": time.Now().UTC().Format(time.RFC3339),
		"goroutines":   runtime.NumGoroutine(),
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		snapshot["cpu"] = map[string]any{"percent": pct[0], "count": runtime.NumCPU()}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snapshot["memory"] = map[string]any{
			"total":     vm.Total,
			"available": vm.Available,
			"used":      vm.Used,
			"percent":   vm.UsedPercent,
		}
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		snapshot["disk"] = map[string]any{
			"total":   du.Total,
			"free":    du.Free,
			"used":    du.Used,
			"percent": du.UsedPercent,
		}
	}
	snapshot["status"] = hostStatus(snapshot)
	return snapshot
}

func hostStatus(snapshot map[string]any) string {
	over := func(section string, limit float64) bool {
		m, ok := snapshot[section].(map[string]any)
		if !ok {
			return false
		}
		pct, _ := m["percent"].(float64)
		return pct >= limit
	}
	if over("cpu", cpuWarnPercent) || over("memory", memWarnPercent) || over("disk", diskWarnPercent) {
		return "degraded"
	}
	return "healthy"
}
