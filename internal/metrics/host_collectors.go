package metrics

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"
)

// CPUCollector collects the overall CPU usage percentage.
type CPUCollector struct {
	Logger zerolog.Logger
}

func (c *CPUCollector) Name() string {
	return "cpu"
}

// Collect retrieves the aggregate CPU usage percentage.
func (c *CPUCollector) Collect(ctx context.Context) interface{} {
	percentages, err := cpu.Percent(0, false)
	if err != nil {
		c.Logger.Error().Err(err).Msg("Failed to get CPU usage")
		return nil
	}
	if len(percentages) == 0 {
		c.Logger.Warn().Msg("CPU usage data is empty")
		return nil
	}
	return &percentages[0]
}

func (c *CPUCollector) Unit() string {
	return "percentage"
}

func (c *CPUCollector) Description() string {
	return "Aggregate CPU usage across all cores."
}

// MemoryCollector collects the percentage of used virtual memory.
type MemoryCollector struct {
	Logger zerolog.Logger
}

func (m *MemoryCollector) Name() string {
	return "memory"
}

// Collect retrieves the percentage of used virtual memory.
func (m *MemoryCollector) Collect(ctx context.Context) interface{} {
	memStats, err := mem.VirtualMemory()
	if err != nil {
		m.Logger.Error().Err(err).Msg("Failed to retrieve memory statistics")
		return nil
	}
	return &memStats.UsedPercent
}

func (m *MemoryCollector) Unit() string {
	return "percentage"
}

func (m *MemoryCollector) Description() string {
	return "Percentage of used virtual memory."
}

// UptimeCollector collects the host uptime.
type UptimeCollector struct {
	Logger zerolog.Logger
}

func (u *UptimeCollector) Name() string {
	return "uptime"
}

// Collect retrieves the host uptime in seconds.
func (u *UptimeCollector) Collect(ctx context.Context) interface{} {
	uptime, err := host.Uptime()
	if err != nil {
		u.Logger.Error().Err(err).Msg("Failed to retrieve host uptime")
		return nil
	}
	return &uptime
}

func (u *UptimeCollector) Unit() string {
	return "seconds"
}

func (u *UptimeCollector) Description() string {
	return "Seconds since the host booted."
}
