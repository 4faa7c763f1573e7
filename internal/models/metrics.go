package models

import "time"

// GatewayMetrics represents host metrics collected at a specific time.
type GatewayMetrics struct {
	Timestamp     time.Time `json:"timestamp"`
	GatewayID     string    `json:"gateway_id"`
	CPUPercent    *float64  `json:"cpu_percent,omitempty"`
	MemoryPercent *float64  `json:"memory_percent,omitempty"`
	UptimeSeconds *uint64   `json:"uptime_seconds,omitempty"`
}
