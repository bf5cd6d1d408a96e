package database

import (
	"context"
	"time"
)

// HealthStatus describes the database connection state.
type HealthStatus struct {
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency_ns"`
	OpenConns int           `json:"open_conns"`
	InUse     int           `json:"in_use"`
	Error     string        `json:"error,omitempty"`
}

// Health pings the database and reports pool statistics.
func (c *Client) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	err := c.PingContext(ctx)
	stats := c.Stats()

	status := HealthStatus{
		Reachable: err == nil,
		Latency:   time.Since(start),
		OpenConns: stats.OpenConnections,
		InUse:     stats.InUse,
	}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}
