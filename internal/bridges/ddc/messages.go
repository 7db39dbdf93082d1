package ddc

import (
	"time"

	"github.com/nerrad567/ddc-bridge/internal/ddc/engine"
	"github.com/nerrad567/ddc-bridge/internal/ddc/registry"
)

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the broker is reachable and every display is online.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running but at least one display
	// is degraded or unavailable, or the broker is unreachable.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the retained JSON document on {prefix}/health.
type HealthMessage struct {
	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Status is the overall status.
	Status HealthStatus `json:"status"`

	// Reason explains a non-healthy status.
	Reason string `json:"reason,omitempty"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// Timestamp is when this message was generated.
	Timestamp time.Time `json:"timestamp"`

	// UptimeSeconds is the time since the bridge started.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Displays counts configured displays by status.
	Displays DisplayCounts `json:"displays"`

	// Engine holds reconciliation and command counters.
	Engine engine.Stats `json:"engine"`
}

// DisplayCounts counts configured displays by registry status.
type DisplayCounts struct {
	Total       int `json:"total"`
	Online      int `json:"online"`
	Degraded    int `json:"degraded"`
	Unavailable int `json:"unavailable"`
}

// CountDisplays tallies a registry snapshot.
func CountDisplays(infos []registry.Info) DisplayCounts {
	c := DisplayCounts{Total: len(infos)}
	for _, info := range infos {
		switch info.Status {
		case registry.StatusOnline:
			c.Online++
		case registry.StatusDegraded:
			c.Degraded++
		case registry.StatusUnavailable:
			c.Unavailable++
		}
	}
	return c
}

// NewHealthMessage creates a health message stamped with the current time.
func NewHealthMessage(bridgeID, version string, status HealthStatus, displays DisplayCounts, stats engine.Stats, startTime time.Time) HealthMessage {
	return HealthMessage{
		Bridge:        bridgeID,
		Status:        status,
		Version:       version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Displays:      displays,
		Engine:        stats,
	}
}
