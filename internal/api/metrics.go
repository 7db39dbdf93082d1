package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/ddc-bridge/internal/bridges/ddc"
	"github.com/nerrad567/ddc-bridge/internal/ddc/engine"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	MQTT          MQTTMetrics       `json:"mqtt"`
	Displays      ddc.DisplayCounts `json:"displays"`
	Engine        engine.Stats      `json:"engine"`
	Database      *DatabaseMetrics  `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// MQTTMetrics contains MQTT client statistics. BrokerClients is set only
// when the embedded broker runs.
type MQTTMetrics struct {
	Connected     bool `json:"connected"`
	BrokerClients *int `json:"broker_clients,omitempty"`
}

// DatabaseMetrics contains command log database statistics.
type DatabaseMetrics struct {
	Path              string `json:"path"`
	SchemaVersion     string `json:"schema_version,omitempty"`
	PendingMigrations int    `json:"pending_migrations"`
	OpenConnections   int    `json:"open_connections"`
	InUse             int    `json:"in_use"`
	Idle              int    `json:"idle"`
	WaitCount         int64  `json:"wait_count"`
}

// handleMetrics returns runtime, display and engine counters.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Displays: ddc.CountDisplays(s.displays.Snapshot()),
		Engine:   s.engine.Stats(),
	}

	if s.mqtt != nil {
		metrics.MQTT.Connected = s.mqtt.IsConnected()
	}
	if s.broker != nil {
		clients := s.broker.Clients()
		metrics.MQTT.BrokerClients = &clients
	}

	if s.db != nil {
		stats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			Path:            s.db.Path(),
			OpenConnections: stats.OpenConnections,
			InUse:           stats.InUse,
			Idle:            stats.Idle,
			WaitCount:       stats.WaitCount,
		}
		applied, pending, err := s.db.GetMigrationStatus(r.Context())
		if err != nil {
			s.logger.Warn("reading migration status failed", "error", err)
		} else {
			if n := len(applied); n > 0 {
				metrics.Database.SchemaVersion = applied[n-1].Version
			}
			metrics.Database.PendingMigrations = len(pending)
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
