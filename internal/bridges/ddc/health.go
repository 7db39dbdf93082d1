package ddc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/ddc-bridge/internal/ddc/engine"
	"github.com/nerrad567/ddc-bridge/internal/ddc/registry"
)

// defaultHealthInterval is used when no interval is configured.
const defaultHealthInterval = 30 * time.Second

// HealthReporter manages periodic health status reporting.
// It publishes a retained health document at regular intervals.
type HealthReporter struct {
	bridgeID  string
	version   string
	topic     string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	displays  DisplaySource
	stats     StatsSource

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// DisplaySource lists configured displays with their current status.
// *registry.Registry satisfies it.
type DisplaySource interface {
	Snapshot() []registry.Info
}

// StatsSource reports engine counters. *engine.Engine satisfies it.
type StatsSource interface {
	Stats() engine.Stats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Topic is where health documents are published.
	Topic string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Displays provides display status counts. Optional.
	Displays DisplaySource

	// Stats provides engine counters. Optional.
	Stats StatsSource
}

// NewHealthReporter creates a new health reporter.
// Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		topic:     cfg.Topic,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		displays:  cfg.Displays,
		stats:     cfg.Stats,
		done:      make(chan struct{}),
	}
}

// Start begins periodic health reporting until ctx is cancelled or Stop
// is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	msg := h.Current()
	return h.publish(msg)
}

// Current evaluates the bridge's health without publishing it.
func (h *HealthReporter) Current() HealthMessage {
	status, reason := h.determineStatus()
	return h.buildMessage(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	counts := h.displayCounts()
	switch {
	case counts.Degraded > 0 && counts.Unavailable > 0:
		return HealthDegraded, "displays degraded and unavailable"
	case counts.Degraded > 0:
		return HealthDegraded, "displays degraded"
	case counts.Unavailable > 0:
		return HealthDegraded, "displays unavailable"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) displayCounts() DisplayCounts {
	if h.displays == nil {
		return DisplayCounts{}
	}
	return CountDisplays(h.displays.Snapshot())
}

func (h *HealthReporter) buildMessage(status HealthStatus, reason string) HealthMessage {
	var stats engine.Stats
	if h.stats != nil {
		stats = h.stats.Stats()
	}
	msg := NewHealthMessage(h.bridgeID, h.version, status, h.displayCounts(), stats, h.startTime)
	msg.Reason = reason
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	return h.publish(h.buildMessage(status, reason))
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// QoS 1, retained
	return h.publisher.Publish(h.topic, payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
