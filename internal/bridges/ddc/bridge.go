package ddc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/ddc-bridge/internal/ddc/engine"
	"github.com/nerrad567/ddc-bridge/internal/ddc/registry"
	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
	"github.com/nerrad567/ddc-bridge/internal/infrastructure/mqtt"
)

// Bridge operation constants.
const (
	// commandQueueSize bounds pending commands per display.
	commandQueueSize = 16

	// commandSource tags outcomes of commands received over MQTT.
	commandSource = "mqtt"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it; tests use a mock.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// Unsubscribe removes the subscription for a topic pattern.
	Unsubscribe(topic string) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// DeviceLookup reports configured displays. *registry.Registry satisfies it.
type DeviceLookup interface {
	Device(index int) (registry.Device, bool)
}

// CommandRouter applies one inbound command. *engine.Router satisfies it.
type CommandRouter interface {
	Handle(ctx context.Context, source, identifier string, payload []byte) engine.Outcome
}

// Bridge is the bus adapter between the engine and MQTT. It publishes
// state, availability and discovery documents as retained messages, and
// feeds commands from {prefix}/command/+ to the router.
//
// Commands for one display are applied in arrival order; commands for
// different displays run concurrently.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID string
	topics   mqtt.Topics
	qos      byte
	mqtt     MQTTClient
	router   CommandRouter
	devices  DeviceLookup
	health   *HealthReporter

	queues   map[int]chan command
	queuesMu sync.Mutex

	// subscribed is the command topic once Start has subscribed.
	subscribed string

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

type command struct {
	identifier string
	payload    []byte
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in discovery documents.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// Topics builds every topic the bridge uses.
	Topics mqtt.Topics

	// QoS is used for every publish and the command subscription.
	QoS byte

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Router applies inbound commands. Required before Start.
	Router CommandRouter

	// Devices limits per-display command queues to configured displays.
	// Commands for any other index go straight to the router, which
	// rejects them. When nil no display gets a queue.
	Devices DeviceLookup

	// HealthInterval is how often health is published.
	HealthInterval time.Duration

	// Displays and Stats feed the health report. Optional.
	Displays DisplaySource
	Stats    StatsSource

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start to subscribe to commands and begin health reporting.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge id is required")
	}
	if opts.Topics.Prefix == "" {
		opts.Topics = mqtt.NewTopics(opts.Topics.Prefix, opts.Topics.Discovery)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		bridgeID:  opts.BridgeID,
		topics:    opts.Topics,
		qos:       opts.QoS,
		mqtt:      opts.MQTTClient,
		router:    opts.Router,
		devices:   opts.Devices,
		queues:    make(map[int]chan command),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.BridgeID,
		Version:   opts.Version,
		Topic:     opts.Topics.Health(),
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Displays:  opts.Displays,
		Stats:     opts.Stats,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// SetRouter sets the command router. The engine needs the bridge as its
// publisher and the bridge needs the engine's router, so one of them is
// wired after construction.
func (b *Bridge) SetRouter(r CommandRouter) {
	b.queuesMu.Lock()
	b.router = r
	b.queuesMu.Unlock()
}

// Health returns the bridge's health reporter.
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// Start subscribes to command topics and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	topic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(topic, b.qos, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.queuesMu.Lock()
	b.subscribed = topic
	b.queuesMu.Unlock()
	b.logInfo("subscribed to commands", "topic", topic)

	b.health.Start(ctx)

	b.logInfo("bridge started", "bridge_id", b.bridgeID)
	return nil
}

// Stop gracefully shuts down the bridge. Queued commands that have not
// started are dropped; in-flight commands are cancelled.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.unsubscribe()
		close(b.done)
		b.ctxCancel()
		b.health.Stop()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// unsubscribe drops the command subscription so the broker stops
// delivering commands nobody will apply.
func (b *Bridge) unsubscribe() {
	b.queuesMu.Lock()
	topic := b.subscribed
	b.subscribed = ""
	b.queuesMu.Unlock()

	if topic == "" || !b.mqtt.IsConnected() {
		return
	}
	if err := b.mqtt.Unsubscribe(topic); err != nil {
		b.logWarn("unsubscribe from commands failed", "topic", topic, "error", err)
		return
	}
	b.logDebug("unsubscribed from commands", "topic", topic)
}

// =============================================================================
// engine.Publisher
// =============================================================================

// PublishState publishes a display feature's symbolic value, retained.
func (b *Bridge) PublishState(_ context.Context, index int, feature vcp.Feature, value string) error {
	return b.publish(b.topics.DisplayState(index, string(feature)), []byte(value))
}

// PublishAvailability publishes a display's availability, retained.
func (b *Bridge) PublishAvailability(_ context.Context, index int, online bool) error {
	payload := mqtt.PayloadOffline
	if online {
		payload = mqtt.PayloadOnline
	}
	return b.publish(b.topics.DisplayAvailability(index), []byte(payload))
}

// Announce publishes a discovery document for every feature of d, retained.
// Every feature is attempted; the first error is returned.
func (b *Bridge) Announce(_ context.Context, d registry.Device) error {
	var firstErr error
	for _, f := range d.Features() {
		doc, err := BuildSelectConfig(b.topics, b.bridgeID, d, f)
		if err == nil {
			err = b.publishJSON(b.topics.DiscoveryConfig(discoveryComponent, ObjectID(b.bridgeID, d.Index, f)), doc)
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("announcing display %d %s: %w", d.Index, f, err)
		}
	}
	if firstErr == nil {
		b.logDebug("display announced", "display", d.Index, "features", len(d.Features()))
	}
	return firstErr
}

func (b *Bridge) publish(topic string, payload []byte) error {
	if !b.mqtt.IsConnected() {
		return ErrNotConnected
	}
	return b.mqtt.Publish(topic, payload, b.qos, true)
}

func (b *Bridge) publishJSON(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.publish(topic, payload)
}

// =============================================================================
// Commands
// =============================================================================

// handleMQTTMessage routes a command message to its display's queue.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	identifier, ok := b.topics.CommandIdentifier(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	select {
	case <-b.done:
		return ErrStopped
	default:
	}

	cmd := command{identifier: identifier, payload: append([]byte(nil), payload...)}

	id, err := engine.ParseIdentifier(identifier)
	if err != nil || !b.configured(id.Device) {
		// Rejected without touching hardware; no need to queue.
		b.apply(cmd)
		return nil
	}
	return b.enqueue(id.Device, cmd)
}

func (b *Bridge) configured(index int) bool {
	if b.devices == nil {
		return false
	}
	_, ok := b.devices.Device(index)
	return ok
}

// enqueue hands cmd to the display's worker without blocking. A full
// queue drops cmd and returns ErrQueueFull.
func (b *Bridge) enqueue(index int, cmd command) error {
	b.queuesMu.Lock()
	select {
	case <-b.done:
		b.queuesMu.Unlock()
		return ErrStopped
	default:
	}
	q, ok := b.queues[index]
	if !ok {
		q = make(chan command, commandQueueSize)
		b.queues[index] = q
		b.wg.Add(1)
		go b.worker(q)
	}
	b.queuesMu.Unlock()

	select {
	case q <- cmd:
		return nil
	default:
		b.logWarn("command queue full, dropping command", "display", index, "identifier", cmd.identifier)
		return fmt.Errorf("%w: display %d", ErrQueueFull, index)
	}
}

// worker applies one display's commands in order until Stop.
func (b *Bridge) worker(q <-chan command) {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case cmd := <-q:
			b.apply(cmd)
		}
	}
}

func (b *Bridge) apply(cmd command) {
	b.queuesMu.Lock()
	router := b.router
	b.queuesMu.Unlock()
	if router == nil {
		b.logError("command dropped", errors.New("no router configured"))
		return
	}

	out := router.Handle(b.ctx, commandSource, cmd.identifier, cmd.payload)
	b.logDebug("command handled",
		"id", out.ID,
		"identifier", cmd.identifier,
		"stage", string(out.Stage),
		"duration", out.Duration)
}

// =============================================================================
// Logging
// =============================================================================

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// SetLogger sets the logger for the bridge and its health reporter.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if l := b.getLogger(); l != nil {
		l.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
