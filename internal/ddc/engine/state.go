package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ddc-bridge/internal/ddc/registry"
	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
)

// FeatureState is the engine's memory of one (display, feature) pair.
// It is only read or written while holding the display's lease.
type FeatureState struct {
	// Value is the last symbol published. Meaningful only when Published.
	Value     string
	Published bool

	// Raw is the last raw value read or written. Meaningful only when HasRaw.
	Raw    uint16
	HasRaw bool

	// LastSeen is when the hardware last confirmed Raw.
	LastSeen time.Time

	// Failures counts consecutive failed reads.
	Failures int
}

type availability int

const (
	availabilityUnknown availability = iota
	availabilityOnline
	availabilityOffline
)

// deviceState is the per-display record owned by the engine. The map that
// holds these is built once; each record is guarded by its display lease.
type deviceState struct {
	features      map[vcp.Feature]*FeatureState
	availability  availability
	failedTicks   int
	needsAnnounce bool
}

func newDeviceState(features []vcp.Feature) *deviceState {
	st := &deviceState{features: make(map[vcp.Feature]*FeatureState, len(features))}
	for _, f := range features {
		st.features[f] = &FeatureState{}
	}
	return st
}

// Publisher delivers engine events to the bus. Every publication is
// retained.
type Publisher interface {
	PublishState(ctx context.Context, index int, feature vcp.Feature, value string) error
	PublishAvailability(ctx context.Context, index int, online bool) error
	Announce(ctx context.Context, device registry.Device) error
}

// Observer receives engine events for audit and telemetry. Calls are made
// synchronously and must not block.
type Observer interface {
	StateChanged(index int, feature vcp.Feature, value string, raw uint16)
	CommandCompleted(o Outcome)
	TickCompleted(r TickResult)
}

type noopObserver struct{}

func (noopObserver) StateChanged(int, vcp.Feature, string, uint16) {}
func (noopObserver) CommandCompleted(Outcome)                      {}
func (noopObserver) TickCompleted(TickResult)                      {}

// Observers fans events out to several observers.
type Observers []Observer

func (m Observers) StateChanged(index int, feature vcp.Feature, value string, raw uint16) {
	for _, o := range m {
		o.StateChanged(index, feature, value, raw)
	}
}

func (m Observers) CommandCompleted(out Outcome) {
	for _, o := range m {
		o.CommandCompleted(out)
	}
}

func (m Observers) TickCompleted(r TickResult) {
	for _, o := range m {
		o.TickCompleted(r)
	}
}

// TickResult summarises one reconciliation pass.
type TickResult struct {
	Started     time.Time
	Duration    time.Duration
	Devices     int
	Reads       int
	ReadsFailed int
	Published   int
	Degraded    int
	Unavailable int
}

// Stats is a snapshot of engine counters since start.
type Stats struct {
	Ticks               uint64 `json:"ticks"`
	TicksSkipped        uint64 `json:"ticks_skipped"`
	EnumerationFailures uint64 `json:"enumeration_failures"`
	ReadsFailed         uint64 `json:"reads_failed"`
	StatesPublished     uint64 `json:"states_published"`
	CommandsApplied     uint64 `json:"commands_applied"`
	CommandsRejected    uint64 `json:"commands_rejected"`
	CommandsIgnored     uint64 `json:"commands_ignored"`
	CommandsFailed      uint64 `json:"commands_failed"`
}

type counters struct {
	ticks               atomic.Uint64
	ticksSkipped        atomic.Uint64
	enumerationFailures atomic.Uint64
	readsFailed         atomic.Uint64
	statesPublished     atomic.Uint64
	commandsApplied     atomic.Uint64
	commandsRejected    atomic.Uint64
	commandsIgnored     atomic.Uint64
	commandsFailed      atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Ticks:               c.ticks.Load(),
		TicksSkipped:        c.ticksSkipped.Load(),
		EnumerationFailures: c.enumerationFailures.Load(),
		ReadsFailed:         c.readsFailed.Load(),
		StatesPublished:     c.statesPublished.Load(),
		CommandsApplied:     c.commandsApplied.Load(),
		CommandsRejected:    c.commandsRejected.Load(),
		CommandsIgnored:     c.commandsIgnored.Load(),
		CommandsFailed:      c.commandsFailed.Load(),
	}
}
