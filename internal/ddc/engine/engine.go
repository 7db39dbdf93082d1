package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/ddc-bridge/internal/ddc/hw"
	"github.com/nerrad567/ddc-bridge/internal/ddc/registry"
)

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Default settings.
const (
	DefaultPollInterval     = 20 * time.Second
	DefaultHardwareTimeout  = 500 * time.Millisecond
	DefaultFailureThreshold = 3
)

// Config holds engine settings.
type Config struct {
	// PollInterval is the reconciliation period.
	PollInterval time.Duration

	// HardwareTimeout bounds each read and write.
	HardwareTimeout time.Duration

	// FailureThreshold is the number of consecutive ticks with no
	// successful read before a display is degraded.
	FailureThreshold int

	// Parallelism bounds concurrent display reconciliation. 0 is unbounded.
	Parallelism int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.HardwareTimeout <= 0 {
		c.HardwareTimeout = DefaultHardwareTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	return c
}

// Engine keeps bus state synchronised with display hardware. It owns every
// FeatureState; the registry owns every handle.
type Engine struct {
	cfg  Config
	reg  *registry.Registry
	port hw.Port
	pub  Publisher

	states map[int]*deviceState

	obsMu    sync.RWMutex
	observer Observer

	loggerMu sync.RWMutex
	logger   Logger

	ticking atomic.Bool
	stats   counters
	now     func() time.Time

	router *Router
}

// New creates an engine over a registry and the port it was built with.
func New(cfg Config, reg *registry.Registry, port hw.Port, pub Publisher) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		reg:      reg,
		port:     port,
		pub:      pub,
		states:   make(map[int]*deviceState),
		observer: noopObserver{},
		logger:   noopLogger{},
		now:      time.Now,
	}
	for _, idx := range reg.Indices() {
		dev, _ := reg.Device(idx)
		e.states[idx] = newDeviceState(dev.Features())
	}
	e.router = &Router{e: e}
	return e
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.loggerMu.Lock()
	defer e.loggerMu.Unlock()
	e.logger = logger
}

// SetObserver sets the audit/telemetry observer.
func (e *Engine) SetObserver(o Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	if o == nil {
		o = noopObserver{}
	}
	e.observer = o
}

func (e *Engine) log() Logger {
	e.loggerMu.RLock()
	defer e.loggerMu.RUnlock()
	return e.logger
}

func (e *Engine) obs() Observer {
	e.obsMu.RLock()
	defer e.obsMu.RUnlock()
	return e.observer
}

// Router returns the command router bound to this engine.
func (e *Engine) Router() *Router {
	return e.router
}

// Registry returns the engine's device registry.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// FeatureView is a read-only copy of one FeatureState.
type FeatureView struct {
	Value     string    `json:"value,omitempty"`
	Published bool      `json:"published"`
	Raw       *uint16   `json:"raw,omitempty"`
	LastSeen  time.Time `json:"last_seen,omitempty"`
	Failures  int       `json:"consecutive_failures"`
}

// State returns a copy of the feature states of index, taken under its
// lease.
func (e *Engine) State(ctx context.Context, index int) (map[string]FeatureView, error) {
	lease, err := e.reg.Acquire(ctx, index)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownDevice) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, index)
		}
		return nil, err
	}
	defer lease.Release()

	st := e.states[index]
	out := make(map[string]FeatureView, len(st.features))
	for f, fs := range st.features {
		v := FeatureView{Value: fs.Value, Published: fs.Published, LastSeen: fs.LastSeen, Failures: fs.Failures}
		if fs.HasRaw {
			raw := fs.Raw
			v.Raw = &raw
		}
		out[string(f)] = v
	}
	return out, nil
}

// Start binds displays and announces every configured display once.
// Displays not attached are announced and marked offline; they are
// announced again when they first come online. Enumeration failure is
// logged and leaves every display unavailable until a later tick.
func (e *Engine) Start(ctx context.Context) error {
	if _, err := e.reg.Refresh(ctx); err != nil {
		e.stats.enumerationFailures.Add(1)
		e.log().Warn("initial display enumeration failed", "error", err)
	}

	for _, idx := range e.reg.Indices() {
		if err := e.announce(ctx, idx); err != nil {
			return err
		}
	}

	if _, err := e.Tick(ctx); err != nil && !errors.Is(err, hw.ErrEnumeration) {
		return err
	}
	return nil
}

func (e *Engine) announce(ctx context.Context, idx int) error {
	lease, err := e.reg.Acquire(ctx, idx)
	if err != nil {
		return fmt.Errorf("announcing display %d: %w", idx, err)
	}
	defer lease.Release()

	st := e.states[idx]
	if err := e.pub.Announce(ctx, lease.Device()); err != nil {
		e.log().Warn("discovery announcement failed", "display", idx, "error", err)
		st.needsAnnounce = true
	}
	if lease.Status() == registry.StatusUnavailable {
		e.setAvailability(ctx, idx, st, false)
	}
	return nil
}

// setAvailability publishes the display's availability when it differs
// from the last published value. Caller holds the lease.
func (e *Engine) setAvailability(ctx context.Context, idx int, st *deviceState, online bool) {
	want := availabilityOffline
	if online {
		want = availabilityOnline
	}
	if st.availability == want {
		return
	}
	if err := e.pub.PublishAvailability(ctx, idx, online); err != nil {
		e.log().Warn("publishing availability failed", "display", idx, "online", online, "error", err)
		return
	}
	st.availability = want
}

// Run ticks every PollInterval until ctx is done. A tick that is still
// running when the next is due causes that next tick to be skipped.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.ticking.Load() {
				e.stats.ticksSkipped.Add(1)
				e.log().Warn("previous tick still running, skipping")
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := e.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) && ctx.Err() == nil {
					e.log().Debug("tick ended with error", "error", err)
				}
			}()
		}
	}
}
