package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/ddc-bridge/internal/ddc/hw"
	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// Status is the availability of a logical display.
type Status string

const (
	// StatusOnline means the display has a handle and answers reads.
	StatusOnline Status = "online"

	// StatusDegraded means the display has a handle but every read has
	// failed for the configured number of consecutive ticks.
	StatusDegraded Status = "degraded"

	// StatusUnavailable means no physical display is bound to the index.
	StatusUnavailable Status = "unavailable"
)

// Device is the static definition of a logical display.
type Device struct {
	Index        int
	Name         string
	Manufacturer string
	Model        string

	// Serial binds the index to the monitor reporting this EDID serial.
	// Empty means positional binding.
	Serial string

	Codec *vcp.Codec
}

// Features returns the device's capabilities in order.
func (d Device) Features() []vcp.Feature {
	if d.Codec == nil {
		return nil
	}
	return d.Codec.Features()
}

// Info is a read-only view of a logical display.
type Info struct {
	Index        int
	Name         string
	Manufacturer string
	Model        string
	Status       Status
	HandleID     string
	Description  string
	Serial       string
	Features     []vcp.Feature
}

// Change describes what a Refresh did to one index.
type Change struct {
	Index         int
	From          Status
	To            Status
	HandleChanged bool
}

type entry struct {
	def  Device
	sem  chan struct{}
	held hw.Handle
	has  bool

	degraded bool
}

// Registry maps stable indices to physical displays and owns every handle
// obtained from the Port. Access to a display's handle is only possible
// through a Lease, which serialises hardware calls per display.
//
// All public methods are thread-safe.
type Registry struct {
	port    hw.Port
	logger  Logger
	entries map[int]*entry
	order   []int

	mu        sync.RWMutex // protects held, has, degraded
	refreshMu sync.Mutex   // serialises Refresh and Close
}

// New creates a registry for the given devices. No handles are held until
// the first Refresh.
func New(port hw.Port, devices []Device) (*Registry, error) {
	r := &Registry{
		port:    port,
		logger:  noopLogger{},
		entries: make(map[int]*entry, len(devices)),
	}
	for _, d := range devices {
		if d.Index < 0 {
			return nil, fmt.Errorf("registry: negative index %d", d.Index)
		}
		if _, dup := r.entries[d.Index]; dup {
			return nil, fmt.Errorf("registry: duplicate index %d", d.Index)
		}
		if d.Codec == nil {
			return nil, fmt.Errorf("registry: device %d has no codec", d.Index)
		}
		r.entries[d.Index] = &entry{def: d, sem: make(chan struct{}, 1)}
		r.order = append(r.order, d.Index)
	}
	sort.Ints(r.order)
	return r, nil
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Indices returns every configured index in ascending order.
func (r *Registry) Indices() []int {
	out := make([]int, len(r.order))
	copy(out, r.order)
	return out
}

// Device returns the static definition for index.
func (r *Registry) Device(index int) (Device, bool) {
	e, ok := r.entries[index]
	if !ok {
		return Device{}, false
	}
	return e.def, true
}

// Status returns the current status of index.
func (r *Registry) Status(index int) (Status, error) {
	e, ok := r.entries[index]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownDevice, index)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return statusOf(e), nil
}

func statusOf(e *entry) Status {
	switch {
	case !e.has:
		return StatusUnavailable
	case e.degraded:
		return StatusDegraded
	default:
		return StatusOnline
	}
}

// SetDegraded flags or clears the degraded state of index. It has no
// effect on an unavailable display.
func (r *Registry) SetDegraded(index int, degraded bool) {
	e, ok := r.entries[index]
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.has {
		e.degraded = degraded
	}
}

// Get returns a view of index.
func (r *Registry) Get(index int) (Info, bool) {
	e, ok := r.entries[index]
	if !ok {
		return Info{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return infoOf(e), true
}

// Snapshot returns a view of every display in index order.
func (r *Registry) Snapshot() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.order))
	for _, idx := range r.order {
		out = append(out, infoOf(r.entries[idx]))
	}
	return out
}

func infoOf(e *entry) Info {
	info := Info{
		Index:        e.def.Index,
		Name:         e.def.Name,
		Manufacturer: e.def.Manufacturer,
		Model:        e.def.Model,
		Status:       statusOf(e),
		Features:     e.def.Features(),
	}
	if e.has {
		info.HandleID = e.held.ID
		info.Description = e.held.Description
		info.Serial = e.held.Serial
	}
	return info
}

// Acquire takes the lease for index, waiting until it is free or ctx is
// done. The caller must Release the lease.
func (r *Registry) Acquire(ctx context.Context, index int) (*Lease, error) {
	e, ok := r.entries[index]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, index)
	}
	select {
	case e.sem <- struct{}{}:
		return &Lease{r: r, e: e}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Refresh re-enumerates physical displays and rebinds indices.
//
// On enumeration failure the current bindings are kept and the error,
// wrapping hw.ErrEnumeration, is returned. Otherwise each index is bound to
// the handle matching its serial, or to the handle at its enumeration
// position when no serial is configured. Indices left without a handle
// become unavailable. Every handle that is no longer bound is released
// exactly once.
func (r *Registry) Refresh(ctx context.Context) ([]Change, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	handles, err := r.port.Enumerate(ctx)
	if err != nil {
		if !errors.Is(err, hw.ErrEnumeration) {
			err = fmt.Errorf("%w: %w", hw.ErrEnumeration, err)
		}
		return nil, err
	}

	assigned := r.assign(handles)

	// Take every lease so no hardware call observes a half-applied rebind.
	leases := make([]*Lease, 0, len(r.order))
	for _, idx := range r.order {
		l, err := r.Acquire(ctx, idx)
		if err != nil {
			for _, held := range leases {
				held.Release()
			}
			r.releaseUnbound(handles, nil)
			return nil, fmt.Errorf("refreshing registry: %w", err)
		}
		leases = append(leases, l)
	}
	defer func() {
		for _, l := range leases {
			l.Release()
		}
	}()

	bound := make(map[string]bool, len(assigned))
	for _, h := range assigned {
		bound[h.ID] = true
	}
	released := make(map[string]bool)

	var changes []Change

	r.mu.Lock()
	for _, idx := range r.order {
		e := r.entries[idx]
		before := statusOf(e)
		old, hadOld := e.held, e.has
		next, hasNext := assigned[idx]

		if hadOld && !bound[old.ID] && !released[old.ID] {
			r.release(old)
			released[old.ID] = true
		}

		e.held, e.has = next, hasNext
		if !hasNext {
			e.degraded = false
		}

		handleChanged := hadOld != hasNext || (hasNext && old.ID != next.ID)
		after := statusOf(e)
		if before != after || handleChanged {
			changes = append(changes, Change{Index: idx, From: before, To: after, HandleChanged: handleChanged})
		}
	}
	r.mu.Unlock()

	r.releaseUnbound(handles, released)

	for _, c := range changes {
		r.logger.Info("display binding changed",
			"display", c.Index,
			"from", string(c.From),
			"to", string(c.To),
			"handle_changed", c.HandleChanged,
		)
	}
	return changes, nil
}

// assign maps indices to enumerated handles. Serial-bound indices claim
// their monitor first. The rest take the handle at their own position, or
// nothing when a serial index already claimed it.
func (r *Registry) assign(handles []hw.Handle) map[int]hw.Handle {
	out := make(map[int]hw.Handle, len(r.order))
	claimed := make([]bool, len(handles))

	for _, idx := range r.order {
		serial := r.entries[idx].def.Serial
		if serial == "" {
			continue
		}
		for i, h := range handles {
			if !claimed[i] && h.Serial == serial {
				out[idx] = h
				claimed[i] = true
				break
			}
		}
	}

	for _, idx := range r.order {
		if r.entries[idx].def.Serial != "" {
			continue
		}
		if idx < len(handles) && !claimed[idx] {
			out[idx] = handles[idx]
			claimed[idx] = true
		}
	}
	return out
}

// releaseUnbound releases enumerated handles that no index holds.
func (r *Registry) releaseUnbound(handles []hw.Handle, released map[string]bool) {
	r.mu.RLock()
	held := make(map[string]bool, len(r.entries))
	for _, e := range r.entries {
		if e.has {
			held[e.held.ID] = true
		}
	}
	r.mu.RUnlock()

	for _, h := range handles {
		if held[h.ID] || released[h.ID] {
			continue
		}
		r.release(h)
		if released != nil {
			released[h.ID] = true
		}
	}
}

func (r *Registry) release(h hw.Handle) {
	if err := r.port.Release(h); err != nil {
		r.logger.Warn("releasing display handle failed", "handle", h.ID, "error", err)
		return
	}
	r.logger.Debug("display handle released", "handle", h.ID)
}

// Close releases every held handle. The registry must not be used after.
func (r *Registry) Close() {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, idx := range r.order {
		e := r.entries[idx]
		if e.has {
			r.release(e.held)
			e.has = false
			e.degraded = false
		}
	}
}

// Lease grants exclusive access to one display's handle and owned state.
type Lease struct {
	r    *Registry
	e    *entry
	once sync.Once
}

// Index returns the leased display's index.
func (l *Lease) Index() int {
	return l.e.def.Index
}

// Device returns the leased display's definition.
func (l *Lease) Device() Device {
	return l.e.def
}

// Handle returns the current handle, or false when the display is
// unavailable. The handle must not be used after Release.
func (l *Lease) Handle() (hw.Handle, bool) {
	l.r.mu.RLock()
	defer l.r.mu.RUnlock()
	return l.e.held, l.e.has
}

// Status returns the display status as seen under the lease.
func (l *Lease) Status() Status {
	l.r.mu.RLock()
	defer l.r.mu.RUnlock()
	return statusOf(l.e)
}

// Release returns the lease. Calling it more than once is a no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		<-l.e.sem
	})
}
