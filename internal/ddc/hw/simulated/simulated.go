// Package simulated provides an in-memory hw.Port. It backs the
// "simulated" hardware backend for development without monitors and is
// the hardware double used throughout the engine tests.
package simulated

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/ddc-bridge/internal/ddc/hw"
)

// WriteCall records one WriteFeature invocation.
type WriteCall struct {
	HandleID string
	Code     uint8
	Value    uint16
}

type display struct {
	description string
	serial      string
	values      map[uint8]uint16
	handleID    string
	present     bool

	failReads  bool
	failWrites bool
	hang       bool
}

// Port is a simulated bus of DDC/CI displays addressed by position.
type Port struct {
	mu         sync.Mutex
	displays   []*display
	generation int
	delay      time.Duration

	enumErr    error
	releaseErr error

	reads    int
	writes   []WriteCall
	releases map[string]int

	inflight    map[string]int
	maxInflight int
}

// New creates an empty simulated bus.
func New() *Port {
	return &Port{
		releases: make(map[string]int),
		inflight: make(map[string]int),
	}
}

// NewWithDisplays creates a bus with n identical AOC displays showing
// DisplayPort with gamer mode off.
func NewWithDisplays(n int) *Port {
	p := New()
	for i := 0; i < n; i++ {
		p.AddDisplay("AOC Simulated", fmt.Sprintf("SIM%04d", i), map[uint8]uint16{0x60: 0x0F, 0xDC: 0})
	}
	return p
}

// AddDisplay appends a present display at the next bus position and
// returns that position.
func (p *Port) AddDisplay(description, serial string, values map[uint8]uint16) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	v := make(map[uint8]uint16, len(values))
	for code, val := range values {
		v[code] = val
	}
	d := &display{description: description, serial: serial, values: v}
	p.displays = append(p.displays, d)
	p.plugLocked(d)
	return len(p.displays) - 1
}

func (p *Port) plugLocked(d *display) {
	p.generation++
	d.handleID = fmt.Sprintf("sim-%d", p.generation)
	d.present = true
}

// Unplug removes the display at pos from enumeration.
func (p *Port) Unplug(pos int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displays[pos].present = false
}

// Plug reattaches the display at pos. It enumerates with a fresh handle.
func (p *Port) Plug(pos int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plugLocked(p.displays[pos])
}

// Swap exchanges the bus positions of two displays and gives both new
// handles, as a cable swap would.
func (p *Port) Swap(a, b int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displays[a], p.displays[b] = p.displays[b], p.displays[a]
	p.plugLocked(p.displays[a])
	p.plugLocked(p.displays[b])
}

// SetEnumerationError makes Enumerate fail with err until cleared with nil.
func (p *Port) SetEnumerationError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enumErr = err
}

// SetReleaseError makes Release fail with err until cleared with nil.
func (p *Port) SetReleaseError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseErr = err
}

// SetReadFailure toggles transport failures for reads at pos.
func (p *Port) SetReadFailure(pos int, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displays[pos].failReads = fail
}

// SetWriteFailure toggles transport failures for writes at pos.
func (p *Port) SetWriteFailure(pos int, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displays[pos].failWrites = fail
}

// SetHang makes every call at pos block until its context expires.
func (p *Port) SetHang(pos int, hang bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displays[pos].hang = hang
}

// SetDelay adds latency to every read and write.
func (p *Port) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// SetValue changes a VCP value at pos, as the monitor's OSD would.
func (p *Port) SetValue(pos int, code uint8, value uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displays[pos].values[code] = value
}

// Value returns the current VCP value at pos.
func (p *Port) Value(pos int, code uint8) uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displays[pos].values[code]
}

// HandleID returns the handle currently enumerated at pos.
func (p *Port) HandleID(pos int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displays[pos].handleID
}

// Reads returns the number of ReadFeature calls.
func (p *Port) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

// Writes returns a copy of all successful and failed write calls.
func (p *Port) Writes() []WriteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]WriteCall, len(p.writes))
	copy(out, p.writes)
	return out
}

// Releases returns how many times handleID was released.
func (p *Port) Releases(handleID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases[handleID]
}

// MaxInflight returns the highest number of concurrent calls observed on
// any single handle.
func (p *Port) MaxInflight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInflight
}

// Enumerate implements hw.Port.
func (p *Port) Enumerate(ctx context.Context) ([]hw.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", hw.ErrEnumeration, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enumErr != nil {
		return nil, fmt.Errorf("%w: %w", hw.ErrEnumeration, p.enumErr)
	}

	var handles []hw.Handle
	for _, d := range p.displays {
		if !d.present {
			continue
		}
		handles = append(handles, hw.Handle{ID: d.handleID, Description: d.description, Serial: d.serial})
	}
	return handles, nil
}

// ReadFeature implements hw.Port.
func (p *Port) ReadFeature(ctx context.Context, h hw.Handle, code uint8) (hw.Reading, error) {
	d, done, err := p.begin(ctx, h, func(d *display) bool { return d.failReads })
	if err != nil {
		return hw.Reading{}, err
	}
	defer done()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	v, ok := d.values[code]
	if !ok {
		return hw.Reading{}, fmt.Errorf("%w: VCP 0x%02x unsupported", hw.ErrTransport, code)
	}
	return hw.Reading{Current: v, Max: 0xFF}, nil
}

// WriteFeature implements hw.Port.
func (p *Port) WriteFeature(ctx context.Context, h hw.Handle, code uint8, value uint16) error {
	p.mu.Lock()
	p.writes = append(p.writes, WriteCall{HandleID: h.ID, Code: code, Value: value})
	p.mu.Unlock()

	d, done, err := p.begin(ctx, h, func(d *display) bool { return d.failWrites })
	if err != nil {
		return err
	}
	defer done()

	p.mu.Lock()
	defer p.mu.Unlock()
	d.values[code] = value
	return nil
}

// Release implements hw.Port.
func (p *Port) Release(h hw.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releases[h.ID]++
	return p.releaseErr
}

// begin resolves h, applies injected faults and latency, and tracks
// per-handle concurrency. done must be called on success.
func (p *Port) begin(ctx context.Context, h hw.Handle, failing func(*display) bool) (*display, func(), error) {
	p.mu.Lock()
	d := p.lookupLocked(h.ID)
	if d == nil {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: no display for handle %s", hw.ErrTransport, h.ID)
	}
	hang, fail, delay := d.hang, failing(d), p.delay
	p.inflight[h.ID]++
	if p.inflight[h.ID] > p.maxInflight {
		p.maxInflight = p.inflight[h.ID]
	}
	p.mu.Unlock()

	done := func() {
		p.mu.Lock()
		p.inflight[h.ID]--
		p.mu.Unlock()
	}

	if hang {
		<-ctx.Done()
		done()
		return nil, nil, fmt.Errorf("%w: %w", hw.ErrTimeout, ctx.Err())
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			done()
			return nil, nil, fmt.Errorf("%w: %w", hw.ErrTimeout, ctx.Err())
		}
	}
	if fail {
		done()
		return nil, nil, fmt.Errorf("%w: simulated DDC/CI failure on %s", hw.ErrTransport, h.ID)
	}
	return d, done, nil
}

func (p *Port) lookupLocked(id string) *display {
	for _, d := range p.displays {
		if d.present && d.handleID == id {
			return d
		}
	}
	return nil
}
