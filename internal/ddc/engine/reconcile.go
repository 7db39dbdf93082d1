package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/ddc-bridge/internal/ddc/registry"
	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
)

// deviceResult is one display's contribution to a TickResult.
type deviceResult struct {
	reads       int
	readsFailed int
	published   int
	status      registry.Status
}

type reading struct {
	feature vcp.Feature
	raw     uint16
	symbol  string
}

// Tick runs one reconciliation pass: refresh the registry, then read every
// feature of every display in parallel and publish what changed.
//
// It returns ErrTickInProgress without doing anything when another tick is
// running, and the enumeration error when the registry could not be
// refreshed. Read failures are never returned; they are isolated per
// (display, feature) and reflected in the TickResult.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	if !e.ticking.CompareAndSwap(false, true) {
		e.stats.ticksSkipped.Add(1)
		return TickResult{}, ErrTickInProgress
	}
	defer e.ticking.Store(false)

	e.stats.ticks.Add(1)
	result := TickResult{Started: e.now()}

	changes, err := e.reg.Refresh(ctx)
	if err != nil {
		e.stats.enumerationFailures.Add(1)
		e.log().Warn("display enumeration failed, skipping tick", "error", err)
		return result, fmt.Errorf("reconciliation tick: %w", err)
	}
	rebound := make(map[int]bool, len(changes))
	for _, c := range changes {
		if c.HandleChanged {
			rebound[c.Index] = true
		}
	}

	var (
		mu      sync.Mutex
		results []deviceResult
	)

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.Parallelism > 0 {
		g.SetLimit(e.cfg.Parallelism)
	}
	for _, idx := range e.reg.Indices() {
		g.Go(func() error {
			r := e.reconcileDevice(gctx, idx, rebound[idx])
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		result.Devices++
		result.Reads += r.reads
		result.ReadsFailed += r.readsFailed
		result.Published += r.published
		switch r.status {
		case registry.StatusDegraded:
			result.Degraded++
		case registry.StatusUnavailable:
			result.Unavailable++
		}
	}
	result.Duration = e.now().Sub(result.Started)

	e.obs().TickCompleted(result)
	e.log().Debug("reconciliation tick complete",
		"devices", result.Devices,
		"reads", result.Reads,
		"reads_failed", result.ReadsFailed,
		"published", result.Published,
		"duration", result.Duration,
	)
	return result, ctx.Err()
}

// reconcileDevice brings one display's bus state in line with hardware.
// Everything here happens under the display's lease.
func (e *Engine) reconcileDevice(ctx context.Context, idx int, rebound bool) deviceResult {
	lease, err := e.reg.Acquire(ctx, idx)
	if err != nil {
		return deviceResult{status: registry.StatusUnavailable}
	}
	defer lease.Release()

	st := e.states[idx]
	dev := lease.Device()

	h, ok := lease.Handle()
	if !ok {
		if st.availability != availabilityOffline {
			e.log().Info("display unavailable", "display", idx)
		}
		e.setAvailability(ctx, idx, st, false)
		st.failedTicks = 0
		st.needsAnnounce = true
		return deviceResult{status: registry.StatusUnavailable}
	}
	if rebound {
		st.failedTicks = 0
		for _, fs := range st.features {
			fs.Failures = 0
		}
	}

	res := deviceResult{status: lease.Status()}
	readings := make([]reading, 0, len(st.features))

	for _, f := range dev.Features() {
		entry, _ := dev.Codec.Entry(f)
		fs := st.features[f]
		res.reads++

		rctx, cancel := context.WithTimeout(ctx, e.cfg.HardwareTimeout)
		r, err := e.port.ReadFeature(rctx, h, uint8(entry.Code))
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				// The caller gave up; the display did not fail.
				res.reads--
				return res
			}
			fs.Failures++
			res.readsFailed++
			e.stats.readsFailed.Add(1)
			if fs.Failures == 1 {
				e.log().Warn("reading display feature failed", "display", idx, "feature", f, "error", err)
			} else {
				e.log().Debug("reading display feature failed", "display", idx, "feature", f,
					"consecutive", fs.Failures, "error", err)
			}
			continue
		}

		fs.Failures = 0
		fs.Raw, fs.HasRaw = r.Current, true
		fs.LastSeen = e.now()

		symbol, known := dev.Codec.Decode(f, r.Current)
		if !known {
			e.log().Debug("unmapped raw value", "display", idx, "feature", f, "raw", r.Current, "published_as", symbol)
		}
		readings = append(readings, reading{feature: f, raw: r.Current, symbol: symbol})
	}

	if len(readings) == 0 && res.reads > 0 {
		st.failedTicks++
		if st.failedTicks >= e.cfg.FailureThreshold && res.status != registry.StatusDegraded {
			e.reg.SetDegraded(idx, true)
			res.status = registry.StatusDegraded
			st.needsAnnounce = true
			e.setAvailability(ctx, idx, st, false)
			e.log().Warn("display degraded", "display", idx, "failed_ticks", st.failedTicks)
		}
		return res
	}

	st.failedTicks = 0
	recovering := st.availability != availabilityOnline
	if res.status == registry.StatusDegraded {
		e.reg.SetDegraded(idx, false)
		res.status = registry.StatusOnline
		e.log().Info("display recovered", "display", idx)
	}
	if recovering {
		e.setAvailability(ctx, idx, st, true)
		if st.needsAnnounce {
			if err := e.pub.Announce(ctx, dev); err != nil {
				e.log().Warn("discovery announcement failed", "display", idx, "error", err)
			} else {
				st.needsAnnounce = false
			}
		}
	}

	for _, rd := range readings {
		fs := st.features[rd.feature]
		if !recovering && fs.Published && fs.Value == rd.symbol {
			continue
		}
		if e.publishState(ctx, idx, rd.feature, fs, rd.symbol, rd.raw) {
			res.published++
		}
	}
	return res
}

// publishState emits a state event and records it in fs. Caller holds
// the lease. A failed publish leaves fs unpublished so the next tick
// retries it.
func (e *Engine) publishState(ctx context.Context, idx int, f vcp.Feature, fs *FeatureState, symbol string, raw uint16) bool {
	if err := e.pub.PublishState(ctx, idx, f, symbol); err != nil {
		fs.Published = false
		e.log().Warn("publishing state failed", "display", idx, "feature", f, "error", err)
		return false
	}
	fs.Value, fs.Published = symbol, true
	e.stats.statesPublished.Add(1)
	e.obs().StateChanged(idx, f, symbol, raw)
	return true
}
