package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/ddc-bridge/internal/ddc/hw"
	"github.com/nerrad567/ddc-bridge/internal/ddc/registry"
	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
)

// Stage is the terminal state of a command.
type Stage string

const (
	// StagePublished means the write succeeded and the new state was published.
	StagePublished Stage = "published"

	// StageApplied means the write succeeded but publishing the new state
	// failed. The next tick republishes it.
	StageApplied Stage = "applied"

	// StageRejected means the command was invalid. No hardware call was made.
	StageRejected Stage = "rejected"

	// StageIgnored means the payload was the no-op sentinel. Nothing happened.
	StageIgnored Stage = "ignored"

	// StageFailed means the hardware write failed or timed out, or the
	// display was unavailable.
	StageFailed Stage = "failed"
)

// noChangeSentinel is the payload meaning "no change requested" for
// features whose option table does not contain it.
const noChangeSentinel = "OFF"

// Command is a parsed and validated request to set one feature.
type Command struct {
	Device  int
	Feature vcp.Feature
	Value   string
}

// Outcome reports how one command ended.
type Outcome struct {
	ID         string
	Source     string
	Identifier string
	Command    Command
	Raw        uint16
	Stage      Stage
	Err        error
	Received   time.Time
	Duration   time.Duration
}

// OK reports whether the hardware write happened.
func (o Outcome) OK() bool {
	return o.Stage == StagePublished || o.Stage == StageApplied
}

// Router applies inbound commands to hardware. Each Handle call processes
// one command to a terminal stage and never retries.
type Router struct {
	e *Engine
}

// Handle parses, validates and applies one command. source names the
// transport it arrived on ("mqtt", "api") for audit.
func (r *Router) Handle(ctx context.Context, source, identifier string, payload []byte) Outcome {
	e := r.e
	o := Outcome{
		ID:         uuid.NewString(),
		Source:     source,
		Identifier: identifier,
		Received:   e.now(),
	}
	o.Command.Value = string(payload)

	r.run(ctx, &o)
	o.Duration = e.now().Sub(o.Received)

	switch o.Stage {
	case StageIgnored:
		e.stats.commandsIgnored.Add(1)
		e.log().Debug("no-op command ignored", "identifier", identifier, "source", source)
		return o
	case StageRejected:
		e.stats.commandsRejected.Add(1)
		e.log().Warn("command rejected", "id", o.ID, "identifier", identifier, "value", o.Command.Value,
			"source", source, "error", o.Err)
	case StageFailed:
		e.stats.commandsFailed.Add(1)
		e.log().Error("command failed", "id", o.ID, "identifier", identifier, "value", o.Command.Value,
			"source", source, "error", o.Err)
	default:
		e.stats.commandsApplied.Add(1)
		e.log().Info("command applied", "id", o.ID, "display", o.Command.Device, "feature", o.Command.Feature,
			"value", o.Command.Value, "raw", o.Raw, "source", source, "stage", string(o.Stage))
	}
	e.obs().CommandCompleted(o)
	return o
}

func (r *Router) run(ctx context.Context, o *Outcome) {
	e := r.e

	id, err := ParseIdentifier(o.Identifier)
	if err != nil {
		o.Stage, o.Err = StageRejected, err
		return
	}
	o.Command.Device, o.Command.Feature = id.Device, id.Feature

	dev, ok := e.reg.Device(id.Device)
	if !ok {
		o.Stage, o.Err = StageRejected, fmt.Errorf("%w: %d", ErrUnknownDevice, id.Device)
		return
	}
	entry, ok := dev.Codec.Entry(id.Feature)
	if !ok {
		o.Stage, o.Err = StageRejected, fmt.Errorf("%w: display %d has no %q", ErrUnknownFeature, id.Device, id.Feature)
		return
	}

	if isNoChange(entry, o.Command.Value) {
		o.Stage = StageIgnored
		return
	}

	raw, err := dev.Codec.Encode(id.Feature, o.Command.Value)
	if err != nil {
		o.Stage, o.Err = StageRejected, err
		return
	}
	o.Raw = raw

	lease, err := e.reg.Acquire(ctx, id.Device)
	if err != nil {
		o.Stage, o.Err = StageFailed, fmt.Errorf("waiting for display %d: %w", id.Device, err)
		return
	}
	defer lease.Release()

	h, ok := lease.Handle()
	if !ok || lease.Status() == registry.StatusUnavailable {
		o.Stage, o.Err = StageFailed, fmt.Errorf("%w: %d", ErrDeviceUnavailable, id.Device)
		return
	}

	wctx, cancel := context.WithTimeout(ctx, e.cfg.HardwareTimeout)
	err = e.port.WriteFeature(wctx, h, uint8(entry.Code), raw)
	cancel()
	if err != nil {
		if !errors.Is(err, hw.ErrTransport) && !errors.Is(err, hw.ErrTimeout) {
			err = hw.Classify(wctx, err)
		}
		o.Stage, o.Err = StageFailed, err
		return
	}

	fs := e.states[id.Device].features[id.Feature]
	fs.Raw, fs.HasRaw = raw, true
	fs.LastSeen = e.now()

	if e.publishState(ctx, id.Device, id.Feature, fs, o.Command.Value, raw) {
		o.Stage = StagePublished
		return
	}
	o.Stage, o.Err = StageApplied, errors.New("state publish failed")
}

// isNoChange reports whether payload is the no-op sentinel for entry:
// blank, or "OFF" when OFF is not a real option of the feature.
func isNoChange(entry vcp.Entry, payload string) bool {
	if strings.TrimSpace(payload) == "" {
		return true
	}
	return payload == noChangeSentinel && !entry.Options.Has(noChangeSentinel)
}
