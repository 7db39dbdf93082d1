package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/ddc-bridge/internal/ddc/engine"
	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
)

// Measurement names.
const (
	MeasurementState   = "display_state"
	MeasurementCommand = "display_command"
	MeasurementTick    = "reconcile_tick"
)

// WriteStateChange records a published feature value.
//
//	client.WriteStateChange(0, vcp.FeatureInput, "HDMI", 17)
func (c *Client) WriteStateChange(display int, feature vcp.Feature, value string, raw uint16) {
	c.writePoint(MeasurementState,
		map[string]string{
			"display": strconv.Itoa(display),
			"feature": string(feature),
		},
		map[string]any{
			"value": value,
			"raw":   int64(raw),
		},
		time.Now(),
	)
}

// WriteCommandOutcome records one command's terminal stage and latency.
// The display tag is omitted when the identifier did not parse.
func (c *Client) WriteCommandOutcome(o engine.Outcome) {
	tags := map[string]string{
		"source": o.Source,
		"stage":  string(o.Stage),
	}
	if o.Command.Feature != "" {
		tags["display"] = strconv.Itoa(o.Command.Device)
		tags["feature"] = string(o.Command.Feature)
	}

	fields := map[string]any{
		"duration_ms": float64(o.Duration.Microseconds()) / 1000,
		"ok":          o.OK(),
	}
	if o.Err != nil {
		fields["error"] = o.Err.Error()
	}

	ts := o.Received
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writePoint(MeasurementCommand, tags, fields, ts)
}

// WriteTick records one reconciliation pass.
func (c *Client) WriteTick(r engine.TickResult) {
	ts := r.Started
	if ts.IsZero() {
		ts = time.Now()
	}
	c.writePoint(MeasurementTick, nil,
		map[string]any{
			"duration_ms":  float64(r.Duration.Microseconds()) / 1000,
			"devices":      r.Devices,
			"reads":        r.Reads,
			"reads_failed": r.ReadsFailed,
			"published":    r.Published,
			"degraded":     r.Degraded,
			"unavailable":  r.Unavailable,
		},
		ts,
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

// StateChanged implements engine.Observer.
func (c *Client) StateChanged(index int, feature vcp.Feature, value string, raw uint16) {
	c.WriteStateChange(index, feature, value, raw)
}

// CommandCompleted implements engine.Observer.
func (c *Client) CommandCompleted(o engine.Outcome) {
	c.WriteCommandOutcome(o)
}

// TickCompleted implements engine.Observer.
func (c *Client) TickCompleted(r engine.TickResult) {
	c.WriteTick(r)
}

var _ engine.Observer = (*Client)(nil)
