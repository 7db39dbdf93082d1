package influxdb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/ddc-bridge/internal/ddc/engine"
	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
)

// recordingWriter captures points as line protocol.
type recordingWriter struct {
	mu      sync.Mutex
	lines   []string
	flushes int
}

func (w *recordingWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, write.PointToLineProtocol(p, time.Nanosecond))
}

func (w *recordingWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
}

func (w *recordingWriter) all() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.lines...)
}

type fakePinger struct {
	healthy bool
	err     error
	closed  bool
}

func (p *fakePinger) Ping(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.healthy, p.err
}

func (p *fakePinger) Close() { p.closed = true }

func newTestClient() (*Client, *recordingWriter, *fakePinger) {
	w := &recordingWriter{}
	p := &fakePinger{healthy: true}
	return newClient(p, w), w, p
}

func TestWriteStateChange(t *testing.T) {
	c, w, _ := newTestClient()

	c.WriteStateChange(2, vcp.FeatureGamerMode, "Gamer 1", 14)

	lines := w.all()
	if len(lines) != 1 {
		t.Fatalf("points = %d, want 1", len(lines))
	}
	line := lines[0]
	for _, want := range []string{
		"display_state,",
		"display=2",
		"feature=gamer_mode",
		`value="Gamer 1"`,
		"raw=14i",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestWriteCommandOutcome(t *testing.T) {
	received := time.Unix(1767225600, 0)

	tests := []struct {
		name    string
		outcome engine.Outcome
		want    []string
		notWant []string
	}{
		{
			name: "published",
			outcome: engine.Outcome{Source: "mqtt", Identifier: "0:input",
				Command: engine.Command{Device: 0, Feature: vcp.FeatureInput, Value: "HDMI"},
				Stage:   engine.StagePublished, Received: received, Duration: 1500 * time.Microsecond},
			want:    []string{"display_command,", "display=0", "feature=input", "source=mqtt", "stage=published", "duration_ms=1.5", "ok=true", " 1767225600000000000"},
			notWant: []string{"error="},
		},
		{
			name: "malformed has no display tag",
			outcome: engine.Outcome{Source: "api", Identifier: "nope",
				Stage: engine.StageRejected, Err: engine.ErrMalformedIdentifier, Received: received},
			want:    []string{"stage=rejected", "ok=false", `error="engine: malformed identifier"`},
			notWant: []string{"display=", "feature="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, w, _ := newTestClient()
			c.CommandCompleted(tt.outcome)

			lines := w.all()
			if len(lines) != 1 {
				t.Fatalf("points = %d, want 1", len(lines))
			}
			for _, s := range tt.want {
				if !strings.Contains(lines[0], s) {
					t.Errorf("line %q missing %q", lines[0], s)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(lines[0], s) {
					t.Errorf("line %q should not contain %q", lines[0], s)
				}
			}
		})
	}
}

func TestWriteTick(t *testing.T) {
	c, w, _ := newTestClient()

	c.TickCompleted(engine.TickResult{
		Started:     time.Now(),
		Duration:    20 * time.Millisecond,
		Devices:     3,
		Reads:       6,
		ReadsFailed: 2,
		Published:   1,
		Degraded:    1,
	})

	lines := w.all()
	if len(lines) != 1 {
		t.Fatalf("points = %d, want 1", len(lines))
	}
	for _, want := range []string{"reconcile_tick ", "devices=3i", "reads=6i", "reads_failed=2i", "degraded=1i", "duration_ms=20"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %q missing %q", lines[0], want)
		}
	}
}

func TestWritesDroppedAfterClose(t *testing.T) {
	c, w, p := newTestClient()

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !p.closed {
		t.Error("Close() did not close the underlying client")
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}

	c.StateChanged(0, vcp.FeatureInput, "HDMI", 17)
	if len(w.all()) != 0 {
		t.Error("points written after Close()")
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if w.flushes != 1 {
		t.Errorf("second Close() flushed again")
	}
}

func TestHealthCheckFake(t *testing.T) {
	c, _, p := newTestClient()

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	p.healthy = false
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail when server is unhealthy")
	}

	p.err = errors.New("connection refused")
	if err := c.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should fail when ping fails")
	}
}

func TestHandleWriteErrors(t *testing.T) {
	c, _, _ := newTestClient()

	var mu sync.Mutex
	var got []error
	c.SetOnError(func(err error) {
		mu.Lock()
		got = append(got, err)
		mu.Unlock()
	})

	ch := make(chan error, 2)
	ch <- errors.New("bucket not found")
	ch <- errors.New("unauthorized")
	close(ch)
	c.handleWriteErrors(ch)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("callback invoked %d times, want 2", len(got))
	}
}
