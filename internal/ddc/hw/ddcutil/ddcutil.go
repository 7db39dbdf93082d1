// Package ddcutil implements hw.Port by driving the ddcutil command line
// tool. Each call runs one short-lived ddcutil process bounded by the
// caller's context.
package ddcutil

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/nerrad567/ddc-bridge/internal/ddc/hw"
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Logger defines the logging interface for the backend.
type Logger interface {
	Debug(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}

// Config holds backend settings.
type Config struct {
	// Binary is the ddcutil executable. Default: "ddcutil"
	Binary string

	// ExtraArgs are prepended to every invocation (e.g. "--sleep-multiplier", "0.5").
	ExtraArgs []string
}

// Port is the ddcutil backed hardware port.
type Port struct {
	cfg    Config
	run    Runner
	logger Logger
}

// New creates a Port that runs ddcutil through os/exec.
func New(cfg Config) *Port {
	return NewWithRunner(cfg, execRunner)
}

// NewWithRunner creates a Port with a custom command runner.
func NewWithRunner(cfg Config, run Runner) *Port {
	if cfg.Binary == "" {
		cfg.Binary = "ddcutil"
	}
	return &Port{cfg: cfg, run: run, logger: noopLogger{}}
}

// SetLogger sets the logger for the backend.
func (p *Port) SetLogger(logger Logger) {
	if logger == nil {
		p.logger = noopLogger{}
		return
	}
	p.logger = logger
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // Binary comes from validated config
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

func (p *Port) invoke(ctx context.Context, args ...string) ([]byte, error) {
	full := make([]string, 0, len(p.cfg.ExtraArgs)+len(args))
	full = append(full, p.cfg.ExtraArgs...)
	full = append(full, args...)
	p.logger.Debug("running ddcutil", "args", full)
	return p.run(ctx, p.cfg.Binary, full...)
}

// Enumerate runs "ddcutil detect --terse" and returns valid displays in
// bus order.
func (p *Port) Enumerate(ctx context.Context) ([]hw.Handle, error) {
	out, err := p.invoke(ctx, "detect", "--terse")
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w: %w", hw.ErrEnumeration, hw.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", hw.ErrEnumeration, err)
	}
	return parseDetect(out), nil
}

// ReadFeature runs "ddcutil --bus N --brief getvcp XX".
func (p *Port) ReadFeature(ctx context.Context, h hw.Handle, code uint8) (hw.Reading, error) {
	out, err := p.invoke(ctx, "--bus", h.ID, "--brief", "getvcp", fmt.Sprintf("%02x", code))
	if err != nil {
		return hw.Reading{}, hw.Classify(ctx, fmt.Errorf("getvcp 0x%02x on bus %s: %w", code, h.ID, err))
	}
	r, err := parseGetVCP(out, code)
	if err != nil {
		return hw.Reading{}, fmt.Errorf("%w: bus %s: %w", hw.ErrTransport, h.ID, err)
	}
	return r, nil
}

// WriteFeature runs "ddcutil --bus N setvcp XX VALUE".
func (p *Port) WriteFeature(ctx context.Context, h hw.Handle, code uint8, value uint16) error {
	_, err := p.invoke(ctx, "--bus", h.ID, "setvcp", fmt.Sprintf("%02x", code), strconv.Itoa(int(value)))
	if err != nil {
		return hw.Classify(ctx, fmt.Errorf("setvcp 0x%02x=%d on bus %s: %w", code, value, h.ID, err))
	}
	return nil
}

// Release is a no-op: ddcutil holds no state between invocations.
func (p *Port) Release(hw.Handle) error {
	return nil
}

// parseDetect extracts valid displays from terse detect output:
//
//	Display 1
//	   I2C bus:  /dev/i2c-4
//	   Monitor:  AOC:27G2G4:ABC123456
//
// "Invalid display" blocks are skipped.
func parseDetect(out []byte) []hw.Handle {
	var (
		handles []hw.Handle
		cur     *hw.Handle
	)
	flush := func() {
		if cur != nil && cur.ID != "" {
			handles = append(handles, *cur)
		}
		cur = nil
	}

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Display "):
			flush()
			cur = &hw.Handle{}
		case strings.HasPrefix(line, "Invalid display"), strings.HasPrefix(line, "Phantom display"):
			flush()
		case cur == nil:
		case strings.HasPrefix(trimmed, "I2C bus:"):
			dev := strings.TrimSpace(strings.TrimPrefix(trimmed, "I2C bus:"))
			if i := strings.LastIndex(dev, "i2c-"); i >= 0 {
				cur.ID = dev[i+len("i2c-"):]
			}
		case strings.HasPrefix(trimmed, "Monitor:"):
			mon := strings.TrimSpace(strings.TrimPrefix(trimmed, "Monitor:"))
			cur.Description = mon
			if parts := strings.Split(mon, ":"); len(parts) == 3 {
				cur.Description = strings.TrimSpace(parts[0] + " " + parts[1])
				cur.Serial = strings.TrimSpace(parts[2])
			}
		}
	}
	flush()
	return handles
}

var errUnparsable = errors.New("unparsable getvcp reply")

// parseGetVCP decodes a brief getvcp reply. Supported forms:
//
//	VCP 10 C 50 100          continuous: current, max
//	VCP 60 SNC x0f           simple non-continuous
//	VCP 60 CNC x00 x12 x00 x0f   complex non-continuous: mh ml sh sl
//	VCP DC ERR               reply error
func parseGetVCP(out []byte, code uint8) (hw.Reading, error) {
	want := fmt.Sprintf("%02X", code)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) < 3 || f[0] != "VCP" || !strings.EqualFold(f[1], want) {
			continue
		}
		switch f[2] {
		case "C":
			if len(f) < 5 {
				return hw.Reading{}, errUnparsable
			}
			cur, err1 := strconv.ParseUint(f[3], 10, 16)
			limit, err2 := strconv.ParseUint(f[4], 10, 16)
			if err1 != nil || err2 != nil {
				return hw.Reading{}, errUnparsable
			}
			return hw.Reading{Current: uint16(cur), Max: uint16(limit)}, nil
		case "SNC":
			if len(f) < 4 {
				return hw.Reading{}, errUnparsable
			}
			v, err := parseHexByte(f[3])
			if err != nil {
				return hw.Reading{}, err
			}
			return hw.Reading{Current: uint16(v)}, nil
		case "CNC":
			if len(f) < 7 {
				return hw.Reading{}, errUnparsable
			}
			var b [4]uint8
			for i := range b {
				v, err := parseHexByte(f[3+i])
				if err != nil {
					return hw.Reading{}, err
				}
				b[i] = v
			}
			return hw.Reading{
				Max:     uint16(b[0])<<8 | uint16(b[1]),
				Current: uint16(b[2])<<8 | uint16(b[3]),
			}, nil
		case "ERR":
			return hw.Reading{}, fmt.Errorf("display reported error for VCP %s", want)
		default:
			return hw.Reading{}, errUnparsable
		}
	}
	return hw.Reading{}, fmt.Errorf("%w: no reply for VCP %s", errUnparsable, want)
}

func parseHexByte(s string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errUnparsable, s)
	}
	return uint8(v), nil
}
