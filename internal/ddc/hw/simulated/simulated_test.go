package simulated

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/ddc-bridge/internal/ddc/hw"
)

func TestPort_ReadWrite(t *testing.T) {
	p := NewWithDisplays(2)
	ctx := context.Background()

	handles, err := p.Enumerate(ctx)
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("len(handles) = %d, want 2", len(handles))
	}

	r, err := p.ReadFeature(ctx, handles[0], 0x60)
	if err != nil {
		t.Fatalf("ReadFeature() error = %v", err)
	}
	if r.Current != 0x0F {
		t.Errorf("Current = %d, want 15", r.Current)
	}

	if err := p.WriteFeature(ctx, handles[1], 0x60, 0x11); err != nil {
		t.Fatalf("WriteFeature() error = %v", err)
	}
	if got := p.Value(1, 0x60); got != 0x11 {
		t.Errorf("Value(1, 0x60) = %d, want 17", got)
	}
	if got := p.Value(0, 0x60); got != 0x0F {
		t.Errorf("Value(0, 0x60) = %d, want 15 (untouched)", got)
	}
	if n := len(p.Writes()); n != 1 {
		t.Errorf("len(Writes()) = %d, want 1", n)
	}
}

func TestPort_FaultInjection(t *testing.T) {
	p := NewWithDisplays(1)
	ctx := context.Background()
	handles, _ := p.Enumerate(ctx)

	p.SetReadFailure(0, true)
	if _, err := p.ReadFeature(ctx, handles[0], 0x60); !errors.Is(err, hw.ErrTransport) {
		t.Errorf("ReadFeature() error = %v, want ErrTransport", err)
	}

	p.SetWriteFailure(0, true)
	if err := p.WriteFeature(ctx, handles[0], 0x60, 1); !errors.Is(err, hw.ErrTransport) {
		t.Errorf("WriteFeature() error = %v, want ErrTransport", err)
	}

	p.SetHang(0, true)
	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := p.ReadFeature(tctx, handles[0], 0x60); !errors.Is(err, hw.ErrTimeout) {
		t.Errorf("ReadFeature() error = %v, want ErrTimeout", err)
	}

	p.SetEnumerationError(errors.New("bus busy"))
	if _, err := p.Enumerate(ctx); !errors.Is(err, hw.ErrEnumeration) {
		t.Errorf("Enumerate() error = %v, want ErrEnumeration", err)
	}
}

func TestPort_PlugCycle(t *testing.T) {
	p := NewWithDisplays(2)
	ctx := context.Background()
	before := p.HandleID(1)

	p.Unplug(1)
	handles, _ := p.Enumerate(ctx)
	if len(handles) != 1 {
		t.Fatalf("len(handles) = %d, want 1", len(handles))
	}
	if _, err := p.ReadFeature(ctx, hw.Handle{ID: before}, 0x60); !errors.Is(err, hw.ErrTransport) {
		t.Errorf("read on unplugged handle error = %v, want ErrTransport", err)
	}

	p.Plug(1)
	if p.HandleID(1) == before {
		t.Error("replugged display kept its old handle")
	}

	if err := p.Release(hw.Handle{ID: before}); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if got := p.Releases(before); got != 1 {
		t.Errorf("Releases() = %d, want 1", got)
	}
}
