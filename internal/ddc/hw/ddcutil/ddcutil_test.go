package ddcutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/ddc-bridge/internal/ddc/hw"
)

const detectOutput = `Display 1
   I2C bus:             /dev/i2c-4
   Monitor:             AOC:27G2G4:ABC123456

Invalid display
   I2C bus:             /dev/i2c-6
   Monitor:             XYZ:Broken:

Display 2
   I2C bus:             /dev/i2c-7
   Monitor:             DEL:DELL U2720Q:9X1Y2Z3
`

// fakeRunner records invocations and answers from a table keyed by the
// joined argument list.
type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	replies map[string]string
	errs    map[string]error
	block   bool
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	key := strings.Join(args, " ")
	reply, err, block := f.replies[key], f.errs[key], f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return []byte(reply), err
}

func (f *fakeRunner) lastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func TestEnumerate(t *testing.T) {
	r := &fakeRunner{replies: map[string]string{"detect --terse": detectOutput}}
	p := NewWithRunner(Config{}, r.run)

	handles, err := p.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if len(handles) != 2 {
		t.Fatalf("len(handles) = %d, want 2", len(handles))
	}

	want := []hw.Handle{
		{ID: "4", Description: "AOC 27G2G4", Serial: "ABC123456"},
		{ID: "7", Description: "DEL DELL U2720Q", Serial: "9X1Y2Z3"},
	}
	for i, h := range handles {
		if h != want[i] {
			t.Errorf("handles[%d] = %+v, want %+v", i, h, want[i])
		}
	}
	if got := r.lastCall(); got[0] != "ddcutil" {
		t.Errorf("binary = %q, want ddcutil", got[0])
	}
}

func TestEnumerate_Failure(t *testing.T) {
	r := &fakeRunner{errs: map[string]error{"detect --terse": errors.New("exit status 1")}}
	p := NewWithRunner(Config{}, r.run)

	_, err := p.Enumerate(context.Background())
	if !errors.Is(err, hw.ErrEnumeration) {
		t.Errorf("Enumerate() error = %v, want ErrEnumeration", err)
	}
}

func TestReadFeature(t *testing.T) {
	h := hw.Handle{ID: "4"}
	tests := []struct {
		name    string
		code    uint8
		reply   string
		want    hw.Reading
		wantErr error
	}{
		{"simple non-continuous", 0x60, "VCP 60 SNC x0f\n", hw.Reading{Current: 15}, nil},
		{"gamer mode", 0xDC, "VCP DC SNC x0b\n", hw.Reading{Current: 11}, nil},
		{"continuous", 0x10, "VCP 10 C 50 100\n", hw.Reading{Current: 50, Max: 100}, nil},
		{"complex non-continuous", 0x60, "VCP 60 CNC x00 x12 x00 x11\n", hw.Reading{Current: 0x11, Max: 0x12}, nil},
		{"reply error", 0x60, "VCP 60 ERR\n", hw.Reading{}, hw.ErrTransport},
		{"garbage", 0x60, "hello\n", hw.Reading{}, hw.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "--bus 4 --brief getvcp " + strings.ToLower(hexByte(tt.code))
			r := &fakeRunner{replies: map[string]string{key: tt.reply}}
			p := NewWithRunner(Config{}, r.run)

			got, err := p.ReadFeature(context.Background(), h, tt.code)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ReadFeature() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadFeature() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ReadFeature() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func hexByte(b uint8) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0x0f]})
}

func TestReadFeature_Timeout(t *testing.T) {
	r := &fakeRunner{block: true}
	p := NewWithRunner(Config{}, r.run)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.ReadFeature(ctx, hw.Handle{ID: "4"}, 0x60)
	if !errors.Is(err, hw.ErrTimeout) {
		t.Errorf("ReadFeature() error = %v, want ErrTimeout", err)
	}
}

func TestWriteFeature(t *testing.T) {
	r := &fakeRunner{}
	p := NewWithRunner(Config{Binary: "/usr/bin/ddcutil", ExtraArgs: []string{"--noverify"}}, r.run)

	if err := p.WriteFeature(context.Background(), hw.Handle{ID: "7"}, 0x60, 17); err != nil {
		t.Fatalf("WriteFeature() error = %v", err)
	}

	got := strings.Join(r.lastCall(), " ")
	want := "/usr/bin/ddcutil --noverify --bus 7 setvcp 60 17"
	if got != want {
		t.Errorf("command = %q, want %q", got, want)
	}
}

func TestWriteFeature_Failure(t *testing.T) {
	r := &fakeRunner{errs: map[string]error{"--bus 7 setvcp 60 17": errors.New("DDC communication failed")}}
	p := NewWithRunner(Config{}, r.run)

	err := p.WriteFeature(context.Background(), hw.Handle{ID: "7"}, 0x60, 17)
	if !errors.Is(err, hw.ErrTransport) {
		t.Errorf("WriteFeature() error = %v, want ErrTransport", err)
	}
}

func TestRelease(t *testing.T) {
	p := New(Config{})
	if err := p.Release(hw.Handle{ID: "4"}); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}
