package d2

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/image/math/fixed"

	"github.com/gogpu/d2/hw"
	"github.com/gogpu/d2/hw/sim"
	"github.com/gogpu/d2/internal/scratch"
	"github.com/gogpu/d2/regs"
)

// newDevice opens a device bound to a fresh simulated port.
func newDevice(t *testing.T, cfg sim.Config, opts ...Option) (*Device, *sim.Port) {
	t.Helper()
	port := sim.New(cfg)
	d, err := Open(opts...)
	if err != nil {
		port.Close()
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
		_ = port.Close()
	})
	if err := d.Init(port); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return d, port
}

func waitIdle(t *testing.T, d *Device) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.WaitIdle(ctx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}
}

// run executes the current buffer and waits for the accelerator.
func run(t *testing.T, d *Device) {
	t.Helper()
	if err := d.Execute(nil, 0); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	waitIdle(t, d)
}

func box(t *testing.T, d *Device, x, y, w, h int) {
	t.Helper()
	if err := d.RenderBox(fixed.I(x), fixed.I(y), fixed.I(w), fixed.I(h)); err != nil {
		t.Fatalf("RenderBox: %v", err)
	}
}

func TestOpenDefaults(t *testing.T) {
	d, err := Open()
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if d.DefaultContext() == nil {
		t.Fatal("no default context")
	}
	for _, role := range []Role{RoleSelected, RoleSolid, RoleOutline} {
		if d.GetContext(role) != d.DefaultContext() {
			t.Errorf("%v context is not the default context", role)
		}
	}
	if d.Port() != nil || d.RenderMode() != RenderSolid {
		t.Errorf("port=%v mode=%v", d.Port(), d.RenderMode())
	}
	if d.scratch.Cap() != scratch.DefaultCapacity {
		t.Errorf("scratch capacity = %d", d.scratch.Cap())
	}
}

func TestOpenRejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want error
	}{
		{"scratch size", []Option{WithScratchSize(0)}, ErrValueTooSmall},
		{"initial block", []Option{WithBlockSize(2, 8)}, ErrValueTooSmall},
		{"step block", []Option{WithBlockSize(8, -1)}, ErrValueNegative},
		{"unknown flag", []Option{WithFlags(1 << 20)}, ErrInvalidEnum},
		{"low-local without dlist", []Option{
			WithFlags(FlagDisableDList),
			WithLowLocalMemory(LowLocalMemConfig{Factor: 4, SlicesPerBlock: 2, MaxBlocks: 3}),
		}, ErrNoDisplayList},
		{"low-local factor", []Option{
			WithLowLocalMemory(LowLocalMemConfig{Factor: 0, SlicesPerBlock: 2, MaxBlocks: 3}),
		}, ErrValueTooSmall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Open(tt.opts...)
			if !errors.Is(err, tt.want) {
				t.Errorf("Open() error = %v, want %v", err, tt.want)
			}
			if d != nil {
				t.Error("Open() returned a device on error")
			}
		})
	}
}

func TestNeedsHardware(t *testing.T) {
	d, err := Open()
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if err := d.RenderBox(0, 0, fixed.I(1), fixed.I(1)); !errors.Is(err, ErrNoHardware) {
		t.Errorf("RenderBox before Init: %v", err)
	}
	if !errors.Is(d.LastError(), ErrNoHardware) {
		t.Errorf("LastError() = %v", d.LastError())
	}
	if _, err := d.NewRenderBuffer(0, 0); !errors.Is(err, ErrNoHardware) {
		t.Errorf("NewRenderBuffer before Init: %v", err)
	}
	if err := d.Init(nil); !errors.Is(err, ErrNoHardware) {
		t.Errorf("Init(nil): %v", err)
	}
	// Contexts work without hardware.
	if err := d.DefaultContext().SetColor(0, 0x123456); err != nil {
		t.Errorf("SetColor before Init: %v", err)
	}
}

func TestInitConfiguresHardware(t *testing.T) {
	tests := []struct {
		name     string
		flags    Flags
		wantCtl3 uint32
		wantIRQ  bool
	}{
		{"default", 0, regs.Control3FramebufferCache | regs.Control3TextureCache, true},
		{"no caches", FlagDisableCaches, 0, true},
		{"no irq", FlagDisableIRQ, regs.Control3FramebufferCache | regs.Control3TextureCache, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, port := newDevice(t, sim.Config{}, WithFlags(tt.flags))
			r := port.Registers()
			if r[regs.Control3] != tt.wantCtl3 {
				t.Errorf("CONTROL3 = %#x, want %#x", r[regs.Control3], tt.wantCtl3)
			}
			if got := r[regs.IRQCtl]&regs.IRQEnableDListEnd != 0; got != tt.wantIRQ {
				t.Errorf("list-end interrupt enabled = %v, want %v", got, tt.wantIRQ)
			}
			if d.Arch() != hw.ArchUnified || !d.Features().Has(hw.FeatureListReader) {
				t.Errorf("arch=%v features=%#x", d.Arch(), uint32(d.Features()))
			}

			// WaitIdle uses the interrupt or polls, depending on the flag.
			box(t, d, 0, 0, 4, 4)
			run(t, d)
			if d.CurrentRenderBuffer().State() != BufferClosed {
				t.Errorf("state after WaitIdle = %v", d.CurrentRenderBuffer().State())
			}
		})
	}
}

func TestReinitReleasesBuffers(t *testing.T) {
	d, _ := newDevice(t, sim.Config{})
	old := d.defaults
	extra, err := d.NewRenderBuffer(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	box(t, d, 0, 0, 4, 4)
	if err := d.Execute(nil, 0); err != nil {
		t.Fatal(err)
	}

	port2 := sim.New(sim.Config{Arch: hw.ArchSeparated})
	t.Cleanup(func() { _ = port2.Close() })
	if err := d.Init(port2); err != nil {
		t.Fatal(err)
	}
	for _, b := range append(old[:], extra) {
		if !b.freed {
			t.Error("buffer of the previous binding not freed")
		}
	}
	if d.defaults[0] == old[0] || d.Arch() != hw.ArchSeparated {
		t.Error("default buffers not recreated for the new port")
	}
	if err := d.SelectRenderBuffer(extra); !errors.Is(err, ErrInvalidBuffer) {
		t.Errorf("selecting a released buffer: %v", err)
	}
	box(t, d, 0, 0, 4, 4)
	run(t, d)
	if port2.Stats().Copies == 0 {
		t.Error("separated architecture did not copy the list")
	}
}

func TestInitNamed(t *testing.T) {
	reg := hw.NewRegistry()
	var port *sim.Port
	reg.Register(hw.BackendSim, func() hw.Port {
		port = sim.New(sim.Config{Name: "named"})
		return port
	})

	d, err := Open()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = d.Close()
		if port != nil {
			_ = port.Close()
		}
	})
	if err := d.InitNamed(reg, "missing"); !errors.Is(err, ErrNoHardware) {
		t.Errorf("InitNamed(missing) = %v", err)
	}
	if err := d.InitNamed(reg, ""); err != nil {
		t.Fatal(err)
	}
	if d.Port().Info().Name != "named" {
		t.Errorf("bound to %q", d.Port().Info().Name)
	}
}

func TestCloseInvalidatesDevice(t *testing.T) {
	port := sim.New(sim.Config{Arch: hw.ArchSeparated})
	t.Cleanup(func() { _ = port.Close() })
	d, err := Open()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Init(port); err != nil {
		t.Fatal(err)
	}
	c, _ := d.CreateContext()
	box(t, d, 0, 0, 4, 4)
	if err := d.Execute(nil, 0); err != nil {
		t.Fatal(err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.Close(); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("second Close: %v", err)
	}
	if err := d.RenderBox(0, 0, fixed.I(1), fixed.I(1)); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("RenderBox after Close: %v", err)
	}
	if err := c.SetColor(0, 1); !errors.Is(err, ErrInvalidContext) {
		t.Errorf("SetColor after Close: %v", err)
	}
	if _, err := d.CreateContext(); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("CreateContext after Close: %v", err)
	}
	if s := port.Stats(); s.Allocs != s.Frees {
		t.Errorf("video memory leaked: %d allocs, %d frees", s.Allocs, s.Frees)
	}
}

func TestWaitIdleHonorsContext(t *testing.T) {
	d, port := newDevice(t, sim.Config{}, WithFlags(FlagDisableIRQ))
	port.Pause()
	defer port.Resume()

	box(t, d, 0, 0, 4, 4)
	if err := d.Execute(nil, 0); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.WaitIdle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitIdle = %v, want deadline exceeded", err)
	}
	if d.CurrentRenderBuffer().State() != BufferBusy {
		t.Error("buffer left Busy state without the accelerator finishing")
	}
}

func TestDisableDList(t *testing.T) {
	d, port := newDevice(t, sim.Config{}, WithFlags(FlagDisableDList))
	box(t, d, 3, 5, 4, 4)
	if err := d.CheckError(); err != nil {
		t.Fatal(err)
	}
	if got := port.Registers()[regs.Origin]; got != regs.XY(3, 5) {
		t.Errorf("ORIGIN = %#x, want direct write", got)
	}
	if err := d.Execute(nil, 0); err != nil {
		t.Fatal(err)
	}
	if n := port.Stats().Submissions; n != 0 {
		t.Errorf("%d submissions without display lists", n)
	}
}
