package d2

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/image/math/fixed"

	"github.com/gogpu/d2/hw"
	"github.com/gogpu/d2/internal/mem"
	"github.com/gogpu/d2/internal/regcache"
	"github.com/gogpu/d2/internal/scratch"
	"github.com/gogpu/d2/regs"
)

// pollInterval is the status register poll period of WaitIdle when
// interrupts are disabled.
const pollInterval = 50 * time.Microsecond

// Device is one accelerator instance with its contexts, render buffers
// and register write pipeline.
//
// A Device is created by Open and bound to hardware by Init. It is not
// safe for concurrent use.
type Device struct {
	opts options

	port      hw.Port
	pool      *mem.Pool
	arch      hw.Arch
	features  hw.Features
	alphaUnit bool

	cache     *regcache.Cache
	scratch   *scratch.Buffer
	listSink  scratch.Sink
	layerSink scratch.Sink

	contexts    []*Context // chain order, head first
	def         *Context
	selected    *Context
	solid       *Context
	outline     *Context
	lastEmitted *Context

	defaults [2]*RenderBuffer
	buffers  []*RenderBuffer
	current  *RenderBuffer
	queue    []*RenderBuffer
	frame    int

	mode         RenderMode
	fb           framebuffer
	clip         fixed.Rectangle26_6
	shadowDX     fixed.Int26_6
	shadowDY     fixed.Int26_6
	outlineWidth fixed.Int26_6

	lastErr  error
	delayed  error
	closed   bool
	registry *Registry
}

// Open creates a device that is not yet bound to hardware. Contexts can be
// created and configured right away; rendering needs Init.
func Open(opts ...Option) (*Device, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validateOptions(); err != nil {
		return nil, err
	}
	d := &Device{
		opts:         o,
		cache:        regcache.New(),
		outlineWidth: fixed.I(1),
	}
	d.listSink = listSink{d}
	d.layerSink = layerSink{d}
	d.scratch = scratch.New(o.scratchSize, d.listSink)
	d.cache.SetEnabled(o.flags&FlagDisableRegCache == 0)

	d.def = newContext(d)
	d.contexts = []*Context{d.def}
	d.selected, d.solid, d.outline = d.def, d.def, d.def
	return d, nil
}

// Init binds the device to port. Calling Init again releases the previous
// binding first, waiting for submitted lists to finish.
func (d *Device) Init(port hw.Port) error {
	if d.closed {
		return d.record(ErrInvalidDevice)
	}
	if port == nil {
		return d.record(ErrNoHardware)
	}
	if d.port != nil {
		if err := d.release(); err != nil {
			return d.record(err)
		}
	}

	d.port = port
	d.arch = port.Architecture()
	d.features = port.Features()
	d.alphaUnit = d.features.Has(hw.FeatureAlphaBlendUnit)
	d.pool = mem.New(port, mem.Config{BudgetBytes: d.opts.budget})

	for i := range d.defaults {
		b, err := d.newBuffer(d.opts.initial, d.opts.step)
		if err != nil {
			d.release()
			return d.record(err)
		}
		b.builtin = true
		d.defaults[i] = b
	}
	d.frame = 0
	d.current = d.defaults[0]
	d.scratch.Reset()
	d.cache.Invalidate()
	d.lastEmitted = nil

	var ctl3 uint32
	if d.opts.flags&FlagDisableCaches == 0 {
		if d.features.Has(hw.FeatureFramebufferCache) {
			ctl3 |= regs.Control3FramebufferCache
		}
		if d.features.Has(hw.FeatureTextureCache) {
			ctl3 |= regs.Control3TextureCache
		}
	}
	if d.features.Has(hw.FeatureBurstLimiter) {
		ctl3 |= regs.Control3BurstLimit
	}
	port.WriteRegister(regs.Control3, ctl3)
	if d.opts.flags&FlagDisableIRQ == 0 {
		port.WriteRegister(regs.IRQCtl, regs.IRQEnableDListEnd|regs.IRQClear)
	}

	info := port.Info()
	slogger().Info("d2: device bound",
		slog.String("name", info.Name),
		slog.String("backend", info.Backend),
		slog.String("arch", d.arch.String()),
		slog.Int("revision", int(d.features.Revision())),
		slog.Bool("listReader", d.features.Has(hw.FeatureListReader)),
		slog.Bool("alphaBlendUnit", d.alphaUnit))
	return d.record(nil)
}

// InitNamed opens the named backend from reg and binds the device to it.
// An empty name selects the preferred backend.
func (d *Device) InitNamed(reg *hw.Registry, name string) error {
	if reg == nil {
		return d.record(ErrNoHardware)
	}
	port, err := reg.Open(name)
	if err != nil {
		return d.record(fmt.Errorf("%w: %w", ErrNoHardware, err))
	}
	return d.Init(port)
}

// release waits for the accelerator and frees every render buffer.
func (d *Device) release() error {
	var err error
	if d.anyBusy() {
		err = d.waitIdle(context.Background())
	}
	for _, b := range d.buffers {
		b.free()
	}
	d.buffers = nil
	d.defaults = [2]*RenderBuffer{}
	d.current = nil
	d.queue = nil
	d.port = nil
	d.pool = nil
	d.fb = framebuffer{}
	return err
}

// Close waits for submitted work, frees all contexts and render buffers
// and removes the device from its registry. The device cannot be used
// afterwards.
func (d *Device) Close() error {
	if d.closed {
		return ErrInvalidDevice
	}
	var err error
	if d.port != nil {
		err = d.release()
	}
	for _, c := range d.contexts {
		c.freed = true
	}
	d.contexts = nil
	d.selected, d.solid, d.outline, d.lastEmitted = nil, nil, nil, nil
	d.closed = true
	if d.registry != nil {
		d.registry.Remove(d)
	}
	return err
}

// WaitIdle blocks until the accelerator has finished every submitted list
// or ctx is done. It uses the port's interrupt wait unless FlagDisableIRQ
// is set, in which case it polls the status register.
func (d *Device) WaitIdle(ctx context.Context) error {
	if err := d.ready(); err != nil {
		return d.record(err)
	}
	return d.record(d.waitIdle(ctx))
}

func (d *Device) waitIdle(ctx context.Context) error {
	if d.opts.flags&FlagDisableIRQ != 0 {
		if err := d.poll(ctx); err != nil {
			return err
		}
	} else {
		if err := d.port.WaitReady(ctx); err != nil {
			return err
		}
		d.port.WriteRegister(regs.IRQCtl, regs.IRQEnableDListEnd|regs.IRQClear)
	}
	d.markIdle()
	return nil
}

func (d *Device) poll(ctx context.Context) error {
	if d.port.ReadRegister(regs.Status)&regs.StatusBusy == 0 {
		return nil
	}
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if d.port.ReadRegister(regs.Status)&regs.StatusBusy == 0 {
				return nil
			}
		}
	}
}

// refreshBusy returns Busy buffers to Closed when the status register
// reports the accelerator idle.
func (d *Device) refreshBusy() {
	if !d.anyBusy() {
		return
	}
	if d.port.ReadRegister(regs.Status)&regs.StatusBusy == 0 {
		d.markIdle()
	}
}

func (d *Device) anyBusy() bool {
	for _, b := range d.buffers {
		if b.state == BufferBusy {
			return true
		}
	}
	return false
}

func (d *Device) markIdle() {
	for _, b := range d.buffers {
		if b.state == BufferBusy {
			b.state = BufferClosed
		}
	}
}

// check reports whether the device is usable.
func (d *Device) check() error {
	if d == nil || d.closed {
		return ErrInvalidDevice
	}
	return nil
}

// ready reports whether the device is usable and bound to hardware.
func (d *Device) ready() error {
	if err := d.check(); err != nil {
		return err
	}
	if d.port == nil {
		return ErrNoHardware
	}
	return nil
}

// record stores err as the last error and returns it.
func (d *Device) record(err error) error {
	if d != nil {
		d.lastErr = err
	}
	return err
}

// delay keeps the first flush-path error until it is reported.
func (d *Device) delay(err error) {
	if d.delayed == nil {
		d.delayed = err
	}
}

// takeDelayed returns and clears the delayed error.
func (d *Device) takeDelayed() error {
	err := d.delayed
	d.delayed = nil
	return err
}

// LastError returns the error recorded by the most recent call.
func (d *Device) LastError() error { return d.lastErr }

// CheckError flushes pending writes and returns the delayed error left by
// the flush path, clearing it.
func (d *Device) CheckError() error {
	if err := d.check(); err != nil {
		return d.record(err)
	}
	d.scratch.Flush()
	return d.record(d.takeDelayed())
}

// Flags returns the device flags.
func (d *Device) Flags() Flags { return d.opts.flags }

// Arch returns the memory architecture of the bound port.
func (d *Device) Arch() hw.Arch { return d.arch }

// Features returns the capability bits of the bound port.
func (d *Device) Features() hw.Features { return d.features }

// Port returns the bound port, or nil before Init.
func (d *Device) Port() hw.Port { return d.port }
