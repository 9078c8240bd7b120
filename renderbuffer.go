package d2

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/gogpu/d2/hw"
	"github.com/gogpu/d2/internal/dlist"
	"github.com/gogpu/d2/internal/layer"
)

// BufferState is the lifecycle state of a RenderBuffer.
type BufferState uint8

const (
	// BufferWritable buffers accept writes.
	BufferWritable BufferState = iota
	// BufferClosed buffers are terminated and ready for submission.
	BufferClosed
	// BufferBusy buffers are being read by the accelerator.
	BufferBusy
)

func (s BufferState) String() string {
	switch s {
	case BufferWritable:
		return "writable"
	case BufferClosed:
		return "closed"
	case BufferBusy:
		return "busy"
	default:
		return fmt.Sprintf("BufferState(%d)", uint8(s))
	}
}

// ExecFlags modify Execute.
type ExecFlags uint32

const (
	// ExecImmediate asks the accelerator to start right away.
	ExecImmediate ExecFlags = 1 << iota
	// ExecAppend queues the buffer instead of submitting it. The next
	// Execute without ExecAppend submits all queued buffers and its own in
	// one indirect submission.
	ExecAppend
	// ExecNotify terminates the list with a result the accelerator reports
	// in its status register.
	ExecNotify
)

// RenderBuffer is a display list plus the layer holding deferred
// postprocess writes.
type RenderBuffer struct {
	dev     *Device
	list    *dlist.List
	layer   *layer.Layer // nil in low-local-memory mode
	state   BufferState
	start   hw.Addr
	builtin bool
	freed   bool
}

// State returns the lifecycle state. A Busy buffer stays Busy until
// WaitIdle or until a call that checks buffer states finds the accelerator
// idle.
func (b *RenderBuffer) State() BufferState { return b.state }

// Blocks returns the number of display-list blocks the buffer holds.
func (b *RenderBuffer) Blocks() int { return b.list.Blocks() }

func (d *Device) newBuffer(initial, step int) (*RenderBuffer, error) {
	list, err := dlist.New(d.pool, d.opts.listConfig(initial, step))
	if err != nil {
		return nil, mapError(err)
	}
	b := &RenderBuffer{dev: d, list: list}
	if d.opts.lowLocal == nil {
		if b.layer, err = layer.New(d.pool, layer.DefaultCapacity); err != nil {
			list.Free()
			return nil, mapError(err)
		}
	}
	d.buffers = append(d.buffers, b)
	return b, nil
}

func (b *RenderBuffer) free() {
	b.list.Free()
	if b.layer != nil {
		b.layer.Free()
	}
	b.freed = true
}

// reopen rewinds a Closed buffer for writing.
func (b *RenderBuffer) reopen() {
	b.list.Reset()
	if b.layer != nil {
		b.layer.Reset()
	}
	b.start = 0
	b.state = BufferWritable
}

// NewRenderBuffer creates a render buffer whose display list starts with
// initial entries and grows by step entries. Zero sizes use the sizes set
// with WithBlockSize.
func (d *Device) NewRenderBuffer(initial, step int) (*RenderBuffer, error) {
	if err := d.ready(); err != nil {
		return nil, d.record(err)
	}
	if initial == 0 {
		initial = d.opts.initial
	}
	if step == 0 {
		step = d.opts.step
	}
	if err := checkRange(initial, dlist.MinBlockEntries, 1<<20); err != nil {
		return nil, d.record(err)
	}
	if err := checkRange(step, dlist.MinBlockEntries, 1<<20); err != nil {
		return nil, d.record(err)
	}
	b, err := d.newBuffer(initial, step)
	if err != nil {
		return nil, d.record(err)
	}
	return b, d.record(nil)
}

func (d *Device) checkBuffer(b *RenderBuffer) error {
	if b == nil || b.dev != d || b.freed {
		return ErrInvalidBuffer
	}
	return nil
}

// SelectRenderBuffer makes b the target of subsequent writes. nil selects
// the default buffer of the current frame. A Closed buffer is rewound; a
// Busy one is rejected with ErrDeviceBusy.
func (d *Device) SelectRenderBuffer(b *RenderBuffer) error {
	if err := d.ready(); err != nil {
		return d.record(err)
	}
	if b == nil {
		b = d.defaults[d.frame]
	}
	if err := d.checkBuffer(b); err != nil {
		return d.record(err)
	}
	d.refreshBusy()
	if b.state == BufferBusy {
		return d.record(ErrDeviceBusy)
	}
	if slices.Contains(d.queue, b) {
		return d.record(fmt.Errorf("%w: buffer is queued for submission", ErrDeviceBusy))
	}

	if old := d.current; old != nil {
		d.scratch.Flush()
		if old.state == BufferWritable {
			d.mergeLayer(old)
		}
		if err := old.list.Finalize(); err != nil {
			d.delay(mapError(err))
		}
	}
	if b.state == BufferClosed {
		b.reopen()
	}
	d.current = b
	d.cache.Invalidate()
	d.lastEmitted = nil
	d.emitFramebuffer()
	return d.record(nil)
}

// CurrentRenderBuffer returns the selected render buffer.
func (d *Device) CurrentRenderBuffer() *RenderBuffer { return d.current }

// Execute terminates b and submits it to the accelerator without waiting.
// nil executes the current buffer. The delayed error of the flush path is
// returned and cleared.
func (d *Device) Execute(b *RenderBuffer, flags ExecFlags) error {
	if err := d.ready(); err != nil {
		return d.record(err)
	}
	if b == nil {
		b = d.current
	}
	if err := d.checkBuffer(b); err != nil {
		return d.record(err)
	}
	d.refreshBusy()
	if b.state == BufferBusy {
		return d.record(ErrDeviceBusy)
	}
	if d.opts.flags&FlagDisableDList != 0 {
		d.scratch.Flush()
		return d.record(d.takeDelayed())
	}

	if b.state != BufferClosed {
		if b == d.current {
			d.scratch.Flush()
			if d.mode == RenderPostprocess {
				d.mode = RenderSolid
			}
		}
		d.mergeLayer(b)
		start, err := b.list.PrepareRead(d.endCode(flags))
		if err != nil {
			d.delay(mapError(err))
		}
		b.start = start
		b.state = BufferClosed
	}
	if flags&ExecAppend != 0 {
		d.queue = append(d.queue, b)
		return d.record(d.takeDelayed())
	}

	batch := append(d.queue, b)
	d.queue = nil
	if err := d.submit(batch, flags&ExecImmediate != 0); err != nil {
		d.delay(err)
	}
	return d.record(d.takeDelayed())
}

func (d *Device) endCode(flags ExecFlags) dlist.EndCode {
	switch {
	case flags&ExecAppend != 0 && d.opts.lowLocal != nil:
		return dlist.EndFlushContinueAlt
	case flags&ExecAppend != 0:
		return dlist.EndFlushContinue
	case flags&ExecNotify != 0:
		return dlist.EndTerminateResult
	default:
		return dlist.EndTerminate
	}
}

// submit hands the buffers to the list reader in order, or interprets
// them in software when the accelerator has none.
func (d *Device) submit(batch []*RenderBuffer, immediate bool) error {
	if !d.features.Has(hw.FeatureListReader) {
		slogger().Warn("d2: no list reader, executing in software",
			slog.Int("lists", len(batch)))
		for _, b := range batch {
			if _, err := b.list.Execute(d.port); err != nil {
				return fmt.Errorf("d2: software execution: %w", err)
			}
		}
		return nil
	}
	starts := make([]hw.Addr, 0, len(batch))
	for _, b := range batch {
		if b.start == 0 {
			continue
		}
		starts = append(starts, b.start)
	}
	if len(starts) == 0 {
		return nil
	}
	if err := d.port.StartExecution(starts, immediate); err != nil {
		return fmt.Errorf("d2: submit: %w", err)
	}
	for _, b := range batch {
		if b.start != 0 {
			b.state = BufferBusy
		}
	}
	slogger().Debug("d2: submitted",
		slog.Int("lists", len(starts)),
		slog.Bool("immediate", immediate))
	return nil
}

// Dump linearizes a Closed or Busy buffer into a flat, relocatable blob of
// little-endian entries without jumps.
func (d *Device) Dump(b *RenderBuffer) ([]byte, error) {
	if err := d.ready(); err != nil {
		return nil, d.record(err)
	}
	if b == nil {
		b = d.current
	}
	if err := d.checkBuffer(b); err != nil {
		return nil, d.record(err)
	}
	if b.state == BufferWritable {
		return nil, d.record(fmt.Errorf("%w: buffer is not executed", ErrInvalidBuffer))
	}
	entries, err := b.list.Dump(dlist.EndTerminate)
	if err != nil {
		return nil, d.record(mapError(err))
	}
	return dlist.Bytes(entries), d.record(nil)
}

// FreeRenderBuffer releases b. The default buffers and Busy buffers
// cannot be freed. Freeing the current buffer selects the default buffer.
func (d *Device) FreeRenderBuffer(b *RenderBuffer) error {
	if err := d.ready(); err != nil {
		return d.record(err)
	}
	if err := d.checkBuffer(b); err != nil {
		return d.record(err)
	}
	if b.builtin {
		return d.record(ErrDefBuffer)
	}
	d.refreshBusy()
	if b.state == BufferBusy {
		return d.record(ErrDeviceBusy)
	}
	if b == d.current {
		// The default buffer must be selectable before anything of b is
		// dropped.
		def := d.defaults[d.frame]
		if def.state == BufferBusy || slices.Contains(d.queue, def) {
			return d.record(ErrDeviceBusy)
		}
		d.scratch.Reset()
		d.current = nil
		if err := d.SelectRenderBuffer(nil); err != nil {
			return err
		}
	}
	d.queue = slices.DeleteFunc(d.queue, func(q *RenderBuffer) bool { return q == b })
	d.buffers = slices.DeleteFunc(d.buffers, func(q *RenderBuffer) bool { return q == b })
	b.free()
	return d.record(nil)
}

// StartFrame selects the default buffer of the current frame.
func (d *Device) StartFrame() error {
	return d.SelectRenderBuffer(nil)
}

// EndFrame executes the current buffer and selects the other default
// buffer, waiting for the accelerator only if that buffer is still busy.
func (d *Device) EndFrame(ctx context.Context) error {
	if err := d.Execute(nil, 0); err != nil {
		return err
	}
	d.frame ^= 1
	next := d.defaults[d.frame]
	d.refreshBusy()
	if next.state == BufferBusy {
		if err := d.waitIdle(ctx); err != nil {
			return d.record(err)
		}
	}
	return d.SelectRenderBuffer(next)
}

// Frame returns the index of the current default buffer.
func (d *Device) Frame() int { return d.frame }

// writable reports whether primitives can be queued into the current
// buffer.
func (d *Device) writable() error {
	if err := d.ready(); err != nil {
		return err
	}
	if d.opts.flags&FlagDisableDList != 0 {
		return nil
	}
	if d.current == nil {
		return fmt.Errorf("%w: no render buffer selected", ErrInvalidBuffer)
	}
	switch d.current.state {
	case BufferBusy:
		return ErrDeviceBusy
	case BufferClosed:
		return fmt.Errorf("%w: buffer was executed, select it again", ErrInvalidBuffer)
	}
	return nil
}
