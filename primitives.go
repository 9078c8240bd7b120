package d2

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/d2/hw"
	"github.com/gogpu/d2/regs"
)

// MaxDimension is the largest framebuffer width or height in pixels.
const MaxDimension = 2048

const maxOutlineWidth = 255

// RenderMode selects which passes a primitive is drawn with.
type RenderMode uint8

const (
	// RenderSolid fills with the solid context.
	RenderSolid RenderMode = iota
	// RenderOutline draws only the outline band with the outline context.
	RenderOutline
	// RenderShadow draws an offset copy with the outline context.
	RenderShadow
	// RenderSolidOutlined fills, then draws the outline band.
	RenderSolidOutlined
	// RenderSolidShadow draws the shadow, then fills.
	RenderSolidShadow
	// RenderPostprocess fills immediately and defers the outline band
	// until the mode is left or the buffer is executed, so that outlines
	// land on top of every fill.
	RenderPostprocess
)

func (m RenderMode) String() string {
	switch m {
	case RenderSolid:
		return "solid"
	case RenderOutline:
		return "outline"
	case RenderShadow:
		return "shadow"
	case RenderSolidOutlined:
		return "solid-outlined"
	case RenderSolidShadow:
		return "solid-shadow"
	case RenderPostprocess:
		return "postprocess"
	default:
		return fmt.Sprintf("RenderMode(%d)", uint8(m))
	}
}

// framebuffer describes the render target.
type framebuffer struct {
	addr   hw.Addr
	pitch  int
	width  int
	height int
	format gputypes.TextureFormat
	code   uint32
}

func (f framebuffer) valid() bool { return f.addr != 0 }

// SetRenderMode selects the passes of subsequent primitives. Leaving
// RenderPostprocess merges the deferred outlines into the display list.
func (d *Device) SetRenderMode(m RenderMode) error {
	if err := d.check(); err != nil {
		return d.record(err)
	}
	if m > RenderPostprocess {
		return d.record(fmt.Errorf("%w: render mode %d", ErrInvalidEnum, m))
	}
	if d.mode == RenderPostprocess && m != RenderPostprocess && d.current != nil {
		d.scratch.Flush()
		d.mergeLayer(d.current)
	}
	d.mode = m
	return d.record(nil)
}

// RenderMode returns the current render mode.
func (d *Device) RenderMode() RenderMode { return d.mode }

// SetFramebuffer sets the render target. pitch is in bytes. The clip
// rectangle is reset to the whole framebuffer.
func (d *Device) SetFramebuffer(addr hw.Addr, pitch, width, height int, format gputypes.TextureFormat) error {
	if err := d.writable(); err != nil {
		return d.record(err)
	}
	code, bpp, err := regs.FormatCode(format)
	if err != nil {
		return d.record(fmt.Errorf("%w: format %v", ErrInvalidEnum, format))
	}
	if width < 1 || width > MaxDimension {
		return d.record(fmt.Errorf("%w: %d", ErrInvalidWidth, width))
	}
	if height < 1 || height > MaxDimension {
		return d.record(fmt.Errorf("%w: %d", ErrInvalidHeight, height))
	}
	if err := checkRange(pitch, width*bpp, 1<<16); err != nil {
		return d.record(fmt.Errorf("pitch: %w", err))
	}
	if addr == 0 {
		return d.record(fmt.Errorf("%w: framebuffer address is zero", ErrInvalidBuffer))
	}
	d.fb = framebuffer{addr: addr, pitch: pitch, width: width, height: height, format: format, code: code}
	d.clip = fixed.R(0, 0, width, height)
	d.emitFramebuffer()
	return d.record(nil)
}

func (d *Device) emitFramebuffer() {
	if !d.fb.valid() {
		return
	}
	d.scratch.Append(regs.FrameAddr, uint32(d.fb.addr))
	d.scratch.Append(regs.FramePitch, uint32(d.fb.pitch))
	d.scratch.Append(regs.FrameSize, regs.XY(d.fb.width, d.fb.height))
	d.scratch.Append(regs.FrameFormat, d.fb.code)
}

// Framebuffer returns the render target address, pitch and size.
func (d *Device) Framebuffer() (addr hw.Addr, pitch, width, height int) {
	return d.fb.addr, d.fb.pitch, d.fb.width, d.fb.height
}

// SetClipRect limits rendering to r. r must be non-empty, start at or
// after the origin and lie inside the framebuffer when one is set.
func (d *Device) SetClipRect(r fixed.Rectangle26_6) error {
	if err := d.check(); err != nil {
		return d.record(err)
	}
	if r.Min.X < 0 || r.Min.Y < 0 {
		return d.record(fmt.Errorf("%w: clip origin %v", ErrValueNegative, r.Min))
	}
	if r.Empty() {
		return d.record(fmt.Errorf("%w: empty clip rectangle", ErrValueTooSmall))
	}
	if d.fb.valid() && (r.Max.X > fixed.I(d.fb.width) || r.Max.Y > fixed.I(d.fb.height)) {
		return d.record(fmt.Errorf("%w: clip %v exceeds framebuffer", ErrValueTooBig, r))
	}
	d.clip = r
	return d.record(nil)
}

// ClipRect returns the clip rectangle.
func (d *Device) ClipRect() fixed.Rectangle26_6 { return d.clip }

// SetShadowOffset sets the offset of shadow passes.
func (d *Device) SetShadowOffset(dx, dy fixed.Int26_6) error {
	if err := d.check(); err != nil {
		return d.record(err)
	}
	d.shadowDX, d.shadowDY = dx, dy
	return d.record(nil)
}

// SetOutlineWidth sets the width of outline bands.
func (d *Device) SetOutlineWidth(w fixed.Int26_6) error {
	if err := d.check(); err != nil {
		return d.record(err)
	}
	if err := checkRange(w, 1, fixed.I(maxOutlineWidth)); err != nil {
		return d.record(err)
	}
	d.outlineWidth = w
	return d.record(nil)
}

// RenderBox draws an axis-aligned box with the current render mode.
func (d *Device) RenderBox(x, y, w, h fixed.Int26_6) error {
	if err := d.writable(); err != nil {
		return d.record(err)
	}
	if err := checkRange(w, 1, fixed.I(1<<15)); err != nil {
		return d.record(fmt.Errorf("box width: %w", err))
	}
	if err := checkRange(h, 1, fixed.I(1<<15)); err != nil {
		return d.record(fmt.Errorf("box height: %w", err))
	}
	r := fixed.Rectangle26_6{
		Min: fixed.Point26_6{X: x, Y: y},
		Max: fixed.Point26_6{X: x + w, Y: y + h},
	}
	shadow := r.Add(fixed.Point26_6{X: d.shadowDX, Y: d.shadowDY})

	switch d.mode {
	case RenderSolid:
		d.box(d.solid, r, 0)
	case RenderOutline:
		d.band(d.outline, r)
	case RenderShadow:
		d.box(d.outline, shadow, 0)
	case RenderSolidOutlined:
		d.box(d.solid, r, 0)
		d.band(d.outline, r)
	case RenderSolidShadow:
		d.box(d.outline, shadow, 0)
		d.box(d.solid, r, 0)
	case RenderPostprocess:
		d.box(d.solid, r, 0)
		d.deferred(func() { d.band(d.outline, r) })
	}
	return d.record(nil)
}

// band draws the outline of r, extended outwards by the outline width.
func (d *Device) band(c *Context, r fixed.Rectangle26_6) {
	ow := d.outlineWidth
	outer := fixed.Rectangle26_6{
		Min: fixed.Point26_6{X: r.Min.X - ow, Y: r.Min.Y - ow},
		Max: fixed.Point26_6{X: r.Max.X + ow, Y: r.Max.Y + ow},
	}
	d.scratch.Append(regs.BandWidth, uint32(ow))
	d.box(c, outer, regs.ControlBand)
}

// box queues one box primitive with the material of c. Boxes entirely
// outside the clip rectangle produce no writes.
func (d *Device) box(c *Context, r fixed.Rectangle26_6, extra uint32) {
	clip := r.Intersect(d.clip)
	if d.clip.Empty() {
		clip = r
	}
	x0, y0 := clip.Min.X.Floor(), clip.Min.Y.Floor()
	x1, y1 := clip.Max.X.Ceil(), clip.Max.Y.Ceil()
	if x1 <= x0 || y1 <= y0 {
		return
	}
	d.emitMaterial(c)
	put := d.scratch.Append
	if !d.clip.Empty() {
		put(regs.ClipMin, regs.XY(d.clip.Min.X.Floor(), d.clip.Min.Y.Floor()))
		put(regs.ClipMax, regs.XY(d.clip.Max.X.Ceil()-1, d.clip.Max.Y.Ceil()-1))
	}
	put(regs.Origin, regs.XY(x0, y0))
	put(regs.Size, regs.XY(x1-x0, y1-y0))

	// Edge functions are signed distances in 26.6 from the pixel grid at
	// the origin to each side of the box, positive inside.
	px, py := fixed.I(x0), fixed.I(y0)
	one := uint32(fixed.I(1))
	put(regs.L1Start, uint32(px-r.Min.X))
	put(regs.L1XAdd, one)
	put(regs.L1YAdd, 0)
	put(regs.L2Start, uint32(r.Max.X-px))
	put(regs.L2XAdd, -one)
	put(regs.L2YAdd, 0)
	put(regs.L3Start, uint32(py-r.Min.Y))
	put(regs.L3XAdd, 0)
	put(regs.L3YAdd, one)
	put(regs.L4Start, uint32(r.Max.Y-py))
	put(regs.L4XAdd, 0)
	put(regs.L4YAdd, -one)

	ctl := regs.ControlLim1 | regs.ControlLim2 | regs.ControlLim3 | regs.ControlLim4
	put(regs.Control, ctl|extra|c.controlBits())
	put(regs.Start, 0)
}

// Clear fills the whole framebuffer with rgb, ignoring contexts and the
// clip rectangle.
func (d *Device) Clear(rgb uint32) error {
	if err := d.writable(); err != nil {
		return d.record(err)
	}
	if !d.fb.valid() {
		return d.record(fmt.Errorf("%w: no framebuffer", ErrInvalidBuffer))
	}
	if err := checkRange(rgb, 0, 0xFFFFFF); err != nil {
		return d.record(err)
	}
	put := d.scratch.Append
	one, _ := regs.BlendCode(gputypes.BlendFactorOne)
	zero, _ := regs.BlendCode(gputypes.BlendFactorZero)
	put(regs.ClipMin, 0)
	put(regs.ClipMax, regs.XY(d.fb.width-1, d.fb.height-1))
	put(regs.Color1, rgb)
	put(regs.Alpha, 0xFFFF)
	put(regs.Blend, regs.BlendWord(one, zero))
	put(regs.Origin, 0)
	put(regs.Size, regs.XY(d.fb.width, d.fb.height))
	put(regs.Control, 0)
	put(regs.Start, 0)
	// The material registers no longer match any context.
	d.lastEmitted = nil
	return d.record(nil)
}

// Writer receives raw register writes from external primitive producers.
type Writer interface {
	Write(reg uint8, v uint32)
}

type emitWriter struct{ d *Device }

func (w emitWriter) Write(reg uint8, v uint32) {
	if reg >= regs.Count || reg == regs.DListStart || reg == regs.Status {
		w.d.delay(fmt.Errorf("%w: register %#x", ErrInvalidIndex, reg))
		return
	}
	w.d.scratch.Append(reg, v)
}

// Emit queues the selected context's material and then the writes fn
// produces. Writes to reserved registers are dropped and reported as the
// delayed ErrInvalidIndex. In RenderPostprocess mode the writes are
// deferred with the outlines.
func (d *Device) Emit(fn func(w Writer)) error {
	if err := d.writable(); err != nil {
		return d.record(err)
	}
	run := func() {
		d.emitMaterial(d.selected)
		fn(emitWriter{d})
	}
	if d.mode == RenderPostprocess {
		d.deferred(run)
	} else {
		run()
	}
	return d.record(nil)
}
