package d2

import (
	"log/slog"

	"github.com/gogpu/d2/internal/dlist"
)

// listSink commits staged writes into the current render buffer.
type listSink struct{ d *Device }

func (s listSink) Drain(ws []dlist.Write) { s.d.commit(s.d.current, ws) }

// layerSink collects staged writes in the current buffer's postprocess
// layer. When the layer cannot grow, its content and ws are merged into
// the display list right away.
type layerSink struct{ d *Device }

func (s layerSink) Drain(ws []dlist.Write) {
	d := s.d
	b := d.current
	if b == nil || b.layer == nil {
		d.commit(b, ws)
		return
	}
	if err := b.layer.Append(ws); err != nil {
		slogger().Warn("d2: postprocess layer full, merging early",
			slog.Int("pending", b.layer.Len()),
			slog.Int("writes", len(ws)),
			slog.String("cause", err.Error()))
		d.mergeLayer(b)
		d.commit(b, ws)
	}
}

// deferred runs fn with the scratch buffer targeting the postprocess
// layer. Writes queued before the call go to the display list first.
// The layer replays after later fills, so its writes carry the full
// material of their context; the register cache elides in commit order.
func (d *Device) deferred(fn func()) {
	prev := d.scratch.SetSink(d.layerSink)
	d.lastEmitted = nil
	fn()
	d.scratch.SetSink(prev)
	d.lastEmitted = nil
}

// mergeLayer replays the layer of b into its display list.
func (d *Device) mergeLayer(b *RenderBuffer) {
	if b == nil || b.layer == nil || b.layer.Len() == 0 {
		return
	}
	d.commit(b, b.layer.Writes())
	b.layer.Reset()
	d.lastEmitted = nil
}

// commit writes ws into the display list of b, skipping writes the
// register cache marks redundant. With the register cache disabled the
// writes are copied four per entry. Failures become the delayed error.
func (d *Device) commit(b *RenderBuffer, ws []dlist.Write) {
	if d.opts.flags&FlagDisableDList != 0 {
		if d.port == nil {
			d.delay(ErrNoHardware)
			return
		}
		for _, w := range ws {
			if d.cache.Check(w.Reg, w.Value) {
				d.port.WriteRegister(w.Reg, w.Value)
			}
		}
		return
	}
	if b == nil {
		d.delay(ErrNoHardware)
		return
	}
	switch b.state {
	case BufferBusy:
		d.delay(ErrDeviceBusy)
		return
	case BufferClosed:
		d.delay(ErrInvalidBuffer)
		return
	}
	if !d.cache.Enabled() {
		b.list.WriteBatch(ws)
	} else {
		for _, w := range ws {
			if d.cache.Check(w.Reg, w.Value) {
				b.list.Write(w.Reg, w.Value)
			}
		}
	}
	if err := b.list.Err(); err != nil {
		d.delay(mapError(err))
	}
}
