// Package scratch implements the bounded staging queue register writes go
// through before they are compacted into a display list.
package scratch

import "github.com/gogpu/d2/internal/dlist"

// DefaultCapacity is the number of pending writes a Buffer holds when no
// capacity is given.
const DefaultCapacity = 256

// Sink consumes pending writes when the buffer is flushed. Drain must not
// retain ws.
type Sink interface {
	Drain(ws []dlist.Write)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ws []dlist.Write)

// Drain calls f(ws).
func (f SinkFunc) Drain(ws []dlist.Write) { f(ws) }

// Buffer is a bounded queue of register writes. Reaching capacity drains
// the queue into the current sink. A Buffer is single-threaded.
type Buffer struct {
	ws      []dlist.Write
	sink    Sink
	flushes int
}

// New creates a buffer holding up to capacity writes.
func New(capacity int, sink Sink) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{ws: make([]dlist.Write, 0, capacity), sink: sink}
}

// Append queues one write, draining the queue first when it is full.
func (b *Buffer) Append(reg uint8, v uint32) {
	if len(b.ws) == cap(b.ws) {
		b.Flush()
	}
	b.ws = append(b.ws, dlist.Write{Reg: reg, Value: v})
}

// Flush drains all pending writes into the sink.
func (b *Buffer) Flush() {
	if len(b.ws) == 0 {
		return
	}
	if b.sink != nil {
		b.sink.Drain(b.ws)
	}
	b.ws = b.ws[:0]
	b.flushes++
}

// SetSink flushes pending writes into the current sink, installs s and
// returns the previous sink.
func (b *Buffer) SetSink(s Sink) Sink {
	b.Flush()
	prev := b.sink
	b.sink = s
	return prev
}

// Sink returns the current sink.
func (b *Buffer) Sink() Sink { return b.sink }

// Reset drops pending writes without draining them.
func (b *Buffer) Reset() { b.ws = b.ws[:0] }

// Len returns the number of pending writes.
func (b *Buffer) Len() int { return len(b.ws) }

// Cap returns the capacity.
func (b *Buffer) Cap() int { return cap(b.ws) }

// Pending returns the queued writes. The slice is only valid until the
// next Append or Flush.
func (b *Buffer) Pending() []dlist.Write { return b.ws }

// Flushes returns the number of non-empty flushes so far.
func (b *Buffer) Flushes() int { return b.flushes }
