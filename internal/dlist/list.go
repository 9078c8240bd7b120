package dlist

import (
	"errors"
	"fmt"
	"log/slog"

	"honnef.co/go/safeish"

	"github.com/gogpu/d2/hw"
	"github.com/gogpu/d2/internal/mem"
)

// ErrNotEnoughBlocks is the sticky error set when the list could not grow.
// The list stays validly terminated; writes after the failure are dropped.
var ErrNotEnoughBlocks = errors.New("dlist: not enough display list blocks")

// DefaultShrinkDelay is the number of consecutive read preparations with
// more than one spare block before a spare block is released.
const DefaultShrinkDelay = 8

// block is one contiguous run of entries.
type block struct {
	entries []Entry
	region  mem.Region
	addr    hw.Addr // accelerator address of entries[0]

	// companion video memory on separated architectures
	companion hw.Addr
	compWords int

	used int // entries written this cycle, jump and terminator included
	jump int // index of the jump entry, -1 if none
}

func (b *block) limit() int { return len(b.entries) - 1 }

// readAddr is the address the list reader fetches this block from.
func (b *block) readAddr() hw.Addr {
	if b.companion != 0 {
		return b.companion
	}
	return b.addr
}

// words views the block storage as raw words.
func (b *block) words(n int) []uint32 {
	return safeish.SliceCast[[]uint32](b.entries[:n])
}

// Stats reports list activity since creation.
type Stats struct {
	Blocks   int
	Grows    int
	Shrinks  int
	Copies   int
	Flushes  int
	Dropped  int
	Prepares int
}

// Config configures a List.
type Config struct {
	// InitialEntries sizes the first block.
	InitialEntries int
	// StepEntries sizes every block allocated by growth.
	StepEntries int
	// ShrinkDelay overrides DefaultShrinkDelay when positive.
	ShrinkDelay int
	// LowLocalMem enables the low-local-memory ring when non-nil.
	LowLocalMem *LowLocalMem
}

// List is an append-only display list.
//
// A List is not safe for concurrent use. It must not be written while the
// accelerator reads it.
type List struct {
	pool *mem.Pool
	cfg  Config

	blocks []*block
	cur    int // index of the block being written
	pos    int // entry being written in blocks[cur]
	tag    int // next free slot in that entry

	// resume point saved by Terminate
	terminated bool
	resumePos  int
	resumeTag  int

	overflow    bool
	err         error
	shrinkDelay int

	low   *lowLocal
	stats Stats
}

// New creates a list with one block of cfg.InitialEntries entries.
func New(pool *mem.Pool, cfg Config) (*List, error) {
	if cfg.InitialEntries < MinBlockEntries {
		cfg.InitialEntries = MinBlockEntries
	}
	if cfg.StepEntries < MinBlockEntries {
		cfg.StepEntries = cfg.InitialEntries
	}
	if cfg.ShrinkDelay <= 0 {
		cfg.ShrinkDelay = DefaultShrinkDelay
	}
	l := &List{pool: pool, cfg: cfg}

	if cfg.LowLocalMem != nil {
		low, err := newLowLocal(l, *cfg.LowLocalMem)
		if err != nil {
			return nil, err
		}
		l.low = low
		return l, nil
	}

	b, err := l.allocBlock(cfg.InitialEntries, false)
	if err != nil {
		return nil, err
	}
	l.blocks = append(l.blocks, b)
	l.stats.Blocks = 1
	return l, nil
}

func (l *List) allocBlock(entries int, heapOnly bool) (*block, error) {
	var (
		region mem.Region
		err    error
	)
	if heapOnly {
		var w []uint32
		w, err = l.pool.Heap(entries * EntryWords)
		region = mem.Region{Words: w, Placement: mem.PlaceHeap}
	} else {
		region, err = l.pool.DList(entries * EntryWords)
	}
	if err != nil {
		return nil, err
	}
	return &block{
		entries: safeish.SliceCast[[]Entry](region.Words),
		region:  region,
		addr:    region.Addr,
		jump:    -1,
	}, nil
}

func (l *List) freeBlock(b *block) {
	if b.companion != 0 {
		l.pool.FreeVideo(b.companion, b.compWords)
		b.companion = 0
	}
	l.pool.Free(b.region)
	b.entries = nil
}

// Free releases all memory held by the list.
func (l *List) Free() {
	for _, b := range l.blocks {
		l.freeBlock(b)
	}
	l.blocks = nil
	if l.low != nil {
		l.low.free()
	}
}

// Err returns the sticky error, if any.
func (l *List) Err() error { return l.err }

// Stats returns activity counters.
func (l *List) Stats() Stats {
	s := l.stats
	s.Blocks = len(l.blocks)
	if l.low != nil {
		s.Copies = l.low.copies
	}
	return s
}

// Blocks returns the number of blocks currently held.
func (l *List) Blocks() int { return len(l.blocks) }

// Len returns the number of entries written this cycle, not counting
// jump entries.
func (l *List) Len() int {
	if l.low != nil {
		return l.low.written + l.pos
	}
	n := 0
	for i := 0; i < l.cur; i++ {
		n += l.blocks[i].limit()
	}
	n += l.pos
	if l.tag > 0 {
		n++
	}
	return n
}

// Terminated reports whether the list currently ends with a terminator.
func (l *List) Terminated() bool { return l.terminated }

// Write appends one register write.
func (l *List) Write(reg uint8, v uint32) {
	if l.terminated {
		l.resume()
	}
	if l.overflow {
		l.stats.Dropped++
		return
	}
	e := &l.blocks[l.cur].entries[l.pos]
	if l.tag == 0 {
		*e = EmptyEntry()
	}
	e.SetSlot(l.tag, reg, v)
	l.tag++
	if l.tag == Slots {
		l.tag = 0
		l.advance()
	}
}

// WriteBatch appends writes without inspection, four per entry, filling a
// partial leading entry first and leaving a partial trailing entry open.
func (l *List) WriteBatch(ws []Write) {
	if len(ws) == 0 {
		return
	}
	if l.terminated {
		l.resume()
	}
	i := 0
	for l.tag != 0 && i < len(ws) {
		l.Write(ws[i].Reg, ws[i].Value)
		i++
	}
	for len(ws)-i >= Slots && !l.overflow {
		w := ws[i : i+Slots]
		l.blocks[l.cur].entries[l.pos] = Entry{
			Addr:  uint32(w[0].Reg) | uint32(w[1].Reg)<<8 | uint32(w[2].Reg)<<16 | uint32(w[3].Reg)<<24,
			Value: [Slots]uint32{w[0].Value, w[1].Value, w[2].Value, w[3].Value},
		}
		i += Slots
		l.advance()
	}
	if l.overflow {
		l.stats.Dropped += len(ws) - i
		return
	}
	for ; i < len(ws); i++ {
		l.Write(ws[i].Reg, ws[i].Value)
	}
}

// advance moves to the next entry, growing the list when the block's
// data entries are exhausted.
func (l *List) advance() {
	l.pos++
	if l.pos < l.blocks[l.cur].limit() {
		return
	}
	if l.low != nil {
		l.low.rollover()
		return
	}
	l.grow()
}

// grow chains a new block after the current one. On failure the list
// enters overflow: the reserved last entry stays free for the terminator.
func (l *List) grow() {
	b := l.blocks[l.cur]
	var next *block
	if l.cur+1 < len(l.blocks) {
		next = l.blocks[l.cur+1]
	} else {
		nb, err := l.allocBlock(l.cfg.StepEntries, false)
		if err != nil {
			l.fail(err)
			return
		}
		l.blocks = append(l.blocks, nb)
		l.stats.Grows++
		slogger().Debug("dlist: grow",
			slog.Int("blocks", len(l.blocks)),
			slog.Int("entries", l.cfg.StepEntries))
		next = nb
	}
	b.jump = b.limit()
	b.entries[b.jump] = JumpEntry(uint32(next.readAddr()))
	b.used = b.jump + 1
	next.used = 0
	next.jump = -1
	l.cur++
	l.pos = 0
	l.tag = 0
}

func (l *List) fail(err error) {
	l.overflow = true
	if l.err == nil {
		l.err = fmt.Errorf("%w: %w", ErrNotEnoughBlocks, err)
		slogger().Warn("dlist: out of blocks, dropping further writes",
			slog.Int("blocks", len(l.blocks)),
			slog.String("cause", err.Error()))
	}
}

// Terminate pads the open entry and appends an end-of-list marker. The
// write position is kept so that a later Write resumes in place of the
// terminator.
func (l *List) Terminate(code EndCode) {
	if l.terminated {
		l.retag(code)
		return
	}
	l.resumePos, l.resumeTag = l.pos, l.tag
	b := l.blocks[l.cur]
	pos := l.pos
	if l.tag > 0 {
		b.entries[pos].Pad(l.tag)
		pos++
	}
	b.entries[pos] = EndEntry(code)
	b.used = pos + 1
	if b.jump >= b.used {
		b.jump = -1
	}
	l.pos = pos
	l.tag = 0
	l.terminated = true
}

// retag changes the end code of an already terminated list.
func (l *List) retag(code EndCode) {
	l.blocks[l.cur].entries[l.pos] = EndEntry(code)
}

func (l *List) resume() {
	l.pos, l.tag = l.resumePos, l.resumeTag
	l.terminated = false
}

// Reset rewinds the list to its first block. Retained blocks are kept for
// reuse; the sticky error is cleared.
func (l *List) Reset() {
	l.cur, l.pos, l.tag = 0, 0, 0
	l.terminated = false
	l.overflow = false
	l.err = nil
	for _, b := range l.blocks {
		b.used = 0
		b.jump = -1
	}
	if l.low != nil {
		l.low.reset()
	}
}

// shrink drops one trailing spare block once more than one spare block
// has been carried for ShrinkDelay consecutive preparations.
func (l *List) shrink() {
	if spare := len(l.blocks) - 1 - l.cur; spare <= 1 {
		l.shrinkDelay = 0
		return
	}
	l.shrinkDelay++
	if l.shrinkDelay < l.cfg.ShrinkDelay {
		return
	}
	last := l.blocks[len(l.blocks)-1]
	l.freeBlock(last)
	l.blocks[len(l.blocks)-1] = nil
	l.blocks = l.blocks[:len(l.blocks)-1]
	l.shrinkDelay = 0
	l.stats.Shrinks++
	slogger().Debug("dlist: shrink", slog.Int("blocks", len(l.blocks)))
}
