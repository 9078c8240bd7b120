package dlist

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/d2/hw"
)

// ErrBadLowLocalMem is returned for an invalid low-local-memory setup.
var ErrBadLowLocalMem = errors.New("dlist: invalid low-local-memory configuration")

// LowLocalMem configures low-local-memory mode.
//
// Two small local blocks of InitialEntries/Factor entries form a ring.
// Every time a local block fills up its content is streamed into the next
// slice of a video memory block. A video memory block holds SlicesPerBlock
// slices; at most MaxBlocks video blocks are allocated per list.
type LowLocalMem struct {
	Factor         int
	SlicesPerBlock int
	MaxBlocks      int
}

func (c LowLocalMem) validate() error {
	if c.Factor < 1 || c.SlicesPerBlock < 1 || c.MaxBlocks < 1 {
		return fmt.Errorf("%w: factor=%d slices=%d blocks=%d",
			ErrBadLowLocalMem, c.Factor, c.SlicesPerBlock, c.MaxBlocks)
	}
	return nil
}

type lowLocal struct {
	l   *List
	cfg LowLocalMem

	sliceEntries int
	vblocks      []hw.Addr

	slice    int // slice receiving the current local block
	written  int // data entries streamed this cycle
	copies   int
	inflight bool
}

func newLowLocal(l *List, cfg LowLocalMem) (*lowLocal, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if l.pool.Port() == nil {
		return nil, fmt.Errorf("%w: no video memory", ErrBadLowLocalMem)
	}
	entries := l.cfg.InitialEntries / cfg.Factor
	if entries < MinBlockEntries {
		entries = MinBlockEntries
	}
	lo := &lowLocal{l: l, cfg: cfg, sliceEntries: entries}
	for i := 0; i < 2; i++ {
		b, err := l.allocBlock(entries, true)
		if err != nil {
			l.Free()
			return nil, err
		}
		l.blocks = append(l.blocks, b)
	}
	return lo, nil
}

// sliceAddr returns the address of slice i, allocating video blocks as
// needed.
func (lo *lowLocal) sliceAddr(i int) (hw.Addr, error) {
	blk, off := i/lo.cfg.SlicesPerBlock, i%lo.cfg.SlicesPerBlock
	for len(lo.vblocks) <= blk {
		if len(lo.vblocks) >= lo.cfg.MaxBlocks {
			return 0, fmt.Errorf("slice %d needs video block %d of %d", i, blk+1, lo.cfg.MaxBlocks)
		}
		addr, err := lo.l.pool.Video(hw.MemDList, lo.cfg.SlicesPerBlock*lo.sliceEntries*EntryWords)
		if err != nil {
			return 0, err
		}
		lo.vblocks = append(lo.vblocks, addr)
		slogger().Debug("dlist: video block",
			slog.Int("index", len(lo.vblocks)-1),
			slog.Any("addr", addr))
	}
	return lo.vblocks[blk] + hw.Addr(off*lo.sliceEntries*EntryBytes), nil
}

// stream copies the first n entries of b into the slice at dst.
func (lo *lowLocal) stream(b *block, n int, dst hw.Addr, async bool) error {
	port := lo.l.pool.Port()
	if err := port.CopyToVideoMemory(dst, b.words(n), async); err != nil {
		return err
	}
	lo.copies++
	lo.inflight = async
	return nil
}

// rollover chains the full local block to the next slice, streams it out
// and continues in the other local block.
func (lo *lowLocal) rollover() {
	l := lo.l
	b := l.blocks[l.cur]
	dst, err := lo.sliceAddr(lo.slice)
	if err != nil {
		l.fail(err)
		return
	}
	next, err := lo.sliceAddr(lo.slice + 1)
	if err != nil {
		l.fail(err)
		return
	}
	b.jump = b.limit()
	b.entries[b.jump] = JumpEntry(uint32(next))
	b.used = b.jump + 1
	if err := lo.stream(b, b.used, dst, true); err != nil {
		l.fail(err)
		return
	}
	lo.written += b.limit()
	lo.slice++
	l.cur ^= 1
	l.pos, l.tag = 0, 0
	other := l.blocks[l.cur]
	other.used, other.jump = 0, -1
}

// finish streams the terminated local block and returns the list start.
func (lo *lowLocal) finish() (hw.Addr, error) {
	l := lo.l
	b := l.blocks[l.cur]
	dst, err := lo.sliceAddr(lo.slice)
	if err != nil {
		l.fail(err)
		return 0, l.err
	}
	if err := lo.stream(b, b.used, dst, false); err != nil {
		return 0, err
	}
	return lo.sliceAddr(0)
}

// sync completes outstanding asynchronous copies.
func (lo *lowLocal) sync() error {
	if !lo.inflight || len(lo.vblocks) == 0 {
		return nil
	}
	lo.inflight = false
	return lo.l.pool.Port().CopyToVideoMemory(lo.vblocks[0], nil, false)
}

func (lo *lowLocal) reset() {
	lo.slice = 0
	lo.written = 0
}

func (lo *lowLocal) free() {
	for _, a := range lo.vblocks {
		lo.l.pool.FreeVideo(a, lo.cfg.SlicesPerBlock*lo.sliceEntries*EntryWords)
	}
	lo.vblocks = nil
}

// LowLocalStats reports streaming state.
type LowLocalStats struct {
	LocalBlocks  int
	VideoBlocks  int
	SliceEntries int
	Slice        int
	Copies       int
}

// LowLocalStats returns streaming state; ok is false outside
// low-local-memory mode.
func (l *List) LowLocalStats() (s LowLocalStats, ok bool) {
	if l.low == nil {
		return s, false
	}
	return LowLocalStats{
		LocalBlocks:  len(l.blocks),
		VideoBlocks:  len(l.low.vblocks),
		SliceEntries: l.low.sliceEntries,
		Slice:        l.low.slice,
		Copies:       l.low.copies,
	}, true
}

// Finalize completes any in-flight streaming copies.
func (l *List) Finalize() error {
	if l.low == nil {
		return nil
	}
	return l.low.sync()
}
