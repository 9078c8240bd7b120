package dlist

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/d2/hw"
)

// PrepareRead terminates the list with code and makes it readable by the
// accelerator. It returns the address the list reader starts at.
//
// Depending on the port architecture the blocks are copied into companion
// video memory (separated), written back from the CPU cache (mapped or
// unified cached memory) or left alone (uncached, full UMA). In
// low-local-memory mode the last local block is streamed into its slice.
//
// Allocation failures while preparing cut the list short at the last block
// that could be placed. The result is still a terminated list and the
// sticky error is set.
func (l *List) PrepareRead(code EndCode) (hw.Addr, error) {
	l.stats.Prepares++
	l.Terminate(code)
	if l.low != nil {
		return l.low.finish()
	}
	l.shrink()

	port := l.pool.Port()
	if port == nil {
		return 0, nil
	}
	arch := port.Architecture()
	switch {
	case arch&hw.ArchSeparated != 0:
		return l.upload(port, code)
	case arch&(hw.ArchUncached|hw.ArchFullUMA|hw.ArchFullMapped) != 0:
		return l.blocks[0].addr, nil
	default:
		for i := 0; i <= l.cur; i++ {
			b := l.blocks[i]
			port.CacheFlush(hw.MemDList, b.addr, b.used*EntryBytes)
			l.stats.Flushes++
		}
		return l.blocks[0].addr, nil
	}
}

// upload copies the used blocks into companion video memory, patching the
// jumps with companion addresses.
func (l *List) upload(port hw.Port, code EndCode) (hw.Addr, error) {
	for i := 0; i <= l.cur; i++ {
		b := l.blocks[i]
		if b.companion != 0 {
			continue
		}
		words := len(b.entries) * EntryWords
		addr, err := l.pool.Video(hw.MemDList, words)
		if err != nil {
			if i == 0 {
				l.fail(err)
				return 0, l.err
			}
			l.cut(i-1, code)
			l.fail(err)
			break
		}
		b.companion, b.compWords = addr, words
	}
	for i := 0; i < l.cur; i++ {
		b := l.blocks[i]
		b.entries[b.jump].Value[0] = uint32(l.blocks[i+1].companion)
	}
	for i := 0; i <= l.cur; i++ {
		b := l.blocks[i]
		if err := port.CopyToVideoMemory(b.companion, b.words(b.used), true); err != nil {
			return 0, fmt.Errorf("dlist: upload block %d: %w", i, err)
		}
		l.stats.Copies++
	}
	slogger().Debug("dlist: uploaded",
		slog.Int("blocks", l.cur+1),
		slog.Any("start", l.blocks[0].companion))
	return l.blocks[0].companion, nil
}

// cut ends the list in block i, replacing its jump with a terminator.
// Writes past the cut are dropped until the next Reset.
func (l *List) cut(i int, code EndCode) {
	b := l.blocks[i]
	b.entries[b.limit()] = EndEntry(code)
	b.used = b.limit() + 1
	b.jump = -1
	l.cur = i
	l.pos = b.limit()
	l.tag = 0
	l.resumePos, l.resumeTag = l.pos, 0
	l.terminated = true
	l.overflow = true
}
