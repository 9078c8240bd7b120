package dlist

import (
	"errors"
	"fmt"

	"honnef.co/go/safeish"

	"github.com/gogpu/d2/hw"
	"github.com/gogpu/d2/regs"
)

var (
	// ErrUnterminated is returned when a list runs past its storage without
	// reaching an end-of-list marker.
	ErrUnterminated = errors.New("dlist: list is not terminated")
	// ErrJumpLimit is returned when a list follows more jumps than
	// MaxJumps, which only happens for cyclic chains.
	ErrJumpLimit = errors.New("dlist: too many jumps")
	// ErrNoResolver is returned when a list jumps but no resolver is given.
	ErrNoResolver = errors.New("dlist: jump without resolver")
)

// MaxJumps bounds the number of jumps Run follows.
const MaxJumps = 1 << 16

// RegisterWriter receives the writes of an interpreted list.
type RegisterWriter interface {
	WriteRegister(idx uint8, v uint32)
}

// Resolver returns the entries stored at a jump target.
type Resolver func(target hw.Addr) ([]Entry, error)

// View reinterprets raw words as entries. Trailing words that do not fill
// an entry are ignored.
func View(words []uint32) []Entry {
	n := len(words) / EntryWords * EntryWords
	return safeish.SliceCast[[]Entry](words[:n:n])
}

// PortResolver resolves jump targets through port video memory views.
func PortResolver(port hw.Port) Resolver {
	return func(target hw.Addr) ([]Entry, error) {
		w, err := port.MapFromVideoMemory(target)
		if err != nil {
			return nil, err
		}
		return View(w), nil
	}
}

// Result summarizes one interpreted list.
type Result struct {
	End     EndCode
	Entries int
	Writes  int
	Jumps   int
}

// Run interprets entries, issuing every encoded write to w in order. It
// follows jumps through resolve and stops at the end-of-list marker.
func Run(entries []Entry, w RegisterWriter, resolve Resolver) (Result, error) {
	return walk(entries, resolve, func(e Entry) {
		for s := 0; s < Slots; s++ {
			switch r := e.Slot(s); r {
			case SlotUnused:
			case SlotEnd, regs.DListStart:
				return
			default:
				w.WriteRegister(r, e.Value[s])
			}
		}
	})
}

// walk visits entries in reading order. visit sees every non-empty entry,
// including the one holding the jump or end marker.
func walk(entries []Entry, resolve Resolver, visit func(Entry)) (Result, error) {
	var res Result
	for i := 0; ; i++ {
		if i >= len(entries) {
			return res, fmt.Errorf("%w: after %d entries", ErrUnterminated, res.Entries)
		}
		e := entries[i]
		res.Entries++
		if e.IsEmpty() {
			continue
		}
		visit(e)
	slots:
		for s := 0; s < Slots; s++ {
			switch r := e.Slot(s); r {
			case SlotUnused:
			case SlotEnd:
				res.End = EndTerminate
				if s+1 < Slots {
					res.End = EndCode(e.Slot(s + 1))
				}
				return res, nil
			case regs.DListStart:
				if resolve == nil {
					return res, ErrNoResolver
				}
				res.Jumps++
				if res.Jumps > MaxJumps {
					return res, ErrJumpLimit
				}
				next, err := resolve(hw.Addr(e.Value[s]))
				if err != nil {
					return res, fmt.Errorf("dlist: jump to %#x: %w", e.Value[s], err)
				}
				entries, i = next, -1
				break slots
			default:
				res.Writes++
			}
		}
	}
}

// Execute interprets the terminated list in software, writing each
// register through w.
func (l *List) Execute(w RegisterWriter) (Result, error) {
	if !l.terminated {
		return Result{}, ErrUnterminated
	}
	if l.low != nil {
		port := l.pool.Port()
		start, err := l.low.sliceAddr(0)
		if err != nil {
			return Result{}, err
		}
		first, err := PortResolver(port)(start)
		if err != nil {
			return Result{}, err
		}
		return Run(first, w, PortResolver(port))
	}
	return Run(l.blocks[0].entries, w, l.chainResolver())
}

// chainResolver resolves jumps to the next block of the chain. Jump
// targets are ignored so that lists held in plain heap memory work too.
func (l *List) chainResolver() Resolver {
	next := 0
	return func(hw.Addr) ([]Entry, error) {
		next++
		if next > l.cur {
			return nil, fmt.Errorf("%w: jump past block %d", ErrUnterminated, l.cur)
		}
		return l.blocks[next].entries, nil
	}
}
