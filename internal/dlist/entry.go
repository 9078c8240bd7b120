// Package dlist builds display lists for the 2D accelerator.
//
// A display list is a chain of blocks, each a contiguous array of entries.
// One entry is five 32-bit words: an address word whose four bytes name up
// to four registers, followed by the four values written to them.
//
//	word 0: slot0 | slot1<<8 | slot2<<16 | slot3<<24
//	word 1..4: value for slot 0..3
//
// Slot bytes below 0x80 are register indices. 0x80 marks an unused slot,
// 0xFF marks the end of the list with the following slot byte holding an
// EndCode. A slot naming regs.DListStart is a jump: the list continues at
// the address held in that slot's value.
package dlist

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/d2/regs"
)

const (
	// Slots is the number of register writes one entry can hold.
	Slots = 4
	// EntryWords is the size of an entry in 32-bit words.
	EntryWords = 1 + Slots
	// EntryBytes is the size of an entry in bytes.
	EntryBytes = EntryWords * 4

	// SlotUnused marks a slot that writes nothing.
	SlotUnused = 0x80
	// SlotEnd marks the end of the list.
	SlotEnd = 0xFF
	// EmptyAddr is the address word of an entry with no writes.
	EmptyAddr uint32 = 0x80808080

	// MinBlockEntries is the smallest usable block: one data entry, one
	// padded tail and the reserved jump/terminator entry.
	MinBlockEntries = 3
)

// ErrBadBlob is returned when parsing a malformed dump.
var ErrBadBlob = errors.New("dlist: malformed display list blob")

// EndCode is the argument of an end-of-list marker.
type EndCode uint8

const (
	// EndTerminate stops the list reader.
	EndTerminate EndCode = 0
	// EndTerminateResult stops the reader and raises the list-end result.
	EndTerminateResult EndCode = 1
	// EndFlushContinue flushes and continues with the next start address.
	EndFlushContinue EndCode = 2
	// EndFlushContinueAlt is the flush-and-continue form emitted by the
	// low-local-memory streaming path.
	EndFlushContinueAlt EndCode = 4
)

func (c EndCode) String() string {
	switch c {
	case EndTerminate:
		return "terminate"
	case EndTerminateResult:
		return "terminate-result"
	case EndFlushContinue:
		return "flush-continue"
	case EndFlushContinueAlt:
		return "flush-continue-alt"
	default:
		return fmt.Sprintf("EndCode(%d)", uint8(c))
	}
}

// Continues reports whether the reader proceeds to the next start address.
func (c EndCode) Continues() bool {
	return c == EndFlushContinue || c == EndFlushContinueAlt
}

// Write is one pending register write.
type Write struct {
	Reg   uint8
	Value uint32
}

// Entry is one display-list record. Its memory layout is the wire layout.
type Entry struct {
	Addr  uint32
	Value [Slots]uint32
}

// EmptyEntry returns an entry with all slots unused.
func EmptyEntry() Entry {
	return Entry{Addr: EmptyAddr}
}

// EndEntry returns a terminator entry.
func EndEntry(code EndCode) Entry {
	return Entry{Addr: 0x80800000 | uint32(code)<<8 | SlotEnd}
}

// JumpEntry returns an entry that continues the list at target.
func JumpEntry(target uint32) Entry {
	e := EmptyEntry()
	e.SetSlot(0, regs.DListStart, target)
	return e
}

// Slot returns the register byte of slot i.
func (e Entry) Slot(i int) uint8 {
	return uint8(e.Addr >> (8 * i))
}

// SetSlot stores a register write in slot i.
func (e *Entry) SetSlot(i int, reg uint8, v uint32) {
	shift := 8 * i
	e.Addr = e.Addr&^(0xFF<<shift) | uint32(reg)<<shift
	e.Value[i] = v
}

// Pad marks slots from i on as unused.
func (e *Entry) Pad(from int) {
	for i := from; i < Slots; i++ {
		e.SetSlot(i, SlotUnused, 0)
	}
}

// IsEmpty reports whether the entry writes nothing.
func (e Entry) IsEmpty() bool {
	return e.Addr == EmptyAddr
}

// Jump returns the jump target if the entry encodes a jump.
func (e Entry) Jump() (uint32, bool) {
	for i := 0; i < Slots; i++ {
		switch e.Slot(i) {
		case regs.DListStart:
			return e.Value[i], true
		case SlotEnd:
			return 0, false
		}
	}
	return 0, false
}

// End returns the end code if the entry terminates the list.
func (e Entry) End() (EndCode, bool) {
	for i := 0; i < Slots; i++ {
		switch e.Slot(i) {
		case SlotEnd:
			if i+1 < Slots {
				return EndCode(e.Slot(i + 1)), true
			}
			return EndTerminate, true
		case regs.DListStart:
			return 0, false
		}
	}
	return 0, false
}

// Writes appends the register writes encoded before any jump or end
// marker.
func (e Entry) Writes(dst []Write) []Write {
	for i := 0; i < Slots; i++ {
		switch r := e.Slot(i); r {
		case SlotUnused:
		case SlotEnd, regs.DListStart:
			return dst
		default:
			dst = append(dst, Write{Reg: r, Value: e.Value[i]})
		}
	}
	return dst
}

// Pack stores the entry into five words.
func (e Entry) Pack(dst []uint32) {
	_ = dst[EntryWords-1]
	dst[0] = e.Addr
	copy(dst[1:EntryWords], e.Value[:])
}

// Unpack reads an entry from five words.
func Unpack(src []uint32) Entry {
	_ = src[EntryWords-1]
	var e Entry
	e.Addr = src[0]
	copy(e.Value[:], src[1:EntryWords])
	return e
}

// AppendBytes appends the little-endian wire form of e.
func (e Entry) AppendBytes(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, e.Addr)
	for _, v := range e.Value {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

// Bytes serializes entries into a flat little-endian blob.
func Bytes(entries []Entry) []byte {
	b := make([]byte, 0, len(entries)*EntryBytes)
	for _, e := range entries {
		b = e.AppendBytes(b)
	}
	return b
}

// ParseBlob decodes a blob produced by Bytes.
func ParseBlob(b []byte) ([]Entry, error) {
	if len(b)%EntryBytes != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrBadBlob, len(b), EntryBytes)
	}
	entries := make([]Entry, len(b)/EntryBytes)
	for i := range entries {
		p := b[i*EntryBytes:]
		entries[i].Addr = binary.LittleEndian.Uint32(p)
		for s := 0; s < Slots; s++ {
			entries[i].Value[s] = binary.LittleEndian.Uint32(p[4+4*s:])
		}
	}
	return entries, nil
}
