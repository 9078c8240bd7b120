package d2

import (
	"fmt"

	"github.com/gogpu/d2/internal/dlist"
)

// RegisterWriter receives the register writes of a replayed list.
// hw.Port satisfies it.
type RegisterWriter interface {
	WriteRegister(idx uint8, v uint32)
}

// Replay interprets a blob produced by Dump, issuing its writes to w in
// order. It returns the number of writes issued.
func Replay(blob []byte, w RegisterWriter) (int, error) {
	entries, err := dlist.ParseBlob(blob)
	if err != nil {
		return 0, err
	}
	res, err := dlist.Run(entries, w, nil)
	if err != nil {
		return res.Writes, fmt.Errorf("d2: replay: %w", err)
	}
	return res.Writes, nil
}

// DumpEntry is one decoded write of a dumped display list.
type DumpEntry struct {
	Entry int
	Slot  int
	Reg   uint8
	Value uint32
}

// Decode splits a blob produced by Dump into its writes and end code.
func Decode(blob []byte) (writes []DumpEntry, end uint8, err error) {
	entries, err := dlist.ParseBlob(blob)
	if err != nil {
		return nil, 0, err
	}
	for i, e := range entries {
		if code, ok := e.End(); ok {
			for s, w := range e.Writes(nil) {
				writes = append(writes, DumpEntry{Entry: i, Slot: s, Reg: w.Reg, Value: w.Value})
			}
			return writes, uint8(code), nil
		}
		for s := 0; s < dlist.Slots; s++ {
			r := e.Slot(s)
			if r == dlist.SlotUnused {
				continue
			}
			writes = append(writes, DumpEntry{Entry: i, Slot: s, Reg: r, Value: e.Value[s]})
		}
	}
	return writes, 0, fmt.Errorf("d2: decode: %w", dlist.ErrUnterminated)
}
