package dlist

// Dump linearizes the terminated list into one flat, relocatable run of
// entries. Jumps and empty entries are dropped and the result ends with
// an end-of-list marker carrying code.
func (l *List) Dump(code EndCode) ([]Entry, error) {
	if !l.terminated {
		return nil, ErrUnterminated
	}
	first, resolve := l.blocks[0].entries, l.chainResolver()
	if l.low != nil {
		if err := l.low.sync(); err != nil {
			return nil, err
		}
		port := l.pool.Port()
		start, err := l.low.sliceAddr(0)
		if err != nil {
			return nil, err
		}
		resolve = PortResolver(port)
		if first, err = resolve(start); err != nil {
			return nil, err
		}
	}

	out := make([]Entry, 0, l.Len()+1)
	var ws []Write
	_, err := walk(first, resolve, func(e Entry) {
		if _, ok := e.Jump(); !ok {
			if _, ok := e.End(); !ok {
				out = append(out, e)
				return
			}
		}
		// Control entries may carry writes ahead of the marker.
		ws = e.Writes(ws[:0])
		if len(ws) == 0 {
			return
		}
		ne := EmptyEntry()
		for i, w := range ws {
			ne.SetSlot(i, w.Reg, w.Value)
		}
		out = append(out, ne)
	})
	if err != nil {
		return nil, err
	}
	return append(out, EndEntry(code)), nil
}
