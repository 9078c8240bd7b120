package dlist_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/d2/hw"
	"github.com/gogpu/d2/hw/sim"
	"github.com/gogpu/d2/internal/dlist"
	"github.com/gogpu/d2/internal/mem"
	"github.com/gogpu/d2/regs"
)

type recorder struct {
	writes []dlist.Write
}

func (r *recorder) WriteRegister(idx uint8, v uint32) {
	r.writes = append(r.writes, dlist.Write{Reg: idx, Value: v})
}

var cycle = []uint8{regs.Color1, regs.Color2, regs.Alpha, regs.Pattern, regs.Blend}

// gen returns n writes with distinct values.
func gen(n int) []dlist.Write {
	ws := make([]dlist.Write, n)
	for i := range ws {
		ws[i] = dlist.Write{Reg: cycle[i%len(cycle)], Value: uint32(i + 1)}
	}
	return ws
}

func newList(t *testing.T, pool *mem.Pool, cfg dlist.Config) *dlist.List {
	t.Helper()
	l, err := dlist.New(pool, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(l.Free)
	return l
}

func newSim(t *testing.T, cfg sim.Config) *sim.Port {
	t.Helper()
	p := sim.New(cfg)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func execute(t *testing.T, l *dlist.List) []dlist.Write {
	t.Helper()
	var r recorder
	if _, err := l.Execute(&r); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return r.writes
}

func equalWrites(t *testing.T, got, want []dlist.Write) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d writes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("write %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestGrowth(t *testing.T) {
	l := newList(t, mem.New(nil, mem.Config{}), dlist.Config{InitialEntries: 4, StepEntries: 4})
	ws := gen(40)
	for _, w := range ws {
		l.Write(w.Reg, w.Value)
	}
	// 10 entries, 3 data entries per block.
	if got := l.Blocks(); got != 4 {
		t.Errorf("Blocks() = %d, want 4", got)
	}
	if got := l.Len(); got != 10 {
		t.Errorf("Len() = %d, want 10", got)
	}
	l.Terminate(dlist.EndTerminate)
	equalWrites(t, execute(t, l), ws)
	if l.Err() != nil {
		t.Errorf("Err() = %v", l.Err())
	}
}

func TestWriteBatchMatchesWrite(t *testing.T) {
	for _, lead := range []int{0, 1, 3} {
		for _, n := range []int{0, 4, 7, 26} {
			pool := mem.New(nil, mem.Config{})
			a := newList(t, pool, dlist.Config{InitialEntries: 5, StepEntries: 3})
			b := newList(t, pool, dlist.Config{InitialEntries: 5, StepEntries: 3})
			ws := gen(lead + n)
			for _, w := range ws {
				a.Write(w.Reg, w.Value)
			}
			for _, w := range ws[:lead] {
				b.Write(w.Reg, w.Value)
			}
			b.WriteBatch(ws[lead:])

			a.Terminate(dlist.EndTerminate)
			b.Terminate(dlist.EndTerminate)
			da, err := a.Dump(dlist.EndTerminate)
			if err != nil {
				t.Fatal(err)
			}
			db, err := b.Dump(dlist.EndTerminate)
			if err != nil {
				t.Fatal(err)
			}
			if len(da) != len(db) {
				t.Fatalf("lead=%d n=%d: dump lengths %d != %d", lead, n, len(da), len(db))
			}
			for i := range da {
				if da[i] != db[i] {
					t.Fatalf("lead=%d n=%d: entry %d differs: %+v vs %+v", lead, n, i, da[i], db[i])
				}
			}
		}
	}
}

func TestOverflowStaysTerminated(t *testing.T) {
	// Budget for exactly two 4-entry blocks.
	pool := mem.New(nil, mem.Config{BudgetBytes: 2 * 4 * dlist.EntryBytes})
	l := newList(t, pool, dlist.Config{InitialEntries: 4, StepEntries: 4})

	ws := gen(100)
	l.WriteBatch(ws[:50])
	for _, w := range ws[50:] {
		l.Write(w.Reg, w.Value)
	}
	if !errors.Is(l.Err(), dlist.ErrNotEnoughBlocks) {
		t.Fatalf("Err() = %v, want ErrNotEnoughBlocks", l.Err())
	}
	if !errors.Is(l.Err(), mem.ErrBudgetExceeded) {
		t.Errorf("Err() = %v should wrap the pool error", l.Err())
	}
	if got := l.Blocks(); got != 2 {
		t.Errorf("Blocks() = %d, want 2", got)
	}

	l.Terminate(dlist.EndTerminateResult)
	var r recorder
	res, err := l.Execute(&r)
	if err != nil {
		t.Fatalf("exhausted list must stay executable: %v", err)
	}
	if res.End != dlist.EndTerminateResult {
		t.Errorf("End = %v", res.End)
	}
	// Six data entries survive.
	equalWrites(t, r.writes, ws[:24])
	if got := l.Stats().Dropped; got != 76 {
		t.Errorf("Dropped = %d, want 76", got)
	}

	l.Reset()
	if l.Err() != nil {
		t.Error("Reset should clear the sticky error")
	}
	l.Write(regs.Color1, 9)
	l.Terminate(dlist.EndTerminate)
	equalWrites(t, execute(t, l), []dlist.Write{{Reg: regs.Color1, Value: 9}})
}

func TestMinimumBlock(t *testing.T) {
	pool := mem.New(nil, mem.Config{BudgetBytes: dlist.MinBlockEntries * dlist.EntryBytes})
	l := newList(t, pool, dlist.Config{InitialEntries: 1})
	ws := gen(9)
	l.WriteBatch(ws)
	l.Terminate(dlist.EndTerminate)
	// Two full entries fit beside the reserved entry.
	got := execute(t, l)
	if len(got) != 8 {
		t.Errorf("got %d writes, want 8", len(got))
	}
	if l.Err() == nil {
		t.Error("expected sticky error")
	}
}

func TestTerminateResume(t *testing.T) {
	l := newList(t, mem.New(nil, mem.Config{}), dlist.Config{InitialEntries: 4, StepEntries: 4})
	ws := gen(13)
	for _, w := range ws[:3] {
		l.Write(w.Reg, w.Value)
	}
	l.Terminate(dlist.EndFlushContinue)
	if !l.Terminated() {
		t.Fatal("not terminated")
	}
	equalWrites(t, execute(t, l), ws[:3])

	l.WriteBatch(ws[3:10])
	for _, w := range ws[10:] {
		l.Write(w.Reg, w.Value)
	}
	l.Terminate(dlist.EndTerminate)
	l.Terminate(dlist.EndTerminateResult)
	var r recorder
	res, err := l.Execute(&r)
	if err != nil {
		t.Fatal(err)
	}
	equalWrites(t, r.writes, ws)
	if res.End != dlist.EndTerminateResult {
		t.Errorf("End = %v, want retagged terminate-result", res.End)
	}
}

func TestShrinkConverges(t *testing.T) {
	const delay = 3
	l := newList(t, mem.New(nil, mem.Config{}), dlist.Config{InitialEntries: 4, StepEntries: 4, ShrinkDelay: delay})

	// Spike to eight blocks.
	l.WriteBatch(gen(4 * 3 * 7))
	if _, err := l.PrepareRead(dlist.EndTerminate); err != nil {
		t.Fatal(err)
	}
	peak := l.Blocks()
	if peak < 7 {
		t.Fatalf("Blocks() = %d after spike", peak)
	}

	// Steady state uses two blocks.
	const working = 2
	for round := 1; round <= delay*peak; round++ {
		l.Reset()
		l.WriteBatch(gen(4 * (3*working - 1)))
		if _, err := l.PrepareRead(dlist.EndTerminate); err != nil {
			t.Fatal(err)
		}
		if got, want := l.Blocks(), max(peak-round/delay, working+1); got != want {
			t.Fatalf("round %d: Blocks() = %d, want %d", round, got, want)
		}
	}
	// One spare block is kept beyond the working set.
	if got := l.Blocks(); got != working+1 {
		t.Errorf("Blocks() = %d, want %d±1", got, working)
	}
	if l.Stats().Shrinks == 0 {
		t.Error("no shrink recorded")
	}
}

func TestRunGuards(t *testing.T) {
	var r recorder
	loop := []dlist.Entry{dlist.JumpEntry(0x100)}
	_, err := dlist.Run(loop, &r, func(hw.Addr) ([]dlist.Entry, error) { return loop, nil })
	if !errors.Is(err, dlist.ErrJumpLimit) {
		t.Errorf("cyclic list: err = %v", err)
	}
	if _, err := dlist.Run(loop, &r, nil); !errors.Is(err, dlist.ErrNoResolver) {
		t.Errorf("no resolver: err = %v", err)
	}
	if _, err := dlist.Run([]dlist.Entry{dlist.EmptyEntry()}, &r, nil); !errors.Is(err, dlist.ErrUnterminated) {
		t.Errorf("unterminated: err = %v", err)
	}
}

func TestDumpRoundTrip(t *testing.T) {
	l := newList(t, mem.New(nil, mem.Config{}), dlist.Config{InitialEntries: 4, StepEntries: 3})
	ws := gen(31)
	l.WriteBatch(ws)
	if _, err := l.Dump(dlist.EndTerminate); !errors.Is(err, dlist.ErrUnterminated) {
		t.Errorf("Dump before terminate: err = %v", err)
	}
	l.Terminate(dlist.EndTerminate)

	d, err := l.Dump(dlist.EndTerminateResult)
	if err != nil {
		t.Fatal(err)
	}
	for i, e := range d[:len(d)-1] {
		if _, ok := e.Jump(); ok {
			t.Fatalf("entry %d is a jump", i)
		}
	}
	blob := dlist.Bytes(d)
	parsed, err := dlist.ParseBlob(blob)
	if err != nil {
		t.Fatal(err)
	}
	var r recorder
	res, err := dlist.Run(parsed, &r, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.End != dlist.EndTerminateResult {
		t.Errorf("End = %v", res.End)
	}
	equalWrites(t, r.writes, execute(t, l))
}

func waitIdle(t *testing.T, p *sim.Port) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Err(); err != nil {
		t.Fatalf("reader fault: %v", err)
	}
}

// checkRegisters compares the register file with the last value written
// to each register in ws.
func checkRegisters(t *testing.T, port *sim.Port, ws []dlist.Write) {
	t.Helper()
	r := port.Registers()
	last := map[uint8]uint32{}
	for _, w := range ws {
		last[w.Reg] = w.Value
	}
	for reg, v := range last {
		if r[reg] != v {
			t.Errorf("%s = %d, want %d", regs.Name(reg), r[reg], v)
		}
	}
}

func TestPrepareReadArchitectures(t *testing.T) {
	tests := []struct {
		name    string
		arch    hw.Arch
		copies  bool
		flushes bool
	}{
		{"separated", hw.ArchSeparated, true, false},
		{"unified", hw.ArchUnified, false, true},
		{"mapped", hw.ArchMapped, false, true},
		{"uncached", hw.ArchUnified | hw.ArchUncached, false, false},
		{"fulluma", hw.ArchFullUMA, false, false},
		{"fullmapped", hw.ArchFullMapped, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := newSim(t, sim.Config{Arch: tt.arch})
			l := newList(t, mem.New(port, mem.Config{}), dlist.Config{InitialEntries: 4, StepEntries: 4})

			ws := gen(33) // 9 entries over 3 blocks
			l.WriteBatch(ws)
			start, err := l.PrepareRead(dlist.EndTerminate)
			if err != nil {
				t.Fatal(err)
			}
			if start == 0 {
				t.Fatal("zero start address")
			}
			if err := port.StartExecution([]hw.Addr{start}, false); err != nil {
				t.Fatal(err)
			}
			waitIdle(t, port)

			checkRegisters(t, port, ws)

			s, ls := port.Stats(), l.Stats()
			if tt.copies != (s.Copies == 3) || ls.Copies != s.Copies {
				t.Errorf("copies: port %d, list %d", s.Copies, ls.Copies)
			}
			if tt.flushes != (s.Flushes == 3) {
				t.Errorf("flushes = %d", s.Flushes)
			}
		})
	}
}

func TestSeparatedCompanionExhaustion(t *testing.T) {
	// Video memory for exactly one 4-entry companion block.
	port := newSim(t, sim.Config{Arch: hw.ArchSeparated, MemoryBytes: 4 * dlist.EntryBytes})
	l := newList(t, mem.New(port, mem.Config{}), dlist.Config{InitialEntries: 4, StepEntries: 4})

	ws := gen(24)
	l.WriteBatch(ws)
	start, err := l.PrepareRead(dlist.EndTerminate)
	if err != nil {
		t.Fatalf("PrepareRead: %v", err)
	}
	if !errors.Is(l.Err(), dlist.ErrNotEnoughBlocks) {
		t.Errorf("Err() = %v", l.Err())
	}
	if err := port.StartExecution([]hw.Addr{start}, false); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, port)
	// The first block's three entries made it.
	if got := port.Registers()[regs.Color2]; got != 12 {
		t.Errorf("color2 = %d, want 12", got)
	}
	if got := port.Registers()[regs.Color1]; got != 11 {
		t.Errorf("color1 = %d, want 11", got)
	}
}

func TestLowLocalMemory(t *testing.T) {
	port := newSim(t, sim.Config{Arch: hw.ArchUnified})
	l := newList(t, mem.New(port, mem.Config{}), dlist.Config{
		InitialEntries: 32,
		LowLocalMem:    &dlist.LowLocalMem{Factor: 4, SlicesPerBlock: 2, MaxBlocks: 3},
	})
	st, ok := l.LowLocalStats()
	if !ok || st.SliceEntries != 8 || st.LocalBlocks != 2 {
		t.Fatalf("LowLocalStats() = %+v, %v", st, ok)
	}

	// Five rollovers of seven data entries, plus two entries.
	ws := gen((5*7 + 2) * 4)
	for i, w := range ws {
		l.Write(w.Reg, w.Value)
		if l.Blocks() > 2 {
			t.Fatalf("write %d: %d local blocks", i, l.Blocks())
		}
	}
	st, _ = l.LowLocalStats()
	if st.Copies != 5 || st.Slice != 5 {
		t.Errorf("after writes: %+v, want one copy per rollover", st)
	}
	if got := port.Stats().AsyncCopies; got != 5 {
		t.Errorf("async copies = %d, want 5", got)
	}
	if st.VideoBlocks != 3 {
		t.Errorf("video blocks = %d, want 3", st.VideoBlocks)
	}
	if l.Err() != nil {
		t.Fatalf("Err() = %v", l.Err())
	}

	start, err := l.PrepareRead(dlist.EndTerminate)
	if err != nil {
		t.Fatal(err)
	}
	if st, _ := l.LowLocalStats(); st.Copies != 6 {
		t.Errorf("copies after prepare = %d, want 6", st.Copies)
	}
	if err := port.StartExecution([]hw.Addr{start}, false); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, port)
	checkRegisters(t, port, ws)

	d, err := l.Dump(dlist.EndTerminate)
	if err != nil {
		t.Fatal(err)
	}
	var r recorder
	if _, err := dlist.Run(d, &r, nil); err != nil {
		t.Fatal(err)
	}
	equalWrites(t, r.writes, ws)
}

func TestLowLocalMemoryExhaustion(t *testing.T) {
	port := newSim(t, sim.Config{Arch: hw.ArchUnified})
	l := newList(t, mem.New(port, mem.Config{}), dlist.Config{
		InitialEntries: 32,
		LowLocalMem:    &dlist.LowLocalMem{Factor: 4, SlicesPerBlock: 2, MaxBlocks: 3},
	})
	ws := gen(50 * 4)
	l.WriteBatch(ws)
	if !errors.Is(l.Err(), dlist.ErrNotEnoughBlocks) {
		t.Fatalf("Err() = %v, want ErrNotEnoughBlocks", l.Err())
	}
	if l.Blocks() != 2 {
		t.Errorf("local blocks = %d", l.Blocks())
	}
	start, err := l.PrepareRead(dlist.EndTerminate)
	if err != nil {
		t.Fatal(err)
	}
	if err := port.StartExecution([]hw.Addr{start}, false); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, port)

	// Six slices of seven entries fit.
	d, err := l.Dump(dlist.EndTerminate)
	if err != nil {
		t.Fatal(err)
	}
	if len(d) != 6*7+1 {
		t.Errorf("dump has %d entries, want %d", len(d), 6*7+1)
	}
}

func TestLowLocalMemoryConfig(t *testing.T) {
	port := newSim(t, sim.Config{})
	_, err := dlist.New(mem.New(port, mem.Config{}), dlist.Config{
		InitialEntries: 32,
		LowLocalMem:    &dlist.LowLocalMem{Factor: 0, SlicesPerBlock: 2, MaxBlocks: 3},
	})
	if !errors.Is(err, dlist.ErrBadLowLocalMem) {
		t.Errorf("err = %v, want ErrBadLowLocalMem", err)
	}
	_, err = dlist.New(mem.New(nil, mem.Config{}), dlist.Config{
		LowLocalMem: &dlist.LowLocalMem{Factor: 1, SlicesPerBlock: 1, MaxBlocks: 1},
	})
	if !errors.Is(err, dlist.ErrBadLowLocalMem) {
		t.Errorf("no port: err = %v, want ErrBadLowLocalMem", err)
	}
}
