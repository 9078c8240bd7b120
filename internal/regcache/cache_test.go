package regcache

import (
	"testing"

	"github.com/gogpu/d2/regs"
)

func TestCheck(t *testing.T) {
	c := New()
	steps := []struct {
		reg  uint8
		v    uint32
		emit bool
	}{
		{regs.Color1, 1, true},
		{regs.Color1, 1, false},
		{regs.Color1, 2, true},
		{regs.Color2, 2, true},
		{regs.Color1, 2, false},
		{regs.Start, 0, true},
		{regs.Start, 0, true}, // side effect on write
		{regs.DListStart, 5, true},
		{regs.DListStart, 5, true},
	}
	for i, s := range steps {
		if got := c.Check(s.reg, s.v); got != s.emit {
			t.Errorf("step %d: Check(%s, %d) = %v, want %v", i, regs.Name(s.reg), s.v, got, s.emit)
		}
	}
	if hits, misses := c.Stats(); hits != 2 || misses != 3 {
		t.Errorf("Stats() = %d, %d", hits, misses)
	}
}

func TestInvalidate(t *testing.T) {
	c := New()
	c.Check(regs.Alpha, 128)
	c.Check(regs.Blend, 3)
	c.InvalidateRegister(regs.Alpha)
	if !c.Check(regs.Alpha, 128) {
		t.Error("write after InvalidateRegister elided")
	}
	if c.Check(regs.Blend, 3) {
		t.Error("unrelated register lost")
	}
	c.Invalidate()
	if _, ok := c.Value(regs.Blend); ok {
		t.Error("Value valid after Invalidate")
	}
	if !c.Check(regs.Blend, 3) {
		t.Error("write after Invalidate elided")
	}
}

func TestDisabled(t *testing.T) {
	c := New()
	c.Check(regs.Color1, 7)
	c.SetEnabled(false)
	for i := 0; i < 3; i++ {
		if !c.Check(regs.Color1, 7) {
			t.Fatal("disabled cache elided a write")
		}
	}
	c.SetEnabled(true)
	if !c.Check(regs.Color1, 7) {
		t.Error("re-enabled cache trusted a stale value")
	}
	if v, ok := c.Value(regs.Color1); !ok || v != 7 {
		t.Errorf("Value = %d, %v", v, ok)
	}
}
