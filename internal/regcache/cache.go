// Package regcache shadows the last value written to each accelerator
// register so that redundant writes can be dropped before they reach a
// display list.
package regcache

import "github.com/gogpu/d2/regs"

// Cache is a per-device register shadow. The zero value is not usable;
// create one with New.
type Cache struct {
	value    [regs.Count]uint32
	valid    [regs.Count]bool
	eligible [regs.Count]bool
	enabled  bool

	hits, misses int
}

// New creates an enabled, empty cache using the register eligibility
// table.
func New() *Cache {
	return &Cache{eligible: regs.CacheTable(), enabled: true}
}

// Check reports whether a write of v to idx must be emitted, recording v
// as the register's current value. Writes to ineligible registers are
// always emitted.
func (c *Cache) Check(idx uint8, v uint32) bool {
	if !c.enabled || int(idx) >= len(c.eligible) || !c.eligible[idx] {
		return true
	}
	if c.valid[idx] && c.value[idx] == v {
		c.hits++
		return false
	}
	c.value[idx] = v
	c.valid[idx] = true
	c.misses++
	return true
}

// Invalidate forgets every shadowed value.
func (c *Cache) Invalidate() {
	c.valid = [regs.Count]bool{}
}

// InvalidateRegister forgets the shadowed value of one register.
func (c *Cache) InvalidateRegister(idx uint8) {
	if int(idx) < len(c.valid) {
		c.valid[idx] = false
	}
}

// Value returns the shadowed value of idx.
func (c *Cache) Value(idx uint8) (uint32, bool) {
	if int(idx) >= len(c.valid) || !c.valid[idx] {
		return 0, false
	}
	return c.value[idx], true
}

// SetEnabled turns elision on or off. Disabling invalidates.
func (c *Cache) SetEnabled(on bool) {
	if !on {
		c.Invalidate()
	}
	c.enabled = on
}

// Enabled reports whether elision is active.
func (c *Cache) Enabled() bool { return c.enabled }

// Stats returns the number of elided and emitted eligible writes.
func (c *Cache) Stats() (hits, misses int) { return c.hits, c.misses }
