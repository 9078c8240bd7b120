// Package regs defines the register map of the 2D accelerator.
//
// Register indices occupy the low seven bits of a display-list slot. The
// values 0x80 (unused slot) and 0xFF (end of list) are reserved by the
// display-list encoding and never name a register.
package regs

import "fmt"

// Count is the number of addressable registers.
const Count = 0x80

// Register indices.
const (
	Control  uint8 = 0x00 // primitive control word, see Control* bits
	Control2 uint8 = 0x01 // texture and blend control
	Control3 uint8 = 0x02 // cache control
	Status   uint8 = 0x03 // read only, see Status* bits
	IRQCtl   uint8 = 0x04 // interrupt enable/clear
	Start    uint8 = 0x05 // write starts the configured primitive
	Size     uint8 = 0x06 // primitive bounding box width (low 16) / height (high 16)
	Origin   uint8 = 0x07 // primitive bounding box x (low 16) / y (high 16)

	L1Start uint8 = 0x10 // edge function starts and increments
	L1XAdd  uint8 = 0x11
	L1YAdd  uint8 = 0x12
	L2Start uint8 = 0x13
	L2XAdd  uint8 = 0x14
	L2YAdd  uint8 = 0x15
	L3Start uint8 = 0x16
	L3XAdd  uint8 = 0x17
	L3YAdd  uint8 = 0x18
	L4Start uint8 = 0x19
	L4XAdd  uint8 = 0x1A
	L4YAdd  uint8 = 0x1B

	Color1       uint8 = 0x20
	Color2       uint8 = 0x21
	Alpha        uint8 = 0x22 // alpha1 (bits 0-7), alpha2 (bits 8-15)
	Blend        uint8 = 0x23 // color blend factors
	AlphaBlend   uint8 = 0x24 // alpha channel blend factors and flags
	Pattern      uint8 = 0x25
	PatternCtl   uint8 = 0x26 // pattern length and mode
	TexMode      uint8 = 0x27 // wrap, filter, per-channel ops
	ColorKey     uint8 = 0x28
	LineStyle    uint8 = 0x29 // cap, join, miter limit
	CircleExtend uint8 = 0x2A
	ClipMin      uint8 = 0x2B // x (low 16) / y (high 16), whole pixels
	ClipMax      uint8 = 0x2C
	BandWidth    uint8 = 0x2D // outline band width, 26.6 fixed point

	FrameAddr   uint8 = 0x30
	FramePitch  uint8 = 0x31
	DListStart  uint8 = 0x32 // reserved: encodes a jump inside a display list
	FrameSize   uint8 = 0x33
	FrameFormat uint8 = 0x34

	Gradient0 uint8 = 0x40 // four registers per gradient: start, xadd, yadd, ctl
	Gradient1 uint8 = 0x44
	Gradient2 uint8 = 0x48
	Gradient3 uint8 = 0x4C
)

// Status register bits.
const (
	StatusBusy     uint32 = 1 << 0 // list reader or render unit active
	StatusDListEnd uint32 = 1 << 1 // last list terminated with a result
	StatusIRQ      uint32 = 1 << 2 // pending interrupt
)

// IRQCtl bits.
const (
	IRQEnableDListEnd uint32 = 1 << 0
	IRQClear          uint32 = 1 << 8
)

// Control bits.
const (
	ControlLim1     uint32 = 1 << 0
	ControlLim2     uint32 = 1 << 1
	ControlLim3     uint32 = 1 << 2
	ControlLim4     uint32 = 1 << 3
	ControlBand     uint32 = 1 << 4 // outline: render the band between two limit sets
	ControlPattern  uint32 = 1 << 5
	ControlTexture  uint32 = 1 << 6
	ControlColorKey uint32 = 1 << 7
	ControlGradient uint32 = 1 << 8 // gradient count in bits 8-10
)

// Control3 bits.
const (
	Control3FramebufferCache uint32 = 1 << 0
	Control3TextureCache     uint32 = 1 << 1
	Control3BurstLimit       uint32 = 1 << 2
)

// GradientReg returns the first register of gradient i (0..3).
func GradientReg(i int) uint8 {
	return Gradient0 + uint8(i)*4
}

// cacheable lists registers whose last written value may be shadowed.
// Registers with side effects on write are excluded.
var cacheable = func() [Count]bool {
	var t [Count]bool
	for _, r := range []uint8{
		Control, Control2, Control3, Size, Origin,
		L1Start, L1XAdd, L1YAdd, L2Start, L2XAdd, L2YAdd,
		L3Start, L3XAdd, L3YAdd, L4Start, L4XAdd, L4YAdd,
		Color1, Color2, Alpha, Blend, AlphaBlend, Pattern, PatternCtl,
		TexMode, ColorKey, LineStyle, CircleExtend, ClipMin, ClipMax, BandWidth,
		FrameAddr, FramePitch, FrameSize, FrameFormat,
	} {
		t[r] = true
	}
	for g := 0; g < 4; g++ {
		for k := uint8(0); k < 4; k++ {
			t[GradientReg(g)+k] = true
		}
	}
	return t
}()

// Cacheable reports whether writes to idx may be elided when the value is
// unchanged.
func Cacheable(idx uint8) bool {
	return idx < Count && cacheable[idx]
}

// CacheTable returns a copy of the eligibility table.
func CacheTable() [Count]bool {
	return cacheable
}

var names = map[uint8]string{
	Control: "CONTROL", Control2: "CONTROL2", Control3: "CONTROL3",
	Status: "STATUS", IRQCtl: "IRQCTL", Start: "START",
	Size: "SIZE", Origin: "ORIGIN",
	L1Start: "L1START", L1XAdd: "L1XADD", L1YAdd: "L1YADD",
	L2Start: "L2START", L2XAdd: "L2XADD", L2YAdd: "L2YADD",
	L3Start: "L3START", L3XAdd: "L3XADD", L3YAdd: "L3YADD",
	L4Start: "L4START", L4XAdd: "L4XADD", L4YAdd: "L4YADD",
	Color1: "COLOR1", Color2: "COLOR2", Alpha: "ALPHA",
	Blend: "BLEND", AlphaBlend: "ALPHABLEND",
	Pattern: "PATTERN", PatternCtl: "PATTERNCTL",
	TexMode: "TEXMODE", ColorKey: "COLORKEY", LineStyle: "LINESTYLE",
	CircleExtend: "CIRCLEEXTEND", ClipMin: "CLIPMIN", ClipMax: "CLIPMAX",
	BandWidth: "BANDWIDTH",
	FrameAddr: "FRAMEADDR", FramePitch: "FRAMEPITCH", DListStart: "DLISTSTART",
	FrameSize: "FRAMESIZE", FrameFormat: "FRAMEFORMAT",
}

// Name returns a mnemonic for a register index.
func Name(idx uint8) string {
	if n, ok := names[idx]; ok {
		return n
	}
	if idx >= Gradient0 && idx < Gradient3+4 {
		g := (idx - Gradient0) / 4
		return fmt.Sprintf("GRAD%d.%d", g, (idx-Gradient0)%4)
	}
	return fmt.Sprintf("REG%02X", idx)
}
