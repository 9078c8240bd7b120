package d2

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/d2/regs"
)

// emitMaterial queues the registers of c. A context other than the one
// emitted last is written in full; otherwise only its dirty groups are.
// The register cache drops values the accelerator already holds.
func (d *Device) emitMaterial(c *Context) {
	dirty := c.dirty
	if c != d.lastEmitted {
		dirty = DirtyAll
	}
	put := d.scratch.Append

	if dirty&(DirtyColor|DirtyAlpha|DirtyBlend) != 0 {
		put(regs.Color1, c.colorWord(0))
		put(regs.Color2, c.colorWord(1))
	}
	if dirty&DirtyAlpha != 0 {
		put(regs.Alpha, uint32(c.alpha[0])|uint32(c.alpha[1])<<8)
	}
	if dirty&DirtyBlend != 0 {
		src, _ := regs.BlendCode(c.blendSrc)
		dst, _ := regs.BlendCode(c.blendDst)
		put(regs.Blend, regs.BlendWord(src, dst))
		put(regs.AlphaBlend, c.alphaBlendWord(d.alphaUnit))
	}
	if dirty&DirtyPattern != 0 {
		put(regs.Pattern, c.pattern)
		put(regs.PatternCtl, uint32(c.patternLen-1)|uint32(c.patternMod)<<8)
	}
	if dirty&DirtyTexture != 0 {
		u, _ := regs.WrapCode(c.wrapU)
		v, _ := regs.WrapCode(c.wrapV)
		f, _ := regs.FilterCode(c.filter)
		var ops [4]uint8
		for i, op := range c.texOps {
			ops[i] = uint8(op)
		}
		put(regs.TexMode, regs.TexModeWord(u, v, f, ops))
	}
	if dirty&DirtyLine != 0 {
		put(regs.LineStyle, uint32(c.lineCap)|uint32(c.lineJoin)<<2|uint32(c.miterLimit.Round())<<8)
	}
	if dirty&DirtyGradient != 0 {
		for i := 0; i < c.gradCount; i++ {
			g := c.gradients[i]
			r := regs.GradientReg(i)
			var ctl uint32
			if g.Mirror {
				ctl = 1
			}
			put(r, uint32(g.Start))
			put(r+1, uint32(g.XAdd))
			put(r+2, uint32(g.YAdd))
			put(r+3, ctl)
		}
	}
	if dirty&DirtyCircle != 0 {
		put(regs.CircleExtend, uint32(c.circleExtend))
	}
	if dirty&DirtyColorKey != 0 {
		put(regs.ColorKey, c.colorKey)
	}

	c.dirty = 0
	d.lastEmitted = c
}

// colorWord is the value of color register i. Premultiplied colors are
// used when the blend source factor is One.
func (c *Context) colorWord(i int) uint32 {
	if c.blendSrc == gputypes.BlendFactorOne {
		return c.PremultipliedColor(i)
	}
	return c.color[i]
}

// alphaBlendWord encodes the alpha-channel blend setup for the hardware
// tier.
func (c *Context) alphaBlendWord(alphaUnit bool) uint32 {
	if !alphaUnit {
		policy, ok := legacyAlphaPolicy(c.abSrc, c.abDst)
		if !ok {
			policy = regs.AlphaBlendWriteSrc
		}
		return regs.AlphaBlendWord(0, 0, policy)
	}
	src, _ := regs.BlendCode(c.abSrc)
	dst, _ := regs.BlendCode(c.abDst)
	var flags uint32
	if c.abFlags&AlphaDstSource != 0 {
		flags |= regs.AlphaBlendDstSource
	}
	return regs.AlphaBlendWord(src, dst, flags)
}

// controlBits returns the CONTROL bits selected by the context.
func (c *Context) controlBits() uint32 {
	var ctl uint32
	if c.features&UsePattern != 0 {
		ctl |= regs.ControlPattern
	}
	if c.features&UseTexture != 0 {
		ctl |= regs.ControlTexture
	}
	if c.features&UseColorKey != 0 {
		ctl |= regs.ControlColorKey
	}
	return ctl | uint32(c.gradCount)*regs.ControlGradient
}
