package d2

import (
	"fmt"
	"slices"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/d2/regs"
)

// Role names the context a primitive pass takes its material from.
type Role uint8

const (
	// RoleSelected is the context external primitive producers use.
	RoleSelected Role = iota
	// RoleSolid is the context of solid fills.
	RoleSolid
	// RoleOutline is the context of outlines and shadows.
	RoleOutline
)

func (r Role) String() string {
	switch r {
	case RoleSelected:
		return "selected"
	case RoleSolid:
		return "solid"
	case RoleOutline:
		return "outline"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// CreateContext adds a context with default attributes to the head of the
// device's context chain.
func (d *Device) CreateContext() (*Context, error) {
	if err := d.check(); err != nil {
		return nil, d.record(err)
	}
	c := newContext(d)
	d.contexts = slices.Insert(d.contexts, 0, c)
	return c, d.record(nil)
}

// FreeContext removes c from the chain. Roles referring to c fall back to
// the default context.
func (d *Device) FreeContext(c *Context) error {
	if err := d.check(); err != nil {
		return d.record(err)
	}
	if c != nil && c == d.def {
		return d.record(ErrDefaultContext)
	}
	if err := d.checkContext(c); err != nil {
		return d.record(err)
	}
	if i := slices.Index(d.contexts, c); i >= 0 {
		d.contexts = slices.Delete(d.contexts, i, i+1)
	}
	for _, role := range []**Context{&d.selected, &d.solid, &d.outline} {
		if *role == c {
			*role = d.def
		}
	}
	if d.lastEmitted == c {
		d.lastEmitted = nil
	}
	c.freed = true
	return d.record(nil)
}

// SelectContext makes c the selected and the solid context.
func (d *Device) SelectContext(c *Context) error {
	return d.assign(c, &d.selected, &d.solid)
}

// SolidContext makes c the context of solid fills.
func (d *Device) SolidContext(c *Context) error {
	return d.assign(c, &d.solid)
}

// OutlineContext makes c the context of outlines and shadows.
func (d *Device) OutlineContext(c *Context) error {
	return d.assign(c, &d.outline)
}

func (d *Device) assign(c *Context, roles ...**Context) error {
	if err := d.check(); err != nil {
		return d.record(err)
	}
	if err := d.checkContext(c); err != nil {
		return d.record(err)
	}
	for _, r := range roles {
		*r = c
	}
	return d.record(nil)
}

// GetContext returns the context assigned to role, or nil for an unknown
// role.
func (d *Device) GetContext(role Role) *Context {
	switch role {
	case RoleSelected:
		return d.selected
	case RoleSolid:
		return d.solid
	case RoleOutline:
		return d.outline
	}
	d.record(fmt.Errorf("%w: %v", ErrInvalidEnum, role))
	return nil
}

// DefaultContext returns the context that always exists.
func (d *Device) DefaultContext() *Context { return d.def }

// Contexts returns the context chain, most recently created first.
func (d *Device) Contexts() []*Context {
	return slices.Clone(d.contexts)
}

// checkContext verifies that c belongs to d. With validation enabled the
// whole chain is searched; otherwise the owner reference is trusted.
func (d *Device) checkContext(c *Context) error {
	if c == nil {
		return fmt.Errorf("%w: nil", ErrInvalidContext)
	}
	if d.opts.validate {
		if !slices.Contains(d.contexts, c) {
			return fmt.Errorf("%w: not in the chain of this device", ErrInvalidContext)
		}
		return nil
	}
	if c.dev != d || c.freed {
		return fmt.Errorf("%w: owned by another device", ErrInvalidContext)
	}
	return nil
}

// Dirty flags attribute groups changed since a context was last emitted.
type Dirty uint32

const (
	DirtyColor Dirty = 1 << iota
	DirtyAlpha
	DirtyBlend
	DirtyPattern
	DirtyTexture
	DirtyLine
	DirtyGradient
	DirtyCircle
	DirtyColorKey
	DirtyFeatures

	DirtyAll = DirtyColor | DirtyAlpha | DirtyBlend | DirtyPattern | DirtyTexture |
		DirtyLine | DirtyGradient | DirtyCircle | DirtyColorKey | DirtyFeatures
)

// PatternMode selects how the pattern bitmask is applied.
type PatternMode uint8

const (
	PatternRepeat PatternMode = iota
	PatternOnce
	PatternMirror
)

// TexOp is the per-channel texture operation.
type TexOp uint8

const (
	TexOpReplace TexOp = iota
	TexOpModulate
	TexOpInvert
	TexOpKeep
)

// LineCap is the cap style of line ends.
type LineCap uint8

const (
	LineCapButt LineCap = iota
	LineCapSquare
	LineCapRound
)

// LineJoin is the join style of line segments.
type LineJoin uint8

const (
	LineJoinMiter LineJoin = iota
	LineJoinBevel
	LineJoinRound
)

// ContextFeature enables optional per-primitive units.
type ContextFeature uint32

const (
	UsePattern ContextFeature = 1 << iota
	UseTexture
	UseColorKey

	contextFeatureMask = UsePattern | UseTexture | UseColorKey
)

// AlphaBlendFlags are options of the alpha-channel blend unit.
type AlphaBlendFlags uint32

const (
	// AlphaDstSource reads destination alpha from the framebuffer instead
	// of assuming opaque.
	AlphaDstSource AlphaBlendFlags = 1 << iota
)

// Gradient is a linear alpha ramp applied on top of the fill. Start is the
// alpha at the primitive origin; XAdd and YAdd are per-pixel increments,
// all in 16.16 fixed point.
type Gradient struct {
	Start int32
	XAdd  int32
	YAdd  int32
	// Mirror reflects the ramp instead of clamping it.
	Mirror bool
}

const maxMiterLimit = 255

// Context is a bundle of material attributes.
//
// A Context belongs to one Device. Setters update the context and mark the
// changed attribute group dirty; the registers are written the next time a
// primitive uses the context.
type Context struct {
	dev   *Device
	freed bool

	color [2]uint32
	alpha [2]uint8

	premul      [2]uint32
	premulValid bool

	blendSrc, blendDst gputypes.BlendFactor
	abSrc, abDst       gputypes.BlendFactor
	abFlags            AlphaBlendFlags

	pattern    uint32
	patternLen int
	patternMod PatternMode

	wrapU, wrapV gputypes.AddressMode
	filter       gputypes.FilterMode
	texOps       [4]TexOp

	lineCap    LineCap
	lineJoin   LineJoin
	miterLimit fixed.Int26_6

	gradients [4]Gradient
	gradCount int

	circleExtend fixed.Int26_6
	colorKey     uint32
	features     ContextFeature

	dirty Dirty
}

func newContext(d *Device) *Context {
	return &Context{
		dev:        d,
		alpha:      [2]uint8{0xFF, 0xFF},
		blendSrc:   gputypes.BlendFactorSrcAlpha,
		blendDst:   gputypes.BlendFactorOneMinusSrcAlpha,
		abSrc:      gputypes.BlendFactorOne,
		abDst:      gputypes.BlendFactorZero,
		pattern:    0xFFFFFFFF,
		patternLen: 32,
		wrapU:      gputypes.AddressModeClampToEdge,
		wrapV:      gputypes.AddressModeClampToEdge,
		filter:     gputypes.FilterModeNearest,
		miterLimit: fixed.I(4),
		dirty:      DirtyAll,
	}
}

// set validates the owner, runs fn and marks group dirty on success.
func (c *Context) set(group Dirty, fn func() error) error {
	if c == nil || c.freed || c.dev == nil {
		return ErrInvalidContext
	}
	if err := c.dev.check(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return c.dev.record(err)
	}
	c.dirty |= group
	return c.dev.record(nil)
}

// SetColor sets fill color i (0 or 1) as 0xRRGGBB.
func (c *Context) SetColor(i int, rgb uint32) error {
	return c.set(DirtyColor, func() error {
		if err := checkIndex(i, 2); err != nil {
			return err
		}
		if err := checkRange(rgb, 0, 0xFFFFFF); err != nil {
			return err
		}
		c.color[i] = rgb
		c.premulValid = false
		return nil
	})
}

// SetAlpha sets the alpha of the first color.
func (c *Context) SetAlpha(a int) error {
	return c.SetAlpha2(0, a)
}

// SetAlpha2 sets the alpha of color i.
func (c *Context) SetAlpha2(i, a int) error {
	return c.set(DirtyAlpha, func() error {
		if err := checkIndex(i, 2); err != nil {
			return err
		}
		if err := checkRange(a, 0, 0xFF); err != nil {
			return err
		}
		c.alpha[i] = uint8(a)
		c.premulValid = false
		return nil
	})
}

// SetBlendMode sets the color blend factors.
func (c *Context) SetBlendMode(src, dst gputypes.BlendFactor) error {
	return c.set(DirtyBlend, func() error {
		if _, err := regs.BlendCode(src); err != nil {
			return fmt.Errorf("%w: source factor %v", ErrInvalidEnum, src)
		}
		if _, err := regs.BlendCode(dst); err != nil {
			return fmt.Errorf("%w: destination factor %v", ErrInvalidEnum, dst)
		}
		c.blendSrc, c.blendDst = src, dst
		c.premulValid = false
		return nil
	})
}

// SetAlphaBlendMode sets the alpha-channel blend factors.
//
// Accelerators without an alpha blend unit only either write the source
// alpha (One, Zero) or keep the destination alpha (Zero, One); other
// combinations fail with ErrInvalidEnum there.
func (c *Context) SetAlphaBlendMode(src, dst gputypes.BlendFactor) error {
	return c.set(DirtyBlend, func() error {
		if !c.dev.alphaUnit {
			if _, ok := legacyAlphaPolicy(src, dst); !ok {
				return fmt.Errorf("%w: alpha blend %v/%v needs an alpha blend unit", ErrInvalidEnum, src, dst)
			}
		} else {
			if _, err := regs.BlendCode(src); err != nil {
				return fmt.Errorf("%w: source factor %v", ErrInvalidEnum, src)
			}
			if _, err := regs.BlendCode(dst); err != nil {
				return fmt.Errorf("%w: destination factor %v", ErrInvalidEnum, dst)
			}
		}
		c.abSrc, c.abDst = src, dst
		c.premulValid = false
		return nil
	})
}

// SetAlphaBlendFlags sets the alpha blend unit options. Accelerators
// without an alpha blend unit accept no flags.
func (c *Context) SetAlphaBlendFlags(f AlphaBlendFlags) error {
	return c.set(DirtyBlend, func() error {
		if f&^AlphaDstSource != 0 || (f != 0 && !c.dev.alphaUnit) {
			return fmt.Errorf("%w: alpha blend flags %#x", ErrInvalidEnum, uint32(f))
		}
		c.abFlags = f
		return nil
	})
}

func legacyAlphaPolicy(src, dst gputypes.BlendFactor) (uint32, bool) {
	switch {
	case src == gputypes.BlendFactorOne && dst == gputypes.BlendFactorZero:
		return regs.AlphaBlendWriteSrc, true
	case src == gputypes.BlendFactorZero && dst == gputypes.BlendFactorOne:
		return regs.AlphaBlendKeepDst, true
	}
	return 0, false
}

// SetPattern sets the pattern bitmask, its length in bits (1..32) and
// how it repeats.
func (c *Context) SetPattern(mask uint32, length int, mode PatternMode) error {
	return c.set(DirtyPattern, func() error {
		if err := checkRange(length, 1, 32); err != nil {
			return err
		}
		if mode > PatternMirror {
			return fmt.Errorf("%w: pattern mode %d", ErrInvalidEnum, mode)
		}
		c.pattern, c.patternLen, c.patternMod = mask, length, mode
		return nil
	})
}

// SetTextureWrap sets the texture address modes.
func (c *Context) SetTextureWrap(u, v gputypes.AddressMode) error {
	return c.set(DirtyTexture, func() error {
		for _, m := range []gputypes.AddressMode{u, v} {
			if _, err := regs.WrapCode(m); err != nil {
				return fmt.Errorf("%w: address mode %v", ErrInvalidEnum, m)
			}
		}
		c.wrapU, c.wrapV = u, v
		return nil
	})
}

// SetTextureFilter sets the texture filter.
func (c *Context) SetTextureFilter(f gputypes.FilterMode) error {
	return c.set(DirtyTexture, func() error {
		if _, err := regs.FilterCode(f); err != nil {
			return fmt.Errorf("%w: filter %v", ErrInvalidEnum, f)
		}
		c.filter = f
		return nil
	})
}

// SetTextureOps sets the per-channel texture operations.
func (c *Context) SetTextureOps(a, r, g, b TexOp) error {
	return c.set(DirtyTexture, func() error {
		ops := [4]TexOp{a, r, g, b}
		for _, op := range ops {
			if op > TexOpKeep {
				return fmt.Errorf("%w: texture op %d", ErrInvalidEnum, op)
			}
		}
		c.texOps = ops
		return nil
	})
}

// SetLineCap sets the cap style.
func (c *Context) SetLineCap(lc LineCap) error {
	return c.set(DirtyLine, func() error {
		if lc > LineCapRound {
			return fmt.Errorf("%w: line cap %d", ErrInvalidEnum, lc)
		}
		c.lineCap = lc
		return nil
	})
}

// SetLineJoin sets the join style.
func (c *Context) SetLineJoin(lj LineJoin) error {
	return c.set(DirtyLine, func() error {
		if lj > LineJoinRound {
			return fmt.Errorf("%w: line join %d", ErrInvalidEnum, lj)
		}
		c.lineJoin = lj
		return nil
	})
}

// SetMiterLimit sets the miter limit ratio, 1 to 255.
func (c *Context) SetMiterLimit(m fixed.Int26_6) error {
	return c.set(DirtyLine, func() error {
		if err := checkRange(m, fixed.I(1), fixed.I(maxMiterLimit)); err != nil {
			return err
		}
		c.miterLimit = m
		return nil
	})
}

// SetGradient sets gradient i (0..3). Gradients are used in order: setting
// gradient i enables gradients 0 to i.
func (c *Context) SetGradient(i int, g Gradient) error {
	return c.set(DirtyGradient, func() error {
		if err := checkIndex(i, len(c.gradients)); err != nil {
			return err
		}
		c.gradients[i] = g
		c.gradCount = max(c.gradCount, i+1)
		return nil
	})
}

// ClearGradients disables all gradients.
func (c *Context) ClearGradients() error {
	return c.set(DirtyGradient, func() error {
		c.gradients = [4]Gradient{}
		c.gradCount = 0
		return nil
	})
}

// SetCircleExtend sets how far circles extend beyond their radius.
func (c *Context) SetCircleExtend(e fixed.Int26_6) error {
	return c.set(DirtyCircle, func() error {
		if err := checkRange(e, 0, fixed.I(1<<15)); err != nil {
			return err
		}
		c.circleExtend = e
		return nil
	})
}

// SetColorKey sets the 0xRRGGBB key color. Keying is enabled with
// UseColorKey.
func (c *Context) SetColorKey(rgb uint32) error {
	return c.set(DirtyColorKey, func() error {
		if err := checkRange(rgb, 0, 0xFFFFFF); err != nil {
			return err
		}
		c.colorKey = rgb
		return nil
	})
}

// SetFeatures sets the enabled per-primitive units.
func (c *Context) SetFeatures(f ContextFeature) error {
	return c.set(DirtyFeatures, func() error {
		if f&^contextFeatureMask != 0 {
			return fmt.Errorf("%w: features %#x", ErrInvalidEnum, uint32(f))
		}
		c.features = f
		return nil
	})
}

// Color returns fill color i.
func (c *Context) Color(i int) uint32 { return c.color[i&1] }

// Alpha returns the alpha of color i.
func (c *Context) Alpha(i int) uint8 { return c.alpha[i&1] }

// BlendMode returns the color blend factors.
func (c *Context) BlendMode() (src, dst gputypes.BlendFactor) { return c.blendSrc, c.blendDst }

// AlphaBlendMode returns the alpha-channel blend factors and flags.
func (c *Context) AlphaBlendMode() (src, dst gputypes.BlendFactor, f AlphaBlendFlags) {
	return c.abSrc, c.abDst, c.abFlags
}

// Pattern returns the pattern bitmask, length and mode.
func (c *Context) Pattern() (mask uint32, length int, mode PatternMode) {
	return c.pattern, c.patternLen, c.patternMod
}

// TextureWrap returns the texture address modes.
func (c *Context) TextureWrap() (u, v gputypes.AddressMode) { return c.wrapU, c.wrapV }

// TextureFilter returns the texture filter.
func (c *Context) TextureFilter() gputypes.FilterMode { return c.filter }

// TextureOps returns the alpha, red, green and blue texture operations.
func (c *Context) TextureOps() [4]TexOp { return c.texOps }

// LineStyle returns the cap, join and miter limit.
func (c *Context) LineStyle() (LineCap, LineJoin, fixed.Int26_6) {
	return c.lineCap, c.lineJoin, c.miterLimit
}

// Gradient returns gradient i and whether it is enabled.
func (c *Context) Gradient(i int) (Gradient, bool) {
	if i < 0 || i >= len(c.gradients) {
		return Gradient{}, false
	}
	return c.gradients[i], i < c.gradCount
}

// CircleExtend returns the circle extension.
func (c *Context) CircleExtend() fixed.Int26_6 { return c.circleExtend }

// ColorKey returns the key color.
func (c *Context) ColorKey() uint32 { return c.colorKey }

// Features returns the enabled per-primitive units.
func (c *Context) Features() ContextFeature { return c.features }

// Dirty returns the attribute groups changed since the context was last
// written to the accelerator.
func (c *Context) Dirty() Dirty { return c.dirty }

// Device returns the owning device.
func (c *Context) Device() *Device { return c.dev }

// PremultipliedColor returns color i with its channels scaled by its
// alpha. The result is cached until a color, alpha or blend setter
// invalidates it.
func (c *Context) PremultipliedColor(i int) uint32 {
	if !c.premulValid {
		for k := range c.premul {
			c.premul[k] = premultiply(c.color[k], c.alpha[k])
		}
		c.premulValid = true
	}
	return c.premul[i&1]
}

func premultiply(rgb uint32, a uint8) uint32 {
	var out uint32
	for shift := 0; shift < 24; shift += 8 {
		ch := (rgb >> shift) & 0xFF
		out |= ((ch*uint32(a) + 127) / 255) << shift
	}
	return out
}
