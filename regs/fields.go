package regs

import (
	"errors"

	"github.com/gogpu/gputypes"
)

// ErrUnsupported is returned by the field encoders for enum values the
// accelerator cannot represent.
var ErrUnsupported = errors.New("regs: value not supported by hardware")

// BlendCode returns the 4-bit hardware code of a blend factor.
// Only factors the fixed-function blender implements are accepted.
func BlendCode(f gputypes.BlendFactor) (uint32, error) {
	switch f {
	case gputypes.BlendFactorZero:
		return 0x0, nil
	case gputypes.BlendFactorOne:
		return 0x1, nil
	case gputypes.BlendFactorSrc:
		return 0x2, nil
	case gputypes.BlendFactorOneMinusSrc:
		return 0x3, nil
	case gputypes.BlendFactorSrcAlpha:
		return 0x4, nil
	case gputypes.BlendFactorOneMinusSrcAlpha:
		return 0x5, nil
	case gputypes.BlendFactorDst:
		return 0x6, nil
	case gputypes.BlendFactorOneMinusDst:
		return 0x7, nil
	case gputypes.BlendFactorDstAlpha:
		return 0x8, nil
	case gputypes.BlendFactorOneMinusDstAlpha:
		return 0x9, nil
	}
	return 0, ErrUnsupported
}

// BlendWord packs source and destination codes into the BLEND register.
func BlendWord(src, dst uint32) uint32 {
	return src | dst<<4
}

// AlphaBlend register layout.
const (
	AlphaBlendDstSource  uint32 = 1 << 8  // destination alpha comes from the framebuffer
	AlphaBlendWriteSrc   uint32 = 1 << 9  // legacy silicon: write source alpha
	AlphaBlendKeepDst    uint32 = 1 << 10 // legacy silicon: keep destination alpha
	alphaBlendFactorMask uint32 = 0xFF
)

// AlphaBlendWord packs the alpha-channel blend factors and flags.
func AlphaBlendWord(src, dst uint32, flags uint32) uint32 {
	return (src|dst<<4)&alphaBlendFactorMask | flags
}

// WrapCode returns the 2-bit code for a texture address mode.
func WrapCode(m gputypes.AddressMode) (uint32, error) {
	switch m {
	case gputypes.AddressModeClampToEdge:
		return 0, nil
	case gputypes.AddressModeRepeat:
		return 1, nil
	case gputypes.AddressModeMirrorRepeat:
		return 2, nil
	}
	return 0, ErrUnsupported
}

// FilterCode returns the 1-bit code for a texture filter.
func FilterCode(m gputypes.FilterMode) (uint32, error) {
	switch m {
	case gputypes.FilterModeNearest:
		return 0, nil
	case gputypes.FilterModeLinear:
		return 1, nil
	}
	return 0, ErrUnsupported
}

// TexModeWord packs wrap, filter and the per-channel texture operations
// (2 bits each, alpha-red-green-blue from bit 8).
func TexModeWord(wrapU, wrapV, filter uint32, ops [4]uint8) uint32 {
	w := wrapU | wrapV<<2 | filter<<4
	for i, op := range ops {
		w |= uint32(op&3) << (8 + 2*i)
	}
	return w
}

// FormatCode returns the framebuffer format code and bytes per pixel.
func FormatCode(f gputypes.TextureFormat) (code uint32, bpp int, err error) {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 0x0, 1, nil
	case gputypes.TextureFormatRG8Unorm:
		return 0x1, 2, nil
	case gputypes.TextureFormatR16Unorm:
		return 0x2, 2, nil
	case gputypes.TextureFormatRGBA8Unorm:
		return 0x3, 4, nil
	case gputypes.TextureFormatBGRA8Unorm:
		return 0x4, 4, nil
	}
	return 0, 0, ErrUnsupported
}

// XY packs two 16-bit coordinates.
func XY(x, y int) uint32 {
	return uint32(uint16(x)) | uint32(uint16(y))<<16
}
