// Package hw defines the hardware port the d2 driver consumes.
//
// A Port abstracts register access, video memory management and list
// submission for one accelerator instance. The driver never touches
// hardware except through this interface, which makes the whole engine
// testable against the simulator in hw/sim.
package hw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/gpucontext"
)

// ErrOutOfVideoMemory is returned when a video memory allocation fails.
var ErrOutOfVideoMemory = errors.New("hw: out of video memory")

// ErrBadAddress is returned for addresses outside any allocation.
var ErrBadAddress = errors.New("hw: address not in video memory")

// Addr is an accelerator-visible address. Zero is never a valid address.
type Addr uint32

// MemKind selects the video memory pool an allocation comes from.
type MemKind uint8

const (
	// MemDList is memory the list reader fetches display lists from.
	MemDList MemKind = iota
	// MemTexture holds texture and framebuffer data.
	MemTexture
	// MemHeap is host memory made visible to the accelerator.
	MemHeap
)

// String returns the memory kind name.
func (k MemKind) String() string {
	switch k {
	case MemDList:
		return "dlist"
	case MemTexture:
		return "texture"
	case MemHeap:
		return "heap"
	default:
		return fmt.Sprintf("MemKind(%d)", uint8(k))
	}
}

// Arch describes how host and accelerator share memory.
type Arch uint32

const (
	// ArchUnified: the accelerator can read host memory after mapping.
	ArchUnified Arch = 1 << iota
	// ArchSeparated: display lists must be copied into dedicated video memory.
	ArchSeparated
	// ArchUncached: shared memory is not cached by the CPU.
	ArchUncached
	// ArchFullUMA: host and accelerator see identical coherent memory.
	ArchFullUMA
	// ArchMapped: video memory is statically mapped into the host.
	ArchMapped
	// ArchFullMapped: all video memory is mapped and coherent.
	ArchFullMapped
)

func (a Arch) String() string {
	if a == 0 {
		return "none"
	}
	var parts []string
	for _, p := range []struct {
		bit  Arch
		name string
	}{
		{ArchUnified, "unified"},
		{ArchSeparated, "separated"},
		{ArchUncached, "uncached"},
		{ArchFullUMA, "fulluma"},
		{ArchMapped, "mapped"},
		{ArchFullMapped, "fullmapped"},
	} {
		if a&p.bit != 0 {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}

// Features is the revision/capability register of the accelerator.
// The low byte carries the silicon revision.
type Features uint32

const (
	FeatureListReader       Features = 1 << (8 + iota) // hardware display-list reader
	FeatureFramebufferCache                            // framebuffer cache present
	FeatureTextureCache                                // texture cache present
	FeatureAlphaBlendUnit                              // independent alpha channel blend factors
	FeatureCLUT256                                     // 256-entry color lookup table
	FeatureColorKey                                    // color keying
	FeatureBurstLimiter                                // bus burst length limiter
)

// Revision returns the silicon revision.
func (f Features) Revision() uint8 { return uint8(f) }

// Has reports whether all bits of want are present.
func (f Features) Has(want Features) bool { return f&want == want }

// Info identifies a port.
type Info struct {
	gpucontext.AdapterInfo
	Backend string
}

// Port is the hardware access layer for one accelerator.
//
// Implementations must allow the list reader to run concurrently with
// register and memory calls from the driver thread.
type Port interface {
	// Info describes the accelerator behind the port.
	Info() Info

	// ReadRegister returns the current value of a register.
	ReadRegister(idx uint8) uint32
	// WriteRegister writes a register immediately.
	WriteRegister(idx uint8, v uint32)

	// WaitReady blocks until the accelerator signals completion of the
	// submitted work through its interrupt, or ctx is done.
	WaitReady(ctx context.Context) error

	// AllocVideoMemory allocates size bytes of the given kind.
	AllocVideoMemory(kind MemKind, size int) (Addr, error)
	// FreeVideoMemory releases an allocation.
	FreeVideoMemory(addr Addr)
	// MapToVideoMemory makes host memory readable by the accelerator.
	MapToVideoMemory(host []uint32) (Addr, error)
	// MapFromVideoMemory returns a host view from addr to the end of its
	// allocation.
	MapFromVideoMemory(addr Addr) ([]uint32, error)
	// CopyToVideoMemory copies src to dst. src may be reused once the call
	// returns. When async is set the transfer may still be in flight; the
	// port orders it before any later StartExecution, and a synchronous
	// call, including one with empty src, completes all earlier transfers.
	CopyToVideoMemory(dst Addr, src []uint32, async bool) error
	// CacheFlush writes back CPU caches covering [addr, addr+size).
	CacheFlush(kind MemKind, addr Addr, size int)

	// Architecture reports the memory architecture.
	Architecture() Arch
	// Features reports the revision and capability bits.
	Features() Features

	// StartExecution hands display lists to the list reader. More than one
	// start address selects indirect submission: lists run in order.
	StartExecution(starts []Addr, immediate bool) error
}
