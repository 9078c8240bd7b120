// Package mem separates plain heap allocations from display-list memory.
//
// Display-list memory is whatever the list reader can fetch from: host
// memory mapped into the accelerator on unified architectures, mapped video
// memory, or plain heap memory that is later copied into video memory on
// separated architectures. Heap allocations count against a byte budget so
// that exhaustion behaves the same on every platform.
package mem

import (
	"errors"
	"fmt"

	"github.com/gogpu/d2/hw"
)

// ErrBudgetExceeded is returned when an allocation would exceed the budget.
var ErrBudgetExceeded = errors.New("mem: memory budget exceeded")

// WordSize is the size of one memory word in bytes.
const WordSize = 4

// Placement tells where display-list storage lives.
type Placement uint8

const (
	// PlaceHeap is host memory invisible to the accelerator.
	PlaceHeap Placement = iota
	// PlaceMappedHeap is host memory mapped into the accelerator.
	PlaceMappedHeap
	// PlaceVideo is video memory with a host view.
	PlaceVideo
)

func (p Placement) String() string {
	switch p {
	case PlaceHeap:
		return "heap"
	case PlaceMappedHeap:
		return "mapped-heap"
	case PlaceVideo:
		return "video"
	default:
		return fmt.Sprintf("Placement(%d)", uint8(p))
	}
}

// Config configures a Pool.
type Config struct {
	// BudgetBytes limits heap memory. Zero or negative means unlimited.
	BudgetBytes int64
}

// Stats reports pool usage.
type Stats struct {
	HeapBytes   int64
	VideoBytes  int64
	BudgetBytes int64
	Failures    int
}

func (s Stats) String() string {
	return fmt.Sprintf("Pool[heap %d/%d bytes, video %d bytes, %d failures]",
		s.HeapBytes, s.BudgetBytes, s.VideoBytes, s.Failures)
}

// Region is one display-list allocation.
type Region struct {
	Words     []uint32
	Addr      hw.Addr // accelerator address; zero for PlaceHeap
	Placement Placement
}

// Pool allocates memory for one device. It is not safe for concurrent use.
type Pool struct {
	port   hw.Port
	arch   hw.Arch
	budget int64
	heap   int64
	video  int64
	fails  int
}

// New creates a pool bound to a port. port may be nil, in which case only
// heap memory is available.
func New(port hw.Port, cfg Config) *Pool {
	p := &Pool{port: port, budget: cfg.BudgetBytes}
	if port != nil {
		p.arch = port.Architecture()
	}
	return p
}

// Arch returns the architecture the pool places memory for.
func (p *Pool) Arch() hw.Arch { return p.arch }

// Port returns the bound port.
func (p *Pool) Port() hw.Port { return p.port }

// DListPlacement returns where DList allocates block storage.
func (p *Pool) DListPlacement() Placement {
	switch {
	case p.port == nil || p.arch&hw.ArchSeparated != 0:
		return PlaceHeap
	case p.arch&(hw.ArchMapped|hw.ArchFullMapped) != 0:
		return PlaceVideo
	case p.arch&(hw.ArchUnified|hw.ArchFullUMA) != 0:
		return PlaceMappedHeap
	default:
		return PlaceHeap
	}
}

// Reserve accounts bytes of heap memory against the budget.
func (p *Pool) Reserve(bytes int64) error {
	if p.budget > 0 && p.heap+bytes > p.budget {
		p.fails++
		return fmt.Errorf("%w: %d + %d > %d", ErrBudgetExceeded, p.heap, bytes, p.budget)
	}
	p.heap += bytes
	return nil
}

// Unreserve returns bytes to the budget.
func (p *Pool) Unreserve(bytes int64) {
	p.heap -= bytes
	if p.heap < 0 {
		p.heap = 0
	}
}

// Heap allocates words of plain heap memory.
func (p *Pool) Heap(words int) ([]uint32, error) {
	if err := p.Reserve(int64(words) * WordSize); err != nil {
		return nil, err
	}
	return make([]uint32, words), nil
}

// FreeHeap releases memory obtained from Heap.
func (p *Pool) FreeHeap(w []uint32) {
	p.Unreserve(int64(cap(w)) * WordSize)
}

// DList allocates words of display-list memory.
func (p *Pool) DList(words int) (Region, error) {
	switch pl := p.DListPlacement(); pl {
	case PlaceVideo:
		addr, err := p.Video(hw.MemDList, words)
		if err != nil {
			return Region{}, err
		}
		view, err := p.port.MapFromVideoMemory(addr)
		if err != nil || len(view) < words {
			p.FreeVideo(addr, words)
			p.fails++
			return Region{}, fmt.Errorf("mem: mapping %#x: %w", addr, errors.Join(err, hw.ErrBadAddress))
		}
		return Region{Words: view[:words:words], Addr: addr, Placement: pl}, nil
	case PlaceMappedHeap:
		w, err := p.Heap(words)
		if err != nil {
			return Region{}, err
		}
		addr, err := p.port.MapToVideoMemory(w)
		if err != nil {
			p.FreeHeap(w)
			p.fails++
			return Region{}, fmt.Errorf("mem: mapping heap: %w", err)
		}
		return Region{Words: w, Addr: addr, Placement: pl}, nil
	default:
		w, err := p.Heap(words)
		if err != nil {
			return Region{}, err
		}
		return Region{Words: w, Placement: PlaceHeap}, nil
	}
}

// Free releases a Region obtained from DList.
func (p *Pool) Free(r Region) {
	switch r.Placement {
	case PlaceVideo:
		p.FreeVideo(r.Addr, len(r.Words))
	case PlaceMappedHeap:
		if p.port != nil {
			p.port.FreeVideoMemory(r.Addr)
		}
		p.FreeHeap(r.Words)
	default:
		p.FreeHeap(r.Words)
	}
}

// Video allocates words of raw video memory.
func (p *Pool) Video(kind hw.MemKind, words int) (hw.Addr, error) {
	if p.port == nil {
		p.fails++
		return 0, hw.ErrOutOfVideoMemory
	}
	addr, err := p.port.AllocVideoMemory(kind, words*WordSize)
	if err != nil || addr == 0 {
		p.fails++
		if err == nil {
			err = hw.ErrOutOfVideoMemory
		}
		return 0, err
	}
	p.video += int64(words) * WordSize
	return addr, nil
}

// FreeVideo releases memory obtained from Video.
func (p *Pool) FreeVideo(addr hw.Addr, words int) {
	if addr == 0 || p.port == nil {
		return
	}
	p.port.FreeVideoMemory(addr)
	p.video -= int64(words) * WordSize
}

// Stats returns current usage.
func (p *Pool) Stats() Stats {
	return Stats{
		HeapBytes:   p.heap,
		VideoBytes:  p.video,
		BudgetBytes: p.budget,
		Failures:    p.fails,
	}
}
