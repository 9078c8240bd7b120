// Package sim implements a simulated accelerator behind hw.Port.
//
// The simulator keeps a register file, a video memory arena and an
// asynchronous list reader that decodes submitted display lists with the
// same codec the driver encodes them with. It records counters and a write
// log so tests can assert on what reached the hardware.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/gpucontext"

	"github.com/gogpu/d2/hw"
	"github.com/gogpu/d2/internal/dlist"
	"github.com/gogpu/d2/regs"
)

// ErrNoListReader is returned by StartExecution when the simulated
// accelerator has no display-list reader.
var ErrNoListReader = errors.New("sim: accelerator has no list reader")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("sim: port closed")

const (
	videoBase hw.Addr = 0x1000_0000
	hostBase  hw.Addr = 0x8000_0000
	hostGuard         = 0x100
)

// DefaultFeatures is the capability set of the simulated accelerator.
const DefaultFeatures = hw.FeatureListReader | hw.FeatureFramebufferCache |
	hw.FeatureTextureCache | hw.FeatureAlphaBlendUnit | hw.FeatureColorKey | 0x02

// Config configures a simulated port.
type Config struct {
	// Arch is the reported memory architecture. Default: ArchUnified.
	Arch hw.Arch
	// Features overrides DefaultFeatures when non-zero.
	Features hw.Features
	// MemoryBytes sizes video memory. Default: 4 MiB.
	MemoryBytes int
	// WithoutListReader clears FeatureListReader.
	WithoutListReader bool
	// Name is reported through Info. Default: "d2 simulator".
	Name string
}

func (c Config) withDefaults() Config {
	if c.Arch == 0 {
		c.Arch = hw.ArchUnified
	}
	if c.Features == 0 {
		c.Features = DefaultFeatures
	}
	if c.WithoutListReader {
		c.Features &^= hw.FeatureListReader
	}
	if c.MemoryBytes <= 0 {
		c.MemoryBytes = 4 << 20
	}
	if c.Name == "" {
		c.Name = "d2 simulator"
	}
	return c
}

// Stats counts port activity.
type Stats struct {
	Copies         int // non-empty CopyToVideoMemory calls
	AsyncCopies    int
	CopiedWords    int
	Syncs          int // empty synchronous copies
	Flushes        int
	FlushedBytes   int
	Submissions    int
	Immediate      int
	Lists          int // lists run by the reader
	RegisterWrites int
	Allocs         int
	Frees          int
}

type region struct {
	addr  hw.Addr
	words []uint32
	kind  hw.MemKind
	off   int // word offset into the arena, -1 for mapped host memory
}

func (r *region) end() hw.Addr { return r.addr + hw.Addr(len(r.words)*4) }

type span struct{ off, n int }

// Port is a simulated accelerator.
type Port struct {
	cfg Config

	mu       sync.Mutex
	regs     [regs.Count]uint32
	status   uint32
	arena    []uint32
	free     []span
	regions  []*region // sorted by addr
	nextHost hw.Addr
	log      []dlist.Write
	logging  bool
	stats    Stats
	starts   [][]hw.Addr
	pending  int
	fault    error
	closed   bool
	paused   bool
	resumed  *sync.Cond

	jobs chan []hw.Addr
	irq  chan struct{}
	wg   sync.WaitGroup
}

var _ hw.Port = (*Port)(nil)

// New creates a simulated port and starts its list reader.
func New(cfg Config) *Port {
	cfg = cfg.withDefaults()
	words := cfg.MemoryBytes / 4
	p := &Port{
		cfg:      cfg,
		arena:    make([]uint32, words),
		free:     []span{{0, words}},
		nextHost: hostBase,
		jobs:     make(chan []hw.Addr, 16),
		irq:      make(chan struct{}, 1),
	}
	p.resumed = sync.NewCond(&p.mu)
	p.wg.Add(1)
	go p.reader()
	return p
}

// Close stops the list reader after pending lists have run.
func (p *Port) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.resumed.Broadcast()
	p.mu.Unlock()
	close(p.jobs)
	p.wg.Wait()
	return nil
}

// Info describes the simulated accelerator.
func (p *Port) Info() hw.Info {
	return hw.Info{
		AdapterInfo: gpucontext.AdapterInfo{Name: p.cfg.Name, Type: gpucontext.AdapterTypeSoftware},
		Backend:     hw.BackendSim,
	}
}

// Architecture reports the configured architecture.
func (p *Port) Architecture() hw.Arch { return p.cfg.Arch }

// Features reports the configured capability bits.
func (p *Port) Features() hw.Features { return p.cfg.Features }

// ReadRegister returns a register value. The status register reflects
// the list reader state.
func (p *Port) ReadRegister(idx uint8) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx == regs.Status {
		s := p.status
		if p.pending > 0 {
			s |= regs.StatusBusy
		}
		return s
	}
	if int(idx) >= len(p.regs) {
		return 0
	}
	return p.regs[idx]
}

// WriteRegister stores a register value.
func (p *Port) WriteRegister(idx uint8, v uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeLocked(idx, v)
}

func (p *Port) writeLocked(idx uint8, v uint32) {
	if int(idx) >= len(p.regs) {
		return
	}
	p.stats.RegisterWrites++
	if p.logging {
		p.log = append(p.log, dlist.Write{Reg: idx, Value: v})
	}
	switch idx {
	case regs.Status:
		return
	case regs.IRQCtl:
		if v&regs.IRQClear != 0 {
			p.status &^= regs.StatusIRQ | regs.StatusDListEnd
		}
	}
	p.regs[idx] = v
}

// Registers returns a snapshot of the register file.
func (p *Port) Registers() [regs.Count]uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.regs
}

// Record enables or disables the write log. Enabling clears it.
func (p *Port) Record(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logging = on
	p.log = nil
}

// Log returns the recorded register writes.
func (p *Port) Log() []dlist.Write {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]dlist.Write(nil), p.log...)
}

// Stats returns activity counters.
func (p *Port) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Submissions returns the start address lists passed to StartExecution.
func (p *Port) Submissions() [][]hw.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]hw.Addr, len(p.starts))
	copy(out, p.starts)
	return out
}

// Err returns the first list reader fault.
func (p *Port) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fault
}

// AllocVideoMemory allocates size bytes of video memory.
func (p *Port) AllocVideoMemory(kind hw.MemKind, size int) (hw.Addr, error) {
	if size <= 0 {
		return 0, fmt.Errorf("sim: alloc %d bytes: %w", size, hw.ErrOutOfVideoMemory)
	}
	words := (size + 3) / 4
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.free {
		if s.n < words {
			continue
		}
		r := &region{
			addr:  videoBase + hw.Addr(s.off*4),
			words: p.arena[s.off : s.off+words : s.off+words],
			kind:  kind,
			off:   s.off,
		}
		clear(r.words)
		if s.n == words {
			p.free = append(p.free[:i], p.free[i+1:]...)
		} else {
			p.free[i] = span{s.off + words, s.n - words}
		}
		p.insert(r)
		p.stats.Allocs++
		return r.addr, nil
	}
	return 0, fmt.Errorf("sim: alloc %d bytes of %s: %w", size, kind, hw.ErrOutOfVideoMemory)
}

func (p *Port) insert(r *region) {
	i := sort.Search(len(p.regions), func(i int) bool { return p.regions[i].addr > r.addr })
	p.regions = append(p.regions, nil)
	copy(p.regions[i+1:], p.regions[i:])
	p.regions[i] = r
}

// FreeVideoMemory releases an allocation or a host mapping.
func (p *Port) FreeVideoMemory(addr hw.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.regions {
		if r.addr != addr {
			continue
		}
		p.regions = append(p.regions[:i], p.regions[i+1:]...)
		p.stats.Frees++
		if r.off >= 0 {
			p.release(span{r.off, len(r.words)})
		}
		return
	}
}

// release returns a span to the free list, merging neighbours.
func (p *Port) release(s span) {
	i := sort.Search(len(p.free), func(i int) bool { return p.free[i].off > s.off })
	p.free = append(p.free, span{})
	copy(p.free[i+1:], p.free[i:])
	p.free[i] = s
	if i+1 < len(p.free) && p.free[i].off+p.free[i].n == p.free[i+1].off {
		p.free[i].n += p.free[i+1].n
		p.free = append(p.free[:i+1], p.free[i+2:]...)
	}
	if i > 0 && p.free[i-1].off+p.free[i-1].n == p.free[i].off {
		p.free[i-1].n += p.free[i].n
		p.free = append(p.free[:i], p.free[i+1:]...)
	}
}

// MapToVideoMemory makes host words readable by the simulated reader.
func (p *Port) MapToVideoMemory(host []uint32) (hw.Addr, error) {
	if len(host) == 0 {
		return 0, fmt.Errorf("sim: map empty slice: %w", hw.ErrBadAddress)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	r := &region{addr: p.nextHost, words: host, kind: hw.MemHeap, off: -1}
	p.nextHost = r.end() + hostGuard
	p.insert(r)
	return r.addr, nil
}

func (p *Port) find(addr hw.Addr) ([]uint32, error) {
	i := sort.Search(len(p.regions), func(i int) bool { return p.regions[i].addr > addr })
	if i == 0 {
		return nil, fmt.Errorf("sim: %#x: %w", uint32(addr), hw.ErrBadAddress)
	}
	r := p.regions[i-1]
	if addr >= r.end() || (addr-r.addr)%4 != 0 {
		return nil, fmt.Errorf("sim: %#x: %w", uint32(addr), hw.ErrBadAddress)
	}
	return r.words[(addr-r.addr)/4:], nil
}

// MapFromVideoMemory returns a view from addr to the end of its
// allocation.
func (p *Port) MapFromVideoMemory(addr hw.Addr) ([]uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.find(addr)
}

// CopyToVideoMemory copies src to dst. Copies complete before the call
// returns; async only affects the counters. An empty synchronous copy is a
// barrier.
func (p *Port) CopyToVideoMemory(dst hw.Addr, src []uint32, async bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(src) == 0 {
		if !async {
			p.stats.Syncs++
		}
		return nil
	}
	view, err := p.find(dst)
	if err != nil {
		return err
	}
	if len(view) < len(src) {
		return fmt.Errorf("sim: copy %d words to %#x overruns allocation: %w", len(src), uint32(dst), hw.ErrBadAddress)
	}
	copy(view, src)
	p.stats.Copies++
	p.stats.CopiedWords += len(src)
	if async {
		p.stats.AsyncCopies++
	}
	return nil
}

// CacheFlush counts the flush; simulated memory is coherent.
func (p *Port) CacheFlush(kind hw.MemKind, addr hw.Addr, size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Flushes++
	p.stats.FlushedBytes += size
}

// StartExecution queues lists for the reader. Lists run in order; a list
// ending with a flush-continue code hands over to the next start address.
// immediate is recorded only.
func (p *Port) StartExecution(starts []hw.Addr, immediate bool) error {
	if !p.cfg.Features.Has(hw.FeatureListReader) {
		return ErrNoListReader
	}
	if len(starts) == 0 {
		return nil
	}
	job := append([]hw.Addr(nil), starts...)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.pending++
	p.stats.Submissions++
	if immediate {
		p.stats.Immediate++
	}
	p.starts = append(p.starts, job)
	p.mu.Unlock()
	p.jobs <- job
	return nil
}

// Pause holds the list reader before its next submission. Submitted
// lists stay pending and the status register reports busy until Resume.
func (p *Port) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume releases a paused list reader.
func (p *Port) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.resumed.Broadcast()
}

// WaitReady blocks until every submitted list has run.
func (p *Port) WaitReady(ctx context.Context) error {
	for {
		p.mu.Lock()
		idle := p.pending == 0
		p.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-p.irq:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Port) reader() {
	defer p.wg.Done()
	for starts := range p.jobs {
		p.mu.Lock()
		for p.paused && !p.closed {
			p.resumed.Wait()
		}
		p.mu.Unlock()
		p.run(starts)
		p.mu.Lock()
		p.pending--
		if p.regs[regs.IRQCtl]&regs.IRQEnableDListEnd != 0 {
			p.status |= regs.StatusIRQ
		}
		p.mu.Unlock()
		select {
		case p.irq <- struct{}{}:
		default:
		}
	}
}

// run executes one submission.
func (p *Port) run(starts []hw.Addr) {
	resolve := dlist.PortResolver(p)
	for _, s := range starts {
		entries, err := resolve(s)
		if err == nil {
			var res dlist.Result
			res, err = dlist.Run(entries, p, resolve)
			p.mu.Lock()
			p.stats.Lists++
			if res.End == dlist.EndTerminateResult {
				p.status |= regs.StatusDListEnd
			}
			p.mu.Unlock()
			if err == nil && !res.End.Continues() {
				return
			}
		}
		if err != nil {
			p.mu.Lock()
			if p.fault == nil {
				p.fault = fmt.Errorf("sim: list at %#x: %w", uint32(s), err)
			}
			p.mu.Unlock()
			return
		}
	}
}
