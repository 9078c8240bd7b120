package d2

import (
	"fmt"

	"github.com/gogpu/d2/internal/dlist"
	"github.com/gogpu/d2/internal/scratch"
)

// Flags disable optional parts of the driver.
type Flags uint32

const (
	// FlagDisableDList writes registers directly through the port instead
	// of building display lists.
	FlagDisableDList Flags = 1 << iota
	// FlagDisableIRQ makes WaitIdle poll the status register.
	FlagDisableIRQ
	// FlagDisableCaches leaves the framebuffer and texture caches off.
	FlagDisableCaches
	// FlagDisableRegCache emits every register write, even unchanged ones.
	FlagDisableRegCache
	// FlagDisableBlitBackup is accepted for compatibility and reported by
	// Device.Flags.
	FlagDisableBlitBackup
)

const flagsMask = FlagDisableDList | FlagDisableIRQ | FlagDisableCaches |
	FlagDisableRegCache | FlagDisableBlitBackup

// Defaults for Open.
const (
	DefaultInitialEntries = 128
	DefaultStepEntries    = 64
)

// LowLocalMemConfig enables low-local-memory mode: display lists are
// assembled in two small local blocks and streamed into video memory
// slices as each block fills up.
//
// Local blocks hold the buffer's initial entry count divided by Factor.
// A video block holds SlicesPerBlock slices; at most MaxBlocks video
// blocks are allocated per render buffer.
type LowLocalMemConfig struct {
	Factor         int
	SlicesPerBlock int
	MaxBlocks      int
}

// Option configures a Device during Open.
//
// Example:
//
//	dev, err := d2.Open(
//	    d2.WithBlockSize(256, 128),
//	    d2.WithFlags(d2.FlagDisableIRQ),
//	)
type Option func(*options)

// options holds optional configuration for Device creation.
type options struct {
	flags       Flags
	scratchSize int
	initial     int
	step        int
	lowLocal    *LowLocalMemConfig
	validate    bool
	budget      int64
	shrinkDelay int
}

// defaultOptions returns the default device options.
func defaultOptions() options {
	return options{
		scratchSize: scratch.DefaultCapacity,
		initial:     DefaultInitialEntries,
		step:        DefaultStepEntries,
		shrinkDelay: dlist.DefaultShrinkDelay,
	}
}

func (o *options) validateOptions() error {
	if o.flags&^flagsMask != 0 {
		return fmt.Errorf("%w: flags %#x", ErrInvalidEnum, uint32(o.flags))
	}
	if err := checkRange(o.scratchSize, 1, 1<<20); err != nil {
		return fmt.Errorf("scratch size: %w", err)
	}
	if err := checkRange(o.initial, dlist.MinBlockEntries, 1<<20); err != nil {
		return fmt.Errorf("initial block size: %w", err)
	}
	if err := checkRange(o.step, dlist.MinBlockEntries, 1<<20); err != nil {
		return fmt.Errorf("block step size: %w", err)
	}
	if o.lowLocal != nil {
		if o.flags&FlagDisableDList != 0 {
			return ErrNoDisplayList
		}
		c := o.lowLocal
		for _, v := range []int{c.Factor, c.SlicesPerBlock, c.MaxBlocks} {
			if err := checkRange(v, 1, 1<<16); err != nil {
				return fmt.Errorf("low-local memory: %w", err)
			}
		}
	}
	return nil
}

func (o *options) listConfig(initial, step int) dlist.Config {
	cfg := dlist.Config{
		InitialEntries: initial,
		StepEntries:    step,
		ShrinkDelay:    o.shrinkDelay,
	}
	if o.lowLocal != nil {
		cfg.LowLocalMem = &dlist.LowLocalMem{
			Factor:         o.lowLocal.Factor,
			SlicesPerBlock: o.lowLocal.SlicesPerBlock,
			MaxBlocks:      o.lowLocal.MaxBlocks,
		}
	}
	return cfg
}

// WithFlags sets device flags.
func WithFlags(f Flags) Option {
	return func(o *options) {
		o.flags = f
	}
}

// WithScratchSize sets how many register writes are staged before they
// are compacted into the display list.
func WithScratchSize(n int) Option {
	return func(o *options) {
		o.scratchSize = n
	}
}

// WithBlockSize sets the entry counts of the first display-list block and
// of every block added by growth. Both apply to the default render
// buffers and to NewRenderBuffer calls that pass zero sizes.
func WithBlockSize(initial, step int) Option {
	return func(o *options) {
		o.initial = initial
		o.step = step
	}
}

// WithLowLocalMemory enables low-local-memory mode.
//
// Example:
//
//	dev, err := d2.Open(d2.WithLowLocalMemory(d2.LowLocalMemConfig{
//	    Factor:         4,
//	    SlicesPerBlock: 2,
//	    MaxBlocks:      3,
//	}))
func WithLowLocalMemory(cfg LowLocalMemConfig) Option {
	return func(o *options) {
		o.lowLocal = &cfg
	}
}

// WithValidation makes context checks walk the whole context chain
// instead of checking the owner reference only. Both report the same
// errors; validation also catches contexts corrupted by misuse.
func WithValidation(on bool) Option {
	return func(o *options) {
		o.validate = on
	}
}

// WithMemoryBudget limits the heap memory held by display lists and
// layers. Zero means unlimited.
func WithMemoryBudget(bytes int64) Option {
	return func(o *options) {
		o.budget = bytes
	}
}

// WithShrinkDelay sets how many consecutive executions a display list
// carries more than one spare block before releasing one.
func WithShrinkDelay(n int) Option {
	return func(o *options) {
		o.shrinkDelay = n
	}
}
