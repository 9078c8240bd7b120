package d2

import (
	"errors"
	"fmt"

	"github.com/gogpu/d2/hw"
	"github.com/gogpu/d2/internal/dlist"
	"github.com/gogpu/d2/internal/mem"
)

// Allocation failures.
var (
	// ErrNoMemory is returned when heap or video memory is exhausted.
	ErrNoMemory = errors.New("d2: out of memory")

	// ErrNotEnoughDlistBlocks is reported when a display list could not
	// grow. The list is still terminated correctly; writes past the
	// failure are dropped.
	ErrNotEnoughDlistBlocks = errors.New("d2: not enough display list blocks")
)

// State and precondition violations.
var (
	ErrInvalidDevice  = errors.New("d2: invalid device")
	ErrInvalidContext = errors.New("d2: invalid context")
	ErrInvalidBuffer  = errors.New("d2: invalid render buffer")
	ErrDefaultContext = errors.New("d2: the default context cannot be freed")
	ErrDefBuffer      = errors.New("d2: the default render buffers cannot be freed")
	ErrDeviceBusy     = errors.New("d2: render buffer is busy")
)

// Parameter range violations.
var (
	ErrInvalidIndex  = errors.New("d2: invalid index")
	ErrInvalidEnum   = errors.New("d2: invalid enumeration value")
	ErrInvalidWidth  = errors.New("d2: invalid width")
	ErrInvalidHeight = errors.New("d2: invalid height")
	ErrValueTooSmall = errors.New("d2: value too small")
	ErrValueTooBig   = errors.New("d2: value too big")
	ErrValueNegative = errors.New("d2: value negative")
)

// Unsupported features.
var (
	// ErrNoDisplayList is returned when low-local-memory mode is combined
	// with FlagDisableDList.
	ErrNoDisplayList = errors.New("d2: display lists are disabled")

	// ErrNoHardware is returned by operations that need a bound port.
	ErrNoHardware = errors.New("d2: device is not bound to hardware")
)

// mapError translates engine errors onto the public error set. The
// original error stays in the chain.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, dlist.ErrNotEnoughBlocks):
		return fmt.Errorf("%w: %w", ErrNotEnoughDlistBlocks, err)
	case errors.Is(err, mem.ErrBudgetExceeded), errors.Is(err, hw.ErrOutOfVideoMemory):
		return fmt.Errorf("%w: %w", ErrNoMemory, err)
	default:
		return err
	}
}
