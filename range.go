package d2

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// checkRange validates lo <= v <= hi. Negative values are reported as
// such when the valid range starts at zero or above.
func checkRange[T constraints.Integer](v, lo, hi T) error {
	switch {
	case v < 0 && lo >= 0:
		return fmt.Errorf("%w: %d", ErrValueNegative, v)
	case v < lo:
		return fmt.Errorf("%w: %d < %d", ErrValueTooSmall, v, lo)
	case v > hi:
		return fmt.Errorf("%w: %d > %d", ErrValueTooBig, v, hi)
	}
	return nil
}

// checkIndex validates 0 <= i < n.
func checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidIndex, i, n)
	}
	return nil
}
