package d2

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gogpu/d2/hw"
	"github.com/gogpu/d2/internal/dlist"
	"github.com/gogpu/d2/internal/mem"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"blocks", fmt.Errorf("%w: budget", dlist.ErrNotEnoughBlocks), ErrNotEnoughDlistBlocks},
		{"budget", mem.ErrBudgetExceeded, ErrNoMemory},
		{"video", hw.ErrOutOfVideoMemory, ErrNoMemory},
		{"other", ErrInvalidIndex, ErrInvalidIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.in)
			if tt.want == nil {
				if got != nil {
					t.Errorf("mapError(nil) = %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Errorf("mapError(%v) = %v, want %v", tt.in, got, tt.want)
			}
			if !errors.Is(got, tt.in) {
				t.Errorf("mapError dropped the cause %v", tt.in)
			}
		})
	}
}

func TestCheckRange(t *testing.T) {
	tests := []struct {
		v, lo, hi int
		want      error
	}{
		{5, 1, 10, nil},
		{1, 1, 10, nil},
		{10, 1, 10, nil},
		{0, 1, 10, ErrValueTooSmall},
		{-3, 0, 10, ErrValueNegative},
		{-3, -5, 10, nil},
		{-6, -5, 10, ErrValueTooSmall},
		{11, 1, 10, ErrValueTooBig},
	}
	for _, tt := range tests {
		err := checkRange(tt.v, tt.lo, tt.hi)
		if !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
			t.Errorf("checkRange(%d, %d, %d) = %v, want %v", tt.v, tt.lo, tt.hi, err, tt.want)
		}
	}
	if err := checkRange[uint32](0x1000000, 0, 0xFFFFFF); !errors.Is(err, ErrValueTooBig) {
		t.Errorf("unsigned range: %v", err)
	}
	if err := checkIndex(2, 2); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("checkIndex(2, 2) = %v", err)
	}
}
