package d2

import (
	"errors"
	"slices"
	"testing"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	a, err := reg.Open()
	if err != nil {
		t.Fatal(err)
	}
	b, err := reg.Open(WithValidation(true))
	if err != nil {
		t.Fatal(err)
	}
	if got := reg.Devices(); !slices.Equal(got, []*Device{a, b}) {
		t.Fatalf("Devices() = %v", got)
	}

	other := NewRegistry()
	if err := other.Add(a); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("adding a device owned by another registry = %v", err)
	}
	if err := reg.Add(a); err != nil {
		t.Errorf("re-adding to the owner = %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if got := reg.Devices(); !slices.Equal(got, []*Device{b}) {
		t.Errorf("closed device still registered: %v", got)
	}
	if err := other.Add(a); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("adding a closed device = %v", err)
	}

	reg.Remove(b)
	if err := other.Add(b); err != nil {
		t.Fatalf("moving a removed device = %v", err)
	}
	if err := other.CloseAll(); err != nil {
		t.Fatal(err)
	}
	if len(other.Devices()) != 0 || len(reg.Devices()) != 0 {
		t.Error("CloseAll left devices registered")
	}
	if err := b.CheckError(); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("device usable after CloseAll: %v", err)
	}
}

func TestRegistryOpenInvalidOptions(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Open(WithScratchSize(-1)); !errors.Is(err, ErrValueNegative) {
		t.Errorf("Open = %v", err)
	}
	if n := len(reg.Devices()); n != 0 {
		t.Errorf("%d devices after a failed Open", n)
	}
}
