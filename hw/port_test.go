package hw

import (
	"context"
	"testing"
)

type nullPort struct{ name string }

func (p *nullPort) Info() Info                                   { return Info{Backend: p.name} }
func (p *nullPort) ReadRegister(uint8) uint32                    { return 0 }
func (p *nullPort) WriteRegister(uint8, uint32)                  {}
func (p *nullPort) WaitReady(context.Context) error              { return nil }
func (p *nullPort) AllocVideoMemory(MemKind, int) (Addr, error)  { return 0, ErrOutOfVideoMemory }
func (p *nullPort) FreeVideoMemory(Addr)                         {}
func (p *nullPort) MapToVideoMemory([]uint32) (Addr, error)      { return 0, ErrBadAddress }
func (p *nullPort) MapFromVideoMemory(Addr) ([]uint32, error)    { return nil, ErrBadAddress }
func (p *nullPort) CopyToVideoMemory(Addr, []uint32, bool) error { return nil }
func (p *nullPort) CacheFlush(MemKind, Addr, int)                {}
func (p *nullPort) Architecture() Arch                           { return ArchSeparated }
func (p *nullPort) Features() Features                           { return 0 }
func (p *nullPort) StartExecution([]Addr, bool) error            { return nil }

func TestRegistryPriority(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Open(""); err == nil {
		t.Fatal("Open on empty registry should fail")
	}

	reg.Register(BackendSim, func() Port { return &nullPort{name: BackendSim} })
	p, err := reg.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := p.Info().Backend; got != BackendSim {
		t.Errorf("backend = %q, want %q", got, BackendSim)
	}

	reg.Register(BackendHardware, func() Port { return &nullPort{name: BackendHardware} })
	p, err = reg.Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := p.Info().Backend; got != BackendHardware {
		t.Errorf("backend = %q, want %q", got, BackendHardware)
	}

	if _, err := reg.Open("missing"); err == nil {
		t.Error("Open(missing) should fail")
	}
	if got := reg.Backends(); len(got) != 2 || got[0] != BackendHardware {
		t.Errorf("Backends() = %v", got)
	}
}

func TestArchString(t *testing.T) {
	tests := []struct {
		arch Arch
		want string
	}{
		{0, "none"},
		{ArchSeparated, "separated"},
		{ArchUnified | ArchFullUMA, "unified|fulluma"},
	}
	for _, tt := range tests {
		if got := tt.arch.String(); got != tt.want {
			t.Errorf("Arch(%d).String() = %q, want %q", tt.arch, got, tt.want)
		}
	}
}

func TestFeatures(t *testing.T) {
	f := Features(0x12) | FeatureListReader | FeatureColorKey
	if f.Revision() != 0x12 {
		t.Errorf("Revision() = %#x", f.Revision())
	}
	if !f.Has(FeatureListReader | FeatureColorKey) {
		t.Error("Has should report both bits")
	}
	if f.Has(FeatureAlphaBlendUnit) {
		t.Error("Has(AlphaBlendUnit) should be false")
	}
}
